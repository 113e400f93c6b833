package tiling

import (
	"fmt"

	"github.com/paulmach/orb"
)

// Image is a single-channel raster stored row-major.
type Image struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewImage allocates a zeroed image of the given size
func NewImage(width, height int) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height),
	}
}

func (im *Image) index(x, y int) int {
	return y*im.Width + x
}

// At returns the intensity at column x, row y
func (im *Image) At(x, y int) uint8 {
	return im.Pix[im.index(x, y)]
}

// Set writes the intensity at column x, row y
func (im *Image) Set(x, y int, v uint8) {
	im.Pix[im.index(x, y)] = v
}

// Row returns the backing slice for row y
func (im *Image) Row(y int) []uint8 {
	start := y * im.Width
	return im.Pix[start : start+im.Width]
}

// TileSize is the fixed classifier input size (sub_h x sub_w).
type TileSize struct {
	Height int `yaml:"height" json:"height"`
	Width  int `yaml:"width" json:"width"`
}

// Valid reports whether both tile dimensions are positive
func (t TileSize) Valid() bool {
	return t.Height > 0 && t.Width > 0
}

func (t TileSize) String() string {
	return fmt.Sprintf("%dx%d", t.Height, t.Width)
}

// LabelGrid holds one class index per tile, row-major.
type LabelGrid struct {
	Rows   int   `json:"rows"`
	Cols   int   `json:"cols"`
	Labels []int `json:"labels"`
}

// NewLabelGrid allocates a grid filled with class 0
func NewLabelGrid(rows, cols int) *LabelGrid {
	return &LabelGrid{
		Rows:   rows,
		Cols:   cols,
		Labels: make([]int, rows*cols),
	}
}

// At returns the label of tile (row, col)
func (g *LabelGrid) At(row, col int) int {
	return g.Labels[row*g.Cols+col]
}

// Set assigns the label of tile (row, col)
func (g *LabelGrid) Set(row, col, label int) {
	g.Labels[row*g.Cols+col] = label
}

// Clone returns a deep copy
func (g *LabelGrid) Clone() *LabelGrid {
	labels := make([]int, len(g.Labels))
	copy(labels, g.Labels)
	return &LabelGrid{Rows: g.Rows, Cols: g.Cols, Labels: labels}
}

// Equal reports whether two grids have the same shape and labels
func (g *LabelGrid) Equal(other *LabelGrid) bool {
	if g == nil || other == nil {
		return g == other
	}
	if g.Rows != other.Rows || g.Cols != other.Cols || len(g.Labels) != len(other.Labels) {
		return false
	}
	for i := range g.Labels {
		if g.Labels[i] != other.Labels[i] {
			return false
		}
	}
	return true
}

// Validate checks the grid shape and that every label lies in [0, classN).
func (g *LabelGrid) Validate(classN int) error {
	if classN <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidClassCount, classN)
	}
	if len(g.Labels) != g.Rows*g.Cols {
		return fmt.Errorf("%w: %d labels for a %dx%d grid", ErrShapeMismatch, len(g.Labels), g.Rows, g.Cols)
	}
	for i, l := range g.Labels {
		if l < 0 || l >= classN {
			return fmt.Errorf("%w: label %d at tile (%d, %d), class count %d",
				ErrLabelOutOfRange, l, i/g.Cols, i%g.Cols, classN)
		}
	}
	return nil
}

// ClassCounts returns how many tiles carry each class. Labels outside
// [0, classN) are ignored.
func ClassCounts(g *LabelGrid, classN int) []int {
	if classN <= 0 {
		return nil
	}
	counts := make([]int, classN)
	for _, l := range g.Labels {
		if l >= 0 && l < classN {
			counts[l]++
		}
	}
	return counts
}

// Block is one rectangular region of the tile grid produced by PlanBlocks.
type Block struct {
	Row      int `json:"row"` // block-row index in [0, factor)
	Col      int `json:"col"` // block-column index in [0, factor)
	TileRow  int `json:"tileRow"`
	TileCol  int `json:"tileCol"`
	TileRows int `json:"tileRows"`
	TileCols int `json:"tileCols"`

	// Pixel region inside the padded image
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// TileCount is the number of tiles covered by the block
func (b Block) TileCount() int {
	return b.TileRows * b.TileCols
}

// Bound returns the pixel region as an orb bound
func (b Block) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{float64(b.X), float64(b.Y)},
		Max: orb.Point{float64(b.X + b.Width), float64(b.Y + b.Height)},
	}
}

// Plan is the block partition of one padded image.
type Plan struct {
	Factor   int      `json:"factor"`
	Tile     TileSize `json:"tile"`
	TileRows int      `json:"tileRows"`
	TileCols int      `json:"tileCols"`
	Blocks   []Block  `json:"blocks"` // row-major by (Row, Col)
}

// BlockAt returns the block at block-row r, block-column c
func (p *Plan) BlockAt(r, c int) Block {
	return p.Blocks[r*p.Factor+c]
}
