package tiling

import "fmt"

// SplitTiles divides n tiles into factor groups of n/factor each, with the
// remainder appended to the last group. The returned slice holds the start
// offset of every group plus a terminating n.
func SplitTiles(n, factor int) []int {
	starts := make([]int, factor+1)
	base := n / factor
	for i := 0; i < factor; i++ {
		starts[i] = i * base
	}
	starts[factor] = n
	return starts
}

// PlanBlocks partitions the tile grid of a padded height x width image into
// factor x factor blocks. Blocks are disjoint, cover the whole grid, and are
// returned row-major by block position.
func PlanBlocks(height, width int, tile TileSize, factor int) (*Plan, error) {
	if factor <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidFactor, factor)
	}
	if !tile.Valid() {
		return nil, fmt.Errorf("invalid tile size %s", tile)
	}
	if height%tile.Height != 0 || width%tile.Width != 0 {
		return nil, fmt.Errorf("image %dx%d is not padded to tile size %s", height, width, tile)
	}

	tileRows := height / tile.Height
	tileCols := width / tile.Width
	rowStarts := SplitTiles(tileRows, factor)
	colStarts := SplitTiles(tileCols, factor)

	plan := &Plan{
		Factor:   factor,
		Tile:     tile,
		TileRows: tileRows,
		TileCols: tileCols,
		Blocks:   make([]Block, 0, factor*factor),
	}
	for r := 0; r < factor; r++ {
		for c := 0; c < factor; c++ {
			b := Block{
				Row:      r,
				Col:      c,
				TileRow:  rowStarts[r],
				TileCol:  colStarts[c],
				TileRows: rowStarts[r+1] - rowStarts[r],
				TileCols: colStarts[c+1] - colStarts[c],
			}
			b.X = b.TileCol * tile.Width
			b.Y = b.TileRow * tile.Height
			b.Width = b.TileCols * tile.Width
			b.Height = b.TileRows * tile.Height
			plan.Blocks = append(plan.Blocks, b)
		}
	}
	return plan, nil
}
