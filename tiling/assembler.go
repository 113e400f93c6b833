package tiling

import "fmt"

// BlockLabels is the flat classifier output for one block.
type BlockLabels struct {
	Block  Block
	Labels []int
}

// Reshape turns a flat row-major label sequence into a rows x cols grid
func Reshape(labels []int, rows, cols int) (*LabelGrid, error) {
	if rows < 0 || cols < 0 || len(labels) != rows*cols {
		return nil, fmt.Errorf("%w: cannot reshape %d labels to %dx%d", ErrShapeMismatch, len(labels), rows, cols)
	}
	g := NewLabelGrid(rows, cols)
	copy(g.Labels, labels)
	return g, nil
}

// ConcatHorizontal joins grids left to right. All grids must have the same
// number of rows.
func ConcatHorizontal(grids ...*LabelGrid) (*LabelGrid, error) {
	if len(grids) == 0 {
		return NewLabelGrid(0, 0), nil
	}
	rows := grids[0].Rows
	cols := 0
	for i, g := range grids {
		if g.Rows != rows {
			return nil, fmt.Errorf("%w: block %d has %d rows, expected %d", ErrShapeMismatch, i, g.Rows, rows)
		}
		cols += g.Cols
	}

	out := NewLabelGrid(rows, cols)
	for r := 0; r < rows; r++ {
		dst := out.Labels[r*cols : (r+1)*cols]
		off := 0
		for _, g := range grids {
			off += copy(dst[off:], g.Labels[r*g.Cols:(r+1)*g.Cols])
		}
	}
	return out, nil
}

// ConcatVertical stacks grids top to bottom. All grids must have the same
// number of columns.
func ConcatVertical(grids ...*LabelGrid) (*LabelGrid, error) {
	if len(grids) == 0 {
		return NewLabelGrid(0, 0), nil
	}
	cols := grids[0].Cols
	rows := 0
	for i, g := range grids {
		if g.Cols != cols {
			return nil, fmt.Errorf("%w: row band %d has %d columns, expected %d", ErrShapeMismatch, i, g.Cols, cols)
		}
		rows += g.Rows
	}

	out := NewLabelGrid(rows, cols)
	off := 0
	for _, g := range grids {
		off += copy(out.Labels[off:], g.Labels)
	}
	return out, nil
}

// Assemble rebuilds the full label grid of an image from its per-block
// outputs. results must hold exactly one entry per plan block, in plan order.
func Assemble(plan *Plan, results []BlockLabels) (*LabelGrid, error) {
	if len(results) != len(plan.Blocks) {
		return nil, fmt.Errorf("%w: %d block results for %d blocks", ErrShapeMismatch, len(results), len(plan.Blocks))
	}

	bands := make([]*LabelGrid, plan.Factor)
	for r := 0; r < plan.Factor; r++ {
		row := make([]*LabelGrid, plan.Factor)
		for c := 0; c < plan.Factor; c++ {
			res := results[r*plan.Factor+c]
			if res.Block.Row != r || res.Block.Col != c {
				return nil, fmt.Errorf("%w: result for block (%d, %d) found at position (%d, %d)",
					ErrShapeMismatch, res.Block.Row, res.Block.Col, r, c)
			}
			g, err := Reshape(res.Labels, res.Block.TileRows, res.Block.TileCols)
			if err != nil {
				return nil, fmt.Errorf("block (%d, %d): %w", r, c, err)
			}
			row[c] = g
		}
		band, err := ConcatHorizontal(row...)
		if err != nil {
			return nil, fmt.Errorf("row band %d: %w", r, err)
		}
		bands[r] = band
	}

	grid, err := ConcatVertical(bands...)
	if err != nil {
		return nil, err
	}
	if grid.Rows != plan.TileRows || grid.Cols != plan.TileCols {
		return nil, fmt.Errorf("%w: assembled %dx%d, expected %dx%d",
			ErrShapeMismatch, grid.Rows, grid.Cols, plan.TileRows, plan.TileCols)
	}
	return grid, nil
}
