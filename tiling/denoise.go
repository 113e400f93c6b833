package tiling

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

const (
	// DefaultUnaryWeight anchors a tile to its own current label
	DefaultUnaryWeight = 1.0

	// DefaultPairwiseWeight rewards agreement with each neighbor
	DefaultPairwiseWeight = 10.0
)

// Denoiser smooths a label grid with Iterated Conditional Modes on a Potts
// model. Every epoch recomputes all cells from the previous epoch's grid.
type Denoiser struct {
	ClassN   int
	Epochs   int
	Unary    float64
	Pairwise float64
	Logger   *zap.Logger
}

// NewDenoiser returns a denoiser with the default weights
func NewDenoiser(classN, epochs int) *Denoiser {
	return &Denoiser{
		ClassN:   classN,
		Epochs:   epochs,
		Unary:    DefaultUnaryWeight,
		Pairwise: DefaultPairwiseWeight,
	}
}

// Denoise runs exactly d.Epochs synchronous iterations and returns a new grid.
// The input grid is never modified. Epochs == 0 returns an identical copy.
func (d *Denoiser) Denoise(src *LabelGrid) (*LabelGrid, error) {
	if d.ClassN <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidClassCount, d.ClassN)
	}
	if d.Epochs < 0 {
		return nil, fmt.Errorf("epochs must be non-negative, got %d", d.Epochs)
	}
	for _, w := range []float64{d.Unary, d.Pairwise} {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return nil, fmt.Errorf("weights must be finite and non-negative, got unary %v pairwise %v", d.Unary, d.Pairwise)
		}
	}
	if err := src.Validate(d.ClassN); err != nil {
		return nil, err
	}

	log := orNop(d.Logger)

	cur := src.Clone()
	if cur.Rows == 0 || cur.Cols == 0 {
		return cur, nil
	}
	next := NewLabelGrid(cur.Rows, cur.Cols)
	costs := make([]float64, d.ClassN)

	for epoch := 0; epoch < d.Epochs; epoch++ {
		changed := 0
		for i := 0; i < cur.Rows; i++ {
			for j := 0; j < cur.Cols; j++ {
				d.cellCosts(cur, i, j, costs)
				label := floats.MinIdx(costs)
				if label != cur.At(i, j) {
					changed++
				}
				next.Set(i, j, label)
			}
		}
		cur, next = next, cur
		log.Debug("denoise epoch complete",
			zap.Int("epoch", epoch+1),
			zap.Int("epochs", d.Epochs),
			zap.Int("changed", changed))
	}
	return cur, nil
}

// cellCosts fills costs[c] = -(unary*[c == L(i,j)] + pairwise*#neighbors labelled c)
// using the 8-neighborhood of (i, j) clipped to the grid.
func (d *Denoiser) cellCosts(g *LabelGrid, i, j int, costs []float64) {
	for c := range costs {
		costs[c] = 0
	}
	costs[g.At(i, j)] -= d.Unary
	for di := -1; di <= 1; di++ {
		ni := i + di
		if ni < 0 || ni >= g.Rows {
			continue
		}
		for dj := -1; dj <= 1; dj++ {
			nj := j + dj
			if (di == 0 && dj == 0) || nj < 0 || nj >= g.Cols {
				continue
			}
			costs[g.At(ni, nj)] -= d.Pairwise
		}
	}
}
