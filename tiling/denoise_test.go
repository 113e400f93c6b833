package tiling

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func grid(rows, cols int, labels ...int) *LabelGrid {
	return &LabelGrid{Rows: rows, Cols: cols, Labels: labels}
}

func TestDenoise_RemovesIsolatedLabel(t *testing.T) {
	d := NewDenoiser(2, 1)
	out, err := d.Denoise(grid(3, 3,
		0, 0, 0,
		0, 1, 0,
		0, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, make([]int, 9), out.Labels)
}

func TestDenoise_SynchronousUpdate(t *testing.T) {
	// each cell only sees the other; with Jacobi updates they swap
	d := NewDenoiser(2, 1)
	out, err := d.Denoise(grid(1, 2, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, out.Labels)

	d.Epochs = 2
	out, err = d.Denoise(grid(1, 2, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, out.Labels)
}

func TestDenoise_TieBreaksToLowestClass(t *testing.T) {
	d := &Denoiser{ClassN: 2, Epochs: 1, Unary: 10, Pairwise: 10}
	out, err := d.Denoise(grid(1, 2, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0}, out.Labels)
}

func TestDenoise_UnaryOnlySingleCell(t *testing.T) {
	d := &Denoiser{ClassN: 3, Epochs: 1, Unary: 0, Pairwise: DefaultPairwiseWeight}
	out, err := d.Denoise(grid(1, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, []int{0}, out.Labels, "all costs zero, lowest class wins")

	d.Unary = DefaultUnaryWeight
	out, err = d.Denoise(grid(1, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, []int{2}, out.Labels)
}

func TestDenoise_UniformIsFixedPoint(t *testing.T) {
	d := NewDenoiser(5, 4)
	in := grid(3, 4, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3)
	out, err := d.Denoise(in)
	require.NoError(t, err)
	assert.True(t, in.Equal(out))
}

func TestDenoise_ZeroEpochsCopies(t *testing.T) {
	d := NewDenoiser(3, 0)
	in := grid(2, 2, 0, 1, 2, 1)
	out, err := d.Denoise(in)
	require.NoError(t, err)
	assert.True(t, in.Equal(out))

	out.Set(0, 0, 2)
	assert.Equal(t, 0, in.At(0, 0), "result must not alias input")
}

func TestDenoise_DoesNotModifyInput(t *testing.T) {
	in := grid(3, 3, 0, 0, 0, 0, 1, 0, 0, 0, 0)
	snapshot := in.Clone()
	_, err := NewDenoiser(2, 3).Denoise(in)
	require.NoError(t, err)
	assert.True(t, snapshot.Equal(in))
}

func TestDenoise_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	in := NewLabelGrid(12, 17)
	for i := range in.Labels {
		in.Labels[i] = rng.Intn(4)
	}

	d := NewDenoiser(4, 3)
	d.Logger = zaptest.NewLogger(t)
	a, err := d.Denoise(in)
	require.NoError(t, err)
	b, err := d.Denoise(in)
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
	require.NoError(t, a.Validate(4))
}

func TestDenoise_EmptyGrid(t *testing.T) {
	out, err := NewDenoiser(2, 2).Denoise(NewLabelGrid(0, 5))
	require.NoError(t, err)
	assert.Equal(t, 0, out.Rows)
	assert.Equal(t, 5, out.Cols)
}

func TestDenoise_Errors(t *testing.T) {
	_, err := NewDenoiser(0, 1).Denoise(grid(1, 1, 0))
	assert.ErrorIs(t, err, ErrInvalidClassCount)

	_, err = NewDenoiser(2, 1).Denoise(grid(1, 2, 0, 2))
	assert.ErrorIs(t, err, ErrLabelOutOfRange)

	_, err = NewDenoiser(2, 1).Denoise(grid(2, 2, 0, 1))
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = NewDenoiser(2, -1).Denoise(grid(1, 1, 0))
	assert.Error(t, err)

	for _, d := range []*Denoiser{
		{ClassN: 2, Epochs: 1, Unary: 1, Pairwise: -10},
		{ClassN: 2, Epochs: 1, Unary: math.NaN(), Pairwise: 10},
		{ClassN: 2, Epochs: 1, Unary: 1, Pairwise: math.Inf(1)},
	} {
		_, err = d.Denoise(grid(1, 1, 0))
		assert.ErrorContains(t, err, "weights")
	}
}
