package tiling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeLabels(t *testing.T) {
	labels := make([]int, 5000)
	for i := range labels {
		labels[i] = (i / 300) % 7
	}

	blob, err := EncodeLabels(labels)
	require.NoError(t, err)
	assert.Less(t, len(blob), len(labels), "uniform runs should compress well")

	got, err := DecodeLabels(blob, len(labels))
	require.NoError(t, err)
	assert.Equal(t, labels, got)
}

func TestDecodeLabels_WrongCount(t *testing.T) {
	blob, err := EncodeLabels([]int{1, 2, 3})
	require.NoError(t, err)

	_, err = DecodeLabels(blob, 4)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = DecodeLabels([]byte("not zstd"), 1)
	assert.Error(t, err)
}

func TestEncodeLabels_Empty(t *testing.T) {
	blob, err := EncodeLabels(nil)
	require.NoError(t, err)
	got, err := DecodeLabels(blob, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}
