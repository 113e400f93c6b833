package tiling

import (
	"context"
	"fmt"
)

// Classifier labels a batch of tiles. It must return exactly one class index
// per tile, in input order.
type Classifier interface {
	Classify(ctx context.Context, tiles []*Image) ([]int, error)
}

// ClassifierFunc adapts a function to the Classifier interface
type ClassifierFunc func(ctx context.Context, tiles []*Image) ([]int, error)

// Classify implements Classifier
func (f ClassifierFunc) Classify(ctx context.Context, tiles []*Image) ([]int, error) {
	return f(ctx, tiles)
}

// ExtractTile copies the tile whose top-left pixel is (x, y)
func ExtractTile(img *Image, x, y int, tile TileSize) *Image {
	out := NewImage(tile.Width, tile.Height)
	for r := 0; r < tile.Height; r++ {
		src := img.Row(y + r)[x : x+tile.Width]
		copy(out.Row(r), src)
	}
	return out
}

// blockTile returns the i-th tile of a block in row-major order
func blockTile(img *Image, b Block, tile TileSize, i int) *Image {
	r, c := i/b.TileCols, i%b.TileCols
	return ExtractTile(img, b.X+c*tile.Width, b.Y+r*tile.Height, tile)
}

// ExtractTiles returns every tile of a block in row-major order (tile row
// varies slowest).
func ExtractTiles(img *Image, b Block, tile TileSize) []*Image {
	n := b.TileCount()
	tiles := make([]*Image, n)
	for i := 0; i < n; i++ {
		tiles[i] = blockTile(img, b, tile, i)
	}
	return tiles
}

// ForEachBatch walks a block's tiles in row-major order and hands them to fn
// in batches of batchSize. The final batch may be shorter; it is never padded.
// offset is the position of the batch's first tile within the block.
func ForEachBatch(img *Image, b Block, tile TileSize, batchSize int, fn func(offset int, batch []*Image) error) error {
	if batchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	n := b.TileCount()
	for offset := 0; offset < n; offset += batchSize {
		size := min(batchSize, n-offset)
		batch := make([]*Image, size)
		for i := range batch {
			batch[i] = blockTile(img, b, tile, offset+i)
		}
		if err := fn(offset, batch); err != nil {
			return err
		}
	}
	return nil
}

// ClassifyBlock classifies every tile of a block and returns the labels as a
// flat row-major sequence of length b.TileCount().
func ClassifyBlock(ctx context.Context, clf Classifier, img *Image, b Block, tile TileSize, batchSize int) ([]int, error) {
	labels := make([]int, b.TileCount())
	err := ForEachBatch(img, b, tile, batchSize, func(offset int, batch []*Image) error {
		out, err := clf.Classify(ctx, batch)
		if err != nil {
			return fmt.Errorf("classifying block (%d, %d) tiles %d-%d: %w",
				b.Row, b.Col, offset, offset+len(batch)-1, err)
		}
		if len(out) != len(batch) {
			return fmt.Errorf("%w: block (%d, %d) sent %d tiles, got %d labels",
				ErrBatchMismatch, b.Row, b.Col, len(batch), len(out))
		}
		copy(labels[offset:], out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return labels, nil
}
