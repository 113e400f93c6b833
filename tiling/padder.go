package tiling

import "fmt"

// PaddedSize rounds a dimension up to the next multiple of step
func PaddedSize(n, step int) int {
	if rem := n % step; rem != 0 {
		return n + step - rem
	}
	return n
}

// Pad returns a copy of img whose height and width are multiples of the tile
// size. New rows are appended at the bottom and new columns on the right, all
// set to fill; source pixels keep their coordinates.
//
// A zero-size image or an invalid tile size is a programming error and panics.
func Pad(img *Image, tile TileSize, fill uint8) *Image {
	if img == nil || img.Width <= 0 || img.Height <= 0 {
		panic("tiling: cannot pad an empty image")
	}
	if !tile.Valid() {
		panic(fmt.Sprintf("tiling: invalid tile size %s", tile))
	}

	h := PaddedSize(img.Height, tile.Height)
	w := PaddedSize(img.Width, tile.Width)

	out := NewImage(w, h)
	if fill != 0 {
		for i := range out.Pix {
			out.Pix[i] = fill
		}
	}
	for y := 0; y < img.Height; y++ {
		copy(out.Row(y), img.Row(y))
	}
	return out
}
