package tiling

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	require.NoError(t, png.Encode(f, img))
}

func TestDirSource_ListsRastersSorted(t *testing.T) {
	dir := t.TempDir()
	gray := image.NewGray(image.Rect(0, 0, 4, 3))
	writePNG(t, filepath.Join(dir, "b.png"), gray)
	writePNG(t, filepath.Join(dir, "a.PNG"), gray)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0755))

	src, err := NewDirSource(dir)
	require.NoError(t, err)
	require.Equal(t, 2, src.Len())
	assert.Equal(t, "a.PNG", src.Name(0))
	assert.Equal(t, "b.png", src.Name(1))

	img, err := src.Load(1)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Width)
	assert.Equal(t, 3, img.Height)

	_, err = src.Load(2)
	assert.Error(t, err)
}

func TestDirSource_MissingDir(t *testing.T) {
	_, err := NewDirSource(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestLoadImageFile_ConvertsToGray(t *testing.T) {
	dir := t.TempDir()
	rgba := image.NewRGBA(image.Rect(0, 0, 2, 1))
	rgba.Set(0, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	rgba.Set(1, 0, color.RGBA{A: 255})
	path := filepath.Join(dir, "rgb.png")
	writePNG(t, path, rgba)

	img, err := LoadImageFile(path)
	require.NoError(t, err)
	assert.Equal(t, []uint8{255, 0}, img.Pix)
}

func TestLoadImageFile_BMP(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slide.bmp")
	gray := image.NewGray(image.Rect(0, 0, 3, 2))
	gray.SetGray(2, 1, color.Gray{Y: 77})

	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, bmp.Encode(f, gray))
	require.NoError(t, f.Close())

	img, err := LoadImageFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint8(77), img.At(2, 1))
}

func TestFromImage_GraySubImage(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 4, 4))
	gray.SetGray(2, 3, color.Gray{Y: 42})
	sub := gray.SubImage(image.Rect(1, 2, 4, 4))

	img := FromImage(sub)
	assert.Equal(t, 3, img.Width)
	assert.Equal(t, 2, img.Height)
	assert.Equal(t, uint8(42), img.At(1, 1))
}
