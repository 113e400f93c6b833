package tiling

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// ImageSource supplies images by sequential index.
type ImageSource interface {
	Len() int
	Name(index int) string
	Load(index int) (*Image, error)
}

var rasterExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
	".bmp":  true,
}

// DirSource serves the raster files of one directory in name order.
type DirSource struct {
	Dir   string
	Paths []string
}

// NewDirSource lists the raster files in dir. Subdirectories are ignored.
func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing images in %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if rasterExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return &DirSource{Dir: dir, Paths: paths}, nil
}

// Len implements ImageSource
func (s *DirSource) Len() int { return len(s.Paths) }

// Name implements ImageSource
func (s *DirSource) Name(index int) string {
	return filepath.Base(s.Paths[index])
}

// Load implements ImageSource
func (s *DirSource) Load(index int) (*Image, error) {
	if index < 0 || index >= len(s.Paths) {
		return nil, fmt.Errorf("image index %d out of range [0, %d)", index, len(s.Paths))
	}
	return LoadImageFile(s.Paths[index])
}

// LoadImageFile decodes a PNG, JPEG, TIFF or BMP file as greyscale
func LoadImageFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}
	defer func() { _ = f.Close() }()

	src, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	img := FromImage(src)
	if img.Width == 0 || img.Height == 0 {
		return nil, fmt.Errorf("decoding %s: empty %s image", path, format)
	}
	return img, nil
}

// FromImage converts any image.Image to a single-channel Image
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	out := NewImage(b.Dx(), b.Dy())

	if g, ok := src.(*image.Gray); ok {
		for y := 0; y < out.Height; y++ {
			start := g.PixOffset(b.Min.X, b.Min.Y+y)
			copy(out.Row(y), g.Pix[start:start+out.Width])
		}
		return out
	}

	for y := 0; y < out.Height; y++ {
		row := out.Row(y)
		for x := 0; x < out.Width; x++ {
			row[x] = color.GrayModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y
		}
	}
	return out
}

