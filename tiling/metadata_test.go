package tiling

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultClassMetadata(t *testing.T) {
	classes := DefaultClassMetadata()
	require.Len(t, classes, 7)
	require.NoError(t, ValidateClassMetadata(classes))
	assert.Equal(t, "Healthy Tissue", classes[0].Name)
	assert.Equal(t, "Unknown/Other", classes[6].Name)

	c, err := ParseHexColor(classes[6].Color)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 143, G: 66, B: 244, A: 255}, c)
}

func TestLoadClassMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- {name: a, color: '#010203'}\n- {name: b}\n"), 0644))

	classes, err := LoadClassMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, []ClassMeta{{Name: "a", Color: "#010203"}, {Name: "b"}}, classes)

	require.NoError(t, os.WriteFile(path, []byte("[]\n"), 0644))
	_, err = LoadClassMetadata(path)
	assert.ErrorIs(t, err, ErrInvalidClassCount)
}

func TestParseHexColor(t *testing.T) {
	c, err := ParseHexColor("#f80")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 0xff, G: 0x88, B: 0x00, A: 0xff}, c)

	for _, bad := range []string{"", "#12345", "#gggggg", "red"} {
		_, err := ParseHexColor(bad)
		assert.Error(t, err, bad)
	}
}

func TestClassName(t *testing.T) {
	classes := DefaultClassMetadata()
	assert.Equal(t, "Type II", ClassName(classes, 2))
	assert.Equal(t, "class 9", ClassName(classes, 9))
}
