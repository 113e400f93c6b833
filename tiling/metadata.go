package tiling

import (
	"fmt"
	"image/color"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ClassMeta names a class index and gives it a display color.
type ClassMeta struct {
	Name  string `yaml:"name" json:"name"`
	Color string `yaml:"color" json:"color"` // #rrggbb
}

// DefaultClassMetadata returns the seven tissue classes in label order
func DefaultClassMetadata() []ClassMeta {
	return []ClassMeta{
		{Name: "Healthy Tissue", Color: "#ff00ff"},
		{Name: "Type I - Caseum", Color: "#ff0000"},
		{Name: "Type II", Color: "#00ff00"},
		{Name: "Empty Slide", Color: "#c8c8c8"},
		{Name: "Type III", Color: "#ffff00"},
		{Name: "Type I - Rim", Color: "#0000ff"},
		{Name: "Unknown/Other", Color: "#8f42f4"},
	}
}

// LoadClassMetadata reads a YAML list of classes
func LoadClassMetadata(path string) ([]ClassMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading class metadata: %w", err)
	}
	var classes []ClassMeta
	if err := yaml.Unmarshal(data, &classes); err != nil {
		return nil, fmt.Errorf("parsing class metadata YAML: %w", err)
	}
	if err := ValidateClassMetadata(classes); err != nil {
		return nil, err
	}
	return classes, nil
}

// ValidateClassMetadata requires at least one class, a name for each, and
// parseable colors
func ValidateClassMetadata(classes []ClassMeta) error {
	if len(classes) == 0 {
		return fmt.Errorf("%w: no classes defined", ErrInvalidClassCount)
	}
	for i, c := range classes {
		if c.Name == "" {
			return fmt.Errorf("classes[%d].name is required", i)
		}
		if c.Color == "" {
			continue
		}
		if _, err := ParseHexColor(c.Color); err != nil {
			return fmt.Errorf("classes[%d].color: %w", i, err)
		}
	}
	return nil
}

// ClassName returns the configured name of label, or "class N" when unknown
func ClassName(classes []ClassMeta, label int) string {
	if label >= 0 && label < len(classes) {
		return classes[label].Name
	}
	return fmt.Sprintf("class %d", label)
}

// ParseHexColor parses #rgb or #rrggbb
func ParseHexColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
