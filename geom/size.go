package geom

import (
	"fmt"
	"strconv"
	"strings"
)

// RectangleSize is a width/height pair.
type RectangleSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func NewRectangleSize(width, height int) RectangleSize {
	return RectangleSize{Width: width, Height: height}
}

// ParseRectangleSize parses "WIDTHxHEIGHT", e.g. "1280x800".
func ParseRectangleSize(s string) (RectangleSize, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return RectangleSize{}, fmt.Errorf("invalid size %q: expected WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return RectangleSize{}, fmt.Errorf("invalid width in %q: %w", s, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return RectangleSize{}, fmt.Errorf("invalid height in %q: %w", s, err)
	}
	if width < 0 || height < 0 {
		return RectangleSize{}, fmt.Errorf("invalid size %q: negative dimension", s)
	}
	return RectangleSize{Width: width, Height: height}, nil
}

// IsEmpty reports whether width or height is not positive.
func (s RectangleSize) IsEmpty() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Scale multiplies both dimensions by ratio, rounding up.
func (s RectangleSize) Scale(ratio float64) RectangleSize {
	return RectangleSize{Width: scaleInt(s.Width, ratio), Height: scaleInt(s.Height, ratio)}
}

// Min returns the component-wise minimum of s and o.
func (s RectangleSize) Min(o RectangleSize) RectangleSize {
	return RectangleSize{Width: min(s.Width, o.Width), Height: min(s.Height, o.Height)}
}

func (s RectangleSize) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}
