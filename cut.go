package vrt

import (
	"image"
	"math"
)

// CutProvider removes fixed browser chrome (headers, footers) from captures.
type CutProvider interface {
	Cut(img image.Image) image.Image
	// Scale returns the provider for images scaled by ratio.
	Scale(ratio float64) CutProvider
}

var (
	_ CutProvider = NullCutProvider{}
	_ CutProvider = FixedCutProvider{}
	_ CutProvider = UnscaledFixedCutProvider{}
)

// NullCutProvider keeps images whole.
type NullCutProvider struct{}

func (NullCutProvider) Cut(img image.Image) image.Image { return img }

func (p NullCutProvider) Scale(float64) CutProvider { return p }

// FixedCutProvider cuts the given number of CSS pixels off each edge.
type FixedCutProvider struct {
	Header int `json:"header,omitempty" yaml:"header,omitempty"`
	Footer int `json:"footer,omitempty" yaml:"footer,omitempty"`
	Left   int `json:"left,omitempty" yaml:"left,omitempty"`
	Right  int `json:"right,omitempty" yaml:"right,omitempty"`
}

func (p FixedCutProvider) Cut(img image.Image) image.Image {
	return cutEdges(img, p.Header, p.Footer, p.Left, p.Right)
}

func (p FixedCutProvider) Scale(ratio float64) CutProvider {
	s := func(v int) int { return int(math.Ceil(float64(v) * ratio)) }
	return FixedCutProvider{Header: s(p.Header), Footer: s(p.Footer), Left: s(p.Left), Right: s(p.Right)}
}

// UnscaledFixedCutProvider cuts device pixels; scaling does not change it.
type UnscaledFixedCutProvider FixedCutProvider

func (p UnscaledFixedCutProvider) Cut(img image.Image) image.Image {
	return cutEdges(img, p.Header, p.Footer, p.Left, p.Right)
}

func (p UnscaledFixedCutProvider) Scale(float64) CutProvider { return p }

func cutEdges(img image.Image, header, footer, left, right int) image.Image {
	if header == 0 && footer == 0 && left == 0 && right == 0 {
		return img
	}
	b := img.Bounds()
	r := image.Rect(b.Min.X+left, b.Min.Y+header, b.Max.X-right, b.Max.Y-footer)
	if r.Empty() {
		return img
	}
	return cropRect(img, r)
}
