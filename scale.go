package vrt

import (
	"image"
	"math"

	"github.com/k1LoW/vrt/geom"
	"github.com/nfnt/resize"
)

const (
	// allowedViewportDeviation is how far an image width may differ from the
	// device-scaled viewport width and still be taken as a viewport capture.
	allowedViewportDeviation = 1
	// allowedEntireSizeDeviation is the same for the top-level entire width.
	allowedEntireSizeDeviation = 10
)

// ScaleProvider gives the ratio bringing captured images to CSS pixels.
type ScaleProvider interface {
	ScaleRatio() float64
}

// ScaleProviderFactory picks a ScaleProvider from the width of the first
// captured image.
type ScaleProviderFactory interface {
	ScaleProvider(imageWidth int) ScaleProvider
}

// NullScaleProvider never scales.
type NullScaleProvider struct{}

func (NullScaleProvider) ScaleRatio() float64 { return 1 }

func (p NullScaleProvider) ScaleProvider(int) ScaleProvider { return p }

// FixedScaleProvider scales by Ratio.
type FixedScaleProvider struct {
	Ratio float64
}

func (p FixedScaleProvider) ScaleRatio() float64 {
	if p.Ratio <= 0 {
		return 1
	}
	return p.Ratio
}

func (p FixedScaleProvider) ScaleProvider(int) ScaleProvider { return p }

// ContextBasedScaleProviderFactory detects device-pixel images by comparing
// their width with the device-scaled viewport and top-level content widths.
type ContextBasedScaleProviderFactory struct {
	TopLevelEntireSize geom.RectangleSize
	ViewportSize       geom.RectangleSize
	DevicePixelRatio   float64
}

func (f ContextBasedScaleProviderFactory) ScaleProvider(imageWidth int) ScaleProvider {
	dpr := f.DevicePixelRatio
	if dpr <= 0 {
		dpr = 1
	}
	dcViewport := int(math.Round(float64(f.ViewportSize.Width) * dpr))
	dcEntire := int(math.Round(float64(f.TopLevelEntireSize.Width) * dpr))
	if within(imageWidth, dcViewport, allowedViewportDeviation) || within(imageWidth, dcEntire, allowedEntireSizeDeviation) {
		return FixedScaleProvider{Ratio: 1 / dpr}
	}
	return FixedScaleProvider{Ratio: 1}
}

func within(v, target, deviation int) bool {
	return v >= target-deviation && v <= target+deviation
}

// scaleImage resizes img by ratio. A ratio of 1 returns img.
func scaleImage(img image.Image, ratio float64, interp resize.InterpolationFunction) image.Image {
	if ratio == 1 || ratio <= 0 {
		return img
	}
	b := img.Bounds()
	w := uint(math.Ceil(float64(b.Dx()) * ratio))
	h := uint(math.Ceil(float64(b.Dy()) * ratio))
	return resize.Resize(w, h, img, interp)
}
