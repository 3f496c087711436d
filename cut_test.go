package vrt

import (
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/k1LoW/vrt/driver/fakedriver"
	"github.com/nfnt/resize"
)

func gradientImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, fakedriver.Gradient(x, y))
		}
	}
	return img
}

func TestFixedCutProvider(t *testing.T) {
	p := FixedCutProvider{Header: 10, Footer: 5, Left: 2, Right: 3}
	got := p.Cut(gradientImage(100, 50))
	if size := got.Bounds().Size(); size != image.Pt(95, 35) {
		t.Fatalf("size = %v, want 95x35", size)
	}
	checkPainted(t, got, fakedriver.Gradient, 2, 10, 5)

	if diff := cmp.Diff(CutProvider(FixedCutProvider{Header: 20, Footer: 10, Left: 4, Right: 6}), p.Scale(2)); diff != "" {
		t.Error(diff)
	}
}

func TestCutProvidersKeepImagesThatWouldVanish(t *testing.T) {
	img := gradientImage(10, 10)
	for _, p := range []CutProvider{
		NullCutProvider{},
		FixedCutProvider{},
		FixedCutProvider{Header: 6, Footer: 6},
	} {
		if got := p.Cut(img); got != image.Image(img) {
			t.Errorf("%#v.Cut() changed the image", p)
		}
	}
}

func TestUnscaledFixedCutProvider(t *testing.T) {
	p := UnscaledFixedCutProvider{Header: 3}
	if got := p.Scale(2); got != CutProvider(p) {
		t.Errorf("Scale() = %#v, want %#v", got, p)
	}
	if size := p.Cut(gradientImage(10, 10)).Bounds().Size(); size != image.Pt(10, 7) {
		t.Errorf("size = %v, want 10x7", size)
	}
}

func TestProcessImage(t *testing.T) {
	// A 20 CSS px header on a device pixel ratio 2 capture.
	got := processImage(gradientImage(200, 120), FixedCutProvider{Header: 20}, 0.5, resize.NearestNeighbor)
	if size := got.Bounds().Size(); size != image.Pt(100, 40) {
		t.Errorf("size = %v, want 100x40", size)
	}
}
