package vrt

import (
	"image"
	"image/color"
	"testing"

	"github.com/k1LoW/vrt/driver"
	"github.com/k1LoW/vrt/driver/fakedriver"
)

func newTestSession(t *testing.T, d driver.Driver, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithWaitBeforeScreenshots(0)}, opts...)
	s, err := New(d, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func rgbaAt(img image.Image, x, y int) color.RGBA {
	b := img.Bounds()
	return color.RGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
}

// checkPainted compares img against paint shifted by (dx, dy), sampling every
// step pixels on both axes and always including the last row and column.
func checkPainted(t *testing.T, img image.Image, paint fakedriver.PaintFunc, dx, dy, step int) {
	t.Helper()
	b := img.Bounds()
	xs := samples(b.Dx(), step)
	ys := samples(b.Dy(), step)
	bad := 0
	for _, y := range ys {
		for _, x := range xs {
			got := rgbaAt(img, x, y)
			want := paint(x+dx, y+dy)
			if got != want {
				if bad < 5 {
					t.Errorf("pixel at (%d, %d) = %v, want %v", x, y, got, want)
				}
				bad++
			}
		}
	}
	if bad > 5 {
		t.Errorf("... and %d more mismatched pixels", bad-5)
	}
}

func samples(n, step int) []int {
	var s []int
	for i := 0; i < n; i += step {
		s = append(s, i)
	}
	if n > 0 && s[len(s)-1] != n-1 {
		s = append(s, n-1)
	}
	return s
}

// framePaint paints b into blue so frame content differs from the main document.
func framePaint(b uint8) fakedriver.PaintFunc {
	return func(x, y int) color.RGBA {
		return color.RGBA{R: uint8(x), G: uint8(y), B: b, A: 0xff}
	}
}
