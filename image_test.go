package vrt

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/k1LoW/vrt/driver/fakedriver"
	"github.com/k1LoW/vrt/geom"
)

func invert(img *image.RGBA) *image.RGBA {
	out := image.NewRGBA(img.Bounds())
	for i := 0; i < len(img.Pix); i += 4 {
		out.Pix[i] = 0xff - img.Pix[i]
		out.Pix[i+1] = 0xff - img.Pix[i+1]
		out.Pix[i+2] = 0xff - img.Pix[i+2]
		out.Pix[i+3] = img.Pix[i+3]
	}
	return out
}

// blockImage paints 16x16 blocks of pseudo-random gray levels.
func blockImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			b := (x/16)*31 + (y/16)*17
			v := uint8((b*b*37 + b*11) % 251)
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 0xff})
		}
	}
	return img
}

func TestEquivalent(t *testing.T) {
	base := blockImage(256, 256)
	touched := blockImage(256, 256)
	px := touched.RGBAAt(128, 128)
	px.R++
	touched.SetRGBA(128, 128, px)

	tests := []struct {
		name string
		a, b image.Image
		want bool
	}{
		{"identical", base, blockImage(256, 256), true},
		{"one pixel off", base, touched, true},
		{"inverted", base, invert(base), false},
		{"different size", base, blockImage(256, 255), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, distance, err := Equivalent(tt.a, tt.b, DefaultMaxDistance)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Equivalent() = %v (distance %d), want %v", got, distance, tt.want)
			}
		})
	}
}

func TestDecodeImage(t *testing.T) {
	buf := new(bytes.Buffer)
	if err := WritePNG(buf, gradientImage(30, 20)); err != nil {
		t.Fatal(err)
	}
	want := buf.Bytes()
	img, err := DecodeImage(want)
	if err != nil {
		t.Fatal(err)
	}
	got, err := img.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Error("Bytes() did not return the decoded bytes")
	}
	checkPainted(t, img.Image(), fakedriver.Gradient, 0, 0, 3)

	if _, err := DecodeImage([]byte("not an image")); err == nil {
		t.Error("DecodeImage() of garbage returned no error")
	}
}

func TestLoadImage(t *testing.T) {
	ctx := context.Background()
	buf := new(bytes.Buffer)
	if err := WritePNG(buf, gradientImage(40, 30)); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(t.TempDir(), "baseline.png")
	if err := os.WriteFile(p, buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/baseline.png" {
			http.NotFound(w, r)
			return
		}
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)

	for _, src := range []string{p, srv.URL + "/baseline.png"} {
		img, err := LoadImage(ctx, srv.Client(), src)
		if err != nil {
			t.Fatal(err)
		}
		if size := img.Image().Bounds().Size(); size != image.Pt(40, 30) {
			t.Errorf("LoadImage(%s) size = %v, want 40x30", src, size)
		}
	}
	if !strings.HasPrefix(gotUA, "k1LoW-vrt/") {
		t.Errorf("User-Agent = %q, want k1LoW-vrt/...", gotUA)
	}
	if _, err := LoadImage(ctx, srv.Client(), srv.URL+"/missing.png"); err == nil {
		t.Error("LoadImage() of a missing URL returned no error")
	}
	if _, err := LoadImage(ctx, nil, filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("LoadImage() of a missing file returned no error")
	}
}

func TestCropAndPaste(t *testing.T) {
	src := gradientImage(100, 100)
	crop := cropImage(src, geom.NewRegion(10, 20, 30, 40))
	if size := crop.Bounds().Size(); size != image.Pt(30, 40) {
		t.Fatalf("crop size = %v, want 30x40", size)
	}
	checkPainted(t, crop, fakedriver.Gradient, 10, 20, 3)

	dst := image.NewRGBA(image.Rect(0, 0, 50, 50))
	pasteImage(dst, geom.NewLocation(5, 5), src, geom.NewRegion(60, 70, 10, 10))
	if got, want := rgbaAt(dst, 5, 5), fakedriver.Gradient(60, 70); got != want {
		t.Errorf("pasted pixel = %v, want %v", got, want)
	}
	if got := rgbaAt(dst, 15, 15); got != (color.RGBA{}) {
		t.Errorf("pixel outside the paste = %v, want transparent", got)
	}
}
