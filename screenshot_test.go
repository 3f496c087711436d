package vrt

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/k1LoW/vrt/driver"
	"github.com/k1LoW/vrt/driver/fakedriver"
	"github.com/k1LoW/vrt/geom"
)

func viewportScreenshot(t *testing.T, ctx context.Context, d *fakedriver.Driver, tree *ContextTree, opts ...ScreenshotOption) *Screenshot {
	t.Helper()
	s, err := NewScreenshot(ctx, tree, d.Render(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestNewScreenshotFromFrameSize(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 300, 200))
	s := NewScreenshotFromFrameSize(img, geom.NewRectangleSize(300, 200))
	if want := geom.NewRegion(0, 0, 300, 200).WithCoordinatesType(geom.ScreenshotAsIs); s.FrameWindow() != want {
		t.Errorf("FrameWindow() = %v, want %v", s.FrameWindow(), want)
	}
	for _, from := range []geom.CoordinatesType{geom.ContextAsIs, geom.ContextRelative} {
		got, err := s.ConvertLocation(geom.NewLocation(12, 34), from, geom.ScreenshotAsIs)
		if err != nil {
			t.Fatal(err)
		}
		if want := geom.NewLocation(12, 34); got != want {
			t.Errorf("ConvertLocation(%s) = %v, want %v", from, got, want)
		}
	}
	if s.Type() != ScreenshotEntireFrame {
		t.Errorf("Type() = %s, want entire_frame", s.Type())
	}
}

func TestScreenshotOfScrolledViewport(t *testing.T) {
	ctx := context.Background()
	d := longPage()
	d.Main.Scroll = geom.NewLocation(0, 100)
	tree := NewContextTree(d, nil)
	s := viewportScreenshot(t, ctx, d, tree)
	if s.Type() != ScreenshotViewport {
		t.Fatalf("Type() = %s, want viewport", s.Type())
	}

	got, err := s.LocationInScreenshot(geom.NewLocation(10, 120), geom.ContextRelative)
	if err != nil {
		t.Fatal(err)
	}
	if want := geom.NewLocation(10, 20); got != want {
		t.Errorf("LocationInScreenshot() = %v, want %v", got, want)
	}
	if c := rgbaAt(s.Image(), got.X, got.Y); c != fakedriver.Gradient(10, 120) {
		t.Errorf("pixel at converted location = %v, want %v", c, fakedriver.Gradient(10, 120))
	}

	_, err = s.LocationInScreenshot(geom.NewLocation(10, 50), geom.ContextRelative)
	var oob *OutOfBoundsError
	if !errors.As(err, &oob) {
		t.Errorf("LocationInScreenshot() above the viewport error = %v, want *OutOfBoundsError", err)
	}
}

func TestGetIntersectedRegion(t *testing.T) {
	ctx := context.Background()
	d := longPage()
	d.Main.Scroll = geom.NewLocation(0, 100)
	tree := NewContextTree(d, nil)
	s := viewportScreenshot(t, ctx, d, tree)

	tests := []struct {
		name       string
		in         geom.Region
		resultType geom.CoordinatesType
		want       geom.Region
		wantErr    bool
	}{
		{
			name:       "clipped at the bottom, relative",
			in:         geom.NewRegion(0, 650, 100, 100).WithCoordinatesType(geom.ContextRelative),
			resultType: geom.ContextRelative,
			want:       geom.NewRegion(0, 650, 100, 50).WithCoordinatesType(geom.ContextRelative),
		},
		{
			name:       "as is to screenshot",
			in:         geom.NewRegion(10, 10, 20, 20).WithCoordinatesType(geom.ContextAsIs),
			resultType: geom.ScreenshotAsIs,
			want:       geom.NewRegion(10, 10, 20, 20).WithCoordinatesType(geom.ScreenshotAsIs),
		},
		{
			name:       "screenshot clipped by image",
			in:         geom.NewRegion(790, 590, 20, 20).WithCoordinatesType(geom.ScreenshotAsIs),
			resultType: geom.ScreenshotAsIs,
			want:       geom.NewRegion(790, 590, 10, 10).WithCoordinatesType(geom.ScreenshotAsIs),
		},
		{
			name:       "no overlap is empty",
			in:         geom.NewRegion(0, 0, 50, 50).WithCoordinatesType(geom.ContextRelative),
			resultType: geom.ContextRelative,
			want:       geom.Region{CoordinatesType: geom.ScreenshotAsIs},
		},
		{
			name:       "empty size passes through",
			in:         geom.NewRegion(5, 5, 0, 0).WithCoordinatesType(geom.CoordinatesTypeUnspecified),
			resultType: geom.ScreenshotAsIs,
			want:       geom.NewRegion(5, 5, 0, 0),
		},
		{
			name:       "unspecified type",
			in:         geom.NewRegion(5, 5, 10, 10),
			resultType: geom.ScreenshotAsIs,
			wantErr:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.GetIntersectedRegion(tt.in, tt.resultType)
			if tt.wantErr {
				var cerr *geom.CoordinatesTypeConversionError
				if !errors.As(err, &cerr) {
					t.Errorf("GetIntersectedRegion() error = %v, want *geom.CoordinatesTypeConversionError", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Error(diff)
			}
		})
	}
}

func TestFrameWindowIsClipped(t *testing.T) {
	ctx := context.Background()
	d := fakedriver.New(geom.NewRectangleSize(800, 600), geom.NewRectangleSize(800, 600))
	d.Main.AddFrame("corner", geom.NewRegion(700, 500, 400, 300), 0, geom.NewRectangleSize(400, 300))
	tree := NewContextTree(d, nil)
	if err := tree.Main().Child(FrameByName("corner")).Focus(ctx); err != nil {
		t.Fatal(err)
	}
	s := viewportScreenshot(t, ctx, d, tree)
	want := geom.NewRegion(700, 500, 100, 100).WithCoordinatesType(geom.ScreenshotAsIs)
	if s.FrameWindow() != want {
		t.Errorf("FrameWindow() = %v, want %v", s.FrameWindow(), want)
	}
	if !imageRegion(s.Image()).ContainsRegion(s.FrameWindow()) {
		t.Error("frame window is not inside the image")
	}
}

func TestEmptyFrameWindow(t *testing.T) {
	ctx := context.Background()
	d := fakedriver.New(geom.NewRectangleSize(800, 600), geom.NewRectangleSize(800, 2000))
	d.Main.AddFrame("below", geom.NewRegion(0, 1000, 400, 300), 0, geom.NewRectangleSize(400, 300))
	tree := NewContextTree(d, nil)
	if err := tree.Main().Child(FrameByName("below")).Focus(ctx); err != nil {
		t.Fatal(err)
	}
	_, err := NewScreenshot(ctx, tree, d.Render())
	if !errors.Is(err, ErrEmptyFrameWindow) {
		t.Errorf("NewScreenshot() error = %v, want ErrEmptyFrameWindow", err)
	}
}

func TestScreenshotInNestedFrame(t *testing.T) {
	ctx := context.Background()
	d, _, _ := nestedPage()
	tree := NewContextTree(d, nil)
	cb := tree.Main().Child(FrameByName("a")).Child(FrameByName("b"))
	if err := cb.Focus(ctx); err != nil {
		t.Fatal(err)
	}
	s := viewportScreenshot(t, ctx, d, tree)
	want := geom.NewRegion(140, 250, 200, 100).WithCoordinatesType(geom.ScreenshotAsIs)
	if s.FrameWindow() != want {
		t.Errorf("FrameWindow() = %v, want %v", s.FrameWindow(), want)
	}
	got, err := s.LocationInScreenshot(geom.NewLocation(20, 30), geom.ContextAsIs)
	if err != nil {
		t.Fatal(err)
	}
	if want := geom.NewLocation(160, 280); got != want {
		t.Errorf("LocationInScreenshot() = %v, want %v", got, want)
	}
	if c := rgbaAt(s.Image(), got.X, got.Y); c != framePaint(200)(20, 30) {
		t.Errorf("pixel = %v, want %v", c, framePaint(200)(20, 30))
	}
}

func TestScreenshotTypeInference(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		info driver.Info
		dpr  float64
		img  image.Rectangle
		want ScreenshotType
	}{
		{"fits viewport", driver.Info{BrowserName: "chrome", BrowserVersion: 120}, 1, image.Rect(0, 0, 800, 600), ScreenshotViewport},
		{"larger than viewport", driver.Info{BrowserName: "chrome", BrowserVersion: 120}, 1, image.Rect(0, 0, 800, 1500), ScreenshotEntireFrame},
		{"device pixels", driver.Info{BrowserName: "chrome", BrowserVersion: 120}, 2, image.Rect(0, 0, 1600, 1200), ScreenshotViewport},
		{"legacy firefox main", driver.Info{BrowserName: "firefox", BrowserVersion: 47}, 1, image.Rect(0, 0, 800, 1500), ScreenshotViewport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := longPage()
			d.BrowserInfo = tt.info
			tree := NewContextTree(d, nil)
			got, err := inferScreenshotType(ctx, tree, tree.Main(), image.NewRGBA(tt.img), tt.dpr)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("inferScreenshotType() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEntireFrameScreenshot(t *testing.T) {
	ctx := context.Background()
	d := longPage()
	d.Main.Scroll = geom.NewLocation(0, 100)
	tree := NewContextTree(d, nil)
	img := image.NewRGBA(image.Rect(0, 0, 800, 1500))
	s, err := NewScreenshot(ctx, tree, img)
	if err != nil {
		t.Fatal(err)
	}
	if s.Type() != ScreenshotEntireFrame {
		t.Fatalf("Type() = %s, want entire_frame", s.Type())
	}
	got, err := s.ConvertLocation(geom.ZeroLocation, geom.ContextAsIs, geom.ScreenshotAsIs)
	if err != nil {
		t.Fatal(err)
	}
	if want := geom.NewLocation(0, 100); got != want {
		t.Errorf("AS_IS origin in screenshot = %v, want %v", got, want)
	}
	r, err := s.GetIntersectedRegion(geom.NewRegion(0, 1400, 10, 200).WithCoordinatesType(geom.ContextRelative), geom.ScreenshotAsIs)
	if err != nil {
		t.Fatal(err)
	}
	if want := geom.NewRegion(0, 1400, 10, 100).WithCoordinatesType(geom.ScreenshotAsIs); r != want {
		t.Errorf("GetIntersectedRegion() = %v, want %v", r, want)
	}
}

func TestSubScreenshot(t *testing.T) {
	ctx := context.Background()
	d := longPage()
	d.Main.Scroll = geom.NewLocation(0, 100)
	tree := NewContextTree(d, nil)
	s := viewportScreenshot(t, ctx, d, tree)

	t.Run("inside", func(t *testing.T) {
		sub, err := s.SubScreenshot(geom.NewRegion(50, 150, 100, 80).WithCoordinatesType(geom.ContextRelative), true)
		if err != nil {
			t.Fatal(err)
		}
		if got := sub.Image().Bounds().Size(); got != image.Pt(100, 80) {
			t.Errorf("size = %v, want 100x80", got)
		}
		checkPainted(t, sub.Image(), fakedriver.Gradient, 50, 150, 7)
		if want := geom.NewRegion(0, 0, 100, 80).WithCoordinatesType(geom.ScreenshotAsIs); sub.FrameWindow() != want {
			t.Errorf("FrameWindow() = %v, want %v", sub.FrameWindow(), want)
		}
	})
	clipped := geom.NewRegion(700, 600, 200, 200).WithCoordinatesType(geom.ContextRelative)
	t.Run("clipped", func(t *testing.T) {
		sub, err := s.SubScreenshot(clipped, false)
		if err != nil {
			t.Fatal(err)
		}
		if got := sub.Image().Bounds().Size(); got != image.Pt(100, 100) {
			t.Errorf("size = %v, want 100x100", got)
		}
		checkPainted(t, sub.Image(), fakedriver.Gradient, 700, 600, 9)
	})
	t.Run("clipped is an error when asked", func(t *testing.T) {
		_, err := s.SubScreenshot(clipped, true)
		var oob *OutOfBoundsError
		if !errors.As(err, &oob) || !oob.Clipped {
			t.Errorf("SubScreenshot() error = %v, want clipped *OutOfBoundsError", err)
		}
	})
	t.Run("outside", func(t *testing.T) {
		_, err := s.SubScreenshot(geom.NewRegion(0, 0, 50, 50).WithCoordinatesType(geom.ContextRelative), false)
		var oob *OutOfBoundsError
		if !errors.As(err, &oob) || oob.Clipped {
			t.Errorf("SubScreenshot() error = %v, want *OutOfBoundsError", err)
		}
	})
}

func TestSubScreenshotOfFrame(t *testing.T) {
	ctx := context.Background()
	d := fakedriver.New(geom.NewRectangleSize(800, 600), geom.NewRectangleSize(800, 600))
	f := d.Main.AddFrame("f", geom.NewRegion(100, 100, 200, 200), 0, geom.NewRectangleSize(200, 200))
	f.Content.Paint = framePaint(60)
	tree := NewContextTree(d, nil)
	if err := tree.Main().Child(FrameByName("f")).Focus(ctx); err != nil {
		t.Fatal(err)
	}
	s := viewportScreenshot(t, ctx, d, tree)
	if want := geom.NewRegion(100, 100, 200, 200).WithCoordinatesType(geom.ScreenshotAsIs); s.FrameWindow() != want {
		t.Fatalf("FrameWindow() = %v, want %v", s.FrameWindow(), want)
	}

	tests := []struct {
		name           string
		region         geom.Region
		throwIfClipped bool
		wantSize       image.Point
		wantClipped    bool
		wantErr        bool
	}{
		{"inside", geom.NewRegion(120, 130, 50, 40), true, image.Pt(50, 40), false, false},
		{"across the frame edge", geom.NewRegion(50, 50, 100, 100), false, image.Pt(50, 50), false, false},
		{"across the frame edge is an error when asked", geom.NewRegion(50, 50, 100, 100), true, image.Point{}, true, true},
		{"outside the frame but inside the image", geom.NewRegion(0, 0, 50, 50), false, image.Point{}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := s.SubScreenshot(tt.region.WithCoordinatesType(geom.ScreenshotAsIs), tt.throwIfClipped)
			if tt.wantErr {
				var oob *OutOfBoundsError
				if !errors.As(err, &oob) || oob.Clipped != tt.wantClipped {
					t.Errorf("SubScreenshot() error = %v, want *OutOfBoundsError with Clipped %v", err, tt.wantClipped)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got := sub.Image().Bounds().Size(); got != tt.wantSize {
				t.Errorf("size = %v, want %v", got, tt.wantSize)
			}
			dx := max(tt.region.Left, 100) - 100
			dy := max(tt.region.Top, 100) - 100
			checkPainted(t, sub.Image(), framePaint(60), dx, dy, 7)
		})
	}
}

func TestGetIntersectedRegionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	d, _, _ := nestedPage()
	tree := NewContextTree(d, nil)
	if err := tree.Main().Child(FrameByName("a")).Focus(ctx); err != nil {
		t.Fatal(err)
	}
	s := viewportScreenshot(t, ctx, d, tree)
	for _, r := range []geom.Region{
		geom.NewRegion(-50, -50, 200, 200).WithCoordinatesType(geom.ContextAsIs),
		geom.NewRegion(300, 250, 300, 300).WithCoordinatesType(geom.ContextRelative),
		geom.NewRegion(90, 190, 20, 20).WithCoordinatesType(geom.ScreenshotAsIs),
	} {
		once, err := s.GetIntersectedRegion(r, r.CoordinatesType)
		if err != nil {
			t.Fatal(err)
		}
		twice, err := s.GetIntersectedRegion(once, r.CoordinatesType)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(once, twice); diff != "" {
			t.Errorf("GetIntersectedRegion(%v) is not idempotent: %s", r, diff)
		}
	}
}
