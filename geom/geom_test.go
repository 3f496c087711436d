package geom

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var allCoordinatesTypes = []CoordinatesType{ContextAsIs, ContextRelative, ScreenshotAsIs}

func TestConvertLocation(t *testing.T) {
	c := Converter{ScrollPosition: NewLocation(10, 200), FrameLocation: NewLocation(30, 40)}
	tests := []struct {
		from CoordinatesType
		to   CoordinatesType
		want Location
	}{
		{ContextAsIs, ContextAsIs, NewLocation(5, 5)},
		{ContextAsIs, ContextRelative, NewLocation(15, 205)},
		{ContextAsIs, ScreenshotAsIs, NewLocation(35, 45)},
		{ContextRelative, ContextAsIs, NewLocation(-5, -195)},
		{ContextRelative, ScreenshotAsIs, NewLocation(25, -155)},
		{ScreenshotAsIs, ContextAsIs, NewLocation(-25, -35)},
		{ScreenshotAsIs, ContextRelative, NewLocation(-15, 165)},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			got, err := c.ConvertLocation(NewLocation(5, 5), tt.from, tt.to)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConvertLocationRoundTrip(t *testing.T) {
	converters := []Converter{
		{},
		{ScrollPosition: NewLocation(0, 900), FrameLocation: NewLocation(0, 0)},
		{ScrollPosition: NewLocation(13, 7), FrameLocation: NewLocation(-120, 64)},
	}
	points := []Location{ZeroLocation, NewLocation(1, 1), NewLocation(-50, 3000), NewLocation(799, 599)}
	for _, c := range converters {
		for _, from := range allCoordinatesTypes {
			for _, to := range allCoordinatesTypes {
				for _, p := range points {
					converted, err := c.ConvertLocation(p, from, to)
					if err != nil {
						t.Fatal(err)
					}
					back, err := c.ConvertLocation(converted, to, from)
					if err != nil {
						t.Fatal(err)
					}
					if back != p {
						t.Errorf("%s -> %s -> %s: got %v, want %v", from, to, from, back, p)
					}
				}
			}
		}
	}
}

func TestConvertLocationUnsupported(t *testing.T) {
	c := Converter{}
	_, err := c.ConvertLocation(ZeroLocation, CoordinatesTypeUnspecified, ScreenshotAsIs)
	var cerr *CoordinatesTypeConversionError
	if !errors.As(err, &cerr) {
		t.Fatalf("got %v, want CoordinatesTypeConversionError", err)
	}
	if cerr.From != CoordinatesTypeUnspecified || cerr.To != ScreenshotAsIs {
		t.Errorf("got %v", cerr)
	}
	if got, want := cerr.Error(), "cannot convert from unspecified to screenshot_as_is"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestConvertRegionLocationEmpty(t *testing.T) {
	c := Converter{ScrollPosition: NewLocation(10, 10), FrameLocation: NewLocation(5, 5)}
	empties := []Region{
		EmptyRegion,
		NewRegion(3, 4, 0, 10),
		NewRegion(-3, 4, 10, -1),
	}
	for _, r := range empties {
		for _, from := range allCoordinatesTypes {
			for _, to := range allCoordinatesTypes {
				got, err := c.ConvertRegionLocation(r, from, to)
				if err != nil {
					t.Fatal(err)
				}
				if !got.IsSizeEmpty() {
					t.Errorf("%v %s -> %s: got non-empty %v", r, from, to, got)
				}
				if got.Size() != r.Size() {
					t.Errorf("%v %s -> %s: size changed to %v", r, from, to, got.Size())
				}
			}
		}
	}
}

func TestConvertRegionLocation(t *testing.T) {
	c := Converter{ScrollPosition: NewLocation(0, 100), FrameLocation: NewLocation(20, 20)}
	got, err := c.ConvertRegionLocation(NewRegion(10, 150, 50, 60), ContextRelative, ScreenshotAsIs)
	if err != nil {
		t.Fatal(err)
	}
	want := Region{Left: 30, Top: 70, Width: 50, Height: 60, CoordinatesType: ScreenshotAsIs}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Error(diff)
	}
}

func TestIntersect(t *testing.T) {
	tests := []struct {
		name string
		a    Region
		b    Region
		want Region
	}{
		{"overlap", NewRegion(0, 0, 100, 100), NewRegion(50, 60, 100, 100), NewRegion(50, 60, 50, 40)},
		{"inside", NewRegion(0, 0, 100, 100), NewRegion(10, 10, 10, 10), NewRegion(10, 10, 10, 10)},
		{"disjoint", NewRegion(0, 0, 10, 10), NewRegion(20, 20, 10, 10), EmptyRegion},
		{"touching", NewRegion(0, 0, 10, 10), NewRegion(10, 0, 10, 10), EmptyRegion},
		{"empty operand", NewRegion(0, 0, 10, 10), NewRegion(5, 5, 0, 0), EmptyRegion},
		{"negative origin", NewRegion(-20, -20, 50, 50), NewRegion(0, 0, 100, 100), NewRegion(0, 0, 30, 30)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.a
			got.Intersect(tt.b)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Error(diff)
			}
			if got := tt.a.Intersection(tt.b); got != tt.want {
				t.Errorf("Intersection: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestContains(t *testing.T) {
	r := NewRegion(10, 10, 10, 10)
	tests := []struct {
		loc  Location
		want bool
	}{
		{NewLocation(10, 10), true},
		{NewLocation(19, 19), true},
		{NewLocation(20, 10), false},
		{NewLocation(9, 15), false},
	}
	for _, tt := range tests {
		if got := r.Contains(tt.loc); got != tt.want {
			t.Errorf("Contains(%v) = %v, want %v", tt.loc, got, tt.want)
		}
	}
	if !r.ContainsRegion(NewRegion(10, 10, 10, 10)) {
		t.Error("region should contain itself")
	}
	if r.ContainsRegion(NewRegion(15, 15, 10, 10)) {
		t.Error("region should not contain an overlapping region")
	}
}

func TestContainsRegionMismatchedSpaces(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("want panic for mismatched coordinate spaces")
		}
	}()
	a := NewRegion(0, 0, 10, 10).WithCoordinatesType(ContextAsIs)
	b := NewRegion(0, 0, 1, 1).WithCoordinatesType(ScreenshotAsIs)
	a.ContainsRegion(b)
}

func TestScale(t *testing.T) {
	if got, want := NewLocation(3, 5).Scale(0.5), NewLocation(2, 3); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := NewRectangleSize(801, 600).Scale(2), NewRectangleSize(1602, 1200); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	r := NewRegion(1, 1, 3, 3).WithCoordinatesType(ScreenshotAsIs)
	if got, want := r.Scale(1.5), (Region{Left: 2, Top: 2, Width: 5, Height: 5, CoordinatesType: ScreenshotAsIs}); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSubRegions(t *testing.T) {
	tests := []struct {
		name    string
		r       Region
		size    RectangleSize
		overlap int
		want    []Region
	}{
		{
			name:    "three rows with overlap",
			r:       NewRegion(0, 0, 800, 1500),
			size:    NewRectangleSize(800, 600),
			overlap: 50,
			want: []Region{
				NewRegion(0, 0, 800, 600),
				NewRegion(0, 550, 800, 600),
				NewRegion(0, 1100, 800, 400),
			},
		},
		{
			name: "fits in one",
			r:    NewRegion(10, 20, 300, 200),
			size: NewRectangleSize(800, 600),
			want: []Region{NewRegion(10, 20, 300, 200)},
		},
		{
			name: "grid without overlap",
			r:    NewRegion(0, 0, 150, 150),
			size: NewRectangleSize(100, 100),
			want: []Region{
				NewRegion(0, 0, 100, 100),
				NewRegion(100, 0, 50, 100),
				NewRegion(0, 100, 100, 50),
				NewRegion(100, 100, 50, 50),
			},
		},
		{
			name:    "overlap larger than tile uses minimum step",
			r:       NewRegion(0, 0, 20, 25),
			size:    NewRectangleSize(20, 15),
			overlap: 30,
			want: []Region{
				NewRegion(0, 0, 20, 15),
				NewRegion(0, 10, 20, 15),
			},
		},
		{
			name: "empty",
			r:    EmptyRegion,
			size: NewRectangleSize(100, 100),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.r.SubRegions(tt.size, tt.overlap)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Error(diff)
			}
		})
	}
}

func TestParseRectangleSize(t *testing.T) {
	tests := []struct {
		in      string
		want    RectangleSize
		wantErr bool
	}{
		{"1280x800", NewRectangleSize(1280, 800), false},
		{" 800X600 ", NewRectangleSize(800, 600), false},
		{"800", RectangleSize{}, true},
		{"ax600", RectangleSize{}, true},
		{"-1x600", RectangleSize{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRectangleSize(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
