package cdpdriver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/k1LoW/vrt"
	"github.com/k1LoW/vrt/driver"
	"github.com/k1LoW/vrt/geom"
)

func TestBuildExpression(t *testing.T) {
	got, err := buildExpression([]string{"f-1"}, "return arguments[0];", []any{&Element{id: "e-1"}, nil, 3, map[string]string{"transform": ""}})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`})(["f-1"], "return arguments[0];", [{"__vrtElement":"e-1"},null,3,{"transform":""}])`,
	} {
		if !strings.HasSuffix(got, want) {
			t.Errorf("expression does not end with %s:\n%s", want, got)
		}
	}

	if _, err := buildExpression(nil, "", []any{foreignElement{}}); err == nil {
		t.Error("buildExpression() accepted an element of another driver")
	}
	main, err := buildExpression(nil, "return 1;", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(main, `})([], "return 1;", [])`) {
		t.Errorf("expression for the main context = %s", main)
	}
}

type foreignElement struct{}

func (foreignElement) ElementID() string { return "foreign" }

func TestMapError(t *testing.T) {
	tests := []struct {
		in   error
		want error
	}{
		{errors.New("exception \"Uncaught Error: vrt:stale\" (1:2)"), driver.ErrStaleElement},
		{errors.New("exception \"Uncaught Error: vrt:cross-origin\" (1:2)"), driver.ErrCrossOriginFrame},
	}
	for _, tt := range tests {
		if got := mapError(tt.in); !errors.Is(got, tt.want) {
			t.Errorf("mapError(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
	other := errors.New("boom")
	if got := mapError(other); got != other {
		t.Errorf("mapError(%v) = %v, want it unchanged", other, got)
	}
}

func TestParseProduct(t *testing.T) {
	tests := []struct {
		in   string
		want driver.Info
	}{
		{"HeadlessChrome/120.0.6099.109", driver.Info{BrowserName: "chrome", BrowserVersion: 120}},
		{"Chrome/126.0.6478.55", driver.Info{BrowserName: "chrome", BrowserVersion: 126}},
		{"", driver.Info{}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, *parseProduct(tt.in)); diff != "" {
			t.Errorf("parseProduct(%q): %s", tt.in, diff)
		}
	}
}

const testPage = `<!DOCTYPE html>
<html><head><style>
html, body { margin: 0; padding: 0; }
.row { height: 100px; }
iframe { border: 0; width: 300px; height: 200px; display: block; }
</style></head><body>
%s
<iframe name="inner" srcdoc="<body style='margin:0'><div style='height:700px;background:#c00'></div></body>"></iframe>
</body></html>`

func TestChrome(t *testing.T) {
	if os.Getenv("TEST_CHROME") == "" {
		t.Skip("set TEST_CHROME to run against a local Chrome")
	}
	var rows strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&rows, `<div class="row" style="background: rgb(%d, %d, 0)"></div>`, i*12, 255-i*12)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, testPage, rows.String())
	}))
	t.Cleanup(srv.Close)

	cdpCtx, cancel := NewContext(context.Background(), true)
	t.Cleanup(cancel)
	ctx, cancel2 := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel2)

	d := New(cdpCtx)
	if err := d.Navigate(ctx, srv.URL); err != nil {
		t.Fatal(err)
	}
	s, err := vrt.New(d, vrt.WithWaitBeforeScreenshots(50*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetViewportSize(ctx, geom.NewRectangleSize(800, 600)); err != nil {
		t.Fatal(err)
	}

	t.Run("full page", func(t *testing.T) {
		res, err := s.Capture(ctx, vrt.Window().Fully())
		if err != nil {
			t.Fatal(err)
		}
		if got := res.Image().Bounds().Dy(); got != 2200 {
			t.Errorf("height = %d, want 2200", got)
		}
		if len(res.Tiles) < 4 {
			t.Errorf("tiles = %d, want at least 4", len(res.Tiles))
		}
	})
	t.Run("frame under translated root", func(t *testing.T) {
		if err := d.ExecuteScript(ctx, `document.documentElement.style.transform = 'translate(0px, -40px)'; return null;`, nil); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() {
			_ = d.SwitchToMainContext(ctx)
			_ = d.ExecuteScript(ctx, `document.documentElement.style.transform = ''; return null;`, nil)
		})
		tree := vrt.NewContextTree(d, nil)
		c := tree.Main().Child(vrt.FrameByName("inner"))
		if err := c.Focus(ctx); err != nil {
			t.Fatal(err)
		}
		rect, err := c.ClientRect(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got := rect.Location(); got != geom.NewLocation(0, 2000) {
			t.Errorf("ClientRect() at %v, want (0, 2000)", got)
		}
		loc, err := c.LocationInViewport(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if loc != geom.NewLocation(0, 1960) {
			t.Errorf("LocationInViewport() = %v, want (0, 1960)", loc)
		}
	})
	t.Run("frame fully", func(t *testing.T) {
		res, err := s.Capture(ctx, vrt.Window().InFrame(vrt.FrameByName("inner")).Fully())
		if err != nil {
			t.Fatal(err)
		}
		if got := res.Image().Bounds().Size(); got.X != 300 || got.Y != 700 {
			t.Errorf("size = %v, want 300x700", got)
		}
	})
}
