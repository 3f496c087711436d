package fakedriver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"regexp"
	"strings"

	"github.com/k1LoW/vrt/driver"
	"github.com/k1LoW/vrt/geom"
	"github.com/k1LoW/vrt/js"
)

var _ driver.Driver = (*Driver)(nil)

// windowChrome is the difference between the window and the viewport.
var windowChrome = geom.NewRectangleSize(0, 80)

// Driver is a driver.Driver over a Document tree.
type Driver struct {
	Main *Document
	// DevicePixelRatio scales captured images. Zero means 1.
	DevicePixelRatio int
	BrowserInfo      driver.Info
	UserAgent        string
	// ScriptsUnsupported makes every script fail, as in native app contexts.
	ScriptsUnsupported bool
	// IgnoreViewportResizes drops that many SetViewportSize calls.
	IgnoreViewportResizes int
	// OnScreenshot runs before each capture with the 1-based capture count.
	OnScreenshot func(n int) error
	// OnScroll runs after each ScrollTo.
	OnScroll func(d *Document)

	// Calls counts driver operations by name.
	Calls map[string]int

	window geom.Location
	stack  []*Element
}

// New returns a driver whose main document has the given viewport and content size.
func New(viewport, content geom.RectangleSize) *Driver {
	return &Driver{
		Main:        NewDocument(viewport, content),
		BrowserInfo: driver.Info{BrowserName: "chrome", BrowserVersion: 120},
		Calls:       map[string]int{},
	}
}

// Current returns the document of the focused browsing context.
func (f *Driver) Current() *Document {
	if len(f.stack) == 0 {
		return f.Main
	}
	return f.stack[len(f.stack)-1].Content
}

// Depth returns how many frames deep the focused context is.
func (f *Driver) Depth() int {
	return len(f.stack)
}

func (f *Driver) count(op string) {
	if f.Calls == nil {
		f.Calls = map[string]int{}
	}
	f.Calls[op]++
}

// ContextSwitches returns the number of context switch calls made.
func (f *Driver) ContextSwitches() int {
	return f.Calls["SwitchToMainContext"] + f.Calls["SwitchToParentContext"] + f.Calls["SwitchToChildContext"]
}

func (f *Driver) dpr() int {
	if f.DevicePixelRatio <= 0 {
		return 1
	}
	return f.DevicePixelRatio
}

// Render draws the top-level viewport.
func (f *Driver) Render() *image.RGBA {
	vp := f.Main.ClientSize
	dpr := f.dpr()
	img := image.NewRGBA(image.Rect(0, 0, vp.Width*dpr, vp.Height*dpr))
	for py := 0; py < vp.Height*dpr; py++ {
		for px := 0; px < vp.Width*dpr; px++ {
			img.SetRGBA(px, py, f.Main.colorAt(px/dpr, py/dpr))
		}
	}
	return img
}

func (f *Driver) TakeScreenshot(ctx context.Context) ([]byte, error) {
	f.count("TakeScreenshot")
	if f.OnScreenshot != nil {
		if err := f.OnScreenshot(f.Calls["TakeScreenshot"]); err != nil {
			return nil, err
		}
	}
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, f.Render()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *Driver) ExecuteScript(ctx context.Context, script string, res any, args ...any) error {
	f.count("ExecuteScript")
	if f.ScriptsUnsupported {
		return driver.ErrUnsupported
	}
	v, err := f.run(script, args)
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, res)
}

func (f *Driver) run(script string, args []any) (any, error) {
	cur := f.Current()
	switch script {
	case js.GetViewportSize:
		return []int{cur.ClientSize.Width, cur.ClientSize.Height}, nil
	case js.GetDevicePixelRatio:
		return f.dpr(), nil
	case js.GetUserAgent:
		return f.UserAgent, nil
	case js.GetElementRect, js.GetElementClientRect, js.IsScrollable:
		el, err := f.element(args, 0)
		if err != nil {
			return nil, err
		}
		switch script {
		case js.GetElementRect:
			return regionArray(el.Rect), nil
		case js.GetElementClientRect:
			return regionArray(el.ClientRect), nil
		}
		if el.Content == nil {
			return false, nil
		}
		c := el.Content
		return c.ContentSize.Width > c.ClientSize.Width || c.ContentSize.Height > c.ClientSize.Height, nil
	}
	root, err := f.scrollRoot(args)
	if err != nil {
		return nil, err
	}
	switch script {
	case js.GetScrollPosition:
		return []int{root.Scroll.X, root.Scroll.Y}, nil
	case js.ScrollTo:
		x, y := intArg(args, 1), intArg(args, 2)
		m := root.maxScroll()
		root.Scroll = geom.NewLocation(min(max(x, 0), m.X), min(max(y, 0), m.Y))
		if f.OnScroll != nil {
			f.OnScroll(root)
		}
		return []int{root.Scroll.X, root.Scroll.Y}, nil
	case js.GetTransforms:
		return map[string]string{"transform": root.Transform, "webkitTransform": root.WebkitTransform}, nil
	case js.SetTransforms:
		t, _ := args[1].(map[string]string)
		for k, v := range t {
			switch k {
			case "transform":
				root.Transform = v
			case "webkitTransform":
				root.WebkitTransform = v
			}
		}
		return nil, nil
	case js.GetEntireSize:
		return []int{root.ContentSize.Width, root.ContentSize.Height}, nil
	case js.GetOverflow:
		return root.Overflow, nil
	case js.SetOverflow:
		prev := root.Overflow
		v, _ := args[1].(string)
		root.Overflow = v
		return prev, nil
	case js.MarkScrollRoot:
		v, _ := args[1].(string)
		root.Attrs[js.ScrollRootMarkerAttr] = v
		cur.Elements[js.ScrollRootMarkerSelector(v)] = f.rootElement(args)
		return nil, nil
	}
	return nil, fmt.Errorf("fakedriver: unknown script: %.40q", script)
}

func (f *Driver) rootElement(args []any) *Element {
	if len(args) > 0 {
		if e, ok := args[0].(*Element); ok && e != nil {
			return e
		}
	}
	return f.Current().Root()
}

func (f *Driver) scrollRoot(args []any) (*Document, error) {
	if len(args) == 0 || args[0] == nil {
		return f.Current(), nil
	}
	e, ok := args[0].(*Element)
	if !ok {
		return nil, fmt.Errorf("fakedriver: argument 0 is not an element: %T", args[0])
	}
	if e == nil {
		return f.Current(), nil
	}
	if e.Detached {
		return nil, driver.ErrStaleElement
	}
	if e.Content == nil {
		return nil, fmt.Errorf("fakedriver: element %s is not a scroll container", e.ID)
	}
	return e.Content, nil
}

func (f *Driver) element(args []any, i int) (*Element, error) {
	if len(args) <= i {
		return nil, fmt.Errorf("fakedriver: missing argument %d", i)
	}
	e, ok := args[i].(*Element)
	if !ok || e == nil {
		return nil, fmt.Errorf("fakedriver: argument %d is not an element", i)
	}
	if e.Detached {
		return nil, driver.ErrStaleElement
	}
	return e, nil
}

func intArg(args []any, i int) int {
	if len(args) <= i {
		return 0
	}
	switch v := args[i].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func regionArray(r geom.Region) []int {
	return []int{r.Left, r.Top, r.Width, r.Height}
}

func (f *Driver) ViewportSize(ctx context.Context) (geom.RectangleSize, error) {
	f.count("ViewportSize")
	return f.Main.ClientSize, nil
}

func (f *Driver) SetViewportSize(ctx context.Context, size geom.RectangleSize) error {
	f.count("SetViewportSize")
	if f.IgnoreViewportResizes > 0 {
		f.IgnoreViewportResizes--
		return nil
	}
	f.Main.ClientSize = size
	return nil
}

func (f *Driver) WindowRect(ctx context.Context) (geom.Region, error) {
	f.count("WindowRect")
	vp := f.Main.ClientSize
	return geom.NewRegion(f.window.X, f.window.Y, vp.Width+windowChrome.Width, vp.Height+windowChrome.Height), nil
}

func (f *Driver) SetWindowRect(ctx context.Context, rect geom.Region) error {
	f.count("SetWindowRect")
	f.window = rect.Location()
	f.Main.ClientSize = geom.NewRectangleSize(rect.Width-windowChrome.Width, rect.Height-windowChrome.Height)
	return nil
}

func (f *Driver) SwitchToMainContext(ctx context.Context) error {
	f.count("SwitchToMainContext")
	f.stack = nil
	return nil
}

func (f *Driver) SwitchToParentContext(ctx context.Context) error {
	f.count("SwitchToParentContext")
	if len(f.stack) > 0 {
		f.stack = f.stack[:len(f.stack)-1]
	}
	return nil
}

func (f *Driver) SwitchToChildContext(ctx context.Context, frame driver.Element) error {
	f.count("SwitchToChildContext")
	e, ok := frame.(*Element)
	if !ok || e == nil {
		return fmt.Errorf("fakedriver: not a frame element: %v", frame)
	}
	if e.Detached {
		return driver.ErrStaleElement
	}
	found := false
	for _, fr := range f.Current().Frames {
		if fr == e {
			found = true
			break
		}
	}
	if !found {
		return driver.ErrNoSuchElement
	}
	if e.CrossOrigin {
		return driver.ErrCrossOriginFrame
	}
	f.stack = append(f.stack, e)
	return nil
}

var attrSelectorRe = regexp.MustCompile(`\[(name|id)="([^"]*)"\]`)

func (f *Driver) FindElements(ctx context.Context, selector string) ([]driver.Element, error) {
	f.count("FindElements")
	cur := f.Current()
	var found []*Element
	switch {
	case selector == js.FrameSelector:
		for _, e := range cur.Frames {
			if !e.Detached {
				found = append(found, e)
			}
		}
	case cur.Elements[selector] != nil:
		found = append(found, cur.Elements[selector])
	case strings.Contains(selector, "frame["):
		seen := map[*Element]bool{}
		for _, m := range attrSelectorRe.FindAllStringSubmatch(selector, -1) {
			for _, e := range cur.Frames {
				if seen[e] || e.Detached {
					continue
				}
				if (m[1] == "name" && e.Name == m[2]) || (m[1] == "id" && e.ID == m[2]) {
					seen[e] = true
					found = append(found, e)
				}
			}
		}
	}
	els := make([]driver.Element, 0, len(found))
	for _, e := range found {
		els = append(els, e)
	}
	return els, nil
}

func (f *Driver) FindElement(ctx context.Context, selector string) (driver.Element, error) {
	els, err := f.FindElements(ctx, selector)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s", driver.ErrNoSuchElement, selector)
	}
	return els[0], nil
}

func (f *Driver) IsEqualElements(ctx context.Context, a, b driver.Element) (bool, error) {
	ea, ok1 := a.(*Element)
	eb, ok2 := b.(*Element)
	return ok1 && ok2 && ea == eb, nil
}

func (f *Driver) Info(ctx context.Context) (*driver.Info, error) {
	info := f.BrowserInfo
	return &info, nil
}
