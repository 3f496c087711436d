// Package cdpdriver implements driver.Driver over the Chrome DevTools Protocol
// with chromedp.
//
// Frames are entered by reference: the driver keeps the path of frame
// elements from the top document and evaluates every script in the realm of
// the innermost one, so only same-origin frames can be entered.
package cdpdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/k1LoW/errors"
	"github.com/k1LoW/vrt/driver"
	"github.com/k1LoW/vrt/geom"
	"github.com/k1LoW/vrt/js"
)

var _ driver.Driver = (*Driver)(nil)

// elementIDAttr tags every element handed out to callers.
const elementIDAttr = "data-vrt-id"

// elementKey marks a script argument standing for an element.
const elementKey = "__vrtElement"

const (
	errStale       = "vrt:stale"
	errCrossOrigin = "vrt:cross-origin"
)

// runnerTmpl evaluates a script body in the frame at the end of a path, with
// element arguments resolved in that frame's document. The result is
// returned JSON encoded.
const runnerTmpl = `(function (frames, script, args) {
  var win = window;
  for (var i = 0; i < frames.length; i++) {
    var f = win.document.querySelector('[` + elementIDAttr + `="' + frames[i] + '"]');
    if (!f) { throw new Error('` + errStale + `'); }
    var w = null;
    try { w = f.contentWindow; if (w) { w.document.documentElement; } } catch (e) { throw new Error('` + errCrossOrigin + `'); }
    if (!w || !w.document) { throw new Error('` + errCrossOrigin + `'); }
    win = w;
  }
  var doc = win.document;
  var resolved = args.map(function (a) {
    if (a && typeof a === 'object' && a.` + elementKey + `) {
      var el = doc.querySelector('[` + elementIDAttr + `="' + a.` + elementKey + ` + '"]');
      if (!el) { throw new Error('` + errStale + `'); }
      return el;
    }
    return a;
  });
  var v = new win.Function(script).apply(win, resolved);
  return JSON.stringify(v === undefined ? null : v);
})(%s, %s, %s)`

const findElementsScript = `var prefix = arguments[1];
return Array.prototype.map.call(document.querySelectorAll(arguments[0]), function (el, i) {
  var id = el.getAttribute('` + elementIDAttr + `');
  if (!id) { id = prefix + '-' + i; el.setAttribute('` + elementIDAttr + `', id); }
  return id;
});`

const canEnterFrameScript = `var el = arguments[0];
if (!/^i?frame$/i.test(el.tagName)) { return 'not-frame'; }
try { if (el.contentWindow && el.contentWindow.document) { return 'ok'; } } catch (e) {}
return 'cross-origin';`

// Element is a handle to a tagged DOM element.
type Element struct {
	id string
}

func (e *Element) ElementID() string {
	return e.id
}

// Driver drives one browser tab. It must be built from a chromedp context.
type Driver struct {
	cdpCtx context.Context
	frames []string
}

// New returns a driver for the tab of cdpCtx, a context made by
// chromedp.NewContext.
func New(cdpCtx context.Context) *Driver {
	return &Driver{cdpCtx: cdpCtx}
}

// NewContext starts a local Chrome and returns a context for a new tab.
func NewContext(ctx context.Context, headless bool) (context.Context, context.CancelFunc) {
	opts := chromedp.DefaultExecAllocatorOptions[:]
	if !headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	aCtx, aCancel := chromedp.NewExecAllocator(ctx, opts...)
	bCtx, bCancel := chromedp.NewContext(aCtx)
	return bCtx, func() {
		bCancel()
		aCancel()
	}
}

// Start launches the browser of cdpCtx unless it is running.
func Start(cdpCtx context.Context) error {
	if err := chromedp.Run(cdpCtx); err != nil {
		return errors.WithStack(fmt.Errorf("failed to start browser: %w", err))
	}
	return nil
}

// NewTab opens another tab in the browser of browserCtx, a context returned
// by NewContext that was started.
func NewTab(browserCtx context.Context) (context.Context, context.CancelFunc) {
	return chromedp.NewContext(browserCtx)
}

// run executes actions in the tab, stopping early when ctx is done.
func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	rctx, cancel := context.WithCancel(d.cdpCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(rctx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Navigate loads url in the top-level context and waits for the body.
func (d *Driver) Navigate(ctx context.Context, url string) (err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	d.frames = nil
	if err := d.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (d *Driver) TakeScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf, nil
}

func (d *Driver) ExecuteScript(ctx context.Context, script string, res any, args ...any) error {
	return d.evaluate(ctx, d.frames, script, res, args...)
}

func (d *Driver) evaluate(ctx context.Context, frames []string, script string, res any, args ...any) error {
	expr, err := buildExpression(frames, script, args)
	if err != nil {
		return err
	}
	var out string
	if err := d.run(ctx, chromedp.Evaluate(expr, &out)); err != nil {
		return mapError(err)
	}
	if res == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(out), res); err != nil {
		return fmt.Errorf("failed to decode script result: %w", err)
	}
	return nil
}

func buildExpression(frames []string, script string, args []any) (string, error) {
	if frames == nil {
		frames = []string{}
	}
	encoded := make([]any, 0, len(args))
	for _, a := range args {
		switch v := a.(type) {
		case *Element:
			if v == nil {
				encoded = append(encoded, nil)
				continue
			}
			encoded = append(encoded, map[string]string{elementKey: v.id})
		case driver.Element:
			return "", fmt.Errorf("foreign element %s passed to cdpdriver", v.ElementID())
		default:
			encoded = append(encoded, a)
		}
	}
	f, err := json.Marshal(frames)
	if err != nil {
		return "", err
	}
	s, err := json.Marshal(script)
	if err != nil {
		return "", err
	}
	a, err := json.Marshal(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to encode script arguments: %w", err)
	}
	return fmt.Sprintf(runnerTmpl, f, s, a), nil
}

func mapError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, errStale):
		return fmt.Errorf("%w: %s", driver.ErrStaleElement, msg)
	case strings.Contains(msg, errCrossOrigin):
		return fmt.Errorf("%w: %s", driver.ErrCrossOriginFrame, msg)
	}
	return err
}

// ViewportSize returns the top-level viewport whatever frame is focused.
func (d *Driver) ViewportSize(ctx context.Context) (geom.RectangleSize, error) {
	var wh [2]int
	if err := d.evaluate(ctx, nil, js.GetViewportSize, &wh); err != nil {
		return geom.RectangleSize{}, err
	}
	return geom.NewRectangleSize(wh[0], wh[1]), nil
}

func (d *Driver) SetViewportSize(ctx context.Context, size geom.RectangleSize) error {
	return d.run(ctx, chromedp.EmulateViewport(int64(size.Width), int64(size.Height)))
}

func (d *Driver) WindowRect(ctx context.Context) (geom.Region, error) {
	var r geom.Region
	err := d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, b, err := browser.GetWindowForTarget().Do(ctx)
		if err != nil {
			return err
		}
		r = geom.NewRegion(int(b.Left), int(b.Top), int(b.Width), int(b.Height))
		return nil
	}))
	return r, err
}

func (d *Driver) SetWindowRect(ctx context.Context, rect geom.Region) error {
	return d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		id, _, err := browser.GetWindowForTarget().Do(ctx)
		if err != nil {
			return err
		}
		return browser.SetWindowBounds(id, &browser.Bounds{
			Left:        int64(rect.Left),
			Top:         int64(rect.Top),
			Width:       int64(rect.Width),
			Height:      int64(rect.Height),
			WindowState: browser.WindowStateNormal,
		}).Do(ctx)
	}))
}

func (d *Driver) SwitchToMainContext(ctx context.Context) error {
	d.frames = nil
	return nil
}

func (d *Driver) SwitchToParentContext(ctx context.Context) error {
	if len(d.frames) > 0 {
		d.frames = d.frames[:len(d.frames)-1]
	}
	return nil
}

func (d *Driver) SwitchToChildContext(ctx context.Context, frame driver.Element) error {
	e, ok := frame.(*Element)
	if !ok || e == nil {
		return fmt.Errorf("not a cdpdriver element: %v", frame)
	}
	var state string
	if err := d.ExecuteScript(ctx, canEnterFrameScript, &state, e); err != nil {
		return err
	}
	switch state {
	case "ok":
	case "cross-origin":
		return fmt.Errorf("%w: %s", driver.ErrCrossOriginFrame, e.id)
	default:
		return fmt.Errorf("%w: %s is not a frame", driver.ErrNoSuchElement, e.id)
	}
	d.frames = append(d.frames, e.id)
	return nil
}

func (d *Driver) FindElements(ctx context.Context, selector string) ([]driver.Element, error) {
	var ids []string
	if err := d.ExecuteScript(ctx, findElementsScript, &ids, selector, uuid.NewString()); err != nil {
		return nil, err
	}
	els := make([]driver.Element, 0, len(ids))
	for _, id := range ids {
		els = append(els, &Element{id: id})
	}
	return els, nil
}

func (d *Driver) FindElement(ctx context.Context, selector string) (driver.Element, error) {
	els, err := d.FindElements(ctx, selector)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s", driver.ErrNoSuchElement, selector)
	}
	return els[0], nil
}

func (d *Driver) IsEqualElements(ctx context.Context, a, b driver.Element) (bool, error) {
	ea, ok1 := a.(*Element)
	eb, ok2 := b.(*Element)
	return ok1 && ok2 && ea != nil && eb != nil && ea.id == eb.id, nil
}

func (d *Driver) Info(ctx context.Context) (*driver.Info, error) {
	var product string
	if err := d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		_, product, _, _, _, err = browser.GetVersion().Do(ctx)
		return err
	})); err != nil {
		return nil, errors.WithStack(err)
	}
	return parseProduct(product), nil
}

// parseProduct reads a product string such as "HeadlessChrome/120.0.6099.109".
func parseProduct(product string) *driver.Info {
	name, ver, _ := strings.Cut(product, "/")
	name = strings.ToLower(strings.TrimPrefix(name, "Headless"))
	major, _, _ := strings.Cut(ver, ".")
	v, _ := strconv.Atoi(major)
	return &driver.Info{BrowserName: name, BrowserVersion: v}
}
