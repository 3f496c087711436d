package vrt

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/k1LoW/errors"
	"github.com/k1LoW/vrt/driver"
	"github.com/k1LoW/vrt/geom"
	"github.com/k1LoW/vrt/js"
)

// StitchMode selects how content is moved between tiles.
type StitchMode int

const (
	// StitchModeScroll scrolls the scroll root.
	StitchModeScroll StitchMode = iota
	// StitchModeCSS translates the scroll root with a CSS transform.
	StitchModeCSS
)

func (m StitchMode) String() string {
	switch m {
	case StitchModeScroll:
		return "scroll"
	case StitchModeCSS:
		return "css"
	}
	return fmt.Sprintf("stitch_mode(%d)", int(m))
}

func ParseStitchMode(s string) (StitchMode, error) {
	switch strings.ToLower(s) {
	case "", "scroll":
		return StitchModeScroll, nil
	case "css":
		return StitchModeCSS, nil
	}
	return StitchModeScroll, fmt.Errorf("unknown stitch mode: %q", s)
}

type targetKind int

const (
	targetWindow targetKind = iota
	targetElement
	targetRegion
)

// Target describes what to capture.
type Target struct {
	kind       targetKind
	selector   string
	region     geom.Region
	frames     []FrameRef
	fully      bool
	scrollRoot string
}

// Window targets the visible window of a browsing context.
func Window() *Target {
	return &Target{kind: targetWindow}
}

// Element targets the first element matching selector.
func Element(selector string) *Target {
	return &Target{kind: targetElement, selector: selector}
}

// RegionTarget targets a region of the document. Regions without a
// coordinates type are taken as document coordinates.
func RegionTarget(r geom.Region) *Target {
	if r.CoordinatesType == geom.CoordinatesTypeUnspecified {
		r = r.WithCoordinatesType(geom.ContextRelative)
	}
	return &Target{kind: targetRegion, region: r}
}

// InFrame appends ref to the frame path the target lives in.
func (t *Target) InFrame(ref FrameRef) *Target {
	t.frames = append(t.frames, ref)
	return t
}

// Fully captures the whole target instead of its visible part.
func (t *Target) Fully() *Target {
	t.fully = true
	return t
}

// WithScrollRoot scrolls the element matching selector instead of the
// document when capturing fully.
func (t *Target) WithScrollRoot(selector string) *Target {
	t.scrollRoot = selector
	return t
}

func (t *Target) String() string {
	var b strings.Builder
	for _, f := range t.frames {
		b.WriteString(f.String())
		b.WriteString(" > ")
	}
	switch t.kind {
	case targetWindow:
		b.WriteString("window")
	case targetElement:
		fmt.Fprintf(&b, "element(%q)", t.selector)
	case targetRegion:
		fmt.Fprintf(&b, "region%v", t.region)
	}
	if t.fully {
		b.WriteString(" fully")
	}
	return b.String()
}

// CaptureOption overrides a session setting for one capture.
type CaptureOption func(*captureConfig)

func OverrideStitchMode(m StitchMode) CaptureOption {
	return func(c *captureConfig) { c.stitchMode = m }
}

func OverrideStitchOverlap(px int) CaptureOption {
	return func(c *captureConfig) { c.stitchOverlap = max(px, 0) }
}

func OverrideWaitBeforeScreenshots(d time.Duration) CaptureOption {
	return func(c *captureConfig) { c.wait = d }
}

func OverrideHideScrollbars(enable bool) CaptureOption {
	return func(c *captureConfig) { c.hideScrollbars = enable }
}

func OverrideCutProvider(p CutProvider) CaptureOption {
	return func(c *captureConfig) { c.cut = p }
}

func OverrideImageProvider(p ImageProvider) CaptureOption {
	return func(c *captureConfig) { c.imageProvider = p }
}

// Result is a finished capture.
type Result struct {
	Screenshot *Screenshot
	// Region is what was captured, in the coordinates of the target's context.
	Region geom.Region
	// Tiles is set for full captures.
	Tiles []Tile
}

// Image returns the captured image.
func (r *Result) Image() image.Image {
	return r.Screenshot.Image()
}

// Capture takes a screenshot of t.
func (s *Session) Capture(ctx context.Context, t *Target, opts ...CaptureOption) (_ *Result, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	cfg := s.config
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.cut == nil {
		cfg.cut = NullCutProvider{}
	}
	if cfg.imageProvider == nil {
		cfg.imageProvider = NewDriverImageProvider(s.driver)
	}
	logger := s.logger.With(slog.String("target", t.String()))

	c := s.tree.Main()
	for _, ref := range t.frames {
		c = c.Child(ref)
	}
	if t.scrollRoot != "" {
		c.SetScrollRootSelector(t.scrollRoot)
	}
	if err := c.Focus(ctx); err != nil {
		return nil, fmt.Errorf("failed to switch to %s: %w", c, err)
	}
	if t.fully && !c.IsMain() {
		restore, rerr := s.revealFrame(ctx, c)
		defer func() {
			if ferr := restore(ctx); ferr != nil {
				err = errors.Join(err, fmt.Errorf("failed to restore frame ancestors: %w", ferr))
			}
		}()
		if rerr != nil {
			return nil, fmt.Errorf("failed to reveal %s: %w", c, rerr)
		}
	}
	root, err := c.ScrollRoot(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.hideScrollbars {
		h := NewScrollbarHider(s.driver, root, logger)
		h.Hide(ctx)
		defer func() {
			if ferr := c.Focus(ctx); ferr != nil {
				logger.Warn("failed to restore scrollbars", slog.String("error", ferr.Error()))
				return
			}
			h.Restore(ctx)
		}()
	}

	var res *Result
	if t.fully {
		res, err = s.captureFully(ctx, c, root, t, cfg, logger)
	} else {
		res, err = s.captureVisible(ctx, c, t, cfg, logger)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("captured", slog.String("region", res.Region.String()), logImage(res.Image()), slog.Int("tiles", len(res.Tiles)))
	return res, nil
}

func (s *Session) scaleFactory(ctx context.Context, cfg captureConfig) (ScaleProviderFactory, error) {
	if cfg.scale != nil {
		return cfg.scale, nil
	}
	vp, err := s.driver.ViewportSize(ctx)
	if err != nil {
		return nil, driver.WrapOperation("get viewport size", err)
	}
	return ContextBasedScaleProviderFactory{
		TopLevelEntireSize: s.topLevelEntireSize(ctx, vp),
		ViewportSize:       vp,
		DevicePixelRatio:   s.DevicePixelRatio(ctx),
	}, nil
}

// captureViewport takes one processed capture of the viewport bound to c.
func (s *Session) captureViewport(ctx context.Context, c *Context, cfg captureConfig) (*Screenshot, error) {
	f, err := s.scaleFactory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	raw, err := cfg.imageProvider.Image(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture viewport: %w", err)
	}
	ratio := f.ScaleProvider(raw.Bounds().Dx()).ScaleRatio()
	img := processImage(raw, cfg.cut, ratio, cfg.interpolation)
	if err := c.Focus(ctx); err != nil {
		return nil, err
	}
	return NewScreenshot(ctx, s.tree, img, WithScreenshotType(ScreenshotViewport))
}

func (s *Session) captureVisible(ctx context.Context, c *Context, t *Target, cfg captureConfig, logger *slog.Logger) (*Result, error) {
	shot, err := s.captureViewport(ctx, c, cfg)
	if err != nil {
		return nil, err
	}
	var r geom.Region
	switch t.kind {
	case targetWindow:
		r = shot.FrameWindow()
	case targetElement:
		el, err := s.driver.FindElement(ctx, t.selector)
		if err != nil {
			return nil, fmt.Errorf("failed to find element %q: %w", t.selector, err)
		}
		r, err = shot.GetIntersectedRegionFromElement(ctx, el)
		if err != nil {
			return nil, err
		}
	case targetRegion:
		r, err = shot.GetIntersectedRegion(t.region, geom.ScreenshotAsIs)
		if err != nil {
			return nil, err
		}
	}
	if r.IsSizeEmpty() {
		return nil, &OutOfBoundsError{Requested: r, Bounds: shot.FrameWindow()}
	}
	region, err := shot.ConvertRegionLocation(r, geom.ScreenshotAsIs, geom.ContextRelative)
	if err != nil {
		return nil, err
	}
	if r == imageRegion(shot.Image()) {
		return &Result{Screenshot: shot, Region: region}, nil
	}
	sub, err := shot.SubScreenshot(r, false)
	if err != nil {
		return nil, err
	}
	logger.Debug("cropped capture", slog.String("region", r.String()))
	return &Result{Screenshot: sub, Region: region}, nil
}

// revealFrame scrolls every ancestor of c so that the frame on the path below
// it starts as close to the top left of its viewport as the ancestor can
// scroll. The returned func scrolls the ancestors back, innermost first, and
// is safe to call when revealFrame failed.
func (s *Session) revealFrame(ctx context.Context, c *Context) (func(context.Context) error, error) {
	type saved struct {
		c *Context
		p PositionProvider
		m *PositionMemento
	}
	var stack []saved
	restore := func(ctx context.Context) error {
		var errs error
		for i := len(stack) - 1; i >= 0; i-- {
			sv := stack[i]
			if err := sv.c.Focus(ctx); err != nil {
				errs = errors.Join(errs, err)
				continue
			}
			if err := sv.p.RestoreState(ctx, sv.m); err != nil {
				errs = errors.Join(errs, err)
			}
		}
		if err := c.Focus(ctx); err != nil {
			errs = errors.Join(errs, err)
		}
		return errs
	}
	path := c.Path()
	for i := 1; i < len(path); i++ {
		parent, child := path[i-1], path[i]
		rect, err := child.Rect(ctx)
		if err != nil {
			return restore, err
		}
		if err := parent.Focus(ctx); err != nil {
			return restore, err
		}
		root, err := parent.ScrollRoot(ctx)
		if err != nil {
			return restore, err
		}
		p := NewElementScrollPositionProvider(s.driver, root, s.providerOptions()...)
		m, err := p.State(ctx)
		if err != nil {
			return restore, err
		}
		stack = append(stack, saved{c: parent, p: p, m: m})
		if _, err := p.SetPosition(ctx, rect.Location()); err != nil {
			return restore, err
		}
	}
	return restore, c.Focus(ctx)
}

// scrollRootWindow returns where the client box of c is in a processed
// viewport capture, and the part of that box left visible by the client box
// of every ancestor, the viewport included.
func scrollRootWindow(ctx context.Context, c *Context) (box, visible geom.Region, err error) {
	for n := c; n != nil; n = n.parent {
		loc, err := n.LocationInViewport(ctx)
		if err != nil {
			return geom.EmptyRegion, geom.EmptyRegion, err
		}
		size, err := n.ClientSize(ctx)
		if err != nil {
			return geom.EmptyRegion, geom.EmptyRegion, err
		}
		r := geom.NewRegionFrom(loc, size, geom.ScreenshotAsIs)
		if n == c {
			box, visible = r, r
			continue
		}
		visible = visible.Intersection(r)
	}
	return box, visible, nil
}

func (s *Session) captureFully(ctx context.Context, c *Context, root driver.Element, t *Target, cfg captureConfig, logger *slog.Logger) (*Result, error) {
	box, window, err := scrollRootWindow(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("failed to locate scroll root window: %w", err)
	}
	if err := c.Focus(ctx); err != nil {
		return nil, err
	}
	var target geom.Region
	switch t.kind {
	case targetWindow:
		// Sized by the content below.
	case targetElement:
		el, err := s.driver.FindElement(ctx, t.selector)
		if err != nil {
			return nil, fmt.Errorf("failed to find element %q: %w", t.selector, err)
		}
		scrollable := false
		if err := s.driver.ExecuteScript(ctx, js.IsScrollable, &scrollable, el); err != nil {
			logger.Debug("failed to check whether element scrolls", slog.String("error", err.Error()))
		}
		if scrollable {
			// The element becomes the scroll root; its client box is the window.
			client, err := elementRect(ctx, s.driver, js.GetElementClientRect, el)
			if err != nil {
				return nil, fmt.Errorf("failed to get client rect of %q: %w", t.selector, err)
			}
			off := c.InnerOffset(ctx)
			loc := client.Location().OffsetNegative(off).OffsetBy(window.Location())
			box = geom.NewRegionFrom(loc, client.Size(), geom.ScreenshotAsIs)
			window = box.Intersection(window)
			root = el
		} else {
			target, err = elementRect(ctx, s.driver, js.GetElementRect, el)
			if err != nil {
				return nil, fmt.Errorf("failed to get rect of %q: %w", t.selector, err)
			}
		}
	case targetRegion:
		target = t.region
		if target.CoordinatesType == geom.ContextAsIs {
			off := c.InnerOffset(ctx)
			target = target.Offset(off.X, off.Y).WithCoordinatesType(geom.ContextRelative)
		}
		if target.CoordinatesType != geom.ContextRelative {
			return nil, &geom.CoordinatesTypeConversionError{From: target.CoordinatesType, To: geom.ContextRelative}
		}
	}

	pp := s.positionProvider(cfg.stitchMode, root)
	pp.MarkScrollRootElement(ctx)
	var origin PositionProvider
	if cfg.stitchMode == StitchModeCSS {
		origin = NewElementScrollPositionProvider(s.driver, root, s.providerOptions()...)
	}
	if target.IsSizeEmpty() {
		entire, err := pp.EntireSize(ctx)
		if err != nil {
			return nil, err
		}
		target = geom.NewRegionFrom(geom.ZeroLocation, entire, geom.ContextRelative)
	}
	f, err := s.scaleFactory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	st := &Stitcher{
		PositionProvider:     pp,
		OriginProvider:       origin,
		ImageProvider:        cfg.imageProvider,
		ScaleProviderFactory: f,
		CutProvider:          cfg.cut,
		StitchOverlap:        cfg.stitchOverlap,
		WindowInset:          window.Location().OffsetNegative(box.Location()),
		Wait:                 cfg.wait,
		Interpolation:        cfg.interpolation,
		Logger:               logger,
	}
	res, err := st.Stitch(ctx, target, window)
	if err != nil {
		return nil, err
	}
	return &Result{
		Screenshot: NewScreenshotFromFrameSize(res.Image, target.Size()),
		Region:     target,
		Tiles:      res.Tiles,
	}, nil
}
