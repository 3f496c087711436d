package vrt

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/k1LoW/errors"
	"github.com/k1LoW/vrt/driver"
	"github.com/k1LoW/vrt/geom"
	"github.com/k1LoW/vrt/js"
)

// ScreenshotType tells what a captured image shows.
type ScreenshotType int

const (
	// ScreenshotViewport is the top-level viewport.
	ScreenshotViewport ScreenshotType = iota + 1
	// ScreenshotEntireFrame is the whole content of a frame.
	ScreenshotEntireFrame
)

func (t ScreenshotType) String() string {
	switch t {
	case ScreenshotViewport:
		return "viewport"
	case ScreenshotEntireFrame:
		return "entire_frame"
	}
	return "unknown"
}

// Screenshot is a captured image with the geometry of the browsing context
// it was taken in. It is immutable.
type Screenshot struct {
	img  image.Image
	typ  ScreenshotType
	tree *ContextTree
	ctx  *Context

	conv        geom.Converter
	frameSize   geom.RectangleSize
	frameWindow geom.Region
}

// ScreenshotOption overrides inferred screenshot geometry.
type ScreenshotOption func(*screenshotConfig)

type screenshotConfig struct {
	typ              ScreenshotType
	frameLocation    *geom.Location
	devicePixelRatio float64
}

// WithScreenshotType skips type inference.
func WithScreenshotType(t ScreenshotType) ScreenshotOption {
	return func(c *screenshotConfig) {
		c.typ = t
	}
}

// WithFrameLocationInScreenshot sets where the frame's visible window starts
// in the image instead of measuring it.
func WithFrameLocationInScreenshot(loc geom.Location) ScreenshotOption {
	return func(c *screenshotConfig) {
		c.frameLocation = &loc
	}
}

// WithImageDevicePixelRatio tells that the image is in device pixels.
func WithImageDevicePixelRatio(ratio float64) ScreenshotOption {
	return func(c *screenshotConfig) {
		c.devicePixelRatio = ratio
	}
}

// NewScreenshotFromFrameSize returns a screenshot of a whole frame of the
// given size drawn at the image origin, with no scroll.
func NewScreenshotFromFrameSize(img image.Image, size geom.RectangleSize) *Screenshot {
	return newScreenshotAt(img, size, geom.ZeroLocation)
}

func newScreenshotAt(img image.Image, size geom.RectangleSize, frameLocation geom.Location) *Screenshot {
	return &Screenshot{
		img:         img,
		typ:         ScreenshotEntireFrame,
		conv:        geom.Converter{FrameLocation: frameLocation},
		frameSize:   size,
		frameWindow: geom.NewRegionFrom(geom.ZeroLocation, size, geom.ScreenshotAsIs),
	}
}

// NewScreenshot binds img to the focused context of tree.
func NewScreenshot(ctx context.Context, tree *ContextTree, img image.Image, opts ...ScreenshotOption) (_ *Screenshot, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	cfg := &screenshotConfig{devicePixelRatio: 1}
	for _, opt := range opts {
		opt(cfg)
	}
	c := tree.Current()
	if c == nil {
		c = tree.Main()
		if err := c.Focus(ctx); err != nil {
			return nil, err
		}
	}
	s := &Screenshot{img: img, tree: tree, ctx: c, typ: cfg.typ}
	if s.typ == 0 {
		s.typ, err = inferScreenshotType(ctx, tree, c, img, cfg.devicePixelRatio)
		if err != nil {
			return nil, err
		}
	}

	scroll := c.InnerOffset(ctx)
	var origin geom.Location
	switch {
	case cfg.frameLocation != nil:
		origin = *cfg.frameLocation
	case c.IsMain():
	case s.typ == ScreenshotViewport:
		origin, err = c.LocationInViewport(ctx)
	default:
		origin, err = c.LocationInDocument(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to locate frame in screenshot: %w", err)
	}

	switch s.typ {
	case ScreenshotViewport:
		s.frameSize, err = c.EffectiveSize(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get frame size: %w", err)
		}
		s.conv = geom.Converter{ScrollPosition: scroll, FrameLocation: origin}
	case ScreenshotEntireFrame:
		s.frameSize, err = entireSizeOf(ctx, tree, c)
		if err != nil {
			return nil, err
		}
		// The AS_IS origin of an entire-frame image is the scrolled window.
		s.conv = geom.Converter{ScrollPosition: scroll, FrameLocation: origin.OffsetBy(scroll)}
	default:
		return nil, fmt.Errorf("unknown screenshot type: %d", s.typ)
	}

	window := geom.NewRegionFrom(origin, s.frameSize, geom.ScreenshotAsIs)
	window.Intersect(imageRegion(img))
	if window.IsSizeEmpty() {
		return nil, ErrEmptyFrameWindow
	}
	s.frameWindow = window
	tree.logger.Debug("created screenshot",
		slog.String("type", s.typ.String()),
		slog.String("context", c.String()),
		slog.String("frame_window", window.String()),
	)
	return s, nil
}

func inferScreenshotType(ctx context.Context, tree *ContextTree, c *Context, img image.Image, dpr float64) (ScreenshotType, error) {
	vp, err := tree.driver.ViewportSize(ctx)
	if err != nil {
		return 0, driver.WrapOperation("get viewport size", err)
	}
	vp = vp.Scale(dpr)
	b := img.Bounds()
	if b.Dx() <= vp.Width && b.Dy() <= vp.Height {
		return ScreenshotViewport, nil
	}
	info, err := tree.driver.Info(ctx)
	if err == nil && info.IsLegacyFirefox() && c.IsMain() {
		return ScreenshotViewport, nil
	}
	return ScreenshotEntireFrame, nil
}

func entireSizeOf(ctx context.Context, tree *ContextTree, c *Context) (geom.RectangleSize, error) {
	root, err := c.ScrollRoot(ctx)
	if err != nil {
		return geom.RectangleSize{}, err
	}
	if err := c.Focus(ctx); err != nil {
		return geom.RectangleSize{}, err
	}
	p := NewElementScrollPositionProvider(tree.driver, root, WithProviderLogger(tree.logger))
	return p.EntireSize(ctx)
}

// Image returns the captured image.
func (s *Screenshot) Image() image.Image {
	return s.img
}

func (s *Screenshot) Type() ScreenshotType {
	return s.typ
}

// FrameWindow returns the part of the image showing the frame, in
// screenshot coordinates.
func (s *Screenshot) FrameWindow() geom.Region {
	return s.frameWindow
}

// FrameSize returns the size of the frame the screenshot was taken for.
func (s *Screenshot) FrameSize() geom.RectangleSize {
	return s.frameSize
}

// Context returns the browsing context of the capture, or nil for screenshots
// built from a frame size.
func (s *Screenshot) Context() *Context {
	return s.ctx
}

func (s *Screenshot) bounds() geom.Region {
	return imageRegion(s.img)
}

func (s *Screenshot) ConvertLocation(loc geom.Location, from, to geom.CoordinatesType) (geom.Location, error) {
	return s.conv.ConvertLocation(loc, from, to)
}

func (s *Screenshot) ConvertRegionLocation(r geom.Region, from, to geom.CoordinatesType) (geom.Region, error) {
	return s.conv.ConvertRegionLocation(r, from, to)
}

// LocationInScreenshot converts loc to screenshot coordinates and fails with
// *OutOfBoundsError when it falls outside the frame window.
func (s *Screenshot) LocationInScreenshot(loc geom.Location, from geom.CoordinatesType) (_ geom.Location, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	got, err := s.conv.ConvertLocation(loc, from, geom.ScreenshotAsIs)
	if err != nil {
		return geom.ZeroLocation, err
	}
	if !s.frameWindow.Contains(got) {
		return geom.ZeroLocation, &OutOfBoundsError{
			Requested: geom.NewRegion(got.X, got.Y, 0, 0).WithCoordinatesType(geom.ScreenshotAsIs),
			Bounds:    s.frameWindow,
		}
	}
	return got, nil
}

// GetIntersectedRegion returns the visible part of r expressed in
// resultType. Context coordinates are clipped by the frame window, screenshot
// coordinates by the image. An empty intersection is returned as is.
func (s *Screenshot) GetIntersectedRegion(r geom.Region, resultType geom.CoordinatesType) (_ geom.Region, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	if r.IsSizeEmpty() {
		return r, nil
	}
	from := r.CoordinatesType
	inter, err := s.conv.ConvertRegionLocation(r, from, geom.ScreenshotAsIs)
	if err != nil {
		return geom.EmptyRegion, err
	}
	switch from {
	case geom.ContextAsIs, geom.ContextRelative:
		inter.Intersect(s.frameWindow)
	case geom.ScreenshotAsIs:
		inter.Intersect(s.bounds())
	default:
		return geom.EmptyRegion, &geom.CoordinatesTypeConversionError{From: from, To: resultType}
	}
	if inter.IsSizeEmpty() {
		return inter, nil
	}
	return s.conv.ConvertRegionLocation(inter, geom.ScreenshotAsIs, resultType)
}

// GetIntersectedRegionFromElement returns the visible part of el in
// screenshot coordinates. el must live in the screenshot's context.
func (s *Screenshot) GetIntersectedRegionFromElement(ctx context.Context, el driver.Element) (_ geom.Region, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	if s.ctx == nil {
		return geom.EmptyRegion, fmt.Errorf("screenshot has no browsing context")
	}
	if err := s.ctx.Focus(ctx); err != nil {
		return geom.EmptyRegion, err
	}
	r, err := elementRect(ctx, s.tree.driver, js.GetElementRect, el)
	if err != nil {
		return geom.EmptyRegion, fmt.Errorf("failed to get element rect: %w", err)
	}
	return s.GetIntersectedRegion(r, geom.ScreenshotAsIs)
}

// SubScreenshot crops the part of r inside the frame window out of the
// image. It fails with *OutOfBoundsError when nothing of r is inside the
// frame window, or when r is clipped and throwIfClipped is set.
func (s *Screenshot) SubScreenshot(r geom.Region, throwIfClipped bool) (_ *Screenshot, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	if r.IsSizeEmpty() {
		return nil, &OutOfBoundsError{Requested: r, Bounds: s.frameWindow}
	}
	inter, err := s.conv.ConvertRegionLocation(r, r.CoordinatesType, geom.ScreenshotAsIs)
	if err != nil {
		return nil, err
	}
	inter.Intersect(s.frameWindow)
	if inter.IsSizeEmpty() {
		return nil, &OutOfBoundsError{Requested: r, Bounds: s.frameWindow}
	}
	if throwIfClipped && inter.Size() != r.Size() {
		return nil, &OutOfBoundsError{Requested: r, Bounds: s.frameWindow, Clipped: true}
	}
	img := cropImage(s.img, inter)
	return newScreenshotAt(img, inter.Size(), inter.Location().Negate()), nil
}
