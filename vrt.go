// Package vrt captures screenshots of web pages for visual regression
// testing: viewports, elements and regions, inside nested frames, and whole
// pages stitched from viewport-sized tiles.
package vrt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/k1LoW/errors"
	"github.com/k1LoW/vrt/driver"
	"github.com/k1LoW/vrt/geom"
	"github.com/k1LoW/vrt/js"
	"github.com/nfnt/resize"
)

const (
	DefaultStitchOverlap         = 50
	DefaultWaitBeforeScreenshots = 100 * time.Millisecond
	defaultViewportAttempts      = 3
	defaultViewportRetryInterval = 500 * time.Millisecond
)

// Session captures screenshots through one driver. It is not safe for
// concurrent use; use one session per browser tab.
type Session struct {
	driver driver.Driver
	tree   *ContextTree
	logger *slog.Logger
	config captureConfig
	// marker tags scroll roots touched by this session.
	marker string

	viewportAttempts      int
	viewportRetryInterval time.Duration
}

type captureConfig struct {
	stitchMode     StitchMode
	stitchOverlap  int
	wait           time.Duration
	hideScrollbars bool
	cut            CutProvider
	scale          ScaleProviderFactory
	imageProvider  ImageProvider
	interpolation  resize.InterpolationFunction
}

type Option func(*Session) error

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// WithStitchMode sets how content is moved between tiles.
func WithStitchMode(m StitchMode) Option {
	return func(s *Session) error {
		s.config.stitchMode = m
		return nil
	}
}

// WithStitchOverlap sets how many pixels consecutive tiles share.
func WithStitchOverlap(px int) Option {
	return func(s *Session) error {
		if px < 0 {
			return fmt.Errorf("stitch overlap must not be negative")
		}
		s.config.stitchOverlap = px
		return nil
	}
}

// WithWaitBeforeScreenshots sets the pause between moving and capturing.
func WithWaitBeforeScreenshots(d time.Duration) Option {
	return func(s *Session) error {
		s.config.wait = d
		return nil
	}
}

func WithHideScrollbars(enable bool) Option {
	return func(s *Session) error {
		s.config.hideScrollbars = enable
		return nil
	}
}

func WithCutProvider(c CutProvider) Option {
	return func(s *Session) error {
		s.config.cut = c
		return nil
	}
}

// WithScaleRatio scales every capture by ratio instead of detecting the
// device pixel ratio.
func WithScaleRatio(ratio float64) Option {
	return func(s *Session) error {
		if ratio <= 0 {
			return fmt.Errorf("scale ratio must be positive")
		}
		s.config.scale = FixedScaleProvider{Ratio: ratio}
		return nil
	}
}

// WithImageProvider replaces the driver's screenshot command.
func WithImageProvider(p ImageProvider) Option {
	return func(s *Session) error {
		s.config.imageProvider = p
		return nil
	}
}

// WithInterpolation sets the resampling used when scaling captures.
func WithInterpolation(f resize.InterpolationFunction) Option {
	return func(s *Session) error {
		s.config.interpolation = f
		return nil
	}
}

// WithViewportRetry sets how often SetViewportSize tries before giving up.
func WithViewportRetry(attempts int, interval time.Duration) Option {
	return func(s *Session) error {
		if attempts < 1 {
			return fmt.Errorf("viewport retry attempts must be positive")
		}
		s.viewportAttempts = attempts
		s.viewportRetryInterval = interval
		return nil
	}
}

// New returns a session over d.
func New(d driver.Driver, opts ...Option) (_ *Session, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	s := &Session{
		driver: d,
		logger: discardLogger(),
		config: captureConfig{
			stitchMode:    StitchModeScroll,
			stitchOverlap: DefaultStitchOverlap,
			wait:          DefaultWaitBeforeScreenshots,
			cut:           NullCutProvider{},
			interpolation: resize.Bilinear,
		},
		marker:                uuid.NewString(),
		viewportAttempts:      defaultViewportAttempts,
		viewportRetryInterval: defaultViewportRetryInterval,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.config.imageProvider == nil {
		s.config.imageProvider = NewDriverImageProvider(d)
	}
	s.tree = NewContextTree(d, s.logger)
	return s, nil
}

// Tree returns the session's context tree.
func (s *Session) Tree() *ContextTree {
	return s.tree
}

// Reset forgets every frame, to be called after a top-level navigation.
func (s *Session) Reset() {
	s.tree.Reset()
}

// DevicePixelRatio returns the page's device pixel ratio, or 1 when it
// cannot be read.
func (s *Session) DevicePixelRatio(ctx context.Context) float64 {
	var dpr float64
	if err := s.driver.ExecuteScript(ctx, js.GetDevicePixelRatio, &dpr); err != nil || dpr <= 0 {
		if err != nil {
			s.logger.Debug("failed to get device pixel ratio", slog.String("error", err.Error()))
		}
		return 1
	}
	return dpr
}

func (s *Session) providerOptions() []ProviderOption {
	return []ProviderOption{WithProviderLogger(s.logger), WithScrollRootMarker(s.marker)}
}

func (s *Session) positionProvider(mode StitchMode, root driver.Element) PositionProvider {
	if mode == StitchModeCSS {
		return NewElementCSSTranslatePositionProvider(s.driver, root, s.providerOptions()...)
	}
	return NewElementScrollPositionProvider(s.driver, root, s.providerOptions()...)
}

// topLevelEntireSize returns the main document's content size, falling back
// to the viewport.
func (s *Session) topLevelEntireSize(ctx context.Context, viewport geom.RectangleSize) geom.RectangleSize {
	cur := s.tree.Current()
	if cur == nil || !cur.IsMain() {
		return viewport
	}
	size, err := NewScrollPositionProvider(s.driver, WithProviderLogger(s.logger)).EntireSize(ctx)
	if err != nil {
		s.logger.Debug("failed to get top-level entire size", slog.String("error", err.Error()))
		return viewport
	}
	return size
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
