package vrt

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/k1LoW/errors"
	"github.com/k1LoW/vrt/driver"
	"github.com/k1LoW/vrt/geom"
	"github.com/k1LoW/vrt/js"
)

// PositionMemento is a saved position of a scroll root.
type PositionMemento struct {
	Position geom.Location `json:"position"`
	// Transforms holds the inline transform styles; nil for scroll providers.
	Transforms map[string]string `json:"transforms,omitempty"`
}

// PositionProvider moves the content of a scroll root.
type PositionProvider interface {
	// CurrentPosition returns the content offset, or geom.ZeroLocation when it
	// cannot be read.
	CurrentPosition(ctx context.Context) geom.Location
	// SetPosition moves the content to loc and returns where it ended up.
	SetPosition(ctx context.Context, loc geom.Location) (geom.Location, error)
	// EntireSize returns the size of the scrollable content.
	EntireSize(ctx context.Context) (geom.RectangleSize, error)
	State(ctx context.Context) (*PositionMemento, error)
	RestoreState(ctx context.Context, m *PositionMemento) error
	// MarkScrollRootElement tags the scroll root so it can be found again.
	MarkScrollRootElement(ctx context.Context)
}

var (
	_ PositionProvider = (*ScrollPositionProvider)(nil)
	_ PositionProvider = (*CSSTranslatePositionProvider)(nil)
)

// ProviderOption configures a position provider.
type ProviderOption func(*providerBase)

// WithProviderLogger sets the logger for best-effort failures.
func WithProviderLogger(l *slog.Logger) ProviderOption {
	return func(p *providerBase) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithScrollRootMarker sets the value MarkScrollRootElement writes.
func WithScrollRootMarker(id string) ProviderOption {
	return func(p *providerBase) {
		p.marker = id
	}
}

type providerBase struct {
	d      driver.Driver
	root   driver.Element
	marker string
	logger *slog.Logger
}

func newProviderBase(d driver.Driver, root driver.Element, opts []ProviderOption) providerBase {
	p := providerBase{d: d, root: root, logger: discardLogger()}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// rootArg keeps a nil root an untyped nil script argument.
func (p *providerBase) rootArg() any {
	if p.root == nil {
		return nil
	}
	return p.root
}

func (p *providerBase) scrollPosition(ctx context.Context) (geom.Location, error) {
	var xy [2]int
	if err := p.d.ExecuteScript(ctx, js.GetScrollPosition, &xy, p.rootArg()); err != nil {
		return geom.ZeroLocation, err
	}
	return geom.NewLocation(xy[0], xy[1]), nil
}

func (p *providerBase) scrollTo(ctx context.Context, loc geom.Location) (geom.Location, error) {
	var xy [2]int
	if err := p.d.ExecuteScript(ctx, js.ScrollTo, &xy, p.rootArg(), loc.X, loc.Y); err != nil {
		return geom.ZeroLocation, err
	}
	return geom.NewLocation(xy[0], xy[1]), nil
}

func (p *providerBase) EntireSize(ctx context.Context) (geom.RectangleSize, error) {
	var wh [2]int
	if err := p.d.ExecuteScript(ctx, js.GetEntireSize, &wh, p.rootArg()); err != nil {
		return geom.RectangleSize{}, errors.WithStack(driver.WrapOperation("get entire size", err))
	}
	return geom.NewRectangleSize(wh[0], wh[1]), nil
}

func (p *providerBase) MarkScrollRootElement(ctx context.Context) {
	if p.marker == "" {
		return
	}
	if err := p.d.ExecuteScript(ctx, js.MarkScrollRoot, nil, p.rootArg(), p.marker); err != nil {
		p.logger.Debug("failed to mark scroll root element", slog.String("error", err.Error()))
	}
}

// ScrollPositionProvider moves content by scrolling.
type ScrollPositionProvider struct {
	providerBase
}

// NewScrollPositionProvider scrolls the document of the focused context.
func NewScrollPositionProvider(d driver.Driver, opts ...ProviderOption) *ScrollPositionProvider {
	return &ScrollPositionProvider{providerBase: newProviderBase(d, nil, opts)}
}

// NewElementScrollPositionProvider scrolls root.
func NewElementScrollPositionProvider(d driver.Driver, root driver.Element, opts ...ProviderOption) *ScrollPositionProvider {
	return &ScrollPositionProvider{providerBase: newProviderBase(d, root, opts)}
}

func (p *ScrollPositionProvider) CurrentPosition(ctx context.Context) geom.Location {
	loc, err := p.scrollPosition(ctx)
	if err != nil {
		p.logger.Warn("failed to get current position", slog.String("error", err.Error()))
		return geom.ZeroLocation
	}
	return loc
}

func (p *ScrollPositionProvider) SetPosition(ctx context.Context, loc geom.Location) (_ geom.Location, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	got, err := p.scrollTo(ctx, loc)
	if err != nil {
		return geom.ZeroLocation, fmt.Errorf("failed to scroll to %v: %w", loc, err)
	}
	p.logger.Debug("moved position", slog.String("requested", loc.String()), slog.String("position", got.String()))
	return got, nil
}

func (p *ScrollPositionProvider) State(ctx context.Context) (*PositionMemento, error) {
	return &PositionMemento{Position: p.CurrentPosition(ctx)}, nil
}

func (p *ScrollPositionProvider) RestoreState(ctx context.Context, m *PositionMemento) (err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	if m == nil {
		return nil
	}
	if _, err := p.scrollTo(ctx, m.Position); err != nil {
		return fmt.Errorf("failed to restore position %v: %w", m.Position, err)
	}
	p.logger.Debug("restored position", slog.String("position", m.Position.String()))
	return nil
}

// CSSTranslatePositionProvider moves content with a CSS translate transform,
// on top of the scroll offset, for pages whose scrolling triggers layout changes.
type CSSTranslatePositionProvider struct {
	providerBase
}

// NewCSSTranslatePositionProvider translates the document of the focused context.
func NewCSSTranslatePositionProvider(d driver.Driver, opts ...ProviderOption) *CSSTranslatePositionProvider {
	return &CSSTranslatePositionProvider{providerBase: newProviderBase(d, nil, opts)}
}

// NewElementCSSTranslatePositionProvider translates root.
func NewElementCSSTranslatePositionProvider(d driver.Driver, root driver.Element, opts ...ProviderOption) *CSSTranslatePositionProvider {
	return &CSSTranslatePositionProvider{providerBase: newProviderBase(d, root, opts)}
}

func (p *CSSTranslatePositionProvider) transforms(ctx context.Context) (map[string]string, error) {
	t := map[string]string{}
	if err := p.d.ExecuteScript(ctx, js.GetTransforms, &t, p.rootArg()); err != nil {
		return nil, err
	}
	return t, nil
}

func (p *CSSTranslatePositionProvider) CurrentPosition(ctx context.Context) geom.Location {
	scroll, err := p.scrollPosition(ctx)
	if err != nil {
		p.logger.Warn("failed to get scroll position", slog.String("error", err.Error()))
		scroll = geom.ZeroLocation
	}
	t, err := p.transforms(ctx)
	if err != nil {
		p.logger.Warn("failed to get transforms", slog.String("error", err.Error()))
		return scroll
	}
	return scroll.OffsetBy(translateOffset(t))
}

func (p *CSSTranslatePositionProvider) SetPosition(ctx context.Context, loc geom.Location) (_ geom.Location, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	if _, err := p.scrollTo(ctx, geom.ZeroLocation); err != nil {
		return geom.ZeroLocation, fmt.Errorf("failed to reset scroll position: %w", err)
	}
	v := fmt.Sprintf("translate(%dpx, %dpx)", -loc.X, -loc.Y)
	t := map[string]string{"transform": v, "webkitTransform": v}
	if err := p.d.ExecuteScript(ctx, js.SetTransforms, nil, p.rootArg(), t); err != nil {
		return geom.ZeroLocation, fmt.Errorf("failed to translate to %v: %w", loc, err)
	}
	got := p.CurrentPosition(ctx)
	p.logger.Debug("moved position", slog.String("requested", loc.String()), slog.String("position", got.String()))
	return got, nil
}

func (p *CSSTranslatePositionProvider) State(ctx context.Context) (_ *PositionMemento, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	scroll, err := p.scrollPosition(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get scroll position: %w", err)
	}
	t, err := p.transforms(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get transforms: %w", err)
	}
	return &PositionMemento{Position: scroll, Transforms: t}, nil
}

func (p *CSSTranslatePositionProvider) RestoreState(ctx context.Context, m *PositionMemento) (err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	if m == nil {
		return nil
	}
	t := m.Transforms
	if t == nil {
		t = map[string]string{"transform": "", "webkitTransform": ""}
	}
	if err := p.d.ExecuteScript(ctx, js.SetTransforms, nil, p.rootArg(), t); err != nil {
		return fmt.Errorf("failed to restore transforms: %w", err)
	}
	if _, err := p.scrollTo(ctx, m.Position); err != nil {
		return fmt.Errorf("failed to restore position %v: %w", m.Position, err)
	}
	p.logger.Debug("restored position", slog.String("position", m.Position.String()))
	return nil
}

var (
	translateRe = regexp.MustCompile(`translate\(\s*(-?[\d.]+)px\s*(?:,\s*(-?[\d.]+)px\s*)?\)`)
	matrixRe    = regexp.MustCompile(`matrix\(([^)]*)\)`)
)

// translateOffset returns how far the transforms move content up and left,
// read from the standard property and then the webkit one.
func translateOffset(t map[string]string) geom.Location {
	for _, k := range []string{"transform", "webkitTransform"} {
		if loc, ok := parseTranslate(t[k]); ok {
			return loc
		}
	}
	return geom.ZeroLocation
}

func parseTranslate(v string) (geom.Location, bool) {
	v = strings.TrimSpace(v)
	if v == "" || v == "none" {
		return geom.ZeroLocation, false
	}
	if m := translateRe.FindStringSubmatch(v); m != nil {
		x := parsePx(m[1])
		y := 0
		if m[2] != "" {
			y = parsePx(m[2])
		}
		return geom.NewLocation(-x, -y), true
	}
	if m := matrixRe.FindStringSubmatch(v); m != nil {
		parts := strings.Split(m[1], ",")
		if len(parts) == 6 {
			return geom.NewLocation(-parsePx(parts[4]), -parsePx(parts[5])), true
		}
	}
	return geom.ZeroLocation, false
}

func parsePx(s string) int {
	f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "px"), 64)
	if err != nil {
		return 0
	}
	if f < 0 {
		return -int(-f + 0.5)
	}
	return int(f + 0.5)
}

// queryInnerOffset returns the scroll plus translate offset of root in the
// focused context.
func queryInnerOffset(ctx context.Context, d driver.Driver, root driver.Element, logger *slog.Logger) geom.Location {
	p := &CSSTranslatePositionProvider{providerBase: providerBase{d: d, root: root, logger: logger}}
	return p.CurrentPosition(ctx)
}

// ScrollbarHider hides the scrollbars of a scroll root while capturing.
type ScrollbarHider struct {
	d      driver.Driver
	root   driver.Element
	logger *slog.Logger
	prev   *string
}

func NewScrollbarHider(d driver.Driver, root driver.Element, logger *slog.Logger) *ScrollbarHider {
	if logger == nil {
		logger = discardLogger()
	}
	return &ScrollbarHider{d: d, root: root, logger: logger}
}

func (h *ScrollbarHider) rootArg() any {
	if h.root == nil {
		return nil
	}
	return h.root
}

// Hide sets overflow to hidden, remembering the previous value. Failures are logged.
func (h *ScrollbarHider) Hide(ctx context.Context) {
	var prev string
	if err := h.d.ExecuteScript(ctx, js.SetOverflow, &prev, h.rootArg(), "hidden"); err != nil {
		h.logger.Warn("failed to hide scrollbars", slog.String("error", err.Error()))
		return
	}
	h.prev = &prev
}

// Restore puts back the overflow value seen by Hide.
func (h *ScrollbarHider) Restore(ctx context.Context) {
	if h.prev == nil {
		return
	}
	if err := h.d.ExecuteScript(ctx, js.SetOverflow, nil, h.rootArg(), *h.prev); err != nil {
		h.logger.Warn("failed to restore scrollbars", slog.String("error", err.Error()))
		return
	}
	h.prev = nil
}
