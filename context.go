package vrt

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/k1LoW/errors"
	"github.com/k1LoW/vrt/driver"
	"github.com/k1LoW/vrt/geom"
	"github.com/k1LoW/vrt/js"
)

type frameRefKind int

const (
	frameRefIndex frameRefKind = iota
	frameRefName
	frameRefSelector
	frameRefElement
)

// FrameRef identifies a frame inside its parent browsing context.
type FrameRef struct {
	kind    frameRefKind
	index   int
	name    string
	element driver.Element
}

// FrameByIndex refers to the i-th frame element of the parent document.
func FrameByIndex(i int) FrameRef {
	return FrameRef{kind: frameRefIndex, index: i}
}

// FrameByName refers to a frame by its name or id attribute, falling back to
// nameOrSelector as a CSS selector.
func FrameByName(nameOrSelector string) FrameRef {
	return FrameRef{kind: frameRefName, name: nameOrSelector}
}

// FrameBySelector refers to the first frame element matching selector.
func FrameBySelector(selector string) FrameRef {
	return FrameRef{kind: frameRefSelector, name: selector}
}

// FrameByElement refers to a frame by its element handle.
func FrameByElement(el driver.Element) FrameRef {
	return FrameRef{kind: frameRefElement, element: el}
}

// ParseFrameRef returns an index reference for integers and a name reference otherwise.
func ParseFrameRef(s string) FrameRef {
	if i, err := strconv.Atoi(s); err == nil && i >= 0 {
		return FrameByIndex(i)
	}
	return FrameByName(s)
}

func (r FrameRef) key() string {
	switch r.kind {
	case frameRefIndex:
		return "i:" + strconv.Itoa(r.index)
	case frameRefName:
		return "n:" + r.name
	case frameRefSelector:
		return "s:" + r.name
	case frameRefElement:
		if r.element == nil {
			return "e:"
		}
		return "e:" + r.element.ElementID()
	}
	return ""
}

func (r FrameRef) String() string {
	switch r.kind {
	case frameRefIndex:
		return fmt.Sprintf("frame[%d]", r.index)
	case frameRefName:
		return fmt.Sprintf("frame(%q)", r.name)
	case frameRefSelector:
		return fmt.Sprintf("frame(selector %q)", r.name)
	case frameRefElement:
		if r.element == nil {
			return "frame(<nil>)"
		}
		return fmt.Sprintf("frame(element %s)", r.element.ElementID())
	}
	return "frame(?)"
}

type contextState int

const (
	contextUnresolved contextState = iota
	contextResolved
	contextStale
)

func (s contextState) String() string {
	switch s {
	case contextUnresolved:
		return "unresolved"
	case contextResolved:
		return "resolved"
	case contextStale:
		return "stale"
	}
	return "unknown"
}

// Context is a browsing context: the main document or a frame reachable from
// it through a path of frame references.
type Context struct {
	tree   *ContextTree
	parent *Context
	ref    FrameRef
	key    string
	depth  int

	state   contextState
	element driver.Element

	// Measured in the parent's document coordinates before entering.
	rect       *geom.Region
	clientRect *geom.Region
	// Scroll and translate offset of this context's scroll root, valid for the
	// last time the context was focused.
	innerOffset *geom.Location

	scrollRootSelector string
	scrollRoot         driver.Element
	scrollRootResolved bool
}

// ContextTree tracks the browsing contexts visited through one driver and
// which of them is focused.
type ContextTree struct {
	driver  driver.Driver
	logger  *slog.Logger
	main    *Context
	nodes   map[string]*Context
	current *Context
}

// NewContextTree returns a tree whose focus is the main context.
func NewContextTree(d driver.Driver, logger *slog.Logger) *ContextTree {
	if logger == nil {
		logger = discardLogger()
	}
	t := &ContextTree{
		driver: d,
		logger: logger,
		nodes:  map[string]*Context{},
	}
	t.main = &Context{tree: t, state: contextResolved}
	t.nodes[""] = t.main
	t.current = t.main
	return t
}

// Driver returns the driver the tree switches with.
func (t *ContextTree) Driver() driver.Driver {
	return t.driver
}

// Main returns the top-level context.
func (t *ContextTree) Main() *Context {
	return t.main
}

// Current returns the focused context, or nil when the focus is unknown.
func (t *ContextTree) Current() *Context {
	return t.current
}

// Reset drops every frame node and cache, as after a top-level navigation.
// The focus becomes unknown so the next switch goes through main.
func (t *ContextTree) Reset() {
	t.main = &Context{tree: t, state: contextResolved, scrollRootSelector: t.main.scrollRootSelector}
	t.nodes = map[string]*Context{"": t.main}
	t.current = nil
}

// Child returns the node for ref under c. Nodes are created on first use
// and shared afterwards.
func (c *Context) Child(ref FrameRef) *Context {
	key := c.key + "/" + ref.key()
	if n, ok := c.tree.nodes[key]; ok {
		return n
	}
	n := &Context{
		tree:   c.tree,
		parent: c,
		ref:    ref,
		key:    key,
		depth:  c.depth + 1,
	}
	c.tree.nodes[key] = n
	return n
}

// Parent returns the parent context, or nil for main.
func (c *Context) Parent() *Context {
	return c.parent
}

func (c *Context) IsMain() bool {
	return c.parent == nil
}

// Depth returns the number of frames between main and c.
func (c *Context) Depth() int {
	return c.depth
}

// Ref returns the reference c was reached with.
func (c *Context) Ref() FrameRef {
	return c.ref
}

// Element returns the frame element, or nil when unresolved or main.
func (c *Context) Element() driver.Element {
	return c.element
}

// Path returns the contexts from main down to c.
func (c *Context) Path() []*Context {
	path := make([]*Context, c.depth+1)
	for n := c; n != nil; n = n.parent {
		path[n.depth] = n
	}
	return path
}

func (c *Context) String() string {
	if c.IsMain() {
		return "main"
	}
	parts := make([]string, 0, c.depth)
	for _, n := range c.Path()[1:] {
		parts = append(parts, n.ref.String())
	}
	return strings.Join(parts, " > ")
}

// Init resolves the frame element in the parent context. It is a no-op for
// resolved nodes. The parent is focused as a side effect.
func (c *Context) Init(ctx context.Context) (err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	if c.state == contextResolved {
		return nil
	}
	if err := c.tree.SwitchTo(ctx, c.parent); err != nil {
		return err
	}
	d := c.tree.driver
	var el driver.Element
	switch c.ref.kind {
	case frameRefIndex:
		els, err := d.FindElements(ctx, js.FrameSelector)
		if err != nil {
			return fmt.Errorf("failed to find frames: %w", err)
		}
		if c.ref.index >= 0 && c.ref.index < len(els) {
			el = els[c.ref.index]
		}
	case frameRefName:
		els, err := d.FindElements(ctx, js.NameOrIDSelector(c.ref.name))
		if err != nil {
			return fmt.Errorf("failed to find frames named %q: %w", c.ref.name, err)
		}
		if len(els) > 0 {
			el = els[0]
			break
		}
		fallthrough
	case frameRefSelector:
		found, err := d.FindElement(ctx, c.ref.name)
		if err != nil && !isNoSuchElement(err) {
			return fmt.Errorf("failed to find frame %s: %w", c.ref, err)
		}
		el = found
	case frameRefElement:
		el = c.ref.element
	}
	if el == nil {
		return fmt.Errorf("failed to resolve %s: %w", c.ref, driver.ErrNoSuchElement)
	}
	c.element = el
	c.state = contextResolved
	c.tree.logger.Debug("resolved frame", slog.String("context", c.String()), slog.String("element", el.ElementID()))
	return nil
}

// markStale forgets everything learned about the frame element.
func (c *Context) markStale() {
	c.state = contextStale
	c.element = nil
	c.rect = nil
	c.clientRect = nil
	c.innerOffset = nil
	c.scrollRoot = nil
	c.scrollRootResolved = false
	// Frames below hold handles into the stale document.
	for _, n := range c.tree.nodes {
		if n != c && n.isBelow(c) {
			n.markStale()
		}
	}
}

func (c *Context) isBelow(a *Context) bool {
	for n := c.parent; n != nil; n = n.parent {
		if n == a {
			return true
		}
	}
	return false
}

// Focus makes c the driver's current context.
func (c *Context) Focus(ctx context.Context) error {
	return c.tree.SwitchTo(ctx, c)
}

// SwitchTo focuses target with the fewest driver context switches: moving up
// to the common ancestor and down again, or resetting through main.
func (t *ContextTree) SwitchTo(ctx context.Context, target *Context) (err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	if target.tree != t {
		return fmt.Errorf("context belongs to another tree")
	}
	if t.current == target {
		return nil
	}
	to := target.Path()
	if t.current == nil {
		return t.resetTo(ctx, to)
	}
	from := t.current.Path()
	k := 0
	for k < len(from) && k < len(to) && from[k] == to[k] {
		k++
	}
	ascend := len(from) - k
	descend := len(to) - k
	// A reset costs one switch to main plus one per frame below it.
	if len(to) < ascend+descend {
		return t.resetTo(ctx, to)
	}
	for range ascend {
		if err := t.driver.SwitchToParentContext(ctx); err != nil {
			return fmt.Errorf("failed to switch to parent of %s: %w", t.current, err)
		}
		t.current = t.current.parent
	}
	for _, n := range to[k:] {
		if err := t.enter(ctx, n); err != nil {
			return err
		}
	}
	t.logger.Debug("switched context", slog.String("context", target.String()), slog.Int("up", ascend), slog.Int("down", descend))
	return nil
}

func (t *ContextTree) resetTo(ctx context.Context, to []*Context) error {
	if err := t.driver.SwitchToMainContext(ctx); err != nil {
		return fmt.Errorf("failed to switch to main context: %w", err)
	}
	t.current = t.main
	for _, n := range to[1:] {
		if err := t.enter(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// enter descends from the focused parent into n, re-resolving n once when
// its element went stale.
func (t *ContextTree) enter(ctx context.Context, n *Context) error {
	err := t.descend(ctx, n)
	if !isStale(err) {
		return err
	}
	t.logger.Info("frame element went stale, resolving again", slog.String("context", n.String()))
	n.markStale()
	if t.current != n.parent {
		if err := t.SwitchTo(ctx, n.parent); err != nil {
			return err
		}
	}
	return t.descend(ctx, n)
}

func (t *ContextTree) descend(ctx context.Context, n *Context) error {
	p := n.parent
	if err := n.Init(ctx); err != nil {
		return err
	}
	off := queryInnerOffset(ctx, t.driver, p.scrollRootOrNil(), t.logger)
	p.innerOffset = &off
	rect, err := elementRect(ctx, t.driver, js.GetElementRect, n.element)
	if err != nil {
		return fmt.Errorf("failed to get rect of %s: %w", n, err)
	}
	client, err := elementRect(ctx, t.driver, js.GetElementClientRect, n.element)
	if err != nil {
		return fmt.Errorf("failed to get client rect of %s: %w", n, err)
	}
	n.rect = &rect
	n.clientRect = &client
	if err := t.driver.SwitchToChildContext(ctx, n.element); err != nil {
		return fmt.Errorf("failed to switch to %s: %w", n, err)
	}
	t.current = n
	return nil
}

func elementRect(ctx context.Context, d driver.Driver, script string, el driver.Element) (geom.Region, error) {
	var r [4]int
	if err := d.ExecuteScript(ctx, script, &r, el); err != nil {
		return geom.EmptyRegion, err
	}
	return geom.NewRegion(r[0], r[1], r[2], r[3]).WithCoordinatesType(geom.ContextRelative), nil
}

// Rect returns the border box of the frame element in the parent's document
// coordinates. Main has no rect.
func (c *Context) Rect(ctx context.Context) (geom.Region, error) {
	if c.IsMain() {
		return geom.EmptyRegion, nil
	}
	if err := c.ensureMeasured(ctx); err != nil {
		return geom.EmptyRegion, err
	}
	return *c.rect, nil
}

// ClientRect returns the content box of the frame element in the parent's
// document coordinates. For main it is the viewport.
func (c *Context) ClientRect(ctx context.Context) (geom.Region, error) {
	if c.IsMain() {
		vp, err := c.tree.driver.ViewportSize(ctx)
		if err != nil {
			return geom.EmptyRegion, driver.WrapOperation("get viewport size", err)
		}
		return geom.NewRegionFrom(geom.ZeroLocation, vp, geom.ContextAsIs), nil
	}
	if err := c.ensureMeasured(ctx); err != nil {
		return geom.EmptyRegion, err
	}
	return *c.clientRect, nil
}

// ensureMeasured focuses c when its rects were never measured.
func (c *Context) ensureMeasured(ctx context.Context) error {
	if c.rect != nil && c.clientRect != nil {
		return nil
	}
	return c.Focus(ctx)
}

// ClientSize returns the size of the visible window of c's document.
func (c *Context) ClientSize(ctx context.Context) (geom.RectangleSize, error) {
	r, err := c.ClientRect(ctx)
	if err != nil {
		return geom.RectangleSize{}, err
	}
	return r.Size(), nil
}

// InnerOffset returns how far c's content is moved by scrolling and
// translation. It is queried live when c is focused and cached otherwise.
func (c *Context) InnerOffset(ctx context.Context) geom.Location {
	if c.tree.current == c {
		off := queryInnerOffset(ctx, c.tree.driver, c.scrollRootOrNil(), c.tree.logger)
		c.innerOffset = &off
		return off
	}
	if c.innerOffset != nil {
		return *c.innerOffset
	}
	return geom.ZeroLocation
}

// LocationInViewport returns where c's visible window starts in the
// top-level viewport.
func (c *Context) LocationInViewport(ctx context.Context) (geom.Location, error) {
	loc := geom.ZeroLocation
	for n := c; !n.IsMain(); n = n.parent {
		r, err := n.ClientRect(ctx)
		if err != nil {
			return geom.ZeroLocation, err
		}
		loc = loc.OffsetBy(r.Location()).OffsetNegative(n.parent.InnerOffset(ctx))
	}
	return loc, nil
}

// LocationInDocument returns where c's visible window starts in the main
// document when no ancestor is scrolled.
func (c *Context) LocationInDocument(ctx context.Context) (geom.Location, error) {
	loc := geom.ZeroLocation
	for n := c; !n.IsMain(); n = n.parent {
		r, err := n.ClientRect(ctx)
		if err != nil {
			return geom.ZeroLocation, err
		}
		loc = loc.OffsetBy(r.Location())
	}
	return loc, nil
}

// EffectiveSize returns c's client size clipped by every ancestor's client
// size, the viewport included.
func (c *Context) EffectiveSize(ctx context.Context) (geom.RectangleSize, error) {
	size, err := c.ClientSize(ctx)
	if err != nil {
		return geom.RectangleSize{}, err
	}
	for n := c.parent; n != nil; n = n.parent {
		s, err := n.ClientSize(ctx)
		if err != nil {
			return geom.RectangleSize{}, err
		}
		size = size.Min(s)
	}
	return size, nil
}

// SetScrollRootSelector makes the element matching selector the scroll root
// of c instead of the document's scrolling element.
func (c *Context) SetScrollRootSelector(selector string) {
	if c.scrollRootSelector == selector {
		return
	}
	c.scrollRootSelector = selector
	c.scrollRoot = nil
	c.scrollRootResolved = false
}

// ScrollRoot returns the element scrolled to move c's content. A nil element
// stands for the document's scrolling element. c is focused as a side effect.
func (c *Context) ScrollRoot(ctx context.Context) (_ driver.Element, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	if c.scrollRootResolved {
		return c.scrollRoot, nil
	}
	if c.scrollRootSelector != "" {
		if err := c.Focus(ctx); err != nil {
			return nil, err
		}
		el, err := c.tree.driver.FindElement(ctx, c.scrollRootSelector)
		if err != nil {
			return nil, fmt.Errorf("failed to find scroll root %q: %w", c.scrollRootSelector, err)
		}
		c.scrollRoot = el
	}
	c.scrollRootResolved = true
	return c.scrollRoot, nil
}

func (c *Context) scrollRootOrNil() driver.Element {
	if c.scrollRootResolved {
		return c.scrollRoot
	}
	return nil
}

// ExecuteScript focuses c and runs script there.
func (c *Context) ExecuteScript(ctx context.Context, script string, res any, args ...any) error {
	if err := c.Focus(ctx); err != nil {
		return err
	}
	return c.tree.driver.ExecuteScript(ctx, script, res, args...)
}
