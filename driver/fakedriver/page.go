// Package fakedriver implements driver.Driver over an in-memory page model.
// Documents paint every content pixel with a function of its document
// coordinates, so captures can be checked pixel by pixel.
package fakedriver

import (
	"fmt"
	"image/color"
	"regexp"
	"strconv"

	"github.com/k1LoW/vrt/geom"
)

// PaintFunc returns the colour of the content pixel at document coordinates x, y.
type PaintFunc func(x, y int) color.RGBA

// Gradient paints x into red and y into green and blue, which keeps every
// pixel of a document up to 256x65536 distinct.
func Gradient(x, y int) color.RGBA {
	return color.RGBA{R: uint8(x), G: uint8(y), B: uint8(y >> 8), A: 0xff}
}

// Background is returned outside of any content.
var Background = color.RGBA{}

// Document is a scroll container: a browsing context's document or the
// inner box of a scrollable element.
type Document struct {
	ContentSize     geom.RectangleSize
	ClientSize      geom.RectangleSize
	Scroll          geom.Location
	Transform       string
	WebkitTransform string
	Overflow        string
	Paint           PaintFunc
	// Children are frames and scrollable elements painted over this document.
	Children []*Element
	Frames   []*Element
	Elements map[string]*Element
	Attrs    map[string]string

	root *Element
}

// Element is a DOM element of the fake page. Frames and scrollable elements
// have Content.
type Element struct {
	ID          string
	Name        string
	Rect        geom.Region
	ClientRect  geom.Region
	Content     *Document
	IsFrame     bool
	Detached    bool
	CrossOrigin bool
}

func (e *Element) ElementID() string {
	return e.ID
}

var idSeq int

func nextID(prefix string) string {
	idSeq++
	return prefix + "-" + strconv.Itoa(idSeq)
}

// NewDocument returns a document showing client of its content at a time.
func NewDocument(client, content geom.RectangleSize) *Document {
	return &Document{
		ContentSize: content,
		ClientSize:  client,
		Paint:       Gradient,
		Elements:    map[string]*Element{},
		Attrs:       map[string]string{},
	}
}

// Root returns the element standing for the document's scrolling element.
func (d *Document) Root() *Element {
	if d.root == nil {
		d.root = &Element{
			ID:         nextID("root"),
			Rect:       geom.NewRegionFrom(geom.ZeroLocation, d.ClientSize, geom.ContextRelative),
			ClientRect: geom.NewRegionFrom(geom.ZeroLocation, d.ClientSize, geom.ContextRelative),
			Content:    d,
		}
	}
	return d.root
}

// AddFrame adds a frame whose border box is rect (document coordinates) with
// the given border width, holding a document of the given content size.
func (d *Document) AddFrame(name string, rect geom.Region, border int, content geom.RectangleSize) *Element {
	client := geom.NewRegion(rect.Left+border, rect.Top+border, rect.Width-2*border, rect.Height-2*border)
	e := &Element{
		ID:         nextID("frame"),
		Name:       name,
		Rect:       rect.WithCoordinatesType(geom.ContextRelative),
		ClientRect: client.WithCoordinatesType(geom.ContextRelative),
		Content:    NewDocument(client.Size(), content),
		IsFrame:    true,
	}
	d.Children = append(d.Children, e)
	d.Frames = append(d.Frames, e)
	return e
}

// AddElement adds a plain element reachable by selector.
func (d *Document) AddElement(selector string, rect geom.Region) *Element {
	e := &Element{
		ID:         nextID("el"),
		Rect:       rect.WithCoordinatesType(geom.ContextRelative),
		ClientRect: rect.WithCoordinatesType(geom.ContextRelative),
	}
	d.Elements[selector] = e
	return e
}

// AddScrollableElement adds an element reachable by selector whose padding
// box rect scrolls over content.
func (d *Document) AddScrollableElement(selector string, rect geom.Region, content geom.RectangleSize) *Element {
	e := d.AddElement(selector, rect)
	e.Content = NewDocument(rect.Size(), content)
	d.Children = append(d.Children, e)
	return e
}

func (d *Document) maxScroll() geom.Location {
	return geom.NewLocation(
		max(d.ContentSize.Width-d.ClientSize.Width, 0),
		max(d.ContentSize.Height-d.ClientSize.Height, 0),
	)
}

// colorAt returns the colour seen at x, y of the document's visible window.
func (d *Document) colorAt(x, y int) color.RGBA {
	t := parseTranslate(d.Transform)
	p := geom.NewLocation(x, y).OffsetBy(d.Scroll).OffsetBy(t)
	for i := len(d.Children) - 1; i >= 0; i-- {
		c := d.Children[i]
		if c.Detached || c.Content == nil || !c.ClientRect.Contains(p) {
			continue
		}
		return c.Content.colorAt(p.X-c.ClientRect.Left, p.Y-c.ClientRect.Top)
	}
	if p.X < 0 || p.Y < 0 || p.X >= d.ContentSize.Width || p.Y >= d.ContentSize.Height {
		return Background
	}
	return d.Paint(p.X, p.Y)
}

var translateRe = regexp.MustCompile(`translate\(\s*(-?\d+)px\s*,\s*(-?\d+)px\s*\)`)

// parseTranslate returns how far content is shifted up and left.
func parseTranslate(transform string) geom.Location {
	m := translateRe.FindStringSubmatch(transform)
	if m == nil {
		return geom.ZeroLocation
	}
	x, _ := strconv.Atoi(m[1])
	y, _ := strconv.Atoi(m[2])
	return geom.NewLocation(-x, -y)
}

func (d *Document) String() string {
	return fmt.Sprintf("document(%v of %v at %v)", d.ClientSize, d.ContentSize, d.Scroll)
}
