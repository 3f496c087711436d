package geom

import "fmt"

// minSubRegionStep is the smallest distance between consecutive sub regions.
const minSubRegionStep = 10

// Region is a rectangle tagged with the coordinate space it is expressed in.
// Right and Bottom are exclusive.
type Region struct {
	Left            int             `json:"left"`
	Top             int             `json:"top"`
	Width           int             `json:"width"`
	Height          int             `json:"height"`
	CoordinatesType CoordinatesType `json:"coordinatesType,omitempty"`
}

// EmptyRegion is the zero-size region at the origin.
var EmptyRegion = Region{}

func NewRegion(left, top, width, height int) Region {
	return Region{Left: left, Top: top, Width: width, Height: height}
}

func NewRegionFrom(loc Location, size RectangleSize, ct CoordinatesType) Region {
	return Region{Left: loc.X, Top: loc.Y, Width: size.Width, Height: size.Height, CoordinatesType: ct}
}

func (r Region) Location() Location {
	return Location{X: r.Left, Y: r.Top}
}

func (r Region) Size() RectangleSize {
	return RectangleSize{Width: r.Width, Height: r.Height}
}

func (r Region) Right() int {
	return r.Left + r.Width
}

func (r Region) Bottom() int {
	return r.Top + r.Height
}

// IsSizeEmpty reports whether width or height is not positive.
func (r Region) IsSizeEmpty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// IsEmpty reports whether r is the empty region at the origin.
func (r Region) IsEmpty() bool {
	return r.IsSizeEmpty() && r.Left == 0 && r.Top == 0
}

// WithCoordinatesType returns a copy of r tagged ct.
func (r Region) WithCoordinatesType(ct CoordinatesType) Region {
	r.CoordinatesType = ct
	return r
}

// WithLocation returns a copy of r moved to loc.
func (r Region) WithLocation(loc Location) Region {
	r.Left, r.Top = loc.X, loc.Y
	return r
}

// Offset returns a copy of r moved by dx, dy.
func (r Region) Offset(dx, dy int) Region {
	r.Left += dx
	r.Top += dy
	return r
}

// Scale returns a copy of r with every component multiplied by ratio, rounding up.
func (r Region) Scale(ratio float64) Region {
	return Region{
		Left:            scaleInt(r.Left, ratio),
		Top:             scaleInt(r.Top, ratio),
		Width:           scaleInt(r.Width, ratio),
		Height:          scaleInt(r.Height, ratio),
		CoordinatesType: r.CoordinatesType,
	}
}

func (r Region) isIntersected(o Region) bool {
	if r.IsSizeEmpty() || o.IsSizeEmpty() {
		return false
	}
	return r.Left < o.Right() && o.Left < r.Right() && r.Top < o.Bottom() && o.Top < r.Bottom()
}

// Intersect replaces r with its overlap with o. When the two do not overlap r
// becomes the empty region at 0,0. The coordinates type of r is kept.
func (r *Region) Intersect(o Region) {
	if !r.isIntersected(o) {
		*r = Region{CoordinatesType: r.CoordinatesType}
		return
	}
	left := max(r.Left, o.Left)
	top := max(r.Top, o.Top)
	right := min(r.Right(), o.Right())
	bottom := min(r.Bottom(), o.Bottom())
	r.Left, r.Top, r.Width, r.Height = left, top, right-left, bottom-top
}

// Intersection returns the overlap of r and o without modifying r.
func (r Region) Intersection(o Region) Region {
	r.Intersect(o)
	return r
}

// Contains reports whether loc lies inside r. The location must already be
// expressed in the coordinate space of r.
func (r Region) Contains(loc Location) bool {
	return loc.X >= r.Left && loc.X < r.Right() && loc.Y >= r.Top && loc.Y < r.Bottom()
}

// ContainsRegion reports whether o lies entirely inside r. It panics when
// both regions carry a coordinates type and the types differ.
func (r Region) ContainsRegion(o Region) bool {
	assertSameSpace(r, o)
	return o.Left >= r.Left && o.Top >= r.Top && o.Right() <= r.Right() && o.Bottom() <= r.Bottom()
}

// SubRegions splits r into row-major sub regions of at most the given size.
// Consecutive sub regions start size minus overlap pixels apart on each axis,
// so neighbours share overlap pixels. Sub regions at the right and bottom
// edges are clipped to r.
func (r Region) SubRegions(size RectangleSize, overlap int) []Region {
	if r.IsSizeEmpty() || size.IsEmpty() {
		return nil
	}
	stepX := subRegionStep(size.Width, overlap)
	stepY := subRegionStep(size.Height, overlap)
	var regions []Region
	for top := r.Top; ; top += stepY {
		height := min(size.Height, r.Bottom()-top)
		for left := r.Left; ; left += stepX {
			width := min(size.Width, r.Right()-left)
			regions = append(regions, Region{Left: left, Top: top, Width: width, Height: height, CoordinatesType: r.CoordinatesType})
			if left+size.Width >= r.Right() {
				break
			}
		}
		if top+size.Height >= r.Bottom() {
			break
		}
	}
	return regions
}

func subRegionStep(length, overlap int) int {
	step := length - max(overlap, 0)
	if step < minSubRegionStep {
		step = min(minSubRegionStep, length)
	}
	return step
}

func (r Region) String() string {
	return fmt.Sprintf("(%d, %d) %dx%d %s", r.Left, r.Top, r.Width, r.Height, r.CoordinatesType)
}

func assertSameSpace(a, b Region) {
	if a.CoordinatesType == CoordinatesTypeUnspecified || b.CoordinatesType == CoordinatesTypeUnspecified {
		return
	}
	if a.CoordinatesType != b.CoordinatesType {
		panic(fmt.Sprintf("geom: comparing regions in different coordinate spaces: %s and %s", a.CoordinatesType, b.CoordinatesType))
	}
}
