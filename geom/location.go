// Package geom provides the value types for points, sizes and rectangles used
// across capture and stitching, and the conversion between coordinate spaces.
package geom

import (
	"fmt"
	"math"
)

// Location is a 2-D point. Methods never modify the receiver.
type Location struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ZeroLocation is the origin.
var ZeroLocation = Location{}

func NewLocation(x, y int) Location {
	return Location{X: x, Y: y}
}

// Offset returns the location moved by dx, dy.
func (l Location) Offset(dx, dy int) Location {
	return Location{X: l.X + dx, Y: l.Y + dy}
}

// OffsetBy returns the location moved by o.
func (l Location) OffsetBy(o Location) Location {
	return l.Offset(o.X, o.Y)
}

// OffsetNegative returns the location moved by -o.
func (l Location) OffsetNegative(o Location) Location {
	return l.Offset(-o.X, -o.Y)
}

// Negate returns (-x, -y).
func (l Location) Negate() Location {
	return Location{X: -l.X, Y: -l.Y}
}

// Scale multiplies both coordinates by ratio, rounding up.
func (l Location) Scale(ratio float64) Location {
	return Location{X: scaleInt(l.X, ratio), Y: scaleInt(l.Y, ratio)}
}

func (l Location) IsZero() bool {
	return l.X == 0 && l.Y == 0
}

func (l Location) String() string {
	return fmt.Sprintf("(%d, %d)", l.X, l.Y)
}

func scaleInt(v int, ratio float64) int {
	if ratio == 1 {
		return v
	}
	return int(math.Ceil(float64(v) * ratio))
}
