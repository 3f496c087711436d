package vrt

import (
	"errors"
	"fmt"

	"github.com/k1LoW/vrt/driver"
	"github.com/k1LoW/vrt/geom"
)

// ErrEmptyFrameWindow is returned when a capture holds no pixel of the
// browsing context it was taken for.
var ErrEmptyFrameWindow = errors.New("got empty frame window for screenshot")

// OutOfBoundsError is returned when a location or region is not visible in
// a captured frame.
type OutOfBoundsError struct {
	Requested geom.Region
	Bounds    geom.Region
	// Clipped is true when the request was partially visible.
	Clipped bool
}

func (e *OutOfBoundsError) Error() string {
	if e.Clipped {
		return fmt.Sprintf("region %v is clipped by %v", e.Requested, e.Bounds)
	}
	return fmt.Sprintf("%v is out of bounds of %v", e.Requested, e.Bounds)
}

func isStale(err error) bool {
	return errors.Is(err, driver.ErrStaleElement)
}

func isNoSuchElement(err error) bool {
	return errors.Is(err, driver.ErrNoSuchElement)
}
