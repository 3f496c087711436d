package geom

import (
	"fmt"
)

// CoordinatesType names the coordinate space a value is expressed in.
type CoordinatesType int

const (
	CoordinatesTypeUnspecified CoordinatesType = iota
	// ContextAsIs is what the browsing context's native APIs return,
	// before its own scroll position is taken into account.
	ContextAsIs
	// ContextRelative is ContextAsIs shifted by the context's scroll position.
	ContextRelative
	// ScreenshotAsIs is pixel coordinates within one captured image.
	ScreenshotAsIs
)

func (ct CoordinatesType) String() string {
	switch ct {
	case CoordinatesTypeUnspecified:
		return "unspecified"
	case ContextAsIs:
		return "context_as_is"
	case ContextRelative:
		return "context_relative"
	case ScreenshotAsIs:
		return "screenshot_as_is"
	default:
		return fmt.Sprintf("coordinates_type(%d)", int(ct))
	}
}

// ParseCoordinatesType is the inverse of CoordinatesType.String.
func ParseCoordinatesType(s string) (CoordinatesType, error) {
	for _, ct := range []CoordinatesType{CoordinatesTypeUnspecified, ContextAsIs, ContextRelative, ScreenshotAsIs} {
		if ct.String() == s {
			return ct, nil
		}
	}
	return CoordinatesTypeUnspecified, fmt.Errorf("unknown coordinates type: %q", s)
}

func (ct CoordinatesType) MarshalText() ([]byte, error) {
	return []byte(ct.String()), nil
}

func (ct *CoordinatesType) UnmarshalText(b []byte) error {
	v, err := ParseCoordinatesType(string(b))
	if err != nil {
		return err
	}
	*ct = v
	return nil
}

// IsContext reports whether ct is one of the context coordinate spaces.
func (ct CoordinatesType) IsContext() bool {
	return ct == ContextAsIs || ct == ContextRelative
}

// CoordinatesTypeConversionError is returned for a conversion between two
// coordinate spaces that has no defined rule.
type CoordinatesTypeConversionError struct {
	From CoordinatesType
	To   CoordinatesType
}

func (e *CoordinatesTypeConversionError) Error() string {
	return fmt.Sprintf("cannot convert from %s to %s", e.From, e.To)
}

// Converter converts between coordinate spaces using the offsets of one
// captured screenshot.
type Converter struct {
	// ScrollPosition is the scroll position of the captured context.
	ScrollPosition Location
	// FrameLocation is where the context's as-is origin lies in the image.
	FrameLocation Location
}

// ConvertLocation converts loc from one coordinate space to another.
func (c Converter) ConvertLocation(loc Location, from, to CoordinatesType) (Location, error) {
	if from == to {
		return loc, nil
	}
	switch from {
	case ContextAsIs:
		switch to {
		case ContextRelative:
			return loc.OffsetBy(c.ScrollPosition), nil
		case ScreenshotAsIs:
			return loc.OffsetBy(c.FrameLocation), nil
		}
	case ContextRelative:
		switch to {
		case ContextAsIs:
			return loc.OffsetNegative(c.ScrollPosition), nil
		case ScreenshotAsIs:
			return loc.OffsetNegative(c.ScrollPosition).OffsetBy(c.FrameLocation), nil
		}
	case ScreenshotAsIs:
		switch to {
		case ContextAsIs:
			return loc.OffsetNegative(c.FrameLocation), nil
		case ContextRelative:
			return loc.OffsetNegative(c.FrameLocation).OffsetBy(c.ScrollPosition), nil
		}
	}
	return loc, &CoordinatesTypeConversionError{From: from, To: to}
}

// ConvertRegionLocation translates the location of r and returns a copy
// tagged to. Regions with an empty size are returned unconverted.
func (c Converter) ConvertRegionLocation(r Region, from, to CoordinatesType) (Region, error) {
	if r.IsSizeEmpty() {
		return r, nil
	}
	loc, err := c.ConvertLocation(r.Location(), from, to)
	if err != nil {
		return Region{}, err
	}
	return NewRegionFrom(loc, r.Size(), to), nil
}
