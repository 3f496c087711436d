// Package driver defines the capabilities the capture engine needs from a
// browser automation session.
package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/k1LoW/vrt/geom"
)

var (
	// ErrNoSuchElement is returned when a lookup matches nothing.
	ErrNoSuchElement = errors.New("no such element")
	// ErrStaleElement is returned when an element is no longer attached to its document.
	ErrStaleElement = errors.New("stale element reference")
	// ErrCrossOriginFrame is returned when a frame's document cannot be entered.
	ErrCrossOriginFrame = errors.New("cross-origin frame")
	// ErrUnsupported is returned for a capability the session does not offer.
	ErrUnsupported = errors.New("unsupported operation")
)

// Element is an opaque handle to a DOM element in some browsing context.
type Element interface {
	ElementID() string
}

// Info describes the automated browser.
type Info struct {
	BrowserName    string
	BrowserVersion int
	// IsNative is true for native app contexts where DOM scripts are unavailable.
	IsNative bool
}

// IsLegacyFirefox reports whether the browser is Firefox older than 48,
// which always captures the whole main document.
func (i *Info) IsLegacyFirefox() bool {
	return i != nil && i.BrowserName == "firefox" && i.BrowserVersion > 0 && i.BrowserVersion < 48
}

// Driver is one remote browser session. Calls are issued sequentially;
// implementations need not be safe for concurrent use.
type Driver interface {
	// TakeScreenshot captures the top-level viewport as encoded image bytes.
	TakeScreenshot(ctx context.Context) ([]byte, error)
	// ExecuteScript runs script in the focused browsing context and decodes
	// its JSON result into res. res may be nil.
	ExecuteScript(ctx context.Context, script string, res any, args ...any) error
	ViewportSize(ctx context.Context) (geom.RectangleSize, error)
	SetViewportSize(ctx context.Context, size geom.RectangleSize) error
	WindowRect(ctx context.Context) (geom.Region, error)
	SetWindowRect(ctx context.Context, rect geom.Region) error
	SwitchToMainContext(ctx context.Context) error
	SwitchToParentContext(ctx context.Context) error
	SwitchToChildContext(ctx context.Context, frame Element) error
	FindElement(ctx context.Context, selector string) (Element, error)
	FindElements(ctx context.Context, selector string) ([]Element, error)
	IsEqualElements(ctx context.Context, a, b Element) (bool, error)
	Info(ctx context.Context) (*Info, error)
}

// OperationError wraps a failed driver call.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("driver operation %s failed: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// WrapOperation returns err wrapped in an OperationError, or nil.
func WrapOperation(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Op: op, Err: err}
}
