package vrt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/k1LoW/errors"
	"github.com/k1LoW/vrt/driver"
	"github.com/k1LoW/vrt/geom"
	"github.com/lestrrat-go/backoff/v2"
)

// ViewportSize returns the size of the top-level viewport.
func (s *Session) ViewportSize(ctx context.Context) (_ geom.RectangleSize, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	size, err := s.driver.ViewportSize(ctx)
	if err != nil {
		return geom.RectangleSize{}, driver.WrapOperation("get viewport size", err)
	}
	return size, nil
}

// SetViewportSize resizes the top-level viewport, resizing the window by the
// remaining difference when the browser ignores the viewport request.
func (s *Session) SetViewportSize(ctx context.Context, size geom.RectangleSize) (err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	if size.IsEmpty() {
		return fmt.Errorf("invalid viewport size: %v", size)
	}
	policy := backoff.Constant(
		backoff.WithInterval(s.viewportRetryInterval),
		backoff.WithMaxRetries(s.viewportAttempts),
	)
	b := policy.Start(ctx)
	var (
		got     geom.RectangleSize
		lastErr error
	)
	attempt := 0
	// The controller allows one more event than its retries, so stop at the count ourselves.
	for attempt < s.viewportAttempts && backoff.Continue(b) {
		attempt++
		got, lastErr = s.trySetViewportSize(ctx, size)
		if lastErr == nil && got == size {
			s.logger.Info("set viewport size", slog.String("size", size.String()), slog.Int("attempt", attempt))
			s.tree.Reset()
			return nil
		}
		s.logger.Info("retrying to set viewport size", slog.String("size", size.String()), slog.String("got", got.String()), slog.Int("attempt", attempt))
	}
	if lastErr != nil {
		return fmt.Errorf("failed to set viewport size to %v: %w", size, lastErr)
	}
	return fmt.Errorf("failed to set viewport size to %v: got %v", size, got)
}

func (s *Session) trySetViewportSize(ctx context.Context, size geom.RectangleSize) (geom.RectangleSize, error) {
	if err := s.driver.SetViewportSize(ctx, size); err != nil {
		s.logger.Debug("failed to set viewport size directly", slog.String("error", err.Error()))
	}
	got, err := s.driver.ViewportSize(ctx)
	if err != nil {
		return got, driver.WrapOperation("get viewport size", err)
	}
	if got == size {
		return got, nil
	}
	w, err := s.driver.WindowRect(ctx)
	if err != nil {
		return got, driver.WrapOperation("get window rect", err)
	}
	w.Width += size.Width - got.Width
	w.Height += size.Height - got.Height
	if err := s.driver.SetWindowRect(ctx, w); err != nil {
		return got, driver.WrapOperation("set window rect", err)
	}
	got, err = s.driver.ViewportSize(ctx)
	if err != nil {
		return got, driver.WrapOperation("get viewport size", err)
	}
	return got, nil
}
