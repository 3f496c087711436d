package vrt

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/k1LoW/errors"
	"github.com/k1LoW/vrt/geom"
	"github.com/nfnt/resize"
)

// Tile is one capture of a stitched image.
type Tile struct {
	// Requested is the content region the tile was planned for.
	Requested geom.Region `json:"requested"`
	// Achieved is the content offset the scroll root actually reached.
	Achieved geom.Location `json:"achieved"`
	// Pasted is the content region copied into the stitched image.
	Pasted geom.Region `json:"pasted"`
}

// StitchResult is a stitched image of a target region.
type StitchResult struct {
	Image *image.RGBA
	Tiles []Tile
}

// PlanTiles returns the content regions to capture for target when the scroll
// root shows window pixels at a time, in row-major order.
func PlanTiles(target geom.Region, window geom.RectangleSize, overlap int) []geom.Region {
	return target.SubRegions(window, overlap)
}

// Stitcher captures a region larger than the viewport tile by tile.
type Stitcher struct {
	// PositionProvider moves the content of the scroll root.
	PositionProvider PositionProvider
	// OriginProvider resets the scroll baseline before translating. Nil when
	// PositionProvider scrolls.
	OriginProvider       PositionProvider
	ImageProvider        ImageProvider
	ScaleProviderFactory ScaleProviderFactory
	CutProvider          CutProvider
	StitchOverlap        int
	// WindowInset is where window starts inside the client box of the scroll
	// root when an ancestor clips its top or left edge.
	WindowInset   geom.Location
	Wait          time.Duration
	Interpolation resize.InterpolationFunction
	Logger        *slog.Logger
}

// Stitch captures target, a region of the scroll root's content, where the
// scroll root's visible window is located at window in every processed
// capture. The original position is restored before returning.
func (s *Stitcher) Stitch(ctx context.Context, target geom.Region, window geom.Region) (_ *StitchResult, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	logger := s.Logger
	if logger == nil {
		logger = discardLogger()
	}
	if target.IsSizeEmpty() {
		return nil, fmt.Errorf("failed to stitch: empty target %v", target)
	}
	if window.IsSizeEmpty() {
		return nil, fmt.Errorf("failed to stitch: empty scroll root window %v", window)
	}
	pp := s.PositionProvider

	if s.OriginProvider != nil {
		originState, err := s.OriginProvider.State(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to save origin: %w", err)
		}
		defer func() {
			if rerr := s.OriginProvider.RestoreState(ctx, originState); rerr != nil {
				err = errors.Join(err, fmt.Errorf("failed to restore origin: %w", rerr))
			}
		}()
	}
	state, err := pp.State(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to save position: %w", err)
	}
	// Registered after the origin so it runs first.
	defer func() {
		if rerr := pp.RestoreState(ctx, state); rerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to restore position: %w", rerr))
		}
	}()
	if s.OriginProvider != nil {
		if _, err := s.OriginProvider.SetPosition(ctx, geom.ZeroLocation); err != nil {
			return nil, fmt.Errorf("failed to reset origin: %w", err)
		}
	}

	entire, err := pp.EntireSize(ctx)
	if err != nil {
		return nil, err
	}
	target = target.WithCoordinatesType(geom.ContextRelative)
	area := target.Intersection(geom.NewRegionFrom(geom.ZeroLocation, entire, geom.ContextRelative))
	if area.IsSizeEmpty() {
		return nil, &OutOfBoundsError{Requested: target, Bounds: geom.NewRegionFrom(geom.ZeroLocation, entire, geom.ContextRelative)}
	}

	plan := PlanTiles(area, window.Size(), s.StitchOverlap)
	logger.Info("planned tiles", slog.Int("count", len(plan)), slog.String("target", area.String()), slog.String("window", window.String()))

	canvas := image.NewRGBA(image.Rect(0, 0, target.Width, target.Height))
	tiles := make([]Tile, 0, len(plan))
	var scale ScaleProvider
	inset := s.WindowInset
	for i, req := range plan {
		pos := req.Location().OffsetNegative(inset)
		pos = geom.NewLocation(max(pos.X, 0), max(pos.Y, 0))
		got, err := pp.SetPosition(ctx, pos)
		if err != nil {
			return nil, fmt.Errorf("failed to move to tile %d at %v: %w", i, req.Location(), err)
		}
		if err := sleep(ctx, s.Wait); err != nil {
			return nil, err
		}
		raw, err := s.ImageProvider.Image(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to capture tile %d: %w", i, err)
		}
		if scale == nil {
			scale = s.scaleFactory().ScaleProvider(raw.Bounds().Dx())
		}
		img := s.process(raw, scale)

		// The content visible in the window, clipped to what was asked for and
		// to what the capture holds.
		shown := got.OffsetBy(inset)
		visible := geom.NewRegionFrom(shown, window.Size(), geom.ContextRelative)
		paste := visible.Intersection(area)
		src := paste.Offset(window.Left-shown.X, window.Top-shown.Y).WithCoordinatesType(geom.ScreenshotAsIs)
		src.Intersect(imageRegion(img))
		if src.IsSizeEmpty() {
			logger.Warn("skipped tile with nothing to paste", slog.Int("tile", i), slog.String("position", got.String()))
			tiles = append(tiles, Tile{Requested: req, Achieved: got})
			continue
		}
		paste = src.Offset(shown.X-window.Left, shown.Y-window.Top).WithCoordinatesType(geom.ContextRelative)
		if want := req.Intersection(area); !paste.ContainsRegion(want) {
			logger.Warn("tile only partly visible", slog.Int("tile", i), slog.String("requested", want.String()), slog.String("pasted", paste.String()))
		}
		pasteImage(canvas, paste.Location().OffsetNegative(target.Location()), img, src)
		tiles = append(tiles, Tile{Requested: req, Achieved: got, Pasted: paste})
		logger.Info("captured tile", slog.Int("tile", i), slog.Int("total", len(plan)), slog.String("position", got.String()), logImage(img))
	}
	return &StitchResult{Image: canvas, Tiles: tiles}, nil
}

func (s *Stitcher) scaleFactory() ScaleProviderFactory {
	if s.ScaleProviderFactory == nil {
		return NullScaleProvider{}
	}
	return s.ScaleProviderFactory
}

// process cuts raw in device pixels and scales it to CSS pixels.
func (s *Stitcher) process(raw image.Image, scale ScaleProvider) image.Image {
	return processImage(raw, s.CutProvider, scale.ScaleRatio(), s.Interpolation)
}

func processImage(raw image.Image, cut CutProvider, ratio float64, interp resize.InterpolationFunction) image.Image {
	img := raw
	if cut != nil {
		img = cut.Scale(1 / ratio).Cut(img)
	}
	return scaleImage(img, ratio, interp)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
