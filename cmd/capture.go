/*
Copyright © 2025 Ken'ichiro Oyama <k1lowxb@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/k1LoW/errors"
	"github.com/k1LoW/vrt"
	"github.com/k1LoW/vrt/config"
	"github.com/k1LoW/vrt/driver/cdpdriver"
	"github.com/k1LoW/vrt/geom"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const watchDebounce = 300 * time.Millisecond

var (
	outDir            string
	fully             bool
	selector          string
	frames            []string
	scrollRoot        string
	stitchMode        string
	stitchOverlap     int
	viewport          string
	wait              time.Duration
	hideScrollbars    bool
	screenshotCommand string
	uploadCommand     string
	baseline          string
	maxDistance       int
	openResult        bool
	watchFiles        []string
	parallel          int
	headful           bool
)

var captureCmd = &cobra.Command{
	Use:   "capture [URL...]",
	Short: "capture screenshots of web pages",
	Long:  `capture screenshots of web pages and compare them with baselines when --baseline is given.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger, closeLogger, err := newLogger()
		if err != nil {
			return err
		}
		defer closeLogger()
		cfg, err := config.Load(profile)
		if err != nil {
			return err
		}
		if err := overrideConfig(cmd.Flags(), cfg); err != nil {
			return err
		}
		r := &runner{
			cfg:     cfg,
			flags:   cmd.Flags(),
			logger:  logger,
			client:  vrt.NewHTTPClient(logger),
			storage: vrt.NewDirStorage(outDir),
			stdout:  cmd.OutOrStdout(),
		}
		if cfg.UploadCommand != "" {
			r.storage = vrt.NewExternalStorage(cfg.UploadCommand)
		}

		browserCtx, cancel := cdpdriver.NewContext(ctx, !headful)
		defer cancel()
		if err := cdpdriver.Start(browserCtx); err != nil {
			return err
		}
		err = r.run(ctx, browserCtx, args)
		if len(watchFiles) == 0 {
			return err
		}
		if err != nil {
			cmd.PrintErrln(err)
		}
		return r.watch(ctx, browserCtx, args, watchFiles)
	},
}

// overrideConfig applies the session-wide flags given on the command line.
func overrideConfig(flags *pflag.FlagSet, cfg *config.Config) error {
	if flags.Changed("viewport") {
		cfg.Viewport = viewport
	}
	if flags.Changed("overlap") {
		cfg.StitchOverlap = &stitchOverlap
	}
	if flags.Changed("wait") {
		cfg.WaitBeforeScreenshots = wait.String()
	}
	if flags.Changed("screenshot-command") {
		cfg.ScreenshotCommand = screenshotCommand
	}
	if flags.Changed("upload-command") {
		cfg.UploadCommand = uploadCommand
	}
	return cfg.Validate()
}

// overrideTarget applies the per-target flags given on the command line.
func overrideTarget(flags *pflag.FlagSet, t *config.Target) {
	if flags.Changed("fully") {
		t.Fully = fully
	}
	if flags.Changed("selector") {
		t.Selector = selector
	}
	if flags.Changed("frame") {
		t.Frames = frames
	}
	if flags.Changed("scroll-root") {
		t.ScrollRoot = scrollRoot
	}
	if flags.Changed("stitch-mode") {
		t.StitchMode = stitchMode
	}
	if flags.Changed("hide-scrollbars") {
		t.HideScrollbars = hideScrollbars
	}
}

type runner struct {
	cfg     *config.Config
	flags   *pflag.FlagSet
	logger  *slog.Logger
	client  *http.Client
	storage vrt.Storage
	stdout  io.Writer
}

type outcome struct {
	url      string
	path     string
	skipped  bool
	compared bool
	distance int
	differs  bool
}

// run captures every URL, each in its own tab, and reports the comparisons.
func (r *runner) run(ctx, browserCtx context.Context, urls []string) error {
	outcomes := make([]*outcome, len(urls))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(parallel, 1))
	for i, u := range urls {
		eg.Go(func() error {
			o, err := r.captureURL(ctx, browserCtx, u, i)
			if err != nil {
				return fmt.Errorf("failed to capture %s: %w", u, err)
			}
			outcomes[i] = o
			return nil
		})
	}
	err := eg.Wait()
	r.logger.Info("capture completed", slog.Int("count", len(urls)))
	if err != nil {
		return err
	}
	return report(r.stdout, outcomes)
}

func (r *runner) captureURL(ctx, browserCtx context.Context, url string, index int) (_ *outcome, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	t, err := r.cfg.TargetFor(url, index)
	if err != nil {
		return nil, err
	}
	overrideTarget(r.flags, t)
	name := fileName(url, index)
	o := &outcome{url: url, path: name}
	logger := r.logger.With(slog.String("url", url), slog.Int("index", index))
	if t.Skip {
		logger.Info("skipped target")
		o.skipped = true
		return o, nil
	}

	tabCtx, cancel := cdpdriver.NewTab(browserCtx)
	defer cancel()
	d := cdpdriver.New(tabCtx)
	opts, err := sessionOptions(r.cfg, t, logger)
	if err != nil {
		return nil, err
	}
	s, err := vrt.New(d, opts...)
	if err != nil {
		return nil, err
	}
	if r.cfg.Viewport != "" {
		w, h, err := config.ParseViewport(r.cfg.Viewport)
		if err != nil {
			return nil, err
		}
		if err := s.SetViewportSize(ctx, geom.NewRectangleSize(w, h)); err != nil {
			return nil, err
		}
	}
	if err := d.Navigate(ctx, url); err != nil {
		return nil, err
	}
	s.Reset()
	res, err := s.Capture(ctx, buildTarget(t))
	if err != nil {
		return nil, err
	}
	loc, err := vrt.StoreImage(ctx, r.storage, name, res.Image())
	if err != nil {
		return nil, err
	}
	o.path = loc

	if baseline != "" {
		bl := baselineLocation(baseline, name)
		b, err := vrt.LoadImage(ctx, r.client, bl)
		if err != nil {
			return nil, fmt.Errorf("failed to load baseline: %w", err)
		}
		same, dist, err := vrt.Equivalent(b.Image(), res.Image(), maxDistance)
		if err != nil {
			return nil, err
		}
		o.compared = true
		o.distance = dist
		o.differs = !same
		logger.Info("compared with baseline", slog.String("baseline", bl), slog.Int("distance", dist), slog.Bool("differs", o.differs))
	}
	if openResult {
		open := browser.OpenFile
		if isURL(o.path) {
			open = browser.OpenURL
		}
		if err := open(o.path); err != nil {
			logger.Warn("failed to open capture", slog.String("error", err.Error()))
		}
	}
	return o, nil
}

func sessionOptions(cfg *config.Config, t *config.Target, logger *slog.Logger) ([]vrt.Option, error) {
	mode, err := vrt.ParseStitchMode(t.StitchMode)
	if err != nil {
		return nil, err
	}
	opts := []vrt.Option{
		vrt.WithLogger(logger),
		vrt.WithStitchMode(mode),
		vrt.WithHideScrollbars(t.HideScrollbars),
	}
	if cfg.StitchOverlap != nil {
		opts = append(opts, vrt.WithStitchOverlap(*cfg.StitchOverlap))
	}
	if cfg.WaitBeforeScreenshots != "" {
		// An explicit 0s turns the settle delay off.
		w, err := cfg.Wait()
		if err != nil {
			return nil, err
		}
		opts = append(opts, vrt.WithWaitBeforeScreenshots(w))
	}
	if t.Cut != nil {
		opts = append(opts, vrt.WithCutProvider(vrt.FixedCutProvider{
			Header: t.Cut.Header,
			Footer: t.Cut.Footer,
			Left:   t.Cut.Left,
			Right:  t.Cut.Right,
		}))
	}
	if cfg.ScreenshotCommand != "" {
		vars := map[string]any{"url": t.URL, "index": t.Index}
		opts = append(opts, vrt.WithImageProvider(vrt.NewCommandImageProvider(cfg.ScreenshotCommand, vars)))
	}
	return opts, nil
}

func buildTarget(t *config.Target) *vrt.Target {
	target := vrt.Window()
	if t.Selector != "" {
		target = vrt.Element(t.Selector)
	}
	for _, f := range t.Frames {
		target.InFrame(vrt.ParseFrameRef(f))
	}
	if t.ScrollRoot != "" {
		target.WithScrollRoot(t.ScrollRoot)
	}
	if t.Fully {
		target.Fully()
	}
	return target
}

var unsafeNameRe = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// fileName returns a stable file name for the capture of url at index.
func fileName(url string, index int) string {
	name := url
	if _, rest, ok := strings.Cut(name, "://"); ok {
		name = rest
	}
	name = strings.Trim(unsafeNameRe.ReplaceAllString(name, "-"), "-")
	if len(name) > 100 {
		name = name[:100]
	}
	if name == "" {
		name = "capture"
	}
	return fmt.Sprintf("%03d-%s.png", index, name)
}

// baselineLocation joins a baseline directory or URL prefix with name. A
// base naming a PNG file is used as is.
func baselineLocation(base, name string) string {
	if strings.HasSuffix(strings.ToLower(base), ".png") {
		return base
	}
	if isURL(base) {
		return strings.TrimSuffix(base, "/") + "/" + name
	}
	return filepath.Join(base, name)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}

func report(w io.Writer, outcomes []*outcome) error {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	differs := 0
	for _, o := range outcomes {
		switch {
		case o.skipped:
			_, _ = fmt.Fprintf(w, "%s %s\n", gray("skip"), o.url)
		case !o.compared:
			_, _ = fmt.Fprintf(w, "%s %s -> %s\n", green("done"), o.url, o.path)
		case o.differs:
			differs++
			_, _ = fmt.Fprintf(w, "%s %s -> %s (distance %d)\n", red("diff"), o.url, o.path, o.distance)
		default:
			_, _ = fmt.Fprintf(w, "%s %s -> %s (distance %d)\n", green("same"), o.url, o.path, o.distance)
		}
	}
	if differs > 0 {
		return fmt.Errorf("%d of %d captures differ from the baseline", differs, len(outcomes))
	}
	return nil
}

// watch captures again whenever one of files changes, until ctx is done.
func (r *runner) watch(ctx, browserCtx context.Context, urls, files []string) (err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()
	for _, f := range files {
		if err := w.Add(f); err != nil {
			return fmt.Errorf("failed to watch %s: %w", f, err)
		}
	}
	var rerun <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			r.logger.Info("detected change", slog.String("file", ev.Name))
			rerun = time.After(watchDebounce)
		case <-rerun:
			rerun = nil
			if err := r.run(ctx, browserCtx, urls); err != nil {
				r.logger.Error("failed to capture after change", slog.String("error", err.Error()))
				_, _ = fmt.Fprintln(os.Stderr, err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("failed to watch files: %w", err)
		}
	}
}

func init() {
	rootCmd.AddCommand(captureCmd)
	captureCmd.Flags().StringVarP(&outDir, "out", "o", ".", "directory to write captures to")
	captureCmd.Flags().BoolVarP(&fully, "fully", "f", false, "capture whole pages instead of the viewport")
	captureCmd.Flags().StringVarP(&selector, "selector", "s", "", "capture the element matching the selector")
	captureCmd.Flags().StringSliceVarP(&frames, "frame", "", nil, "frame path to the target, by index, name or id")
	captureCmd.Flags().StringVarP(&scrollRoot, "scroll-root", "", "", "element scrolled instead of the document")
	captureCmd.Flags().StringVarP(&stitchMode, "stitch-mode", "", "scroll", "how to move content between tiles (scroll|css)")
	captureCmd.Flags().IntVarP(&stitchOverlap, "overlap", "", vrt.DefaultStitchOverlap, "pixels shared by neighbouring tiles")
	captureCmd.Flags().StringVarP(&viewport, "viewport", "", "", "viewport size such as 1280x800")
	captureCmd.Flags().DurationVarP(&wait, "wait", "", vrt.DefaultWaitBeforeScreenshots, "wait after every scroll")
	captureCmd.Flags().BoolVarP(&hideScrollbars, "hide-scrollbars", "", false, "hide scrollbars while capturing")
	captureCmd.Flags().StringVarP(&screenshotCommand, "screenshot-command", "", "", "command printing a PNG of the viewport")
	captureCmd.Flags().StringVarP(&uploadCommand, "upload-command", "", "", "command uploading each PNG from stdin and printing its URL")
	captureCmd.Flags().StringVarP(&baseline, "baseline", "b", "", "baseline directory, URL prefix or PNG file to compare with")
	captureCmd.Flags().IntVarP(&maxDistance, "max-distance", "", vrt.DefaultMaxDistance, "perceptual hash distance below which captures are the same")
	captureCmd.Flags().BoolVarP(&openResult, "open", "", false, "open captures when written")
	captureCmd.Flags().StringSliceVarP(&watchFiles, "watch", "w", nil, "capture again when the files change")
	captureCmd.Flags().IntVarP(&parallel, "parallel", "p", 4, "number of pages captured at once")
	captureCmd.Flags().BoolVarP(&headful, "headful", "", false, "show the browser window")
}
