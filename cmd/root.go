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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/k1LoW/errors"
	"github.com/k1LoW/tail"
	"github.com/k1LoW/vrt/config"
	handlerdot "github.com/k1LoW/vrt/handler/dot"
	loggerdot "github.com/k1LoW/vrt/logger/dot"
	"github.com/k1LoW/vrt/version"
	"github.com/mattn/go-isatty"
	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"
)

const latestLogLimit = 100

var (
	profile string
	verbose bool
	tb      = tail.New(latestLogLimit)
)

var rootCmd = &cobra.Command{
	Use:          "vrt",
	Short:        "vrt captures web pages for visual regression testing",
	Long:         `vrt captures web pages, elements and frames, whole or visible, and compares them with baselines.`,
	SilenceUsage: true,
	Version:      fmt.Sprintf("%s (rev:%s)", version.Version, version.Revision),
}

type errorData struct {
	LatestLogs  []any     `json:"latest_logs"`
	StackTraces any       `json:"stack_traces"`
	CreatedAt   time.Time `json:"created_at"`
	Version     string    `json:"version"`
	Revision    string    `json:"revision"`
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Write stack trace log to state directory
		d := &errorData{
			LatestLogs:  latestLogs(tb.Lines()),
			StackTraces: errors.StackTraces(err),
			CreatedAt:   time.Now(),
			Version:     version.Version,
			Revision:    version.Revision,
		}
		b, err := json.Marshal(d)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "%v\n", err)
		} else {
			dumpPath := filepath.Join(config.StateHomePath(), "error.json")
			if err := os.WriteFile(dumpPath, b, 0o600); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "failed to write error.json to %s: %v\n", dumpPath, err)
			}
		}
		os.Exit(1)
	}
}

func logPath() string {
	return filepath.Join(config.StateHomePath(), "vrt.log")
}

// latestLogs decodes JSON log lines for error.json, dropping debug logs of
// HTTP requests.
func latestLogs(lines []string) []any {
	var logs []any
	for _, line := range lines {
		if strings.Contains(line, `"level":"DEBUG"`) && strings.Contains(line, `"http":`) {
			// Skip debug logs that contain request details
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			logs = append(logs, line)
		} else {
			logs = append(logs, m)
		}
	}
	return logs
}

// newLogger writes JSON logs to the state directory and progress to stdout.
// The returned func flushes both.
func newLogger() (_ *slog.Logger, _ func(), err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	if err := os.MkdirAll(config.StateHomePath(), 0o700); err != nil {
		return nil, nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	f, err := os.OpenFile(logPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	// The latest lines are kept in memory for error.json.
	file := slog.NewJSONHandler(io.MultiWriter(f, tb), &slog.HandlerOptions{Level: level})
	stdout := slog.NewTextHandler(os.Stdout, nil)
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return slog.New(slogmulti.Fanout(file, handlerdot.New(stdout))), func() { _ = f.Close() }, nil
	}
	progress, err := loggerdot.New(stdout)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return slog.New(slogmulti.Fanout(file, progress)), func() {
		progress.Stop()
		_ = f.Close()
	}, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "", "", "profile name")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "write debug logs")
}
