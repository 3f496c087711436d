package vrt

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/k1LoW/vrt/version"
)

var userAgent = "k1LoW-vrt/" + version.Version + " (+https://github.com/k1LoW/vrt)"

// NewHTTPClient returns a client retrying failed requests, used to fetch
// baselines over HTTP.
func NewHTTPClient(logger *slog.Logger) *http.Client {
	if logger == nil {
		logger = discardLogger()
	}
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 5
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = newHTTPLogger(logger)
	return retryClient.StandardClient()
}

var _ retryablehttp.LeveledLogger = (*httpLogger)(nil)

type httpLogger struct {
	l *slog.Logger
}

func (l *httpLogger) Error(msg string, keysAndValues ...any) {
	l.l.Error(msg, append([]any{slog.String("original_log_level", "error")}, keysAndValues...)...)
}
func (l *httpLogger) Info(msg string, keysAndValues ...any) {
	l.l.Info(msg, append([]any{slog.String("original_log_level", "info")}, keysAndValues...)...)
}
func (l *httpLogger) Debug(msg string, keysAndValues ...any) {
	if strings.HasPrefix(msg, "retrying") {
		// Retries show up in the console spinner.
		l.l.Info(msg, append([]any{slog.String("original_log_level", "debug")}, keysAndValues...)...)
		return
	}
	l.l.Debug(msg, append([]any{slog.String("original_log_level", "debug")}, keysAndValues...)...)
}
func (l *httpLogger) Warn(msg string, keysAndValues ...any) {
	l.l.Warn(msg, append([]any{slog.String("original_log_level", "warn")}, keysAndValues...)...)
}

func newHTTPLogger(l *slog.Logger) retryablehttp.LeveledLogger {
	return &httpLogger{
		l: l.WithGroup("http"),
	}
}
