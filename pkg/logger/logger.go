// Package logger configures the process-wide structured logger used by
// every component in this module: the request pipeline, the capability
// resolver, the conversation store, the escalation router, and the
// orchestrator all log through slog rather than fmt.
package logger

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

const modulePackagePrefix = "github.com/Kadsuke/assistant-axelis"

var defaultLogger *slog.Logger

// ParseLevel converts a config string into a slog.Level. Unrecognized
// values fall back to Info rather than failing config load over a typo.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// filteringHandler suppresses third-party library log lines unless the
// configured level is Debug, so a banking tenant's production logs aren't
// drowned out by chatter from the LLM SDK or the SQL driver.
type filteringHandler struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel && h.handler.Enabled(ctx, level)
}

func (h *filteringHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel <= slog.LevelDebug || h.isOwnPackage(record.PC) {
		return h.handler.Handle(ctx, record)
	}
	return nil
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &filteringHandler{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

func (h *filteringHandler) isOwnPackage(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	file, _ := fn.FileLine(pc)
	return strings.Contains(fn.Name(), modulePackagePrefix) || strings.Contains(file, "assistant-axelis/")
}

// Init installs the process-wide logger. format selects "json" for
// machine-ingestible production logs or anything else for a plain text
// handler suited to local development.
func Init(level slog.Level, output *os.File, format string) {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && a.Value.String() == "WARNING" {
				return slog.String(slog.LevelKey, "WARN")
			}
			return a
		},
	}

	var base slog.Handler
	if format == "json" {
		base = slog.NewJSONHandler(output, opts)
	} else {
		base = slog.NewTextHandler(output, opts)
	}

	defaultLogger = slog.New(&filteringHandler{handler: base, minLevel: level})
	slog.SetDefault(defaultLogger)
}

// Get returns the process logger, lazily initializing it at Info/text if
// Init was never called — tests and one-off tools should still get usable
// output instead of a nil panic.
func Get() *slog.Logger {
	if defaultLogger == nil {
		Init(slog.LevelInfo, os.Stderr, "text")
	}
	return defaultLogger
}
