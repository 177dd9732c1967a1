package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LogFileName is the log file inside the configured log_dir.
const LogFileName = "pakr.log"

// pakrHandler is a slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<runID>\t<message>\t<key=value ...>
//
// Values containing tabs or newlines are quoted so each record stays on one
// line.
type pakrHandler struct {
	w     io.Writer
	runID string
	attrs []slog.Attr
}

func (h *pakrHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *pakrHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\t%s\t%s\t%s",
		r.Time.UTC().Format("2006-01-02T15:04:05Z"), r.Level.String(), h.runID, r.Message)

	for _, a := range h.attrs {
		writeAttr(&b, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, a)
		return true
	})
	b.WriteByte('\n')

	// One write per record keeps concurrent worker lines intact.
	_, err := io.WriteString(h.w, b.String())
	return err
}

func writeAttr(b *strings.Builder, a slog.Attr) {
	v := a.Value.Resolve().String()
	if strings.ContainsAny(v, "\t\n\r") {
		v = strconv.Quote(v)
	}
	fmt.Fprintf(b, "\t%s=%s", a.Key, v)
}

func (h *pakrHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &pakrHandler{
		w:     h.w,
		runID: h.runID,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *pakrHandler) WithGroup(string) slog.Handler { return h }

// newLogger creates a structured logger that writes to both logDir/pakr.log
// and stderr. It returns the slog.Logger, the open log file (for cleanup),
// and any error.
func newLogger(logDir string, runID string, stderr io.Writer) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, LogFileName)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	w := io.Writer(f)
	if stderr != nil {
		w = io.MultiWriter(f, stderr)
	}
	return slog.New(&pakrHandler{w: w, runID: runID}), f, nil
}

// slogAdapter wraps *slog.Logger to satisfy the pakr.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
