package pixie

// https://stackoverflow.com/questions/77422213/how-to-hide-all-keys-when-using-slog-in-golang

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Handler prints records as "[time] [attr]... message", without keys.
type Handler struct {
	h   slog.Handler
	mu  *sync.Mutex
	out io.Writer
}

func NewHandler(o io.Writer, opts *slog.HandlerOptions) *Handler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &Handler{
		out: o,
		h: slog.NewTextHandler(o, &slog.HandlerOptions{
			Level:       opts.Level,
			AddSource:   opts.AddSource,
			ReplaceAttr: nil,
		}),
		mu: &sync.Mutex{},
	}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.h.Enabled(ctx, level)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{h: h.h.WithAttrs(attrs), out: h.out, mu: h.mu}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{h: h.h.WithGroup(name), out: h.out, mu: h.mu}
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	formattedTime := r.Time.Format("[2006/01/02 15:04:05]")

	strs := []string{formattedTime}
	if r.NumAttrs() != 0 {
		r.Attrs(func(a slog.Attr) bool {
			value := fmt.Sprintf("[%s]", a.Value.String())
			strs = append(strs, value)
			return true
		})
	}
	strs = append(strs, r.Message)
	result := strings.Join(strs, " ") + "\n"

	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := h.out.Write([]byte(result))
	return err
}

// ConsoleLogger sends informational messages to a bracketed text stream and
// errors as JSON to another one.
type ConsoleLogger struct {
	InfoLog  *slog.Logger
	ErrorLog *slog.Logger
}

func (l ConsoleLogger) Info(message string, module string) {
	l.InfoLog.Info(message, "module", module)
}

func (l ConsoleLogger) Error(message string) {
	l.ErrorLog.Error(message)
}

func NewConsoleLogger(infoOut io.Writer, errorOut io.Writer) ConsoleLogger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}
	return ConsoleLogger{
		InfoLog:  slog.New(NewHandler(infoOut, opts)),
		ErrorLog: slog.New(slog.NewJSONHandler(errorOut, opts)),
	}
}

// NewStdLogger logs to stdout and stderr.
func NewStdLogger() ConsoleLogger {
	return NewConsoleLogger(os.Stdout, os.Stderr)
}
