package pkg

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/phsym/console-slog"
	"github.com/rs/zerolog"
	slogcommon "github.com/samber/slog-common"
)

const TraceLevel = slog.Level(-8)

var (
	_        slog.Handler = (*MultiLogHandler)(nil)
	_        slog.Handler = (*JSONHandler)(nil)
	logLevel slog.LevelVar
)

func ParseLevel(level string) slog.Level {
	var lv slog.LevelVar
	if level == "trace" {
		lv.Set(TraceLevel)
	} else {
		lv.UnmarshalText([]byte(level))
	}
	return lv.Level()
}

// SetLogLevel sets the process-wide level shared by every handler built here.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

func LogLevel() slog.Level {
	return logLevel.Level()
}

func NewConsoleHandler(w io.Writer) slog.Handler {
	return console.NewHandler(w, &console.HandlerOptions{Level: &logLevel, TimeFormat: "2006-01-02 15:04:05.000"})
}

// MultiLogHandler fans records out to every added handler.
type MultiLogHandler struct {
	handlers []slog.Handler
	level    slog.Leveler
}

func NewMultiLogHandler(handlers ...slog.Handler) *MultiLogHandler {
	return &MultiLogHandler{handlers: handlers, level: &logLevel}
}

func (m *MultiLogHandler) Add(h slog.Handler) {
	m.handlers = append(m.handlers, h)
}

func (m *MultiLogHandler) Remove(h slog.Handler) {
	if i := slices.Index(m.handlers, h); i != -1 {
		m.handlers = slices.Delete(m.handlers, i, i+1)
	}
}

// SetLevel detaches this handler from the process-wide level.
func (m *MultiLogHandler) SetLevel(level slog.Level) {
	m.level = level
}

// Enabled implements slog.Handler.
func (m *MultiLogHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= m.level.Level()
}

// Handle implements slog.Handler.
func (m *MultiLogHandler) Handle(ctx context.Context, rec slog.Record) error {
	for _, h := range m.handlers {
		if !h.Enabled(ctx, rec.Level) {
			continue
		}
		if err := h.Handle(ctx, rec.Clone()); err != nil {
			return err
		}
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (m *MultiLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	result := &MultiLogHandler{
		handlers: make([]slog.Handler, len(m.handlers)),
		level:    m.level,
	}
	for i, h := range m.handlers {
		result.handlers[i] = h.WithAttrs(attrs)
	}
	return result
}

// WithGroup implements slog.Handler.
func (m *MultiLogHandler) WithGroup(name string) slog.Handler {
	result := &MultiLogHandler{
		handlers: make([]slog.Handler, len(m.handlers)),
		level:    m.level,
	}
	for i, h := range m.handlers {
		result.handlers[i] = h.WithGroup(name)
	}
	return result
}

var ErrorKeys = []string{"error", "err"}

// JSONHandler writes one zerolog JSON event per record, attributes nested by group.
type JSONHandler struct {
	mu     *sync.Mutex
	logger zerolog.Logger
	opts   slog.HandlerOptions
	attrs  []slog.Attr
	groups []string
}

func NewJSONHandler(w io.Writer, opts *slog.HandlerOptions) *JSONHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: &logLevel}
	} else if opts.Level == nil {
		opts.Level = &logLevel
	}
	return &JSONHandler{mu: new(sync.Mutex), logger: zerolog.New(w), opts: *opts}
}

func zerologLevel(l slog.Level) zerolog.Level {
	switch {
	case l < slog.LevelDebug:
		return zerolog.TraceLevel
	case l < slog.LevelInfo:
		return zerolog.DebugLevel
	case l < slog.LevelWarn:
		return zerolog.InfoLevel
	case l < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func (h *JSONHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *JSONHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := slogcommon.AppendRecordAttrsToAttrs(h.attrs, h.groups, &r)
	if h.opts.AddSource {
		attrs = append(attrs, slogcommon.Source("source", &r))
	}
	attrs = slogcommon.ReplaceAttrs(h.opts.ReplaceAttr, []string{}, attrs...)
	attrs = slogcommon.RemoveEmptyAttrs(attrs)
	fields := slogcommon.AttrsToMap(attrs...)
	for _, key := range ErrorKeys {
		if err, ok := fields[key].(error); ok {
			fields[key] = slogcommon.FormatError(err)
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logger.WithLevel(zerologLevel(r.Level)).
		Time(zerolog.TimestampFieldName, r.Time).
		Fields(fields).
		Msg(r.Message)
	return nil
}

func (h *JSONHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &JSONHandler{
		mu:     h.mu,
		logger: h.logger,
		opts:   h.opts,
		attrs:  slogcommon.AppendAttrsToGroup(h.groups, h.attrs, attrs...),
		groups: h.groups,
	}
}

func (h *JSONHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &JSONHandler{
		mu:     h.mu,
		logger: h.logger,
		opts:   h.opts,
		attrs:  h.attrs,
		groups: append(slices.Clone(h.groups), name),
	}
}
