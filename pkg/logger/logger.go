// Package logger is a context-carrying wrapper over zerolog. Fields attached
// with the With* helpers ride along on the context and appear on every line
// logged through it.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/env"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

type Options struct {
	ServiceName string
	// Level is a zerolog level name; empty or unknown means info.
	Level string
	// WarnStack adds a stack trace to warnings as well as errors.
	WarnStack bool
	Output    io.Writer
	// Format is json or console; empty reads MFGLEDGER_LOG_FORMAT.
	Format string
}

type Logger struct {
	base      zerolog.Logger
	warnStack bool
}

type ctxKey struct{}

func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.Format == "" {
		opts.Format = env.Get("MFGLEDGER_LOG_FORMAT", FormatJSON)
	}
	if opts.Format == FormatConsole {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	base := zerolog.New(out).Level(ParseLevel(opts.Level)).With().
		Timestamp().
		Str("service", opts.ServiceName).
		Logger()
	return &Logger{base: base, warnStack: opts.WarnStack}
}

// ParseLevel maps config strings onto zerolog levels, defaulting to info.
func ParseLevel(value string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *Logger) from(ctx context.Context) zerolog.Logger {
	if ctx != nil {
		if zl, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
			return zl
		}
	}
	return l.base
}

func (l *Logger) with(ctx context.Context, add func(zerolog.Context) zerolog.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey{}, add(l.from(ctx).With()).Logger())
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	return l.with(ctx, func(c zerolog.Context) zerolog.Context { return field(c, key, value) })
}

// WithFields attaches fields in key order so repeated lines stay diffable.
func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return l.with(ctx, func(c zerolog.Context) zerolog.Context {
		for _, k := range keys {
			c = field(c, k, fields[k])
		}
		return c
	})
}

func field(c zerolog.Context, key string, value any) zerolog.Context {
	switch v := value.(type) {
	case string:
		return c.Str(key, v)
	case fmt.Stringer:
		return c.Stringer(key, v)
	case error:
		return c.AnErr(key, v)
	default:
		return c.Interface(key, v)
	}
}

func (l *Logger) WithRequestID(ctx context.Context, requestID string) context.Context {
	return l.WithField(ctx, "request_id", requestID)
}

func (l *Logger) WithActorID(ctx context.Context, actorID string) context.Context {
	return l.WithField(ctx, "actor_id", actorID)
}

func (l *Logger) WithPlanID(ctx context.Context, planID string) context.Context {
	return l.WithField(ctx, "plan_id", planID)
}

// WithEventID tags the context with a production event id.
func (l *Logger) WithEventID(ctx context.Context, eventID string) context.Context {
	return l.WithField(ctx, "production_event_id", eventID)
}

func (l *Logger) WithMaterial(ctx context.Context, materialType, materialID string) context.Context {
	return l.with(ctx, func(c zerolog.Context) zerolog.Context {
		return c.Str("material_type", materialType).Str("material_id", materialID)
	})
}

func (l *Logger) Debug(ctx context.Context, msg string) {
	zl := l.from(ctx)
	zl.Debug().Msg(msg)
}

func (l *Logger) Info(ctx context.Context, msg string) {
	zl := l.from(ctx)
	zl.Info().Msg(msg)
}

func (l *Logger) Warn(ctx context.Context, msg string) {
	zl := l.from(ctx)
	ev := zl.Warn()
	if l.warnStack {
		ev = ev.Str("stack", stack())
	}
	ev.Msg(msg)
}

// Error always records a stack; err may be nil.
func (l *Logger) Error(ctx context.Context, msg string, err error) {
	zl := l.from(ctx)
	zl.Error().Err(err).Str("stack", stack()).Msg(msg)
}

func stack() string {
	return strings.TrimSpace(string(debug.Stack()))
}
