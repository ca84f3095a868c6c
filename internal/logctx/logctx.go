// Package logctx carries a zerolog logger through context.Context.
//
// The pipeline enriches the logger as work fans out: the manager adds the
// endpoint, the fetcher adds the page, the materializer adds the table. Any
// function that takes a context can then log with the full lineage:
//
//	ctx = logctx.WithEndpoint(ctx, "/gov24/v3/serviceList")
//	ctx = logctx.WithInt(ctx, "page", 7)
//	log := logctx.FromContext(ctx)
//	log.Debug().Msg("page fetched")
package logctx

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type loggerKey struct{}

var (
	fallback     zerolog.Logger
	fallbackOnce sync.Once
)

func initFallback() {
	fallbackOnce.Do(func() {
		fallback = zerolog.New(os.Stderr).With().Timestamp().Logger()
	})
}

// DefaultLogger returns the logger used when a context carries none.
func DefaultLogger() zerolog.Logger {
	initFallback()
	return fallback
}

// SetDefaultLogger replaces the fallback logger. Call it from main before
// any goroutine starts logging.
func SetDefaultLogger(l zerolog.Logger) {
	initFallback()
	fallback = l
}

// WithLogger attaches logger to ctx. A nil ctx is treated as Background.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger attached to ctx, or the default logger.
// It never returns a disabled zero-value logger.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx == nil {
		return DefaultLogger()
	}
	if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
		return logger
	}
	return DefaultLogger()
}

// WithStr adds a string field to the context logger.
func WithStr(ctx context.Context, key, value string) context.Context {
	return WithLogger(ctx, FromContext(ctx).With().Str(key, value).Logger())
}

// WithInt adds an int field to the context logger.
func WithInt(ctx context.Context, key string, value int) context.Context {
	return WithLogger(ctx, FromContext(ctx).With().Int(key, value).Logger())
}

// WithEndpoint tags the context logger with an upstream endpoint path.
func WithEndpoint(ctx context.Context, path string) context.Context {
	return WithStr(ctx, "endpoint", path)
}

// WithTable tags the context logger with a materialized table name.
func WithTable(ctx context.Context, table string) context.Context {
	return WithStr(ctx, "table", table)
}

// NewConfiguredLogger builds a logger at debug or info level, writing JSON or,
// when human is set, a console format.
func NewConfiguredLogger(debug, human bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	var output zerolog.LevelWriter
	if human {
		output = zerolog.LevelWriterAdapter{Writer: zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}}
	} else {
		output = zerolog.LevelWriterAdapter{Writer: os.Stderr}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}
