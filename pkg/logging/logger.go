// Package logging sets up the zerolog logger shared by the OpenAlex client,
// the orchestrator and the gateway, and carries gateway request IDs through
// contexts.
//
// Every logger is tagged with the emitting component. Inside a gateway
// request, loggers obtained with FromContext also carry request_id, so one
// HTTP call can be followed through paginator, sweep and cache logs.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is a level name as written in configuration files.
type LogLevel string

const (
	// LevelDebug adds pages, cursors, cache hits and limiter waits.
	LevelDebug LogLevel = "debug"
	// LevelInfo adds sweeps, invalidations and handled gateway requests.
	LevelInfo LogLevel = "info"
	// LevelWarn covers retries, 429 cooldowns and partial results.
	LevelWarn LogLevel = "warn"
	// LevelError covers requests that failed for good.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	Level LogLevel `mapstructure:"level"`
	// Pretty switches from JSON lines to console output.
	Pretty bool `mapstructure:"pretty"`
	// Output defaults to os.Stderr.
	Output io.Writer `mapstructure:"-"`
}

// DefaultConfig returns JSON logging at info level on stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr}
}

// ParseLevel maps a configured level to zerolog. The empty level is info and
// "warning" is accepted for warn.
func ParseLevel(level LogLevel) (zerolog.Level, error) {
	name := strings.ToLower(strings.TrimSpace(string(level)))
	switch name {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	}
	l, err := zerolog.ParseLevel(name)
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
	return l, nil
}

// Setup installs the global logger. An unknown level falls back to info;
// configuration validation reports it before Setup runs.
func Setup(cfg Config) zerolog.Logger {
	level, _ := ParseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.TimeOnly}
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	return log.Logger
}

// NewLogger returns the global logger tagged with component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

type requestIDKey struct{}

// NewRequestID returns a fresh random request ID.
func NewRequestID() string {
	return uuid.NewString()
}

// WithRequestID attaches id, or a new one when id is empty, to ctx together
// with a logger carrying it as request_id.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = NewRequestID()
	}
	ctx = context.WithValue(ctx, requestIDKey{}, id)
	logger := log.With().Str("request_id", id).Logger()
	return logger.WithContext(ctx)
}

// RequestID returns the request ID stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// FromContext returns the request logger of ctx tagged with component, or
// NewLogger(component) outside a request.
func FromContext(ctx context.Context, component string) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l.With().Str("component", component).Logger()
	}
	return NewLogger(component)
}
