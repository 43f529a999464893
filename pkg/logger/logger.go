// Package logger holds the process-wide zerolog logger. Call Init once from
// main; components receive a child logger from Component or by injection.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options controls how Init builds the logger.
type Options struct {
	// Level is trace, debug, info, warn or error. Anything else means info.
	Level string
	// Pretty switches from JSON lines to coloured console output.
	Pretty bool
	// Output defaults to os.Stdout.
	Output io.Writer
	// Service and Version are attached to every entry when set.
	Service string
	Version string
}

var (
	mu       sync.RWMutex
	instance *zerolog.Logger
)

// Init builds the process logger from opts. Only the first call has any
// effect until Reset is called.
func Init(opts Options) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if instance == nil {
		l := build(opts)
		instance = &l
	}
	return *instance
}

// Get returns the process logger. It panics if Init has not run.
func Get() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if instance == nil {
		panic("logger: Get() called before Init()")
	}
	return *instance
}

// Component returns the process logger tagged with a component field.
func Component(name string) zerolog.Logger {
	return Get().With().Str("component", name).Logger()
}

// Reset discards the process logger. Tests only.
func Reset() {
	mu.Lock()
	instance = nil
	mu.Unlock()
}

func build(opts Options) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	lvl := parseLevel(opts.Level)
	zerolog.SetGlobalLevel(lvl)

	ctx := zerolog.New(out).Level(lvl).With().Timestamp()
	if opts.Service != "" {
		ctx = ctx.Str("service", opts.Service)
	}
	if opts.Version != "" {
		ctx = ctx.Str("version", opts.Version)
	}
	return ctx.Logger()
}

func parseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" || lvl < zerolog.TraceLevel || lvl > zerolog.ErrorLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
