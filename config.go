package serviceworker

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cryguy/serviceworker/internal/core"
	"github.com/sirupsen/logrus"
)

// Config configures a Worker. The zero value is usable; unset fields take
// the defaults listed in DefaultConfig.
type Config = core.Config

// Process is the host-process view behind the scope's process object.
type Process = core.Process

// ConsoleSink receives console façade calls.
type ConsoleSink = core.ConsoleSink

// ConsoleFunc adapts a function to ConsoleSink.
type ConsoleFunc = core.ConsoleFunc

// LogEntry is one console façade call.
type LogEntry = core.LogEntry

// BufferSink collects console entries in memory.
type BufferSink = core.BufferSink

// Request is an HTTP request dispatched as a FetchEvent.
type Request = core.Request

// Response is the response a FetchEvent produced.
type Response = core.Response

// JSError is an exception raised by hosted code.
type JSError = core.JSError

// Sentinel errors. Exceptions thrown by hosted code are classified by
// DOMException name, so errors.Is(err, ErrInvalidState) holds for an
// InvalidStateError raised by waitUntil or respondWith.
var (
	ErrInvalidState     = core.ErrInvalidState
	ErrInvalidCharacter = core.ErrInvalidCharacter
	ErrTimeout          = core.ErrTimeout
	ErrClosed           = core.ErrClosed
	ErrTornDown         = core.ErrTornDown
	ErrNoResponse       = core.ErrNoResponse
)

// NewLogrusSink returns a console sink that writes entries to l.
func NewLogrusSink(l *logrus.Logger) ConsoleSink { return core.NewLogrusSink(l) }

// DefaultConfig returns a Config with every default filled in. Console
// stays nil, so console output follows whatever Logger ends up set.
func DefaultConfig() Config {
	return Config{}.WithDefaults()
}

// ConfigFromEnv returns DefaultConfig overlaid with the SW_* environment
// variables. Unset variables keep their defaults; malformed ones are an
// error.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("SW_SCOPE_URL"); v != "" {
		cfg.ScopeURL = v
	}
	if err := envInt("SW_MEMORY_LIMIT_MB", &cfg.MemoryLimitMB); err != nil {
		return cfg, err
	}
	if err := envInt("SW_MAX_FETCHES", &cfg.MaxFetches); err != nil {
		return cfg, err
	}
	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"SW_EXECUTION_TIMEOUT_MS", &cfg.ExecutionTimeout},
		{"SW_EXTENDABLE_TIMEOUT_MS", &cfg.ExtendableTimeout},
		{"SW_FETCH_TIMEOUT_MS", &cfg.FetchTimeout},
	} {
		var ms int
		if err := envInt(d.key, &ms); err != nil {
			return cfg, err
		}
		if ms > 0 {
			*d.dst = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("SW_ALLOW_PRIVATE_FETCH"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid SW_ALLOW_PRIVATE_FETCH %q: %w", v, err)
		}
		cfg.AllowPrivateFetch = b
	}
	if v := os.Getenv("SW_LOG_LEVEL"); v != "" {
		level, err := logrus.ParseLevel(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid SW_LOG_LEVEL %q: %w", v, err)
		}
		cfg.Logger = logrus.New()
		cfg.Logger.SetLevel(level)
	}
	return cfg, nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}
