package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Config holds the settings shared by every layer of a worker scope.
type Config struct {
	// ScopeURL is the request-context URL of the scope. Relative URLs
	// handed to fetch, Request and Response resolve against it.
	ScopeURL string

	// Console receives every console façade call. Nil means LogrusSink
	// over Logger, resolved when the worker is built.
	Console ConsoleSink

	// Logger is the structured logger for host-side diagnostics.
	Logger *logrus.Logger

	MemoryLimitMB     int           // per-engine heap limit, 0 for none
	ExecutionTimeout  time.Duration // synchronous script evaluation limit
	ExtendableTimeout time.Duration // how long a dispatch waits for extensions
	FetchTimeout      time.Duration // per outbound fetch
	MaxFetches        int           // outbound fetches per dispatch
	MaxResponseBytes  int64         // fetch response body cap

	// AllowPrivateFetch disables the private-address guard on fetch.
	AllowPrivateFetch bool

	// Registerer receives the dispatch collectors. Nil leaves them
	// unregistered.
	Registerer prometheus.Registerer

	// Process backs the process object of an Environment. Nil means the
	// running Go program.
	Process Process
}

// Defaults for zero-valued Config fields.
const (
	DefaultScopeURL          = "http://localhost/"
	DefaultExecutionTimeout  = 5 * time.Second
	DefaultExtendableTimeout = 30 * time.Second
	DefaultFetchTimeout      = 30 * time.Second
	DefaultMaxFetches        = 50
	DefaultMaxResponseBytes  = 10 << 20
)

// WithDefaults returns a copy of c with zero fields filled in. Console is
// left nil so it keeps following Logger; see Sink.
func (c Config) WithDefaults() Config {
	if c.ScopeURL == "" {
		c.ScopeURL = DefaultScopeURL
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = DefaultExecutionTimeout
	}
	if c.ExtendableTimeout <= 0 {
		c.ExtendableTimeout = DefaultExtendableTimeout
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.MaxFetches <= 0 {
		c.MaxFetches = DefaultMaxFetches
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = DefaultMaxResponseBytes
	}
	return c
}

// Sink returns Console, or a LogrusSink over Logger when Console is nil.
func (c Config) Sink() ConsoleSink {
	if c.Console != nil {
		return c.Console
	}
	if c.Logger == nil {
		return NewLogrusSink(logrus.StandardLogger())
	}
	return NewLogrusSink(c.Logger)
}
