package serviceworker

import (
	"context"
	"sync"

	"github.com/cryguy/serviceworker/internal/core"
	"github.com/cryguy/serviceworker/internal/eventloop"
	"github.com/cryguy/serviceworker/internal/hostbridge"
)

// Environment runs code inside a worker scope the way a test runner's
// environment does: code sees the scope as its global object, plus a
// process object limited to an audited allow-list of host facilities.
type Environment struct {
	cfg    Config
	bridge *hostbridge.Bridge

	mu       sync.Mutex
	worker   *Worker
	tornDown bool
}

// NewEnvironment returns an Environment that is not yet set up.
func NewEnvironment(cfg Config) *Environment {
	cfg = cfg.WithDefaults()
	return &Environment{
		cfg:    cfg,
		bridge: hostbridge.New(cfg.Process, cfg.Logger.WithField("component", "environment")),
	}
}

// Setup builds the scope and installs the host bridge. Calling it again
// after success is a no-op. Setup after Teardown returns ErrTornDown.
func (e *Environment) Setup(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tornDown {
		return ErrTornDown
	}
	if e.worker != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w, err := New(e.cfg)
	if err != nil {
		return err
	}
	err = w.install(func(rt core.JSRuntime, el *eventloop.EventLoop) error {
		if err := e.bridge.Setup(rt, el); err != nil {
			return err
		}
		return rt.Eval(`Object.defineProperty(globalThis, 'global', { value: globalThis, writable: true, configurable: true, enumerable: false });`)
	})
	if err != nil {
		_ = w.Close()
		return err
	}
	e.worker = w
	return nil
}

// Teardown closes the scope. The Environment cannot be used afterwards.
func (e *Environment) Teardown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tornDown {
		return nil
	}
	e.tornDown = true
	w := e.worker
	e.worker = nil
	if w == nil {
		return nil
	}
	return w.Close()
}

// Worker returns the scope's Worker. It fails with ErrTornDown after
// Teardown and with ErrClosed before Setup.
func (e *Environment) Worker() (*Worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tornDown {
		return nil, ErrTornDown
	}
	if e.worker == nil {
		return nil, ErrClosed
	}
	return e.worker, nil
}

// RunScript evaluates src as a classic script and then runs the scope
// until it is idle.
func (e *Environment) RunScript(ctx context.Context, name, src string) error {
	w, err := e.Worker()
	if err != nil {
		return err
	}
	if err := w.LoadScript(name, src, ScriptClassic); err != nil {
		return err
	}
	return w.RunUntilIdle(ctx)
}

// Accesses returns the audited process accesses.
func (e *Environment) Accesses() []hostbridge.Access {
	return e.bridge.Accesses()
}
