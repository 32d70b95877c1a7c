// Package serviceworker emulates a ServiceWorkerGlobalScope on an embedded
// JavaScript engine (QuickJS by default, V8 with -tags v8).
//
// A Worker owns one scope. Scripts are loaded into it with LoadScript and
// lifecycle or fetch events are delivered with the Dispatch methods, each
// of which waits for the event's waitUntil/respondWith extensions to
// settle before returning.
package serviceworker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cryguy/serviceworker/internal/core"
	"github.com/cryguy/serviceworker/internal/eventloop"
	"github.com/cryguy/serviceworker/internal/metrics"
	"github.com/cryguy/serviceworker/internal/scope"
	"github.com/cryguy/serviceworker/internal/webapi"
	"github.com/sirupsen/logrus"
)

// ScriptKind selects how LoadScript evaluates source.
type ScriptKind int

const (
	// ScriptClassic evaluates source as a classic script.
	ScriptClassic ScriptKind = iota
	// ScriptModule converts an ES module to a classic script first.
	ScriptModule
)

// Exception is an error reported by a throwing timer, microtask or event
// listener, or by reportError.
type Exception = webapi.Exception

// DispatchResult describes a dispatched event after its extensions
// drained.
type DispatchResult = scope.Result

// FetchOptions carries the client ids of a dispatched FetchEvent.
type FetchOptions = scope.FetchInit

// Worker is a service worker global scope together with the engine that
// runs it. Methods are safe for concurrent use; calls are serialized.
type Worker struct {
	mu sync.Mutex

	cfg        Config
	rt         core.JSRuntime
	el         *eventloop.EventLoop
	fetcher    *webapi.Fetcher
	dispatcher *scope.Dispatcher
	metrics    *metrics.Collectors
	log        *logrus.Entry

	closed     bool
	exceptions []Exception
}

// New creates an engine and builds a fresh scope on it.
func New(cfg Config) (*Worker, error) {
	cfg = cfg.WithDefaults()
	log := cfg.Logger.WithField("component", "worker")

	rt, err := newRuntime(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating %s runtime: %w", Engine, err)
	}
	w := &Worker{
		cfg:     cfg,
		rt:      rt,
		el:      eventloop.New(log),
		metrics: metrics.New(cfg.Registerer),
		log:     log,
	}
	w.fetcher = webapi.NewFetcher(webapi.FetchOptions{
		Timeout:          cfg.FetchTimeout,
		MaxFetches:       cfg.MaxFetches,
		MaxResponseBytes: cfg.MaxResponseBytes,
		AllowPrivate:     cfg.AllowPrivateFetch,
		Log:              log,
	})
	err = scope.Build(rt, w.el, scope.Options{
		ScopeURL: cfg.ScopeURL,
		Console:  cfg.Sink(),
		OnReport: w.report,
		Fetcher:  w.fetcher,
	})
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	w.dispatcher = scope.NewDispatcher(rt, w.el, w.fetcher, w.metrics, cfg.ExtendableTimeout, log)
	return w, nil
}

// report runs on the JS goroutine while mu is held.
func (w *Worker) report(exc Exception) {
	w.exceptions = append(w.exceptions, exc)
	w.metrics.ObserveException(exc.Handled)
	entry := w.log.WithFields(logrus.Fields{"exception": exc.Name, "handled": exc.Handled})
	if exc.Handled {
		entry.Debug(exc.Message)
	} else {
		entry.Warn(exc.Message)
	}
}

// Exceptions returns the exceptions reported so far.
func (w *Worker) Exceptions() []Exception {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Exception, len(w.exceptions))
	copy(out, w.exceptions)
	return out
}

// run executes fn with the engine under a watchdog. A run that exceeds
// limit is interrupted and the worker is closed, since an interrupted
// engine may hold half-updated state.
func (w *Worker) run(limit time.Duration, fn func() error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.runLocked(limit, fn)
}

// runLocked is run for callers that already hold mu.
func (w *Worker) runLocked(limit time.Duration, fn func() error) (err error) {
	var timedOut atomic.Bool
	fired := make(chan struct{})
	watchdog := time.AfterFunc(limit, func() {
		defer close(fired)
		timedOut.Store(true)
		w.rt.Interrupt()
	})
	defer func() {
		if !watchdog.Stop() {
			// The engine must not be disposed while Interrupt is running.
			<-fired
		}
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
		if timedOut.Load() {
			w.log.WithField("limit", limit).Warn("script execution timed out; closing worker")
			err = fmt.Errorf("script execution timed out (limit: %v): %w", limit, ErrTimeout)
			_ = w.shutdown()
		}
	}()
	return fn()
}

// LoadScript evaluates a worker script in the scope and runs the
// microtasks it queued.
func (w *Worker) LoadScript(name, source string, kind ScriptKind) error {
	if kind == ScriptModule {
		code, err := webapi.TransformModule(name, source)
		if err != nil {
			return err
		}
		source = code
	}
	return w.run(w.cfg.ExecutionTimeout, func() error {
		if err := w.rt.Eval(source); err != nil {
			return core.Errorf(err, "evaluating %s", name)
		}
		w.rt.RunMicrotasks()
		return nil
	})
}

// Eval evaluates js in the scope.
func (w *Worker) Eval(js string) error {
	return w.run(w.cfg.ExecutionTimeout, func() error {
		if err := w.rt.Eval(js); err != nil {
			return core.ClassifyJSError(err)
		}
		w.rt.RunMicrotasks()
		return nil
	})
}

// EvalString evaluates js and returns its result as a string.
func (w *Worker) EvalString(js string) (string, error) {
	var out string
	err := w.run(w.cfg.ExecutionTimeout, func() error {
		s, err := w.rt.EvalString(js)
		if err != nil {
			return core.ClassifyJSError(err)
		}
		out = s
		return nil
	})
	return out, err
}

// EvalBool evaluates js and returns its boolean result.
func (w *Worker) EvalBool(js string) (bool, error) {
	var out bool
	err := w.run(w.cfg.ExecutionTimeout, func() error {
		b, err := w.rt.EvalBool(js)
		if err != nil {
			return core.ClassifyJSError(err)
		}
		out = b
		return nil
	})
	return out, err
}

// RunUntilIdle runs microtasks, timers and fetches until none remain, ctx
// ends, or the extendable timeout passes. Intervals keep the loop busy
// until they are cleared.
func (w *Worker) RunUntilIdle(ctx context.Context) error {
	return w.run(w.cfg.ExtendableTimeout+w.cfg.ExecutionTimeout, func() error {
		deadline := time.Now().Add(w.cfg.ExtendableTimeout)
		if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
			deadline = dl
		}
		err := w.el.RunUntil(w.rt, deadline, func() (bool, error) {
			return !w.el.HasPending(), ctx.Err()
		})
		if err == eventloop.ErrStalled {
			return nil
		}
		return err
	})
}

// PendingTimers reports how many timers are armed.
func (w *Worker) PendingTimers() int {
	return w.el.Timers()
}

// DispatchExtendable dispatches an ExtendableEvent such as "install" or
// "activate" and waits for its extensions.
func (w *Worker) DispatchExtendable(ctx context.Context, eventType string) (*DispatchResult, error) {
	var res *DispatchResult
	err := w.run(w.dispatchLimit(), func() error {
		var err error
		res, err = w.dispatcher.DispatchExtendable(ctx, eventType)
		return err
	})
	return res, err
}

// DispatchMessage dispatches a "message" ExtendableMessageEvent. data must
// be JSON-encodable.
func (w *Worker) DispatchMessage(ctx context.Context, data any, origin string) (*DispatchResult, error) {
	var res *DispatchResult
	err := w.run(w.dispatchLimit(), func() error {
		var err error
		res, err = w.dispatcher.DispatchMessage(ctx, data, origin)
		return err
	})
	return res, err
}

// DispatchFetch dispatches a FetchEvent for req and waits for its
// extensions. A nil opts uses empty client ids. The result carries the
// substituted response when a handler produced one.
func (w *Worker) DispatchFetch(ctx context.Context, req *Request, opts *FetchOptions) (*DispatchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("dispatching fetch: nil request")
	}
	var init FetchOptions
	if opts != nil {
		init = *opts
	}
	var res *DispatchResult
	err := w.run(w.dispatchLimit(), func() error {
		var err error
		res, err = w.dispatcher.DispatchFetch(ctx, req, init)
		return err
	})
	return res, err
}

// dispatchLimit bounds a whole dispatch. The drain itself stops at the
// extendable timeout, so the watchdog only fires on runaway synchronous
// code.
func (w *Worker) dispatchLimit() time.Duration {
	return 2*w.cfg.ExtendableTimeout + w.cfg.ExecutionTimeout
}

// Close runs the scope's close steps, cancels in-flight fetches and
// disposes of the engine. It is safe to call more than once.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	err := w.runLocked(w.cfg.ExecutionTimeout, func() error {
		return w.rt.Eval(`__scopeInternals.close()`)
	})
	if err != nil {
		w.log.WithError(err).Warn("closing scope")
	}
	return w.shutdown()
}

func (w *Worker) shutdown() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.fetcher.Abort()
	w.el.Reset()
	return w.rt.Close()
}

// install runs an additional setup step against the engine.
func (w *Worker) install(setup func(core.JSRuntime, *eventloop.EventLoop) error) error {
	return w.run(w.cfg.ExecutionTimeout, func() error {
		return setup(w.rt, w.el)
	})
}
