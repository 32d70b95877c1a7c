package scope

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cryguy/serviceworker/internal/core"
	"github.com/cryguy/serviceworker/internal/eventloop"
	"github.com/cryguy/serviceworker/internal/webapi"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Observer receives the outcome of every dispatch.
type Observer interface {
	ObserveDispatch(eventType, outcome string, d time.Duration)
	ObserveExtensions(eventType string, fulfilled, rejected int)
}

// Outcomes reported to Observer.
const (
	OutcomeResponded = "responded"
	OutcomeErrored   = "errored"
	OutcomeUnhandled = "unhandled"
	OutcomeTimedOut  = "timed_out"
	OutcomeCompleted = "completed"
)

// Result describes one dispatched event after its extensions drained.
type Result struct {
	ID   string
	Type string

	// Responded is set when a handler entered respondWith.
	Responded bool
	// Errored is set when the respondWith promise rejected or resolved to
	// something other than a usable Response.
	Errored bool
	// TimedOut is set when the extensions did not drain in time. The event
	// stops accepting new extensions; pending ones are not aborted.
	TimedOut bool
	// Canceled is set when a listener called preventDefault.
	Canceled bool

	Response   *core.Response
	Rejections []string
	Fulfilled  int
	Duration   time.Duration
}

// FetchInit carries the client ids of a fetch event.
type FetchInit struct {
	ClientID          string
	ResultingClientID string
	ReplacesClientID  string
}

// dispatchJS constructs and dispatches an event, then starts draining it.
// The drain outcome is published on globalThis.__dispatchState.
const dispatchJS = `(function(kind, type, init) {
	var sw = globalThis.__scopeInternals;
	var ev;
	if (kind === 'fetch') {
		init.request = globalThis.__dispatchRequest;
		delete globalThis.__dispatchRequest;
		ev = new sw.FetchEvent(type, init);
	} else if (kind === 'message') {
		ev = new sw.ExtendableMessageEvent(type, init);
	} else {
		ev = new sw.ExtendableEvent(type, init);
	}
	var state = globalThis.__dispatchState = { done: false, fulfilled: 0, rejections: [] };
	globalThis.__dispatchEvent = ev;
	state.canceled = !sw.dispatch(ev);
	sw.drain(ev).then(function(results) {
		for (var i = 0; i < results.length; i++) {
			if (results[i].status === 'fulfilled') {
				state.fulfilled++;
				continue;
			}
			var r = results[i].reason;
			state.rejections.push(r instanceof Error ? r.name + ': ' + r.message : String(r));
		}
		state.done = true;
	});
})`

const dispatchSummaryJS = `(function() {
	var ev = globalThis.__dispatchEvent;
	var st = globalThis.__dispatchState;
	var isFetch = ev instanceof globalThis.__scopeInternals.FetchEvent;
	if (isFetch && ev._potentialResponse) globalThis.__dispatchResponse = ev._potentialResponse;
	return JSON.stringify({
		fulfilled: st.fulfilled,
		rejections: st.rejections,
		canceled: st.canceled,
		responded: isFetch && ev._respondWithEnteredFlag,
		errored: isFetch && ev._respondWithErrorFlag,
		hasResponse: isFetch && !!ev._potentialResponse
	});
})()`

type summary struct {
	Fulfilled   int      `json:"fulfilled"`
	Rejections  []string `json:"rejections"`
	Canceled    bool     `json:"canceled"`
	Responded   bool     `json:"responded"`
	Errored     bool     `json:"errored"`
	HasResponse bool     `json:"hasResponse"`
}

// Dispatcher delivers events to the scope built on rt. It is not safe
// for concurrent use; the owner serializes calls.
type Dispatcher struct {
	rt       core.JSRuntime
	el       *eventloop.EventLoop
	fetcher  *webapi.Fetcher
	observer Observer
	timeout  time.Duration
	log      *logrus.Entry
}

// NewDispatcher creates a dispatcher whose extensions may run for at most
// timeout after dispatch begins. fetcher and observer may be nil.
func NewDispatcher(rt core.JSRuntime, el *eventloop.EventLoop, fetcher *webapi.Fetcher, observer Observer, timeout time.Duration, log *logrus.Entry) *Dispatcher {
	if timeout <= 0 {
		timeout = core.DefaultExtendableTimeout
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{
		rt:       rt,
		el:       el,
		fetcher:  fetcher,
		observer: observer,
		timeout:  timeout,
		log:      log.WithField("component", "dispatch"),
	}
}

// DispatchExtendable dispatches a plain ExtendableEvent such as install
// or activate.
func (d *Dispatcher) DispatchExtendable(ctx context.Context, eventType string) (*Result, error) {
	return d.dispatch(ctx, "extendable", eventType, map[string]any{})
}

// DispatchMessage dispatches an ExtendableMessageEvent carrying data.
func (d *Dispatcher) DispatchMessage(ctx context.Context, data any, origin string) (*Result, error) {
	return d.dispatch(ctx, "message", "message", map[string]any{"data": data, "origin": origin})
}

// DispatchFetch dispatches a FetchEvent for req. Navigation requests get
// a fresh resultingClientId unless init supplies one.
func (d *Dispatcher) DispatchFetch(ctx context.Context, req *core.Request, init FetchInit) (*Result, error) {
	if init.ResultingClientID == "" && req.Mode == "navigate" {
		init.ResultingClientID = uuid.NewString()
	}
	if err := webapi.RequestToJS(d.rt, req, "__dispatchRequest"); err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	return d.dispatch(ctx, "fetch", "fetch", map[string]any{
		"clientId":          init.ClientID,
		"resultingClientId": init.ResultingClientID,
		"replacesClientId":  init.ReplacesClientID,
		"cancelable":        true,
	})
}

func (d *Dispatcher) dispatch(ctx context.Context, kind, eventType string, init map[string]any) (*Result, error) {
	start := time.Now()
	res := &Result{ID: uuid.NewString(), Type: eventType}
	log := d.log.WithFields(logrus.Fields{"event": eventType, "dispatch": res.ID})

	initJSON, err := json.Marshal(init)
	if err != nil {
		return nil, fmt.Errorf("encoding event init: %w", err)
	}
	if d.fetcher != nil {
		d.fetcher.ResetCount()
	}
	defer func() {
		_ = d.rt.Eval(`delete globalThis.__dispatchEvent; delete globalThis.__dispatchState; delete globalThis.__dispatchResponse;`)
	}()

	if err := d.rt.Eval(fmt.Sprintf("%s(%q, %q, %s)", dispatchJS, kind, eventType, initJSON)); err != nil {
		return nil, core.ClassifyJSError(fmt.Errorf("dispatching %s: %w", eventType, err))
	}

	deadline := start.Add(d.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	err = d.el.RunUntil(d.rt, deadline, func() (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		return d.rt.EvalBool(`globalThis.__dispatchState.done`)
	})
	switch {
	case err == nil:
	case errors.Is(err, core.ErrTimeout), errors.Is(err, eventloop.ErrStalled):
		res.TimedOut = true
		if err := d.rt.Eval(`__scopeInternals.timeOut(globalThis.__dispatchEvent)`); err != nil {
			return nil, err
		}
		log.WithError(err).Warn("extensions did not settle")
	default:
		_ = d.rt.Eval(`__scopeInternals.timeOut(globalThis.__dispatchEvent)`)
		return nil, err
	}

	raw, err := d.rt.EvalString(dispatchSummaryJS)
	if err != nil {
		return nil, fmt.Errorf("reading dispatch outcome: %w", err)
	}
	var sum summary
	if err := json.Unmarshal([]byte(raw), &sum); err != nil {
		return nil, fmt.Errorf("parsing dispatch outcome: %w", err)
	}
	res.Fulfilled = sum.Fulfilled
	res.Rejections = sum.Rejections
	res.Canceled = sum.Canceled
	res.Responded = sum.Responded
	res.Errored = sum.Errored

	if sum.HasResponse {
		resp, err := webapi.ResponseFromJS(d.rt, d.el, "__dispatchResponse", time.Now().Add(d.timeout))
		if err != nil {
			res.Errored = true
			log.WithError(err).Warn("reading response")
		} else {
			res.Response = resp
		}
	}
	res.Duration = time.Since(start)

	for _, r := range res.Rejections {
		log.WithField("reason", r).Info("extension rejected")
	}
	if d.observer != nil {
		d.observer.ObserveExtensions(eventType, res.Fulfilled, len(res.Rejections))
		d.observer.ObserveDispatch(eventType, res.outcome(), res.Duration)
	}
	log.WithFields(logrus.Fields{
		"outcome":  res.outcome(),
		"duration": res.Duration,
	}).Debug("dispatched")
	return res, nil
}

func (r *Result) outcome() string {
	switch {
	case r.TimedOut:
		return OutcomeTimedOut
	case r.Errored:
		return OutcomeErrored
	case r.Response != nil:
		return OutcomeResponded
	case r.Type == "fetch":
		return OutcomeUnhandled
	}
	return OutcomeCompleted
}

func jsStringArray(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}
