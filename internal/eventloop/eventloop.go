package eventloop

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cryguy/serviceworker/internal/core"
	"github.com/sirupsen/logrus"
)

// ErrStalled is returned by RunUntil when nothing is scheduled that could
// still satisfy the condition.
var ErrStalled = errors.New("eventloop: condition unmet with no pending work")

// FetchResult holds the pre-serialized outcome of an in-flight HTTP fetch.
// The fetch goroutine reads and encodes the body before sending, so the
// loop only passes strings to JS.
type FetchResult struct {
	Status      int
	StatusText  string
	HeadersJSON string
	BodyB64     string
	Redirected  bool
	FinalURL    string
	Err         error
}

// PendingFetch is an in-flight HTTP request whose result is delivered to
// JS on the loop goroutine.
type PendingFetch struct {
	ResultCh <-chan FetchResult
	FetchID  string
}

// timer is the scheduling half of a setTimeout/setInterval handle. The
// callback itself stays in the JS registry under the same handle.
type timer struct {
	id       int
	deadline time.Time
	interval time.Duration
	repeat   bool
}

// EventLoop owns the timer registry (handle → timer) and the pending
// fetch queue of one scope. JS engines are single-threaded, so every
// method that takes a core.JSRuntime must run on the runtime's goroutine.
type EventLoop struct {
	mu             sync.Mutex
	timers         map[int]*timer
	nextID         int
	pendingFetches []*PendingFetch
	log            *logrus.Entry
}

// New creates an empty loop. A nil logger falls back to the standard logger.
func New(log *logrus.Entry) *EventLoop {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &EventLoop{
		timers: make(map[int]*timer),
		log:    log.WithField("component", "eventloop"),
	}
}

// Schedule arms a one-shot timer, or a repeating one when repeat is set,
// and returns its handle. Handles increase monotonically for the life of
// the loop. Negative delays are clamped to zero.
func (el *EventLoop) Schedule(delay time.Duration, repeat bool) int {
	if delay < 0 {
		delay = 0
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	el.nextID++
	t := &timer{
		id:       el.nextID,
		deadline: time.Now().Add(delay),
		repeat:   repeat,
	}
	if repeat {
		t.interval = delay
	}
	el.timers[t.id] = t
	return t.id
}

// Cancel evicts a timer. It reports whether the handle was registered.
func (el *EventLoop) Cancel(id int) bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	if _, ok := el.timers[id]; !ok {
		return false
	}
	delete(el.timers, id)
	return true
}

// Has reports whether id is still registered.
func (el *EventLoop) Has(id int) bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	_, ok := el.timers[id]
	return ok
}

// Timers returns the number of registered timers.
func (el *EventLoop) Timers() int {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.timers)
}

// ClearTimers evicts every timer. Handle numbering is not reset.
func (el *EventLoop) ClearTimers() {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.timers = make(map[int]*timer)
}

// AddPendingFetch queues a fetch whose result is delivered to JS when
// the HTTP response arrives.
func (el *EventLoop) AddPendingFetch(pf *PendingFetch) {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.pendingFetches = append(el.pendingFetches, pf)
}

// DrainPendingFetches does non-blocking reads on all pending fetch channels
// and settles the matching JS promises. It reports whether any completed.
func (el *EventLoop) DrainPendingFetches(rt core.JSRuntime) bool {
	el.mu.Lock()
	if len(el.pendingFetches) == 0 {
		el.mu.Unlock()
		return false
	}
	pending := el.pendingFetches
	el.pendingFetches = nil
	el.mu.Unlock()

	var remaining []*PendingFetch
	didWork := false
	for _, pf := range pending {
		select {
		case result := <-pf.ResultCh:
			var js string
			if result.Err != nil {
				js = fmt.Sprintf(`globalThis.__fetchReject(%q, %q)`, pf.FetchID, result.Err.Error())
			} else {
				js = fmt.Sprintf(`globalThis.__fetchResolve(%q, %d, %q, %q, %q, %v, %q)`,
					pf.FetchID, result.Status, result.StatusText,
					result.HeadersJSON, result.BodyB64,
					result.Redirected, result.FinalURL)
			}
			if err := rt.Eval(js); err != nil {
				el.log.WithError(err).WithField("fetch", pf.FetchID).Warn("settling fetch")
			}
			rt.RunMicrotasks()
			didWork = true
		default:
			remaining = append(remaining, pf)
		}
	}

	el.mu.Lock()
	// Settled fetches may have started new ones.
	el.pendingFetches = append(remaining, el.pendingFetches...)
	el.mu.Unlock()
	return didWork
}

// HasPending reports whether any timer or fetch is outstanding.
func (el *EventLoop) HasPending() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.timers) > 0 || len(el.pendingFetches) > 0
}

// Reset clears timers and abandons pending fetches.
func (el *EventLoop) Reset() {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.timers = make(map[int]*timer)
	el.pendingFetches = nil
}

func (el *EventLoop) nextDeadline() (time.Time, bool) {
	el.mu.Lock()
	defer el.mu.Unlock()
	var next time.Time
	found := false
	for _, t := range el.timers {
		if !found || t.deadline.Before(next) {
			next = t.deadline
			found = true
		}
	}
	return next, found
}

func (el *EventLoop) fetchesPending() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.pendingFetches) > 0
}

// due returns the handles whose deadline has passed, oldest first.
func (el *EventLoop) due(now time.Time) []int {
	el.mu.Lock()
	defer el.mu.Unlock()
	var ready []*timer
	for _, t := range el.timers {
		if !t.deadline.After(now) {
			ready = append(ready, t)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].deadline.Equal(ready[j].deadline) {
			return ready[i].id < ready[j].id
		}
		return ready[i].deadline.Before(ready[j].deadline)
	})
	ids := make([]int, len(ready))
	for i, t := range ready {
		ids[i] = t.id
	}
	return ids
}

// runDue fires every timer that is due. Membership is checked again
// before each firing because an earlier callback in the same pass may
// have cleared a later timer.
func (el *EventLoop) runDue(rt core.JSRuntime) {
	for _, id := range el.due(time.Now()) {
		el.mu.Lock()
		t, ok := el.timers[id]
		if ok && !t.repeat {
			delete(el.timers, id)
		}
		el.mu.Unlock()
		if !ok {
			continue
		}

		el.fire(rt, id)
		rt.RunMicrotasks()

		if t.repeat {
			// Re-arm only if the callback did not clear its own handle.
			el.mu.Lock()
			if cur, ok := el.timers[id]; ok && cur == t {
				t.deadline = time.Now().Add(t.interval)
			}
			el.mu.Unlock()
		}
	}
}

// fire invokes the JS-side callback for id. Exceptions thrown by the
// callback are reported inside JS, so an error here means the engine
// itself failed.
func (el *EventLoop) fire(rt core.JSRuntime, id int) {
	if err := rt.Eval(fmt.Sprintf(`globalThis.__timerFire(%d)`, id)); err != nil {
		el.log.WithError(err).WithField("handle", id).Warn("timer callback")
	}
}

// Step runs whatever is ready next: completed fetches first, then due
// timers. If nothing is ready it sleeps until the earliest timer, polling
// fetches, but never past deadline. It returns false once nothing is
// pending or the deadline has passed.
func (el *EventLoop) Step(rt core.JSRuntime, deadline time.Time) bool {
	if el.DrainPendingFetches(rt) {
		return true
	}
	next, hasTimer := el.nextDeadline()
	hasFetches := el.fetchesPending()
	if !hasTimer && !hasFetches {
		return false
	}

	now := time.Now()
	if !now.Before(deadline) {
		return false
	}
	if hasTimer && !next.After(now) {
		el.runDue(rt)
		return true
	}

	wake := deadline
	if hasTimer && next.Before(wake) {
		wake = next
	}
	wait := wake.Sub(now)
	if hasFetches && wait > time.Millisecond {
		wait = time.Millisecond
	}
	time.Sleep(wait)
	return true
}

// RunUntil pumps microtasks, fetches and timers until done reports true.
// It returns core.ErrTimeout at the deadline and ErrStalled when no
// pending work remains that could change the outcome.
func (el *EventLoop) RunUntil(rt core.JSRuntime, deadline time.Time, done func() (bool, error)) error {
	for {
		rt.RunMicrotasks()
		ok, err := done()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !el.Step(rt, deadline) {
			rt.RunMicrotasks()
			if ok, err := done(); err != nil || ok {
				return err
			}
			if !time.Now().Before(deadline) {
				return core.ErrTimeout
			}
			return ErrStalled
		}
	}
}
