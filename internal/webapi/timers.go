package webapi

import (
	"time"

	"github.com/cryguy/serviceworker/internal/core"
	"github.com/cryguy/serviceworker/internal/eventloop"
)

// timersJS keeps the callback half of every timer keyed by the handle the
// event loop allocated. setTimeout and setInterval share one handle space,
// so either clear function cancels either kind. String handlers are
// evaluated in global scope when they fire. Throwing callbacks are
// reported, never rethrown to the loop.
const timersJS = `
(function() {
	var callbacks = new Map();

	function schedule(repeat, handler, timeout, args) {
		if (globalThis.__scopeClosed) return 0;
		var fn = handler;
		if (typeof fn !== 'function') {
			var source = String(handler);
			fn = function() { (0, eval)(source); };
		}
		// WebIDL long: non-finite becomes 0 and larger values wrap.
		var delay = Number(timeout) | 0;
		var id = __timerSchedule(delay, repeat);
		callbacks.set(id, { fn: fn, args: args, repeat: repeat });
		return id;
	}

	function clear(id) {
		id = Number(id);
		if (callbacks.delete(id)) __timerCancel(id);
	}

	globalThis.setTimeout = function(handler, timeout) {
		return schedule(false, handler, timeout, Array.prototype.slice.call(arguments, 2));
	};
	globalThis.setInterval = function(handler, timeout) {
		return schedule(true, handler, timeout, Array.prototype.slice.call(arguments, 2));
	};
	globalThis.clearTimeout = function(id) { clear(id); };
	globalThis.clearInterval = function(id) { clear(id); };

	globalThis.__timerFire = function(id) {
		var entry = callbacks.get(id);
		if (!entry) return;
		if (!entry.repeat) callbacks.delete(id);
		try {
			entry.fn.apply(globalThis, entry.args);
		} catch (err) {
			__reportException(err);
		}
	};

	globalThis.__timerClearAll = function() {
		callbacks.clear();
		__timerCancelAll();
	};
})();
`

// SetupTimers installs setTimeout/setInterval/clearTimeout/clearInterval
// over the event loop's timer registry.
func SetupTimers(rt core.JSRuntime, el *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__timerSchedule", func(delayMs int, repeat bool) int {
		return el.Schedule(time.Duration(delayMs)*time.Millisecond, repeat)
	}); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__timerCancel", func(id int) {
		el.Cancel(id)
	}); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__timerCancelAll", func() {
		el.ClearTimers()
	}); err != nil {
		return err
	}
	return rt.Eval(timersJS)
}
