package webapi

import (
	"fmt"
	"time"

	"github.com/cryguy/serviceworker/internal/core"
	"github.com/cryguy/serviceworker/internal/eventloop"
)

// Exception is an error funneled through the report-exception path:
// a throwing timer, microtask or event listener, or reportError().
type Exception struct {
	Name    string
	Message string
	Stack   string
	// Handled is set when an error listener cancelled the ErrorEvent.
	Handled bool
}

func (e Exception) String() string {
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

// ReportFunc observes reported exceptions.
type ReportFunc func(Exception)

// reportErrorJS defines ErrorEvent, reportError and __reportException.
// A report dispatches a cancelable "error" ErrorEvent on the global scope
// and then hands the outcome to the host. Re-entrant reports raised by
// error listeners skip the dispatch.
const reportErrorJS = `
(function() {

class ErrorEvent extends Event {
	constructor(type, init) {
		super(type, init);
		init = init || {};
		this.message = init.message !== undefined ? String(init.message) : '';
		this.filename = init.filename !== undefined ? String(init.filename) : '';
		this.lineno = init.lineno >>> 0;
		this.colno = init.colno >>> 0;
		this.error = init.error !== undefined ? init.error : null;
	}
	get [Symbol.toStringTag]() { return 'ErrorEvent'; }
}

function describe(err) {
	if (err !== null && typeof err === 'object') {
		return {
			name: err.name !== undefined ? String(err.name) : '',
			message: err.message !== undefined ? String(err.message) : String(err),
			stack: err.stack !== undefined ? String(err.stack) : ''
		};
	}
	return { name: '', message: String(err), stack: '' };
}

var reporting = false;

globalThis.__reportException = function(err) {
	var d = describe(err);
	var handled = false;
	if (!reporting && typeof globalThis.dispatchEvent === 'function') {
		reporting = true;
		try {
			var ev = new ErrorEvent('error', { error: err, message: d.message, cancelable: true });
			handled = !globalThis.dispatchEvent(ev);
		} catch (e) {
		} finally {
			reporting = false;
		}
	}
	__hostReportException(d.name, d.message, d.stack, handled);
};

globalThis.reportError = function(error) {
	if (arguments.length < 1) {
		throw new TypeError("Failed to execute 'reportError': 1 argument required, but only 0 present.");
	}
	globalThis.__reportException(error);
};

globalThis.ErrorEvent = ErrorEvent;

})();
`

// SetupReportError installs ErrorEvent, reportError and the internal
// report path. Unhandled reports are written to sink at "error" level,
// the way an uncaught error reaches the console. onReport, if set, sees
// every report.
func SetupReportError(sink core.ConsoleSink, onReport ReportFunc) func(core.JSRuntime, *eventloop.EventLoop) error {
	return func(rt core.JSRuntime, _ *eventloop.EventLoop) error {
		if err := rt.RegisterFunc("__hostReportException", func(name, message, stack string, handled bool) {
			exc := Exception{Name: name, Message: message, Stack: stack, Handled: handled}
			if !handled && sink != nil {
				msg := "Uncaught " + exc.String()
				if stack != "" {
					msg += "\n" + stack
				}
				sink.Console(core.LogEntry{Level: "error", Message: msg, Time: time.Now()})
			}
			if onReport != nil {
				onReport(exc)
			}
		}); err != nil {
			return err
		}
		if err := rt.Eval(reportErrorJS); err != nil {
			return fmt.Errorf("evaluating reporterror.js: %w", err)
		}
		return nil
	}
}
