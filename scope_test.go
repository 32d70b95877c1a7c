package serviceworker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScope_Identity(t *testing.T) {
	w, _ := newTestWorker(t)
	assert.True(t, evalBool(t, w, `self === globalThis`))
	assert.True(t, evalBool(t, w, `self instanceof ServiceWorkerGlobalScope`))
	assert.True(t, evalBool(t, w, `self instanceof EventTarget`))
	assert.Equal(t, "[object ServiceWorkerGlobalScope]", evalString(t, w, `Object.prototype.toString.call(self)`))
	assert.Equal(t, "TypeError", evalString(t, w, `(function() {
		try { new ServiceWorkerGlobalScope(); return 'none'; } catch (e) { return e.name; }
	})()`))
}

func TestScope_NoWindow(t *testing.T) {
	w, _ := newTestWorker(t)
	assert.Equal(t, "undefined", evalString(t, w, `typeof window`))
}

func TestScope_Constructors(t *testing.T) {
	w, _ := newTestWorker(t)
	for _, name := range []string{
		"Request", "Response", "Headers", "URL", "URLSearchParams",
		"ReadableStream", "WritableStream", "TransformStream",
		"TextEncoder", "TextDecoder", "AbortController", "AbortSignal",
		"Blob", "File", "FormData", "DOMException", "Event", "EventTarget",
		"ExtendableEvent", "FetchEvent", "ExtendableMessageEvent", "ErrorEvent",
		"fetch", "setTimeout", "setInterval", "clearTimeout", "clearInterval",
		"queueMicrotask", "structuredClone", "atob", "btoa", "reportError",
		"skipWaiting", "close", "postMessage", "MessageEvent", "CloseEvent",
		"FileReader", "FileList", "ProgressEvent",
	} {
		assert.Equal(t, "function", evalString(t, w, "typeof "+name), name)
	}
	assert.Equal(t, "object", evalString(t, w, `typeof crypto.subtle`))
}

func TestScope_GlobalsAreNotEnumerable(t *testing.T) {
	w, _ := newTestWorker(t)
	assert.Equal(t, "[]", evalString(t, w, `JSON.stringify(Object.keys(globalThis).filter(function(k) {
		return ['self', 'fetch', 'console', 'Request', 'Response', 'setTimeout', 'crypto', 'addEventListener'].indexOf(k) !== -1;
	}))`))
	assert.False(t, evalBool(t, w, `Object.getOwnPropertyDescriptor(globalThis, 'setTimeout').enumerable`))
	assert.False(t, evalBool(t, w, `Object.getOwnPropertyDescriptor(globalThis, 'fetch').enumerable`))
}

func TestScope_PostMessage(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
var got = [];
self.addEventListener('message', function(e) {
	got.push([e instanceof MessageEvent && !(e instanceof ExtendableEvent), JSON.stringify(e.data), e.origin].join(' '));
});
var payload = { n: 1 };
postMessage(payload);
payload.n = 2;
postMessage('elsewhere', 'https://other.example');
postMessage('star', '*');
postMessage('same', { targetOrigin: 'http://localhost' });
`)
	assert.Equal(t, "0", evalString(t, w, `String(got.length)`))
	require.NoError(t, w.RunUntilIdle(context.Background()))
	assert.Equal(t, `true {"n":1} http://localhost|true "star" http://localhost|true "same" http://localhost`,
		evalString(t, w, `got.join('|')`))

	assert.Equal(t, "SyntaxError", evalString(t, w, `(function() {
		try { postMessage('x', 'not a url'); return 'none'; } catch (e) { return e.name; }
	})()`))
	assert.Equal(t, "TypeError", evalString(t, w, `(function() {
		try { postMessage(); return 'none'; } catch (e) { return e.name; }
	})()`))
}

func TestScope_SkipWaiting(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `var skipped = false; skipWaiting().then(function(v) { skipped = v === undefined; });`)
	assert.True(t, evalBool(t, w, `skipped`))
}

func TestScope_HandlerSlots(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
var log = [];
self.oninstall = function(e) { log.push('first'); };
self.oninstall = function(e) { log.push('second'); };
self.addEventListener('install', function() { log.push('listener'); });
`)
	_, err := w.DispatchExtendable(context.Background(), "install")
	require.NoError(t, err)
	assert.Equal(t, "second,listener", evalString(t, w, `log.join(',')`))

	mustEval(t, w, `self.oninstall = 42; log = [];`)
	assert.True(t, evalBool(t, w, `self.oninstall === null`))
	_, err = w.DispatchExtendable(context.Background(), "install")
	require.NoError(t, err)
	assert.Equal(t, "listener", evalString(t, w, `log.join(',')`))
}

func TestScope_HandlerSlotsAreOwnProperties(t *testing.T) {
	w, _ := newTestWorker(t)
	for _, name := range []string{"oninstall", "onactivate", "onfetch", "onmessage", "onerror"} {
		assert.True(t, evalBool(t, w, `Object.prototype.hasOwnProperty.call(self, '`+name+`')`), name)
		assert.False(t, evalBool(t, w, `'`+name+`' in ServiceWorkerGlobalScope.prototype`), name)
		assert.True(t, evalBool(t, w, `typeof Object.getOwnPropertyDescriptor(self, '`+name+`').set === 'function'`), name)
	}
}

func TestScope_OnfetchSlot(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `onfetch = function(e) { e.respondWith(new Response('slot')); };`)
	res := dispatchFetch(t, w, getReq("http://localhost/"))
	require.NotNil(t, res.Response)
	assert.Equal(t, "slot", string(res.Response.Body))
}

func TestScope_OnerrorHandlesReport(t *testing.T) {
	w, sink := newTestWorker(t)
	loadScript(t, w, `
var seen;
self.onerror = function(message, filename, lineno, colno, error) {
	seen = message + '|' + (error instanceof RangeError);
	return true;
};
setTimeout(function() { throw new RangeError('out of range'); }, 0);
`)
	require.NoError(t, w.RunUntilIdle(context.Background()))
	assert.Equal(t, "out of range|true", evalString(t, w, `seen`))

	excs := w.Exceptions()
	require.Len(t, excs, 1)
	assert.True(t, excs[0].Handled)
	assert.Empty(t, messages(sink, "error"))
}

func TestScope_ReportErrorDispatchesErrorEvent(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
var got;
addEventListener('error', function(e) { got = e.message; e.preventDefault(); });
reportError(new Error('reported'));
`)
	assert.Equal(t, "reported", evalString(t, w, `got`))
}

func TestScope_QueueMicrotaskThrowIsReported(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
var after = false;
queueMicrotask(function() { throw new Error('micro'); });
queueMicrotask(function() { after = true; });
`)
	assert.True(t, evalBool(t, w, `after`))
	excs := w.Exceptions()
	require.Len(t, excs, 1)
	assert.Equal(t, "micro", excs[0].Message)
}

func TestScope_BareAddEventListener(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `addEventListener('fetch', function(e) { e.respondWith(new Response('bare')); });`)
	res := dispatchFetch(t, w, getReq("http://localhost/"))
	require.NotNil(t, res.Response)
	assert.Equal(t, "bare", string(res.Response.Body))
}

func TestScope_CloseStopsHandlers(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
var fired = false;
self.onfetch = function(e) { e.respondWith(new Response('open')); };
setTimeout(function() { fired = true; }, 10);
close();
`)
	assert.Equal(t, 0, w.PendingTimers())
	assert.Equal(t, "0", evalString(t, w, `String(setTimeout(function() { fired = true; }, 0))`))
	require.NoError(t, w.RunUntilIdle(context.Background()))
	assert.False(t, evalBool(t, w, `fired`))

	res := dispatchFetch(t, w, getReq("http://localhost/"))
	assert.False(t, res.Responded)
	assert.True(t, evalBool(t, w, `self.onfetch === null`))
}

// ---------------------------------------------------------------------------
// Timers
// ---------------------------------------------------------------------------

func TestTimers_ClearIntervalBeforeFire(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
var ticks = 0;
var id = setInterval(function() { ticks++; }, 10);
clearInterval(id);
`)
	require.NoError(t, w.RunUntilIdle(context.Background()))
	assert.Equal(t, "0", evalString(t, w, `String(ticks)`))
}

func TestTimers_IntervalRepeatsUntilCleared(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
var ticks = 0;
var id = setInterval(function() { if (++ticks === 3) clearInterval(id); }, 5);
`)
	require.NoError(t, w.RunUntilIdle(context.Background()))
	assert.Equal(t, "3", evalString(t, w, `String(ticks)`))
}

func TestTimers_NegativeDelayFires(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `var fired = false; setTimeout(function() { fired = true; }, -100);`)
	require.NoError(t, w.RunUntilIdle(context.Background()))
	assert.True(t, evalBool(t, w, `fired`))
}

func TestTimers_OutOfRangeDelaysWrap(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
var fired = [];
setTimeout(function() { fired.push('wrapped'); }, 4294967296 + 5);
setTimeout(function() { fired.push('negative'); }, 2147483648);
setTimeout(function() { fired.push('infinite'); }, Infinity);
setTimeout(function() { fired.push('nan'); }, 'soon');
`)
	require.NoError(t, w.RunUntilIdle(context.Background()))
	assert.Equal(t, "infinite,nan,negative,wrapped", evalString(t, w, `fired.sort().join(',')`))
	assert.Equal(t, 0, w.PendingTimers())
}

func TestTimers_HandlesAreIncreasing(t *testing.T) {
	w, _ := newTestWorker(t)
	assert.True(t, evalBool(t, w, `(function() {
		var a = setTimeout(function() {}, 1000);
		var b = setInterval(function() {}, 1000);
		var c = setTimeout(function() {}, 1000);
		clearTimeout(a); clearTimeout(b); clearInterval(c);
		return a > 0 && b > a && c > b;
	})()`))
	assert.Equal(t, 0, w.PendingTimers())
}

func TestTimers_ArgumentsAndStringHandler(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
var sum = 0, str = false;
setTimeout(function(a, b) { sum = a + b; }, 0, 2, 3);
setTimeout('str = true', 0);
`)
	require.NoError(t, w.RunUntilIdle(context.Background()))
	assert.Equal(t, "5", evalString(t, w, `String(sum)`))
	assert.True(t, evalBool(t, w, `str`))
}

// ---------------------------------------------------------------------------
// Console
// ---------------------------------------------------------------------------

func TestConsole_ForwardsToSink(t *testing.T) {
	w, sink := newTestWorker(t)
	loadScript(t, w, `
console.log('hello', 42);
console.warn('careful %s', 'now');
console.error(new Error('bad'));
console.assert(true, 'hidden');
console.assert(false, 'shown');
console.table([1, 2]);
`)
	assert.Equal(t, []string{"hello 42"}, messages(sink, "log"))
	assert.Equal(t, []string{"careful now"}, messages(sink, "warn"))
	require.Len(t, messages(sink, "error"), 1)
	assert.Contains(t, messages(sink, "error")[0], "bad")
	require.Len(t, messages(sink, "assert"), 1)
	assert.Contains(t, messages(sink, "assert")[0], "shown")
	assert.Len(t, messages(sink, "table"), 1)
}

// ---------------------------------------------------------------------------
// atob / btoa
// ---------------------------------------------------------------------------

func TestBase64_RoundTrip(t *testing.T) {
	w, _ := newTestWorker(t)
	assert.Equal(t, "aGVsbG8=", evalString(t, w, `btoa('hello')`))
	assert.Equal(t, "hello", evalString(t, w, `atob('aGVsbG8=')`))
	assert.Equal(t, "ÿþ", evalString(t, w, `atob(btoa('ÿþ'))`))
}

func TestBase64_InvalidInput(t *testing.T) {
	w, _ := newTestWorker(t)
	err := w.Eval(`atob('not base64!')`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCharacter)

	err = w.Eval(`btoa('Ā')`)
	assert.ErrorIs(t, err, ErrInvalidCharacter)

	assert.Equal(t, "5", evalString(t, w, `String(DOMException.INVALID_CHARACTER_ERR)`))
	assert.Equal(t, "11", evalString(t, w, `String(new DOMException('x', 'InvalidStateError').code)`))
}
