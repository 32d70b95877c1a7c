package serviceworker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtendableEvent_WaitUntilExtendsDispatch(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
var order = [];
self.addEventListener('install', function(e) {
	e.waitUntil(new Promise(function(resolve) {
		setTimeout(function() { order.push('slow'); resolve(); }, 30);
	}));
	e.waitUntil(Promise.resolve().then(function() { order.push('fast'); }));
});
`)
	res, err := w.DispatchExtendable(context.Background(), "install")
	require.NoError(t, err)
	assert.False(t, res.TimedOut)
	assert.Equal(t, 2, res.Fulfilled)
	assert.Empty(t, res.Rejections)
	assert.Equal(t, "fast,slow", evalString(t, w, `order.join(',')`))
}

func TestExtendableEvent_NestedWaitUntilIsDrained(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
var inner = false;
self.addEventListener('activate', function(e) {
	e.waitUntil(new Promise(function(resolve) {
		setTimeout(function() {
			e.waitUntil(new Promise(function(r) {
				setTimeout(function() { inner = true; r(); }, 10);
			}));
			resolve();
		}, 10);
	}));
});
`)
	res, err := w.DispatchExtendable(context.Background(), "activate")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Fulfilled)
	assert.True(t, evalBool(t, w, `inner`))
}

func TestExtendableEvent_PendingCount(t *testing.T) {
	w, _ := newTestWorker(t)
	mustEval(t, w, `
var ev = new ExtendableEvent('install');
var resolveIt;
ev.waitUntil(new Promise(function(r) { resolveIt = r; }));
ev.waitUntil(new Promise(function() {}));
var before = ev._pendingPromisesCount;
resolveIt();
`)
	assert.Equal(t, "2", evalString(t, w, `String(before)`))
	assert.Equal(t, "1", evalString(t, w, `String(ev._pendingPromisesCount)`))
}

func TestExtendableEvent_PendingCountAfterRejection(t *testing.T) {
	w, _ := newTestWorker(t)
	mustEval(t, w, `
var ev = new ExtendableEvent('install');
var rejectIt, resolveIt;
ev.waitUntil(new Promise(function(_, r) { rejectIt = r; }));
ev.waitUntil(new Promise(function(r) { resolveIt = r; }));
rejectIt(new Error('nope'));
`)
	assert.Equal(t, "1", evalString(t, w, `String(ev._pendingPromisesCount)`))
	mustEval(t, w, `resolveIt();`)
	assert.Equal(t, "0", evalString(t, w, `String(ev._pendingPromisesCount)`))
}

func TestExtendableEvent_WaitUntilAfterDrainIsInvalidState(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
var saved;
self.addEventListener('install', function(e) { saved = e; });
`)
	_, err := w.DispatchExtendable(context.Background(), "install")
	require.NoError(t, err)

	err = w.Eval(`saved.waitUntil(Promise.resolve())`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidState), "got %v", err)
	assert.Contains(t, err.Error(), "The event handler is already finished.")
}

func TestExtendableEvent_WaitUntilInsideSettledExtension(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
var late = 'unset';
self.addEventListener('install', function(e) {
	var p = Promise.resolve();
	e.waitUntil(p);
	p.then(function() {
		try { e.waitUntil(Promise.resolve()); late = 'ok'; } catch (err) { late = err.name; }
	});
});
`)
	_, err := w.DispatchExtendable(context.Background(), "install")
	require.NoError(t, err)
	assert.Equal(t, "ok", evalString(t, w, `late`))
}

func TestExtendableEvent_RejectionsAreCollected(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
self.addEventListener('install', function(e) {
	e.waitUntil(Promise.reject(new Error('cache failed')));
	e.waitUntil(Promise.resolve(1));
});
`)
	res, err := w.DispatchExtendable(context.Background(), "install")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fulfilled)
	assert.Equal(t, []string{"Error: cache failed"}, res.Rejections)
}

func TestExtendableEvent_Timeout(t *testing.T) {
	cfg := testCfg(&BufferSink{})
	cfg.ExtendableTimeout = 100 * time.Millisecond
	w, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, w.LoadScript("sw.js", `
var saved;
self.addEventListener('install', function(e) {
	saved = e;
	e.waitUntil(new Promise(function(resolve) { setTimeout(resolve, 5000); }));
});
`, ScriptClassic))
	res, err := w.DispatchExtendable(context.Background(), "install")
	require.NoError(t, err)
	assert.True(t, res.TimedOut)

	err = w.Eval(`saved.waitUntil(Promise.resolve())`)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestExtendableEvent_ContextCanceled(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
self.addEventListener('install', function(e) {
	e.waitUntil(new Promise(function(resolve) { setTimeout(resolve, 5000); }));
});
`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.DispatchExtendable(ctx, "install")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtendableEvent_ConstructedOutsideDispatchIsActive(t *testing.T) {
	w, _ := newTestWorker(t)
	assert.True(t, evalBool(t, w, `(function() {
		var ev = new ExtendableEvent('custom');
		ev.waitUntil(Promise.resolve());
		return ev._pendingPromisesCount === 1;
	})()`))
}

func TestExtendableMessageEvent(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
var got;
self.onmessage = function(e) {
	got = e.data.greeting + ' from ' + e.origin;
	e.waitUntil(Promise.resolve());
};
`)
	res, err := w.DispatchMessage(context.Background(), map[string]any{"greeting": "hi"}, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fulfilled)
	assert.Equal(t, "hi from https://example.com", evalString(t, w, `got`))
}

func TestMessageEvent(t *testing.T) {
	w, _ := newTestWorker(t)
	assert.Equal(t, "message|{\"a\":1}|https://a.example|7|0|false", evalString(t, w, `(function() {
		var e = new MessageEvent('message', { data: { a: 1 }, origin: 'https://a.example', lastEventId: 7 });
		return [e.type, JSON.stringify(e.data), e.origin, e.lastEventId, e.ports.length, e instanceof ExtendableEvent].join('|');
	})()`))
	assert.Equal(t, "ping|true|null|x", evalString(t, w, `(function() {
		var e = new MessageEvent('message');
		e.initMessageEvent('ping', false, true, 'x');
		return [e.type, e.cancelable, String(e.source), e.data].join('|');
	})()`))
	assert.Equal(t, "TypeError", evalString(t, w, `(function() {
		try { new MessageEvent(); return 'none'; } catch (e) { return e.name; }
	})()`))
}

// ---------------------------------------------------------------------------
// FetchEvent.respondWith
// ---------------------------------------------------------------------------

func TestFetchEvent_RespondWithResponse(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
self.addEventListener('fetch', function(e) {
	e.respondWith(new Response('X', { status: 201, headers: { 'content-type': 'text/plain' } }));
});
`)
	res := dispatchFetch(t, w, getReq("http://localhost/a"))
	assert.True(t, res.Responded)
	assert.False(t, res.Errored)
	require.NotNil(t, res.Response)
	assert.Equal(t, 201, res.Response.StatusCode)
	assert.Equal(t, "X", string(res.Response.Body))
	assert.Equal(t, "text/plain", res.Response.Header("content-type"))
	assert.NotEmpty(t, res.ID)
}

func TestFetchEvent_RespondWithCopiesResponse(t *testing.T) {
	w, _ := newTestWorker(t)
	mustEval(t, w, `
var original = new Response('payload', { status: 202, headers: { 'x-a': '1' } });
var ev = new FetchEvent('fetch', { request: new Request('http://localhost/') });
ev.respondWith(original);
`)
	assert.True(t, evalBool(t, w, `ev._potentialResponse !== null && ev._potentialResponse !== original`))
	assert.True(t, evalBool(t, w, `ev._potentialResponse.status === 202`))
	assert.False(t, evalBool(t, w, `original.bodyUsed`))

	mustEval(t, w, `ev._potentialResponse.headers.set('x-a', '2');`)
	assert.Equal(t, "1", evalString(t, w, `original.headers.get('x-a')`))
	assert.Equal(t, "2", evalString(t, w, `ev._potentialResponse.headers.get('x-a')`))
}

func TestFetchEvent_RespondWithRepeatedHeaders(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
self.addEventListener('fetch', function(e) {
	var h = new Headers({ 'x-one': 'a' });
	h.append('Set-Cookie', 'session=1');
	h.append('Set-Cookie', 'theme=dark');
	h.append('x-one', 'b');
	e.respondWith(new Response('', { headers: h }));
});
`)
	res := dispatchFetch(t, w, getReq("http://localhost/"))
	require.NotNil(t, res.Response)
	assert.Equal(t, []string{"session=1", "theme=dark"}, res.Response.Headers["set-cookie"])
	assert.Equal(t, []string{"a, b"}, res.Response.Headers["x-one"])
	assert.Equal(t, "session=1", res.Response.Header("Set-Cookie"))
}

func TestFetchEvent_RespondWithPromise(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
self.addEventListener('fetch', function(e) {
	e.respondWith(new Promise(function(resolve) {
		setTimeout(function() { resolve(new Response(e.request.method + ' ' + e.request.url)); }, 10);
	}));
});
`)
	res := dispatchFetch(t, w, &Request{Method: "POST", URL: "http://localhost/submit", Body: []byte("x")})
	require.NotNil(t, res.Response)
	assert.Equal(t, "POST http://localhost/submit", string(res.Response.Body))
}

func TestFetchEvent_RequestBody(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
self.addEventListener('fetch', function(e) {
	e.respondWith(e.request.text().then(function(body) { return new Response(body.toUpperCase()); }));
});
`)
	res := dispatchFetch(t, w, &Request{Method: "PUT", URL: "http://localhost/", Body: []byte("payload")})
	require.NotNil(t, res.Response)
	assert.Equal(t, "PAYLOAD", string(res.Response.Body))
}

func TestFetchEvent_SecondRespondWithThrows(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
var second = 'unset';
self.addEventListener('fetch', function(e) {
	e.respondWith(new Response('first'));
	try { e.respondWith(new Response('second')); } catch (err) { second = err.name; }
});
`)
	res := dispatchFetch(t, w, getReq("http://localhost/"))
	require.NotNil(t, res.Response)
	assert.Equal(t, "first", string(res.Response.Body))
	assert.Equal(t, "InvalidStateError", evalString(t, w, `second`))
}

func TestFetchEvent_RespondWithAfterDispatchThrows(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
var late = 'unset';
self.addEventListener('fetch', function(e) {
	setTimeout(function() {
		try { e.respondWith(new Response('late')); } catch (err) { late = err.name; }
	}, 0);
});
`)
	res := dispatchFetch(t, w, getReq("http://localhost/"))
	assert.False(t, res.Responded)
	assert.Nil(t, res.Response)
	require.NoError(t, w.RunUntilIdle(context.Background()))
	assert.Equal(t, "InvalidStateError", evalString(t, w, `late`))
}

func TestFetchEvent_RespondWithNonResponseSetsErrorFlag(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
self.addEventListener('fetch', function(e) { e.respondWith('X'); });
`)
	res := dispatchFetch(t, w, getReq("http://localhost/"))
	assert.True(t, res.Responded)
	assert.True(t, res.Errored)
	assert.Nil(t, res.Response)
}

func TestFetchEvent_RespondWithRejection(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
self.addEventListener('fetch', function(e) { e.respondWith(Promise.reject(new TypeError('offline'))); });
`)
	res := dispatchFetch(t, w, getReq("http://localhost/"))
	assert.True(t, res.Errored)
	assert.Nil(t, res.Response)
	assert.Equal(t, []string{"TypeError: offline"}, res.Rejections)
}

func TestFetchEvent_RespondWithErrorResponse(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
self.addEventListener('fetch', function(e) { e.respondWith(Response.error()); });
`)
	res := dispatchFetch(t, w, getReq("http://localhost/"))
	assert.True(t, res.Errored)
	assert.Nil(t, res.Response)
}

func TestFetchEvent_RespondWithStopsPropagation(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
var calls = 0;
self.addEventListener('fetch', function(e) { calls++; e.respondWith(new Response('a')); });
self.addEventListener('fetch', function(e) { calls++; });
`)
	dispatchFetch(t, w, getReq("http://localhost/"))
	assert.Equal(t, "1", evalString(t, w, `String(calls)`))
}

func TestFetchEvent_Unhandled(t *testing.T) {
	w, _ := newTestWorker(t)
	res := dispatchFetch(t, w, getReq("http://localhost/"))
	assert.False(t, res.Responded)
	assert.Nil(t, res.Response)
}

func TestFetchEvent_ClientIDs(t *testing.T) {
	w, _ := newTestWorker(t)
	loadScript(t, w, `
self.addEventListener('fetch', function(e) {
	e.respondWith(new Response(JSON.stringify([e.clientId, e.replacesClientId, e.resultingClientId.length > 0, e.request.mode])));
});
`)
	req := getReq("http://localhost/page")
	req.Mode = "navigate"
	res, err := w.DispatchFetch(context.Background(), req, &FetchOptions{ClientID: "c1", ReplacesClientID: "c0"})
	require.NoError(t, err)
	require.NotNil(t, res.Response)
	assert.JSONEq(t, `["c1","c0",true,"navigate"]`, string(res.Response.Body))
}

func TestFetchEvent_ConstructorRequiresRequest(t *testing.T) {
	w, _ := newTestWorker(t)
	assert.Equal(t, "TypeError", evalString(t, w, `(function() {
		try { new FetchEvent('fetch', {}); return 'none'; } catch (e) { return e.name; }
	})()`))
}

func TestFetchEvent_ThrowingListenerIsReported(t *testing.T) {
	w, sink := newTestWorker(t)
	loadScript(t, w, `
self.addEventListener('fetch', function(e) { throw new Error('handler broke'); });
`)
	res := dispatchFetch(t, w, getReq("http://localhost/"))
	assert.Nil(t, res.Response)
	excs := w.Exceptions()
	require.Len(t, excs, 1)
	assert.Equal(t, "handler broke", excs[0].Message)
	require.NotEmpty(t, messages(sink, "error"))
	assert.Contains(t, messages(sink, "error")[0], "Uncaught Error: handler broke")
}
