package serviceworker

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFetchWorker(t *testing.T, allowPrivate bool) *Worker {
	t.Helper()
	cfg := testCfg(&BufferSink{})
	cfg.AllowPrivateFetch = allowPrivate
	cfg.MaxFetches = 2
	w, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestFetch_ProxiesUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Upstream", r.Method+" "+r.Header.Get("X-Test"))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("upstream:" + string(body)))
	}))
	defer upstream.Close()

	w := newFetchWorker(t, true)
	loadScript(t, w, `
self.addEventListener('fetch', function(e) {
	e.respondWith(fetch(UPSTREAM, { method: 'POST', body: 'ping', headers: { 'X-Test': 'yes' } }));
});
`)
	mustEval(t, w, `var UPSTREAM = '`+upstream.URL+`/echo';`)

	res := dispatchFetch(t, w, getReq("http://localhost/"))
	require.NotNil(t, res.Response)
	assert.Equal(t, http.StatusAccepted, res.Response.StatusCode)
	assert.Equal(t, "upstream:ping", string(res.Response.Body))
	assert.Equal(t, "POST yes", res.Response.Header("X-Upstream"))
}

func TestFetch_DecodesBrotli(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "br") {
			http.Error(w, "br not offered", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Encoding", "br")
		bw := brotli.NewWriter(w)
		_, _ = bw.Write([]byte(strings.Repeat("compressed ", 10)))
		_ = bw.Close()
	}))
	defer upstream.Close()

	w := newFetchWorker(t, true)
	loadScript(t, w, `
var got;
self.addEventListener('install', function(e) {
	e.waitUntil(fetch('`+upstream.URL+`').then(function(r) { return r.text(); }).then(function(t) { got = t; }));
});
`)
	res, err := w.DispatchExtendable(context.Background(), "install")
	require.NoError(t, err)
	assert.Empty(t, res.Rejections)
	assert.Equal(t, strings.Repeat("compressed ", 10), evalString(t, w, `got`))
}

func TestFetch_PrivateAddressBlocked(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("should not reach"))
	}))
	defer upstream.Close()

	w := newFetchWorker(t, false)
	loadScript(t, w, `
self.addEventListener('fetch', function(e) { e.respondWith(fetch('`+upstream.URL+`')); });
`)
	res := dispatchFetch(t, w, getReq("http://localhost/"))
	assert.True(t, res.Errored)
	assert.Nil(t, res.Response)
	require.Len(t, res.Rejections, 1)
	assert.Contains(t, res.Rejections[0], "private")
}

func TestFetch_UnspecifiedAddressBlocked(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("should not reach"))
	}))
	defer upstream.Close()
	port := upstream.URL[strings.LastIndex(upstream.URL, ":")+1:]

	w := newFetchWorker(t, false)
	loadScript(t, w, `
self.addEventListener('fetch', function(e) { e.respondWith(fetch('http://[::]:`+port+`/')); });
`)
	res := dispatchFetch(t, w, getReq("http://localhost/"))
	assert.True(t, res.Errored)
	require.Len(t, res.Rejections, 1)
	assert.Contains(t, res.Rejections[0], "private")
}

func TestFetch_QuotaPerDispatch(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	w := newFetchWorker(t, true)
	loadScript(t, w, `
self.addEventListener('install', function(e) {
	for (var i = 0; i < 3; i++) e.waitUntil(fetch('`+upstream.URL+`'));
});
`)
	for i := 0; i < 2; i++ {
		res, err := w.DispatchExtendable(context.Background(), "install")
		require.NoError(t, err)
		assert.Equal(t, 2, res.Fulfilled)
		require.Len(t, res.Rejections, 1)
		assert.Contains(t, res.Rejections[0], "maximum fetch requests")
	}
}

func TestFetch_AbortSignal(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	w := newFetchWorker(t, true)
	loadScript(t, w, `
var reason;
self.addEventListener('install', function(e) {
	var ctrl = new AbortController();
	e.waitUntil(fetch('`+upstream.URL+`', { signal: ctrl.signal }).catch(function(err) { reason = err.name; }));
	setTimeout(function() { ctrl.abort(); }, 20);
});
`)
	_, err := w.DispatchExtendable(context.Background(), "install")
	require.NoError(t, err)
	assert.Equal(t, "AbortError", evalString(t, w, `reason`))
}
