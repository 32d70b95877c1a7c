package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serviceworker "github.com/cryguy/serviceworker"
)

const testScript = `
self.addEventListener('fetch', function(e) {
	var url = new URL(e.request.url);
	if (url.pathname === '/hello') {
		e.respondWith(new Response('hello ' + e.request.method, { headers: { 'x-sw': '1' } }));
	} else if (url.pathname === '/broken') {
		e.respondWith(Promise.reject(new Error('nope')));
	} else if (url.pathname === '/cookies') {
		var h = new Headers();
		h.append('set-cookie', 'a=1; Path=/');
		h.append('set-cookie', 'b=2; Path=/');
		e.respondWith(new Response('', { headers: h }));
	} else if (url.pathname === '/echo') {
		e.respondWith(e.request.text().then(function(t) { return new Response(t, { status: 201 }); }));
	}
});
`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger, _ := test.NewNullLogger()
	reg := prometheus.NewRegistry()
	w, err := serviceworker.New(serviceworker.Config{
		Logger:            logger,
		Console:           &serviceworker.BufferSink{},
		Registerer:        reg,
		ExtendableTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	require.NoError(t, w.LoadScript("sw.js", testScript, serviceworker.ScriptClassic))

	srv := newServer(w, reg, logrus.NewEntry(logger))
	ts := httptest.NewServer(srv.router)
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestServer_Responds(t *testing.T) {
	ts := newTestServer(t)
	resp, body := get(t, ts.URL+"/hello")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello GET", body)
	assert.Equal(t, "1", resp.Header.Get("X-Sw"))
}

func TestServer_RepeatedHeaders(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := get(t, ts.URL+"/cookies")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"a=1; Path=/", "b=2; Path=/"}, resp.Header.Values("Set-Cookie"))
}

func TestServer_PostBody(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/echo", "text/plain", strings.NewReader("round trip"))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "round trip", string(body))
}

func TestServer_Unhandled(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := get(t, ts.URL+"/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Errored(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := get(t, ts.URL+"/broken")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t)
	get(t, ts.URL+"/hello")
	resp, body := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "swserve_http_requests_total")
	assert.Contains(t, body, `serviceworker_dispatches_total{event="fetch",outcome="responded"} 1`)
}

func TestRequestMode(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Accept", "text/html,application/xhtml+xml")
	assert.Equal(t, "navigate", requestMode(r))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Sec-Fetch-Mode", "no-cors")
	assert.Equal(t, "no-cors", requestMode(r))

	r = httptest.NewRequest(http.MethodPost, "/", nil)
	assert.Equal(t, "cors", requestMode(r))
}
