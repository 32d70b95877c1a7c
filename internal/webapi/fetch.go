package webapi

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/cryguy/serviceworker/internal/core"
	"github.com/cryguy/serviceworker/internal/eventloop"
	"github.com/sirupsen/logrus"
)

// ForbiddenFetchHeaders is the blocklist of headers that scripts cannot set.
var ForbiddenFetchHeaders = map[string]bool{
	"host":                true,
	"transfer-encoding":   true,
	"connection":          true,
	"keep-alive":          true,
	"upgrade":             true,
	"proxy-authorization": true,
	"proxy-connection":    true,
	"te":                  true,
	"trailer":             true,
	"accept-encoding":     true,
	"content-length":      true,
}

const fetchJS = `
(function() {
var pending = new Map();

function abortError(signal) {
	if (signal && signal.reason !== undefined) return signal.reason;
	return new DOMException('The operation was aborted.', 'AbortError');
}

globalThis.fetch = function(input, init) {
	var request;
	try {
		request = new Request(input, init);
	} catch (e) {
		return Promise.reject(e);
	}
	var signal = request.signal;
	if (signal && signal.aborted) return Promise.reject(abortError(signal));

	return __bodyBytes(request._body).then(function(body) {
		var headers = [];
		request.headers.forEach(function(v, k) { headers.push([k, v]); });
		var args = JSON.stringify({
			url: request.url,
			method: request.method,
			headers: headers,
			body: body.byteLength > 0 ? __bytesToB64(body) : '',
			redirect: request.redirect
		});
		return new Promise(function(resolve, reject) {
			var id = __fetchStart(args);
			pending.set(id, { resolve: resolve, reject: reject, signal: signal });
			if (signal) {
				signal.addEventListener('abort', function() {
					var p = pending.get(id);
					if (!p) return;
					pending.delete(id);
					__fetchAbort(id);
					p.reject(abortError(signal));
				}, { once: true });
			}
		});
	});
};

globalThis.__fetchResolve = function(id, status, statusText, headersJSON, bodyB64, redirected, finalURL) {
	var p = pending.get(id);
	if (!p) return;
	pending.delete(id);
	try {
		var nullBody = status === 101 || status === 103 || status === 204 || status === 205 || status === 304;
		var r = Object.create(Response.prototype);
		r.status = status;
		r.statusText = statusText;
		r.headers = new Headers(JSON.parse(headersJSON));
		r.type = 'basic';
		r.url = finalURL;
		r.redirected = redirected;
		r._bodyUsed = false;
		r._body = nullBody || bodyB64 === '' ? null : __b64ToBytes(bodyB64);
		p.resolve(r);
	} catch (e) {
		p.reject(e);
	}
};

globalThis.__fetchReject = function(id, message) {
	var p = pending.get(id);
	if (!p) return;
	pending.delete(id);
	p.reject(new TypeError(message));
};
})();
`

// FetchOptions configures the fetch implementation of one scope.
type FetchOptions struct {
	Timeout          time.Duration
	MaxFetches       int
	MaxResponseBytes int64
	AllowPrivate     bool
	// Transport overrides the HTTP transport; nil uses an SSRF-guarded one.
	Transport http.RoundTripper
	Log       *logrus.Entry
}

// Fetcher performs fetch() requests on behalf of a scope and tracks the
// per-dispatch request quota.
type Fetcher struct {
	opts FetchOptions

	mu      sync.Mutex
	count   int
	nextID  int
	cancels map[string]context.CancelFunc
}

// NewFetcher fills zero options with the package defaults.
func NewFetcher(opts FetchOptions) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = core.DefaultFetchTimeout
	}
	if opts.MaxFetches <= 0 {
		opts.MaxFetches = core.DefaultMaxFetches
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = core.DefaultMaxResponseBytes
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Transport == nil {
		t := &http.Transport{Proxy: http.ProxyFromEnvironment}
		if !opts.AllowPrivate {
			t.DialContext = ssrfSafeDialContext
		}
		opts.Transport = t
	}
	opts.Log = opts.Log.WithField("component", "fetch")
	return &Fetcher{opts: opts, cancels: make(map[string]context.CancelFunc)}
}

// ResetCount starts a new quota window. It is called at the start of
// every dispatched event.
func (f *Fetcher) ResetCount() {
	f.mu.Lock()
	f.count = 0
	f.mu.Unlock()
}

// Abort cancels every in-flight request.
func (f *Fetcher) Abort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, cancel := range f.cancels {
		cancel()
		delete(f.cancels, id)
	}
}

type fetchArgs struct {
	URL      string      `json:"url"`
	Method   string      `json:"method"`
	Headers  [][2]string `json:"headers"`
	Body     string      `json:"body"`
	Redirect string      `json:"redirect"`
}

func (f *Fetcher) begin() (string, context.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.count >= f.opts.MaxFetches {
		return "", nil, fmt.Errorf("exceeded maximum fetch requests (%d)", f.opts.MaxFetches)
	}
	f.count++
	f.nextID++
	id := "f" + strconv.Itoa(f.nextID)
	ctx, cancel := context.WithTimeout(context.Background(), f.opts.Timeout)
	f.cancels[id] = cancel
	return id, ctx, nil
}

func (f *Fetcher) finish(id string) {
	f.mu.Lock()
	cancel, ok := f.cancels[id]
	delete(f.cancels, id)
	f.mu.Unlock()
	if ok {
		cancel()
	}
}

func (f *Fetcher) newRequest(ctx context.Context, args fetchArgs) (*http.Request, error) {
	u, err := url.Parse(args.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("fetch: unsupported scheme %q", u.Scheme)
	}
	if !f.opts.AllowPrivate && IsPrivateHostname(args.URL) {
		return nil, errors.New("fetch to private IP addresses is not allowed")
	}
	var body io.Reader
	if args.Body != "" {
		data, err := base64.StdEncoding.DecodeString(args.Body)
		if err != nil {
			return nil, fmt.Errorf("fetch: decoding body: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, args.Method, args.URL, body)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	for _, h := range args.Headers {
		if ForbiddenFetchHeaders[strings.ToLower(h[0])] {
			continue
		}
		req.Header.Add(h[0], h[1])
	}
	req.Header.Set("Accept-Encoding", "br, gzip")
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", UserAgent)
	}
	return req, nil
}

func (f *Fetcher) client(redirect string) *http.Client {
	c := &http.Client{Transport: f.opts.Transport}
	switch redirect {
	case "manual":
		c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	case "error":
		c.CheckRedirect = func(*http.Request, []*http.Request) error {
			return errors.New("redirect mode is 'error'")
		}
	default:
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= 20 {
				return errors.New("too many redirects")
			}
			if !f.opts.AllowPrivate && IsPrivateHostname(req.URL.String()) {
				return errors.New("redirect to private IP address is not allowed")
			}
			return nil
		}
	}
	return c
}

// decodeBody undoes the content codings requested by newRequest.
func decodeBody(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		return brotli.NewReader(resp.Body), nil
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		return zr, nil
	}
	return resp.Body, nil
}

func (f *Fetcher) do(ctx context.Context, id string, args fetchArgs, req *http.Request) eventloop.FetchResult {
	defer f.finish(id)
	resp, err := f.client(args.Redirect).Do(req)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return eventloop.FetchResult{Err: errors.New("the operation was aborted")}
		}
		return eventloop.FetchResult{Err: fmt.Errorf("fetch failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	r, err := decodeBody(resp)
	if err != nil {
		return eventloop.FetchResult{Err: fmt.Errorf("fetch: %w", err)}
	}
	data, err := io.ReadAll(io.LimitReader(r, f.opts.MaxResponseBytes+1))
	if err != nil {
		return eventloop.FetchResult{Err: fmt.Errorf("fetch: reading body: %w", err)}
	}
	if int64(len(data)) > f.opts.MaxResponseBytes {
		return eventloop.FetchResult{Err: fmt.Errorf("fetch: response body exceeds %d bytes", f.opts.MaxResponseBytes)}
	}

	var headers [][2]string
	for k, vals := range resp.Header {
		for _, v := range vals {
			headers = append(headers, [2]string{strings.ToLower(k), v})
		}
	}
	hdrs, _ := json.Marshal(headers)

	finalURL := args.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return eventloop.FetchResult{
		Status:      resp.StatusCode,
		StatusText:  strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))),
		HeadersJSON: string(hdrs),
		BodyB64:     base64.StdEncoding.EncodeToString(data),
		Redirected:  finalURL != args.URL,
		FinalURL:    finalURL,
	}
}

// Setup registers __fetchStart and __fetchAbort and installs fetch().
func (f *Fetcher) Setup(rt core.JSRuntime, el *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__fetchStart", func(argsJSON string) (string, error) {
		var args fetchArgs
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("fetch: parsing arguments: %w", err)
		}
		id, ctx, err := f.begin()
		if err != nil {
			return "", err
		}
		req, err := f.newRequest(ctx, args)
		if err != nil {
			f.finish(id)
			return "", err
		}
		f.opts.Log.WithFields(logrus.Fields{"fetch": id, "method": args.Method, "url": args.URL}).Debug("fetch started")

		ch := make(chan eventloop.FetchResult, 1)
		go func() { ch <- f.do(ctx, id, args, req) }()
		el.AddPendingFetch(&eventloop.PendingFetch{ResultCh: ch, FetchID: id})
		return id, nil
	}); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__fetchAbort", func(id string) {
		f.finish(id)
	}); err != nil {
		return err
	}
	if err := rt.Eval(fetchJS); err != nil {
		return fmt.Errorf("evaluating fetch.js: %w", err)
	}
	return nil
}

// IsPrivateHostname performs a fast, non-resolving pre-check for obviously
// private hostnames and literal IP addresses.
func IsPrivateHostname(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	hostname := u.Hostname()
	if hostname == "" {
		return true
	}
	lower := strings.ToLower(hostname)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return true
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return IsPrivateIP(ip)
	}
	return false
}

// ssrfSafeDialContext checks the resolved address at connect time so a
// public name cannot rebind to a private IP.
func ssrfSafeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("DNS lookup failed for %s: %w", host, err)
	}
	for _, ip := range ips {
		if IsPrivateIP(ip.IP) {
			continue
		}
		var d net.Dialer
		return d.DialContext(ctx, network, net.JoinHostPort(ip.IP.String(), port))
	}
	return nil, errors.New("fetch to private IP addresses is not allowed")
}

var privateRanges = mustCIDRs(
	"0.0.0.0/8", "10.0.0.0/8", "100.64.0.0/10", "127.0.0.0/8",
	"169.254.0.0/16", "172.16.0.0/12", "192.0.0.0/24", "192.0.2.0/24",
	"192.168.0.0/16", "198.18.0.0/15", "198.51.100.0/24", "203.0.113.0/24",
	"240.0.0.0/4", "::/128", "::1/128", "64:ff9b::/96", "fc00::/7", "fe80::/10",
)

func mustCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("invalid CIDR: " + c)
		}
		out = append(out, n)
	}
	return out
}

// IsPrivateIP reports whether ip is loopback, link-local or in a private
// or reserved range.
func IsPrivateIP(ip net.IP) bool {
	if ip.IsUnspecified() || ip.IsLoopback() {
		return true
	}
	for _, n := range privateRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
