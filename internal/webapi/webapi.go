package webapi

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/cryguy/serviceworker/internal/core"
	"github.com/cryguy/serviceworker/internal/eventloop"
	"golang.org/x/net/idna"
)

// webAPIsJS defines Headers, URL, URLSearchParams, Request and Response.
// Request and Response share one body implementation; a body is held in
// its original form (string, bytes, Blob, URLSearchParams or stream) and
// only turned into a ReadableStream when .body is read.
const webAPIsJS = `
(function() {

function normName(name) {
	name = String(name).toLowerCase();
	if (!/^[!#$%&'*+\-.^_` + "`" + `|~0-9a-z]+$/.test(name)) {
		throw new TypeError("Invalid header name: '" + name + "'");
	}
	return name;
}

function normValue(value) {
	return String(value).replace(/^[\t\n\r ]+|[\t\n\r ]+$/g, '');
}

class Headers {
	constructor(init) {
		this._map = new Map();
		if (init === undefined || init === null) return;
		if (init instanceof Headers) {
			var self = this;
			init._map.forEach(function(values, key) { self._map.set(key, values.slice()); });
		} else if (typeof init[Symbol.iterator] === 'function') {
			for (var pair of init) {
				pair = Array.from(pair);
				if (pair.length !== 2) throw new TypeError('Header pairs must contain exactly two items');
				this.append(pair[0], pair[1]);
			}
		} else if (typeof init === 'object') {
			for (var k of Object.keys(init)) this.append(k, init[k]);
		} else {
			throw new TypeError("Failed to construct 'Headers': The provided value is not of type 'HeadersInit'");
		}
	}
	append(name, value) {
		var key = normName(name);
		var list = this._map.get(key);
		if (list) list.push(normValue(value)); else this._map.set(key, [normValue(value)]);
	}
	set(name, value) { this._map.set(normName(name), [normValue(value)]); }
	get(name) {
		var list = this._map.get(normName(name));
		return list ? list.join(', ') : null;
	}
	getSetCookie() { return (this._map.get('set-cookie') || []).slice(); }
	has(name) { return this._map.has(normName(name)); }
	delete(name) { this._map.delete(normName(name)); }
	forEach(cb, thisArg) {
		for (var pair of this.entries()) cb.call(thisArg, pair[1], pair[0], this);
	}
	*entries() {
		var keys = Array.from(this._map.keys()).sort();
		for (var k of keys) {
			if (k === 'set-cookie') {
				for (var c of this._map.get(k)) yield [k, c];
			} else {
				yield [k, this._map.get(k).join(', ')];
			}
		}
	}
	*keys() { for (var p of this.entries()) yield p[0]; }
	*values() { for (var p of this.entries()) yield p[1]; }
	[Symbol.iterator]() { return this.entries(); }
	get [Symbol.toStringTag]() { return 'Headers'; }
}

function decodeQueryPart(s) {
	try { return decodeURIComponent(s.replace(/\+/g, ' ')); } catch (e) { return s; }
}

function encodeQueryPart(s) {
	return encodeURIComponent(s).replace(/%20/g, '+').replace(/[!'()~]/g, function(c) {
		return '%' + c.charCodeAt(0).toString(16).toUpperCase();
	});
}

class URLSearchParams {
	constructor(init) {
		this._list = [];
		this._url = null;
		if (init === undefined || init === null) return;
		if (init instanceof URLSearchParams) {
			this._list = init._list.map(function(e) { return e.slice(); });
		} else if (typeof init === 'object' && typeof init[Symbol.iterator] === 'function') {
			for (var pair of init) {
				pair = Array.from(pair);
				if (pair.length !== 2) throw new TypeError('Each query pair must be an iterable [name, value] tuple');
				this._list.push([String(pair[0]), String(pair[1])]);
			}
		} else if (typeof init === 'object') {
			for (var k of Object.keys(init)) this._list.push([k, String(init[k])]);
		} else {
			this._parse(String(init));
		}
	}
	_parse(s) {
		this._list = [];
		if (s.charAt(0) === '?') s = s.slice(1);
		if (!s) return;
		for (var part of s.split('&')) {
			if (!part) continue;
			var eq = part.indexOf('=');
			var name = eq < 0 ? part : part.slice(0, eq);
			var value = eq < 0 ? '' : part.slice(eq + 1);
			this._list.push([decodeQueryPart(name), decodeQueryPart(value)]);
		}
	}
	_update() {
		if (!this._url) return;
		var s = this.toString();
		this._url._setSearch(s ? '?' + s : '', true);
	}
	get size() { return this._list.length; }
	append(name, value) { this._list.push([String(name), String(value)]); this._update(); }
	delete(name, value) {
		name = String(name);
		var withValue = arguments.length > 1;
		value = String(value);
		this._list = this._list.filter(function(e) { return !(e[0] === name && (!withValue || e[1] === value)); });
		this._update();
	}
	get(name) {
		name = String(name);
		for (var e of this._list) if (e[0] === name) return e[1];
		return null;
	}
	getAll(name) {
		name = String(name);
		return this._list.filter(function(e) { return e[0] === name; }).map(function(e) { return e[1]; });
	}
	has(name, value) {
		name = String(name);
		var withValue = arguments.length > 1;
		value = String(value);
		return this._list.some(function(e) { return e[0] === name && (!withValue || e[1] === value); });
	}
	set(name, value) {
		name = String(name);
		value = String(value);
		var idx = -1;
		this._list = this._list.filter(function(e, i) {
			if (e[0] !== name) return true;
			if (idx < 0) { idx = i; return true; }
			return false;
		});
		if (idx < 0) this._list.push([name, value]); else this._list[idx][1] = value;
		this._update();
	}
	sort() {
		this._list = this._list.map(function(e, i) { return [e, i]; }).sort(function(a, b) {
			if (a[0][0] < b[0][0]) return -1;
			if (a[0][0] > b[0][0]) return 1;
			return a[1] - b[1];
		}).map(function(p) { return p[0]; });
		this._update();
	}
	forEach(cb, thisArg) { for (var e of this._list.slice()) cb.call(thisArg, e[1], e[0], this); }
	*entries() { for (var e of this._list.slice()) yield [e[0], e[1]]; }
	*keys() { for (var e of this._list.slice()) yield e[0]; }
	*values() { for (var e of this._list.slice()) yield e[1]; }
	[Symbol.iterator]() { return this.entries(); }
	toString() {
		return this._list.map(function(e) { return encodeQueryPart(e[0]) + '=' + encodeQueryPart(e[1]); }).join('&');
	}
	get [Symbol.toStringTag]() { return 'URLSearchParams'; }
}

function parseURL(input, base) {
	var parsed = JSON.parse(__parseURL(String(input), base === undefined || base === null ? '' : String(base)));
	if (parsed.error) throw new TypeError("Failed to construct 'URL': " + parsed.error);
	return parsed;
}

class URL {
	constructor(url, base) {
		if (arguments.length < 1) throw new TypeError("Failed to construct 'URL': 1 argument required, but only 0 present.");
		this._assign(parseURL(url, base));
		this._query = new URLSearchParams(this._search);
		this._query._url = this;
	}
	_assign(p) {
		this._protocol = p.protocol;
		this._username = p.username;
		this._password = p.password;
		this._hostname = p.hostname;
		this._port = p.port;
		this._pathname = p.pathname;
		this._search = p.search;
		this._hash = p.hash;
	}
	_reparse(href) {
		this._assign(parseURL(href));
		if (this._query) this._query._parse(this._search);
	}
	_setSearch(s, fromParams) {
		this._search = s === '?' ? '' : s;
		if (!fromParams && this._query) this._query._parse(this._search);
	}
	get href() {
		var auth = '';
		if (this._username || this._password) {
			auth = this._username + (this._password ? ':' + this._password : '') + '@';
		}
		return this._protocol + '//' + auth + this.host + this._pathname + this._search + this._hash;
	}
	set href(v) { this._reparse(String(v)); }
	get origin() {
		if (this._protocol === 'http:' || this._protocol === 'https:' || this._protocol === 'ws:' || this._protocol === 'wss:') {
			return this._protocol + '//' + this.host;
		}
		return 'null';
	}
	get protocol() { return this._protocol; }
	set protocol(v) { v = String(v).replace(/:.*$/, ''); if (v) this._reparse(v + ':' + this.href.slice(this._protocol.length)); }
	get username() { return this._username; }
	set username(v) { this._username = encodeURIComponent(String(v)); }
	get password() { return this._password; }
	set password(v) { this._password = encodeURIComponent(String(v)); }
	get host() { return this._port ? this._hostname + ':' + this._port : this._hostname; }
	set host(v) { this._reparse(this._protocol + '//' + String(v) + this._pathname + this._search + this._hash); }
	get hostname() { return this._hostname; }
	set hostname(v) { this._reparse(this._protocol + '//' + String(v) + (this._port ? ':' + this._port : '') + this._pathname + this._search + this._hash); }
	get port() { return this._port; }
	set port(v) { v = String(v); this._reparse(this._protocol + '//' + this._hostname + (v ? ':' + v : '') + this._pathname + this._search + this._hash); }
	get pathname() { return this._pathname; }
	set pathname(v) { v = String(v); this._reparse(this._protocol + '//' + this.host + (v.charAt(0) === '/' ? v : '/' + v) + this._search + this._hash); }
	get search() { return this._search; }
	set search(v) { v = String(v); this._setSearch(v && v.charAt(0) !== '?' ? '?' + v : v, false); }
	get searchParams() { return this._query; }
	get hash() { return this._hash; }
	set hash(v) { v = String(v); this._hash = v && v.charAt(0) !== '#' ? '#' + v : (v === '#' ? '' : v); }
	toString() { return this.href; }
	toJSON() { return this.href; }
	get [Symbol.toStringTag]() { return 'URL'; }
	static canParse(url, base) {
		try { parseURL(url, base); return true; } catch (e) { return false; }
	}
	static parse(url, base) {
		try { return new URL(url, base); } catch (e) { return null; }
	}
}

function concatChunks(chunks) {
	var total = 0;
	for (var c of chunks) total += c.byteLength;
	var out = new Uint8Array(total);
	var off = 0;
	for (var c2 of chunks) { out.set(c2, off); off += c2.byteLength; }
	return out;
}

function copyBytes(view) {
	return new Uint8Array(view.buffer.slice(view.byteOffset, view.byteOffset + view.byteLength));
}

// extractBody returns the stored body plus the content type it implies.
function extractBody(body) {
	if (body === undefined || body === null) return { body: null, type: null };
	if (typeof body === 'string') return { body: body, type: 'text/plain;charset=UTF-8' };
	if (body instanceof URLSearchParams) return { body: body.toString(), type: 'application/x-www-form-urlencoded;charset=UTF-8' };
	if (typeof Blob !== 'undefined' && body instanceof Blob) return { body: body, type: body.type || null };
	if (typeof FormData !== 'undefined' && body instanceof FormData) {
		var encoded = __encodeFormData(body);
		return { body: encoded.blob, type: encoded.type };
	}
	if (body instanceof ArrayBuffer) return { body: new Uint8Array(body.slice(0)), type: null };
	if (ArrayBuffer.isView(body)) return { body: copyBytes(body), type: null };
	if (body instanceof ReadableStream) return { body: body, type: null };
	return { body: String(body), type: 'text/plain;charset=UTF-8' };
}

async function readStream(stream) {
	var reader = stream.getReader();
	var chunks = [];
	try {
		while (true) {
			var r = await reader.read();
			if (r.done) break;
			var v = r.value;
			if (typeof v === 'string') v = new TextEncoder().encode(v);
			chunks.push(__toBytes(v));
		}
	} finally {
		reader.releaseLock();
	}
	return concatChunks(chunks);
}

// __bodyBytes resolves any stored body form to a Uint8Array without
// marking the owner used.
async function bodyBytes(body) {
	if (body === null || body === undefined) return new Uint8Array(0);
	if (typeof body === 'string') return new TextEncoder().encode(body);
	if (body instanceof Uint8Array) return body;
	if (typeof Blob !== 'undefined' && body instanceof Blob) return new Uint8Array(await body.arrayBuffer());
	if (body instanceof ReadableStream) return readStream(body);
	return new TextEncoder().encode(String(body));
}
globalThis.__bodyBytes = bodyBytes;

var Body = {
	get body() {
		if (this._body === null) return null;
		if (!(this._body instanceof ReadableStream)) {
			var src = this._body;
			this._body = new ReadableStream({
				start: function(controller) {
					return bodyBytes(src).then(function(bytes) {
						if (bytes.byteLength > 0) controller.enqueue(bytes);
						controller.close();
					});
				}
			});
		}
		return this._body;
	},
	get bodyUsed() {
		return this._bodyUsed || (this._body instanceof ReadableStream && this._body.locked && this._body._disturbed === true);
	},
	_consume: function() {
		if (this._bodyUsed) return Promise.reject(new TypeError('Body has already been consumed.'));
		if (this._body instanceof ReadableStream && this._body.locked) {
			return Promise.reject(new TypeError('Body stream is locked.'));
		}
		this._bodyUsed = true;
		return bodyBytes(this._body);
	},
	arrayBuffer: function() {
		return this._consume().then(function(b) { return b.byteOffset === 0 && b.byteLength === b.buffer.byteLength ? b.buffer : b.slice().buffer; });
	},
	bytes: function() { return this._consume(); },
	text: function() {
		return this._consume().then(function(b) { return new TextDecoder().decode(b); });
	},
	json: function() {
		return this.text().then(JSON.parse);
	},
	blob: function() {
		var type = this.headers.get('content-type') || '';
		return this._consume().then(function(b) { return new Blob([b], { type: type }); });
	},
	formData: function() {
		var type = (this.headers.get('content-type') || '').toLowerCase();
		if (type.indexOf('application/x-www-form-urlencoded') !== 0) {
			return Promise.reject(new TypeError('Only application/x-www-form-urlencoded bodies can be read as FormData'));
		}
		return this.text().then(function(text) {
			var fd = new FormData();
			new URLSearchParams(text).forEach(function(v, k) { fd.append(k, v); });
			return fd;
		});
	}
};

function mixBody(proto) {
	for (var key of Object.getOwnPropertyNames(Body)) {
		Object.defineProperty(proto, key, Object.getOwnPropertyDescriptor(Body, key));
	}
}

function setBody(target, init, headers) {
	var ex = extractBody(init);
	target._body = ex.body;
	target._bodyUsed = false;
	if (ex.type && !headers.has('content-type')) headers.set('content-type', ex.type);
}

var forbiddenMethods = ['CONNECT', 'TRACE', 'TRACK'];
var normalMethods = ['DELETE', 'GET', 'HEAD', 'OPTIONS', 'POST', 'PUT', 'PATCH'];

function normMethod(m) {
	var upper = String(m).toUpperCase();
	if (forbiddenMethods.indexOf(upper) !== -1) throw new TypeError("'" + m + "' HTTP method is unsupported.");
	return normalMethods.indexOf(upper) !== -1 ? upper : String(m);
}

function pick(init, key, fallback) {
	return init[key] !== undefined ? init[key] : fallback;
}

class Request {
	constructor(input, init) {
		if (arguments.length < 1) throw new TypeError("Failed to construct 'Request': 1 argument required, but only 0 present.");
		init = init || {};
		var src = input instanceof Request ? input : null;
		this.url = src ? src.url : new URL(String(input), globalThis.__scopeURL || undefined).href;
		this.method = normMethod(pick(init, 'method', src ? src.method : 'GET'));
		this.headers = new Headers(pick(init, 'headers', src ? src.headers : undefined));
		this.mode = pick(init, 'mode', src ? src.mode : 'cors');
		if (this.mode === 'navigate') this.mode = 'same-origin';
		if (src && src.mode === 'navigate' && init.mode === undefined) this.mode = 'navigate';
		this.credentials = pick(init, 'credentials', src ? src.credentials : 'same-origin');
		this.cache = pick(init, 'cache', src ? src.cache : 'default');
		this.redirect = pick(init, 'redirect', src ? src.redirect : 'follow');
		this.referrer = pick(init, 'referrer', src ? src.referrer : 'about:client');
		this.referrerPolicy = pick(init, 'referrerPolicy', src ? src.referrerPolicy : '');
		this.integrity = pick(init, 'integrity', src ? src.integrity : '');
		this.keepalive = !!pick(init, 'keepalive', src ? src.keepalive : false);
		this.signal = pick(init, 'signal', src ? src.signal : null) || new AbortSignal();
		this.destination = src ? src.destination : '';

		if (init.body !== undefined && init.body !== null) {
			if (this.method === 'GET' || this.method === 'HEAD') {
				throw new TypeError('Request with GET/HEAD method cannot have body.');
			}
			setBody(this, init.body, this.headers);
		} else if (src) {
			if (src.bodyUsed) throw new TypeError('Cannot construct a Request with a Request object that has already been used.');
			this._body = src._body;
			this._bodyUsed = false;
			if (src._body !== null) src._bodyUsed = true;
		} else {
			this._body = null;
			this._bodyUsed = false;
		}
	}
	clone() {
		if (this.bodyUsed) throw new TypeError("Failed to execute 'clone' on 'Request': Request body is already used");
		var copy = new Request(this.url, {
			method: this.method, headers: this.headers, mode: this.mode === 'navigate' ? undefined : this.mode,
			credentials: this.credentials, cache: this.cache, redirect: this.redirect,
			referrer: this.referrer, referrerPolicy: this.referrerPolicy, integrity: this.integrity,
			keepalive: this.keepalive, signal: this.signal
		});
		copy.mode = this.mode;
		copy.destination = this.destination;
		copy._body = teeBody(this);
		return copy;
	}
	get [Symbol.toStringTag]() { return 'Request'; }
}
mixBody(Request.prototype);

// teeBody splits a streamed body so both owners can read it.
function teeBody(owner) {
	if (owner._body instanceof ReadableStream) {
		var pair = owner._body.tee();
		owner._body = pair[0];
		return pair[1];
	}
	return owner._body;
}

var redirectStatuses = [301, 302, 303, 307, 308];
var nullBodyStatuses = [101, 103, 204, 205, 304];

class Response {
	constructor(body, init) {
		init = init || {};
		var status = init.status !== undefined ? Number(init.status) : 200;
		if (status < 200 || status > 599) {
			throw new RangeError("Failed to construct 'Response': The status provided (" + status + ") is outside the range [200, 599].");
		}
		this.status = status;
		this.statusText = init.statusText !== undefined ? String(init.statusText) : '';
		this.headers = new Headers(init.headers);
		this.type = 'default';
		this.url = '';
		this.redirected = false;
		if (body !== undefined && body !== null) {
			if (nullBodyStatuses.indexOf(status) !== -1) {
				throw new TypeError("Failed to construct 'Response': Response with null body status cannot have body");
			}
			setBody(this, body, this.headers);
		} else {
			this._body = null;
			this._bodyUsed = false;
		}
	}
	get ok() { return this.status >= 200 && this.status <= 299; }
	clone() {
		if (this.bodyUsed) throw new TypeError("Failed to execute 'clone' on 'Response': Response body is already used");
		var copy = Object.create(Response.prototype);
		copy.status = this.status;
		copy.statusText = this.statusText;
		copy.headers = new Headers(this.headers);
		copy.type = this.type;
		copy.url = this.url;
		copy.redirected = this.redirected;
		copy._bodyUsed = false;
		copy._body = teeBody(this);
		return copy;
	}
	static error() {
		var r = Object.create(Response.prototype);
		r.status = 0;
		r.statusText = '';
		r.headers = new Headers();
		r.type = 'error';
		r.url = '';
		r.redirected = false;
		r._body = null;
		r._bodyUsed = false;
		return r;
	}
	static redirect(url, status) {
		status = status === undefined ? 302 : Number(status);
		if (redirectStatuses.indexOf(status) === -1) {
			throw new RangeError("Failed to execute 'redirect' on 'Response': Invalid status code");
		}
		var target = new URL(String(url), globalThis.__scopeURL || undefined).href;
		var r = new Response(null, { status: status });
		r.headers.set('location', target);
		return r;
	}
	static json(data, init) {
		var text = JSON.stringify(data);
		if (text === undefined) throw new TypeError("Failed to execute 'json' on 'Response': The data is not JSON serializable");
		var r = new Response(text, init);
		r.headers.set('content-type', 'application/json');
		return r;
	}
	get [Symbol.toStringTag]() { return 'Response'; }
}
mixBody(Response.prototype);

globalThis.Headers = Headers;
globalThis.URL = URL;
globalThis.URLSearchParams = URLSearchParams;
globalThis.Request = Request;
globalThis.Response = Response;

})();
`

// URLParts is the JSON shape __parseURL hands back to JS.
type URLParts struct {
	Protocol string `json:"protocol"`
	Username string `json:"username"`
	Password string `json:"password"`
	Hostname string `json:"hostname"`
	Port     string `json:"port"`
	Pathname string `json:"pathname"`
	Search   string `json:"search"`
	Hash     string `json:"hash"`
	Error    string `json:"error,omitempty"`
}

var defaultPorts = map[string]string{
	"http": "80", "https": "443", "ws": "80", "wss": "443", "ftp": "21",
}

var hostProfile = idna.New(idna.MapForLookup(), idna.Transitional(false), idna.BidiRule())

// ParseURL resolves rawURL against base and splits it into URL parts.
// Hosts of special schemes are normalized to lowercase ASCII with IDNA.
func ParseURL(rawURL, base string) (*URLParts, error) {
	rawURL = strings.TrimSpace(rawURL)
	ref, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %s", rawURL)
	}
	u := ref
	if base != "" {
		b, err := url.Parse(base)
		if err != nil || b.Scheme == "" {
			return nil, fmt.Errorf("invalid base URL: %s", base)
		}
		u = b.ResolveReference(ref)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("invalid URL: %s", rawURL)
	}

	scheme := strings.ToLower(u.Scheme)
	_, special := defaultPorts[scheme]
	hostname := u.Hostname()
	if special {
		if hostname == "" && scheme != "file" {
			return nil, fmt.Errorf("invalid URL: %s", rawURL)
		}
		if !strings.HasPrefix(hostname, "[") && !strings.Contains(hostname, ":") {
			ascii, err := hostProfile.ToASCII(hostname)
			if err != nil {
				return nil, fmt.Errorf("invalid URL: %s", rawURL)
			}
			hostname = ascii
		}
	}
	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}
	port := u.Port()
	if port == defaultPorts[scheme] {
		port = ""
	}

	parts := &URLParts{
		Protocol: scheme + ":",
		Hostname: hostname,
		Port:     port,
		Pathname: u.EscapedPath(),
	}
	if u.User != nil {
		parts.Username = u.User.Username()
		parts.Password, _ = u.User.Password()
	}
	if parts.Pathname == "" && special {
		parts.Pathname = "/"
	}
	if u.RawQuery != "" || u.ForceQuery {
		parts.Search = "?" + u.RawQuery
	}
	if parts.Search == "?" {
		parts.Search = ""
	}
	if frag := u.EscapedFragment(); frag != "" {
		parts.Hash = "#" + frag
	}
	return parts, nil
}

// SetupWebAPIs installs Headers, URL, URLSearchParams, Request and
// Response. scopeURL is the base for relative request URLs.
func SetupWebAPIs(scopeURL string) func(core.JSRuntime, *eventloop.EventLoop) error {
	return func(rt core.JSRuntime, _ *eventloop.EventLoop) error {
		if err := rt.RegisterFunc("__parseURL", func(rawURL, base string) string {
			var out any
			parts, err := ParseURL(rawURL, base)
			if err != nil {
				out = URLParts{Error: err.Error()}
			} else {
				out = parts
			}
			data, _ := json.Marshal(out)
			return string(data)
		}); err != nil {
			return err
		}
		if err := rt.SetGlobal("__scopeURL", scopeURL); err != nil {
			return err
		}
		if err := rt.Eval(webAPIsJS); err != nil {
			return fmt.Errorf("evaluating webapi.js: %w", err)
		}
		return nil
	}
}
