package webapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cryguy/serviceworker/internal/core"
	"github.com/cryguy/serviceworker/internal/eventloop"
)

// RequestToJS builds a JS Request from req and stores it in
// globalThis[global].
func RequestToJS(rt core.JSRuntime, req *core.Request, global string) error {
	headers := make([][2]string, 0, len(req.Headers))
	for k, v := range req.Headers {
		headers = append(headers, [2]string{strings.ToLower(k), v})
	}
	args, err := json.Marshal(map[string]any{
		"url":     req.URL,
		"method":  req.Method,
		"headers": headers,
		"body":    base64.StdEncoding.EncodeToString(req.Body),
		"hasBody": len(req.Body) > 0,
		"mode":    req.Mode,
	})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	if err := rt.SetGlobal("__requestArgs", string(args)); err != nil {
		return err
	}
	return rt.Eval(fmt.Sprintf(`(function() {
		var a = JSON.parse(globalThis.__requestArgs);
		delete globalThis.__requestArgs;
		var init = { method: a.method || 'GET', headers: a.headers };
		if (a.hasBody && init.method !== 'GET' && init.method !== 'HEAD') init.body = __b64ToBytes(a.body);
		var req = new Request(a.url, init);
		if (a.mode) req.mode = a.mode;
		if (a.mode === 'navigate') req.destination = 'document';
		globalThis[%q] = req;
	})()`, global))
}

const exportResponseJS = `(function(r) {
	var out = globalThis.__responseExport = { done: false, json: '', error: '' };
	if (!(r instanceof Response)) {
		out.error = 'value is not a Response';
		out.done = true;
		return;
	}
	var headers = {};
	r.headers.forEach(function(v, k) { (headers[k] = headers[k] || []).push(v); });
	var body = r._body;
	r._bodyUsed = true;
	__bodyBytes(body).then(function(bytes) {
		out.json = JSON.stringify({
			status: r.status,
			statusText: r.statusText,
			headers: headers,
			body: __bytesToB64(bytes)
		});
		out.done = true;
	}, function(e) {
		out.error = String(e && e.message || e);
		out.done = true;
	});
})`

// ResponseFromJS reads the Response stored in globalThis[global] into Go,
// running the loop until its body has been fully read or deadline passes.
func ResponseFromJS(rt core.JSRuntime, el *eventloop.EventLoop, global string, deadline time.Time) (*core.Response, error) {
	if err := rt.Eval(fmt.Sprintf(`%s(globalThis[%q])`, exportResponseJS, global)); err != nil {
		return nil, fmt.Errorf("exporting response: %w", err)
	}
	defer func() { _ = rt.Eval(`delete globalThis.__responseExport`) }()

	err := el.RunUntil(rt, deadline, func() (bool, error) {
		return rt.EvalBool(`globalThis.__responseExport.done`)
	})
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if msg, err := rt.EvalString(`globalThis.__responseExport.error`); err != nil {
		return nil, err
	} else if msg != "" {
		return nil, fmt.Errorf("reading response body: %s", msg)
	}
	raw, err := rt.EvalString(`globalThis.__responseExport.json`)
	if err != nil {
		return nil, err
	}

	var out struct {
		Status     int                 `json:"status"`
		StatusText string              `json:"statusText"`
		Headers    map[string][]string `json:"headers"`
		Body       string              `json:"body"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	body, err := base64.StdEncoding.DecodeString(out.Body)
	if err != nil {
		return nil, fmt.Errorf("decoding response body: %w", err)
	}
	return &core.Response{
		StatusCode: out.Status,
		StatusText: out.StatusText,
		Headers:    out.Headers,
		Body:       body,
	}, nil
}
