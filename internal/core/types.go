package core

import (
	"strings"
	"time"
)

// Request is an HTTP request handed to a fetch event.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte

	// Mode is the request mode ("navigate", "cors", "no-cors",
	// "same-origin"). Empty means "cors".
	Mode string
}

// Response is the response a fetch event produced. Header names are
// lower-case; a name maps to every value in order, so repeated headers
// such as set-cookie survive.
type Response struct {
	StatusCode int
	StatusText string
	Headers    map[string][]string
	Body       []byte
}

// Header returns the first value of the named header.
func (r *Response) Header(name string) string {
	if vals := r.Headers[strings.ToLower(name)]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// LogEntry is a single console façade call.
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}
