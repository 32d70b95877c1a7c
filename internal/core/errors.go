package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidState is raised when a protocol precondition is violated,
	// e.g. waitUntil on an inactive event or a second respondWith.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidCharacter is raised by atob/btoa on input they cannot convert.
	ErrInvalidCharacter = errors.New("invalid character")

	// ErrTimeout is returned when a script or dispatch exceeds its limit.
	ErrTimeout = errors.New("timed out")

	// ErrClosed is returned when a closed scope is used.
	ErrClosed = errors.New("scope closed")

	// ErrTornDown is returned when an execution context is used after teardown.
	ErrTornDown = errors.New("execution context torn down")

	// ErrNoResponse is reported when respondWith was entered but produced
	// no usable response.
	ErrNoResponse = errors.New("no valid response produced")
)

// jsErrorNames maps DOMException names to the sentinel they classify as.
var jsErrorNames = map[string]error{
	"InvalidStateError":     ErrInvalidState,
	"InvalidCharacterError": ErrInvalidCharacter,
}

// JSError is an exception raised by hosted code.
type JSError struct {
	Name    string
	Message string
	kind    error
}

func (e *JSError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

// Unwrap returns the sentinel the exception classifies as, if any.
func (e *JSError) Unwrap() error { return e.kind }

// ClassifyJSError converts an engine error into a *JSError when the
// exception text carries a known DOMException name, so callers can use
// errors.Is against the sentinels. Other errors are returned unchanged.
func ClassifyJSError(err error) error {
	if err == nil {
		return nil
	}
	var je *JSError
	if errors.As(err, &je) {
		return err
	}
	msg := err.Error()
	for name, kind := range jsErrorNames {
		idx := strings.Index(msg, name+":")
		if idx < 0 {
			continue
		}
		text := strings.TrimSpace(msg[idx+len(name)+1:])
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			text = text[:nl]
		}
		return &JSError{Name: name, Message: text, kind: kind}
	}
	return err
}

// Errorf wraps err with a formatted prefix after classifying it.
func Errorf(err error, format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ClassifyJSError(err))...)
}
