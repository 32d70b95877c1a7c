package core

// JSRuntime abstracts the JavaScript engine (QuickJS or V8) behind the
// interface used by the setup functions in internal/webapi, the scope
// builder and the event loop.
type JSRuntime interface {
	// Eval evaluates JavaScript source and discards the result.
	Eval(js string) error

	// EvalString evaluates JavaScript and returns the result as a Go string.
	EvalString(js string) (string, error)

	// EvalBool evaluates JavaScript and returns the result as a Go bool.
	EvalBool(js string) (bool, error)

	// RegisterFunc registers a Go function as a global JavaScript function.
	// Arguments and results are marshaled for string, int, float64 and bool.
	// A (T, error) signature throws a TypeError in JS when err is non-nil.
	RegisterFunc(name string, fn any) error

	// SetGlobal sets a global variable on the JS context.
	SetGlobal(name string, value any) error

	// RunMicrotasks pumps the microtask queue until it is empty.
	RunMicrotasks()

	// Interrupt aborts the script currently running on the engine. It is
	// the only method that may be called from another goroutine.
	Interrupt()

	// Close releases the engine. The runtime must not be used afterwards.
	Close() error
}
