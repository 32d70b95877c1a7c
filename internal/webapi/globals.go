package webapi

import (
	"fmt"
	"time"

	"github.com/cryguy/serviceworker/internal/core"
	"github.com/cryguy/serviceworker/internal/eventloop"
)

// UserAgent is reported by navigator.userAgent.
const UserAgent = "serviceworker-go/1.0"

// globalsJS defines queueMicrotask, structuredClone, performance and
// navigator.
const globalsJS = `
(function() {

globalThis.queueMicrotask = function(callback) {
	if (typeof callback !== 'function') {
		throw new TypeError("Failed to execute 'queueMicrotask': parameter 1 is not of type 'Function'.");
	}
	Promise.resolve().then(function() {
		try {
			callback();
		} catch (err) {
			__reportException(err);
		}
	});
};

var typedArrays = [Int8Array, Uint8Array, Uint8ClampedArray, Int16Array, Uint16Array,
	Int32Array, Uint32Array, Float32Array, Float64Array];
if (typeof BigInt64Array !== 'undefined') typedArrays.push(BigInt64Array, BigUint64Array);

function uncloneable(what) {
	return new DOMException(what + ' could not be cloned.', 'DataCloneError');
}

function clone(value, memory) {
	var t = typeof value;
	if (value === null || t === 'undefined' || t === 'boolean' || t === 'number' || t === 'string' || t === 'bigint') {
		return value;
	}
	if (t === 'function' || t === 'symbol') throw uncloneable(String(value));
	if (memory.has(value)) return memory.get(value);
	if (value instanceof Promise || value instanceof WeakMap || value instanceof WeakSet) {
		throw uncloneable(Object.prototype.toString.call(value));
	}

	var out;
	if (value instanceof Date) {
		out = new Date(value.getTime());
	} else if (value instanceof RegExp) {
		out = new RegExp(value.source, value.flags);
	} else if (value instanceof ArrayBuffer) {
		out = value.slice(0);
	} else if (value instanceof DataView) {
		out = new DataView(value.buffer.slice(value.byteOffset, value.byteOffset + value.byteLength));
	} else {
		for (var i = 0; i < typedArrays.length; i++) {
			if (value instanceof typedArrays[i]) {
				out = new typedArrays[i](value);
				memory.set(value, out);
				return out;
			}
		}
	}
	if (out !== undefined) {
		memory.set(value, out);
		return out;
	}

	if (value instanceof Map) {
		out = new Map();
		memory.set(value, out);
		value.forEach(function(v, k) { out.set(clone(k, memory), clone(v, memory)); });
		return out;
	}
	if (value instanceof Set) {
		out = new Set();
		memory.set(value, out);
		value.forEach(function(v) { out.add(clone(v, memory)); });
		return out;
	}
	if (value instanceof Error) {
		out = new Error(value.message);
		out.name = value.name;
		memory.set(value, out);
		return out;
	}
	out = Array.isArray(value) ? new Array(value.length) : {};
	memory.set(value, out);
	Object.keys(value).forEach(function(k) { out[k] = clone(value[k], memory); });
	return out;
}

globalThis.structuredClone = function structuredClone(value) {
	if (arguments.length < 1) {
		throw new TypeError("Failed to execute 'structuredClone': 1 argument required, but only 0 present.");
	}
	return clone(value, new Map());
};

globalThis.performance = {
	timeOrigin: __performanceOrigin(),
	now: function() { return __performanceNow(); },
	toJSON: function() { return { timeOrigin: this.timeOrigin }; }
};

globalThis.navigator = {
	userAgent: __userAgent,
	onLine: true,
	language: 'en-US',
	languages: ['en-US'],
	hardwareConcurrency: 1
};

})();
`

// SetupGlobals registers queueMicrotask, structuredClone, performance and
// navigator.
func SetupGlobals(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	origin := time.Now()
	if err := rt.RegisterFunc("__performanceNow", func() float64 {
		return float64(time.Since(origin).Nanoseconds()) / 1e6
	}); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__performanceOrigin", func() float64 {
		return float64(origin.UnixNano()) / 1e6
	}); err != nil {
		return err
	}
	if err := rt.SetGlobal("__userAgent", UserAgent); err != nil {
		return err
	}
	if err := rt.Eval(globalsJS); err != nil {
		return fmt.Errorf("evaluating globals.js: %w", err)
	}
	return nil
}
