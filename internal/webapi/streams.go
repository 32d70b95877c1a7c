package webapi

import (
	"fmt"

	"github.com/cryguy/serviceworker/internal/core"
	"github.com/cryguy/serviceworker/internal/eventloop"
)

// streamsJS implements the subset of WHATWG streams a worker script
// needs: default readable streams with pull sources, writable streams
// with serialized writes, and identity or custom transform streams.
const streamsJS = `
(function() {

function deferred() {
	var d = {};
	d.promise = new Promise(function(resolve, reject) { d.resolve = resolve; d.reject = reject; });
	d.promise.catch(function() {});
	return d;
}

class ReadableStreamDefaultController {
	constructor(stream) { this._stream = stream; }
	get desiredSize() {
		var s = this._stream;
		if (s._state === 'errored') return null;
		if (s._state === 'closed') return 0;
		return s._highWaterMark - s._queue.length;
	}
	enqueue(chunk) {
		var s = this._stream;
		if (s._closeRequested || s._state !== 'readable') {
			throw new TypeError('Cannot enqueue a chunk into a closed or errored stream');
		}
		if (s._reads.length > 0) {
			s._reads.shift().resolve({ value: chunk, done: false });
		} else {
			s._queue.push(chunk);
		}
	}
	close() {
		var s = this._stream;
		if (s._closeRequested || s._state !== 'readable') {
			throw new TypeError('Cannot close a closed or errored stream');
		}
		s._closeRequested = true;
		if (s._queue.length === 0) s._finish();
	}
	error(e) { this._stream._fail(e); }
}

class ReadableStreamDefaultReader {
	constructor(stream) {
		if (!(stream instanceof ReadableStream)) throw new TypeError('ReadableStreamDefaultReader requires a ReadableStream');
		if (stream._reader) throw new TypeError('ReadableStream is already locked');
		this._stream = stream;
		stream._reader = this;
		this._closed = deferred();
		if (stream._state === 'closed') this._closed.resolve();
		if (stream._state === 'errored') this._closed.reject(stream._error);
	}
	get closed() { return this._closed.promise; }
	read() {
		var s = this._stream;
		if (!s) return Promise.reject(new TypeError('Reader has been released'));
		s._disturbed = true;
		if (s._queue.length > 0) {
			var chunk = s._queue.shift();
			if (s._closeRequested && s._queue.length === 0) s._finish();
			else s._maybePull();
			return Promise.resolve({ value: chunk, done: false });
		}
		if (s._state === 'closed') return Promise.resolve({ value: undefined, done: true });
		if (s._state === 'errored') return Promise.reject(s._error);
		var d = deferred();
		s._reads.push(d);
		s._maybePull();
		return d.promise;
	}
	releaseLock() {
		var s = this._stream;
		if (!s) return;
		var err = new TypeError('Reader was released');
		while (s._reads.length > 0) s._reads.shift().reject(err);
		if (s._state === 'readable') this._closed.reject(err);
		s._reader = null;
		this._stream = null;
	}
	cancel(reason) {
		if (!this._stream) return Promise.reject(new TypeError('Reader has been released'));
		return this._stream._cancel(reason);
	}
}

class ReadableStream {
	constructor(source, strategy) {
		source = source || {};
		this._state = 'readable';
		this._queue = [];
		this._reads = [];
		this._reader = null;
		this._error = undefined;
		this._disturbed = false;
		this._closeRequested = false;
		this._pulling = false;
		this._pullAgain = false;
		this._started = false;
		this._highWaterMark = strategy && strategy.highWaterMark !== undefined ? Number(strategy.highWaterMark) : 1;
		this._source = source;
		this._controller = new ReadableStreamDefaultController(this);
		var self = this;
		var started;
		try {
			started = typeof source.start === 'function' ? source.start(this._controller) : undefined;
		} catch (e) {
			this._fail(e);
			return;
		}
		Promise.resolve(started).then(function() {
			self._started = true;
			self._maybePull();
		}, function(e) { self._fail(e); });
	}
	get locked() { return this._reader !== null; }
	getReader(options) {
		if (options && options.mode === 'byob') throw new TypeError('BYOB readers are not supported');
		return new ReadableStreamDefaultReader(this);
	}
	cancel(reason) {
		if (this._reader) return Promise.reject(new TypeError('Cannot cancel a locked stream'));
		return this._cancel(reason);
	}
	_cancel(reason) {
		this._disturbed = true;
		if (this._state === 'closed') return Promise.resolve();
		if (this._state === 'errored') return Promise.reject(this._error);
		this._queue = [];
		this._finish();
		var fn = this._source.cancel;
		try {
			return Promise.resolve(typeof fn === 'function' ? fn.call(this._source, reason) : undefined).then(function() {});
		} catch (e) {
			return Promise.reject(e);
		}
	}
	_maybePull() {
		if (!this._started || this._state !== 'readable' || this._closeRequested) return;
		if (typeof this._source.pull !== 'function') return;
		if (this._reads.length === 0 && this._queue.length >= this._highWaterMark) return;
		if (this._pulling) { this._pullAgain = true; return; }
		this._pulling = true;
		var self = this;
		var r;
		try {
			r = this._source.pull(this._controller);
		} catch (e) {
			this._fail(e);
			return;
		}
		Promise.resolve(r).then(function() {
			self._pulling = false;
			if (self._pullAgain) { self._pullAgain = false; self._maybePull(); }
			else if (self._reads.length > 0) self._maybePull();
		}, function(e) { self._fail(e); });
	}
	_finish() {
		if (this._state !== 'readable') return;
		this._state = 'closed';
		while (this._reads.length > 0) this._reads.shift().resolve({ value: undefined, done: true });
		if (this._reader) this._reader._closed.resolve();
	}
	_fail(e) {
		if (this._state !== 'readable') return;
		this._state = 'errored';
		this._error = e;
		this._queue = [];
		while (this._reads.length > 0) this._reads.shift().reject(e);
		if (this._reader) this._reader._closed.reject(e);
	}
	tee() {
		var reader = this.getReader();
		var controllers = [];
		var canceled = [false, false];
		var reading = false;
		function pullBoth() {
			if (reading) return Promise.resolve();
			reading = true;
			return reader.read().then(function(r) {
				reading = false;
				for (var i = 0; i < 2; i++) {
					if (canceled[i]) continue;
					if (r.done) controllers[i].close(); else controllers[i].enqueue(r.value);
				}
			}, function(e) {
				reading = false;
				controllers[0].error(e);
				controllers[1].error(e);
			});
		}
		function branch(i) {
			return new ReadableStream({
				start: function(c) { controllers[i] = c; },
				pull: pullBoth,
				cancel: function() {
					canceled[i] = true;
					if (canceled[0] && canceled[1]) return reader.cancel();
				}
			});
		}
		return [branch(0), branch(1)];
	}
	pipeTo(dest, options) {
		if (!(dest instanceof WritableStream)) return Promise.reject(new TypeError('pipeTo requires a WritableStream'));
		if (this.locked) return Promise.reject(new TypeError('Cannot pipe a locked stream'));
		if (dest.locked) return Promise.reject(new TypeError('Cannot pipe to a locked stream'));
		options = options || {};
		var reader = this.getReader();
		var writer = dest.getWriter();
		var signal = options.signal;
		return (async function() {
			try {
				while (true) {
					if (signal && signal.aborted) throw signal.reason;
					var r = await reader.read();
					if (r.done) break;
					await writer.write(r.value);
				}
				if (!options.preventClose) await writer.close();
			} catch (e) {
				if (!options.preventAbort) { try { await writer.abort(e); } catch (_) {} }
				if (!options.preventCancel) { try { await reader.cancel(e); } catch (_) {} }
				throw e;
			} finally {
				reader.releaseLock();
				writer.releaseLock();
			}
		})();
	}
	pipeThrough(pair, options) {
		if (!pair || !(pair.writable instanceof WritableStream) || !(pair.readable instanceof ReadableStream)) {
			throw new TypeError('pipeThrough requires a { writable, readable } pair');
		}
		this.pipeTo(pair.writable, options).catch(function() {});
		return pair.readable;
	}
	values(options) {
		var reader = this.getReader();
		var preventCancel = !!(options && options.preventCancel);
		return {
			next: function() { return reader.read(); },
			return: function(value) {
				var p = preventCancel ? Promise.resolve() : reader.cancel(value);
				return p.then(function() { reader.releaseLock(); return { value: value, done: true }; });
			},
			[Symbol.asyncIterator]: function() { return this; }
		};
	}
	[Symbol.asyncIterator](options) { return this.values(options); }
	get [Symbol.toStringTag]() { return 'ReadableStream'; }
	static from(iterable) {
		if (iterable === null || iterable === undefined) throw new TypeError('ReadableStream.from requires an iterable');
		var it;
		if (typeof iterable[Symbol.asyncIterator] === 'function') it = iterable[Symbol.asyncIterator]();
		else if (typeof iterable[Symbol.iterator] === 'function') it = iterable[Symbol.iterator]();
		else throw new TypeError('ReadableStream.from requires an iterable');
		return new ReadableStream({
			pull: function(c) {
				return Promise.resolve(it.next()).then(function(r) {
					if (r.done) c.close(); else c.enqueue(r.value);
				});
			},
			cancel: function(reason) {
				if (typeof it.return === 'function') return it.return(reason);
			}
		}, { highWaterMark: 0 });
	}
}

class WritableStreamDefaultController {
	constructor(stream) { this._stream = stream; }
	error(e) { this._stream._fail(e); }
}

class WritableStreamDefaultWriter {
	constructor(stream) {
		if (stream._writer) throw new TypeError('WritableStream is already locked');
		this._stream = stream;
		stream._writer = this;
	}
	get closed() { return this._stream ? this._stream._closed.promise : Promise.reject(new TypeError('Writer has been released')); }
	get ready() { return Promise.resolve(); }
	get desiredSize() { return this._stream && this._stream._state === 'writable' ? 1 : 0; }
	write(chunk) {
		var s = this._stream;
		if (!s) return Promise.reject(new TypeError('Writer has been released'));
		if (s._state === 'errored') return Promise.reject(s._error);
		if (s._state !== 'writable' || s._closing) return Promise.reject(new TypeError('Cannot write to a closing or closed stream'));
		return s._enqueue(function() {
			return typeof s._sink.write === 'function' ? s._sink.write(chunk, s._controller) : undefined;
		});
	}
	close() {
		var s = this._stream;
		if (!s) return Promise.reject(new TypeError('Writer has been released'));
		if (s._state !== 'writable' || s._closing) return Promise.reject(new TypeError('Stream is already closing or closed'));
		s._closing = true;
		return s._enqueue(function() {
			return typeof s._sink.close === 'function' ? s._sink.close() : undefined;
		}).then(function() {
			s._state = 'closed';
			s._closed.resolve();
		});
	}
	abort(reason) {
		var s = this._stream;
		if (!s) return Promise.reject(new TypeError('Writer has been released'));
		return s._abort(reason);
	}
	releaseLock() {
		if (!this._stream) return;
		this._stream._writer = null;
		this._stream = null;
	}
}

class WritableStream {
	constructor(sink, strategy) {
		this._sink = sink || {};
		this._state = 'writable';
		this._closing = false;
		this._error = undefined;
		this._writer = null;
		this._closed = deferred();
		this._controller = new WritableStreamDefaultController(this);
		var started;
		try {
			started = typeof this._sink.start === 'function' ? this._sink.start(this._controller) : undefined;
		} catch (e) {
			this._fail(e);
		}
		this._chain = Promise.resolve(started);
	}
	get locked() { return this._writer !== null; }
	getWriter() { return new WritableStreamDefaultWriter(this); }
	abort(reason) {
		if (this._writer) return Promise.reject(new TypeError('Cannot abort a locked stream'));
		return this._abort(reason);
	}
	close() {
		if (this._writer) return Promise.reject(new TypeError('Cannot close a locked stream'));
		var w = this.getWriter();
		return w.close().finally(function() { w.releaseLock(); });
	}
	_enqueue(op) {
		var self = this;
		var p = this._chain.then(function() {
			if (self._state === 'errored') throw self._error;
			return op();
		});
		this._chain = p.then(function() {}, function(e) { self._fail(e); });
		return p.then(function() {});
	}
	_abort(reason) {
		if (this._state === 'closed' || this._state === 'errored') return Promise.resolve();
		this._fail(reason);
		var fn = this._sink.abort;
		return Promise.resolve(typeof fn === 'function' ? fn.call(this._sink, reason) : undefined).then(function() {});
	}
	_fail(e) {
		if (this._state === 'errored' || this._state === 'closed') return;
		this._state = 'errored';
		this._error = e;
		this._closed.reject(e);
	}
	get [Symbol.toStringTag]() { return 'WritableStream'; }
}

class TransformStream {
	constructor(transformer, writableStrategy, readableStrategy) {
		transformer = transformer || {};
		var rc;
		this.readable = new ReadableStream({
			start: function(c) { rc = c; }
		}, readableStrategy || { highWaterMark: 0 });
		var controller = {
			enqueue: function(chunk) { rc.enqueue(chunk); },
			error: function(e) { rc.error(e); },
			terminate: function() { try { rc.close(); } catch (_) {} },
			get desiredSize() { return rc.desiredSize; }
		};
		var readable = this.readable;
		if (typeof transformer.start === 'function') transformer.start(controller);
		this.writable = new WritableStream({
			write: function(chunk) {
				if (typeof transformer.transform === 'function') return transformer.transform(chunk, controller);
				controller.enqueue(chunk);
			},
			close: function() {
				return Promise.resolve(typeof transformer.flush === 'function' ? transformer.flush(controller) : undefined)
					.then(function() { if (readable._state === 'readable' && !readable._closeRequested) rc.close(); });
			},
			abort: function(reason) { rc.error(reason); }
		}, writableStrategy);
	}
	get [Symbol.toStringTag]() { return 'TransformStream'; }
}

class ByteLengthQueuingStrategy {
	constructor(init) { this.highWaterMark = init.highWaterMark; }
	size(chunk) { return chunk.byteLength; }
}

class CountQueuingStrategy {
	constructor(init) { this.highWaterMark = init.highWaterMark; }
	size() { return 1; }
}

class TextEncoderStream extends TransformStream {
	constructor() {
		var encoder = new TextEncoder();
		var pending = '';
		super({
			transform: function(chunk, c) {
				var s = pending + String(chunk);
				pending = '';
				var last = s.charCodeAt(s.length - 1);
				if (last >= 0xD800 && last <= 0xDBFF) { pending = s.slice(-1); s = s.slice(0, -1); }
				if (s.length > 0) c.enqueue(encoder.encode(s));
			},
			flush: function(c) {
				if (pending) c.enqueue(encoder.encode(pending));
			}
		});
	}
	get encoding() { return 'utf-8'; }
}

class TextDecoderStream extends TransformStream {
	constructor(label, options) {
		var decoder = new TextDecoder(label, options);
		super({
			transform: function(chunk, c) {
				var text = decoder.decode(__toBytes(chunk), { stream: true });
				if (text) c.enqueue(text);
			},
			flush: function(c) {
				var text = decoder.decode();
				if (text) c.enqueue(text);
			}
		});
		this._decoder = decoder;
	}
	get encoding() { return this._decoder.encoding; }
	get fatal() { return this._decoder.fatal; }
	get ignoreBOM() { return this._decoder.ignoreBOM; }
}

globalThis.ReadableStream = ReadableStream;
globalThis.ReadableStreamDefaultReader = ReadableStreamDefaultReader;
globalThis.ReadableStreamDefaultController = ReadableStreamDefaultController;
globalThis.WritableStream = WritableStream;
globalThis.WritableStreamDefaultWriter = WritableStreamDefaultWriter;
globalThis.TransformStream = TransformStream;
globalThis.ByteLengthQueuingStrategy = ByteLengthQueuingStrategy;
globalThis.CountQueuingStrategy = CountQueuingStrategy;
globalThis.TextEncoderStream = TextEncoderStream;
globalThis.TextDecoderStream = TextDecoderStream;

})();
`

// SetupStreams installs the stream constructors.
func SetupStreams(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.Eval(streamsJS); err != nil {
		return fmt.Errorf("evaluating streams.js: %w", err)
	}
	return nil
}
