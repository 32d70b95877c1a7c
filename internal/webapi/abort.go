package webapi

import (
	"fmt"

	"github.com/cryguy/serviceworker/internal/core"
	"github.com/cryguy/serviceworker/internal/eventloop"
)

// eventsJS defines DOMException, Event, EventTarget, CustomEvent,
// AbortSignal and AbortController.
//
// EventTarget keeps its listener map in a non-enumerable own "_listeners"
// property created on first use, so objects whose prototype is re-pointed
// at EventTarget.prototype (the global scope) work without running the
// constructor. Listener exceptions go to __reportException when it exists.
const eventsJS = `
(function() {

var legacyCodes = {
	INDEX_SIZE_ERR: 1, DOMSTRING_SIZE_ERR: 2, HIERARCHY_REQUEST_ERR: 3,
	WRONG_DOCUMENT_ERR: 4, INVALID_CHARACTER_ERR: 5, NO_DATA_ALLOWED_ERR: 6,
	NO_MODIFICATION_ALLOWED_ERR: 7, NOT_FOUND_ERR: 8, NOT_SUPPORTED_ERR: 9,
	INUSE_ATTRIBUTE_ERR: 10, INVALID_STATE_ERR: 11, SYNTAX_ERR: 12,
	INVALID_MODIFICATION_ERR: 13, NAMESPACE_ERR: 14, INVALID_ACCESS_ERR: 15,
	VALIDATION_ERR: 16, TYPE_MISMATCH_ERR: 17, SECURITY_ERR: 18,
	NETWORK_ERR: 19, ABORT_ERR: 20, URL_MISMATCH_ERR: 21,
	QUOTA_EXCEEDED_ERR: 22, TIMEOUT_ERR: 23, INVALID_NODE_TYPE_ERR: 24,
	DATA_CLONE_ERR: 25
};

var nameCodes = {
	IndexSizeError: 1, HierarchyRequestError: 3, WrongDocumentError: 4,
	InvalidCharacterError: 5, NoModificationAllowedError: 7, NotFoundError: 8,
	NotSupportedError: 9, InUseAttributeError: 10, InvalidStateError: 11,
	SyntaxError: 12, InvalidModificationError: 13, NamespaceError: 14,
	InvalidAccessError: 15, TypeMismatchError: 17, SecurityError: 18,
	NetworkError: 19, AbortError: 20, URLMismatchError: 21,
	QuotaExceededError: 22, TimeoutError: 23, InvalidNodeTypeError: 24,
	DataCloneError: 25
};

class DOMException extends Error {
	constructor(message, name) {
		super(message === undefined ? '' : String(message));
		Object.defineProperty(this, 'name', {
			value: name === undefined ? 'Error' : String(name),
			writable: true, configurable: true, enumerable: false
		});
	}
	get code() { return nameCodes[this.name] || 0; }
	get [Symbol.toStringTag]() { return 'DOMException'; }
}
for (var k in legacyCodes) {
	Object.defineProperty(DOMException, k, { value: legacyCodes[k], enumerable: true });
	Object.defineProperty(DOMException.prototype, k, { value: legacyCodes[k], enumerable: true });
}

function now() {
	return typeof performance !== 'undefined' ? performance.now() : Date.now();
}

class Event {
	constructor(type, init) {
		if (arguments.length < 1) {
			throw new TypeError("Failed to construct 'Event': 1 argument required, but only 0 present.");
		}
		init = init || {};
		this.type = String(type);
		this.bubbles = !!init.bubbles;
		this.cancelable = !!init.cancelable;
		this.composed = !!init.composed;
		this.isTrusted = false;
		this.defaultPrevented = false;
		this.target = null;
		this.currentTarget = null;
		this.eventPhase = Event.NONE;
		this.timeStamp = now();
		this._stopPropagationFlag = false;
		this._stopImmediatePropagationFlag = false;
		this._dispatchFlag = false;
	}
	get srcElement() { return this.target; }
	get cancelBubble() { return this._stopPropagationFlag; }
	set cancelBubble(v) { if (v) this._stopPropagationFlag = true; }
	get returnValue() { return !this.defaultPrevented; }
	set returnValue(v) { if (!v) this.preventDefault(); }
	composedPath() {
		return this._dispatchFlag && this.currentTarget ? [this.currentTarget] : [];
	}
	preventDefault() {
		if (this.cancelable) this.defaultPrevented = true;
	}
	stopPropagation() {
		this._stopPropagationFlag = true;
	}
	stopImmediatePropagation() {
		this._stopPropagationFlag = true;
		this._stopImmediatePropagationFlag = true;
	}
	get [Symbol.toStringTag]() { return 'Event'; }
}
Event.NONE = 0;
Event.CAPTURING_PHASE = 1;
Event.AT_TARGET = 2;
Event.BUBBLING_PHASE = 3;

function listenerMap(target, create) {
	if (Object.prototype.hasOwnProperty.call(target, '_listeners') && target._listeners) {
		return target._listeners;
	}
	if (!create) return null;
	var map = Object.create(null);
	Object.defineProperty(target, '_listeners', {
		value: map, writable: true, configurable: true, enumerable: false
	});
	return map;
}

function flattenOptions(options) {
	if (typeof options === 'boolean') return { capture: options, once: false, signal: null };
	options = options || {};
	return { capture: !!options.capture, once: !!options.once, signal: options.signal || null };
}

function report(err) {
	if (typeof globalThis.__reportException === 'function') {
		globalThis.__reportException(err);
		return;
	}
	throw err;
}

class EventTarget {
	constructor() {
		listenerMap(this, true);
	}
	addEventListener(type, callback, options) {
		if (callback === null || callback === undefined) return;
		if (typeof callback !== 'function' && typeof callback !== 'object') {
			throw new TypeError("Failed to execute 'addEventListener': parameter 2 is not of type 'Object'.");
		}
		var opts = flattenOptions(options);
		if (opts.signal && opts.signal.aborted) return;
		type = String(type);
		var map = listenerMap(this, true);
		var list = map[type] || (map[type] = []);
		for (var i = 0; i < list.length; i++) {
			if (list[i].callback === callback && list[i].capture === opts.capture) return;
		}
		var entry = { callback: callback, capture: opts.capture, once: opts.once, removed: false };
		list.push(entry);
		if (opts.signal) {
			var self = this;
			opts.signal.addEventListener('abort', function() {
				self.removeEventListener(type, callback, { capture: opts.capture });
			});
		}
	}
	removeEventListener(type, callback, options) {
		var map = listenerMap(this, false);
		type = String(type);
		if (!map || !map[type]) return;
		var capture = flattenOptions(options).capture;
		map[type] = map[type].filter(function(entry) {
			if (entry.callback === callback && entry.capture === capture) {
				entry.removed = true;
				return false;
			}
			return true;
		});
	}
	dispatchEvent(event) {
		if (!(event instanceof Event)) {
			throw new TypeError("Failed to execute 'dispatchEvent': parameter 1 is not of type 'Event'.");
		}
		if (event._dispatchFlag) {
			throw new DOMException('The event is already being dispatched.', 'InvalidStateError');
		}
		event._dispatchFlag = true;
		if (typeof event._beginDispatch === 'function') event._beginDispatch();
		event.target = this;
		event.currentTarget = this;
		event.eventPhase = Event.AT_TARGET;
		try {
			var map = listenerMap(this, false);
			var list = map && map[event.type];
			if (list) {
				var snapshot = list.slice();
				for (var i = 0; i < snapshot.length; i++) {
					var entry = snapshot[i];
					if (entry.removed) continue;
					if (entry.once) this.removeEventListener(event.type, entry.callback, { capture: entry.capture });
					try {
						if (typeof entry.callback === 'function') {
							entry.callback.call(this, event);
						} else if (entry.callback && typeof entry.callback.handleEvent === 'function') {
							entry.callback.handleEvent(event);
						}
					} catch (err) {
						report(err);
					}
					if (event._stopImmediatePropagationFlag) break;
				}
			}
		} finally {
			event._dispatchFlag = false;
			event.eventPhase = Event.NONE;
			event.currentTarget = null;
			if (typeof event._endDispatch === 'function') event._endDispatch();
		}
		return !event.defaultPrevented;
	}
	get [Symbol.toStringTag]() { return 'EventTarget'; }
}

// __detachListeners drops every listener of target, including ones a
// dispatch in progress has already snapshotted.
globalThis.__detachListeners = function(target) {
	var map = listenerMap(target, false);
	if (map) {
		for (var type in map) {
			for (var i = 0; i < map[type].length; i++) map[type][i].removed = true;
		}
	}
	Object.defineProperty(target, '_listeners', {
		value: Object.create(null), writable: true, configurable: true, enumerable: false
	});
};

class CustomEvent extends Event {
	constructor(type, init) {
		super(type, init);
		this.detail = (init && init.detail !== undefined) ? init.detail : null;
	}
	get [Symbol.toStringTag]() { return 'CustomEvent'; }
}

class CloseEvent extends Event {
	constructor(type, init) {
		super(type, init);
		init = init || {};
		this.wasClean = !!init.wasClean;
		this.code = init.code !== undefined ? (Number(init.code) & 0xffff) : 0;
		this.reason = init.reason !== undefined ? String(init.reason) : '';
	}
	get [Symbol.toStringTag]() { return 'CloseEvent'; }
}

function signalAbort(signal, reason) {
	if (signal.aborted) return;
	signal.aborted = true;
	signal.reason = reason !== undefined ? reason : new DOMException('This operation was aborted', 'AbortError');
	var ev = new Event('abort');
	if (typeof signal.onabort === 'function') {
		try { signal.onabort.call(signal, ev); } catch (err) { report(err); }
	}
	signal.dispatchEvent(ev);
}

class AbortSignal extends EventTarget {
	constructor() {
		super();
		this.aborted = false;
		this.reason = undefined;
		this.onabort = null;
	}
	throwIfAborted() {
		if (this.aborted) throw this.reason;
	}
	static abort(reason) {
		var signal = new AbortSignal();
		signalAbort(signal, reason);
		return signal;
	}
	static timeout(ms) {
		var signal = new AbortSignal();
		setTimeout(function() {
			signalAbort(signal, new DOMException('The operation timed out.', 'TimeoutError'));
		}, ms);
		return signal;
	}
	static any(signals) {
		var signal = new AbortSignal();
		for (var i = 0; i < signals.length; i++) {
			if (signals[i].aborted) {
				signalAbort(signal, signals[i].reason);
				return signal;
			}
		}
		signals.forEach(function(s) {
			s.addEventListener('abort', function() { signalAbort(signal, s.reason); });
		});
		return signal;
	}
	get [Symbol.toStringTag]() { return 'AbortSignal'; }
}

class AbortController {
	constructor() {
		this.signal = new AbortSignal();
	}
	abort(reason) {
		signalAbort(this.signal, reason);
	}
	get [Symbol.toStringTag]() { return 'AbortController'; }
}

globalThis.DOMException = DOMException;
globalThis.Event = Event;
globalThis.EventTarget = EventTarget;
globalThis.CustomEvent = CustomEvent;
globalThis.CloseEvent = CloseEvent;
globalThis.AbortSignal = AbortSignal;
globalThis.AbortController = AbortController;

})();
`

// SetupEvents evaluates the DOMException, Event, EventTarget, CustomEvent
// and AbortSignal/AbortController definitions.
func SetupEvents(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.Eval(eventsJS); err != nil {
		return fmt.Errorf("evaluating events.js: %w", err)
	}
	return nil
}
