// Package scope builds the ServiceWorkerGlobalScope on top of the Web APIs
// installed by package webapi and dispatches lifecycle and fetch events
// into it.
package scope

import (
	"fmt"

	"github.com/cryguy/serviceworker/internal/core"
	"github.com/cryguy/serviceworker/internal/eventloop"
	"github.com/cryguy/serviceworker/internal/webapi"
)

// HandlerEvents are the event types with an on<type> slot on the scope.
// "error" is handled separately because its handler receives the
// ErrorEvent fields as arguments.
var HandlerEvents = []string{"install", "activate", "fetch", "message"}

// globalScopeJS turns the global object into a ServiceWorkerGlobalScope:
// a manufactured prototype chain ending in EventTarget, own on<event>
// slots, close(), skipWaiting(), postMessage() and non-enumerable own
// bindings.
const globalScopeJS = `
(function(handlerEvents) {
var scope = globalThis;

function ServiceWorkerGlobalScope() {
	throw new TypeError('Illegal constructor');
}
Object.setPrototypeOf(ServiceWorkerGlobalScope, EventTarget);
var proto = Object.create(EventTarget.prototype);
Object.defineProperty(proto, 'constructor', { value: ServiceWorkerGlobalScope, writable: true, configurable: true });
Object.defineProperty(proto, Symbol.toStringTag, { value: 'ServiceWorkerGlobalScope', configurable: true });
Object.defineProperty(ServiceWorkerGlobalScope, 'prototype', { value: proto, writable: false });

function handlerSlots(target) {
	if (!Object.prototype.hasOwnProperty.call(target, '_eventHandlers')) {
		Object.defineProperty(target, '_eventHandlers', {
			value: Object.create(null), writable: true, configurable: true, enumerable: false
		});
	}
	return target._eventHandlers;
}

function defineHandler(type, invoke) {
	Object.defineProperty(scope, 'on' + type, {
		configurable: true,
		enumerable: true,
		get: function() {
			var slot = handlerSlots(this == null ? scope : this)[type];
			return slot ? slot.value : null;
		},
		set: function(value) {
			var target = this == null ? scope : this;
			var slots = handlerSlots(target);
			if (value === null || (typeof value !== 'object' && typeof value !== 'function')) value = null;
			var slot = slots[type];
			if (value === null) {
				if (slot) {
					EventTarget.prototype.removeEventListener.call(target, type, slot.listener);
					delete slots[type];
				}
				return;
			}
			if (slot) {
				slot.value = value;
				return;
			}
			slot = { value: value, listener: null };
			slot.listener = function(event) {
				if (typeof slot.value !== 'function') return;
				invoke(slot.value, this, event);
			};
			slots[type] = slot;
			EventTarget.prototype.addEventListener.call(target, type, slot.listener);
		}
	});
}

Object.setPrototypeOf(scope, proto);

defineHandler('error', function(fn, thisArg, event) {
	var ret;
	if (event instanceof ErrorEvent) {
		ret = fn.call(thisArg, event.message, event.filename, event.lineno, event.colno, event.error);
	} else {
		ret = fn.call(thisArg, event);
	}
	if (ret === true) event.preventDefault();
});
for (var i = 0; i < handlerEvents.length; i++) {
	defineHandler(handlerEvents[i], function(fn, thisArg, event) {
		if (fn.call(thisArg, event) === false) event.preventDefault();
	});
}

var targetDispatch = EventTarget.prototype.dispatchEvent;
var drain = ExtendableEvent.prototype._drainExtensions;
var fetchDrain = FetchEvent.prototype._drainExtensions;
var FetchEventCtor = FetchEvent;
var timeOut = ExtendableEvent.prototype._timeOut;
var detachListeners = __detachListeners;
var clearTimers = __timerClearAll;
var MessageEventCtor = MessageEvent;
var clone = structuredClone;
var schedule = setTimeout;
var scopeOrigin = '';
try { scopeOrigin = new URL(globalThis.__scopeURL).origin; } catch (e) {}

// Global members are own properties. Bare calls such as
// addEventListener(...) arrive with an undefined receiver, so the
// EventTarget methods are rebound onto the scope.
['addEventListener', 'removeEventListener', 'dispatchEvent'].forEach(function(name) {
	var method = EventTarget.prototype[name];
	scope[name] = function() {
		return method.apply(this == null ? scope : this, arguments);
	};
});

scope.ServiceWorkerGlobalScope = ServiceWorkerGlobalScope;
scope.self = scope;

scope.skipWaiting = function() {
	return Promise.resolve(undefined);
};

// postMessage queues a message event at the scope itself. A targetOrigin
// other than '*' must match the scope's origin, or nothing is delivered.
scope.postMessage = function(message, options) {
	if (arguments.length < 1) {
		throw new TypeError("Failed to execute 'postMessage' on 'ServiceWorkerGlobalScope': 1 argument required, but only 0 present.");
	}
	var targetOrigin = options !== null && typeof options === 'object' ? options.targetOrigin : options;
	targetOrigin = targetOrigin === undefined ? '/' : String(targetOrigin);
	if (targetOrigin !== '*' && targetOrigin !== '/') {
		var parsed;
		try {
			parsed = new URL(targetOrigin);
		} catch (e) {
			throw new DOMException("Failed to execute 'postMessage' on 'ServiceWorkerGlobalScope': Invalid target origin '" + targetOrigin + "'.", 'SyntaxError');
		}
		if (parsed.origin !== scopeOrigin) return;
	}
	var data = clone(message);
	schedule(function() {
		targetDispatch.call(scope, new MessageEventCtor('message', { data: data, origin: scopeOrigin }));
	}, 0);
};

function closeScope() {
	globalThis.__scopeClosed = true;
	detachListeners(scope);
	Object.defineProperty(scope, '_eventHandlers', {
		value: Object.create(null), writable: true, configurable: true, enumerable: false
	});
	clearTimers();
}
scope.close = function() {
	closeScope();
};

delete scope.window;

var names = Object.getOwnPropertyNames(scope);
for (var n = 0; n < names.length; n++) {
	var desc = Object.getOwnPropertyDescriptor(scope, names[n]);
	if (!desc || !desc.configurable || !('value' in desc)) continue;
	if (!desc.enumerable && desc.writable) continue;
	Object.defineProperty(scope, names[n], {
		value: desc.value, writable: true, configurable: true, enumerable: false
	});
}

// The host drives dispatch and close through these, so reassigning the
// public globals cannot redirect or stall it.
Object.defineProperty(scope, '__scopeInternals', {
	value: Object.freeze({
		close: closeScope,
		dispatch: function(ev) { return targetDispatch.call(scope, ev); },
		drain: function(ev) { return (ev instanceof FetchEventCtor ? fetchDrain : drain).call(ev); },
		timeOut: function(ev) { return timeOut.call(ev); },
		FetchEvent: FetchEventCtor,
		ExtendableEvent: ExtendableEvent,
		ExtendableMessageEvent: ExtendableMessageEvent
	}),
	writable: false, configurable: false, enumerable: false
});
})
`

// Options configures Build.
type Options struct {
	ScopeURL string
	Console  core.ConsoleSink
	OnReport webapi.ReportFunc
	Fetcher  *webapi.Fetcher
}

// Build installs the Web APIs and the service worker scope on rt. The
// order matters: later setups use globals installed by earlier ones.
func Build(rt core.JSRuntime, el *eventloop.EventLoop, opts Options) error {
	setups := []struct {
		name string
		fn   func(core.JSRuntime, *eventloop.EventLoop) error
	}{
		{"events", webapi.SetupEvents},
		{"console", webapi.SetupConsole(opts.Console)},
		{"reportError", webapi.SetupReportError(opts.Console, opts.OnReport)},
		{"timers", webapi.SetupTimers},
		{"globals", webapi.SetupGlobals},
		{"encoding", webapi.SetupEncoding},
		{"streams", webapi.SetupStreams},
		{"crypto", webapi.SetupCrypto},
		{"blob", webapi.SetupBlob},
		{"webapis", webapi.SetupWebAPIs(opts.ScopeURL)},
		{"fetch", opts.Fetcher.Setup},
		{"extendable events", setupEvents},
	}
	for _, s := range setups {
		if err := s.fn(rt, el); err != nil {
			return fmt.Errorf("setting up %s: %w", s.name, err)
		}
	}
	if err := rt.Eval(fmt.Sprintf("%s(%s)", globalScopeJS, jsStringArray(HandlerEvents))); err != nil {
		return fmt.Errorf("building global scope: %w", err)
	}
	return nil
}

func setupEvents(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.Eval(eventsJS); err != nil {
		return fmt.Errorf("evaluating events.js: %w", err)
	}
	return nil
}
