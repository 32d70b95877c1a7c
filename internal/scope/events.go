package scope

// eventsJS defines ExtendableEvent, FetchEvent, MessageEvent and
// ExtendableMessageEvent.
//
// An ExtendableEvent is active while it has not timed out and either has
// pending extensions or is being dispatched. A never-dispatched event has
// no timeout state yet and counts as active, so handlers under test can
// call waitUntil on events they construct themselves.
const eventsJS = `
(function() {

function invalidState(method, iface, msg) {
	return new DOMException("Failed to execute '" + method + "' on '" + iface + "': " + msg, 'InvalidStateError');
}

function hidden(obj, props) {
	for (var k in props) {
		Object.defineProperty(obj, k, { value: props[k], writable: true, configurable: true, enumerable: false });
	}
}

class ExtendableEvent extends Event {
	constructor(type, init) {
		if (arguments.length < 1) {
			throw new TypeError("Failed to construct 'ExtendableEvent': 1 argument required, but only 0 present.");
		}
		super(type, init);
		hidden(this, {
			_extendLifetimePromises: [],
			_pendingPromisesCount: 0,
			_timedOutFlag: undefined
		});
	}
	get _active() {
		if (this._timedOutFlag === undefined) return true;
		if (this._timedOutFlag === true) return false;
		return this._pendingPromisesCount > 0 || this._dispatchFlag;
	}
	waitUntil(future) {
		if (!this._active) {
			throw invalidState('waitUntil', 'ExtendableEvent', 'The event handler is already finished.');
		}
		var p = Promise.resolve(future);
		this._extendLifetimePromises.push(p);
		this._pendingPromisesCount++;
		var self = this;
		var settle = function() { self._pendingPromisesCount--; };
		p.then(settle, settle);
	}
	_beginDispatch() {
		if (this._timedOutFlag === undefined) this._timedOutFlag = false;
	}
	_endDispatch() {}
	_timeOut() {
		this._timedOutFlag = true;
	}
	// _drainExtensions settles once every extension registered so far has
	// settled, including ones added while earlier ones were pending.
	_drainExtensions() {
		var self = this;
		var seen = 0;
		var results = [];
		function next() {
			if (seen === self._extendLifetimePromises.length) return Promise.resolve(results);
			var batch = self._extendLifetimePromises.slice(seen);
			seen = self._extendLifetimePromises.length;
			return Promise.allSettled(batch).then(function(r) {
				results = results.concat(r);
				return next();
			});
		}
		return next();
	}
	get [Symbol.toStringTag]() { return 'ExtendableEvent'; }
}

class FetchEvent extends ExtendableEvent {
	constructor(type, init) {
		if (arguments.length < 2) {
			throw new TypeError("Failed to construct 'FetchEvent': 2 arguments required, but only " + arguments.length + " present.");
		}
		if (init === null || typeof init !== 'object' || init.request === undefined) {
			throw new TypeError("Failed to construct 'FetchEvent': required member request is undefined.");
		}
		super(type, init);
		hidden(this, {
			_request: init.request,
			_preloadResponse: init.preloadResponse !== undefined ? init.preloadResponse : Promise.resolve(undefined),
			_clientId: init.clientId !== undefined ? String(init.clientId) : '',
			_resultingClientId: init.resultingClientId !== undefined ? String(init.resultingClientId) : '',
			_replacesClientId: init.replacesClientId !== undefined ? String(init.replacesClientId) : '',
			_handled: init.handled !== undefined ? init.handled : Promise.resolve(undefined),
			_respondWithEnteredFlag: false,
			_waitToRespondFlag: false,
			_respondWithErrorFlag: false,
			_potentialResponse: null,
			_respondWithPromise: null
		});
	}
	get request() { return this._request; }
	get preloadResponse() { return this._preloadResponse; }
	get clientId() { return this._clientId; }
	get resultingClientId() { return this._resultingClientId; }
	get replacesClientId() { return this._replacesClientId; }
	get handled() { return this._handled; }
	respondWith(r) {
		if (this._respondWithEnteredFlag) {
			throw invalidState('respondWith', 'FetchEvent', 'The event has already been responded to.');
		}
		var p = Promise.resolve(r);
		this.waitUntil(p);
		this._stopPropagationFlag = true;
		this._stopImmediatePropagationFlag = true;
		this._respondWithEnteredFlag = true;
		this._waitToRespondFlag = true;
		var self = this;
		this._respondWithPromise = p.then(function(response) {
			if (!(response instanceof Response) || response.type === 'error' || response.bodyUsed) {
				self._respondWithErrorFlag = true;
				return;
			}
			var copy = new Response(null, response);
			copy._body = response._body;
			copy.type = response.type;
			copy.url = response.url;
			copy.redirected = response.redirected;
			self._potentialResponse = copy;
			self._waitToRespondFlag = false;
		}, function(err) {
			self._respondWithErrorFlag = true;
			self._waitToRespondFlag = false;
			throw err;
		});
		this._respondWithPromise.catch(function() {});
	}
	_drainExtensions() {
		var self = this;
		return ExtendableEvent.prototype._drainExtensions.call(this).then(function(results) {
			if (!self._respondWithPromise) return results;
			var done = function() { return results; };
			return self._respondWithPromise.then(done, done);
		});
	}
	get [Symbol.toStringTag]() { return 'FetchEvent'; }
}

function messageFields(ev, init) {
	init = init || {};
	ev.data = init.data !== undefined ? init.data : null;
	ev.origin = init.origin !== undefined ? String(init.origin) : '';
	ev.lastEventId = init.lastEventId !== undefined ? String(init.lastEventId) : '';
	ev.source = init.source !== undefined ? init.source : null;
	ev.ports = init.ports !== undefined ? Array.from(init.ports) : [];
}

class MessageEvent extends Event {
	constructor(type, init) {
		if (arguments.length < 1) {
			throw new TypeError("Failed to construct 'MessageEvent': 1 argument required, but only 0 present.");
		}
		super(type, init);
		messageFields(this, init);
	}
	initMessageEvent(type, bubbles, cancelable, data, origin, lastEventId, source, ports) {
		if (this._dispatchFlag) return;
		this.type = String(type);
		this.bubbles = !!bubbles;
		this.cancelable = !!cancelable;
		messageFields(this, { data: data, origin: origin, lastEventId: lastEventId, source: source, ports: ports });
	}
	get [Symbol.toStringTag]() { return 'MessageEvent'; }
}

class ExtendableMessageEvent extends ExtendableEvent {
	constructor(type, init) {
		super(type, init);
		messageFields(this, init);
	}
	get [Symbol.toStringTag]() { return 'ExtendableMessageEvent'; }
}

globalThis.ExtendableEvent = ExtendableEvent;
globalThis.FetchEvent = FetchEvent;
globalThis.MessageEvent = MessageEvent;
globalThis.ExtendableMessageEvent = ExtendableMessageEvent;

})();
`
