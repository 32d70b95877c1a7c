package webapi

import (
	"fmt"
	"time"

	"github.com/cryguy/serviceworker/internal/core"
	"github.com/cryguy/serviceworker/internal/eventloop"
)

// ConsoleMethods lists every method of the console façade.
var ConsoleMethods = []string{
	"assert", "clear", "count", "countReset", "debug", "dir", "dirxml",
	"error", "group", "groupCollapsed", "groupEnd", "info", "log", "table",
	"time", "timeLog", "timeEnd", "trace", "warn",
}

// consoleJS builds the console façade. Every call is formatted in JS and
// forwarded as one entry to __console(method, message); nothing is
// written to the host's own stdout. assert with a truthy condition is the
// only call that forwards nothing.
const consoleJS = `
(function() {

function inspect(value, depth, seen) {
	var t = typeof value;
	if (value === null) return 'null';
	if (t === 'undefined') return 'undefined';
	if (t === 'string') return depth > 0 ? JSON.stringify(value) : value;
	if (t === 'number' || t === 'boolean') return String(value);
	if (t === 'bigint') return String(value) + 'n';
	if (t === 'symbol') return value.toString();
	if (t === 'function') return '[Function: ' + (value.name || 'anonymous') + ']';
	if (value instanceof Error) return value.stack ? String(value.stack) : value.name + ': ' + value.message;
	if (seen.indexOf(value) !== -1) return '[Circular]';
	if (depth > 2) return Array.isArray(value) ? '[Array]' : '[Object]';
	seen = seen.concat([value]);
	if (Array.isArray(value)) {
		return '[ ' + value.map(function(v) { return inspect(v, depth + 1, seen); }).join(', ') + ' ]';
	}
	if (value instanceof Map) {
		var mparts = [];
		value.forEach(function(v, k) { mparts.push(inspect(k, depth + 1, seen) + ' => ' + inspect(v, depth + 1, seen)); });
		return 'Map(' + value.size + ') { ' + mparts.join(', ') + ' }';
	}
	if (value instanceof Set) {
		var sparts = [];
		value.forEach(function(v) { sparts.push(inspect(v, depth + 1, seen)); });
		return 'Set(' + value.size + ') { ' + sparts.join(', ') + ' }';
	}
	var keys = Object.keys(value);
	var tag = value[Symbol.toStringTag];
	var prefix = tag ? tag + ' ' : '';
	if (keys.length === 0) return prefix + '{}';
	return prefix + '{ ' + keys.map(function(k) {
		return k + ': ' + inspect(value[k], depth + 1, seen);
	}).join(', ') + ' }';
}

function format(args) {
	if (args.length === 0) return '';
	var out = [];
	var rest = 0;
	if (typeof args[0] === 'string') {
		var i = 1;
		out.push(args[0].replace(/%[sdifoOjc%]/g, function(spec) {
			if (spec === '%%') return '%';
			if (i >= args.length) return spec;
			var arg = args[i++];
			switch (spec) {
			case '%s': return typeof arg === 'string' ? arg : inspect(arg, 1, []);
			case '%d':
			case '%i': return String(parseInt(arg, 10));
			case '%f': return String(parseFloat(arg));
			case '%c': return '';
			case '%j':
				try { return JSON.stringify(arg); } catch (e) { return '[Circular]'; }
			default: return inspect(arg, 1, []);
			}
		}));
		rest = i;
	}
	for (var j = rest; j < args.length; j++) out.push(inspect(args[j], 0, []));
	return out.join(' ');
}

var counts = new Map();
var timers = new Map();
var indent = '';

function emit(method, message) {
	__console(method, indent ? indent + String(message).split('\n').join('\n' + indent) : String(message));
}

function simple(method) {
	return function() { emit(method, format(Array.prototype.slice.call(arguments))); };
}

function label(v) { return v === undefined ? 'default' : String(v); }

var con = {
	log: simple('log'),
	info: simple('info'),
	warn: simple('warn'),
	error: simple('error'),
	debug: simple('debug'),
	dirxml: simple('dirxml'),
	assert: function(condition) {
		if (condition) return;
		var rest = Array.prototype.slice.call(arguments, 1);
		if (typeof rest[0] === 'string') {
			rest[0] = 'Assertion failed: ' + rest[0];
		} else {
			rest.unshift('Assertion failed');
		}
		emit('assert', format(rest));
	},
	clear: function() {
		indent = '';
		__console('clear', '');
	},
	count: function(l) {
		l = label(l);
		var n = (counts.get(l) || 0) + 1;
		counts.set(l, n);
		emit('count', l + ': ' + n);
	},
	countReset: function(l) {
		l = label(l);
		counts.set(l, 0);
		emit('countReset', l);
	},
	dir: function(obj) {
		emit('dir', inspect(obj, 0, []));
	},
	group: function() {
		emit('group', format(Array.prototype.slice.call(arguments)));
		indent += '  ';
	},
	groupCollapsed: function() {
		emit('groupCollapsed', format(Array.prototype.slice.call(arguments)));
		indent += '  ';
	},
	groupEnd: function() {
		indent = indent.slice(2);
		emit('groupEnd', '');
	},
	table: function(data) {
		var t = typeof data;
		emit('table', data !== null && t === 'object' ? JSON.stringify(data) : format(Array.prototype.slice.call(arguments)));
	},
	time: function(l) {
		l = label(l);
		timers.set(l, performance.now());
		emit('time', l);
	},
	timeLog: function(l) {
		l = label(l);
		if (!timers.has(l)) { emit('warn', "Timer '" + l + "' does not exist"); return; }
		var extra = Array.prototype.slice.call(arguments, 1);
		var msg = l + ': ' + (performance.now() - timers.get(l)).toFixed(3) + 'ms';
		emit('timeLog', extra.length ? msg + ' ' + format(extra) : msg);
	},
	timeEnd: function(l) {
		l = label(l);
		if (!timers.has(l)) { emit('warn', "Timer '" + l + "' does not exist"); return; }
		var elapsed = performance.now() - timers.get(l);
		timers.delete(l);
		emit('timeEnd', l + ': ' + elapsed.toFixed(3) + 'ms');
	},
	trace: function() {
		var msg = format(Array.prototype.slice.call(arguments));
		var stack = '';
		try { throw new Error(); } catch (e) { stack = e.stack ? String(e.stack) : ''; }
		emit('trace', 'Trace' + (msg ? ': ' + msg : '') + (stack ? '\n' + stack : ''));
	}
};
Object.defineProperty(con, Symbol.toStringTag, { value: 'console', configurable: true });

globalThis.console = con;
globalThis.__inspect = function(v) { return inspect(v, 0, []); };

})();
`

// SetupConsole installs the console façade. Every method forwards to sink.
func SetupConsole(sink core.ConsoleSink) func(core.JSRuntime, *eventloop.EventLoop) error {
	return func(rt core.JSRuntime, _ *eventloop.EventLoop) error {
		if err := rt.RegisterFunc("__console", func(method, message string) {
			sink.Console(core.LogEntry{Level: method, Message: message, Time: time.Now()})
		}); err != nil {
			return err
		}
		if err := rt.Eval(consoleJS); err != nil {
			return fmt.Errorf("evaluating console.js: %w", err)
		}
		return nil
	}
}
