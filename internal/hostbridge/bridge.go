package hostbridge

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cryguy/serviceworker/internal/core"
	"github.com/cryguy/serviceworker/internal/eventloop"
	"github.com/sirupsen/logrus"
)

// AccessKind classifies an audited property access.
type AccessKind string

const (
	// AccessDenied is a read of a deny-listed member such as exit.
	AccessDenied AccessKind = "denied"
	// AccessUnlisted is a read of a member outside the allow-list.
	AccessUnlisted AccessKind = "unlisted"
)

// Access is one audited read of the process object.
type Access struct {
	Property string
	Kind     AccessKind
	Time     time.Time
}

// Allowed lists the members scripts may use.
var Allowed = []string{"env", "platform", "cwd", "chdir", "version", "stdout", "_events", "listeners", "_isMockFunction"}

// Denied lists members that are hidden and audited even though the host
// process has them.
var Denied = []string{"exit", "abort", "kill", "reallyExit"}

// processJS builds the process object over the registered helpers. Reads
// outside the allow-list are audited and yield undefined; deny-listed
// members are also hidden from the in operator and cannot be assigned.
const processJS = `
(function(init, allowed, denied) {
	// The host emits no process events, so the listener map stays empty
	// unless a script fills it in.
	var events = Object.create(null);
	var target = {
		env: init.env,
		platform: init.platform,
		version: init.version,
		cwd: function() { return __processCwd(); },
		chdir: function(dir) { __processChdir(String(dir)); },
		stdout: {
			write: function(chunk) {
				__processWrite(typeof chunk === 'string' ? chunk : new TextDecoder().decode(__toBytes(chunk)));
				return true;
			}
		},
		_events: events,
		listeners: function(name) {
			var l = events[String(name)];
			if (l === undefined) return [];
			return Array.isArray(l) ? l.slice() : [l];
		},
		_isMockFunction: false
	};
	var allow = Object.create(null);
	allowed.forEach(function(k) { allow[k] = true; });
	var deny = Object.create(null);
	denied.forEach(function(k) { deny[k] = true; });

	var proxy = new Proxy(target, {
		get: function(t, key, receiver) {
			if (typeof key === 'symbol') return Reflect.get(t, key, receiver);
			if (deny[key]) {
				__hostAudit(key, 'denied');
				return undefined;
			}
			if (allow[key] || Object.prototype.hasOwnProperty.call(t, key)) return Reflect.get(t, key, receiver);
			if (key in Object.prototype) return Reflect.get(t, key, receiver);
			__hostAudit(key, 'unlisted');
			return undefined;
		},
		has: function(t, key) {
			if (typeof key === 'string' && deny[key]) return false;
			return Reflect.has(t, key);
		},
		set: function(t, key, value) {
			if (typeof key === 'string' && deny[key]) {
				__hostAudit(key, 'denied');
				return true;
			}
			return Reflect.set(t, key, value);
		}
	});
	Object.defineProperty(globalThis, 'process', { value: proxy, writable: true, configurable: true, enumerable: false });
	Error.stackTraceLimit = Infinity;
})
`

// Bridge installs the process object and records audited accesses.
type Bridge struct {
	proc core.Process
	log  *logrus.Entry

	mu       sync.Mutex
	accesses []Access
}

// New creates a bridge over proc. A nil proc means OSProcess.
func New(proc core.Process, log *logrus.Entry) *Bridge {
	if proc == nil {
		proc = OSProcess{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Bridge{proc: proc, log: log.WithField("component", "hostbridge")}
}

// Accesses returns a copy of the audit log.
func (b *Bridge) Accesses() []Access {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Access, len(b.accesses))
	copy(out, b.accesses)
	return out
}

func (b *Bridge) audit(prop string, kind AccessKind) {
	b.mu.Lock()
	b.accesses = append(b.accesses, Access{Property: prop, Kind: kind, Time: time.Now()})
	b.mu.Unlock()

	entry := b.log.WithFields(logrus.Fields{"property": prop, "access": string(kind)})
	if kind == AccessDenied {
		entry.Warn("denied process access")
	} else {
		entry.Info("unlisted process access")
	}
}

// Setup registers the process helpers and defines globalThis.process and
// globalThis.Buffer.
func (b *Bridge) Setup(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__processCwd", func() (string, error) {
		return b.proc.Cwd()
	}); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__processChdir", func(dir string) (bool, error) {
		if err := b.proc.Chdir(dir); err != nil {
			return false, fmt.Errorf("chdir %s: %w", dir, err)
		}
		return true, nil
	}); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__processWrite", func(s string) {
		if _, err := io.WriteString(b.proc.Stdout(), s); err != nil {
			b.log.WithError(err).Warn("writing stdout")
		}
	}); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__hostAudit", func(prop, kind string) {
		b.audit(prop, AccessKind(kind))
	}); err != nil {
		return err
	}

	init, err := json.Marshal(map[string]any{
		"env":      b.proc.Env(),
		"platform": b.proc.Platform(),
		"version":  b.proc.Version(),
	})
	if err != nil {
		return fmt.Errorf("encoding process snapshot: %w", err)
	}
	allowed, _ := json.Marshal(Allowed)
	denied, _ := json.Marshal(Denied)
	if err := rt.Eval(fmt.Sprintf("%s(%s, %s, %s)", processJS, init, allowed, denied)); err != nil {
		return fmt.Errorf("evaluating process.js: %w", err)
	}
	if err := rt.Eval(bufferJS); err != nil {
		return fmt.Errorf("evaluating buffer.js: %w", err)
	}
	return nil
}
