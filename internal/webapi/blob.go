package webapi

import (
	"fmt"

	"github.com/cryguy/serviceworker/internal/core"
	"github.com/cryguy/serviceworker/internal/eventloop"
)

// blobJS implements Blob, File, FileList, FileReader and FormData. Blob
// content is kept as a single Uint8Array so slicing works on byte offsets.
const blobJS = `
(function() {

function partBytes(part) {
	if (part instanceof Blob) return part._bytes;
	if (part instanceof ArrayBuffer) return new Uint8Array(part.slice(0));
	if (ArrayBuffer.isView(part)) return new Uint8Array(part.buffer.slice(part.byteOffset, part.byteOffset + part.byteLength));
	return new TextEncoder().encode(String(part));
}

function normType(t) {
	t = t === undefined ? '' : String(t);
	return /^[\x20-\x7e]*$/.test(t) ? t.toLowerCase() : '';
}

class Blob {
	constructor(parts, options) {
		options = options || {};
		if (parts !== undefined && (parts === null || typeof parts[Symbol.iterator] !== 'function')) {
			throw new TypeError("Failed to construct 'Blob': The provided value cannot be converted to a sequence.");
		}
		var chunks = [];
		var total = 0;
		for (var p of (parts || [])) {
			var b = partBytes(p);
			chunks.push(b);
			total += b.byteLength;
		}
		var bytes = new Uint8Array(total);
		var off = 0;
		for (var c of chunks) { bytes.set(c, off); off += c.byteLength; }
		Object.defineProperty(this, '_bytes', { value: bytes });
		this.type = normType(options.type);
	}
	get size() { return this._bytes.byteLength; }
	slice(start, end, contentType) {
		var size = this.size;
		var s = start === undefined ? 0 : start < 0 ? Math.max(size + start, 0) : Math.min(start, size);
		var e = end === undefined ? size : end < 0 ? Math.max(size + end, 0) : Math.min(end, size);
		return new Blob([this._bytes.subarray(s, Math.max(s, e))], { type: contentType === undefined ? '' : contentType });
	}
	arrayBuffer() { return Promise.resolve(this._bytes.slice().buffer); }
	bytes() { return Promise.resolve(this._bytes.slice()); }
	text() { return Promise.resolve(new TextDecoder().decode(this._bytes)); }
	stream() {
		var bytes = this._bytes.slice();
		return new ReadableStream({
			start: function(c) {
				if (bytes.byteLength > 0) c.enqueue(bytes);
				c.close();
			}
		});
	}
	get [Symbol.toStringTag]() { return 'Blob'; }
}

class File extends Blob {
	constructor(parts, name, options) {
		if (arguments.length < 2) throw new TypeError("Failed to construct 'File': 2 arguments required.");
		super(parts, options);
		this.name = String(name);
		this.lastModified = options && options.lastModified !== undefined ? Number(options.lastModified) : Date.now();
		this.webkitRelativePath = '';
	}
	get [Symbol.toStringTag]() { return 'File'; }
}

class FileList {
	constructor() {
		throw new TypeError('Illegal constructor');
	}
	get length() { return (this._files || []).length; }
	item(index) {
		var files = this._files || [];
		index = index >>> 0;
		return index < files.length ? files[index] : null;
	}
	[Symbol.iterator]() { return (this._files || [])[Symbol.iterator](); }
	get [Symbol.toStringTag]() { return 'FileList'; }
}

class ProgressEvent extends Event {
	constructor(type, init) {
		super(type, init);
		init = init || {};
		this.lengthComputable = !!init.lengthComputable;
		this.loaded = init.loaded !== undefined ? Number(init.loaded) : 0;
		this.total = init.total !== undefined ? Number(init.total) : 0;
	}
	get [Symbol.toStringTag]() { return 'ProgressEvent'; }
}

var EMPTY = 0, LOADING = 1, DONE = 2;

function fireProgress(reader, type, loaded, total) {
	var ev = new ProgressEvent(type, { lengthComputable: true, loaded: loaded, total: total });
	var handler = reader['on' + type];
	if (typeof handler === 'function') {
		try {
			handler.call(reader, ev);
		} catch (err) {
			if (typeof globalThis.__reportException !== 'function') throw err;
			globalThis.__reportException(err);
		}
	}
	reader.dispatchEvent(ev);
}

function readResult(bytes, format, encoding, type) {
	switch (format) {
	case 'buffer':
		return bytes.slice().buffer;
	case 'binary':
		var parts = [];
		for (var i = 0; i < bytes.length; i += 8192) {
			parts.push(String.fromCharCode.apply(null, bytes.subarray(i, Math.min(i + 8192, bytes.length))));
		}
		return parts.join('');
	case 'dataURL':
		return 'data:' + (type || 'application/octet-stream') + ';base64,' + __bytesToB64(bytes);
	default:
		var decoder;
		try {
			decoder = new TextDecoder(encoding === undefined ? 'utf-8' : encoding);
		} catch (e) {
			decoder = new TextDecoder();
		}
		return decoder.decode(bytes);
	}
}

// startRead snapshots the blob and delivers the result from a microtask.
// A read superseded by abort() or a later read fires nothing further.
function startRead(reader, method, blob, format, encoding) {
	if (!(blob instanceof Blob)) {
		throw new TypeError("Failed to execute '" + method + "' on 'FileReader': parameter 1 is not of type 'Blob'.");
	}
	if (reader.readyState === LOADING) {
		throw new DOMException("Failed to execute '" + method + "' on 'FileReader': The object is already busy reading Blobs.", 'InvalidStateError');
	}
	reader.readyState = LOADING;
	reader.result = null;
	reader.error = null;
	var id = ++reader._readId;
	var bytes = blob._bytes.slice();
	Promise.resolve().then(function() {
		if (reader._readId !== id) return;
		fireProgress(reader, 'loadstart', 0, bytes.length);
		if (reader._readId !== id) return;
		fireProgress(reader, 'progress', bytes.length, bytes.length);
		if (reader._readId !== id) return;
		reader.readyState = DONE;
		reader.result = readResult(bytes, format, encoding, blob.type);
		fireProgress(reader, 'load', bytes.length, bytes.length);
		if (reader._readId !== id || reader.readyState === LOADING) return;
		fireProgress(reader, 'loadend', bytes.length, bytes.length);
	});
}

class FileReader extends EventTarget {
	constructor() {
		super();
		Object.defineProperty(this, '_readId', { value: 0, writable: true, configurable: true, enumerable: false });
		this.readyState = EMPTY;
		this.result = null;
		this.error = null;
		this.onloadstart = null;
		this.onprogress = null;
		this.onload = null;
		this.onabort = null;
		this.onerror = null;
		this.onloadend = null;
	}
	readAsArrayBuffer(blob) { startRead(this, 'readAsArrayBuffer', blob, 'buffer'); }
	readAsBinaryString(blob) { startRead(this, 'readAsBinaryString', blob, 'binary'); }
	readAsDataURL(blob) { startRead(this, 'readAsDataURL', blob, 'dataURL'); }
	readAsText(blob, encoding) { startRead(this, 'readAsText', blob, 'text', encoding); }
	abort() {
		if (this.readyState !== LOADING) {
			this.result = null;
			return;
		}
		this._readId++;
		this.readyState = DONE;
		this.result = null;
		fireProgress(this, 'abort', 0, 0);
		if (this.readyState !== LOADING) fireProgress(this, 'loadend', 0, 0);
	}
	get [Symbol.toStringTag]() { return 'FileReader'; }
}
FileReader.EMPTY = FileReader.prototype.EMPTY = EMPTY;
FileReader.LOADING = FileReader.prototype.LOADING = LOADING;
FileReader.DONE = FileReader.prototype.DONE = DONE;

function entryValue(value, filename) {
	if (value instanceof Blob) {
		if (value instanceof File && filename === undefined) return value;
		return new File([value], filename !== undefined ? String(filename) : (value instanceof File ? value.name : 'blob'), { type: value.type });
	}
	return String(value);
}

class FormData {
	constructor(form) {
		if (form !== undefined) throw new TypeError("Failed to construct 'FormData': form elements are not supported");
		this._entries = [];
	}
	append(name, value, filename) { this._entries.push([String(name), entryValue(value, filename)]); }
	set(name, value, filename) {
		name = String(name);
		var v = entryValue(value, filename);
		var idx = this._entries.findIndex(function(e) { return e[0] === name; });
		this._entries = this._entries.filter(function(e, i) { return e[0] !== name || i === idx; });
		if (idx < 0) this._entries.push([name, v]); else this._entries[idx] = [name, v];
	}
	get(name) {
		name = String(name);
		var e = this._entries.find(function(e) { return e[0] === name; });
		return e ? e[1] : null;
	}
	getAll(name) {
		name = String(name);
		return this._entries.filter(function(e) { return e[0] === name; }).map(function(e) { return e[1]; });
	}
	has(name) { name = String(name); return this._entries.some(function(e) { return e[0] === name; }); }
	delete(name) { name = String(name); this._entries = this._entries.filter(function(e) { return e[0] !== name; }); }
	forEach(cb, thisArg) { for (var e of this._entries.slice()) cb.call(thisArg, e[1], e[0], this); }
	*entries() { for (var e of this._entries.slice()) yield [e[0], e[1]]; }
	*keys() { for (var e of this._entries.slice()) yield e[0]; }
	*values() { for (var e of this._entries.slice()) yield e[1]; }
	[Symbol.iterator]() { return this.entries(); }
	get [Symbol.toStringTag]() { return 'FormData'; }
}

function escapeName(s) {
	return s.replace(/\r\n|\r|\n/g, '\r\n').replace(/"/g, '%22');
}

// __encodeFormData serializes a FormData as multipart/form-data.
globalThis.__encodeFormData = function(fd) {
	var boundary = '----serviceworker-' + crypto.randomUUID();
	var parts = [];
	for (var e of fd._entries) {
		var head = '--' + boundary + '\r\nContent-Disposition: form-data; name="' + escapeName(e[0]) + '"';
		if (e[1] instanceof File) {
			head += '; filename="' + escapeName(e[1].name) + '"\r\nContent-Type: ' + (e[1].type || 'application/octet-stream');
			parts.push(head + '\r\n\r\n', e[1], '\r\n');
		} else {
			parts.push(head + '\r\n\r\n' + e[1] + '\r\n');
		}
	}
	parts.push('--' + boundary + '--\r\n');
	return { blob: new Blob(parts), type: 'multipart/form-data; boundary=' + boundary };
};

globalThis.Blob = Blob;
globalThis.File = File;
globalThis.FileList = FileList;
globalThis.FileReader = FileReader;
globalThis.ProgressEvent = ProgressEvent;
globalThis.FormData = FormData;

})();
`

// SetupBlob installs Blob, File, FileList, FileReader and FormData. It
// must run after events, streams and encoding.
func SetupBlob(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.Eval(blobJS); err != nil {
		return fmt.Errorf("evaluating blob.js: %w", err)
	}
	return nil
}
