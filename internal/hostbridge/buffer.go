package hostbridge

// bufferJS defines a Node-style Buffer over Uint8Array for code that
// expects it next to process. It covers the string codecs, from/alloc/
// concat and byte comparison; slice shares memory as in Node.
const bufferJS = `
(function() {

function normEncoding(enc) {
	var e = enc === undefined || enc === null ? 'utf8' : String(enc).toLowerCase();
	switch (e) {
	case 'utf8': case 'utf-8': return 'utf8';
	case 'hex': return 'hex';
	case 'base64': return 'base64';
	case 'base64url': return 'base64url';
	case 'latin1': case 'binary': return 'latin1';
	case 'ascii': return 'ascii';
	case 'ucs2': case 'ucs-2': case 'utf16le': case 'utf-16le': return 'utf16le';
	}
	throw new TypeError('Unknown encoding: ' + enc);
}

function encodeString(str, enc) {
	var out, i;
	switch (enc) {
	case 'utf8':
		return new TextEncoder().encode(str);
	case 'hex':
		out = [];
		for (i = 0; i + 1 < str.length; i += 2) {
			var byte = parseInt(str.substr(i, 2), 16);
			if (isNaN(byte)) break;
			out.push(byte);
		}
		return Uint8Array.from(out);
	case 'base64':
	case 'base64url':
		var b64 = str.replace(/-/g, '+').replace(/_/g, '/').replace(/[^A-Za-z0-9+\/]/g, '');
		while (b64.length % 4 !== 0) b64 += '=';
		if (/={3}$/.test(b64)) b64 = b64.slice(0, -4);
		return __b64ToBytes(b64);
	case 'utf16le':
		out = new Uint8Array(str.length * 2);
		for (i = 0; i < str.length; i++) {
			var unit = str.charCodeAt(i);
			out[i * 2] = unit & 0xff;
			out[i * 2 + 1] = unit >> 8;
		}
		return out;
	default:
		out = new Uint8Array(str.length);
		for (i = 0; i < str.length; i++) out[i] = str.charCodeAt(i) & 0xff;
		return out;
	}
}

function binaryString(bytes, mask) {
	var parts = [];
	for (var i = 0; i < bytes.length; i += 8192) {
		var chunk = bytes.subarray(i, Math.min(i + 8192, bytes.length));
		if (mask !== 0xff) chunk = chunk.map(function(b) { return b & mask; });
		parts.push(String.fromCharCode.apply(null, chunk));
	}
	return parts.join('');
}

function decodeBytes(bytes, enc) {
	switch (enc) {
	case 'utf8':
		return new TextDecoder().decode(bytes);
	case 'hex':
		var hex = '';
		for (var i = 0; i < bytes.length; i++) hex += (bytes[i] < 16 ? '0' : '') + bytes[i].toString(16);
		return hex;
	case 'base64':
		return __bytesToB64(bytes);
	case 'base64url':
		return __bytesToB64(bytes).replace(/\+/g, '-').replace(/\//g, '_').replace(/=+$/, '');
	case 'utf16le':
		var s = '';
		for (var j = 0; j + 1 < bytes.length; j += 2) s += String.fromCharCode(bytes[j] | (bytes[j + 1] << 8));
		return s;
	case 'ascii':
		return binaryString(bytes, 0x7f);
	default:
		return binaryString(bytes, 0xff);
	}
}

function wrap(u8) {
	return new Buffer(u8.buffer, u8.byteOffset, u8.byteLength);
}

class Buffer extends Uint8Array {
	static from(value, encodingOrOffset, length) {
		if (typeof value === 'string') return wrap(encodeString(value, normEncoding(encodingOrOffset)));
		if (value instanceof ArrayBuffer) {
			var offset = encodingOrOffset === undefined ? 0 : Number(encodingOrOffset);
			return new Buffer(value, offset, length === undefined ? value.byteLength - offset : Number(length));
		}
		if (ArrayBuffer.isView(value)) {
			return wrap(new Uint8Array(value.buffer, value.byteOffset, value.byteLength).slice());
		}
		if (value && value.type === 'Buffer' && Array.isArray(value.data)) return wrap(Uint8Array.from(value.data));
		if (value && typeof value.length === 'number') return wrap(Uint8Array.from(value));
		throw new TypeError('The first argument must be of type string or an instance of Buffer, ArrayBuffer, or Array or an Array-like Object.');
	}
	static alloc(size, fill, encoding) {
		var b = new Buffer(Number(size));
		if (fill !== undefined && fill !== 0) b.fill(fill, 0, b.length, encoding);
		return b;
	}
	static allocUnsafe(size) { return new Buffer(Number(size)); }
	static isBuffer(obj) { return obj instanceof Buffer; }
	static isEncoding(enc) {
		try { normEncoding(enc); return typeof enc === 'string'; } catch (e) { return false; }
	}
	static byteLength(value, encoding) {
		if (typeof value !== 'string') return value.byteLength;
		return encodeString(value, normEncoding(encoding)).byteLength;
	}
	static concat(list, totalLength) {
		if (!Array.isArray(list)) throw new TypeError('The "list" argument must be an instance of Array.');
		if (totalLength === undefined) {
			totalLength = 0;
			for (var i = 0; i < list.length; i++) totalLength += list[i].length;
		}
		var out = Buffer.alloc(totalLength);
		var pos = 0;
		for (var j = 0; j < list.length && pos < totalLength; j++) {
			var part = list[j].subarray(0, Math.min(list[j].length, totalLength - pos));
			out.set(part, pos);
			pos += part.length;
		}
		return out;
	}
	static compare(a, b) { return a.compare(b); }
	fill(value, offset, end, encoding) {
		if (typeof offset === 'string') { encoding = offset; offset = 0; end = this.length; }
		if (typeof end === 'string') { encoding = end; end = this.length; }
		offset = offset === undefined ? 0 : offset;
		end = end === undefined ? this.length : end;
		if (typeof value !== 'string') return Uint8Array.prototype.fill.call(this, value, offset, end);
		var pattern = encodeString(value, normEncoding(encoding));
		if (pattern.length === 0) return Uint8Array.prototype.fill.call(this, 0, offset, end);
		for (var i = offset, k = 0; i < end; i++, k = (k + 1) % pattern.length) this[i] = pattern[k];
		return this;
	}
	toString(encoding, start, end) {
		start = start === undefined ? 0 : Math.max(0, start);
		end = end === undefined ? this.length : Math.min(this.length, end);
		if (end <= start) return '';
		return decodeBytes(this.subarray(start, end), normEncoding(encoding));
	}
	slice(start, end) { return this.subarray(start, end); }
	equals(other) { return this.compare(other) === 0; }
	compare(other) {
		var n = Math.min(this.length, other.length);
		for (var i = 0; i < n; i++) {
			if (this[i] !== other[i]) return this[i] < other[i] ? -1 : 1;
		}
		return this.length === other.length ? 0 : (this.length < other.length ? -1 : 1);
	}
	toJSON() { return { type: 'Buffer', data: Array.from(this) }; }
}

Object.defineProperty(globalThis, 'Buffer', { value: Buffer, writable: true, configurable: true, enumerable: false });
})();
`
