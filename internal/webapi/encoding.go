package webapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cryguy/serviceworker/internal/core"
	"github.com/cryguy/serviceworker/internal/eventloop"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

var (
	errDecodeChars = errors.New("string to be decoded contains invalid characters")
	errEncodeChars = errors.New("string to be encoded contains invalid characters")
)

// Btoa base64-encodes a string whose code points are all <= U+00FF,
// treating each code point as one byte.
func Btoa(s string) (string, error) {
	buf := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return "", errEncodeChars
		}
		buf = append(buf, byte(r))
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Atob decodes base64 with the forgiving-base64 rules and returns one
// code point per decoded byte.
func Atob(s string) (string, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\t', '\n', '\f', '\r', ' ':
			return -1
		}
		return r
	}, s)
	if len(s)%4 == 0 {
		s = strings.TrimSuffix(s, "=")
		s = strings.TrimSuffix(s, "=")
	}
	if len(s)%4 == 1 {
		return "", errDecodeChars
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '+' || c == '/') {
			return "", errDecodeChars
		}
	}
	raw, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return "", errDecodeChars
	}
	return latin1(raw), nil
}

// latin1 maps each byte to the code point of the same value.
func latin1(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

// EncodingName resolves a TextDecoder label to its canonical lowercase name.
func EncodingName(label string) (string, error) {
	label = strings.ToLower(strings.TrimSpace(label))
	switch label {
	case "", "utf8", "unicode-1-1-utf-8", "unicode11utf8", "unicode20utf8", "x-unicode20utf8":
		return "utf-8", nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return "", fmt.Errorf("the encoding label provided ('%s') is invalid", label)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		return "", err
	}
	return strings.ToLower(name), nil
}

// DecodeText decodes data in the named encoding. With stream set, an
// incomplete UTF-8 sequence at the end is left undecoded and its length
// returned as rest so the caller can prepend it to the next chunk.
func DecodeText(name string, data []byte, fatal, stripBOM, stream bool) (text string, rest int, err error) {
	if name != "utf-8" {
		var enc encoding.Encoding
		enc, err = htmlindex.Get(name)
		if err != nil {
			return "", 0, err
		}
		out, derr := enc.NewDecoder().Bytes(data)
		if derr != nil {
			return "", 0, fmt.Errorf("encoded data was not valid %s", name)
		}
		return string(out), 0, nil
	}

	if stripBOM && len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		data = data[3:]
	}
	var sb strings.Builder
	sb.Grow(len(data))
	for len(data) > 0 {
		if stream && !utf8.FullRune(data) {
			return sb.String(), len(data), nil
		}
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size <= 1 {
			if fatal {
				return "", 0, errors.New("encoded data was not valid utf-8")
			}
		}
		sb.WriteRune(r)
		data = data[size:]
	}
	return sb.String(), 0, nil
}

// encodingJS installs atob/btoa, TextEncoder, TextDecoder and the
// base64 bridge helpers used to move bytes between Go and JS.
const encodingJS = `
(function() {

globalThis.btoa = function(data) {
	if (arguments.length < 1) {
		throw new TypeError("Failed to execute 'btoa': 1 argument required, but only 0 present.");
	}
	try {
		return __btoa(String(data));
	} catch (e) {
		throw new DOMException('The string to be encoded contains invalid characters.', 'InvalidCharacterError');
	}
};

globalThis.atob = function(data) {
	if (arguments.length < 1) {
		throw new TypeError("Failed to execute 'atob': 1 argument required, but only 0 present.");
	}
	try {
		return __atob(String(data));
	} catch (e) {
		throw new DOMException('The string to be decoded contains invalid characters.', 'InvalidCharacterError');
	}
};

function toBytes(data) {
	if (data === undefined || data === null) return new Uint8Array(0);
	if (data instanceof Uint8Array) return data;
	if (data instanceof ArrayBuffer) return new Uint8Array(data);
	if (ArrayBuffer.isView(data)) return new Uint8Array(data.buffer, data.byteOffset, data.byteLength);
	throw new TypeError("The provided value is not of type '(ArrayBuffer or ArrayBufferView)'");
}

globalThis.__bytesToB64 = function(data) {
	var bytes = toBytes(data);
	var parts = [];
	for (var i = 0; i < bytes.length; i += 8192) {
		parts.push(String.fromCharCode.apply(null, bytes.subarray(i, Math.min(i + 8192, bytes.length))));
	}
	return __btoa(parts.join(''));
};

globalThis.__b64ToBytes = function(b64) {
	var bin = __atob(b64);
	var bytes = new Uint8Array(bin.length);
	for (var i = 0; i < bin.length; i++) bytes[i] = bin.charCodeAt(i);
	return bytes;
};

globalThis.__toBytes = toBytes;

class TextEncoder {
	get encoding() { return 'utf-8'; }
	encode(input) {
		return __b64ToBytes(__utf8Encode(input === undefined ? '' : String(input)));
	}
	encodeInto(source, destination) {
		var str = String(source);
		var read = 0, written = 0;
		for (var i = 0; i < str.length; i++) {
			var cp = str.codePointAt(i);
			var units = cp > 0xFFFF ? 2 : 1;
			var bytes = this.encode(String.fromCodePoint(cp >= 0xD800 && cp <= 0xDFFF ? 0xFFFD : cp));
			if (written + bytes.length > destination.length) break;
			destination.set(bytes, written);
			written += bytes.length;
			read += units;
			i += units - 1;
		}
		return { read: read, written: written };
	}
	get [Symbol.toStringTag]() { return 'TextEncoder'; }
}

class TextDecoder {
	constructor(label, options) {
		var name;
		try {
			name = __encodingName(label === undefined ? 'utf-8' : String(label));
		} catch (e) {
			throw new RangeError("Failed to construct 'TextDecoder': The encoding label provided ('" + label + "') is invalid.");
		}
		options = options || {};
		this._encoding = name;
		this._fatal = !!options.fatal;
		this._ignoreBOM = !!options.ignoreBOM;
		this._pending = null;
		this._started = false;
	}
	get encoding() { return this._encoding; }
	get fatal() { return this._fatal; }
	get ignoreBOM() { return this._ignoreBOM; }
	decode(input, options) {
		var stream = !!(options && options.stream);
		var bytes = toBytes(input);
		if (this._pending) {
			var joined = new Uint8Array(this._pending.length + bytes.length);
			joined.set(this._pending);
			joined.set(bytes, this._pending.length);
			bytes = joined;
			this._pending = null;
		}
		if (stream && !this._started && bytes.length < 3 && this._encoding === 'utf-8') {
			this._pending = bytes.slice();
			return '';
		}
		var stripBOM = !this._started && !this._ignoreBOM;
		var out;
		try {
			out = JSON.parse(__textDecode(this._encoding, __bytesToB64(bytes), this._fatal, stripBOM, stream));
		} catch (e) {
			this._started = false;
			throw new TypeError("Failed to execute 'decode' on 'TextDecoder': The encoded data was not valid.");
		}
		if (out.rest > 0) this._pending = bytes.slice(bytes.length - out.rest);
		this._started = stream;
		return out.text;
	}
	get [Symbol.toStringTag]() { return 'TextDecoder'; }
}

globalThis.TextEncoder = TextEncoder;
globalThis.TextDecoder = TextDecoder;

})();
`

// SetupEncoding installs atob/btoa, TextEncoder and TextDecoder.
func SetupEncoding(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__btoa", Btoa); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__atob", Atob); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__utf8Encode", func(s string) string {
		return base64.StdEncoding.EncodeToString([]byte(strings.ToValidUTF8(s, "\uFFFD")))
	}); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__encodingName", EncodingName); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__textDecode", func(name, b64 string, fatal, stripBOM, stream bool) (string, error) {
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return "", err
		}
		text, rest, err := DecodeText(name, data, fatal, stripBOM, stream)
		if err != nil {
			return "", err
		}
		out, err := json.Marshal(struct {
			Text string `json:"text"`
			Rest int    `json:"rest"`
		}{text, rest})
		return string(out), err
	}); err != nil {
		return err
	}
	if err := rt.Eval(encodingJS); err != nil {
		return fmt.Errorf("evaluating encoding.js: %w", err)
	}
	return nil
}
