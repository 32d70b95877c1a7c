package webapi

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"strings"

	"github.com/cryguy/serviceworker/internal/core"
	"github.com/cryguy/serviceworker/internal/eventloop"
	"github.com/google/uuid"
)

// maxRandomBytes is the getRandomValues quota.
const maxRandomBytes = 65536

const cryptoJS = `
(function() {
	var integerArrays = [Int8Array, Uint8Array, Uint8ClampedArray, Int16Array, Uint16Array,
		Int32Array, Uint32Array, BigInt64Array, BigUint64Array];

	var subtle = {
		digest: function(algorithm, data) {
			try {
				var name = typeof algorithm === 'string' ? algorithm : algorithm && algorithm.name;
				var out = __cryptoDigest(String(name), __bytesToB64(__toBytes(data)));
				return Promise.resolve(__b64ToBytes(out).buffer);
			} catch (e) {
				return Promise.reject(new DOMException(String(e && e.message || e), 'NotSupportedError'));
			}
		}
	};

	var crypto = {
		getRandomValues: function(array) {
			if (!integerArrays.some(function(T) { return array instanceof T; })) {
				throw new DOMException("Failed to execute 'getRandomValues' on 'Crypto': The provided ArrayBufferView is not an integer array type.", 'TypeMismatchError');
			}
			if (array.byteLength > 65536) {
				throw new DOMException("Failed to execute 'getRandomValues' on 'Crypto': The ArrayBufferView's byte length (" + array.byteLength + ") exceeds the number of bytes of entropy available via this API (65536).", 'QuotaExceededError');
			}
			var bytes = __b64ToBytes(__cryptoRandomBytes(array.byteLength));
			new Uint8Array(array.buffer, array.byteOffset, array.byteLength).set(bytes);
			return array;
		},
		randomUUID: function() { return __cryptoRandomUUID(); },
		subtle: subtle
	};
	Object.defineProperty(crypto, Symbol.toStringTag, { value: 'Crypto' });
	globalThis.crypto = crypto;
})();
`

func digestHash(name string) (hash.Hash, error) {
	switch strings.ToUpper(name) {
	case "SHA-1":
		return sha1.New(), nil
	case "SHA-256":
		return sha256.New(), nil
	case "SHA-384":
		return sha512.New384(), nil
	case "SHA-512":
		return sha512.New(), nil
	}
	return nil, fmt.Errorf("unrecognized digest algorithm %q", name)
}

// SetupCrypto installs crypto.getRandomValues, crypto.randomUUID and
// crypto.subtle.digest.
func SetupCrypto(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__cryptoRandomBytes", func(n int) (string, error) {
		if n < 0 || n > maxRandomBytes {
			return "", fmt.Errorf("getRandomValues: byte length must be 0-%d", maxRandomBytes)
		}
		buf := make([]byte, n)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("reading random bytes: %w", err)
		}
		return base64.StdEncoding.EncodeToString(buf), nil
	}); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__cryptoRandomUUID", func() (string, error) {
		id, err := uuid.NewRandom()
		if err != nil {
			return "", fmt.Errorf("generating uuid: %w", err)
		}
		return id.String(), nil
	}); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__cryptoDigest", func(algo, dataB64 string) (string, error) {
		h, err := digestHash(algo)
		if err != nil {
			return "", err
		}
		data, err := base64.StdEncoding.DecodeString(dataB64)
		if err != nil {
			return "", fmt.Errorf("decoding digest input: %w", err)
		}
		h.Write(data)
		return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
	}); err != nil {
		return err
	}
	if err := rt.Eval(cryptoJS); err != nil {
		return fmt.Errorf("evaluating crypto.js: %w", err)
	}
	return nil
}
