package webapi

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPrivateIP(t *testing.T) {
	for _, ip := range []string{"127.0.0.1", "10.1.2.3", "172.16.0.1", "192.168.1.1", "169.254.169.254", "::1", "fd00::1", "100.64.0.1", "::", "0.0.0.0", "::ffff:127.0.0.1", "64:ff9b::7f00:1"} {
		assert.True(t, IsPrivateIP(net.ParseIP(ip)), ip)
	}
	for _, ip := range []string{"8.8.8.8", "1.1.1.1", "2606:4700:4700::1111"} {
		assert.False(t, IsPrivateIP(net.ParseIP(ip)), ip)
	}
}

func TestIsPrivateHostname(t *testing.T) {
	assert.True(t, IsPrivateHostname("http://localhost:8080/"))
	assert.True(t, IsPrivateHostname("http://api.localhost/"))
	assert.True(t, IsPrivateHostname("http://127.0.0.1/"))
	assert.True(t, IsPrivateHostname("http:///nohost"))
	assert.True(t, IsPrivateHostname("http://[::]:8080/"))
	assert.True(t, IsPrivateHostname("http://0.0.0.0:8080/"))
	assert.False(t, IsPrivateHostname("https://example.com/"))
}

func TestDecodeBody_Passthrough(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Encoding", "identity")
	_, _ = rec.WriteString("plain")
	resp := rec.Result()
	r, err := decodeBody(resp)
	assert.NoError(t, err)
	assert.Equal(t, resp.Body, r)
}

func TestDecodeBody_BadGzip(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Encoding", "gzip")
	_, _ = rec.WriteString("not gzip")
	_, err := decodeBody(rec.Result())
	assert.Error(t, err)
}

func TestNewFetcher_Defaults(t *testing.T) {
	f := NewFetcher(FetchOptions{})
	assert.Equal(t, 50, f.opts.MaxFetches)
	assert.NotNil(t, f.opts.Transport)
	assert.IsType(t, &http.Transport{}, f.opts.Transport)

	for i := 0; i < 50; i++ {
		id, _, err := f.begin()
		assert.NoError(t, err)
		f.finish(id)
	}
	_, _, err := f.begin()
	assert.Error(t, err)
	f.ResetCount()
	_, _, err = f.begin()
	assert.NoError(t, err)
	f.Abort()
	assert.Empty(t, f.cancels)
}
