package webapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	p, err := ParseURL("https://User:pw@EXAMPLE.com:443/a/b?x=1#frag", "")
	require.NoError(t, err)
	assert.Equal(t, "https:", p.Protocol)
	assert.Equal(t, "User", p.Username)
	assert.Equal(t, "pw", p.Password)
	assert.Equal(t, "example.com", p.Hostname)
	assert.Empty(t, p.Port)
	assert.Equal(t, "/a/b", p.Pathname)
	assert.Equal(t, "?x=1", p.Search)
	assert.Equal(t, "#frag", p.Hash)
}

func TestParseURL_Relative(t *testing.T) {
	p, err := ParseURL("../img/logo.png?v=2", "http://localhost:8080/app/pages/index.html")
	require.NoError(t, err)
	assert.Equal(t, "localhost", p.Hostname)
	assert.Equal(t, "8080", p.Port)
	assert.Equal(t, "/app/img/logo.png", p.Pathname)
	assert.Equal(t, "?v=2", p.Search)
}

func TestParseURL_IDNA(t *testing.T) {
	p, err := ParseURL("http://bücher.de/", "")
	require.NoError(t, err)
	assert.Equal(t, "xn--bcher-kva.de", p.Hostname)
}

func TestParseURL_EmptyPathIsSlash(t *testing.T) {
	p, err := ParseURL("http://example.com", "")
	require.NoError(t, err)
	assert.Equal(t, "/", p.Pathname)
}

func TestParseURL_Invalid(t *testing.T) {
	for _, tc := range []struct{ in, base string }{
		{"/relative", ""},
		{"http://", ""},
		{"x", "not a base"},
	} {
		_, err := ParseURL(tc.in, tc.base)
		assert.Error(t, err, "ParseURL(%q, %q)", tc.in, tc.base)
	}
}
