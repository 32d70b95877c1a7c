package webapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformModule(t *testing.T) {
	code, err := TransformModule("sw.mjs", `
export const version = 2;
self.addEventListener('install', () => {});
`)
	require.NoError(t, err)
	assert.Contains(t, code, "__workerModule")
	assert.Contains(t, code, "addEventListener")
	assert.NotContains(t, code, "export ")
}

func TestTransformModule_SyntaxError(t *testing.T) {
	_, err := TransformModule("bad.mjs", "export const = 1;")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.mjs:1:")
}
