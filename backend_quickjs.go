//go:build !v8

package serviceworker

import (
	"github.com/cryguy/serviceworker/internal/core"
	"github.com/cryguy/serviceworker/internal/quickjs"
)

// Engine names the JavaScript engine compiled into this build.
const Engine = "quickjs"

func newRuntime(cfg Config) (core.JSRuntime, error) {
	return quickjs.New(cfg.MemoryLimitMB)
}
