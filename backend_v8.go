//go:build v8

package serviceworker

import (
	"github.com/cryguy/serviceworker/internal/core"
	"github.com/cryguy/serviceworker/internal/v8engine"
)

// Engine names the JavaScript engine compiled into this build.
const Engine = "v8"

func newRuntime(cfg Config) (core.JSRuntime, error) {
	return v8engine.New(cfg.MemoryLimitMB)
}
