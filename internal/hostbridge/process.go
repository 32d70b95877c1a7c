// Package hostbridge exposes a narrow, audited view of the host process
// to scripts running inside the worker scope.
package hostbridge

import (
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/cryguy/serviceworker/internal/core"
)

// OSProcess is the Process of the running Go program.
type OSProcess struct{}

var _ core.Process = OSProcess{}

// Env returns a snapshot of the environment.
func (OSProcess) Env() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return env
}

// Platform reports the operating system the way Node names it.
func (OSProcess) Platform() string {
	if runtime.GOOS == "windows" {
		return "win32"
	}
	return runtime.GOOS
}

func (OSProcess) Cwd() (string, error) { return os.Getwd() }

func (OSProcess) Chdir(dir string) error { return os.Chdir(dir) }

// Version is the Go runtime version.
func (OSProcess) Version() string { return runtime.Version() }

func (OSProcess) Stdout() io.Writer { return os.Stdout }
