package core

import "io"

// Process is the set of host facilities a worker script may reach
// through its process object.
type Process interface {
	Env() map[string]string
	Platform() string
	Cwd() (string, error)
	Chdir(dir string) error
	Version() string
	Stdout() io.Writer
}
