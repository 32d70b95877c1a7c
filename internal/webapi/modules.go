package webapi

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// TransformModule converts an ES module worker script into a classic
// script. Exports are collected on globalThis.__workerModule so the host
// can inspect them; the script's top-level code runs as usual.
func TransformModule(name, source string) (string, error) {
	result := api.Transform(source, api.TransformOptions{
		Format:     api.FormatIIFE,
		GlobalName: "globalThis.__workerModule",
		Target:     api.ESNext,
		Loader:     api.LoaderJS,
		Sourcefile: name,
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, m := range result.Errors {
			if m.Location != nil {
				msgs = append(msgs, fmt.Sprintf("%s:%d:%d: %s", name, m.Location.Line, m.Location.Column, m.Text))
			} else {
				msgs = append(msgs, m.Text)
			}
		}
		return "", fmt.Errorf("transforming module %s: %s", name, strings.Join(msgs, "; "))
	}
	return string(result.Code), nil
}
