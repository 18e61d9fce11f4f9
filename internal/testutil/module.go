// Package testutil builds CUE module fixtures on disk for tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// ModuleFile is the default cue.mod/module.cue written by WriteModule.
const ModuleFile = `module: "example.com/fixture"
language: version: "v0.9.0"
`

// WriteModule creates a module root in a temporary directory containing a
// cue.mod marker and files (slash-separated paths relative to the root).
// It returns the absolute, symlink-free root.
func WriteModule(t testing.TB, files map[string]string) string {
	t.Helper()

	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("resolve temp dir: %v", err)
	}

	all := map[string]string{"cue.mod/module.cue": ModuleFile}
	for name, content := range files {
		all[name] = content
	}
	for name, content := range all {
		WriteFile(t, root, name, content)
	}
	return root
}

// WriteFile writes content to name below root, creating parent directories.
func WriteFile(t testing.TB, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}
