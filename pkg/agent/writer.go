package agent

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// ResultWriter persists test results as single self-contained JSON documents,
// one file per test, named by test ID.
type ResultWriter struct {
	fs  afero.Fs
	dir string
}

// NewResultWriter creates a writer rooted at dir. A nil fs writes to the OS
// filesystem.
func NewResultWriter(fs afero.Fs, dir string) *ResultWriter {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &ResultWriter{fs: fs, dir: dir}
}

// Write serializes the result and returns the path it was written to.
func (w *ResultWriter) Write(res *TestResult) (string, error) {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding result %s: %w", res.ID, err)
	}
	if err := w.fs.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating result directory: %w", err)
	}
	path := filepath.Join(w.dir, res.ID+".json")
	if err := afero.WriteFile(w.fs, path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing result %s: %w", res.ID, err)
	}
	return path, nil
}
