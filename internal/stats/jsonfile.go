package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// JSONFile keeps the ledger in a single JSON document.
type JSONFile struct {
	fs   afero.Fs
	path string
}

// NewJSONFile returns a backend for the file at path on fs.
func NewJSONFile(fs afero.Fs, path string) *JSONFile {
	return &JSONFile{fs: fs, path: path}
}

// Path returns the ledger file location.
func (j *JSONFile) Path() string {
	return j.path
}

// Load reads the ledger. A missing file is an empty ledger.
func (j *JSONFile) Load(ctx context.Context) (*Ledger, error) {
	data, err := afero.ReadFile(j.fs, j.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewLedger(), nil
		}
		return nil, &PersistenceError{Op: "load", Path: j.path, Err: err}
	}

	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, &PersistenceError{Op: "load", Path: j.path, Err: fmt.Errorf("parsing ledger: %w", err)}
	}
	l.normalize()
	return &l, nil
}

// Save rewrites the whole file through a temp file and rename.
func (j *JSONFile) Save(ctx context.Context, l *Ledger) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "save", Path: j.path, Err: fmt.Errorf("encoding ledger: %w", err)}
	}

	if dir := filepath.Dir(j.path); dir != "" && dir != "." {
		if err := j.fs.MkdirAll(dir, 0755); err != nil {
			return &PersistenceError{Op: "save", Path: j.path, Err: err}
		}
	}

	tmp := j.path + ".tmp"
	if err := afero.WriteFile(j.fs, tmp, data, 0644); err != nil {
		return &PersistenceError{Op: "save", Path: j.path, Err: err}
	}
	if err := j.fs.Rename(tmp, j.path); err != nil {
		_ = j.fs.Remove(tmp)
		return &PersistenceError{Op: "save", Path: j.path, Err: err}
	}
	return nil
}

// Close is a no-op.
func (j *JSONFile) Close() error {
	return nil
}
