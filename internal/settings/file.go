package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileStore is a [Store] persisted as a flat YAML mapping. Every Set rewrites
// the file through a temporary file and a rename.
type FileStore struct {
	path string

	mu  sync.Mutex
	mem *Memory
}

var _ Store = (*FileStore)(nil)

// OpenFile loads the credentials at path. A missing file yields an empty
// store; the file is created on the first Set.
func OpenFile(path string) (*FileStore, error) {
	values := map[string]string{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("settings: read %q: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("settings: parse %q: %w", path, err)
		}
	}
	return &FileStore{path: path, mem: NewMemory(values)}, nil
}

// Path returns the backing file path.
func (f *FileStore) Path() string { return f.path }

// Get implements [Store].
func (f *FileStore) Get(name string) (string, bool) { return f.mem.Get(name) }

// All implements [Store].
func (f *FileStore) All() map[string]string { return f.mem.All() }

// Set implements [Store].
func (f *FileStore) Set(name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mem.Set(name, value); err != nil {
		return err
	}
	return f.save()
}

func (f *FileStore) save() error {
	data, err := yaml.Marshal(f.mem.All())
	if err != nil {
		return fmt.Errorf("settings: marshal: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("settings: create %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("settings: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("settings: write: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("settings: chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("settings: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("settings: replace %q: %w", f.path, err)
	}
	return nil
}
