package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"supportchat/internal/logger"
)

// FileBackend stores all keys in one JSON object on disk.
// Every Set rewrites the file through a temp file and rename.
type FileBackend struct {
	mu     sync.Mutex
	path   string
	closed bool
}

// NewFileBackend creates a FileBackend at path, creating the parent directory.
// The file itself is created lazily on the first write.
func NewFileBackend(path string) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &FileBackend{path: path}, nil
}

// Path returns the backing file path.
func (f *FileBackend) Path() string {
	return f.path
}

// Get reads the file and returns the value stored under key.
func (f *FileBackend) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return "", false, ErrClosed
	}
	values, err := f.readAll()
	if err != nil {
		return "", false, err
	}
	value, ok := values[key]
	if ok {
		logger.StorageOperation("get", key, len(value))
	}
	return value, ok, nil
}

// Set replaces the value under key and rewrites the file.
func (f *FileBackend) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	values, err := f.readAll()
	if err != nil {
		return err
	}
	values[key] = value
	if err := f.writeAll(values); err != nil {
		return err
	}
	logger.StorageOperation("set", key, len(value))
	return nil
}

// Remove deletes key and rewrites the file.
func (f *FileBackend) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	values, err := f.readAll()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return f.writeAll(values)
}

// Close marks the backend closed. There is no open handle to release.
func (f *FileBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *FileBackend) readAll() (map[string]string, error) {
	values := make(map[string]string)

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read storage file: %w", err)
	}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse storage file %s: %w", f.path, err)
	}
	return values, nil
}

func (f *FileBackend) writeAll(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode storage file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".supportchat-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp storage file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp storage file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp storage file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace storage file: %w", err)
	}
	return nil
}
