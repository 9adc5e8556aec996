// Package storage provides the string-keyed persistence backends used by supportchat.
// A backend plays the role browser local storage plays for the web client: small
// values under well-known keys, each write replacing the previous value whole.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Well-known keys shared with the browser client.
const (
	KeyAllChats    = "allChats"
	KeyTheme       = "theme"
	KeyAPIEndpoint = "apiEndpoint"
	KeyUserPhone   = "userPhone"
)

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// ErrClosed is returned by operations on a backend after Close.
var ErrClosed = errors.New("storage backend closed")

// Backend is a key-value store with whole-value overwrite semantics.
// Get reports ok=false for a missing key; that is not an error.
type Backend interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
	Close() error
}

// Open creates a backend for the given driver. path is ignored for the memory driver.
func Open(driver, path string) (Backend, error) {
	switch strings.ToLower(driver) {
	case DriverMemory:
		return NewMemoryBackend(), nil
	case DriverFile, "":
		if path == "" {
			return nil, fmt.Errorf("file storage requires a path")
		}
		return NewFileBackend(path)
	case DriverSQLite:
		if path == "" {
			return nil, fmt.Errorf("sqlite storage requires a path")
		}
		return NewSQLiteBackend(path)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}

// DefaultPath returns the default storage location for a driver
// (~/.local/share/supportchat/{chats.json,chats.db}).
func DefaultPath(driver string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	name := "chats.json"
	if strings.ToLower(driver) == DriverSQLite {
		name = "chats.db"
	}
	return filepath.Join(home, ".local", "share", "supportchat", name), nil
}
