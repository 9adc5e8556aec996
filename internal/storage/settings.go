package storage

import "strings"

// Settings reads and writes the scalar user settings kept next to the chat collection.
type Settings struct {
	backend Backend
}

// NewSettings wraps a backend.
func NewSettings(backend Backend) *Settings {
	return &Settings{backend: backend}
}

// Theme returns the stored theme, or fallback if none is stored.
func (s *Settings) Theme(fallback string) string {
	return s.get(KeyTheme, fallback)
}

// SetTheme stores the theme name.
func (s *Settings) SetTheme(theme string) error {
	return s.set(KeyTheme, theme)
}

// APIEndpoint returns the stored API base URL, or fallback.
func (s *Settings) APIEndpoint(fallback string) string {
	return s.get(KeyAPIEndpoint, fallback)
}

// SetAPIEndpoint stores the API base URL without a trailing slash.
func (s *Settings) SetAPIEndpoint(endpoint string) error {
	return s.set(KeyAPIEndpoint, strings.TrimRight(strings.TrimSpace(endpoint), "/"))
}

// UserPhone returns the stored contact phone number, or "".
func (s *Settings) UserPhone() string {
	return s.get(KeyUserPhone, "")
}

// SetUserPhone stores the contact phone number. An empty value clears it.
func (s *Settings) SetUserPhone(phone string) error {
	return s.set(KeyUserPhone, strings.TrimSpace(phone))
}

func (s *Settings) get(key, fallback string) string {
	value, ok, err := s.backend.Get(key)
	if err != nil || !ok || value == "" {
		return fallback
	}
	return value
}

func (s *Settings) set(key, value string) error {
	if value == "" {
		return s.backend.Remove(key)
	}
	return s.backend.Set(key, value)
}
