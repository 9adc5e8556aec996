package session

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format selects the encoding used by Export and Import.
type Format string

// Supported export formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts "json", "yaml" or "yml" in any case.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json", "":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported export format: %s", name)
	}
}

// Export writes the whole collection to w.
func (s *Store) Export(w io.Writer, format Format) error {
	sessions := s.ListSessions()

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sessions); err != nil {
			return fmt.Errorf("failed to encode sessions as json: %w", err)
		}
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(sessions); err != nil {
			return fmt.Errorf("failed to encode sessions as yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to flush yaml encoder: %w", err)
		}
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
	return nil
}

// Import merges sessions read from r into the collection and returns how many
// were accepted. Sessions without an id or without turns are skipped. An
// imported session replaces a stored one with the same id; if that is the
// active session its working history is reloaded too. The merged
// collection is ordered by timestamp, capped at MaxSessions and persisted.
func (s *Store) Import(r io.Reader, format Format) (int, error) {
	var incoming []Session

	switch format {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&incoming); err != nil {
			return 0, fmt.Errorf("failed to decode json sessions: %w", err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&incoming); err != nil {
			return 0, fmt.Errorf("failed to decode yaml sessions: %w", err)
		}
	default:
		return 0, fmt.Errorf("unsupported import format: %s", format)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	accepted := 0
	for _, sess := range incoming {
		if sess.ID == "" || len(sess.History) == 0 {
			s.logger.Warn("Skipping invalid imported session", "session", sess.ID)
			continue
		}
		sess.TurnCount = len(sess.History) / 2
		if sess.Title == "" {
			sess.Title = Title(sess.History)
		}
		if sess.Preview == "" {
			sess.Preview = Preview(sess.History)
		}

		if idx := s.indexOf(sess.ID); idx >= 0 {
			s.sessions[idx] = sess
		} else {
			s.sessions = append(s.sessions, sess)
		}
		if sess.ID == s.currentID {
			// The working history follows the imported record
			s.history = append(make([]string, 0, len(sess.History)), sess.History...)
			s.logger.Debug("Active session replaced by import", "session", sess.ID)
		}
		accepted++
	}

	sort.SliceStable(s.sessions, func(i, j int) bool {
		return s.sessions[i].Timestamp > s.sessions[j].Timestamp
	})
	if len(s.sessions) > MaxSessions {
		s.sessions = s.sessions[:MaxSessions]
	}

	s.persistLocked()
	s.logger.Debug("Sessions imported", "accepted", accepted, "total", len(s.sessions))
	return accepted, nil
}
