package session

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"supportchat/internal/logger"
	"supportchat/internal/storage"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Store owns the session collection, the active session pointer and the working
// history of the active session.
//
// Every mutation rewrites the whole collection under storage.KeyAllChats. Two
// stores sharing one backend will overwrite each other's changes.
type Store struct {
	mu sync.Mutex

	backend  storage.Backend // nil means memory only
	now      func() time.Time
	newID    func() string
	sessions []Session // most recently saved first

	currentID string
	history   []string

	logger *log.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator overrides session id allocation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		s.newID = newID
	}
}

// NewStore creates a Store backed by backend and loads the saved collection.
// A nil backend keeps everything in memory. Read failures leave the collection empty.
func NewStore(backend storage.Backend, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		now:      time.Now,
		newID:    newSessionID,
		sessions: make([]Session, 0),
		history:  make([]string, 0),
		logger:   logger.NewStyledLogger("Session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.loadFromStorage()
	return s
}

// newSessionID allocates a time-ordered UUIDv7, falling back to v4.
func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// CreateSession saves the current session if it has turns, then starts a fresh
// empty session and makes it current.
func (s *Store) CreateSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentID != "" && len(s.history) > 0 {
		s.saveCurrentLocked()
	}

	s.currentID = s.newID()
	s.history = make([]string, 0)
	s.persistLocked()

	s.logger.Debug("Session created", "session", s.currentID)
	return s.currentID
}

// LoadSession makes the session with id current and loads its history.
// ok is false, and nothing changes, if no such session exists.
func (s *Store) LoadSession(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		s.logger.Debug("Session not found", "session", id)
		return Session{}, false
	}
	found := s.sessions[idx].clone()

	if s.currentID != "" && s.currentID != id && len(s.history) > 0 {
		s.saveCurrentLocked()
	}

	s.currentID = id
	s.history = append(make([]string, 0, len(found.History)), found.History...)

	s.logger.Debug("Session loaded", "session", id, "turns", len(found.History))
	return found, true
}

// SaveCurrent writes the active session into the collection. It does nothing
// when there is no active session or its history is empty.
func (s *Store) SaveCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCurrentLocked()
}

func (s *Store) saveCurrentLocked() {
	if s.currentID == "" || len(s.history) == 0 {
		return
	}

	record := Session{
		ID:        s.currentID,
		Title:     Title(s.history),
		Preview:   Preview(s.history),
		Timestamp: s.now().UnixMilli(),
		History:   append([]string(nil), s.history...),
		TurnCount: len(s.history) / 2,
	}

	// An updated session moves to the front so the collection stays
	// most-recently-saved first and eviction drops the stalest entry.
	if idx := s.indexOf(record.ID); idx >= 0 {
		s.sessions = append(s.sessions[:idx], s.sessions[idx+1:]...)
	}
	s.sessions = append([]Session{record}, s.sessions...)

	if len(s.sessions) > MaxSessions {
		for _, evicted := range s.sessions[MaxSessions:] {
			s.logger.Debug("Session evicted", "session", evicted.ID)
		}
		s.sessions = s.sessions[:MaxSessions]
	}

	s.persistLocked()
}

// DeleteSession removes the session with id from the collection and reports
// whether it existed. Deleting the current session clears the active pointer.
func (s *Store) DeleteSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := false
	kept := s.sessions[:0]
	for _, sess := range s.sessions {
		if sess.ID == id {
			removed = true
			continue
		}
		kept = append(kept, sess)
	}
	s.sessions = kept

	if s.currentID == id {
		s.currentID = ""
		s.history = make([]string, 0)
	}

	s.persistLocked()
	return removed
}

// AppendTurn adds a turn to the working history. Surrounding double quotes are
// stripped from text. The session is saved after every append that leaves the
// history with an even number of turns, i.e. once per user+agent exchange.
func (s *Store) AppendTurn(role Role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, FormatTurn(role, strings.Trim(text, `"`)))

	if len(s.history)%2 == 0 {
		s.saveCurrentLocked()
	}
}

// ListSessions returns a snapshot of the collection, most recently saved first.
func (s *Store) ListSessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Session, len(s.sessions))
	for i, sess := range s.sessions {
		out[i] = sess.clone()
	}
	return out
}

// ClearAll empties the collection and the active session.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make([]Session, 0)
	s.currentID = ""
	s.history = make([]string, 0)
	s.persistLocked()
}

// CurrentID returns the active session id, or "" when there is none.
func (s *Store) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

// History returns a copy of the working history.
func (s *Store) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

func (s *Store) indexOf(id string) int {
	for i, sess := range s.sessions {
		if sess.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) loadFromStorage() {
	if s.backend == nil {
		return
	}

	stored, ok, err := s.backend.Get(storage.KeyAllChats)
	if err != nil {
		s.logger.Error("Error loading sessions from storage", "error", err)
		return
	}
	if !ok || stored == "" {
		return
	}

	var sessions []Session
	if err := json.Unmarshal([]byte(stored), &sessions); err != nil {
		s.logger.Error("Stored sessions are corrupt, starting empty", "error", err)
		return
	}
	if sessions == nil {
		return
	}
	s.sessions = sessions
	s.logger.Debug("Sessions loaded from storage", "count", len(sessions))
}

// persistLocked writes the whole collection. Failures are logged and the
// in-memory collection stays authoritative.
func (s *Store) persistLocked() {
	if s.backend == nil {
		return
	}

	data, err := json.Marshal(s.sessions)
	if err != nil {
		s.logger.Error("Error encoding sessions", "error", err)
		return
	}
	if err := s.backend.Set(storage.KeyAllChats, string(data)); err != nil {
		s.logger.Error("Error saving sessions to storage", "error", err)
	}
}
