package session

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"supportchat/internal/logger"
	"supportchat/internal/storage"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingBackend counts writes of the session collection.
type recordingBackend struct {
	*storage.MemoryBackend
	mu     sync.Mutex
	writes int
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{MemoryBackend: storage.NewMemoryBackend()}
}

func (r *recordingBackend) Set(key, value string) error {
	if key == storage.KeyAllChats {
		r.mu.Lock()
		r.writes++
		r.mu.Unlock()
	}
	return r.MemoryBackend.Set(key, value)
}

func (r *recordingBackend) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// failingBackend fails every operation.
type failingBackend struct{}

var errQuotaExceeded = errors.New("quota exceeded")

func (failingBackend) Get(string) (string, bool, error) { return "", false, errQuotaExceeded }
func (failingBackend) Set(string, string) error         { return errQuotaExceeded }
func (failingBackend) Remove(string) error              { return errQuotaExceeded }
func (failingBackend) Close() error                     { return nil }

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("chat-%03d", n)
	}
}

func steppingClock() func() time.Time {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func newTestStore(backend storage.Backend) *Store {
	return NewStore(backend, WithIDGenerator(sequentialIDs()), WithClock(steppingClock()))
}

func addExchange(s *Store, user, agent string) {
	s.AppendTurn(RoleUser, user)
	s.AppendTurn(RoleAgent, agent)
}

func TestStore_CreateSession(t *testing.T) {
	backend := newRecordingBackend()
	store := newTestStore(backend)

	id := store.CreateSession()
	assert.Equal(t, "chat-001", id)
	assert.Equal(t, id, store.CurrentID())
	assert.Empty(t, store.History())
	assert.Equal(t, 1, backend.Writes())

	// Empty sessions are never stored
	assert.Empty(t, store.ListSessions())

	stored, ok, err := backend.Get(storage.KeyAllChats)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "[]", stored)
}

func TestStore_CreateSession_SavesNonEmptyCurrent(t *testing.T) {
	store := newTestStore(storage.NewMemoryBackend())

	first := store.CreateSession()
	store.AppendTurn(RoleUser, "hello")

	second := store.CreateSession()
	assert.NotEqual(t, first, second)

	sessions := store.ListSessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, first, sessions[0].ID)
	assert.Equal(t, []string{"User: hello"}, sessions[0].History)
	assert.Equal(t, 0, sessions[0].TurnCount)
}

func TestStore_AppendTurn_StripsQuotes(t *testing.T) {
	store := newTestStore(nil)
	store.CreateSession()

	store.AppendTurn(RoleUser, `"hello"`)
	store.AppendTurn(RoleAgent, `""quoted "inside" too""`)

	assert.Equal(t, []string{"User: hello", `Agent: quoted "inside" too`}, store.History())
}

func TestStore_AppendTurn_AutoSavesOncePerExchange(t *testing.T) {
	backend := newRecordingBackend()
	store := newTestStore(backend)
	store.CreateSession()
	base := backend.Writes()

	store.AppendTurn(RoleUser, "my internet is slow")
	assert.Equal(t, base, backend.Writes(), "lone user turn must not save")
	assert.Empty(t, store.ListSessions())

	store.AppendTurn(RoleAgent, "let me check")
	assert.Equal(t, base+1, backend.Writes())

	for i := 0; i < 3; i++ {
		store.AppendTurn(RoleUser, "again")
		assert.Equal(t, base+1+i, backend.Writes())
		store.AppendTurn(RoleAgent, "checked")
		assert.Equal(t, base+2+i, backend.Writes())
	}

	sessions := store.ListSessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, 4, sessions[0].TurnCount)
	assert.Len(t, sessions[0].History, 8)
}

func TestStore_AppendTurn_ParityAssumesAlternation(t *testing.T) {
	backend := newRecordingBackend()
	store := newTestStore(backend)
	store.CreateSession()
	base := backend.Writes()

	// Two user turns in a row still trigger a save on the even length,
	// even though no agent reply has arrived.
	store.AppendTurn(RoleUser, "first")
	store.AppendTurn(RoleUser, "edited")
	assert.Equal(t, base+1, backend.Writes())

	// The reply now lands on an odd length and is not saved until the next turn.
	store.AppendTurn(RoleAgent, "reply")
	assert.Equal(t, base+1, backend.Writes())
}

func TestStore_AppendTurn_WithoutCurrentSession(t *testing.T) {
	backend := newRecordingBackend()
	store := newTestStore(backend)

	addExchange(store, "hi", "hello")
	assert.Equal(t, 0, backend.Writes())
	assert.Empty(t, store.ListSessions())
	assert.Len(t, store.History(), 2)
}

func TestStore_SaveCurrent(t *testing.T) {
	store := newTestStore(storage.NewMemoryBackend())

	// No current session
	store.SaveCurrent()
	assert.Empty(t, store.ListSessions())

	id := store.CreateSession()
	store.SaveCurrent()
	assert.Empty(t, store.ListSessions(), "empty history is not saved")

	store.AppendTurn(RoleUser, "Hello world, this is a very long opening message")
	store.SaveCurrent()

	sessions := store.ListSessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].ID)
	assert.Equal(t, "Hello world, this is a very long opening...", sessions[0].Title)
	assert.Equal(t, "Hello world, this is a very long opening message", sessions[0].Preview)
	assert.NotZero(t, sessions[0].Timestamp)

	// Upsert replaces instead of duplicating
	store.AppendTurn(RoleAgent, "✓ Done")
	sessions = store.ListSessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "Done", sessions[0].Preview)
	assert.Equal(t, 1, sessions[0].TurnCount)
}

func TestStore_Eviction(t *testing.T) {
	store := newTestStore(storage.NewMemoryBackend())

	var ids []string
	for i := 0; i < MaxSessions+1; i++ {
		ids = append(ids, store.CreateSession())
		addExchange(store, fmt.Sprintf("question %d", i), "answer")
	}

	sessions := store.ListSessions()
	require.Len(t, sessions, MaxSessions)
	assert.Equal(t, ids[len(ids)-1], sessions[0].ID)
	assert.Equal(t, ids[1], sessions[len(sessions)-1].ID)

	for _, s := range sessions {
		assert.NotEqual(t, ids[0], s.ID, "oldest session should be evicted")
	}
}

func TestStore_Eviction_UpdatedSessionSurvives(t *testing.T) {
	store := newTestStore(storage.NewMemoryBackend())

	first := store.CreateSession()
	addExchange(store, "first", "answer")
	for i := 1; i < MaxSessions; i++ {
		store.CreateSession()
		addExchange(store, "filler", "answer")
	}
	second := store.ListSessions()[MaxSessions-2].ID

	// Touch the oldest session so it becomes the most recent.
	_, ok := store.LoadSession(first)
	require.True(t, ok)
	addExchange(store, "follow-up", "answer")

	store.CreateSession()
	addExchange(store, "overflow", "answer")

	sessions := store.ListSessions()
	require.Len(t, sessions, MaxSessions)
	var seen []string
	for _, s := range sessions {
		seen = append(seen, s.ID)
	}
	assert.Contains(t, seen, first)
	assert.NotContains(t, seen, second)
}

func TestStore_LoadSession(t *testing.T) {
	store := newTestStore(storage.NewMemoryBackend())

	first := store.CreateSession()
	addExchange(store, "check my balance", "Your balance is $10")

	second := store.CreateSession()
	store.AppendTurn(RoleUser, "router blinking red")

	loaded, ok := store.LoadSession(first)
	require.True(t, ok)
	assert.Equal(t, first, loaded.ID)
	assert.Equal(t, first, store.CurrentID())
	assert.Equal(t, []string{"User: check my balance", "Agent: Your balance is $10"}, store.History())

	// The pending, non-empty session was saved before switching.
	var found bool
	for _, s := range store.ListSessions() {
		if s.ID == second {
			found = true
			assert.Equal(t, []string{"User: router blinking red"}, s.History)
		}
	}
	assert.True(t, found)
}

func TestStore_LoadSession_NotFound(t *testing.T) {
	store := newTestStore(storage.NewMemoryBackend())
	id := store.CreateSession()
	store.AppendTurn(RoleUser, "pending")

	_, ok := store.LoadSession("does-not-exist")
	assert.False(t, ok)
	assert.Equal(t, id, store.CurrentID())
	assert.Equal(t, []string{"User: pending"}, store.History())
	assert.Empty(t, store.ListSessions())
}

func TestStore_LoadSession_HistoryIsIndependent(t *testing.T) {
	store := newTestStore(nil)
	id := store.CreateSession()
	addExchange(store, "a", "b")

	loaded, ok := store.LoadSession(id)
	require.True(t, ok)
	loaded.History[0] = "mutated"

	assert.Equal(t, "User: a", store.History()[0])
	assert.Equal(t, "User: a", store.ListSessions()[0].History[0])
}

func TestStore_DeleteSession(t *testing.T) {
	store := newTestStore(storage.NewMemoryBackend())

	first := store.CreateSession()
	addExchange(store, "one", "reply")
	second := store.CreateSession()
	addExchange(store, "two", "reply")

	assert.True(t, store.DeleteSession(first))
	assert.Equal(t, second, store.CurrentID())
	require.Len(t, store.ListSessions(), 1)

	// Deleting the current session clears the pointer and history.
	assert.True(t, store.DeleteSession(second))
	assert.Equal(t, "", store.CurrentID())
	assert.Empty(t, store.History())
	assert.Empty(t, store.ListSessions())

	// Idempotent
	assert.False(t, store.DeleteSession(second))
}

func TestStore_ClearAll(t *testing.T) {
	backend := storage.NewMemoryBackend()
	store := newTestStore(backend)

	store.CreateSession()
	addExchange(store, "one", "reply")
	store.CreateSession()
	store.AppendTurn(RoleUser, "pending")

	store.ClearAll()
	assert.Empty(t, store.ListSessions())
	assert.Equal(t, "", store.CurrentID())
	assert.Empty(t, store.History())

	stored, _, err := backend.Get(storage.KeyAllChats)
	require.NoError(t, err)
	assert.Equal(t, "[]", stored)
}

func TestStore_ListSessions_IsSnapshot(t *testing.T) {
	store := newTestStore(nil)
	store.CreateSession()
	addExchange(store, "a", "b")

	snapshot := store.ListSessions()
	snapshot[0].Title = "changed"
	snapshot[0].History[0] = "changed"

	sessions := store.ListSessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "a", sessions[0].Title)
	assert.Equal(t, "User: a", sessions[0].History[0])
}

func TestStore_PersistsAcrossInstances(t *testing.T) {
	backend := storage.NewMemoryBackend()

	store := newTestStore(backend)
	id := store.CreateSession()
	addExchange(store, "hello", "hi there")

	reopened := NewStore(backend)
	sessions := reopened.ListSessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].ID)
	assert.Equal(t, 1, sessions[0].TurnCount)

	// The active pointer is not persisted.
	assert.Equal(t, "", reopened.CurrentID())
}

func TestStore_CorruptPayloadStartsEmpty(t *testing.T) {
	backend := storage.NewMemoryBackend()
	require.NoError(t, backend.Set(storage.KeyAllChats, "{definitely not a list"))

	store := newTestStore(backend)
	assert.Empty(t, store.ListSessions())

	// Still usable, and the next write replaces the corrupt payload.
	store.CreateSession()
	addExchange(store, "hi", "hello")
	assert.Len(t, store.ListSessions(), 1)

	stored, _, err := backend.Get(storage.KeyAllChats)
	require.NoError(t, err)
	assert.Contains(t, stored, `"messageCount":1`)
}

func TestStore_NullPayloadStartsEmpty(t *testing.T) {
	backend := storage.NewMemoryBackend()
	require.NoError(t, backend.Set(storage.KeyAllChats, "null"))

	store := newTestStore(backend)
	assert.NotNil(t, store.ListSessions())
	assert.Empty(t, store.ListSessions())
}

func TestStore_BackendFailuresAreSwallowed(t *testing.T) {
	store := newTestStore(failingBackend{})

	id := store.CreateSession()
	addExchange(store, "hi", "hello")

	sessions := store.ListSessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].ID)

	_, ok := store.LoadSession(id)
	assert.True(t, ok)
	assert.True(t, store.DeleteSession(id))
	store.ClearAll()
}

// Whole-collection overwrites are not atomic across writers: two stores on the
// same backend silently clobber each other. This documents the hazard.
func TestStore_ConcurrentWritersClobber(t *testing.T) {
	backend := storage.NewMemoryBackend()

	tabA := NewStore(backend)
	tabB := NewStore(backend)

	tabA.CreateSession()
	addExchange(tabA, "from tab A", "ok")

	tabB.CreateSession()
	addExchange(tabB, "from tab B", "ok")

	reopened := NewStore(backend)
	sessions := reopened.ListSessions()
	require.Len(t, sessions, 1, "tab A's session was overwritten by tab B")
	assert.Equal(t, "from tab B", sessions[0].Title)
}

func TestNewSessionID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := newSessionID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestStore_LogsWithComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	level := logger.Logger.GetLevel()
	logger.SetOutput(&buf)
	logger.Logger.SetLevel(log.DebugLevel)
	defer func() {
		logger.SetOutput(&bytes.Buffer{})
		logger.Logger.SetLevel(level)
	}()

	store := newTestStore(nil)
	store.CreateSession()

	assert.Regexp(t, `Session\s*:\s*Session created`, ansi.Strip(buf.String()))
}
