package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"supportchat/internal/chatapi"
	"supportchat/internal/session"
	"supportchat/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

type sentTurn struct {
	text       string
	history    []string
	contactKey string
}

// fakeAPI answers every turn with "echo: <text>" unless err is set.
type fakeAPI struct {
	mu      sync.Mutex
	turns   []sentTurn
	err     error
	block   chan struct{}
	entered chan struct{}
	health  chatapi.HealthStatus
}

func (f *fakeAPI) SendMessage(ctx context.Context, text string, history []string, contactKey string) (*chatapi.Reply, error) {
	f.mu.Lock()
	f.turns = append(f.turns, sentTurn{text: text, history: history, contactKey: contactKey})
	err := f.err
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &chatapi.Reply{Reply: "echo: " + text}, nil
}

func (f *fakeAPI) CheckHealth(context.Context) chatapi.HealthStatus {
	return f.health
}

func (f *fakeAPI) Turns() []sentTurn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentTurn(nil), f.turns...)
}

type staticContact string

func (s staticContact) UserPhone() string { return string(s) }

func newTestController(t *testing.T, api API, opts ...Option) *Controller {
	t.Helper()
	store := session.NewStore(storage.NewMemoryBackend())
	return NewController(store, api, opts...)
}

func TestSend_RecordsBothTurns(t *testing.T) {
	api := &fakeAPI{}
	c := newTestController(t, api, WithContactSource(staticContact("+15550100")))

	reply, err := c.Send(context.Background(), "  What is my balance?  ")
	require.NoError(t, err)
	assert.Equal(t, "echo: What is my balance?", reply.Reply)

	turns := api.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, "What is my balance?", turns[0].text)
	assert.Equal(t, []string{"User: What is my balance?"}, turns[0].history)
	assert.Equal(t, "+15550100", turns[0].contactKey)

	assert.NotEmpty(t, c.Store().CurrentID())
	assert.Equal(t, []string{
		"User: What is my balance?",
		"Agent: echo: What is my balance?",
	}, c.Store().History())

	sessions := c.Store().ListSessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, 1, sessions[0].TurnCount)

	_, err = c.Send(context.Background(), "And my data plan?")
	require.NoError(t, err)

	sessions = c.Store().ListSessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, 2, sessions[0].TurnCount)
	assert.Len(t, sessions[0].History, 4)
}

func TestSend_HistoryGrowsAcrossTurns(t *testing.T) {
	api := &fakeAPI{}
	c := newTestController(t, api)

	_, err := c.Send(context.Background(), "first")
	require.NoError(t, err)
	_, err = c.Send(context.Background(), "second")
	require.NoError(t, err)

	turns := api.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, []string{"User: first", "Agent: echo: first", "User: second"}, turns[1].history)
	assert.Empty(t, turns[1].contactKey)
	assert.Len(t, c.Store().ListSessions(), 1)
}

func TestSend_RejectsInvalidInput(t *testing.T) {
	api := &fakeAPI{}
	c := newTestController(t, api, WithMaxMessageLength(5))

	_, err := c.Send(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = c.Send(context.Background(), "toolong")
	assert.ErrorIs(t, err, ErrMessageTooLong)
	var tooLong *MessageTooLongError
	require.ErrorAs(t, err, &tooLong)
	assert.Equal(t, 7, tooLong.Length)
	assert.Equal(t, 5, tooLong.Max)

	// Limit counts characters, not bytes
	_, err = c.Send(context.Background(), "héllo")
	assert.NoError(t, err)

	assert.Len(t, api.Turns(), 1)
}

func TestSend_FailureKeepsUserTurnOnly(t *testing.T) {
	api := &fakeAPI{err: &chatapi.RequestError{Kind: chatapi.KindServer, StatusCode: 500, Err: errors.New("HTTP error! status: 500")}}
	c := newTestController(t, api)

	reply, err := c.Send(context.Background(), "hello")
	assert.Nil(t, reply)
	assert.True(t, chatapi.IsServer(err))
	assert.Equal(t, []string{"User: hello"}, c.Store().History())
	// An odd-length history is not auto-saved
	assert.Empty(t, c.Store().ListSessions())
}

func TestSend_RejectsConcurrentSend(t *testing.T) {
	api := &fakeAPI{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	c := newTestController(t, api)

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "first")
		done <- err
	}()

	select {
	case <-api.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first send never reached the API")
	}

	_, err := c.Send(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)

	close(api.block)
	require.NoError(t, <-done)

	// The guard is released after completion
	api.block = nil
	api.entered = nil
	_, err = c.Send(context.Background(), "third")
	assert.NoError(t, err)
}

func TestNewChatAndResume(t *testing.T) {
	api := &fakeAPI{}
	c := newTestController(t, api)

	_, err := c.Send(context.Background(), "first chat")
	require.NoError(t, err)
	firstID := c.Store().CurrentID()

	secondID := c.NewChat()
	assert.NotEqual(t, firstID, secondID)
	assert.Empty(t, c.Store().History())

	s, ok := c.Resume(firstID)
	require.True(t, ok)
	assert.Equal(t, "first chat", s.Title)
	assert.Equal(t, firstID, c.Store().CurrentID())

	_, ok = c.Resume("missing")
	assert.False(t, ok)
}

func TestGreet(t *testing.T) {
	api := &fakeAPI{}
	c := newTestController(t, api, WithGreeting(DefaultGreeting))

	greeting, ok := c.Greet()
	require.True(t, ok)
	assert.Equal(t, DefaultGreeting, greeting)
	assert.NotEmpty(t, c.Store().CurrentID())
	assert.Equal(t, []string{"Agent: " + DefaultGreeting}, c.Store().History())

	// Only an empty chat is greeted
	_, ok = c.Greet()
	assert.False(t, ok)

	_, err := c.Send(context.Background(), "my internet is slow")
	require.NoError(t, err)

	turns := api.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, []string{"Agent: " + DefaultGreeting, "User: my internet is slow"}, turns[0].history)

	// Auto-save ran after the User turn, so the reply needs an explicit save
	sessions := c.Store().ListSessions()
	require.Len(t, sessions, 1)
	assert.Len(t, sessions[0].History, 2)

	c.Store().SaveCurrent()
	sessions = c.Store().ListSessions()
	require.Len(t, sessions, 1)
	assert.Len(t, sessions[0].History, 3)
	// Titles come from turn 0, which is the greeting here
	assert.True(t, strings.HasPrefix(sessions[0].Title, "Agent: Hey there!"))
	assert.Equal(t, "echo: my internet is slow", sessions[0].Preview)
}

func TestGreet_Disabled(t *testing.T) {
	c := newTestController(t, &fakeAPI{})

	_, ok := c.Greet()
	assert.False(t, ok)
	assert.Empty(t, c.Store().CurrentID())

	c = newTestController(t, &fakeAPI{}, WithGreeting("   "))
	_, ok = c.Greet()
	assert.False(t, ok)
}

func TestHealth(t *testing.T) {
	api := &fakeAPI{health: chatapi.HealthStatus{Status: chatapi.StatusHealthy, Version: "2.0"}}
	c := newTestController(t, api)

	h := c.Health(context.Background())
	assert.True(t, h.Healthy())
	assert.Equal(t, "2.0", h.Version)
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"empty", ErrEmptyMessage, "Please enter a message."},
		{"too long", &MessageTooLongError{Length: 2001, Max: 2000}, "Message too long. Maximum 2000 characters."},
		{"busy", ErrBusy, "Please wait for the current reply."},
		{"timeout", &chatapi.RequestError{Kind: chatapi.KindTimeout}, "Request timeout. Please try again."},
		{"network", &chatapi.RequestError{Kind: chatapi.KindNetwork}, "Network error. Please check your connection and try again."},
		{"server", &chatapi.RequestError{Kind: chatapi.KindServer}, "Server error. Please try again later."},
		{"parse", &chatapi.RequestError{Kind: chatapi.KindParse}, "An error occurred. Please try again."},
		{"canceled", &chatapi.RequestError{Kind: chatapi.KindCanceled}, "Request canceled."},
		{"wrapped", fmt.Errorf("send: %w", &chatapi.RequestError{Kind: chatapi.KindNetwork}), "Network error. Please check your connection and try again."},
		{"other", errors.New("boom"), "An error occurred. Please try again."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorMessage(tt.err))
		})
	}
}

func TestFindQuickAction(t *testing.T) {
	qa, ok := FindQuickAction("2")
	require.True(t, ok)
	assert.Equal(t, "Account Balance", qa.Label)

	qa, ok = FindQuickAction("open ticket")
	require.True(t, ok)
	assert.Equal(t, "I want to create a support ticket", qa.Message)

	_, ok = FindQuickAction("9")
	assert.False(t, ok)
	_, ok = FindQuickAction("0")
	assert.False(t, ok)
	_, ok = FindQuickAction("refund")
	assert.False(t, ok)
}

func TestSend_AgainstHTTPServer(t *testing.T) {
	var calls int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatapi.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"reply":              "Your balance is **$42.50** ✓",
			"compressed_context": strings.Join(req.History, "|"),
		})
	}))
	defer server.Close()

	cfg := chatapi.DefaultConfig(server.URL)
	cfg.BaseDelay = time.Millisecond
	client := chatapi.NewClient(cfg)
	defer client.Close()

	c := newTestController(t, client)
	reply, err := c.Send(context.Background(), "balance please")
	require.NoError(t, err)
	assert.Equal(t, "Your balance is **$42.50** ✓", reply.Reply)
	assert.Equal(t, "User: balance please", reply.CompressedContext)

	sessions := c.Store().ListSessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "balance please", sessions[0].Title)
	assert.Equal(t, "Your balance is $42.50", sessions[0].Preview)
}
