// Package chat drives a conversation: it validates input, keeps the active
// session's history in the session store and exchanges turns with the API.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"supportchat/internal/chatapi"
	"supportchat/internal/logger"
	"supportchat/internal/session"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxMessageLength is the longest message accepted, in characters.
const DefaultMaxMessageLength = 2000

// DefaultGreeting is the Agent turn that opens an empty chat.
const DefaultGreeting = `Hey there! 😊

I'm your ISP support assistant. I can help you with:
• Slow or not working internet
• Checking connection status
• Billing, plan, and payment info
• Router or WiFi problems
• Opening support tickets

Tell me what's happening, and I'll take care of it! 💪`

var (
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrMessageTooLong is matched by *MessageTooLongError.
	ErrMessageTooLong = errors.New("message too long")
	// ErrBusy is returned while another send is in flight.
	ErrBusy = errors.New("a message is already being sent")
)

// MessageTooLongError reports the rejected length and the limit.
type MessageTooLongError struct {
	Length int
	Max    int
}

func (e *MessageTooLongError) Error() string {
	return fmt.Sprintf("message too long: %d characters, maximum %d", e.Length, e.Max)
}

// Is makes errors.Is(err, ErrMessageTooLong) true.
func (e *MessageTooLongError) Is(target error) bool {
	return target == ErrMessageTooLong
}

// API is the subset of the chat API client the controller uses.
type API interface {
	SendMessage(ctx context.Context, text string, history []string, contactKey string) (*chatapi.Reply, error)
	CheckHealth(ctx context.Context) chatapi.HealthStatus
}

// ContactSource supplies the contact key sent with each turn.
type ContactSource interface {
	UserPhone() string
}

// Controller runs one conversation at a time against a session store.
type Controller struct {
	store    *session.Store
	api      API
	contacts ContactSource
	maxLen   int
	greeting string

	inflight *semaphore.Weighted
}

// Option configures a Controller.
type Option func(*Controller)

// WithMaxMessageLength sets the input length limit. Values below 1 are ignored.
func WithMaxMessageLength(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxLen = n
		}
	}
}

// WithContactSource sets where the contact key comes from. Without one, turns
// are sent with no contact key.
func WithContactSource(src ContactSource) Option {
	return func(c *Controller) {
		c.contacts = src
	}
}

// WithGreeting sets the Agent turn Greet adds to an empty chat. An empty text
// disables greeting.
func WithGreeting(text string) Option {
	return func(c *Controller) {
		c.greeting = strings.TrimSpace(text)
	}
}

// NewController creates a Controller.
func NewController(store *session.Store, api API, opts ...Option) *Controller {
	c := &Controller{
		store:    store,
		api:      api,
		maxLen:   DefaultMaxMessageLength,
		inflight: semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the underlying session store.
func (c *Controller) Store() *session.Store {
	return c.store
}

// Send validates text, records it as a User turn in the active session
// (creating one if needed), sends it with the working history and records the
// Agent reply. On API failure the User turn stays in history and no Agent turn
// is added.
func (c *Controller) Send(ctx context.Context, text string) (*chatapi.Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if n := utf8.RuneCountInString(text); n > c.maxLen {
		return nil, &MessageTooLongError{Length: n, Max: c.maxLen}
	}

	if !c.inflight.TryAcquire(1) {
		return nil, ErrBusy
	}
	defer c.inflight.Release(1)

	if c.store.CurrentID() == "" {
		id := c.store.CreateSession()
		logger.Debug("Started session for first message", "session_id", id)
	}

	c.store.AppendTurn(session.RoleUser, text)

	var contactKey string
	if c.contacts != nil {
		contactKey = c.contacts.UserPhone()
	}

	reply, err := c.api.SendMessage(ctx, text, c.store.History(), contactKey)
	if err != nil {
		logger.Error("Chat turn failed", "session_id", c.store.CurrentID(), "error", err)
		return nil, err
	}

	c.store.AppendTurn(session.RoleAgent, reply.Reply)
	return reply, nil
}

// Greet records the greeting as an Agent turn when the active chat is empty,
// starting a session if there is none. It reports whether a turn was added.
//
// A greeted chat has odd length after every full exchange, so the store's
// auto-save fires after User turns instead. Callers should SaveCurrent when
// they stop.
func (c *Controller) Greet() (string, bool) {
	if c.greeting == "" || len(c.store.History()) > 0 {
		return "", false
	}
	if c.store.CurrentID() == "" {
		c.store.CreateSession()
	}
	c.store.AppendTurn(session.RoleAgent, c.greeting)
	logger.Debug("Greeting added", "session_id", c.store.CurrentID())
	return c.greeting, true
}

// NewChat saves the active session and starts an empty one.
func (c *Controller) NewChat() string {
	return c.store.CreateSession()
}

// Resume makes the saved session id active.
func (c *Controller) Resume(id string) (session.Session, bool) {
	return c.store.LoadSession(id)
}

// Health checks the API.
func (c *Controller) Health(ctx context.Context) chatapi.HealthStatus {
	return c.api.CheckHealth(ctx)
}

// ErrorMessage turns an error from Send into the text shown to the user.
func ErrorMessage(err error) string {
	var tooLong *MessageTooLongError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyMessage):
		return "Please enter a message."
	case errors.As(err, &tooLong):
		return fmt.Sprintf("Message too long. Maximum %d characters.", tooLong.Max)
	case errors.Is(err, ErrBusy):
		return "Please wait for the current reply."
	}

	kind, ok := chatapi.KindOf(err)
	if !ok {
		return "An error occurred. Please try again."
	}
	switch kind {
	case chatapi.KindTimeout:
		return "Request timeout. Please try again."
	case chatapi.KindNetwork:
		return "Network error. Please check your connection and try again."
	case chatapi.KindServer:
		return "Server error. Please try again later."
	case chatapi.KindCanceled:
		return "Request canceled."
	default:
		return "An error occurred. Please try again."
	}
}
