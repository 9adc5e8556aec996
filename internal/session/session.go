// Package session manages saved support conversations: the collection of sessions,
// the active session and its working history, and how they are persisted.
package session

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Role tags a turn with who said it.
type Role string

// Roles that appear in a turn prefix.
const (
	RoleUser  Role = "User"
	RoleAgent Role = "Agent"
)

const (
	// MaxSessions is the collection cap; the oldest session is evicted beyond it.
	MaxSessions = 50

	// TurnSeparator separates the role from the text in a stored turn.
	TurnSeparator = ": "

	titleLength   = 40
	previewLength = 50
	ellipsis      = "..."

	// DefaultTitle is the title of a session without turns.
	DefaultTitle = "New Chat"
)

// Session is one saved conversation. Field names match the browser client's
// allChats payload so collections can move between the two.
type Session struct {
	ID        string   `json:"id" yaml:"id"`
	Title     string   `json:"title" yaml:"title"`
	Preview   string   `json:"preview" yaml:"preview"`
	Timestamp int64    `json:"timestamp" yaml:"timestamp"` // Unix milliseconds of the last save
	History   []string `json:"history" yaml:"history"`
	TurnCount int      `json:"messageCount" yaml:"messageCount"` // completed user+agent exchanges
}

// UpdatedAt returns Timestamp as a time.Time.
func (s Session) UpdatedAt() time.Time {
	return time.UnixMilli(s.Timestamp)
}

func (s Session) clone() Session {
	c := s
	c.History = append([]string(nil), s.History...)
	return c
}

// FormatTurn encodes a turn as "<role>: <text>".
func FormatTurn(role Role, text string) string {
	return fmt.Sprintf("%s%s%s", role, TurnSeparator, text)
}

// ParseTurn splits a stored turn on the first separator.
// ok is false when the turn carries no role prefix.
func ParseTurn(turn string) (role Role, text string, ok bool) {
	prefix, rest, found := strings.Cut(turn, TurnSeparator)
	if !found {
		return "", turn, false
	}
	return Role(prefix), rest, true
}

var (
	userPrefix    = regexp.MustCompile(`^User:\s*`)
	anyRolePrefix = regexp.MustCompile(`^(User|Agent):\s*`)
	statusGlyphs  = strings.NewReplacer("✓", "", "✗", "", "⚠", "", "\uFE0F", "")
	markup        = strings.NewReplacer("**", "", "\n", " ")
)

// Title derives a session title from the first turn of history.
func Title(history []string) string {
	if len(history) == 0 {
		return DefaultTitle
	}

	message := userPrefix.ReplaceAllString(history[0], "")
	title, truncated := truncate(message, titleLength)
	title = markup.Replace(title)

	if truncated {
		title += ellipsis
	}
	return title
}

// Preview derives a one-line preview from the last turn of history,
// without role prefix, bold markers or status glyphs.
func Preview(history []string) string {
	if len(history) == 0 {
		return ""
	}

	message := anyRolePrefix.ReplaceAllString(history[len(history)-1], "")
	preview, truncated := truncate(message, previewLength)
	preview = markup.Replace(preview)
	preview = strings.TrimSpace(statusGlyphs.Replace(preview))

	if truncated {
		preview += ellipsis
	}
	return preview
}

// truncate cuts s to at most n characters and reports whether anything was cut.
func truncate(s string, n int) (string, bool) {
	runes := []rune(s)
	if len(runes) <= n {
		return s, false
	}
	return string(runes[:n]), true
}

// RelativeTime renders how long ago t was, relative to now, the way the chat
// sidebar shows it.
func RelativeTime(t, now time.Time) string {
	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return "Just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff/time.Minute))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff/time.Hour))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff/(24*time.Hour)))
	default:
		return t.Local().Format("2006-01-02")
	}
}
