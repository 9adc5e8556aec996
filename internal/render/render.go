// Package render formats chat turns and session listings for the terminal.
package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"supportchat/internal/logger"
	"supportchat/internal/session"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
)

// DefaultWordWrap is the wrap width for rendered replies.
const DefaultWordWrap = 80

// Renderer turns stored history entries into display text.
type Renderer interface {
	Turn(turn string) string
	SessionRow(s session.Session, current bool, now time.Time) string
}

// New picks a renderer for theme ("dark", "light", "auto" or "plain"). A
// terminal without color support always gets the plain renderer.
func New(theme string) Renderer {
	if strings.EqualFold(theme, "plain") || lipgloss.ColorProfile() == termenv.Ascii {
		return Plain{}
	}
	r, err := NewMarkdown(theme, DefaultWordWrap)
	if err != nil {
		logger.Debug("Falling back to plain renderer", "theme", theme, "error", err)
		return Plain{}
	}
	return r
}

// GlamourStyle maps a theme name to a glamour standard style.
func GlamourStyle(theme string) string {
	switch strings.ToLower(theme) {
	case "light":
		return "light"
	case "dark":
		return "dark"
	case "plain":
		return "notty"
	default:
		if termenv.HasDarkBackground() {
			return "dark"
		}
		return "light"
	}
}

// Markdown renders agent replies as markdown and prefixes each turn with a
// colored role label.
type Markdown struct {
	md         *glamour.TermRenderer
	userLabel  lipgloss.Style
	agentLabel lipgloss.Style
	muted      lipgloss.Style
	accent     lipgloss.Style
}

// NewMarkdown creates a Markdown renderer.
func NewMarkdown(theme string, wrap int) (*Markdown, error) {
	if wrap <= 0 {
		wrap = DefaultWordWrap
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithStylePath(GlamourStyle(theme)),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return &Markdown{
		md:         md,
		userLabel:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#005FAF", Dark: "#5FAFFF"}),
		agentLabel: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#008700", Dark: "#87D787"}),
		muted:      lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6C6C6C", Dark: "#8A8A8A"}),
		accent:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFAF00")),
	}, nil
}

// Turn renders one "Role: text" entry.
func (m *Markdown) Turn(turn string) string {
	role, text, ok := session.ParseTurn(turn)
	if !ok {
		return turn
	}
	if role == session.RoleUser {
		return m.userLabel.Render("You") + "  " + text
	}

	body, err := m.md.Render(text)
	if err != nil {
		logger.Debug("Markdown render failed", "error", err)
		body = text
	}
	return m.agentLabel.Render("Agent") + "\n" + strings.TrimRight(body, "\n")
}

// SessionRow renders one line of the session list.
func (m *Markdown) SessionRow(s session.Session, current bool, now time.Time) string {
	marker := "  "
	title := s.Title
	if current {
		marker = m.accent.Render("> ")
		title = m.accent.Render(title)
	}
	meta := m.muted.Render(fmt.Sprintf("%s · %d messages · %s", shortID(s.ID), s.TurnCount, session.RelativeTime(s.UpdatedAt(), now)))
	row := marker + title + "  " + meta
	if s.Preview != "" {
		row += "\n    " + m.muted.Render(s.Preview)
	}
	return row
}

// Plain renders without color or markdown. Escape sequences in text are removed.
type Plain struct{}

// Turn renders one entry as-is, minus terminal escapes.
func (Plain) Turn(turn string) string {
	return ansi.Strip(turn)
}

// SessionRow renders one line of the session list.
func (Plain) SessionRow(s session.Session, current bool, now time.Time) string {
	marker := "  "
	if current {
		marker = "* "
	}
	row := fmt.Sprintf("%s%s  (%s, %d messages, %s)", marker, ansi.Strip(s.Title), shortID(s.ID), s.TurnCount, session.RelativeTime(s.UpdatedAt(), now))
	if s.Preview != "" {
		row += "\n    " + ansi.Strip(s.Preview)
	}
	return row
}

// History writes every entry of history through r, separated by blank lines.
func History(w io.Writer, r Renderer, history []string) error {
	for i, turn := range history {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w, r.Turn(turn)); err != nil {
			return err
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
