package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"supportchat/internal/chat"
	"supportchat/internal/config"
	"supportchat/internal/logger"
	"supportchat/internal/render"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

const chatHelp = `Commands:
  /new            start a new chat
  /sessions       list saved chats
  /load <id>      resume a saved chat (id prefix is enough)
  /delete <id>    delete a saved chat
  /quick [n]      list quick actions, or send quick action n
  /health         check the chat service
  /help           show this help
  /exit           quit`

func (c *cli) newChatCmd() *cobra.Command {
	var resume string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runChat(cmd, resume)
		},
	}
	cmd.Flags().StringVar(&resume, "resume", "", "Resume the saved chat with this id")
	return cmd
}

func (c *cli) runChat(cmd *cobra.Command, resume string) error {
	a, err := c.open()
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if resume != "" {
		if err := resumeSession(a, out, resume); err != nil {
			return err
		}
	}

	rlCfg := &readline.Config{
		Prompt:          "you> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "/exit",
		Stdout:          out,
	}
	if dir, err := config.UserConfigDir(); err == nil && os.MkdirAll(dir, 0755) == nil {
		rlCfg.HistoryFile = filepath.Join(dir, "history")
	}

	rl, err := readline.NewEx(rlCfg)
	if err != nil {
		return fmt.Errorf("failed to start line editor: %w", err)
	}
	defer func() {
		if err := rl.Close(); err != nil {
			logger.Debug("Failed to close line editor", "error", err)
		}
	}()

	// A greeted chat is not auto-saved after the last reply
	defer a.store.SaveCurrent()

	fmt.Fprintln(out, "Support chat. Type a message, or /help for commands.")
	if greeting, ok := a.controller.Greet(); ok {
		fmt.Fprintln(out, a.renderer.Turn("Agent: "+greeting))
	}
	if len(a.store.History()) <= 1 {
		printQuickActions(out)
	}

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if quit := handleLine(cmd.Context(), a, out, line); quit {
			return nil
		}
	}
}

// handleLine processes one line of interactive input and reports whether the
// user asked to quit.
func handleLine(parent context.Context, a *app, out io.Writer, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		sendAndPrint(parent, a, out, line)
		return false
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "exit", "quit":
		return true
	case "help":
		fmt.Fprintln(out, chatHelp)
	case "new":
		a.controller.NewChat()
		fmt.Fprintln(out, "Started a new chat.")
		printQuickActions(out)
	case "sessions":
		printSessions(out, a)
	case "load":
		if err := resumeSession(a, out, arg); err != nil {
			fmt.Fprintln(out, err)
		}
	case "delete":
		if err := deleteSession(a, out, arg); err != nil {
			fmt.Fprintln(out, err)
		}
	case "quick":
		if arg == "" {
			printQuickActions(out)
			break
		}
		qa, ok := chat.FindQuickAction(arg)
		if !ok {
			fmt.Fprintf(out, "Unknown quick action: %s\n", arg)
			break
		}
		fmt.Fprintln(out, a.renderer.Turn("User: "+qa.Message))
		sendAndPrint(parent, a, out, qa.Message)
	case "health":
		printHealth(parent, a, out)
	default:
		fmt.Fprintf(out, "Unknown command /%s. Type /help for commands.\n", name)
	}
	return false
}

// sendAndPrint sends one message. Ctrl+C while waiting cancels the request.
func sendAndPrint(parent context.Context, a *app, out io.Writer, text string) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	start := time.Now()
	reply, err := a.controller.Send(ctx, text)
	if err != nil {
		fmt.Fprintln(out, chat.ErrorMessage(err))
		return
	}
	logger.Debug("Reply received", "elapsed", time.Since(start).String())
	fmt.Fprintln(out, a.renderer.Turn("Agent: "+reply.Reply))
}

func printQuickActions(out io.Writer) {
	fmt.Fprintln(out, "Quick actions:")
	for i, qa := range chat.QuickActions {
		fmt.Fprintf(out, "  %d. %s\n", i+1, qa.Label)
	}
}

func printSessions(out io.Writer, a *app) {
	sessions := a.store.ListSessions()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No saved chats.")
		return
	}
	now := time.Now()
	current := a.store.CurrentID()
	for _, s := range sessions {
		fmt.Fprintln(out, a.renderer.SessionRow(s, s.ID == current, now))
	}
}

func resumeSession(a *app, out io.Writer, ref string) error {
	id, err := resolveSessionID(a, ref)
	if err != nil {
		return err
	}
	s, ok := a.controller.Resume(id)
	if !ok {
		return fmt.Errorf("chat not found: %s", ref)
	}
	fmt.Fprintf(out, "Resumed %q\n\n", s.Title)
	return render.History(out, a.renderer, s.History)
}

func deleteSession(a *app, out io.Writer, ref string) error {
	id, err := resolveSessionID(a, ref)
	if err != nil {
		return err
	}
	if !a.store.DeleteSession(id) {
		return fmt.Errorf("chat not found: %s", ref)
	}
	fmt.Fprintf(out, "Deleted %s\n", id)
	return nil
}

// resolveSessionID matches ref against saved ids, accepting a unique prefix.
func resolveSessionID(a *app, ref string) (string, error) {
	if ref == "" {
		return "", errors.New("a chat id is required")
	}
	var matches []string
	for _, s := range a.store.ListSessions() {
		if s.ID == ref {
			return s.ID, nil
		}
		if strings.HasPrefix(s.ID, ref) {
			matches = append(matches, s.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("chat not found: %s", ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("chat id %q is ambiguous (%d matches)", ref, len(matches))
	}
}
