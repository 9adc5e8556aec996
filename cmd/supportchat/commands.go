package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"

	"supportchat/internal/chat"
	"supportchat/internal/config"
	"supportchat/internal/logger"
	"supportchat/internal/render"
	"supportchat/internal/session"
	"supportchat/internal/version"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (c *cli) newSendCmd() *cobra.Command {
	var resume string
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send one message and print the reply",
		Long: `Send a single message. Without --resume a new chat is started; the
exchange is saved like any interactive chat.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if resume != "" {
				id, err := resolveSessionID(a, resume)
				if err != nil {
					return err
				}
				a.controller.Resume(id)
			} else {
				a.controller.NewChat()
			}

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
			defer stop()

			reply, err := a.controller.Send(ctx, strings.Join(args, " "))
			if err != nil {
				return errors.New(chat.ErrorMessage(err))
			}
			fmt.Fprintln(out, a.renderer.Turn("Agent: "+reply.Reply))
			return nil
		},
	}
	cmd.Flags().StringVar(&resume, "resume", "", "Continue the saved chat with this id")
	return cmd
}

func (c *cli) newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the chat service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			if !printHealth(commandContext(cmd), a, cmd.OutOrStdout()) {
				return errors.New("chat service is not healthy")
			}
			return nil
		},
	}
}

// printHealth prints the health report and reports whether the service is healthy.
func printHealth(ctx context.Context, a *app, out io.Writer) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	h := a.controller.Health(ctx)
	fmt.Fprintf(out, "Endpoint: %s\n", a.client.Config().BaseURL)
	fmt.Fprintf(out, "Status:   %s\n", h.Status)
	if h.Version != "" {
		fmt.Fprintf(out, "Version:  %s\n", h.Version)
		if ok, err := version.CheckAPICompatibility(h.Version); err != nil {
			logger.Debug("Unparseable API version", "version", h.Version, "error", err)
		} else if !ok {
			fmt.Fprintf(out, "Warning:  API version %s is outside the supported range %s\n", h.Version, version.SupportedAPI)
		}
	}
	if h.Model != "" {
		fmt.Fprintf(out, "Model:    %s\n", h.Model)
	}
	if h.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", h.Error)
	}
	return h.Healthy()
}

func (c *cli) newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"history"},
		Short:   "Manage saved chats",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List saved chats, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()
			printSessions(cmd.OutOrStdout(), a)
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a saved chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := resolveSessionID(a, args[0])
			if err != nil {
				return err
			}
			for _, s := range a.store.ListSessions() {
				if s.ID == id {
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "%s\n\n", s.Title)
					return render.History(out, a.renderer, s.History)
				}
			}
			return fmt.Errorf("chat not found: %s", args[0])
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a saved chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()
			return deleteSession(a, cmd.OutOrStdout(), args[0])
		},
	}

	var force bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every saved chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !force {
				return errors.New("refusing to delete all chats without --force")
			}
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			n := len(a.store.ListSessions())
			a.store.ClearAll()
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d chats\n", n)
			return nil
		},
	}
	clearCmd.Flags().BoolVarP(&force, "force", "f", false, "Do not ask for confirmation")

	var exportFormat, exportOutput string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write all saved chats as JSON or YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := session.ParseFormat(exportFormat)
			if err != nil {
				return err
			}
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			if exportOutput == "" || exportOutput == "-" {
				return a.store.Export(cmd.OutOrStdout(), format)
			}
			f, err := os.Create(exportOutput)
			if err != nil {
				return fmt.Errorf("failed to create export file: %w", err)
			}
			if err := a.store.Export(f, format); err != nil {
				_ = f.Close()
				return err
			}
			return f.Close()
		},
	}
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "Output format (json|yaml)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")

	var importFormat string
	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Merge chats from a JSON or YAML export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := importFormat
			if name == "" {
				name = formatFromExtension(args[0])
			}
			format, err := session.ParseFormat(name)
			if err != nil {
				return err
			}

			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open import file: %w", err)
				}
				defer func() { _ = f.Close() }()
				r = f
			}

			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.store.Import(r, format)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d chats\n", n)
			return nil
		},
	}
	importCmd.Flags().StringVar(&importFormat, "format", "", "Input format (json|yaml), guessed from the extension by default")

	cmd.AddCommand(listCmd, showCmd, deleteCmd, clearCmd, exportCmd, importCmd)
	return cmd
}

func formatFromExtension(path string) string {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") {
		return "yaml"
	}
	return "json"
}

// settingKeys are the stored settings exposed by the settings command.
var settingKeys = []string{"apiEndpoint", "theme", "userPhone"}

func (c *cli) newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change stored settings",
	}

	getCmd := &cobra.Command{
		Use:   "get [key]",
		Short: "Print stored settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			values := map[string]string{
				"apiEndpoint": a.settings.APIEndpoint(a.cfg.API.BaseURL),
				"theme":       a.settings.Theme(a.cfg.UI.Theme),
				"userPhone":   a.settings.UserPhone(),
			}
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				v, ok := values[args[0]]
				if !ok {
					return unknownSetting(args[0])
				}
				fmt.Fprintln(out, v)
				return nil
			}

			keys := make([]string, 0, len(values))
			for k := range values {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "%s: %s\n", k, values[k])
			}
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <key> [value]",
		Short: "Store a setting; omit the value to clear it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value string
			if len(args) == 2 {
				value = args[1]
			}
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			switch args[0] {
			case "apiEndpoint":
				err = a.settings.SetAPIEndpoint(value)
			case "theme":
				if value != "" && !config.ValidTheme(value) {
					return fmt.Errorf("unknown theme %q", value)
				}
				err = a.settings.SetTheme(value)
			case "userPhone":
				err = a.settings.SetUserPhone(value)
			default:
				return unknownSetting(args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to store %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(getCmd, setCmd)
	return cmd
}

func unknownSetting(key string) error {
	return fmt.Errorf("unknown setting %q (known: %s)", key, strings.Join(settingKeys, ", "))
}

func newVersionCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if format == "" {
				fmt.Fprintln(out, version.GetFormattedVersion())
				return nil
			}
			info, err := version.GetInfo()
			if err != nil {
				return err
			}
			switch format {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			case "yaml":
				return yaml.NewEncoder(out).Encode(info)
			default:
				return fmt.Errorf("unsupported format: %s", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", "", "Output format (json|yaml)")
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
