// Package main provides the supportchat CLI, a terminal client for the ISP
// support chat API.
package main

import (
	"fmt"
	"os"

	"supportchat/internal/chat"
	"supportchat/internal/chatapi"
	"supportchat/internal/config"
	"supportchat/internal/logger"
	"supportchat/internal/render"
	"supportchat/internal/session"
	"supportchat/internal/storage"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli holds flag values and the loaded configuration for one invocation.
type cli struct {
	v *viper.Viper

	logLevel   string
	logFile    string
	configFile string
	apiURL     string
	theme      string

	cfg *config.Config
}

// app is everything a command needs, opened from the configuration.
type app struct {
	cfg        *config.Config
	backend    storage.Backend
	settings   *storage.Settings
	store      *session.Store
	client     *chatapi.Client
	controller *chat.Controller
	renderer   render.Renderer
}

func (a *app) Close() {
	a.client.Close()
	if err := a.backend.Close(); err != nil {
		logger.Warn("Failed to close storage", "error", err)
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "supportchat",
		Short: "Terminal client for the ISP support chat",
		Long: `supportchat talks to the ISP support chat API from the terminal.
Conversations are saved locally and can be resumed, exported and imported.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return c.init()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runChat(cmd, "")
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.logLevel, "log-level", "", "Set log level (debug|info|warn|error) [default: info]")
	flags.StringVar(&c.logFile, "log-file", "", "Write logs to file instead of stderr")
	flags.StringVar(&c.configFile, "config", "", "Config file (default: $XDG_CONFIG_HOME/supportchat/config.yaml)")
	flags.StringVar(&c.apiURL, "api-url", "", "Chat API base URL, overrides the stored endpoint")
	flags.String("storage-driver", "", "Storage backend (file|sqlite|memory)")
	flags.String("storage-path", "", "Storage file location")
	flags.StringVar(&c.theme, "theme", "", "Color theme (dark|light|auto|plain)")

	for key, flag := range map[string]string{
		"storage.driver": "storage-driver",
		"storage.path":   "storage-path",
	} {
		if err := c.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			fmt.Fprintf(os.Stderr, "Error binding %s flag: %v\n", flag, err)
			os.Exit(1)
		}
	}

	root.AddCommand(
		c.newChatCmd(),
		c.newSendCmd(),
		c.newHealthCmd(),
		c.newSessionsCmd(),
		c.newSettingsCmd(),
		newVersionCmd(),
	)
	return root
}

// init configures logging and loads configuration. Runs before every command.
func (c *cli) init() error {
	if err := logger.Configure(c.logLevel, c.logFile, false); err != nil {
		return fmt.Errorf("error configuring logger: %w", err)
	}

	config.LoadDotEnv(config.DotEnvPaths()...)

	cfg, err := config.Load(c.v, c.configFile)
	if err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

// open wires storage, the session store, the API client and the controller.
func (c *cli) open() (*app, error) {
	cfg := c.cfg
	backend, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	settings := storage.NewSettings(backend)

	var sessionBackend storage.Backend
	if cfg.Chat.SaveToStorage {
		sessionBackend = backend
	}
	store := session.NewStore(sessionBackend)

	baseURL := c.apiURL
	if baseURL == "" {
		baseURL = settings.APIEndpoint(cfg.API.BaseURL)
	}
	client := chatapi.NewClient(cfg.ChatAPI(baseURL))

	theme := c.resolveTheme(settings)

	logger.Debug("Opened supportchat",
		"storage_driver", cfg.Storage.Driver,
		"storage_path", cfg.Storage.Path,
		"api", baseURL,
		"sessions", len(store.ListSessions()))

	opts := []chat.Option{
		chat.WithMaxMessageLength(cfg.Chat.MaxMessageLength),
		chat.WithContactSource(settings),
	}
	if cfg.Chat.Greeting {
		opts = append(opts, chat.WithGreeting(chat.DefaultGreeting))
	}

	return &app{
		cfg:        cfg,
		backend:    backend,
		settings:   settings,
		store:      store,
		client:     client,
		controller: chat.NewController(store, client, opts...),
		renderer:   render.New(theme),
	}, nil
}

// resolveTheme picks the theme: flag, then environment or config file, then
// the stored setting, then the default.
func (c *cli) resolveTheme(settings *storage.Settings) string {
	if c.theme != "" {
		return c.theme
	}
	if _, ok := os.LookupEnv(config.EnvPrefix + "_UI_THEME"); ok || c.v.InConfig("ui.theme") {
		return c.cfg.UI.Theme
	}
	return settings.Theme(c.cfg.UI.Theme)
}
