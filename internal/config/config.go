// Package config loads supportchat settings from defaults, .env files, an
// optional YAML config file and SUPPORTCHAT_* environment variables.
//
// Priority (highest to lowest): flags bound by the caller > environment >
// local .env > config-dir .env > config file > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"supportchat/internal/chatapi"
	"supportchat/internal/logger"
	"supportchat/internal/storage"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SUPPORTCHAT_API_BASE_URL.
const EnvPrefix = "SUPPORTCHAT"

// AppName names the per-user config and data directories.
const AppName = "supportchat"

// Config is the full configuration surface.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Chat    ChatConfig    `mapstructure:"chat"`
	Storage StorageConfig `mapstructure:"storage"`
	UI      UIConfig      `mapstructure:"ui"`
}

// APIConfig configures the chat API client.
type APIConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	ChatPath      string        `mapstructure:"chat_path"`
	HealthPath    string        `mapstructure:"health_path"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// ChatConfig configures conversation limits.
type ChatConfig struct {
	MaxHistoryLength int  `mapstructure:"max_history_length"`
	MaxMessageLength int  `mapstructure:"max_message_length"`
	SaveToStorage    bool `mapstructure:"save_to_storage"`
	Greeting         bool `mapstructure:"greeting"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// UIConfig holds presentation settings.
type UIConfig struct {
	Theme string `mapstructure:"theme"`
}

// Themes accepted by ui.theme.
var Themes = []string{"dark", "light", "auto", "plain"}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.chat_path", chatapi.DefaultChatPath)
	v.SetDefault("api.health_path", chatapi.DefaultHealthPath)
	v.SetDefault("api.timeout", chatapi.DefaultTimeout)
	v.SetDefault("api.retry_attempts", chatapi.DefaultMaxAttempts)
	v.SetDefault("api.retry_delay", chatapi.DefaultBaseDelay)

	v.SetDefault("chat.max_history_length", chatapi.DefaultMaxHistory)
	v.SetDefault("chat.max_message_length", 2000)
	v.SetDefault("chat.save_to_storage", true)
	v.SetDefault("chat.greeting", true)

	v.SetDefault("storage.driver", storage.DriverFile)
	v.SetDefault("storage.path", "")

	v.SetDefault("ui.theme", "dark")
}

// UserConfigDir returns ~/.config/supportchat (or the platform equivalent).
func UserConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AppName), nil
}

// DotEnvPaths lists the .env files considered, highest priority first.
func DotEnvPaths() []string {
	var paths []string
	if wd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(wd, ".env"))
	}
	if dir, err := UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, ".env"))
	}
	return paths
}

// LoadDotEnv loads the given .env files into the process environment without
// overriding variables that are already set. Earlier files win. Missing files
// are skipped. It returns the files that were loaded.
func LoadDotEnv(paths ...string) []string {
	var loaded []string
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			logger.Warn("Failed to load .env file", "path", path, "error", err)
			continue
		}
		logger.Debug("Loaded .env file", "path", path)
		loaded = append(loaded, path)
	}
	return loaded
}

// Load builds a Config from v. configFile may be empty, in which case
// config.yaml in the user config directory is used if present.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := UserConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		logger.Debug("Loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if cfg.Storage.Path == "" && cfg.Storage.Driver != storage.DriverMemory {
		path, err := storage.DefaultPath(cfg.Storage.Driver)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve storage path: %w", err)
		}
		cfg.Storage.Path = path
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return fmt.Errorf("api.base_url must not be empty")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive, got %s", c.API.Timeout)
	}
	if c.API.RetryAttempts < 1 {
		return fmt.Errorf("api.retry_attempts must be at least 1, got %d", c.API.RetryAttempts)
	}
	if c.API.RetryDelay < 0 {
		return fmt.Errorf("api.retry_delay must not be negative, got %s", c.API.RetryDelay)
	}
	if c.Chat.MaxHistoryLength < 1 {
		return fmt.Errorf("chat.max_history_length must be at least 1, got %d", c.Chat.MaxHistoryLength)
	}
	if c.Chat.MaxMessageLength < 1 {
		return fmt.Errorf("chat.max_message_length must be at least 1, got %d", c.Chat.MaxMessageLength)
	}

	switch strings.ToLower(c.Storage.Driver) {
	case storage.DriverFile, storage.DriverSQLite, storage.DriverMemory:
	default:
		return fmt.Errorf("storage.driver must be one of file, sqlite, memory, got %q", c.Storage.Driver)
	}

	if !ValidTheme(c.UI.Theme) {
		return fmt.Errorf("ui.theme must be one of %s, got %q", strings.Join(Themes, ", "), c.UI.Theme)
	}
	return nil
}

// ValidTheme reports whether theme is one of Themes.
func ValidTheme(theme string) bool {
	for _, t := range Themes {
		if t == theme {
			return true
		}
	}
	return false
}

// ChatAPI returns client settings for baseURL, which may differ from
// API.BaseURL when the user stored an endpoint override.
func (c *Config) ChatAPI(baseURL string) chatapi.Config {
	if baseURL == "" {
		baseURL = c.API.BaseURL
	}
	return chatapi.Config{
		BaseURL:     baseURL,
		ChatPath:    c.API.ChatPath,
		HealthPath:  c.API.HealthPath,
		Timeout:     c.API.Timeout,
		MaxAttempts: c.API.RetryAttempts,
		BaseDelay:   c.API.RetryDelay,
		MaxHistory:  c.Chat.MaxHistoryLength,
	}
}
