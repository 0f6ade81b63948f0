package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the application configuration. It is built once at startup and
// handed to every component that needs a piece of it.
type Config struct {
	LLM     LLMConfig     `mapstructure:"llm"`
	Chat    ChatConfig    `mapstructure:"chat"`
	Storage StorageConfig `mapstructure:"storage"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Limits  LimitsConfig  `mapstructure:"limits"`
}

// LLMConfig holds the generative-text API credentials.
type LLMConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// ChatConfig tunes the chat command: history window, context size and the
// bounded remote call.
type ChatConfig struct {
	TimeframeHours float64 `mapstructure:"timeframe_hours"`
	ContextLength  int     `mapstructure:"context_length"`
	TimeoutS       int     `mapstructure:"timeout_s"`
	Model          string  `mapstructure:"model"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	SystemPrompt   string  `mapstructure:"system_prompt"`
	Workers        int     `mapstructure:"workers"`
}

// Timeout returns TimeoutS as a duration.
func (c ChatConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutS) * time.Second
}

// StorageConfig selects the message store backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// ServerConfig holds the command surface configuration.
type ServerConfig struct {
	Mode string `mapstructure:"mode"`
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
	Path  string `mapstructure:"path"`
}

// LimitsConfig holds the per-author command rate limit.
type LimitsConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

const (
	DriverSQLite = "sqlite"
	DriverPebble = "pebble"

	ModeHTTP = "http"
	ModeMCP  = "mcp"
)

var defaults = map[string]any{
	"llm.base_url":         "",
	"llm.api_key":          "",
	"chat.timeframe_hours": 2.0,
	"chat.context_length":  20,
	"chat.timeout_s":       90,
	"chat.model":           "gpt-3.5-turbo",
	"chat.max_tokens":      800,
	"chat.system_prompt":   "",
	"chat.workers":         1,
	"storage.driver":       DriverSQLite,
	"storage.path":         "./data/chat.db",
	"server.mode":          ModeHTTP,
	"server.host":          "0.0.0.0",
	"server.port":          "8080",
	"log.level":            "info",
	"log.path":             "",
	"limits.rps":           1.0,
	"limits.burst":         5,
}

// Flags registers the command line flags understood by Load.
func Flags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "path to config.yaml")
	fs.String("mode", "", "command surface: http or mcp")
	fs.String("log-level", "", "log level: debug, info, warn, error")
}

// Load builds the configuration from defaults, config.yaml, .env, the
// environment and finally the given flags (may be nil).
func Load(fs *pflag.FlagSet) (*Config, error) {
	// a missing .env is the normal case outside local development
	_ = godotenv.Load()

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix("NOTAROBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("llm.api_key", "NOTAROBOT_LLM_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("llm.base_url", "NOTAROBOT_LLM_BASE_URL", "OPENAI_BASE_URL"); err != nil {
		return nil, err
	}

	path := os.Getenv("CONFIG_PATH")
	if fs != nil {
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			path = f.Value.String()
		}
		if err := bindFlag(v, fs, "server.mode", "mode"); err != nil {
			return nil, err
		}
		if err := bindFlag(v, fs, "log.level", "log-level"); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func bindFlag(v *viper.Viper, fs *pflag.FlagSet, key, name string) error {
	f := fs.Lookup(name)
	if f == nil || !f.Changed {
		return nil
	}
	return v.BindPFlag(key, f)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Chat.TimeframeHours < 0 {
		return fmt.Errorf("chat.timeframe_hours must be >= 0")
	}
	if c.Chat.ContextLength < 0 {
		return fmt.Errorf("chat.context_length must be >= 0")
	}
	if c.Chat.TimeoutS <= 0 {
		return fmt.Errorf("chat.timeout_s must be > 0")
	}
	if c.Chat.Model == "" {
		return fmt.Errorf("chat.model cannot be empty")
	}
	if c.Chat.MaxTokens <= 0 {
		return fmt.Errorf("chat.max_tokens must be > 0")
	}
	if c.Chat.Workers <= 0 {
		return fmt.Errorf("chat.workers must be > 0")
	}
	switch c.Storage.Driver {
	case DriverSQLite, DriverPebble:
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path cannot be empty")
	}
	switch c.Server.Mode {
	case ModeHTTP, ModeMCP:
	default:
		return fmt.Errorf("server.mode %q is not supported", c.Server.Mode)
	}
	return nil
}
