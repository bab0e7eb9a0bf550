// Package config loads server settings from flags, CHAT_* environment
// variables and an optional chat.{toml,yaml,json} file, in that order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/andy6609/broadcast-chat-server/internal/chat"
)

const envPrefix = "CHAT"

type Config struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	Backlog          int           `mapstructure:"backlog"`
	MaxMessageSize   int           `mapstructure:"max_message_size"`
	Framing          string        `mapstructure:"framing"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	WSAddr           string        `mapstructure:"ws_addr"`
	MetricsAddr      string        `mapstructure:"metrics_addr"`
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 55555)
	v.SetDefault("backlog", 100)
	v.SetDefault("max_message_size", chat.DefaultMaxMessageSize)
	v.SetDefault("framing", chat.FramingRaw)
	v.SetDefault("retry_attempts", chat.DefaultRetryAttempts)
	v.SetDefault("retry_delay", chat.DefaultRetryDelay)
	v.SetDefault("handshake_timeout", 30*time.Second)
	v.SetDefault("write_timeout", 5*time.Second)
	v.SetDefault("ws_addr", "")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

// Flags returns the command-line flags understood by Load.
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "path to a config file (default: ./chat.{toml,yaml,json} if present)")
	fs.String("host", "127.0.0.1", "chat listen host")
	fs.Int("port", 55555, "chat listen port")
	fs.Int("backlog", 100, "requested accept backlog")
	fs.Int("max-message-size", chat.DefaultMaxMessageSize, "largest accepted message in bytes")
	fs.String("framing", chat.FramingRaw, "message framing: raw or line")
	fs.Int("retry-attempts", chat.DefaultRetryAttempts, "send/receive attempts before a client is dropped")
	fs.Duration("retry-delay", chat.DefaultRetryDelay, "pause between failed attempts")
	fs.Duration("handshake-timeout", 30*time.Second, "time allowed to answer the nickname request (0 disables)")
	fs.Duration("write-timeout", 5*time.Second, "per-send write deadline (0 disables)")
	fs.String("ws-addr", "", "websocket listen address (empty disables)")
	fs.String("metrics-addr", ":9090", "metrics listen address (empty disables)")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("log-format", "json", "log format: json or text")
	return fs
}

// Load parses args and resolves the configuration.
func Load(name string, args []string) (*Config, error) {
	fs := Flags(name)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil {
			bindErr = errors.Join(bindErr, err)
		}
	})
	if bindErr != nil {
		return nil, bindErr
	}

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("chat")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("max_message_size must be positive, got %d", c.MaxMessageSize)
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("retry_attempts must be positive, got %d", c.RetryAttempts)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry_delay must not be negative")
	}
	switch c.Framing {
	case chat.FramingRaw, chat.FramingLine:
	default:
		return fmt.Errorf("unknown framing %q", c.Framing)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// Addr is the TCP listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ChatOptions maps the configuration onto the server options.
func (c *Config) ChatOptions() chat.Options {
	return chat.Options{
		Addr:             c.Addr(),
		WSAddr:           c.WSAddr,
		Backlog:          c.Backlog,
		MaxMessageSize:   c.MaxMessageSize,
		Framing:          c.Framing,
		RetryAttempts:    c.RetryAttempts,
		Backoff:          chat.FixedBackoff{Delay: c.RetryDelay},
		HandshakeTimeout: c.HandshakeTimeout,
		WriteTimeout:     c.WriteTimeout,
	}
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
