// Package config loads CLI configuration from flags, FBRT_* environment variables
// and an optional TOML or YAML file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/and161185/fbrt/internal/model"
)

const (
	envPrefix  = "FBRT"
	configName = "config"
	configDir  = "fbrt"
)

// Output formats accepted by Format.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatText = "text"
)

// Config is the resolved configuration of one CLI invocation.
type Config struct {
	Account    string `mapstructure:"account"`
	AppState   string `mapstructure:"appstate"`
	DSN        string `mapstructure:"dsn"`
	Passphrase string `mapstructure:"passphrase"`

	LogLevel    string `mapstructure:"log-level"`
	Format      string `mapstructure:"format"`
	HealthAddr  string `mapstructure:"health-addr"`
	MetricsAddr string `mapstructure:"metrics-addr"`

	AutoReconnect    bool          `mapstructure:"auto-reconnect"`
	AutoMarkRead     bool          `mapstructure:"auto-mark-read"`
	UpdatePresence   bool          `mapstructure:"update-presence"`
	Online           bool          `mapstructure:"online"`
	SelfListen       bool          `mapstructure:"self-listen"`
	ListenEvents     bool          `mapstructure:"listen-events"`
	Proxy            string        `mapstructure:"proxy"`
	BypassRegion     string        `mapstructure:"bypass-region"`
	UserAgent        string        `mapstructure:"user-agent"`
	HandshakeTimeout time.Duration `mapstructure:"handshake-timeout"`
}

// BindFlags registers every setting on fs with its default.
func BindFlags(fs *pflag.FlagSet) {
	d := model.DefaultOptions()
	fs.String("config", "", "config file (default $XDG_CONFIG_HOME/fbrt/config.{toml,yaml})")
	fs.String("account", "default", "stored account name")
	fs.String("appstate", "", "app-state file to use instead of the account store")
	fs.String("dsn", "", "PostgreSQL DSN of the account store")
	fs.String("passphrase", "", "passphrase of the stored account (prefer FBRT_PASSPHRASE)")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("format", FormatText, "event output: json, yaml or text")
	fs.String("health-addr", "", "gRPC health listen address, empty to disable")
	fs.String("metrics-addr", "", "Prometheus /metrics listen address, empty to disable")
	fs.Bool("auto-reconnect", d.AutoReconnect, "reconnect after fatal transport errors")
	fs.Bool("auto-mark-read", d.AutoMarkRead, "mark threads read when messages arrive")
	fs.Bool("update-presence", d.UpdatePresence, "publish presence heartbeats")
	fs.Bool("online", d.Online, "appear online")
	fs.Bool("self-listen", d.SelfListen, "emit messages sent by this account")
	fs.Bool("listen-events", d.ListenEvents, "emit thread administrative events")
	fs.String("proxy", "", "HTTP(S) proxy URL")
	fs.String("bypass-region", "", "force the real-time endpoint region")
	fs.String("user-agent", model.DefaultUserAgent, "browser user agent")
	fs.Duration("handshake-timeout", model.DefaultHandshakeTimeout, "bound on one connect attempt")
}

// Load resolves the configuration. Flags in fs win over the environment, which wins over the file.
func Load(v *viper.Viper, fs *pflag.FlagSet) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(configName)
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, configDir))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Format {
	case FormatJSON, FormatYAML, FormatText:
	default:
		return fmt.Errorf("config: unknown format %q", c.Format)
	}
	if c.HandshakeTimeout < 0 {
		return errors.New("config: negative handshake-timeout")
	}
	return nil
}

// RequireSource reports an error unless app-state can be loaded from a file or the store.
func (c *Config) RequireSource() error {
	if c.AppState == "" && c.DSN == "" {
		return errors.New("config: one of appstate or dsn is required")
	}
	return nil
}

// RequireStore reports an error unless the account store is configured.
func (c *Config) RequireStore() error {
	if c.DSN == "" {
		return errors.New("config: dsn is required")
	}
	return nil
}

// Options returns the listener options.
func (c *Config) Options() model.Options {
	return model.Options{
		AutoReconnect:    c.AutoReconnect,
		AutoMarkRead:     c.AutoMarkRead,
		UpdatePresence:   c.UpdatePresence,
		Online:           c.Online,
		SelfListen:       c.SelfListen,
		ListenEvents:     c.ListenEvents,
		Proxy:            c.Proxy,
		BypassRegion:     c.BypassRegion,
		UserAgent:        c.UserAgent,
		HandshakeTimeout: c.HandshakeTimeout,
	}
}
