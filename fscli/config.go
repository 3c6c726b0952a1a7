// =============================================================================
// config.go - fscli Configuration File
// =============================================================================
//
// Connection settings can live in a YAML file so the password does not have
// to be typed on the command line:
//
//	host: 10.0.0.5
//	port: 8021
//	password: secret
//	command_timeout: 10s
//	events: [CHANNEL_CREATE, CHANNEL_HANGUP]
//	relay: 127.0.0.1:8088
//	log_level: info
//
// Flags given on the command line override values from the file.
//
// =============================================================================

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hnimminh/redfs/eslprotocol"
)

const configFileName = ".fscli.yaml"

// Settings is the merged configuration of one fscli run.
type Settings struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`

	Events []string `yaml:"events"`
	Relay  string   `yaml:"relay"`

	LogLevel string `yaml:"log_level"`
	NoColor  bool   `yaml:"no_color"`
}

func defaultSettings() *Settings {
	return &Settings{
		Host:           "127.0.0.1",
		Port:           eslprotocol.DefaultPort,
		Password:       eslprotocol.DefaultPassword,
		ConnectTimeout: eslprotocol.ConnectTimeout,
		LogLevel:       "warn",
	}
}

// loadConfig reads the YAML file at path on top of the defaults.
func loadConfig(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultSettings()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("parse %s: invalid port %d", path, cfg.Port)
	}

	return cfg, nil
}

// loadSettings loads the config file named by --config, or the default one
// when it exists, and applies the command-line overrides.
func loadSettings(args arguments) (*Settings, error) {
	path := args.configPath
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}

	settings := defaultSettings()
	if path != "" {
		loaded, err := loadConfig(path)
		switch {
		case err == nil:
			settings = loaded
		case errors.Is(err, fs.ErrNotExist) && !explicit:
			// No default file is fine.
		default:
			return nil, err
		}
	}

	settings.apply(args)
	return settings, nil
}

// apply overrides settings with every flag that was given.
func (s *Settings) apply(args arguments) {
	if args.host != "" {
		s.Host = args.host
	}
	if args.port != 0 {
		s.Port = args.port
	}
	if args.password != "" {
		s.Password = args.password
	}
	if args.timeout != 0 {
		s.CommandTimeout = args.timeout
	}
	if len(args.events) > 0 {
		s.Events = args.events
	}
	if args.relayAddr != "" {
		s.Relay = args.relayAddr
	}
	if args.logLevel != "" {
		s.LogLevel = args.logLevel
	}
	if args.noColor {
		s.NoColor = true
	}
}

// clientConfig converts the settings into a client configuration.
func (s *Settings) clientConfig() eslprotocol.Config {
	cfg := eslprotocol.DefaultConfig()
	cfg.Host = s.Host
	cfg.Port = s.Port
	cfg.Password = s.Password
	if s.ConnectTimeout > 0 {
		cfg.ConnectTimeout = s.ConnectTimeout
	}
	cfg.CommandTimeout = s.CommandTimeout
	return cfg
}

func defaultConfigPath() string {
	home := homeDir()
	if home == "" {
		return ""
	}
	return filepath.Join(home, configFileName)
}

// homeDir returns the current user's home directory.
func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return os.Getenv("HOME")
}
