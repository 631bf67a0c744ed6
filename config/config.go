// Package config persists operator settings (line parameters and saved
// stations) as a JSON file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings is everything the tooling remembers between runs.
type Settings struct {
	Port         string        `mapstructure:"port"`
	BaudRate     int           `mapstructure:"baud"`
	Parity       string        `mapstructure:"parity"`
	Stations     []int         `mapstructure:"stations"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	LogLevel     string        `mapstructure:"log_level"`
}

// Default returns the settings used when no file exists yet.
func Default() *Settings {
	return &Settings{
		BaudRate:     9600,
		Parity:       "N",
		PollInterval: time.Second,
		LogLevel:     "info",
	}
}

// Load reads settings from path, or from ./settings.json and
// $HOME/.servoctl/settings.json when path is empty. A missing file is
// not an error; defaults are returned.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigType("json")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("settings")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.servoctl")
	}

	defaults := Default()
	v.SetDefault("baud", defaults.BaudRate)
	v.SetDefault("parity", defaults.Parity)
	v.SetDefault("poll_interval", defaults.PollInterval.String())
	v.SetDefault("log_level", defaults.LogLevel)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return defaults, nil
		}
		return nil, fmt.Errorf("config: read settings: %w", err)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("config: unmarshal settings: %w", err)
	}
	fixup(&s)
	return &s, nil
}

// Save writes the settings to path as JSON, creating parent
// directories as needed.
func (s *Settings) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	v := viper.New()
	v.SetConfigType("json")
	v.Set("port", s.Port)
	v.Set("baud", s.BaudRate)
	v.Set("parity", s.Parity)
	v.Set("stations", s.Stations)
	v.Set("poll_interval", s.PollInterval.String())
	v.Set("log_level", s.LogLevel)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func fixup(s *Settings) {
	s.Parity = strings.ToUpper(s.Parity)
	switch s.Parity {
	case "N", "E", "O":
	default:
		s.Parity = "N"
	}
	if s.BaudRate <= 0 {
		s.BaudRate = 9600
	}
	if s.PollInterval <= 0 {
		s.PollInterval = time.Second
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
}
