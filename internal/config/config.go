// Package config loads runner settings from TOML files with layered defaults.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultProvider        = "claude"
	defaultClaudeModel     = "sonnet"
	defaultSessionTimeout  = 30 * time.Minute
	defaultGracePeriod     = 5 * time.Second
	defaultPollInterval    = time.Second
	defaultLogMaxLines     = 200
	defaultResetOnActivity = false
)

// Config stores runtime settings loaded from TOML files.
type Config struct {
	DefaultProvider string
	ClaudeModel     string
	SessionTimeout  time.Duration
	GracePeriod     time.Duration
	PollInterval    time.Duration
	LogMaxLines     int
	ResetOnActivity bool
	Overrides       []Override
}

// Override is one ordered provider configuration override from config.
type Override struct {
	Key   string
	Value string
}

type fileConfig struct {
	DefaultProvider *string          `toml:"default_provider"`
	ClaudeModel     *string          `toml:"claude_model"`
	SessionTimeout  *string          `toml:"session_timeout"`
	GracePeriod     *string          `toml:"grace_period"`
	PollInterval    *string          `toml:"poll_interval"`
	LogMaxLines     *int             `toml:"log_max_lines"`
	ResetOnActivity *bool            `toml:"reset_on_activity"`
	Overrides       []overrideConfig `toml:"overrides"`
}

type overrideConfig struct {
	Key   string `toml:"key"`
	Value string `toml:"value"`
}

// Load reads config from ~/.swrun/config.toml and overlays a project-local
// .swrun/config.toml from the working directory.
func Load(ctx context.Context) (*Config, error) {
	cfg := defaults()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	paths := []string{
		filepath.Join(homeDir, ".swrun", "config.toml"),
		filepath.Join(workingDir, ".swrun", "config.toml"),
	}
	for _, path := range paths {
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	_ = ctx
	return &cfg, nil
}

func defaults() Config {
	return Config{
		DefaultProvider: defaultProvider,
		ClaudeModel:     defaultClaudeModel,
		SessionTimeout:  defaultSessionTimeout,
		GracePeriod:     defaultGracePeriod,
		PollInterval:    defaultPollInterval,
		LogMaxLines:     defaultLogMaxLines,
		ResetOnActivity: defaultResetOnActivity,
		Overrides:       []Override{},
	}
}

func overlayFromFile(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}

	if decoded.DefaultProvider != nil {
		cfg.DefaultProvider = strings.ToLower(strings.TrimSpace(*decoded.DefaultProvider))
	}
	if decoded.ClaudeModel != nil {
		cfg.ClaudeModel = strings.TrimSpace(*decoded.ClaudeModel)
	}
	if err := applyDurationOverrides(cfg, decoded, path); err != nil {
		return err
	}
	if decoded.LogMaxLines != nil {
		if *decoded.LogMaxLines <= 0 {
			return fmt.Errorf("parse log_max_lines in %q: must be > 0", path)
		}
		cfg.LogMaxLines = *decoded.LogMaxLines
	}
	if decoded.ResetOnActivity != nil {
		cfg.ResetOnActivity = *decoded.ResetOnActivity
	}
	if decoded.Overrides != nil {
		// A later file replaces the override list wholesale; entries keep
		// their input order and duplicates are preserved.
		overrides := make([]Override, 0, len(decoded.Overrides))
		for i, entry := range decoded.Overrides {
			key := strings.TrimSpace(entry.Key)
			if key == "" {
				return fmt.Errorf("parse overrides[%d] in %q: key must not be empty", i, path)
			}
			overrides = append(overrides, Override{Key: key, Value: entry.Value})
		}
		cfg.Overrides = overrides
	}
	return nil
}

func applyDurationOverrides(cfg *Config, decoded fileConfig, path string) error {
	if decoded.SessionTimeout != nil {
		value, err := parseDuration(*decoded.SessionTimeout, "session_timeout", path)
		if err != nil {
			return err
		}
		cfg.SessionTimeout = value
	}
	if decoded.GracePeriod != nil {
		value, err := parseDuration(*decoded.GracePeriod, "grace_period", path)
		if err != nil {
			return err
		}
		cfg.GracePeriod = value
	}
	if decoded.PollInterval != nil {
		value, err := parseDuration(*decoded.PollInterval, "poll_interval", path)
		if err != nil {
			return err
		}
		cfg.PollInterval = value
	}
	return nil
}

func parseDuration(value, key, path string) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s in %q: %w", key, path, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("parse %s in %q: must be positive", key, path)
	}
	return parsed, nil
}
