package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const configFileName = "config.toml"

// Config holds the tuning knobs for a project. Every field has a default, so
// a missing config file is not an error.
type Config struct {
	Username  string `toml:"username"`
	ChannelID string `toml:"channel_id"`
	LogLevel  string `toml:"log_level"`

	Pagination PaginationConfig `toml:"pagination"`
	Viewport   ViewportConfig   `toml:"viewport"`
}

// PaginationConfig controls page size and the bounded fetch retry.
type PaginationConfig struct {
	PageSize    int      `toml:"page_size"`
	MaxAttempts int      `toml:"max_attempts"`
	BaseDelay   Duration `toml:"base_delay"`
	MaxDelay    Duration `toml:"max_delay"`
	// MaxGapPages bounds the older pages a resync fetches up front.
	MaxGapPages int `toml:"max_gap_pages"`
}

// ViewportConfig controls scroll anchoring and highlight expiry.
type ViewportConfig struct {
	BottomSlack     int      `toml:"bottom_slack"`
	MaxJumpPages    int      `toml:"max_jump_pages"`
	HighlightExpiry Duration `toml:"highlight_expiry"`
}

// Duration decodes TOML strings like "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Username:  "me",
		ChannelID: "main",
		LogLevel:  "info",
		Pagination: PaginationConfig{
			PageSize:    50,
			MaxAttempts: 3,
			BaseDelay:   Duration{250 * time.Millisecond},
			MaxDelay:    Duration{2 * time.Second},
			MaxGapPages: 10,
		},
		Viewport: ViewportConfig{
			BottomSlack:     3,
			MaxJumpPages:    10,
			HighlightExpiry: Duration{3 * time.Second},
		},
	}
}

// LoadConfig reads path over the defaults. A missing file yields defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// WriteConfig writes cfg as TOML.
func WriteConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}

func (c *Config) fillDefaults() {
	defaults := DefaultConfig()
	if c.Username == "" {
		c.Username = defaults.Username
	}
	if c.ChannelID == "" {
		c.ChannelID = defaults.ChannelID
	}
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}
	if c.Pagination.PageSize == 0 {
		c.Pagination.PageSize = defaults.Pagination.PageSize
	}
	if c.Pagination.MaxAttempts == 0 {
		c.Pagination.MaxAttempts = defaults.Pagination.MaxAttempts
	}
	if c.Pagination.BaseDelay.Duration == 0 {
		c.Pagination.BaseDelay = defaults.Pagination.BaseDelay
	}
	if c.Pagination.MaxDelay.Duration == 0 {
		c.Pagination.MaxDelay = defaults.Pagination.MaxDelay
	}
	if c.Pagination.MaxGapPages == 0 {
		c.Pagination.MaxGapPages = defaults.Pagination.MaxGapPages
	}
	if c.Viewport.MaxJumpPages == 0 {
		c.Viewport.MaxJumpPages = defaults.Viewport.MaxJumpPages
	}
	if c.Viewport.HighlightExpiry.Duration == 0 {
		c.Viewport.HighlightExpiry = defaults.Viewport.HighlightExpiry
	}
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Pagination.PageSize < 1:
		return fmt.Errorf("pagination.page_size must be positive")
	case c.Pagination.MaxAttempts < 1:
		return fmt.Errorf("pagination.max_attempts must be positive")
	case c.Pagination.MaxGapPages < 1:
		return fmt.Errorf("pagination.max_gap_pages must be positive")
	case c.Pagination.MaxDelay.Duration < c.Pagination.BaseDelay.Duration:
		return fmt.Errorf("pagination.max_delay must not be below base_delay")
	case c.Viewport.BottomSlack < 0:
		return fmt.Errorf("viewport.bottom_slack must not be negative")
	case c.Viewport.MaxJumpPages < 1:
		return fmt.Errorf("viewport.max_jump_pages must be positive")
	case c.Viewport.HighlightExpiry.Duration <= 0:
		return fmt.Errorf("viewport.highlight_expiry must be positive")
	}
	return nil
}
