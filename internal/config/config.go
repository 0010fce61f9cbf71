package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/coder-rhys/panewatch/internal/monitor"
)

// FileName is the TOML config file for user preferences, under Dir().
const FileName = "config.toml"

// Config represents user-facing configuration in TOML format.
// Unset fields fall back to the defaults in Default().
type Config struct {
	// Monitor tunes the poll/auto-approve loop.
	Monitor MonitorSettings `toml:"monitor"`

	// Patterns overrides or extends the built-in detection patterns.
	Patterns PatternSettings `toml:"patterns"`

	// Logs configures the debug log file.
	Logs LogSettings `toml:"logs"`

	// History configures the local run-history database.
	History HistorySettings `toml:"history"`
}

// MonitorSettings are defaults for the monitor command; flags override them.
type MonitorSettings struct {
	TimeoutSeconds float64 `toml:"timeout_seconds"` // default 300
	IntervalMS     int     `toml:"interval_ms"`     // default 500
	Lines          int     `toml:"lines"`           // trailing lines analyzed, default 20
	HistoryLines   int     `toml:"history_lines"`   // scrollback in final report, default 200

	// ApproveKeys is sent when a permission prompt is detected. The default
	// "1" picks the first numbered menu option, which is a heuristic, not a
	// verified-safe policy - override it if your assistant orders menus
	// differently.
	ApproveKeys  string `toml:"approve_keys"`
	ApproveEnter bool   `toml:"approve_enter"` // press Enter after ApproveKeys
}

// PatternSettings maps onto monitor.RawPatterns merge semantics: a set field
// replaces the built-in default list, an extra_ field appends to it.
// Busy patterns prefixed with "re:" are treated as regex.
type PatternSettings struct {
	PermissionCues []string `toml:"permission_cues"`
	SpinnerChars   []string `toml:"spinner_chars"`
	BusyPatterns   []string `toml:"busy_patterns"`

	ExtraPermissionCues []string `toml:"extra_permission_cues"`
	ExtraSpinnerChars   []string `toml:"extra_spinner_chars"`
	ExtraBusyPatterns   []string `toml:"extra_busy_patterns"`
}

// LogSettings configures the rotating debug log.
type LogSettings struct {
	Level      string `toml:"level"`  // debug, info, warn, error
	Format     string `toml:"format"` // json (default) or text
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// HistorySettings configures run-history persistence.
type HistorySettings struct {
	Disabled bool   `toml:"disabled"`
	Path     string `toml:"path"` // defaults to Dir()/history.db
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Monitor: MonitorSettings{
			TimeoutSeconds: 300,
			IntervalMS:     500,
			Lines:          20,
			HistoryLines:   200,
			ApproveKeys:    "1",
		},
		Logs: LogSettings{
			Level: "info",
			// Format is left empty so the CLI can pick text for terminals
			// and json otherwise.
		},
	}
}

// Dir returns the panewatch home directory (~/.panewatch).
func Dir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "/tmp"
	}
	return filepath.Join(homeDir, ".panewatch")
}

// Load reads Dir()/config.toml over the defaults. A missing file is not an
// error; a malformed one is.
func Load() (*Config, error) {
	return LoadFrom(filepath.Join(Dir(), FileName))
}

// LoadFrom reads the given TOML file over the defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Timeout returns the monitor timeout as a duration.
func (m MonitorSettings) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds * float64(time.Second))
}

// Interval returns the poll interval as a duration.
func (m MonitorSettings) Interval() time.Duration {
	return time.Duration(m.IntervalMS) * time.Millisecond
}

// HistoryPath returns the run-history database path.
func (h HistorySettings) HistoryPath() string {
	if h.Path != "" {
		return h.Path
	}
	return filepath.Join(Dir(), "history.db")
}

// BuildPatterns merges the configured pattern overrides and extras with the
// built-in defaults and compiles them.
func (c *Config) BuildPatterns() (*monitor.Patterns, error) {
	overrides := &monitor.RawPatterns{
		PermissionCues: c.Patterns.PermissionCues,
		SpinnerChars:   c.Patterns.SpinnerChars,
		BusyPatterns:   c.Patterns.BusyPatterns,
	}
	extras := &monitor.RawPatterns{
		PermissionCues: c.Patterns.ExtraPermissionCues,
		SpinnerChars:   c.Patterns.ExtraSpinnerChars,
		BusyPatterns:   c.Patterns.ExtraBusyPatterns,
	}
	merged := monitor.MergeRawPatterns(monitor.DefaultRawPatterns(), overrides, extras)
	return monitor.CompilePatterns(merged)
}
