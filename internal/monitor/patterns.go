package monitor

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/coder-rhys/panewatch/internal/logging"
)

var patternLog = logging.ForComponent(logging.CompMonitor)

// RawPatterns holds string-form detection patterns before compilation.
// Busy patterns prefixed with "re:" are compiled as regex; everything else
// uses case-insensitive strings.Contains.
type RawPatterns struct {
	PermissionCues []string // substrings that mark a permission prompt
	SpinnerChars   []string // glyphs that mark ongoing activity
	BusyPatterns   []string // plain strings + "re:" prefixed regex
}

// Patterns is the compiled, immutable rule set used by the Classifier.
// Built once at startup (or per-test) so detection behavior can be swapped
// without touching control flow.
type Patterns struct {
	// Permission rule A: a numbered option menu line ("  1. Yes", "2) No").
	MenuOption *regexp.Regexp
	// Permission rule B: literal cues, matched case-insensitively per line.
	PermissionCues []string

	// Processing rules, most to least specific.
	TokenCounter   *regexp.Regexp // "· ↓ 1,234 tokens", "· ↓ 4k tokens"
	RunningMarkers []string       // "Running…", "Running..."
	ElapsedCounter *regexp.Regexp // "(1m23s ·", "(45s ·"
	SpinnerChars   []string
	GerundRecent   *regexp.Regexp // "Compiling…", "thinking..." in recent lines
	GerundMarkers  []string       // "ing…", "ing..." anywhere

	BusyStrings []string
	BusyRegexps []*regexp.Regexp

	// GerundWindow is how many trailing lines the GerundRecent rule inspects.
	GerundWindow int
}

// DefaultRawPatterns returns the built-in detection patterns for the
// supervised coding assistant UI.
func DefaultRawPatterns() *RawPatterns {
	return &RawPatterns{
		PermissionCues: []string{
			"Do you want to",
			"Allow ",
			"approve",
			"(y/n)",
			"(Y/n)",
		},
		SpinnerChars: defaultSpinnerChars(),
	}
}

// defaultSpinnerChars returns the braille progress glyphs plus the asterisk
// status glyph used by the assistant's spinner.
func defaultSpinnerChars() []string {
	return []string{
		"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏",
		"✻",
	}
}

// Fixed structural patterns. These describe the shape of the assistant's
// status line rather than its wording, so they are not user-configurable.
var (
	// "  1. Yes" / "2) Run the command" - numbered option menu entries
	menuOptionPattern = regexp.MustCompile(`^\s*\d+[.)]\s+\S`)

	// "· ↓ 1,234 tokens" / "· ↓ 4k tokens" - token usage status marker
	tokenCounterPattern = regexp.MustCompile(`·\s*↓\s*\d[\d,]*k?\s*tokens`)

	// "(45s ·" / "(1m23s ·" - elapsed-time counter in the status line
	elapsedCounterPattern = regexp.MustCompile(`\((?:\d+m)?\d+s\s*·`)

	// "Compiling…" / "thinking..." - a gerund trailed by an ellipsis
	gerundPattern = regexp.MustCompile(`[A-Za-z]+ing(?:…|\.{1,3})`)
)

// CompilePatterns compiles raw patterns into a ready-to-use Patterns value.
// Busy patterns prefixed with "re:" are compiled as regex; invalid regex
// patterns are logged as warnings and skipped (never crash).
func CompilePatterns(raw *RawPatterns) (*Patterns, error) {
	if raw == nil {
		return nil, fmt.Errorf("nil RawPatterns")
	}

	p := &Patterns{
		MenuOption:     menuOptionPattern,
		PermissionCues: copySlice(raw.PermissionCues),
		TokenCounter:   tokenCounterPattern,
		RunningMarkers: []string{"Running…", "Running..."},
		ElapsedCounter: elapsedCounterPattern,
		SpinnerChars:   copySlice(raw.SpinnerChars),
		GerundRecent:   gerundPattern,
		GerundMarkers:  []string{"ing…", "ing..."},
		GerundWindow:   10,
	}

	for _, pat := range raw.BusyPatterns {
		if strings.HasPrefix(pat, "re:") {
			re, err := regexp.Compile(pat[3:])
			if err != nil {
				patternLog.Warn("invalid_busy_regex",
					slog.String("pattern", pat),
					slog.String("error", err.Error()))
				continue
			}
			p.BusyRegexps = append(p.BusyRegexps, re)
		} else {
			p.BusyStrings = append(p.BusyStrings, pat)
		}
	}

	return p, nil
}

// MergeRawPatterns merges defaults with overrides and extras.
//   - If overrides has a field set (non-nil slice, even if empty), it replaces
//     the default.
//   - extras fields are appended to the result (after defaults or overrides).
//   - If defaults is nil, only overrides/extras are used.
func MergeRawPatterns(defaults, overrides, extras *RawPatterns) *RawPatterns {
	result := &RawPatterns{}

	if defaults != nil {
		result.PermissionCues = copySlice(defaults.PermissionCues)
		result.SpinnerChars = copySlice(defaults.SpinnerChars)
		result.BusyPatterns = copySlice(defaults.BusyPatterns)
	}

	if overrides != nil {
		if overrides.PermissionCues != nil {
			result.PermissionCues = copySlice(overrides.PermissionCues)
		}
		if overrides.SpinnerChars != nil {
			result.SpinnerChars = copySlice(overrides.SpinnerChars)
		}
		if overrides.BusyPatterns != nil {
			result.BusyPatterns = copySlice(overrides.BusyPatterns)
		}
	}

	if extras != nil {
		result.PermissionCues = append(result.PermissionCues, extras.PermissionCues...)
		result.SpinnerChars = append(result.SpinnerChars, extras.SpinnerChars...)
		result.BusyPatterns = append(result.BusyPatterns, extras.BusyPatterns...)
	}

	return result
}

func copySlice(s []string) []string {
	if s == nil {
		return nil
	}
	c := make([]string, len(s))
	copy(c, s)
	return c
}
