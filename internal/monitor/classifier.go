package monitor

import (
	"strings"
)

// PaneState is the classified activity state of a pane window.
type PaneState string

const (
	StatePermission PaneState = "permission" // blocked on an approval prompt
	StateProcessing PaneState = "processing" // actively working
	StateIdle       PaneState = "idle"       // no activity indicators
	StateUnknown    PaneState = "unknown"    // empty pane, nothing to classify
)

// Result pairs a classified state with the evidence that produced it.
type Result struct {
	State    PaneState
	Evidence string
}

// Classifier maps a trailing window of pane lines to a PaneState.
// It holds only the immutable compiled pattern set, so Classify is a pure
// function of its input: same window, same result, no side effects.
type Classifier struct {
	patterns *Patterns
}

// NewClassifier creates a classifier over the given compiled patterns.
// Passing nil uses the built-in defaults.
func NewClassifier(p *Patterns) *Classifier {
	if p == nil {
		p, _ = CompilePatterns(DefaultRawPatterns())
	}
	return &Classifier{patterns: p}
}

// Classify evaluates the priority-ordered rule list against the window.
// First match wins; later rules are not evaluated once one matches.
// Permission is checked first because explicit approval requests must
// pre-empt generic busy signals. Non-empty windows with no match default
// to Idle; only an empty window yields Unknown.
func (c *Classifier) Classify(window []string) Result {
	if len(window) == 0 {
		return Result{State: StateUnknown, Evidence: "empty pane"}
	}

	if r, ok := c.classifyPermission(window); ok {
		return r
	}
	if r, ok := c.classifyProcessing(window); ok {
		return r
	}
	return Result{State: StateIdle, Evidence: "no activity indicators"}
}

// classifyPermission detects approval prompts. A numbered option menu
// (two or more "1. ..." / "2) ..." lines) is the most structurally
// reliable signal and outranks the literal keyword cues.
func (c *Classifier) classifyPermission(window []string) (Result, bool) {
	var menuLines []string
	for _, line := range window {
		if c.patterns.MenuOption.MatchString(line) {
			menuLines = append(menuLines, strings.TrimSpace(line))
		}
	}
	if len(menuLines) >= 2 {
		return Result{
			State:    StatePermission,
			Evidence: strings.Join(menuLines, " | "),
		}, true
	}

	for _, line := range window {
		lower := strings.ToLower(line)
		for _, cue := range c.patterns.PermissionCues {
			if strings.Contains(lower, strings.ToLower(cue)) {
				return Result{
					State:    StatePermission,
					Evidence: strings.TrimSpace(line),
				}, true
			}
		}
	}

	return Result{}, false
}

// classifyProcessing detects activity signals, ordered from most to least
// specific to minimize false idle/permission classification while the
// assistant is merely narrating progress.
func (c *Classifier) classifyProcessing(window []string) (Result, bool) {
	joined := strings.Join(window, "\n")

	// a. token-usage status marker
	if m := c.patterns.TokenCounter.FindString(joined); m != "" {
		return Result{State: StateProcessing, Evidence: m}, true
	}

	// b. explicit "Running" marker
	for _, marker := range c.patterns.RunningMarkers {
		if strings.Contains(joined, marker) {
			return Result{State: StateProcessing, Evidence: marker}, true
		}
	}

	// c. elapsed-time counter
	if m := c.patterns.ElapsedCounter.FindString(joined); m != "" {
		return Result{State: StateProcessing, Evidence: m}, true
	}

	// d. spinner glyphs
	for _, line := range window {
		for _, glyph := range c.patterns.SpinnerChars {
			if strings.Contains(line, glyph) {
				return Result{State: StateProcessing, Evidence: glyph}, true
			}
		}
	}

	// e. gerund + ellipsis in the trailing lines
	recent := window
	if len(recent) > c.patterns.GerundWindow {
		recent = recent[len(recent)-c.patterns.GerundWindow:]
	}
	for _, line := range recent {
		if m := c.patterns.GerundRecent.FindString(line); m != "" {
			return Result{State: StateProcessing, Evidence: m}, true
		}
	}

	// f. bare "ing…" anywhere
	for _, marker := range c.patterns.GerundMarkers {
		if strings.Contains(joined, marker) {
			return Result{State: StateProcessing, Evidence: marker}, true
		}
	}

	// User-configured busy patterns participate last so they widen
	// detection without shadowing the structural rules' evidence.
	for _, re := range c.patterns.BusyRegexps {
		if m := re.FindString(joined); m != "" {
			return Result{State: StateProcessing, Evidence: m}, true
		}
	}
	lower := strings.ToLower(joined)
	for _, s := range c.patterns.BusyStrings {
		if strings.Contains(lower, strings.ToLower(s)) {
			return Result{State: StateProcessing, Evidence: s}, true
		}
	}

	return Result{}, false
}
