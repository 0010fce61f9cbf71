package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coder-rhys/panewatch/internal/logging"
)

var monLog = logging.ForComponent(logging.CompMonitor)

// Pane is the terminal multiplexer surface the monitor drives.
// Implemented by tmux.Client; faked in tests.
type Pane interface {
	// CapturePane returns the currently visible pane content.
	CapturePane(ctx context.Context, target string) (string, error)
	// CaptureHistory returns the visible content plus up to lines of scrollback.
	CaptureHistory(ctx context.Context, target string, lines int) (string, error)
	// SendKeys injects literal characters into the pane.
	SendKeys(ctx context.Context, target, keys string) error
	// SendKeysAndEnter injects literal characters followed by Enter.
	SendKeysAndEnter(ctx context.Context, target, keys string) error
}

// Clock abstracts time so tests can simulate ticks without real elapsed time.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// Phase enumerates the controller's state machine states.
type Phase int

const (
	PhaseRunning Phase = iota
	PhaseDoneIdle
	PhaseDoneTimeout
	PhaseDoneError
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseDoneIdle:
		return "done-idle"
	case PhaseDoneTimeout:
		return "done-timeout"
	case PhaseDoneError:
		return "done-error"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// validTransitions is the controller's transition table. Running is the only
// state with outgoing edges; every Done state is terminal.
var validTransitions = map[Phase][]Phase{
	PhaseRunning: {PhaseDoneIdle, PhaseDoneTimeout, PhaseDoneError},
}

// CanTransition reports whether the controller may move from one phase to
// another.
func CanTransition(from, to Phase) bool {
	for _, v := range validTransitions[from] {
		if v == to {
			return true
		}
	}
	return false
}

// Options configures a monitor invocation.
type Options struct {
	Target       string        // opaque tmux target, passed through verbatim
	Timeout      time.Duration // default 300s
	Interval     time.Duration // default 500ms
	Lines        int           // trailing window size, default 20
	HistoryLines int           // scrollback lines for the final report, default 200
	ApproveKeys  string        // keystrokes sent to answer a permission prompt, default "1"
	ApproveEnter bool          // press Enter after ApproveKeys

	Clock      Clock       // injected for tests; defaults to the wall clock
	Classifier *Classifier // defaults to the built-in pattern set

	// Progress, when set, receives each log entry as it is appended.
	Progress func(elapsed time.Duration, msg string)
}

// LogEntry is one timestamped line of the monitor log.
type LogEntry struct {
	Elapsed time.Duration
	Message string
}

// Outcome is the result of one monitor invocation.
type Outcome struct {
	Phase     Phase
	Report    string
	FinalPane string
	Entries   []LogEntry
	Approvals int
	Duration  time.Duration
}

// session owns the per-invocation state: timing and the append-only log.
// It is exclusively owned by one Run call; concurrent monitors of the same
// target are unsupported and may interleave approvals unpredictably.
type session struct {
	start       time.Time
	entries     []LogEntry
	lastElapsed time.Duration
	progress    func(time.Duration, string)
	clock       Clock
}

func (s *session) log(format string, args ...any) {
	elapsed := s.clock.Now().Sub(s.start)
	// Log entries must be strictly increasing in elapsed time.
	if elapsed <= s.lastElapsed {
		elapsed = s.lastElapsed + time.Microsecond
	}
	s.lastElapsed = elapsed
	msg := fmt.Sprintf(format, args...)
	s.entries = append(s.entries, LogEntry{Elapsed: elapsed, Message: msg})
	if s.progress != nil {
		s.progress(elapsed, msg)
	}
}

// Monitor supervises one pane until the assistant inside it is idle, a
// timeout elapses, or capture fails.
type Monitor struct {
	pane Pane
	opts Options
}

// New creates a Monitor, filling unset options with defaults.
func New(pane Pane, opts Options) *Monitor {
	if opts.Timeout <= 0 {
		opts.Timeout = 300 * time.Second
	}
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}
	if opts.Lines <= 0 {
		opts.Lines = 20
	}
	if opts.HistoryLines <= 0 {
		opts.HistoryLines = 200
	}
	if opts.ApproveKeys == "" {
		opts.ApproveKeys = "1"
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Classifier == nil {
		opts.Classifier = NewClassifier(nil)
	}
	return &Monitor{pane: pane, opts: opts}
}

// PlaceholderFinalPane replaces the report body when the final history
// capture fails after the loop has already reached a terminal state.
const PlaceholderFinalPane = "(pane content unavailable)"

// EmptyFinalPane replaces the report body when the final capture succeeds
// but the pane holds no visible text.
const EmptyFinalPane = "(empty pane)"

// ReportDelimiter separates the final pane text from the monitor log.
const ReportDelimiter = "--- Monitor Log ---"

// Run executes the poll loop: capture, normalize, extract, classify, act.
// It returns a non-nil Outcome in every case; the error is non-nil only when
// a mid-loop capture failed (Done-Error), and the Outcome still carries the
// log accumulated up to that point.
//
// Permission prompts are answered with ApproveKeys and the loop continues;
// the assistant is expected to keep working after an approval. Sleeps and
// pane calls are the only blocking points, strictly ordered within one run.
func (m *Monitor) Run(ctx context.Context) (*Outcome, error) {
	sess := &session{
		start:    m.opts.Clock.Now(),
		progress: m.opts.Progress,
		clock:    m.opts.Clock,
	}

	phase := PhaseRunning
	approvals := 0
	var runErr error

	transition := func(to Phase) {
		if !CanTransition(phase, to) {
			monLog.Error("invalid_phase_transition",
				slog.String("from", phase.String()),
				slog.String("to", to.String()))
			return
		}
		monLog.Debug("phase_transition",
			slog.String("target", m.opts.Target),
			slog.String("from", phase.String()),
			slog.String("to", to.String()))
		phase = to
	}

	for phase == PhaseRunning {
		elapsed := m.opts.Clock.Now().Sub(sess.start)
		if elapsed > m.opts.Timeout {
			sess.log("timeout after %.1fs", elapsed.Seconds())
			transition(PhaseDoneTimeout)
			break
		}

		content, err := m.pane.CapturePane(ctx, m.opts.Target)
		if err != nil {
			sess.log("capture failed: %v", err)
			transition(PhaseDoneError)
			runErr = fmt.Errorf("capture %s: %w", m.opts.Target, err)
			break
		}

		window := TailLines(StripEscapes(content), m.opts.Lines)
		if len(window) == 0 {
			sess.log("empty pane, waiting")
			m.opts.Clock.Sleep(m.opts.Interval)
			continue
		}

		res := m.opts.Classifier.Classify(window)
		switch res.State {
		case StateProcessing:
			sess.log("processing: %s", res.Evidence)
			m.opts.Clock.Sleep(m.opts.Interval)

		case StatePermission:
			sess.log("permission prompt: %s", res.Evidence)
			sess.log("sending approval keys %q", m.opts.ApproveKeys)
			if err := m.sendApproval(ctx); err != nil {
				// Non-fatal: the next tick re-classifies and retries naturally.
				sess.log("approval send failed: %v", err)
			} else {
				approvals++
			}
			m.opts.Clock.Sleep(m.opts.Interval)

		case StateIdle:
			sess.log("idle: %s", res.Evidence)
			transition(PhaseDoneIdle)

		default:
			// Unreachable with the default rule list (non-empty windows fall
			// through to Idle), kept as a forward-progress fallback.
			sess.log("unclassified window (%s), waiting", res.Evidence)
			m.opts.Clock.Sleep(m.opts.Interval)
		}
	}

	final := m.finalPane(ctx)
	outcome := &Outcome{
		Phase:     phase,
		FinalPane: final,
		Entries:   sess.entries,
		Approvals: approvals,
		Duration:  m.opts.Clock.Now().Sub(sess.start),
	}
	outcome.Report = ComposeReport(final, sess.entries)
	return outcome, runErr
}

func (m *Monitor) sendApproval(ctx context.Context) error {
	if m.opts.ApproveEnter {
		return m.pane.SendKeysAndEnter(ctx, m.opts.Target, m.opts.ApproveKeys)
	}
	return m.pane.SendKeys(ctx, m.opts.Target, m.opts.ApproveKeys)
}

// finalPane captures extended history for the report body. A failure here is
// tolerated: the placeholder stands in rather than failing the whole run.
func (m *Monitor) finalPane(ctx context.Context) string {
	content, err := m.pane.CaptureHistory(ctx, m.opts.Target, m.opts.HistoryLines)
	if err != nil {
		monLog.Warn("final_capture_failed",
			slog.String("target", m.opts.Target),
			slog.String("error", err.Error()))
		return PlaceholderFinalPane
	}
	text := strings.TrimRight(StripEscapes(content), " \t\n")
	if text == "" {
		return EmptyFinalPane
	}
	return text
}

// ComposeReport renders the final pane text followed by the chronological log.
func ComposeReport(finalPane string, entries []LogEntry) string {
	var b strings.Builder
	b.WriteString(finalPane)
	b.WriteString("\n\n")
	b.WriteString(ReportDelimiter)
	b.WriteString("\n")
	for _, e := range entries {
		b.WriteString(FormatLogEntry(e))
		b.WriteString("\n")
	}
	return b.String()
}

// FormatLogEntry renders one log line as "[  12.5s] message".
func FormatLogEntry(e LogEntry) string {
	return fmt.Sprintf("[%6.1fs] %s", e.Elapsed.Seconds(), e.Message)
}
