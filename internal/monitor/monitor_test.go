package monitor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// fakePane scripts CapturePane responses tick by tick. When the script is
// exhausted the last step repeats, mirroring a pane that stopped changing.
type fakePane struct {
	captures    []string
	captureErrs map[int]error // by call index
	captureN    int

	history    string
	historyErr error

	sent      []string // SendKeys payloads
	sentEnter []string // SendKeysAndEnter payloads
	sendErr   error
}

func (f *fakePane) CapturePane(_ context.Context, _ string) (string, error) {
	i := f.captureN
	f.captureN++
	if err, ok := f.captureErrs[i]; ok {
		return "", err
	}
	if len(f.captures) == 0 {
		return "", nil
	}
	if i >= len(f.captures) {
		i = len(f.captures) - 1
	}
	return f.captures[i], nil
}

func (f *fakePane) CaptureHistory(_ context.Context, _ string, _ int) (string, error) {
	if f.historyErr != nil {
		return "", f.historyErr
	}
	return f.history, nil
}

func (f *fakePane) SendKeys(_ context.Context, _, keys string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, keys)
	return nil
}

func (f *fakePane) SendKeysAndEnter(_ context.Context, _, keys string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sentEnter = append(f.sentEnter, keys)
	return nil
}

// fakeClock advances a fixed step per Sleep so the loop's notion of elapsed
// time is fully deterministic.
type fakeClock struct {
	now    time.Time
	step   time.Duration
	sleeps int
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(time.Duration) {
	c.sleeps++
	c.now = c.now.Add(c.step)
}

const (
	processingPane = "✻ Thinking…\n(3s · esc to interrupt)\n"
	permissionPane = "Do you want to run go test?\n  1. Yes\n  2. No\n"
	idlePane       = "All done.\n> \n"
)

func TestRunProcessingThenPermissionThenIdle(t *testing.T) {
	pane := &fakePane{
		captures: []string{processingPane, processingPane, permissionPane, idlePane},
		history:  "full transcript here",
	}
	clock := &fakeClock{now: time.Unix(1000, 0)}

	mon := New(pane, Options{
		Target: "dev:1.0",
		Clock:  clock,
	})
	outcome, err := mon.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if outcome.Phase != PhaseDoneIdle {
		t.Errorf("phase = %v, want done-idle", outcome.Phase)
	}
	if outcome.Approvals != 1 {
		t.Errorf("approvals = %d, want 1", outcome.Approvals)
	}
	if clock.sleeps != 3 {
		t.Errorf("sleeps = %d, want 3 (two processing ticks, one permission tick)", clock.sleeps)
	}
	if len(pane.sent) != 1 || pane.sent[0] != "1" {
		t.Errorf("sent = %v, want exactly one %q", pane.sent, "1")
	}
	if len(pane.sentEnter) != 0 {
		t.Errorf("sentEnter = %v, want none without ApproveEnter", pane.sentEnter)
	}
	if outcome.FinalPane != "full transcript here" {
		t.Errorf("FinalPane = %q", outcome.FinalPane)
	}

	// Log order: processing, processing, prompt, sending, idle.
	var msgs []string
	for _, e := range outcome.Entries {
		msgs = append(msgs, e.Message)
	}
	want := []string{
		"processing: (3s ·",
		"processing: (3s ·",
		"permission prompt: 1. Yes | 2. No",
		`sending approval keys "1"`,
		"idle: no activity indicators",
	}
	if len(msgs) != len(want) {
		t.Fatalf("entries = %v, want %d entries", msgs, len(want))
	}
	for i, m := range msgs {
		if m != want[i] {
			t.Errorf("entry %d = %q, want %q", i, m, want[i])
		}
	}
}

func TestRunLogElapsedStrictlyIncreasing(t *testing.T) {
	// Zero-step clock: every Now() call returns the same time, so only the
	// epsilon bump keeps elapsed values apart.
	pane := &fakePane{captures: []string{processingPane, processingPane, idlePane}}
	clock := &fakeClock{now: time.Unix(1000, 0)}

	outcome, err := New(pane, Options{Target: "x", Clock: clock}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var prev time.Duration = -1
	for i, e := range outcome.Entries {
		if e.Elapsed <= prev {
			t.Errorf("entry %d elapsed %v not greater than %v", i, e.Elapsed, prev)
		}
		prev = e.Elapsed
	}
}

func TestRunTimeout(t *testing.T) {
	pane := &fakePane{
		captures: []string{processingPane},
		history:  "still busy",
	}
	clock := &fakeClock{now: time.Unix(1000, 0), step: time.Second}

	mon := New(pane, Options{
		Target:  "x",
		Timeout: 2500 * time.Millisecond,
		Clock:   clock,
	})
	outcome, err := mon.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if outcome.Phase != PhaseDoneTimeout {
		t.Errorf("phase = %v, want done-timeout", outcome.Phase)
	}
	if len(pane.sent)+len(pane.sentEnter) != 0 {
		t.Errorf("keys were sent on timeout: %v %v", pane.sent, pane.sentEnter)
	}
	last := outcome.Entries[len(outcome.Entries)-1]
	if !strings.HasPrefix(last.Message, "timeout after ") {
		t.Errorf("last entry = %q, want timeout message", last.Message)
	}
	if outcome.Approvals != 0 {
		t.Errorf("approvals = %d, want 0", outcome.Approvals)
	}
}

func TestRunCaptureError(t *testing.T) {
	capErr := errors.New("no server running")
	pane := &fakePane{
		captures:    []string{processingPane},
		captureErrs: map[int]error{1: capErr},
		history:     "partial",
	}
	clock := &fakeClock{now: time.Unix(1000, 0)}

	outcome, err := New(pane, Options{Target: "x", Clock: clock}).Run(context.Background())
	if err == nil {
		t.Fatal("want non-nil error on capture failure")
	}
	if !errors.Is(err, capErr) {
		t.Errorf("err = %v, want wrapped %v", err, capErr)
	}
	if outcome == nil {
		t.Fatal("outcome must be non-nil even on error")
	}
	if outcome.Phase != PhaseDoneError {
		t.Errorf("phase = %v, want done-error", outcome.Phase)
	}
	// The log accumulated before the failure is preserved.
	if len(outcome.Entries) != 2 {
		t.Fatalf("entries = %v, want processing tick plus failure entry", outcome.Entries)
	}
	if !strings.HasPrefix(outcome.Entries[1].Message, "capture failed: ") {
		t.Errorf("entry = %q", outcome.Entries[1].Message)
	}
}

func TestRunSendFailureIsNonFatal(t *testing.T) {
	pane := &fakePane{
		captures: []string{permissionPane, idlePane},
		sendErr:  errors.New("pane gone"),
	}
	clock := &fakeClock{now: time.Unix(1000, 0)}

	outcome, err := New(pane, Options{Target: "x", Clock: clock}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Phase != PhaseDoneIdle {
		t.Errorf("phase = %v, want done-idle despite send failure", outcome.Phase)
	}
	if outcome.Approvals != 0 {
		t.Errorf("approvals = %d, want 0 when send fails", outcome.Approvals)
	}
	var found bool
	for _, e := range outcome.Entries {
		if strings.HasPrefix(e.Message, "approval send failed: ") {
			found = true
		}
	}
	if !found {
		t.Errorf("no send-failure entry in %v", outcome.Entries)
	}
}

func TestRunApproveEnter(t *testing.T) {
	pane := &fakePane{captures: []string{permissionPane, idlePane}}
	clock := &fakeClock{now: time.Unix(1000, 0)}

	_, err := New(pane, Options{
		Target:       "x",
		ApproveKeys:  "2",
		ApproveEnter: true,
		Clock:        clock,
	}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pane.sentEnter) != 1 || pane.sentEnter[0] != "2" {
		t.Errorf("sentEnter = %v, want one %q", pane.sentEnter, "2")
	}
	if len(pane.sent) != 0 {
		t.Errorf("sent = %v, want none with ApproveEnter", pane.sent)
	}
}

func TestRunEmptyPaneWaits(t *testing.T) {
	pane := &fakePane{captures: []string{"", "\n  \n", idlePane}}
	clock := &fakeClock{now: time.Unix(1000, 0)}

	outcome, err := New(pane, Options{Target: "x", Clock: clock}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Phase != PhaseDoneIdle {
		t.Errorf("phase = %v", outcome.Phase)
	}
	if clock.sleeps != 2 {
		t.Errorf("sleeps = %d, want 2 empty-pane waits", clock.sleeps)
	}
	if outcome.Entries[0].Message != "empty pane, waiting" {
		t.Errorf("entry = %q", outcome.Entries[0].Message)
	}
}

func TestRunFinalCaptureFailureUsesPlaceholder(t *testing.T) {
	pane := &fakePane{
		captures:   []string{idlePane},
		historyErr: errors.New("server exited"),
	}
	clock := &fakeClock{now: time.Unix(1000, 0)}

	outcome, err := New(pane, Options{Target: "x", Clock: clock}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Phase != PhaseDoneIdle {
		t.Errorf("phase = %v, final capture failure must not change the phase", outcome.Phase)
	}
	if outcome.FinalPane != PlaceholderFinalPane {
		t.Errorf("FinalPane = %q, want placeholder", outcome.FinalPane)
	}
}

func TestRunEmptyFinalCaptureUsesEmptyPaneText(t *testing.T) {
	// A successful capture of a blank pane still gets a report body.
	pane := &fakePane{
		captures: []string{idlePane},
		history:  "  \n\n\t\n",
	}
	clock := &fakeClock{now: time.Unix(1000, 0)}

	outcome, err := New(pane, Options{Target: "x", Clock: clock}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.FinalPane != EmptyFinalPane {
		t.Errorf("FinalPane = %q, want %q", outcome.FinalPane, EmptyFinalPane)
	}
	if !strings.HasPrefix(outcome.Report, EmptyFinalPane+"\n\n"+ReportDelimiter) {
		t.Errorf("report = %q", outcome.Report)
	}
}

func TestRunStripsEscapesFromFinalPane(t *testing.T) {
	pane := &fakePane{
		captures: []string{idlePane},
		history:  "\x1b[32mdone\x1b[0m  \n\n",
	}
	clock := &fakeClock{now: time.Unix(1000, 0)}

	outcome, err := New(pane, Options{Target: "x", Clock: clock}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.FinalPane != "done" {
		t.Errorf("FinalPane = %q, want escapes stripped and trailing whitespace trimmed", outcome.FinalPane)
	}
}

func TestRunProgressCallback(t *testing.T) {
	pane := &fakePane{captures: []string{processingPane, idlePane}}
	clock := &fakeClock{now: time.Unix(1000, 0)}

	var got []string
	_, err := New(pane, Options{
		Target: "x",
		Clock:  clock,
		Progress: func(_ time.Duration, msg string) {
			got = append(got, msg)
		},
	}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("progress calls = %v, want one per log entry", got)
	}
}

func TestComposeReport(t *testing.T) {
	entries := []LogEntry{
		{Elapsed: 500 * time.Millisecond, Message: "processing: ✻"},
		{Elapsed: 12500 * time.Millisecond, Message: "idle: no activity indicators"},
	}
	report := ComposeReport("final content", entries)

	want := "final content\n\n--- Monitor Log ---\n" +
		"[   0.5s] processing: ✻\n" +
		"[  12.5s] idle: no activity indicators\n"
	if report != want {
		t.Errorf("report = %q, want %q", report, want)
	}
}

func TestFormatLogEntry(t *testing.T) {
	e := LogEntry{Elapsed: 3 * time.Second, Message: "msg"}
	if got := FormatLogEntry(e); got != "[   3.0s] msg" {
		t.Errorf("FormatLogEntry = %q", got)
	}
	e = LogEntry{Elapsed: 123456 * time.Millisecond, Message: "m"}
	if got := FormatLogEntry(e); got != "[ 123.5s] m" {
		t.Errorf("FormatLogEntry = %q", got)
	}
}

func TestPhaseString(t *testing.T) {
	cases := map[Phase]string{
		PhaseRunning:     "running",
		PhaseDoneIdle:    "done-idle",
		PhaseDoneTimeout: "done-timeout",
		PhaseDoneError:   "done-error",
		Phase(99):        "phase(99)",
	}
	for p, want := range cases {
		if got := p.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(p), got, want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	for _, to := range []Phase{PhaseDoneIdle, PhaseDoneTimeout, PhaseDoneError} {
		if !CanTransition(PhaseRunning, to) {
			t.Errorf("running -> %v should be valid", to)
		}
	}
	if CanTransition(PhaseDoneIdle, PhaseRunning) {
		t.Error("terminal phases must have no outgoing edges")
	}
	if CanTransition(PhaseDoneIdle, PhaseDoneTimeout) {
		t.Error("terminal phases must have no outgoing edges")
	}
}
