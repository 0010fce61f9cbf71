package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/coder-rhys/panewatch/internal/config"
	"github.com/coder-rhys/panewatch/internal/history"
	"github.com/coder-rhys/panewatch/internal/logging"
	"github.com/coder-rhys/panewatch/internal/monitor"
	"github.com/coder-rhys/panewatch/internal/tmux"
)

var cliLog = logging.ForComponent(logging.CompCLI)

// monitorJSON is the --json output shape for the monitor command.
type monitorJSON struct {
	Target    string         `json:"target"`
	Outcome   string         `json:"outcome"`
	Duration  float64        `json:"duration_seconds"`
	Approvals int            `json:"approvals"`
	FinalPane string         `json:"final_pane"`
	Log       []logEntryJSON `json:"log"`
}

type logEntryJSON struct {
	Elapsed float64 `json:"elapsed_seconds"`
	Message string  `json:"message"`
}

// handleMonitor runs the poll/auto-approve loop against one pane.
// Exit codes: 0 when the assistant went idle, 2 on timeout, 1 on error.
func handleMonitor(cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	timeout := fs.Float64("timeout", cfg.Monitor.TimeoutSeconds, "Give up after this many seconds")
	interval := fs.Float64("interval", float64(cfg.Monitor.IntervalMS)/1000, "Seconds between polls")
	lines := fs.Int("lines", cfg.Monitor.Lines, "Trailing non-blank lines to analyze")
	approveKeys := fs.String("approve-keys", cfg.Monitor.ApproveKeys, "Keystrokes sent to answer a permission prompt")
	approveEnter := fs.Bool("approve-enter", cfg.Monitor.ApproveEnter, "Press Enter after the approval keystrokes")
	jsonOutput := fs.Bool("json", false, "Output as JSON")

	fs.Usage = func() {
		fmt.Println("Usage: panewatch monitor <target> [options]")
		fmt.Println()
		fmt.Println("Poll a tmux pane until the assistant inside it is idle. Permission")
		fmt.Println("prompts are answered automatically; progress goes to stderr and the")
		fmt.Println("final report to stdout.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}

	// Accept the target either before or after the flags.
	target := ""
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		target = args[0]
		args = args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if target == "" {
		target = fs.Arg(0)
	}
	if target == "" {
		fmt.Fprintln(os.Stderr, "Error: target is required")
		fs.Usage()
		return 1
	}

	patterns, err := cfg.BuildPatterns()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	client := tmux.NewClient()
	if err := client.ServerAvailable(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	opts := monitor.Options{
		Target:       target,
		Timeout:      time.Duration(*timeout * float64(time.Second)),
		Interval:     time.Duration(*interval * float64(time.Second)),
		Lines:        *lines,
		HistoryLines: cfg.Monitor.HistoryLines,
		ApproveKeys:  *approveKeys,
		ApproveEnter: *approveEnter,
		Classifier:   monitor.NewClassifier(patterns),
		Progress: func(elapsed time.Duration, msg string) {
			fmt.Fprintln(os.Stderr, monitor.FormatLogEntry(monitor.LogEntry{Elapsed: elapsed, Message: msg}))
		},
	}

	startedAt := time.Now()
	outcome, runErr := monitor.New(client, opts).Run(ctx)

	recordRun(cfg, target, startedAt, outcome)

	if *jsonOutput {
		out := monitorJSON{
			Target:    target,
			Outcome:   outcome.Phase.String(),
			Duration:  outcome.Duration.Seconds(),
			Approvals: outcome.Approvals,
			FinalPane: outcome.FinalPane,
		}
		for _, e := range outcome.Entries {
			out.Log = append(out.Log, logEntryJSON{Elapsed: e.Elapsed.Seconds(), Message: e.Message})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	} else {
		fmt.Print(outcome.Report)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		return 1
	}
	if outcome.Phase == monitor.PhaseDoneTimeout {
		return 2
	}
	return 0
}

// recordRun persists the invocation to the history database. Best effort:
// a broken history store never fails the monitor itself.
func recordRun(cfg *config.Config, target string, startedAt time.Time, outcome *monitor.Outcome) {
	if cfg.History.Disabled {
		return
	}
	store, err := history.Open(cfg.History.HistoryPath())
	if err != nil {
		cliLog.Warn("history_open_failed", slog.String("error", err.Error()))
		return
	}
	defer store.Close()

	if _, err := store.Record(&history.Run{
		Target:    target,
		StartedAt: startedAt,
		Duration:  outcome.Duration,
		Outcome:   outcome.Phase.String(),
		Approvals: outcome.Approvals,
		LogLines:  len(outcome.Entries),
	}); err != nil {
		cliLog.Warn("history_record_failed", slog.String("error", err.Error()))
	}
}
