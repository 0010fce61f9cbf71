package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/coder-rhys/panewatch/internal/config"
	"github.com/coder-rhys/panewatch/internal/history"
)

type historyRunJSON struct {
	ID        int64   `json:"id"`
	Target    string  `json:"target"`
	StartedAt string  `json:"started_at"`
	Duration  float64 `json:"duration_seconds"`
	Outcome   string  `json:"outcome"`
	Approvals int     `json:"approvals"`
	LogLines  int     `json:"log_lines"`
}

// handleHistory lists recent monitor runs from the local history database.
func handleHistory(cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Maximum runs to list")
	jsonOutput := fs.Bool("json", false, "Output as JSON")

	fs.Usage = func() {
		fmt.Println("Usage: panewatch history [options]")
		fmt.Println()
		fmt.Println("List recent monitor runs, most recent first.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 1
	}

	store, err := history.Open(cfg.History.HistoryPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	runs, err := store.Recent(*limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOutput {
		out := make([]historyRunJSON, 0, len(runs))
		for _, r := range runs {
			out = append(out, historyRunJSON{
				ID:        r.ID,
				Target:    r.Target,
				StartedAt: r.StartedAt.Format(time.RFC3339),
				Duration:  r.Duration.Seconds(),
				Outcome:   r.Outcome,
				Approvals: r.Approvals,
				LogLines:  r.LogLines,
			})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return 0
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return 0
	}

	fmt.Printf("%-5s %-24s %-20s %-10s %-12s %s\n", "ID", "TARGET", "STARTED", "DURATION", "OUTCOME", "APPROVALS")
	for _, r := range runs {
		target := r.Target
		if len(target) > 24 {
			target = target[:21] + "..."
		}
		fmt.Printf("%-5d %-24s %-20s %-10s %-12s %d\n",
			r.ID, target,
			r.StartedAt.Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%.1fs", r.Duration.Seconds()),
			r.Outcome, r.Approvals)
	}
	return 0
}
