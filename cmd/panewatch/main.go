package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/coder-rhys/panewatch/internal/config"
	"github.com/coder-rhys/panewatch/internal/logging"
)

const Version = "0.3.1"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	initLogging(cfg)

	// SIGUSR1 dumps the ring buffer for post-mortem debugging
	usr1Chan := make(chan os.Signal, 1)
	signal.Notify(usr1Chan, syscall.SIGUSR1)
	go func() {
		for range usr1Chan {
			dumpPath := filepath.Join(config.Dir(), fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
			if err := logging.DumpRingBuffer(dumpPath); err != nil {
				logging.ForComponent(logging.CompCLI).Error("crash_dump_failed",
					slog.String("error", err.Error()))
			} else {
				logging.ForComponent(logging.CompCLI).Info("crash_dump_written",
					slog.String("path", dumpPath))
			}
		}
	}()

	code := dispatch(cfg, os.Args[1], os.Args[2:])
	logging.Shutdown()
	os.Exit(code)
}

func dispatch(cfg *config.Config, command string, args []string) int {
	switch command {
	case "monitor":
		return handleMonitor(cfg, args)
	case "history":
		return handleHistory(cfg, args)
	case "version", "--version", "-v":
		fmt.Printf("panewatch v%s\n", Version)
		return 0
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command: %s\n", command)
		printUsage()
		return 1
	}
}

// initLogging wires the debug log under ~/.panewatch. Format auto-detects:
// text when stderr is a terminal, json otherwise, unless the config pins one.
func initLogging(cfg *config.Config) {
	format := cfg.Logs.Format
	if format == "" {
		format = "json"
		if term.IsTerminal(int(os.Stderr.Fd())) {
			format = "text"
		}
	}
	level := cfg.Logs.Level
	if os.Getenv("PANEWATCH_DEBUG") != "" {
		level = "debug"
	}
	logging.Init(logging.Config{
		LogDir:     config.Dir(),
		Level:      level,
		Format:     format,
		MaxSizeMB:  cfg.Logs.MaxSizeMB,
		MaxBackups: cfg.Logs.MaxBackups,
		MaxAgeDays: cfg.Logs.MaxAgeDays,
		Compress:   true,
		Debug:      os.Getenv("PANEWATCH_DEBUG") != "",
	})
}

func printUsage() {
	fmt.Println("Usage: panewatch <command> [options]")
	fmt.Println()
	fmt.Println("Supervise a coding assistant running in a tmux pane.")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  monitor <target>   Watch a pane, auto-approve permission prompts,")
	fmt.Println("                     return when the assistant is idle or a timeout elapses")
	fmt.Println("  history            List recent monitor runs")
	fmt.Println("  version            Print version")
	fmt.Println("  help               Show this help")
	fmt.Println()
	fmt.Println("Targets follow tmux addressing: \"session:window.pane\" or a pane id like \"%3\".")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  panewatch monitor work:0.1")
	fmt.Println("  panewatch monitor %3 --timeout 600 --interval 1")
	fmt.Println("  panewatch history --limit 10 --json")
}
