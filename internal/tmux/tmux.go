// Package tmux is a thin adapter over the tmux command-line interface.
// It formats arguments for capture-pane and send-keys; nothing here parses
// or validates target strings, which pass through to tmux verbatim.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/coder-rhys/panewatch/internal/logging"
)

var tmuxLog = logging.ForComponent(logging.CompTmux)

// ErrCaptureTimeout is returned when CapturePane exceeds its timeout.
// Callers should surface it like any other capture failure; the tmux server
// being wedged is indistinguishable from it being gone.
var ErrCaptureTimeout = errors.New("capture-pane timed out")

const (
	captureTimeout = 3 * time.Second

	// Send Enter as a separate call after a short settle delay. tmux 3.2+
	// wraps send-keys -l in bracketed paste sequences; without the delay the
	// Enter arrives in the same PTY buffer as the paste-end marker and gets
	// swallowed by async TUI frameworks.
	enterSettleDelay = 100 * time.Millisecond
)

// runTmuxFunc executes a tmux command and returns its stdout.
// Swappable so tests can record arguments without a live tmux server.
type runTmuxFunc func(ctx context.Context, args ...string) ([]byte, error)

func execTmux(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "tmux", args...).Output()
}

// Client talks to the local tmux server via subprocess calls.
// Safe for concurrent use.
type Client struct {
	run     runTmuxFunc
	limiter *rate.Limiter
	timeout time.Duration
	sf      singleflight.Group
}

// NewClient creates a Client with a spawn-rate cap. The cap only matters
// when a caller polls with a near-zero interval; normal monitor cadence
// never gets close to it.
func NewClient() *Client {
	return &Client{
		run:     execTmux,
		limiter: rate.NewLimiter(rate.Limit(20), 40),
		timeout: captureTimeout,
	}
}

func (c *Client) captureDeadline() time.Duration {
	if c.timeout > 0 {
		return c.timeout
	}
	return captureTimeout
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// ServerAvailable checks that tmux is installed and a server can respond.
func (c *Client) ServerAvailable(ctx context.Context) error {
	if _, err := c.run(ctx, "-V"); err != nil {
		return fmt.Errorf("tmux not found or not working: %w", err)
	}
	return nil
}

// CapturePane returns the visible content of the target pane.
// Uses -J to join wrapped lines. Concurrent captures of the same target are
// deduplicated via singleflight; a hung server surfaces as ErrCaptureTimeout.
func (c *Client) CapturePane(ctx context.Context, target string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	v, err, _ := c.sf.Do(target, func() (interface{}, error) {
		cctx, cancel := context.WithTimeout(ctx, c.captureDeadline())
		defer cancel()
		out, err := c.run(cctx, "capture-pane", "-t", target, "-p", "-J")
		if err != nil {
			if cctx.Err() == context.DeadlineExceeded {
				return "", ErrCaptureTimeout
			}
			return "", fmt.Errorf("capture pane %s: %w", target, err)
		}
		return string(out), nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// CaptureHistory returns the visible pane content plus up to lines of
// scrollback, via capture-pane -S with a negative start line.
func (c *Client) CaptureHistory(ctx context.Context, target string, lines int) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	cctx, cancel := context.WithTimeout(ctx, c.captureDeadline())
	defer cancel()
	out, err := c.run(cctx, "capture-pane", "-t", target, "-p", "-J", "-S", strconv.Itoa(-lines))
	if err != nil {
		if cctx.Err() == context.DeadlineExceeded {
			return "", ErrCaptureTimeout
		}
		return "", fmt.Errorf("capture history %s: %w", target, err)
	}
	return string(out), nil
}

// SendKeys sends literal text to the target pane. The -l flag disables tmux
// special key lookup so "Enter" stays the five characters E-n-t-e-r.
func (c *Client) SendKeys(ctx context.Context, target, keys string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	tmuxLog.Debug("send_keys", slog.String("target", target), slog.Int("len", len(keys)))
	if _, err := c.run(ctx, "send-keys", "-l", "-t", target, "--", keys); err != nil {
		return fmt.Errorf("send keys to %s: %w", target, err)
	}
	return nil
}

// SendEnter presses Enter in the target pane.
func (c *Client) SendEnter(ctx context.Context, target string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if _, err := c.run(ctx, "send-keys", "-t", target, "Enter"); err != nil {
		return fmt.Errorf("send enter to %s: %w", target, err)
	}
	return nil
}

// SendKeysAndEnter sends literal text, waits for the paste to settle, then
// presses Enter as a separate tmux call.
func (c *Client) SendKeysAndEnter(ctx context.Context, target, keys string) error {
	if err := c.SendKeys(ctx, target, keys); err != nil {
		return err
	}
	time.Sleep(enterSettleDelay)
	return c.SendEnter(ctx, target)
}
