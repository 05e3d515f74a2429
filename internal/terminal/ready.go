package terminal

import (
	"context"
	"regexp"
	"time"
)

const (
	readySettleDelay = 300 * time.Millisecond
	readyPollInterval = 500 * time.Millisecond
)

// ReadyStrategy decides whether a captured pane (already ANSI-stripped)
// signals command completion.
type ReadyStrategy interface {
	Ready(capture string) bool
}

// PromptPattern is satisfied once the last non-blank line matches re,
// the primary signal for TUI programs that never return to a shell
// prompt.
type PromptPattern struct {
	Pattern *regexp.Regexp
}

func (p PromptPattern) Ready(capture string) bool {
	return p.Pattern.MatchString(LastNonBlankLine(capture))
}

// Stability is satisfied when the same capture is seen twice in a row;
// WaitReady feeds it consecutive polls, never a single call, so it
// can't by itself report ready on the first poll.
type Stability struct {
	last string
	seen bool
}

func (s *Stability) Ready(capture string) bool {
	ready := s.seen && capture == s.last
	s.last = capture
	s.seen = true
	return ready
}

// FirstOf is ready as soon as any one of its strategies is.
type FirstOf struct {
	Strategies []ReadyStrategy
}

func (f FirstOf) Ready(capture string) bool {
	for _, s := range f.Strategies {
		if s.Ready(capture) {
			return true
		}
	}
	return false
}

// WaitReady polls pane every readyPollInterval after an initial
// readySettleDelay, returning once strategy reports ready. On timeout it
// sends Ctrl-C to interrupt whatever is running, then returns an error.
func WaitReady(ctx context.Context, tm *Tmux, pane string, strategy ReadyStrategy, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)

	select {
	case <-time.After(readySettleDelay):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	var capture string
	for {
		raw, err := tm.CapturePane(pane, 500)
		if err != nil {
			return "", err
		}
		capture = StripANSI(raw)
		if strategy.Ready(capture) {
			return capture, nil
		}
		if time.Now().After(deadline) {
			_ = tm.Keys(pane, []string{"C-c"})
			return capture, errWaitReadyTimeout
		}
		select {
		case <-time.After(readyPollInterval):
		case <-ctx.Done():
			_ = tm.Keys(pane, []string{"C-c"})
			return capture, ctx.Err()
		}
	}
}

var errWaitReadyTimeout = waitReadyTimeoutError{}

type waitReadyTimeoutError struct{}

func (waitReadyTimeoutError) Error() string { return "wait_ready: timed out" }
