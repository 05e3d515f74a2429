package terminal

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RunResult is the outcome of a sentinel-wrapped command.
type RunResult struct {
	Output   string
	ExitCode int
	TimedOut bool
}

// RunSentinel appends a unique "__A0_<uuid>:$?" marker to command, sends
// it to pane, then polls capture-pane until the marker appears,
// extracting the exit code and returning the pane content up to (but not
// including) the marker. Only the marker followed by a digit counts, so
// the echoed command line (which shows the literal `:$?`) is not taken
// for completion. This is the shell-prompt completion strategy;
// WaitReady with a PromptPattern (ready.go) is used instead for TUI
// programs that never return to a prompt.
func RunSentinel(ctx context.Context, tm *Tmux, pane, command string, timeout time.Duration) (RunResult, error) {
	marker := "__A0_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	full := fmt.Sprintf(`%s ; echo "%s:$?"`, command, marker)
	doneRE := regexp.MustCompile(regexp.QuoteMeta(marker) + `:\d`)

	if err := tm.Send(pane, full); err != nil {
		return RunResult{}, err
	}

	deadline := time.Now().Add(timeout)
	for {
		raw, err := tm.CapturePane(pane, 500)
		if err != nil {
			return RunResult{}, err
		}
		clean := StripANSI(raw)
		if loc := doneRE.FindStringIndex(clean); loc != nil {
			idx := loc[0]
			output := strings.TrimRight(clean[:idx], "\n")
			code := parseMarkerLine(clean[idx:], marker)
			return RunResult{Output: output, ExitCode: code}, nil
		}
		if time.Now().After(deadline) {
			return RunResult{Output: clean, TimedOut: true}, nil
		}
		select {
		case <-time.After(readyPollInterval):
		case <-ctx.Done():
			return RunResult{Output: clean, TimedOut: true}, ctx.Err()
		}
	}
}

// parseMarkerLine extracts the exit code suffix from the line beginning
// at the marker, e.g. "__A0_abc123:0". Returns -1 if it can't be parsed.
func parseMarkerLine(fromMarker, marker string) int {
	line := fromMarker
	if nl := strings.IndexByte(line, '\n'); nl >= 0 {
		line = line[:nl]
	}
	rest := strings.TrimPrefix(line, marker+":")
	code, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return -1
	}
	return code
}
