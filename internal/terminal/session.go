package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultCLITimeout bounds a single CLI turn; the CLI's own API
// round-trip is typically 2-30s, so this leaves generous headroom.
const DefaultCLITimeout = 120 * time.Second

// deadSessionMarker is the stderr substring a resumed CLI session prints
// when the session UUID it was asked to resume no longer exists.
const deadSessionMarker = "No conversation found"

// turnResult is the CLI's --output-format json shape.
type turnResult struct {
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
	IsError   bool   `json:"is_error"`
}

// CLISession is a stateful wrapper around single-turn CLI invocations.
// It stores the session UUID returned by the first turn and passes
// --resume on every subsequent call, so callers never manage UUIDs
// directly.
type CLISession struct {
	Bin       string
	Model     string
	Timeout   time.Duration
	sessionID string
}

// NewCLISession returns a session invoking bin (e.g. "claude").
func NewCLISession(bin string) *CLISession {
	return &CLISession{Bin: bin, Timeout: DefaultCLITimeout}
}

// Turn sends one prompt and returns the clean response text, storing the
// session UUID for the next call.
func (s *CLISession) Turn(ctx context.Context, prompt string) (string, error) {
	result, err := s.rawTurn(ctx, prompt, s.sessionID)
	if err != nil {
		return "", err
	}
	s.sessionID = result.SessionID
	return result.Result, nil
}

// TurnWithRecovery behaves like Turn, but transparently restarts with a
// fresh session if the CLI reports the resumed session is dead, and
// reports wasRecovered so the caller knows prior context was lost.
func (s *CLISession) TurnWithRecovery(ctx context.Context, prompt string) (response string, wasRecovered bool, err error) {
	result, err := s.rawTurn(ctx, prompt, s.sessionID)
	if err == nil {
		s.sessionID = result.SessionID
		return result.Result, false, nil
	}
	if s.sessionID != "" && strings.Contains(err.Error(), deadSessionMarker) {
		result, err = s.rawTurn(ctx, prompt, "")
		if err != nil {
			return "", false, err
		}
		s.sessionID = result.SessionID
		return result.Result, true, nil
	}
	return "", false, err
}

// Reset clears the stored session UUID; the next Turn starts fresh.
func (s *CLISession) Reset() {
	s.sessionID = ""
}

// SessionID exposes the current session UUID, "" before the first turn.
func (s *CLISession) SessionID() string {
	return s.sessionID
}

func (s *CLISession) rawTurn(ctx context.Context, prompt, sessionID string) (turnResult, error) {
	args := []string{"--print", "--output-format", "json"}
	if s.Model != "" {
		args = append(args, "--model", s.Model)
	}
	if sessionID != "" {
		// --resume, never --continue: --continue resolves sessions by
		// cwd, which races when multiple sessions share a working
		// directory.
		args = append(args, "--resume", sessionID)
	}
	args = append(args, prompt)

	timeout := s.Timeout
	if timeout == 0 {
		timeout = DefaultCLITimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, s.Bin, args...)
	cmd.Env = cleanEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runCtx.Err() != nil {
		return turnResult{}, fmt.Errorf("%s turn timed out after %s", s.Bin, timeout)
	}
	if runErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		if len(msg) > 400 {
			msg = msg[:400]
		}
		return turnResult{}, fmt.Errorf("%s exited: %s", s.Bin, msg)
	}

	clean := StripANSI(stdout.String())
	var result turnResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(clean)), &result); err != nil {
		return turnResult{}, fmt.Errorf("%s: malformed json output: %w", s.Bin, err)
	}
	if result.IsError {
		return turnResult{}, fmt.Errorf("%s reported an error: %s", s.Bin, result.Result)
	}
	return result, nil
}
