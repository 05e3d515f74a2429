// Package terminal drives the shared tmux pane both humans and the
// agent type into: send/keys/read primitives, sentinel and
// prompt-pattern command completion, and dead-session recovery for
// long-lived CLI subprocesses.
package terminal

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// DefaultPane is the shared session name used when a caller doesn't
// specify one.
const DefaultPane = "shared"

// Tmux wraps list-form exec.Command calls to the tmux binary. Every
// call passes arguments as a list, never through a shell, so pane
// content is never reinterpreted as shell syntax.
type Tmux struct {
	Bin string
}

// NewTmux returns a Tmux wrapper invoking the "tmux" binary from PATH.
func NewTmux() *Tmux {
	return &Tmux{Bin: "tmux"}
}

// HasSession reports whether pane already exists.
func (t *Tmux) HasSession(pane string) bool {
	cmd := exec.Command(t.Bin, "has-session", "-t", pane)
	return cmd.Run() == nil
}

// NewSession creates pane as a detached session.
func (t *Tmux) NewSession(pane string) error {
	cmd := exec.Command(t.Bin, "new-session", "-d", "-s", pane)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("tmux new-session failed: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

// EnsureSession creates pane if it doesn't already exist.
func (t *Tmux) EnsureSession(pane string) error {
	if t.HasSession(pane) {
		return nil
	}
	return t.NewSession(pane)
}

// Send types text into pane as one literal argument, then presses
// Enter as a separate key — text must never be split into multiple
// arguments, or tmux will interpret stray words like "Tab" as key names
// instead of literal text.
func (t *Tmux) Send(pane, text string) error {
	cmd := exec.Command(t.Bin, "send-keys", "-t", pane, text, "Enter")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("tmux send-keys failed: %s (is %s running?)", strings.TrimSpace(string(out)), pane)
	}
	return nil
}

// Keys sends a list of tmux key names (e.g. "C-c", "Up", "Tab") without
// appending Enter — each element of keys IS a key name, unlike Send's
// single literal-text argument.
func (t *Tmux) Keys(pane string, keys []string) error {
	args := append([]string{"send-keys", "-t", pane}, keys...)
	cmd := exec.Command(t.Bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("tmux send-keys failed: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

// CapturePane returns the last n lines of pane's scrollback. The -e flag
// is deliberately never passed: omitting it is what keeps tmux from
// emitting raw escape codes in the first place, so StripANSI only has to
// catch what leaks through rather than undo tmux's own rendering.
func (t *Tmux) CapturePane(pane string, n int) (string, error) {
	cmd := exec.Command(t.Bin, "capture-pane", "-t", pane, "-p", "-S", "-"+strconv.Itoa(n))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("tmux capture-pane failed: %s (is %s running?)", strings.TrimSpace(string(out)), pane)
	}
	// -S -n starts n lines back in the history and runs to the bottom of
	// the visible pane, so keep only the last n of those lines.
	lines := strings.Split(strings.TrimSuffix(string(out), "\n"), "\n")
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n") + "\n", nil
}

// KillSession destroys pane.
func (t *Tmux) KillSession(pane string) error {
	cmd := exec.Command(t.Bin, "kill-session", "-t", pane)
	return cmd.Run()
}
