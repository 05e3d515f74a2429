// Command hangarctl is a thin CLI client over hangard's REST surface and
// an attach helper for the shared terminal pane.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hangarhq/hangar/internal/terminal"
)

func main() {
	var addr string

	root := &cobra.Command{
		Use:   "hangarctl",
		Short: "client for the hangar supervisor daemon",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "http://127.0.0.1:50000", "hangard outer address")

	root.AddCommand(
		listCmd(&addr),
		allocPortCmd(&addr),
		registerCmd(&addr),
		startCmd(&addr),
		stopCmd(&addr),
		restartCmd(&addr),
		removeCmd(&addr),
		statusCmd(&addr),
		autostartCmd(&addr),
		attachCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// client posts action and payload to addr's /webapp endpoint and returns
// the decoded JSON response.
func client(addr, action string, payload map[string]any) (map[string]any, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["action"] = action

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid --addr %q: %w", addr, err)
	}
	u.Path = "/webapp"

	resp, err := http.Post(u.String(), "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("reach hangard at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response %q: %w", body, err)
	}
	if errMsg, ok := out["error"]; ok {
		return out, fmt.Errorf("%v", errMsg)
	}
	return out, nil
}

func printJSON(out map[string]any) {
	data, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(data))
}

func listCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list registered apps",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client(*addr, "list", nil)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func allocPortCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "alloc-port",
		Short: "allocate the next free inner port",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client(*addr, "alloc_port", nil)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func registerCmd(addr *string) *cobra.Command {
	var port, wsPort int
	var cmdStr, cwd, description string
	var core bool

	c := &cobra.Command{
		Use:   "register <name>",
		Short: "register a new app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client(*addr, "register", map[string]any{
				"name": args[0], "port": port, "ws_port": wsPort,
				"cmd": cmdStr, "cwd": cwd, "description": description, "core": core,
			})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	c.Flags().IntVar(&port, "port", 0, "inner HTTP port (required)")
	c.Flags().IntVar(&wsPort, "ws-port", 0, "inner WebSocket port, if different from --port")
	c.Flags().StringVar(&cmdStr, "cmd", "", "shell command to launch the app (required)")
	c.Flags().StringVar(&cwd, "cwd", "", "working directory (defaults under apps_dir)")
	c.Flags().StringVar(&description, "description", "", "human-readable description")
	c.Flags().BoolVar(&core, "core", false, "mark as a core app (removal-forbidden)")
	return c
}

func startCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start <name>",
		Short: "start a registered app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client(*addr, "start", map[string]any{"name": args[0]})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func stopCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name>",
		Short: "stop a running app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client(*addr, "stop", map[string]any{"name": args[0]})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func restartCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <name>",
		Short: "stop then start an app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client(*addr, "restart", map[string]any{"name": args[0]})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func removeCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "remove a non-core app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client(*addr, "remove", map[string]any{"name": args[0]})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func statusCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <name>",
		Short: "print a single app's registry record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client(*addr, "status", map[string]any{"name": args[0]})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func autostartCmd(addr *string) *cobra.Command {
	var enabled bool
	c := &cobra.Command{
		Use:   "autostart <name>",
		Short: "toggle an app's autostart flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client(*addr, "autostart", map[string]any{"name": args[0], "enabled": enabled})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	c.Flags().BoolVar(&enabled, "enabled", true, "desired autostart state")
	return c
}

// attachCmd attaches the local terminal to the shared tmux pane by
// spawning `tmux attach-session` inside a PTY, putting the caller's
// terminal in raw mode, and forwarding SIGWINCH as tmux resizes.
func attachCmd() *cobra.Command {
	var pane string
	c := &cobra.Command{
		Use:   "attach",
		Short: "attach to the shared tmux pane",
		RunE: func(cmd *cobra.Command, args []string) error {
			return attach(pane)
		},
	}
	c.Flags().StringVar(&pane, "pane", terminal.DefaultPane, "tmux session/pane to attach to")
	return c
}

func attach(pane string) error {
	tm := terminal.NewTmux()
	if err := tm.EnsureSession(pane); err != nil {
		return fmt.Errorf("ensure tmux session %s: %w", pane, err)
	}

	c := exec.Command(tm.Bin, "attach-session", "-t", pane)
	ptmx, err := pty.Start(c)
	if err != nil {
		return fmt.Errorf("start pty: %w", err)
	}
	defer ptmx.Close()

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			_ = pty.InheritSize(os.Stdin, ptmx)
		}
	}()
	winch <- syscall.SIGWINCH // resize once immediately

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, oldState)
		}
	}

	go func() { _, _ = io.Copy(ptmx, os.Stdin) }()
	_, _ = io.Copy(os.Stdout, ptmx)
	return c.Wait()
}
