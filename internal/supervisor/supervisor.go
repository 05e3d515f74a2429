// Package supervisor spawns, stops, restarts, and removes inner apps,
// composing a Registry and a PortAllocator into the single entry point
// the REST surface and the daemon's boot sequence call through. A
// Supervisor value is constructed once and passed into the REST surface
// at startup; the proxy reads the Registry directly.
package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/hangarhq/hangar/internal/hlog"
	"github.com/hangarhq/hangar/internal/portalloc"
	"github.com/hangarhq/hangar/internal/registry"
)

const (
	stopGrace     = 2 * time.Second // stop_app: SIGTERM, wait, SIGKILL
	preStartGrace = 1 * time.Second // start_app's polite pre-kill of a live PID
	restartPause  = 1 * time.Second
)

// Supervisor wires a Registry and a PortAllocator together. It holds no
// other state: every mutation is a Registry.Mutate/Put/Delete call, so
// process-control operations are naturally serialized by the Registry's
// mutex.
type Supervisor struct {
	Registry  *registry.Registry
	Allocator *portalloc.Allocator
}

// New constructs a Supervisor over reg and alloc.
func New(reg *registry.Registry, alloc *portalloc.Allocator) *Supervisor {
	return &Supervisor{Registry: reg, Allocator: alloc}
}

// RegisterApp creates or overwrites the named record with
// status=registered, pid=nil.
func (s *Supervisor) RegisterApp(name, cmd, cwd string, port int, opts RegisterOptions) (registry.AppRecord, error) {
	if !registry.ValidName(name) || registry.IsReserved(name) {
		return registry.AppRecord{}, fmt.Errorf("invalid app name %q", name)
	}
	rec := registry.AppRecord{
		Name:        name,
		Port:        port,
		WSPort:      opts.WSPort,
		Cmd:         cmd,
		CWD:         cwd,
		Description: opts.Description,
		Env:         opts.Env,
		Autostart:   opts.Autostart,
		Core:        opts.Core,
		Status:      registry.StatusRegistered,
		PID:         nil,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.Registry.Put(rec); err != nil {
		return registry.AppRecord{}, err
	}
	return s.Registry.Get(name)
}

// RegisterOptions holds the optional fields of RegisterApp.
type RegisterOptions struct {
	Description string
	Env         map[string]string
	Autostart   bool
	Core        bool
	WSPort      int
}

// StartApp spawns name's command as a new process-group leader, shell
// interpreted, stdout/stderr discarded. If the existing PID is still
// alive it is terminated politely first.
func (s *Supervisor) StartApp(name string) (registry.AppRecord, error) {
	rec, err := s.Registry.Get(name)
	if err != nil {
		return registry.AppRecord{}, err
	}

	if rec.PID != nil && processAlive(*rec.PID) {
		terminatePoliteLy(*rec.PID, preStartGrace)
	}

	if err := os.MkdirAll(rec.CWD, 0o755); err != nil {
		return registry.AppRecord{}, fmt.Errorf("ensure cwd %s: %w", rec.CWD, err)
	}

	cmd := exec.Command("/bin/sh", "-c", rec.Cmd)
	cmd.Dir = rec.CWD
	cmd.Env = buildEnv(rec)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return registry.AppRecord{}, fmt.Errorf("spawn %s: %w", name, err)
	}
	// The child is detached from our process tree (new group leader); we
	// track its liveness by PID/signal-0, not by Wait(), so release the
	// OS-level wait queue slot rather than leaking it.
	go func() { _ = cmd.Wait() }()

	pid := cmd.Process.Pid
	now := time.Now().UTC()
	return s.Registry.Mutate(name, func(r *registry.AppRecord) {
		r.PID = &pid
		r.Status = registry.StatusRunning
		r.StartedAt = &now
	})
}

// buildEnv composes the parent environment, the record's own env map,
// and {PORT, APP_NAME}. Later entries win on conflict, matching
// os/exec's "last wins" behavior for duplicate keys.
func buildEnv(rec registry.AppRecord) []string {
	env := os.Environ()
	for k, v := range rec.Env {
		env = append(env, k+"="+v)
	}
	env = append(env, "PORT="+strconv.Itoa(rec.Port))
	env = append(env, "APP_NAME="+rec.Name)
	return env
}

// StopApp sends SIGTERM to the process group, waits stopGrace, then
// SIGKILL if it's still alive.
func (s *Supervisor) StopApp(name string) (registry.AppRecord, error) {
	rec, err := s.Registry.Get(name)
	if err != nil {
		return registry.AppRecord{}, err
	}
	if rec.PID != nil {
		terminatePoliteLy(*rec.PID, stopGrace)
	}
	return s.Registry.Mutate(name, func(r *registry.AppRecord) {
		r.Status = registry.StatusStopped
		r.PID = nil
	})
}

// RestartApp is StopApp followed by a 1s pause and StartApp.
func (s *Supervisor) RestartApp(name string) (registry.AppRecord, error) {
	if _, err := s.StopApp(name); err != nil {
		return registry.AppRecord{}, err
	}
	time.Sleep(restartPause)
	return s.StartApp(name)
}

// RemoveApp deletes the record after a best-effort stop. core=true
// records can never be removed.
func (s *Supervisor) RemoveApp(name string) (bool, error) {
	rec, err := s.Registry.Get(name)
	if err != nil {
		return false, err
	}
	if rec.Core {
		return false, fmt.Errorf("%w: %s", ErrCoreApp, name)
	}
	if rec.PID != nil {
		_, _ = s.StopApp(name)
	}
	return s.Registry.Delete(name)
}

// SetAutostart toggles the autostart flag on name.
func (s *Supervisor) SetAutostart(name string, enabled bool) (registry.AppRecord, error) {
	return s.Registry.Mutate(name, func(r *registry.AppRecord) {
		r.Autostart = enabled
	})
}

// AutostartAll starts every record with autostart=true and
// status!=running. Individual failures are logged, not fatal.
func (s *Supervisor) AutostartAll() []string {
	var started []string
	for _, rec := range s.Registry.List() {
		if !rec.Autostart || rec.Status == registry.StatusRunning {
			continue
		}
		if _, err := s.StartApp(rec.Name); err != nil {
			hlog.Error("autostart failed", "app", rec.Name, "err", err)
			continue
		}
		started = append(started, rec.Name)
	}
	return started
}

// terminatePoliteLy signals the process group rooted at pid with
// SIGTERM, waits up to grace for it to die, then escalates to SIGKILL.
func terminatePoliteLy(pid int, grace time.Duration) {
	_ = syscall.Kill(-pid, syscall.SIGTERM)

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	if processAlive(pid) {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
