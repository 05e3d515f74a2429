package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/google/renameio/v2"

	"github.com/hangarhq/hangar/internal/hlog"
)

// ErrUnknownApp is returned by lookups for a name that isn't registered.
var ErrUnknownApp = errors.New("unknown app")

// Registry is the persistent, mutex-serialized store of AppRecords. All
// reads and mutations go through the same mutex: Go's sync.Mutex isn't
// reentrant, so methods that need to call other locked methods do so via
// the unexported *Locked helpers instead of recursing through Lock.
type Registry struct {
	mu   sync.Mutex
	path string
	apps map[string]*AppRecord
}

// New constructs a Registry backed by path without loading it (tests
// that want an empty in-memory registry can skip Load).
func New(path string) *Registry {
	return &Registry{path: path, apps: make(map[string]*AppRecord)}
}

// Load parses the registry file at r.path. A parse failure is not fatal:
// the registry is reset to empty and the next mutation rewrites the
// file. After loading, cleanupDead runs once so staleness is bounded by
// one read.
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.apps = make(map[string]*AppRecord)
			return nil
		}
		return fmt.Errorf("read registry %s: %w", r.path, err)
	}

	var apps map[string]*AppRecord
	if err := json.Unmarshal(data, &apps); err != nil {
		hlog.Warn("registry parse failed, starting empty", "path", r.path, "err", err)
		r.apps = make(map[string]*AppRecord)
		return nil
	}
	if apps == nil {
		apps = make(map[string]*AppRecord)
	}
	r.apps = apps
	r.cleanupDeadLocked()
	return nil
}

// saveLocked atomically writes the full map as indented JSON
// (write-then-rename via renameio): a crash during the write leaves
// either the old file or the new one, never a truncation.
func (r *Registry) saveLocked() error {
	data, err := json.MarshalIndent(r.apps, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	t, err := renameio.TempFile("", r.path)
	if err != nil {
		return fmt.Errorf("create registry temp file: %w", err)
	}
	defer t.Cleanup()
	if _, err := t.Write(data); err != nil {
		return fmt.Errorf("write registry temp file: %w", err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace registry %s: %w", r.path, err)
	}
	return nil
}

// cleanupDeadLocked downgrades any record claiming status=running whose
// PID no longer exists. Must be called with mu held.
func (r *Registry) cleanupDeadLocked() bool {
	changed := false
	for _, rec := range r.apps {
		if rec.Status != StatusRunning || rec.PID == nil {
			continue
		}
		if !processAlive(*rec.PID) {
			rec.Status = StatusStopped
			rec.PID = nil
			changed = true
		}
	}
	return changed
}

// processAlive sends signal 0 to pid; success means the process (or a
// zombie holding the PID) still exists.
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

// runCleanupAndMaybeSave runs cleanupDead under the lock, persisting iff
// it changed anything.
func (r *Registry) runCleanupAndMaybeSave() {
	r.mu.Lock()
	changed := r.cleanupDeadLocked()
	var saveErr error
	if changed {
		saveErr = r.saveLocked()
	}
	r.mu.Unlock()
	if saveErr != nil {
		hlog.Error("registry save after cleanup failed", "err", saveErr)
	}
}

// withCore returns a copy of rec with Core coerced to true when rec.Name
// is in the built-in CoreSet.
func withCore(rec AppRecord) AppRecord {
	if IsCoreName(rec.Name) {
		rec.Core = true
	}
	return rec
}

// Get returns a copy of the named record, or ErrUnknownApp. Runs
// cleanup_dead first.
func (r *Registry) Get(name string) (AppRecord, error) {
	r.runCleanupAndMaybeSave()
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.apps[name]
	if !ok {
		return AppRecord{}, ErrUnknownApp
	}
	return withCore(*rec), nil
}

// List returns a copy of every record, sorted by name at the caller's
// discretion (callers needing stable order should sort the result).
// Runs cleanupDead first.
func (r *Registry) List() []AppRecord {
	r.runCleanupAndMaybeSave()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AppRecord, 0, len(r.apps))
	for _, rec := range r.apps {
		out = append(out, withCore(*rec))
	}
	return out
}

// IsRegistered reports whether name exists, after cleanupDead.
func (r *Registry) IsRegistered(name string) bool {
	r.runCleanupAndMaybeSave()
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.apps[name]
	return ok
}

// GetPort returns the port of a registered app, after cleanupDead.
func (r *Registry) GetPort(name string) (int, error) {
	rec, err := r.Get(name)
	if err != nil {
		return 0, err
	}
	return rec.Port, nil
}

// allPortsLocked returns every port currently claimed by a record (alive
// or dead: the allocator must avoid them regardless of liveness).
// Callers must hold WithLock.
func (r *Registry) allPortsLocked() map[int]struct{} {
	used := make(map[int]struct{}, len(r.apps))
	for _, rec := range r.apps {
		used[rec.Port] = struct{}{}
		if rec.WSPort != 0 {
			used[rec.WSPort] = struct{}{}
		}
	}
	return used
}

// WithLock runs fn with the registry mutex held, giving callers (the
// supervisor, the port allocator) a way to perform read-modify-write
// sequences atomically against the same lock that guards Load/Save. fn
// receives direct map access; it must not retain references to the
// records or the map after returning.
func (r *Registry) WithLock(fn func(apps map[string]*AppRecord) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.apps)
}

// UsedPorts returns a snapshot of the ports (port and ws_port) claimed by
// any record. It takes the registry mutex itself, so it must not be
// called from inside WithLock.
func (r *Registry) UsedPorts() map[int]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allPortsLocked()
}

// Save persists the current in-memory map (exported for callers that
// mutated apps via WithLock and now need a separate save step — in
// practice Put/Delete below call saveLocked themselves).
func (r *Registry) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked()
}

// Put inserts or overwrites rec and persists.
func (r *Registry) Put(rec AppRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := rec
	r.apps[rec.Name] = &cp
	return r.saveLocked()
}

// Mutate applies fn to the named record under the lock and persists the
// result. fn receives a pointer to the live record; ErrUnknownApp is
// returned if name doesn't exist.
func (r *Registry) Mutate(name string, fn func(rec *AppRecord)) (AppRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.apps[name]
	if !ok {
		return AppRecord{}, ErrUnknownApp
	}
	fn(rec)
	if err := r.saveLocked(); err != nil {
		return AppRecord{}, err
	}
	return withCore(*rec), nil
}

// Delete removes name and persists, reporting whether it existed.
func (r *Registry) Delete(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.apps[name]; !ok {
		return false, nil
	}
	delete(r.apps, name)
	if err := r.saveLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// ResetCoreProcessState unconditionally clears pid/status on every
// core-named record to registered/nil, even if the stored PID looks
// alive: a PID from a previous container lifetime may have been reused
// by an unrelated process.
func (r *Registry) ResetCoreProcessState() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := false
	for _, rec := range r.apps {
		if !IsCoreName(rec.Name) {
			continue
		}
		if rec.Status != StatusRegistered || rec.PID != nil {
			rec.Status = StatusRegistered
			rec.PID = nil
			rec.StartedAt = nil
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return r.saveLocked()
}
