package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.json")
	return New(path)
}

func TestPutGetRoundTrip(t *testing.T) {
	r := newTestRegistry(t)
	rec := AppRecord{
		Name:      "demo",
		Port:      9000,
		Cmd:       "python app.py",
		CWD:       "/tmp/demo",
		Status:    StatusRegistered,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.Put(rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := r.Get("demo")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Port != 9000 || got.Cmd != "python app.py" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestGetUnknownApp(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Get("missing"); err != ErrUnknownApp {
		t.Fatalf("expected ErrUnknownApp, got %v", err)
	}
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doesnotexist.json")
	r := New(path)
	if err := r.Load(); err != nil {
		t.Fatalf("Load of missing file should not error: %v", err)
	}
	if len(r.List()) != 0 {
		t.Fatalf("expected empty registry")
	}
}

func TestLoadCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := New(path)
	if err := r.Load(); err != nil {
		t.Fatalf("Load of corrupt file should not be fatal: %v", err)
	}
	if len(r.List()) != 0 {
		t.Fatalf("expected empty registry after corrupt parse")
	}
}

func TestCleanupDeadDowngradesStaleRunning(t *testing.T) {
	r := newTestRegistry(t)
	// A PID that's essentially guaranteed not to exist.
	deadPID := 1 << 30
	rec := AppRecord{
		Name:   "dead",
		Port:   9010,
		Status: StatusRunning,
		PID:    &deadPID,
	}
	if err := r.Put(rec); err != nil {
		t.Fatal(err)
	}
	got, err := r.Get("dead")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusStopped || got.PID != nil {
		t.Fatalf("expected cleanup_dead to downgrade, got status=%s pid=%v", got.Status, got.PID)
	}
}

func TestRemoveCoreAppNotEnforcedByRegistry(t *testing.T) {
	// Registry itself doesn't enforce the core-removal rule -- that's
	// the supervisor's job (ErrCoreApp). Registry.Delete just deletes.
	r := newTestRegistry(t)
	if err := r.Put(AppRecord{Name: "dashboard", Port: 9001, Status: StatusRegistered, Core: true}); err != nil {
		t.Fatal(err)
	}
	ok, err := r.Delete("dashboard")
	if err != nil || !ok {
		t.Fatalf("Delete: ok=%v err=%v", ok, err)
	}
}

func TestWithCoreCoercesCoreSetNames(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Put(AppRecord{Name: "dashboard", Port: 9001, Status: StatusRegistered, Core: false}); err != nil {
		t.Fatal(err)
	}
	got, err := r.Get("dashboard")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Core {
		t.Fatalf("expected dashboard to be coerced to core=true")
	}
}

func TestUnknownFieldsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	raw := `{"demo":{"name":"demo","port":9000,"cmd":"x","cwd":"/tmp","status":"registered","pid":null,"created_at":"2024-01-01T00:00:00Z","future_field":"keep-me"}}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	r := New(path)
	if err := r.Load(); err != nil {
		t.Fatal(err)
	}
	if err := r.Save(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !contains(string(data), `"future_field":"keep-me"`) {
		t.Fatalf("expected unknown field to survive round-trip, got: %s", data)
	}
}

func TestResetCoreProcessStateClearsLiveLookingPID(t *testing.T) {
	r := newTestRegistry(t)
	pid := os.Getpid() // definitely alive, but still must be cleared for core apps
	if err := r.Put(AppRecord{Name: "dashboard", Port: 9001, Status: StatusRunning, PID: &pid}); err != nil {
		t.Fatal(err)
	}
	if err := r.ResetCoreProcessState(); err != nil {
		t.Fatal(err)
	}
	got, err := r.Get("dashboard")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusRegistered || got.PID != nil {
		t.Fatalf("expected boot recovery to reset core app regardless of liveness, got status=%s pid=%v", got.Status, got.PID)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}

func TestValidName(t *testing.T) {
	cases := map[string]bool{
		"demo":     true,
		"demo-1":   true,
		"demo_1":   true,
		"":         false,
		"de mo":    false,
		"de/mo":    false,
	}
	for name, want := range cases {
		if got := ValidName(name); got != want {
			t.Errorf("ValidName(%q) = %v, want %v", name, got, want)
		}
	}
}
