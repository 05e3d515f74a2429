package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	want := Default()
	want.RegistryPath = filepath.Join(want.AppsDir, ".app_registry.json")
	if cfg != want {
		t.Fatalf("got %+v, want %+v", cfg, want)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hangar.yaml")
	yaml := "apps_dir: /srv/apps\nouter_addr: \":8080\"\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AppsDir != "/srv/apps" {
		t.Fatalf("got AppsDir=%q", cfg.AppsDir)
	}
	if cfg.OuterAddr != ":8080" {
		t.Fatalf("got OuterAddr=%q", cfg.OuterAddr)
	}
	if cfg.RegistryPath != filepath.Join("/srv/apps", ".app_registry.json") {
		t.Fatalf("expected derived registry path, got %q", cfg.RegistryPath)
	}
}

func TestApplyEnvOverridesFileAndDefaults(t *testing.T) {
	t.Setenv("HANGAR_OUTER_ADDR", ":9999")
	t.Setenv("HANGAR_PORT_LOW", "8000")
	t.Setenv("HANGAR_PORT_HIGH", "8099")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OuterAddr != ":9999" {
		t.Fatalf("got %q", cfg.OuterAddr)
	}
	if cfg.PortRange.Low != 8000 || cfg.PortRange.High != 8099 {
		t.Fatalf("got %+v", cfg.PortRange)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "hangar.yaml")
	cfg := Default()
	cfg.AppsDir = "/var/hangar/apps"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.AppsDir != "/var/hangar/apps" {
		t.Fatalf("got %q", got.AppsDir)
	}
}

func TestLoadCorruptFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hangar.yaml")
	if err := os.WriteFile(path, []byte("apps_dir: [this is not valid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for malformed yaml")
	}
}
