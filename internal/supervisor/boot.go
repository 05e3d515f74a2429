package supervisor

import (
	"path/filepath"

	"github.com/hangarhq/hangar/internal/registry"
)

// Boot performs the supervisor's startup sequence: load the registry
// (which already runs cleanupDead once), unconditionally reset core
// apps' pid/status (a stored PID from a previous container lifetime may
// have been reused by an unrelated process), seed any missing core
// apps, then start every autostart-flagged app. It returns the list of
// app names that were autostarted.
func (s *Supervisor) Boot(appsDir string) ([]string, error) {
	if err := s.Registry.Load(); err != nil {
		return nil, err
	}
	if err := s.Registry.ResetCoreProcessState(); err != nil {
		return nil, err
	}
	if err := s.seedCoreApps(appsDir); err != nil {
		return nil, err
	}
	return s.AutostartAll(), nil
}

// seedCoreApps registers any CoreSet app that isn't already present. The
// registry's CoreSet only names *which* records are core; this supplies
// concrete seed data for them so a fresh apps directory boots with a
// usable dashboard rather than an empty registry.
func (s *Supervisor) seedCoreApps(appsDir string) error {
	for name := range registry.CoreSet {
		if s.Registry.IsRegistered(name) {
			continue
		}
		seed, ok := coreSeeds[name]
		if !ok {
			continue
		}
		port, err := s.Allocator.Next()
		if err != nil {
			return err
		}
		_, err = s.RegisterApp(name, seed.cmd, filepath.Join(appsDir, name), port, RegisterOptions{
			Description: seed.description,
			Autostart:   seed.autostart,
			Core:        true,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

type coreSeed struct {
	cmd         string
	description string
	autostart   bool
}

// coreSeeds supplies a command/description for CoreSet entries that have
// a known default implementation. A CoreSet name with no entry here
// (e.g. an operator-defined core app from a previous version) is left
// for the operator to register manually — seeding never fabricates a
// command for a name it doesn't recognize.
var coreSeeds = map[string]coreSeed{
	"dashboard": {
		cmd:         "exec hangar-dashboard",
		description: "Lists every registered app and its status.",
		autostart:   true,
	},
	"shared-browser": {
		cmd:         "exec chromium --headless=new --remote-debugging-port=9222 --remote-debugging-address=127.0.0.1",
		description: "Shared headless browser exposing a CDP endpoint on 127.0.0.1:9222.",
		autostart:   false,
	},
}
