// Command hangard is the supervisor daemon: it loads the registry, boots
// core apps and autostart-flagged apps, then serves the REST surface and
// reverse proxy on a single listener until signalled to stop.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/hangarhq/hangar/internal/config"
	"github.com/hangarhq/hangar/internal/hlog"
	"github.com/hangarhq/hangar/internal/portalloc"
	"github.com/hangarhq/hangar/internal/proxy"
	"github.com/hangarhq/hangar/internal/registry"
	"github.com/hangarhq/hangar/internal/restapi"
	"github.com/hangarhq/hangar/internal/supervisor"
	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "hangard",
		Short: "hangar supervisor daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "hangar.yaml", "path to hangar.yaml")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := hlog.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := os.MkdirAll(cfg.AppsDir, 0o755); err != nil {
		return fmt.Errorf("create apps dir %s: %w", cfg.AppsDir, err)
	}

	// Only one daemon may own a given apps directory at a time: a second
	// hangard against the same registry file would race on PID bookkeeping
	// and process-group signals.
	lockPath := filepath.Join(cfg.AppsDir, ".hangard.lock")
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", lockPath, err)
	}
	if !locked {
		return fmt.Errorf("another hangard already holds %s", lockPath)
	}
	defer lock.Unlock()

	reg := registry.New(cfg.RegistryPath)
	alloc := portalloc.New(reg, cfg.PortRange.Low, cfg.PortRange.High)
	sup := supervisor.New(reg, alloc)

	started, err := sup.Boot(cfg.AppsDir)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	hlog.Info("boot complete", "autostarted", started)

	mux := http.NewServeMux()
	api := restapi.New(reg, sup, alloc, cfg.AppsDir)
	api.Mount(mux)

	p := proxy.New(reg, mux)

	httpSrv := &http.Server{
		Addr:    cfg.OuterAddr,
		Handler: p,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		hlog.Info("hangard listening", "addr", cfg.OuterAddr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		hlog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
