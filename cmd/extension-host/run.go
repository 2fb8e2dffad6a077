package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/deskwire/extensions/internal/infrastructure/eventbus"
	"github.com/deskwire/extensions/internal/infrastructure/gateway"
	"github.com/deskwire/extensions/internal/infrastructure/manifestio"
	"github.com/deskwire/extensions/internal/infrastructure/redaction"
	"github.com/deskwire/extensions/internal/infrastructure/wasmruntime"
	"github.com/deskwire/extensions/internal/modmanager"
	"github.com/deskwire/extensions/internal/nativemodules/clock"
)

const hostAPIVersion = 1

type runOptions struct {
	modulesDir string
	listenAddr string
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load every installed module and serve the wire-envelope gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHost(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.modulesDir, "modules-dir", "./modules", "directory containing one subdirectory per installed module")
	cmd.Flags().StringVar(&opts.listenAddr, "listen", ":8787", "address the wire-envelope gateway listens on")

	return cmd
}

func runHost(ctx context.Context, opts *runOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := eventbus.New(256)
	mgr := modmanager.New(bus, slog.Default())

	if err := mgr.Register(clock.New(bus, time.Second)); err != nil {
		return fmt.Errorf("register clock module: %w", err)
	}

	redactor, err := redaction.New(redaction.Config{})
	if err != nil {
		slog.Warn("extension-host: redactor construction failed, continuing without gitleaks detection", "error", err)
	}

	loader := manifestio.NewLoader(hostAPIVersion)
	instances, err := loadModules(ctx, opts.modulesDir, loader, bus, redactor, mgr)
	if err != nil {
		return err
	}
	for _, inst := range instances {
		if err := mgr.Register(inst); err != nil {
			return fmt.Errorf("register module: %w", err)
		}
	}

	srv := &http.Server{
		Addr:    opts.listenAddr,
		Handler: gatewayMux(mgr),
	}

	serveErrCh := make(chan error, 1)
	go func() {
		slog.Info("extension-host: gateway listening", "addr", opts.listenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- mgr.RunAll(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-runErrCh:
		if err != nil {
			slog.Error("extension-host: module manager exited", "error", err)
		}
	case err := <-serveErrCh:
		if err != nil {
			slog.Error("extension-host: gateway server exited", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = wasmruntime.CloseGlobalCache(shutdownCtx)

	return nil
}

func gatewayMux(mgr *modmanager.Manager) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", gateway.New(mgr, slog.Default()))
	return mux
}

// loadModules scans modulesDir for one subdirectory per installed module,
// loading and compiling each one. A single module's load failure is logged
// and skipped rather than aborting the whole host.
func loadModules(
	ctx context.Context,
	modulesDir string,
	loader *manifestio.Loader,
	bus *eventbus.Bus,
	redactor *redaction.Redactor,
	mgr *modmanager.Manager,
) ([]*wasmruntime.Instance, error) {
	entries, err := os.ReadDir(modulesDir)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("extension-host: modules directory does not exist, starting with none", "dir", modulesDir)
			return nil, nil
		}
		return nil, fmt.Errorf("read modules directory: %w", err)
	}

	var instances []*wasmruntime.Instance
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(modulesDir, entry.Name())

		m, err := loader.Load(dir)
		if err != nil {
			slog.Error("extension-host: skipping module, manifest load failed", "dir", dir, "error", err)
			continue
		}

		configMap := map[string]string{}
		if err := manifestio.ValidateConfig(m, configMap); err != nil {
			slog.Error("extension-host: skipping module, config does not satisfy config_schema", "module", m.ID, "error", err)
			continue
		}

		binary, err := os.ReadFile(manifestio.BinaryPath(dir))
		if err != nil {
			slog.Error("extension-host: skipping module, failed to read binary", "module", m.ID, "error", err)
			continue
		}

		inst, err := wasmruntime.Load(ctx, wasmruntime.Options{
			ID:         m.ID,
			Dir:        dir,
			Binary:     binary,
			Manifest:   m,
			Bus:        bus,
			ConfigMap:  configMap,
			Redactor:   wasmruntime.AdaptRedactor(redactor),
			StorageDir: manifestio.StorageDir(dir),
			Call:       callThrough(mgr),
		})
		if err != nil {
			slog.Error("extension-host: skipping module, load failed", "module", m.ID, "error", err)
			continue
		}

		instances = append(instances, inst)
	}
	return instances, nil
}

// callThrough builds the driver-call forwarding closure wasmruntime.Options
// needs: route the call as a Module Command and block for its result.
func callThrough(mgr *modmanager.Manager) func(ctx context.Context, module, name string, version int, paramsJSON string) (string, error) {
	return func(ctx context.Context, module, name string, version int, paramsJSON string) (string, error) {
		resultCh := make(chan modmanager.Result, 1)
		cmd := modmanager.Command{Action: name, Params: json.RawMessage(paramsJSON), Result: resultCh}
		if err := mgr.RouteCommand(ctx, module, cmd); err != nil {
			return "", err
		}
		select {
		case res := <-resultCh:
			if res.Err != nil {
				return "", res.Err
			}
			return string(res.Data), nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
