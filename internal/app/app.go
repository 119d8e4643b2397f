package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	server "vitals/server"
	"vitals/server/internal/config"
	"vitals/server/internal/execution"
	servernet "vitals/server/internal/net"
	"vitals/server/internal/observability"
	"vitals/server/internal/storage/sqlite"
	"vitals/server/internal/telemetry"
	"vitals/server/internal/templates"
	"vitals/server/logging"
	loggingSinks "vitals/server/logging/sinks"
)

const shutdownTimeout = 5 * time.Second

// Run wires the hub to its configured collaborators and serves HTTP until
// ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, logger telemetry.Logger) error {
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	fallbackLogger := log.Default()
	if provider, ok := logger.(interface{ StandardLogger() *log.Logger }); ok {
		if candidate := provider.StandardLogger(); candidate != nil {
			fallbackLogger = candidate
		}
	}

	shutdownTracing, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Printf("failed to shut down tracing: %v", err)
		}
	}()

	logConfig := cfg.Logging()
	namedSinks, closeSinks, err := buildSinks(logConfig)
	if err != nil {
		return err
	}
	defer closeSinks()
	router := logging.NewRouter(logConfig, namedSinks)
	defer func() {
		if cerr := router.Close(context.Background()); cerr != nil {
			logger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	catalog := templates.NewCatalog()
	if cfg.TemplatesPath != "" {
		catalog, err = templates.Load(cfg.TemplatesPath)
		if err != nil {
			return err
		}
	}

	var modifiers []execution.Modifier
	if cfg.ModifierScript != "" {
		script, err := execution.LoadScript(cfg.ModifierScript)
		if err != nil {
			return err
		}
		logger.Printf("damage modifier script %s loaded", script.Name())
		modifiers = append(modifiers, script)
	}

	hubCfg := server.DefaultHubConfig()
	hubCfg.Logger = logger
	hubCfg.Metrics = &telemetry.Counters{}
	hubCfg.KeyframeInterval = cfg.KeyframeIntervalTicks
	hubCfg.KeyframeCapacity = cfg.KeyframeCapacity
	hubCfg.KeyframeMaxAge = cfg.KeyframeMaxAge
	hubCfg.DeathDurationTicks = cfg.DeathDurationTicks
	hubCfg.AutoStartDeath = cfg.AutoStartDeath
	hubCfg.Catalog = catalog
	hubCfg.DamageModifiers = modifiers

	if cfg.StorePath != "" {
		store, err := sqlite.Open(cfg.StorePath)
		if err != nil {
			return fmt.Errorf("failed to open snapshot store: %w", err)
		}
		defer store.Close()
		hubCfg.Store = store
	}

	hub := server.NewHub(hubCfg, router)
	restored, err := hub.RestoreFromStore(ctx)
	if err != nil {
		return err
	}
	if restored > 0 {
		logger.Printf("restored %d actors from %s", restored, cfg.StorePath)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.WatchTemplates && cfg.TemplatesPath != "" {
		watcher, err := templates.NewWatcher(cfg.TemplatesPath, 0)
		if err != nil {
			return fmt.Errorf("failed to watch templates: %w", err)
		}
		defer watcher.Close()
		go watchTemplates(runCtx, hub, watcher, logger)
	}

	go hub.RunSimulation(runCtx, cfg.TickInterval())

	handler := servernet.NewHTTPHandler(hub, servernet.HTTPHandlerConfig{
		Logger:           fallbackLogger,
		TickRate:         cfg.TickRate,
		EnablePprofTrace: cfg.Observability.EnablePprofTrace,
	})
	srv := &http.Server{Addr: cfg.Addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("server listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("failed to shut down http server: %v", err)
	}
	cancel()
	hub.Close(shutdownCtx)
	return nil
}

// buildSinks opens every enabled sink. The returned func closes files the
// sinks write to.
func buildSinks(cfg logging.Config) ([]logging.NamedSink, func(), error) {
	var (
		named []logging.NamedSink
		files []*os.File
	)
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	for _, name := range cfg.EnabledSinks {
		switch strings.TrimSpace(name) {
		case "console":
			named = append(named, logging.NamedSink{Name: "console", Sink: loggingSinks.NewConsole(os.Stdout)})
		case "memory":
			named = append(named, logging.NamedSink{Name: "memory", Sink: loggingSinks.NewMemorySink()})
		case "json":
			f, err := os.OpenFile(cfg.JSON.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("failed to open JSON log %s: %w", cfg.JSON.FilePath, err)
			}
			files = append(files, f)
			named = append(named, logging.NamedSink{Name: "json", Sink: loggingSinks.NewJSON(f, cfg.JSON.FlushInterval)})
		}
	}
	return named, closeAll, nil
}

func watchTemplates(ctx context.Context, hub *server.Hub, watcher *templates.Watcher, logger telemetry.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case path, ok := <-watcher.Events:
			if !ok {
				return
			}
			next, err := templates.Load(path)
			if err != nil {
				logger.Printf("keeping current templates: %v", err)
				continue
			}
			if changed := hub.ReloadTemplates(ctx, next); len(changed) > 0 {
				logger.Printf("templates reloaded, changed: %s", strings.Join(changed, ", "))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Printf("template watcher error: %v", err)
		}
	}
}
