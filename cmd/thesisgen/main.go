// Command thesisgen runs the thesis management service: persistent project,
// source and task storage, AI-assisted generation, draft blobs, exports and
// the HTTP surface the single-page client talks to.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	slogmulti "github.com/samber/slog-multi"

	"thesisgen/internal/blob"
	"thesisgen/internal/config"
	"thesisgen/internal/core"
	"thesisgen/internal/exports"
	"thesisgen/internal/generate"
	"thesisgen/internal/httpapi"
	"thesisgen/internal/identity"
	"thesisgen/internal/shell"
)

func main() {
	var (
		addr       = flag.String("addr", "", "HTTP listen address (default :8080)")
		configPath = flag.String("config", "", "path to the YAML override file")
		spaRoot    = flag.String("spa", "", "directory with the single-page client build")
		logPath    = flag.String("log-file", "", "also write JSON logs to this file")
		demo       = flag.Bool("demo", false, "run fully offline with seeded demo data")
	)
	flag.Parse()

	logger, closeLogs, err := newLogger(*logPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closeLogs()

	if err := run(logger, *addr, *configPath, *spaRoot, *demo); err != nil {
		logger.Error("exiting", "error", err.Error())
		os.Exit(1)
	}
}

func newLogger(logPath string) (*slog.Logger, func(), error) {
	handlers := []slog.Handler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}),
	}
	closeLogs := func() {}
	if logPath != "" {
		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug}))
		closeLogs = func() { _ = file.Close() }
	}
	return slog.New(slogmulti.Fanout(handlers...)), closeLogs, nil
}

func run(logger *slog.Logger, addr, configPath, spaRoot string, demo bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	metrics, err := core.NewPrometheusMetricsRecorder(registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	serviceLogger := core.NewSlogLogger(logger)

	var (
		app       *shell.Shell
		scheduler *exports.Worker
	)
	if demo {
		app, err = shell.NewDemo(shell.WithLogger(serviceLogger))
		if err != nil {
			return fmt.Errorf("start demo: %w", err)
		}
		logger.Info("demo mode: offline, seeded data, nothing persists")
	} else {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if addr == "" {
			addr = cfg.ListenAddr
		}

		store, err := core.OpenPersistentStore(core.NewDefaultRulesEngine())
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		drafts, err := blob.Open(ctx)
		if err != nil {
			return fmt.Errorf("open blob store: %w", err)
		}

		var generator generate.Generator = generate.NewGeminiClient(cfg.GenerationAPIKey)
		providerOpts := []identity.RESTOption{}
		if cfg.IdentityEndpoint != "" {
			providerOpts = append(providerOpts, identity.WithBaseURL(cfg.IdentityEndpoint))
		}
		provider := identity.NewRESTProvider(cfg.IdentityAPIKey, providerOpts...)

		serviceOpts := []core.ServiceOption{
			core.WithLogger(serviceLogger),
			core.WithMetricsRecorder(metrics),
		}
		if cfg.GenerationModel != "" {
			serviceOpts = append(serviceOpts, core.WithModel(cfg.GenerationModel))
		}
		service := core.NewService(store, generator, drafts, serviceOpts...)

		app = shell.New(service, provider, shell.WithLogger(serviceLogger))
		if err := app.Initialize(ctx, cfg); err != nil {
			var missing *config.MissingCredentialsError
			if !errors.As(err, &missing) {
				return err
			}
			// The setup screen stays reachable; the process keeps serving.
			logger.Warn("starting in setup", "error", err.Error())
		}
	}
	defer app.Close()

	service := app.Service()
	scheduler = exports.NewWorker(service.Store(), service.Drafts(), nil)
	scheduler.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = scheduler.Stop(shutdownCtx)
	}()

	handlerOpts := []httpapi.Option{
		httpapi.WithLogger(serviceLogger),
		httpapi.WithExports(scheduler),
		httpapi.WithMetricsRegistry(registry),
	}
	if spaRoot != "" {
		handlerOpts = append(handlerOpts, httpapi.WithSPARoot(spaRoot))
	}
	handler := httpapi.NewHandler(service, handlerOpts...)

	if addr == "" {
		addr = ":8080"
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "state", string(app.State()))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}
