package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"trailguard/internal/api"
	"trailguard/pkg/assess"
	"trailguard/pkg/config"
	"trailguard/pkg/db"
	"trailguard/pkg/detector"
	"trailguard/pkg/dispatch"
	"trailguard/pkg/logging"
	"trailguard/pkg/probe"
	"trailguard/pkg/store"
	"trailguard/pkg/tracker"
	"trailguard/pkg/training"
	"trailguard/pkg/version"
	"trailguard/pkg/zones"
)

var (
	configPath = flag.String("config", "configs/trailguard.yaml", "Path to the config file")
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
)

func main() {
	flag.Parse()

	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config file generated:", *configPath)
		return
	}

	if err := run(context.Background(), *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Secrets (webhook token etc.) come from .env in development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("TrailGuard Started", "version", version.Version)

	dbConn, st, err := initDB(appCfg)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	if retention := time.Duration(appCfg.DB.Retention); retention > 0 {
		if pruned, err := dbConn.PruneLocations(retention); err != nil {
			slog.Error("Location pruning failed", "error", err)
		} else if pruned > 0 {
			slog.Info("Pruned old location history", "rows", pruned, "retention", retention)
		}
	}

	idx := zones.NewIndex(st)
	if err := idx.Reload(ctx); err != nil {
		return fmt.Errorf("failed to load zone index: %w", err)
	}
	restricted, safe := idx.Counts()
	slog.Info("Zone index loaded", "restricted", restricted, "safe", safe)

	reg := detector.NewRegistry()
	tr := tracker.New()
	disp := dispatch.New(st, st, appCfg.Webhook)
	engine := assess.New(st, idx, reg, disp, tr, appCfg)

	sched := training.New(st, reg, appCfg)
	go sched.Start(ctx)

	results := probe.Run(ctx, []probe.Probe{
		{
			Name:     "Database",
			Check:    func(c context.Context) error { return dbConn.PingContext(c) },
			Critical: true,
		},
		{
			Name:     "Emergency Webhook",
			Check:    func(context.Context) error { return checkWebhook(appCfg.Webhook.URL) },
			Critical: false,
		},
	})
	if err := probe.AnalyzeResults(results); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	srv := api.NewServer(appCfg.Server.Address, dbConn,
		api.NewTelemetryHandler(engine, tr, appCfg.Server.IngestHighWater),
		api.NewTouristHandler(st),
		api.NewAlertHandler(st),
		api.NewAIHandler(st, sched, tr, appCfg.Heatmap),
		api.NewZoneHandler(st, idx),
		api.NewWSHandler(disp),
	)
	return runServerLifecycle(ctx, srv)
}

func initDB(appCfg *config.Config) (*db.DB, store.Store, error) {
	dbConn, err := db.Init(appCfg.DB.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return dbConn, store.NewSQLiteStore(dbConn), nil
}

// checkWebhook validates the emergency webhook configuration. An empty
// URL is a failure so operators see it in the startup summary; alerts
// still raise locally without it.
func checkWebhook(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("not configured, emergency notifications disabled")
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid webhook URL %q", rawURL)
	}
	return nil
}

func runServerLifecycle(ctx context.Context, srv *http.Server) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
