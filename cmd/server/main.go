// Package main is the entry point for the StaySync calendar sync server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/staysync/backend/internal/api"
	"github.com/staysync/backend/internal/calendar"
	"github.com/staysync/backend/internal/config"
	"github.com/staysync/backend/internal/reconcile"
	"github.com/staysync/backend/internal/storage"
	"github.com/staysync/backend/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
// Defaults to "dev" when not provided.
var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	addr := flag.String("addr", "", "HTTP server address (overrides config)")
	healthCheck := flag.Bool("health-check", false, "Run health check and exit")
	flag.Parse()

	// Local development convenience; silently absent in production.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Listen = *addr
	}

	// Health check mode for Docker HEALTHCHECK
	if *healthCheck {
		if err := runHealthCheck(cfg.Listen); err != nil {
			log.Fatalf("Health check failed: %v", err)
		}
		os.Exit(0)
	}

	if envVer := os.Getenv("VERSION"); envVer != "" {
		version = envVer
	}

	log.Printf("Starting StaySync calendar sync server (version: %s)...", version)

	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("Failed to resolve timezone: %v", err)
	}

	// Initialize database
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data directory %q: %v", cfg.DataDir, err)
	}
	db, err := storage.NewDB(cfg.DBPath())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := storage.RunMigrations(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations complete")

	// Initialize WebSocket hub
	hub := websocket.NewHub()
	go hub.Run()
	broadcaster := websocket.NewEventBroadcaster(hub)

	// Initialize repositories
	unitRepo := storage.NewUnitRepository(db)
	bookingRepo := storage.NewBookingRepository(db)
	eventRepo := storage.NewEventRepository(db)
	rateRepo := storage.NewRateRepository(db)
	ackRepo := storage.NewAckRepository(db)

	// Initialize services
	syncService := calendar.NewSyncService(
		db, unitRepo, eventRepo,
		cfg.FeedTimeout(), loc, cfg.MarkerPath(), cfg.MaxParallelSyncs,
	)
	reconciler := reconcile.NewReconciler(
		db, bookingRepo, eventRepo, unitRepo, rateRepo,
		cfg.GraceDays, cfg.ClampDays,
	)
	applier := reconcile.NewApplier(db, bookingRepo, eventRepo)
	exporter := calendar.NewExporter(unitRepo, bookingRepo, loc)

	// Each sync cycle ends with a full reconcile pass.
	reconcileAll := func(ctx context.Context) error {
		report, err := reconciler.Reconcile(ctx, reconcile.Options{})
		if err != nil {
			return err
		}
		broadcaster.BroadcastReconcileCompleted(websocket.ReconcilePayload{
			Processed:          report.Processed,
			Matched:            report.Matched,
			Conflicts:          report.Conflicts,
			SuspectedCancelled: report.SuspectedCancelled,
			PlaceholdersMade:   report.PlaceholdersCreated,
			DryRun:             report.DryRun,
		})
		if report.Conflicts > 0 || report.SuspectedCancelled > 0 {
			broadcaster.BroadcastNotification("warning", "Calendar review needed",
				fmt.Sprintf("%d conflict(s) and %d suspected cancellation(s) after the latest sync.",
					report.Conflicts, report.SuspectedCancelled))
		}
		return nil
	}

	scheduler := calendar.NewScheduler(syncService, reconcileAll, hub, cfg.SyncIntervalMinutes)
	if err := scheduler.Start(context.Background()); err != nil {
		log.Printf("Warning: Failed to start sync scheduler: %v", err)
	}

	router := api.NewRouter(api.Services{
		DB:                   db,
		Hub:                  hub,
		Broadcaster:          broadcaster,
		Units:                unitRepo,
		Bookings:             bookingRepo,
		Events:               eventRepo,
		Acks:                 ackRepo,
		Rates:                rateRepo,
		Scheduler:            scheduler,
		Exporter:             exporter,
		Reconciler:           reconciler,
		Applier:              applier,
		ExportIncludeDetails: cfg.ExportIncludeDetails,
	})

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server listening on %s", cfg.Listen)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(addr string) error {
	if addr != "" && addr[0] == ':' {
		addr = "localhost" + addr
	}
	resp, err := http.Get("http://" + addr + "/api/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return http.ErrAbortHandler
	}
	return nil
}
