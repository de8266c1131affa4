// Package main is the entry point for the heatmap server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atlasmap-sc/heatmap/internal/api"
	"github.com/atlasmap-sc/heatmap/internal/cache"
	"github.com/atlasmap-sc/heatmap/internal/config"
	"github.com/atlasmap-sc/heatmap/internal/data/payload"
	"github.com/atlasmap-sc/heatmap/internal/metrics"
	"github.com/atlasmap-sc/heatmap/internal/queue"
	"github.com/atlasmap-sc/heatmap/internal/render"
	"github.com/atlasmap-sc/heatmap/internal/service"
	"github.com/atlasmap-sc/heatmap/internal/session"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
	log.Println("Server stopped")
}

func run(cfg *config.Config) error {
	log.Printf("Starting heatmap server on port %d", cfg.Server.Port)

	m := metrics.New()

	cacheManager, err := cache.NewManager(cache.Config{
		ResponseCacheSizeMB: cfg.Cache.ResponseSizeMB,
		ResponseTTL:         cfg.Cache.ResponseTTL(),
		TreeCacheSize:       cfg.Cluster.TreeCacheSize,
		Metrics:             m,
	})
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	defer cacheManager.Close()

	decoder, err := payload.NewDecoder(cfg.Server.MaxPayloadBytes())
	if err != nil {
		return fmt.Errorf("initialize payload decoder: %w", err)
	}
	defer decoder.Close()

	ctrl, err := session.New(session.Config{
		Distance:      cfg.Cluster.Distance,
		Linkage:       cfg.Cluster.Linkage,
		Dendrogram:    cfg.View.Dendrogram,
		ShowVariation: cfg.View.ShowVariation,
	}, session.WithDecoder(decoder), session.WithCache(cacheManager), session.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("initialize session: %w", err)
	}
	defer ctrl.Close()

	for _, name := range cfg.Data.Available {
		if _, err := ctrl.AddAvailableDataset(name); err != nil {
			log.Printf("Skipping available dataset %q: %v", name, err)
		}
	}
	log.Printf("Clustering: distance=%s linkage=%s, %d available dataset(s)",
		cfg.Cluster.Distance, cfg.Cluster.Linkage, len(ctrl.AvailableDatasets()))

	// The hub is assigned before the queue starts running.
	var hub *api.Hub
	q := queue.New(queue.Config{
		Capacity:     cfg.Queue.Capacity,
		TickInterval: cfg.Queue.TickInterval(),
		Watchdog:     cfg.Queue.Watchdog(),
	}, ctrl.ApplyPayload,
		queue.WithMetrics(m),
		queue.WithOnResult(func(res queue.Result) {
			if res.Err != nil {
				log.Printf("Payload %d %s: %v", res.Generation, res.Outcome, res.Err)
			}
			hub.QueueResult(res)
		}),
	)
	// REST and WebSocket ingest draw from one budget.
	limiter := api.NewIngestLimiter(cfg.Server.IngestRate, cfg.Server.IngestBurst)
	hub = api.NewHub(ctrl, q, api.HubConfig{
		MaxPayloadBytes: cfg.Server.MaxPayloadBytes(),
		Limiter:         limiter,
		AllowedOrigins:  cfg.Server.CORSOrigins,
		Metrics:         m,
	})
	ctrl.AddListener(hub)
	defer hub.Close()

	if path := cfg.Data.PayloadPath; path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read startup payload: %w", err)
		}
		q.Enqueue(raw)
		log.Printf("Queued startup payload from %s (%d bytes)", path, len(raw))
	}

	svc := service.NewHeatmapService(service.HeatmapServiceConfig{
		Session: ctrl,
		Cache:   cacheManager,
		Renderer: render.NewHeatmapRenderer(render.Config{
			CellWidth:        cfg.Render.CellWidth,
			CellHeight:       cfg.Render.CellHeight,
			DendrogramHeight: cfg.Render.DendrogramHeight,
			DefaultColormap:  cfg.Render.DefaultColormap,
			DiscreteSteps:    cfg.Render.DiscreteSteps,
		}),
	})

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Service:         svc,
		Queue:           q,
		Hub:             hub,
		Metrics:         m,
		CORSOrigins:     cfg.Server.CORSOrigins,
		Limiter:         limiter,
		MaxPayloadBytes: cfg.Server.MaxPayloadBytes(),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return q.Run(ctx)
	})
	g.Go(func() error {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Println("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		hub.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server forced to shutdown: %v", err)
		}
		return nil
	})

	return g.Wait()
}
