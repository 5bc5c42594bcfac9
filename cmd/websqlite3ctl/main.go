// Package main is the optional CLI wrapper around a websqlite3.Client:
// it loads configuration, starts the metrics and health HTTP servers,
// and handles graceful shutdown.
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

	"github.com/joao-brasil/websqlite3"
	"github.com/joao-brasil/websqlite3/internal/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var configPath = flag.String("config", "configs/websqlite3.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[main] starting websqlite3ctl")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[main] failed to load configuration: %v", err)
	}
	log.Printf("[main] configuration loaded: database=%s pool=%d-%d",
		cfg.Connection.Database, cfg.Pool.MinSize, cfg.Pool.MaxSize)

	client := websqlite3.NewClient(cfg)

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		log.Fatalf("[main] failed to connect: %v", err)
	}
	defer func() {
		log.Println("[main] closing client...")
		if err := client.Close(); err != nil {
			log.Printf("[main] client close error: %v", err)
		}
	}()
	log.Println("[main] client ready")

	checker, err := client.HealthChecker()
	if err != nil {
		log.Fatalf("[main] failed to build health checker: %v", err)
	}
	healthServer := checker.ServeHTTP(ctx)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port+1),
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[main] metrics server listening on :%d/metrics", cfg.Server.Port+1)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[main] metrics server error: %v", err)
		}
	}()

	log.Println("[main] running initial health check...")
	report := checker.Check(ctx)
	for _, comp := range report.Components {
		log.Printf("[main]   %s: %s (%s, %s)", comp.Name, comp.Status, comp.Message, comp.Latency)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Println("[main] ready, waiting for shutdown signal...")
	sig := <-sigCh
	log.Printf("[main] received signal %v, shutting down gracefully...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] health server shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] metrics server shutdown error: %v", err)
	}

	log.Println("[main] shutdown complete.")
}
