// Command server runs the durableflow engine: a chi REST surface backed by
// a SQLite checkpoint store, an in-process event bus, and a crash recovery
// sweep that resumes interrupted exchanges on startup.
//
// Wiring follows the teacher's examples/human_in_the_loop/main.go
// (construct store, emitter, engine, then run) and
// examples/prometheus_monitoring/main.go (custom Prometheus registry,
// metrics exposed on their own endpoint, plain log.Fatalf on setup errors).
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/durableflow/durableflow/internal/approval"
	"github.com/durableflow/durableflow/internal/config"
	"github.com/durableflow/durableflow/internal/eventbus"
	"github.com/durableflow/durableflow/internal/httpapi"
	"github.com/durableflow/durableflow/internal/llmadapter"
	"github.com/durableflow/durableflow/internal/metrics"
	"github.com/durableflow/durableflow/internal/recovery"
	"github.com/durableflow/durableflow/internal/routeengine"
	"github.com/durableflow/durableflow/internal/statemachine"
	"github.com/durableflow/durableflow/internal/store"
)

func main() {
	cfg := config.Load()

	log.Printf("opening store at %s", cfg.DatabasePath)
	s, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Printf("close store: %v", err)
		}
	}()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		log.Println("metrics server listening on :9090")
		if err := http.ListenAndServe(":9090", nil); err != nil {
			log.Printf("metrics server error: %v", err)
		}
	}()

	bus := eventbus.New()
	bus.SetDebugSink(eventbus.NewDebugSink(os.Stderr, false))
	manager := statemachine.New(s, bus)
	approvals := approval.New(s, manager, bus)

	model := llmadapter.NewGeminiModel(cfg.GeminiAPIKey, cfg.GeminiModelName, cfg.GeminiTemperature)

	routes := routeengine.NewRegistry()
	routes.Register(routeengine.NewChatDurableRoute(s, model, cfg.MaxPayloadBytes))

	approvalTimeout := time.Duration(cfg.ApprovalTimeoutMinutes * float64(time.Minute))
	runner := routeengine.NewDurableStepRunner(manager, approvals, s, m, routes, approvalTimeout)

	recoverySvc := recovery.New(s, manager, approvals, runner, bus)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	log.Println("running crash recovery sweep...")
	if err := recoverySvc.OnStartup(startupCtx); err != nil {
		log.Fatalf("crash recovery startup sweep: %v", err)
	}
	cancelStartup()

	recoveryCtx, stopRecovery := context.WithCancel(context.Background())
	recoverySvc.Start(recoveryCtx)
	defer func() {
		stopRecovery()
		recoverySvc.Stop()
	}()

	api := httpapi.New(s, manager, approvals, runner, bus, m)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("REST surface listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown: %v", err)
	}
}
