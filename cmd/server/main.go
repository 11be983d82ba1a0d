package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nulzo/uniapi/cmd"
	"github.com/nulzo/uniapi/internal/analytics"
	"github.com/nulzo/uniapi/internal/auth"
	"github.com/nulzo/uniapi/internal/cli"
	"github.com/nulzo/uniapi/internal/config"
	"github.com/nulzo/uniapi/internal/core/services"
	"github.com/nulzo/uniapi/internal/gateway"
	"github.com/nulzo/uniapi/internal/httpclient"
	"github.com/nulzo/uniapi/internal/platform/logger"
	"github.com/nulzo/uniapi/internal/platform/otel"
	"github.com/nulzo/uniapi/internal/server"
	"github.com/nulzo/uniapi/internal/store/backend"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Initialize(logger.DefaultConfig())
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Initialize(logger.FromSettings(cfg.Log.Level, cfg.Log.Format))
	defer logger.Sync()
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdown, err := otel.InitTracer(otel.Config{
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: cmd.AppVersion,
		}, log, os.Stdout)
		if err != nil {
			logger.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		defer func() {
			_ = shutdown(context.Background())
		}()
	}

	store, err := backend.Open(ctx, cfg, log)
	if err != nil {
		logger.Fatal("Failed to open store", zap.String("driver", cfg.StoreDriver()), zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close store", zap.Error(err))
		}
	}()

	catalog := services.NewProviderCatalog(store.Repo.Providers(), log)
	seeded, err := catalog.Seed(ctx, cfg.Providers)
	if err != nil {
		logger.Fatal("Failed to seed providers", zap.Error(err))
	}
	if err := catalog.Refresh(ctx); err != nil {
		logger.Fatal("Failed to load providers", zap.Error(err))
	}
	go catalog.Run(ctx, cfg.Store.RefreshInterval)

	ingestor := analytics.NewIngestor(log, store.Repo.Requests())
	// Stop drains the buffer after the listener has closed.
	ingestor.Start(context.WithoutCancel(ctx))

	tracker := services.NewHealthTracker(store.Cache, log)
	forwarder := gateway.NewForwarder(httpclient.NewTransportClient(), cfg.Upstream.Timeout, log)
	gw := gateway.NewService(log, catalog, forwarder, ingestor,
		gateway.WithHealthTracker(tracker, cfg.Routing.CircuitBreaker),
	)

	gate := auth.NewGate(cfg.Auth.AdminKey, cfg.Auth.CallerKeys)
	srv := server.New(cfg, log, server.Dependencies{
		Gateway:   gw,
		Catalog:   catalog,
		Analytics: analytics.NewService(store.Repo.Requests()),
		Store:     store.Repo,
		Gate:      gate,
		Sessions:  auth.NewSessions(cfg.Auth.SessionTTL),
	})
	go srv.Run(ctx)

	if cfg.Server.DebugAddr != "" {
		go serveDebug(cfg.Server.DebugAddr, log)
	}

	fmt.Print(cli.Banner(cmd.AppVersion, [][2]string{
		{"listen", ":" + cfg.Server.Port},
		{"env", cfg.Server.Env},
		{"store", store.Driver},
		{"providers", providerSummary(ctx, catalog, seeded, log)},
		{"admin", adminStatus(gate, cfg.Server.Port)},
	}))

	if cfg.Server.CheckUpdates {
		go cmd.CheckForUpdates(ctx, http.DefaultClient, cmd.ReleaseURL, log)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Forced shutdown", zap.Error(err))
	}
	ingestor.Stop()

	log.Info("Server stopped")
}

// serveDebug exposes expvar on a separate listener so it never shares the
// public port.
func serveDebug(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/debug/vars", expvar.Handler())

	log.Info("Debug endpoint listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("Debug endpoint stopped", zap.Error(err))
	}
}

func providerSummary(ctx context.Context, catalog *services.ProviderCatalog, seeded int, log *zap.Logger) string {
	entries, err := catalog.Snapshot(ctx)
	if err != nil {
		log.Warn("Failed to count providers", zap.Error(err))
		return cli.Style("unavailable", cli.DimCode)
	}
	return fmt.Sprintf("%d (%d seeded)", len(entries), seeded)
}

func adminStatus(gate *auth.Gate, port string) string {
	if !gate.AdminEnabled() {
		return cli.Style("disabled", cli.DimCode)
	}
	return cli.CheckMark() + " http://localhost:" + port + "/login"
}
