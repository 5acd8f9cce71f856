// Command transferd is the meshdrop transfer daemon: it owns the SQLite
// store, the TCP listener and handshake, the UDP discovery loop, and the
// JSON-over-HTTP control surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/meshdrop/transfer/internal/api"
	"github.com/meshdrop/transfer/internal/crypto"
	"github.com/meshdrop/transfer/internal/discovery"
	"github.com/meshdrop/transfer/internal/identity"
	"github.com/meshdrop/transfer/internal/observability"
	"github.com/meshdrop/transfer/internal/service"
	"github.com/meshdrop/transfer/internal/session"
	"github.com/meshdrop/transfer/internal/store"
	"github.com/meshdrop/transfer/internal/wire"
)

// defaultPort is the TCP listen / UDP discovery port.
const defaultPort = 9527

func main() {
	// The TCP listen port and the UDP discovery port are the same fixed
	// port number and are not independently configurable.
	addr := fmt.Sprintf(":%d", defaultPort)
	httpAddr := flag.String("http-addr", "127.0.0.1:9528", "address for the JSON/SSE control API, metrics, and health endpoints")
	dataDir := flag.String("data-dir", defaultDataDir(), "directory for the session database and device keystore")
	flag.Parse()

	logger := observability.NewLogger("transferd", "1.0.0", os.Stdout)
	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker("1.0.0")

	tracingShutdown, err := observability.InitTracing(context.Background(), "transferd")
	if err != nil {
		logger.Warn("tracing disabled: " + err.Error())
		tracingShutdown = func(context.Context) error { return nil }
	}

	if err := os.MkdirAll(*dataDir, 0o700); err != nil {
		logger.Fatal(err, "failed to create data directory")
	}

	st, err := store.Open(filepath.Join(*dataDir, "meshdrop.db"))
	if err != nil {
		logger.Fatal(err, "failed to open store")
	}
	logger.Info("store opened at " + *dataDir)

	keystorePath := filepath.Join(*dataDir, "identity.keystore")
	id, err := identity.LoadOrCreate(st, keystorePath, "")
	if err != nil {
		logger.Fatal(err, "failed to load or create device identity")
	}
	logger.Info("device identity: " + id.DeviceID + " (" + id.DeviceName + ")")

	registry := session.NewRegistry()
	publisher := session.NewPublisher(64)

	disc := discovery.New(id.DeviceID, id.DeviceName, defaultPort, wire.DefaultCapabilities(), logger, metrics)

	peerCache, err := discovery.OpenCache(filepath.Join(*dataDir, "peer_cache.db"))
	if err != nil {
		logger.Fatal(err, "failed to open peer sighting cache")
	}
	defer peerCache.Close()
	disc.AttachCache(peerCache)

	svc, err := service.New(st, id, disc, registry, publisher, logger, metrics, defaultPort)
	if err != nil {
		logger.Fatal(err, "failed to construct service facade")
	}

	health.RegisterCheck("database", databaseCheck(*dataDir))
	health.RegisterCheck("tcp_listener", tcpListenerCheck(addr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := svc.GetSettings()
	disc.SetEnabled(settings.DiscoveryEnabled)
	go svc.RunCleanup(ctx)
	go func() {
		if err := disc.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error(err, "discovery loop exited")
		}
	}()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal(err, "failed to start TCP listener")
	}
	logger.Info("TCP listener started on " + addr)
	go func() {
		if err := svc.Listen(ctx, ln); err != nil && ctx.Err() == nil {
			logger.Error(err, "listener loop exited")
		}
	}()

	httpSrv := startControlServer(*httpAddr, svc, metrics, health, logger)

	logger.Info("transferd running, press Ctrl+C to stop")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = tracingShutdown(shutdownCtx)

	logger.Info("transferd stopped")
}

func startControlServer(addr string, svc *service.Service, metrics *observability.Metrics, health *observability.HealthChecker, logger *observability.Logger) *http.Server {
	mux := http.NewServeMux()
	api.NewServer(svc).RegisterRoutes(mux)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", health.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("control API listening on " + addr + " (JSON/SSE, metrics, health)")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(err, "control API server error")
		}
	}()
	return srv
}

func databaseCheck(dataDir string) observability.HealthCheckFunc {
	return func(ctx context.Context) observability.ComponentHealth {
		if _, err := os.Stat(filepath.Join(dataDir, "meshdrop.db")); err != nil {
			return observability.ComponentHealth{Status: observability.HealthStatusUnhealthy, Message: err.Error()}
		}
		return observability.ComponentHealth{Status: observability.HealthStatusOK}
	}
}

func tcpListenerCheck(addr string) observability.HealthCheckFunc {
	return func(ctx context.Context) observability.ComponentHealth {
		nc, err := net.DialTimeout("tcp", addr, time.Second)
		if err != nil {
			return observability.ComponentHealth{Status: observability.HealthStatusDegraded, Message: err.Error()}
		}
		_ = nc.Close()
		return observability.ComponentHealth{Status: observability.HealthStatusOK}
	}
}

func defaultDataDir() string {
	return filepath.Dir(crypto.DefaultKeystorePath())
}
