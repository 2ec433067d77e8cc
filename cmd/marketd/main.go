// Command marketd runs the lending/reward protocol as a standalone daemon:
// it loads configuration, opens the LevelDB ledger, wires the engine's
// components into an internal/host.Host, restores any persisted state, and
// serves internal/protocolhost/server's JSON-RPC endpoint until signalled to
// shut down. Grounded on the teacher's cmd/gateway/main.go (telemetry
// bootstrap, signal.NotifyContext graceful shutdown) and cmd/nhb/main.go
// (config-then-storage-then-serve ordering).
package main

import (
	"context"
	"flag"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"marketcore/config"
	"marketcore/internal/clock"
	"marketcore/internal/fixedpoint"
	"marketcore/internal/host"
	"marketcore/internal/ledgerstore"
	"marketcore/internal/oracle"
	"marketcore/internal/protocolhost/server"
	"marketcore/internal/risk"
	"marketcore/observability/logging"
	telemetry "marketcore/observability/otel"
	"marketcore/storage"
)

func main() {
	configFile := flag.String("config", "./marketd.toml", "path to the daemon configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("MARKETD_ENV"))
	logger := logging.Setup("marketd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if strings.TrimSpace(cfg.Authority) == "" {
		logger.Error("config Authority is required: set the hex address authorized for administrative calls")
		os.Exit(1)
	}
	authority := common.HexToAddress(cfg.Authority)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		Metrics:     cfg.Tracing.Endpoint != "",
		Traces:      cfg.Tracing.Endpoint != "",
	})
	if err != nil {
		logger.Error("failed to initialise telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open ledger database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	wallClock := clock.System{}
	priceOracle := oracle.NewManual(5 * time.Minute)
	closeFactor := bpsToWad(cfg.Risk.CloseFactorBps)
	liquidationIncentive := bpsToWad(cfg.Risk.LiquidationIncentiveBps)
	riskMgr := risk.New(authority, priceOracle, wallClock, closeFactor, liquidationIncentive)

	store := ledgerstore.New(db)
	h := host.New(authority, riskMgr, wallClock, store)

	addresses, err := store.MarketAddresses()
	if err != nil {
		logger.Error("failed to enumerate persisted markets", "error", err)
		os.Exit(1)
	}
	if len(addresses) > 0 {
		logger.Warn("persisted markets found but no market constructors are registered on startup; " +
			"their snapshots are not restored by this daemon")
	}
	if err := h.Restore(); err != nil {
		logger.Error("failed to restore persisted state", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(h, server.Config{
		JWT: server.JWTConfig{
			Enable:      cfg.JWTIssuer != "",
			HSSecretEnv: "MARKETD_JWT_SECRET",
			Issuer:      cfg.JWTIssuer,
		},
		RequestsPerMinute: 600,
	})
	if err != nil {
		logger.Error("failed to construct rpc server", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		logger.Error("failed to listen", "address", cfg.ListenAddress, "error", err)
		os.Exit(1)
	}
	go func() {
		logger.Info("listening", "address", listener.Addr().String())
		if serveErr := httpServer.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Error("serve failed", "error", serveErr)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful http shutdown failed", "error", err)
	}

	if err := h.Persist(); err != nil {
		logger.Error("failed to persist state on shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("state persisted, exiting")
}

// bpsToWad converts a basis-points configuration value to a WAD-scaled
// fraction, e.g. 10800 bps -> 1.08 * WAD.
func bpsToWad(bps uint32) *big.Int {
	v := new(big.Int).Mul(big.NewInt(int64(bps)), fixedpoint.WAD)
	return v.Quo(v, big.NewInt(10000))
}
