package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vanshika/landgate/backend/internal/auth"
	"github.com/vanshika/landgate/backend/internal/config"
	"github.com/vanshika/landgate/backend/internal/directory"
	"github.com/vanshika/landgate/backend/internal/journal"
	"github.com/vanshika/landgate/backend/internal/ledger"
	"github.com/vanshika/landgate/backend/internal/logging"
	"github.com/vanshika/landgate/backend/internal/server"
	"github.com/vanshika/landgate/backend/internal/service"
	"github.com/vanshika/landgate/backend/internal/telemetry"
	"github.com/vanshika/landgate/backend/internal/txqueue"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "landgate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Logging)

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	contract := common.HexToAddress(cfg.Ledger.ContractAddress)
	evm, err := ledger.Dial(ctx, ledger.Options{
		RPCURL:       cfg.Ledger.RPCURL,
		Contract:     contract,
		ChainID:      cfg.Ledger.ChainID,
		ABIPath:      cfg.Ledger.ABIPath,
		PollInterval: cfg.Ledger.PollInterval,
	})
	if err != nil {
		return err
	}
	defer evm.Close()
	if err := evm.Ping(ctx); err != nil {
		logger.Warn("ledger node not reachable yet", "rpc_url", cfg.Ledger.RPCURL, "error", err)
	}

	adminAddr := common.HexToAddress(cfg.Ledger.AdminAddress)
	dir, err := loadDirectory(logger, cfg, adminAddr)
	if err != nil {
		return err
	}

	store, err := buildJournal(ctx, logger, cfg.Graph)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Warn("closing journal failed", "error", err)
		}
	}()

	queue := txqueue.New(evm, store, logger, txqueue.Options{
		ConfirmTimeout: cfg.Ledger.ConfirmTimeout,
		Depth:          cfg.Ledger.QueueDepth,
	})
	coordinator := service.NewCoordinator(evm, queue, dir, store, logger)
	verifier := auth.NewVerifier(adminAddr, cfg.Auth)

	apiHandlers := server.NewAPIHandlers(logger, coordinator, verifier, server.ContractInfo{
		Address: contract,
		Network: cfg.Ledger.Network,
		Chain:   evm,
		RPCURL:  cfg.Ledger.RPCURL,
	})

	router := server.NewRouter(logger, server.RouterDependencies{
		Health:           server.GatewayHealthService{Ledger: evm, Journal: store},
		API:              apiHandlers,
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
		AllowCredentials: true,
		MetricsEnabled:   cfg.HTTP.MetricsEnabled,
		WriteRPS:         cfg.RateLimit.RPS,
		WriteBurst:       cfg.RateLimit.Burst,
		TrustProxy:       cfg.RateLimit.TrustProxy,
	})

	srv := server.New(logger, cfg.HTTP, router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("server stopped unexpectedly", "error", serveErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	// In-flight submissions finish and are journaled before the process exits.
	if err := queue.Close(shutdownCtx); err != nil {
		logger.Error("draining submission queue failed", "error", err)
	}
	return serveErr
}

// loadDirectory reads the account directory. A missing file leaves only the
// admin able to sign.
func loadDirectory(logger *slog.Logger, cfg config.Config, adminAddr common.Address) (*directory.Directory, error) {
	dir, err := directory.Load(cfg.Directory.Path, adminAddr, cfg.Ledger.AdminKey)
	if err == nil {
		logger.Info("account directory loaded", "path", cfg.Directory.Path, "accounts", len(dir.Accounts()))
		return dir, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("account directory: %w", err)
	}
	logger.Warn("account directory not found, only the admin can submit", "path", cfg.Directory.Path)
	dir, err = directory.New(adminAddr, cfg.Ledger.AdminKey, directory.File{})
	if err != nil {
		return nil, fmt.Errorf("admin credential: %w", err)
	}
	return dir, nil
}

func buildJournal(ctx context.Context, logger *slog.Logger, cfg config.GraphConfig) (journal.Store, error) {
	if cfg.URI == "" {
		logger.Info("graph URI not set, journaling submissions in memory")
		return journal.NewMemoryStore(), nil
	}
	runner, err := journal.NewNeo4jRunner(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("journaling submissions to graph", "uri", cfg.URI)
	return journal.NewGraphStore(runner), nil
}
