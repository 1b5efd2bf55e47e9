package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vanshika/landgate/backend/internal/config"
	"github.com/vanshika/landgate/backend/internal/directory"
	"github.com/vanshika/landgate/backend/internal/journal"
	"github.com/vanshika/landgate/backend/internal/ledger"
	"github.com/vanshika/landgate/backend/internal/logging"
	"github.com/vanshika/landgate/backend/internal/service"
	"github.com/vanshika/landgate/backend/internal/txqueue"
)

func main() {
	var (
		landsPath = flag.String("lands", "./seed-data/lands.json", "Path to a JSON array of parcels to register")
		usersOnly = flag.Bool("users-only", false, "Register directory accounts and skip parcels")
		workers   = flag.Int("workers", 4, "Number of concurrent submitters")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging).With("component", "seed")

	var lands []service.SeedLand
	if !*usersOnly {
		if err := loadJSON(*landsPath, &lands); err != nil {
			logger.Error("failed to load lands", "error", err, "path", *landsPath)
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	evm, err := ledger.Dial(ctx, ledger.Options{
		RPCURL:       cfg.Ledger.RPCURL,
		Contract:     common.HexToAddress(cfg.Ledger.ContractAddress),
		ChainID:      cfg.Ledger.ChainID,
		ABIPath:      cfg.Ledger.ABIPath,
		PollInterval: cfg.Ledger.PollInterval,
	})
	if err != nil {
		logger.Error("failed to connect to ledger", "error", err)
		os.Exit(1)
	}
	defer evm.Close()

	adminAddr := common.HexToAddress(cfg.Ledger.AdminAddress)
	dir, err := directory.Load(cfg.Directory.Path, adminAddr, cfg.Ledger.AdminKey)
	if err != nil {
		logger.Error("failed to load account directory", "error", err, "path", cfg.Directory.Path)
		os.Exit(1)
	}

	store := journal.NewMemoryStore()
	queue := txqueue.New(evm, store, logger, txqueue.Options{
		ConfirmTimeout: cfg.Ledger.ConfirmTimeout,
		Depth:          cfg.Ledger.QueueDepth,
	})
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.Ledger.ConfirmTimeout)
		defer closeCancel()
		if err := queue.Close(closeCtx); err != nil {
			logger.Warn("draining submission queue failed", "error", err)
		}
	}()

	coordinator := service.NewCoordinator(evm, queue, dir, store, logger)
	seeder := service.NewSeeder(coordinator, adminAddr, *workers)

	start := time.Now()
	logger.Info("seeding ledger", "accounts", len(dir.Accounts()), "lands", len(lands), "workers", *workers)
	report, err := seeder.Seed(ctx, lands)
	if err != nil {
		logger.Error("seeding failed", "error", err,
			"users_registered", report.UsersRegistered,
			"lands_registered", report.LandsRegistered,
		)
		os.Exit(1)
	}

	logger.Info("seeding complete",
		"duration", time.Since(start).String(),
		"users_registered", report.UsersRegistered,
		"users_skipped", report.UsersSkipped,
		"lands_registered", report.LandsRegistered,
		"lands_skipped", report.LandsSkipped,
	)
}

func loadJSON(path string, target any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
