package common

import (
	"context"
	"log"
	"strings"

	"ton-escrow-ledger-go/internal/api"
	"ton-escrow-ledger-go/internal/database"
	"ton-escrow-ledger-go/internal/escrow"
	"ton-escrow-ledger-go/internal/events"
	"ton-escrow-ledger-go/internal/models"
	"ton-escrow-ledger-go/internal/reconciler"
	"ton-escrow-ledger-go/internal/toncenter"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Services bundles everything a long-running binary needs
type Services struct {
	DbService  *database.Service
	Indexer    *toncenter.Client
	Emitter    events.Emitter
	Reconciler *reconciler.Reconciler
	Escrow     *escrow.Engine
	Ledger     *api.LedgerService
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Creating TON Center client", zap.String("base_url", cfg.Indexer.BaseUrl))
	indexer, err := toncenter.NewClient(cfg.Indexer)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	emitter := events.NewEmitter(cfg.Events)
	rec := reconciler.New(dbService, emitter)
	engine := escrow.NewEngine(dbService, emitter, cfg.Escrow)

	return &Services{
		DbService:  dbService,
		Indexer:    indexer,
		Emitter:    emitter,
		Reconciler: rec,
		Escrow:     engine,
		Ledger: api.NewLedgerService(api.ServiceConfig{
			Store:      dbService,
			Escrow:     engine,
			Reconciler: rec,
			Emitter:    emitter,
			Indexer:    indexer,
		}),
	}, nil
}

// InitializeDatabaseOnly initializes just the database service without the indexer
// Useful for read-only operations like querying balances
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

func (cs *Services) Close() {
	if cs.Emitter != nil {
		if err := cs.Emitter.Close(); err != nil {
			zap.L().Warn("Failed to close event emitter", zap.Error(err))
		}
	}
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
