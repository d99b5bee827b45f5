package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"ton-escrow-ledger-go/internal/common"
	"ton-escrow-ledger-go/internal/config"
	"ton-escrow-ledger-go/internal/database"

	"go.uber.org/zap"
)

func printSchemaSummary(ctx context.Context, dbService *database.Service, path string) {
	users, err := dbService.GetUsers(ctx)
	if err != nil {
		zap.L().Fatal("Failed to query users", zap.Error(err))
	}
	checkpoint, err := dbService.GetCheckpoint(ctx)
	if err != nil {
		zap.L().Fatal("Failed to query checkpoint", zap.Error(err))
	}

	common.PrintHeader("DATABASE READY", common.DefaultWidth)
	fmt.Printf("Path:        %s\n", path)
	fmt.Printf("Users:       %d\n", len(users))
	fmt.Printf("Checkpoint:  %d\n", checkpoint)
	common.PrintSeparator("=", common.DefaultWidth)
}

func seedListings(ctx context.Context, dbService *database.Service, listingsFile string) {
	zap.L().Info("Loading listings", zap.String("file", listingsFile))
	seeds, err := common.LoadListings(listingsFile)
	if err != nil {
		zap.L().Fatal("Failed to load listings", zap.Error(err))
	}

	if len(seeds) == 0 {
		fmt.Printf("No listings configured in %s\n", listingsFile)
		return
	}

	result := common.SeedListings(ctx, dbService, seeds)

	common.PrintHeader("LISTING SEED SUMMARY", common.DefaultWidth)
	fmt.Printf("Configured:  %d\n", len(seeds))
	fmt.Printf("Created:     %d\n", result.Created)
	fmt.Printf("Existing:    %d\n", result.Existing)
	fmt.Printf("Failed:      %d\n", len(result.Failed))
	if len(result.Failed) > 0 {
		fmt.Printf("Failed Ids:  %s\n", strings.Join(result.Failed, ", "))
		fmt.Println("Register the sellers with adduser and re-run setup to retry")
	}
	common.PrintSeparator("=", common.DefaultWidth)

	zap.L().Info("Listing seed completed",
		zap.Int("created", result.Created),
		zap.Int("existing", result.Existing),
		zap.Strings("failed", result.Failed))
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	initFlag := flag.Bool("init", false, "Only create the database schema")
	listingsFlag := flag.String("listings", "", "Listings file to seed (default: LISTINGS_FILE)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	// NewService creates the schema if it does not exist
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	printSchemaSummary(ctx, dbService, cfg.Database.Path)
	if *initFlag {
		return
	}

	listingsFile := cfg.Escrow.ListingsFile
	if *listingsFlag != "" {
		listingsFile = *listingsFlag
	}
	seedListings(ctx, dbService, listingsFile)
}
