/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"fmt"

	"ton-escrow-ledger-go/internal/addressbook"
	"ton-escrow-ledger-go/internal/common"
	"ton-escrow-ledger-go/internal/config"
	"ton-escrow-ledger-go/internal/models"

	"go.uber.org/zap"
)

func printVariants(variants []string) {
	for i, variant := range variants {
		fmt.Printf("%s %s\n", common.BoxPrefix(i == len(variants)-1), variant)
	}
}

func printUser(user models.User) {
	fmt.Printf("\n┌─ User: %s (external id: %s)\n", user.Id, user.ExternalId)
	fmt.Printf("│  Wallet: %s\n", user.WalletAddress)
	fmt.Printf("│  Canonical: %s\n", user.CanonicalAddress)
	fmt.Printf("│  Variants: %d\n", len(user.Variants))
	common.PrintBoxSeparator(98)
	printVariants(user.Variants)
}

// printAddress shows the variant set of a single address without touching the database
func printAddress(address string) {
	account, err := addressbook.Parse(address)
	if err != nil {
		zap.L().Fatal("Invalid address", zap.String("address", address), zap.Error(err))
	}

	common.PrintHeader("ADDRESS VARIANTS", common.WideWidth)
	fmt.Printf("Raw:        %s\n", account.Raw())
	fmt.Printf("Workchain:  %d\n", account.Workchain)
	fmt.Printf("Bounceable: %t  Testnet: %t\n", account.Bounceable, account.Testnet)
	common.PrintBoxSeparator(98)
	printVariants(account.Variants())
	common.PrintFooter(fmt.Sprintf("%d variants", len(account.Variants())), common.WideWidth)
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	addressFlag := flag.String("address", "", "Print the variants of one address (no database access)")
	userFlag := flag.String("user", "", "Filter by user id, external id or wallet (optional)")
	flag.Parse()

	if *addressFlag != "" {
		printAddress(*addressFlag)
		return
	}

	logger.Info("Starting address query")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Connecting to database", zap.String("path", cfg.Database.Path))
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	users, err := common.InitializeUsers(ctx, dbService, *userFlag, logger)
	if err != nil {
		logger.Fatal("Failed to initialize users", zap.Error(err))
	}

	common.PrintHeader("REGISTERED WALLETS REPORT", common.WideWidth)

	totalVariants := 0
	for _, user := range users {
		printUser(user)
		totalVariants += len(user.Variants)
	}

	summary := fmt.Sprintf("SUMMARY: %d users (%d address variants)", len(users), totalVariants)
	common.PrintFooter(summary, common.WideWidth)

	logger.Info("Address query completed",
		zap.Int("users", len(users)),
		zap.Int("variants", totalVariants))
}
