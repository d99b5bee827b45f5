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

	"ton-escrow-ledger-go/internal/common"
	"ton-escrow-ledger-go/internal/config"
	"ton-escrow-ledger-go/internal/database"
	"ton-escrow-ledger-go/internal/models"

	"go.uber.org/zap"
)

type balanceStats struct {
	totalUsers        int
	usersWithBalances int
	inconsistent      int
	totalNano         int64
}

func printBalance(balance *models.Balance) {
	lastDeposit := "never"
	if balance.LastDepositAt != nil {
		lastDeposit = balance.LastDepositAt.Format("2006-01-02 15:04:05")
	}

	fmt.Printf("%s %-15s: %20s\n", common.BoxPrefix(false), "Balance", common.FormatTon(balance.CurrentBalance))
	fmt.Printf("%s %-15s: %20s (%d deposits)\n", common.BoxPrefix(false), "Deposited", common.FormatTon(balance.TotalDeposited), balance.DepositCount)
	fmt.Printf("%s %-15s: %20s (%d withdrawals)\n", common.BoxPrefix(false), "Withdrawn", common.FormatTon(balance.TotalWithdrawn), balance.WithdrawalCount)
	fmt.Printf("%s %-15s: %20s (v%d, last deposit: %s)\n", common.BoxPrefix(true), "Locked", common.FormatTon(balance.LockedInEscrow), balance.Version, lastDeposit)
}

func printUserHeader(user models.User) {
	fmt.Printf("\n┌─ User: %s (external id: %s)\n", user.Id, user.ExternalId)
	fmt.Printf("│  Wallet: %s\n", user.WalletAddress)
	common.PrintBoxSeparator(78)
}

func processUser(ctx context.Context, user models.User, dbService *database.Service, reconcile bool) (*models.Balance, error) {
	balance, err := dbService.GetBalance(ctx, user.Id)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	if reconcile {
		if err := dbService.ReconcileUserBalance(ctx, user.Id); err != nil {
			return balance, err
		}
	}

	if balance.TotalDeposited == 0 && balance.TotalWithdrawn == 0 {
		return balance, nil
	}

	printUserHeader(user)
	printBalance(balance)

	return balance, nil
}

func processUsersAndGenerateReport(ctx context.Context, users []models.User, dbService *database.Service, reconcile bool, logger *zap.Logger) balanceStats {
	stats := balanceStats{}

	for _, user := range users {
		stats.totalUsers++

		balance, err := processUser(ctx, user, dbService, reconcile)
		if err != nil {
			if balance != nil {
				stats.inconsistent++
				fmt.Printf("\n✗ %s: %v\n", user.Id, err)
			}
			logger.Error("Failed to process user",
				zap.String("user_id", user.Id),
				zap.Error(err))
			continue
		}

		if balance.TotalDeposited > 0 || balance.TotalWithdrawn > 0 {
			stats.usersWithBalances++
			stats.totalNano += balance.CurrentBalance
		}
	}

	return stats
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	userFlag := flag.String("user", "", "Filter by user id, external id or wallet (optional)")
	reconcileFlag := flag.Bool("reconcile", true, "Check each balance against its journal")
	flag.Parse()

	logger.Info("Starting balance query")

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

	common.PrintHeader("USER BALANCE REPORT", common.DefaultWidth)

	stats := processUsersAndGenerateReport(ctx, users, dbService, *reconcileFlag, logger)

	summary := fmt.Sprintf("SUMMARY: %d users with balances holding %s (%d users queried, %d failed reconciliation)",
		stats.usersWithBalances, common.FormatTon(stats.totalNano), stats.totalUsers, stats.inconsistent)
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("Balance query completed",
		zap.Int("users_queried", stats.totalUsers),
		zap.Int("users_with_balances", stats.usersWithBalances),
		zap.Int("inconsistent", stats.inconsistent))
}
