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
	"errors"
	"flag"
	"fmt"

	"ton-escrow-ledger-go/internal/api"
	"ton-escrow-ledger-go/internal/common"
	"ton-escrow-ledger-go/internal/config"
	"ton-escrow-ledger-go/internal/events"
	"ton-escrow-ledger-go/internal/models"
	"ton-escrow-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type withdrawalRequest struct {
	user        string
	amount      decimal.Decimal
	destination string
	hash        string
}

func parseAndValidateFlags() (*withdrawalRequest, error) {
	userFlag := flag.String("user", "", "User id, external id or wallet (required)")
	amountFlag := flag.String("amount", "", "Amount in TON (required)")
	destinationFlag := flag.String("destination", "", "Destination wallet address (required)")
	hashFlag := flag.String("hash", "", "On-chain hash of the confirmed withdrawal (required)")
	flag.Parse()

	if *userFlag == "" || *amountFlag == "" || *destinationFlag == "" || *hashFlag == "" {
		return nil, fmt.Errorf("all flags are required: --user, --amount, --destination, --hash")
	}

	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("amount must be greater than zero")
	}

	return &withdrawalRequest{
		user:        *userFlag,
		amount:      amount,
		destination: *destinationFlag,
		hash:        *hashFlag,
	}, nil
}

func printWithdrawalSummary(user models.User, req *withdrawalRequest, balance *api.BalanceResponse) {
	common.PrintHeader("WITHDRAWAL RECORDED", common.DefaultWidth)
	fmt.Printf("User:         %s (external id: %s)\n", user.Id, user.ExternalId)
	fmt.Printf("Amount:       %s TON\n", req.amount.String())
	fmt.Printf("Destination:  %s\n", req.destination)
	fmt.Printf("Hash:         %s\n", req.hash)
	fmt.Printf("New Balance:  %s TON\n", balance.Balance.String())
	common.PrintSeparator("=", common.DefaultWidth)
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	req, err := parseAndValidateFlags()
	if err != nil {
		zap.L().Fatal("Invalid flags", zap.Error(err))
	}

	zap.L().Info("Starting withdrawal recording",
		zap.String("user", req.user),
		zap.String("amount", req.amount.String()),
		zap.String("destination", req.destination))

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	emitter := events.NewEmitter(cfg.Events)
	defer emitter.Close()

	users, err := common.InitializeUsers(ctx, dbService, req.user, logger)
	if err != nil {
		zap.L().Fatal("User not found", zap.String("user", req.user), zap.Error(err))
	}
	user := users[0]

	ledger := api.NewLedgerService(api.ServiceConfig{Store: dbService, Emitter: emitter})
	balance, err := ledger.RecordWithdrawal(ctx, user.Id, req.destination, req.amount, req.hash)
	if err != nil {
		common.PrintHeader("WITHDRAWAL FAILED", common.DefaultWidth)
		fmt.Printf("User:              %s\n", user.Id)
		fmt.Printf("Requested Amount:  %s TON\n", req.amount.String())
		if errors.Is(err, store.ErrInsufficientBalance) {
			if current, balanceErr := ledger.GetBalance(ctx, user.Id); balanceErr == nil {
				fmt.Printf("Balance:           %s TON\n", current.Balance.String())
				fmt.Printf("Shortfall:         %s TON\n", req.amount.Sub(current.Balance).String())
			}
		}
		fmt.Printf("Error:             %v\n", err)
		common.PrintSeparator("=", common.DefaultWidth)
		zap.L().Fatal("Withdrawal failed", zap.Error(err))
	}

	printWithdrawalSummary(user, req, balance)

	zap.L().Info("Withdrawal recorded successfully",
		zap.String("user_id", user.Id),
		zap.String("hash", req.hash),
		zap.String("new_balance", balance.Balance.String()))
}
