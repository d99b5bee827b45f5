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
	"regexp"

	"ton-escrow-ledger-go/internal/api"
	"ton-escrow-ledger-go/internal/common"
	"ton-escrow-ledger-go/internal/config"

	"go.uber.org/zap"
)

var externalIdRegex = regexp.MustCompile(`^[0-9]{1,20}$`)

func validateExternalId(externalId string) error {
	if externalId == "" {
		return nil
	}
	if !externalIdRegex.MatchString(externalId) {
		return fmt.Errorf("invalid external id format: %s", externalId)
	}
	return nil
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	walletFlag := flag.String("wallet", "", "User's TON wallet address in any encoding (required)")
	externalIdFlag := flag.String("external-id", "", "User's chat platform id (optional)")
	flag.Parse()

	if *walletFlag == "" {
		zap.L().Fatal("Flag is required: --wallet")
	}

	if err := validateExternalId(*externalIdFlag); err != nil {
		zap.L().Fatal("Invalid external id", zap.Error(err))
	}

	zap.L().Info("Starting user registration",
		zap.String("wallet", *walletFlag),
		zap.String("external_id", *externalIdFlag))

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	ledger := api.NewLedgerService(api.ServiceConfig{Store: dbService})

	user, err := ledger.CreateUser(ctx, *walletFlag, *externalIdFlag)
	if err != nil {
		zap.L().Fatal("Failed to register user", zap.Error(err))
	}

	title := "USER CREATED"
	if !user.Created {
		title = "USER ALREADY REGISTERED"
	}

	fmt.Println()
	common.PrintHeader(title, common.DefaultWidth)
	fmt.Printf("ID:       %s\n", user.UserId)
	fmt.Printf("Wallet:   %s\n", *walletFlag)
	fmt.Printf("Variants: %d\n", len(user.Variants))
	for i, variant := range user.Variants {
		fmt.Printf("%s %s\n", common.BoxPrefix(i == len(user.Variants)-1), variant)
	}
	common.PrintSeparator("=", common.DefaultWidth)
	fmt.Println()

	zap.L().Info("User registration completed",
		zap.String("id", user.UserId),
		zap.Bool("created", user.Created))
}
