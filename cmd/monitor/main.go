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
	"os"
	"os/signal"
	"syscall"
	"time"

	"ton-escrow-ledger-go/internal/admin"
	"ton-escrow-ledger-go/internal/common"
	"ton-escrow-ledger-go/internal/config"
	"ton-escrow-ledger-go/internal/escrow"
	"ton-escrow-ledger-go/internal/listener"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	noReaper := flag.Bool("no-reaper", false, "Do not refund expired escrows from this process")
	noAdmin := flag.Bool("no-admin", false, "Do not serve /healthz, /status and /metrics")
	flag.Parse()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting TON deposit monitor",
		zap.String("deposit_address", cfg.Listener.DepositAddress),
		zap.String("database", cfg.Database.Path))

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	poller, err := listener.NewPoller(listener.PollerConfig{
		Source:    services.Indexer,
		Processor: services.Reconciler,
		Store:     services.DbService,
		Listener:  cfg.Listener,
	})
	if err != nil {
		zap.L().Fatal("Failed to create poller", zap.Error(err))
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigChan:
			zap.L().Info("Shutdown signal received, stopping monitor...", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	if err := poller.Start(gctx); err != nil {
		zap.L().Fatal("Failed to start poller", zap.Error(err))
	}
	g.Go(func() error {
		select {
		case <-poller.Done():
			return poller.Err()
		case <-gctx.Done():
			poller.Stop()
			return nil
		}
	})

	if !*noReaper {
		reaper := escrow.NewReaper(services.Escrow, cfg.Escrow.ReapInterval)
		g.Go(func() error { return reaper.Run(gctx) })
	}

	if !*noAdmin {
		server := admin.NewServer(cfg.Admin.ListenAddr, services.Ledger)
		g.Go(func() error { return server.Run(gctx) })
	}

	zap.L().Info("Monitor running, press Ctrl+C to stop")

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var runErr error
	select {
	case runErr = <-done:
	case <-gctx.Done():
		select {
		case runErr = <-done:
		case <-time.After(30 * time.Second):
			zap.L().Warn("Forced shutdown after timeout")
		}
	}

	if runErr != nil {
		zap.L().Error("Monitor stopped with error", zap.Error(runErr))
		services.Close()
		loggerCleanup()
		os.Exit(1)
	}
	zap.L().Info("Monitor stopped gracefully")
}
