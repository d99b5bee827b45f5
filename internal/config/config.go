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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"ton-escrow-ledger-go/internal/models"
)

func Load() (*models.Config, error) {
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	requestTimeout, err := getEnvDuration("TONCENTER_REQUEST_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}

	requestsPerSecond, err := getEnvFloat("TONCENTER_REQUESTS_PER_SECOND", 1)
	if err != nil {
		return nil, err
	}

	pollingInterval, err := getEnvDuration("LISTENER_POLLING_INTERVAL", 10*time.Second)
	if err != nil {
		return nil, err
	}

	errorBackoff, err := getEnvDuration("LISTENER_ERROR_BACKOFF", 30*time.Second)
	if err != nil {
		return nil, err
	}

	retryDelay, err := getEnvDuration("LISTENER_RETRY_DELAY", 2*time.Second)
	if err != nil {
		return nil, err
	}

	breakerResetTimeout, err := getEnvDuration("LISTENER_BREAKER_RESET_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	startLt, err := getEnvUint("LISTENER_START_LT", 0)
	if err != nil {
		return nil, err
	}

	timeoutWindow, err := getEnvDuration("ESCROW_TIMEOUT_WINDOW", 72*time.Hour)
	if err != nil {
		return nil, err
	}

	reapInterval, err := getEnvDuration("ESCROW_REAP_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}

	cfg := &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "ledger.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Indexer: models.IndexerConfig{
			BaseUrl:           getEnvString("TONCENTER_BASE_URL", "https://toncenter.com/api/v2"),
			ApiKey:            getEnvString("TONCENTER_API_KEY", ""),
			RequestTimeout:    requestTimeout,
			RequestsPerSecond: requestsPerSecond,
			MaxPages:          getEnvInt("TONCENTER_MAX_PAGES", 10),
		},
		Listener: models.ListenerConfig{
			DepositAddress:       getEnvString("DEPOSIT_ADDRESS", ""),
			PollingInterval:      pollingInterval,
			ErrorBackoff:         errorBackoff,
			BatchSize:            getEnvInt("LISTENER_BATCH_SIZE", 100),
			MaxConsecutiveErrors: getEnvInt("LISTENER_MAX_CONSECUTIVE_ERRORS", 10),
			MaxRetries:           getEnvInt("LISTENER_MAX_RETRIES", 3),
			RetryDelay:           retryDelay,
			BreakerThreshold:     getEnvInt("LISTENER_BREAKER_THRESHOLD", 3),
			BreakerResetTimeout:  breakerResetTimeout,
			StartLt:              startLt,
		},
		Escrow: models.EscrowConfig{
			TimeoutWindow: timeoutWindow,
			ReapInterval:  reapInterval,
			ListingsFile:  getEnvString("LISTINGS_FILE", "listings.yaml"),
		},
		Admin: models.AdminConfig{
			ListenAddr: getEnvString("ADMIN_LISTEN_ADDR", ":9090"),
		},
		Events: models.EventsConfig{
			KafkaBrokers: getEnvList("KAFKA_BROKERS"),
			Topic:        getEnvString("KAFKA_TOPIC", "ton-ledger-events"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *models.Config) error {
	if cfg.Listener.BatchSize < 1 || cfg.Listener.BatchSize > 1000 {
		return fmt.Errorf("LISTENER_BATCH_SIZE must be between 1 and 1000, got %d", cfg.Listener.BatchSize)
	}
	if cfg.Listener.MaxConsecutiveErrors < 1 {
		return fmt.Errorf("LISTENER_MAX_CONSECUTIVE_ERRORS must be positive, got %d", cfg.Listener.MaxConsecutiveErrors)
	}
	if cfg.Escrow.TimeoutWindow <= 0 {
		return fmt.Errorf("ESCROW_TIMEOUT_WINDOW must be positive, got %s", cfg.Escrow.TimeoutWindow)
	}
	if len(cfg.Events.KafkaBrokers) > 0 && cfg.Events.Topic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number for %s: %q (%w)", key, value, err)
		}
		return f, nil
	}
	return defaultValue, nil
}

func getEnvUint(key string, defaultValue uint64) (uint64, error) {
	if value := os.Getenv(key); value != "" {
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number for %s: %q (%w)", key, value, err)
		}
		return u, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty items
func getEnvList(key string) []string {
	var items []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
