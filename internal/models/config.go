package models

import "time"

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig
	Indexer  IndexerConfig
	Listener ListenerConfig
	Escrow   EscrowConfig
	Admin    AdminConfig
	Events   EventsConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// IndexerConfig holds TON Center client settings
type IndexerConfig struct {
	BaseUrl           string
	ApiKey            string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	MaxPages          int
}

// ListenerConfig holds chain poller settings
type ListenerConfig struct {
	DepositAddress       string
	PollingInterval      time.Duration
	ErrorBackoff         time.Duration
	BatchSize            int
	MaxConsecutiveErrors int
	MaxRetries           int
	RetryDelay           time.Duration
	BreakerThreshold     int
	BreakerResetTimeout  time.Duration
	StartLt              uint64
}

// EscrowConfig holds escrow engine settings
type EscrowConfig struct {
	TimeoutWindow time.Duration
	ReapInterval  time.Duration
	ListingsFile  string
}

// AdminConfig holds the operational HTTP server settings
type AdminConfig struct {
	ListenAddr string
}

// EventsConfig holds the event stream settings; no brokers means log-only
type EventsConfig struct {
	KafkaBrokers []string
	Topic        string
}
