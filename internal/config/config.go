package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Deployment network ( testnet or mainnet )
	Network string

	// Wallet address funding compilations and reference scripts
	FundingAddress string

	// Directory holding contract sources
	ContractSourceDir string

	// Directory for the state file ( ignored when DatabaseURL is set )
	StateDir string

	// Postgres connection string; empty selects the file backend
	DatabaseURL string

	// Node gateway base URL for chain queries
	ChainGatewayURL string

	// Optional gateway API key
	ChainGatewayKey string

	// Minimum value of an input reserved for compilation
	MinCompilationInput uint64

	// Interval between reconcile passes
	ReconcileInterval time.Duration

	// Port serving Prometheus metrics
	MetricsPort int

	// Log level ( debug, info, warn, error )
	LogLevel string
}

// Load reads the configuration from environment variables.
func Load() *Config {
	return &Config{
		Network:             getEnv("CUSTODIAN_NETWORK", "testnet"),
		FundingAddress:      getEnv("CUSTODIAN_FUNDING_ADDRESS", ""),
		ContractSourceDir:   getEnv("CUSTODIAN_CONTRACT_SOURCE_DIR", "contracts"),
		StateDir:            getEnv("CUSTODIAN_STATE_DIR", "state"),
		DatabaseURL:         getEnv("CUSTODIAN_DATABASE_URL", ""),
		ChainGatewayURL:     getEnv("CUSTODIAN_CHAIN_GATEWAY_URL", ""),
		ChainGatewayKey:     getEnv("CUSTODIAN_CHAIN_GATEWAY_KEY", ""),
		MinCompilationInput: getEnvAsUint64("CUSTODIAN_MIN_COMPILATION_INPUT", 5_000_000),
		ReconcileInterval:   time.Duration(getEnvAsInt("CUSTODIAN_RECONCILE_INTERVAL_SEC", 300)) * time.Second,
		MetricsPort:         getEnvAsInt("CUSTODIAN_METRICS_PORT", 9464),
		LogLevel:            getEnv("CUSTODIAN_LOG_LEVEL", "info"),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Network != "testnet" && c.Network != "mainnet" {
		return fmt.Errorf("Network must be testnet or mainnet, got %q", c.Network)
	}
	if c.FundingAddress == "" {
		return fmt.Errorf("FundingAddress is required")
	}
	if c.ChainGatewayURL == "" {
		return fmt.Errorf("ChainGatewayURL is required")
	}
	if c.ReconcileInterval < time.Second {
		return fmt.Errorf("ReconcileInterval must be at least one second")
	}
	return nil
}

// Helper: get string from env
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// Helper: get int from env
func getEnvAsInt(key string, defaultVal int) int {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

// Helper: get uint64 from env
func getEnvAsUint64(key string, defaultVal uint64) uint64 {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseUint(valStr, 10, 64)
	if err != nil {
		return defaultVal
	}
	return val
}
