// Package config loads and validates the api-server configuration.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// APIServerConfig represents the coupon api-server configuration
type APIServerConfig struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Ledger         LedgerConfig         `mapstructure:"ledger"`
	Custody        CustodyConfig        `mapstructure:"custody"`
	Redemption     RedemptionConfig     `mapstructure:"redemption"`
	Auth           AuthConfig           `mapstructure:"auth"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Monitoring     MonitoringConfig     `mapstructure:"monitoring"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// LedgerConfig contains distributed ledger node and mirror settings
type LedgerConfig struct {
	NodeURL           string        `mapstructure:"node_url"`
	MirrorURL         string        `mapstructure:"mirror_url"`
	OperatorAccountID string        `mapstructure:"operator_account_id"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	// InitialFunding is the fungible balance the operator grants to newly
	// created accounts, in the ledger's smallest denomination.
	InitialFunding int64 `mapstructure:"initial_funding"`
}

// CustodyConfig controls merchant key custody behaviour
type CustodyConfig struct {
	// MasterKeyEnv names the env var holding the base64 AES-256 master key
	// used to encrypt custodial merchant keys at rest.
	MasterKeyEnv string `mapstructure:"master_key_env"`
	// OperatorKeyEnv names the env var holding the operator's hex private key.
	OperatorKeyEnv string `mapstructure:"operator_key_env"`
	// AllowCustodial enables the legacy operator-custodial merchant mode.
	// Off by default; new merchants should hold their own keys.
	AllowCustodial bool `mapstructure:"allow_custodial"`
}

// RedemptionConfig contains redemption token settings
type RedemptionConfig struct {
	// TokenTTL bounds the replay window of an issued redemption token.
	TokenTTL time.Duration `mapstructure:"token_ttl"`
	// OwnershipRetryBackoff is the single backoff applied before re-reading
	// the mirror on an ownership mismatch.
	OwnershipRetryBackoff time.Duration `mapstructure:"ownership_retry_backoff"`
}

// AuthConfig contains merchant API authentication settings
type AuthConfig struct {
	JWTSecretEnv string        `mapstructure:"jwt_secret_env"`
	Issuer       string        `mapstructure:"issuer"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// MonitoringConfig contains metrics settings
type MonitoringConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ReconciliationConfig contains settings for the background coupon-state reconciler
type ReconciliationConfig struct {
	InitialTimeout time.Duration `mapstructure:"initial_timeout"`
	Interval       time.Duration `mapstructure:"interval"`
}

// LoadAPIServer loads API server configuration from file
func LoadAPIServer(configPath string) (*APIServerConfig, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setAPIServerDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config APIServerConfig
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateAPIServer(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setAPIServerDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "60s")
	viper.SetDefault("server.shutdown_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.database", "coupon_api")

	viper.SetDefault("ledger.request_timeout", "30s")
	viper.SetDefault("ledger.initial_funding", 1000)

	viper.SetDefault("custody.master_key_env", "COUPON_MASTER_KEY")
	viper.SetDefault("custody.operator_key_env", "COUPON_OPERATOR_KEY")
	viper.SetDefault("custody.allow_custodial", false)

	viper.SetDefault("redemption.token_ttl", "5m")
	viper.SetDefault("redemption.ownership_retry_backoff", "2s")

	viper.SetDefault("auth.jwt_secret_env", "COUPON_JWT_SECRET")
	viper.SetDefault("auth.issuer", "coupon-middleware")
	viper.SetDefault("auth.token_ttl", "24h")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_path", "stdout")

	viper.SetDefault("monitoring.enabled", true)

	viper.SetDefault("reconciliation.initial_timeout", "30s")
	viper.SetDefault("reconciliation.interval", "5m")
}

func validateAPIServer(cfg *APIServerConfig) error {
	if cfg.Ledger.NodeURL == "" {
		return fmt.Errorf("ledger.node_url is required")
	}
	if cfg.Ledger.MirrorURL == "" {
		return fmt.Errorf("ledger.mirror_url is required")
	}
	if cfg.Ledger.OperatorAccountID == "" {
		return fmt.Errorf("ledger.operator_account_id is required")
	}
	if cfg.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if cfg.Redemption.TokenTTL <= 0 {
		return fmt.Errorf("redemption.token_ttl must be positive")
	}
	return nil
}
