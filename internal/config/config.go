// Package config defines all configuration for the prediction-market
// core. Config is loaded from a YAML file (default: configs/config.yaml)
// with sensitive fields overridable via CORE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML
// file structure.
type Config struct {
	DryRun     bool             `mapstructure:"dry_run"`
	Signer     SignerConfig     `mapstructure:"signer"`
	Oracle     OracleConfig     `mapstructure:"oracle"`
	Resolution ResolutionConfig `mapstructure:"resolution"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Channel    ChannelConfig    `mapstructure:"channel"`
	Store      StoreConfig      `mapstructure:"store"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Dashboard  DashboardConfig  `mapstructure:"dashboard"`
}

// SignerConfig holds an Ethereum private key and chain id loaded from
// config. No component reads it; admin actions such as force-resolve and
// cancel are not authenticated with it.
type SignerConfig struct {
	PrivateKey string `mapstructure:"private_key"`
	ChainID    int    `mapstructure:"chain_id"`
}

// OracleConfig selects and configures the oracle port adapter.
//
//   - Kind: "http" (internal/oracle.HTTPAdapter) or "onchain"
//     (internal/oracle.OnchainAdapter).
//   - BaseURL: REST endpoint for the http adapter.
//   - TrustedSigner: the address the onchain adapter requires proofs be
//     signed by.
//   - FreezeAfter: grace period past a market's end_time before
//     ShouldFreeze reports true (onchain adapter).
type OracleConfig struct {
	Kind          string        `mapstructure:"kind"`
	BaseURL       string        `mapstructure:"base_url"`
	TrustedSigner string        `mapstructure:"trusted_signer"`
	FreezeAfter   time.Duration `mapstructure:"freeze_after"`
	Identity      string        `mapstructure:"identity"`
}

// ResolutionConfig tunes the resolution control loop.
type ResolutionConfig struct {
	CheckInterval         time.Duration `mapstructure:"check_interval"`
	AutoFreeze            bool          `mapstructure:"auto_freeze"`
	AutoResolve           bool          `mapstructure:"auto_resolve"`
	RequireManualApproval bool          `mapstructure:"require_manual_approval"`
	OracleCallTimeout     time.Duration `mapstructure:"oracle_call_timeout"`
}

// SettlementConfig tunes the settlement coordinator's signature window.
type SettlementConfig struct {
	SignatureDeadline time.Duration `mapstructure:"signature_deadline"`
	RequiredSigners   []string      `mapstructure:"required_signers"`
}

// ChannelConfig points at the external state-channel network.
type ChannelConfig struct {
	NetworkURL string `mapstructure:"network_url"`
}

// StoreConfig sets where the registry snapshot is persisted.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the admin/query HTTP+WebSocket surface.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: CORE_SIGNER_PRIVATE_KEY, CORE_DRY_RUN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("CORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("CORE_SIGNER_PRIVATE_KEY"); key != "" {
		cfg.Signer.PrivateKey = key
	}
	if v := os.Getenv("CORE_DRY_RUN"); v == "true" || v == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	switch c.Oracle.Kind {
	case "http":
		if c.Oracle.BaseURL == "" {
			return fmt.Errorf("oracle.base_url is required when oracle.kind is http")
		}
	case "onchain":
		if c.Oracle.TrustedSigner == "" {
			return fmt.Errorf("oracle.trusted_signer is required when oracle.kind is onchain")
		}
	case "":
		return fmt.Errorf("oracle.kind is required (http or onchain)")
	default:
		return fmt.Errorf("oracle.kind must be one of: http, onchain")
	}

	if c.Resolution.AutoResolve && !c.Resolution.AutoFreeze {
		return fmt.Errorf("resolution.auto_resolve requires resolution.auto_freeze")
	}
	if c.Settlement.SignatureDeadline <= 0 {
		return fmt.Errorf("settlement.signature_deadline must be > 0")
	}
	if len(c.Settlement.RequiredSigners) == 0 {
		return fmt.Errorf("settlement.required_signers must not be empty")
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	return nil
}
