// Package config loads the daemon's TOML configuration file, seeding a
// default file on first run the same way the teacher's config loader does.
package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"marketcore/crypto"
)

// Config is the top-level marketd configuration.
type Config struct {
	// ListenAddress is the bind address for the JSON-over-HTTP protocol host.
	ListenAddress string `toml:"ListenAddress"`
	// MetricsAddress is seeded with a default and loaded from the file;
	// marketd does not start a /metrics listener on it.
	MetricsAddress string `toml:"MetricsAddress"`
	// DataDir holds the LevelDB ledger.
	DataDir string `toml:"DataDir"`
	// AuthSigningKey is a hex-encoded random secret, generated on first run
	// if empty. marketd does not use it to verify bearer tokens; those are
	// checked against the MARKETD_JWT_SECRET environment variable.
	AuthSigningKey string `toml:"AuthSigningKey"`
	// JWTIssuer is the expected "iss" claim on bearer tokens presented to
	// internal/protocolhost/server; empty disables bearer-token auth.
	JWTIssuer string `toml:"JWTIssuer"`
	// Authority is the hex address authorized to call every administrative
	// operation on internal/host.Host (support_market, set_pause, ...).
	Authority string `toml:"Authority"`

	Risk    RiskConfig    `toml:"Risk"`
	Rewards RewardsConfig `toml:"Rewards"`
	Tracing TracingConfig `toml:"Tracing"`
}

// RiskConfig carries the protocol-wide risk parameters that are not
// per-market (close factor, liquidation incentive) per spec §3/§4.4.
type RiskConfig struct {
	CloseFactorBps         uint32 `toml:"CloseFactorBps"`
	LiquidationIncentiveBps uint32 `toml:"LiquidationIncentiveBps"`
}

// RewardsConfig holds a default staking-reward period length. marketd
// creates no reward pools itself, so nothing reads this value.
type RewardsConfig struct {
	DefaultDurationSeconds int64 `toml:"DefaultDurationSeconds"`
}

// TracingConfig configures the OTLP-HTTP exporter; Endpoint empty disables
// tracing entirely.
type TracingConfig struct {
	ServiceName string `toml:"ServiceName"`
	Environment string `toml:"Environment"`
	Endpoint    string `toml:"Endpoint"`
	Insecure    bool   `toml:"Insecure"`
}

// Load reads the configuration at path, seeding a default file if one does
// not yet exist.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	if cfg.AuthSigningKey == "" {
		key, err := randomSigningKey()
		if err != nil {
			return nil, err
		}
		cfg.AuthSigningKey = key

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, os.ModePerm)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if err := toml.NewEncoder(f).Encode(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// createDefault writes and returns a default configuration.
func createDefault(path string) (*Config, error) {
	key, err := randomSigningKey()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddress:  ":8080",
		MetricsAddress: ":9090",
		DataDir:        "./marketcore-data",
		AuthSigningKey: key,
		Risk: RiskConfig{
			CloseFactorBps:          5000,
			LiquidationIncentiveBps: 10800,
		},
		Rewards: RewardsConfig{
			DefaultDurationSeconds: 7 * 24 * 3600,
		},
		Tracing: TracingConfig{
			ServiceName: "marketd",
			Environment: "development",
		},
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func randomSigningKey() (string, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(key.Bytes()), nil
}
