// Package config loads the agent configuration from a YAML file with
// environment variable overrides (POLY_ prefix).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"polymarket-copytrade/internal/datasource"
	"polymarket-copytrade/internal/exchange"
)

// Config is the full agent configuration.
type Config struct {
	Account  AccountConfig  `mapstructure:"account"`
	API      APIConfig      `mapstructure:"api"`
	Settings SettingsConfig `mapstructure:"settings"`
}

// AccountConfig holds wallet credentials. PrivateKey signs orders; the
// funder address is the Polymarket deposit wallet (Gnosis Safe) that holds
// USDC. When the funder is empty the EOA trades for itself.
type AccountConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	FunderAddress string `mapstructure:"funder_address"`
	SignatureType int    `mapstructure:"signature_type"`
}

// APIConfig holds base URLs for the three Polymarket APIs. Override only
// for testing against recorded fixtures.
type APIConfig struct {
	ClobURL  string `mapstructure:"clob_url"`
	DataURL  string `mapstructure:"data_url"`
	GammaURL string `mapstructure:"gamma_url"`
}

// SettingsConfig holds runtime tunables.
type SettingsConfig struct {
	PollIntervalSecs int `mapstructure:"poll_interval_secs"`
}

// Load reads the config file at path, applying defaults and POLY_* env
// overrides (e.g. POLY_ACCOUNT_PRIVATE_KEY).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("account.signature_type", exchange.SigGnosisSafe)
	v.SetDefault("api.clob_url", exchange.DefaultCLOBAPIBase)
	v.SetDefault("api.data_url", datasource.DefaultDataAPIBase)
	v.SetDefault("api.gamma_url", datasource.DefaultGammaAPIBase)
	v.SetDefault("settings.poll_interval_secs", 10)

	v.SetEnvPrefix("POLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if c.Account.PrivateKey == "" {
		return fmt.Errorf("account.private_key is required")
	}
	if c.Account.SignatureType < 0 || c.Account.SignatureType > 2 {
		return fmt.Errorf("account.signature_type must be 0, 1 or 2, got %d", c.Account.SignatureType)
	}
	if c.Settings.PollIntervalSecs <= 0 {
		return fmt.Errorf("settings.poll_interval_secs must be positive, got %d", c.Settings.PollIntervalSecs)
	}
	return nil
}
