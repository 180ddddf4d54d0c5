package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration in priority order: built-in defaults, then
// the file at path (optional, TOML), then LEDGERD_ environment
// variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("LEDGERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadDefault returns the built-in configuration with no file.
func LoadDefault() (*Config, error) {
	return Load("")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("genesis.supply", uint64(1_000_000_000_000))
	v.SetDefault("genesis.reward_allotment", uint64(50_000_000_000))

	v.SetDefault("accounts.treasury", "sys.treasury")
	v.SetDefault("accounts.fee_collector", "sys.fees")
	v.SetDefault("accounts.burn_sink", "sys.burned")
	v.SetDefault("accounts.reward_pool", "sys.rewards")
	v.SetDefault("accounts.escrow_vault", "sys.escrow")
	v.SetDefault("accounts.exchange_custody", "sys.exchange")

	v.SetDefault("fees.base_fee", uint64(1))

	v.SetDefault("exchange.base_symbol", "BASE")
	v.SetDefault("exchange.pool_fee_bps", uint32(30))
	v.SetDefault("exchange.ratio_tolerance_bps", uint32(100))

	v.SetDefault("storage.journal_path", "")
	v.SetDefault("storage.archive_path", "")

	v.SetDefault("display.units_per_token", uint64(1_000_000))
}
