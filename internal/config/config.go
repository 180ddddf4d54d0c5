// Package config defines ledgerd's configuration, loaded from
// defaults, an optional TOML file and LEDGERD_-prefixed environment
// variables, in that precedence order.
package config

import (
	"github.com/simecon/ledgerd/internal/core/ledger"
)

// Config is the full application configuration.
type Config struct {
	Genesis  GenesisConfig  `mapstructure:"genesis"`
	Accounts AccountsConfig `mapstructure:"accounts"`
	Fees     FeesConfig     `mapstructure:"fees"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Display  DisplayConfig  `mapstructure:"display"`
}

// GenesisConfig fixes the initial money supply.
type GenesisConfig struct {
	// Supply is the total amount minted at genesis, in base units.
	Supply uint64 `mapstructure:"supply"`
	// RewardAllotment is the slice of the supply set aside for the
	// bounded reward pool.
	RewardAllotment uint64 `mapstructure:"reward_allotment"`
}

// AccountsConfig names the system accounts.
type AccountsConfig struct {
	Treasury        string `mapstructure:"treasury"`
	FeeCollector    string `mapstructure:"fee_collector"`
	BurnSink        string `mapstructure:"burn_sink"`
	RewardPool      string `mapstructure:"reward_pool"`
	EscrowVault     string `mapstructure:"escrow_vault"`
	ExchangeCustody string `mapstructure:"exchange_custody"`
}

// FeesConfig sets the transfer fee schedule.
type FeesConfig struct {
	// BaseFee is the default per-transfer fee in base units.
	BaseFee uint64 `mapstructure:"base_fee"`
}

// ExchangeConfig sets AMM parameters.
type ExchangeConfig struct {
	// BaseSymbol is the base currency required on one side of every
	// pool.
	BaseSymbol string `mapstructure:"base_symbol"`
	// PoolFeeBps is the trading fee of new pools in basis points
	// (30 = 0.3%).
	PoolFeeBps uint32 `mapstructure:"pool_fee_bps"`
	// RatioToleranceBps bounds how far a follow-up liquidity deposit
	// may deviate from the standing reserve ratio.
	RatioToleranceBps uint32 `mapstructure:"ratio_tolerance_bps"`
}

// StorageConfig points at the durable stores. Empty paths disable the
// corresponding sink.
type StorageConfig struct {
	JournalPath string `mapstructure:"journal_path"`
	ArchivePath string `mapstructure:"archive_path"`
}

// DisplayConfig holds presentation-only settings.
type DisplayConfig struct {
	// UnitsPerToken is the single unit-scale conversion boundary,
	// used only for rendering whole-token amounts.
	UnitsPerToken uint64 `mapstructure:"units_per_token"`
}

// LedgerParams maps the configuration onto the ledger's economic
// constants.
func (c *Config) LedgerParams() ledger.Params {
	return ledger.Params{
		GenesisSupply:   c.Genesis.Supply,
		RewardAllotment: c.Genesis.RewardAllotment,
		BaseFee:         c.Fees.BaseFee,
		Treasury:        ledger.Address(c.Accounts.Treasury),
		FeeCollector:    ledger.Address(c.Accounts.FeeCollector),
		BurnSink:        ledger.Address(c.Accounts.BurnSink),
		RewardPool:      ledger.Address(c.Accounts.RewardPool),
		EscrowVault:     ledger.Address(c.Accounts.EscrowVault),
	}
}
