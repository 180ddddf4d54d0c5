package config

import (
	"errors"
	"fmt"
)

var (
	ErrZeroSupply       = errors.New("genesis supply must be positive")
	ErrRewardExceeds    = errors.New("reward allotment exceeds genesis supply")
	ErrMissingAccount   = errors.New("system account address is required")
	ErrDuplicateAccount = errors.New("system account addresses must be distinct")
	ErrFeeOutOfRange    = errors.New("pool fee must be below 10000 bps")
	ErrMissingBase      = errors.New("base symbol is required")
	ErrZeroUnitScale    = errors.New("units per token must be positive")
)

// Validate checks the complete configuration.
func Validate(cfg *Config) error {
	if cfg.Genesis.Supply == 0 {
		return ErrZeroSupply
	}
	if cfg.Genesis.RewardAllotment > cfg.Genesis.Supply {
		return fmt.Errorf("%w: %d > %d", ErrRewardExceeds, cfg.Genesis.RewardAllotment, cfg.Genesis.Supply)
	}

	accounts := map[string]string{
		"treasury":         cfg.Accounts.Treasury,
		"fee_collector":    cfg.Accounts.FeeCollector,
		"burn_sink":        cfg.Accounts.BurnSink,
		"reward_pool":      cfg.Accounts.RewardPool,
		"escrow_vault":     cfg.Accounts.EscrowVault,
		"exchange_custody": cfg.Accounts.ExchangeCustody,
	}
	seen := make(map[string]string, len(accounts))
	for name, addr := range accounts {
		if addr == "" {
			return fmt.Errorf("%w: %s", ErrMissingAccount, name)
		}
		if prev, ok := seen[addr]; ok {
			return fmt.Errorf("%w: %s and %s are both %q", ErrDuplicateAccount, prev, name, addr)
		}
		seen[addr] = name
	}

	if cfg.Exchange.PoolFeeBps >= 10_000 {
		return fmt.Errorf("%w: %d", ErrFeeOutOfRange, cfg.Exchange.PoolFeeBps)
	}
	if cfg.Exchange.BaseSymbol == "" {
		return ErrMissingBase
	}
	if cfg.Display.UnitsPerToken == 0 {
		return ErrZeroUnitScale
	}
	return nil
}
