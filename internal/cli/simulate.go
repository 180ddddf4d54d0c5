package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/simecon/ledgerd/internal/config"
	"github.com/simecon/ledgerd/internal/core/ledger"
	"github.com/simecon/ledgerd/internal/di"
)

// simulateCmd runs a small scripted economy in memory and prints the
// resulting balances. It exercises every command surface end to end
// and doubles as a smoke test for a configuration file.
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a scripted economy against an in-memory ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// The simulation never persists.
		cfg.Storage.JournalPath = ""
		cfg.Storage.ArchivePath = ""

		logger := newLogger()
		c, err := di.New(cfg, di.Options{
			Logger: logger,
			CostFunc: func(operationContext string) uint64 {
				// Flat per-byte metering keeps estimates deterministic
				// for retried contexts.
				return 100 * uint64(len(operationContext))
			},
			Strict: true,
		})
		if err != nil {
			return err
		}
		defer c.Close()

		svc := c.Service
		treasury := c.Ledger.Params().Treasury
		alice := ledger.Address("acct.alice")
		bob := ledger.Address("acct.bob")
		scale := cfg.Display.UnitsPerToken

		if _, err := svc.TransferAtomic(treasury, alice, 100*scale, 0, "faucet"); err != nil {
			return err
		}
		if _, err := svc.TransferAtomic(treasury, bob, 50*scale, 0, "faucet"); err != nil {
			return err
		}
		if _, err := svc.Transfer(alice, bob, 10*scale); err != nil {
			return err
		}

		res, err := svc.ReserveFor(alice, "render:starmap:4k")
		if err != nil {
			return err
		}
		if _, err := svc.Finalize(res.ID, res.Reserved*3/4); err != nil {
			return err
		}

		sym := "ORB"
		if err := c.Tokens.Create(sym, 1_000*scale, alice); err != nil {
			return err
		}
		if _, _, err := svc.CreatePool(alice, sym, 500*scale, 25*scale); err != nil {
			return err
		}
		if _, err := svc.SwapTokens(bob, cfg.Exchange.BaseSymbol, sym, 2*scale, 0); err != nil {
			return err
		}
		if _, err := svc.SwapTokens(alice, sym, cfg.Exchange.BaseSymbol, 10*scale, 0); err != nil {
			return err
		}

		fmt.Println("account balances (base units):")
		for _, addr := range []ledger.Address{treasury, alice, bob, c.Ledger.FeeCollector(), c.Ledger.RewardPool()} {
			fmt.Printf("  %-16s %d\n", addr, svc.GetBalance(addr))
		}
		stats, err := svc.PoolStats(sym)
		if err != nil {
			return err
		}
		fmt.Printf("pool %s/%s: reserves %d/%d, shares %d, volume %d/%d\n",
			stats.AssetA, stats.AssetB, stats.ReserveA, stats.ReserveB,
			stats.TotalShares, stats.VolumeA, stats.VolumeB)

		if err := c.Ledger.VerifyConservation(); err != nil {
			return err
		}
		fmt.Println("conservation: ok")
		return nil
	},
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	return config.LoadDefault()
}

func init() {
	rootCmd.AddCommand(simulateCmd)
}
