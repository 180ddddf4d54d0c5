// Package di assembles the application object graph. Every component
// receives its dependencies explicitly; nothing here is a global.
package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/simecon/ledgerd/internal/config"
	"github.com/simecon/ledgerd/internal/core/exchange"
	"github.com/simecon/ledgerd/internal/core/ledger"
	"github.com/simecon/ledgerd/internal/core/ledger/service"
	"github.com/simecon/ledgerd/internal/core/reservation"
	"github.com/simecon/ledgerd/internal/core/token"
	"github.com/simecon/ledgerd/internal/storage/journal"
	"github.com/simecon/ledgerd/internal/storage/txarchive"
)

// Container holds the assembled application.
type Container struct {
	Config       *config.Config
	Ledger       *ledger.Ledger
	Reservations *reservation.Manager
	Tokens       *token.Registry
	Exchange     *exchange.Engine
	Service      *service.Service

	journal *journal.Store
	archive *txarchive.Archive
}

// Options tunes container assembly.
type Options struct {
	Logger zerolog.Logger
	// CostFunc feeds Service.ReserveFor; nil disables it.
	CostFunc reservation.CostFunc
	// Metrics is optional prometheus instrumentation.
	Metrics *service.Metrics
	// Strict enables post-operation conservation checks.
	Strict bool
}

// New builds the full stack from configuration. Storage sinks are
// opened only for configured paths; with both paths empty the ledger
// runs purely in memory.
func New(cfg *config.Config, opts Options) (*Container, error) {
	c := &Container{Config: cfg}

	var sinks []ledger.Sink
	if cfg.Storage.JournalPath != "" {
		j, err := journal.Open(cfg.Storage.JournalPath)
		if err != nil {
			return nil, err
		}
		c.journal = j
		sinks = append(sinks, j)
	}
	if cfg.Storage.ArchivePath != "" {
		a, err := txarchive.Open(cfg.Storage.ArchivePath)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.archive = a
		sinks = append(sinks, a)
	}
	var sink ledger.Sink
	if len(sinks) > 0 {
		sink = ledger.FanoutSink(sinks...)
	}

	l, err := ledger.NewLedger(cfg.LedgerParams(), sink)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("build ledger: %w", err)
	}
	c.Ledger = l

	c.Reservations = reservation.NewManager(l, l.Params().Treasury)
	c.Tokens = token.NewRegistry()

	adapter := exchange.NewAdapter(l, ledger.Address(cfg.Accounts.ExchangeCustody))
	c.Exchange = exchange.NewEngine(
		cfg.Exchange.BaseSymbol,
		cfg.Exchange.PoolFeeBps,
		cfg.Exchange.RatioToleranceBps,
		adapter,
		c.Tokens,
		adapter.Custody(),
	)

	svc, err := service.New(l, c.Reservations, c.Tokens, c.Exchange, service.Options{
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
		CostFunc: opts.CostFunc,
		Strict:   opts.Strict,
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Service = svc
	return c, nil
}

// Journal returns the pebble journal, nil when not configured.
func (c *Container) Journal() *journal.Store { return c.journal }

// Archive returns the sqlite archive, nil when not configured.
func (c *Container) Archive() *txarchive.Archive { return c.archive }

// Close releases storage resources.
func (c *Container) Close() error {
	var firstErr error
	if c.journal != nil {
		if err := c.journal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.archive != nil {
		if err := c.archive.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
