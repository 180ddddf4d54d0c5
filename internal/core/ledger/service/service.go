// Package service is the application-facing facade over the ledger
// core: one entry point exposing the command and query surfaces with
// structured logging, metrics and history caching. The UI/API layer
// above calls this package and nothing below it.
package service

import (
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/simecon/ledgerd/internal/core/amm"
	"github.com/simecon/ledgerd/internal/core/exchange"
	"github.com/simecon/ledgerd/internal/core/ledger"
	"github.com/simecon/ledgerd/internal/core/reservation"
	"github.com/simecon/ledgerd/internal/core/token"
)

const historyCacheSize = 1024

type cachedHistory struct {
	journalLen int
	limit      int
	records    []ledger.TxRecord
}

// Service bundles the transfer engine, reservation manager, token
// registry and exchange engine behind one handle. All dependencies are
// passed in explicitly.
type Service struct {
	ledger       *ledger.Ledger
	reservations *reservation.Manager
	tokens       *token.Registry
	exchange     *exchange.Engine
	estimate     reservation.CostFunc

	log     zerolog.Logger
	metrics *Metrics
	history *lru.Cache[ledger.Address, cachedHistory]

	// strict re-verifies conservation after every command and fails
	// the call loudly when the check trips.
	strict bool
}

// Options configures optional service behavior.
type Options struct {
	Logger  zerolog.Logger
	Metrics *Metrics
	// CostFunc estimates metered-operation costs for ReserveFor.
	CostFunc reservation.CostFunc
	// Strict enables the post-operation conservation check.
	Strict bool
}

// New assembles the facade. The history cache is always on; logger,
// metrics and cost function are optional.
func New(l *ledger.Ledger, res *reservation.Manager, tokens *token.Registry, ex *exchange.Engine, opts Options) (*Service, error) {
	cache, err := lru.New[ledger.Address, cachedHistory](historyCacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{
		ledger:       l,
		reservations: res,
		tokens:       tokens,
		exchange:     ex,
		estimate:     opts.CostFunc,
		log:          opts.Logger,
		metrics:      opts.Metrics,
		history:      cache,
		strict:       opts.Strict,
	}, nil
}

// Ledger exposes the underlying ledger handle for callers that need
// direct reads.
func (s *Service) Ledger() *ledger.Ledger { return s.ledger }

// Tokens exposes the secondary-asset registry.
func (s *Service) Tokens() *token.Registry { return s.tokens }

// GetBalance returns the base-currency balance of addr.
func (s *Service) GetBalance(addr ledger.Address) uint64 {
	return s.ledger.GetBalance(addr)
}

// GetAccount returns a copy of the account, failing for addresses that
// were never referenced. Callers that want creation-on-first-use go
// through a mutating command instead.
func (s *Service) GetAccount(addr ledger.Address) (ledger.Account, error) {
	acct, ok := s.ledger.GetAccount(addr)
	if !ok {
		return ledger.Account{}, fmt.Errorf("account %s: %w", addr, ledger.ErrUnknownAccount)
	}
	return acct, nil
}

// GetAccountTransactions returns up to limit records touching addr,
// most recent first. Results are cached per address and invalidated by
// journal growth; a fresh call always reflects current state.
func (s *Service) GetAccountTransactions(addr ledger.Address, limit int) []ledger.TxRecord {
	jlen := s.ledger.JournalLen()
	if cached, ok := s.history.Get(addr); ok && cached.journalLen == jlen && cached.limit >= limit {
		if len(cached.records) > limit {
			return cached.records[:limit]
		}
		return cached.records
	}
	records := s.ledger.RecentByAccount(addr, limit)
	s.history.Add(addr, cachedHistory{journalLen: jlen, limit: limit, records: records})
	return records
}

// Transfer moves amount with the default fee.
func (s *Service) Transfer(from, to ledger.Address, amount uint64) (ledger.TxRecord, error) {
	return s.TransferAtomic(from, to, amount, s.ledger.BaseFee(), "")
}

// TransferAtomic moves amount with an explicit fee and reason.
func (s *Service) TransferAtomic(from, to ledger.Address, amount, fee uint64, reason string) (ledger.TxRecord, error) {
	defer s.observe("transfer")()
	rec, err := s.ledger.TransferAtomic(from, to, amount, fee, reason)
	if err != nil {
		s.metrics.count(s.metrics.transfers(), "error")
		s.log.Debug().Err(err).Str("from", string(from)).Str("to", string(to)).Uint64("amount", amount).Msg("transfer rejected")
		return ledger.TxRecord{}, err
	}
	s.metrics.count(s.metrics.transfers(), "success")
	return rec, s.postCheck("transfer")
}

// Burn destroys amount from the account.
func (s *Service) Burn(from ledger.Address, amount uint64, reason string) (ledger.TxRecord, error) {
	defer s.observe("burn")()
	rec, err := s.ledger.Burn(from, amount, reason)
	if err != nil {
		s.metrics.count(s.metrics.burns(), "error")
		return ledger.TxRecord{}, err
	}
	s.metrics.count(s.metrics.burns(), "success")
	return rec, s.postCheck("burn")
}

// MintReward pays amount out of the bounded reward pool.
func (s *Service) MintReward(to ledger.Address, amount uint64, reason string) (ledger.TxRecord, error) {
	defer s.observe("mint")()
	rec, err := s.ledger.MintReward(to, amount, reason)
	if err != nil {
		s.metrics.count(s.metrics.mints(), "error")
		return ledger.TxRecord{}, err
	}
	s.metrics.count(s.metrics.mints(), "success")
	return rec, s.postCheck("mint")
}

// Reserve opens a two-phase hold for an explicitly estimated amount.
func (s *Service) Reserve(holder ledger.Address, estimated uint64, operationContext, key string) (*reservation.Reservation, error) {
	defer s.observe("reserve")()
	res, err := s.reservations.Reserve(holder, estimated, operationContext, key)
	if err != nil {
		s.metrics.count(s.metrics.reservations(), "reserve", "error")
		return nil, err
	}
	s.metrics.count(s.metrics.reservations(), "reserve", "success")
	return res, s.postCheck("reserve")
}

// ReserveFor estimates the cost of the metered operation described by
// operationContext via the configured cost function and opens a hold
// for it. The estimate is deterministic per context, so a retry
// produces the same idempotency key and returns the prior hold.
func (s *Service) ReserveFor(holder ledger.Address, operationContext string) (*reservation.Reservation, error) {
	if s.estimate == nil {
		return nil, errors.New("no cost function configured")
	}
	estimated := s.estimate(operationContext)
	return s.Reserve(holder, estimated, operationContext, "")
}

// Finalize settles a reservation against the actual cost.
func (s *Service) Finalize(id string, actual uint64) (reservation.Adjustment, error) {
	defer s.observe("finalize")()
	adj, err := s.reservations.Finalize(id, actual)
	if err != nil {
		s.metrics.count(s.metrics.reservations(), "finalize", "error")
		return reservation.Adjustment{}, err
	}
	s.metrics.count(s.metrics.reservations(), "finalize", "success")
	return adj, s.postCheck("finalize")
}

// Cancel refunds a reservation in full.
func (s *Service) Cancel(id string) error {
	defer s.observe("cancel")()
	if err := s.reservations.Cancel(id); err != nil {
		s.metrics.count(s.metrics.reservations(), "cancel", "error")
		return err
	}
	s.metrics.count(s.metrics.reservations(), "cancel", "success")
	return s.postCheck("cancel")
}

// GetReservation returns a copy of the reservation.
func (s *Service) GetReservation(id string) (reservation.Reservation, error) {
	return s.reservations.Get(id)
}

// CreatePool opens a pool for sym against the base currency.
func (s *Service) CreatePool(creator ledger.Address, sym string, tokenAmt, baseAmt uint64) (string, uint64, error) {
	defer s.observe("create_pool")()
	id, shares, err := s.exchange.CreatePool(creator, sym, tokenAmt, baseAmt)
	if err != nil {
		return "", 0, err
	}
	return id, shares, s.postCheck("create_pool")
}

// SwapTokens trades through a pool with a minimum-output guard.
func (s *Service) SwapTokens(trader ledger.Address, fromAsset, toAsset string, amountIn, minOut uint64) (uint64, error) {
	defer s.observe("swap")()
	out, err := s.exchange.SwapTokens(trader, fromAsset, toAsset, amountIn, minOut)
	if err != nil {
		s.metrics.count(s.metrics.swaps(), "error")
		return 0, err
	}
	s.metrics.count(s.metrics.swaps(), "success")
	return out, s.postCheck("swap")
}

// GetQuote prices a trade without executing it.
func (s *Service) GetQuote(fromAsset, toAsset string, amountIn uint64) (amm.Quote, error) {
	return s.exchange.GetQuote(fromAsset, toAsset, amountIn)
}

// AddLiquidity deposits both sides into an existing pool.
func (s *Service) AddLiquidity(provider ledger.Address, sym string, tokenAmt, baseAmt uint64) (uint64, error) {
	defer s.observe("add_liquidity")()
	shares, err := s.exchange.AddLiquidity(provider, sym, tokenAmt, baseAmt)
	if err != nil {
		return 0, err
	}
	return shares, s.postCheck("add_liquidity")
}

// RemoveLiquidity burns shares and pays out both sides.
func (s *Service) RemoveLiquidity(provider ledger.Address, sym string, shares uint64) (uint64, uint64, error) {
	defer s.observe("remove_liquidity")()
	tokenOut, baseOut, err := s.exchange.RemoveLiquidity(provider, sym, shares)
	if err != nil {
		return 0, 0, err
	}
	return tokenOut, baseOut, s.postCheck("remove_liquidity")
}

// PoolStats returns a pool snapshot.
func (s *Service) PoolStats(sym string) (amm.Stats, error) {
	return s.exchange.PoolStats(sym)
}

// postCheck runs the conservation check after a successful command
// when strict mode is on. A trip is a logic bug: it is logged at error
// severity, counted, and fails the operation rather than being
// papered over.
func (s *Service) postCheck(op string) error {
	if !s.strict {
		return nil
	}
	if err := s.ledger.VerifyConservation(); err != nil {
		if s.metrics != nil {
			s.metrics.ConservationFailures.Inc()
		}
		s.log.Error().Err(err).Str("op", op).Msg("conservation check failed")
		return err
	}
	return nil
}

func (s *Service) observe(op string) func() {
	if s.metrics == nil || s.metrics.OperationDuration == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		s.metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
