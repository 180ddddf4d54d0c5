// Package exchange orchestrates liquidity pools against the base
// ledger and the secondary-asset token ledger. Pools form a star
// around the base currency: every pool pairs one token with base, so
// every trade is at most one hop.
package exchange

import (
	"fmt"
	"sync"

	"github.com/simecon/ledgerd/internal/core/amm"
	"github.com/simecon/ledgerd/internal/core/ledger"
	"github.com/simecon/ledgerd/internal/core/token"
)

// Engine owns all pool instances and mediates every access to them.
// It holds references, not ownership, to the base ledger (through
// BaseLedger) and the token registry.
type Engine struct {
	mu sync.Mutex

	base    string
	feeBps  uint32
	tolBps  uint32
	custody ledger.Address

	baseLedger BaseLedger
	tokens     *token.Registry
	pools      map[string]*amm.Pool
}

// NewEngine creates an exchange engine. base is the base-currency
// symbol, feeBps the trading fee applied to new pools and tolBps the
// accepted deviation for follow-up liquidity deposits.
func NewEngine(base string, feeBps, tolBps uint32, bl BaseLedger, tokens *token.Registry, custody ledger.Address) *Engine {
	return &Engine{
		base:       base,
		feeBps:     feeBps,
		tolBps:     tolBps,
		custody:    custody,
		baseLedger: bl,
		tokens:     tokens,
		pools:      make(map[string]*amm.Pool),
	}
}

// BaseSymbol returns the base currency symbol.
func (e *Engine) BaseSymbol() string { return e.base }

// PoolID names the pool pairing sym with the base currency.
func (e *Engine) PoolID(sym string) string { return sym + "/" + e.base }

// CreatePool registers a pool for sym against the base currency and
// seeds it with the creator's initial deposit. Balance verification
// happens before any state mutation.
func (e *Engine) CreatePool(creator ledger.Address, sym string, tokenAmt, baseAmt uint64) (string, uint64, error) {
	if sym == e.base {
		return "", 0, fmt.Errorf("%s/%s: %w", sym, e.base, ErrInvalidPairing)
	}
	if !e.tokens.Exists(sym) {
		return "", 0, fmt.Errorf("create pool: %s: %w", sym, token.ErrTokenNotFound)
	}
	if tokenAmt == 0 || baseAmt == 0 {
		return "", 0, amm.ErrZeroAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.pools[sym]; ok {
		return "", 0, fmt.Errorf("%s: %w", e.PoolID(sym), ErrPoolAlreadyExists)
	}

	if err := e.verifyFunds(creator, sym, tokenAmt, baseAmt); err != nil {
		return "", 0, err
	}

	pool, err := amm.NewPool(sym, e.base, e.feeBps)
	if err != nil {
		return "", 0, err
	}

	if err := e.depositCustody(creator, sym, tokenAmt, baseAmt, "create "+e.PoolID(sym)); err != nil {
		return "", 0, err
	}
	shares, err := pool.AddLiquidity(string(creator), tokenAmt, baseAmt, e.tolBps)
	if err != nil {
		e.refundCustody(creator, sym, tokenAmt, baseAmt, "unwind create "+e.PoolID(sym))
		return "", 0, err
	}

	e.pools[sym] = pool
	return e.PoolID(sym), shares, nil
}

// GetQuote prices a one-hop trade between fromAsset and toAsset
// without touching any state.
func (e *Engine) GetQuote(fromAsset, toAsset string, amountIn uint64) (amm.Quote, error) {
	sym, err := e.pairToken(fromAsset, toAsset)
	if err != nil {
		return amm.Quote{}, err
	}
	e.mu.Lock()
	pool, ok := e.pools[sym]
	e.mu.Unlock()
	if !ok {
		return amm.Quote{}, fmt.Errorf("%s: %w", e.PoolID(sym), ErrPoolNotFound)
	}
	return pool.Quote(fromAsset, amountIn)
}

// SwapTokens trades amountIn of fromAsset for toAsset through the
// pool, rejecting the trade if the output would fall below minOut.
//
// Fee routing is deliberately asymmetric: when the base side carries
// the fee (base-currency input) the fee portion is skimmed out of the
// pool and forwarded to the reward pool; when the token side carries
// it, the fee stays in the reserves and accrues to liquidity
// providers. Unifying the two changes LP economics, so it stays as
// designed.
func (e *Engine) SwapTokens(trader ledger.Address, fromAsset, toAsset string, amountIn, minOut uint64) (uint64, error) {
	sym, err := e.pairToken(fromAsset, toAsset)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pool, ok := e.pools[sym]
	if !ok {
		return 0, fmt.Errorf("%s: %w", e.PoolID(sym), ErrPoolNotFound)
	}

	q, err := pool.Quote(fromAsset, amountIn)
	if err != nil {
		return 0, err
	}
	if q.AmountOut == 0 {
		return 0, amm.ErrNoLiquidity
	}
	if q.AmountOut < minOut {
		return 0, fmt.Errorf("quote %d below minimum %d: %w", q.AmountOut, minOut, amm.ErrSlippageExceeded)
	}

	baseIn := fromAsset == e.base

	// Verify, then debit the input side into custody. Nothing else
	// has changed yet, so a failed debit aborts cleanly.
	if baseIn {
		if e.baseLedger.Balance(trader) < amountIn {
			return 0, fmt.Errorf("swap input %d: %w", amountIn, ledger.ErrInsufficientBalance)
		}
		if err := e.baseLedger.ToCustody(trader, amountIn, "swap in "+e.PoolID(sym)); err != nil {
			return 0, err
		}
	} else {
		if err := e.tokens.Transfer(sym, trader, e.custody, amountIn); err != nil {
			return 0, err
		}
	}

	out, err := pool.Swap(fromAsset, amountIn, minOut)
	if err != nil {
		// Quote and swap run under the engine lock, so the pool
		// cannot have moved between them.
		e.refundInput(trader, sym, baseIn, amountIn)
		return 0, err
	}

	if baseIn {
		if err := e.tokens.Transfer(sym, e.custody, trader, out); err != nil {
			return 0, err
		}
		if q.Fee > 0 {
			if err := pool.SkimFee(e.base, q.Fee); err != nil {
				return 0, err
			}
			if err := e.baseLedger.ForwardFee(q.Fee, "trading fee "+e.PoolID(sym)); err != nil {
				// The fee cannot leave custody, so it stays in the
				// pool reserve instead of stranding between the two.
				_ = pool.Accrue(e.base, q.Fee)
				return 0, err
			}
		}
	} else {
		if err := e.baseLedger.FromCustody(trader, out, "swap out "+e.PoolID(sym)); err != nil {
			return 0, err
		}
	}
	return out, nil
}

// AddLiquidity deposits both sides into the pool and mints LP shares
// to the provider.
func (e *Engine) AddLiquidity(provider ledger.Address, sym string, tokenAmt, baseAmt uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pool, ok := e.pools[sym]
	if !ok {
		return 0, fmt.Errorf("%s: %w", e.PoolID(sym), ErrPoolNotFound)
	}
	if err := e.verifyFunds(provider, sym, tokenAmt, baseAmt); err != nil {
		return 0, err
	}

	if err := e.depositCustody(provider, sym, tokenAmt, baseAmt, "add liquidity "+e.PoolID(sym)); err != nil {
		return 0, err
	}
	shares, err := pool.AddLiquidity(string(provider), tokenAmt, baseAmt, e.tolBps)
	if err != nil {
		e.refundCustody(provider, sym, tokenAmt, baseAmt, "unwind add "+e.PoolID(sym))
		return 0, err
	}
	return shares, nil
}

// RemoveLiquidity burns the provider's shares and pays out both sides
// pro rata.
func (e *Engine) RemoveLiquidity(provider ledger.Address, sym string, shares uint64) (uint64, uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pool, ok := e.pools[sym]
	if !ok {
		return 0, 0, fmt.Errorf("%s: %w", e.PoolID(sym), ErrPoolNotFound)
	}

	tokenOut, baseOut, err := pool.RemoveLiquidity(string(provider), shares)
	if err != nil {
		return 0, 0, err
	}

	if tokenOut > 0 {
		if err := e.tokens.Transfer(sym, e.custody, provider, tokenOut); err != nil {
			return 0, 0, err
		}
	}
	if baseOut > 0 {
		if err := e.baseLedger.FromCustody(provider, baseOut, "remove liquidity "+e.PoolID(sym)); err != nil {
			return 0, 0, err
		}
	}
	return tokenOut, baseOut, nil
}

// PoolStats returns the snapshot of the pool for sym.
func (e *Engine) PoolStats(sym string) (amm.Stats, error) {
	e.mu.Lock()
	pool, ok := e.pools[sym]
	e.mu.Unlock()
	if !ok {
		return amm.Stats{}, fmt.Errorf("%s: %w", e.PoolID(sym), ErrPoolNotFound)
	}
	return pool.Snapshot(), nil
}

// SharesOf returns the provider's LP share balance in the pool.
func (e *Engine) SharesOf(provider ledger.Address, sym string) (uint64, error) {
	e.mu.Lock()
	pool, ok := e.pools[sym]
	e.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%s: %w", e.PoolID(sym), ErrPoolNotFound)
	}
	return pool.SharesOf(string(provider)), nil
}

// ListPools returns the ids of all pools.
func (e *Engine) ListPools() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.pools))
	for sym := range e.pools {
		out = append(out, e.PoolID(sym))
	}
	return out
}

// pairToken validates the star-topology pairing rule and returns the
// token symbol of the pool involved.
func (e *Engine) pairToken(fromAsset, toAsset string) (string, error) {
	if fromAsset == toAsset {
		return "", fmt.Errorf("%s/%s: %w", fromAsset, toAsset, ErrInvalidPairing)
	}
	switch {
	case fromAsset == e.base:
		return toAsset, nil
	case toAsset == e.base:
		return fromAsset, nil
	default:
		// Direct token/token trades would need multi-hop routing.
		return "", fmt.Errorf("%s/%s: %w", fromAsset, toAsset, ErrInvalidPairing)
	}
}

func (e *Engine) verifyFunds(addr ledger.Address, sym string, tokenAmt, baseAmt uint64) error {
	bal, err := e.tokens.BalanceOf(sym, addr)
	if err != nil {
		return err
	}
	if bal < tokenAmt {
		return fmt.Errorf("%s balance %d of %d: %w", sym, bal, tokenAmt, token.ErrInsufficientBalance)
	}
	if e.baseLedger.Balance(addr) < baseAmt {
		return fmt.Errorf("base balance of %d: %w", baseAmt, ledger.ErrInsufficientBalance)
	}
	return nil
}

func (e *Engine) depositCustody(addr ledger.Address, sym string, tokenAmt, baseAmt uint64, memo string) error {
	if err := e.tokens.Transfer(sym, addr, e.custody, tokenAmt); err != nil {
		return err
	}
	if err := e.baseLedger.ToCustody(addr, baseAmt, memo); err != nil {
		// Unwind the token leg so a base-side failure leaves no
		// partial application.
		_ = e.tokens.Transfer(sym, e.custody, addr, tokenAmt)
		return err
	}
	return nil
}

func (e *Engine) refundCustody(addr ledger.Address, sym string, tokenAmt, baseAmt uint64, memo string) {
	_ = e.tokens.Transfer(sym, e.custody, addr, tokenAmt)
	_ = e.baseLedger.FromCustody(addr, baseAmt, memo)
}

func (e *Engine) refundInput(trader ledger.Address, sym string, baseIn bool, amountIn uint64) {
	if baseIn {
		_ = e.baseLedger.FromCustody(trader, amountIn, "unwind swap")
	} else {
		_ = e.tokens.Transfer(sym, e.custody, trader, amountIn)
	}
}
