// Package token is the balance ledger for secondary assets. It obeys
// the same non-negativity rule as the base ledger but has no nonce,
// no fees and no reservation support.
package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/simecon/ledgerd/internal/core/ledger"
)

var (
	ErrTokenExists          = errors.New("token already registered")
	ErrTokenNotFound        = errors.New("token not registered")
	ErrInsufficientBalance  = errors.New("insufficient token balance")
	ErrInsufficientApproval = errors.New("insufficient allowance")
	ErrSupplyOverflow       = errors.New("token supply overflow")
)

// Token tracks one secondary asset: total supply, per-address balances
// and owner→spender allowances.
type Token struct {
	Symbol      string
	TotalSupply uint64

	balances   map[ledger.Address]uint64
	allowances map[ledger.Address]map[ledger.Address]uint64
}

// Registry owns all secondary-asset tokens. All access goes through
// the registry lock; token operations are O(1) map work.
type Registry struct {
	mu     sync.Mutex
	tokens map[string]*Token
}

func NewRegistry() *Registry {
	return &Registry{tokens: make(map[string]*Token)}
}

// Create registers a token and mints the initial supply to owner.
func (r *Registry) Create(symbol string, initialSupply uint64, owner ledger.Address) error {
	if symbol == "" {
		return fmt.Errorf("token symbol is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[symbol]; ok {
		return fmt.Errorf("%s: %w", symbol, ErrTokenExists)
	}
	t := &Token{
		Symbol:      symbol,
		TotalSupply: initialSupply,
		balances:    make(map[ledger.Address]uint64),
		allowances:  make(map[ledger.Address]map[ledger.Address]uint64),
	}
	if initialSupply > 0 {
		t.balances[owner] = initialSupply
	}
	r.tokens[symbol] = t
	return nil
}

// Exists reports whether symbol is registered.
func (r *Registry) Exists(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tokens[symbol]
	return ok
}

// BalanceOf returns the holder's balance, zero for unknown holders.
func (r *Registry) BalanceOf(symbol string, holder ledger.Address) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[symbol]
	if !ok {
		return 0, fmt.Errorf("%s: %w", symbol, ErrTokenNotFound)
	}
	return t.balances[holder], nil
}

// TotalSupply returns the token's current supply.
func (r *Registry) TotalSupply(symbol string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[symbol]
	if !ok {
		return 0, fmt.Errorf("%s: %w", symbol, ErrTokenNotFound)
	}
	return t.TotalSupply, nil
}

// Transfer moves amount between holders. Validation precedes any
// mutation, so a failed transfer changes nothing.
func (r *Registry) Transfer(symbol string, from, to ledger.Address, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[symbol]
	if !ok {
		return fmt.Errorf("%s: %w", symbol, ErrTokenNotFound)
	}
	return t.transfer(from, to, amount)
}

// Approve sets the allowance spender may move out of owner's balance.
func (r *Registry) Approve(symbol string, owner, spender ledger.Address, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[symbol]
	if !ok {
		return fmt.Errorf("%s: %w", symbol, ErrTokenNotFound)
	}
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[ledger.Address]uint64)
	}
	t.allowances[owner][spender] = amount
	return nil
}

// Allowance returns what spender may still move out of owner's
// balance.
func (r *Registry) Allowance(symbol string, owner, spender ledger.Address) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[symbol]
	if !ok {
		return 0, fmt.Errorf("%s: %w", symbol, ErrTokenNotFound)
	}
	return t.allowances[owner][spender], nil
}

// TransferFrom spends an allowance on behalf of owner. Both the
// balance and the allowance are checked before either is touched.
func (r *Registry) TransferFrom(symbol string, spender, owner, to ledger.Address, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[symbol]
	if !ok {
		return fmt.Errorf("%s: %w", symbol, ErrTokenNotFound)
	}
	allowed := t.allowances[owner][spender]
	if allowed < amount {
		return fmt.Errorf("spender %s allowed %d of %d: %w", spender, allowed, amount, ErrInsufficientApproval)
	}
	if err := t.transfer(owner, to, amount); err != nil {
		return err
	}
	t.allowances[owner][spender] = allowed - amount
	return nil
}

// Mint creates amount new units for `to`.
func (r *Registry) Mint(symbol string, to ledger.Address, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[symbol]
	if !ok {
		return fmt.Errorf("%s: %w", symbol, ErrTokenNotFound)
	}
	supply := t.TotalSupply + amount
	if supply < t.TotalSupply {
		return fmt.Errorf("%s: %w", symbol, ErrSupplyOverflow)
	}
	t.TotalSupply = supply
	t.balances[to] += amount
	return nil
}

// Burn destroys amount units held by `from`.
func (r *Registry) Burn(symbol string, from ledger.Address, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[symbol]
	if !ok {
		return fmt.Errorf("%s: %w", symbol, ErrTokenNotFound)
	}
	if t.balances[from] < amount {
		return fmt.Errorf("burn %d from %s (balance %d): %w", amount, from, t.balances[from], ErrInsufficientBalance)
	}
	t.balances[from] -= amount
	t.TotalSupply -= amount
	return nil
}

// Symbols lists registered tokens.
func (r *Registry) Symbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.tokens))
	for sym := range r.tokens {
		out = append(out, sym)
	}
	return out
}

// SumBalances adds up every holder's balance, for conservation checks
// against TotalSupply in tests.
func (r *Registry) SumBalances(symbol string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[symbol]
	if !ok {
		return 0, fmt.Errorf("%s: %w", symbol, ErrTokenNotFound)
	}
	var sum uint64
	for _, b := range t.balances {
		sum += b
	}
	return sum, nil
}

func (t *Token) transfer(from, to ledger.Address, amount uint64) error {
	if t.balances[from] < amount {
		return fmt.Errorf("transfer %d %s from %s (balance %d): %w",
			amount, t.Symbol, from, t.balances[from], ErrInsufficientBalance)
	}
	t.balances[from] -= amount
	t.balances[to] += amount
	return nil
}
