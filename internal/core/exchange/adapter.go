package exchange

import (
	"github.com/simecon/ledgerd/internal/core/ledger"
)

// BaseLedger is what the engine needs from the base-currency ledger.
// The AMM package never sees it; the engine is the only integration
// point between pool math and real balances.
type BaseLedger interface {
	Balance(addr ledger.Address) uint64
	// ToCustody moves base units from a trader into the exchange
	// custody account backing the pool reserves.
	ToCustody(from ledger.Address, amount uint64, memo string) error
	// FromCustody pays base units out of custody to a trader.
	FromCustody(to ledger.Address, amount uint64, memo string) error
	// ForwardFee routes a skimmed base-side trading fee out of
	// custody through the fee collector into the reward pool.
	ForwardFee(amount uint64, memo string) error
}

// Adapter implements BaseLedger on the real transfer engine.
type Adapter struct {
	ledger  *ledger.Ledger
	custody ledger.Address
}

// NewAdapter wraps l with custody as the account holding the base
// side of all pool reserves.
func NewAdapter(l *ledger.Ledger, custody ledger.Address) *Adapter {
	return &Adapter{ledger: l, custody: custody}
}

// Custody returns the custody address.
func (a *Adapter) Custody() ledger.Address { return a.custody }

func (a *Adapter) Balance(addr ledger.Address) uint64 {
	return a.ledger.GetBalance(addr)
}

func (a *Adapter) ToCustody(from ledger.Address, amount uint64, memo string) error {
	_, err := a.ledger.Move(ledger.KindTransfer, from, a.custody, amount, memo)
	return err
}

func (a *Adapter) FromCustody(to ledger.Address, amount uint64, memo string) error {
	_, err := a.ledger.Move(ledger.KindTransfer, a.custody, to, amount, memo)
	return err
}

func (a *Adapter) ForwardFee(amount uint64, memo string) error {
	collector := a.ledger.FeeCollector()
	_, err := a.ledger.MoveBatch([]ledger.Leg{
		{Kind: ledger.KindFee, From: a.custody, To: collector, Amount: amount, Memo: memo},
		{Kind: ledger.KindFee, From: collector, To: a.ledger.RewardPool(), Amount: amount, Memo: "forward: " + memo},
	})
	return err
}
