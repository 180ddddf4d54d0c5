package ledger

import "time"

// Address identifies an account. System accounts use a "sys." prefix
// by convention, but the ledger attaches no meaning to the string.
type Address string

// Account is the balance-holding unit of the ledger. The nonce counts
// outgoing mutations and exists for audit ordering, not replay
// protection.
type Account struct {
	Address   Address
	Balance   uint64
	Nonce     uint64
	CreatedAt time.Time
}

// snapshot captures the mutable fields for rollback.
func (a *Account) snapshot() Account { return *a }

// restore rewinds the account to a prior snapshot.
func (a *Account) restore(snap Account) {
	a.Balance = snap.Balance
	a.Nonce = snap.Nonce
}

// accountStore is the in-memory account map. It does no locking; the
// ledger serializes all access.
type accountStore struct {
	accounts map[Address]*Account
}

func newAccountStore() *accountStore {
	return &accountStore{accounts: make(map[Address]*Account)}
}

// get returns the account or nil.
func (s *accountStore) get(addr Address) *Account {
	return s.accounts[addr]
}

// getOrCreate returns the account, creating it with zero balance on
// first reference.
func (s *accountStore) getOrCreate(addr Address) *Account {
	if acct, ok := s.accounts[addr]; ok {
		return acct
	}
	acct := &Account{
		Address:   addr,
		CreatedAt: time.Now().UTC(),
	}
	s.accounts[addr] = acct
	return acct
}

// addresses lists every known address in map order.
func (s *accountStore) addresses() []Address {
	out := make([]Address, 0, len(s.accounts))
	for addr := range s.accounts {
		out = append(out, addr)
	}
	return out
}
