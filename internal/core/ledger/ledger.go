package ledger

import (
	"fmt"
	"sync"
	"time"
)

// Params fixes the economic constants of a ledger instance. The whole
// supply is minted once at genesis: the reward allotment goes to the
// reward pool account and the remainder to the treasury. Nothing is
// minted afterwards; MintReward only moves units out of the reward
// pool.
type Params struct {
	GenesisSupply   uint64
	RewardAllotment uint64
	BaseFee         uint64

	Treasury     Address
	FeeCollector Address
	BurnSink     Address
	RewardPool   Address
	EscrowVault  Address
}

func (p Params) validate() error {
	if p.GenesisSupply == 0 {
		return fmt.Errorf("genesis supply must be positive")
	}
	if p.RewardAllotment > p.GenesisSupply {
		return fmt.Errorf("reward allotment %d exceeds genesis supply %d", p.RewardAllotment, p.GenesisSupply)
	}
	for name, addr := range map[string]Address{
		"treasury":      p.Treasury,
		"fee_collector": p.FeeCollector,
		"burn_sink":     p.BurnSink,
		"reward_pool":   p.RewardPool,
		"escrow_vault":  p.EscrowVault,
	} {
		if addr == "" {
			return fmt.Errorf("%s address is required", name)
		}
	}
	if p.BurnSink == p.Treasury || p.BurnSink == p.RewardPool || p.BurnSink == p.FeeCollector || p.BurnSink == p.EscrowVault {
		return fmt.Errorf("burn sink must be a dedicated address")
	}
	return nil
}

// Ledger is the base-currency transfer engine plus its account store
// and append-only journal. It is an explicit handle: every component
// that mutates balances receives one, there is no ambient instance.
//
// Locking: each operation takes the per-address locks of every touched
// account in lexicographic order, then the ledger mutex for the
// duration of the in-memory apply and journal append. Readers take the
// ledger mutex only, so they always observe fully applied operations.
type Ledger struct {
	mu    sync.RWMutex
	store *accountStore
	log   journal
	locks *lockTable

	params      Params
	totalBurned uint64
	seq         uint64

	sink Sink

	// creditHook, when set, runs before any account is credited.
	// Tests use it to force a failure after the debit has been
	// applied and assert that the rollback restores every account.
	creditHook func(addr Address, amount uint64) error
}

// NewLedger creates a ledger and mints the genesis supply into the
// treasury and reward pool accounts.
func NewLedger(params Params, sink Sink) (*Ledger, error) {
	if err := params.validate(); err != nil {
		return nil, fmt.Errorf("invalid ledger params: %w", err)
	}
	l := &Ledger{
		store:  newAccountStore(),
		locks:  newLockTable(),
		params: params,
		sink:   sink,
	}

	treasury := l.store.getOrCreate(params.Treasury)
	treasury.Balance = params.GenesisSupply - params.RewardAllotment
	rec := l.appendLocked(KindMint, "", params.Treasury, treasury.Balance, 0, "genesis")
	if err := l.flushLocked(rec); err != nil {
		return nil, err
	}

	reward := l.store.getOrCreate(params.RewardPool)
	reward.Balance += params.RewardAllotment
	rec = l.appendLocked(KindMint, "", params.RewardPool, params.RewardAllotment, 0, "genesis reward allotment")
	if err := l.flushLocked(rec); err != nil {
		return nil, err
	}

	l.store.getOrCreate(params.FeeCollector)
	l.store.getOrCreate(params.BurnSink)
	l.store.getOrCreate(params.EscrowVault)
	return l, nil
}

// Params returns the economic constants this ledger was created with.
func (l *Ledger) Params() Params { return l.params }

// BaseFee is the default transfer fee.
func (l *Ledger) BaseFee() uint64 { return l.params.BaseFee }

// EscrowVault is the account holding in-flight reservation funds.
func (l *Ledger) EscrowVault() Address { return l.params.EscrowVault }

// RewardPool is the bounded pool MintReward draws from.
func (l *Ledger) RewardPool() Address { return l.params.RewardPool }

// FeeCollector receives transfer and trading fees.
func (l *Ledger) FeeCollector() Address { return l.params.FeeCollector }

// GetAccount returns a copy of the account, or false if the address
// was never referenced. Callers must not assume existence.
func (l *Ledger) GetAccount(addr Address) (Account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct := l.store.get(addr)
	if acct == nil {
		return Account{}, false
	}
	return *acct, true
}

// GetOrCreate returns a copy of the account, creating it with zero
// balance on first reference. It never fails.
func (l *Ledger) GetOrCreate(addr Address) Account {
	defer l.locks.acquire(addr)()
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.store.getOrCreate(addr)
}

// GetBalance returns the balance of addr, zero if it does not exist.
func (l *Ledger) GetBalance(addr Address) uint64 {
	acct, ok := l.GetAccount(addr)
	if !ok {
		return 0
	}
	return acct.Balance
}

// TotalBurned is the cumulative amount destroyed via Burn.
func (l *Ledger) TotalBurned() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalBurned
}

// JournalLen returns the number of journal entries. Query caches use
// it as a cheap change marker.
func (l *Ledger) JournalLen() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.log.len()
}

// RecentByAccount returns up to limit records touching addr, most
// recent first.
func (l *Ledger) RecentByAccount(addr Address, limit int) []TxRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.log.recentByAccount(addr, limit)
}

// Transfer moves amount from one account to another, charging the
// default base fee to the sender and routing it to the fee collector.
func (l *Ledger) Transfer(from, to Address, amount uint64) (TxRecord, error) {
	return l.TransferAtomic(from, to, amount, l.params.BaseFee, "")
}

// TransferAtomic moves amount from `from` to `to` and fee to the fee
// collector, all or nothing. On any failure no account field changes:
// validation happens before the first mutation, and every step after
// it restores pre-call snapshots verbatim if a later step fails.
func (l *Ledger) TransferAtomic(from, to Address, amount, fee uint64, memo string) (TxRecord, error) {
	total, ok := addChecked(amount, fee)
	if !ok {
		return TxRecord{}, ErrAmountOverflow
	}
	if err := l.guardBurnSink(from, to); err != nil {
		return TxRecord{}, err
	}

	defer l.locks.acquire(from, to, l.params.FeeCollector)()
	l.mu.Lock()
	defer l.mu.Unlock()

	sender := l.store.get(from)
	if sender == nil {
		return TxRecord{}, fmt.Errorf("transfer from %s: %w", from, ErrUnknownSender)
	}
	if sender.Balance < total {
		return TxRecord{}, fmt.Errorf("transfer of %d+%d from %s (balance %d): %w",
			amount, fee, from, sender.Balance, ErrInsufficientBalance)
	}

	recipient := l.store.getOrCreate(to)
	collector := l.store.getOrCreate(l.params.FeeCollector)

	snaps := snapshotAll(sender, recipient, collector)

	sender.Balance -= total
	sender.Nonce++
	if err := l.credit(recipient, amount); err != nil {
		restoreAll(snaps)
		return TxRecord{}, err
	}
	if err := l.credit(collector, fee); err != nil {
		restoreAll(snaps)
		return TxRecord{}, err
	}

	rec := l.appendLocked(KindTransfer, from, to, amount, fee, memo)
	if err := l.flushLocked(rec); err != nil {
		restoreAll(snaps)
		return TxRecord{}, err
	}
	return rec, nil
}

// Burn destroys amount from the account. The units move to the burn
// sink for audit visibility and the global burn counter increments;
// the operation is irreversible.
func (l *Ledger) Burn(from Address, amount uint64, reason string) (TxRecord, error) {
	defer l.locks.acquire(from, l.params.BurnSink)()
	l.mu.Lock()
	defer l.mu.Unlock()

	sender := l.store.get(from)
	if sender == nil {
		return TxRecord{}, fmt.Errorf("burn from %s: %w", from, ErrUnknownSender)
	}
	if sender.Balance < amount {
		return TxRecord{}, fmt.Errorf("burn of %d from %s (balance %d): %w",
			amount, from, sender.Balance, ErrInsufficientBalance)
	}
	sink := l.store.getOrCreate(l.params.BurnSink)

	snaps := snapshotAll(sender, sink)
	burnedBefore := l.totalBurned

	sender.Balance -= amount
	sender.Nonce++
	sink.Balance += amount
	l.totalBurned += amount

	rec := l.appendLocked(KindBurn, from, l.params.BurnSink, amount, 0, reason)
	if err := l.flushLocked(rec); err != nil {
		restoreAll(snaps)
		l.totalBurned = burnedBefore
		return TxRecord{}, err
	}
	return rec, nil
}

// MintReward moves amount out of the bounded reward pool into `to`.
// This is not inflation: it fails closed once the pool is exhausted.
func (l *Ledger) MintReward(to Address, amount uint64, reason string) (TxRecord, error) {
	if err := l.guardBurnSink(to); err != nil {
		return TxRecord{}, err
	}

	defer l.locks.acquire(l.params.RewardPool, to)()
	l.mu.Lock()
	defer l.mu.Unlock()

	pool := l.store.getOrCreate(l.params.RewardPool)
	if pool.Balance < amount {
		return TxRecord{}, fmt.Errorf("mint of %d (reward pool holds %d): %w",
			amount, pool.Balance, ErrInsufficientReserve)
	}
	recipient := l.store.getOrCreate(to)

	snaps := snapshotAll(pool, recipient)

	pool.Balance -= amount
	pool.Nonce++
	if err := l.credit(recipient, amount); err != nil {
		restoreAll(snaps)
		return TxRecord{}, err
	}

	rec := l.appendLocked(KindMint, l.params.RewardPool, to, amount, 0, reason)
	if err := l.flushLocked(rec); err != nil {
		restoreAll(snaps)
		return TxRecord{}, err
	}
	return rec, nil
}

// Move performs a recorded fee-free movement between two accounts. The
// reservation manager and exchange adapter use it for escrow, custody
// and fee-routing flows; the record kind tags the intent. The sender
// is created on first use, so a never-referenced sender simply fails
// the balance check.
func (l *Ledger) Move(kind RecordKind, from, to Address, amount uint64, memo string) (TxRecord, error) {
	if err := l.guardBurnSink(from, to); err != nil {
		return TxRecord{}, err
	}

	defer l.locks.acquire(from, to)()
	l.mu.Lock()
	defer l.mu.Unlock()

	sender := l.store.getOrCreate(from)
	if sender.Balance < amount {
		return TxRecord{}, fmt.Errorf("%s of %d from %s (balance %d): %w",
			kind, amount, from, sender.Balance, ErrInsufficientBalance)
	}
	recipient := l.store.getOrCreate(to)

	snaps := snapshotAll(sender, recipient)

	sender.Balance -= amount
	sender.Nonce++
	if err := l.credit(recipient, amount); err != nil {
		restoreAll(snaps)
		return TxRecord{}, err
	}

	rec := l.appendLocked(kind, from, to, amount, 0, memo)
	if err := l.flushLocked(rec); err != nil {
		restoreAll(snaps)
		return TxRecord{}, err
	}
	return rec, nil
}

// Leg is one account movement inside an atomic batch.
type Leg struct {
	Kind   RecordKind
	From   Address
	To     Address
	Amount uint64
	Memo   string
}

// MoveBatch applies a sequence of fee-free movements as one atomic
// mutation: every leg applies and journals, or none does. Legs are
// validated against the running state, so a later leg may spend what
// an earlier one credited. The reservation manager settles holds with
// it and the exchange adapter routes fees with it, so a failure on any
// leg can never leave a half-settled flow behind.
func (l *Ledger) MoveBatch(legs []Leg) ([]TxRecord, error) {
	if len(legs) == 0 {
		return nil, nil
	}

	addrs := make([]Address, 0, len(legs)*2)
	for _, leg := range legs {
		addrs = append(addrs, leg.From, leg.To)
	}
	if err := l.guardBurnSink(addrs...); err != nil {
		return nil, err
	}

	defer l.locks.acquire(addrs...)()
	l.mu.Lock()
	defer l.mu.Unlock()

	accts := make(map[Address]*Account, len(addrs))
	uniq := make([]*Account, 0, len(addrs))
	for _, addr := range addrs {
		if _, ok := accts[addr]; !ok {
			acct := l.store.getOrCreate(addr)
			accts[addr] = acct
			uniq = append(uniq, acct)
		}
	}
	snaps := snapshotAll(uniq...)

	for _, leg := range legs {
		sender := accts[leg.From]
		if sender.Balance < leg.Amount {
			restoreAll(snaps)
			return nil, fmt.Errorf("%s of %d from %s (balance %d): %w",
				leg.Kind, leg.Amount, leg.From, sender.Balance, ErrInsufficientBalance)
		}
		sender.Balance -= leg.Amount
		sender.Nonce++
		if err := l.credit(accts[leg.To], leg.Amount); err != nil {
			restoreAll(snaps)
			return nil, err
		}
	}

	seqBefore := l.seq
	logBefore := l.log.len()
	recs := make([]TxRecord, 0, len(legs))
	for _, leg := range legs {
		recs = append(recs, l.appendLocked(leg.Kind, leg.From, leg.To, leg.Amount, 0, leg.Memo))
	}
	if l.sink != nil {
		for _, rec := range recs {
			if err := l.sink.Append(rec); err != nil {
				restoreAll(snaps)
				l.log.records = l.log.records[:logBefore]
				l.seq = seqBefore
				return nil, fmt.Errorf("durable write for seq %d: %w", rec.Seq, err)
			}
		}
	}
	return recs, nil
}

// VerifyConservation checks that the sum of all balances outside the
// burn sink plus the burned total equals the genesis supply, and that
// the burn sink mirrors the burn counter. A failure is a logic bug in
// the ledger, never a business condition.
func (l *Ledger) VerifyConservation() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var sum uint64
	for _, addr := range l.store.addresses() {
		if addr == l.params.BurnSink {
			continue
		}
		sum += l.store.get(addr).Balance
	}
	if sum+l.totalBurned != l.params.GenesisSupply {
		return fmt.Errorf("%w: balances %d + burned %d != genesis %d",
			ErrConservation, sum, l.totalBurned, l.params.GenesisSupply)
	}
	if sink := l.store.get(l.params.BurnSink); sink != nil && sink.Balance != l.totalBurned {
		return fmt.Errorf("%w: burn sink %d != burned total %d",
			ErrConservation, sink.Balance, l.totalBurned)
	}
	return nil
}

// guardBurnSink rejects ordinary operations that reference the burn
// sink. Only Burn may touch it: any other credit (or debit) would
// break the mirror between the sink balance and the burn counter, and
// conservation failures must be prevented before mutation.
func (l *Ledger) guardBurnSink(addrs ...Address) error {
	for _, addr := range addrs {
		if addr == l.params.BurnSink {
			return fmt.Errorf("%s: %w", addr, ErrBurnSinkRestricted)
		}
	}
	return nil
}

func (l *Ledger) credit(acct *Account, amount uint64) error {
	if l.creditHook != nil {
		if err := l.creditHook(acct.Address, amount); err != nil {
			return err
		}
	}
	bal, ok := addChecked(acct.Balance, amount)
	if !ok {
		return fmt.Errorf("credit %d to %s: %w", amount, acct.Address, ErrAmountOverflow)
	}
	acct.Balance = bal
	return nil
}

// appendLocked assigns the next sequence number and appends the
// record. Caller holds l.mu (or is the constructor).
func (l *Ledger) appendLocked(kind RecordKind, from, to Address, amount, fee uint64, memo string) TxRecord {
	l.seq++
	rec := TxRecord{
		Seq:       l.seq,
		Kind:      kind,
		From:      from,
		To:        to,
		Amount:    amount,
		Fee:       fee,
		Timestamp: time.Now().UTC(),
		Memo:      memo,
	}
	l.log.append(rec)
	return rec
}

// flushLocked pushes the record through the durable-write boundary. On
// failure the record is unwound from the journal so the caller can
// restore account state and report a clean failure.
func (l *Ledger) flushLocked(rec TxRecord) error {
	if l.sink == nil {
		return nil
	}
	if err := l.sink.Append(rec); err != nil {
		l.log.records = l.log.records[:len(l.log.records)-1]
		l.seq--
		return fmt.Errorf("durable write for seq %d: %w", rec.Seq, err)
	}
	return nil
}

type accountSnapshot struct {
	acct *Account
	snap Account
}

func snapshotAll(accts ...*Account) []accountSnapshot {
	snaps := make([]accountSnapshot, len(accts))
	for i, a := range accts {
		snaps[i] = accountSnapshot{acct: a, snap: a.snapshot()}
	}
	return snaps
}

func restoreAll(snaps []accountSnapshot) {
	for _, s := range snaps {
		s.acct.restore(s.snap)
	}
}

func addChecked(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}
