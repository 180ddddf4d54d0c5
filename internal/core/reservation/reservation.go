package reservation

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/simecon/ledgerd/internal/core/ledger"
)

// Status is the reservation lifecycle state. RESERVED is the only
// non-terminal state; no transition ever leaves FINALIZED or
// CANCELLED.
type Status uint8

const (
	StatusReserved Status = iota
	StatusFinalized
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusReserved:
		return "reserved"
	case StatusFinalized:
		return "finalized"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool { return s != StatusReserved }

// Reservation is a hold taken against a holder before the exact cost
// of a metered operation is known. The reserved amount sits in the
// ledger's escrow vault until finalize or cancel settles it.
type Reservation struct {
	ID          string
	Holder      ledger.Address
	Reserved    uint64
	Status      Status
	Context     string
	Key         string
	CreatedAt   time.Time
	FinalizedAt *time.Time
}

// AdjustmentKind records how finalize settled the estimate/actual gap.
type AdjustmentKind string

const (
	AdjustRefund AdjustmentKind = "refund"
	AdjustTopUp  AdjustmentKind = "top-up"
	AdjustExact  AdjustmentKind = "exact"
)

// Adjustment is the result of a successful finalize.
type Adjustment struct {
	Kind   AdjustmentKind
	Amount uint64
	Actual uint64
}

// CostFunc estimates the cost of a metered operation in base units.
// It must be deterministic for a given context string so that retried
// reserve calls produce comparable estimates.
type CostFunc func(operationContext string) uint64

// Manager implements the two-phase reserve/finalize/cancel protocol on
// top of the transfer engine. Reserved funds are debited into the
// ledger's escrow vault immediately, so a double spend during the
// uncertain-cost window is impossible.
type Manager struct {
	mu          sync.Mutex
	ledger      *ledger.Ledger
	beneficiary ledger.Address
	byID        map[string]*Reservation
	byKey       map[string]string
	// perRes serializes the check-and-transition of each reservation
	// so a concurrent finalize and cancel cannot both pass the
	// status check.
	perRes map[string]*sync.Mutex
}

// NewManager creates a reservation manager. Finalized amounts are
// credited to beneficiary (typically the treasury or reward pool).
func NewManager(l *ledger.Ledger, beneficiary ledger.Address) *Manager {
	return &Manager{
		ledger:      l,
		beneficiary: beneficiary,
		byID:        make(map[string]*Reservation),
		byKey:       make(map[string]string),
		perRes:      make(map[string]*sync.Mutex),
	}
}

// DeriveKey computes a deterministic idempotency key from request
// content. Callers that retry a triggering request pass the same key
// and get the prior reservation back instead of a second debit.
func DeriveKey(holder ledger.Address, estimated uint64, operationContext string) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%s", holder, estimated, operationContext)
	return fmt.Sprintf("%016x", h.Sum64())
}

// Reserve debits estimated from holder into the escrow vault and
// records a RESERVED entry. If key matches an existing reservation
// that is not cancelled, the prior reservation is returned and nothing
// is debited: a cancelled match does not count, because cancellation
// means the metered operation failed and a retry is a new attempt.
// An empty key is derived from the request content.
func (m *Manager) Reserve(holder ledger.Address, estimated uint64, operationContext, key string) (*Reservation, error) {
	if estimated == 0 {
		return nil, ErrZeroEstimate
	}
	if key == "" {
		key = DeriveKey(holder, estimated, operationContext)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byKey[key]; ok {
		if prior := m.byID[id]; prior != nil && prior.Status != StatusCancelled {
			out := *prior
			return &out, nil
		}
	}

	if _, err := m.ledger.Move(ledger.KindReservationHold, holder, m.ledger.EscrowVault(), estimated, operationContext); err != nil {
		return nil, err
	}

	res := &Reservation{
		ID:        uuid.NewString(),
		Holder:    holder,
		Reserved:  estimated,
		Status:    StatusReserved,
		Context:   operationContext,
		Key:       key,
		CreatedAt: time.Now().UTC(),
	}
	m.byID[res.ID] = res
	m.byKey[key] = res.ID
	m.perRes[res.ID] = &sync.Mutex{}

	out := *res
	return &out, nil
}

// Finalize settles a reservation against the actual cost.
//
// Overcharged: the surplus is refunded to the holder. Undercharged:
// the shortfall is debited from the holder; if the holder cannot
// cover it the reservation stays RESERVED and the held amount stays
// in the vault, so no value is lost or duplicated and the caller can
// retry or cancel. On success the actual amount is credited to the
// beneficiary and the reservation becomes FINALIZED.
//
// The adjustment and the beneficiary credit apply as one atomic batch:
// a failure on any leg leaves every balance at its pre-call value and
// the reservation RESERVED, so a retry starts from scratch instead of
// compounding a half-applied settlement.
func (m *Manager) Finalize(id string, actual uint64) (Adjustment, error) {
	lock, res, err := m.checkout(id)
	if err != nil {
		return Adjustment{}, err
	}
	lock.Lock()
	defer lock.Unlock()

	if res.Status.Terminal() {
		return Adjustment{}, fmt.Errorf("finalize %s (%s): %w", id, res.Status, ErrAlreadyTerminal)
	}

	vault := m.ledger.EscrowVault()
	adj := Adjustment{Kind: AdjustExact, Actual: actual}
	var legs []ledger.Leg

	switch {
	case actual > res.Reserved:
		topUp := actual - res.Reserved
		legs = append(legs, ledger.Leg{
			Kind: ledger.KindReservationHold, From: res.Holder, To: vault,
			Amount: topUp, Memo: res.Context,
		})
		adj.Kind = AdjustTopUp
		adj.Amount = topUp
	case actual < res.Reserved:
		refund := res.Reserved - actual
		legs = append(legs, ledger.Leg{
			Kind: ledger.KindReservationFinalize, From: vault, To: res.Holder,
			Amount: refund, Memo: "refund: " + res.Context,
		})
		adj.Kind = AdjustRefund
		adj.Amount = refund
	}
	if actual > 0 {
		legs = append(legs, ledger.Leg{
			Kind: ledger.KindReservationFinalize, From: vault, To: m.beneficiary,
			Amount: actual, Memo: res.Context,
		})
	}

	if _, err := m.ledger.MoveBatch(legs); err != nil {
		if adj.Kind == AdjustTopUp && errors.Is(err, ledger.ErrInsufficientBalance) {
			return Adjustment{}, fmt.Errorf("%w: need %d more: %v", ErrInsufficientForTopUp, adj.Amount, err)
		}
		return Adjustment{}, err
	}

	m.transition(res, StatusFinalized)
	return adj, nil
}

// Cancel refunds the full reserved amount to the holder and marks the
// reservation CANCELLED. Safe to call at any time before a terminal
// state is reached; used when the metered operation fails before its
// real cost is known.
func (m *Manager) Cancel(id string) error {
	lock, res, err := m.checkout(id)
	if err != nil {
		return err
	}
	lock.Lock()
	defer lock.Unlock()

	if res.Status.Terminal() {
		return fmt.Errorf("cancel %s (%s): %w", id, res.Status, ErrAlreadyTerminal)
	}

	if _, err := m.ledger.Move(ledger.KindReservationCancel, m.ledger.EscrowVault(), res.Holder, res.Reserved, res.Context); err != nil {
		return err
	}

	m.transition(res, StatusCancelled)
	return nil
}

// transition writes the terminal state under the manager lock so that
// readers holding only that lock never observe a torn update. The
// caller holds the reservation's own lock, which serializes competing
// transitions. FinalizedAt is stamped only on FINALIZED; a cancelled
// reservation keeps it nil.
func (m *Manager) transition(res *Reservation, to Status) {
	m.mu.Lock()
	res.Status = to
	if to == StatusFinalized {
		now := time.Now().UTC()
		res.FinalizedAt = &now
	}
	m.mu.Unlock()
}

// Get returns a copy of the reservation.
func (m *Manager) Get(id string) (Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.byID[id]
	if !ok {
		return Reservation{}, fmt.Errorf("reservation %s: %w", id, ErrNotFound)
	}
	return *res, nil
}

// Expired lists non-terminal reservations created before cutoff.
// Sweeping them is operational policy outside this core; an operator
// loop calls Cancel on each.
func (m *Manager) Expired(cutoff time.Time) []Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Reservation
	for _, res := range m.byID {
		if !res.Status.Terminal() && res.CreatedAt.Before(cutoff) {
			out = append(out, *res)
		}
	}
	return out
}

func (m *Manager) checkout(id string) (*sync.Mutex, *Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.byID[id]
	if !ok {
		return nil, nil, fmt.Errorf("reservation %s: %w", id, ErrNotFound)
	}
	return m.perRes[id], res, nil
}
