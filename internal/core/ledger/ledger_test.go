package ledger

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func testParams() Params {
	return Params{
		GenesisSupply:   1_000_000,
		RewardAllotment: 100_000,
		BaseFee:         1,
		Treasury:        "sys.treasury",
		FeeCollector:    "sys.fees",
		BurnSink:        "sys.burned",
		RewardPool:      "sys.rewards",
		EscrowVault:     "sys.escrow",
	}
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := NewLedger(testParams(), nil)
	require.NoError(t, err)
	return l
}

// fund moves amount from the treasury without a fee so tests can
// reason about exact balances.
func fund(t *testing.T, l *Ledger, to Address, amount uint64) {
	t.Helper()
	_, err := l.TransferAtomic(l.params.Treasury, to, amount, 0, "funding")
	require.NoError(t, err)
}

func TestNewLedgerGenesis(t *testing.T) {
	l := newTestLedger(t)

	assert.Equal(t, uint64(900_000), l.GetBalance("sys.treasury"))
	assert.Equal(t, uint64(100_000), l.GetBalance("sys.rewards"))
	assert.Equal(t, uint64(0), l.TotalBurned())
	require.NoError(t, l.VerifyConservation())
}

func TestNewLedgerRejectsBadParams(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero supply", func(p *Params) { p.GenesisSupply = 0 }},
		{"reward exceeds supply", func(p *Params) { p.RewardAllotment = p.GenesisSupply + 1 }},
		{"missing treasury", func(p *Params) { p.Treasury = "" }},
		{"missing escrow vault", func(p *Params) { p.EscrowVault = "" }},
		{"burn sink aliases treasury", func(p *Params) { p.BurnSink = p.Treasury }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			tt.mutate(&p)
			_, err := NewLedger(p, nil)
			assert.Error(t, err)
		})
	}
}

func TestGetOrCreate(t *testing.T) {
	l := newTestLedger(t)

	_, ok := l.GetAccount("acct.a")
	assert.False(t, ok, "account must not exist before first reference")

	acct := l.GetOrCreate("acct.a")
	assert.Equal(t, uint64(0), acct.Balance)
	assert.Equal(t, uint64(0), acct.Nonce)

	// A zero-balance account is a valid, existing account.
	got, ok := l.GetAccount("acct.a")
	assert.True(t, ok)
	assert.Equal(t, uint64(0), got.Balance)
}

func TestTransferHappyPath(t *testing.T) {
	l := newTestLedger(t)
	fund(t, l, "acct.a", 500)

	rec, err := l.TransferAtomic("acct.a", "acct.b", 100, 1, "test payment")
	require.NoError(t, err)

	assert.Equal(t, KindTransfer, rec.Kind)
	assert.Equal(t, uint64(100), rec.Amount)
	assert.Equal(t, uint64(1), rec.Fee)

	assert.Equal(t, uint64(399), l.GetBalance("acct.a"))
	assert.Equal(t, uint64(100), l.GetBalance("acct.b"))
	assert.Equal(t, uint64(1), l.GetBalance("sys.fees"))

	a, _ := l.GetAccount("acct.a")
	assert.Equal(t, uint64(1), a.Nonce, "outgoing mutation increments the nonce")

	require.NoError(t, l.VerifyConservation())
}

func TestTransferInsufficientBalance(t *testing.T) {
	l := newTestLedger(t)
	fund(t, l, "acct.a", 50)

	_, err := l.TransferAtomic("acct.a", "acct.b", 100, 1, "")
	require.ErrorIs(t, err, ErrInsufficientBalance)

	assert.Equal(t, uint64(50), l.GetBalance("acct.a"), "failed transfer must not touch the sender")
	assert.Equal(t, uint64(0), l.GetBalance("acct.b"))
	a, _ := l.GetAccount("acct.a")
	assert.Equal(t, uint64(0), a.Nonce)
}

func TestTransferUnknownSender(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.TransferAtomic("acct.ghost", "acct.b", 1, 0, "")
	assert.ErrorIs(t, err, ErrUnknownSender)
}

func TestTransferFeeOverflow(t *testing.T) {
	l := newTestLedger(t)
	fund(t, l, "acct.a", 500)

	_, err := l.TransferAtomic("acct.a", "acct.b", ^uint64(0), 1, "")
	assert.ErrorIs(t, err, ErrAmountOverflow)
	assert.Equal(t, uint64(500), l.GetBalance("acct.a"))
}

func TestTransferDefaultFee(t *testing.T) {
	l := newTestLedger(t)
	fund(t, l, "acct.a", 500)

	_, err := l.Transfer("acct.a", "acct.b", 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(399), l.GetBalance("acct.a"))
}

func TestTransferRollbackOnCreditFailure(t *testing.T) {
	l := newTestLedger(t)
	fund(t, l, "acct.a", 500)

	before := map[Address]Account{}
	for _, addr := range []Address{"acct.a", "sys.fees"} {
		acct, _ := l.GetAccount(addr)
		before[addr] = acct
	}

	// Fail the fee-collector credit after the debit and recipient
	// credit have been applied.
	l.creditHook = func(addr Address, amount uint64) error {
		if addr == l.params.FeeCollector {
			return errors.New("injected fee collector failure")
		}
		return nil
	}
	_, err := l.TransferAtomic("acct.a", "acct.b", 100, 1, "")
	require.Error(t, err)
	l.creditHook = nil

	for addr, want := range before {
		got, _ := l.GetAccount(addr)
		assert.Equal(t, want.Balance, got.Balance, "balance of %s", addr)
		assert.Equal(t, want.Nonce, got.Nonce, "nonce of %s", addr)
	}
	assert.Equal(t, uint64(0), l.GetBalance("acct.b"))
	require.NoError(t, l.VerifyConservation())
}

func TestTransferRollbackOnSinkFailure(t *testing.T) {
	boom := errors.New("disk full")
	var allow bool
	sink := SinkFunc(func(rec TxRecord) error {
		if allow {
			return nil
		}
		return boom
	})

	allow = true
	l, err := NewLedger(testParams(), sink)
	require.NoError(t, err)
	fund(t, l, "acct.a", 500)

	journalBefore := l.JournalLen()
	allow = false
	_, err = l.TransferAtomic("acct.a", "acct.b", 100, 1, "")
	require.ErrorIs(t, err, boom)

	assert.Equal(t, uint64(500), l.GetBalance("acct.a"))
	assert.Equal(t, journalBefore, l.JournalLen(), "failed write must unwind the journal")
	require.NoError(t, l.VerifyConservation())
}

func TestBurn(t *testing.T) {
	l := newTestLedger(t)
	fund(t, l, "acct.a", 500)

	rec, err := l.Burn("acct.a", 200, "penalty")
	require.NoError(t, err)
	assert.Equal(t, KindBurn, rec.Kind)

	assert.Equal(t, uint64(300), l.GetBalance("acct.a"))
	assert.Equal(t, uint64(200), l.GetBalance("sys.burned"))
	assert.Equal(t, uint64(200), l.TotalBurned())
	require.NoError(t, l.VerifyConservation())

	_, err = l.Burn("acct.a", 1_000_000, "too much")
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, uint64(300), l.GetBalance("acct.a"))
}

func TestMintReward(t *testing.T) {
	l := newTestLedger(t)

	rec, err := l.MintReward("acct.val", 1_000, "block reward")
	require.NoError(t, err)
	assert.Equal(t, KindMint, rec.Kind)
	assert.Equal(t, uint64(1_000), l.GetBalance("acct.val"))
	assert.Equal(t, uint64(99_000), l.GetBalance("sys.rewards"))
	require.NoError(t, l.VerifyConservation())
}

func TestMintRewardFailsClosed(t *testing.T) {
	l := newTestLedger(t)

	// The reward pool is bounded; draining past it must fail, not
	// inflate.
	_, err := l.MintReward("acct.val", 100_001, "over the cap")
	require.ErrorIs(t, err, ErrInsufficientReserve)
	assert.Equal(t, uint64(100_000), l.GetBalance("sys.rewards"))
	assert.Equal(t, uint64(0), l.GetBalance("acct.val"))
}

func TestMoveRecordsKind(t *testing.T) {
	l := newTestLedger(t)
	fund(t, l, "acct.a", 500)

	rec, err := l.Move(KindReservationHold, "acct.a", l.EscrowVault(), 200, "op:test")
	require.NoError(t, err)
	assert.Equal(t, KindReservationHold, rec.Kind)
	assert.Equal(t, uint64(300), l.GetBalance("acct.a"))
	assert.Equal(t, uint64(200), l.GetBalance(l.EscrowVault()))

	// A never-referenced sender has zero balance and fails cleanly.
	_, err = l.Move(KindFee, "acct.ghost", "acct.b", 1, "")
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestRecentByAccount(t *testing.T) {
	l := newTestLedger(t)
	fund(t, l, "acct.a", 1_000)

	for i := 0; i < 5; i++ {
		_, err := l.TransferAtomic("acct.a", "acct.b", 10, 1, fmt.Sprintf("payment %d", i))
		require.NoError(t, err)
	}

	recs := l.RecentByAccount("acct.b", 3)
	require.Len(t, recs, 3)
	assert.Equal(t, "payment 4", recs[0].Memo, "most recent first")
	assert.Equal(t, "payment 3", recs[1].Memo)
	assert.Greater(t, recs[0].Seq, recs[1].Seq)

	assert.Empty(t, l.RecentByAccount("acct.unseen", 10))
}

// TestConservationRandomOps drives a random operation mix and checks
// the conservation invariant after every single step.
func TestConservationRandomOps(t *testing.T) {
	l := newTestLedger(t)
	rng := rand.New(rand.NewSource(42))

	accounts := []Address{"acct.a", "acct.b", "acct.c", "acct.d"}
	for _, a := range accounts {
		fund(t, l, a, 10_000)
	}

	for i := 0; i < 500; i++ {
		from := accounts[rng.Intn(len(accounts))]
		to := accounts[rng.Intn(len(accounts))]
		amount := uint64(rng.Intn(2_000))

		switch rng.Intn(4) {
		case 0, 1:
			l.TransferAtomic(from, to, amount, uint64(rng.Intn(3)), "")
		case 2:
			l.Burn(from, amount, "")
		case 3:
			l.MintReward(to, amount, "")
		}
		require.NoError(t, l.VerifyConservation(), "after op %d", i)
	}
}

// TestConcurrentTransfers hammers the ledger from many goroutines,
// including pairs that reference the same two accounts in opposite
// directions, and verifies lock ordering prevents deadlock and the
// invariant holds at the end.
func TestConcurrentTransfers(t *testing.T) {
	l := newTestLedger(t)
	fund(t, l, "acct.x", 100_000)
	fund(t, l, "acct.y", 100_000)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		i := i
		g.Go(func() error {
			from, to := Address("acct.x"), Address("acct.y")
			if i%2 == 0 {
				from, to = to, from
			}
			for j := 0; j < 200; j++ {
				if _, err := l.TransferAtomic(from, to, 5, 1, ""); err != nil &&
					!errors.Is(err, ErrInsufficientBalance) {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.NoError(t, l.VerifyConservation())
}

func TestBurnSinkOnlyReachableThroughBurn(t *testing.T) {
	l := newTestLedger(t)
	fund(t, l, "acct.a", 500)

	_, err := l.TransferAtomic("acct.a", "sys.burned", 100, 1, "")
	require.ErrorIs(t, err, ErrBurnSinkRestricted)

	_, err = l.Move(KindTransfer, "acct.a", "sys.burned", 100, "")
	require.ErrorIs(t, err, ErrBurnSinkRestricted)
	_, err = l.Move(KindTransfer, "sys.burned", "acct.a", 100, "")
	require.ErrorIs(t, err, ErrBurnSinkRestricted)

	_, err = l.MintReward("sys.burned", 100, "")
	require.ErrorIs(t, err, ErrBurnSinkRestricted)

	_, err = l.MoveBatch([]Leg{
		{Kind: KindTransfer, From: "acct.a", To: "sys.burned", Amount: 100},
	})
	require.ErrorIs(t, err, ErrBurnSinkRestricted)

	// Nothing above may have mutated state.
	assert.Equal(t, uint64(500), l.GetBalance("acct.a"))
	assert.Equal(t, uint64(0), l.GetBalance("sys.burned"))
	require.NoError(t, l.VerifyConservation())

	// The one legitimate path still works.
	_, err = l.Burn("acct.a", 100, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), l.GetBalance("sys.burned"))
	require.NoError(t, l.VerifyConservation())
}

func TestMoveBatchAppliesAllLegs(t *testing.T) {
	l := newTestLedger(t)
	fund(t, l, "acct.a", 500)

	// The second leg spends the credit the first leg produced.
	recs, err := l.MoveBatch([]Leg{
		{Kind: KindReservationHold, From: "acct.a", To: l.EscrowVault(), Amount: 400, Memo: "hold"},
		{Kind: KindReservationFinalize, From: l.EscrowVault(), To: "sys.treasury", Amount: 400, Memo: "settle"},
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, KindReservationHold, recs[0].Kind)
	assert.Equal(t, recs[0].Seq+1, recs[1].Seq)

	assert.Equal(t, uint64(100), l.GetBalance("acct.a"))
	assert.Equal(t, uint64(0), l.GetBalance(l.EscrowVault()))
	require.NoError(t, l.VerifyConservation())
}

func TestMoveBatchRollsBackOnInsufficientLeg(t *testing.T) {
	l := newTestLedger(t)
	fund(t, l, "acct.a", 500)

	journalBefore := l.JournalLen()
	_, err := l.MoveBatch([]Leg{
		{Kind: KindTransfer, From: "acct.a", To: "acct.b", Amount: 300},
		{Kind: KindTransfer, From: "acct.b", To: "acct.c", Amount: 400},
	})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	assert.Equal(t, uint64(500), l.GetBalance("acct.a"))
	assert.Equal(t, uint64(0), l.GetBalance("acct.b"))
	assert.Equal(t, journalBefore, l.JournalLen())
	require.NoError(t, l.VerifyConservation())
}

func TestMoveBatchRollsBackOnSinkFailure(t *testing.T) {
	boom := errors.New("disk full")
	var allow bool
	sink := SinkFunc(func(rec TxRecord) error {
		if allow {
			return nil
		}
		return boom
	})

	allow = true
	l, err := NewLedger(testParams(), sink)
	require.NoError(t, err)
	fund(t, l, "acct.a", 500)

	journalBefore := l.JournalLen()
	allow = false
	_, err = l.MoveBatch([]Leg{
		{Kind: KindTransfer, From: "acct.a", To: "acct.b", Amount: 100},
		{Kind: KindTransfer, From: "acct.b", To: "acct.c", Amount: 100},
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, uint64(500), l.GetBalance("acct.a"))
	assert.Equal(t, uint64(0), l.GetBalance("acct.b"))
	assert.Equal(t, uint64(0), l.GetBalance("acct.c"))
	assert.Equal(t, journalBefore, l.JournalLen(), "failed batch must unwind the journal")
	require.NoError(t, l.VerifyConservation())
}
