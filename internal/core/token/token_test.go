package token

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simecon/ledgerd/internal/core/ledger"
)

func TestCreate(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Create("ORB", 1_000_000, "acct.issuer"))
	assert.True(t, r.Exists("ORB"))

	bal, err := r.BalanceOf("ORB", "acct.issuer")
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), bal)

	assert.ErrorIs(t, r.Create("ORB", 1, "acct.other"), ErrTokenExists)
	assert.Error(t, r.Create("", 1, "acct.other"))
}

func TestUnknownToken(t *testing.T) {
	r := NewRegistry()

	_, err := r.BalanceOf("NOPE", "acct.a")
	assert.ErrorIs(t, err, ErrTokenNotFound)
	assert.ErrorIs(t, r.Transfer("NOPE", "acct.a", "acct.b", 1), ErrTokenNotFound)
	assert.ErrorIs(t, r.Mint("NOPE", "acct.a", 1), ErrTokenNotFound)
	assert.ErrorIs(t, r.Burn("NOPE", "acct.a", 1), ErrTokenNotFound)
}

func TestTransfer(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Create("ORB", 1_000, "acct.a"))

	require.NoError(t, r.Transfer("ORB", "acct.a", "acct.b", 400))

	balA, _ := r.BalanceOf("ORB", "acct.a")
	balB, _ := r.BalanceOf("ORB", "acct.b")
	assert.Equal(t, uint64(600), balA)
	assert.Equal(t, uint64(400), balB)

	err := r.Transfer("ORB", "acct.a", "acct.b", 601)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	balA, _ = r.BalanceOf("ORB", "acct.a")
	assert.Equal(t, uint64(600), balA, "failed transfer changes nothing")
}

func TestApproveAndTransferFrom(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Create("ORB", 1_000, "acct.owner"))
	require.NoError(t, r.Approve("ORB", "acct.owner", "acct.spender", 300))

	allowed, err := r.Allowance("ORB", "acct.owner", "acct.spender")
	require.NoError(t, err)
	assert.Equal(t, uint64(300), allowed)

	require.NoError(t, r.TransferFrom("ORB", "acct.spender", "acct.owner", "acct.dest", 200))
	allowed, _ = r.Allowance("ORB", "acct.owner", "acct.spender")
	assert.Equal(t, uint64(100), allowed)

	err = r.TransferFrom("ORB", "acct.spender", "acct.owner", "acct.dest", 101)
	assert.ErrorIs(t, err, ErrInsufficientApproval)

	// An allowance larger than the balance still fails on funds.
	require.NoError(t, r.Approve("ORB", "acct.owner", "acct.spender", 10_000))
	err = r.TransferFrom("ORB", "acct.spender", "acct.owner", "acct.dest", 2_000)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestMintAndBurn(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Create("ORB", 1_000, "acct.a"))

	require.NoError(t, r.Mint("ORB", "acct.b", 500))
	supply, _ := r.TotalSupply("ORB")
	assert.Equal(t, uint64(1_500), supply)

	require.NoError(t, r.Burn("ORB", "acct.b", 200))
	supply, _ = r.TotalSupply("ORB")
	assert.Equal(t, uint64(1_300), supply)

	assert.ErrorIs(t, r.Burn("ORB", "acct.b", 1_000), ErrInsufficientBalance)
	assert.ErrorIs(t, r.Mint("ORB", "acct.a", ^uint64(0)), ErrSupplyOverflow)
}

// TestSupplyConservation checks that random transfers, mints and burns
// keep the balance sum equal to the tracked supply.
func TestSupplyConservation(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Create("ORB", 100_000, "acct.a"))

	holders := []ledger.Address{"acct.a", "acct.b", "acct.c"}
	rng := rand.New(rand.NewSource(11))

	for i := 0; i < 300; i++ {
		from := holders[rng.Intn(len(holders))]
		to := holders[rng.Intn(len(holders))]
		amount := uint64(rng.Intn(5_000))

		switch rng.Intn(4) {
		case 0, 1:
			r.Transfer("ORB", from, to, amount)
		case 2:
			r.Mint("ORB", to, amount)
		case 3:
			r.Burn("ORB", from, amount)
		}

		sum, err := r.SumBalances("ORB")
		require.NoError(t, err)
		supply, err := r.TotalSupply("ORB")
		require.NoError(t, err)
		require.Equal(t, supply, sum, "after op %d", i)
	}
}
