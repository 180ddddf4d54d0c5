// Package amm implements constant-product market-maker math over
// integer reserves. A Pool knows nothing about the ledger; the
// exchange engine owns every instance and performs the matching
// balance movements.
package amm

import (
	"fmt"
	"math/big"
	"sync"
)

// FeeDenominator is the basis-point scale for pool fees: a FeeBps of
// 30 is a 0.3% trading fee.
const FeeDenominator = 10_000

// Quote is the outcome of pricing a swap without executing it.
type Quote struct {
	AmountOut uint64
	// PriceImpactPct is the percentage change in the pool's marginal
	// price caused by the trade.
	PriceImpactPct float64
	// Fee is the input-side portion retained by the pool.
	Fee uint64
}

// Pool is a two-asset constant-product pool. AssetB is the base
// currency by engine convention, but the math is symmetric. Reserves
// and shares never go negative: every operation checks its formula
// output before mutating.
type Pool struct {
	mu sync.Mutex

	assetA, assetB string
	reserveA       uint64
	reserveB       uint64
	feeBps         uint32

	totalShares uint64
	shares      map[string]uint64

	volumeA uint64
	volumeB uint64
}

// NewPool creates an empty pool for an asset pair. Liquidity arrives
// through the first AddLiquidity call.
func NewPool(assetA, assetB string, feeBps uint32) (*Pool, error) {
	if assetA == "" || assetB == "" || assetA == assetB {
		return nil, fmt.Errorf("invalid asset pair %q/%q", assetA, assetB)
	}
	if feeBps >= FeeDenominator {
		return nil, fmt.Errorf("fee %d bps out of range", feeBps)
	}
	return &Pool{
		assetA: assetA,
		assetB: assetB,
		feeBps: feeBps,
		shares: make(map[string]uint64),
	}, nil
}

// Assets returns the pair in (A, B) order.
func (p *Pool) Assets() (string, string) { return p.assetA, p.assetB }

// FeeBps returns the trading fee in basis points.
func (p *Pool) FeeBps() uint32 { return p.feeBps }

// Quote prices a swap of amountIn of inputAsset without mutating the
// pool. With an empty reserve on either side it returns a zero quote
// and no error, matching "no liquidity, nothing to price".
func (p *Pool) Quote(inputAsset string, amountIn uint64) (Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quoteLocked(inputAsset, amountIn)
}

func (p *Pool) quoteLocked(inputAsset string, amountIn uint64) (Quote, error) {
	rIn, rOut, err := p.orient(inputAsset)
	if err != nil {
		return Quote{}, err
	}
	if rIn == 0 || rOut == 0 {
		return Quote{}, nil
	}
	if amountIn == 0 {
		return Quote{}, ErrZeroAmount
	}

	// out = rOut * in * (D - fee) / (rIn * D + in * (D - fee)),
	// computed in big.Int so no product can overflow.
	d := big.NewInt(FeeDenominator)
	keep := big.NewInt(int64(FeeDenominator - p.feeBps))
	in := new(big.Int).SetUint64(amountIn)
	bigRIn := new(big.Int).SetUint64(rIn)
	bigROut := new(big.Int).SetUint64(rOut)

	inKept := new(big.Int).Mul(in, keep)
	num := new(big.Int).Mul(bigROut, inKept)
	den := new(big.Int).Add(new(big.Int).Mul(bigRIn, d), inKept)
	out := num.Div(num, den).Uint64()

	if out >= rOut {
		return Quote{}, ErrReserveDrained
	}

	fee := amountIn * uint64(p.feeBps) / FeeDenominator

	pre := float64(rOut) / float64(rIn)
	post := float64(rOut-out) / float64(rIn+amountIn)
	impact := 0.0
	if pre > 0 {
		impact = (pre - post) / pre * 100
	}

	return Quote{AmountOut: out, PriceImpactPct: impact, Fee: fee}, nil
}

// Swap executes a quoted trade, rejecting it if the output falls below
// minOut. The input-side fee stays inside the reserves, which is what
// makes the constant product non-decreasing.
func (p *Pool) Swap(inputAsset string, amountIn, minOut uint64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	q, err := p.quoteLocked(inputAsset, amountIn)
	if err != nil {
		return 0, err
	}
	if q.AmountOut == 0 {
		if p.reserveA == 0 || p.reserveB == 0 {
			return 0, ErrNoLiquidity
		}
		return 0, fmt.Errorf("swap of %d %s yields nothing: %w", amountIn, inputAsset, ErrSlippageExceeded)
	}
	if q.AmountOut < minOut {
		return 0, fmt.Errorf("output %d below minimum %d: %w", q.AmountOut, minOut, ErrSlippageExceeded)
	}

	if inputAsset == p.assetA {
		p.reserveA += amountIn
		p.reserveB -= q.AmountOut
		p.volumeA += amountIn
	} else {
		p.reserveB += amountIn
		p.reserveA -= q.AmountOut
		p.volumeB += amountIn
	}
	return q.AmountOut, nil
}

// AddLiquidity deposits both assets. The first deposit fixes the
// reserves and mints sqrt(a*b) shares; later deposits must match the
// standing ratio within tolBps and mint the smaller of the two
// proportional share amounts, so an unbalanced deposit cannot extract
// value from earlier providers.
func (p *Pool) AddLiquidity(provider string, amountA, amountB uint64, tolBps uint32) (uint64, error) {
	if amountA == 0 || amountB == 0 {
		return 0, ErrZeroAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.totalShares == 0 {
		minted := isqrt(amountA, amountB)
		if minted == 0 {
			return 0, fmt.Errorf("initial deposit %d/%d too small: %w", amountA, amountB, ErrZeroAmount)
		}
		p.reserveA = amountA
		p.reserveB = amountB
		p.totalShares = minted
		p.shares[provider] = minted
		return minted, nil
	}

	// Cross-multiplied ratio check: |a*rB - b*rA| must stay within
	// tolBps of a*rB.
	aRB := new(big.Int).Mul(new(big.Int).SetUint64(amountA), new(big.Int).SetUint64(p.reserveB))
	bRA := new(big.Int).Mul(new(big.Int).SetUint64(amountB), new(big.Int).SetUint64(p.reserveA))
	diff := new(big.Int).Sub(aRB, bRA)
	diff.Abs(diff)
	lhs := new(big.Int).Mul(diff, big.NewInt(FeeDenominator))
	rhs := new(big.Int).Mul(aRB, big.NewInt(int64(tolBps)))
	if lhs.Cmp(rhs) > 0 {
		return 0, fmt.Errorf("deposit %d/%d against reserves %d/%d: %w",
			amountA, amountB, p.reserveA, p.reserveB, ErrUnbalancedRatio)
	}

	byA := mulDiv(amountA, p.totalShares, p.reserveA)
	byB := mulDiv(amountB, p.totalShares, p.reserveB)
	minted := byA
	if byB < minted {
		minted = byB
	}
	if minted == 0 {
		return 0, fmt.Errorf("deposit too small against pool size: %w", ErrZeroAmount)
	}

	p.reserveA += amountA
	p.reserveB += amountB
	p.totalShares += minted
	p.shares[provider] += minted
	return minted, nil
}

// RemoveLiquidity burns shares and pays out the pro-rata slice of both
// reserves. Burning the entire supply returns the reserves exactly.
func (p *Pool) RemoveLiquidity(provider string, shares uint64) (uint64, uint64, error) {
	if shares == 0 {
		return 0, 0, ErrZeroAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	held := p.shares[provider]
	if held < shares {
		return 0, 0, fmt.Errorf("%s holds %d of %d requested: %w", provider, held, shares, ErrInsufficientShares)
	}

	var outA, outB uint64
	if shares == p.totalShares {
		outA, outB = p.reserveA, p.reserveB
	} else {
		outA = mulDiv(p.reserveA, shares, p.totalShares)
		outB = mulDiv(p.reserveB, shares, p.totalShares)
	}
	if outA > p.reserveA || outB > p.reserveB {
		return 0, 0, ErrReserveDrained
	}

	p.reserveA -= outA
	p.reserveB -= outB
	p.totalShares -= shares
	if held == shares {
		delete(p.shares, provider)
	} else {
		p.shares[provider] = held - shares
	}
	return outA, outB, nil
}

// SkimFee removes amount of asset from the reserves. The exchange
// engine uses it to route the base-side portion of a trading fee to
// the fee collector instead of leaving it with the liquidity
// providers.
func (p *Pool) SkimFee(asset string, amount uint64) error {
	if amount == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch asset {
	case p.assetA:
		if amount >= p.reserveA {
			return ErrReserveDrained
		}
		p.reserveA -= amount
	case p.assetB:
		if amount >= p.reserveB {
			return ErrReserveDrained
		}
		p.reserveB -= amount
	default:
		return fmt.Errorf("skim %q: %w", asset, ErrUnknownAsset)
	}
	return nil
}

// Accrue returns amount to a reserve. The exchange engine calls it to
// put a skimmed fee back when forwarding fails.
func (p *Pool) Accrue(asset string, amount uint64) error {
	if amount == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch asset {
	case p.assetA:
		p.reserveA += amount
	case p.assetB:
		p.reserveB += amount
	default:
		return fmt.Errorf("accrue %q: %w", asset, ErrUnknownAsset)
	}
	return nil
}

// SharesOf returns the provider's LP share balance.
func (p *Pool) SharesOf(provider string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shares[provider]
}

// Stats is a point-in-time snapshot for the query surface.
type Stats struct {
	AssetA, AssetB     string
	ReserveA, ReserveB uint64
	TotalShares        uint64
	FeeBps             uint32
	VolumeA, VolumeB   uint64
	Providers          int
}

// Snapshot returns the pool state for reporting.
func (p *Pool) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		AssetA:      p.assetA,
		AssetB:      p.assetB,
		ReserveA:    p.reserveA,
		ReserveB:    p.reserveB,
		TotalShares: p.totalShares,
		FeeBps:      p.feeBps,
		VolumeA:     p.volumeA,
		VolumeB:     p.volumeB,
		Providers:   len(p.shares),
	}
}

// ConstantProduct returns reserveA * reserveB. Swaps never decrease
// it; fee accrual makes it strictly increase for nonzero fees.
func (p *Pool) ConstantProduct() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Mul(new(big.Int).SetUint64(p.reserveA), new(big.Int).SetUint64(p.reserveB))
}

func (p *Pool) orient(inputAsset string) (rIn, rOut uint64, err error) {
	switch inputAsset {
	case p.assetA:
		return p.reserveA, p.reserveB, nil
	case p.assetB:
		return p.reserveB, p.reserveA, nil
	default:
		return 0, 0, fmt.Errorf("%q: %w", inputAsset, ErrUnknownAsset)
	}
}

// isqrt returns floor(sqrt(a*b)) without overflowing.
func isqrt(a, b uint64) uint64 {
	product := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	return product.Sqrt(product).Uint64()
}

// mulDiv returns a*b/c in big.Int space, floored.
func mulDiv(a, b, c uint64) uint64 {
	if c == 0 {
		return 0
	}
	num := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	return num.Div(num, new(big.Int).SetUint64(c)).Uint64()
}
