// Package stableswap holds the StableSwap invariant used to price Stableswap pool operations.
package stableswap

import (
	"fmt"
	"math/big"

	"cosmossdk.io/math"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/shopspring/decimal"
)

// AssetReserve is one pool asset with its balance in the pool account
type AssetReserve struct {
	Asset    models.RemoteAssetID `json:"asset_id"`
	Amount   math.Int             `json:"amount"`
	Decimals uint8                `json:"decimals"`
}

// AssetAmount is an amount of one pool asset
type AssetAmount struct {
	Asset  models.RemoteAssetID `json:"asset_id"`
	Amount math.Int             `json:"amount"`
}

// Math computes Stableswap pool operations. Fees are fractions, e.g. 0.0004.
type Math interface {
	CalculateAmplification(initial, final uint16, initialBlock, finalBlock, currentBlock uint32) math.Int
	OutGivenIn(reserves []AssetReserve, assetIn, assetOut models.RemoteAssetID, amountIn, amplification math.Int, fee decimal.Decimal) (math.Int, error)
	InGivenOut(reserves []AssetReserve, assetIn, assetOut models.RemoteAssetID, amountOut, amplification math.Int, fee decimal.Decimal) (math.Int, error)
	// CalculateShares returns the shares minted for depositing assets
	CalculateShares(reserves []AssetReserve, assets []AssetAmount, amplification, shareIssuance math.Int, fee decimal.Decimal) (math.Int, error)
	// AddOneAsset returns the amount of asset needed to mint exactly shares
	AddOneAsset(reserves []AssetReserve, asset models.RemoteAssetID, shares, amplification, shareIssuance math.Int, fee decimal.Decimal) (math.Int, error)
	// LiquidityOutOneAsset returns the amount of asset received for burning shares
	LiquidityOutOneAsset(reserves []AssetReserve, asset models.RemoteAssetID, shares, amplification, shareIssuance math.Int, fee decimal.Decimal) (math.Int, error)
	// SharesForAmount returns the shares to burn to withdraw exactly amount of asset
	SharesForAmount(reserves []AssetReserve, asset models.RemoteAssetID, amount, amplification, shareIssuance math.Int, fee decimal.Decimal) (math.Int, error)
}

const (
	targetPrecision = 18
	maxDIterations  = 64
	maxYIterations  = 128
)

var (
	bigOne  = big.NewInt(1)
	bigTwo  = big.NewInt(2)
	bigFour = big.NewInt(4)
)

// Curve is the default Math: Newton iterations for D and Y over reserves normalised to 18 decimals.
type Curve struct{}

var _ Math = Curve{}

// CalculateAmplification ramps linearly from initial to final between the two blocks
func (Curve) CalculateAmplification(initial, final uint16, initialBlock, finalBlock, currentBlock uint32) math.Int {
	if currentBlock >= finalBlock || finalBlock <= initialBlock {
		return math.NewInt(int64(final))
	}
	if currentBlock <= initialBlock {
		return math.NewInt(int64(initial))
	}
	elapsed := int64(currentBlock - initialBlock)
	duration := int64(finalBlock - initialBlock)
	if final >= initial {
		step := int64(final-initial) * elapsed / duration
		return math.NewInt(int64(initial) + step)
	}
	step := int64(initial-final) * elapsed / duration
	return math.NewInt(int64(initial) - step)
}

func (Curve) OutGivenIn(reserves []AssetReserve, assetIn, assetOut models.RemoteAssetID, amountIn, amplification math.Int, fee decimal.Decimal) (math.Int, error) {
	p, err := newPool(reserves, amplification)
	if err != nil {
		return math.Int{}, err
	}
	in, out, err := p.pair(assetIn, assetOut)
	if err != nil {
		return math.Int{}, err
	}
	d, err := p.d(p.xp)
	if err != nil {
		return math.Int{}, err
	}
	updated := clone(p.xp)
	updated[in].Add(updated[in], normalize(amountIn.BigInt(), p.decimals[in]))
	y, err := p.y(updated, out, d)
	if err != nil {
		return math.Int{}, err
	}
	outNorm := new(big.Int).Sub(p.xp[out], y)
	outNorm.Sub(outNorm, bigOne)
	if outNorm.Sign() <= 0 {
		return math.Int{}, fmt.Errorf("%w: insufficient liquidity of asset %d", models.ErrQuoteCalcFailed, assetOut)
	}
	amount := denormalize(outNorm, p.decimals[out], false)
	amount.Sub(amount, mulCeil(amount, fee.Rat()))
	if amount.Sign() < 0 {
		return math.Int{}, &models.RuntimeError{Reason: "Fee too big"}
	}
	return math.NewIntFromBigInt(amount), nil
}

func (Curve) InGivenOut(reserves []AssetReserve, assetIn, assetOut models.RemoteAssetID, amountOut, amplification math.Int, fee decimal.Decimal) (math.Int, error) {
	p, err := newPool(reserves, amplification)
	if err != nil {
		return math.Int{}, err
	}
	in, out, err := p.pair(assetIn, assetOut)
	if err != nil {
		return math.Int{}, err
	}
	outNorm := normalize(amountOut.BigInt(), p.decimals[out])
	if outNorm.Cmp(p.xp[out]) >= 0 {
		return math.Int{}, fmt.Errorf("%w: insufficient liquidity of asset %d", models.ErrQuoteCalcFailed, assetOut)
	}
	d, err := p.d(p.xp)
	if err != nil {
		return math.Int{}, err
	}
	updated := clone(p.xp)
	updated[out].Sub(updated[out], outNorm)
	y, err := p.y(updated, in, d)
	if err != nil {
		return math.Int{}, err
	}
	inNorm := new(big.Int).Sub(y, p.xp[in])
	inNorm.Add(inNorm, bigOne)
	if inNorm.Sign() <= 0 {
		return math.Int{}, fmt.Errorf("%w: invariant produced no input", models.ErrQuoteCalcFailed)
	}
	amount := denormalize(inNorm, p.decimals[in], true)
	withFee, err := divByOneMinus(amount, fee.Rat())
	if err != nil {
		return math.Int{}, err
	}
	return math.NewIntFromBigInt(withFee), nil
}

func (Curve) CalculateShares(reserves []AssetReserve, assets []AssetAmount, amplification, shareIssuance math.Int, fee decimal.Decimal) (math.Int, error) {
	p, err := newPool(reserves, amplification)
	if err != nil {
		return math.Int{}, err
	}
	updated := clone(p.xp)
	for _, deposit := range assets {
		idx, ok := p.index[deposit.Asset]
		if !ok {
			return math.Int{}, fmt.Errorf("%w: asset %d is not in the pool", models.ErrQuoteCalcFailed, deposit.Asset)
		}
		updated[idx].Add(updated[idx], normalize(deposit.Amount.BigInt(), p.decimals[idx]))
	}
	d0, err := p.d(p.xp)
	if err != nil {
		return math.Int{}, err
	}
	d1, err := p.d(updated)
	if err != nil {
		return math.Int{}, err
	}
	if d1.Cmp(d0) <= 0 {
		return math.Int{}, fmt.Errorf("%w: deposit does not increase the invariant", models.ErrQuoteCalcFailed)
	}
	issuance := shareIssuance.BigInt()
	if issuance.Sign() == 0 {
		return math.NewIntFromBigInt(d1), nil
	}
	if d0.Sign() == 0 {
		return math.Int{}, fmt.Errorf("%w: empty pool with outstanding shares", models.ErrQuoteCalcFailed)
	}
	adjusted := p.chargeImbalance(p.xp, updated, d0, d1, fee)
	d2, err := p.d(adjusted)
	if err != nil {
		return math.Int{}, err
	}
	if d2.Cmp(d0) <= 0 {
		return math.NewInt(0), nil
	}
	shares := new(big.Int).Sub(d2, d0)
	shares.Mul(shares, issuance)
	shares.Quo(shares, d0)
	return math.NewIntFromBigInt(shares), nil
}

func (Curve) AddOneAsset(reserves []AssetReserve, asset models.RemoteAssetID, shares, amplification, shareIssuance math.Int, fee decimal.Decimal) (math.Int, error) {
	p, err := newPool(reserves, amplification)
	if err != nil {
		return math.Int{}, err
	}
	idx, ok := p.index[asset]
	if !ok {
		return math.Int{}, fmt.Errorf("%w: asset %d is not in the pool", models.ErrQuoteCalcFailed, asset)
	}
	issuance := shareIssuance.BigInt()
	if issuance.Sign() == 0 || shares.IsNil() || !shares.IsPositive() {
		return math.Int{}, fmt.Errorf("%w: no shares to mint against", models.ErrQuoteCalcFailed)
	}
	d0, err := p.d(p.xp)
	if err != nil {
		return math.Int{}, err
	}
	d1 := new(big.Int).Add(d0, ceilDiv(new(big.Int).Mul(shares.BigInt(), d0), issuance))
	y, err := p.y(p.xp, idx, d1)
	if err != nil {
		return math.Int{}, err
	}
	reduced := p.reduceOnOneAsset(idx, y, d0, d1, fee, true)
	y1, err := p.y(reduced, idx, d1)
	if err != nil {
		return math.Int{}, err
	}
	inNorm := new(big.Int).Sub(y1, reduced[idx])
	inNorm.Add(inNorm, bigOne)
	if inNorm.Sign() <= 0 {
		return math.Int{}, fmt.Errorf("%w: invariant produced no input", models.ErrQuoteCalcFailed)
	}
	return math.NewIntFromBigInt(denormalize(inNorm, p.decimals[idx], true)), nil
}

func (Curve) LiquidityOutOneAsset(reserves []AssetReserve, asset models.RemoteAssetID, shares, amplification, shareIssuance math.Int, fee decimal.Decimal) (math.Int, error) {
	p, err := newPool(reserves, amplification)
	if err != nil {
		return math.Int{}, err
	}
	idx, ok := p.index[asset]
	if !ok {
		return math.Int{}, fmt.Errorf("%w: asset %d is not in the pool", models.ErrQuoteCalcFailed, asset)
	}
	if shares.IsNil() || !shares.IsPositive() {
		return math.Int{}, fmt.Errorf("%w: no shares to burn", models.ErrQuoteCalcFailed)
	}
	issuance := shareIssuance.BigInt()
	if issuance.Sign() == 0 || shares.BigInt().Cmp(issuance) > 0 {
		return math.Int{}, fmt.Errorf("%w: shares exceed issuance", models.ErrQuoteCalcFailed)
	}
	d0, err := p.d(p.xp)
	if err != nil {
		return math.Int{}, err
	}
	d1 := new(big.Int).Sub(d0, new(big.Int).Quo(new(big.Int).Mul(shares.BigInt(), d0), issuance))
	if shares.BigInt().Cmp(issuance) == 0 || d1.Sign() <= 0 {
		return math.Int{}, fmt.Errorf("%w: withdrawal would empty the pool", models.ErrQuoteCalcFailed)
	}
	y, err := p.y(p.xp, idx, d1)
	if err != nil {
		return math.Int{}, err
	}
	reduced := p.reduceOnOneAsset(idx, y, d0, d1, fee, false)
	y1, err := p.y(reduced, idx, d1)
	if err != nil {
		return math.Int{}, err
	}
	outNorm := new(big.Int).Sub(reduced[idx], y1)
	outNorm.Sub(outNorm, bigOne)
	if outNorm.Sign() <= 0 {
		return math.Int{}, fmt.Errorf("%w: insufficient liquidity of asset %d", models.ErrQuoteCalcFailed, asset)
	}
	return math.NewIntFromBigInt(denormalize(outNorm, p.decimals[idx], false)), nil
}

func (Curve) SharesForAmount(reserves []AssetReserve, asset models.RemoteAssetID, amount, amplification, shareIssuance math.Int, fee decimal.Decimal) (math.Int, error) {
	p, err := newPool(reserves, amplification)
	if err != nil {
		return math.Int{}, err
	}
	idx, ok := p.index[asset]
	if !ok {
		return math.Int{}, fmt.Errorf("%w: asset %d is not in the pool", models.ErrQuoteCalcFailed, asset)
	}
	issuance := shareIssuance.BigInt()
	if issuance.Sign() == 0 {
		return math.Int{}, fmt.Errorf("%w: pool has no shares", models.ErrQuoteCalcFailed)
	}
	amountNorm := normalize(amount.BigInt(), p.decimals[idx])
	if amountNorm.Cmp(p.xp[idx]) >= 0 {
		return math.Int{}, fmt.Errorf("%w: insufficient liquidity of asset %d", models.ErrQuoteCalcFailed, asset)
	}
	d0, err := p.d(p.xp)
	if err != nil {
		return math.Int{}, err
	}
	updated := clone(p.xp)
	updated[idx].Sub(updated[idx], amountNorm)
	d1, err := p.d(updated)
	if err != nil {
		return math.Int{}, err
	}
	adjusted := p.chargeImbalance(p.xp, updated, d0, d1, fee)
	d2, err := p.d(adjusted)
	if err != nil {
		return math.Int{}, err
	}
	shares := ceilDiv(new(big.Int).Mul(issuance, new(big.Int).Sub(d0, d2)), d0)
	if shares.Cmp(issuance) > 0 {
		return math.Int{}, fmt.Errorf("%w: withdrawal needs more shares than issued", models.ErrQuoteCalcFailed)
	}
	return math.NewIntFromBigInt(shares), nil
}

type pool struct {
	xp       []*big.Int
	decimals []uint8
	index    map[models.RemoteAssetID]int
	amp      *big.Int
}

func newPool(reserves []AssetReserve, amplification math.Int) (*pool, error) {
	if len(reserves) < 2 {
		return nil, fmt.Errorf("%w: pool needs at least two assets", models.ErrQuoteCalcFailed)
	}
	if amplification.IsNil() || !amplification.IsPositive() {
		return nil, &models.RuntimeError{Reason: "amplification must be positive"}
	}
	p := &pool{
		xp:       make([]*big.Int, len(reserves)),
		decimals: make([]uint8, len(reserves)),
		index:    make(map[models.RemoteAssetID]int, len(reserves)),
		amp:      amplification.BigInt(),
	}
	for i, reserve := range reserves {
		amount := big.NewInt(0)
		if !reserve.Amount.IsNil() {
			amount = reserve.Amount.BigInt()
		}
		p.xp[i] = normalize(amount, reserve.Decimals)
		p.decimals[i] = reserve.Decimals
		p.index[reserve.Asset] = i
	}
	return p, nil
}

func (p *pool) pair(assetIn, assetOut models.RemoteAssetID) (int, int, error) {
	in, okIn := p.index[assetIn]
	out, okOut := p.index[assetOut]
	if !okIn || !okOut {
		return 0, 0, fmt.Errorf("%w: pair %d->%d is not in the pool", models.ErrQuoteCalcFailed, assetIn, assetOut)
	}
	if in == out {
		return 0, 0, fmt.Errorf("%w: same asset on both sides", models.ErrQuoteCalcFailed)
	}
	return in, out, nil
}

// d solves the invariant for the given normalised reserves
func (p *pool) d(xp []*big.Int) (*big.Int, error) {
	n := big.NewInt(int64(len(xp)))
	sum := new(big.Int)
	for _, x := range xp {
		sum.Add(sum, x)
	}
	if sum.Sign() == 0 {
		return sum, nil
	}
	for _, x := range xp {
		if x.Sign() == 0 {
			return nil, fmt.Errorf("%w: pool has an empty reserve", models.ErrQuoteCalcFailed)
		}
	}

	ann := new(big.Int).Mul(p.amp, n)
	annMinusOne := new(big.Int).Sub(ann, bigOne)
	nPlusOne := new(big.Int).Add(n, bigOne)
	d := new(big.Int).Set(sum)
	for i := 0; i < maxDIterations; i++ {
		dp := new(big.Int).Set(d)
		for _, x := range xp {
			dp.Mul(dp, d)
			dp.Quo(dp, new(big.Int).Mul(x, n))
		}
		prev := d

		num := new(big.Int).Mul(ann, sum)
		num.Add(num, new(big.Int).Mul(dp, n))
		num.Mul(num, d)
		den := new(big.Int).Mul(annMinusOne, d)
		den.Add(den, new(big.Int).Mul(nPlusOne, dp))
		if den.Sign() <= 0 {
			return nil, &models.RuntimeError{Reason: "invariant diverged"}
		}
		d = num.Quo(num, den)
		if converged(prev, d) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: invariant did not converge", models.ErrQuoteCalcFailed)
}

// y solves the reserve of asset idx that keeps the invariant at d, the value in xp[idx] is ignored
func (p *pool) y(xp []*big.Int, idx int, d *big.Int) (*big.Int, error) {
	n := big.NewInt(int64(len(xp)))
	ann := new(big.Int).Mul(p.amp, n)
	sum := new(big.Int)
	c := new(big.Int).Set(d)
	for i, x := range xp {
		if i == idx {
			continue
		}
		if x.Sign() <= 0 {
			return nil, fmt.Errorf("%w: pool has an empty reserve", models.ErrQuoteCalcFailed)
		}
		sum.Add(sum, x)
		c.Mul(c, d)
		c.Quo(c, new(big.Int).Mul(x, n))
	}
	c.Mul(c, d)
	c.Quo(c, new(big.Int).Mul(ann, n))
	b := new(big.Int).Add(sum, new(big.Int).Quo(d, ann))

	y := new(big.Int).Set(d)
	for i := 0; i < maxYIterations; i++ {
		prev := y
		num := new(big.Int).Mul(y, y)
		num.Add(num, c)
		den := new(big.Int).Mul(bigTwo, y)
		den.Add(den, b)
		den.Sub(den, d)
		if den.Sign() <= 0 {
			return nil, &models.RuntimeError{Reason: "reserve solver diverged"}
		}
		y = num.Quo(num, den)
		if converged(prev, y) {
			return y, nil
		}
	}
	return nil, fmt.Errorf("%w: reserve solver did not converge", models.ErrQuoteCalcFailed)
}

// chargeImbalance reduces every updated reserve by the fee on its distance from the balanced position
func (p *pool) chargeImbalance(initial, updated []*big.Int, d0, d1 *big.Int, fee decimal.Decimal) []*big.Int {
	feeRate := imbalanceFee(fee, len(initial))
	adjusted := make([]*big.Int, len(updated))
	for i := range updated {
		ideal := new(big.Int).Mul(d1, initial[i])
		ideal.Quo(ideal, d0)
		diff := new(big.Int).Sub(updated[i], ideal)
		diff.Abs(diff)
		adjusted[i] = new(big.Int).Sub(updated[i], mulCeil(diff, feeRate))
	}
	return adjusted
}

// reduceOnOneAsset charges the imbalance fee of moving the invariant from d0 to d1 through asset idx
func (p *pool) reduceOnOneAsset(idx int, y, d0, d1 *big.Int, fee decimal.Decimal, deposit bool) []*big.Int {
	feeRate := imbalanceFee(fee, len(p.xp))
	reduced := make([]*big.Int, len(p.xp))
	for j, x := range p.xp {
		scaled := new(big.Int).Mul(x, d1)
		scaled.Quo(scaled, d0)
		var expected *big.Int
		switch {
		case j == idx && deposit:
			expected = new(big.Int).Sub(y, scaled)
		case j == idx:
			expected = new(big.Int).Sub(scaled, y)
		case deposit:
			expected = new(big.Int).Sub(scaled, x)
		default:
			expected = new(big.Int).Sub(x, scaled)
		}
		expected.Abs(expected)
		reduced[j] = new(big.Int).Sub(x, mulCeil(expected, feeRate))
	}
	return reduced
}

func imbalanceFee(fee decimal.Decimal, n int) *big.Rat {
	if n < 2 {
		return new(big.Rat)
	}
	rate := new(big.Rat).Mul(fee.Rat(), new(big.Rat).SetInt64(int64(n)))
	return rate.Quo(rate, new(big.Rat).SetInt(new(big.Int).Mul(bigFour, big.NewInt(int64(n-1)))))
}

func converged(prev, next *big.Int) bool {
	diff := new(big.Int).Sub(next, prev)
	return diff.CmpAbs(bigOne) <= 0
}

func clone(xs []*big.Int) []*big.Int {
	out := make([]*big.Int, len(xs))
	for i, x := range xs {
		out[i] = new(big.Int).Set(x)
	}
	return out
}

func pow10(exp uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

func normalize(amount *big.Int, decimals uint8) *big.Int {
	switch {
	case decimals == targetPrecision:
		return new(big.Int).Set(amount)
	case decimals < targetPrecision:
		return new(big.Int).Mul(amount, pow10(targetPrecision-decimals))
	default:
		return new(big.Int).Quo(amount, pow10(decimals-targetPrecision))
	}
}

func denormalize(amount *big.Int, decimals uint8, roundUp bool) *big.Int {
	switch {
	case decimals == targetPrecision:
		return new(big.Int).Set(amount)
	case decimals > targetPrecision:
		return new(big.Int).Mul(amount, pow10(decimals-targetPrecision))
	}
	factor := pow10(targetPrecision - decimals)
	if roundUp {
		return ceilDiv(amount, factor)
	}
	return new(big.Int).Quo(amount, factor)
}

func ceilDiv(num, den *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, bigOne)
	}
	return q
}

// mulCeil is ceil(x * rate) for a non-negative rate
func mulCeil(x *big.Int, rate *big.Rat) *big.Int {
	if rate.Sign() == 0 {
		return new(big.Int)
	}
	num := new(big.Int).Mul(x, rate.Num())
	return ceilDiv(num, rate.Denom())
}

// divByOneMinus is ceil(x / (1 - rate))
func divByOneMinus(x *big.Int, rate *big.Rat) (*big.Int, error) {
	if rate.Sign() == 0 {
		return new(big.Int).Set(x), nil
	}
	remaining := new(big.Int).Sub(rate.Denom(), rate.Num())
	if remaining.Sign() <= 0 {
		return nil, &models.RuntimeError{Reason: "Fee too big"}
	}
	return ceilDiv(new(big.Int).Mul(x, rate.Denom()), remaining), nil
}
