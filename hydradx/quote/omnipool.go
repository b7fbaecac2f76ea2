// Package quote prices route components against snapshots of remote pool state.
package quote

import (
	"fmt"

	"cosmossdk.io/math"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain/storage"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
)

// Quoter prices one route component. amount is the input for sells and the output for buys.
type Quoter interface {
	Quote(component models.RouteComponent, amount math.Int, direction models.Direction) (math.Int, error)
}

// Fees is the asset fee and protocol fee pair of an Omnipool trade
type Fees struct {
	AssetFee    models.Ratio
	ProtocolFee models.Ratio
}

// OmnipoolAsset is the Omnipool view of one asset. A nil State means the asset is not listed.
// Fee is the dynamic fee entry of the asset, nil when the chain-wide default applies.
type OmnipoolAsset struct {
	State   *storage.OmnipoolAssetState
	Reserve math.Int
	Fee     *storage.DynamicFee
}

// OmnipoolQuoter prices Omnipool components with the exact integer formulas of the pallet.
type OmnipoolQuoter struct {
	assets   map[models.RemoteAssetID]OmnipoolAsset
	defaults Fees
}

func NewOmnipoolQuoter(assets map[models.RemoteAssetID]OmnipoolAsset, defaults Fees) *OmnipoolQuoter {
	return &OmnipoolQuoter{assets: assets, defaults: defaults}
}

func (q *OmnipoolQuoter) asset(id models.RemoteAssetID) (OmnipoolAsset, error) {
	asset, ok := q.assets[id]
	if !ok || asset.State == nil {
		return OmnipoolAsset{}, &models.RemoteAssetNotFoundError{Asset: id}
	}
	if asset.Reserve.IsNil() {
		asset.Reserve = math.ZeroInt()
	}
	return asset, nil
}

// fees picks the asset fee of assetOut and the protocol fee of assetIn
func (q *OmnipoolQuoter) fees(in, out OmnipoolAsset) Fees {
	fees := q.defaults
	if out.Fee != nil {
		fees.AssetFee = models.Permill(out.Fee.AssetFee)
	}
	if in.Fee != nil {
		fees.ProtocolFee = models.Permill(in.Fee.ProtocolFee)
	}
	if fees.AssetFee.Den == 0 {
		fees.AssetFee = models.Permill(0)
	}
	if fees.ProtocolFee.Den == 0 {
		fees.ProtocolFee = models.Permill(0)
	}
	return fees
}

func (q *OmnipoolQuoter) Quote(component models.RouteComponent, amount math.Int, direction models.Direction) (result math.Int, err error) {
	if !component.Pool.IsOmnipool() {
		return math.Int{}, fmt.Errorf("%w: %s is not an omnipool component", models.ErrQuoteCalcFailed, component)
	}
	in, err := q.asset(component.AssetIn)
	if err != nil {
		return math.Int{}, err
	}
	out, err := q.asset(component.AssetOut)
	if err != nil {
		return math.Int{}, err
	}
	fees := q.fees(in, out)
	pool := OmnipoolPair{
		ReserveIn:     in.Reserve,
		HubReserveIn:  in.State.HubReserve,
		ReserveOut:    out.Reserve,
		HubReserveOut: out.State.HubReserve,
	}

	defer recoverMath(&err)
	switch direction {
	case models.Sell:
		return CalculateOutGivenIn(pool, amount, fees)
	case models.Buy:
		return CalculateInGivenOut(pool, amount, fees)
	default:
		return math.Int{}, fmt.Errorf("%w: unknown direction %q", models.ErrQuoteCalcFailed, direction)
	}
}

// OmnipoolPair holds the reserves of the two assets of an Omnipool trade
type OmnipoolPair struct {
	ReserveIn     math.Int
	HubReserveIn  math.Int
	ReserveOut    math.Int
	HubReserveOut math.Int
}

func ratioInts(r models.Ratio) (num, den math.Int) {
	return math.NewIntFromUint64(r.Num), math.NewIntFromUint64(r.Den)
}

/*
CalculateOutGivenIn solves the output of selling amountIn. Every division truncates.

Params:
  - pool: reserves of both assets
  - amountIn: amount of the input asset
  - fees: asset fee of the output asset and protocol fee of the input asset

Returns:
  - math.Int: amount of the output asset after fees
  - error: RuntimeError when the asset fee is above 100%
*/
func CalculateOutGivenIn(pool OmnipoolPair, amountIn math.Int, fees Fees) (math.Int, error) {
	if fees.AssetFee.Num > fees.AssetFee.Den {
		return math.Int{}, &models.RuntimeError{Reason: "Fee too big"}
	}
	denominator := pool.ReserveIn.Add(amountIn)
	if !denominator.IsPositive() {
		return math.Int{}, fmt.Errorf("%w: empty input reserve", models.ErrQuoteCalcFailed)
	}
	deltaHubIn := amountIn.Mul(pool.HubReserveIn).Quo(denominator)

	pfNum, pfDen := ratioInts(fees.ProtocolFee)
	protocolFeeAmount := math.ZeroInt()
	if !pfDen.IsZero() {
		protocolFeeAmount = deltaHubIn.Mul(pfNum).Quo(pfDen)
	}
	deltaHubOut := deltaHubIn.Sub(protocolFeeAmount)
	if deltaHubOut.IsNegative() {
		return math.Int{}, &models.RuntimeError{Reason: "Protocol fee too big"}
	}

	hubDenominator := pool.HubReserveOut.Add(deltaHubOut)
	if !hubDenominator.IsPositive() {
		return math.Int{}, fmt.Errorf("%w: empty output hub reserve", models.ErrQuoteCalcFailed)
	}
	deltaReserveOut := deltaHubOut.Mul(pool.ReserveOut).Quo(hubDenominator)

	afNum, afDen := ratioInts(fees.AssetFee)
	if afDen.IsZero() {
		return deltaReserveOut, nil
	}
	return deltaReserveOut.Mul(afDen.Sub(afNum)).Quo(afDen), nil
}

/*
CalculateInGivenOut solves the input needed to buy amountOut. The +1 roundings keep the
result at or above what the pallet charges.

Params:
  - pool: reserves of both assets
  - amountOut: amount of the output asset
  - fees: asset fee of the output asset and protocol fee of the input asset

Returns:
  - math.Int: amount of the input asset
  - error: ErrQuoteCalcFailed when the pool can't provide amountOut, RuntimeError when a fee is too big
*/
func CalculateInGivenOut(pool OmnipoolPair, amountOut math.Int, fees Fees) (math.Int, error) {
	if fees.AssetFee.Num > fees.AssetFee.Den {
		return math.Int{}, &models.RuntimeError{Reason: "Asset fee too big"}
	}
	afNum, afDen := ratioInts(fees.AssetFee)
	outReserveNoFee := pool.ReserveOut
	if !afDen.IsZero() {
		outReserveNoFee = pool.ReserveOut.Mul(afDen.Sub(afNum)).Quo(afDen)
	}
	if !outReserveNoFee.GT(amountOut) {
		return math.Int{}, fmt.Errorf("%w: output reserve %s can't cover %s", models.ErrQuoteCalcFailed, outReserveNoFee, amountOut)
	}
	deltaHubOut := pool.HubReserveOut.Mul(amountOut).Quo(outReserveNoFee.Sub(amountOut)).AddRaw(1)

	if fees.ProtocolFee.Den <= fees.ProtocolFee.Num {
		return math.Int{}, &models.RuntimeError{Reason: "Protocol fee too big"}
	}
	pfNum, pfDen := ratioInts(fees.ProtocolFee)
	deltaHubIn := deltaHubOut.Mul(pfDen).Quo(pfDen.Sub(pfNum))

	if !pool.HubReserveIn.GT(deltaHubIn) {
		return math.Int{}, fmt.Errorf("%w: input hub reserve %s can't cover %s", models.ErrQuoteCalcFailed, pool.HubReserveIn, deltaHubIn)
	}
	return pool.ReserveIn.Mul(deltaHubIn).Quo(pool.HubReserveIn.Sub(deltaHubIn)).AddRaw(1), nil
}

// recoverMath turns an arbitrary precision overflow into a RuntimeError
func recoverMath(err *error) {
	if r := recover(); r != nil {
		*err = &models.RuntimeError{Reason: fmt.Sprint(r)}
	}
}
