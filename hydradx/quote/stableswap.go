package quote

import (
	"fmt"

	"cosmossdk.io/math"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain/storage"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/stableswap"
)

// StableswapPool is the synced state of one Stableswap pool.
// Nil or missing fields mean the value was not received yet, except Reserves where a
// missing balance counts as zero.
type StableswapPool struct {
	Info          *storage.StableswapPoolInfo
	Tradability   map[models.RemoteAssetID]storage.Tradability
	CurrentBlock  *uint32
	ShareIssuance math.Int
	Reserves      map[models.RemoteAssetID]math.Int
	Decimals      map[models.RemoteAssetID]uint8
}

// CalculationInfo is everything the pool math needs for one quote
type CalculationInfo struct {
	Pool          storage.StableswapPoolInfo
	Tradability   map[models.RemoteAssetID]storage.Tradability
	ShareIssuance math.Int
	Reserves      []stableswap.AssetReserve
	CurrentBlock  uint32
}

// CalculationInfo validates the snapshot, ErrDataCorruption when a required value is missing
func (p StableswapPool) CalculationInfo() (CalculationInfo, error) {
	if p.Info == nil {
		return CalculationInfo{}, fmt.Errorf("%w: stableswap pool info missing", models.ErrDataCorruption)
	}
	if p.Tradability == nil {
		return CalculationInfo{}, fmt.Errorf("%w: stableswap tradability missing", models.ErrDataCorruption)
	}
	if p.CurrentBlock == nil {
		return CalculationInfo{}, fmt.Errorf("%w: current block missing", models.ErrDataCorruption)
	}
	reserves := make([]stableswap.AssetReserve, 0, len(p.Info.Assets))
	for _, asset := range p.Info.Assets {
		decimals, ok := p.Decimals[asset]
		if !ok {
			return CalculationInfo{}, fmt.Errorf("%w: decimals of asset %d missing", models.ErrDataCorruption, asset)
		}
		amount, ok := p.Reserves[asset]
		if !ok || amount.IsNil() {
			amount = math.ZeroInt()
		}
		reserves = append(reserves, stableswap.AssetReserve{Asset: asset, Amount: amount, Decimals: decimals})
	}
	issuance := p.ShareIssuance
	if issuance.IsNil() {
		issuance = math.ZeroInt()
	}
	return CalculationInfo{
		Pool:          *p.Info,
		Tradability:   p.Tradability,
		ShareIssuance: issuance,
		Reserves:      reserves,
		CurrentBlock:  *p.CurrentBlock,
	}, nil
}

// StableswapQuoter dispatches Stableswap components to the pool math.
type StableswapQuoter struct {
	pools map[models.RemoteAssetID]StableswapPool
	math  stableswap.Math
}

// NewStableswapQuoter creates a quoter over pools keyed by share asset, m defaults to stableswap.Curve
func NewStableswapQuoter(pools map[models.RemoteAssetID]StableswapPool, m stableswap.Math) *StableswapQuoter {
	if m == nil {
		m = stableswap.Curve{}
	}
	return &StableswapQuoter{pools: pools, math: m}
}

func (q *StableswapQuoter) Quote(component models.RouteComponent, amount math.Int, direction models.Direction) (result math.Int, err error) {
	if !component.Pool.IsStableswap() {
		return math.Int{}, fmt.Errorf("%w: %s is not a stableswap component", models.ErrQuoteCalcFailed, component)
	}
	poolAsset := component.Pool.PoolAsset
	pool, ok := q.pools[poolAsset]
	if !ok {
		return math.Int{}, fmt.Errorf("%w: stableswap pool %d not synced", models.ErrDataCorruption, poolAsset)
	}
	info, err := pool.CalculationInfo()
	if err != nil {
		return math.Int{}, err
	}
	if err := checkTradability(info, component, direction); err != nil {
		return math.Int{}, err
	}

	defer recoverMath(&err)
	amplification := q.math.CalculateAmplification(
		info.Pool.InitialAmplification,
		info.Pool.FinalAmplification,
		info.Pool.InitialBlock,
		info.Pool.FinalBlock,
		info.CurrentBlock,
	)
	fee := models.Permill(info.Pool.Fee).Decimal()

	in, out := component.AssetIn, component.AssetOut
	switch {
	case in == poolAsset && direction == models.Sell:
		return q.math.LiquidityOutOneAsset(info.Reserves, out, amount, amplification, info.ShareIssuance, fee)
	case in == poolAsset && direction == models.Buy:
		return q.math.SharesForAmount(info.Reserves, out, amount, amplification, info.ShareIssuance, fee)
	case out == poolAsset && direction == models.Sell:
		deposit := []stableswap.AssetAmount{{Asset: in, Amount: amount}}
		return q.math.CalculateShares(info.Reserves, deposit, amplification, info.ShareIssuance, fee)
	case out == poolAsset && direction == models.Buy:
		return q.math.AddOneAsset(info.Reserves, in, amount, amplification, info.ShareIssuance, fee)
	case direction == models.Sell:
		return q.math.OutGivenIn(info.Reserves, in, out, amount, amplification, fee)
	case direction == models.Buy:
		return q.math.InGivenOut(info.Reserves, in, out, amount, amplification, fee)
	default:
		return math.Int{}, fmt.Errorf("%w: unknown direction %q", models.ErrQuoteCalcFailed, direction)
	}
}

func checkTradability(info CalculationInfo, component models.RouteComponent, direction models.Direction) error {
	poolAsset := component.Pool.PoolAsset
	require := func(asset models.RemoteAssetID, flag storage.Tradability, what string) error {
		flags, ok := info.Tradability[asset]
		if !ok {
			return fmt.Errorf("%w: tradability of asset %d missing", models.ErrDataCorruption, asset)
		}
		if !flags.Has(flag) {
			return fmt.Errorf("%w: asset %d can't be %s in pool %d", models.ErrQuoteCalcFailed, asset, what, poolAsset)
		}
		return nil
	}

	switch {
	case component.AssetIn == poolAsset:
		return require(component.AssetOut, storage.TradableRemoveLiquidity, "withdrawn")
	case component.AssetOut == poolAsset:
		return require(component.AssetIn, storage.TradableAddLiquidity, "deposited")
	}
	if err := require(component.AssetIn, storage.TradableSell, "sold"); err != nil {
		return err
	}
	return require(component.AssetOut, storage.TradableBuy, "bought")
}
