package stableswap_test

import (
	"errors"
	"testing"

	"cosmossdk.io/math"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/stableswap"
	"github.com/shopspring/decimal"
	"github.com/zeebo/assert"
)

const (
	usdt models.RemoteAssetID = 10
	dai  models.RemoteAssetID = 2
)

var curve = stableswap.Curve{}

func units(n int64, decimals uint8) math.Int {
	return math.NewInt(n).Mul(math.NewIntWithDecimal(1, int(decimals)))
}

func balancedPool() []stableswap.AssetReserve {
	return []stableswap.AssetReserve{
		{Asset: usdt, Amount: units(1_000_000, 18), Decimals: 18},
		{Asset: dai, Amount: units(1_000_000, 18), Decimals: 18},
	}
}

func within(t *testing.T, got, want, tolerance math.Int) {
	t.Helper()
	diff := got.Sub(want).Abs()
	if diff.GT(tolerance) {
		t.Errorf("got %s, want %s (+-%s)", got, want, tolerance)
	}
}

func TestCalculateAmplification(t *testing.T) {
	tests := []struct {
		name                     string
		initial, final           uint16
		initialBlock, finalBlock uint32
		current                  uint32
		want                     int64
	}{
		{"ramp up halfway", 100, 200, 0, 100, 50, 150},
		{"ramp down quarter", 200, 100, 0, 100, 25, 175},
		{"before ramp", 100, 200, 10, 20, 5, 100},
		{"after ramp", 100, 200, 10, 20, 30, 200},
		{"no ramp", 100, 100, 0, 0, 0, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := curve.CalculateAmplification(tt.initial, tt.final, tt.initialBlock, tt.finalBlock, tt.current)
			assert.Equal(t, got.Int64(), tt.want)
		})
	}
}

func TestCurve_OutGivenInBalancedPool(t *testing.T) {
	amp := math.NewInt(100)
	out, err := curve.OutGivenIn(balancedPool(), usdt, dai, units(1000, 18), amp, decimal.Zero)
	assert.NoError(t, err)
	assert.True(t, out.LT(units(1000, 18)))
	assert.True(t, out.GT(units(999, 18)))

	// the fee is taken from the output and rounded up
	withFee, err := curve.OutGivenIn(balancedPool(), usdt, dai, units(1000, 18), amp, decimal.RequireFromString("0.01"))
	assert.NoError(t, err)
	fee := out.AddRaw(99).QuoRaw(100)
	assert.Equal(t, withFee.String(), out.Sub(fee).String())
}

func TestCurve_InGivenOutInvertsOutGivenIn(t *testing.T) {
	amp := math.NewInt(100)
	amountIn := units(1000, 18)
	out, err := curve.OutGivenIn(balancedPool(), usdt, dai, amountIn, amp, decimal.Zero)
	assert.NoError(t, err)

	in, err := curve.InGivenOut(balancedPool(), usdt, dai, out, amp, decimal.Zero)
	assert.NoError(t, err)
	within(t, in, amountIn, math.NewInt(1_000_000))

	withFee, err := curve.InGivenOut(balancedPool(), usdt, dai, out, amp, decimal.RequireFromString("0.01"))
	assert.NoError(t, err)
	// ceil(in / 0.99)
	want := in.MulRaw(100).AddRaw(98).QuoRaw(99)
	assert.Equal(t, withFee.String(), want.String())
}

func TestCurve_MixedDecimals(t *testing.T) {
	reserves := []stableswap.AssetReserve{
		{Asset: usdt, Amount: units(1_000_000, 6), Decimals: 6},
		{Asset: dai, Amount: units(1_000_000, 18), Decimals: 18},
	}
	out, err := curve.OutGivenIn(reserves, usdt, dai, units(1000, 6), math.NewInt(100), decimal.Zero)
	assert.NoError(t, err)
	assert.True(t, out.GT(units(999, 18)))
	assert.True(t, out.LT(units(1000, 18)))

	in, err := curve.InGivenOut(reserves, usdt, dai, units(1000, 18), math.NewInt(100), decimal.Zero)
	assert.NoError(t, err)
	assert.True(t, in.GT(units(1000, 6)))
	assert.True(t, in.LT(units(1001, 6)))
}

func TestCurve_InitialDepositMintsInvariant(t *testing.T) {
	empty := []stableswap.AssetReserve{
		{Asset: usdt, Amount: math.ZeroInt(), Decimals: 18},
		{Asset: dai, Amount: math.ZeroInt(), Decimals: 18},
	}
	shares, err := curve.CalculateShares(empty, []stableswap.AssetAmount{
		{Asset: usdt, Amount: units(100, 18)},
		{Asset: dai, Amount: units(100, 18)},
	}, math.NewInt(100), math.ZeroInt(), decimal.Zero)
	assert.NoError(t, err)
	assert.Equal(t, shares.String(), units(200, 18).String())
}

func TestCurve_LiquidityOperations(t *testing.T) {
	amp := math.NewInt(100)
	issuance := units(2_000_000, 18)
	fee := decimal.RequireFromString("0.0004")

	shares, err := curve.CalculateShares(balancedPool(), []stableswap.AssetAmount{{Asset: usdt, Amount: units(1000, 18)}}, amp, issuance, decimal.Zero)
	assert.NoError(t, err)
	assert.True(t, shares.GT(units(999, 18)))
	assert.True(t, shares.LT(units(1000, 18)))

	feeShares, err := curve.CalculateShares(balancedPool(), []stableswap.AssetAmount{{Asset: usdt, Amount: units(1000, 18)}}, amp, issuance, fee)
	assert.NoError(t, err)
	assert.True(t, feeShares.LT(shares))

	out, err := curve.LiquidityOutOneAsset(balancedPool(), dai, units(1000, 18), amp, issuance, decimal.Zero)
	assert.NoError(t, err)
	assert.True(t, out.GT(units(999, 18)))
	assert.True(t, out.LT(units(1000, 18)))

	feeOut, err := curve.LiquidityOutOneAsset(balancedPool(), dai, units(1000, 18), amp, issuance, fee)
	assert.NoError(t, err)
	assert.True(t, feeOut.LT(out))

	burn, err := curve.SharesForAmount(balancedPool(), dai, out, amp, issuance, decimal.Zero)
	assert.NoError(t, err)
	within(t, burn, units(1000, 18), math.NewInt(1_000_000))

	need, err := curve.AddOneAsset(balancedPool(), usdt, shares, amp, issuance, decimal.Zero)
	assert.NoError(t, err)
	within(t, need, units(1000, 18), math.NewInt(1_000_000))

	feeNeed, err := curve.AddOneAsset(balancedPool(), usdt, shares, amp, issuance, fee)
	assert.NoError(t, err)
	assert.True(t, feeNeed.GT(need))
}

func TestCurve_Errors(t *testing.T) {
	amp := math.NewInt(100)

	_, err := curve.OutGivenIn(balancedPool(), usdt, 99, units(1, 18), amp, decimal.Zero)
	assert.True(t, errors.Is(err, models.ErrQuoteCalcFailed))

	_, err = curve.InGivenOut(balancedPool(), usdt, dai, units(1_000_000, 18), amp, decimal.Zero)
	assert.True(t, errors.Is(err, models.ErrQuoteCalcFailed))

	_, err = curve.LiquidityOutOneAsset(balancedPool(), dai, units(3_000_000, 18), amp, units(2_000_000, 18), decimal.Zero)
	assert.True(t, errors.Is(err, models.ErrQuoteCalcFailed))

	_, err = curve.OutGivenIn(balancedPool(), usdt, dai, units(1, 18), math.ZeroInt(), decimal.Zero)
	var runtimeErr *models.RuntimeError
	assert.True(t, errors.As(err, &runtimeErr))
}
