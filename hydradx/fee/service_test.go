package fee_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain/storage"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/fee"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/quote"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/router"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/runtime"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/submit"
	"github.com/zeebo/assert"
)

const (
	hdx  models.RemoteAssetID = 0
	dot  models.RemoteAssetID = 5
	usdt models.RemoteAssetID = 10
)

type quoterFunc func(ctx context.Context, args models.QuoteArgs) (models.Quote, error)

func (f quoterFunc) Quote(ctx context.Context, args models.QuoteArgs) (models.Quote, error) {
	return f(ctx, args)
}

type fakeCurrencies struct {
	accepted map[models.RemoteAssetID]bool
	err      error
}

func (f fakeCurrencies) IsAcceptedCurrency(_ context.Context, asset models.RemoteAssetID) (bool, error) {
	return f.accepted[asset], f.err
}

// pricer charging a fixed native fee per call name
func fixedPricer(fees map[string]int64) fee.Pricer {
	return fee.PricerFunc(func(_ context.Context, call runtime.Call) (runtime.CallInfo, error) {
		amount, ok := fees[call.Name]
		if !ok {
			return runtime.CallInfo{}, errors.New("unexpected call " + call.Name)
		}
		return runtime.CallInfo{RefTime: 10, ProofSize: 2, PartialFee: math.NewInt(amount)}, nil
	})
}

func plan(withFeeChange bool) submit.Plan {
	var feeCurrency *runtime.Call
	if withFeeChange {
		feeCurrency = &runtime.Call{Name: "MultiTransactionPayment.set_currency", Index: [2]byte{79, 0}}
	}
	return submit.NewPlan(feeCurrency, math.NewInt(1), func() (runtime.Call, error) {
		return runtime.Call{Name: "Omnipool.sell", Index: [2]byte{59, 5}}, nil
	})
}

var callFees = map[string]int64{"MultiTransactionPayment.set_currency": 300, "Omnipool.sell": 946}

func TestCalculate_NativeFeeAsset(t *testing.T) {
	svc := fee.NewService(fee.Config{Native: hdx, Pricer: fixedPricer(callFees)})

	model, err := svc.Calculate(context.Background(), plan(false), hdx)
	assert.NoError(t, err)
	assert.Equal(t, model.TotalFee.TargetAmount.Int64(), int64(946))
	assert.Equal(t, model.TotalFee.NativeAmount.Int64(), int64(946))
	assert.Equal(t, model.NetworkFee.TargetAmount.Int64(), int64(946))
}

func TestEstimate_SumsBothExtrinsics(t *testing.T) {
	svc := fee.NewService(fee.Config{Native: hdx, Pricer: fixedPricer(callFees)})

	estimate, err := svc.Estimate(context.Background(), plan(true))
	assert.NoError(t, err)
	assert.Equal(t, estimate.Native.Int64(), int64(1246))
	assert.Equal(t, estimate.RefTime, uint64(20))
	assert.Equal(t, estimate.ProofSize, uint64(4))
}

func TestCalculate_ConvertsWithBuyQuote(t *testing.T) {
	var seen models.QuoteArgs
	quoter := quoterFunc(func(_ context.Context, args models.QuoteArgs) (models.Quote, error) {
		seen = args
		return models.NewQuote(args, math.NewInt(42), models.Route{}), nil
	})
	svc := fee.NewService(fee.Config{Native: hdx, Pricer: fixedPricer(callFees), Quoter: quoter})

	model, err := svc.Calculate(context.Background(), plan(true), dot)
	assert.NoError(t, err)

	assert.Equal(t, seen.Direction, models.Buy)
	assert.Equal(t, seen.AssetIn.Remote, dot)
	assert.Equal(t, seen.AssetOut.Remote, hdx)
	assert.Equal(t, seen.Amount.Int64(), int64(1246))
	assert.Equal(t, model.TotalFee.TargetAmount.Int64(), int64(42))
	assert.Equal(t, model.TotalFee.NativeAmount.Int64(), int64(1246))
}

// The fee must buy exactly the native fee. Pricing it as a sell of the native fee would ask for
// the amount of dot that 1246 hdx buys instead of the dot needed to get 1246 hdx.
func TestCalculate_FeeConversionRegression(t *testing.T) {
	noFees := quote.Fees{AssetFee: models.Permill(0), ProtocolFee: models.Permill(0)}
	omnipool := quote.NewOmnipoolQuoter(map[models.RemoteAssetID]quote.OmnipoolAsset{
		dot: {State: &storage.OmnipoolAssetState{HubReserve: math.NewInt(500_000)}, Reserve: math.NewInt(1_000_000)},
		hdx: {State: &storage.OmnipoolAssetState{HubReserve: math.NewInt(800_000)}, Reserve: math.NewInt(2_000_000)},
	}, noFees)
	routes := quote.RouteQuoter{Omnipool: omnipool}
	quoter := quoterFunc(func(_ context.Context, args models.QuoteArgs) (models.Quote, error) {
		route := models.NewRoute(models.RouteComponent{AssetIn: args.AssetIn.Remote, AssetOut: args.AssetOut.Remote, Pool: models.Omnipool()})
		amount, err := routes.Quote(route, args.Amount, args.Direction)
		if err != nil {
			return models.Quote{}, err
		}
		return models.NewQuote(args, amount, route), nil
	})
	svc := fee.NewService(fee.Config{Native: hdx, Pricer: fixedPricer(callFees), Quoter: quoter})

	model, err := svc.Calculate(context.Background(), plan(true), dot)
	assert.NoError(t, err)
	assert.Equal(t, model.TotalFee.NativeAmount.Int64(), int64(1246))
	assert.Equal(t, model.TotalFee.TargetAmount.Int64(), int64(999))

	// selling the estimated dot covers the native fee
	back := models.NewRoute(models.RouteComponent{AssetIn: dot, AssetOut: hdx, Pool: models.Omnipool()})
	received, err := routes.Quote(back, model.TotalFee.TargetAmount, models.Sell)
	assert.NoError(t, err)
	assert.False(t, received.LT(model.TotalFee.NativeAmount))
}

func TestCalculate_PricingFailure(t *testing.T) {
	svc := fee.NewService(fee.Config{Native: hdx, Pricer: fixedPricer(map[string]int64{})})

	_, err := svc.Calculate(context.Background(), plan(false), hdx)
	assert.Error(t, err)
}

func TestCalculate_NewCalculationCancelsPrevious(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	blocking := fee.PricerFunc(func(ctx context.Context, call runtime.Call) (runtime.CallInfo, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return runtime.CallInfo{}, ctx.Err()
	})
	svc := fee.NewService(fee.Config{Native: hdx, Pricer: blocking})

	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Calculate(context.Background(), plan(false), hdx)
		firstErr <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _ = svc.Calculate(ctx, plan(false), hdx)

	select {
	case err := <-firstErr:
		assert.True(t, errors.Is(err, models.ErrCancelled))
	case <-time.After(2 * time.Second):
		t.Fatalf("first calculation was not cancelled")
	}
}

func TestCalculate_CancelAbortsInFlight(t *testing.T) {
	started := make(chan struct{})
	blocking := fee.PricerFunc(func(ctx context.Context, call runtime.Call) (runtime.CallInfo, error) {
		close(started)
		<-ctx.Done()
		return runtime.CallInfo{}, ctx.Err()
	})
	svc := fee.NewService(fee.Config{Native: hdx, Pricer: blocking})

	done := make(chan error, 1)
	go func() {
		_, err := svc.Calculate(context.Background(), plan(false), hdx)
		done <- err
	}()
	<-started
	svc.Cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, models.ErrCancelled))
	case <-time.After(2 * time.Second):
		t.Fatalf("calculation was not cancelled")
	}
}

func TestCanPayFee(t *testing.T) {
	directions := router.NewDirections([]models.RemoteAssetID{hdx, dot}, nil)
	svc := fee.NewService(fee.Config{
		Native:     hdx,
		Currencies: fakeCurrencies{accepted: map[models.RemoteAssetID]bool{dot: true, usdt: true}},
		Routes:     directions,
	})
	ctx := context.Background()

	tests := []struct {
		name  string
		asset models.RemoteAssetID
		want  bool
	}{
		{"native", hdx, true},
		{"accepted and tradable", dot, true},
		{"accepted but no route", usdt, false},
		{"not accepted", 99, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := svc.CanPayFee(ctx, tt.asset)
			assert.NoError(t, err)
			assert.Equal(t, ok, tt.want)
		})
	}
}

func TestCanPayFee_RegistryFailure(t *testing.T) {
	svc := fee.NewService(fee.Config{
		Native:     hdx,
		Currencies: fakeCurrencies{err: models.ErrConnectionUnavailable},
		Routes:     router.NewDirections(nil, nil),
	})
	ok, err := svc.CanPayFee(context.Background(), dot)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, models.ErrConnectionUnavailable))
}
