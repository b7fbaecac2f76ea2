// Package fee estimates what a swap costs in network fees, in the asset the account pays with.
package fee

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"cosmossdk.io/math"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/runtime"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/submit"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/task"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "fee").Logger()
}

// Pricer returns the native fee and weight of a call
type Pricer interface {
	CallInfo(ctx context.Context, call runtime.Call) (runtime.CallInfo, error)
}

// PricerFunc adapts a function to Pricer
type PricerFunc func(ctx context.Context, call runtime.Call) (runtime.CallInfo, error)

func (f PricerFunc) CallInfo(ctx context.Context, call runtime.Call) (runtime.CallInfo, error) {
	return f(ctx, call)
}

// NodePricer prices calls with TransactionPaymentCallApi_query_call_info
func NodePricer(caller chain.Caller) Pricer {
	return PricerFunc(func(ctx context.Context, call runtime.Call) (runtime.CallInfo, error) {
		return runtime.QueryCallInfo(ctx, caller, call)
	})
}

// Quoter prices a swap on the cached pool state
type Quoter interface {
	Quote(ctx context.Context, args models.QuoteArgs) (models.Quote, error)
}

// CurrencyRegistry tells which assets the transaction payment pallet accepts
type CurrencyRegistry interface {
	IsAcceptedCurrency(ctx context.Context, asset models.RemoteAssetID) (bool, error)
}

// RouteResolver lists candidate routes between two assets
type RouteResolver interface {
	Resolve(in, out models.RemoteAssetID) []models.Route
}

type Config struct {
	Native     models.RemoteAssetID
	Pricer     Pricer
	Quoter     Quoter
	Currencies CurrencyRegistry
	Routes     RouteResolver
}

// Service estimates swap fees, one calculation in flight at a time
type Service struct {
	cfg   Config
	calls task.CallStore
}

func NewService(cfg Config) *Service {
	return &Service{cfg: cfg}
}

type calculation struct {
	cancel context.CancelFunc
}

func (c *calculation) Cancel() {
	c.cancel()
}

// Estimate is the native fee of a plan before conversion
type Estimate struct {
	Native    math.Int
	RefTime   uint64
	ProofSize uint64
}

/*
Calculate estimates the fee of a swap plan in feeAsset.

A new call cancels the calculation still in flight, which returns ErrCancelled.

Params:
  - ctx: caller context
  - plan: one or two extrinsic swap plan
  - feeAsset: the asset the fee is paid in

Returns:
  - models.FeeModel: total and network fee, both with their native equivalent
  - error: pricing or conversion failures, ErrCancelled when superseded
*/
func (s *Service) Calculate(ctx context.Context, plan submit.Plan, feeAsset models.RemoteAssetID) (models.FeeModel, error) {
	ctx, cancel := context.WithCancel(ctx)
	call := &calculation{cancel: cancel}
	s.calls.Replace(call)
	defer s.calls.Clear(call)
	defer cancel()

	model, err := s.calculate(ctx, plan, feeAsset)
	if !s.calls.IsCurrent(call) {
		return models.FeeModel{}, fmt.Errorf("%w: fee calculation superseded", models.ErrCancelled)
	}
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, models.ErrCancelled) {
			return models.FeeModel{}, fmt.Errorf("%w: %v", models.ErrCancelled, err)
		}
		return models.FeeModel{}, err
	}
	return model, nil
}

func (s *Service) calculate(ctx context.Context, plan submit.Plan, feeAsset models.RemoteAssetID) (models.FeeModel, error) {
	estimate, err := s.Estimate(ctx, plan)
	if err != nil {
		return models.FeeModel{}, err
	}

	if feeAsset == s.cfg.Native {
		native := models.AmountWithNative{TargetAmount: estimate.Native, NativeAmount: estimate.Native}
		return models.FeeModel{TotalFee: native, NetworkFee: native}, nil
	}

	target, err := s.ConvertFromNative(ctx, estimate.Native, feeAsset)
	if err != nil {
		return models.FeeModel{}, err
	}
	converted := models.AmountWithNative{TargetAmount: target, NativeAmount: estimate.Native}
	return models.FeeModel{TotalFee: converted, NetworkFee: converted}, nil
}

// Estimate sums the native fees and weights of every extrinsic of the plan
func (s *Service) Estimate(ctx context.Context, plan submit.Plan) (Estimate, error) {
	calls, err := plan.Calls()
	if err != nil {
		return Estimate{}, err
	}
	total := Estimate{Native: math.ZeroInt()}
	for _, call := range calls {
		info, err := s.cfg.Pricer.CallInfo(ctx, call)
		if err != nil {
			return Estimate{}, fmt.Errorf("failed to price %s: %w", call.Name, err)
		}
		total.Native = total.Native.Add(info.PartialFee)
		total.RefTime += info.RefTime
		total.ProofSize += info.ProofSize
	}
	log.Debug().
		Int("extrinsics", len(calls)).
		Str("native_fee", total.Native.String()).
		Uint64("ref_time", total.RefTime).
		Msg("Estimated native fee")
	return total, nil
}

// ConvertFromNative prices nativeFee in feeAsset: a buy of exactly nativeFee native paid with feeAsset,
// so the solved input is the feeAsset amount the account must hold.
func (s *Service) ConvertFromNative(ctx context.Context, nativeFee math.Int, feeAsset models.RemoteAssetID) (math.Int, error) {
	if nativeFee.IsZero() {
		return math.ZeroInt(), nil
	}
	quote, err := s.cfg.Quoter.Quote(ctx, models.QuoteArgs{
		AssetIn:   models.AssetRef{Remote: feeAsset},
		AssetOut:  models.AssetRef{Remote: s.cfg.Native},
		Amount:    nativeFee,
		Direction: models.Buy,
	})
	if err != nil {
		return math.Int{}, fmt.Errorf("failed to convert fee to asset %d: %w", feeAsset, err)
	}
	log.Debug().
		Uint32("fee_asset", uint32(feeAsset)).
		Str("native_fee", nativeFee.String()).
		Str("fee", quote.AmountIn.String()).
		Msg("Converted fee")
	return quote.AmountIn, nil
}

// CanPayFee reports whether asset can pay transaction fees: native always can, other assets must be
// accepted currencies that trade into native
func (s *Service) CanPayFee(ctx context.Context, asset models.RemoteAssetID) (bool, error) {
	if asset == s.cfg.Native {
		return true, nil
	}
	accepted, err := s.cfg.Currencies.IsAcceptedCurrency(ctx, asset)
	if err != nil || !accepted {
		return false, err
	}
	return len(s.cfg.Routes.Resolve(asset, s.cfg.Native)) > 0, nil
}

// Cancel aborts the calculation in flight
func (s *Service) Cancel() {
	s.calls.CancelAll()
}
