// Package submit turns priced swaps into runtime calls and submits them.
package submit

import (
	"fmt"
	"os"
	"time"

	"cosmossdk.io/math"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/runtime"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "submit").Logger()
}

// AccountState is what the builder needs to know about the sending account
type AccountState struct {
	FeeAsset models.RemoteAssetID
	Linked   bool
}

// Plan is the one or two extrinsic submission of a swap.
// FeeCurrency is nil when the account already pays in the desired asset.
type Plan struct {
	FeeCurrency *runtime.Call
	Limit       math.Int
	swap        func() (runtime.Call, error)
}

// NewPlan assembles a plan from prepared parts, swap is only called when the swap is sent or priced
func NewPlan(feeCurrency *runtime.Call, limit math.Int, swap func() (runtime.Call, error)) Plan {
	return Plan{FeeCurrency: feeCurrency, Limit: limit, swap: swap}
}

func (p Plan) NeedsFeeChange() bool {
	return p.FeeCurrency != nil
}

// Swap encodes the swap extrinsic call
func (p Plan) Swap() (runtime.Call, error) {
	if p.swap == nil {
		return runtime.Call{}, fmt.Errorf("empty plan")
	}
	return p.swap()
}

// Calls encodes every call of the plan in submission order
func (p Plan) Calls() ([]runtime.Call, error) {
	swap, err := p.Swap()
	if err != nil {
		return nil, err
	}
	if p.FeeCurrency == nil {
		return []runtime.Call{swap}, nil
	}
	return []runtime.Call{*p.FeeCurrency, swap}, nil
}

// Builder assembles swap plans from cached account state
type Builder struct {
	referralCode string
}

func NewBuilder(referralCode string) *Builder {
	return &Builder{referralCode: referralCode}
}

/*
Build prepares the extrinsics of a swap.

Params:
  - coder: runtime coder of the current spec version
  - args: swap arguments with the priced amounts and route
  - desiredFee: asset the account should pay fees in
  - account: the account's current fee asset and referral link

Returns:
  - Plan: the fee currency call (when needed) and a lazily encoded swap call
  - error: invalid slippage or amounts
*/
func (b *Builder) Build(coder *runtime.Coder, args models.CallArgs, desiredFee models.RemoteAssetID, account AccountState) (Plan, error) {
	if args.Slippage.IsNegative() || args.Slippage.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Plan{}, fmt.Errorf("%w: slippage %s must be in [0, 1)", models.ErrInvalidArgs, args.Slippage)
	}
	if args.AmountIn.IsNil() || args.AmountOut.IsNil() || !args.AmountIn.IsPositive() || !args.AmountOut.IsPositive() {
		return Plan{}, fmt.Errorf("%w: swap amounts must be positive", models.ErrInvalidArgs)
	}

	var plan Plan
	if args.Direction == models.Sell {
		plan.Limit = MinBuyAmount(args.AmountOut, args.Slippage)
	} else {
		plan.Limit = MaxSellAmount(args.AmountIn, args.Slippage)
	}

	if desiredFee != account.FeeAsset {
		call, err := coder.SetCurrency(desiredFee)
		if err != nil {
			return Plan{}, err
		}
		plan.FeeCurrency = &call
	}

	linkReferral := !account.Linked && b.referralCode != ""
	referralCode := b.referralCode
	limit := plan.Limit
	plan.swap = func() (runtime.Call, error) {
		swap, err := swapCall(coder, args, limit)
		if err != nil {
			return runtime.Call{}, err
		}
		if !linkReferral {
			return swap, nil
		}
		link, err := coder.LinkCode(referralCode)
		if err != nil {
			return runtime.Call{}, err
		}
		return coder.BatchAll(link, swap)
	}

	log.Debug().
		Str("direction", string(args.Direction)).
		Str("limit", plan.Limit.String()).
		Bool("fee_change", plan.NeedsFeeChange()).
		Bool("link_referral", linkReferral).
		Msg("Built swap plan")
	return plan, nil
}

func swapCall(coder *runtime.Coder, args models.CallArgs, limit math.Int) (runtime.Call, error) {
	assetIn, assetOut := args.AssetIn.Remote, args.AssetOut.Remote
	if args.Route == nil || args.Route.IsSingleOmnipool() {
		if args.Direction == models.Sell {
			return coder.OmnipoolSell(assetIn, assetOut, args.AmountIn, limit)
		}
		return coder.OmnipoolBuy(assetOut, assetIn, args.AmountOut, limit)
	}
	if args.Direction == models.Sell {
		return coder.RouterSell(assetIn, assetOut, args.AmountIn, limit, *args.Route)
	}
	return coder.RouterBuy(assetIn, assetOut, args.AmountOut, limit, *args.Route)
}

// MinBuyAmount is amountOut - floor(slippage * amountOut)
func MinBuyAmount(amountOut math.Int, slippage decimal.Decimal) math.Int {
	tolerance := decimal.NewFromBigInt(amountOut.BigInt(), 0).Mul(slippage).Floor()
	return amountOut.Sub(math.NewIntFromBigInt(tolerance.BigInt()))
}

// MaxSellAmount is amountIn + ceil(slippage * amountIn)
func MaxSellAmount(amountIn math.Int, slippage decimal.Decimal) math.Int {
	tolerance := decimal.NewFromBigInt(amountIn.BigInt(), 0).Mul(slippage).Ceil()
	return amountIn.Add(math.NewIntFromBigInt(tolerance.BigInt()))
}
