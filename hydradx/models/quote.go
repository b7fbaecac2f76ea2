package models

import (
	"fmt"

	"cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

// QuoteArgs is the request to price an exchange of AssetIn for AssetOut.
// Amount is the input amount for sells and the output amount for buys.
type QuoteArgs struct {
	AssetIn   AssetRef  `json:"asset_in"`
	AssetOut  AssetRef  `json:"asset_out"`
	Amount    math.Int  `json:"amount"`
	Direction Direction `json:"direction"`
}

// Pair returns the remote pair of the request.
func (a QuoteArgs) Pair() SwapPair {
	return SwapPair{AssetIn: a.AssetIn.Remote, AssetOut: a.AssetOut.Remote}
}

// Validate rejects requests that can never be priced.
func (a QuoteArgs) Validate() error {
	if a.Amount.IsNil() || !a.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	if a.Direction != Sell && a.Direction != Buy {
		return fmt.Errorf("unknown direction %q", a.Direction)
	}
	if a.AssetIn.Remote == a.AssetOut.Remote {
		return fmt.Errorf("asset in and asset out must differ")
	}
	return nil
}

// Quote is the priced result. For sells AmountIn equals Args.Amount and AmountOut is solved;
// for buys AmountOut equals Args.Amount and AmountIn is solved.
// Route is kept so the swap call can replay the exact path that was priced.
type Quote struct {
	Args      QuoteArgs `json:"args"`
	AmountIn  math.Int  `json:"amount_in"`
	AmountOut math.Int  `json:"amount_out"`
	Route     Route     `json:"route"`
}

// NewQuote fills the fixed side from the request and the solved side from amount.
func NewQuote(args QuoteArgs, amount math.Int, route Route) Quote {
	quote := Quote{Args: args, Route: route}
	if args.Direction == Sell {
		quote.AmountIn = args.Amount
		quote.AmountOut = amount
	} else {
		quote.AmountIn = amount
		quote.AmountOut = args.Amount
	}
	return quote
}

// Solved returns the amount the quote solved for.
func (q Quote) Solved() math.Int {
	if q.Args.Direction == Sell {
		return q.AmountOut
	}
	return q.AmountIn
}

// CallArgs carries everything needed to build the swap call.
type CallArgs struct {
	AssetIn   AssetRef        `json:"asset_in"`
	AssetOut  AssetRef        `json:"asset_out"`
	AmountIn  math.Int        `json:"amount_in"`
	AmountOut math.Int        `json:"amount_out"`
	Direction Direction       `json:"direction"`
	Slippage  decimal.Decimal `json:"slippage"`
	Receiver  AccountID       `json:"receiver"`
	Route     *Route          `json:"route,omitempty"`
}

// CallArgsFromQuote turns a quote into call arguments for the given receiver and slippage.
func CallArgsFromQuote(quote Quote, receiver AccountID, slippage decimal.Decimal) CallArgs {
	route := quote.Route
	return CallArgs{
		AssetIn:   quote.Args.AssetIn,
		AssetOut:  quote.Args.AssetOut,
		AmountIn:  quote.AmountIn,
		AmountOut: quote.AmountOut,
		Direction: quote.Args.Direction,
		Slippage:  slippage,
		Receiver:  receiver,
		Route:     &route,
	}
}

// AmountWithNative is a fee amount in the fee asset together with its native equivalent.
type AmountWithNative struct {
	TargetAmount math.Int `json:"target_amount"`
	NativeAmount math.Int `json:"native_amount"`
}

// FeeModel is the result of a fee estimation.
type FeeModel struct {
	TotalFee   AmountWithNative `json:"total_fee"`
	NetworkFee AmountWithNative `json:"network_fee"`
	Payer      *AccountID       `json:"payer,omitempty"`
}

// SubmittedExtrinsic reports what was sent to the chain.
// FeeCurrencyHash is empty when no fee currency change was needed.
type SubmittedExtrinsic struct {
	Hash            string `json:"hash"`
	FeeCurrencyHash string `json:"fee_currency_hash,omitempty"`
}

// Ratio is an exact fraction, used for Permill fees.
type Ratio struct {
	Num uint64 `json:"num"`
	Den uint64 `json:"den"`
}

// PermillDen is the denominator of on-chain Permill values.
const PermillDen = 1_000_000

// Permill converts an on-chain Permill value to a ratio.
func Permill(v uint32) Ratio {
	return Ratio{Num: uint64(v), Den: PermillDen}
}

// Decimal returns the ratio as a decimal fraction.
func (r Ratio) Decimal() decimal.Decimal {
	if r.Den == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(r.Num)).Div(decimal.NewFromInt(int64(r.Den)))
}

func (r Ratio) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}
