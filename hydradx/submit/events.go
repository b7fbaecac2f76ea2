package submit

import (
	"fmt"

	"cosmossdk.io/math"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain/storage"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/runtime"
)

// RawEvent is one event of a block with its payload still SCALE encoded
type RawEvent struct {
	Index [2]byte
	Data  []byte
}

// SwapResult is what a swap actually exchanged
type SwapResult struct {
	AssetIn   models.RemoteAssetID
	AssetOut  models.RemoteAssetID
	AmountIn  math.Int
	AmountOut math.Int
}

/*
MatchSwapResult finds the execution event of a swap between assetIn and assetOut.

Router.Executed wins over the per hop Omnipool events. ok is false when no event matches.
*/
func MatchSwapResult(coder *runtime.Coder, events []RawEvent, assetIn, assetOut models.RemoteAssetID) (SwapResult, bool, error) {
	routerIndex, hasRouter := coder.EventIndex("Router", "Executed")
	sellIndex, hasSell := coder.EventIndex("Omnipool", "SellExecuted")
	buyIndex, hasBuy := coder.EventIndex("Omnipool", "BuyExecuted")

	var fallback *SwapResult
	for i, event := range events {
		var (
			result SwapResult
			err    error
		)
		switch {
		case hasRouter && event.Index == routerIndex:
			result, err = decodeRouterExecuted(event.Data)
		case (hasSell && event.Index == sellIndex) || (hasBuy && event.Index == buyIndex):
			result, err = decodeOmnipoolExecuted(event.Data)
		default:
			continue
		}
		if err != nil {
			return SwapResult{}, false, fmt.Errorf("%w: event %d: %v", models.ErrDataCorruption, i, err)
		}
		if result.AssetIn != assetIn || result.AssetOut != assetOut {
			continue
		}
		if event.Index == routerIndex && hasRouter {
			return result, true, nil
		}
		if fallback == nil {
			fallback = &result
		}
	}
	if fallback == nil {
		return SwapResult{}, false, nil
	}
	return *fallback, true, nil
}

// Router.Executed { asset_in, asset_out, amount_in, amount_out, .. }
func decodeRouterExecuted(data []byte) (SwapResult, error) {
	return decodeSwapFields(storage.NewReader(data))
}

// Omnipool.SellExecuted / BuyExecuted { who, asset_in, asset_out, amount_in, amount_out, .. }
func decodeOmnipoolExecuted(data []byte) (SwapResult, error) {
	r := storage.NewReader(data)
	if _, err := r.Bytes(32); err != nil {
		return SwapResult{}, fmt.Errorf("who: %w", err)
	}
	return decodeSwapFields(r)
}

func decodeSwapFields(r *storage.Reader) (SwapResult, error) {
	in, err := r.U32()
	if err != nil {
		return SwapResult{}, fmt.Errorf("asset in: %w", err)
	}
	out, err := r.U32()
	if err != nil {
		return SwapResult{}, fmt.Errorf("asset out: %w", err)
	}
	amountIn, err := r.U128()
	if err != nil {
		return SwapResult{}, fmt.Errorf("amount in: %w", err)
	}
	amountOut, err := r.U128()
	if err != nil {
		return SwapResult{}, fmt.Errorf("amount out: %w", err)
	}
	return SwapResult{
		AssetIn:   models.RemoteAssetID(in),
		AssetOut:  models.RemoteAssetID(out),
		AmountIn:  amountIn,
		AmountOut: amountOut,
	}, nil
}
