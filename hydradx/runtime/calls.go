package runtime

import (
	"fmt"

	"cosmossdk.io/math"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain/storage"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
)

// Call is an encoded runtime call: pallet index, call index and SCALE arguments.
type Call struct {
	Name  string
	Index [2]byte
	Args  []byte
}

// Encode returns index ++ args
func (c Call) Encode() []byte {
	out := make([]byte, 0, 2+len(c.Args))
	out = append(out, c.Index[:]...)
	return append(out, c.Args...)
}

func (c *Coder) newCall(pallet, call string, encode func(w *storage.Writer) error) (Call, error) {
	index, err := c.CallIndex(pallet, call)
	if err != nil {
		return Call{}, err
	}
	w := storage.NewWriter()
	if err := encode(w); err != nil {
		return Call{}, fmt.Errorf("failed to encode %s.%s: %w", pallet, call, err)
	}
	return Call{Name: pallet + "." + call, Index: index, Args: w.Bytes()}, nil
}

// SetCurrency builds MultiTransactionPayment.set_currency(currency)
func (c *Coder) SetCurrency(asset models.RemoteAssetID) (Call, error) {
	return c.newCall("MultiTransactionPayment", "set_currency", func(w *storage.Writer) error {
		return w.U32(uint32(asset))
	})
}

// LinkCode builds Referrals.link_code(code)
func (c *Coder) LinkCode(code string) (Call, error) {
	return c.newCall("Referrals", "link_code", func(w *storage.Writer) error {
		return w.ByteVec([]byte(code))
	})
}

// OmnipoolSell builds Omnipool.sell(asset_in, asset_out, amount, min_buy_amount)
func (c *Coder) OmnipoolSell(assetIn, assetOut models.RemoteAssetID, amount, minBuy math.Int) (Call, error) {
	return c.newCall("Omnipool", "sell", func(w *storage.Writer) error {
		return writeAll(w, u32(assetIn), u32(assetOut), u128(amount), u128(minBuy))
	})
}

// OmnipoolBuy builds Omnipool.buy(asset_out, asset_in, amount, max_sell_amount)
func (c *Coder) OmnipoolBuy(assetOut, assetIn models.RemoteAssetID, amount, maxSell math.Int) (Call, error) {
	return c.newCall("Omnipool", "buy", func(w *storage.Writer) error {
		return writeAll(w, u32(assetOut), u32(assetIn), u128(amount), u128(maxSell))
	})
}

// RouterSell builds Router.sell(asset_in, asset_out, amount_in, min_amount_out, route)
func (c *Coder) RouterSell(assetIn, assetOut models.RemoteAssetID, amountIn, minAmountOut math.Int, route models.Route) (Call, error) {
	return c.newCall("Router", "sell", func(w *storage.Writer) error {
		if err := writeAll(w, u32(assetIn), u32(assetOut), u128(amountIn), u128(minAmountOut)); err != nil {
			return err
		}
		return c.writeRoute(w, route)
	})
}

// RouterBuy builds Router.buy(asset_in, asset_out, amount_out, max_amount_in, route)
func (c *Coder) RouterBuy(assetIn, assetOut models.RemoteAssetID, amountOut, maxAmountIn math.Int, route models.Route) (Call, error) {
	return c.newCall("Router", "buy", func(w *storage.Writer) error {
		if err := writeAll(w, u32(assetIn), u32(assetOut), u128(amountOut), u128(maxAmountIn)); err != nil {
			return err
		}
		return c.writeRoute(w, route)
	})
}

// BatchAll builds Utility.batch_all(calls)
func (c *Coder) BatchAll(calls ...Call) (Call, error) {
	return c.newCall("Utility", "batch_all", func(w *storage.Writer) error {
		if err := w.CompactUint(uint64(len(calls))); err != nil {
			return err
		}
		for _, call := range calls {
			if err := w.Raw(call.Encode()); err != nil {
				return err
			}
		}
		return nil
	})
}

// writeRoute encodes Vec<Trade{pool, asset_in, asset_out}>
func (c *Coder) writeRoute(w *storage.Writer, route models.Route) error {
	if err := route.Validate(); err != nil {
		return err
	}
	if err := w.CompactUint(uint64(len(route.Components))); err != nil {
		return err
	}
	for _, hop := range route.Components {
		code, err := c.PoolTypeCode(hop.Pool.Type)
		if err != nil {
			return err
		}
		if err := w.U8(code); err != nil {
			return err
		}
		if hop.Pool.IsStableswap() {
			if err := w.U32(uint32(hop.Pool.PoolAsset)); err != nil {
				return err
			}
		}
		if err := writeAll(w, u32(hop.AssetIn), u32(hop.AssetOut)); err != nil {
			return err
		}
	}
	return nil
}

type field func(w *storage.Writer) error

func u32(v models.RemoteAssetID) field {
	return func(w *storage.Writer) error { return w.U32(uint32(v)) }
}

func u128(v math.Int) field {
	return func(w *storage.Writer) error { return w.U128(v) }
}

func writeAll(w *storage.Writer, fields ...field) error {
	for _, f := range fields {
		if err := f(w); err != nil {
			return err
		}
	}
	return nil
}
