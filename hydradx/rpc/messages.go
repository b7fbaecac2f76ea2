package rpc

// Wire messages of hydradx.v1.SwapService. Assets are addressed by their local wallet id on the
// configured chain, amounts are base 10 integer strings in the asset's smallest unit.

type AssetInfo struct {
	LocalID  uint32 `json:"local_id"`
	RemoteID uint32 `json:"remote_id"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type AvailableDirectionsRequest struct{}

type AssetDirections struct {
	Asset   AssetInfo   `json:"asset"`
	Targets []AssetInfo `json:"targets"`
}

type AvailableDirectionsResponse struct {
	Directions []AssetDirections `json:"directions"`
}

type QuoteRequest struct {
	AssetIn   uint32 `json:"asset_in"`
	AssetOut  uint32 `json:"asset_out"`
	Amount    string `json:"amount"`
	Direction string `json:"direction"`
}

// RouteHop is one route component, assets are remote ids
type RouteHop struct {
	Pool      string `json:"pool"`
	PoolAsset uint32 `json:"pool_asset,omitempty"`
	AssetIn   uint32 `json:"asset_in"`
	AssetOut  uint32 `json:"asset_out"`
}

type QuoteResponse struct {
	AmountIn  string     `json:"amount_in"`
	AmountOut string     `json:"amount_out"`
	Route     []RouteHop `json:"route"`
}

type CanPayFeeRequest struct {
	Asset uint32 `json:"asset"`
}

type CanPayFeeResponse struct {
	CanPay bool `json:"can_pay"`
}

// SwapArgs are the priced swap a fee estimation or build is for, usually copied from a QuoteResponse
type SwapArgs struct {
	AssetIn   uint32     `json:"asset_in"`
	AssetOut  uint32     `json:"asset_out"`
	AmountIn  string     `json:"amount_in"`
	AmountOut string     `json:"amount_out"`
	Direction string     `json:"direction"`
	Slippage  string     `json:"slippage,omitempty"`
	Route     []RouteHop `json:"route,omitempty"`
}

type CalculateFeeRequest struct {
	// SS58 address or 0x hex account id
	Account  string   `json:"account"`
	Swap     SwapArgs `json:"swap"`
	FeeAsset uint32   `json:"fee_asset"`
}

type CalculateFeeResponse struct {
	TotalFee         string `json:"total_fee"`
	TotalFeeNative   string `json:"total_fee_native"`
	NetworkFee       string `json:"network_fee"`
	NetworkFeeNative string `json:"network_fee_native"`
	Payer            string `json:"payer"`
}

type BuildSwapRequest = CalculateFeeRequest

// BuildSwapResponse carries hex encoded call data, an external signer submits FeeCurrencyCall first
// when it is set and waits for its inclusion before submitting SwapCall
type BuildSwapResponse struct {
	SpecVersion     uint32 `json:"spec_version"`
	FeeCurrencyCall string `json:"fee_currency_call,omitempty"`
	SwapCall        string `json:"swap_call"`
	Limit           string `json:"limit"`
}
