package storage

import (
	"fmt"

	"cosmossdk.io/math"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
)

// Tradability flags of Omnipool and Stableswap assets.
type Tradability uint8

const (
	TradableSell            Tradability = 1 << 0
	TradableBuy             Tradability = 1 << 1
	TradableAddLiquidity    Tradability = 1 << 2
	TradableRemoveLiquidity Tradability = 1 << 3

	// TradableAll is the storage default of an asset without an explicit entry.
	TradableAll = TradableSell | TradableBuy | TradableAddLiquidity | TradableRemoveLiquidity
)

func (t Tradability) Has(flag Tradability) bool {
	return t&flag == flag
}

// OmnipoolAssetState is the Omnipool.Assets entry of one asset.
type OmnipoolAssetState struct {
	HubReserve     math.Int
	Shares         math.Int
	ProtocolShares math.Int
	Cap            math.Int
	Tradable       Tradability
}

func DecodeOmnipoolAssetState(data []byte) (OmnipoolAssetState, error) {
	r := NewReader(data)
	var state OmnipoolAssetState
	var err error
	for _, field := range []*math.Int{&state.HubReserve, &state.Shares, &state.ProtocolShares, &state.Cap} {
		if *field, err = r.U128(); err != nil {
			return OmnipoolAssetState{}, fmt.Errorf("omnipool asset state: %w", err)
		}
	}
	flags, err := r.U8()
	if err != nil {
		return OmnipoolAssetState{}, fmt.Errorf("omnipool asset tradability: %w", err)
	}
	state.Tradable = Tradability(flags)
	return state, nil
}

// DecodeSystemFreeBalance reads data.free out of a System.Account entry.
func DecodeSystemFreeBalance(data []byte) (math.Int, error) {
	r := NewReader(data)
	// nonce, consumers, providers, sufficients
	if _, err := r.Bytes(16); err != nil {
		return math.Int{}, fmt.Errorf("system account header: %w", err)
	}
	free, err := r.U128()
	if err != nil {
		return math.Int{}, fmt.Errorf("system account free: %w", err)
	}
	return free, nil
}

// DecodeTokensFreeBalance reads free out of a Tokens.Accounts entry.
func DecodeTokensFreeBalance(data []byte) (math.Int, error) {
	free, err := NewReader(data).U128()
	if err != nil {
		return math.Int{}, fmt.Errorf("tokens account free: %w", err)
	}
	return free, nil
}

// DecodeBalance picks the system or tokens layout the same way BalanceKey picks the key.
func DecodeBalance(data []byte, asset, native models.RemoteAssetID) (math.Int, error) {
	if asset == native {
		return DecodeSystemFreeBalance(data)
	}
	return DecodeTokensFreeBalance(data)
}

func DecodeU128(data []byte) (math.Int, error) {
	return NewReader(data).U128()
}

func DecodeU32(data []byte) (uint32, error) {
	return NewReader(data).U32()
}

// DynamicFee is a DynamicFees.AssetFee entry. Fees are Permill.
type DynamicFee struct {
	AssetFee    uint32
	ProtocolFee uint32
	Timestamp   uint32
}

func DecodeDynamicFee(data []byte) (DynamicFee, error) {
	r := NewReader(data)
	var fee DynamicFee
	var err error
	for _, field := range []*uint32{&fee.AssetFee, &fee.ProtocolFee, &fee.Timestamp} {
		if *field, err = r.U32(); err != nil {
			return DynamicFee{}, fmt.Errorf("dynamic fee: %w", err)
		}
	}
	return fee, nil
}

// StableswapPoolInfo is a Stableswap.Pools entry. Fee is Permill.
type StableswapPoolInfo struct {
	Assets               []models.RemoteAssetID
	InitialAmplification uint16
	FinalAmplification   uint16
	InitialBlock         uint32
	FinalBlock           uint32
	Fee                  uint32
}

func DecodeStableswapPoolInfo(data []byte) (StableswapPoolInfo, error) {
	r := NewReader(data)
	n, err := r.CompactLen()
	if err != nil {
		return StableswapPoolInfo{}, fmt.Errorf("pool assets length: %w", err)
	}
	info := StableswapPoolInfo{Assets: make([]models.RemoteAssetID, n)}
	for i := range info.Assets {
		id, err := r.U32()
		if err != nil {
			return StableswapPoolInfo{}, fmt.Errorf("pool asset %d: %w", i, err)
		}
		info.Assets[i] = models.RemoteAssetID(id)
	}
	if info.InitialAmplification, err = r.U16(); err != nil {
		return StableswapPoolInfo{}, fmt.Errorf("initial amplification: %w", err)
	}
	if info.FinalAmplification, err = r.U16(); err != nil {
		return StableswapPoolInfo{}, fmt.Errorf("final amplification: %w", err)
	}
	if info.InitialBlock, err = r.U32(); err != nil {
		return StableswapPoolInfo{}, fmt.Errorf("initial block: %w", err)
	}
	if info.FinalBlock, err = r.U32(); err != nil {
		return StableswapPoolInfo{}, fmt.Errorf("final block: %w", err)
	}
	if info.Fee, err = r.U32(); err != nil {
		return StableswapPoolInfo{}, fmt.Errorf("pool fee: %w", err)
	}
	return info, nil
}

func DecodeTradability(data []byte) (Tradability, error) {
	flags, err := NewReader(data).U8()
	if err != nil {
		return 0, fmt.Errorf("tradability: %w", err)
	}
	return Tradability(flags), nil
}

// DecodeAssetDecimals walks an AssetRegistry.Assets entry up to its decimals field.
// ok is false when the asset has no decimals set.
func DecodeAssetDecimals(data []byte) (decimals uint8, ok bool, err error) {
	r := NewReader(data)
	// name
	if err := skipOptionalByteVec(r); err != nil {
		return 0, false, fmt.Errorf("asset name: %w", err)
	}
	// asset type, unit variants only
	if _, err := r.U8(); err != nil {
		return 0, false, fmt.Errorf("asset type: %w", err)
	}
	// existential deposit
	if _, err := r.U128(); err != nil {
		return 0, false, fmt.Errorf("existential deposit: %w", err)
	}
	// symbol
	if err := skipOptionalByteVec(r); err != nil {
		return 0, false, fmt.Errorf("asset symbol: %w", err)
	}
	some, err := r.Option()
	if err != nil {
		return 0, false, fmt.Errorf("asset decimals: %w", err)
	}
	if !some {
		return 0, false, nil
	}
	decimals, err = r.U8()
	if err != nil {
		return 0, false, fmt.Errorf("asset decimals: %w", err)
	}
	return decimals, true, nil
}

func skipOptionalByteVec(r *Reader) error {
	some, err := r.Option()
	if err != nil || !some {
		return err
	}
	_, err = r.ByteVec()
	return err
}

func DecodeAccountID(data []byte) (models.AccountID, error) {
	raw, err := NewReader(data).Bytes(32)
	if err != nil {
		return models.AccountID{}, fmt.Errorf("account id: %w", err)
	}
	var id models.AccountID
	copy(id[:], raw)
	return id, nil
}
