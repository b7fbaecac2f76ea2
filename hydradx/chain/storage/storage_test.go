package storage_test

import (
	"encoding/hex"
	"math/big"
	"testing"

	"cosmossdk.io/math"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain/storage"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/zeebo/assert"
)

func TestPrefix_WellKnownKeys(t *testing.T) {
	assert.Equal(t, storage.SystemNumberKey().Hex(),
		"0x26aa394eea5630e07c48ae0c9558cef702a5c1b19ab7a04f536c519aca4983ac")
	assert.Equal(t, storage.Key(storage.Prefix("System", "Account")).Hex(),
		"0x26aa394eea5630e07c48ae0c9558cef7b99d880ec681799c0cf30e8886371da9")
	assert.Equal(t, storage.OmnipoolAssetsPrefix().Hex(),
		"0x97bd8c21bba825270fe6b1b8b3961ac3682a59d51ab9e48a8c8cc418ff9708d2")
}

func TestHashers(t *testing.T) {
	id := []byte{5, 0, 0, 0}
	assert.Equal(t, hex.EncodeToString(storage.Twox64Concat(id)), "39b9d2792f8bd4c305000000")

	one := []byte{1, 0, 0, 0}
	assert.Equal(t, hex.EncodeToString(storage.Blake2128Concat(one)), "d82c12285b5d4551f88e8f6e7eb52b8101000000")
}

func TestOmnipoolAssetKey_RoundTripsAssetID(t *testing.T) {
	key := storage.OmnipoolAssetKey(models.RemoteAssetID(1))
	assert.Equal(t, key.Hex(),
		"0x97bd8c21bba825270fe6b1b8b3961ac3682a59d51ab9e48a8c8cc418ff9708d2d82c12285b5d4551f88e8f6e7eb52b8101000000")

	id, err := storage.AssetIDFromMapKey(storage.OmnipoolAssetsPrefix(), key)
	assert.NoError(t, err)
	assert.Equal(t, id, models.RemoteAssetID(1))

	_, err = storage.AssetIDFromMapKey(storage.StableswapPoolsPrefix(), key)
	assert.Error(t, err)
}

func TestPalletAccounts(t *testing.T) {
	omnipool := storage.OmnipoolAccount()
	assert.Equal(t, omnipool.Hex(), "0x6d6f646c6f6d6e69706f6f6c0000000000000000000000000000000000000000")

	pool := storage.StableswapPoolAccount(models.RemoteAssetID(100))
	assert.Equal(t, pool.Hex(), "0x22bb00df7706a5965728b60f96406ee59ce675fd5fd10652a4ed6f618856ccfe")
}

func TestCompact(t *testing.T) {
	testCases := []struct {
		value string
		hex   string
	}{
		{"0", "00"},
		{"1", "04"},
		{"63", "fc"},
		{"64", "0101"},
		{"16383", "fdff"},
		{"16384", "02000100"},
		{"1073741823", "feffffff"},
		{"1073741824", "0300000040"},
		{"18446744073709551615", "13ffffffffffffffff"},
	}
	for _, tc := range testCases {
		t.Run(tc.value, func(t *testing.T) {
			v, _ := new(big.Int).SetString(tc.value, 10)
			encoded := storage.EncodeCompact(v)
			assert.Equal(t, hex.EncodeToString(encoded), tc.hex)

			decoded, err := storage.NewReader(encoded).Compact()
			assert.NoError(t, err)
			assert.Equal(t, decoded.String(), tc.value)
		})
	}
}

func TestU128(t *testing.T) {
	w := storage.NewWriter()
	big128, _ := math.NewIntFromString("340282366920938463463374607431768211455")
	assert.NoError(t, w.U128(math.NewInt(1_000_000)))
	assert.NoError(t, w.U128(big128))
	assert.Error(t, w.U128(big128.AddRaw(1)))
	assert.Error(t, w.U128(math.NewInt(-1)))

	r := storage.NewReader(w.Bytes())
	a, err := r.U128()
	assert.NoError(t, err)
	assert.Equal(t, a.String(), "1000000")
	b, err := r.U128()
	assert.NoError(t, err)
	assert.True(t, b.Equal(big128))
	assert.Equal(t, r.Remaining(), 0)
}

func encodeOmnipoolState(t *testing.T, hub, shares int64, tradable uint8) []byte {
	t.Helper()
	w := storage.NewWriter()
	for _, v := range []int64{hub, shares, shares, 0} {
		if err := w.U128(math.NewInt(v)); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	_ = w.U8(tradable)
	return w.Bytes()
}

func TestDecodeOmnipoolAssetState(t *testing.T) {
	state, err := storage.DecodeOmnipoolAssetState(encodeOmnipoolState(t, 1_000_000, 500, 0b1111))
	assert.NoError(t, err)
	assert.Equal(t, state.HubReserve.Int64(), int64(1_000_000))
	assert.Equal(t, state.Shares.Int64(), int64(500))
	assert.True(t, state.Tradable.Has(storage.TradableSell|storage.TradableBuy))

	_, err = storage.DecodeOmnipoolAssetState([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDecodeBalances(t *testing.T) {
	w := storage.NewWriter()
	for i := 0; i < 4; i++ {
		_ = w.U32(uint32(i))
	}
	_ = w.U128(math.NewInt(777))
	_ = w.U128(math.NewInt(1))
	system := w.Bytes()

	free, err := storage.DecodeBalance(system, 0, 0)
	assert.NoError(t, err)
	assert.Equal(t, free.Int64(), int64(777))

	tokens := storage.NewWriter()
	_ = tokens.U128(math.NewInt(42))
	free, err = storage.DecodeBalance(tokens.Bytes(), 5, 0)
	assert.NoError(t, err)
	assert.Equal(t, free.Int64(), int64(42))
}

func TestDecodeStableswapPoolInfo(t *testing.T) {
	w := storage.NewWriter()
	_ = w.CompactUint(3)
	for _, id := range []uint32{10, 21, 22} {
		_ = w.U32(id)
	}
	_ = w.U16(100)
	_ = w.U16(200)
	_ = w.U32(1000)
	_ = w.U32(2000)
	_ = w.U32(400)

	info, err := storage.DecodeStableswapPoolInfo(w.Bytes())
	assert.NoError(t, err)
	assert.Equal(t, info.Assets, []models.RemoteAssetID{10, 21, 22})
	assert.Equal(t, info.InitialAmplification, uint16(100))
	assert.Equal(t, info.FinalAmplification, uint16(200))
	assert.Equal(t, info.FinalBlock, uint32(2000))
	assert.Equal(t, info.Fee, uint32(400))
}

func TestDecodeAssetDecimals(t *testing.T) {
	build := func(decimals *uint8) []byte {
		w := storage.NewWriter()
		_ = w.U8(1)
		_ = w.ByteVec([]byte("Tether"))
		_ = w.U8(0)
		_ = w.U128(math.NewInt(10_000))
		_ = w.U8(1)
		_ = w.ByteVec([]byte("USDT"))
		if decimals == nil {
			_ = w.U8(0)
		} else {
			_ = w.U8(1)
			_ = w.U8(*decimals)
		}
		_ = w.U8(0)
		_ = w.U8(1)
		return w.Bytes()
	}

	six := uint8(6)
	decimals, ok, err := storage.DecodeAssetDecimals(build(&six))
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, decimals, uint8(6))

	_, ok, err = storage.DecodeAssetDecimals(build(nil))
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeDynamicFee(t *testing.T) {
	w := storage.NewWriter()
	_ = w.U32(2500)
	_ = w.U32(500)
	_ = w.U32(77)
	fee, err := storage.DecodeDynamicFee(w.Bytes())
	assert.NoError(t, err)
	assert.Equal(t, fee, storage.DynamicFee{AssetFee: 2500, ProtocolFee: 500, Timestamp: 77})
}
