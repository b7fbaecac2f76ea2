package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
)

func u32LE(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

func mustKey(pallet, item string, hashers []Hasher, parts ...[]byte) Key {
	key, err := NewKey(pallet, item, hashers, parts...)
	if err != nil {
		panic(err)
	}
	return key
}

// OmnipoolAccount is the pallet account holding every Omnipool reserve.
func OmnipoolAccount() models.AccountID {
	var id models.AccountID
	copy(id[:], "modlomnipool")
	return id
}

// StableswapPoolAccount is the account holding the reserves of the pool with the given share asset.
func StableswapPoolAccount(pool models.RemoteAssetID) models.AccountID {
	var id models.AccountID
	copy(id[:], Blake2256(append([]byte("sts"), u32LE(uint32(pool))...)))
	return id
}

func OmnipoolAssetsPrefix() Key {
	return Prefix("Omnipool", "Assets")
}

func OmnipoolAssetKey(asset models.RemoteAssetID) Key {
	return mustKey("Omnipool", "Assets", []Hasher{Blake2128Concat}, u32LE(uint32(asset)))
}

func SystemAccountKey(account models.AccountID) Key {
	return mustKey("System", "Account", []Hasher{Blake2128Concat}, account[:])
}

func SystemNumberKey() Key {
	return Prefix("System", "Number")
}

func TokensAccountKey(account models.AccountID, asset models.RemoteAssetID) Key {
	return mustKey("Tokens", "Accounts", []Hasher{Blake2128Concat, Twox64Concat}, account[:], u32LE(uint32(asset)))
}

func TokensTotalIssuanceKey(asset models.RemoteAssetID) Key {
	return mustKey("Tokens", "TotalIssuance", []Hasher{Twox64Concat}, u32LE(uint32(asset)))
}

func DynamicFeeKey(asset models.RemoteAssetID) Key {
	return mustKey("DynamicFees", "AssetFee", []Hasher{Twox64Concat}, u32LE(uint32(asset)))
}

func StableswapPoolsPrefix() Key {
	return Prefix("Stableswap", "Pools")
}

func StableswapPoolKey(pool models.RemoteAssetID) Key {
	return mustKey("Stableswap", "Pools", []Hasher{Blake2128Concat}, u32LE(uint32(pool)))
}

func AssetTradabilityKey(pool, asset models.RemoteAssetID) Key {
	return mustKey("Stableswap", "AssetTradability", []Hasher{Blake2128Concat, Blake2128Concat},
		u32LE(uint32(pool)), u32LE(uint32(asset)))
}

func AssetRegistryKey(asset models.RemoteAssetID) Key {
	return mustKey("AssetRegistry", "Assets", []Hasher{Twox64Concat}, u32LE(uint32(asset)))
}

func AccountCurrencyKey(account models.AccountID) Key {
	return mustKey("MultiTransactionPayment", "AccountCurrencyMap", []Hasher{Blake2128Concat}, account[:])
}

func AcceptedCurrencyKey(asset models.RemoteAssetID) Key {
	return mustKey("MultiTransactionPayment", "AcceptedCurrencies", []Hasher{Twox64Concat}, u32LE(uint32(asset)))
}

func LinkedAccountKey(account models.AccountID) Key {
	return mustKey("Referrals", "LinkedAccounts", []Hasher{Blake2128Concat}, account[:])
}

// BalanceKey returns where the free balance of asset lives: the system account for the native asset,
// the tokens pallet otherwise.
func BalanceKey(account models.AccountID, asset, native models.RemoteAssetID) Key {
	if asset == native {
		return SystemAccountKey(account)
	}
	return TokensAccountKey(account, asset)
}

// AssetIDFromMapKey extracts the u32 key of a single key concat-hashed map (the last four bytes).
func AssetIDFromMapKey(prefix, key Key) (models.RemoteAssetID, error) {
	if !bytes.HasPrefix(key, prefix) || len(key) < len(prefix)+4 {
		return 0, fmt.Errorf("key %s is not under prefix %s", key.Hex(), prefix.Hex())
	}
	return models.RemoteAssetID(binary.LittleEndian.Uint32(key[len(key)-4:])), nil
}
