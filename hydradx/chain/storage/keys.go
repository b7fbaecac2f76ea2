package storage

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
)

// Hasher is a storage map key hasher.
type Hasher func(data []byte) []byte

// Twox128 is the 128 bit xxhash used for pallet and item prefixes.
func Twox128(data []byte) []byte {
	out := make([]byte, 0, 16)
	for seed := uint64(0); seed < 2; seed++ {
		h := xxhash.NewWithSeed(seed)
		_, _ = h.Write(data)
		out = binary.LittleEndian.AppendUint64(out, h.Sum64())
	}
	return out
}

// Twox64Concat hashes with 64 bit xxhash and appends the raw key.
func Twox64Concat(data []byte) []byte {
	out := binary.LittleEndian.AppendUint64(make([]byte, 0, 8+len(data)), xxhash.Sum64(data))
	return append(out, data...)
}

// Blake2128Concat hashes with 128 bit blake2b and appends the raw key.
func Blake2128Concat(data []byte) []byte {
	h, _ := blake2b.New(16, nil)
	_, _ = h.Write(data)
	return append(h.Sum(nil), data...)
}

// Blake2256 is the 256 bit blake2b digest.
func Blake2256(data []byte) []byte {
	sum := blake2b.Sum256(data)
	return sum[:]
}

// Prefix returns twox128(pallet) ++ twox128(item).
func Prefix(pallet, item string) []byte {
	return append(Twox128([]byte(pallet)), Twox128([]byte(item))...)
}

// Key is a raw storage key.
type Key []byte

// NewKey builds a storage map key. parts and hashers are paired by position.
func NewKey(pallet, item string, hashers []Hasher, parts ...[]byte) (Key, error) {
	if len(hashers) != len(parts) {
		return nil, fmt.Errorf("storage %s.%s: %d hashers for %d key parts", pallet, item, len(hashers), len(parts))
	}
	key := Prefix(pallet, item)
	for i, part := range parts {
		key = append(key, hashers[i](part)...)
	}
	return key, nil
}

func (k Key) Hex() string {
	return "0x" + hex.EncodeToString(k)
}

// ParseKey decodes a 0x-prefixed hex storage key.
func ParseKey(s string) (Key, error) {
	raw, err := DecodeHex(s)
	if err != nil {
		return nil, err
	}
	return Key(raw), nil
}

// DecodeHex decodes a hex string with or without the 0x prefix.
func DecodeHex(s string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return raw, nil
}

// EncodeHex formats bytes as a 0x-prefixed hex string.
func EncodeHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
