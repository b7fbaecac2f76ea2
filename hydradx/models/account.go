package models

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"golang.org/x/crypto/blake2b"
)

// HydraDxSS58Prefix is the address format registered for HydraDx.
const HydraDxSS58Prefix uint16 = 63

var ss58Preimage = []byte("SS58PRE")

// AccountID is a 32 byte substrate account id.
type AccountID [32]byte

// IsZero reports whether the account id is unset.
func (a AccountID) IsZero() bool {
	return a == AccountID{}
}

// Hex returns the 0x-prefixed hex form of the account id.
func (a AccountID) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a AccountID) String() string {
	return EncodeSS58(a, HydraDxSS58Prefix)
}

/*
ParseAccountID accepts either an SS58 address (any network prefix) or a 0x-prefixed
32 byte hex string.

Returns:
  - AccountID: the decoded account id
  - error: if the input is neither a valid address nor a valid hex account id
*/
func ParseAccountID(s string) (AccountID, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") {
		raw, err := hex.DecodeString(s[2:])
		if err != nil {
			return AccountID{}, fmt.Errorf("invalid hex account id: %w", err)
		}
		if len(raw) != 32 {
			return AccountID{}, fmt.Errorf("account id must be 32 bytes, got %d", len(raw))
		}
		var id AccountID
		copy(id[:], raw)
		return id, nil
	}
	id, _, err := DecodeSS58(s)
	return id, err
}

// DecodeSS58 decodes an SS58 address and returns the account id and the network prefix.
func DecodeSS58(address string) (AccountID, uint16, error) {
	raw := base58.Decode(address)
	if len(raw) == 0 {
		return AccountID{}, 0, errors.New("invalid base58 address")
	}

	var prefix uint16
	var prefixLen int
	switch {
	case raw[0] < 64:
		prefix = uint16(raw[0])
		prefixLen = 1
	case raw[0] < 128:
		if len(raw) < 2 {
			return AccountID{}, 0, errors.New("address too short")
		}
		lower := (raw[0] << 2) | (raw[1] >> 6)
		upper := raw[1] & 0x3f
		prefix = uint16(lower) | uint16(upper)<<8
		prefixLen = 2
	default:
		return AccountID{}, 0, fmt.Errorf("unsupported address type byte %d", raw[0])
	}

	if len(raw) != prefixLen+32+2 {
		return AccountID{}, 0, fmt.Errorf("unexpected address length %d", len(raw))
	}

	checksum := ss58Checksum(raw[:prefixLen+32])
	if !bytes.Equal(checksum[:2], raw[prefixLen+32:]) {
		return AccountID{}, 0, errors.New("address checksum mismatch")
	}

	var id AccountID
	copy(id[:], raw[prefixLen:prefixLen+32])
	return id, prefix, nil
}

// EncodeSS58 formats the account id as an SS58 address for the given network prefix.
func EncodeSS58(id AccountID, prefix uint16) string {
	var payload []byte
	if prefix < 64 {
		payload = append(payload, byte(prefix))
	} else {
		first := byte((prefix&0x00fc)>>2) | 0x40
		second := byte(prefix>>8) | byte((prefix&0x0003)<<6)
		payload = append(payload, first, second)
	}
	payload = append(payload, id[:]...)
	checksum := ss58Checksum(payload)
	payload = append(payload, checksum[:2]...)
	return base58.Encode(payload)
}

func ss58Checksum(data []byte) [64]byte {
	buf := make([]byte, 0, len(ss58Preimage)+len(data))
	buf = append(buf, ss58Preimage...)
	buf = append(buf, data...)
	return blake2b.Sum512(buf)
}

// MarshalText encodes the account id as a HydraDx address.
func (a AccountID) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText accepts any form ParseAccountID accepts.
func (a *AccountID) UnmarshalText(text []byte) error {
	id, err := ParseAccountID(string(text))
	if err != nil {
		return err
	}
	*a = id
	return nil
}
