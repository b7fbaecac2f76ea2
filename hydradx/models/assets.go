package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// RemoteAssetID is the identifier of an asset inside the HydraDx runtime (asset registry id).
type RemoteAssetID uint32

func (id RemoteAssetID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ChainAssetID identifies an asset the way the wallet does: chain plus local asset index.
type ChainAssetID struct {
	ChainID string `json:"chain_id" toml:"chain_id"`
	AssetID uint32 `json:"asset_id" toml:"asset_id"`
}

func (c ChainAssetID) String() string {
	return fmt.Sprintf("%s:%d", c.ChainID, c.AssetID)
}

// ParseChainAssetID parses the "<chain id>:<asset id>" form produced by String.
func ParseChainAssetID(s string) (ChainAssetID, error) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return ChainAssetID{}, fmt.Errorf("invalid chain asset id %q", s)
	}
	assetID, err := strconv.ParseUint(s[idx+1:], 10, 32)
	if err != nil {
		return ChainAssetID{}, fmt.Errorf("invalid asset index in %q: %w", s, err)
	}
	return ChainAssetID{ChainID: s[:idx], AssetID: uint32(assetID)}, nil
}

// AssetRef pairs a local asset with its remote numeric identifier.
// The pair is derived per runtime spec version and stays stable until the chain metadata changes.
type AssetRef struct {
	Local    ChainAssetID  `json:"local"`
	Remote   RemoteAssetID `json:"remote_id"`
	Symbol   string        `json:"symbol"`
	Decimals uint8         `json:"decimals"`
}

// SwapPair is an ordered pair of remote asset ids. It is comparable and used as a cache key.
type SwapPair struct {
	AssetIn  RemoteAssetID
	AssetOut RemoteAssetID
}

func (p SwapPair) String() string {
	return fmt.Sprintf("%d->%d", p.AssetIn, p.AssetOut)
}

// Reversed returns the pair with input and output swapped.
func (p SwapPair) Reversed() SwapPair {
	return SwapPair{AssetIn: p.AssetOut, AssetOut: p.AssetIn}
}

// AssetSet is a set of remote asset ids.
type AssetSet map[RemoteAssetID]struct{}

// NewAssetSet creates a set holding the given ids.
func NewAssetSet(ids ...RemoteAssetID) AssetSet {
	set := make(AssetSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Add inserts id into the set.
func (s AssetSet) Add(id RemoteAssetID) {
	s[id] = struct{}{}
}

// Contains reports whether id is in the set. A nil set contains nothing.
func (s AssetSet) Contains(id RemoteAssetID) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in ascending order so that iteration is deterministic.
func (s AssetSet) Sorted() []RemoteAssetID {
	ids := make([]RemoteAssetID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Direction tells which side of a swap is fixed by the caller.
type Direction string

const (
	// Sell fixes the input amount and solves for the output.
	Sell Direction = "sell"
	// Buy fixes the output amount and solves for the input.
	Buy Direction = "buy"
)

// ParseDirection accepts "sell" or "buy" in any letter case.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case Sell:
		return Sell, nil
	case Buy:
		return Buy, nil
	default:
		return "", fmt.Errorf("unknown swap direction %q", s)
	}
}
