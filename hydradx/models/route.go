package models

import (
	"errors"
	"fmt"
	"strings"
)

// PoolType enumerates the liquidity primitives a route component can execute on.
type PoolType string

const (
	PoolTypeOmnipool   PoolType = "omnipool"
	PoolTypeStableswap PoolType = "stableswap"
)

// PoolKind is the tagged union {Omnipool, Stableswap(poolAsset)}.
// PoolAsset is only meaningful for Stableswap pools, where it is the pool's share asset id.
type PoolKind struct {
	Type      PoolType      `json:"type"`
	PoolAsset RemoteAssetID `json:"pool_asset,omitempty"`
}

// Omnipool returns the Omnipool pool kind.
func Omnipool() PoolKind {
	return PoolKind{Type: PoolTypeOmnipool}
}

// Stableswap returns the pool kind of the Stableswap pool with the given share asset.
func Stableswap(poolAsset RemoteAssetID) PoolKind {
	return PoolKind{Type: PoolTypeStableswap, PoolAsset: poolAsset}
}

func (k PoolKind) IsOmnipool() bool {
	return k.Type == PoolTypeOmnipool
}

func (k PoolKind) IsStableswap() bool {
	return k.Type == PoolTypeStableswap
}

func (k PoolKind) String() string {
	if k.IsStableswap() {
		return fmt.Sprintf("stableswap(%d)", k.PoolAsset)
	}
	return string(k.Type)
}

// RouteComponent is one hop of a route.
type RouteComponent struct {
	AssetIn  RemoteAssetID `json:"asset_in"`
	AssetOut RemoteAssetID `json:"asset_out"`
	Pool     PoolKind      `json:"pool"`
}

func (c RouteComponent) String() string {
	return fmt.Sprintf("%s[%d->%d]", c.Pool, c.AssetIn, c.AssetOut)
}

// Route is an ordered list of hops where each hop consumes the previous hop's output asset.
type Route struct {
	Components []RouteComponent `json:"components"`
}

// NewRoute builds a route from the given hops.
func NewRoute(components ...RouteComponent) Route {
	return Route{Components: components}
}

var ErrEmptyRoute = errors.New("route has no components")

// Validate checks the adjacency invariant.
func (r Route) Validate() error {
	if len(r.Components) == 0 {
		return ErrEmptyRoute
	}
	for i := 1; i < len(r.Components); i++ {
		prev, next := r.Components[i-1], r.Components[i]
		if prev.AssetOut != next.AssetIn {
			return fmt.Errorf("route hop %d outputs %d but hop %d consumes %d", i-1, prev.AssetOut, i, next.AssetIn)
		}
	}
	return nil
}

// AssetIn returns the first hop's input asset.
func (r Route) AssetIn() RemoteAssetID {
	if len(r.Components) == 0 {
		return 0
	}
	return r.Components[0].AssetIn
}

// AssetOut returns the last hop's output asset.
func (r Route) AssetOut() RemoteAssetID {
	if len(r.Components) == 0 {
		return 0
	}
	return r.Components[len(r.Components)-1].AssetOut
}

// IsSingleOmnipool reports whether the route is one Omnipool hop.
func (r Route) IsSingleOmnipool() bool {
	return len(r.Components) == 1 && r.Components[0].Pool.IsOmnipool()
}

// Key is a stable textual identity, used to de-duplicate candidates.
func (r Route) Key() string {
	parts := make([]string, len(r.Components))
	for i, c := range r.Components {
		parts[i] = c.String()
	}
	return strings.Join(parts, "|")
}

func (r Route) String() string {
	return r.Key()
}
