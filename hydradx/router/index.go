package router

import (
	"fmt"
	"os"
	"time"

	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/rs/zerolog"
)

var routerLog zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	routerLog = zerolog.New(out).With().Timestamp().Str("component", "router").Logger()
}

/*
Directions is the reachability index the resolver works on.

Omnipool maps every listed asset to all other listed assets, Stableswap maps every pool member
(share asset included) to the other members of the pools it belongs to. PoolAssets holds the share
assets of all Stableswap pools.
*/
type Directions struct {
	Omnipool   map[models.RemoteAssetID]models.AssetSet
	Stableswap map[models.RemoteAssetID]models.AssetSet
	PoolAssets models.AssetSet
}

// NewDirections builds the complete graphs of the Omnipool and of every Stableswap pool
func NewDirections(omnipoolAssets []models.RemoteAssetID, pools map[models.RemoteAssetID][]models.RemoteAssetID) *Directions {
	d := &Directions{
		Omnipool:   make(map[models.RemoteAssetID]models.AssetSet),
		Stableswap: make(map[models.RemoteAssetID]models.AssetSet),
		PoolAssets: models.NewAssetSet(),
	}
	connectAll(d.Omnipool, omnipoolAssets)
	for poolAsset, assets := range pools {
		d.PoolAssets.Add(poolAsset)
		members := make([]models.RemoteAssetID, 0, len(assets)+1)
		members = append(members, poolAsset)
		members = append(members, assets...)
		connectAll(d.Stableswap, members)
	}
	return d
}

func connectAll(graph map[models.RemoteAssetID]models.AssetSet, assets []models.RemoteAssetID) {
	for _, from := range assets {
		for _, to := range assets {
			if from == to {
				continue
			}
			if graph[from] == nil {
				graph[from] = models.NewAssetSet()
			}
			graph[from].Add(to)
		}
	}
}

// Available is the union of both direction maps
func (d *Directions) Available() map[models.RemoteAssetID]models.AssetSet {
	union := make(map[models.RemoteAssetID]models.AssetSet, len(d.Omnipool)+len(d.Stableswap))
	for _, graph := range []map[models.RemoteAssetID]models.AssetSet{d.Omnipool, d.Stableswap} {
		for from, targets := range graph {
			if union[from] == nil {
				union[from] = models.NewAssetSet()
			}
			for to := range targets {
				union[from].Add(to)
			}
		}
	}
	return union
}

// Validate rejects an index that lists no asset at all
func (d *Directions) Validate() error {
	if d == nil || (len(d.Omnipool) == 0 && len(d.Stableswap) == 0) {
		return fmt.Errorf("no tradable assets indexed")
	}
	return nil
}

func (d *Directions) omnipoolReaches(from, to models.RemoteAssetID) bool {
	return d.Omnipool[from].Contains(to)
}

func (d *Directions) stableswapReaches(from, to models.RemoteAssetID) bool {
	return d.Stableswap[from].Contains(to)
}

func (d *Directions) isStableswapEndpoint(asset models.RemoteAssetID) bool {
	_, ok := d.Stableswap[asset]
	return ok
}
