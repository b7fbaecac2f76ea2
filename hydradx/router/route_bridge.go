package router

import "github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"

// FindOmnipoolToStableswapRoutes trades into a pool's share asset on the Omnipool, then out of
// the pool on Stableswap
func (d *Directions) FindOmnipoolToStableswapRoutes(in, out models.RemoteAssetID) []models.Route {
	if !d.isStableswapEndpoint(out) {
		return nil
	}
	var routes []models.Route
	for _, pool := range d.PoolAssets.Sorted() {
		if pool == in || pool == out {
			continue
		}
		if !d.omnipoolReaches(in, pool) || !d.stableswapReaches(pool, out) {
			continue
		}
		routes = append(routes, models.NewRoute(
			models.RouteComponent{AssetIn: in, AssetOut: pool, Pool: models.Omnipool()},
			models.RouteComponent{AssetIn: pool, AssetOut: out, Pool: models.Stableswap(pool)},
		))
	}
	return routes
}

// FindStableswapToOmnipoolRoutes trades into a pool's share asset on Stableswap, then sells the
// share asset on the Omnipool
func (d *Directions) FindStableswapToOmnipoolRoutes(in, out models.RemoteAssetID) []models.Route {
	var routes []models.Route
	for _, pool := range d.PoolAssets.Sorted() {
		if pool == in || pool == out {
			continue
		}
		if !d.stableswapReaches(in, pool) || !d.omnipoolReaches(pool, out) {
			continue
		}
		routes = append(routes, models.NewRoute(
			models.RouteComponent{AssetIn: in, AssetOut: pool, Pool: models.Stableswap(pool)},
			models.RouteComponent{AssetIn: pool, AssetOut: out, Pool: models.Omnipool()},
		))
	}
	return routes
}
