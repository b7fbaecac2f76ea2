package router

import "github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"

// FindOmnipoolRoute returns the single hop Omnipool route, nil when the Omnipool doesn't list both assets
func (d *Directions) FindOmnipoolRoute(in, out models.RemoteAssetID) *models.Route {
	if !d.omnipoolReaches(in, out) {
		return nil
	}
	route := models.NewRoute(models.RouteComponent{AssetIn: in, AssetOut: out, Pool: models.Omnipool()})
	return &route
}

// FindStableswapRoutes returns a single hop route through every pool holding both assets.
// Either side may be the pool's own share asset.
func (d *Directions) FindStableswapRoutes(in, out models.RemoteAssetID) []models.Route {
	var routes []models.Route
	for _, pool := range d.PoolAssets.Sorted() {
		entersPool := pool == in || d.stableswapReaches(in, pool)
		leavesPool := pool == out || d.stableswapReaches(pool, out)
		if !entersPool || !leavesPool {
			continue
		}
		routes = append(routes, models.NewRoute(
			models.RouteComponent{AssetIn: in, AssetOut: out, Pool: models.Stableswap(pool)},
		))
	}
	return routes
}
