package router

import "github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"

// Resolve returns every candidate route from in to out.
// Priority order: 1) direct Omnipool, 2) direct Stableswap, 3) Omnipool into Stableswap,
// 4) Stableswap into Omnipool. Duplicates are dropped, an empty result means the pair isn't tradable.
func (d *Directions) Resolve(in, out models.RemoteAssetID) []models.Route {
	if in == out {
		return nil
	}

	var candidates []models.Route
	if route := d.FindOmnipoolRoute(in, out); route != nil {
		candidates = append(candidates, *route)
	}
	candidates = append(candidates, d.FindStableswapRoutes(in, out)...)
	candidates = append(candidates, d.FindOmnipoolToStableswapRoutes(in, out)...)
	candidates = append(candidates, d.FindStableswapToOmnipoolRoutes(in, out)...)

	seen := make(map[string]bool, len(candidates))
	routes := make([]models.Route, 0, len(candidates))
	for _, route := range candidates {
		key := route.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		routes = append(routes, route)
	}

	routerLog.Debug().
		Uint32("assetIn", uint32(in)).
		Uint32("assetOut", uint32(out)).
		Int("candidates", len(routes)).
		Msg("Resolved routes")
	return routes
}
