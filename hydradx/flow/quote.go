package flow

import (
	"context"
	"fmt"
	"maps"
	"time"

	"cosmossdk.io/math"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/metrics"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/quote"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/router"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/runtime"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/state"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/task"
)

// requiredState lists the distinct Omnipool pairs and Stableswap pool keys the routes read
func requiredState(routes []models.Route) ([]models.SwapPair, []state.PoolKey) {
	var pairs []models.SwapPair
	var pools []state.PoolKey
	seenPairs := make(map[models.SwapPair]bool)
	seenPools := make(map[state.PoolKey]bool)
	for _, route := range routes {
		for _, component := range route.Components {
			switch component.Pool.Type {
			case models.PoolTypeOmnipool:
				pair := models.SwapPair{AssetIn: component.AssetIn, AssetOut: component.AssetOut}
				if !seenPairs[pair] {
					seenPairs[pair] = true
					pairs = append(pairs, pair)
				}
			case models.PoolTypeStableswap:
				key := state.PoolKeyOf(component)
				if !seenPools[key] {
					seenPools[key] = true
					pools = append(pools, key)
				}
			}
		}
	}
	return pairs, pools
}

func (s *State) quote(ctx context.Context, args models.QuoteArgs) (models.Quote, error) {
	started := time.Now()
	result, candidates, err := s.bestQuote(ctx, args)
	metrics.ObserveQuote(args.Direction, started, candidates, err)
	if err != nil {
		return models.Quote{}, err
	}
	log.Debug().
		Str("pair", args.Pair().String()).
		Str("direction", string(args.Direction)).
		Str("amount_in", result.AmountIn.String()).
		Str("amount_out", result.AmountOut.String()).
		Str("route", result.Route.String()).
		Dur("duration", time.Since(started)).
		Msg("Quoted")
	return result, nil
}

/*
bestQuote resolves the candidate routes of args, syncs every pool they touch in parallel and prices
them on the synced snapshots.

Returns:
  - models.Quote: the best candidate
  - int: number of candidate routes
  - error: ErrNoRoute when the pair isn't tradable, sync errors, or the last candidate error when none priced
*/
func (s *State) bestQuote(ctx context.Context, args models.QuoteArgs) (models.Quote, int, error) {
	directions, err := s.Directions(ctx)
	if err != nil {
		return models.Quote{}, 0, err
	}
	routes := directions.Resolve(args.AssetIn.Remote, args.AssetOut.Remote)
	if len(routes) == 0 {
		return models.Quote{}, 0, fmt.Errorf("%w: %s", models.ErrNoRoute, args.Pair())
	}

	pairs, pools := requiredState(routes)
	s.omnipool.Use(pairs...)
	s.stableswap.Use(pools...)

	var releases []func()
	defer func() {
		for _, release := range releases {
			release()
		}
	}()

	g := task.NewGraph(s.deps.Workers)
	coder := task.Add(g, "coder", s.deps.Coders.Coder)
	deps := []task.Dep{coder}

	pairStates := make([]*task.Future[state.OmnipoolPairState], 0, len(pairs))
	for _, pair := range pairs {
		svc, release := s.omnipool.Acquire(pair)
		releases = append(releases, release)
		f := task.Add(g, "omnipool "+pair.String(), svc.Fetch)
		pairStates = append(pairStates, f)
		deps = append(deps, f)
	}
	poolStates := make(map[state.PoolKey]*task.Future[quote.StableswapPool], len(pools))
	for _, key := range pools {
		svc, release := s.stableswap.Acquire(key)
		releases = append(releases, release)
		f := task.Add(g, "stableswap "+key.String(), svc.Fetch)
		poolStates[key] = f
		deps = append(deps, f)
	}

	best := task.Add(g, "select route", func(ctx context.Context) (router.Candidate, error) {
		omnipool := omnipoolQuoter(coder.Value(), pairStates)
		return router.Best(routes, args.Direction, func(route models.Route) (math.Int, error) {
			quoter := quote.RouteQuoter{
				Omnipool:   omnipool,
				Stableswap: s.stableswapQuoter(route, poolStates),
			}
			return quoter.Quote(route, args.Amount, args.Direction)
		})
	}, deps...)

	if err := g.Run(ctx); err != nil {
		return models.Quote{}, len(routes), err
	}
	candidate := best.Value()
	return models.NewQuote(args, candidate.Amount, candidate.Route), len(routes), nil
}

func omnipoolQuoter(coder *runtime.Coder, pairStates []*task.Future[state.OmnipoolPairState]) quote.Quoter {
	assets := make(map[models.RemoteAssetID]quote.OmnipoolAsset)
	for _, f := range pairStates {
		maps.Copy(assets, f.Value().QuoteAssets())
	}
	assetFee, protocolFee := coder.DefaultFees()
	return quote.NewOmnipoolQuoter(assets, quote.Fees{AssetFee: assetFee, ProtocolFee: protocolFee})
}

// one quoter per route, routes may read the same pool through different keys
func (s *State) stableswapQuoter(route models.Route, poolStates map[state.PoolKey]*task.Future[quote.StableswapPool]) quote.Quoter {
	pools := make(map[models.RemoteAssetID]quote.StableswapPool)
	for _, component := range route.Components {
		if !component.Pool.IsStableswap() {
			continue
		}
		if f, ok := poolStates[state.PoolKeyOf(component)]; ok {
			pools[component.Pool.PoolAsset] = f.Value()
		}
	}
	if len(pools) == 0 {
		return nil
	}
	return quote.NewStableswapQuoter(pools, s.deps.Math)
}
