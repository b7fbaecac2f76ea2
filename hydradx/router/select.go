package router

import (
	"fmt"

	"cosmossdk.io/math"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
)

// Candidate is a priced route
type Candidate struct {
	Route  models.Route
	Amount math.Int
}

// QuoteFunc prices one route, the returned amount is the solved side of the swap
type QuoteFunc func(route models.Route) (math.Int, error)

/*
Best quotes every route and keeps the best one.

Params:
  - routes: candidates from Resolve
  - direction: sell keeps the biggest output, buy keeps the smallest input
  - quote: prices one route

Returns:
  - Candidate: the winning route and its amount
  - error: ErrNoRoute without candidates, the last quote error when every candidate failed
*/
func Best(routes []models.Route, direction models.Direction, quote QuoteFunc) (Candidate, error) {
	if len(routes) == 0 {
		return Candidate{}, models.ErrNoRoute
	}

	var best *Candidate
	var lastErr error
	for i, route := range routes {
		amount, err := quote(route)
		if err != nil {
			routerLog.Debug().
				Err(err).
				Int("attempt", i+1).
				Str("route", route.String()).
				Msg("Skipping route candidate")
			lastErr = err
			continue
		}
		if best == nil || better(direction, amount, best.Amount) {
			best = &Candidate{Route: route, Amount: amount}
		}
	}
	if best == nil {
		return Candidate{}, fmt.Errorf("all %d route candidates failed: %w", len(routes), lastErr)
	}

	routerLog.Debug().
		Str("route", best.Route.String()).
		Str("amount", best.Amount.String()).
		Str("direction", string(direction)).
		Msg("Selected route")
	return *best, nil
}

func better(direction models.Direction, amount, current math.Int) bool {
	if direction == models.Buy {
		return amount.LT(current)
	}
	return amount.GT(current)
}
