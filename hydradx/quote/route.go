package quote

import (
	"fmt"

	"cosmossdk.io/math"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
)

// RouteQuoter prices whole routes by chaining the pool quoters.
type RouteQuoter struct {
	Omnipool   Quoter
	Stableswap Quoter
}

func (q RouteQuoter) component(component models.RouteComponent, amount math.Int, direction models.Direction) (math.Int, error) {
	var quoter Quoter
	switch component.Pool.Type {
	case models.PoolTypeOmnipool:
		quoter = q.Omnipool
	case models.PoolTypeStableswap:
		quoter = q.Stableswap
	}
	if quoter == nil {
		return math.Int{}, fmt.Errorf("%w: no quoter for %s", models.ErrQuoteCalcFailed, component.Pool)
	}
	return quoter.Quote(component, amount, direction)
}

// Quote walks the route forward for sells and backward for buys, feeding every hop with
// the previous result
func (q RouteQuoter) Quote(route models.Route, amount math.Int, direction models.Direction) (math.Int, error) {
	if err := route.Validate(); err != nil {
		return math.Int{}, fmt.Errorf("%w: %v", models.ErrQuoteCalcFailed, err)
	}
	current := amount
	components := route.Components
	for i := range components {
		idx := i
		if direction == models.Buy {
			idx = len(components) - 1 - i
		}
		next, err := q.component(components[idx], current, direction)
		if err != nil {
			return math.Int{}, fmt.Errorf("hop %s: %w", components[idx], err)
		}
		current = next
	}
	return current, nil
}
