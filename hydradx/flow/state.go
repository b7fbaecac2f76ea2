// Package flow ties the sync services, quote engines, fee service and submitter of one account together.
package flow

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/fee"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/observable"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/router"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/runtime"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/stableswap"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/state"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/state/keyed"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/submit"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/task"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "flow").Logger()
}

// CoderSource returns the coder of the node's current runtime, *runtime.Provider in production
type CoderSource interface {
	Coder(ctx context.Context) (*runtime.Coder, error)
}

// PoolSource enumerates pools and fee currencies, *state.Enumerator in production
type PoolSource interface {
	Directions(ctx context.Context) (*router.Directions, error)
	IsAcceptedCurrency(ctx context.Context, asset models.RemoteAssetID) (bool, error)
}

// Dependencies are shared by every flow of a chain
type Dependencies struct {
	Subscriber   chain.StorageSubscriber
	Coders       CoderSource
	Pools        PoolSource
	Pricer       fee.Pricer
	Transport    submit.Transport
	Math         stableswap.Math
	Native       models.RemoteAssetID
	Retry        observable.RetryConfig
	Workers      int
	ReferralCode string
	// Queue delivers async completions and submission progress, inline when nil
	Queue task.Queue
}

/*
State owns the remote state of one flow: keyed caches of pool services, the account params service,
the enumerated directions and the fee service.

Locks are never held across network calls.
*/
type State struct {
	deps    Dependencies
	account models.AccountID

	omnipool   *keyed.Cache[models.SwapPair, *state.OmnipoolPairService]
	stableswap *keyed.Cache[state.PoolKey, *state.StableswapPoolService]
	params     *keyed.Cache[models.AccountID, *state.AccountParamsService]
	fees       *fee.Service
	builder    *submit.Builder

	enumerate  singleflight.Group
	mu         sync.Mutex
	directions *router.Directions
}

func NewState(account models.AccountID, deps Dependencies) *State {
	if deps.Queue == nil {
		deps.Queue = task.InlineQueue{}
	}
	if deps.Workers <= 0 {
		deps.Workers = 4
	}
	opts := state.Options{Native: deps.Native, Retry: deps.Retry}
	s := &State{
		deps:    deps,
		account: account,
		omnipool: keyed.New("omnipool", func(pair models.SwapPair) *state.OmnipoolPairService {
			return state.NewOmnipoolPairService(deps.Subscriber, pair, opts)
		}),
		stableswap: keyed.New("stableswap", func(key state.PoolKey) *state.StableswapPoolService {
			return state.NewStableswapPoolService(deps.Subscriber, key, opts)
		}),
		params: keyed.New("account", func(account models.AccountID) *state.AccountParamsService {
			return state.NewAccountParamsService(deps.Subscriber, account, opts)
		}),
		builder: submit.NewBuilder(deps.ReferralCode),
	}
	// the account never changes within a flow, keep its params synced until Stop
	s.params.Use(account)
	s.fees = fee.NewService(fee.Config{
		Native:     deps.Native,
		Pricer:     deps.Pricer,
		Quoter:     quoterFunc(s.quote),
		Currencies: deps.Pools,
		Routes:     cachedRoutes{s},
	})
	return s
}

// Directions enumerates the pools once and caches the index, concurrent callers share one enumeration
func (s *State) Directions(ctx context.Context) (*router.Directions, error) {
	if directions := s.cachedDirections(); directions != nil {
		return directions, nil
	}
	value, err, _ := s.enumerate.Do("directions", func() (any, error) {
		directions, err := s.deps.Pools.Directions(ctx)
		if err != nil {
			return nil, err
		}
		if err := directions.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrDataCorruption, err)
		}
		s.mu.Lock()
		s.directions = directions
		s.mu.Unlock()
		return directions, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate pools: %w", err)
	}
	return value.(*router.Directions), nil
}

func (s *State) cachedDirections() *router.Directions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.directions
}

// InvalidateDirections drops the index, the next caller enumerates again
func (s *State) InvalidateDirections() {
	s.mu.Lock()
	s.directions = nil
	s.mu.Unlock()
}

// AccountState waits for the account params and reduces them to what the builder needs
func (s *State) AccountState(ctx context.Context) (submit.AccountState, error) {
	svc, release := s.params.Acquire(s.account)
	defer release()
	params, err := svc.Fetch(ctx)
	if err != nil {
		return submit.AccountState{}, fmt.Errorf("failed to sync account params: %w", err)
	}
	return submit.AccountState{FeeAsset: params.FeeAsset(s.deps.Native), Linked: params.IsLinked()}, nil
}

// IsSyncing is true while any live service of the flow is syncing
func (s *State) IsSyncing() bool {
	var syncers []observable.Syncer
	for _, svc := range s.omnipool.Values() {
		syncers = append(syncers, svc)
	}
	for _, svc := range s.stableswap.Values() {
		syncers = append(syncers, svc)
	}
	for _, svc := range s.params.Values() {
		syncers = append(syncers, svc)
	}
	return observable.AnySyncing(syncers...)
}

// Stop cancels the fee calculation in flight and stops every service
func (s *State) Stop() {
	s.fees.Cancel()
	s.omnipool.Close()
	s.stableswap.Close()
	s.params.Close()
}

type quoterFunc func(ctx context.Context, args models.QuoteArgs) (models.Quote, error)

func (f quoterFunc) Quote(ctx context.Context, args models.QuoteArgs) (models.Quote, error) {
	return f(ctx, args)
}

// cachedRoutes resolves on the last enumerated index, no routes before the first enumeration
type cachedRoutes struct {
	s *State
}

func (r cachedRoutes) Resolve(in, out models.RemoteAssetID) []models.Route {
	directions := r.s.cachedDirections()
	if directions == nil {
		return nil
	}
	return directions.Resolve(in, out)
}
