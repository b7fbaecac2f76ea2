package state

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"cosmossdk.io/math"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain/storage"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/observable"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/quote"
)

// PoolKey identifies the Stableswap state one component needs
type PoolKey struct {
	Pool     models.RemoteAssetID
	AssetIn  models.RemoteAssetID
	AssetOut models.RemoteAssetID
}

func (k PoolKey) String() string {
	return fmt.Sprintf("%d[%d->%d]", k.Pool, k.AssetIn, k.AssetOut)
}

// PoolKeyOf returns the key of a Stableswap route component
func PoolKeyOf(component models.RouteComponent) PoolKey {
	return PoolKey{Pool: component.Pool.PoolAsset, AssetIn: component.AssetIn, AssetOut: component.AssetOut}
}

// tradedAssets are the pool members of the key, the share asset has no tradability entry
func (k PoolKey) tradedAssets() []models.RemoteAssetID {
	var assets []models.RemoteAssetID
	for _, asset := range []models.RemoteAssetID{k.AssetIn, k.AssetOut} {
		if asset != k.Pool && !slices.Contains(assets, asset) {
			assets = append(assets, asset)
		}
	}
	return assets
}

// PoolInfoState is the first stage of a pool: its parameters, tradability flags and the current block
type PoolInfoState struct {
	Info        observable.Field[*storage.StableswapPoolInfo]
	Tradability map[models.RemoteAssetID]storage.Tradability
	Block       observable.Field[uint32]
}

func mergePoolInfo(current, partial PoolInfoState) PoolInfoState {
	return PoolInfoState{
		Info:        current.Info.Merge(partial.Info),
		Tradability: observable.MergeMap(current.Tradability, partial.Tradability),
		Block:       current.Block.Merge(partial.Block),
	}
}

// PoolReservesState is the second stage: balances of the pool account, decimals and share issuance
type PoolReservesState struct {
	Reserves map[models.RemoteAssetID]math.Int
	Decimals map[models.RemoteAssetID]uint8
	Issuance observable.Field[math.Int]
}

func mergePoolReserves(current, partial PoolReservesState) PoolReservesState {
	return PoolReservesState{
		Reserves: observable.MergeMap(current.Reserves, partial.Reserves),
		Decimals: observable.MergeMap(current.Decimals, partial.Decimals),
		Issuance: current.Issuance.Merge(partial.Issuance),
	}
}

func newPoolInfoService(subscriber chain.StorageSubscriber, key PoolKey, opts Options, onChange func(PoolInfoState)) *observable.Service[PoolInfoState] {
	entries := []observable.Entry[PoolInfoState]{
		{
			Key: storage.StableswapPoolKey(key.Pool),
			Decode: func(value []byte) (PoolInfoState, error) {
				if value == nil {
					return PoolInfoState{Info: observable.Defined[*storage.StableswapPoolInfo](nil)}, nil
				}
				info, err := storage.DecodeStableswapPoolInfo(value)
				if err != nil {
					return PoolInfoState{}, err
				}
				return PoolInfoState{Info: observable.Defined(&info)}, nil
			},
		},
		{
			Key: storage.SystemNumberKey(),
			Decode: func(value []byte) (PoolInfoState, error) {
				block, err := storage.DecodeU32(value)
				if err != nil {
					return PoolInfoState{}, err
				}
				return PoolInfoState{Block: observable.Defined(block)}, nil
			},
		},
	}
	for _, asset := range key.tradedAssets() {
		entries = append(entries, observable.Entry[PoolInfoState]{
			Key: storage.AssetTradabilityKey(key.Pool, asset),
			Decode: func(value []byte) (PoolInfoState, error) {
				flags := storage.TradableAll
				if value != nil {
					var err error
					if flags, err = storage.DecodeTradability(value); err != nil {
						return PoolInfoState{}, err
					}
				}
				return PoolInfoState{Tradability: map[models.RemoteAssetID]storage.Tradability{asset: flags}}, nil
			},
		})
	}
	return observable.NewService(subscriber, observable.Definition[PoolInfoState]{
		Name:     "stableswap info " + key.String(),
		Kind:     "stableswap",
		Entries:  entries,
		Merge:    mergePoolInfo,
		OnChange: onChange,
		Retry:    opts.Retry,
	})
}

func newPoolReservesService(subscriber chain.StorageSubscriber, pool models.RemoteAssetID, assets []models.RemoteAssetID, opts Options) *observable.Service[PoolReservesState] {
	account := storage.StableswapPoolAccount(pool)
	entries := []observable.Entry[PoolReservesState]{
		{
			Key: storage.TokensTotalIssuanceKey(pool),
			Decode: func(value []byte) (PoolReservesState, error) {
				issuance := math.ZeroInt()
				if value != nil {
					var err error
					if issuance, err = storage.DecodeU128(value); err != nil {
						return PoolReservesState{}, err
					}
				}
				return PoolReservesState{Issuance: observable.Defined(issuance)}, nil
			},
		},
	}
	for _, asset := range assets {
		entries = append(entries,
			observable.Entry[PoolReservesState]{
				Key: storage.BalanceKey(account, asset, opts.Native),
				Decode: func(value []byte) (PoolReservesState, error) {
					reserve, err := decodeBalance(value, asset, opts.Native)
					if err != nil {
						return PoolReservesState{}, err
					}
					return PoolReservesState{Reserves: map[models.RemoteAssetID]math.Int{asset: reserve}}, nil
				},
			},
			observable.Entry[PoolReservesState]{
				Key: storage.AssetRegistryKey(asset),
				Decode: func(value []byte) (PoolReservesState, error) {
					// missing decimals stay out of the map and fail the quote later
					if value == nil {
						return PoolReservesState{}, nil
					}
					decimals, ok, err := storage.DecodeAssetDecimals(value)
					if err != nil || !ok {
						return PoolReservesState{}, err
					}
					return PoolReservesState{Decimals: map[models.RemoteAssetID]uint8{asset: decimals}}, nil
				},
			},
		)
	}
	return observable.NewService(subscriber, observable.Definition[PoolReservesState]{
		Name:    fmt.Sprintf("stableswap reserves %d", pool),
		Kind:    "stableswap",
		Entries: entries,
		Merge:   mergePoolReserves,
		Retry:   opts.Retry,
	})
}

/*
StableswapPoolService syncs one pool in two stages.

The info stage knows its keys up front. Once it delivers the pool's asset list the reserves stage is
started from the change handler, and restarted whenever the list changes.
*/
type StableswapPoolService struct {
	Key        PoolKey
	subscriber chain.StorageSubscriber
	opts       Options
	info       *observable.Service[PoolInfoState]

	mu            sync.Mutex
	running       bool
	reserves      *observable.Service[PoolReservesState]
	reserveAssets []models.RemoteAssetID
}

func NewStableswapPoolService(subscriber chain.StorageSubscriber, key PoolKey, opts Options) *StableswapPoolService {
	s := &StableswapPoolService{Key: key, subscriber: subscriber, opts: opts}
	s.info = newPoolInfoService(subscriber, key, opts, s.onInfo)
	return s
}

func (s *StableswapPoolService) Start() {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	s.info.Start()
}

func (s *StableswapPoolService) Stop() {
	s.mu.Lock()
	s.running = false
	reserves := s.reserves
	s.reserves, s.reserveAssets = nil, nil
	s.mu.Unlock()

	s.info.Stop()
	if reserves != nil {
		reserves.Stop()
	}
}

// IsSyncing is true while either stage is syncing
func (s *StableswapPoolService) IsSyncing() bool {
	s.mu.Lock()
	reserves := s.reserves
	s.mu.Unlock()
	if reserves == nil {
		return observable.AnySyncing(s.info)
	}
	return observable.AnySyncing(s.info, reserves)
}

// runs on the notification goroutine, must not block
func (s *StableswapPoolService) onInfo(snapshot PoolInfoState) {
	info, ok := snapshot.Info.Get()
	if !ok || info == nil {
		return
	}
	s.ensureReserves(info.Assets)
}

func (s *StableswapPoolService) ensureReserves(assets []models.RemoteAssetID) *observable.Service[PoolReservesState] {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	if s.reserves != nil && slices.Equal(s.reserveAssets, assets) {
		reserves := s.reserves
		s.mu.Unlock()
		return reserves
	}
	stale := s.reserves
	s.reserves = newPoolReservesService(s.subscriber, s.Key.Pool, assets, s.opts)
	s.reserveAssets = slices.Clone(assets)
	s.reserves.Start()
	reserves := s.reserves
	s.mu.Unlock()

	if stale != nil {
		log.Info().Str("pool", s.Key.String()).Int("assets", len(assets)).Msg("Pool assets changed, restarting reserves sync")
		go stale.Stop()
	}
	return reserves
}

/*
Fetch waits for both stages.

Returns:
  - quote.StableswapPool: the combined snapshot, Info is nil when the pool doesn't exist
  - error: sync errors of either stage
*/
func (s *StableswapPoolService) Fetch(ctx context.Context) (quote.StableswapPool, error) {
	infoState, err := s.info.Fetch(ctx)
	if err != nil {
		return quote.StableswapPool{}, err
	}
	pool := quote.StableswapPool{Tradability: infoState.Tradability}
	if pool.Tradability == nil {
		pool.Tradability = map[models.RemoteAssetID]storage.Tradability{}
	}
	if block, ok := infoState.Block.Get(); ok {
		pool.CurrentBlock = &block
	}
	info, ok := infoState.Info.Get()
	if !ok || info == nil {
		return pool, nil
	}
	pool.Info = info

	reserves := s.ensureReserves(info.Assets)
	if reserves == nil {
		return quote.StableswapPool{}, fmt.Errorf("%w: %s stopped", models.ErrCancelled, s.Key)
	}
	reservesState, err := reserves.Fetch(ctx)
	if err != nil {
		return quote.StableswapPool{}, err
	}
	pool.Reserves = reservesState.Reserves
	pool.Decimals = reservesState.Decimals
	pool.ShareIssuance = reservesState.Issuance.Or(math.ZeroInt())
	return pool, nil
}
