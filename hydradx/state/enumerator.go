package state

import (
	"context"
	"fmt"

	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain/storage"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/router"
)

const queryBatchSize = 200

// Enumerator lists pools with one-shot storage queries
type Enumerator struct {
	caller chain.Caller
}

func NewEnumerator(caller chain.Caller) *Enumerator {
	return &Enumerator{caller: caller}
}

// entries reads every value stored under prefix
func (e *Enumerator) entries(ctx context.Context, prefix storage.Key) ([]chain.StorageChange, error) {
	keys, err := chain.GetKeys(ctx, e.caller, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list keys %s: %v", models.ErrConnectionUnavailable, prefix.Hex(), err)
	}
	var changes []chain.StorageChange
	for start := 0; start < len(keys); start += queryBatchSize {
		end := min(start+queryBatchSize, len(keys))
		batch, err := chain.QueryStorageAt(ctx, e.caller, keys[start:end])
		if err != nil {
			return nil, fmt.Errorf("%w: query storage: %v", models.ErrConnectionUnavailable, err)
		}
		changes = append(changes, batch...)
	}
	return changes, nil
}

// OmnipoolAssets lists the Omnipool assets that allow at least one kind of trade
func (e *Enumerator) OmnipoolAssets(ctx context.Context) ([]models.RemoteAssetID, error) {
	prefix := storage.OmnipoolAssetsPrefix()
	changes, err := e.entries(ctx, prefix)
	if err != nil {
		return nil, err
	}
	assets := make([]models.RemoteAssetID, 0, len(changes))
	for _, change := range changes {
		if change.Value == nil {
			continue
		}
		asset, err := storage.AssetIDFromMapKey(prefix, change.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrDataCorruption, err)
		}
		state, err := storage.DecodeOmnipoolAssetState(change.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: omnipool asset %d: %v", models.ErrDataCorruption, asset, err)
		}
		if state.Tradable == 0 {
			log.Debug().Uint32("asset", uint32(asset)).Msg("Skipping frozen omnipool asset")
			continue
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

// StableswapPools maps every pool share asset to the pool's assets
func (e *Enumerator) StableswapPools(ctx context.Context) (map[models.RemoteAssetID][]models.RemoteAssetID, error) {
	prefix := storage.StableswapPoolsPrefix()
	changes, err := e.entries(ctx, prefix)
	if err != nil {
		return nil, err
	}
	pools := make(map[models.RemoteAssetID][]models.RemoteAssetID, len(changes))
	for _, change := range changes {
		if change.Value == nil {
			continue
		}
		pool, err := storage.AssetIDFromMapKey(prefix, change.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrDataCorruption, err)
		}
		info, err := storage.DecodeStableswapPoolInfo(change.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: stableswap pool %d: %v", models.ErrDataCorruption, pool, err)
		}
		pools[pool] = info.Assets
	}
	return pools, nil
}

// Directions enumerates both pool kinds and indexes them for route resolution
func (e *Enumerator) Directions(ctx context.Context) (*router.Directions, error) {
	omnipool, err := e.OmnipoolAssets(ctx)
	if err != nil {
		return nil, err
	}
	pools, err := e.StableswapPools(ctx)
	if err != nil {
		return nil, err
	}
	log.Info().
		Int("omnipool_assets", len(omnipool)).
		Int("stableswap_pools", len(pools)).
		Msg("Enumerated pools")
	return router.NewDirections(omnipool, pools), nil
}

// IsAcceptedCurrency reports whether the transaction payment pallet accepts asset for fees
func (e *Enumerator) IsAcceptedCurrency(ctx context.Context, asset models.RemoteAssetID) (bool, error) {
	_, ok, err := chain.GetStorage(ctx, e.caller, storage.AcceptedCurrencyKey(asset))
	if err != nil {
		return false, fmt.Errorf("%w: accepted currency %d: %v", models.ErrConnectionUnavailable, asset, err)
	}
	return ok, nil
}
