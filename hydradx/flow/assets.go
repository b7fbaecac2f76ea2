package flow

import (
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/config"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
)

// AssetBook maps wallet assets to runtime assets and back
type AssetBook struct {
	chainID  string
	byLocal  map[models.ChainAssetID]models.AssetRef
	byRemote map[models.RemoteAssetID]models.AssetRef
}

func NewAssetBook(registry *config.RegistryConfig) *AssetBook {
	book := &AssetBook{
		chainID:  registry.ChainID,
		byLocal:  make(map[models.ChainAssetID]models.AssetRef, len(registry.Assets)),
		byRemote: make(map[models.RemoteAssetID]models.AssetRef, len(registry.Assets)),
	}
	for _, asset := range registry.Assets {
		ref := models.AssetRef{
			Local:    models.ChainAssetID{ChainID: registry.ChainID, AssetID: asset.LocalID},
			Remote:   models.RemoteAssetID(asset.RemoteID),
			Symbol:   asset.Symbol,
			Decimals: asset.Decimals,
		}
		book.byLocal[ref.Local] = ref
		book.byRemote[ref.Remote] = ref
	}
	return book
}

func (b *AssetBook) ChainID() string {
	return b.chainID
}

// Local resolves a wallet asset, *models.AssetMappingError when it has no runtime counterpart
func (b *AssetBook) Local(id models.ChainAssetID) (models.AssetRef, error) {
	ref, ok := b.byLocal[id]
	if !ok {
		return models.AssetRef{}, &models.AssetMappingError{Asset: id.String()}
	}
	return ref, nil
}

// Remote resolves a runtime asset, *models.AssetMappingError when the wallet doesn't know it
func (b *AssetBook) Remote(id models.RemoteAssetID) (models.AssetRef, error) {
	ref, ok := b.byRemote[id]
	if !ok {
		return models.AssetRef{}, &models.AssetMappingError{Asset: id.String()}
	}
	return ref, nil
}

// Known filters directions down to the assets the wallet can map
func (b *AssetBook) Known(directions map[models.RemoteAssetID]models.AssetSet) map[models.RemoteAssetID]models.AssetSet {
	known := make(map[models.RemoteAssetID]models.AssetSet, len(directions))
	for from, targets := range directions {
		if _, ok := b.byRemote[from]; !ok {
			continue
		}
		set := models.NewAssetSet()
		for to := range targets {
			if _, ok := b.byRemote[to]; ok {
				set.Add(to)
			}
		}
		if len(set) > 0 {
			known[from] = set
		}
	}
	return known
}
