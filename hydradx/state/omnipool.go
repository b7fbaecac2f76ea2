// Package state holds the subscription backed services the quote engines read from.
package state

import (
	"os"
	"time"

	"cosmossdk.io/math"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain/storage"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/observable"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/quote"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "state").Logger()
}

// Options shared by every service of one chain
type Options struct {
	Native models.RemoteAssetID
	Retry  observable.RetryConfig
}

// OmnipoolPairState is the Omnipool view of the two assets of a pair.
// A nil asset state means the asset is not listed, a nil fee means the default fee applies.
type OmnipoolPairState struct {
	Assets   map[models.RemoteAssetID]*storage.OmnipoolAssetState
	Reserves map[models.RemoteAssetID]math.Int
	Fees     map[models.RemoteAssetID]*storage.DynamicFee
}

// QuoteAssets converts the snapshot to the quoter input
func (s OmnipoolPairState) QuoteAssets() map[models.RemoteAssetID]quote.OmnipoolAsset {
	assets := make(map[models.RemoteAssetID]quote.OmnipoolAsset, len(s.Assets))
	for id, state := range s.Assets {
		reserve, ok := s.Reserves[id]
		if !ok || reserve.IsNil() {
			reserve = math.ZeroInt()
		}
		assets[id] = quote.OmnipoolAsset{State: state, Reserve: reserve, Fee: s.Fees[id]}
	}
	return assets
}

func mergeOmnipoolPair(current, partial OmnipoolPairState) OmnipoolPairState {
	return OmnipoolPairState{
		Assets:   observable.MergeMap(current.Assets, partial.Assets),
		Reserves: observable.MergeMap(current.Reserves, partial.Reserves),
		Fees:     observable.MergeMap(current.Fees, partial.Fees),
	}
}

// OmnipoolPairService syncs asset states, reserves and dynamic fees of both assets of a pair
type OmnipoolPairService struct {
	*observable.Service[OmnipoolPairState]
	Pair models.SwapPair
}

func NewOmnipoolPairService(subscriber chain.StorageSubscriber, pair models.SwapPair, opts Options) *OmnipoolPairService {
	account := storage.OmnipoolAccount()
	var entries []observable.Entry[OmnipoolPairState]
	for _, asset := range []models.RemoteAssetID{pair.AssetIn, pair.AssetOut} {
		entries = append(entries,
			observable.Entry[OmnipoolPairState]{
				Key: storage.OmnipoolAssetKey(asset),
				Decode: func(value []byte) (OmnipoolPairState, error) {
					var state *storage.OmnipoolAssetState
					if value != nil {
						decoded, err := storage.DecodeOmnipoolAssetState(value)
						if err != nil {
							return OmnipoolPairState{}, err
						}
						state = &decoded
					}
					return OmnipoolPairState{Assets: map[models.RemoteAssetID]*storage.OmnipoolAssetState{asset: state}}, nil
				},
			},
			observable.Entry[OmnipoolPairState]{
				Key: storage.BalanceKey(account, asset, opts.Native),
				Decode: func(value []byte) (OmnipoolPairState, error) {
					reserve, err := decodeBalance(value, asset, opts.Native)
					if err != nil {
						return OmnipoolPairState{}, err
					}
					return OmnipoolPairState{Reserves: map[models.RemoteAssetID]math.Int{asset: reserve}}, nil
				},
			},
			observable.Entry[OmnipoolPairState]{
				Key: storage.DynamicFeeKey(asset),
				Decode: func(value []byte) (OmnipoolPairState, error) {
					var fee *storage.DynamicFee
					if value != nil {
						decoded, err := storage.DecodeDynamicFee(value)
						if err != nil {
							return OmnipoolPairState{}, err
						}
						fee = &decoded
					}
					return OmnipoolPairState{Fees: map[models.RemoteAssetID]*storage.DynamicFee{asset: fee}}, nil
				},
			},
		)
	}

	return &OmnipoolPairService{
		Service: observable.NewService(subscriber, observable.Definition[OmnipoolPairState]{
			Name:    "omnipool " + pair.String(),
			Kind:    "omnipool",
			Entries: entries,
			Merge:   mergeOmnipoolPair,
			Retry:   opts.Retry,
		}),
		Pair: pair,
	}
}

// absent balances are zero
func decodeBalance(value []byte, asset, native models.RemoteAssetID) (math.Int, error) {
	if value == nil {
		return math.ZeroInt(), nil
	}
	return storage.DecodeBalance(value, asset, native)
}
