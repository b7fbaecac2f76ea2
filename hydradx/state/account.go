package state

import (
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain/storage"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/observable"
)

// AccountParams are the per account settings that shape a swap extrinsic.
// A defined nil FeeCurrency means the account pays in the native asset, a defined nil Referrer
// means the account is not linked yet.
type AccountParams struct {
	FeeCurrency observable.Field[*models.RemoteAssetID]
	Referrer    observable.Field[*models.AccountID]
}

// FeeAsset returns the asset the account currently pays fees in
func (p AccountParams) FeeAsset(native models.RemoteAssetID) models.RemoteAssetID {
	if current := p.FeeCurrency.Or(nil); current != nil {
		return *current
	}
	return native
}

func (p AccountParams) IsLinked() bool {
	return p.Referrer.Or(nil) != nil
}

func mergeAccountParams(current, partial AccountParams) AccountParams {
	return AccountParams{
		FeeCurrency: current.FeeCurrency.Merge(partial.FeeCurrency),
		Referrer:    current.Referrer.Merge(partial.Referrer),
	}
}

// AccountParamsService syncs the fee currency and referral link of one account
type AccountParamsService struct {
	*observable.Service[AccountParams]
	Account models.AccountID
}

func NewAccountParamsService(subscriber chain.StorageSubscriber, account models.AccountID, opts Options) *AccountParamsService {
	entries := []observable.Entry[AccountParams]{
		{
			Key: storage.AccountCurrencyKey(account),
			Decode: func(value []byte) (AccountParams, error) {
				if value == nil {
					return AccountParams{FeeCurrency: observable.Defined[*models.RemoteAssetID](nil)}, nil
				}
				asset, err := storage.DecodeU32(value)
				if err != nil {
					return AccountParams{}, err
				}
				id := models.RemoteAssetID(asset)
				return AccountParams{FeeCurrency: observable.Defined(&id)}, nil
			},
		},
		{
			Key: storage.LinkedAccountKey(account),
			Decode: func(value []byte) (AccountParams, error) {
				if value == nil {
					return AccountParams{Referrer: observable.Defined[*models.AccountID](nil)}, nil
				}
				referrer, err := storage.DecodeAccountID(value)
				if err != nil {
					return AccountParams{}, err
				}
				return AccountParams{Referrer: observable.Defined(&referrer)}, nil
			},
		},
	}
	return &AccountParamsService{
		Service: observable.NewService(subscriber, observable.Definition[AccountParams]{
			Name:    "account " + account.String(),
			Kind:    "account",
			Entries: entries,
			Merge:   mergeAccountParams,
			Retry:   opts.Retry,
		}),
		Account: account,
	}
}
