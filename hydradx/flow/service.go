package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/metrics"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/runtime"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/submit"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/task"
)

// Service is the caller facing swap API of one account
type Service struct {
	key   Key
	state *State
}

func NewService(key Key, deps Dependencies) *Service {
	return &Service{key: key, state: NewState(key.Account, deps)}
}

func (s *Service) Key() Key {
	return s.key
}

// AvailableDirections lists, per asset, every asset it can be swapped into
func (s *Service) AvailableDirections(ctx context.Context) (map[models.RemoteAssetID]models.AssetSet, error) {
	directions, err := s.state.Directions(ctx)
	if err != nil {
		return nil, err
	}
	return directions.Available(), nil
}

/*
Quote prices args on the best route.

Params:
  - ctx: cancels the sync and the pricing
  - args: pair, amount and direction

Returns:
  - models.Quote: amounts of both sides and the priced route
  - error: ErrInvalidArgs, ErrNoRoute, sync errors or the last route error
*/
func (s *Service) Quote(ctx context.Context, args models.QuoteArgs) (models.Quote, error) {
	if err := args.Validate(); err != nil {
		return models.Quote{}, fmt.Errorf("%w: %v", models.ErrInvalidArgs, err)
	}
	return s.state.quote(ctx, args)
}

// QuoteAsync runs Quote in the background. completion runs on the flow queue and is skipped once the
// handle is cancelled.
func (s *Service) QuoteAsync(ctx context.Context, args models.QuoteArgs, completion func(models.Quote, error)) *task.Handle {
	g := task.NewGraph(1)
	result := task.Add(g, "quote", func(ctx context.Context) (models.Quote, error) {
		return s.Quote(ctx, args)
	})
	return g.Start(ctx, s.state.deps.Queue, func(err error) {
		if err != nil {
			completion(models.Quote{}, err)
			return
		}
		completion(result.Value(), nil)
	})
}

// CanPayFee reports whether the account can pay transaction fees in asset
func (s *Service) CanPayFee(ctx context.Context, asset models.RemoteAssetID) (bool, error) {
	if _, err := s.state.Directions(ctx); err != nil {
		return false, err
	}
	return s.state.fees.CanPayFee(ctx, asset)
}

/*
BuildSwap prepares the extrinsics of a priced swap for the flow's account.

Params:
  - ctx: cancels the account sync
  - args: call arguments, usually models.CallArgsFromQuote
  - feeAsset: the asset the account should pay fees in

Returns:
  - submit.Plan: the optional set_currency call and the swap call
  - *runtime.Coder: the coder the plan was encoded with
  - error: ErrInvalidArgs, runtime or sync errors
*/
func (s *Service) BuildSwap(ctx context.Context, args models.CallArgs, feeAsset models.RemoteAssetID) (submit.Plan, *runtime.Coder, error) {
	coder, err := s.state.deps.Coders.Coder(ctx)
	if err != nil {
		return submit.Plan{}, nil, err
	}
	account, err := s.state.AccountState(ctx)
	if err != nil {
		return submit.Plan{}, nil, err
	}
	plan, err := s.state.builder.Build(coder, args, feeAsset, account)
	if err != nil {
		return submit.Plan{}, nil, err
	}
	return plan, coder, nil
}

// CalculateFee estimates the network fee of swapping args paid in feeAsset.
// A newer call cancels the one in flight, which returns ErrCancelled.
func (s *Service) CalculateFee(ctx context.Context, args models.CallArgs, feeAsset models.RemoteAssetID) (models.FeeModel, error) {
	plan, _, err := s.BuildSwap(ctx, args, feeAsset)
	if err != nil {
		metrics.ObserveFee(feeAsset == s.state.deps.Native, err)
		return models.FeeModel{}, err
	}
	model, err := s.state.fees.Calculate(ctx, plan, feeAsset)
	metrics.ObserveFee(feeAsset == s.state.deps.Native, err)
	if err != nil {
		return models.FeeModel{}, err
	}
	payer := s.key.Account
	model.Payer = &payer
	return model, nil
}

/*
Submit builds, signs and sends the swap. A pending fee currency change is sent first and the swap is
only sent once that change is in a block.

Params:
  - ctx: cancels the submission
  - args: call arguments
  - feeAsset: the asset the account should pay fees in
  - signer: signs calls for the flow's account
  - onProgress: status updates of both extrinsics, may be nil

Returns:
  - models.SubmittedExtrinsic: hashes of the sent extrinsics
  - error: build errors or *models.SubmissionError
*/
func (s *Service) Submit(
	ctx context.Context,
	args models.CallArgs,
	feeAsset models.RemoteAssetID,
	signer submit.ExtrinsicBuilder,
	onProgress func(submit.Progress),
) (models.SubmittedExtrinsic, error) {
	if s.state.deps.Transport == nil {
		return models.SubmittedExtrinsic{}, fmt.Errorf("%w: no submission transport", models.ErrConnectionUnavailable)
	}
	plan, _, err := s.BuildSwap(ctx, args, feeAsset)
	if err != nil {
		return models.SubmittedExtrinsic{}, err
	}

	submitter := submit.NewSubmitter(signer, s.state.deps.Transport, s.state.deps.Queue)
	result, err := submitter.Submit(ctx, plan, onProgress)
	if plan.NeedsFeeChange() {
		metrics.ObserveSubmission(models.StageFeeCurrency, stageErr(err, models.StageFeeCurrency))
	}
	if result.Hash != "" || stageErr(err, models.StageSwap) != nil {
		metrics.ObserveSubmission(models.StageSwap, stageErr(err, models.StageSwap))
	}
	if err != nil {
		return result, err
	}
	log.Info().
		Str("account", s.key.Account.String()).
		Str("hash", result.Hash).
		Str("fee_currency_hash", result.FeeCurrencyHash).
		Msg("Swap submitted")
	return result, nil
}

// stageErr returns err when it failed stage
func stageErr(err error, stage models.SubmissionStage) error {
	var submission *models.SubmissionError
	if errors.As(err, &submission) && submission.Stage == stage {
		return err
	}
	return nil
}

func (s *Service) IsSyncing() bool {
	return s.state.IsSyncing()
}

// RefreshDirections forces a new pool enumeration on the next call
func (s *Service) RefreshDirections() {
	s.state.InvalidateDirections()
}

// Stop tears the flow down, the Registry calls it on the last release
func (s *Service) Stop() {
	s.state.Stop()
}
