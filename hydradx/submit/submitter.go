package submit

import (
	"context"
	"fmt"
	"time"

	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain/storage"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/runtime"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/task"
)

// ExtrinsicBuilder signs a call on behalf of the sending account
type ExtrinsicBuilder interface {
	BuildExtrinsic(ctx context.Context, call runtime.Call) ([]byte, error)
}

// Watch is a live extrinsic status subscription
type Watch interface {
	Unsubscribe(ctx context.Context) error
}

// Transport submits signed extrinsics and streams their status
type Transport interface {
	SubmitAndWatch(ctx context.Context, extrinsic []byte, onStatus func(chain.ExtrinsicStatus), onError func(error)) (Watch, error)
}

type wsTransport struct {
	client *chain.WSClient
}

// NewWSTransport submits through the websocket client
func NewWSTransport(client *chain.WSClient) Transport {
	return wsTransport{client: client}
}

func (t wsTransport) SubmitAndWatch(ctx context.Context, extrinsic []byte, onStatus func(chain.ExtrinsicStatus), onError func(error)) (Watch, error) {
	sub, err := t.client.SubmitAndWatch(ctx, extrinsic, onStatus, onError)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Progress is one status update of a submitted extrinsic
type Progress struct {
	Stage  models.SubmissionStage
	Hash   string
	Status chain.ExtrinsicStatus
}

// Submitter runs the submission state machine of a plan
type Submitter struct {
	signer    ExtrinsicBuilder
	transport Transport
	queue     task.Queue
}

// NewSubmitter creates a submitter, progress callbacks are delivered on queue (inline when nil)
func NewSubmitter(signer ExtrinsicBuilder, transport Transport, queue task.Queue) *Submitter {
	if queue == nil {
		queue = task.InlineQueue{}
	}
	return &Submitter{signer: signer, transport: transport, queue: queue}
}

/*
Submit sends the plan.

Without a fee currency change the swap is signed and submitted right away. Otherwise set_currency is
submitted first and the swap is only encoded, signed and sent once set_currency is in a block.

Params:
  - ctx: cancels the submission
  - plan: output of Builder.Build
  - onProgress: status updates of both extrinsics, may be nil

Returns:
  - models.SubmittedExtrinsic: hashes of the sent extrinsics
  - error: *models.SubmissionError naming the failed stage
*/
func (s *Submitter) Submit(ctx context.Context, plan Plan, onProgress func(Progress)) (models.SubmittedExtrinsic, error) {
	var result models.SubmittedExtrinsic
	if plan.FeeCurrency != nil {
		log.Info().Msg("Fee currency change pending, submitting set_currency first")
		hash, err := s.submitOne(ctx, models.StageFeeCurrency, *plan.FeeCurrency, onProgress)
		if err != nil {
			return result, err
		}
		result.FeeCurrencyHash = hash
	}

	swap, err := plan.Swap()
	if err != nil {
		return result, &models.SubmissionError{Stage: models.StageSwap, Err: err}
	}
	hash, err := s.submitOne(ctx, models.StageSwap, swap, onProgress)
	if err != nil {
		return result, err
	}
	result.Hash = hash
	return result, nil
}

// submitOne signs and submits call, then waits for inclusion or a terminal failure
func (s *Submitter) submitOne(ctx context.Context, stage models.SubmissionStage, call runtime.Call, onProgress func(Progress)) (string, error) {
	fail := func(err error) (string, error) {
		log.Error().Err(err).Str("stage", string(stage)).Str("call", call.Name).Msg("Submission failed")
		return "", &models.SubmissionError{Stage: stage, Err: err}
	}

	extrinsic, err := s.signer.BuildExtrinsic(ctx, call)
	if err != nil {
		return fail(fmt.Errorf("sign %s: %w", call.Name, err))
	}
	hash := storage.EncodeHex(storage.Blake2256(extrinsic))

	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}
	onStatus := func(status chain.ExtrinsicStatus) {
		if onProgress != nil {
			progress := Progress{Stage: stage, Hash: hash, Status: status}
			s.queue.Dispatch(func() { onProgress(progress) })
		}
		switch {
		case status.Kind == chain.StatusInBlock || status.Kind == chain.StatusFinalized:
			finish(nil)
		case status.IsFailure():
			finish(fmt.Errorf("extrinsic %s %s", hash, status.Kind))
		}
	}
	onError := func(err error) {
		finish(fmt.Errorf("watch of %s: %w", hash, err))
	}

	watch, err := s.transport.SubmitAndWatch(ctx, extrinsic, onStatus, onError)
	if err != nil {
		return fail(fmt.Errorf("submit %s: %w", call.Name, err))
	}
	defer stopWatch(watch, hash)

	log.Info().Str("stage", string(stage)).Str("hash", hash).Str("call", call.Name).Msg("Extrinsic submitted")
	select {
	case err := <-done:
		if err != nil {
			return fail(err)
		}
		log.Info().Str("stage", string(stage)).Str("hash", hash).Msg("Extrinsic included")
		return hash, nil
	case <-ctx.Done():
		return fail(fmt.Errorf("%w: %v", models.ErrCancelled, ctx.Err()))
	}
}

func stopWatch(watch Watch, hash string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := watch.Unsubscribe(ctx); err != nil {
		log.Warn().Err(err).Str("hash", hash).Msg("Failed to stop extrinsic watch")
	}
}
