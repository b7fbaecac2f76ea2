package observable

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain/storage"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/metrics"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "observable").Logger()
}

// Status of a sync service
type Status int

const (
	Idle Status = iota
	Syncing
	Synced
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Syncing:
		return "syncing"
	case Synced:
		return "synced"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Syncer is anything with an explicit sync lifecycle.
type Syncer interface {
	Start()
	Stop()
	IsSyncing() bool
}

// AnySyncing is the syncing flag of a parent: true while any child is syncing
func AnySyncing(syncers ...Syncer) bool {
	for _, s := range syncers {
		if s != nil && s.IsSyncing() {
			return true
		}
	}
	return false
}

// Entry maps one subscribed storage key to a partial snapshot.
// Decode receives nil when the key holds no value.
type Entry[S any] struct {
	Key    storage.Key
	Decode func(value []byte) (S, error)
}

// RetryConfig bounds the retries of the subscription set-up
type RetryConfig struct {
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{InitialInterval: 500 * time.Millisecond, MaxElapsed: 30 * time.Second}
}

// Definition describes what a Service subscribes to and how partial changes combine.
type Definition[S any] struct {
	Name string
	// Kind labels reset metrics, e.g. "omnipool"
	Kind    string
	Entries []Entry[S]
	// Merge applies partial on top of current and returns a new snapshot
	Merge func(current, partial S) S
	// OnChange is called outside the service lock after every merged batch
	OnChange func(snapshot S)
	Retry    RetryConfig
}

// Service keeps a snapshot S in sync with one batched storage subscription.
type Service[S any] struct {
	name       string
	kind       string
	subscriber chain.StorageSubscriber
	entries    map[string]Entry[S]
	keys       []storage.Key
	merge      func(current, partial S) S
	onChange   func(snapshot S)
	retry      RetryConfig

	mu         sync.Mutex
	status     Status
	generation uint64
	snapshot   S
	received   bool
	err        error
	ready      chan struct{}
	readyOpen  bool
	cancel     context.CancelFunc
	sub        chain.StorageSubscription
}

/*
NewService creates a stopped service.

Params:
  - subscriber: source of storage subscriptions
  - def: keys, decoders and merge rule of the snapshot

Returns:
  - *Service[S]: the service, call Start to begin syncing
*/
func NewService[S any](subscriber chain.StorageSubscriber, def Definition[S]) *Service[S] {
	s := &Service[S]{
		name:       def.Name,
		kind:       def.Kind,
		subscriber: subscriber,
		entries:    make(map[string]Entry[S], len(def.Entries)),
		merge:      def.Merge,
		onChange:   def.OnChange,
		retry:      def.Retry,
	}
	if s.retry.InitialInterval <= 0 || s.retry.MaxElapsed <= 0 {
		s.retry = DefaultRetryConfig()
	}
	for _, entry := range def.Entries {
		hex := entry.Key.Hex()
		if _, dup := s.entries[hex]; dup {
			continue
		}
		s.entries[hex] = entry
		s.keys = append(s.keys, entry.Key)
	}
	return s
}

func (s *Service[S]) Name() string {
	return s.name
}

func (s *Service[S]) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Service[S]) IsSyncing() bool {
	return s.Status() == Syncing
}

// Start begins syncing. Starting a running service does nothing.
func (s *Service[S]) Start() {
	s.mu.Lock()
	if s.status != Idle {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.generation++
	generation := s.generation
	s.status = Syncing
	s.cancel = cancel
	s.err = nil
	s.received = false
	var zero S
	s.snapshot = zero
	s.ready = make(chan struct{})
	s.readyOpen = true
	s.mu.Unlock()

	log.Debug().Str("service", s.name).Int("keys", len(s.keys)).Msg("Starting sync")
	go s.run(ctx, generation)
}

func (s *Service[S]) run(ctx context.Context, generation uint64) {
	if len(s.keys) == 0 {
		s.apply(generation, nil)
		return
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retry.InitialInterval
	handler := &sink[S]{service: s, generation: generation}
	sub, err := backoff.Retry(ctx, func() (chain.StorageSubscription, error) {
		return s.subscriber.SubscribeStorage(ctx, s.keys, handler)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(s.retry.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug().Err(err).Str("service", s.name).Dur("retry_in", next).Msg("Subscription failed")
		}),
	)

	s.mu.Lock()
	if s.generation != generation {
		// stopped while subscribing
		s.mu.Unlock()
		if sub != nil {
			unsubscribe(sub, s.name)
		}
		return
	}
	defer s.mu.Unlock()
	if err != nil {
		s.err = fmt.Errorf("%w: %s: %v", models.ErrSyncFailed, s.name, err)
		s.closeReady()
		log.Error().Err(err).Str("service", s.name).Msg("Giving up on subscription")
		return
	}
	s.sub = sub
}

// Stop tears the subscription down and returns the service to idle
func (s *Service[S]) Stop() {
	s.mu.Lock()
	if s.status == Idle {
		s.mu.Unlock()
		return
	}
	s.generation++
	s.status = Idle
	s.err = fmt.Errorf("%w: %s stopped", models.ErrCancelled, s.name)
	s.closeReady()
	cancel, sub := s.cancel, s.sub
	s.cancel, s.sub = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		unsubscribe(sub, s.name)
	}
	log.Debug().Str("service", s.name).Msg("Sync stopped")
}

func unsubscribe(sub chain.StorageSubscription, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sub.Unsubscribe(ctx); err != nil && !errors.Is(err, models.ErrConnectionUnavailable) {
		log.Warn().Err(err).Str("service", name).Msg("Failed to unsubscribe")
	}
}

// Fetch waits until the service is synced and returns the snapshot
func (s *Service[S]) Fetch(ctx context.Context) (S, error) {
	var zero S
	for {
		s.mu.Lock()
		switch {
		case s.status == Idle:
			s.mu.Unlock()
			return zero, fmt.Errorf("%w: %s is not started", models.ErrSyncFailed, s.name)
		case s.err != nil:
			err := s.err
			s.mu.Unlock()
			return zero, err
		case s.status == Synced:
			snapshot := s.snapshot
			s.mu.Unlock()
			return snapshot, nil
		}
		ready := s.ready
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("%w: %v", models.ErrCancelled, ctx.Err())
		case <-ready:
		}
	}
}

// Snapshot returns the current snapshot without waiting, ok is false before the first batch
func (s *Service[S]) Snapshot() (snapshot S, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot, s.received && s.err == nil
}

func (s *Service[S]) apply(generation uint64, changes []chain.StorageChange) {
	s.mu.Lock()
	if s.generation != generation || s.status == Idle {
		s.mu.Unlock()
		return
	}
	snapshot := s.snapshot
	for _, change := range changes {
		entry, ok := s.entries[change.Key.Hex()]
		if !ok {
			continue
		}
		partial, err := entry.Decode(change.Value)
		if err != nil {
			s.err = fmt.Errorf("%w: %s key %s: %v", models.ErrDataCorruption, s.name, change.Key.Hex(), err)
			s.closeReady()
			s.mu.Unlock()
			log.Error().Err(err).Str("service", s.name).Msg("Failed to decode storage change")
			return
		}
		snapshot = s.merge(snapshot, partial)
	}
	s.snapshot = snapshot
	s.received = true
	wasSyncing := s.status == Syncing
	s.status = Synced
	s.closeReady()
	onChange := s.onChange
	s.mu.Unlock()

	if wasSyncing {
		log.Debug().Str("service", s.name).Int("changes", len(changes)).Msg("Synced")
	}
	if onChange != nil {
		onChange(snapshot)
	}
}

func (s *Service[S]) reset(generation uint64, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != generation || s.status == Idle {
		return
	}
	s.status = Syncing
	if !s.readyOpen {
		s.ready = make(chan struct{})
		s.readyOpen = true
	}
	log.Warn().Err(cause).Str("service", s.name).Msg("Subscription reset, resyncing")
	if s.kind != "" {
		metrics.SyncReset(s.kind)
	}
}

func (s *Service[S]) closeReady() {
	if s.readyOpen {
		close(s.ready)
		s.readyOpen = false
	}
}

// sink binds subscription callbacks to one Start generation so late notifications of a
// stopped subscription are ignored.
type sink[S any] struct {
	service    *Service[S]
	generation uint64
}

func (h *sink[S]) OnUpdate(changes chain.StorageChangeSet) {
	h.service.apply(h.generation, changes.Changes)
}

func (h *sink[S]) OnReset(err error) {
	h.service.reset(h.generation, err)
}
