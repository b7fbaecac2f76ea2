package observable_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain/storage"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/observable"
	"github.com/zeebo/assert"
)

type pair struct {
	A observable.Field[int]
	B observable.Field[int]
}

func mergePair(current, partial pair) pair {
	return pair{A: current.A.Merge(partial.A), B: current.B.Merge(partial.B)}
}

var (
	keyA = storage.DynamicFeeKey(1)
	keyB = storage.DynamicFeeKey(2)
)

func pairDefinition() observable.Definition[pair] {
	return observable.Definition[pair]{
		Name: "pair",
		Entries: []observable.Entry[pair]{
			{Key: keyA, Decode: func(v []byte) (pair, error) {
				if len(v) != 1 {
					return pair{}, errors.New("bad value")
				}
				return pair{A: observable.Defined(int(v[0]))}, nil
			}},
			{Key: keyB, Decode: func(v []byte) (pair, error) {
				if v == nil {
					return pair{B: observable.Defined(0)}, nil
				}
				return pair{B: observable.Defined(int(v[0]))}, nil
			}},
		},
		Merge: mergePair,
		Retry: observable.RetryConfig{InitialInterval: 2 * time.Millisecond, MaxElapsed: 50 * time.Millisecond},
	}
}

type fakeSubscriber struct {
	mu           sync.Mutex
	failures     int
	calls        int
	handler      chain.StorageHandler
	keys         []storage.Key
	unsubscribed int
}

type fakeSubscription struct{ owner *fakeSubscriber }

func (s *fakeSubscription) Unsubscribe(context.Context) error {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	s.owner.unsubscribed++
	return nil
}

func (f *fakeSubscriber) SubscribeStorage(_ context.Context, keys []storage.Key, handler chain.StorageHandler) (chain.StorageSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("node down")
	}
	f.handler = handler
	f.keys = keys
	return &fakeSubscription{owner: f}, nil
}

func (f *fakeSubscriber) waitHandler(t *testing.T) chain.StorageHandler {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		h := f.handler
		f.mu.Unlock()
		if h != nil {
			return h
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("subscription was never established")
	return nil
}

func changeSet(changes ...chain.StorageChange) chain.StorageChangeSet {
	return chain.StorageChangeSet{Block: "0x01", Changes: changes}
}

func fetch(t *testing.T, svc *observable.Service[pair]) (pair, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return svc.Fetch(ctx)
}

func TestField_Merge(t *testing.T) {
	five := observable.Defined(5)
	assert.Equal(t, five.Merge(observable.Undefined[int]()), five)
	assert.Equal(t, five.Merge(observable.Defined(7)).Or(0), 7)
	assert.Equal(t, observable.Undefined[int]().Or(3), 3)

	current := map[int]string{1: "a"}
	merged := observable.MergeMap(current, map[int]string{2: "b"})
	assert.Equal(t, merged, map[int]string{1: "a", 2: "b"})
	assert.Equal(t, len(current), 1)
}

func TestService_MergesPartialChangesInOrder(t *testing.T) {
	sub := &fakeSubscriber{}
	svc := observable.NewService[pair](sub, pairDefinition())
	svc.Start()
	defer svc.Stop()

	h := sub.waitHandler(t)
	assert.Equal(t, len(sub.keys), 2)
	assert.True(t, svc.IsSyncing())

	h.OnUpdate(changeSet(chain.StorageChange{Key: keyA, Value: []byte{5}}))
	h.OnUpdate(changeSet(chain.StorageChange{Key: keyB, Value: []byte{7}}))

	snapshot, err := fetch(t, svc)
	assert.NoError(t, err)
	assert.Equal(t, snapshot.A.Or(-1), 5)
	assert.Equal(t, snapshot.B.Or(-1), 7)
	assert.Equal(t, svc.Status(), observable.Synced)

	// later changes in a batch win over earlier ones
	h.OnUpdate(changeSet(
		chain.StorageChange{Key: keyA, Value: []byte{1}},
		chain.StorageChange{Key: keyA, Value: []byte{2}},
		chain.StorageChange{Key: keyB},
	))
	snapshot, err = fetch(t, svc)
	assert.NoError(t, err)
	assert.Equal(t, snapshot.A.Or(-1), 2)
	assert.Equal(t, snapshot.B.Or(-1), 0)
}

func TestService_FetchWaitsForFirstBatch(t *testing.T) {
	sub := &fakeSubscriber{}
	svc := observable.NewService[pair](sub, pairDefinition())
	svc.Start()
	defer svc.Stop()
	h := sub.waitHandler(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.Fetch(ctx)
	assert.True(t, errors.Is(err, models.ErrCancelled))

	go h.OnUpdate(changeSet(chain.StorageChange{Key: keyA, Value: []byte{9}}))
	snapshot, err := fetch(t, svc)
	assert.NoError(t, err)
	assert.Equal(t, snapshot.A.Or(-1), 9)
	assert.False(t, snapshot.B.IsDefined())
}

func TestService_ResetReentersSyncing(t *testing.T) {
	sub := &fakeSubscriber{}
	svc := observable.NewService[pair](sub, pairDefinition())
	svc.Start()
	defer svc.Stop()
	h := sub.waitHandler(t)

	h.OnUpdate(changeSet(chain.StorageChange{Key: keyA, Value: []byte{1}}))
	_, err := fetch(t, svc)
	assert.NoError(t, err)

	h.OnReset(models.ErrConnectionUnavailable)
	assert.True(t, svc.IsSyncing())
	assert.True(t, observable.AnySyncing(nil, svc))

	h.OnUpdate(changeSet(chain.StorageChange{Key: keyA, Value: []byte{3}}))
	snapshot, err := fetch(t, svc)
	assert.NoError(t, err)
	assert.Equal(t, snapshot.A.Or(-1), 3)
	assert.False(t, observable.AnySyncing(svc))
}

func TestService_RetriesSubscription(t *testing.T) {
	sub := &fakeSubscriber{failures: 2}
	svc := observable.NewService[pair](sub, pairDefinition())
	svc.Start()
	defer svc.Stop()

	h := sub.waitHandler(t)
	h.OnUpdate(changeSet(chain.StorageChange{Key: keyB, Value: []byte{4}}))
	_, err := fetch(t, svc)
	assert.NoError(t, err)

	sub.mu.Lock()
	defer sub.mu.Unlock()
	assert.Equal(t, sub.calls, 3)
}

func TestService_PersistentFailureSurfacesToFetch(t *testing.T) {
	sub := &fakeSubscriber{failures: 1 << 20}
	svc := observable.NewService[pair](sub, pairDefinition())
	svc.Start()
	defer svc.Stop()

	_, err := fetch(t, svc)
	assert.True(t, errors.Is(err, models.ErrSyncFailed))
}

func TestService_DecodeErrorIsDataCorruption(t *testing.T) {
	sub := &fakeSubscriber{}
	svc := observable.NewService[pair](sub, pairDefinition())
	svc.Start()
	defer svc.Stop()
	h := sub.waitHandler(t)

	h.OnUpdate(changeSet(chain.StorageChange{Key: keyA, Value: []byte{1, 2}}))
	_, err := fetch(t, svc)
	assert.True(t, errors.Is(err, models.ErrDataCorruption))
}

func TestService_StopUnsubscribesAndIgnoresLateUpdates(t *testing.T) {
	sub := &fakeSubscriber{}
	var changes int
	def := pairDefinition()
	def.OnChange = func(pair) { changes++ }
	svc := observable.NewService[pair](sub, def)
	svc.Start()
	h := sub.waitHandler(t)
	h.OnUpdate(changeSet(chain.StorageChange{Key: keyA, Value: []byte{1}}))

	svc.Stop()
	assert.Equal(t, svc.Status(), observable.Idle)
	deadline := time.Now().Add(2 * time.Second)
	for {
		sub.mu.Lock()
		n := sub.unsubscribed
		sub.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected one unsubscribe, got %d", n)
		}
		time.Sleep(time.Millisecond)
	}

	h.OnUpdate(changeSet(chain.StorageChange{Key: keyA, Value: []byte{2}}))
	assert.Equal(t, changes, 1)

	_, err := fetch(t, svc)
	assert.True(t, errors.Is(err, models.ErrSyncFailed))
}
