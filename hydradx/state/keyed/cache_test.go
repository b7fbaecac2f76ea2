package keyed_test

import (
	"sync"
	"testing"

	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/state/keyed"
	"github.com/zeebo/assert"
)

type fakeService struct {
	mu      sync.Mutex
	key     string
	starts  int
	stops   int
	running bool
}

func (f *fakeService) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.running = true
}

func (f *fakeService) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.running = false
}

func (f *fakeService) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

func newCache(created *[]*fakeService) *keyed.Cache[string, *fakeService] {
	var mu sync.Mutex
	return keyed.New("test", func(key string) *fakeService {
		mu.Lock()
		defer mu.Unlock()
		svc := &fakeService{key: key}
		*created = append(*created, svc)
		return svc
	})
}

func TestAcquire_CreatesOncePerKey(t *testing.T) {
	var created []*fakeService
	cache := newCache(&created)
	cache.Use("a")

	first, releaseFirst := cache.Acquire("a")
	second, releaseSecond := cache.Acquire("a")
	assert.True(t, first == second)
	assert.Equal(t, len(created), 1)

	starts, _ := first.counts()
	assert.Equal(t, starts, 1)

	releaseFirst()
	releaseSecond()
	assert.Equal(t, cache.Len(), 1)
}

func TestRelease_StopsEntryOutsideCurrentSet(t *testing.T) {
	var created []*fakeService
	cache := newCache(&created)

	svc, release := cache.Acquire("transient")
	release()
	release()

	_, stops := svc.counts()
	assert.Equal(t, stops, 1)
	assert.Equal(t, cache.Len(), 0)
}

func TestUse_TearsDownStaleKeyAfterLastRelease(t *testing.T) {
	var created []*fakeService
	cache := newCache(&created)
	cache.Use("a")

	a, releaseA := cache.Acquire("a")
	releaseA()

	// a is still referenced by an in-flight consumer when the key changes
	_, releaseAgain := cache.Acquire("a")
	cache.Use("b")
	_, stops := a.counts()
	assert.Equal(t, stops, 0)

	releaseAgain()
	_, stops = a.counts()
	assert.Equal(t, stops, 1)

	_, ok := cache.Peek("a")
	assert.False(t, ok)
}

func TestUse_StopsUnreferencedEntriesImmediately(t *testing.T) {
	var created []*fakeService
	cache := newCache(&created)
	cache.Use("a", "b")

	a, releaseA := cache.Acquire("a")
	releaseA()
	b, releaseB := cache.Acquire("b")
	releaseB()

	cache.Use("b")
	_, stopsA := a.counts()
	_, stopsB := b.counts()
	assert.Equal(t, stopsA, 1)
	assert.Equal(t, stopsB, 0)
	assert.Equal(t, cache.Len(), 1)
}

func TestAcquire_AfterTeardownCreatesFreshEntry(t *testing.T) {
	var created []*fakeService
	cache := newCache(&created)

	_, release := cache.Acquire("a")
	release()
	again, releaseAgain := cache.Acquire("a")
	defer releaseAgain()

	assert.Equal(t, len(created), 2)
	assert.True(t, again == created[1])
}

func TestClose(t *testing.T) {
	var created []*fakeService
	cache := newCache(&created)
	cache.Use("idle", "busy")

	idle, releaseIdle := cache.Acquire("idle")
	releaseIdle()
	busy, releaseBusy := cache.Acquire("busy")

	cache.Close()
	_, stopsIdle := idle.counts()
	_, stopsBusy := busy.counts()
	assert.Equal(t, stopsIdle, 1)
	assert.Equal(t, stopsBusy, 0)

	releaseBusy()
	_, stopsBusy = busy.counts()
	assert.Equal(t, stopsBusy, 1)
	assert.Equal(t, cache.Len(), 0)
}

func TestAcquire_Concurrent(t *testing.T) {
	var created []*fakeService
	cache := newCache(&created)
	cache.Use("shared")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, release := cache.Acquire("shared")
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, len(created), 1)
	assert.Equal(t, len(cache.Values()), 1)
}
