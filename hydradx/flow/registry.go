package flow

import (
	"sync"
	"time"

	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/metrics"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
)

// Key identifies the flow of one account on one chain
type Key struct {
	ChainID string
	Account models.AccountID
}

type registered struct {
	service *Service
	refs    int
	// bumped on every release to zero, stale linger timers compare against it
	epoch uint64
	timer *time.Timer
}

// Registry owns one Service per Key, shared by every concurrent user of the key.
// The last Release stops the service, after linger when it is positive.
type Registry struct {
	create func(Key) *Service
	linger time.Duration

	mu     sync.Mutex
	flows  map[Key]*registered
	closed bool
}

func NewRegistry(create func(Key) *Service, linger time.Duration) *Registry {
	return &Registry{create: create, linger: linger, flows: make(map[Key]*registered)}
}

// GetOrCreate returns the service of key and takes a reference on it, pair every call with Release
func (r *Registry) GetOrCreate(key Key) *Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.flows[key]
	if !ok {
		e = &registered{service: r.create(key)}
		r.flows[key] = e
		metrics.FlowOpened()
		log.Debug().Str("chain", key.ChainID).Str("account", key.Account.String()).Msg("Flow created")
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.refs++
	return e.service
}

// Release drops a reference taken by GetOrCreate
func (r *Registry) Release(key Key) {
	r.mu.Lock()
	e, ok := r.flows[key]
	if !ok || e.refs == 0 {
		r.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return
	}
	e.epoch++
	if r.linger > 0 && !r.closed {
		epoch := e.epoch
		e.timer = time.AfterFunc(r.linger, func() { r.expire(key, e, epoch) })
		r.mu.Unlock()
		return
	}
	delete(r.flows, key)
	r.mu.Unlock()
	r.stop(key, e)
}

func (r *Registry) expire(key Key, e *registered, epoch uint64) {
	r.mu.Lock()
	if r.flows[key] != e || e.refs > 0 || e.epoch != epoch {
		r.mu.Unlock()
		return
	}
	delete(r.flows, key)
	r.mu.Unlock()
	r.stop(key, e)
}

func (r *Registry) stop(key Key, e *registered) {
	e.service.Stop()
	metrics.FlowClosed()
	log.Debug().Str("chain", key.ChainID).Str("account", key.Account.String()).Msg("Flow stopped")
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}

// Close stops every flow regardless of references
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	flows := r.flows
	r.flows = make(map[Key]*registered)
	r.mu.Unlock()

	for key, e := range flows {
		if e.timer != nil {
			e.timer.Stop()
		}
		r.stop(key, e)
	}
}
