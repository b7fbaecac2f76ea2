package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"golang.org/x/sync/errgroup"
)

type node struct {
	name string
	deps []*node
	run  func(ctx context.Context) error

	err     error
	settled bool
}

// Dep is anything a node can depend on.
type Dep interface {
	graphNode() *node
}

// Future is the typed result of a node. Value is only meaningful inside dependents
// of the node or after the graph completed without error.
type Future[T any] struct {
	n     *node
	value T
}

func (f *Future[T]) graphNode() *node {
	return f.n
}

func (f *Future[T]) Value() T {
	return f.value
}

// Graph is a DAG of nodes executed on a bounded worker pool. A node runs once all its
// dependencies succeeded. When a dependency fails, its dependents fail with the same
// error without running.
type Graph struct {
	limit int
	nodes []*node
}

// NewGraph creates a graph running at most limit nodes at once
func NewGraph(limit int) *Graph {
	if limit <= 0 {
		limit = 1
	}
	return &Graph{limit: limit}
}

// Add registers a node computing a T after deps
func Add[T any](g *Graph, name string, run func(ctx context.Context) (T, error), deps ...Dep) *Future[T] {
	f := &Future[T]{}
	n := &node{name: name}
	for _, dep := range deps {
		n.deps = append(n.deps, dep.graphNode())
	}
	n.run = func(ctx context.Context) error {
		value, err := run(ctx)
		if err != nil {
			return err
		}
		f.value = value
		return nil
	}
	f.n = n
	g.nodes = append(g.nodes, n)
	return f
}

// Run executes the graph and returns the first node error
func (g *Graph) Run(ctx context.Context) error {
	total := len(g.nodes)
	if total == 0 {
		return nil
	}

	var eg errgroup.Group
	eg.SetLimit(g.limit)

	remaining := make(map[*node]int, total)
	dependents := make(map[*node][]*node, total)
	for _, n := range g.nodes {
		n.err = nil
		n.settled = false
		remaining[n] = len(n.deps)
		for _, dep := range n.deps {
			dependents[dep] = append(dependents[dep], n)
		}
	}

	// every node reports exactly once, so the buffer never fills
	completions := make(chan *node, total)
	start := func(n *node) {
		n.settled = true
		if err := ctx.Err(); err != nil {
			n.err = fmt.Errorf("%w: %s not started: %v", models.ErrCancelled, n.name, err)
			completions <- n
			return
		}
		eg.Go(func() error {
			n.err = n.run(ctx)
			completions <- n
			return nil
		})
	}

	for _, n := range g.nodes {
		if remaining[n] == 0 {
			start(n)
		}
	}

	var firstErr error
	for finished := 0; finished < total; finished++ {
		n := <-completions
		if n.err != nil && firstErr == nil {
			firstErr = n.err
		}
		for _, dependent := range dependents[n] {
			if dependent.settled {
				continue
			}
			if n.err != nil {
				dependent.settled = true
				dependent.err = n.err
				completions <- dependent
				continue
			}
			remaining[dependent]--
			if remaining[dependent] == 0 {
				start(dependent)
			}
		}
	}
	_ = eg.Wait()
	return firstErr
}

// Handle controls an asynchronously running graph.
type Handle struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}

	mu  sync.Mutex
	err error
}

/*
Start runs the graph in the background.

Params:
  - ctx: parent context of every node
  - queue: where completion is dispatched
  - completion: receives the graph result, it is never called once Cancel was called
*/
func (g *Graph) Start(ctx context.Context, queue Queue, completion func(error)) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		err := g.Run(ctx)
		cancel()
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		close(h.done)
		if completion == nil {
			return
		}
		queue.Dispatch(func() {
			if !h.cancelled.Load() {
				completion(err)
			}
		})
	}()
	return h
}

// Cancel stops nodes that did not start yet, cancels the context of running ones and
// suppresses the completion callback.
func (h *Handle) Cancel() {
	h.cancelled.Store(true)
	h.cancel()
}

// Cancelled reports whether Cancel was called
func (h *Handle) Cancelled() bool {
	return h.cancelled.Load()
}

// Wait blocks until the graph finished and returns its result
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.err
	}
}
