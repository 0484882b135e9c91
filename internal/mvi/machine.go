// Package mvi provides a small model/intent/effect state machine. A Machine
// owns one state value; all mutations run on a single loop goroutine, so
// handlers never race. One-shot effects flow out on a separate channel and
// never repeat on re-observation of state.
package mvi

import (
	"context"
	"sync"
)

const (
	taskBuffer   = 64
	effectBuffer = 64
)

// Machine runs intents of type I against state S and emits effects E.
type Machine[S any, I any, E any] struct {
	handle func(ctx context.Context, m *Machine[S, I, E], intent I)

	mu    sync.RWMutex
	state S

	tasks   chan func(context.Context)
	effects chan E

	startOnce sync.Once
	done      chan struct{}
}

// New creates a machine with the given initial state and intent handler.
// The handler runs on the machine loop; blocking work inside it must be
// moved to a goroutine that reports back through SetState or Post.
func New[S any, I any, E any](initial S, handle func(ctx context.Context, m *Machine[S, I, E], intent I)) *Machine[S, I, E] {
	return &Machine[S, I, E]{
		handle:  handle,
		state:   initial,
		tasks:   make(chan func(context.Context), taskBuffer),
		effects: make(chan E, effectBuffer),
		done:    make(chan struct{}),
	}
}

// Start runs the machine loop until ctx is cancelled. Call once.
func (m *Machine[S, I, E]) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		go func() {
			defer close(m.done)
			for {
				select {
				case <-ctx.Done():
					return
				case task := <-m.tasks:
					task(ctx)
				}
			}
		}()
	})
}

// Done is closed when the machine loop has exited.
func (m *Machine[S, I, E]) Done() <-chan struct{} {
	return m.done
}

// Dispatch queues an intent for the loop. It blocks only if the task queue
// is full.
func (m *Machine[S, I, E]) Dispatch(intent I) {
	m.post(func(ctx context.Context) {
		m.handle(ctx, m, intent)
	})
}

// Post queues an arbitrary function on the loop. Background goroutines use
// it to fold results back into state without racing intent handlers.
func (m *Machine[S, I, E]) Post(fn func(ctx context.Context)) {
	m.post(fn)
}

func (m *Machine[S, I, E]) post(fn func(context.Context)) {
	select {
	case m.tasks <- fn:
	case <-m.done:
	}
}

// State returns a snapshot of the current state.
func (m *Machine[S, I, E]) State() S {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// SetState applies reduce to the current state. Callers off the loop should
// wrap it in Post so reductions stay ordered with intent handling.
func (m *Machine[S, I, E]) SetState(reduce func(S) S) {
	m.mu.Lock()
	m.state = reduce(m.state)
	m.mu.Unlock()
}

// Effect emits a one-shot effect. Emission is non-blocking; if the buffer
// is full because no consumer is keeping up, the newly emitted effect is
// dropped.
func (m *Machine[S, I, E]) Effect(e E) {
	select {
	case m.effects <- e:
	default:
	}
}

// Effects is the one-shot effect stream. Each effect is delivered at most
// once.
func (m *Machine[S, I, E]) Effects() <-chan E {
	return m.effects
}
