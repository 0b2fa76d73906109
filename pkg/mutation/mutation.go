// Package mutation implements Mutation: a stateless-between-calls write
// operation that publishes loading/success/error status the same way
// Query does, grounded on the cacheEntry status enum in pkg/query but
// without any cache slot of its own (mutations are not cached).
package mutation

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/shashiranjanraj/kashvi-query/pkg/qerror"
	"github.com/shashiranjanraj/kashvi-query/pkg/query"
	"github.com/shashiranjanraj/kashvi-query/pkg/signal"
)

// MutateFunc performs the mutation's side effect.
type MutateFunc[TVars, TData any] func(ctx context.Context, vars TVars) (TData, error)

// Options configures callbacks invoked around Mutate.
type Options[TVars, TData any] struct {
	OnSuccess func(data TData, vars TVars)
	OnError   func(err *qerror.QueryError, vars TVars)
	OnSettled func(vars TVars)
}

// Mutation is a single, per-caller write operation. Unlike Query it has
// no dedup and no cache entry: every Mutate call runs fresh.
type Mutation[TVars, TData any] struct {
	ID string

	fn   MutateFunc[TVars, TData]
	opts Options[TVars, TData]

	mu       sync.Mutex
	disposed bool

	DataSignal   *signal.Signal[TData]
	StatusSignal *signal.Signal[query.Status]
	ErrorSignal  *signal.Signal[*qerror.QueryError]
}

// New constructs a Mutation whose ID is a freshly generated UUID.
func New[TVars, TData any](fn MutateFunc[TVars, TData], opts Options[TVars, TData]) *Mutation[TVars, TData] {
	return &Mutation[TVars, TData]{
		ID:           uuid.NewString(),
		fn:           fn,
		opts:         opts,
		DataSignal:   signal.New(*new(TData)),
		StatusSignal: signal.New(query.StatusIdle),
		ErrorSignal:  signal.New[*qerror.QueryError](nil),
	}
}

// Mutate runs the mutation function once, publishing loading then a
// terminal status, and firing the configured callbacks in order:
// (onSuccess|onError) then onSettled.
func (m *Mutation[TVars, TData]) Mutate(ctx context.Context, vars TVars) (TData, error) {
	var zero TData

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return zero, context.Canceled
	}
	m.mu.Unlock()

	m.StatusSignal.Set(query.StatusLoading)
	m.ErrorSignal.Set(nil)

	data, err := m.fn(ctx, vars)

	m.mu.Lock()
	disposed := m.disposed
	m.mu.Unlock()
	if disposed {
		return zero, context.Canceled
	}

	if err != nil {
		qerr := qerror.Classify(err)
		m.StatusSignal.Set(query.StatusError)
		m.ErrorSignal.Set(qerr)
		if m.opts.OnError != nil {
			m.opts.OnError(qerr, vars)
		}
		if m.opts.OnSettled != nil {
			m.opts.OnSettled(vars)
		}
		return zero, qerr
	}

	m.DataSignal.Set(data)
	m.StatusSignal.Set(query.StatusSuccess)
	if m.opts.OnSuccess != nil {
		m.opts.OnSuccess(data, vars)
	}
	if m.opts.OnSettled != nil {
		m.opts.OnSettled(vars)
	}
	return data, nil
}

// Reset returns the mutation to idle, clearing its last result/error.
func (m *Mutation[TVars, TData]) Reset() {
	m.StatusSignal.Set(query.StatusIdle)
	m.ErrorSignal.Set(nil)
	m.DataSignal.Set(*new(TData))
}

// Status returns the mutation's current status.
func (m *Mutation[TVars, TData]) Status() query.Status { return m.StatusSignal.Value() }

// Dispose tears down the mutation's signals. Idempotent.
func (m *Mutation[TVars, TData]) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.mu.Unlock()

	m.DataSignal.Dispose()
	m.StatusSignal.Dispose()
	m.ErrorSignal.Dispose()
}
