package mutation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shashiranjanraj/kashvi-query/pkg/mutation"
	"github.com/shashiranjanraj/kashvi-query/pkg/qerror"
	"github.com/shashiranjanraj/kashvi-query/pkg/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutateSuccessCallbacks(t *testing.T) {
	var successCalled, settledCalled bool
	opts := mutation.Options[string, int]{
		OnSuccess: func(data int, vars string) { successCalled = true },
		OnSettled: func(vars string) { settledCalled = true },
	}
	m := mutation.New(func(ctx context.Context, vars string) (int, error) {
		return len(vars), nil
	}, opts)

	data, err := m.Mutate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, 5, data)
	assert.True(t, successCalled)
	assert.True(t, settledCalled)
	assert.Equal(t, query.StatusSuccess, m.Status())
}

func TestMutateErrorCallbacks(t *testing.T) {
	var errCalled, settledCalled bool
	boom := errors.New("boom")

	opts := mutation.Options[string, int]{
		OnError: func(qerr *qerror.QueryError, vars string) {
			errCalled = true
			assert.Equal(t, "x", vars)
		},
		OnSettled: func(vars string) { settledCalled = true },
	}
	m := mutation.New(func(ctx context.Context, vars string) (int, error) {
		return 0, boom
	}, opts)

	_, err := m.Mutate(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, errCalled)
	assert.True(t, settledCalled)
	assert.Equal(t, query.StatusError, m.Status())
}

func TestResetReturnsToIdle(t *testing.T) {
	m := mutation.New(func(ctx context.Context, vars string) (int, error) {
		return 1, nil
	}, mutation.Options[string, int]{})

	_, _ = m.Mutate(context.Background(), "x")
	m.Reset()
	assert.Equal(t, query.StatusIdle, m.Status())
}

func TestUniqueIDPerMutation(t *testing.T) {
	a := mutation.New(func(ctx context.Context, vars string) (int, error) { return 0, nil }, mutation.Options[string, int]{})
	b := mutation.New(func(ctx context.Context, vars string) (int, error) { return 0, nil }, mutation.Options[string, int]{})
	assert.NotEqual(t, a.ID, b.ID)
}
