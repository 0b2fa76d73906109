package qerror_test

import (
	"errors"
	"testing"

	"github.com/shashiranjanraj/kashvi-query/pkg/qerror"
	"github.com/stretchr/testify/assert"
)

func TestClassifyPassesThroughQueryError(t *testing.T) {
	original := qerror.Configuration("bad config")
	got := qerror.Classify(original)
	assert.Same(t, original, got)
}

func TestClassifyTimeout(t *testing.T) {
	err := qerror.Classify(errors.New("context deadline exceeded"))
	assert.Equal(t, qerror.KindTimeout, err.Kind)
}

func TestClassifyNetwork(t *testing.T) {
	err := qerror.Classify(errors.New("dial tcp: connection refused"))
	assert.Equal(t, qerror.KindNetwork, err.Kind)
}

func TestClassifyUnknown(t *testing.T) {
	err := qerror.Classify(errors.New("something exploded"))
	assert.Equal(t, qerror.KindUnknown, err.Kind)
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	qe := qerror.New(qerror.KindServer, "server failed", cause)
	assert.ErrorIs(t, qe, cause)
}
