package qkey_test

import (
	"testing"

	"github.com/shashiranjanraj/kashvi-query/pkg/qkey"
	"github.com/stretchr/testify/assert"
)

func TestEqual(t *testing.T) {
	a := qkey.New("posts", 1)
	b := qkey.New("posts", 1)
	c := qkey.New("posts", 2)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestHeterogeneousScalars(t *testing.T) {
	k := qkey.New("users", 42, 3.5, true)
	assert.Equal(t, "users_42_3.5_true", k.String())
}

func TestHasPrefix(t *testing.T) {
	posts := qkey.New("posts")
	post1 := qkey.New("posts", 1)
	post1Comments := qkey.New("posts", 1, "comments")
	users := qkey.New("users")

	assert.True(t, post1.HasPrefix(posts))
	assert.True(t, post1Comments.HasPrefix(posts))
	assert.True(t, post1Comments.HasPrefix(post1))
	assert.False(t, users.HasPrefix(posts))
}

func TestEmptyPatternMatchesEverything(t *testing.T) {
	empty := qkey.New()
	assert.True(t, qkey.New("anything", 1).HasPrefix(empty))
	assert.True(t, empty.HasPrefix(empty))
}

func TestHashMemoizedAndStable(t *testing.T) {
	a := qkey.New("posts", 1)
	b := qkey.New("posts", 1)
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestUnsupportedScalarPanics(t *testing.T) {
	assert.Panics(t, func() {
		qkey.New(struct{}{})
	})
}

func TestIntNormalizedToInt64(t *testing.T) {
	a := qkey.New("posts", 1)
	b := qkey.New("posts", int64(1))
	assert.True(t, a.Equal(b))
}
