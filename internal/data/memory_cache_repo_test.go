package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mymuse-io/adcopy-api/internal/testutil"
)

func TestMemoryCacheRepo_SetGet(t *testing.T) {
	repo := NewMemoryCacheRepo(nil)
	ctx := context.Background()

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "k1", []byte("v1"), 0))

		got, err := repo.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), got)
	})

	t.Run("get returns a copy", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "k2", []byte("orig"), 0))

		got, err := repo.Get(ctx, "k2")
		require.NoError(t, err)
		got[0] = 'X'

		again, err := repo.Get(ctx, "k2")
		require.NoError(t, err)
		assert.Equal(t, []byte("orig"), again)
	})

	t.Run("missing key", func(t *testing.T) {
		got, err := repo.Get(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("empty key rejected", func(t *testing.T) {
		require.Error(t, repo.Set(ctx, "", []byte("v"), 0))
		_, err := repo.Get(ctx, "")
		require.Error(t, err)
	})
}

func TestMemoryCacheRepo_LazyExpiry(t *testing.T) {
	tp := NewFixedTimeProvider(testutil.TestTime())
	repo := NewMemoryCacheRepo(tp)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "short", []byte("v"), time.Minute))
	require.NoError(t, repo.Set(ctx, "forever", []byte("v"), 0))

	got, err := repo.Get(ctx, "short")
	require.NoError(t, err)
	assert.NotNil(t, got)

	tp.AddTime(2 * time.Minute)

	// Expired entry is evicted on read.
	got, err = repo.Get(ctx, "short")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 1, repo.Len())

	// No TTL means no expiry.
	got, err = repo.Get(ctx, "forever")
	require.NoError(t, err)
	assert.NotNil(t, got)

	exists, err := repo.Exists(ctx, "short")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryCacheRepo_Delete(t *testing.T) {
	tp := NewFixedTimeProvider(testutil.TestTime())
	repo := NewMemoryCacheRepo(tp)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "k", []byte("v"), 0))

	deleted, err := repo.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.Delete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, deleted)

	// Deleting an expired entry reports false.
	require.NoError(t, repo.Set(ctx, "stale", []byte("v"), time.Second))
	tp.AddTime(time.Minute)
	deleted, err = repo.Delete(ctx, "stale")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestMemoryCacheRepo_DeletePattern(t *testing.T) {
	tp := NewFixedTimeProvider(testutil.TestTime())
	repo := NewMemoryCacheRepo(tp)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "job:1", []byte("v"), 0))
	require.NoError(t, repo.Set(ctx, "job:2", []byte("v"), 0))
	require.NoError(t, repo.Set(ctx, "session:1", []byte("v"), 0))

	t.Run("prefix wildcard", func(t *testing.T) {
		deleted, err := repo.DeletePattern(ctx, "job:*")
		require.NoError(t, err)
		assert.Equal(t, 2, deleted)

		exists, err := repo.Exists(ctx, "session:1")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("expired matches are not counted", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "tmp:live", []byte("v"), 0))
		require.NoError(t, repo.Set(ctx, "tmp:stale", []byte("v"), time.Second))
		tp.AddTime(time.Minute)

		deleted, err := repo.DeletePattern(ctx, "tmp:*")
		require.NoError(t, err)
		assert.Equal(t, 1, deleted)
	})

	t.Run("exact match without wildcard", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "plain", []byte("v"), 0))

		deleted, err := repo.DeletePattern(ctx, "plain")
		require.NoError(t, err)
		assert.Equal(t, 1, deleted)
	})

	t.Run("suffix wildcard", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "a:result", []byte("v"), 0))
		require.NoError(t, repo.Set(ctx, "b:result", []byte("v"), 0))

		deleted, err := repo.DeletePattern(ctx, "*:result")
		require.NoError(t, err)
		assert.Equal(t, 2, deleted)
	})
}

func TestMemoryCacheRepo_Clear(t *testing.T) {
	repo := NewMemoryCacheRepo(nil)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "a", []byte("v"), 0))
	require.NoError(t, repo.Set(ctx, "b", []byte("v"), 0))
	require.NoError(t, repo.Clear(ctx))
	assert.Equal(t, 0, repo.Len())

	assert.NoError(t, repo.Health(ctx))
}

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"job:*", "job:1", true},
		{"job:*", "job:", true},
		{"job:*", "jobs:1", false},
		{"*:done", "job:done", true},
		{"*:done", "done", false},
		{"job:*:result", "job:42:result", true},
		{"job:*:result", "job:result", false},
		{"exact", "exact", true},
		{"exact", "exact2", false},
		{"*", "anything", true},
		{"*", "", true},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, matchPattern(tc.pattern, tc.key),
			"pattern=%q key=%q", tc.pattern, tc.key)
	}
}
