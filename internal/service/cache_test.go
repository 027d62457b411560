package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/mymuse-io/adcopy-api/internal/data"
	"github.com/mymuse-io/adcopy-api/internal/mocks"
)

func newHealthyCacheService(t *testing.T) *CacheService {
	t.Helper()
	svc, err := NewCacheService(context.Background(), CacheServiceOptions{
		Shared:   data.NewMemoryCacheRepo(nil),
		Fallback: data.NewMemoryCacheRepo(nil),
	})
	require.NoError(t, err)
	require.False(t, svc.UsingLocalFallback())
	return svc
}

func TestNewCacheService(t *testing.T) {
	t.Run("healthy shared backend is used", func(t *testing.T) {
		svc := newHealthyCacheService(t)
		assert.False(t, svc.UsingLocalFallback())
		assert.Equal(t, defaultCacheTTL, svc.defaultTTL)
	})

	t.Run("failed probe falls back to local", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		shared := mocks.NewMockCacheRepository(ctrl)
		shared.EXPECT().Health(gomock.Any()).Return(errors.New("dial tcp: connection refused"))

		svc, err := NewCacheService(context.Background(), CacheServiceOptions{
			Shared:   shared,
			Fallback: data.NewMemoryCacheRepo(nil),
		})
		require.NoError(t, err)
		assert.True(t, svc.UsingLocalFallback())

		// The choice is sticky: no further Health calls on the shared backend,
		// and operations land on the fallback.
		assert.True(t, svc.Set(context.Background(), "k", "v", 0))
		value, ok := svc.Get(context.Background(), "k")
		require.True(t, ok)
		assert.Equal(t, "v", value)
	})

	t.Run("missing shared backend", func(t *testing.T) {
		svc, err := NewCacheService(context.Background(), CacheServiceOptions{
			Fallback: data.NewMemoryCacheRepo(nil),
		})
		require.Error(t, err)
		assert.Nil(t, svc)
	})

	t.Run("missing fallback backend", func(t *testing.T) {
		svc, err := NewCacheService(context.Background(), CacheServiceOptions{
			Shared: data.NewMemoryCacheRepo(nil),
		})
		require.Error(t, err)
		assert.Nil(t, svc)
	})
}

func TestMustNewCacheService(t *testing.T) {
	assert.Panics(t, func() {
		MustNewCacheService(context.Background(), CacheServiceOptions{})
	})
}

func TestCacheService_SetGet(t *testing.T) {
	svc := newHealthyCacheService(t)
	ctx := context.Background()

	t.Run("json roundtrip", func(t *testing.T) {
		stored := map[string]any{"headline": "Fresh looks", "score": float64(42)}
		require.True(t, svc.Set(ctx, "copy:1", stored, time.Minute))

		value, ok := svc.Get(ctx, "copy:1")
		require.True(t, ok)
		assert.Equal(t, stored, value)
	})

	t.Run("miss", func(t *testing.T) {
		value, ok := svc.Get(ctx, "absent")
		assert.False(t, ok)
		assert.Nil(t, value)
	})

	t.Run("unencodable value", func(t *testing.T) {
		assert.False(t, svc.Set(ctx, "bad", make(chan int), 0))
	})

	t.Run("undecodable payload returned verbatim", func(t *testing.T) {
		backend := data.NewMemoryCacheRepo(nil)
		svc, err := NewCacheService(context.Background(), CacheServiceOptions{
			Shared:   backend,
			Fallback: data.NewMemoryCacheRepo(nil),
		})
		require.NoError(t, err)
		require.NoError(t, backend.Set(ctx, "raw", []byte("not json at all"), time.Minute))

		value, ok := svc.Get(ctx, "raw")
		require.True(t, ok)
		assert.Equal(t, "not json at all", value)
	})
}

func TestCacheService_DeleteExists(t *testing.T) {
	svc := newHealthyCacheService(t)
	ctx := context.Background()

	require.True(t, svc.Set(ctx, "job:1", "payload", 0))
	assert.True(t, svc.Exists(ctx, "job:1"))
	assert.True(t, svc.Delete(ctx, "job:1"))
	assert.False(t, svc.Exists(ctx, "job:1"))
	assert.False(t, svc.Delete(ctx, "job:1"))
}

func TestCacheService_DeletePattern(t *testing.T) {
	svc := newHealthyCacheService(t)
	ctx := context.Background()

	require.True(t, svc.Set(ctx, JobCacheKey("a"), 1, 0))
	require.True(t, svc.Set(ctx, JobCacheKey("b"), 2, 0))
	require.True(t, svc.Set(ctx, "other:c", 3, 0))

	assert.Equal(t, 2, svc.DeletePattern(ctx, JobCachePattern()))
	assert.False(t, svc.Exists(ctx, JobCacheKey("a")))
	assert.True(t, svc.Exists(ctx, "other:c"))
	assert.Equal(t, 0, svc.DeletePattern(ctx, JobCachePattern()))
}

func TestCacheService_Clear(t *testing.T) {
	svc := newHealthyCacheService(t)
	ctx := context.Background()

	require.True(t, svc.Set(ctx, "a", 1, 0))
	require.True(t, svc.Set(ctx, "b", 2, 0))
	assert.True(t, svc.Clear(ctx))
	assert.False(t, svc.Exists(ctx, "a"))
	assert.False(t, svc.Exists(ctx, "b"))
}

func TestCacheService_FaultContainment(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	backendErr := errors.New("broken pipe")
	shared := mocks.NewMockCacheRepository(ctrl)
	shared.EXPECT().Health(gomock.Any()).Return(nil)
	shared.EXPECT().Set(gomock.Any(), "k", gomock.Any(), gomock.Any()).Return(backendErr)
	shared.EXPECT().Get(gomock.Any(), "k").Return(nil, backendErr)
	shared.EXPECT().Delete(gomock.Any(), "k").Return(false, backendErr)
	shared.EXPECT().Exists(gomock.Any(), "k").Return(false, backendErr)
	shared.EXPECT().DeletePattern(gomock.Any(), "k:*").Return(0, backendErr)
	shared.EXPECT().Clear(gomock.Any()).Return(backendErr)

	svc, err := NewCacheService(context.Background(), CacheServiceOptions{
		Shared:   shared,
		Fallback: data.NewMemoryCacheRepo(nil),
	})
	require.NoError(t, err)
	require.False(t, svc.UsingLocalFallback())

	ctx := context.Background()

	// Every backend failure degrades to a miss or zero value; no call errors out.
	assert.False(t, svc.Set(ctx, "k", "v", 0))
	value, ok := svc.Get(ctx, "k")
	assert.False(t, ok)
	assert.Nil(t, value)
	assert.False(t, svc.Delete(ctx, "k"))
	assert.False(t, svc.Exists(ctx, "k"))
	assert.Equal(t, 0, svc.DeletePattern(ctx, "k:*"))
	assert.False(t, svc.Clear(ctx))
}

func TestCacheService_DefaultTTLApplied(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	shared := mocks.NewMockCacheRepository(ctrl)
	shared.EXPECT().Health(gomock.Any()).Return(nil)
	shared.EXPECT().Set(gomock.Any(), "k", gomock.Any(), 15*time.Minute).Return(nil)

	svc, err := NewCacheService(context.Background(), CacheServiceOptions{
		Shared:     shared,
		Fallback:   data.NewMemoryCacheRepo(nil),
		DefaultTTL: 15 * time.Minute,
	})
	require.NoError(t, err)

	assert.True(t, svc.Set(context.Background(), "k", "v", 0))
}

func TestJobCacheKey(t *testing.T) {
	assert.Equal(t, "job:abc", JobCacheKey("abc"))
	assert.Equal(t, "job:*", JobCachePattern())
}
