package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/mymuse-io/adcopy-api/internal/data"
	"github.com/mymuse-io/adcopy-api/internal/domain/model"
	"github.com/mymuse-io/adcopy-api/internal/mocks"
	"github.com/mymuse-io/adcopy-api/internal/service"
)

type handlerFixture struct {
	repo    *mocks.MockJobRepository
	cache   *service.CacheService
	handler http.Handler
}

func newHandlerFixture(t *testing.T, ctrl *gomock.Controller) *handlerFixture {
	t.Helper()

	repo := mocks.NewMockJobRepository(ctrl)
	jobs := service.MustNewJobService(service.JobServiceOptions{Repo: repo})
	cache := service.MustNewCacheService(context.Background(), service.CacheServiceOptions{
		Shared:   data.NewMemoryCacheRepo(nil),
		Fallback: data.NewMemoryCacheRepo(nil),
	})
	dispatcher := service.MustNewDispatcher(service.DispatcherOptions{
		Jobs:     jobs,
		Executor: mocks.NewMockPipelineExecutor(ctrl),
	})

	handler := NewRouter(RouterServices{
		Jobs:       jobs,
		Cache:      cache,
		Dispatcher: dispatcher,
		BaseURL:    "http://localhost:8080",
	})

	return &handlerFixture{
		repo:    repo,
		cache:   cache,
		handler: handler,
	}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateJob(t *testing.T) {
	t.Run("accepts job with generated id", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		f := newHandlerFixture(t, ctrl)

		f.repo.EXPECT().
			Create(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
				assert.NotEmpty(t, req.JobID)
				assert.Equal(t, "uploads/banner.png", req.ImageKey)
				return &model.Job{
					JobID:    req.JobID,
					ImageKey: req.ImageKey,
					Status:   model.JobStatusQueued,
					Params:   req.Params,
				}, nil
			})

		rec := doJSON(t, f.handler, http.MethodPost, "/api/jobs", map[string]any{
			"image_key": "uploads/banner.png",
			"params":    map[string]string{"tone": "playful"},
		})

		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp struct {
			Job     *model.Job `json:"job"`
			PollURL string     `json:"poll_url"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, model.JobStatusQueued, resp.Job.Status)
		assert.Equal(t, "http://localhost:8080/api/jobs/"+resp.Job.JobID, resp.PollURL)
	})

	t.Run("idempotent resubmission of finished job is not redispatched", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		f := newHandlerFixture(t, ctrl)

		f.repo.EXPECT().
			Create(gomock.Any(), gomock.Any()).
			Return(&model.Job{
				JobID:    "job-123",
				ImageKey: "uploads/banner.png",
				Status:   model.JobStatusDone,
				Result:   json.RawMessage(`{"copy":"Buy now"}`),
			}, nil)

		rec := doJSON(t, f.handler, http.MethodPost, "/api/jobs", map[string]any{
			"job_id":    "job-123",
			"image_key": "uploads/banner.png",
		})

		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp struct {
			Job *model.Job `json:"job"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, model.JobStatusDone, resp.Job.Status)
	})

	t.Run("missing image key", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		f := newHandlerFixture(t, ctrl)

		rec := doJSON(t, f.handler, http.MethodPost, "/api/jobs", map[string]any{
			"job_id": "job-123",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		f := newHandlerFixture(t, ctrl)

		req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader([]byte("not json")))
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetJob(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		f := newHandlerFixture(t, ctrl)

		f.repo.EXPECT().
			GetByID(gomock.Any(), "job-123").
			Return(&model.Job{JobID: "job-123", Status: model.JobStatusProcessing}, nil)

		rec := doJSON(t, f.handler, http.MethodGet, "/api/jobs/job-123", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var job model.Job
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
		assert.Equal(t, model.JobStatusProcessing, job.Status)
	})

	t.Run("missing job returns 404", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		f := newHandlerFixture(t, ctrl)

		f.repo.EXPECT().GetByID(gomock.Any(), "nope").Return(nil, nil)

		rec := doJSON(t, f.handler, http.MethodGet, "/api/jobs/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("terminal job served from cache on second read", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		f := newHandlerFixture(t, ctrl)

		// Storage is consulted exactly once; the second read hits the cache.
		f.repo.EXPECT().
			GetByID(gomock.Any(), "job-123").
			Return(&model.Job{
				JobID:     "job-123",
				Status:    model.JobStatusDone,
				Result:    json.RawMessage(`{"copy":"Buy now"}`),
				CreatedAt: time.Now(),
				UpdatedAt: time.Now(),
			}, nil).
			Times(1)

		first := doJSON(t, f.handler, http.MethodGet, "/api/jobs/job-123", nil)
		require.Equal(t, http.StatusOK, first.Code)

		second := doJSON(t, f.handler, http.MethodGet, "/api/jobs/job-123", nil)
		require.Equal(t, http.StatusOK, second.Code)

		var cached map[string]any
		require.NoError(t, json.Unmarshal(second.Body.Bytes(), &cached))
		assert.Equal(t, "job-123", cached["job_id"])
		assert.Equal(t, string(model.JobStatusDone), cached["status"])
	})

	t.Run("processing job is not cached", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		f := newHandlerFixture(t, ctrl)

		f.repo.EXPECT().
			GetByID(gomock.Any(), "job-456").
			Return(&model.Job{JobID: "job-456", Status: model.JobStatusProcessing}, nil).
			Times(2)

		doJSON(t, f.handler, http.MethodGet, "/api/jobs/job-456", nil)
		doJSON(t, f.handler, http.MethodGet, "/api/jobs/job-456", nil)
	})
}

func TestListJobs(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newHandlerFixture(t, ctrl)

	t.Run("success", func(t *testing.T) {
		f.repo.EXPECT().
			ListByStatus(gomock.Any(), model.JobStatusFailed, 10).
			Return([]*model.Job{{JobID: "job-1", Status: model.JobStatusFailed}}, nil)

		rec := doJSON(t, f.handler, http.MethodGet, "/api/admin/jobs?status=failed&limit=10", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Jobs  []*model.Job `json:"jobs"`
			Count int          `json:"count"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Count)
	})

	t.Run("missing status", func(t *testing.T) {
		rec := doJSON(t, f.handler, http.MethodGet, "/api/admin/jobs", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid status", func(t *testing.T) {
		rec := doJSON(t, f.handler, http.MethodGet, "/api/admin/jobs?status=bogus", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestStats(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newHandlerFixture(t, ctrl)

	f.repo.EXPECT().Stats(gomock.Any()).Return(&model.JobStats{Queued: 3, Done: 4}, nil)

	rec := doJSON(t, f.handler, http.MethodGet, "/api/admin/jobs/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Stats *model.JobStats `json:"stats"`
		Total int             `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 7, resp.Total)
	assert.Equal(t, 3, resp.Stats.Queued)
}

func TestDeleteJob(t *testing.T) {
	t.Run("deletes job and cache entry", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		f := newHandlerFixture(t, ctrl)

		f.cache.Set(context.Background(), service.JobCacheKey("job-123"), "stale", 0)
		f.repo.EXPECT().Delete(gomock.Any(), "job-123").Return(true, nil)

		rec := doJSON(t, f.handler, http.MethodDelete, "/api/admin/jobs/job-123", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, f.cache.Exists(context.Background(), service.JobCacheKey("job-123")))
	})

	t.Run("missing job returns 404", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		f := newHandlerFixture(t, ctrl)

		f.repo.EXPECT().Delete(gomock.Any(), "gone").Return(false, nil)

		rec := doJSON(t, f.handler, http.MethodDelete, "/api/admin/jobs/gone", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestInvalidateCache(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newHandlerFixture(t, ctrl)

	ctx := context.Background()
	f.cache.Set(ctx, service.JobCacheKey("a"), 1, 0)
	f.cache.Set(ctx, service.JobCacheKey("b"), 2, 0)
	f.cache.Set(ctx, "other:c", 3, 0)

	rec := doJSON(t, f.handler, http.MethodPost, "/api/admin/cache/invalidate", map[string]string{})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Pattern string `json:"pattern"`
		Deleted int    `json:"deleted"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, service.JobCachePattern(), resp.Pattern)
	assert.Equal(t, 2, resp.Deleted)
	assert.True(t, f.cache.Exists(ctx, "other:c"))
}
