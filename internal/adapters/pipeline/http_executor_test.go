package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mymuse-io/adcopy-api/internal/domain/model"
	apperrors "github.com/mymuse-io/adcopy-api/internal/errors"
)

func testJob() *model.Job {
	return &model.Job{
		JobID:    "job-123",
		ImageKey: "uploads/banner.png",
		Status:   model.JobStatusProcessing,
		Params:   json.RawMessage(`{"tone":"playful"}`),
	}
}

func TestNewHTTPExecutor(t *testing.T) {
	t.Run("missing endpoint", func(t *testing.T) {
		e, err := NewHTTPExecutor(HTTPExecutorOptions{})
		require.Error(t, err)
		assert.Nil(t, e)
	})

	t.Run("defaults", func(t *testing.T) {
		e, err := NewHTTPExecutor(HTTPExecutorOptions{Endpoint: "http://localhost:9090/run"})
		require.NoError(t, err)
		assert.Equal(t, defaultPipelineTimeout, e.http.Timeout)
	})
}

func TestHTTPExecutor_Run(t *testing.T) {
	t.Run("successful run", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var req struct {
				JobID    string          `json:"job_id"`
				ImageKey string          `json:"image_key"`
				Params   json.RawMessage `json:"params"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "job-123", req.JobID)
			assert.Equal(t, "uploads/banner.png", req.ImageKey)
			assert.JSONEq(t, `{"tone":"playful"}`, string(req.Params))

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"done","result":{"copy":"Buy now"}}`))
		}))
		defer srv.Close()

		e, err := NewHTTPExecutor(HTTPExecutorOptions{Endpoint: srv.URL})
		require.NoError(t, err)

		outcome, err := e.Run(context.Background(), testJob())
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusDone, outcome.Status)
		assert.JSONEq(t, `{"copy":"Buy now"}`, string(outcome.Result))
	})

	t.Run("precheck rejection carried through", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"status":"failed_precheck","result":{"reason":"not an ad image"}}`))
		}))
		defer srv.Close()

		e, err := NewHTTPExecutor(HTTPExecutorOptions{Endpoint: srv.URL})
		require.NoError(t, err)

		outcome, err := e.Run(context.Background(), testJob())
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailedPrecheck, outcome.Status)
	})

	t.Run("non-2xx response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model overloaded", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		e, err := NewHTTPExecutor(HTTPExecutorOptions{Endpoint: srv.URL})
		require.NoError(t, err)

		outcome, err := e.Run(context.Background(), testJob())
		require.Error(t, err)
		assert.Nil(t, outcome)
		assert.True(t, apperrors.IsPipeline(err))
		assert.Contains(t, err.Error(), "503")
		assert.Contains(t, err.Error(), "model overloaded")
	})

	t.Run("malformed response body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}))
		defer srv.Close()

		e, err := NewHTTPExecutor(HTTPExecutorOptions{Endpoint: srv.URL})
		require.NoError(t, err)

		outcome, err := e.Run(context.Background(), testJob())
		require.Error(t, err)
		assert.Nil(t, outcome)
		assert.True(t, apperrors.IsPipeline(err))
	})

	t.Run("context cancellation", func(t *testing.T) {
		block := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			<-block
		}))
		defer srv.Close()
		defer close(block)

		e, err := NewHTTPExecutor(HTTPExecutorOptions{Endpoint: srv.URL})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		outcome, err := e.Run(ctx, testJob())
		require.Error(t, err)
		assert.Nil(t, outcome)
	})

	t.Run("nil job", func(t *testing.T) {
		e, err := NewHTTPExecutor(HTTPExecutorOptions{Endpoint: "http://localhost:9090/run"})
		require.NoError(t, err)

		outcome, err := e.Run(context.Background(), nil)
		require.Error(t, err)
		assert.Nil(t, outcome)
		assert.True(t, apperrors.IsValidation(err))
	})
}
