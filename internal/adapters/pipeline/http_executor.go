// Package pipeline provides the HTTP adapter that hands jobs to the ad copy
// generation pipeline and interprets its responses.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mymuse-io/adcopy-api/internal/core"
	"github.com/mymuse-io/adcopy-api/internal/domain/model"
	apperrors "github.com/mymuse-io/adcopy-api/internal/errors"
)

const (
	// maxErrorBodyBytes bounds how much of a failure response we keep for the
	// error message.
	maxErrorBodyBytes = 4 * 1024

	defaultPipelineTimeout = 5 * time.Minute
)

// HTTPExecutorOptions configures an HTTPExecutor.
type HTTPExecutorOptions struct {
	Endpoint   string       // Required: pipeline run URL
	HTTPClient *http.Client // Optional: defaults to a client with the pipeline timeout
	Logger     *slog.Logger // Optional
}

// HTTPExecutor runs jobs against the generation pipeline over HTTP. One call
// is one pipeline run: the job goes out as JSON and the terminal status and
// result payload come back in the response body.
type HTTPExecutor struct {
	endpoint string
	http     *http.Client
	logger   *slog.Logger
}

type runRequest struct {
	JobID    string          `json:"job_id"`
	ImageKey string          `json:"image_key"`
	Params   json.RawMessage `json:"params,omitempty"`
}

type runResponse struct {
	Status model.JobStatus `json:"status"`
	Result json.RawMessage `json:"result"`
}

// NewHTTPExecutor constructs an HTTPExecutor.
func NewHTTPExecutor(opts HTTPExecutorOptions) (*HTTPExecutor, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("pipeline endpoint is required")
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultPipelineTimeout}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "pipeline_executor")
	} else {
		logger = slog.Default().With("component", "pipeline_executor")
	}

	return &HTTPExecutor{
		endpoint: opts.Endpoint,
		http:     hc,
		logger:   logger,
	}, nil
}

// Run executes one pipeline run for the given job.
func (e *HTTPExecutor) Run(ctx context.Context, job *model.Job) (*core.PipelineOutcome, error) {
	if job == nil {
		return nil, apperrors.Validation("job is required")
	}

	body, err := json.Marshal(runRequest{
		JobID:    job.JobID,
		ImageKey: job.ImageKey,
		Params:   job.Params,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodePipeline, "encode pipeline request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodePipeline, "build pipeline request")
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.http.Do(req)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodePipeline, "run pipeline for job %s", job.JobID)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			e.logger.WarnContext(ctx, "close pipeline response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		detail := readErrorBody(resp.Body)
		return nil, apperrors.Pipeline(
			fmt.Sprintf("pipeline returned status %d for job %s: %s", resp.StatusCode, job.JobID, detail))
	}

	var decoded runResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodePipeline,
			"decode pipeline response for job %s", job.JobID)
	}

	e.logger.DebugContext(ctx, "pipeline run finished",
		"job_id", job.JobID,
		"status", decoded.Status,
		"duration", time.Since(start),
	)

	return &core.PipelineOutcome{
		Status: decoded.Status,
		Result: decoded.Result,
	}, nil
}

func readErrorBody(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBodyBytes))
	if err != nil || len(data) == 0 {
		return "no response body"
	}
	return string(data)
}
