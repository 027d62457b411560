package main

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mymuse-io/adcopy-api/internal/domain/model"
)

func captureStdout(t *testing.T, f func() error) string {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)

	defer func() {
		os.Stdout = oldStdout
	}()

	os.Stdout = w
	runErr := f()

	require.NoError(t, w.Close())
	os.Stdout = oldStdout
	require.NoError(t, runErr)

	output, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	return string(output)
}

func TestPrintJobStatsIncludesTotal(t *testing.T) {
	stats := &model.JobStats{Queued: 2, Processing: 1, Done: 5, Failed: 1}

	out := captureStdout(t, func() error {
		return printJobStats(stats)
	})

	require.Contains(t, out, "queued")
	require.Contains(t, out, "low_legibility")
	require.Contains(t, out, "total")
	require.Contains(t, out, "9")
}

func TestPrintQueriedJSONAppliesExpression(t *testing.T) {
	jobs := []*model.Job{
		{JobID: "job-1", Status: model.JobStatusDone},
		{JobID: "job-2", Status: model.JobStatusFailed},
	}

	out := captureStdout(t, func() error {
		return printQueriedJSON(jobs, "[?status=='failed'].job_id")
	})

	require.Contains(t, out, "job-2")
	require.NotContains(t, out, "job-1")
}

func TestParseListJobsFlags(t *testing.T) {
	t.Run("requires status", func(t *testing.T) {
		_, err := parseListJobsFlags(nil)
		require.Error(t, err)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		_, err := parseListJobsFlags([]string{"--status", "paused"})
		require.Error(t, err)
	})

	t.Run("rejects bad query", func(t *testing.T) {
		_, err := parseListJobsFlags([]string{"--status", "done", "--query", "[?"})
		require.Error(t, err)
	})

	t.Run("accepts valid flags", func(t *testing.T) {
		opts, err := parseListJobsFlags([]string{"--status", "done", "--limit", "10"})
		require.NoError(t, err)
		require.Equal(t, "done", opts.Status)
		require.Equal(t, 10, opts.Limit)
	})
}

func TestParseInvalidateCacheFlags(t *testing.T) {
	t.Run("defaults to job pattern", func(t *testing.T) {
		opts, err := parseInvalidateCacheFlags(nil)
		require.NoError(t, err)
		require.Equal(t, "job:*", opts.Pattern)
	})

	t.Run("rejects multiple wildcards", func(t *testing.T) {
		_, err := parseInvalidateCacheFlags([]string{"--pattern", "job:*:*"})
		require.Error(t, err)
	})
}
