package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koa-group/doc-pipeline/internal/model"
	"github.com/koa-group/doc-pipeline/internal/resilience"
)

func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestNotify_PostsPayload(t *testing.T) {
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	n := NewNotifier(WithRetryConfig(fastRetry(1)))
	project := &model.Project{ID: "proj-1", WebhookURL: srv.URL, Status: model.ProjectReady}
	run := &model.Run{ID: "run-1", Status: model.RunReady}
	docs := []model.Document{
		{ID: "doc-1", DocType: model.DocRecebiveis, Status: model.DocDone},
		{ID: "doc-2", DocType: model.DocLandbank, Status: model.DocFailed, Error: "sem texto"},
	}

	n.Notify(project, run, docs, "job_ready", map[string]any{"output": "signed-url"})
	n.Flush()

	assert.Equal(t, "job_ready", got.Event)
	assert.Equal(t, "proj-1", got.ProjectID)
	assert.Equal(t, "run-1", got.JobID)
	assert.Equal(t, "ready", got.ProjectStatus)
	assert.Equal(t, "ready", got.JobStatus)
	assert.False(t, got.Timestamp.IsZero())
	require.Len(t, got.Documents, 2)
	assert.Equal(t, "doc-2", got.Documents[1].DocumentID)
	assert.Equal(t, "landbank", got.Documents[1].DocType)
	assert.Equal(t, "sem texto", got.Documents[1].Error)
	assert.Equal(t, "signed-url", got.Details["output"])
}

func TestNotify_NoWebhookSkips(t *testing.T) {
	n := NewNotifier(WithRetryConfig(fastRetry(1)))

	n.Notify(&model.Project{ID: "proj-1"}, nil, nil, "job_ready", nil)
	n.Notify(nil, nil, nil, "job_ready", nil)
	n.Flush()
}

func TestNotify_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}))
	defer srv.Close()

	n := NewNotifier(WithRetryConfig(fastRetry(3)))
	project := &model.Project{ID: "proj-1", WebhookURL: srv.URL, Status: model.ProjectProcessing}

	n.Notify(project, nil, nil, "job_processing_started", nil)
	n.Flush()

	assert.Equal(t, int32(3), calls.Load())
}

func TestNotify_GivesUpOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewNotifier(WithRetryConfig(fastRetry(3)))
	project := &model.Project{ID: "proj-1", WebhookURL: srv.URL}

	// Failure must stay internal; Notify never reports it.
	n.Notify(project, nil, nil, "job_failed", nil)
	n.Flush()

	assert.Equal(t, int32(1), calls.Load())
}

func TestNotify_ConcurrentDeliveries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	n := NewNotifier(WithRetryConfig(fastRetry(1)), WithRateLimit(1000))
	project := &model.Project{ID: "proj-1", WebhookURL: srv.URL}

	for i := 0; i < 10; i++ {
		n.Notify(project, nil, nil, "doc_processing", nil)
	}
	n.Flush()

	assert.Equal(t, int32(10), calls.Load())
}
