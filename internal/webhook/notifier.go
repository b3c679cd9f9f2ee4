// Package webhook delivers project lifecycle notifications to the callback
// URL registered on a project. Delivery is fire-and-forget: failures are
// logged and never fail the run that triggered them.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/koa-group/doc-pipeline/internal/model"
	"github.com/koa-group/doc-pipeline/internal/resilience"
)

// Payload is the JSON body posted to the project webhook. External naming
// keeps "job" for runs to match the public API.
type Payload struct {
	Event         string         `json:"event"`
	Timestamp     time.Time      `json:"timestamp"`
	ProjectID     string         `json:"project_id"`
	JobID         string         `json:"job_id"`
	ProjectStatus string         `json:"project_status"`
	JobStatus     string         `json:"job_status"`
	Documents     []DocumentInfo `json:"documents"`
	Details       map[string]any `json:"details,omitempty"`
}

// DocumentInfo is the per-document slice of the payload.
type DocumentInfo struct {
	DocumentID string `json:"document_id"`
	DocType    string `json:"doc_type"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// Option configures the notifier.
type Option func(*Notifier)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(n *Notifier) {
		n.http = hc
	}
}

// WithRetryConfig overrides the delivery retry behavior.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(n *Notifier) {
		n.retry = cfg
	}
}

// WithRateLimit caps outbound deliveries per second.
func WithRateLimit(rps float64) Option {
	return func(n *Notifier) {
		n.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
	}
}

// WithDeliveryTimeout bounds a single delivery including its retries.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		n.deliveryTimeout = d
	}
}

// Notifier posts payloads to project webhooks in background goroutines.
type Notifier struct {
	http            *http.Client
	retry           resilience.RetryConfig
	limiter         *rate.Limiter
	deliveryTimeout time.Duration
	wg              sync.WaitGroup
}

// NewNotifier creates a Notifier with default retry (3 attempts) and a
// 5 req/s delivery rate limit.
func NewNotifier(opts ...Option) *Notifier {
	n := &Notifier{
		http:            &http.Client{Timeout: 10 * time.Second},
		retry:           resilience.DefaultRetryConfig(),
		limiter:         rate.NewLimiter(5, 5),
		deliveryTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify builds the payload for the given event and posts it to the project's
// webhook URL asynchronously. Projects without a webhook are skipped.
func (n *Notifier) Notify(project *model.Project, run *model.Run, docs []model.Document, event string, details map[string]any) {
	if project == nil || project.WebhookURL == "" {
		return
	}

	payload := Payload{
		Event:         event,
		Timestamp:     time.Now().UTC(),
		ProjectID:     project.ID,
		ProjectStatus: string(project.Status),
		Documents:     make([]DocumentInfo, 0, len(docs)),
		Details:       details,
	}
	if run != nil {
		payload.JobID = run.ID
		payload.JobStatus = string(run.Status)
	}
	for _, d := range docs {
		payload.Documents = append(payload.Documents, DocumentInfo{
			DocumentID: d.ID,
			DocType:    string(d.DocType),
			Status:     string(d.Status),
			Error:      d.Error,
		})
	}

	url := project.WebhookURL
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.deliveryTimeout)
		defer cancel()

		if err := n.deliver(ctx, url, payload); err != nil {
			zap.L().Warn("webhook delivery failed",
				zap.String("project_id", payload.ProjectID),
				zap.String("event", payload.Event),
				zap.Error(err),
			)
		}
	}()
}

// Flush blocks until every in-flight delivery has finished.
func (n *Notifier) Flush() {
	n.wg.Wait()
}

func (n *Notifier) deliver(ctx context.Context, url string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "webhook: marshal payload")
	}

	cfg := n.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("webhook", payload.Event)
	}

	return resilience.Do(ctx, cfg, func(ctx context.Context) error {
		if err := n.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "webhook: rate limit wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return eris.Wrap(err, "webhook: create request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.http.Do(req)
		if err != nil {
			return resilience.NewTransientError(eris.Wrap(err, "webhook: post"), 0)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := eris.Errorf("webhook: status %d", resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(err, resp.StatusCode)
			}
			return err
		}
		return nil
	})
}
