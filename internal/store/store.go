// Package store persists projects, runs and documents. Production runs on
// Postgres (the Supabase database); SQLite backs local development and tests.
package store

import (
	"context"

	"github.com/koa-group/doc-pipeline/internal/model"
)

// StatusCounts aggregates entities by lifecycle status.
type StatusCounts struct {
	Total      int `json:"total"`
	Created    int `json:"created"`
	Processing int `json:"processing"`
	Ready      int `json:"ready"`
	Failed     int `json:"failed"`
}

// RecentLog is a run log entry enriched with its origin for the metrics feed.
type RecentLog struct {
	model.LogEvent
	RunID     string `json:"run_id"`
	ProjectID string `json:"project_id"`
}

// Metrics is the operational snapshot served by GET /metrics.
type Metrics struct {
	Projects   StatusCounts `json:"projects"`
	Runs       StatusCounts `json:"runs"`
	Documents  int          `json:"documents"`
	RecentLogs []RecentLog  `json:"recent_logs"`
}

// Store defines the persistence interface for the document pipeline.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, name, webhookURL string) (*model.Project, error)
	GetProject(ctx context.Context, projectID string) (*model.Project, error)
	UpdateProjectStatus(ctx context.Context, projectID string, status model.ProjectStatus) error
	SetProjectWebhook(ctx context.Context, projectID, webhookURL string) error
	SetProjectResult(ctx context.Context, projectID string, payload *model.ConsolidatedPayload, outputPath string) error
	ClearProjectResult(ctx context.Context, projectID string) error

	// Runs
	CreateRun(ctx context.Context, projectID string, number int) (*model.Run, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	AppendRunLog(ctx context.Context, runID string, event model.LogEvent) error
	ListRunsByProject(ctx context.Context, projectID string) ([]model.Run, error)
	NextRunNumber(ctx context.Context, projectID string) (int, error)

	// Documents
	CreateDocument(ctx context.Context, projectID string, docType model.DocType, storagePath, originalFilename string) (*model.Document, error)
	UpdateDocumentStatus(ctx context.Context, docID string, status model.DocumentStatus, errText string) error
	SetDocumentPayload(ctx context.Context, docID string, payload map[string]any) error
	RequeueDocuments(ctx context.Context, projectID string) error
	ListDocumentsByProject(ctx context.Context, projectID string) ([]model.Document, error)

	// Metrics
	Metrics(ctx context.Context, recentLogs int) (*Metrics, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
