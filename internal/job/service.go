// Package job orchestrates pipeline runs: it creates projects, runs and
// documents, processes every document of a run sequentially and publishes
// the consolidated workbook.
package job

import (
	"context"
	"time"

	"github.com/koa-group/doc-pipeline/internal/apperr"
	"github.com/koa-group/doc-pipeline/internal/llm"
	"github.com/koa-group/doc-pipeline/internal/mapping"
	"github.com/koa-group/doc-pipeline/internal/model"
	"github.com/koa-group/doc-pipeline/internal/ocr"
	"github.com/koa-group/doc-pipeline/internal/store"
	"github.com/koa-group/doc-pipeline/internal/template"
	"github.com/koa-group/doc-pipeline/internal/webhook"
	"github.com/koa-group/doc-pipeline/pkg/supastorage"
)

// Config holds the orchestration settings the service needs at runtime.
type Config struct {
	UploadsBucket      string
	OutputsBucket      string
	SignedURLTTL       time.Duration
	MinNativeTextChars int
}

// Service coordinates the stores, extractors and sinks of the pipeline.
type Service struct {
	store    store.Store
	blobs    supastorage.Client
	llm      llm.Client
	mapper   *mapping.Mapper
	ocr      ocr.Extractor
	notifier *webhook.Notifier
	writer   *template.Writer
	cfg      Config

	enqueue func(runID string)
}

// NewService wires the pipeline dependencies together. Call SetEnqueuer (or
// attach a Runner) before creating jobs.
func NewService(
	st store.Store,
	blobs supastorage.Client,
	llmClient llm.Client,
	mapper *mapping.Mapper,
	ocrExt ocr.Extractor,
	notifier *webhook.Notifier,
	writer *template.Writer,
	cfg Config,
) *Service {
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = time.Hour
	}
	return &Service{
		store:    st,
		blobs:    blobs,
		llm:      llmClient,
		mapper:   mapper,
		ocr:      ocrExt,
		notifier: notifier,
		writer:   writer,
		cfg:      cfg,
	}
}

// SetEnqueuer installs the function used to hand runs to the worker.
func (s *Service) SetEnqueuer(fn func(runID string)) {
	s.enqueue = fn
}

// DocumentInput describes one uploaded file in a job request.
type DocumentInput struct {
	DocType          model.DocType `json:"doc_type"`
	StoragePath      string        `json:"storage_path"`
	OriginalFilename string        `json:"original_filename"`
}

// CreateJobRequest is the job submission payload. Exactly one of ProjectID
// and ProjectName must be set.
type CreateJobRequest struct {
	ProjectID   string          `json:"project_id,omitempty"`
	ProjectName string          `json:"project_name,omitempty"`
	WebhookURL  string          `json:"webhook_url,omitempty"`
	Documents   []DocumentInput `json:"documents"`
}

// CreateJob registers the documents, starts a new run for the project and
// enqueues it for processing.
func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*model.Run, error) {
	if (req.ProjectID == "") == (req.ProjectName == "") {
		return nil, apperr.BadRequest("job: exatamente um de project_id ou project_name deve ser informado")
	}
	if len(req.Documents) == 0 {
		return nil, apperr.BadRequest("job: nenhum documento informado")
	}
	for _, d := range req.Documents {
		if d.StoragePath == "" || d.OriginalFilename == "" {
			return nil, apperr.BadRequest("job: documento sem storage_path ou original_filename")
		}
	}

	var project *model.Project
	var err error
	if req.ProjectID != "" {
		project, err = s.store.GetProject(ctx, req.ProjectID)
		if err != nil {
			return nil, err
		}
		if project == nil {
			return nil, apperr.NotFound("job: projeto não encontrado: %s", req.ProjectID)
		}
		if req.WebhookURL != "" && req.WebhookURL != project.WebhookURL {
			if err := s.store.SetProjectWebhook(ctx, project.ID, req.WebhookURL); err != nil {
				return nil, err
			}
			project.WebhookURL = req.WebhookURL
		}
	} else {
		project, err = s.store.CreateProject(ctx, req.ProjectName, req.WebhookURL)
		if err != nil {
			return nil, err
		}
	}
	if project.Status == model.ProjectProcessing {
		return nil, apperr.Conflict("job: projeto %s já está em processamento", project.ID)
	}

	if err := s.store.UpdateProjectStatus(ctx, project.ID, model.ProjectProcessing); err != nil {
		return nil, err
	}

	number, err := s.store.NextRunNumber(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	run, err := s.store.CreateRun(ctx, project.ID, number)
	if err != nil {
		return nil, err
	}

	for _, d := range req.Documents {
		doc, err := s.store.CreateDocument(ctx, project.ID, d.DocType, d.StoragePath, d.OriginalFilename)
		if err != nil {
			return nil, err
		}
		if err := s.store.UpdateDocumentStatus(ctx, doc.ID, model.DocQueued, ""); err != nil {
			return nil, err
		}
	}

	if err := s.store.UpdateRunStatus(ctx, run.ID, model.RunProcessing); err != nil {
		return nil, err
	}
	run.Status = model.RunProcessing

	if s.enqueue != nil {
		s.enqueue(run.ID)
	}
	return run, nil
}

// Reprocess resets every document of the project and starts a fresh run over
// the already-uploaded files.
func (s *Service) Reprocess(ctx context.Context, projectID string) (*model.Run, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, apperr.NotFound("job: projeto não encontrado: %s", projectID)
	}
	if project.Status == model.ProjectProcessing {
		return nil, apperr.Conflict("job: projeto %s já está em processamento", projectID)
	}

	docs, err := s.store.ListDocumentsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, apperr.Conflict("job: projeto %s não possui documentos para reprocessar", projectID)
	}

	if err := s.store.ClearProjectResult(ctx, projectID); err != nil {
		return nil, err
	}
	if err := s.store.RequeueDocuments(ctx, projectID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateProjectStatus(ctx, projectID, model.ProjectProcessing); err != nil {
		return nil, err
	}

	number, err := s.store.NextRunNumber(ctx, projectID)
	if err != nil {
		return nil, err
	}
	run, err := s.store.CreateRun(ctx, projectID, number)
	if err != nil {
		return nil, err
	}
	if err := s.store.AppendRunLog(ctx, run.ID, model.Event("info", "run_reprocess_requested", nil)); err != nil {
		return nil, err
	}
	if err := s.store.UpdateRunStatus(ctx, run.ID, model.RunProcessing); err != nil {
		return nil, err
	}
	run.Status = model.RunProcessing

	if s.enqueue != nil {
		s.enqueue(run.ID)
	}
	return run, nil
}

// GetRunStatus returns the run with its log.
func (s *Service) GetRunStatus(ctx context.Context, runID string) (*model.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, apperr.NotFound("job: run não encontrado: %s", runID)
	}
	return run, nil
}

// ProjectView is the project detail response: the project, its documents,
// its run history and a signed output URL when the result is ready.
type ProjectView struct {
	Project   *model.Project   `json:"project"`
	Documents []model.Document `json:"documents"`
	Runs      []model.Run      `json:"runs"`
	OutputURL string           `json:"output_url,omitempty"`
}

// GetProject returns the project with its documents and runs. For ready
// projects the output artifact gets a fresh signed URL; signing failures
// degrade to an empty URL rather than failing the read.
func (s *Service) GetProject(ctx context.Context, projectID string) (*ProjectView, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, apperr.NotFound("job: projeto não encontrado: %s", projectID)
	}

	docs, err := s.store.ListDocumentsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	runs, err := s.store.ListRunsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	view := &ProjectView{Project: project, Documents: docs, Runs: runs}
	if project.Status == model.ProjectReady && project.OutputPath != "" {
		if url, err := s.blobs.SignedURL(ctx, s.cfg.OutputsBucket, project.OutputPath, s.cfg.SignedURLTTL); err == nil {
			view.OutputURL = url
		}
	}
	return view, nil
}

// GetOutputURL returns a signed URL for the consolidated workbook.
func (s *Service) GetOutputURL(ctx context.Context, projectID string) (string, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return "", err
	}
	if project == nil {
		return "", apperr.NotFound("job: projeto não encontrado: %s", projectID)
	}
	if project.Status != model.ProjectReady || project.OutputPath == "" {
		return "", apperr.Conflict("job: projeto %s ainda não possui planilha consolidada", projectID)
	}

	url, err := s.blobs.SignedURL(ctx, s.cfg.OutputsBucket, project.OutputPath, s.cfg.SignedURLTTL)
	if err != nil {
		return "", apperr.Upstream(err, "job: falha ao assinar URL de saída")
	}
	return url, nil
}

// Metrics returns the operational snapshot.
func (s *Service) Metrics(ctx context.Context) (*store.Metrics, error) {
	return s.store.Metrics(ctx, 20)
}
