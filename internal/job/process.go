package job

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/koa-group/doc-pipeline/internal/apperr"
	"github.com/koa-group/doc-pipeline/internal/brformat"
	"github.com/koa-group/doc-pipeline/internal/consolidate"
	"github.com/koa-group/doc-pipeline/internal/extract"
	"github.com/koa-group/doc-pipeline/internal/model"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ProcessRun executes the full pipeline for one run: extract every queued
// document, consolidate the patches, render the workbook and publish it.
// Any document failure fails the whole run.
func (s *Service) ProcessRun(ctx context.Context, runID string) {
	log := zap.L().With(zap.String("run_id", runID))

	run, err := s.store.GetRun(ctx, runID)
	if err != nil || run == nil {
		log.Error("run lookup failed", zap.Error(err))
		return
	}
	project, err := s.store.GetProject(ctx, run.ProjectID)
	if err != nil || project == nil {
		log.Error("project vanished before processing", zap.Error(err))
		s.logEvent(ctx, run.ID, model.Event("error", "run_aborted", nil))
		_ = s.store.UpdateRunStatus(ctx, run.ID, model.RunFailed)
		return
	}
	if project.Status == model.ProjectFailed {
		log.Warn("project already failed at kickoff, aborting run")
		s.logEvent(ctx, run.ID, model.Event("error", "run_aborted", nil))
		_ = s.store.UpdateRunStatus(ctx, run.ID, model.RunFailed)
		return
	}

	docs, err := s.store.ListDocumentsByProject(ctx, project.ID)
	if err != nil {
		s.failRun(ctx, project, run, err)
		return
	}

	s.logEvent(ctx, run.ID, model.Event("info", "job_processing_started",
		map[string]any{"run_number": run.Number, "documents": len(docs)}))
	s.notify(ctx, project, run, "job_processing_started", nil)

	var patches []model.Patch
	for i := range docs {
		doc := &docs[i]
		if doc.Status != model.DocQueued {
			continue
		}

		if err := s.store.UpdateDocumentStatus(ctx, doc.ID, model.DocProcessing, ""); err != nil {
			s.failRun(ctx, project, run, err)
			return
		}
		doc.Status = model.DocProcessing
		s.logEvent(ctx, run.ID, model.Event("info", "doc_processing",
			map[string]any{"document_id": doc.ID, "doc_type": string(doc.DocType)}))

		res, err := s.processDocument(ctx, doc)
		if err != nil {
			_ = s.store.UpdateDocumentStatus(ctx, doc.ID, model.DocFailed, err.Error())
			doc.Status = model.DocFailed
			doc.Error = err.Error()
			s.failRun(ctx, project, run, err)
			return
		}

		if err := s.store.SetDocumentPayload(ctx, doc.ID, res.Payload); err != nil {
			s.failRun(ctx, project, run, err)
			return
		}
		if err := s.store.UpdateDocumentStatus(ctx, doc.ID, model.DocDone, ""); err != nil {
			s.failRun(ctx, project, run, err)
			return
		}
		doc.Status = model.DocDone

		if len(res.Warnings) > 0 {
			s.logEvent(ctx, run.ID, model.Event("warning", "doc_warnings",
				map[string]any{"document_id": doc.ID, "warnings": res.Warnings}))
		}
		patches = append(patches, res.Patches...)
	}

	payload, unknown := consolidate.Merge(patches)
	if len(unknown) > 0 {
		s.logEvent(ctx, run.ID, model.Event("warning", "doc_warnings",
			map[string]any{"warnings": unknown}))
	}

	artifact, err := s.writer.Render(payload)
	if err != nil {
		s.failRun(ctx, project, run, err)
		return
	}

	outputPath := fmt.Sprintf("%s/run-%d/Planilha KOA PE - %s.xlsx",
		project.ID, run.Number, brformat.SafeFilename(project.Name))
	if err := s.blobs.Upload(ctx, s.cfg.OutputsBucket, outputPath, artifact, xlsxContentType); err != nil {
		s.failRun(ctx, project, run, apperr.Upstream(err, "job: falha ao publicar planilha"))
		return
	}

	if err := s.store.SetProjectResult(ctx, project.ID, payload, outputPath); err != nil {
		s.failRun(ctx, project, run, err)
		return
	}
	if err := s.store.UpdateRunStatus(ctx, run.ID, model.RunReady); err != nil {
		log.Error("run status update failed", zap.Error(err))
	}
	run.Status = model.RunReady
	if err := s.store.UpdateProjectStatus(ctx, project.ID, model.ProjectReady); err != nil {
		log.Error("project status update failed", zap.Error(err))
	}
	project.Status = model.ProjectReady
	project.OutputPath = outputPath

	details := map[string]any{"output_path": outputPath}
	if url, err := s.blobs.SignedURL(ctx, s.cfg.OutputsBucket, outputPath, s.cfg.SignedURLTTL); err == nil {
		details["output_url"] = url
	}
	s.logEvent(ctx, run.ID, model.Event("info", "job_ready", details))
	s.notify(ctx, project, run, "job_ready", details)
	log.Info("run completed", zap.String("project_id", project.ID), zap.String("output_path", outputPath))
}

// processDocument downloads one document and routes it to the extractor for
// its file extension.
func (s *Service) processDocument(ctx context.Context, doc *model.Document) (*extract.Result, error) {
	content, err := s.blobs.Download(ctx, s.cfg.UploadsBucket, doc.StoragePath)
	if err != nil {
		return nil, apperr.Upstream(err, "job: falha ao baixar documento")
	}

	ext := strings.ToLower(filepath.Ext(doc.OriginalFilename))
	switch {
	case extract.SupportedTabularExt(ext):
		return extract.Tabular(ctx, s.mapper, doc.DocType, content, ext)
	case ext == ".pdf":
		return extract.FromPDF(ctx, s.llm, s.ocr, doc.DocType, content, s.cfg.MinNativeTextChars)
	default:
		return nil, apperr.BadRequest("job: extensão não suportada: %s", ext)
	}
}

// failRun cascades a processing error: the run and project fail, and every
// document that has not reached a terminal state is force-failed.
func (s *Service) failRun(ctx context.Context, project *model.Project, run *model.Run, cause error) {
	zap.L().Error("run failed",
		zap.String("run_id", run.ID),
		zap.String("project_id", project.ID),
		zap.Error(cause),
	)

	docs, err := s.store.ListDocumentsByProject(ctx, project.ID)
	if err != nil {
		zap.L().Error("document cascade listing failed", zap.Error(err))
	}
	for i := range docs {
		if docs[i].Status.Terminal() {
			continue
		}
		if err := s.store.UpdateDocumentStatus(ctx, docs[i].ID, model.DocFailed, cause.Error()); err != nil {
			zap.L().Error("document cascade update failed", zap.String("document_id", docs[i].ID), zap.Error(err))
			continue
		}
		docs[i].Status = model.DocFailed
		docs[i].Error = cause.Error()
	}

	if err := s.store.UpdateRunStatus(ctx, run.ID, model.RunFailed); err != nil {
		zap.L().Error("run status update failed", zap.Error(err))
	}
	run.Status = model.RunFailed
	if err := s.store.UpdateProjectStatus(ctx, project.ID, model.ProjectFailed); err != nil {
		zap.L().Error("project status update failed", zap.Error(err))
	}
	project.Status = model.ProjectFailed

	details := map[string]any{"error": cause.Error()}
	s.logEvent(ctx, run.ID, model.Event("error", "job_failed", details))
	s.notifyWithDocs(ctx, project, run, docs, "job_failed", details)
}

func (s *Service) logEvent(ctx context.Context, runID string, event model.LogEvent) {
	if err := s.store.AppendRunLog(ctx, runID, event); err != nil {
		zap.L().Error("run log append failed", zap.String("run_id", runID), zap.Error(err))
	}
}

func (s *Service) notify(ctx context.Context, project *model.Project, run *model.Run, event string, details map[string]any) {
	docs, err := s.store.ListDocumentsByProject(ctx, project.ID)
	if err != nil {
		zap.L().Error("webhook document listing failed", zap.Error(err))
	}
	s.notifyWithDocs(ctx, project, run, docs, event, details)
}

func (s *Service) notifyWithDocs(_ context.Context, project *model.Project, run *model.Run, docs []model.Document, event string, details map[string]any) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(project, run, docs, event, details)
}
