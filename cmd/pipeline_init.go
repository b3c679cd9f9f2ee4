package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/koa-group/doc-pipeline/internal/job"
	"github.com/koa-group/doc-pipeline/internal/llm"
	"github.com/koa-group/doc-pipeline/internal/mapping"
	"github.com/koa-group/doc-pipeline/internal/ocr"
	"github.com/koa-group/doc-pipeline/internal/resilience"
	"github.com/koa-group/doc-pipeline/internal/store"
	"github.com/koa-group/doc-pipeline/internal/template"
	"github.com/koa-group/doc-pipeline/internal/webhook"
	"github.com/koa-group/doc-pipeline/pkg/supastorage"
)

// pipelineEnv bundles everything a processing command needs.
type pipelineEnv struct {
	Store    store.Store
	Service  *job.Service
	Notifier *webhook.Notifier
}

func (e *pipelineEnv) Close() {
	e.Notifier.Flush()
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "pipeline.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate("pipeline"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	blobs := supastorage.NewClient(cfg.Supabase.URL, cfg.Supabase.ServiceKey,
		supastorage.WithMaxObjectBytes(cfg.Pipeline.MaxDocumentBytes),
	)

	llmClient := llm.NewAnthropic(cfg.LLM.Key, cfg.LLM.Model,
		llm.WithTimeout(time.Duration(cfg.LLM.TimeoutSecs)*time.Second),
	)
	mapper := mapping.NewMapper(llmClient, cfg.Pipeline.MatchThreshold, cfg.Pipeline.HitRateThreshold)

	ocrExtractor, err := ocr.NewExtractor(cfg.OCR)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	notifier := webhook.NewNotifier(
		webhook.WithRetryConfig(resilience.FromRetryConfig(
			cfg.Webhook.MaxAttempts, cfg.Webhook.BackoffBaseMS, 0, 0, 0,
		)),
		webhook.WithRateLimit(cfg.Webhook.RatePerSec),
		webhook.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Webhook.TimeoutSecs) * time.Second,
		}),
	)

	labelSpec, err := template.EnsureLabelSpec(cfg.Template.Path, cfg.Template.LabelSpecPath)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "label spec")
	}
	writer := template.NewWriter(cfg.Template.Path, labelSpec, cfg.Pipeline.MaxTableRows)

	svc := job.NewService(st, blobs, llmClient, mapper, ocrExtractor, notifier, writer, job.Config{
		UploadsBucket:      cfg.Supabase.UploadsBucket,
		OutputsBucket:      cfg.Supabase.OutputsBucket,
		SignedURLTTL:       time.Duration(cfg.Supabase.SignedURLTTLSecs) * time.Second,
		MinNativeTextChars: cfg.Pipeline.MinNativeTextChars,
	})

	return &pipelineEnv{Store: st, Service: svc, Notifier: notifier}, nil
}
