package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/koa-group/doc-pipeline/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses, satisfied by pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"get_project":     `SELECT id, name, webhook_url, status, consolidated_payload, output_path, created_at, updated_at FROM projects WHERE id = $1`,
	"update_project":  `UPDATE projects SET status = $1, updated_at = $2 WHERE id = $3`,
	"get_run":         `SELECT id, project_id, run_number, status, logs, created_at, updated_at FROM runs WHERE id = $1`,
	"update_run":      `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"append_run_log":  `UPDATE runs SET logs = logs || $1::jsonb, updated_at = $2 WHERE id = $3`,
	"update_document": `UPDATE documents SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
	"list_documents":  `SELECT id, project_id, doc_type, storage_path, original_filename, status, error, extracted_payload, created_at, updated_at FROM documents WHERE project_id = $1 ORDER BY created_at ASC, id ASC`,
	"next_run_number": `SELECT COALESCE(MAX(run_number), 0) + 1 FROM runs WHERE project_id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name                 TEXT NOT NULL,
	webhook_url          TEXT,
	status               TEXT NOT NULL DEFAULT 'created',
	consolidated_payload JSONB,
	output_path          TEXT,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id TEXT NOT NULL REFERENCES projects(id),
	run_number INTEGER NOT NULL,
	status     TEXT NOT NULL DEFAULT 'created',
	logs       JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS documents (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id        TEXT NOT NULL REFERENCES projects(id),
	doc_type          TEXT NOT NULL,
	storage_path      TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'created',
	error             TEXT,
	extracted_payload JSONB,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status);
CREATE INDEX IF NOT EXISTS idx_runs_project_id ON runs(project_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_project_number ON runs(project_id, run_number);
CREATE INDEX IF NOT EXISTS idx_documents_project_id ON documents(project_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) CreateProject(ctx context.Context, name, webhookURL string) (*model.Project, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO projects (id, name, webhook_url, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, name, nullableString(webhookURL), string(model.ProjectCreated), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert project")
	}

	return &model.Project{
		ID:         id,
		Name:       name,
		WebhookURL: webhookURL,
		Status:     model.ProjectCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	var p model.Project
	var webhook, outputPath *string
	var payloadJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, webhook_url, status, consolidated_payload, output_path, created_at, updated_at FROM projects WHERE id = $1`,
		projectID,
	).Scan(&p.ID, &p.Name, &webhook, &p.Status, &payloadJSON, &outputPath, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get project %s", projectID)
	}

	if webhook != nil {
		p.WebhookURL = *webhook
	}
	if outputPath != nil {
		p.OutputPath = *outputPath
	}
	if len(payloadJSON) > 0 {
		p.ConsolidatedPayload = &model.ConsolidatedPayload{}
		if err := json.Unmarshal(payloadJSON, p.ConsolidatedPayload); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal consolidated payload")
		}
	}
	return &p, nil
}

func (s *PostgresStore) UpdateProjectStatus(ctx context.Context, projectID string, status model.ProjectStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), projectID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update project status %s", projectID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("project not found: %s", projectID)
	}
	return nil
}

func (s *PostgresStore) SetProjectWebhook(ctx context.Context, projectID, webhookURL string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET webhook_url = $1, updated_at = $2 WHERE id = $3`,
		nullableString(webhookURL), time.Now().UTC(), projectID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set project webhook %s", projectID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("project not found: %s", projectID)
	}
	return nil
}

func (s *PostgresStore) SetProjectResult(ctx context.Context, projectID string, payload *model.ConsolidatedPayload, outputPath string) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal consolidated payload")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET consolidated_payload = $1, output_path = $2, updated_at = $3 WHERE id = $4`,
		payloadJSON, outputPath, time.Now().UTC(), projectID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set project result %s", projectID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("project not found: %s", projectID)
	}
	return nil
}

func (s *PostgresStore) ClearProjectResult(ctx context.Context, projectID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET consolidated_payload = NULL, output_path = NULL, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), projectID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: clear project result %s", projectID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("project not found: %s", projectID)
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, projectID string, number int) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, project_id, run_number, status, logs, created_at, updated_at) VALUES ($1, $2, $3, $4, '[]'::jsonb, $5, $6)`,
		id, projectID, number, string(model.RunCreated), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert run for project %s", projectID)
	}

	return &model.Run{
		ID:        id,
		ProjectID: projectID,
		Number:    number,
		Status:    model.RunCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var logsJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, run_number, status, logs, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.ProjectID, &r.Number, &r.Status, &logsJSON, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if err := json.Unmarshal(logsJSON, &r.Logs); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal run logs")
	}
	return &r, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) AppendRunLog(ctx context.Context, runID string, event model.LogEvent) error {
	eventJSON, err := json.Marshal([]model.LogEvent{event})
	if err != nil {
		return eris.Wrap(err, "postgres: marshal log event")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET logs = logs || $1::jsonb, updated_at = $2 WHERE id = $3`,
		eventJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: append run log %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRunsByProject(ctx context.Context, projectID string) ([]model.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, run_number, status, logs, created_at, updated_at
		 FROM runs WHERE project_id = $1 ORDER BY run_number ASC`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list runs %s", projectID)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var logsJSON []byte
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Number, &r.Status, &logsJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if err := json.Unmarshal(logsJSON, &r.Logs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run logs")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) NextRunNumber(ctx context.Context, projectID string) (int, error) {
	var next int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(run_number), 0) + 1 FROM runs WHERE project_id = $1`,
		projectID,
	).Scan(&next)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: next run number %s", projectID)
	}
	return next, nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, projectID string, docType model.DocType, storagePath, originalFilename string) (*model.Document, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, project_id, doc_type, storage_path, original_filename, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, projectID, string(docType), storagePath, originalFilename, string(model.DocCreated), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert document for project %s", projectID)
	}

	return &model.Document{
		ID:               id,
		ProjectID:        projectID,
		DocType:          docType,
		StoragePath:      storagePath,
		OriginalFilename: originalFilename,
		Status:           model.DocCreated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func (s *PostgresStore) UpdateDocumentStatus(ctx context.Context, docID string, status model.DocumentStatus, errText string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(status), nullableString(errText), time.Now().UTC(), docID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update document status %s", docID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("document not found: %s", docID)
	}
	return nil
}

func (s *PostgresStore) SetDocumentPayload(ctx context.Context, docID string, payload map[string]any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal extracted payload")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET extracted_payload = $1, updated_at = $2 WHERE id = $3`,
		payloadJSON, time.Now().UTC(), docID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set document payload %s", docID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("document not found: %s", docID)
	}
	return nil
}

func (s *PostgresStore) RequeueDocuments(ctx context.Context, projectID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $1, error = NULL, extracted_payload = NULL, updated_at = $2 WHERE project_id = $3`,
		string(model.DocQueued), time.Now().UTC(), projectID,
	)
	return eris.Wrapf(err, "postgres: requeue documents %s", projectID)
}

func (s *PostgresStore) ListDocumentsByProject(ctx context.Context, projectID string) ([]model.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, doc_type, storage_path, original_filename, status, error, extracted_payload, created_at, updated_at
		 FROM documents WHERE project_id = $1 ORDER BY created_at ASC, id ASC`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list documents %s", projectID)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var d model.Document
		var errText *string
		var payloadJSON []byte
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.DocType, &d.StoragePath, &d.OriginalFilename,
			&d.Status, &errText, &payloadJSON, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		if errText != nil {
			d.Error = *errText
		}
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &d.ExtractedPayload); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal extracted payload")
			}
		}
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: list documents iterate")
}

func (s *PostgresStore) Metrics(ctx context.Context, recentLogs int) (*Metrics, error) {
	m := &Metrics{}

	projects, err := s.statusCounts(ctx, "projects")
	if err != nil {
		return nil, err
	}
	m.Projects = projects

	runs, err := s.statusCounts(ctx, "runs")
	if err != nil {
		return nil, err
	}
	m.Runs = runs

	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents`).Scan(&m.Documents); err != nil {
		return nil, eris.Wrap(err, "postgres: count documents")
	}

	if recentLogs <= 0 {
		recentLogs = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, logs FROM runs ORDER BY updated_at DESC LIMIT $1`,
		recentLogs,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: recent logs")
	}
	defer rows.Close()

	var entries []RecentLog
	for rows.Next() {
		var runID, projectID string
		var logsJSON []byte
		if err := rows.Scan(&runID, &projectID, &logsJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan recent logs")
		}
		var events []model.LogEvent
		if err := json.Unmarshal(logsJSON, &events); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal recent logs")
		}
		for _, ev := range events {
			entries = append(entries, RecentLog{LogEvent: ev, RunID: runID, ProjectID: projectID})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: recent logs iterate")
	}
	m.RecentLogs = sortAndTrimLogs(entries, recentLogs)

	return m, nil
}

func (s *PostgresStore) statusCounts(ctx context.Context, table string) (StatusCounts, error) {
	var sc StatusCounts
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM `+table+` GROUP BY status`,
	)
	if err != nil {
		return sc, eris.Wrapf(err, "postgres: status counts %s", table)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return sc, eris.Wrap(err, "postgres: scan status counts")
		}
		sc.add(status, n)
	}
	return sc, eris.Wrapf(rows.Err(), "postgres: status counts %s iterate", table)
}
