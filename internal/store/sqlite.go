package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/koa-group/doc-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	webhook_url          TEXT,
	status               TEXT NOT NULL DEFAULT 'created',
	consolidated_payload TEXT,
	output_path          TEXT,
	created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	run_number INTEGER NOT NULL,
	status     TEXT NOT NULL DEFAULT 'created',
	logs       TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS documents (
	id                TEXT PRIMARY KEY,
	project_id        TEXT NOT NULL REFERENCES projects(id),
	doc_type          TEXT NOT NULL,
	storage_path      TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'created',
	error             TEXT,
	extracted_payload TEXT,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status);
CREATE INDEX IF NOT EXISTS idx_runs_project_id ON runs(project_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_project_number ON runs(project_id, run_number);
CREATE INDEX IF NOT EXISTS idx_documents_project_id ON documents(project_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateProject(ctx context.Context, name, webhookURL string) (*model.Project, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, webhook_url, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, name, nullableString(webhookURL), string(model.ProjectCreated), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert project")
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

func (s *SQLiteStore) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, webhook_url, status, consolidated_payload, output_path, created_at, updated_at
		 FROM projects WHERE id = ?`,
		projectID,
	)

	var p model.Project
	var webhook, payloadJSON, outputPath sql.NullString
	err := row.Scan(&p.ID, &p.Name, &webhook, &p.Status, &payloadJSON, &outputPath, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get project %s", projectID)
	}

	p.WebhookURL = webhook.String
	p.OutputPath = outputPath.String
	if payloadJSON.Valid && payloadJSON.String != "" {
		p.ConsolidatedPayload = &model.ConsolidatedPayload{}
		if err := json.Unmarshal([]byte(payloadJSON.String), p.ConsolidatedPayload); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal consolidated payload")
		}
	}
	return &p, nil
}

func (s *SQLiteStore) UpdateProjectStatus(ctx context.Context, projectID string, status model.ProjectStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), projectID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update project status %s", projectID)
	}
	return checkRowsAffected(res, "project", projectID)
}

func (s *SQLiteStore) SetProjectWebhook(ctx context.Context, projectID, webhookURL string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET webhook_url = ?, updated_at = ? WHERE id = ?`,
		nullableString(webhookURL), time.Now().UTC(), projectID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set project webhook %s", projectID)
	}
	return checkRowsAffected(res, "project", projectID)
}

func (s *SQLiteStore) SetProjectResult(ctx context.Context, projectID string, payload *model.ConsolidatedPayload, outputPath string) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal consolidated payload")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET consolidated_payload = ?, output_path = ?, updated_at = ? WHERE id = ?`,
		string(payloadJSON), outputPath, time.Now().UTC(), projectID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set project result %s", projectID)
	}
	return checkRowsAffected(res, "project", projectID)
}

func (s *SQLiteStore) ClearProjectResult(ctx context.Context, projectID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET consolidated_payload = NULL, output_path = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), projectID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: clear project result %s", projectID)
	}
	return checkRowsAffected(res, "project", projectID)
}

func (s *SQLiteStore) CreateRun(ctx context.Context, projectID string, number int) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, project_id, run_number, status, logs, created_at, updated_at) VALUES (?, ?, ?, ?, '[]', ?, ?)`,
		id, projectID, number, string(model.RunCreated), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert run for project %s", projectID)
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

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, run_number, status, logs, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)

	var r model.Run
	var logsJSON string
	err := row.Scan(&r.ID, &r.ProjectID, &r.Number, &r.Status, &logsJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	if err := json.Unmarshal([]byte(logsJSON), &r.Logs); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal run logs")
	}
	return &r, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) AppendRunLog(ctx context.Context, runID string, event model.LogEvent) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal log event")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET logs = json_insert(logs, '$[#]', json(?)), updated_at = ? WHERE id = ?`,
		string(eventJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: append run log %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ListRunsByProject(ctx context.Context, projectID string) ([]model.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, run_number, status, logs, created_at, updated_at
		 FROM runs WHERE project_id = ? ORDER BY run_number ASC`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list runs %s", projectID)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var logsJSON string
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Number, &r.Status, &logsJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if err := json.Unmarshal([]byte(logsJSON), &r.Logs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run logs")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) NextRunNumber(ctx context.Context, projectID string) (int, error) {
	var latest sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(run_number) FROM runs WHERE project_id = ?`,
		projectID,
	).Scan(&latest)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: next run number %s", projectID)
	}
	return int(latest.Int64) + 1, nil
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, projectID string, docType model.DocType, storagePath, originalFilename string) (*model.Document, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, project_id, doc_type, storage_path, original_filename, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, projectID, string(docType), storagePath, originalFilename, string(model.DocCreated), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert document for project %s", projectID)
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

func (s *SQLiteStore) UpdateDocumentStatus(ctx context.Context, docID string, status model.DocumentStatus, errText string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), nullableString(errText), time.Now().UTC(), docID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update document status %s", docID)
	}
	return checkRowsAffected(res, "document", docID)
}

func (s *SQLiteStore) SetDocumentPayload(ctx context.Context, docID string, payload map[string]any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal extracted payload")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET extracted_payload = ?, updated_at = ? WHERE id = ?`,
		string(payloadJSON), time.Now().UTC(), docID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set document payload %s", docID)
	}
	return checkRowsAffected(res, "document", docID)
}

func (s *SQLiteStore) RequeueDocuments(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error = NULL, extracted_payload = NULL, updated_at = ? WHERE project_id = ?`,
		string(model.DocQueued), time.Now().UTC(), projectID,
	)
	return eris.Wrapf(err, "sqlite: requeue documents %s", projectID)
}

func (s *SQLiteStore) ListDocumentsByProject(ctx context.Context, projectID string) ([]model.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, doc_type, storage_path, original_filename, status, error, extracted_payload, created_at, updated_at
		 FROM documents WHERE project_id = ? ORDER BY created_at ASC, id ASC`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list documents %s", projectID)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var d model.Document
		var errText, payloadJSON sql.NullString
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.DocType, &d.StoragePath, &d.OriginalFilename,
			&d.Status, &errText, &payloadJSON, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		d.Error = errText.String
		if payloadJSON.Valid && payloadJSON.String != "" {
			if err := json.Unmarshal([]byte(payloadJSON.String), &d.ExtractedPayload); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal extracted payload")
			}
		}
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: list documents iterate")
}

func (s *SQLiteStore) Metrics(ctx context.Context, recentLogs int) (*Metrics, error) {
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

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&m.Documents); err != nil {
		return nil, eris.Wrap(err, "sqlite: count documents")
	}

	if recentLogs <= 0 {
		recentLogs = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, logs FROM runs ORDER BY updated_at DESC LIMIT ?`,
		recentLogs,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent logs")
	}
	defer rows.Close()

	var entries []RecentLog
	for rows.Next() {
		var runID, projectID, logsJSON string
		if err := rows.Scan(&runID, &projectID, &logsJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan recent logs")
		}
		var events []model.LogEvent
		if err := json.Unmarshal([]byte(logsJSON), &events); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal recent logs")
		}
		for _, ev := range events {
			entries = append(entries, RecentLog{LogEvent: ev, RunID: runID, ProjectID: projectID})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: recent logs iterate")
	}
	m.RecentLogs = sortAndTrimLogs(entries, recentLogs)

	return m, nil
}

func (s *SQLiteStore) statusCounts(ctx context.Context, table string) (StatusCounts, error) {
	var sc StatusCounts
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM `+table+` GROUP BY status`,
	)
	if err != nil {
		return sc, eris.Wrapf(err, "sqlite: status counts %s", table)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return sc, eris.Wrap(err, "sqlite: scan status counts")
		}
		sc.add(status, n)
	}
	return sc, eris.Wrapf(rows.Err(), "sqlite: status counts %s iterate", table)
}

// helpers

func (sc *StatusCounts) add(status string, n int) {
	sc.Total += n
	switch status {
	case "created":
		sc.Created += n
	case "processing":
		sc.Processing += n
	case "ready":
		sc.Ready += n
	case "failed":
		sc.Failed += n
	}
}

func sortAndTrimLogs(entries []RecentLog, limit int) []RecentLog {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].TS.After(entries[j-1].TS); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
