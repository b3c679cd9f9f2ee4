package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/koa-group/doc-pipeline/internal/job"
	"github.com/koa-group/doc-pipeline/internal/mapping"
	"github.com/koa-group/doc-pipeline/internal/model"
	"github.com/koa-group/doc-pipeline/internal/ocr"
	"github.com/koa-group/doc-pipeline/internal/store"
	"github.com/koa-group/doc-pipeline/internal/template"
	"github.com/koa-group/doc-pipeline/internal/webhook"
)

const testToken = "test-token"

type memBlobs struct {
	objects map[string][]byte
}

func (m *memBlobs) Download(_ context.Context, bucket, path string) ([]byte, error) {
	content, ok := m.objects[bucket+"/"+path]
	if !ok {
		return nil, eris.Errorf("object not found: %s/%s", bucket, path)
	}
	return content, nil
}

func (m *memBlobs) Upload(_ context.Context, bucket, path string, content []byte, _ string) error {
	m.objects[bucket+"/"+path] = content
	return nil
}

func (m *memBlobs) SignedURL(_ context.Context, bucket, path string, _ time.Duration) (string, error) {
	return "https://signed.example/" + bucket + "/" + path, nil
}

type noLLM struct{}

func (noLLM) GenerateStructured(context.Context, string, *jsonschema.Schema, any) error {
	return eris.New("llm not available in server tests")
}

func newTestServer(t *testing.T) (*httptest.Server, store.Store, *memBlobs) {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	f := excelize.NewFile()
	_, err = f.NewSheet("Recebíveis")
	require.NoError(t, err)
	templatePath := filepath.Join(t.TempDir(), "template.xlsx")
	require.NoError(t, f.SaveAs(templatePath))

	blobs := &memBlobs{objects: map[string][]byte{}}
	svc := job.NewService(
		st,
		blobs,
		noLLM{},
		mapping.NewMapper(noLLM{}, 0.86, 0.50),
		ocr.Disabled{},
		webhook.NewNotifier(),
		template.NewWriter(templatePath, &template.LabelSpec{}, 50),
		job.Config{UploadsBucket: "uploads", OutputsBucket: "outputs", SignedURLTTL: time.Hour},
	)
	svc.SetEnqueuer(func(runID string) {
		svc.ProcessRun(context.Background(), runID)
	})

	srv := httptest.NewServer(New(svc, testToken).Handler())
	t.Cleanup(srv.Close)
	return srv, st, blobs
}

func doRequest(t *testing.T, method, url string, body any, token string) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

const recebiveisCSV = "Nº Unidade,Nome cliente,Valor de venda\n101,Maria Silva,\"450.000,00\"\n"

func jobRequest() map[string]any {
	return map[string]any{
		"project_name": "Residencial Aurora",
		"documents": []map[string]any{{
			"doc_type":          "recebiveis",
			"storage_path":      "novo/recebiveis.csv",
			"original_filename": "recebiveis.csv",
		}},
	}
}

func TestHealth_NoAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestAuth_Required(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/v1/metrics", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", body["error"])

	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/v1/metrics", nil, "wrong-token")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/v1/metrics", nil, testToken)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateJob_Accepted(t *testing.T) {
	srv, st, blobs := newTestServer(t)
	require.NoError(t, blobs.Upload(context.Background(), "uploads", "novo/recebiveis.csv", []byte(recebiveisCSV), "text/csv"))

	resp, body := doRequest(t, http.MethodPost, srv.URL+"/v1/jobs", jobRequest(), testToken)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.NotEmpty(t, body["job_id"])
	assert.NotEmpty(t, body["project_id"])
	assert.Equal(t, float64(1), body["run_number"])

	// Synchronous test runner: the job has already completed.
	project, err := st.GetProject(context.Background(), body["project_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, model.ProjectReady, project.Status)
}

func TestCreateJob_Errors(t *testing.T) {
	srv, st, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/jobs", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := jobRequest()
	body["project_name"] = ""
	body["project_id"] = "nonexistent"
	resp2, decoded := doRequest(t, http.MethodPost, srv.URL+"/v1/jobs", body, testToken)
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
	assert.Equal(t, "NOT_FOUND", decoded["error"])

	p, err := st.CreateProject(context.Background(), "Ocupado", "")
	require.NoError(t, err)
	require.NoError(t, st.UpdateProjectStatus(context.Background(), p.ID, model.ProjectProcessing))
	body = jobRequest()
	body["project_name"] = ""
	body["project_id"] = p.ID
	resp3, decoded := doRequest(t, http.MethodPost, srv.URL+"/v1/jobs", body, testToken)
	assert.Equal(t, http.StatusConflict, resp3.StatusCode)
	assert.Equal(t, "CONFLICT", decoded["error"])
}

func TestGetJobAndProject(t *testing.T) {
	srv, _, blobs := newTestServer(t)
	require.NoError(t, blobs.Upload(context.Background(), "uploads", "novo/recebiveis.csv", []byte(recebiveisCSV), "text/csv"))

	_, created := doRequest(t, http.MethodPost, srv.URL+"/v1/jobs", jobRequest(), testToken)
	jobID := created["job_id"].(string)
	projectID := created["project_id"].(string)

	resp, run := doRequest(t, http.MethodGet, srv.URL+"/v1/jobs/"+jobID, nil, testToken)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", run["status"])
	assert.NotEmpty(t, run["logs"])

	resp, view := doRequest(t, http.MethodGet, srv.URL+"/v1/projects/"+projectID, nil, testToken)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, view["output_url"])
	assert.Len(t, view["runs"], 1)

	resp, output := doRequest(t, http.MethodGet, srv.URL+"/v1/projects/"+projectID+"/output", nil, testToken)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, output["url"], "https://signed.example/outputs/")

	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/v1/jobs/nonexistent", nil, testToken)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetOutput_NotReady(t *testing.T) {
	srv, st, _ := newTestServer(t)

	p, err := st.CreateProject(context.Background(), "Novo", "")
	require.NoError(t, err)

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/v1/projects/"+p.ID+"/output", nil, testToken)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "CONFLICT", body["error"])
}

func TestReprocess_Endpoint(t *testing.T) {
	srv, _, blobs := newTestServer(t)
	require.NoError(t, blobs.Upload(context.Background(), "uploads", "novo/recebiveis.csv", []byte(recebiveisCSV), "text/csv"))

	_, created := doRequest(t, http.MethodPost, srv.URL+"/v1/jobs", jobRequest(), testToken)
	projectID := created["project_id"].(string)

	resp, body := doRequest(t, http.MethodPost, srv.URL+"/v1/projects/"+projectID+"/reprocess", nil, testToken)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, float64(2), body["run_number"])

	resp, _ = doRequest(t, http.MethodPost, srv.URL+"/v1/projects/nonexistent/reprocess", nil, testToken)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetrics_Endpoint(t *testing.T) {
	srv, _, blobs := newTestServer(t)
	require.NoError(t, blobs.Upload(context.Background(), "uploads", "novo/recebiveis.csv", []byte(recebiveisCSV), "text/csv"))
	_, _ = doRequest(t, http.MethodPost, srv.URL+"/v1/jobs", jobRequest(), testToken)

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/v1/metrics", nil, testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	projects := body["projects"].(map[string]any)
	assert.Equal(t, float64(1), projects["total"])
	assert.Equal(t, float64(1), projects["ready"])
	assert.Equal(t, float64(1), body["documents"])
	assert.NotEmpty(t, body["recent_logs"])
}
