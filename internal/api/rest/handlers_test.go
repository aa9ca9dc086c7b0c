package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tripwire/binlog/internal/sink/sqlite"
)

// mockStore is a test double for the Store interface.
type mockStore struct {
	jobs      map[string]sqlite.Job
	createErr error
	getErr    error
	records   map[string][]json.RawMessage
	listErr   error
}

func newMockStore() *mockStore {
	return &mockStore{
		jobs:    make(map[string]sqlite.Job),
		records: make(map[string][]json.RawMessage),
	}
}

func (m *mockStore) CreateJob(_ context.Context, id, path string, options json.RawMessage) error {
	if m.createErr != nil {
		return m.createErr
	}
	now := time.Now().UTC()
	m.jobs[id] = sqlite.Job{ID: id, Path: path, OptionsJS: options, Status: sqlite.JobQueued, CreatedAt: now, UpdatedAt: now}
	return nil
}

func (m *mockStore) GetJob(_ context.Context, id string) (sqlite.Job, error) {
	if m.getErr != nil {
		return sqlite.Job{}, m.getErr
	}
	j, ok := m.jobs[id]
	if !ok {
		return sqlite.Job{}, errors.New("not found")
	}
	return j, nil
}

func (m *mockStore) UpdateStatus(_ context.Context, id string, status sqlite.JobStatus, stats json.RawMessage, jobErr string) error {
	j := m.jobs[id]
	j.Status = status
	j.StatsJS = stats
	j.Error = jobErr
	m.jobs[id] = j
	return nil
}

func (m *mockStore) AppendRecords(_ context.Context, jobID string, _ int, records []json.RawMessage) error {
	m.records[jobID] = append(m.records[jobID], records...)
	return nil
}

func (m *mockStore) ListRecords(_ context.Context, jobID string, offset, limit int) ([]json.RawMessage, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	all := m.records[jobID]
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(ms *mockStore) http.Handler {
	runner := NewRunner(ms, nil, nil, nil, Defaults{}, testLogger())
	srv := NewServer(ms, nil, runner, testLogger())
	return NewRouter(srv, nil, nil)
}

func TestHandleHealthz_Returns200(t *testing.T) {
	h := newTestServer(newMockStore())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status=ok, got %q", body["status"])
	}
}

func TestHandleSubmitJob_MissingPath_Returns400(t *testing.T) {
	h := newTestServer(newMockStore())
	body := bytes.NewBufferString(`{"round":true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleSubmitJob_InvalidMode_Returns400(t *testing.T) {
	h := newTestServer(newMockStore())
	body := bytes.NewBufferString(`{"path":"/logs/a.bin","mode":"bogus"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleSubmitJob_Valid_Returns202WithJobID(t *testing.T) {
	h := newTestServer(newMockStore())
	body := bytes.NewBufferString(`{"path":"/does/not/exist.bin","mode":"sequential"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d; body: %s", rec.Code, rec.Body)
	}
	var resp submitJobResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("cannot decode response: %v", err)
	}
	if resp.JobID == "" {
		t.Error("expected a non-empty job id")
	}
	if resp.Status != string(sqlite.JobQueued) {
		t.Errorf("status = %q, want %q", resp.Status, sqlite.JobQueued)
	}
}

func TestHandleGetJob_Unknown_Returns404(t *testing.T) {
	h := newTestServer(newMockStore())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nope", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleGetJob_Known_Returns200(t *testing.T) {
	ms := newMockStore()
	if err := ms.CreateJob(context.Background(), "job-1", "/logs/a.bin", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	h := newTestServer(ms)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d; body: %s", rec.Code, rec.Body)
	}
	var resp jobResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("cannot decode response: %v", err)
	}
	if resp.ID != "job-1" || resp.Status != string(sqlite.JobQueued) {
		t.Errorf("unexpected job response: %+v", resp)
	}
}

func TestHandleGetJobRecords_UnknownJob_Returns404(t *testing.T) {
	h := newTestServer(newMockStore())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nope/records", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleGetJobRecords_InvalidLimit_Returns400(t *testing.T) {
	ms := newMockStore()
	if err := ms.CreateJob(context.Background(), "job-1", "/logs/a.bin", nil); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	h := newTestServer(ms)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1/records?limit=abc", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleGetJobRecords_PaginatesResults(t *testing.T) {
	ms := newMockStore()
	if err := ms.CreateJob(context.Background(), "job-1", "/logs/a.bin", nil); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := ms.AppendRecords(context.Background(), "job-1", 0, []json.RawMessage{
		json.RawMessage(`{"mavpackettype":"GPS","Stat":1}`),
		json.RawMessage(`{"mavpackettype":"GPS","Stat":2}`),
		json.RawMessage(`{"mavpackettype":"GPS","Stat":3}`),
	}); err != nil {
		t.Fatalf("AppendRecords: %v", err)
	}
	h := newTestServer(ms)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1/records?limit=2&offset=1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d; body: %s", rec.Code, rec.Body)
	}
	var records []json.RawMessage
	if err := json.NewDecoder(rec.Body).Decode(&records); err != nil {
		t.Fatalf("cannot decode response: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
}

func TestHandleGetJobRecords_EmptyResult_ReturnsEmptyArray(t *testing.T) {
	ms := newMockStore()
	if err := ms.CreateJob(context.Background(), "job-1", "/logs/a.bin", nil); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	h := newTestServer(ms)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1/records", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var records []json.RawMessage
	if err := json.NewDecoder(rec.Body).Decode(&records); err != nil {
		t.Fatalf("cannot decode response: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected empty array, got %v", records)
	}
}
