package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	weightsync "github.com/carnedata/weightsync"
	"github.com/carnedata/weightsync/model"
	"github.com/carnedata/weightsync/queue"
	"github.com/carnedata/weightsync/storage/memory"
)

type stubAuth struct{ supervisor bool }

func (a stubAuth) IsSupervisor() bool            { return a.supervisor }
func (a stubAuth) CurrentUserID() (string, bool) { return "user-1", true }

type stubTransport struct{ err error }

func (t stubTransport) Transmit(ctx context.Context, op model.PendingOperation) error { return t.err }
func (t stubTransport) Close() error                                                  { return nil }

func newTestServer(t *testing.T, supervisor bool, transportErr error) (*httptest.Server, *memory.Store, *queue.SyncQueue) {
	t.Helper()
	store := memory.New()
	q := queue.New(store, queue.WithFailedCounter(store))
	o := weightsync.NewOrchestrator(q, stubTransport{err: transportErr}, store, store,
		stubAuth{supervisor: supervisor},
		weightsync.WithRetryBackoff(time.Millisecond, time.Millisecond, 1))
	server := httptest.NewServer(NewServer(o).Router())
	t.Cleanup(server.Close)
	return server, store, q
}

func enqueue(t *testing.T, q *queue.SyncQueue) model.PendingOperation {
	t.Helper()
	op, err := q.Enqueue(context.Background(), queue.Request{
		Type:     model.OpCreateRegistration,
		EntityID: "reg-1",
		Payload:  json.RawMessage(`{"weight":23.5,"cut_type":"jamón","supplier":"Cárnicas del Sur"}`),
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return op
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t, false, nil)

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	server, _, q := newTestServer(t, false, nil)
	enqueue(t, q)

	resp, err := http.Get(server.URL + "/sync/stats")
	if err != nil {
		t.Fatalf("GET /sync/stats failed: %v", err)
	}
	defer resp.Body.Close()

	var stats model.QueueStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.TotalPending != 1 || stats.HighPriority != 1 {
		t.Errorf("stats = %+v, want 1 pending high-priority", stats)
	}
}

func TestForceSyncEndpoint(t *testing.T) {
	server, _, q := newTestServer(t, true, nil)
	enqueue(t, q)

	resp, err := http.Post(server.URL+"/sync/force", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /sync/force failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var result weightsync.SyncResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if result.Total != 1 || result.Completed != 1 {
		t.Errorf("result = %+v, want 1 completed", result)
	}
}

func TestForceSyncDeniedForOperator(t *testing.T) {
	server, _, _ := newTestServer(t, false, nil)

	resp, err := http.Post(server.URL+"/sync/force", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /sync/force failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestErrorLogEndpoints(t *testing.T) {
	server, store, q := newTestServer(t, true, nil)
	op := enqueue(t, q)

	record := model.SyncError{
		ID:            op.ID,
		OperationType: op.Type,
		EntityID:      op.EntityID,
		ErrorMessage:  "connection refused",
		Category:      model.CategoryNetwork,
		MaxRetries:    model.DefaultMaxRetries,
		LastAttemptAt: time.Now(),
		CreatedAt:     time.Now(),
	}
	if err := store.InsertError(context.Background(), record); err != nil {
		t.Fatalf("InsertError failed: %v", err)
	}

	resp, err := http.Get(server.URL + "/sync/errors")
	if err != nil {
		t.Fatalf("GET /sync/errors failed: %v", err)
	}
	var errs []model.SyncError
	if err := json.NewDecoder(resp.Body).Decode(&errs); err != nil {
		t.Fatalf("failed to decode errors: %v", err)
	}
	resp.Body.Close()
	if len(errs) != 1 || errs[0].ID != op.ID {
		t.Fatalf("errors = %+v, want the inserted record", errs)
	}

	// Retry succeeds (stub transport accepts), clearing error and op.
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/sync/errors/"+op.ID+"/retry", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST retry failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retry status = %d, want 200", resp.StatusCode)
	}

	// Clearing the now-absent record yields 404.
	req, _ = http.NewRequest(http.MethodDelete, server.URL+"/sync/errors/"+op.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE error failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("clear status = %d, want 404 for absent record", resp.StatusCode)
	}
}

func TestRetryNotAllowedMapsToConflict(t *testing.T) {
	server, store, q := newTestServer(t, true, nil)
	op := enqueue(t, q)

	record := model.SyncError{
		ID:            op.ID,
		OperationType: op.Type,
		EntityID:      op.EntityID,
		ErrorMessage:  "weight out of range",
		Category:      model.CategoryValidation,
		MaxRetries:    model.DefaultMaxRetries,
		LastAttemptAt: time.Now(),
		CreatedAt:     time.Now(),
	}
	if err := store.InsertError(context.Background(), record); err != nil {
		t.Fatalf("InsertError failed: %v", err)
	}

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/sync/errors/"+op.ID+"/retry", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST retry failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409 for non-retryable error", resp.StatusCode)
	}
}
