package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	weightsync "github.com/carnedata/weightsync"
	"github.com/carnedata/weightsync/model"
	"github.com/carnedata/weightsync/queue"
	"github.com/carnedata/weightsync/secrets"
)

func newTestStore(t *testing.T, cipher secrets.Cipher) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "weightsync.db")
	config := DefaultConfig(dsn)
	config.Cipher = cipher
	store, err := New(config)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testOperation(id string, priority model.Priority, createdAt time.Time) model.PendingOperation {
	return model.PendingOperation{
		ID:           id,
		Type:         model.OpCreateRegistration,
		EntityID:     "reg-" + id,
		Payload:      json.RawMessage(`{"weight":23.5,"cut_type":"jamón","supplier":"Cárnicas del Sur"}`),
		Priority:     priority,
		CreatedAt:    createdAt,
		AttemptCount: 0,
		MaxAttempts:  model.DefaultMaxAttempts,
	}
}

func TestOperationRoundTrip(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	op := testOperation("op-1", model.PriorityHigh, time.Now().UTC())
	if err := store.InsertOperation(ctx, op); err != nil {
		t.Fatalf("InsertOperation failed: %v", err)
	}

	got, err := store.GetOperation(ctx, "op-1")
	if err != nil {
		t.Fatalf("GetOperation failed: %v", err)
	}
	if got.Type != op.Type || got.EntityID != op.EntityID || got.Priority != op.Priority {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, op)
	}
	if string(got.Payload) != string(op.Payload) {
		t.Errorf("payload mismatch: got %s, want %s", got.Payload, op.Payload)
	}
}

func TestGetOperationNotFound(t *testing.T) {
	store := newTestStore(t, nil)

	_, err := store.GetOperation(context.Background(), "missing")
	if !errors.Is(err, queue.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateOperationAttemptCount(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	op := testOperation("op-1", model.PriorityNormal, time.Now().UTC())
	if err := store.InsertOperation(ctx, op); err != nil {
		t.Fatalf("InsertOperation failed: %v", err)
	}

	op.AttemptCount = 2
	if err := store.UpdateOperation(ctx, op); err != nil {
		t.Fatalf("UpdateOperation failed: %v", err)
	}

	got, err := store.GetOperation(ctx, "op-1")
	if err != nil {
		t.Fatalf("GetOperation failed: %v", err)
	}
	if got.AttemptCount != 2 {
		t.Errorf("AttemptCount = %d, want 2", got.AttemptCount)
	}
}

func TestUpdateOperationNotFound(t *testing.T) {
	store := newTestStore(t, nil)

	op := testOperation("missing", model.PriorityNormal, time.Now().UTC())
	err := store.UpdateOperation(context.Background(), op)
	if !errors.Is(err, queue.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteOperation(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	op := testOperation("op-1", model.PriorityNormal, time.Now().UTC())
	if err := store.InsertOperation(ctx, op); err != nil {
		t.Fatalf("InsertOperation failed: %v", err)
	}
	if err := store.DeleteOperation(ctx, "op-1"); err != nil {
		t.Fatalf("DeleteOperation failed: %v", err)
	}

	if err := store.DeleteOperation(ctx, "op-1"); !errors.Is(err, queue.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestListOperationsDrainOrder(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	// Inserted out of drain order on purpose.
	ops := []model.PendingOperation{
		testOperation("c-normal", model.PriorityNormal, base),
		testOperation("a-high-late", model.PriorityHigh, base.Add(time.Minute)),
		testOperation("b-high-early", model.PriorityHigh, base),
	}
	for _, op := range ops {
		if err := store.InsertOperation(ctx, op); err != nil {
			t.Fatalf("InsertOperation(%s) failed: %v", op.ID, err)
		}
	}

	listed, err := store.ListOperations(ctx)
	if err != nil {
		t.Fatalf("ListOperations failed: %v", err)
	}

	want := []string{"b-high-early", "a-high-late", "c-normal"}
	if len(listed) != len(want) {
		t.Fatalf("got %d operations, want %d", len(listed), len(want))
	}
	for i, id := range want {
		if listed[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, listed[i].ID, id)
		}
	}
}

func TestPayloadEncryptedAtRest(t *testing.T) {
	key, err := secrets.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	cipher, err := secrets.NewAEADCipher(key)
	if err != nil {
		t.Fatalf("NewAEADCipher failed: %v", err)
	}

	store := newTestStore(t, cipher)
	ctx := context.Background()

	op := testOperation("op-1", model.PriorityHigh, time.Now().UTC())
	if err := store.InsertOperation(ctx, op); err != nil {
		t.Fatalf("InsertOperation failed: %v", err)
	}

	// Raw column must not contain the plaintext payload.
	var raw []byte
	row := store.db.QueryRowContext(ctx, `SELECT payload FROM pending_operations WHERE id = ?`, "op-1")
	if err := row.Scan(&raw); err != nil {
		t.Fatalf("raw scan failed: %v", err)
	}
	if string(raw) == string(op.Payload) {
		t.Error("payload stored in cleartext despite cipher")
	}

	got, err := store.GetOperation(ctx, "op-1")
	if err != nil {
		t.Fatalf("GetOperation failed: %v", err)
	}
	if string(got.Payload) != string(op.Payload) {
		t.Errorf("decrypted payload mismatch: got %s, want %s", got.Payload, op.Payload)
	}
}

func TestSyncErrorRoundTrip(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	syncErr := model.SyncError{
		ID:            "op-1",
		OperationType: model.OpCreateRegistration,
		EntityID:      "reg-1",
		ErrorMessage:  "connection refused",
		Category:      model.CategoryNetwork,
		RetryCount:    1,
		MaxRetries:    model.DefaultMaxRetries,
		LastAttemptAt: now,
		CreatedAt:     now,
	}
	if err := store.InsertError(ctx, syncErr); err != nil {
		t.Fatalf("InsertError failed: %v", err)
	}

	got, err := store.GetError(ctx, "op-1")
	if err != nil {
		t.Fatalf("GetError failed: %v", err)
	}
	if got.Category != model.CategoryNetwork || got.RetryCount != 1 {
		t.Errorf("round trip mismatch: got %+v", got)
	}

	syncErr.RetryCount = 2
	syncErr.Category = model.CategoryServer
	if err := store.UpdateError(ctx, syncErr); err != nil {
		t.Fatalf("UpdateError failed: %v", err)
	}
	got, err = store.GetError(ctx, "op-1")
	if err != nil {
		t.Fatalf("GetError after update failed: %v", err)
	}
	if got.RetryCount != 2 || got.Category != model.CategoryServer {
		t.Errorf("update not persisted: got %+v", got)
	}

	n, err := store.CountErrors(ctx)
	if err != nil {
		t.Fatalf("CountErrors failed: %v", err)
	}
	if n != 1 {
		t.Errorf("CountErrors = %d, want 1", n)
	}

	if err := store.DeleteError(ctx, "op-1"); err != nil {
		t.Fatalf("DeleteError failed: %v", err)
	}
	if err := store.DeleteError(ctx, "op-1"); !errors.Is(err, weightsync.ErrErrorNotFound) {
		t.Errorf("expected ErrErrorNotFound on second delete, got %v", err)
	}
}

func TestEntityPersistence(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	reg := model.Registration{
		ID:           "reg-1",
		Weight:       23.500,
		CutType:      "jamón",
		Supplier:     "Cárnicas del Sur",
		RegisteredBy: "user-1",
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
		SyncStatus:   model.SyncStatusPending,
	}
	if err := store.SaveRegistration(ctx, reg); err != nil {
		t.Fatalf("SaveRegistration failed: %v", err)
	}

	// Upsert overwrites.
	reg.SyncStatus = model.SyncStatusSynced
	if err := store.SaveRegistration(ctx, reg); err != nil {
		t.Fatalf("SaveRegistration upsert failed: %v", err)
	}

	got, err := store.GetRegistration(ctx, "reg-1")
	if err != nil {
		t.Fatalf("GetRegistration failed: %v", err)
	}
	if got.SyncStatus != model.SyncStatusSynced || got.Weight != 23.500 {
		t.Errorf("registration mismatch: got %+v", got)
	}

	user := model.User{ID: "user-1", Name: "María López", Role: model.RoleSupervisor, Active: true, CreatedAt: time.Now().UTC()}
	if err := store.SaveUser(ctx, user); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}
	gotUser, err := store.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if !gotUser.IsSupervisor() {
		t.Errorf("expected supervisor role, got %+v", gotUser)
	}

	if _, err := store.GetRegistration(ctx, "missing"); !errors.Is(err, queue.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing registration, got %v", err)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "weightsync.db")
	ctx := context.Background()

	store, err := New(DefaultConfig(dsn))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	op := testOperation("op-1", model.PriorityHigh, time.Now().UTC())
	if err := store.InsertOperation(ctx, op); err != nil {
		t.Fatalf("InsertOperation failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := New(DefaultConfig(dsn))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetOperation(ctx, "op-1")
	if err != nil {
		t.Fatalf("GetOperation after reopen failed: %v", err)
	}
	if got.ID != "op-1" {
		t.Errorf("got %s, want op-1", got.ID)
	}
}

func TestClosedStoreRejectsAll(t *testing.T) {
	store := newTestStore(t, nil)
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Close is idempotent.
	if err := store.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	ctx := context.Background()
	if err := store.InsertOperation(ctx, testOperation("x", 0, time.Now())); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("InsertOperation: expected ErrStoreClosed, got %v", err)
	}
	if _, err := store.ListErrors(ctx); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("ListErrors: expected ErrStoreClosed, got %v", err)
	}
}
