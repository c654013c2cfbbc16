// Package queue provides the durable, ordered holding area for pending
// sync operations awaiting transmission to the remote service.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	syncerrors "github.com/carnedata/weightsync/errors"
	"github.com/carnedata/weightsync/logging"
	"github.com/carnedata/weightsync/model"
)

const component = syncerrors.Component("queue")

// ErrNotFound is returned by OperationStore implementations when an
// operation id is absent.
var ErrNotFound = errors.New("operation not found")

// OperationStore is the persistence contract for pending operations.
// Implementations must survive process restarts with no loss of items.
type OperationStore interface {
	InsertOperation(ctx context.Context, op model.PendingOperation) error
	UpdateOperation(ctx context.Context, op model.PendingOperation) error

	// DeleteOperation removes an operation. Deleting an absent id
	// returns ErrNotFound.
	DeleteOperation(ctx context.Context, id string) error

	GetOperation(ctx context.Context, id string) (model.PendingOperation, error)
	ListOperations(ctx context.Context) ([]model.PendingOperation, error)
}

// FailedCounter reports the size of the sync error log. The error log is
// owned by the orchestrator; the queue only reads the count to fill in
// QueueStats.
type FailedCounter interface {
	CountErrors(ctx context.Context) (int, error)
}

// Filter narrows ListPending results. The zero value matches everything.
type Filter struct {
	// Type matches operations of one type; empty matches all.
	Type model.OperationType

	// Priority matches one priority tier; nil matches all.
	Priority *model.Priority
}

func (f Filter) matches(op model.PendingOperation) bool {
	if f.Type != "" && op.Type != f.Type {
		return false
	}
	if f.Priority != nil && op.Priority != *f.Priority {
		return false
	}
	return true
}

// SyncQueue owns the collection of pending operations. All mutation of
// the underlying storage goes through its methods; each call is a
// discrete unit of work relative to other queue mutations.
type SyncQueue struct {
	store   OperationStore
	failed  FailedCounter
	logger  *logging.Logger
	nowFunc func() time.Time
}

// Option configures a SyncQueue.
type Option func(*SyncQueue)

// WithFailedCounter wires the orchestrator's error log into Stats.
func WithFailedCounter(c FailedCounter) Option {
	return func(q *SyncQueue) { q.failed = c }
}

// WithLogger overrides the default component logger.
func WithLogger(l *logging.Logger) Option {
	return func(q *SyncQueue) { q.logger = l }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(q *SyncQueue) { q.nowFunc = now }
}

// New creates a SyncQueue over the given store.
func New(store OperationStore, opts ...Option) *SyncQueue {
	q := &SyncQueue{
		store:   store,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = logging.WithComponent(component)
	}
	return q
}

// Request describes a mutation to be queued. The payload must satisfy
// the schema for the declared operation type or Enqueue rejects it.
type Request struct {
	Type     model.OperationType
	EntityID string
	Payload  json.RawMessage
}

// Enqueue validates the payload shape for the declared operation type,
// assigns id, priority and timestamps, persists the operation and
// returns it. A payload missing the required fields for its type fails
// with an invalid_payload error and is never queued.
func (q *SyncQueue) Enqueue(ctx context.Context, req Request) (model.PendingOperation, error) {
	if !model.ValidOperationType(req.Type) {
		return model.PendingOperation{}, syncerrors.E(syncerrors.OpEnqueue, component,
			syncerrors.KindInvalidPayload, "unknown operation type "+string(req.Type))
	}

	if err := checkPayloadSchema(req.Type, req.Payload); err != nil {
		return model.PendingOperation{}, err
	}

	now := q.nowFunc()
	op := model.PendingOperation{
		ID:          uuid.New().String(),
		Type:        req.Type,
		EntityID:    req.EntityID,
		Payload:     req.Payload,
		Priority:    model.PriorityFor(req.Type),
		CreatedAt:   now,
		MaxAttempts: model.DefaultMaxAttempts,
	}

	if err := q.store.InsertOperation(ctx, op); err != nil {
		return model.PendingOperation{}, syncerrors.WrapOpComponentKind(err,
			syncerrors.OpEnqueue, component, syncerrors.KindStorage)
	}

	q.logger.InfoContext(ctx, "operation enqueued",
		slog.String("operation_id", op.ID),
		slog.String("operation_type", string(op.Type)),
		slog.String("entity_id", op.EntityID),
		slog.Int("priority", int(op.Priority)),
	)

	return op, nil
}

// Get returns one operation by id, or queue.ErrNotFound.
func (q *SyncQueue) Get(ctx context.Context, id string) (model.PendingOperation, error) {
	return q.store.GetOperation(ctx, id)
}

// Update persists a mutated operation (attempt counts, timestamps).
func (q *SyncQueue) Update(ctx context.Context, op model.PendingOperation) error {
	return syncerrors.WrapOpComponentKind(q.store.UpdateOperation(ctx, op),
		syncerrors.OpStore, component, syncerrors.KindStorage)
}

// Remove deletes an operation. Removing an id that is already absent is
// a no-op, so drain completions and manual clears can race safely.
func (q *SyncQueue) Remove(ctx context.Context, id string) error {
	err := q.store.DeleteOperation(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return syncerrors.WrapOpComponentKind(err, syncerrors.OpStore, component, syncerrors.KindStorage)
	}
	return nil
}

// ListPending returns the pending operations as a restartable sequence
// in drain order: high priority tier first, FIFO by created_at within a
// tier. The sequence is a snapshot taken at call time and may be ranged
// more than once.
func (q *SyncQueue) ListPending(ctx context.Context, filter Filter) (iter.Seq[model.PendingOperation], error) {
	ops, err := q.store.ListOperations(ctx)
	if err != nil {
		return nil, syncerrors.WrapOpComponentKind(err, syncerrors.OpLoad, component, syncerrors.KindStorage)
	}

	filtered := ops[:0:0]
	for _, op := range ops {
		if filter.matches(op) {
			filtered = append(filtered, op)
		}
	}
	SortDrainOrder(filtered)

	return func(yield func(model.PendingOperation) bool) {
		for _, op := range filtered {
			if !yield(op) {
				return
			}
		}
	}, nil
}

// Stats recomputes the queue aggregate from current contents. Nothing is
// cached beyond the call.
func (q *SyncQueue) Stats(ctx context.Context) (model.QueueStats, error) {
	ops, err := q.store.ListOperations(ctx)
	if err != nil {
		return model.QueueStats{}, syncerrors.WrapOpComponentKind(err,
			syncerrors.OpLoad, component, syncerrors.KindStorage)
	}

	stats := model.ComputeQueueStats(ops, nil)
	if q.failed != nil {
		n, err := q.failed.CountErrors(ctx)
		if err != nil {
			return model.QueueStats{}, syncerrors.WrapOpComponentKind(err,
				syncerrors.OpLoad, component, syncerrors.KindStorage)
		}
		stats.FailedOperations = n
	}
	return stats, nil
}

// SortDrainOrder sorts operations in place into drain order: priority
// tier first, then FIFO by created_at, with id as a deterministic
// tie-break.
func SortDrainOrder(ops []model.PendingOperation) {
	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].Priority != ops[j].Priority {
			return ops[i].Priority > ops[j].Priority
		}
		if !ops[i].CreatedAt.Equal(ops[j].CreatedAt) {
			return ops[i].CreatedAt.Before(ops[j].CreatedAt)
		}
		return ops[i].ID < ops[j].ID
	})
}

// checkPayloadSchema verifies that the payload deserializes and carries
// the required fields for its operation type.
func checkPayloadSchema(t model.OperationType, payload json.RawMessage) error {
	invalid := func(msg string) error {
		return syncerrors.E(syncerrors.OpEnqueue, component, syncerrors.KindInvalidPayload, msg)
	}

	if len(payload) == 0 {
		return invalid("payload is required")
	}

	switch t {
	case model.OpCreateRegistration:
		var p model.RegistrationPayload
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(payload, &raw); err != nil {
			return invalid("payload is not valid JSON: " + err.Error())
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return invalid("payload does not match create_registration schema: " + err.Error())
		}
		var missing []string
		if _, ok := raw["weight"]; !ok {
			missing = append(missing, "weight")
		}
		if _, ok := raw["cut_type"]; !ok {
			missing = append(missing, "cut_type")
		}
		if _, ok := raw["supplier"]; !ok {
			missing = append(missing, "supplier")
		}
		if len(missing) > 0 {
			return invalid("create_registration payload missing required fields: " + strings.Join(missing, ", "))
		}

	case model.OpUploadPhoto:
		var p model.PhotoPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return invalid("payload does not match upload_photo schema: " + err.Error())
		}
		var missing []string
		if p.RegistrationID == "" {
			missing = append(missing, "registration_id")
		}
		if p.LocalPhotoPath == "" {
			missing = append(missing, "local_photo_path")
		}
		if len(missing) > 0 {
			return invalid("upload_photo payload missing required fields: " + strings.Join(missing, ", "))
		}

	case model.OpUpdateUser:
		var p model.UserPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return invalid("payload does not match update_user schema: " + err.Error())
		}
		if p.UserID == "" {
			return invalid("update_user payload missing required fields: user_id")
		}
	}

	return nil
}
