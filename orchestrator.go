package weightsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/carnedata/weightsync/conflict"
	syncerrors "github.com/carnedata/weightsync/errors"
	"github.com/carnedata/weightsync/logging"
	"github.com/carnedata/weightsync/model"
	"github.com/carnedata/weightsync/notify"
	"github.com/carnedata/weightsync/queue"
)

const component = syncerrors.Component("orchestrator")

var (
	// ErrSyncInProgress is returned when a drain is already active.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrNotSupervisor is returned from supervisor-gated operations when
	// the current session lacks the supervisor role.
	ErrNotSupervisor = errors.New("operation requires supervisor role")

	// ErrRetryNotAllowed is returned when a sync error is past its retry
	// budget or its category rules out retrying.
	ErrRetryNotAllowed = errors.New("sync error is not retryable")

	// ErrNoFetcher is returned from Reconcile when the transport cannot
	// read back server copies.
	ErrNoFetcher = errors.New("transport does not support fetching server copies")
)

// Drain states for the single-slot in-progress token.
const (
	stateIdle int32 = iota
	stateDraining
)

// SyncResult is the aggregate outcome of one drain pass.
type SyncResult struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Progress is a point-in-time snapshot emitted as each item resolves.
// Completed and Failed are non-decreasing across callbacks of one pass.
type Progress struct {
	Total            int
	Completed        int
	Failed           int
	CurrentOperation model.PendingOperation
}

// ProgressFunc receives progress callbacks during ForceSyncNow.
type ProgressFunc func(Progress)

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Examined  int
	Conflicts int
	Resolved  int
	Skipped   int
}

type exponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
}

func (eb *exponentialBackoff) nextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(eb.initialDelay)
	for i := 0; i < attempt; i++ {
		delay *= eb.multiplier
	}

	result := time.Duration(delay)
	if result > eb.maxDelay {
		result = eb.maxDelay
	}
	return result
}

// Orchestrator drives the queue to empty against the remote service,
// maintains the sync error log, and reports progress. At most one drain
// runs at a time; the guard is an atomic state token, not a convention.
type Orchestrator struct {
	queue     *queue.SyncQueue
	transport Transport
	errs      ErrorStore
	entities  LocalEntityStore
	auth      Authenticator
	probe     ConnectivityProbe
	fetcher   Fetcher
	hub       *notify.Hub
	logger    *logging.Logger
	backoff   *exponentialBackoff
	nowFunc   func() time.Time

	state atomic.Int32
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithConnectivityProbe wires a connectivity check consulted before each
// automatic drain pass. Without one the orchestrator assumes online.
func WithConnectivityProbe(p ConnectivityProbe) OrchestratorOption {
	return func(o *Orchestrator) { o.probe = p }
}

// WithNotificationHub wires lifecycle event publication.
func WithNotificationHub(h *notify.Hub) OrchestratorOption {
	return func(o *Orchestrator) { o.hub = h }
}

// WithFetcher wires server-copy reads for Reconcile. If the transport
// also implements Fetcher this is unnecessary.
func WithFetcher(f Fetcher) OrchestratorOption {
	return func(o *Orchestrator) { o.fetcher = f }
}

// WithLogger overrides the default component logger.
func WithLogger(l *logging.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// WithRetryBackoff overrides the delay policy applied before a manual
// retry attempt. Defaults to 500ms doubling up to 30s.
func WithRetryBackoff(initial, max time.Duration, multiplier float64) OrchestratorOption {
	return func(o *Orchestrator) {
		o.backoff = &exponentialBackoff{initialDelay: initial, maxDelay: max, multiplier: multiplier}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.nowFunc = now }
}

// NewOrchestrator creates an Orchestrator over its collaborators. The
// transport is probed for the optional Fetcher capability.
func NewOrchestrator(q *queue.SyncQueue, t Transport, errs ErrorStore, entities LocalEntityStore, auth Authenticator, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		queue:     q,
		transport: t,
		errs:      errs,
		entities:  entities,
		auth:      auth,
		nowFunc:   time.Now,
		backoff: &exponentialBackoff{
			initialDelay: 500 * time.Millisecond,
			maxDelay:     30 * time.Second,
			multiplier:   2,
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.WithComponent(component)
	}
	if o.fetcher == nil {
		if f, ok := t.(Fetcher); ok {
			o.fetcher = f
		}
	}
	return o
}

func (o *Orchestrator) online() bool {
	return o.probe == nil || o.probe.Online()
}

func (o *Orchestrator) publish(t notify.EventType, title, message string) {
	if o.hub != nil {
		o.hub.Publish(t, title, message)
	}
}

// ProcessQueue runs one automatic drain pass: transmit every pending
// operation in drain order, removing each on success and recording a
// SyncError on failure. One item's failure never aborts the pass. Safe
// to call repeatedly; a call while a drain is active returns nil without
// transmitting anything.
func (o *Orchestrator) ProcessQueue(ctx context.Context) error {
	if !o.online() {
		o.logger.InfoContext(ctx, "skipping drain pass, device offline")
		return nil
	}

	if !o.state.CompareAndSwap(stateIdle, stateDraining) {
		o.logger.InfoContext(ctx, "drain already active, skipping")
		return nil
	}
	defer o.state.Store(stateIdle)

	_, err := o.drain(ctx, nil)
	return err
}

// ForceSyncNow runs a manual drain pass for a supervisor, reporting the
// aggregate outcome and emitting a progress callback as each item
// resolves. It refuses to start while another drain is active.
func (o *Orchestrator) ForceSyncNow(ctx context.Context, onProgress ProgressFunc) (SyncResult, error) {
	if !o.auth.IsSupervisor() {
		o.publish(notify.TypeWarning, "Sync denied", "Forcing a sync requires the supervisor role")
		return SyncResult{}, syncerrors.E(syncerrors.OpDrain, component, syncerrors.KindPermission, ErrNotSupervisor)
	}

	if !o.state.CompareAndSwap(stateIdle, stateDraining) {
		return SyncResult{}, ErrSyncInProgress
	}
	defer o.state.Store(stateIdle)

	return o.drain(ctx, onProgress)
}

// drain transmits pending operations in drain order. The caller holds
// the state token.
func (o *Orchestrator) drain(ctx context.Context, onProgress ProgressFunc) (SyncResult, error) {
	seq, err := o.queue.ListPending(ctx, queue.Filter{})
	if err != nil {
		return SyncResult{}, syncerrors.WrapOpComponent(err, syncerrors.OpDrain, component)
	}

	var ops []model.PendingOperation
	for op := range seq {
		if op.AttemptCount >= op.MaxAttempts {
			continue // exhausted, awaiting manual retry or clear
		}
		ops = append(ops, op)
	}

	result := SyncResult{Total: len(ops)}
	if result.Total == 0 {
		return result, nil
	}

	o.logger.InfoContext(ctx, "drain pass started", slog.Int("pending", result.Total))
	o.publish(notify.TypeInfo, "Sync started", fmt.Sprintf("%d operations pending", result.Total))

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if err := o.transmitOnce(ctx, op); err != nil {
			result.Failed++
			o.recordFailure(ctx, op, err)
		} else {
			result.Completed++
			o.completeOperation(ctx, op)
		}

		if onProgress != nil {
			onProgress(Progress{
				Total:            result.Total,
				Completed:        result.Completed,
				Failed:           result.Failed,
				CurrentOperation: op,
			})
		}
	}

	o.logger.InfoContext(ctx, "drain pass finished",
		slog.Int("completed", result.Completed),
		slog.Int("failed", result.Failed),
	)
	if result.Failed == 0 {
		o.publish(notify.TypeSuccess, "Sync completed", fmt.Sprintf("%d operations synchronized", result.Completed))
	} else {
		o.publish(notify.TypeError, "Sync finished with errors",
			fmt.Sprintf("%d synchronized, %d failed", result.Completed, result.Failed))
	}

	return result, nil
}

func (o *Orchestrator) transmitOnce(ctx context.Context, op model.PendingOperation) error {
	return o.transport.Transmit(ctx, op)
}

// completeOperation removes a transmitted operation and any error record
// left from earlier failed attempts.
func (o *Orchestrator) completeOperation(ctx context.Context, op model.PendingOperation) {
	if err := o.queue.Remove(ctx, op.ID); err != nil {
		o.logger.LogError(ctx, err, "failed to remove completed operation",
			slog.String("operation_id", op.ID))
	}
	if err := o.errs.DeleteError(ctx, op.ID); err != nil && !errors.Is(err, ErrErrorNotFound) {
		o.logger.LogError(ctx, err, "failed to clear resolved sync error",
			slog.String("operation_id", op.ID))
	}
}

// recordFailure bumps the operation's attempt count and creates or
// updates the SyncError keyed by the operation id.
func (o *Orchestrator) recordFailure(ctx context.Context, op model.PendingOperation, cause error) {
	now := o.nowFunc()
	category := categoryFor(cause)

	o.logger.LogError(ctx, cause, "transmission failed",
		slog.String("operation_id", op.ID),
		slog.String("operation_type", string(op.Type)),
		slog.String("category", string(category)),
	)

	op.AttemptCount++
	if err := o.queue.Update(ctx, op); err != nil {
		o.logger.LogError(ctx, err, "failed to persist attempt count",
			slog.String("operation_id", op.ID))
	}

	existing, err := o.errs.GetError(ctx, op.ID)
	switch {
	case errors.Is(err, ErrErrorNotFound):
		record := model.SyncError{
			ID:            op.ID,
			OperationType: op.Type,
			EntityID:      op.EntityID,
			ErrorMessage:  cause.Error(),
			Category:      category,
			RetryCount:    0,
			MaxRetries:    model.DefaultMaxRetries,
			LastAttemptAt: now,
			CreatedAt:     now,
		}
		if err := o.errs.InsertError(ctx, record); err != nil {
			o.logger.LogError(ctx, err, "failed to record sync error",
				slog.String("operation_id", op.ID))
		}
	case err != nil:
		o.logger.LogError(ctx, err, "failed to load sync error",
			slog.String("operation_id", op.ID))
	default:
		existing.ErrorMessage = cause.Error()
		existing.Category = category
		existing.RetryCount++
		existing.LastAttemptAt = now
		if err := o.errs.UpdateError(ctx, existing); err != nil {
			o.logger.LogError(ctx, err, "failed to update sync error",
				slog.String("operation_id", op.ID))
		}
	}
}

// RetryFailedOperation re-attempts the transmission behind one sync
// error. Supervisor-gated. A backoff delay derived from the error's
// retry count is applied before the attempt.
func (o *Orchestrator) RetryFailedOperation(ctx context.Context, errorID string) error {
	if !o.auth.IsSupervisor() {
		o.publish(notify.TypeWarning, "Retry denied", "Retrying a failed operation requires the supervisor role")
		return syncerrors.E(syncerrors.OpRetry, component, syncerrors.KindPermission, ErrNotSupervisor)
	}

	record, err := o.errs.GetError(ctx, errorID)
	if err != nil {
		return syncerrors.WrapOpComponent(err, syncerrors.OpRetry, component)
	}
	if !record.CanRetry() {
		return ErrRetryNotAllowed
	}

	op, err := o.queue.Get(ctx, errorID)
	if errors.Is(err, queue.ErrNotFound) {
		// The operation is gone; nothing left to transmit. Drop the
		// stale error record.
		return o.errs.DeleteError(ctx, errorID)
	}
	if err != nil {
		return syncerrors.WrapOpComponent(err, syncerrors.OpRetry, component)
	}

	if err := o.waitBackoff(ctx, record.RetryCount); err != nil {
		return err
	}

	if err := o.transmitOnce(ctx, op); err != nil {
		now := o.nowFunc()
		record.ErrorMessage = err.Error()
		record.Category = categoryFor(err)
		record.RetryCount++
		record.LastAttemptAt = now
		if updateErr := o.errs.UpdateError(ctx, record); updateErr != nil {
			o.logger.LogError(ctx, updateErr, "failed to update sync error after retry",
				slog.String("operation_id", errorID))
		}
		op.AttemptCount++
		if updateErr := o.queue.Update(ctx, op); updateErr != nil {
			o.logger.LogError(ctx, updateErr, "failed to persist attempt count",
				slog.String("operation_id", errorID))
		}
		o.publish(notify.TypeError, "Retry failed", err.Error())
		return syncerrors.WrapOpComponent(err, syncerrors.OpRetry, component)
	}

	o.completeOperation(ctx, op)
	o.publish(notify.TypeSuccess, "Retry succeeded", "Operation synchronized")
	return nil
}

// waitBackoff sleeps the exponential delay for the given retry ordinal,
// honoring context cancellation.
func (o *Orchestrator) waitBackoff(ctx context.Context, retryCount int) error {
	delay := o.backoff.nextDelay(retryCount)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ClearError discards a sync error together with its queued operation.
// Clearing is the explicit acceptance that the operation's data is lost,
// so nothing is retransmitted afterwards.
func (o *Orchestrator) ClearError(ctx context.Context, errorID string) error {
	if err := o.errs.DeleteError(ctx, errorID); err != nil {
		return err
	}
	return o.queue.Remove(ctx, errorID)
}

// GetSyncErrors returns the current error log. Side-effect free.
func (o *Orchestrator) GetSyncErrors(ctx context.Context) ([]model.SyncError, error) {
	return o.errs.ListErrors(ctx)
}

// Stats reports current queue aggregates including the failed count.
func (o *Orchestrator) Stats(ctx context.Context) (model.QueueStats, error) {
	return o.queue.Stats(ctx)
}

// Reconcile compares the local copy of every entity with a pending
// mutation against the server copy, resolves any divergence with the
// recommended strategy and persists the validated result. Entities whose
// server copy cannot be fetched are skipped.
func (o *Orchestrator) Reconcile(ctx context.Context) (ReconcileResult, error) {
	if o.fetcher == nil {
		return ReconcileResult{}, ErrNoFetcher
	}

	seq, err := o.queue.ListPending(ctx, queue.Filter{})
	if err != nil {
		return ReconcileResult{}, syncerrors.WrapOpComponent(err, syncerrors.OpReconcile, component)
	}

	var result ReconcileResult
	seen := make(map[string]bool)
	for op := range seq {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		key := string(op.Type) + "/" + op.EntityID
		if seen[key] {
			continue
		}
		seen[key] = true

		switch op.Type {
		case model.OpCreateRegistration:
			o.reconcileRegistration(ctx, op.EntityID, &result)
		case model.OpUpdateUser:
			o.reconcileUser(ctx, op.EntityID, &result)
		}
	}

	o.logger.InfoContext(ctx, "reconciliation pass finished",
		slog.Int("examined", result.Examined),
		slog.Int("conflicts", result.Conflicts),
		slog.Int("resolved", result.Resolved),
		slog.Int("skipped", result.Skipped),
	)
	if result.Resolved > 0 {
		o.publish(notify.TypeInfo, "Conflicts resolved",
			fmt.Sprintf("%d of %d conflicts resolved", result.Resolved, result.Conflicts))
	}
	return result, nil
}

func (o *Orchestrator) reconcileRegistration(ctx context.Context, id string, result *ReconcileResult) {
	result.Examined++

	local, err := o.entities.GetRegistration(ctx, id)
	if err != nil {
		result.Skipped++
		return
	}
	server, err := o.fetcher.FetchRegistration(ctx, id)
	if err != nil {
		o.logger.WarnContext(ctx, "skipping registration, server copy unavailable",
			slog.String("registration_id", id), slog.String("error", err.Error()))
		result.Skipped++
		return
	}

	c := conflict.DetectRegistration(local, server)
	if c == nil {
		return
	}
	result.Conflicts++

	res := conflict.ResolveRegistration(c, conflict.Recommend(c))
	if err := conflict.ValidateRegistrationResolution(res); err != nil {
		o.logger.LogError(ctx, err, "conflict resolution produced invalid registration",
			slog.String("registration_id", id))
		o.publish(notify.TypeWarning, "Conflict unresolved",
			fmt.Sprintf("Registration %s needs manual review", id))
		result.Skipped++
		return
	}

	if err := o.entities.SaveRegistration(ctx, res.Resolved); err != nil {
		o.logger.LogError(ctx, err, "failed to persist resolved registration",
			slog.String("registration_id", id))
		result.Skipped++
		return
	}
	result.Resolved++
}

func (o *Orchestrator) reconcileUser(ctx context.Context, id string, result *ReconcileResult) {
	result.Examined++

	local, err := o.entities.GetUser(ctx, id)
	if err != nil {
		result.Skipped++
		return
	}
	server, err := o.fetcher.FetchUser(ctx, id)
	if err != nil {
		o.logger.WarnContext(ctx, "skipping user, server copy unavailable",
			slog.String("user_id", id), slog.String("error", err.Error()))
		result.Skipped++
		return
	}

	c := conflict.DetectUser(local, server)
	if c == nil {
		return
	}
	result.Conflicts++

	res := conflict.ResolveUser(c, conflict.Recommend(c))
	if err := conflict.ValidateUserResolution(res); err != nil {
		o.logger.LogError(ctx, err, "conflict resolution produced invalid user",
			slog.String("user_id", id))
		o.publish(notify.TypeWarning, "Conflict unresolved",
			fmt.Sprintf("User %s needs manual review", id))
		result.Skipped++
		return
	}

	if err := o.entities.SaveUser(ctx, res.Resolved); err != nil {
		o.logger.LogError(ctx, err, "failed to persist resolved user",
			slog.String("user_id", id))
		result.Skipped++
		return
	}
	result.Resolved++
}

// categoryFor maps a transmission failure onto the error log taxonomy.
func categoryFor(err error) model.Category {
	switch syncerrors.KindOf(err) {
	case syncerrors.KindNetwork:
		return model.CategoryNetwork
	case syncerrors.KindValidation:
		return model.CategoryValidation
	case syncerrors.KindServer:
		return model.CategoryServer
	default:
		return model.CategoryUnknown
	}
}
