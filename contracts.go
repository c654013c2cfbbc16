// Package weightsync implements the offline synchronization core for the
// meat-delivery weight capture application: a durable queue of pending
// mutations, an orchestrator that drains it against the remote service,
// conflict reconciliation between local and server copies, and a sync
// error log surfaced to supervisors.
package weightsync

import (
	"context"
	"errors"

	"github.com/carnedata/weightsync/model"
)

// ErrErrorNotFound is returned by ErrorStore implementations when a sync
// error id is absent.
var ErrErrorNotFound = errors.New("sync error not found")

// Transport sends one pending operation to the remote service. One call
// is one attempt: implementations must not retry internally. Failures
// should be *errors.Error values carrying a kind so the orchestrator can
// categorize them; a bounded wait (timeout) is the transport's own
// responsibility and surfaces as a network-kinded failure.
type Transport interface {
	Transmit(ctx context.Context, op model.PendingOperation) error
	Close() error
}

// Fetcher is an optional capability of a transport: reading back server
// copies for conflict reconciliation.
type Fetcher interface {
	FetchRegistration(ctx context.Context, id string) (model.Registration, error)
	FetchUser(ctx context.Context, id string) (model.User, error)
}

// Authenticator exposes the current session identity. Session management
// itself is an external collaborator.
type Authenticator interface {
	IsSupervisor() bool
	CurrentUserID() (string, bool)
}

// ConnectivityProbe reports whether the device currently has a usable
// network path. The orchestrator consults it before starting a drain
// pass; a nil probe means "assume online".
type ConnectivityProbe interface {
	Online() bool
}

// ErrorStore is the persistence contract for the sync error log, owned
// exclusively by the orchestrator.
type ErrorStore interface {
	InsertError(ctx context.Context, e model.SyncError) error
	UpdateError(ctx context.Context, e model.SyncError) error

	// DeleteError removes an error record. Deleting an absent id
	// returns ErrErrorNotFound.
	DeleteError(ctx context.Context, id string) error

	GetError(ctx context.Context, id string) (model.SyncError, error)
	ListErrors(ctx context.Context) ([]model.SyncError, error)
	CountErrors(ctx context.Context) (int, error)
}

// LocalEntityStore persists the authoritative local copies produced by
// conflict reconciliation.
type LocalEntityStore interface {
	SaveRegistration(ctx context.Context, r model.Registration) error
	GetRegistration(ctx context.Context, id string) (model.Registration, error)
	SaveUser(ctx context.Context, u model.User) error
	GetUser(ctx context.Context, id string) (model.User, error)
}
