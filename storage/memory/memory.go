// Package memory provides an in-memory implementation of the weightsync
// storage contracts. It is intended for tests and quickstarts; durable
// deployments use storage/sqlite.
package memory

import (
	"context"
	"sync"

	weightsync "github.com/carnedata/weightsync"
	"github.com/carnedata/weightsync/model"
	"github.com/carnedata/weightsync/queue"
)

// Store keeps every collection in process memory, guarded by one mutex.
type Store struct {
	mu            sync.RWMutex
	ops           map[string]model.PendingOperation
	opOrder       []string
	errs          map[string]model.SyncError
	errOrder      []string
	registrations map[string]model.Registration
	users         map[string]model.User
}

var (
	_ queue.OperationStore        = (*Store)(nil)
	_ weightsync.ErrorStore       = (*Store)(nil)
	_ weightsync.LocalEntityStore = (*Store)(nil)
)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		ops:           make(map[string]model.PendingOperation),
		errs:          make(map[string]model.SyncError),
		registrations: make(map[string]model.Registration),
		users:         make(map[string]model.User),
	}
}

func (s *Store) InsertOperation(ctx context.Context, op model.PendingOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ops[op.ID]; !exists {
		s.opOrder = append(s.opOrder, op.ID)
	}
	s.ops[op.ID] = op
	return nil
}

func (s *Store) UpdateOperation(ctx context.Context, op model.PendingOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ops[op.ID]; !exists {
		return queue.ErrNotFound
	}
	s.ops[op.ID] = op
	return nil
}

func (s *Store) DeleteOperation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ops[id]; !exists {
		return queue.ErrNotFound
	}
	delete(s.ops, id)
	for i, oid := range s.opOrder {
		if oid == id {
			s.opOrder = append(s.opOrder[:i], s.opOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) GetOperation(ctx context.Context, id string) (model.PendingOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, exists := s.ops[id]
	if !exists {
		return model.PendingOperation{}, queue.ErrNotFound
	}
	return op, nil
}

func (s *Store) ListOperations(ctx context.Context) ([]model.PendingOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ops := make([]model.PendingOperation, 0, len(s.opOrder))
	for _, id := range s.opOrder {
		ops = append(ops, s.ops[id])
	}
	return ops, nil
}

func (s *Store) InsertError(ctx context.Context, e model.SyncError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.errs[e.ID]; !exists {
		s.errOrder = append(s.errOrder, e.ID)
	}
	s.errs[e.ID] = e
	return nil
}

func (s *Store) UpdateError(ctx context.Context, e model.SyncError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.errs[e.ID]; !exists {
		return weightsync.ErrErrorNotFound
	}
	s.errs[e.ID] = e
	return nil
}

func (s *Store) DeleteError(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.errs[id]; !exists {
		return weightsync.ErrErrorNotFound
	}
	delete(s.errs, id)
	for i, eid := range s.errOrder {
		if eid == id {
			s.errOrder = append(s.errOrder[:i], s.errOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) GetError(ctx context.Context, id string) (model.SyncError, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, exists := s.errs[id]
	if !exists {
		return model.SyncError{}, weightsync.ErrErrorNotFound
	}
	return e, nil
}

func (s *Store) ListErrors(ctx context.Context) ([]model.SyncError, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	errs := make([]model.SyncError, 0, len(s.errOrder))
	for _, id := range s.errOrder {
		errs = append(errs, s.errs[id])
	}
	return errs, nil
}

func (s *Store) CountErrors(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.errs), nil
}

func (s *Store) SaveRegistration(ctx context.Context, r model.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations[r.ID] = r
	return nil
}

func (s *Store) GetRegistration(ctx context.Context, id string) (model.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, exists := s.registrations[id]
	if !exists {
		return model.Registration{}, queue.ErrNotFound
	}
	return r, nil
}

func (s *Store) SaveUser(ctx context.Context, u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, exists := s.users[id]
	if !exists {
		return model.User{}, queue.ErrNotFound
	}
	return u, nil
}
