// Package sqlite provides the durable SQLite implementation of the
// weightsync storage contracts: pending operations, the sync error log
// and the local entity copies all survive process restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	weightsync "github.com/carnedata/weightsync"
	syncerrors "github.com/carnedata/weightsync/errors"
	"github.com/carnedata/weightsync/logging"
	"github.com/carnedata/weightsync/model"
	"github.com/carnedata/weightsync/queue"
	"github.com/carnedata/weightsync/secrets"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

const component = syncerrors.Component("storage/sqlite")

// ErrStoreClosed is returned by every method after Close.
var ErrStoreClosed = errors.New("store is closed")

// Config holds configuration options for the Store.
//
// Production-ready defaults are applied by DefaultConfig() including WAL
// mode for better concurrency and a bounded connection pool.
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// When true, "?_journal_mode=WAL" is appended to DataSourceName.
	EnableWAL bool

	// Cipher encrypts operation payloads at rest. Nil disables
	// encryption (secrets.Noop semantics).
	Cipher secrets.Cipher

	// Connection pool settings.
	MaxOpenConns    int           // Default: 25
	MaxIdleConns    int           // Default: 5
	ConnMaxLifetime time.Duration // Default: 1h
	ConnMaxIdleTime time.Duration // Default: 5m
}

// setDefaults applies default values to the config.
func (c *Config) setDefaults() {
	if c.Cipher == nil {
		c.Cipher = secrets.Noop{}
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL {
		if !strings.Contains(c.DataSourceName, "?_journal_mode=") {
			c.DataSourceName += "?_journal_mode=WAL"
		}
	}
}

// DefaultConfig returns a Config with production-ready defaults.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// Store implements queue.OperationStore, weightsync.ErrorStore and
// weightsync.LocalEntityStore over one SQLite database.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	cipher secrets.Cipher
	logger *logging.Logger
}

var (
	_ queue.OperationStore        = (*Store)(nil)
	_ weightsync.ErrorStore       = (*Store)(nil)
	_ weightsync.LocalEntityStore = (*Store)(nil)
)

// New creates a Store from a Config.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := logging.WithComponent(component)
	logger.InfoContext(context.Background(), "opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store := &Store{
		db:     db,
		cipher: config.Cipher,
		logger: logger,
	}

	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}

	logger.InfoContext(context.Background(), "sqlite store initialized")
	return store, nil
}

// NewWithDataSource is a convenience constructor using DefaultConfig.
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

func (s *Store) setupSchema() error {
	query := `
    CREATE TABLE IF NOT EXISTS pending_operations (
        id              TEXT PRIMARY KEY,
        operation_type  TEXT NOT NULL,
        entity_id       TEXT NOT NULL,
        payload         BLOB NOT NULL,
        priority        INTEGER NOT NULL,
        created_at      TIMESTAMP NOT NULL,
        attempt_count   INTEGER NOT NULL DEFAULT 0,
        max_attempts    INTEGER NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_pending_priority_created ON pending_operations (priority DESC, created_at ASC);
    CREATE INDEX IF NOT EXISTS idx_pending_type ON pending_operations (operation_type);

    CREATE TABLE IF NOT EXISTS sync_errors (
        id              TEXT PRIMARY KEY,
        operation_type  TEXT NOT NULL,
        entity_id       TEXT NOT NULL,
        error_message   TEXT NOT NULL,
        error_category  TEXT NOT NULL,
        retry_count     INTEGER NOT NULL DEFAULT 0,
        max_retries     INTEGER NOT NULL,
        last_attempt_at TIMESTAMP NOT NULL,
        created_at      TIMESTAMP NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_sync_errors_created ON sync_errors (created_at);

    CREATE TABLE IF NOT EXISTS registrations (
        id   TEXT PRIMARY KEY,
        data TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS users (
        id   TEXT PRIMARY KEY,
        data TEXT NOT NULL
    );
    `
	_, err := s.db.Exec(query)
	return err
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// InsertOperation persists a pending operation, encrypting the payload
// when a cipher is configured.
func (s *Store) InsertOperation(ctx context.Context, op model.PendingOperation) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	payload, err := s.cipher.Encrypt(op.Payload)
	if err != nil {
		return syncerrors.WrapOpComponentKind(err, syncerrors.OpStore, component, syncerrors.KindStorage)
	}

	query := `INSERT INTO pending_operations
        (id, operation_type, entity_id, payload, priority, created_at, attempt_count, max_attempts)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		op.ID, string(op.Type), op.EntityID, payload, int(op.Priority),
		op.CreatedAt.UTC(), op.AttemptCount, op.MaxAttempts)
	return syncerrors.WrapOpComponentKind(err, syncerrors.OpStore, component, syncerrors.KindStorage)
}

// UpdateOperation persists attempt bookkeeping for an existing operation.
func (s *Store) UpdateOperation(ctx context.Context, op model.PendingOperation) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	query := `UPDATE pending_operations SET attempt_count = ?, max_attempts = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query, op.AttemptCount, op.MaxAttempts, op.ID)
	if err != nil {
		return syncerrors.WrapOpComponentKind(err, syncerrors.OpStore, component, syncerrors.KindStorage)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return queue.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteOperation(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_operations WHERE id = ?`, id)
	if err != nil {
		return syncerrors.WrapOpComponentKind(err, syncerrors.OpStore, component, syncerrors.KindStorage)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return queue.ErrNotFound
	}
	return nil
}

func (s *Store) GetOperation(ctx context.Context, id string) (model.PendingOperation, error) {
	if err := s.checkOpen(); err != nil {
		return model.PendingOperation{}, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, operation_type, entity_id, payload, priority, created_at, attempt_count, max_attempts
         FROM pending_operations WHERE id = ?`, id)
	op, err := s.scanOperation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PendingOperation{}, queue.ErrNotFound
	}
	if err != nil {
		return model.PendingOperation{}, syncerrors.WrapOpComponentKind(err, syncerrors.OpLoad, component, syncerrors.KindStorage)
	}
	return op, nil
}

func (s *Store) ListOperations(ctx context.Context) ([]model.PendingOperation, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, operation_type, entity_id, payload, priority, created_at, attempt_count, max_attempts
         FROM pending_operations ORDER BY priority DESC, created_at ASC, id ASC`)
	if err != nil {
		return nil, syncerrors.WrapOpComponentKind(err, syncerrors.OpLoad, component, syncerrors.KindStorage)
	}
	defer rows.Close()

	var ops []model.PendingOperation
	for rows.Next() {
		op, err := s.scanOperation(rows.Scan)
		if err != nil {
			return nil, syncerrors.WrapOpComponentKind(err, syncerrors.OpLoad, component, syncerrors.KindStorage)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, syncerrors.WrapOpComponentKind(err, syncerrors.OpLoad, component, syncerrors.KindStorage)
	}
	return ops, nil
}

func (s *Store) scanOperation(scan func(...any) error) (model.PendingOperation, error) {
	var op model.PendingOperation
	var opType string
	var payload []byte
	var priority int

	if err := scan(&op.ID, &opType, &op.EntityID, &payload, &priority,
		&op.CreatedAt, &op.AttemptCount, &op.MaxAttempts); err != nil {
		return model.PendingOperation{}, err
	}

	plain, err := s.cipher.Decrypt(payload)
	if err != nil {
		return model.PendingOperation{}, fmt.Errorf("failed to decrypt payload for operation %s: %w", op.ID, err)
	}

	op.Type = model.OperationType(opType)
	op.Payload = plain
	op.Priority = model.Priority(priority)
	return op, nil
}

// InsertError persists a sync error record.
func (s *Store) InsertError(ctx context.Context, e model.SyncError) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	query := `INSERT INTO sync_errors
        (id, operation_type, entity_id, error_message, error_category, retry_count, max_retries, last_attempt_at, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, string(e.OperationType), e.EntityID, e.ErrorMessage, string(e.Category),
		e.RetryCount, e.MaxRetries, e.LastAttemptAt.UTC(), e.CreatedAt.UTC())
	return syncerrors.WrapOpComponentKind(err, syncerrors.OpStore, component, syncerrors.KindStorage)
}

func (s *Store) UpdateError(ctx context.Context, e model.SyncError) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	query := `UPDATE sync_errors SET error_message = ?, error_category = ?, retry_count = ?, last_attempt_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query,
		e.ErrorMessage, string(e.Category), e.RetryCount, e.LastAttemptAt.UTC(), e.ID)
	if err != nil {
		return syncerrors.WrapOpComponentKind(err, syncerrors.OpStore, component, syncerrors.KindStorage)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return weightsync.ErrErrorNotFound
	}
	return nil
}

func (s *Store) DeleteError(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_errors WHERE id = ?`, id)
	if err != nil {
		return syncerrors.WrapOpComponentKind(err, syncerrors.OpStore, component, syncerrors.KindStorage)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return weightsync.ErrErrorNotFound
	}
	return nil
}

func (s *Store) GetError(ctx context.Context, id string) (model.SyncError, error) {
	if err := s.checkOpen(); err != nil {
		return model.SyncError{}, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, operation_type, entity_id, error_message, error_category, retry_count, max_retries, last_attempt_at, created_at
         FROM sync_errors WHERE id = ?`, id)
	e, err := scanError(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SyncError{}, weightsync.ErrErrorNotFound
	}
	if err != nil {
		return model.SyncError{}, syncerrors.WrapOpComponentKind(err, syncerrors.OpLoad, component, syncerrors.KindStorage)
	}
	return e, nil
}

func (s *Store) ListErrors(ctx context.Context) ([]model.SyncError, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, operation_type, entity_id, error_message, error_category, retry_count, max_retries, last_attempt_at, created_at
         FROM sync_errors ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, syncerrors.WrapOpComponentKind(err, syncerrors.OpLoad, component, syncerrors.KindStorage)
	}
	defer rows.Close()

	var errsList []model.SyncError
	for rows.Next() {
		e, err := scanError(rows.Scan)
		if err != nil {
			return nil, syncerrors.WrapOpComponentKind(err, syncerrors.OpLoad, component, syncerrors.KindStorage)
		}
		errsList = append(errsList, e)
	}
	if err := rows.Err(); err != nil {
		return nil, syncerrors.WrapOpComponentKind(err, syncerrors.OpLoad, component, syncerrors.KindStorage)
	}
	return errsList, nil
}

func (s *Store) CountErrors(ctx context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_errors`).Scan(&n)
	if err != nil {
		return 0, syncerrors.WrapOpComponentKind(err, syncerrors.OpLoad, component, syncerrors.KindStorage)
	}
	return n, nil
}

func scanError(scan func(...any) error) (model.SyncError, error) {
	var e model.SyncError
	var opType, category string
	if err := scan(&e.ID, &opType, &e.EntityID, &e.ErrorMessage, &category,
		&e.RetryCount, &e.MaxRetries, &e.LastAttemptAt, &e.CreatedAt); err != nil {
		return model.SyncError{}, err
	}
	e.OperationType = model.OperationType(opType)
	e.Category = model.Category(category)
	return e, nil
}

// SaveRegistration upserts the local copy of a registration.
func (s *Store) SaveRegistration(ctx context.Context, r model.Registration) error {
	return s.saveEntity(ctx, "registrations", r.ID, r)
}

func (s *Store) GetRegistration(ctx context.Context, id string) (model.Registration, error) {
	var r model.Registration
	if err := s.getEntity(ctx, "registrations", id, &r); err != nil {
		return model.Registration{}, err
	}
	return r, nil
}

// SaveUser upserts the local copy of a user.
func (s *Store) SaveUser(ctx context.Context, u model.User) error {
	return s.saveEntity(ctx, "users", u.ID, u)
}

func (s *Store) GetUser(ctx context.Context, id string) (model.User, error) {
	var u model.User
	if err := s.getEntity(ctx, "users", id, &u); err != nil {
		return model.User{}, err
	}
	return u, nil
}

func (s *Store) saveEntity(ctx context.Context, table, id string, v any) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return syncerrors.WrapOpComponentKind(err, syncerrors.OpStore, component, syncerrors.KindStorage)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, data) VALUES (?, ?)
        ON CONFLICT(id) DO UPDATE SET data = excluded.data`, table)
	_, err = s.db.ExecContext(ctx, query, id, string(data))
	return syncerrors.WrapOpComponentKind(err, syncerrors.OpStore, component, syncerrors.KindStorage)
}

func (s *Store) getEntity(ctx context.Context, table, id string, v any) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	var data string
	query := fmt.Sprintf(`SELECT data FROM %s WHERE id = ?`, table)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.ErrNotFound
	}
	if err != nil {
		return syncerrors.WrapOpComponentKind(err, syncerrors.OpLoad, component, syncerrors.KindStorage)
	}
	return json.Unmarshal([]byte(data), v)
}

// Stats returns database statistics for monitoring.
func (s *Store) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sql.DBStats{}
	}
	return s.db.Stats()
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return syncerrors.E(syncerrors.OpClose, component, syncerrors.KindStorage, err)
	}
	return nil
}
