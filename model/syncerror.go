package model

import "time"

// Category classifies why a transmission attempt failed.
type Category string

const (
	CategoryNetwork    Category = "network"
	CategoryValidation Category = "validation"
	CategoryServer     Category = "server"
	CategoryUnknown    Category = "unknown"
)

// DefaultMaxRetries bounds manual retries per sync error.
const DefaultMaxRetries = 3

// SyncError is the failure record kept for one PendingOperation. It is
// created on the first failed drain attempt, updated on each failed
// retry, and deleted when a retry succeeds or the user clears it.
type SyncError struct {
	ID            string        `json:"id"`
	OperationType OperationType `json:"operation_type"`
	EntityID      string        `json:"entity_id"`
	ErrorMessage  string        `json:"error_message"`
	Category      Category      `json:"error_category"`
	RetryCount    int           `json:"retry_count"`
	MaxRetries    int           `json:"max_retries"`
	LastAttemptAt time.Time     `json:"last_attempt_at"`
	CreatedAt     time.Time     `json:"created_at"`
}

// CanRetry reports whether another retry may succeed. Validation
// failures need a corrected payload re-enqueued as a new operation, so
// they are never retryable regardless of retry count.
func (e *SyncError) CanRetry() bool {
	if e.Category == CategoryValidation {
		return false
	}
	return e.RetryCount < e.MaxRetries
}
