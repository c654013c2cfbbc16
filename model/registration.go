// Package model defines the domain types shared across the weightsync
// module: weight registrations, users, pending operations and the sync
// error log.
package model

import "time"

// SyncStatus tracks whether a local registration has reached the remote
// service.
type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusPending SyncStatus = "pending"
	SyncStatusError   SyncStatus = "error"
)

// CutTypes is the fixed set of meat cuts accepted by the remote service.
var CutTypes = []string{"jamón", "chuleta"}

// ValidCutType reports whether cut is one of the accepted cut types.
func ValidCutType(cut string) bool {
	for _, c := range CutTypes {
		if cut == c {
			return true
		}
	}
	return false
}

// Registration is a meat-delivery weight registration. JSON field names
// match the remote service's request bodies.
type Registration struct {
	ID             string     `json:"id"`
	Weight         float64    `json:"weight"`
	CutType        string     `json:"cut_type"`
	Supplier       string     `json:"supplier"`
	RegisteredBy   string     `json:"registered_by"`
	PhotoURL       string     `json:"photo_url,omitempty"`
	LocalPhotoPath string     `json:"local_photo_path,omitempty"`
	OCRConfidence  *float64   `json:"ocr_confidence,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	SyncStatus     SyncStatus `json:"sync_status,omitempty"`
}

// IsSynced reports whether the registration has reached the remote service.
func (r *Registration) IsSynced() bool {
	return r.SyncStatus == SyncStatusSynced
}

// MarkPendingSync flags the registration as awaiting transmission.
func (r *Registration) MarkPendingSync() {
	r.SyncStatus = SyncStatusPending
}

// MarkSyncError flags the registration as having failed transmission.
func (r *Registration) MarkSyncError() {
	r.SyncStatus = SyncStatusError
}

// MarkSynced flags the registration as successfully transmitted.
func (r *Registration) MarkSynced() {
	r.SyncStatus = SyncStatusSynced
}
