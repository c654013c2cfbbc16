package model

import (
	"encoding/json"
	"time"
)

// OperationType is the category of mutation a queued item represents.
type OperationType string

const (
	OpCreateRegistration OperationType = "create_registration"
	OpUploadPhoto        OperationType = "upload_photo"
	OpUpdateUser         OperationType = "update_user"
)

// ValidOperationType reports whether t is a known operation type.
func ValidOperationType(t OperationType) bool {
	switch t {
	case OpCreateRegistration, OpUploadPhoto, OpUpdateUser:
		return true
	}
	return false
}

// Priority orders queue drainage. Registration creates and photo uploads
// carry field data the business cannot lose, so they drain first.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// PriorityFor derives the drain priority for an operation type.
func PriorityFor(t OperationType) Priority {
	switch t {
	case OpCreateRegistration, OpUploadPhoto:
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// DefaultMaxAttempts bounds transmission attempts per queued operation.
const DefaultMaxAttempts = 3

// PendingOperation is a queued mutation awaiting transmission to the
// remote service. The payload is schema-checked for its operation type
// at enqueue time, never at drain time.
type PendingOperation struct {
	ID           string          `json:"id"`
	Type         OperationType   `json:"operation_type"`
	EntityID     string          `json:"entity_id"`
	Payload      json.RawMessage `json:"payload"`
	Priority     Priority        `json:"priority"`
	CreatedAt    time.Time       `json:"created_at"`
	AttemptCount int             `json:"attempt_count"`
	MaxAttempts  int             `json:"max_attempts"`
}

// RegistrationPayload is the payload for create_registration operations.
type RegistrationPayload struct {
	Weight         float64  `json:"weight"`
	CutType        string   `json:"cut_type"`
	Supplier       string   `json:"supplier"`
	RegisteredBy   string   `json:"registered_by"`
	LocalPhotoPath string   `json:"local_photo_path,omitempty"`
	OCRConfidence  *float64 `json:"ocr_confidence,omitempty"`
}

// PhotoPayload is the payload for upload_photo operations. The capture
// pipeline stores the image and hands over the reference plus metadata.
type PhotoPayload struct {
	RegistrationID string `json:"registration_id"`
	LocalPhotoPath string `json:"local_photo_path"`
	SizeBytes      int64  `json:"size_bytes,omitempty"`
	Quality        int    `json:"quality,omitempty"`
}

// UserPayload is the payload for update_user operations. Only the fields
// being changed are set; Active is a pointer so "set inactive" is
// distinguishable from "unchanged".
type UserPayload struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Role   Role   `json:"role,omitempty"`
	Active *bool  `json:"active,omitempty"`
}
