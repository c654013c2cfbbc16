// Package conflict detects divergence between local and server copies of
// the same entity and produces one authoritative copy under a chosen
// resolution strategy.
package conflict

import (
	"time"

	"github.com/carnedata/weightsync/model"
)

// Strategy is the policy used to produce one authoritative record.
type Strategy string

const (
	StrategyLocalWins  Strategy = "local_wins"
	StrategyServerWins Strategy = "server_wins"
	StrategyMerge      Strategy = "merge"
	StrategyManual     Strategy = "manual"
)

// Conflict is a detected divergence between a local and server copy of
// the same entity. Fields lists the diverging field names in the fixed
// declared comparison order. Conflicts are transient: they are created
// at reconciliation time and consumed immediately by resolution.
type Conflict[T any] struct {
	ID        string    `json:"id"`
	Local     T         `json:"localData"`
	Server    T         `json:"serverData"`
	Fields    []string  `json:"conflictFields"`
	Timestamp time.Time `json:"timestamp"`
}

// Resolution is the outcome of resolving a Conflict.
type Resolution[T any] struct {
	Strategy       Strategy `json:"strategy"`
	Resolved       T        `json:"resolvedData"`
	AppliedChanges []string `json:"appliedChanges"`
}

// Registration fields compared during detection, in declared order.
var registrationFields = []string{"weight", "cut_type", "supplier", "photo_url", "ocr_confidence"}

// User fields compared during detection, in declared order.
var userFields = []string{"name", "role", "active", "last_login"}

// DetectRegistration compares the tracked registration fields pairwise
// and returns a Conflict listing the ones that differ, or nil when every
// tracked field agrees. Fields outside the tracked set never produce a
// conflict.
func DetectRegistration(local, server model.Registration) *Conflict[model.Registration] {
	var fields []string
	for _, f := range registrationFields {
		switch f {
		case "weight":
			if local.Weight != server.Weight {
				fields = append(fields, f)
			}
		case "cut_type":
			if local.CutType != server.CutType {
				fields = append(fields, f)
			}
		case "supplier":
			if local.Supplier != server.Supplier {
				fields = append(fields, f)
			}
		case "photo_url":
			if local.PhotoURL != server.PhotoURL {
				fields = append(fields, f)
			}
		case "ocr_confidence":
			if !equalConfidence(local.OCRConfidence, server.OCRConfidence) {
				fields = append(fields, f)
			}
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return &Conflict[model.Registration]{
		ID:        local.ID,
		Local:     local,
		Server:    server,
		Fields:    fields,
		Timestamp: time.Now(),
	}
}

// DetectUser compares the tracked user fields pairwise and returns a
// Conflict listing the ones that differ, or nil when every tracked field
// agrees.
func DetectUser(local, server model.User) *Conflict[model.User] {
	var fields []string
	for _, f := range userFields {
		switch f {
		case "name":
			if local.Name != server.Name {
				fields = append(fields, f)
			}
		case "role":
			if local.Role != server.Role {
				fields = append(fields, f)
			}
		case "active":
			if local.Active != server.Active {
				fields = append(fields, f)
			}
		case "last_login":
			if !local.LastLogin.Equal(server.LastLogin) {
				fields = append(fields, f)
			}
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return &Conflict[model.User]{
		ID:        local.ID,
		Local:     local,
		Server:    server,
		Fields:    fields,
		Timestamp: time.Now(),
	}
}

func equalConfidence(a, b *float64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

// criticalFields are never client-authoritative: any divergence here
// must be settled in the server's favor.
var criticalFields = map[string]bool{
	"cut_type":      true,
	"supplier":      true,
	"registered_by": true,
	"role":          true,
	"active":        true,
}

// metadataFields are safe to merge automatically.
var metadataFields = map[string]bool{
	"ocr_confidence": true,
	"last_login":     true,
	"photo_url":      true,
}

// Recommend suggests a resolution strategy for a conflict. Any critical
// field forces server_wins; a conflict made up entirely of metadata
// fields can be merged; everything else defaults conservatively to
// server_wins.
func Recommend[T any](c *Conflict[T]) Strategy {
	if c == nil || len(c.Fields) == 0 {
		return StrategyServerWins
	}
	allMetadata := true
	for _, f := range c.Fields {
		if criticalFields[f] {
			return StrategyServerWins
		}
		if !metadataFields[f] {
			allMetadata = false
		}
	}
	if allMetadata {
		return StrategyMerge
	}
	return StrategyServerWins
}
