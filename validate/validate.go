// Package validate implements the business-rule checks applied to
// registrations and users before they may enter the sync queue. All
// functions are pure: they return a Result and never panic.
package validate

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/carnedata/weightsync/model"
)

// Result is the outcome of a validation pass. Errors holds one
// human-readable message per violated rule, in rule order.
type Result struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors"`
}

func newResult(errs []string) Result {
	return Result{IsValid: len(errs) == 0, Errors: errs}
}

// Limits carries the configurable bounds for registration validation.
type Limits struct {
	MinWeight      float64
	MaxWeight      float64
	WeightDecimals int
	MaxSupplierLen int
	MaxNameLen     int
}

// DefaultLimits matches the remote service's accepted ranges.
func DefaultLimits() Limits {
	return Limits{
		MinWeight:      5.0,
		MaxWeight:      50.0,
		WeightDecimals: 3,
		MaxSupplierLen: 100,
		MaxNameLen:     50,
	}
}

// Registration validates a registration payload against the default limits.
func Registration(p model.RegistrationPayload) Result {
	return RegistrationWithLimits(p, DefaultLimits())
}

// RegistrationWithLimits validates a registration payload.
func RegistrationWithLimits(p model.RegistrationPayload, limits Limits) Result {
	var errs []string

	switch {
	case math.IsNaN(p.Weight) || math.IsInf(p.Weight, 0):
		errs = append(errs, "weight must be a valid number")
	case p.Weight <= 0:
		errs = append(errs, "weight must be greater than zero")
	case p.Weight < limits.MinWeight || p.Weight > limits.MaxWeight:
		errs = append(errs, fmt.Sprintf("weight must be between %.1f and %.1f kg", limits.MinWeight, limits.MaxWeight))
	case !hasMaxDecimals(p.Weight, limits.WeightDecimals):
		errs = append(errs, fmt.Sprintf("weight must have at most %d decimal places", limits.WeightDecimals))
	}

	if !model.ValidCutType(p.CutType) {
		errs = append(errs, fmt.Sprintf("cut_type must be one of: %s", strings.Join(model.CutTypes, ", ")))
	}

	supplier := strings.TrimSpace(p.Supplier)
	switch {
	case supplier == "":
		errs = append(errs, "supplier is required")
	case len([]rune(supplier)) > limits.MaxSupplierLen:
		errs = append(errs, fmt.Sprintf("supplier must be at most %d characters", limits.MaxSupplierLen))
	case !validNameCharset(supplier):
		errs = append(errs, "supplier contains invalid characters")
	}

	if strings.TrimSpace(p.RegisteredBy) == "" {
		errs = append(errs, "registered_by is required")
	}

	if p.OCRConfidence != nil && (*p.OCRConfidence < 0 || *p.OCRConfidence > 1) {
		errs = append(errs, "ocr_confidence must be between 0 and 1")
	}

	return newResult(errs)
}

// User validates a user record against the default limits.
func User(u model.User) Result {
	return UserWithLimits(u, DefaultLimits())
}

// UserWithLimits validates a user record.
func UserWithLimits(u model.User, limits Limits) Result {
	var errs []string

	if strings.TrimSpace(u.ID) == "" {
		errs = append(errs, "id is required")
	}

	name := strings.TrimSpace(u.Name)
	switch {
	case name == "":
		errs = append(errs, "name is required")
	case len([]rune(name)) > limits.MaxNameLen:
		errs = append(errs, fmt.Sprintf("name must be at most %d characters", limits.MaxNameLen))
	case !validNameCharset(name):
		errs = append(errs, "name contains invalid characters")
	}

	if !model.ValidRole(u.Role) {
		errs = append(errs, "role must be operator or supervisor")
	}

	now := time.Now()
	if u.CreatedAt.IsZero() {
		errs = append(errs, "created_at is required")
	} else if u.CreatedAt.After(now) {
		errs = append(errs, "created_at cannot be in the future")
	}
	if !u.LastLogin.IsZero() && u.LastLogin.After(now) {
		errs = append(errs, "last_login cannot be in the future")
	}

	return newResult(errs)
}

// hasMaxDecimals reports whether v survives rounding to n decimal places.
func hasMaxDecimals(v float64, n int) bool {
	scale := math.Pow(10, float64(n))
	scaled := v * scale
	return math.Abs(scaled-math.Round(scaled)) < 1e-6
}

// validNameCharset accepts letters (including accented ones and ñ),
// digits, spaces and the punctuation seen in supplier names.
func validNameCharset(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			continue
		}
		switch r {
		case '.', ',', '-', '&', '\'':
			continue
		}
		return false
	}
	return true
}
