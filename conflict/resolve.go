package conflict

import (
	"fmt"
	"strings"

	"github.com/carnedata/weightsync/errors"
	"github.com/carnedata/weightsync/model"
	"github.com/carnedata/weightsync/validate"
)

const component = errors.Component("conflict")

// ResolveRegistration produces one authoritative registration from a
// detected conflict. An unrecognized strategy falls back to server_wins
// and records that fact in AppliedChanges.
func ResolveRegistration(c *Conflict[model.Registration], strategy Strategy) Resolution[model.Registration] {
	switch strategy {
	case StrategyLocalWins:
		return Resolution[model.Registration]{
			Strategy:       strategy,
			Resolved:       c.Local,
			AppliedChanges: []string{"kept full local copy"},
		}
	case StrategyServerWins:
		return Resolution[model.Registration]{
			Strategy:       strategy,
			Resolved:       c.Server,
			AppliedChanges: []string{"kept full server copy"},
		}
	case StrategyMerge:
		return mergeRegistration(c)
	case StrategyManual:
		return Resolution[model.Registration]{
			Strategy:       strategy,
			Resolved:       c.Local,
			AppliedChanges: []string{"kept local copy pending manual review"},
		}
	default:
		res := Resolution[model.Registration]{
			Strategy:       StrategyServerWins,
			Resolved:       c.Server,
			AppliedChanges: []string{fmt.Sprintf("unsupported strategy %q, fell back to server_wins", strategy)},
		}
		return res
	}
}

// mergeRegistration applies the registration merge rules in precedence
// order. Business-critical fields (cut_type, supplier, registered_by)
// always take the server value.
func mergeRegistration(c *Conflict[model.Registration]) Resolution[model.Registration] {
	local, server := c.Local, c.Server
	resolved := server
	var changes []string

	// Rule 1: newer local edit wins the weight.
	if local.UpdatedAt.After(server.UpdatedAt) {
		resolved.Weight = local.Weight
		resolved.UpdatedAt = local.UpdatedAt
		changes = append(changes, fmt.Sprintf("took local weight %.3f (local edit is newer)", local.Weight))
	} else {
		changes = append(changes, fmt.Sprintf("kept server weight %.3f", server.Weight))
	}

	// Rule 2: highest available OCR confidence.
	switch {
	case local.OCRConfidence != nil && server.OCRConfidence == nil:
		resolved.OCRConfidence = local.OCRConfidence
		changes = append(changes, "took local ocr_confidence (server has none)")
	case local.OCRConfidence == nil && server.OCRConfidence != nil:
		resolved.OCRConfidence = server.OCRConfidence
		changes = append(changes, "kept server ocr_confidence (local has none)")
	case local.OCRConfidence != nil && server.OCRConfidence != nil:
		if *local.OCRConfidence > *server.OCRConfidence {
			resolved.OCRConfidence = local.OCRConfidence
			changes = append(changes, "took local ocr_confidence (higher)")
		} else {
			resolved.OCRConfidence = server.OCRConfidence
			changes = append(changes, "kept server ocr_confidence (higher or equal)")
		}
	}

	// Rule 3: prefer the uploaded server photo over the local file.
	if server.PhotoURL != "" {
		resolved.PhotoURL = server.PhotoURL
		changes = append(changes, "kept server photo_url")
	} else if local.LocalPhotoPath != "" {
		resolved.LocalPhotoPath = local.LocalPhotoPath
		changes = append(changes, "fell back to local photo path")
	}

	// Rule 4: critical fields stay server-authoritative.
	resolved.CutType = server.CutType
	resolved.Supplier = server.Supplier
	resolved.RegisteredBy = server.RegisteredBy
	changes = append(changes, "kept server cut_type, supplier, registered_by")

	return Resolution[model.Registration]{
		Strategy:       StrategyMerge,
		Resolved:       resolved,
		AppliedChanges: changes,
	}
}

// ResolveUser produces one authoritative user from a detected conflict.
func ResolveUser(c *Conflict[model.User], strategy Strategy) Resolution[model.User] {
	switch strategy {
	case StrategyLocalWins:
		return Resolution[model.User]{
			Strategy:       strategy,
			Resolved:       c.Local,
			AppliedChanges: []string{"kept full local copy"},
		}
	case StrategyServerWins:
		return Resolution[model.User]{
			Strategy:       strategy,
			Resolved:       c.Server,
			AppliedChanges: []string{"kept full server copy"},
		}
	case StrategyMerge:
		return mergeUser(c)
	case StrategyManual:
		return Resolution[model.User]{
			Strategy:       strategy,
			Resolved:       c.Local,
			AppliedChanges: []string{"kept local copy pending manual review"},
		}
	default:
		return Resolution[model.User]{
			Strategy:       StrategyServerWins,
			Resolved:       c.Server,
			AppliedChanges: []string{fmt.Sprintf("unsupported strategy %q, fell back to server_wins", strategy)},
		}
	}
}

// mergeUser keeps server values for everything except last_login, which
// takes the most recent (or only present) side.
func mergeUser(c *Conflict[model.User]) Resolution[model.User] {
	local, server := c.Local, c.Server
	resolved := server
	var changes []string

	switch {
	case server.LastLogin.IsZero() && !local.LastLogin.IsZero():
		resolved.LastLogin = local.LastLogin
		changes = append(changes, "took local last_login (server has none)")
	case local.LastLogin.After(server.LastLogin):
		resolved.LastLogin = local.LastLogin
		changes = append(changes, "took local last_login (more recent)")
	default:
		changes = append(changes, "kept server last_login")
	}

	changes = append(changes, "kept server name, role, active, created_at")

	return Resolution[model.User]{
		Strategy:       StrategyMerge,
		Resolved:       resolved,
		AppliedChanges: changes,
	}
}

// ValidateRegistrationResolution re-runs the registration business rules
// on resolved data. A resolution that fails must be surfaced, never
// silently applied.
func ValidateRegistrationResolution(res Resolution[model.Registration]) error {
	r := res.Resolved
	if r.Weight <= 0 {
		return errors.E(errors.OpResolve, component, errors.KindResolutionInvalid,
			"resolved weight must be a positive number")
	}
	result := validate.Registration(model.RegistrationPayload{
		Weight:         r.Weight,
		CutType:        r.CutType,
		Supplier:       r.Supplier,
		RegisteredBy:   r.RegisteredBy,
		LocalPhotoPath: r.LocalPhotoPath,
		OCRConfidence:  r.OCRConfidence,
	})
	if !result.IsValid {
		return errors.E(errors.OpResolve, component, errors.KindResolutionInvalid,
			fmt.Sprintf("resolved registration failed validation: %s", strings.Join(result.Errors, "; ")))
	}
	return nil
}

// ValidateUserResolution re-runs the user business rules on resolved data.
func ValidateUserResolution(res Resolution[model.User]) error {
	result := validate.User(res.Resolved)
	if !result.IsValid {
		return errors.E(errors.OpResolve, component, errors.KindResolutionInvalid,
			fmt.Sprintf("resolved user failed validation: %s", strings.Join(result.Errors, "; ")))
	}
	return nil
}
