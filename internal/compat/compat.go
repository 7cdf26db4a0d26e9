// Package compat flags risky roommate pairings.
package compat

import (
	"fmt"
	"roomalloc/backend/internal/config"
	"roomalloc/backend/internal/models"
	"slices"
)

// Evaluator compares two occupant profiles. It holds no state beyond its tolerance.
type Evaluator struct {
	AgeGapTolerance int
}

func NewEvaluator(ageGapTolerance int) Evaluator {
	return Evaluator{AgeGapTolerance: ageGapTolerance}
}

// Evaluate returns warnings in a fixed order: age gap first, then snoring.
// An empty result means the pair can be committed without approval.
func (e Evaluator) Evaluate(occupant, candidate models.Guest) []string {
	var warnings []string

	if occupant.Age != nil && candidate.Age != nil {
		gap := *occupant.Age - *candidate.Age
		if gap < 0 {
			gap = -gap
		}
		if gap > e.AgeGapTolerance {
			warnings = append(warnings, fmt.Sprintf("age gap of %d years with %s", gap, occupant.Name))
		}
	}

	if w, ok := snoringWarning(occupant, candidate); ok {
		warnings = append(warnings, w)
	}
	return warnings
}

// EvaluateRoom runs Evaluate against every occupant in arrival order.
func (e Evaluator) EvaluateRoom(occupants []models.Guest, candidate models.Guest) []string {
	var warnings []string
	for _, occupant := range occupants {
		if occupant.SessionID == candidate.SessionID {
			continue
		}
		warnings = append(warnings, e.Evaluate(occupant, candidate)...)
	}
	return warnings
}

func snoringWarning(occupant, candidate models.Guest) (string, bool) {
	if conflicts(candidate.Snoring, occupant.Snoring) {
		return fmt.Sprintf("snores %s while %s reports %s", candidate.Snoring, occupant.Name, level(occupant.Snoring)), true
	}
	if conflicts(occupant.Snoring, candidate.Snoring) {
		return fmt.Sprintf("%s snores %s while you report %s", occupant.Name, occupant.Snoring, level(candidate.Snoring)), true
	}
	return "", false
}

func conflicts(loud, quiet models.SnoringLevel) bool {
	return slices.Contains(config.SnoringConflicts[string(loud)], string(level(quiet)))
}

func level(s models.SnoringLevel) models.SnoringLevel {
	if s == "" {
		return models.SnoringNone
	}
	return s
}
