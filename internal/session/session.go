// Package session holds the in-memory marking state of one review pass over
// the catalog. State lives entirely client-side until the draft is built and
// submitted.
package session

import (
	"fmt"
	"strings"

	"checkline/internal/catalog"
	"checkline/internal/domain"
)

// MarkingState tracks per-control decisions. The zero value is not usable;
// create with NewMarkingState.
type MarkingState struct {
	markings map[string]domain.Marking
}

// NewMarkingState returns an empty state where every control is unset.
func NewMarkingState() *MarkingState {
	return &MarkingState{markings: map[string]domain.Marking{}}
}

// Get returns the marking for a control. Controls never touched report
// status unset with empty explanation and notes.
func (s *MarkingState) Get(controlID string) domain.Marking {
	if m, ok := s.markings[controlID]; ok {
		return m
	}
	return domain.Marking{ControlID: controlID, Status: domain.StatusUnset}
}

// SetStatus applies a status decision. Selecting the status a control
// already has toggles it back to unset. Explanation and notes survive the
// toggle so the operator does not lose typed text on a double click.
func (s *MarkingState) SetStatus(controlID string, status domain.MarkingStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	m := s.Get(controlID)
	if status != domain.StatusUnset && m.Status == status {
		m.Status = domain.StatusUnset
	} else {
		m.Status = status
	}
	s.markings[controlID] = m
	return nil
}

// SetExplanation records the operator's justification for a control.
func (s *MarkingState) SetExplanation(controlID, explanation string) {
	m := s.Get(controlID)
	m.Explanation = explanation
	s.markings[controlID] = m
}

// SetNotes records free-form notes for a control.
func (s *MarkingState) SetNotes(controlID, notes string) {
	m := s.Get(controlID)
	m.Notes = notes
	s.markings[controlID] = m
}

// Reset clears only the status of one control. Explanation and notes are
// kept, matching the single-control reset action in the UI.
func (s *MarkingState) Reset(controlID string) {
	m := s.Get(controlID)
	m.Status = domain.StatusUnset
	s.markings[controlID] = m
}

// ResetAll wipes the whole session: statuses, explanations and notes.
func (s *MarkingState) ResetAll() {
	s.markings = map[string]domain.Marking{}
}

// MarkedCount returns how many controls of the catalog carry a decision.
func (s *MarkingState) MarkedCount(cat *catalog.Catalog) int {
	n := 0
	for _, ctrl := range cat.Controls() {
		if s.Get(ctrl.ID).Status.Marked() {
			n++
		}
	}
	return n
}

// ReportReady reports whether every catalog control has been decided.
// Generating a report requires a complete pass.
func (s *MarkingState) ReportReady(cat *catalog.Catalog) bool {
	return s.MarkedCount(cat) == cat.Len()
}

// SaveEligible reports whether at least one control has been decided.
// Saving a partial session is allowed; generating a report is not.
func (s *MarkingState) SaveEligible(cat *catalog.Catalog) bool {
	return s.MarkedCount(cat) > 0
}

// Remaining returns the ids of catalog controls still unset, in catalog
// order.
func (s *MarkingState) Remaining(cat *catalog.Catalog) []string {
	var out []string
	for _, ctrl := range cat.Controls() {
		if !s.Get(ctrl.ID).Status.Marked() {
			out = append(out, ctrl.ID)
		}
	}
	return out
}

// ValidationError reports why a draft could not be built.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// BuildDraft snapshots the session into a submittable draft. The checks
// slice always spans the full catalog in catalog order; unmarked and
// skipped controls carry a null value. Marked controls must have an
// explanation.
func BuildDraft(name, teamID, deviceID, comments string, cat *catalog.Catalog, state *MarkingState) (domain.ConfigurationDraft, error) {
	if strings.TrimSpace(name) == "" {
		return domain.ConfigurationDraft{}, &ValidationError{Field: "name", Message: "configuration name is required"}
	}
	if !state.SaveEligible(cat) {
		return domain.ConfigurationDraft{}, &ValidationError{Field: "checks", Message: "mark at least one control before saving"}
	}
	checks := make([]domain.Check, 0, cat.Len())
	for _, ctrl := range cat.Controls() {
		m := state.Get(ctrl.ID)
		if m.Status.Marked() && strings.TrimSpace(m.Explanation) == "" {
			return domain.ConfigurationDraft{}, &ValidationError{
				Field:   "explanation",
				Message: fmt.Sprintf("control %s is marked %s but has no explanation", ctrl.ID, m.Status),
			}
		}
		checks = append(checks, domain.Check{ControlID: ctrl.ID, Value: checkValue(m.Status)})
	}
	return domain.ConfigurationDraft{
		Name:     strings.TrimSpace(name),
		TeamID:   teamID,
		DeviceID: deviceID,
		Comments: comments,
		Checks:   checks,
	}, nil
}

// checkValue normalizes a status into the tri-state wire form.
func checkValue(s domain.MarkingStatus) *bool {
	switch s {
	case domain.StatusPass:
		v := true
		return &v
	case domain.StatusFail:
		v := false
		return &v
	}
	return nil
}
