package session

import (
	"errors"
	"testing"

	"checkline/internal/catalog"
	"checkline/internal/domain"
)

func testCatalog() *catalog.Catalog {
	return catalog.New([]domain.Control{
		{ID: "AC-1", Section: "Access Control", Title: "Unique accounts"},
		{ID: "AC-2", Section: "Access Control", Title: "MFA"},
		{ID: "DP-1", Section: "Data Protection", Title: "Disk encryption"},
	})
}

func TestSetStatusToggle(t *testing.T) {
	s := NewMarkingState()
	if err := s.SetStatus("AC-1", domain.StatusPass); err != nil {
		t.Fatal(err)
	}
	if got := s.Get("AC-1").Status; got != domain.StatusPass {
		t.Fatalf("status = %s, want pass", got)
	}
	// Same status again unsets.
	if err := s.SetStatus("AC-1", domain.StatusPass); err != nil {
		t.Fatal(err)
	}
	if got := s.Get("AC-1").Status; got != domain.StatusUnset {
		t.Fatalf("status after toggle = %s, want unset", got)
	}
	// A different status replaces rather than toggles.
	s.SetStatus("AC-1", domain.StatusFail)
	s.SetStatus("AC-1", domain.StatusSkip)
	if got := s.Get("AC-1").Status; got != domain.StatusSkip {
		t.Fatalf("status = %s, want skip", got)
	}
}

func TestSetStatusInvalid(t *testing.T) {
	s := NewMarkingState()
	if err := s.SetStatus("AC-1", "maybe"); err == nil {
		t.Fatal("expected error for invalid status")
	}
}

func TestResetKeepsExplanationAndNotes(t *testing.T) {
	s := NewMarkingState()
	s.SetStatus("AC-1", domain.StatusFail)
	s.SetExplanation("AC-1", "shared root account found")
	s.SetNotes("AC-1", "ticket OPS-44")
	s.Reset("AC-1")
	m := s.Get("AC-1")
	if m.Status != domain.StatusUnset {
		t.Fatalf("status = %s, want unset", m.Status)
	}
	if m.Explanation != "shared root account found" || m.Notes != "ticket OPS-44" {
		t.Fatalf("reset dropped explanation/notes: %+v", m)
	}
}

func TestResetAllClearsEverything(t *testing.T) {
	s := NewMarkingState()
	s.SetStatus("AC-1", domain.StatusPass)
	s.SetExplanation("AC-1", "ok")
	s.SetNotes("AC-2", "pending")
	s.ResetAll()
	for _, id := range []string{"AC-1", "AC-2"} {
		m := s.Get(id)
		if m.Status != domain.StatusUnset || m.Explanation != "" || m.Notes != "" {
			t.Fatalf("%s not fully cleared: %+v", id, m)
		}
	}
}

func TestGates(t *testing.T) {
	cat := testCatalog()
	s := NewMarkingState()
	if s.SaveEligible(cat) {
		t.Fatal("empty session should not be save eligible")
	}
	if s.ReportReady(cat) {
		t.Fatal("empty session should not be report ready")
	}

	s.SetStatus("AC-1", domain.StatusPass)
	if !s.SaveEligible(cat) {
		t.Fatal("one marked control should be save eligible")
	}
	if s.ReportReady(cat) {
		t.Fatal("partial session should not be report ready")
	}
	if got := s.Remaining(cat); len(got) != 2 || got[0] != "AC-2" || got[1] != "DP-1" {
		t.Fatalf("remaining = %v", got)
	}

	s.SetStatus("AC-2", domain.StatusFail)
	s.SetStatus("DP-1", domain.StatusSkip)
	if !s.ReportReady(cat) {
		t.Fatal("fully marked session should be report ready")
	}
	if got := s.Remaining(cat); len(got) != 0 {
		t.Fatalf("remaining = %v, want none", got)
	}

	// Toggling one back off flips readiness again.
	s.SetStatus("DP-1", domain.StatusSkip)
	if s.ReportReady(cat) {
		t.Fatal("session with toggled-off control should not be report ready")
	}
}

func TestBuildDraftNormalization(t *testing.T) {
	cat := testCatalog()
	s := NewMarkingState()
	s.SetStatus("AC-1", domain.StatusPass)
	s.SetExplanation("AC-1", "audited directory")
	s.SetStatus("DP-1", domain.StatusFail)
	s.SetExplanation("DP-1", "two laptops unencrypted")

	draft, err := BuildDraft("q3-audit", "team-1", "dev-1", "quarterly pass", cat, s)
	if err != nil {
		t.Fatalf("BuildDraft: %v", err)
	}
	if len(draft.Checks) != cat.Len() {
		t.Fatalf("checks len = %d, want %d", len(draft.Checks), cat.Len())
	}
	// Catalog order, tri-state values.
	want := []struct {
		id  string
		val *bool
	}{
		{"AC-1", boolPtr(true)},
		{"AC-2", nil},
		{"DP-1", boolPtr(false)},
	}
	for i, w := range want {
		got := draft.Checks[i]
		if got.ControlID != w.id {
			t.Fatalf("checks[%d].ControlID = %s, want %s", i, got.ControlID, w.id)
		}
		if (got.Value == nil) != (w.val == nil) {
			t.Fatalf("checks[%d].Value nil mismatch", i)
		}
		if got.Value != nil && *got.Value != *w.val {
			t.Fatalf("checks[%d].Value = %v, want %v", i, *got.Value, *w.val)
		}
	}
	if draft.Name != "q3-audit" || draft.TeamID != "team-1" || draft.DeviceID != "dev-1" {
		t.Fatalf("draft header = %+v", draft)
	}
}

func TestBuildDraftSkipIsNull(t *testing.T) {
	cat := testCatalog()
	s := NewMarkingState()
	s.SetStatus("AC-1", domain.StatusSkip)
	s.SetExplanation("AC-1", "not applicable to this device")

	draft, err := BuildDraft("skips", "t", "d", "", cat, s)
	if err != nil {
		t.Fatalf("BuildDraft: %v", err)
	}
	if draft.Checks[0].Value != nil {
		t.Fatal("skipped control should serialize as null")
	}
}

func TestBuildDraftValidation(t *testing.T) {
	cat := testCatalog()
	s := NewMarkingState()
	s.SetStatus("AC-1", domain.StatusPass)
	s.SetExplanation("AC-1", "ok")

	var verr *ValidationError
	_, err := BuildDraft("  ", "t", "d", "", cat, s)
	if !errors.As(err, &verr) || verr.Field != "name" {
		t.Fatalf("empty name: err = %v", err)
	}

	empty := NewMarkingState()
	_, err = BuildDraft("x", "t", "d", "", cat, empty)
	if !errors.As(err, &verr) || verr.Field != "checks" {
		t.Fatalf("empty session: err = %v", err)
	}

	s.SetStatus("AC-2", domain.StatusFail)
	_, err = BuildDraft("x", "t", "d", "", cat, s)
	if !errors.As(err, &verr) || verr.Field != "explanation" {
		t.Fatalf("missing explanation: err = %v", err)
	}
}

func boolPtr(v bool) *bool { return &v }
