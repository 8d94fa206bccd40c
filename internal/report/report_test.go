package report

import (
	"bytes"
	"testing"
	"time"

	"checkline/internal/domain"
)

func TestSummarize(t *testing.T) {
	yes, no := true, false
	sum := Summarize([]domain.Check{
		{ControlID: "a", Value: &yes},
		{ControlID: "b", Value: &no},
		{ControlID: "c", Value: nil},
		{ControlID: "d", Value: &yes},
	})
	if sum.Passed != 2 || sum.Failed != 1 || sum.Skipped != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.Total() != 4 {
		t.Fatalf("total = %d", sum.Total())
	}
}

func TestScore(t *testing.T) {
	cases := []struct {
		sum  Summary
		want int
	}{
		{Summary{Passed: 1, Failed: 1}, 50},
		{Summary{Passed: 2, Failed: 0, Skipped: 1}, 67},
		{Summary{Passed: 1, Failed: 2}, 33},
		{Summary{Passed: 3}, 100},
		{Summary{Failed: 2}, 0},
		{Summary{}, 0},
	}
	for _, tc := range cases {
		if got := tc.sum.Score(); got != tc.want {
			t.Errorf("score(%+v) = %d, want %d", tc.sum, got, tc.want)
		}
	}
}

func TestRender(t *testing.T) {
	yes := true
	cfg := domain.SavedConfiguration{
		SaveID:   "s1",
		Name:     "q3 (audit)",
		TeamID:   "team-1",
		DeviceID: "dev-1",
		Checks:   []domain.Check{{ControlID: "AC-1", Value: &yes}},
	}
	data := Render(cfg, Summarize(cfg.Checks), time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC))
	if len(data) == 0 {
		t.Fatal("empty artifact")
	}
	if !bytes.HasPrefix(data, []byte("%PDF-1.4")) {
		t.Fatalf("missing PDF header: %q", data[:16])
	}
	if !bytes.Contains(data, []byte("q3 \\(audit\\)")) {
		t.Fatal("configuration name not escaped into content stream")
	}
	if !bytes.Contains(data, []byte("%%EOF")) {
		t.Fatal("missing EOF marker")
	}
}
