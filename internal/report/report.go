// Package report computes compliance summaries and renders the report
// artifact for a saved configuration.
package report

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"

	"checkline/internal/domain"
)

// ContentType is the artifact media type served for downloads.
const ContentType = "application/pdf"

// Summary holds the check tallies for one configuration.
type Summary struct {
	Passed  int
	Failed  int
	Skipped int
}

// Total returns the number of checks counted.
func (s Summary) Total() int { return s.Passed + s.Failed + s.Skipped }

// Score is the compliance percentage, rounded to the nearest integer.
// An empty summary scores zero.
func (s Summary) Score() int {
	total := s.Total()
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(s.Passed) / float64(total) * 100))
}

// Summarize tallies checks: true counts as passed, false as failed, null as
// skipped. Report generation only runs on fully marked sessions, so a null
// here is a deliberate skip, not an unanswered control.
func Summarize(checks []domain.Check) Summary {
	var s Summary
	for _, c := range checks {
		switch {
		case c.Value == nil:
			s.Skipped++
		case *c.Value:
			s.Passed++
		default:
			s.Failed++
		}
	}
	return s
}

// Render produces the PDF artifact bytes for a saved configuration. The
// document is a single page listing the summary line and each check result.
func Render(cfg domain.SavedConfiguration, sum Summary, generatedAt time.Time) []byte {
	lines := []string{
		fmt.Sprintf("Compliance Report: %s", cfg.Name),
		fmt.Sprintf("Generated: %s", generatedAt.UTC().Format(time.RFC3339)),
		fmt.Sprintf("Team %s / Device %s", cfg.TeamID, cfg.DeviceID),
		fmt.Sprintf("Score: %d%%  (passed %d, failed %d, skipped %d)",
			sum.Score(), sum.Passed, sum.Failed, sum.Skipped),
		"",
	}
	for _, c := range cfg.Checks {
		lines = append(lines, fmt.Sprintf("[%s] %s", checkLabel(c.Value), c.ControlID))
	}
	if cfg.Comments != "" {
		lines = append(lines, "", "Comments: "+cfg.Comments)
	}
	return renderPDF(lines)
}

func checkLabel(v *bool) string {
	switch {
	case v == nil:
		return "SKIP"
	case *v:
		return "PASS"
	default:
		return "FAIL"
	}
}

// renderPDF writes a minimal single-page PDF with one text line per entry.
// Only the subset of the format needed for a viewable document is emitted;
// offsets in the xref table are computed from the buffer as objects land.
func renderPDF(lines []string) []byte {
	var content bytes.Buffer
	content.WriteString("BT\n/F1 11 Tf\n50 780 Td\n14 TL\n")
	for _, line := range lines {
		fmt.Fprintf(&content, "(%s) Tj\nT*\n", escapePDFText(line))
	}
	content.WriteString("ET\n")

	var buf bytes.Buffer
	offsets := make([]int, 0, 5)
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		buf.WriteString(body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	obj("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	obj("3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] " +
		"/Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>\nendobj\n")
	obj("4 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Courier >>\nendobj\n")
	obj(fmt.Sprintf("5 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n",
		content.Len(), content.String()))

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(offsets)+1, xref)
	return buf.Bytes()
}

func escapePDFText(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "(", "\\(", ")", "\\)")
	return r.Replace(s)
}
