// Package workflow drives the submit, generate and download sequence for a
// finished marking session. It talks to the server through the Backend
// interface so the sequencing logic can be exercised without a network.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"checkline/internal/domain"
	checklinesdk "checkline/sdk/go"
)

// Backend is the server surface the workflow needs.
type Backend interface {
	SaveConfiguration(ctx context.Context, draft domain.ConfigurationDraft) (domain.SavedConfiguration, error)
	GenerateReport(ctx context.Context, saveID string) (domain.Report, error)
	FetchReportFile(ctx context.Context, fileID string) (data []byte, contentType string, err error)
}

// ReportState tracks where the report side of the workflow stands. The
// state only moves forward through Generate; a failed generation can be
// retried from Failed.
type ReportState string

const (
	ReportIdle       ReportState = "idle"
	ReportGenerating ReportState = "generating"
	ReportGenerated  ReportState = "generated"
	ReportFailed     ReportState = "failed"
)

// Workflow sequences save, generate and download against a backend.
type Workflow struct {
	Backend Backend
	Session *Session

	state ReportState
	saved *domain.SavedConfiguration
	rep   *domain.Report
}

// New returns an idle workflow.
func New(backend Backend, session *Session) *Workflow {
	return &Workflow{Backend: backend, Session: session, state: ReportIdle}
}

// State returns the report state.
func (w *Workflow) State() ReportState { return w.state }

// Saved returns the saved configuration, if Submit succeeded.
func (w *Workflow) Saved() *domain.SavedConfiguration { return w.saved }

// Report returns the generated report, if Generate succeeded.
func (w *Workflow) Report() *domain.Report { return w.rep }

// Submit persists the draft. On auth expiry the session is cleared before
// the error is returned.
func (w *Workflow) Submit(ctx context.Context, draft domain.ConfigurationDraft) (domain.SavedConfiguration, error) {
	saved, err := w.Backend.SaveConfiguration(ctx, draft)
	if err != nil {
		return domain.SavedConfiguration{}, w.checkAuth(err)
	}
	w.saved = &saved
	w.state = ReportIdle
	return saved, nil
}

// Generate asks the server for a report on the submitted configuration.
// Submit must have succeeded first and every check in the saved
// configuration must carry a value; a partial save returns ErrNotReady
// without reaching the backend.
func (w *Workflow) Generate(ctx context.Context) (domain.Report, error) {
	if w.saved == nil {
		return domain.Report{}, errors.New("no saved configuration to report on")
	}
	for _, c := range w.saved.Checks {
		if c.Value == nil {
			return domain.Report{}, ErrNotReady
		}
	}
	w.state = ReportGenerating
	rep, err := w.Backend.GenerateReport(ctx, w.saved.SaveID)
	if err != nil {
		w.state = ReportFailed
		return domain.Report{}, w.checkAuth(err)
	}
	w.rep = &rep
	w.state = ReportGenerated
	return rep, nil
}

// Download fetches the report artifact, validates it and writes it into
// dir. It returns the written path. The artifact must be a non-empty PDF;
// anything else fails without touching the filesystem.
func (w *Workflow) Download(ctx context.Context, rep domain.Report, name, dir string) (string, error) {
	data, contentType, err := w.Backend.FetchReportFile(ctx, rep.FileID)
	if err != nil {
		return "", w.checkAuth(err)
	}
	mediaType := contentType
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}
	if mediaType != "application/pdf" {
		return "", &WrongContentTypeError{Got: contentType}
	}
	if len(data) == 0 {
		return "", ErrEmptyArtifact
	}
	path := filepath.Join(dir, ArtifactFilename(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// Run executes the full sequence: submit the draft, generate the report and
// download the artifact into dir. Each step only runs if the previous one
// succeeded.
func (w *Workflow) Run(ctx context.Context, draft domain.ConfigurationDraft, dir string) (domain.Report, string, error) {
	saved, err := w.Submit(ctx, draft)
	if err != nil {
		return domain.Report{}, "", err
	}
	rep, err := w.Generate(ctx)
	if err != nil {
		return domain.Report{}, "", err
	}
	path, err := w.Download(ctx, rep, saved.Name, dir)
	if err != nil {
		return rep, "", err
	}
	return rep, path, nil
}

func (w *Workflow) checkAuth(err error) error {
	if errors.Is(err, ErrAuthExpired) {
		w.Session.Expire()
	}
	return err
}

// ArtifactFilename derives a safe filename from the configuration name:
// every non-alphanumeric rune becomes an underscore and ".pdf" is appended.
func ArtifactFilename(name string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '_'
	}, name)
	if out == "" {
		out = "report"
	}
	return out + ".pdf"
}

// ClientBackend adapts the HTTP client to the Backend interface, translating
// transport errors into workflow errors.
type ClientBackend struct {
	Client *checklinesdk.Client
}

func (b ClientBackend) SaveConfiguration(ctx context.Context, draft domain.ConfigurationDraft) (domain.SavedConfiguration, error) {
	req := checklinesdk.SaveConfigurationRequest{
		Name:     draft.Name,
		TeamID:   draft.TeamID,
		DeviceID: draft.DeviceID,
		Comments: draft.Comments,
		Checks:   toWireChecks(draft.Checks),
	}
	saved, err := b.Client.SaveConfiguration(ctx, req)
	if err != nil {
		var apiErr *checklinesdk.APIError
		if errors.As(err, &apiErr) {
			if apiErr.StatusCode == http.StatusUnauthorized {
				return domain.SavedConfiguration{}, ErrAuthExpired
			}
			return domain.SavedConfiguration{}, &SaveFailedError{StatusCode: apiErr.StatusCode, Message: apiErr.Message}
		}
		return domain.SavedConfiguration{}, err
	}
	return fromWireSave(saved), nil
}

func (b ClientBackend) GenerateReport(ctx context.Context, saveID string) (domain.Report, error) {
	rep, err := b.Client.GenerateReport(ctx, saveID)
	if err != nil {
		var apiErr *checklinesdk.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.StatusCode {
			case http.StatusUnauthorized:
				return domain.Report{}, ErrAuthExpired
			case http.StatusConflict:
				return domain.Report{}, ErrReportExists
			}
			return domain.Report{}, &GenerateFailedError{StatusCode: apiErr.StatusCode, Message: apiErr.Message}
		}
		return domain.Report{}, err
	}
	return fromWireReport(rep), nil
}

func (b ClientBackend) FetchReportFile(ctx context.Context, fileID string) ([]byte, string, error) {
	data, contentType, err := b.Client.DownloadReportFile(ctx, fileID)
	if err != nil {
		var apiErr *checklinesdk.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			return nil, "", ErrAuthExpired
		}
		return nil, "", err
	}
	return data, contentType, nil
}

func toWireChecks(checks []domain.Check) []checklinesdk.Check {
	out := make([]checklinesdk.Check, 0, len(checks))
	for _, c := range checks {
		out = append(out, checklinesdk.Check{ControlID: c.ControlID, Value: c.Value})
	}
	return out
}

func fromWireChecks(checks []checklinesdk.Check) []domain.Check {
	out := make([]domain.Check, 0, len(checks))
	for _, c := range checks {
		out = append(out, domain.Check{ControlID: c.ControlID, Value: c.Value})
	}
	return out
}

func fromWireSave(s checklinesdk.SavedConfiguration) domain.SavedConfiguration {
	return domain.SavedConfiguration{
		SaveID:    s.SaveID,
		Name:      s.Name,
		TeamID:    s.TeamID,
		DeviceID:  s.DeviceID,
		Comments:  s.Comments,
		Checks:    fromWireChecks(s.Checks),
		CreatedBy: s.CreatedBy,
		CreatedAt: s.CreatedAt,
	}
}

func fromWireReport(r checklinesdk.Report) domain.Report {
	return domain.Report{
		ReportID:        r.ReportID,
		SaveID:          r.SaveID,
		GeneratedAt:     r.GeneratedAt,
		PassedChecks:    r.PassedChecks,
		FailedChecks:    r.FailedChecks,
		SkippedChecks:   r.SkippedChecks,
		ComplianceScore: r.ComplianceScore,
		FileID:          r.FileID,
		ContentType:     r.ContentType,
	}
}
