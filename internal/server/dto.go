package server

import (
	"checkline/internal/domain"
)

type ControlResponse struct {
	ID             string   `json:"id"`
	Section        string   `json:"section"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Implementation string   `json:"implementation,omitempty"`
	RiskLevel      string   `json:"risk_level" enum:"low,medium,high"`
	References     []string `json:"references,omitempty"`
}

// CheckDTO carries the tri-state outcome; an explicit JSON null means
// skipped or unmarked.
type CheckDTO struct {
	ControlID string `json:"control_id"`
	Value     *bool  `json:"value" nullable:"true"`
}

type TeamResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

type CreateTeamRequest struct {
	Name string `json:"name"`
}

type DeviceResponse struct {
	ID        string `json:"id"`
	TeamID    string `json:"team_id"`
	Name      string `json:"name"`
	Subtype   string `json:"subtype,omitempty"`
	CreatedAt string `json:"created_at"`
}

type CreateDeviceRequest struct {
	Name    string `json:"name"`
	Subtype string `json:"subtype,omitempty"`
}

type SaveConfigurationRequest struct {
	Name     string     `json:"name"`
	TeamID   string     `json:"team_id"`
	DeviceID string     `json:"device_id"`
	Comments string     `json:"comments,omitempty"`
	Checks   []CheckDTO `json:"checks"`
}

type ConfigurationResponse struct {
	SaveID    string     `json:"save_id"`
	Name      string     `json:"name"`
	TeamID    string     `json:"team_id"`
	DeviceID  string     `json:"device_id"`
	Comments  string     `json:"comments,omitempty"`
	Checks    []CheckDTO `json:"checks"`
	CreatedBy string     `json:"created_by"`
	CreatedAt string     `json:"created_at"`
}

type GenerateReportRequest struct {
	SaveID string `json:"save_id"`
}

type ReportResponse struct {
	ReportID        string `json:"report_id"`
	SaveID          string `json:"save_id"`
	GeneratedAt     string `json:"generated_at"`
	PassedChecks    int    `json:"passed_checks"`
	FailedChecks    int    `json:"failed_checks"`
	SkippedChecks   int    `json:"skipped_checks"`
	ComplianceScore int    `json:"compliance_score"`
	FileID          string `json:"file_id"`
	ContentType     string `json:"content_type"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role" enum:"admin,auditor,viewer"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role" enum:"admin,auditor,viewer"`
	Name    string `json:"name,omitempty"`
}

type CreateAPIKeyResponse struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	Name    string `json:"name,omitempty"`
	Key     string `json:"key"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
}

func controlResponse(c domain.Control) ControlResponse {
	return ControlResponse{
		ID:             c.ID,
		Section:        c.Section,
		Title:          c.Title,
		Description:    c.Description,
		Implementation: c.Implementation,
		RiskLevel:      string(c.RiskLevel),
		References:     c.References,
	}
}

func teamResponse(t domain.Team) TeamResponse {
	return TeamResponse{ID: t.ID, Name: t.Name, CreatedAt: t.CreatedAt}
}

func deviceResponse(d domain.Device) DeviceResponse {
	return DeviceResponse{ID: d.ID, TeamID: d.TeamID, Name: d.Name, Subtype: d.Subtype, CreatedAt: d.CreatedAt}
}

func checkDTOs(checks []domain.Check) []CheckDTO {
	out := make([]CheckDTO, 0, len(checks))
	for _, c := range checks {
		out = append(out, CheckDTO{ControlID: c.ControlID, Value: c.Value})
	}
	return out
}

func domainChecks(checks []CheckDTO) []domain.Check {
	out := make([]domain.Check, 0, len(checks))
	for _, c := range checks {
		out = append(out, domain.Check{ControlID: c.ControlID, Value: c.Value})
	}
	return out
}

func configurationResponse(c domain.SavedConfiguration) ConfigurationResponse {
	return ConfigurationResponse{
		SaveID:    c.SaveID,
		Name:      c.Name,
		TeamID:    c.TeamID,
		DeviceID:  c.DeviceID,
		Comments:  c.Comments,
		Checks:    checkDTOs(c.Checks),
		CreatedBy: c.CreatedBy,
		CreatedAt: c.CreatedAt,
	}
}

func reportResponse(r domain.Report) ReportResponse {
	return ReportResponse{
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
