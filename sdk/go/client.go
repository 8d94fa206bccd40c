// Package checklinesdk is a minimal Checkline HTTP API client.
package checklinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a Checkline server. Either BearerToken or APIKey
// authenticates requests; BearerToken wins when both are set.
type Client struct {
	BaseURL     string
	BearerToken string
	APIKey      string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Control is one compliance checkpoint.
type Control struct {
	ID             string   `json:"id"`
	Section        string   `json:"section"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Implementation string   `json:"implementation,omitempty"`
	RiskLevel      string   `json:"risk_level"`
	References     []string `json:"references,omitempty"`
}

// Check is the tri-state outcome for one control: true=pass, false=fail,
// null=skipped or unmarked.
type Check struct {
	ControlID string `json:"control_id"`
	Value     *bool  `json:"value"`
}

// SaveConfigurationRequest is the persistence payload.
type SaveConfigurationRequest struct {
	Name     string  `json:"name"`
	TeamID   string  `json:"team_id"`
	DeviceID string  `json:"device_id"`
	Comments string  `json:"comments,omitempty"`
	Checks   []Check `json:"checks"`
}

// SavedConfiguration echoes a stored configuration.
type SavedConfiguration struct {
	SaveID    string  `json:"save_id"`
	Name      string  `json:"name"`
	TeamID    string  `json:"team_id"`
	DeviceID  string  `json:"device_id"`
	Comments  string  `json:"comments,omitempty"`
	Checks    []Check `json:"checks"`
	CreatedBy string  `json:"created_by"`
	CreatedAt string  `json:"created_at"`
}

// Report is generated report metadata.
type Report struct {
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

type Team struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

type Device struct {
	ID        string `json:"id"`
	TeamID    string `json:"team_id"`
	Name      string `json:"name"`
	Subtype   string `json:"subtype,omitempty"`
	CreatedAt string `json:"created_at"`
}

type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses. Code and Message come from the server's
// error envelope when it parses; Body always holds the raw response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ListControls returns the ordered catalog, optionally filtered by section.
func (c *Client) ListControls(ctx context.Context, section string) ([]Control, error) {
	endpoint := "controls"
	if section != "" {
		endpoint += "?section=" + url.QueryEscape(section)
	}
	var resp []Control
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateTeam creates a team.
func (c *Client) CreateTeam(ctx context.Context, name string) (Team, error) {
	var resp Team
	err := c.do(ctx, http.MethodPost, "teams", map[string]any{"name": name}, &resp)
	return resp, err
}

// ListTeams returns all teams.
func (c *Client) ListTeams(ctx context.Context) ([]Team, error) {
	var resp []Team
	err := c.do(ctx, http.MethodGet, "teams", nil, &resp)
	return resp, err
}

// DeleteTeam deletes a team by id.
func (c *Client) DeleteTeam(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "teams/"+url.PathEscape(id), nil, nil)
}

// CreateDevice registers a device under a team.
func (c *Client) CreateDevice(ctx context.Context, teamID, name, subtype string) (Device, error) {
	var resp Device
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("teams/%s/devices", url.PathEscape(teamID)), map[string]any{
		"name":    name,
		"subtype": subtype,
	}, &resp)
	return resp, err
}

// ListDevices returns the devices of a team.
func (c *Client) ListDevices(ctx context.Context, teamID string) ([]Device, error) {
	var resp []Device
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("teams/%s/devices", url.PathEscape(teamID)), nil, &resp)
	return resp, err
}

// SaveConfiguration persists a configuration draft.
func (c *Client) SaveConfiguration(ctx context.Context, req SaveConfigurationRequest) (SavedConfiguration, error) {
	var resp SavedConfiguration
	err := c.do(ctx, http.MethodPost, "configurations", req, &resp)
	return resp, err
}

// GetConfiguration fetches a saved configuration.
func (c *Client) GetConfiguration(ctx context.Context, saveID string) (SavedConfiguration, error) {
	var resp SavedConfiguration
	err := c.do(ctx, http.MethodGet, "configurations/"+url.PathEscape(saveID), nil, &resp)
	return resp, err
}

// ListConfigurations returns saved configurations, newest first.
func (c *Client) ListConfigurations(ctx context.Context) ([]SavedConfiguration, error) {
	var resp []SavedConfiguration
	err := c.do(ctx, http.MethodGet, "configurations", nil, &resp)
	return resp, err
}

// GenerateReport asks the server to generate a report for a save.
func (c *Client) GenerateReport(ctx context.Context, saveID string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodPost, "reports", map[string]any{"save_id": saveID}, &resp)
	return resp, err
}

// GetReport fetches report metadata.
func (c *Client) GetReport(ctx context.Context, reportID string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodGet, "reports/"+url.PathEscape(reportID), nil, &resp)
	return resp, err
}

// DownloadReportFile fetches the binary artifact and returns the bytes and
// the Content-Type header as reported by the server. The bytes are opaque;
// callers are responsible for content-type and length checks.
func (c *Client) DownloadReportFile(ctx context.Context, fileID string) ([]byte, string, error) {
	res, err := c.raw(ctx, http.MethodGet, "reports/files/"+url.PathEscape(fileID), nil)
	if err != nil {
		return nil, "", err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return nil, "", apiErrorFromResponse(res)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, "", err
	}
	return data, res.Header.Get("Content-Type"), nil
}

// DevLogin exchanges an actor id and role for a bearer token on servers with
// dev auth enabled, and stores the token on the client.
func (c *Client) DevLogin(ctx context.Context, actorID, role string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "auth/token", map[string]any{"actor_id": actorID, "role": role}, &resp)
	if err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

// Events returns recent audit events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("events?limit=%d", limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	res, err := c.raw(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return apiErrorFromResponse(res)
	}
	if out != nil {
		return json.NewDecoder(res.Body).Decode(out)
	}
	return nil
}

func (c *Client) raw(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	return c.HTTPClient.Do(req)
}

func apiErrorFromResponse(res *http.Response) error {
	b, _ := io.ReadAll(res.Body)
	apiErr := &APIError{StatusCode: res.StatusCode, Body: string(b)}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(b, &envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
