// Package server exposes the Checkline HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"checkline/internal/domain"
	"checkline/internal/engine"
	"checkline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"report_exists"`
	Message string         `json:"message" example:"report already exists for this configuration"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Checkline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use our envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Checkline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerControls(group, cfg.Engine)
	registerTeams(group, cfg.Engine)
	registerDevices(group, cfg.Engine)
	registerConfigurations(group, cfg.Engine)
	registerReports(group, cfg.Engine)
	registerReportFiles(router, basePath, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	if cfg.Auth.EnableDevAuth {
		registerDevAuth(group, cfg.Auth)
	}

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, engine.ErrReportExists) {
		return newAPIError(http.StatusConflict, "report_exists", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "unique"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "not found"):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case strings.Contains(lowered, "invalid") ||
		strings.Contains(lowered, "required") ||
		strings.Contains(lowered, "unknown") ||
		strings.Contains(lowered, "not in team") ||
		strings.Contains(lowered, "at least one"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerControls(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-controls",
		Method:      http.MethodGet,
		Path:        "/controls",
		Summary:     "List catalog controls",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Section string `query:"section"`
	}) (*struct {
		Body []ControlResponse `json:"body"`
	}, error) {
		if _, authErr := requireOp(ctx, domain.OpCatalogRead); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListControls(ctx, input.Section)
		if err != nil {
			return nil, handleError(err)
		}
		resp := make([]ControlResponse, 0, len(items))
		for _, c := range items {
			resp = append(resp, controlResponse(c))
		}
		return &struct {
			Body []ControlResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerTeams(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-team",
		Method:        http.MethodPost,
		Path:          "/teams",
		Summary:       "Create team",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateTeamRequest `json:"body"`
	}) (*struct {
		Body TeamResponse `json:"body"`
	}, error) {
		principal, authErr := requireOp(ctx, domain.OpTeamWrite)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTeam(ctx, input.Body.Name, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TeamResponse `json:"body"`
		}{Body: teamResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-teams",
		Method:      http.MethodGet,
		Path:        "/teams",
		Summary:     "List teams",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TeamResponse `json:"body"`
	}, error) {
		if _, authErr := requireOp(ctx, domain.OpCatalogRead); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListTeams(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		resp := make([]TeamResponse, 0, len(items))
		for _, t := range items {
			resp = append(resp, teamResponse(t))
		}
		return &struct {
			Body []TeamResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-team",
		Method:      http.MethodDelete,
		Path:        "/teams/{team_id}",
		Summary:     "Delete team",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TeamID string `path:"team_id"`
	}) (*struct{}, error) {
		principal, authErr := requireOp(ctx, domain.OpTeamWrite)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTeam(ctx, input.TeamID, principal.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDevices(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-device",
		Method:        http.MethodPost,
		Path:          "/teams/{team_id}/devices",
		Summary:       "Register device",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TeamID string              `path:"team_id"`
		Body   CreateDeviceRequest `json:"body"`
	}) (*struct {
		Body DeviceResponse `json:"body"`
	}, error) {
		principal, authErr := requireOp(ctx, domain.OpDeviceWrite)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.CreateDevice(ctx, input.TeamID, input.Body.Name, input.Body.Subtype, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeviceResponse `json:"body"`
		}{Body: deviceResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/teams/{team_id}/devices",
		Summary:     "List devices of a team",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TeamID string `path:"team_id"`
	}) (*struct {
		Body []DeviceResponse `json:"body"`
	}, error) {
		if _, authErr := requireOp(ctx, domain.OpCatalogRead); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetTeam(ctx, input.TeamID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListDevices(ctx, input.TeamID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := make([]DeviceResponse, 0, len(items))
		for _, d := range items {
			resp = append(resp, deviceResponse(d))
		}
		return &struct {
			Body []DeviceResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-device",
		Method:      http.MethodDelete,
		Path:        "/devices/{device_id}",
		Summary:     "Delete device",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DeviceID string `path:"device_id"`
	}) (*struct{}, error) {
		principal, authErr := requireOp(ctx, domain.OpDeviceWrite)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteDevice(ctx, input.DeviceID, principal.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerConfigurations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "save-configuration",
		Method:        http.MethodPost,
		Path:          "/configurations",
		Summary:       "Save a configuration",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body SaveConfigurationRequest `json:"body"`
	}) (*struct {
		Body ConfigurationResponse `json:"body"`
	}, error) {
		principal, authErr := requireOp(ctx, domain.OpConfigurationSave)
		if authErr != nil {
			return nil, authErr
		}
		draft := domain.ConfigurationDraft{
			Name:     input.Body.Name,
			TeamID:   input.Body.TeamID,
			DeviceID: input.Body.DeviceID,
			Comments: input.Body.Comments,
			Checks:   domainChecks(input.Body.Checks),
		}
		saved, err := e.SaveConfiguration(ctx, draft, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConfigurationResponse `json:"body"`
		}{Body: configurationResponse(saved)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-configuration",
		Method:      http.MethodGet,
		Path:        "/configurations/{save_id}",
		Summary:     "Get a saved configuration",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SaveID string `path:"save_id"`
	}) (*struct {
		Body ConfigurationResponse `json:"body"`
	}, error) {
		if _, authErr := requireOp(ctx, domain.OpCatalogRead); authErr != nil {
			return nil, authErr
		}
		saved, err := e.Repo.GetConfiguration(ctx, input.SaveID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConfigurationResponse `json:"body"`
		}{Body: configurationResponse(saved)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-configurations",
		Method:      http.MethodGet,
		Path:        "/configurations",
		Summary:     "List saved configurations",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ConfigurationResponse `json:"body"`
	}, error) {
		if _, authErr := requireOp(ctx, domain.OpCatalogRead); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListConfigurations(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		resp := make([]ConfigurationResponse, 0, len(items))
		for _, c := range items {
			resp = append(resp, configurationResponse(c))
		}
		return &struct {
			Body []ConfigurationResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "generate-report",
		Method:        http.MethodPost,
		Path:          "/reports",
		Summary:       "Generate a report for a saved configuration",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body GenerateReportRequest `json:"body"`
	}) (*struct {
		Body ReportResponse `json:"body"`
	}, error) {
		principal, authErr := requireOp(ctx, domain.OpReportGenerate)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.SaveID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "save_id is required", nil)
		}
		rep, err := e.GenerateReport(ctx, input.Body.SaveID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportResponse `json:"body"`
		}{Body: reportResponse(rep)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-report",
		Method:      http.MethodGet,
		Path:        "/reports/{report_id}",
		Summary:     "Get report metadata",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ReportID string `path:"report_id"`
	}) (*struct {
		Body ReportResponse `json:"body"`
	}, error) {
		if _, authErr := requireOp(ctx, domain.OpReportDownload); authErr != nil {
			return nil, authErr
		}
		rep, err := e.Repo.GetReport(ctx, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportResponse `json:"body"`
		}{Body: reportResponse(rep)}, nil
	})
}

// registerReportFiles serves the binary artifact directly on the router.
// Huma's JSON pipeline is skipped; the auth middleware still applies since
// the path sits under the API base path.
func registerReportFiles(router chi.Router, basePath string, e engine.Engine) {
	router.Get(path.Join(basePath, "/reports/files/{file_id}"), func(w http.ResponseWriter, r *http.Request) {
		if _, authErr := requireOp(r.Context(), domain.OpReportDownload); authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		fileID := chi.URLParam(r, "file_id")
		data, contentType, err := e.Repo.GetReportFile(r.Context(), fileID)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, authErr := requireOp(ctx, domain.OpEventsRead); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListEvents(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		resp := make([]EventResponse, 0, len(items))
		for _, evt := range items {
			payload := map[string]any{}
			_ = json.Unmarshal([]byte(evt.Payload), &payload)
			resp = append(resp, EventResponse{
				ID:         evt.ID,
				TS:         evt.TS,
				Type:       evt.Type,
				EntityKind: evt.EntityKind,
				EntityID:   evt.EntityID,
				ActorID:    evt.ActorID,
				Payload:    payload,
			})
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body CreateAPIKeyResponse `json:"body"`
	}, error) {
		if _, authErr := requireOp(ctx, domain.OpTeamWrite); authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.ActorID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		key, plaintext, err := e.CreateAPIKey(ctx, input.Body.ActorID, domain.Role(input.Body.Role), input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateAPIKeyResponse `json:"body"`
		}{Body: CreateAPIKeyResponse{
			ID:      key.ID,
			ActorID: key.ActorID,
			Role:    string(key.Role),
			Name:    key.Name,
			Key:     plaintext,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		if _, authErr := requireOp(ctx, domain.OpTeamWrite); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := make([]APIKeyResponse, 0, len(items))
		for _, k := range items {
			resp = append(resp, APIKeyResponse{
				ID:        k.ID,
				ActorID:   k.ActorID,
				Role:      string(k.Role),
				Name:      k.Name,
				CreatedAt: k.CreatedAt,
			})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{key_id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		if _, authErr := requireOp(ctx, domain.OpTeamWrite); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/token",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		role, err := domain.ParseRole(input.Body.Role)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, role)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}
