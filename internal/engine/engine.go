// Package engine implements the server-side operations behind the API:
// catalog seeding, team and device management, configuration persistence
// and report generation.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"checkline/internal/config"
	"checkline/internal/domain"
	"checkline/internal/events"
	"checkline/internal/repo"
	"checkline/internal/report"
)

// ErrReportExists means a report was already generated for a save.
var ErrReportExists = errors.New("report already exists for this configuration")

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// SeedCatalog loads the configured catalog into the database, replacing any
// previous catalog. Runs at startup so the API serves exactly the
// configured control list.
func (e Engine) SeedCatalog(ctx context.Context) error {
	if e.Config == nil {
		return errors.New("config not loaded")
	}
	controls := e.Config.Controls()
	if len(controls) == 0 {
		return errors.New("catalog has no controls")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.ReplaceControls(ctx, tx, controls); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	return tx.Commit()
}

func (e Engine) CreateTeam(ctx context.Context, name, actorID string) (domain.Team, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Team{}, errors.New("name is required")
	}
	t := domain.Team{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		CreatedAt: e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Team{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTeamTx(ctx, tx, t); err != nil {
		return domain.Team{}, fmt.Errorf("insert team: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "team.create", "team", t.ID, actorID, events.EventPayload{"name": t.Name}); err != nil {
		return domain.Team{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Team{}, err
	}
	return t, nil
}

func (e Engine) DeleteTeam(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM teams WHERE id=?`, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return repo.ErrNotFound
	}
	if err := e.Events.Append(ctx, tx, "team.delete", "team", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) CreateDevice(ctx context.Context, teamID, name, subtype, actorID string) (domain.Device, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Device{}, errors.New("name is required")
	}
	if _, err := e.Repo.GetTeam(ctx, teamID); err != nil {
		return domain.Device{}, err
	}
	d := domain.Device{
		ID:        uuid.NewString(),
		TeamID:    teamID,
		Name:      strings.TrimSpace(name),
		Subtype:   subtype,
		CreatedAt: e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Device{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertDeviceTx(ctx, tx, d); err != nil {
		return domain.Device{}, fmt.Errorf("insert device: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "device.create", "device", d.ID, actorID, events.EventPayload{"team_id": teamID, "name": d.Name}); err != nil {
		return domain.Device{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Device{}, err
	}
	return d, nil
}

func (e Engine) DeleteDevice(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM devices WHERE id=?`, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return repo.ErrNotFound
	}
	if err := e.Events.Append(ctx, tx, "device.delete", "device", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveConfiguration validates and persists a configuration draft. At least
// one check must carry a value, every referenced control must exist in the
// catalog, and team and device must exist with the device belonging to the
// team.
func (e Engine) SaveConfiguration(ctx context.Context, draft domain.ConfigurationDraft, actorID string) (domain.SavedConfiguration, error) {
	if strings.TrimSpace(draft.Name) == "" {
		return domain.SavedConfiguration{}, errors.New("name is required")
	}
	if _, err := e.Repo.GetTeam(ctx, draft.TeamID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.SavedConfiguration{}, fmt.Errorf("team %s not found", draft.TeamID)
		}
		return domain.SavedConfiguration{}, err
	}
	dev, err := e.Repo.GetDevice(ctx, draft.DeviceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.SavedConfiguration{}, fmt.Errorf("device %s not found", draft.DeviceID)
		}
		return domain.SavedConfiguration{}, err
	}
	if dev.TeamID != draft.TeamID {
		return domain.SavedConfiguration{}, fmt.Errorf("device %s not in team %s", draft.DeviceID, draft.TeamID)
	}
	known, err := e.Repo.ControlIDs(ctx)
	if err != nil {
		return domain.SavedConfiguration{}, err
	}
	marked := 0
	for _, c := range draft.Checks {
		if !known[c.ControlID] {
			return domain.SavedConfiguration{}, fmt.Errorf("unknown control %s", c.ControlID)
		}
		if c.Value != nil {
			marked++
		}
	}
	if marked == 0 {
		return domain.SavedConfiguration{}, errors.New("at least one check must carry a value")
	}

	saved := domain.SavedConfiguration{
		SaveID:    uuid.NewString(),
		Name:      strings.TrimSpace(draft.Name),
		TeamID:    draft.TeamID,
		DeviceID:  draft.DeviceID,
		Comments:  draft.Comments,
		Checks:    draft.Checks,
		CreatedBy: actorID,
		CreatedAt: e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SavedConfiguration{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertConfigurationTx(ctx, tx, saved); err != nil {
		return domain.SavedConfiguration{}, fmt.Errorf("insert configuration: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "configuration.save", "configuration", saved.SaveID, actorID,
		events.EventPayload{"name": saved.Name, "team_id": saved.TeamID, "device_id": saved.DeviceID}); err != nil {
		return domain.SavedConfiguration{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SavedConfiguration{}, err
	}
	return saved, nil
}

// GenerateReport builds the report for a saved configuration. Exactly one
// report may exist per save; a second request returns ErrReportExists.
func (e Engine) GenerateReport(ctx context.Context, saveID, actorID string) (domain.Report, error) {
	saved, err := e.Repo.GetConfiguration(ctx, saveID)
	if err != nil {
		return domain.Report{}, err
	}
	if _, err := e.Repo.GetReportBySave(ctx, saveID); err == nil {
		return domain.Report{}, ErrReportExists
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Report{}, err
	}

	sum := report.Summarize(saved.Checks)
	now := e.now()
	rep := domain.Report{
		ReportID:        uuid.NewString(),
		SaveID:          saveID,
		GeneratedAt:     now.UTC().Format(time.RFC3339),
		PassedChecks:    sum.Passed,
		FailedChecks:    sum.Failed,
		SkippedChecks:   sum.Skipped,
		ComplianceScore: sum.Score(),
		FileID:          uuid.NewString(),
		ContentType:     report.ContentType,
	}
	artifact := report.Render(saved, sum, now)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Report{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertReportTx(ctx, tx, rep, artifact); err != nil {
		// The UNIQUE(save_id) constraint catches a racing second request.
		if strings.Contains(err.Error(), "UNIQUE") {
			return domain.Report{}, ErrReportExists
		}
		return domain.Report{}, fmt.Errorf("insert report: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "report.generate", "report", rep.ReportID, actorID,
		events.EventPayload{"save_id": saveID, "score": rep.ComplianceScore}); err != nil {
		return domain.Report{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Report{}, err
	}
	return rep, nil
}

// CreateAPIKey mints a new API key, returning the plaintext once.
func (e Engine) CreateAPIKey(ctx context.Context, actorID string, role domain.Role, name string) (domain.APIKey, string, error) {
	if _, err := domain.ParseRole(string(role)); err != nil {
		return domain.APIKey{}, "", err
	}
	plaintext := uuid.NewString() + uuid.NewString()
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Role:      role,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plaintext),
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plaintext, nil
}
