package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"checkline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ReplaceControls swaps the stored catalog for the given ordered list.
// Positions record catalog order so listing is stable across restarts.
func (r Repo) ReplaceControls(ctx context.Context, tx *sql.Tx, controls []domain.Control) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM controls`); err != nil {
		return err
	}
	for i, c := range controls {
		refs, err := json.Marshal(c.References)
		if err != nil {
			return fmt.Errorf("marshal references for %s: %w", c.ID, err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO controls(id,position,section,title,description,implementation,risk_level,refs_json) VALUES (?,?,?,?,?,?,?,?)`,
			c.ID, i, c.Section, c.Title, c.Description, c.Implementation, c.RiskLevel, string(refs))
		if err != nil {
			return err
		}
	}
	return nil
}

// ListControls returns the catalog in stored order, optionally filtered by
// section.
func (r Repo) ListControls(ctx context.Context, section string) ([]domain.Control, error) {
	query := `SELECT id,section,title,description,implementation,risk_level,refs_json FROM controls`
	var args []any
	if section != "" {
		query += ` WHERE section=?`
		args = append(args, section)
	}
	query += ` ORDER BY position`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Control
	for rows.Next() {
		var c domain.Control
		var refs string
		if err := rows.Scan(&c.ID, &c.Section, &c.Title, &c.Description, &c.Implementation, &c.RiskLevel, &refs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(refs), &c.References); err != nil {
			return nil, fmt.Errorf("unmarshal references for %s: %w", c.ID, err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ControlIDs returns all known control ids.
func (r Repo) ControlIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM controls`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

func (r Repo) InsertTeamTx(ctx context.Context, tx *sql.Tx, t domain.Team) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO teams(id,name,created_at) VALUES (?,?,?)`,
		t.ID, t.Name, t.CreatedAt)
	return err
}

func (r Repo) GetTeam(ctx context.Context, id string) (domain.Team, error) {
	var t domain.Team
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM teams WHERE id=?`, id).
		Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTeams(ctx context.Context) ([]domain.Team, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM teams ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Team
	for rows.Next() {
		var t domain.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) DeleteTeam(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM teams WHERE id=?`, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertDeviceTx(ctx context.Context, tx *sql.Tx, d domain.Device) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO devices(id,team_id,name,subtype,created_at) VALUES (?,?,?,?,?)`,
		d.ID, d.TeamID, d.Name, d.Subtype, d.CreatedAt)
	return err
}

func (r Repo) GetDevice(ctx context.Context, id string) (domain.Device, error) {
	var d domain.Device
	err := r.DB.QueryRowContext(ctx, `SELECT id,team_id,name,COALESCE(subtype,''),created_at FROM devices WHERE id=?`, id).
		Scan(&d.ID, &d.TeamID, &d.Name, &d.Subtype, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) ListDevices(ctx context.Context, teamID string) ([]domain.Device, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,team_id,name,COALESCE(subtype,''),created_at FROM devices WHERE team_id=? ORDER BY created_at DESC`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Device
	for rows.Next() {
		var d domain.Device
		if err := rows.Scan(&d.ID, &d.TeamID, &d.Name, &d.Subtype, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) DeleteDevice(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM devices WHERE id=?`, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertConfigurationTx stores a saved configuration inside tx. Checks are
// serialized as JSON since they are only ever read back whole.
func (r Repo) InsertConfigurationTx(ctx context.Context, tx *sql.Tx, c domain.SavedConfiguration) error {
	checks, err := json.Marshal(c.Checks)
	if err != nil {
		return fmt.Errorf("marshal checks: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO configurations(id,name,team_id,device_id,comments,checks_json,created_by,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		c.SaveID, c.Name, c.TeamID, c.DeviceID, c.Comments, string(checks), c.CreatedBy, c.CreatedAt)
	return err
}

func scanConfiguration(scan func(dest ...any) error) (domain.SavedConfiguration, error) {
	var c domain.SavedConfiguration
	var checks string
	err := scan(&c.SaveID, &c.Name, &c.TeamID, &c.DeviceID, &c.Comments, &checks, &c.CreatedBy, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(checks), &c.Checks); err != nil {
		return c, fmt.Errorf("unmarshal checks for %s: %w", c.SaveID, err)
	}
	return c, nil
}

func (r Repo) GetConfiguration(ctx context.Context, id string) (domain.SavedConfiguration, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,name,team_id,device_id,comments,checks_json,created_by,created_at FROM configurations WHERE id=?`, id)
	return scanConfiguration(row.Scan)
}

func (r Repo) ListConfigurations(ctx context.Context) ([]domain.SavedConfiguration, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,team_id,device_id,comments,checks_json,created_by,created_at FROM configurations ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SavedConfiguration
	for rows.Next() {
		c, err := scanConfiguration(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// InsertReportTx stores report metadata and its file in one transaction.
func (r Repo) InsertReportTx(ctx context.Context, tx *sql.Tx, rep domain.Report, fileData []byte) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO report_files(id,content_type,data,created_at) VALUES (?,?,?,?)`,
		rep.FileID, rep.ContentType, fileData, rep.GeneratedAt)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO reports(id,save_id,generated_at,passed_checks,failed_checks,skipped_checks,compliance_score,file_id,content_type) VALUES (?,?,?,?,?,?,?,?,?)`,
		rep.ReportID, rep.SaveID, rep.GeneratedAt, rep.PassedChecks, rep.FailedChecks, rep.SkippedChecks, rep.ComplianceScore, rep.FileID, rep.ContentType)
	return err
}

func scanReport(scan func(dest ...any) error) (domain.Report, error) {
	var rep domain.Report
	err := scan(&rep.ReportID, &rep.SaveID, &rep.GeneratedAt, &rep.PassedChecks, &rep.FailedChecks, &rep.SkippedChecks, &rep.ComplianceScore, &rep.FileID, &rep.ContentType)
	if err == sql.ErrNoRows {
		return rep, ErrNotFound
	}
	return rep, err
}

func (r Repo) GetReport(ctx context.Context, id string) (domain.Report, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,save_id,generated_at,passed_checks,failed_checks,skipped_checks,compliance_score,file_id,content_type FROM reports WHERE id=?`, id)
	return scanReport(row.Scan)
}

func (r Repo) GetReportBySave(ctx context.Context, saveID string) (domain.Report, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,save_id,generated_at,passed_checks,failed_checks,skipped_checks,compliance_score,file_id,content_type FROM reports WHERE save_id=?`, saveID)
	return scanReport(row.Scan)
}

// GetReportFile returns the artifact bytes and content type.
func (r Repo) GetReportFile(ctx context.Context, fileID string) ([]byte, string, error) {
	var data []byte
	var contentType string
	err := r.DB.QueryRowContext(ctx, `SELECT data,content_type FROM report_files WHERE id=?`, fileID).
		Scan(&data, &contentType)
	if err == sql.ErrNoRows {
		return nil, "", ErrNotFound
	}
	return data, contentType, err
}

// ListEvents returns recent events, newest first.
func (r Repo) ListEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
