package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"checkline/internal/config"
	"checkline/internal/db"
	"checkline/internal/domain"
	"checkline/internal/engine"
	"checkline/internal/migrate"
	"checkline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Team   domain.Team
	Device domain.Device
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := eng.SeedCatalog(ctx); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	team, err := eng.CreateTeam(ctx, "platform", "tester")
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	dev, err := eng.CreateDevice(ctx, team.ID, "build-host-1", "laptop", "tester")
	if err != nil {
		t.Fatalf("create device: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Team: team, Device: dev}
}

func fullDraft(env testEnv, name string) domain.ConfigurationDraft {
	yes, no := true, false
	controls := env.Engine.Config.Controls()
	checks := make([]domain.Check, 0, len(controls))
	for i, c := range controls {
		switch i % 3 {
		case 0:
			checks = append(checks, domain.Check{ControlID: c.ID, Value: &yes})
		case 1:
			checks = append(checks, domain.Check{ControlID: c.ID, Value: &no})
		default:
			checks = append(checks, domain.Check{ControlID: c.ID})
		}
	}
	return domain.ConfigurationDraft{
		Name:     name,
		TeamID:   env.Team.ID,
		DeviceID: env.Device.ID,
		Checks:   checks,
	}
}

func TestSaveConfiguration(t *testing.T) {
	env := newTestEnv(t)
	saved, err := env.Engine.SaveConfiguration(env.Ctx, fullDraft(env, "q3-audit"), "tester")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.SaveID == "" || saved.CreatedBy != "tester" {
		t.Fatalf("saved = %+v", saved)
	}
	got, err := env.Engine.Repo.GetConfiguration(env.Ctx, saved.SaveID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Checks) != len(env.Engine.Config.Controls()) {
		t.Fatalf("checks len = %d", len(got.Checks))
	}
}

func TestSaveConfigurationValidation(t *testing.T) {
	env := newTestEnv(t)

	draft := fullDraft(env, "")
	if _, err := env.Engine.SaveConfiguration(env.Ctx, draft, "tester"); err == nil {
		t.Fatal("expected error for empty name")
	}

	draft = fullDraft(env, "x")
	draft.TeamID = "missing"
	if _, err := env.Engine.SaveConfiguration(env.Ctx, draft, "tester"); err == nil {
		t.Fatal("expected error for unknown team")
	}

	draft = fullDraft(env, "x")
	draft.Checks[0].ControlID = "ZZ-99"
	if _, err := env.Engine.SaveConfiguration(env.Ctx, draft, "tester"); err == nil {
		t.Fatal("expected error for unknown control")
	}

	draft = fullDraft(env, "x")
	for i := range draft.Checks {
		draft.Checks[i].Value = nil
	}
	if _, err := env.Engine.SaveConfiguration(env.Ctx, draft, "tester"); err == nil {
		t.Fatal("expected error for all-null checks")
	}
}

func TestSaveConfigurationDeviceTeamMismatch(t *testing.T) {
	env := newTestEnv(t)
	other, err := env.Engine.CreateTeam(env.Ctx, "security", "tester")
	if err != nil {
		t.Fatal(err)
	}
	draft := fullDraft(env, "x")
	draft.TeamID = other.ID
	if _, err := env.Engine.SaveConfiguration(env.Ctx, draft, "tester"); err == nil {
		t.Fatal("expected error for device outside team")
	}
}

func TestGenerateReportOncePerSave(t *testing.T) {
	env := newTestEnv(t)
	saved, err := env.Engine.SaveConfiguration(env.Ctx, fullDraft(env, "q3-audit"), "tester")
	if err != nil {
		t.Fatal(err)
	}
	rep, err := env.Engine.GenerateReport(env.Ctx, saved.SaveID, "tester")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	total := rep.PassedChecks + rep.FailedChecks + rep.SkippedChecks
	if total != len(env.Engine.Config.Controls()) {
		t.Fatalf("tallies = %+v", rep)
	}
	if rep.ContentType != "application/pdf" || rep.FileID == "" {
		t.Fatalf("report = %+v", rep)
	}

	data, contentType, err := env.Engine.Repo.GetReportFile(env.Ctx, rep.FileID)
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if len(data) == 0 || contentType != "application/pdf" {
		t.Fatalf("file len=%d type=%s", len(data), contentType)
	}

	_, err = env.Engine.GenerateReport(env.Ctx, saved.SaveID, "tester")
	if !errors.Is(err, engine.ErrReportExists) {
		t.Fatalf("second generate: %v", err)
	}
}

func TestGenerateReportUnknownSave(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.GenerateReport(env.Ctx, "missing", "tester")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	key, plaintext, err := env.Engine.CreateAPIKey(env.Ctx, "svc-scanner", domain.RoleViewer, "scanner")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	got, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(plaintext))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID != key.ID || got.Role != domain.RoleViewer {
		t.Fatalf("key = %+v", got)
	}
}

func TestEventsRecorded(t *testing.T) {
	env := newTestEnv(t)
	saved, err := env.Engine.SaveConfiguration(env.Ctx, fullDraft(env, "q3"), "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.GenerateReport(env.Ctx, saved.SaveID, "tester"); err != nil {
		t.Fatal(err)
	}
	evts, err := env.Engine.Repo.ListEvents(env.Ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	types := map[string]bool{}
	for _, e := range evts {
		types[e.Type] = true
	}
	for _, want := range []string{"team.create", "device.create", "configuration.save", "report.generate"} {
		if !types[want] {
			t.Fatalf("missing event %s in %v", want, types)
		}
	}
}
