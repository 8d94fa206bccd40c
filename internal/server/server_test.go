package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"

	"checkline/internal/config"
	"checkline/internal/db"
	"checkline/internal/domain"
	"checkline/internal/engine"
	"checkline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	return newTestServerAuth(t, AuthConfig{JWTSecret: testSecret, EnableDevAuth: true})
}

func newTestServerAuth(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if err := e.SeedCatalog(context.Background()); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     auth,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func login(t *testing.T, srv *testServer, actorID string, role domain.Role) map[string]string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/token", map[string]any{
		"actor_id": actorID,
		"role":     string(role),
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(data))
	}
	var resp DevLoginResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + resp.Token}
}

func TestSaveGenerateDownloadRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	auth := login(t, srv, "alice", domain.RoleAdmin)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/teams", map[string]any{"name": "platform"}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create team status %d: %s", res.StatusCode, string(data))
	}
	var team TeamResponse
	if err := json.Unmarshal(data, &team); err != nil {
		t.Fatal(err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/teams/"+team.ID+"/devices",
		map[string]any{"name": "build-host", "subtype": "laptop"}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create device status %d: %s", res.StatusCode, string(data))
	}
	var dev DeviceResponse
	if err := json.Unmarshal(data, &dev); err != nil {
		t.Fatal(err)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/controls", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list controls status %d: %s", res.StatusCode, string(data))
	}
	var controls []ControlResponse
	if err := json.Unmarshal(data, &controls); err != nil {
		t.Fatal(err)
	}
	if len(controls) == 0 {
		t.Fatal("empty catalog")
	}

	yes := true
	checks := make([]map[string]any, 0, len(controls))
	for i, c := range controls {
		if i == 0 {
			checks = append(checks, map[string]any{"control_id": c.ID, "value": nil})
			continue
		}
		checks = append(checks, map[string]any{"control_id": c.ID, "value": yes})
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/configurations", map[string]any{
		"name":      "q3 audit",
		"team_id":   team.ID,
		"device_id": dev.ID,
		"checks":    checks,
	}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("save status %d: %s", res.StatusCode, string(data))
	}
	var saved ConfigurationResponse
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatal(err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports", map[string]any{"save_id": saved.SaveID}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("generate status %d: %s", res.StatusCode, string(data))
	}
	var rep ReportResponse
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatal(err)
	}
	if rep.PassedChecks != len(controls)-1 || rep.SkippedChecks != 1 {
		t.Fatalf("report tallies = %+v", rep)
	}

	// Second generation for the same save conflicts.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports", map[string]any{"save_id": saved.SaveID}, auth)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("regenerate status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Error.Code != "report_exists" {
		t.Fatalf("conflict code = %s", envelope.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reports/files/"+rep.FileID, nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("download status %d: %s", res.StatusCode, string(data))
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("content type = %s", ct)
	}
	if len(data) == 0 {
		t.Fatal("empty artifact")
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/controls", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}

	// Garbage token is also rejected.
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/controls", nil,
		map[string]string{"Authorization": "Bearer not-a-token"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token status %d", res.StatusCode)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRejectedCredentialsAreLogged(t *testing.T) {
	var buf syncBuffer
	srv, cleanup := newTestServerAuth(t, AuthConfig{
		JWTSecret:     testSecret,
		EnableDevAuth: true,
		Logger:        log.New(&buf, "", 0),
	})
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/controls", nil,
		map[string]string{"Authorization": "Bearer not-a-token"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d", res.StatusCode)
	}
	if !strings.Contains(buf.String(), "rejected bearer token") {
		t.Fatalf("log output = %q", buf.String())
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/controls", nil,
		map[string]string{"X-Api-Key": "no-such-key"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("api key status %d", res.StatusCode)
	}
	if !strings.Contains(buf.String(), "rejected api key") {
		t.Fatalf("log output = %q", buf.String())
	}
}

func TestViewerCannotWrite(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	auth := login(t, srv, "bob", domain.RoleViewer)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/teams", map[string]any{"name": "x"}, auth)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}

	// Viewer can still read the catalog.
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/controls", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("viewer read status %d", res.StatusCode)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	admin := login(t, srv, "alice", domain.RoleAdmin)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/apikeys", map[string]any{
		"actor_id": "svc-scanner",
		"role":     "viewer",
		"name":     "scanner",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	var created CreateAPIKeyResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatal(err)
	}
	if created.Key == "" {
		t.Fatal("plaintext key missing")
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/controls", nil,
		map[string]string{"X-Api-Key": created.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key read status %d", res.StatusCode)
	}

	// The viewer-scoped key cannot save configurations.
	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/configurations", map[string]any{"name": "x"},
		map[string]string{"X-Api-Key": created.Key})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("api key write status %d", res.StatusCode)
	}
}

func TestSaveValidationErrors(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	auth := login(t, srv, "alice", domain.RoleAdmin)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/configurations", map[string]any{
		"name":      "x",
		"team_id":   "missing",
		"device_id": "missing",
		"checks":    []map[string]any{{"control_id": "AC-1", "value": true}},
	}, auth)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	auth := login(t, srv, "alice", domain.RoleAdmin)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/teams", map[string]any{"name": "audit"}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create team status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?limit=10", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var events []EventResponse
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatal(err)
	}
	if len(events) == 0 || events[0].Type != "team.create" {
		t.Fatalf("events = %+v", events)
	}
}
