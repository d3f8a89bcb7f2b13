package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"crewline/internal/config"
	"crewline/internal/db"
	"crewline/internal/domain"
	"crewline/internal/engine"
	"crewline/internal/migrate"
)

const testJWTSecret = "server-test-secret"

var actorHeader = map[string]string{"X-Actor-Id": "tester"}

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("crew")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              testJWTSecret,
			AllowLegacyActorHeader: true,
			Logger:                 log.New(io.Discard, "", 0),
		},
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

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func createUser(t *testing.T, srv *testServer, id, name string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/users", map[string]any{
		"id":   id,
		"name": name,
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create user %s: %d %s", id, res.StatusCode, string(data))
	}
}

func createTask(t *testing.T, srv *testServer, id, title string, complexity, deadline float64) domain.Task {
	t.Helper()
	body := map[string]any{
		"title":          title,
		"complexity":     complexity,
		"deadline_hours": deadline,
	}
	if id != "" {
		body["id"] = id
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", body, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task %s: %d %s", title, res.StatusCode, string(data))
	}
	var created domain.Task
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	return created
}

func TestAssignStartOutcomeFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	createUser(t, srv, "alice", "Alice")
	createUser(t, srv, "bob", "Bob")
	task := createTask(t, srv, "", "Ship ingest pipeline", 0.6, 24)

	assignRes, assignBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/assign", nil, actorHeader)
	if assignRes.StatusCode != http.StatusOK {
		t.Fatalf("assign status %d: %s", assignRes.StatusCode, string(assignBody))
	}
	var assigned struct {
		Assignment domain.Assignment `json:"assignment"`
		Ranked     []struct {
			UserID string  `json:"user_id"`
			Score  float64 `json:"score"`
		} `json:"ranked"`
	}
	if err := json.Unmarshal(assignBody, &assigned); err != nil {
		t.Fatalf("unmarshal assign: %v", err)
	}
	if assigned.Assignment.TaskID != task.ID {
		t.Fatalf("assignment task mismatch: %s", assigned.Assignment.TaskID)
	}
	winner := assigned.Assignment.UserID
	if winner != "alice" && winner != "bob" {
		t.Fatalf("unexpected assignee %q", winner)
	}
	if assigned.Assignment.Source != "cold_start" {
		t.Fatalf("expected cold_start source before training, got %q", assigned.Assignment.Source)
	}
	if len(assigned.Ranked) != 2 {
		t.Fatalf("expected 2 ranked candidates, got %d", len(assigned.Ranked))
	}

	getRes, getBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+task.ID, nil, actorHeader)
	if getRes.StatusCode != http.StatusOK {
		t.Fatalf("get task: %d %s", getRes.StatusCode, string(getBody))
	}
	var fetched domain.Task
	if err := json.Unmarshal(getBody, &fetched); err != nil {
		t.Fatalf("unmarshal fetched task: %v", err)
	}
	if fetched.Status != "assigned" {
		t.Fatalf("expected assigned, got %s", fetched.Status)
	}
	if fetched.AssigneeID == nil || *fetched.AssigneeID != winner {
		t.Fatalf("assignee not recorded: %+v", fetched.AssigneeID)
	}

	startRes, startBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/start", nil, actorHeader)
	if startRes.StatusCode != http.StatusOK {
		t.Fatalf("start: %d %s", startRes.StatusCode, string(startBody))
	}
	var started domain.Task
	_ = json.Unmarshal(startBody, &started)
	if started.Status != "in_progress" {
		t.Fatalf("expected in_progress, got %s", started.Status)
	}

	outRes, outBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/outcome", map[string]any{
		"actual_hours": 6.0,
		"quality":      4,
	}, actorHeader)
	if outRes.StatusCode != http.StatusOK {
		t.Fatalf("outcome: %d %s", outRes.StatusCode, string(outBody))
	}
	var outcome domain.Outcome
	if err := json.Unmarshal(outBody, &outcome); err != nil {
		t.Fatalf("unmarshal outcome: %v", err)
	}
	if outcome.UserID != winner {
		t.Fatalf("outcome attributed to %q, want %q", outcome.UserID, winner)
	}
	if outcome.Success <= 0 {
		t.Fatalf("expected positive success label, got %f", outcome.Success)
	}

	statsRes, statsBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/"+winner+"/stats", nil, actorHeader)
	if statsRes.StatusCode != http.StatusOK {
		t.Fatalf("stats: %d %s", statsRes.StatusCode, string(statsBody))
	}
	var stats domain.UserStats
	_ = json.Unmarshal(statsBody, &stats)
	if stats.CompletedTasks != 1 || stats.OpenTasks != 0 {
		t.Fatalf("stats not updated: completed=%d open=%d", stats.CompletedTasks, stats.OpenTasks)
	}
}

func TestAssignWithoutCandidates(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	task := createTask(t, srv, "", "Nobody home", 0.5, 8)
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/assign", nil, actorHeader)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(body))
	}
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "no_candidates" {
		t.Fatalf("expected no_candidates, got %q", envelope.Error.Code)
	}
}

func TestReassignNeedsForce(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	createUser(t, srv, "alice", "Alice")
	createUser(t, srv, "bob", "Bob")
	task := createTask(t, srv, "", "Contested", 0.4, 12)

	first, firstBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/assign", nil, actorHeader)
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first assign: %d %s", first.StatusCode, string(firstBody))
	}
	second, secondBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/assign", nil, actorHeader)
	if second.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict on reassign, got %d %s", second.StatusCode, string(secondBody))
	}
	forced, forcedBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/assign?force=true", nil, actorHeader)
	if forced.StatusCode != http.StatusOK {
		t.Fatalf("forced reassign: %d %s", forced.StatusCode, string(forcedBody))
	}
}

func TestAuthModes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/users", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", res.StatusCode)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "jwt-tester",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/users", nil, map[string]string{
		"Authorization": "Bearer " + signed,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with valid JWT, got %d %s", res.StatusCode, string(body))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should stay open, got %d", res.StatusCode)
	}
}

func TestDocsStayOpen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/docs", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("docs page: %d", res.StatusCode)
	}
	if !strings.Contains(string(body), "swagger-ui") {
		t.Fatalf("docs page missing swagger ui: %s", string(body[:min(len(body), 200)]))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("spec document: %d %s", res.StatusCode, string(body))
	}
	var spec struct {
		Info struct {
			Title string `json:"title"`
		} `json:"info"`
	}
	if err := json.Unmarshal(body, &spec); err != nil {
		t.Fatalf("unmarshal spec: %v", err)
	}
	if spec.Info.Title != "Crewline API" {
		t.Fatalf("unexpected spec title %q", spec.Info.Title)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	createRes, createBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/apikeys", map[string]any{
		"actor_id": "ci-bot",
		"name":     "pipeline",
	}, actorHeader)
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create key: %d %s", createRes.StatusCode, string(createBody))
	}
	var created struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	if err := json.Unmarshal(createBody, &created); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if !strings.HasPrefix(created.Key, "ck_") {
		t.Fatalf("unexpected key format %q", created.Key)
	}

	keyHeader := map[string]string{"X-Api-Key": created.Key}
	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/users", nil, keyHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key auth failed: %d %s", res.StatusCode, string(body))
	}

	listRes, listBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/apikeys", nil, actorHeader)
	if listRes.StatusCode != http.StatusOK {
		t.Fatalf("list keys: %d %s", listRes.StatusCode, string(listBody))
	}
	if strings.Contains(string(listBody), created.Key) {
		t.Fatalf("plaintext key leaked in listing: %s", string(listBody))
	}

	revokeRes, revokeBody := doJSON(t, client, http.MethodDelete, srv.URL+"/v0/apikeys/"+created.ID, nil, actorHeader)
	if revokeRes.StatusCode >= 300 {
		t.Fatalf("revoke: %d %s", revokeRes.StatusCode, string(revokeBody))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users", nil, keyHeader)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked key still accepted: %d", res.StatusCode)
	}
}

func TestRetrainRefusesSmallDataset(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/model/retrain", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("retrain: %d %s", res.StatusCode, string(body))
	}
	var retrain struct {
		Trained bool   `json:"trained"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(body, &retrain); err != nil {
		t.Fatalf("unmarshal retrain: %v", err)
	}
	if retrain.Trained || retrain.Status != "insufficient_data" {
		t.Fatalf("expected insufficient_data refusal, got %+v", retrain)
	}

	modelRes, modelBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/model", nil, actorHeader)
	if modelRes.StatusCode != http.StatusOK {
		t.Fatalf("get model: %d %s", modelRes.StatusCode, string(modelBody))
	}
	var model struct {
		Ready bool `json:"ready"`
	}
	_ = json.Unmarshal(modelBody, &model)
	if model.Ready {
		t.Fatalf("model should not be ready on an empty outcome log")
	}
}

func TestTaskListPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	for _, id := range []string{"t1", "t2", "t3"} {
		createTask(t, srv, id, "Task "+id, 0.3, 10)
	}

	seen := map[string]bool{}
	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks?limit=2", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("page 1: %d %s", res.StatusCode, string(body))
	}
	var page struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
		NextCursor string `json:"next_cursor"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("unmarshal page 1: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected 2 items and a cursor, got %d %q", len(page.Items), page.NextCursor)
	}
	for _, item := range page.Items {
		seen[item.ID] = true
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks?limit=2&cursor="+url.QueryEscape(page.NextCursor), nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("page 2: %d %s", res.StatusCode, string(body))
	}
	// next_cursor is omitted on the final page; clear the value decoded from
	// page 1 so Unmarshal's keep-absent-fields semantics can't leak it through.
	page.NextCursor = ""
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("unmarshal page 2: %v", err)
	}
	if len(page.Items) != 1 || page.NextCursor != "" {
		t.Fatalf("expected final page of 1, got %d %q", len(page.Items), page.NextCursor)
	}
	for _, item := range page.Items {
		if seen[item.ID] {
			t.Fatalf("task %s returned twice", item.ID)
		}
		seen[item.ID] = true
	}
	if len(seen) != 3 {
		t.Fatalf("pagination lost rows: %v", seen)
	}
}
