package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pensa/internal/config"
	"pensa/internal/db"
	"pensa/internal/domain"
	"pensa/internal/engine"
	"pensa/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWith(t, Config{})
}

func newTestServerWith(t *testing.T, cfg Config) *testServer {
	t.Helper()
	workspace := t.TempDir()
	dir, err := db.EnsureWorkspace(workspace)
	if err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg.Engine = engine.New(conn, dir)
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	handler, err := New(cfg)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return &testServer{URL: srv.URL + cfg.BasePath, Engine: cfg.Engine, client: srv.Client()}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
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

type envelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func expectError(t *testing.T, res *http.Response, data []byte, status int, code string) envelope {
	t.Helper()
	if res.StatusCode != status {
		t.Fatalf("expected status %d, got %d: %s", status, res.StatusCode, string(data))
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	if env.Error.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, env.Error.Code, env.Error.Message)
	}
	return env
}

func (s *testServer) createIssue(t *testing.T, body map[string]any) domain.Issue {
	t.Helper()
	res, data := doJSON(t, s.client, http.MethodPost, s.URL+"/issues", body, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create issue status %d: %s", res.StatusCode, string(data))
	}
	var it domain.Issue
	if err := json.Unmarshal(data, &it); err != nil {
		t.Fatalf("unmarshal issue: %v", err)
	}
	return it
}

func TestIssueLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	it := srv.createIssue(t, map[string]any{"title": "Ship it", "issue_type": "task"})
	if it.Status != domain.StatusOpen || it.Priority != domain.P2 {
		t.Fatalf("unexpected defaults: %+v", it)
	}

	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/issues/"+it.ID+"/claim", nil, map[string]string{ActorHeader: "alice"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("claim status %d: %s", res.StatusCode, string(data))
	}
	var claimed domain.Issue
	if err := json.Unmarshal(data, &claimed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if claimed.Status != domain.StatusInProgress || claimed.Assignee == nil || *claimed.Assignee != "alice" {
		t.Fatalf("unexpected claim result: %+v", claimed)
	}

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/issues/"+it.ID+"/claim", map[string]any{"actor": "bob"}, nil)
	env := expectError(t, res, data, http.StatusConflict, "already_claimed")
	if env.Error.Details["holder"] != "alice" {
		t.Fatalf("expected holder alice, got %v", env.Error.Details)
	}

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/issues/"+it.ID+"/close", map[string]any{"reason": "done"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("close status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/issues/"+it.ID+"/close", nil, nil)
	env = expectError(t, res, data, http.StatusConflict, "invalid_status_transition")
	if env.Error.Details["from"] != "closed" {
		t.Fatalf("expected from=closed, got %v", env.Error.Details)
	}
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/issues/"+it.ID+"/reopen", map[string]any{"reason": "regressed"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reopen status %d: %s", res.StatusCode, string(data))
	}
	var reopened domain.Issue
	_ = json.Unmarshal(data, &reopened)
	if reopened.Status != domain.StatusOpen || reopened.ClosedAt != nil {
		t.Fatalf("unexpected reopen result: %+v", reopened)
	}
	if strings.Contains(string(data), "close_reason") {
		t.Fatalf("absent optionals must be omitted: %s", string(data))
	}

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/issues/"+it.ID+"/history", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status %d: %s", res.StatusCode, string(data))
	}
	var history []domain.Event
	if err := json.Unmarshal(data, &history); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	kinds := make([]domain.EventType, len(history))
	for i, ev := range history {
		kinds[i] = ev.EventType
	}
	want := []domain.EventType{domain.EventReopened, domain.EventClosed, domain.EventClaimed, domain.EventCreated}
	if len(kinds) != len(want) {
		t.Fatalf("unexpected history %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("unexpected history %v", kinds)
		}
	}
	if history[2].Actor == nil || *history[2].Actor != "alice" {
		t.Fatalf("claim event should record the header actor: %+v", history[2])
	}
}

func TestActorPrecedence(t *testing.T) {
	srv := newTestServerWith(t, Config{DefaultActor: "fallback"})
	a := srv.createIssue(t, map[string]any{"title": "a", "issue_type": "task"})
	b := srv.createIssue(t, map[string]any{"title": "b", "issue_type": "task"})
	c := srv.createIssue(t, map[string]any{"title": "c", "issue_type": "task"})

	cases := []struct {
		id      string
		body    any
		headers map[string]string
		want    string
	}{
		{a.ID, map[string]any{"actor": "body"}, map[string]string{ActorHeader: "header"}, "body"},
		{b.ID, nil, map[string]string{ActorHeader: "header"}, "header"},
		{c.ID, nil, nil, "fallback"},
	}
	for _, tc := range cases {
		res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/issues/"+tc.id+"/claim", tc.body, tc.headers)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("claim status %d: %s", res.StatusCode, string(data))
		}
		var it domain.Issue
		_ = json.Unmarshal(data, &it)
		if it.Assignee == nil || *it.Assignee != tc.want {
			t.Fatalf("expected assignee %s, got %v", tc.want, it.Assignee)
		}
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/issues/pn-deadbeef", nil, nil)
	expectError(t, res, data, http.StatusNotFound, "not_found")

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/issues", map[string]any{"title": "x", "issue_type": "epic"}, nil)
	expectError(t, res, data, http.StatusBadRequest, "validation_error")

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/issues", map[string]any{"title": "  ", "issue_type": "task"}, nil)
	expectError(t, res, data, http.StatusBadRequest, "validation_error")

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/issues", map[string]any{"title": "x", "issue_type": "task", "status": "closed"}, nil)
	expectError(t, res, data, http.StatusBadRequest, "validation_error")

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/issues?sort=sideways", nil, nil)
	expectError(t, res, data, http.StatusBadRequest, "validation_error")

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/nowhere", nil, nil)
	expectError(t, res, data, http.StatusNotFound, "not_found")

	a := srv.createIssue(t, map[string]any{"title": "a", "issue_type": "task"})
	b := srv.createIssue(t, map[string]any{"title": "b", "issue_type": "task", "deps": []string{a.ID}})
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/deps", map[string]any{"issue_id": a.ID, "depends_on_id": b.ID}, nil)
	expectError(t, res, data, http.StatusConflict, "cycle_detected")
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/deps", map[string]any{"issue_id": a.ID, "depends_on_id": a.ID}, nil)
	expectError(t, res, data, http.StatusConflict, "cycle_detected")

	res, data = doJSON(t, srv.client, http.MethodDelete, srv.URL+"/issues/"+a.ID, nil, nil)
	expectError(t, res, data, http.StatusConflict, "delete_requires_force")
	res, data = doJSON(t, srv.client, http.MethodDelete, srv.URL+"/issues/"+a.ID+"?force=true", nil, nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("forced delete status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.client, http.MethodDelete, srv.URL+"/deps?issue_id="+b.ID+"&depends_on_id="+a.ID, nil, nil)
	expectError(t, res, data, http.StatusNotFound, "not_found")

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/import", nil, nil)
	expectError(t, res, data, http.StatusNotFound, "not_found")
}

func TestListsAreNeverNull(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/issues", "/issues/ready", "/issues/blocked", "/issues/search?q=nothing", "/status"} {
		res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+path, nil, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s status %d: %s", path, res.StatusCode, string(data))
		}
		if strings.TrimSpace(string(data)) == "null" {
			t.Fatalf("%s returned null", path)
		}
		if path != "/status" && strings.TrimSpace(string(data)) != "[]" {
			t.Fatalf("%s: expected [], got %s", path, string(data))
		}
	}
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/deps/cycles", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"cycles":[]`) {
		t.Fatalf("unexpected cycles response %d: %s", res.StatusCode, string(data))
	}
}

func TestPatchIssue(t *testing.T) {
	srv := newTestServer(t)
	it := srv.createIssue(t, map[string]any{"title": "a", "issue_type": "bug", "description": "first", "spec": "auth"})

	res, data := doJSON(t, srv.client, http.MethodPatch, srv.URL+"/issues/"+it.ID, map[string]any{"priority": "p0", "description": nil}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", res.StatusCode, string(data))
	}
	var patched domain.Issue
	_ = json.Unmarshal(data, &patched)
	if patched.Priority != domain.P0 || patched.Description != nil || patched.Spec == nil {
		t.Fatalf("unexpected patch result: %+v", patched)
	}

	res, data = doJSON(t, srv.client, http.MethodPatch, srv.URL+"/issues/"+it.ID, map[string]any{"issue_type": "task"}, nil)
	expectError(t, res, data, http.StatusBadRequest, "validation_error")

	res, data = doJSON(t, srv.client, http.MethodPatch, srv.URL+"/issues/"+it.ID, map[string]any{"claim": true, "actor": "carol"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch claim status %d: %s", res.StatusCode, string(data))
	}
	var claimed domain.Issue
	_ = json.Unmarshal(data, &claimed)
	if claimed.Status != domain.StatusInProgress || *claimed.Assignee != "carol" {
		t.Fatalf("unexpected claim result: %+v", claimed)
	}

	res, data = doJSON(t, srv.client, http.MethodPatch, srv.URL+"/issues/"+it.ID, map[string]any{"claim": true, "title": "b"}, nil)
	expectError(t, res, data, http.StatusBadRequest, "validation_error")

	res, data = doJSON(t, srv.client, http.MethodPatch, srv.URL+"/issues/"+it.ID, map[string]any{"assignee": "dave", "actor": "dave"}, nil)
	env := expectError(t, res, data, http.StatusBadRequest, "validation_error")
	if env.Error.Details["field"] != "assignee" {
		t.Fatalf("expected assignee field in details, got %+v", env.Error.Details)
	}
	_, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/issues/"+it.ID, nil, nil)
	var held domain.IssueDetail
	_ = json.Unmarshal(data, &held)
	if held.Assignee == nil || *held.Assignee != "carol" {
		t.Fatalf("claim must stay with carol, got %+v", held.Issue)
	}

	res, data = doJSON(t, srv.client, http.MethodPatch, srv.URL+"/issues/"+it.ID, map[string]any{"unclaim": true}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch unclaim status %d: %s", res.StatusCode, string(data))
	}
	var released domain.Issue
	_ = json.Unmarshal(data, &released)
	if released.Status != domain.StatusOpen || released.Assignee != nil {
		t.Fatalf("unexpected unclaim result: %+v", released)
	}
}

func TestQueriesOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	a := srv.createIssue(t, map[string]any{"title": "Login form", "issue_type": "task", "priority": "p1"})
	b := srv.createIssue(t, map[string]any{"title": "Login tests", "issue_type": "test", "deps": []string{a.ID}})
	srv.createIssue(t, map[string]any{"title": "Crash", "issue_type": "bug", "priority": "p0"})

	var ready []domain.Issue
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/issues/ready", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ready status %d", res.StatusCode)
	}
	_ = json.Unmarshal(data, &ready)
	if len(ready) != 1 || ready[0].ID != a.ID {
		t.Fatalf("expected only %s ready, got %+v", a.ID, ready)
	}

	var blocked []domain.Issue
	_, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/issues/blocked", nil, nil)
	_ = json.Unmarshal(data, &blocked)
	if len(blocked) != 1 || blocked[0].ID != b.ID {
		t.Fatalf("expected %s blocked, got %+v", b.ID, blocked)
	}

	var found []domain.Issue
	_, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/issues/search?q=LOGIN", nil, nil)
	_ = json.Unmarshal(data, &found)
	if len(found) != 2 {
		t.Fatalf("expected 2 search hits, got %d", len(found))
	}

	var count domain.CountResult
	_, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/issues/count?group_by=issue_type", nil, nil)
	_ = json.Unmarshal(data, &count)
	if count.Total != 3 || len(count.Groups) != 3 {
		t.Fatalf("unexpected count: %+v", count)
	}

	var tree []domain.DepTreeNode
	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/issues/"+a.ID+"/deps/tree?direction=down", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("tree status %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &tree)
	if len(tree) != 1 || tree[0].ID != b.ID || tree[0].Depth != 1 {
		t.Fatalf("unexpected tree: %+v", tree)
	}
	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/issues/"+a.ID+"/deps/tree?direction=sideways", nil, nil)
	expectError(t, res, data, http.StatusBadRequest, "validation_error")

	var detail domain.IssueDetail
	_, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/issues/"+b.ID, nil, nil)
	_ = json.Unmarshal(data, &detail)
	if detail.ID != b.ID || len(detail.Deps) != 1 || detail.Deps[0].ID != a.ID || detail.Comments == nil {
		t.Fatalf("unexpected detail: %+v", detail)
	}
}

func TestCommentsAndSyncOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	it := srv.createIssue(t, map[string]any{"title": "a", "issue_type": "task"})
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/issues/"+it.ID+"/comments", map[string]any{"text": "looks good"}, map[string]string{ActorHeader: "rev"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("comment status %d: %s", res.StatusCode, string(data))
	}
	var c domain.Comment
	_ = json.Unmarshal(data, &c)
	if c.Actor != "rev" || c.Text != "looks good" {
		t.Fatalf("unexpected comment: %+v", c)
	}

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/export", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("export status %d: %s", res.StatusCode, string(data))
	}
	var exported SyncResponse
	_ = json.Unmarshal(data, &exported)
	if exported.Status != "exported" || exported.Issues != 1 || exported.Comments != 1 {
		t.Fatalf("unexpected export: %+v", exported)
	}
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/import", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("import status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/issues/"+it.ID+"/claim", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("claim status %d: %s", res.StatusCode, string(data))
	}
	var report domain.DoctorReport
	_, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/doctor", nil, nil)
	_ = json.Unmarshal(data, &report)
	if len(report.StaleClaims) != 1 || report.Fixed != nil {
		t.Fatalf("unexpected doctor report: %+v", report)
	}
	_, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/doctor?fix=true", nil, nil)
	report = domain.DoctorReport{}
	_ = json.Unmarshal(data, &report)
	if report.Fixed == nil || report.Fixed.ReleasedClaims != 1 {
		t.Fatalf("unexpected doctor fix: %+v", report)
	}
}

func TestBasePath(t *testing.T) {
	srv := newTestServerWith(t, Config{BasePath: "/v1"})
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/health", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"ok"`) {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestHandleErrorMapping(t *testing.T) {
	s := &service{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{engine.NotFoundError{Kind: "issue", ID: "pn-1"}, http.StatusNotFound, "not_found"},
		{engine.AlreadyClaimedError{ID: "pn-1", Holder: "a"}, http.StatusConflict, "already_claimed"},
		{engine.ErrCycleDetected, http.StatusConflict, "cycle_detected"},
		{engine.InvalidTransitionError{ID: "pn-1", From: domain.StatusClosed, To: domain.StatusClosed}, http.StatusConflict, "invalid_status_transition"},
		{engine.DeleteRequiresForceError{ID: "pn-1", Dependents: 1}, http.StatusConflict, "delete_requires_force"},
		{engine.ValidationError{Field: "title", Message: "required"}, http.StatusBadRequest, "validation_error"},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		se := s.handleError(tc.err)
		apiErr, ok := se.(*apiError)
		if !ok {
			t.Fatalf("%v: unexpected error type %T", tc.err, se)
		}
		if apiErr.status != tc.status || apiErr.Body.Code != tc.code {
			t.Fatalf("%v: got %d/%s, want %d/%s", tc.err, apiErr.status, apiErr.Body.Code, tc.status, tc.code)
		}
	}
}

func TestHookDispatcherDeliversEvents(t *testing.T) {
	var (
		mu       sync.Mutex
		received []HookPayload
		headers  []string
	)
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p HookPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		mu.Lock()
		received = append(received, p)
		headers = append(headers, r.Header.Get("X-Pensa-Event")+"/"+r.Header.Get("X-Pensa-Secret"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer sink.Close()

	srv := newTestServer(t)
	ctx := context.Background()
	// History before the dispatcher starts is not replayed.
	before := srv.createIssue(t, map[string]any{"title": "old", "issue_type": "task"})

	d := NewHookDispatcher(srv.Engine, []config.HookConfig{
		{URL: sink.URL, Events: []string{"claimed", "closed"}, Secret: "s3cret"},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.Interval = 10 * time.Millisecond
	if err := d.Prime(ctx); err != nil {
		t.Fatalf("prime: %v", err)
	}

	if _, err := srv.Engine.ClaimIssue(ctx, before.ID, "alice"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := srv.Engine.AddComment(ctx, before.ID, "alice", "skipped by filter"); err != nil {
		t.Fatalf("comment: %v", err)
	}
	if _, err := srv.Engine.CloseIssue(ctx, before.ID, "done", false, "alice"); err != nil {
		t.Fatalf("close: %v", err)
	}
	d.Dispatch(ctx)
	d.Dispatch(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("expected 2 deliveries, got %d: %+v", len(received), received)
	}
	if received[0].EventType != domain.EventClaimed || received[1].EventType != domain.EventClosed {
		t.Fatalf("unexpected deliveries: %+v", received)
	}
	if received[0].IssueID != before.ID || received[0].Actor != "alice" {
		t.Fatalf("unexpected payload: %+v", received[0])
	}
	if headers[0] != "claimed/s3cret" {
		t.Fatalf("unexpected headers: %v", headers)
	}
}
