package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dealgraph/api/internal/auth"
	"dealgraph/api/internal/store"
	"dealgraph/api/internal/util"
)

func newServerAndToken(t *testing.T, env *testEnv, role string) (*HTTPServer, string) {
	t.Helper()

	user := store.User{ID: util.NewID("u"), DisplayName: "Test " + role, Role: role}
	env.store.mu.Lock()
	env.store.users[user.ID] = user
	env.store.mu.Unlock()

	token, err := auth.IssueToken([]byte(env.service.cfg.Auth.TokenSecret), auth.Claims{
		UserID:  user.ID,
		Name:    user.DisplayName,
		Role:    user.Role,
		TokenID: util.NewID("jti"),
		Exp:     time.Now().Add(15 * time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return NewHTTPServer(env.service, "*"), token
}

func doJSON(t *testing.T, server *HTTPServer, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	env := newTestEnv(t)
	server, _ := newServerAndToken(t, env, "viewer")

	rr := doJSON(t, server, http.MethodGet, "/api/workspaces", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestHealthAndReadyArePublic(t *testing.T) {
	env := newTestEnv(t)
	server, _ := newServerAndToken(t, env, "viewer")

	for _, path := range []string{"/api/health", "/api/ready"} {
		rr := doJSON(t, server, http.MethodGet, path, "", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d body=%s", path, rr.Code, rr.Body.String())
		}
	}
}

func TestViewerWriteEndpointsForbidden(t *testing.T) {
	env := newTestEnv(t)
	server, token := newServerAndToken(t, env, "viewer")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{name: "update clause", method: http.MethodPut, path: "/api/clauses/" + env.clause.ID, body: `{"body":"new"}`},
		{name: "bind variable", method: http.MethodPost, path: "/api/clauses/" + env.clause.ID + "/variables", body: `{"label":"x","type":"financial","value":"1%"}`},
		{name: "update variable", method: http.MethodPut, path: "/api/variables/" + env.margin.ID, body: `{"value":"3%","expectedVersion":1}`},
		{name: "sync graph", method: http.MethodPost, path: "/api/workspaces/" + env.ws.ID + "/sync", body: `{}`},
		{name: "publish", method: http.MethodPost, path: "/api/workspaces/" + env.ws.ID + "/publish", body: `{}`},
		{name: "resolve drift", method: http.MethodPost, path: "/api/drift/dr_1/resolve", body: `{"resolution":"reverted"}`},
		{name: "upload markup", method: http.MethodPost, path: "/api/workspaces/" + env.ws.ID + "/recon", body: `{"fileName":"m.txt","content":"x"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := doJSON(t, server, tc.method, tc.path, token, tc.body)
			if rr.Code != http.StatusForbidden {
				t.Fatalf("expected 403, got %d body=%s", rr.Code, rr.Body.String())
			}
			var payload map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
				t.Fatalf("parse response: %v", err)
			}
			if payload["code"] != "FORBIDDEN" {
				t.Fatalf("expected code FORBIDDEN, got %v", payload["code"])
			}
		})
	}
}

func TestEditorCannotResolveOrPublish(t *testing.T) {
	env := newTestEnv(t)
	server, token := newServerAndToken(t, env, "editor")

	paths := []struct {
		method string
		path   string
		body   string
	}{
		{method: http.MethodPost, path: "/api/drift/dr_1/resolve", body: `{"resolution":"reverted"}`},
		{method: http.MethodPost, path: "/api/variables/" + env.margin.ID + "/baseline", body: `{"reason":"ok"}`},
		{method: http.MethodPost, path: "/api/workspaces/" + env.ws.ID + "/publish", body: `{}`},
		{method: http.MethodPost, path: "/api/clauses/" + env.clause.ID + "/lock", body: `{}`},
	}
	for _, endpoint := range paths {
		rr := doJSON(t, server, endpoint.method, endpoint.path, token, endpoint.body)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("expected 403 for %s, got %d body=%s", endpoint.path, rr.Code, rr.Body.String())
		}
	}
}

func TestVariableUpdateFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	server, token := newServerAndToken(t, env, "approver")

	rr := doJSON(t, server, http.MethodPut, "/api/variables/"+env.margin.ID, token, `{"value":"3.25%","expectedVersion":1}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodGet, "/api/workspaces/"+env.ws.ID+"/drift?status=unresolved", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload struct {
		Drift []store.DriftItem `json:"drift"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse drift list: %v", err)
	}
	if len(payload.Drift) != 1 {
		t.Fatalf("expected one drift item, got %d", len(payload.Drift))
	}
	item := payload.Drift[0]

	// Stale version conflicts.
	rr = doJSON(t, server, http.MethodPut, "/api/variables/"+env.margin.ID, token, `{"value":"3.50%","expectedVersion":1}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for stale version, got %d", rr.Code)
	}

	// A resolution without a reason and category is rejected.
	rr = doJSON(t, server, http.MethodPost, "/api/drift/"+item.ID+"/resolve", token, `{"resolution":"reverted"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without reason, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodPost, "/api/drift/"+item.ID+"/resolve", token,
		`{"resolution":"reverted","reason":"draft change not agreed","category":"commercial"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	v, err := env.store.GetVariable(context.Background(), env.margin.ID)
	if err != nil {
		t.Fatalf("get variable: %v", err)
	}
	if v.Value != "2.75%" {
		t.Fatalf("revert should restore baseline, got %q", v.Value)
	}
}

func TestPublishFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	server, token := newServerAndToken(t, env, "approver")

	rr := doJSON(t, server, http.MethodGet, "/api/workspaces/"+env.ws.ID+"/publish", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for gate check, got %d body=%s", rr.Code, rr.Body.String())
	}
	var gate struct {
		Decision struct {
			Allowed bool   `json:"allowed"`
			Reason  string `json:"reason"`
		} `json:"decision"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &gate); err != nil {
		t.Fatalf("parse gate: %v", err)
	}
	if !gate.Decision.Allowed {
		t.Fatalf("clean workspace should pass the gate: %s", gate.Decision.Reason)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/workspaces/"+env.ws.ID+"/publish", token, `{}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodGet, "/api/workspaces/"+env.ws.ID+"/golden-record", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var summary struct {
		Status        string `json:"status"`
		SchemaJSON    any    `json:"schemaJson"`
		LastPublishAt string `json:"lastPublishAt"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &summary); err != nil {
		t.Fatalf("parse summary: %v", err)
	}
	if summary.Status != "READY" {
		t.Fatalf("expected READY after publish, got %s", summary.Status)
	}
	if summary.LastPublishAt == "" {
		t.Fatalf("summary should record the publish time: %s", rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodGet, "/api/workspaces/"+env.ws.ID+"/publications", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var record struct {
		Sequence  int `json:"sequence"`
		Variables []struct {
			BaselineValue string `json:"baselineValue"`
		} `json:"variables"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &record); err != nil {
		t.Fatalf("parse record: %v", err)
	}
	if record.Sequence != 1 || len(record.Variables) != 1 {
		t.Fatalf("unexpected golden record: %s", rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodGet, "/api/workspaces/"+env.ws.ID+"/export?format=csv", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for export, got %d body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("expected text/csv, got %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); cd == "" {
		t.Fatal("expected attachment disposition")
	}
}

func TestPublishBlockedOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	server, token := newServerAndToken(t, env, "approver")

	rr := doJSON(t, server, http.MethodPut, "/api/variables/"+env.margin.ID, token, `{"value":"3.25%","expectedVersion":1}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update failed: %d %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodPost, "/api/workspaces/"+env.ws.ID+"/publish", token, `{}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["code"] != "PUBLISH_BLOCKED" {
		t.Fatalf("expected PUBLISH_BLOCKED, got %v", payload["code"])
	}
}

func TestReconFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	server, token := newServerAndToken(t, env, "approver")

	body := fmt.Sprintf(`{"fileName":"markup.txt","content":%q}`, `We propose revising the "Applicable Margin" to 3.00%.`)
	rr := doJSON(t, server, http.MethodPost, "/api/workspaces/"+env.ws.ID+"/recon", token, body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var view struct {
		Session store.ReconSession `json:"session"`
		Items   []store.ReconItem  `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("parse session: %v", err)
	}
	if len(view.Items) != 1 {
		t.Fatalf("expected one item, got %d", len(view.Items))
	}

	rr = doJSON(t, server, http.MethodPost, "/api/recon/items/"+view.Items[0].ID+"/apply", token, `{"reason":"accepted"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	v, err := env.store.GetVariable(context.Background(), env.margin.ID)
	if err != nil {
		t.Fatalf("get variable: %v", err)
	}
	if v.Value != "3.00%" {
		t.Fatalf("apply should take proposed value, got %q", v.Value)
	}

	// Deciding the same item twice conflicts.
	rr = doJSON(t, server, http.MethodPost, "/api/recon/items/"+view.Items[0].ID+"/reject", token, `{"reason":"changed my mind"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 on double decision, got %d", rr.Code)
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	env := newTestEnv(t)
	server, token := newServerAndToken(t, env, "viewer")

	rr := doJSON(t, server, http.MethodGet, "/api/nonsense", token, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
