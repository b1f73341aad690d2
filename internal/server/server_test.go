package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"momentum/internal/app"
	"momentum/internal/config"
	"momentum/internal/domain"
	"momentum/internal/transport"
)

const testSecret = "test-secret"

var testNow = time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

type testServer struct {
	URL    string
	App    *app.App
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, tr domain.Transport) (*testServer, func()) {
	t.Helper()
	a, err := app.Open(context.Background(), app.Options{
		Workspace: t.TempDir(),
		Config:    config.Default(),
		Transport: tr,
		Now:       func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	handler, err := New(Config{
		App:      a,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowUserHeader: true},
		Logger:   zap.NewNop(),
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
		App:    a,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			a.Close()
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

var asAna = map[string]string{"X-User-Id": "ana"}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env
}

func TestDispatchThenGet(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/dispatch", map[string]any{
		"type":       "task",
		"action":     "create",
		"parameters": map[string]any{"title": "Renew passport", "priority": "high"},
	}, asAna)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dispatch status %d: %s", res.StatusCode, string(data))
	}
	var out ResultResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !out.Success || len(out.CommittedIDs) != 1 {
		t.Fatalf("expected one committed id, got %+v", out)
	}
	if out.FunctionName != "create_task" {
		t.Fatalf("function name %q", out.FunctionName)
	}

	getRes, getBody := doJSON(t, client, http.MethodGet, srv.URL+"/v1/entities/tasks/"+out.CommittedIDs[0], nil, asAna)
	if getRes.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", getRes.StatusCode, string(getBody))
	}
	var task domain.Task
	if err := json.Unmarshal(getBody, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if task.Title != "Renew passport" {
		t.Fatalf("expected title Renew passport, got %q", task.Title)
	}

	listRes, listBody := doJSON(t, client, http.MethodGet, srv.URL+"/v1/entities/tasks?query=passport", nil, asAna)
	if listRes.StatusCode != http.StatusOK {
		t.Fatalf("search status %d: %s", listRes.StatusCode, string(listBody))
	}
	var found ResultResponse
	_ = json.Unmarshal(listBody, &found)
	if !found.Success || !bytes.Contains([]byte(found.Message), []byte("Renew passport")) {
		t.Fatalf("search did not find the task: %+v", found)
	}
}

func TestDispatchRejectionIsNotAnHTTPError(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/dispatch", map[string]any{
		"type":   "milestone",
		"action": "log",
		"id":     "m1",
	}, asAna)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dispatch status %d: %s", res.StatusCode, string(data))
	}
	var out ResultResponse
	_ = json.Unmarshal(data, &out)
	if out.Success {
		t.Fatalf("expected rejection, got %+v", out)
	}
}

func TestCallsRejectBadArguments(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/calls", map[string]any{
		"name":      "create_task",
		"arguments": "{",
	}, asAna)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "bad_request" {
		t.Fatalf("expected bad_request, got %s", string(data))
	}
}

func TestMissingEntityIsNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/entities/habits/nope", nil, asAna)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "not_found" {
		t.Fatalf("expected not_found, got %q", env.Error.Code)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/entities/widgets/x", nil, asAna)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown kind, got %d: %s", res.StatusCode, string(data))
	}
}

func TestAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "unauthorized" {
		t.Fatalf("expected unauthorized, got %q", env.Error.Code)
	}

	token, err := SignToken(testSecret, "ben", "pro", time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me WhoAmIResponse
	_ = json.Unmarshal(data, &me)
	if me.UserID != "ben" || me.Tier != "pro" || me.Source != "jwt" {
		t.Fatalf("unexpected principal %+v", me)
	}

	forged, _ := SignToken("other-secret", "ben", "", time.Hour)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer " + forged})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for forged token, got %d: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %q", env.Error.Code)
	}
}

func TestTurnPreviewThenConfirm(t *testing.T) {
	tr := transport.NewScripted(transport.Turn{Events: []domain.StreamEvent{
		domain.CallNameDelta("create_event"),
		domain.CallArgsDelta(`{"title":"Dentist","start":"2024-03-06 14:00","duration":"1h"}`),
		domain.Done(),
	}})
	srv, cleanup := newTestServer(t, tr)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/conversations/main/turns", map[string]any{
		"message": "dentist wednesday at 2",
	}, asAna)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("turn status %d: %s", res.StatusCode, string(data))
	}
	var turn TurnResponse
	if err := json.Unmarshal(data, &turn); err != nil {
		t.Fatalf("unmarshal turn: %v", err)
	}
	if turn.PendingID == "" || turn.Result == nil || len(turn.Result.Pending) != 1 {
		t.Fatalf("expected one pending draft, got %+v", turn)
	}

	// another user does not see ana's conversation
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/conversations/main/confirm", nil, map[string]string{"X-User-Id": "ben"})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for another user, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/conversations/main/confirm?pending_id="+turn.PendingID, nil, asAna)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("confirm status %d: %s", res.StatusCode, string(data))
	}
	var confirmed ResultResponse
	_ = json.Unmarshal(data, &confirmed)
	if !confirmed.Success || len(confirmed.CommittedIDs) != 1 {
		t.Fatalf("expected committed event, got %+v", confirmed)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/conversations/main/confirm", nil, asAna)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on second confirm, got %d: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "nothing_pending" {
		t.Fatalf("expected nothing_pending, got %q", env.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/conversations/main/messages", nil, asAna)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("messages status %d: %s", res.StatusCode, string(data))
	}
	var msgs MessagesResponse
	_ = json.Unmarshal(data, &msgs)
	if len(msgs.Items) < 4 {
		t.Fatalf("expected system, user, context and function messages, got %d", len(msgs.Items))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/conversations/main/current", nil, asAna)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("current status %d: %s", res.StatusCode, string(data))
	}
	var cur CurrentTurnResponse
	_ = json.Unmarshal(data, &cur)
	if cur.Active {
		t.Fatalf("no turn should be in flight: %+v", cur)
	}
}

func TestAuditNeedsSQLite(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/audit", nil, asAna)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on memory backend, got %d: %s", res.StatusCode, string(data))
	}
}

func TestHandleErrorMapsAmbiguity(t *testing.T) {
	err := handleError(domain.AmbiguousError{
		Kind:       domain.KindTask,
		Reference:  "report",
		Candidates: []domain.Candidate{{ID: "t1", Title: "Q1 report"}, {ID: "t2", Title: "Q2 report"}},
	})
	if err.GetStatus() != http.StatusConflict {
		t.Fatalf("expected 409, got %d", err.GetStatus())
	}
	if e := err.(*apiError); e.Body.Code != "ambiguous_reference" {
		t.Fatalf("unexpected code %q", e.Body.Code)
	}
	if st := handleError(domain.TransportError{Op: "stream"}).GetStatus(); st != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for transport errors, got %d", st)
	}
	if st := handleError(domain.Invalid("title", "is required")).GetStatus(); st != http.StatusBadRequest {
		t.Fatalf("expected 400 for validation errors, got %d", st)
	}
}

func TestWebhookDelivery(t *testing.T) {
	got := make(chan *http.Request, 1)
	var payload webhookEvent
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&payload)
		got <- r
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	d := &webhookDispatcher{
		webhooks: []config.WebhookConfig{
			{URL: hook.URL, Secret: "s3", Events: []string{"task.created"}},
			{URL: hook.URL, Events: []string{"goal.deleted"}},
		},
		client: &http.Client{Timeout: time.Second},
		logger: zap.NewNop(),
		now:    func() time.Time { return testNow },
	}
	d.dispatchAll(context.Background(), domain.Change{Kind: domain.KindTask, Op: domain.ChangeCreated, ID: "t1"})

	select {
	case r := <-got:
		if r.Header.Get("X-Momentum-Event") != "task.created" {
			t.Fatalf("unexpected event header %q", r.Header.Get("X-Momentum-Event"))
		}
		if r.Header.Get("X-Momentum-Secret") != "s3" {
			t.Fatalf("missing secret header")
		}
	default:
		t.Fatalf("webhook not delivered")
	}
	if payload.EntityID != "t1" || payload.EntityKind != "task" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if len(got) != 0 {
		t.Fatalf("filtered webhook should not fire")
	}
}

func TestSubscribeAllMergesFeeds(t *testing.T) {
	a, err := app.Open(context.Background(), app.Options{Workspace: t.TempDir(), Config: config.Default()})
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	defer a.Close()

	changes, stop := subscribeAll(a.Stores)
	defer stop()

	res := a.Dispatch(context.Background(), a.Caller("", ""), domain.Envelope{
		Type:       domain.KindCategory,
		Action:     domain.ActionCreate,
		Parameters: map[string]any{"name": "Work"},
	})
	if !res.Success {
		t.Fatalf("create category: %s", res.Message)
	}
	select {
	case c := <-changes:
		if c.Kind != domain.KindCategory || c.Op != domain.ChangeCreated {
			t.Fatalf("unexpected change %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no change received")
	}
}

func TestRunWebhooksWithoutHooksReturns(t *testing.T) {
	disabled := false
	err := RunWebhooks(context.Background(), domain.Stores{}, []config.WebhookConfig{{URL: "http://x", Enabled: &disabled}}, nil)
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOpenAPIIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d: %s", res.StatusCode, string(data))
	}
	var doc struct {
		Paths      map[string]any `json:"paths"`
		Components struct {
			Schemas         map[string]any `json:"schemas"`
			SecuritySchemes map[string]any `json:"securitySchemes"`
		} `json:"components"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal openapi: %v", err)
	}
	if _, ok := doc.Paths["/v1/dispatch"]; !ok {
		t.Fatalf("dispatch route missing from openapi paths")
	}
	if _, ok := doc.Components.SecuritySchemes["bearerAuth"]; !ok {
		t.Fatalf("bearerAuth scheme missing")
	}
	if _, ok := doc.Components.Schemas["ApiError"]; !ok {
		t.Fatalf("ApiError schema missing")
	}
}
