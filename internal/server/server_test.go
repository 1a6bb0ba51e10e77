package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"rootra/internal/config"
	"rootra/internal/db"
	"rootra/internal/engine"
	"rootra/internal/repo"
	"rootra/internal/server"
)

const testJWTSecret = "test-secret"

type testServer struct {
	t      *testing.T
	url    string
	engine *engine.Engine
	client *http.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	e := engine.New(conn, repo.New(conn), config.Default())
	e.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	handler, err := server.New(server.Config{
		Engine: e,
		Auth: server.AuthConfig{
			JWTSecret:           testJWTSecret,
			AllowHeaderIdentity: true,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{t: t, url: srv.URL, engine: e, client: srv.Client()}
}

type identity struct {
	actorID string
	role    string
}

func (ts *testServer) doJSON(method, path string, id *identity, body any) (int, map[string]any) {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			ts.t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, ts.url+path, &buf)
	if err != nil {
		ts.t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id != nil {
		req.Header.Set("X-Actor-Id", id.actorID)
		req.Header.Set("X-Actor-Role", id.role)
	}
	resp, err := ts.client.Do(req)
	if err != nil {
		ts.t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		ts.t.Fatal(err)
	}
	var decoded map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			ts.t.Fatalf("decode %s %s response (%d): %v\n%s", method, path, resp.StatusCode, err, raw)
		}
	}
	return resp.StatusCode, decoded
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	envelope, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error envelope in %v", body)
	}
	code, _ := envelope["code"].(string)
	return code
}

func (ts *testServer) createBatch(id *identity) string {
	ts.t.Helper()
	status, body := ts.doJSON(http.MethodPost, "/v1/batches", id, map[string]any{
		"herb_name":   "Turmeric",
		"quantity_kg": 50,
		"origin":      map[string]any{"lat": 12.97, "lng": 77.59, "address": "Karnataka"},
	})
	if status != http.StatusCreated {
		ts.t.Fatalf("create batch: status %d body %v", status, body)
	}
	return body["id"].(string)
}

func TestUnauthenticatedRejected(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.doJSON(http.MethodGet, "/v1/batches", nil, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", status)
	}
	if code := errorCode(t, body); code != "unauthorized" {
		t.Fatalf("code = %s", code)
	}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.doJSON(http.MethodGet, "/v1/health", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d body %v", status, body)
	}
}

func TestCreateAndGetBatch(t *testing.T) {
	ts := newTestServer(t)
	farmer := &identity{actorID: "F001", role: "farmer"}
	batchID := ts.createBatch(farmer)
	if batchID != "HB-TUR001" {
		t.Fatalf("generated id = %s", batchID)
	}

	status, body := ts.doJSON(http.MethodGet, "/v1/batches/"+batchID, farmer, nil)
	if status != http.StatusOK {
		t.Fatalf("get batch: status %d body %v", status, body)
	}
	if body["current_stage"] != "uploaded" || body["farmer_id"] != "F001" {
		t.Fatalf("batch body = %v", body)
	}

	status, body = ts.doJSON(http.MethodGet, "/v1/batches/HB-NOPE999", farmer, nil)
	if status != http.StatusNotFound {
		t.Fatalf("missing batch: status %d", status)
	}
	if code := errorCode(t, body); code != "not_found" {
		t.Fatalf("code = %s", code)
	}
}

func TestTransitionFlow(t *testing.T) {
	ts := newTestServer(t)
	farmer := &identity{actorID: "F001", role: "farmer"}
	aggregator := &identity{actorID: "A001", role: "aggregator"}
	processor := &identity{actorID: "P001", role: "processor"}
	batchID := ts.createBatch(farmer)

	status, body := ts.doJSON(http.MethodPost, "/v1/batches/"+batchID+"/transitions", aggregator, map[string]any{
		"transition": "collect",
		"location":   map[string]any{"lat": 15.36, "lng": 75.12, "address": "Hubli mandi"},
	})
	if status != http.StatusOK {
		t.Fatalf("collect: status %d body %v", status, body)
	}
	if body["to_stage"] != "collected" {
		t.Fatalf("collect event = %v", body)
	}

	// Stage skip from collected.
	status, body = ts.doJSON(http.MethodPost, "/v1/batches/"+batchID+"/transitions", processor, map[string]any{
		"transition": "advance",
	})
	if status != http.StatusConflict {
		t.Fatalf("skip: status %d body %v", status, body)
	}
	if code := errorCode(t, body); code != "invalid_transition" {
		t.Fatalf("skip code = %s", code)
	}

	// Wrong role for begin-processing.
	status, body = ts.doJSON(http.MethodPost, "/v1/batches/"+batchID+"/transitions", aggregator, map[string]any{
		"transition": "begin-processing",
	})
	if status != http.StatusForbidden {
		t.Fatalf("wrong role: status %d body %v", status, body)
	}
	if code := errorCode(t, body); code != "forbidden" {
		t.Fatalf("wrong role code = %s", code)
	}
}

func TestCompleteRequiresCertificate(t *testing.T) {
	ts := newTestServer(t)
	farmer := &identity{actorID: "F001", role: "farmer"}
	aggregator := &identity{actorID: "A001", role: "aggregator"}
	processor := &identity{actorID: "P001", role: "processor"}
	batchID := ts.createBatch(farmer)

	steps := []struct {
		id         *identity
		transition string
	}{
		{aggregator, "collect"},
		{processor, "begin-processing"},
		{processor, "advance"},
		{processor, "advance"},
		{processor, "advance"},
	}
	for _, step := range steps {
		status, body := ts.doJSON(http.MethodPost, "/v1/batches/"+batchID+"/transitions", step.id, map[string]any{
			"transition": step.transition,
		})
		if status != http.StatusOK {
			t.Fatalf("%s: status %d body %v", step.transition, status, body)
		}
	}

	status, body := ts.doJSON(http.MethodPost, "/v1/batches/"+batchID+"/transitions", processor, map[string]any{
		"transition": "complete",
	})
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("complete without cert: status %d body %v", status, body)
	}
	if code := errorCode(t, body); code != "certificate_required" {
		t.Fatalf("code = %s", code)
	}

	status, body = ts.doJSON(http.MethodPut, "/v1/batches/"+batchID+"/certificate", processor, map[string]any{
		"issued_at":  "2026-03-01T00:00:00Z",
		"expires_at": "2026-04-01T00:00:00Z",
	})
	if status != http.StatusOK {
		t.Fatalf("attach cert: status %d body %v", status, body)
	}
	cert, _ := body["certificate"].(map[string]any)
	if cert == nil || cert["status"] != "active" {
		t.Fatalf("certificate view = %v", body["certificate"])
	}

	status, body = ts.doJSON(http.MethodPost, "/v1/batches/"+batchID+"/transitions", processor, map[string]any{
		"transition": "complete",
	})
	if status != http.StatusOK {
		t.Fatalf("complete with cert: status %d body %v", status, body)
	}
	if body["to_stage"] != "distribution:assigned" {
		t.Fatalf("complete event = %v", body)
	}
}

func TestTraceEndpoint(t *testing.T) {
	ts := newTestServer(t)
	farmer := &identity{actorID: "F001", role: "farmer"}
	aggregator := &identity{actorID: "A001", role: "aggregator"}
	batchID := ts.createBatch(farmer)
	ts.doJSON(http.MethodPost, "/v1/batches/"+batchID+"/transitions", aggregator, map[string]any{
		"transition": "collect",
	})

	status, body := ts.doJSON(http.MethodGet, "/v1/batches/"+batchID+"/trace", farmer, nil)
	if status != http.StatusOK {
		t.Fatalf("trace: status %d body %v", status, body)
	}
	journey, _ := body["journey"].([]any)
	if len(journey) != 5 {
		t.Fatalf("journey length = %d", len(journey))
	}
	first, _ := journey[0].(map[string]any)
	second, _ := journey[1].(map[string]any)
	if first["stage"] != "Farming" || first["status"] != "completed" {
		t.Fatalf("farming entry = %v", first)
	}
	if second["stage"] != "Collection" || second["status"] != "current" || second["actor_id"] != "A001" {
		t.Fatalf("collection entry = %v", second)
	}
}

func TestQREndpoints(t *testing.T) {
	ts := newTestServer(t)
	farmer := &identity{actorID: "F001", role: "farmer"}
	batchID := ts.createBatch(farmer)

	req, err := http.NewRequest(http.MethodGet, ts.url+"/v1/batches/"+batchID+"/qr", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-Actor-Id", "F001")
	req.Header.Set("X-Actor-Role", "farmer")
	resp, err := ts.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("qr image: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %s", ct)
	}
	png, _ := io.ReadAll(resp.Body)
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatal("body is not a PNG")
	}

	status, body := ts.doJSON(http.MethodPost, "/v1/qr/decode", farmer, map[string]any{
		"payload": "not json at all",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("decode garbage: status %d body %v", status, body)
	}
	if code := errorCode(t, body); code != "malformed_payload" {
		t.Fatalf("code = %s", code)
	}
}

func TestJWTAuth(t *testing.T) {
	ts := newTestServer(t)

	sign := func(subject, role, secret string) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":  subject,
			"role": role,
			"exp":  time.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte(secret))
		if err != nil {
			t.Fatal(err)
		}
		return signed
	}

	do := func(token string) (int, map[string]any) {
		req, err := http.NewRequest(http.MethodGet, ts.url+"/v1/batches", nil)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := ts.client.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var body map[string]any
		json.NewDecoder(resp.Body).Decode(&body)
		return resp.StatusCode, body
	}

	if status, body := do(sign("F001", "farmer", testJWTSecret)); status != http.StatusOK {
		t.Fatalf("valid token: status %d body %v", status, body)
	}
	if status, _ := do(sign("F001", "farmer", "wrong-secret")); status != http.StatusUnauthorized {
		t.Fatalf("bad signature: status %d", status)
	}
	if status, _ := do(sign("F001", "astronaut", testJWTSecret)); status != http.StatusUnauthorized {
		t.Fatalf("bad role claim: status %d", status)
	}
}

func TestFlagAndAlertEndpoints(t *testing.T) {
	ts := newTestServer(t)
	farmer := &identity{actorID: "F001", role: "farmer"}
	admin := &identity{actorID: "ADM1", role: "admin"}
	aggregator := &identity{actorID: "A001", role: "aggregator"}
	batchID := ts.createBatch(farmer)

	status, body := ts.doJSON(http.MethodPost, "/v1/batches/"+batchID+"/flag", admin, map[string]any{
		"reason": "weight discrepancy",
	})
	if status != http.StatusOK {
		t.Fatalf("flag: status %d body %v", status, body)
	}
	if body["flagged"] != true {
		t.Fatalf("flag body = %v", body)
	}

	status, body = ts.doJSON(http.MethodPost, "/v1/batches/"+batchID+"/transitions", aggregator, map[string]any{
		"transition": "collect",
	})
	if status != http.StatusConflict {
		t.Fatalf("transition on flagged: status %d body %v", status, body)
	}
	if code := errorCode(t, body); code != "batch_flagged" {
		t.Fatalf("code = %s", code)
	}

	status, body = ts.doJSON(http.MethodPost, "/v1/alerts", aggregator, map[string]any{
		"batch_id": batchID,
		"type":     "weight_mismatch",
		"severity": "high",
	})
	if status != http.StatusCreated {
		t.Fatalf("raise alert: status %d body %v", status, body)
	}
	alertID, _ := body["id"].(string)
	if alertID == "" || body["status"] != "pending" {
		t.Fatalf("alert body = %v", body)
	}

	status, body = ts.doJSON(http.MethodPatch, "/v1/alerts/"+alertID, admin, map[string]any{
		"status": "resolved",
	})
	if status != http.StatusOK {
		t.Fatalf("resolve alert: status %d body %v", status, body)
	}

	status, body = ts.doJSON(http.MethodPatch, "/v1/alerts/"+alertID, admin, map[string]any{
		"status": "investigating",
	})
	if status != http.StatusConflict {
		t.Fatalf("reopen closed alert: status %d body %v", status, body)
	}

	status, body = ts.doJSON(http.MethodPost, "/v1/batches/"+batchID+"/resolve", admin, map[string]any{
		"outcome": "false_alarm",
	})
	if status != http.StatusOK {
		t.Fatalf("resolve flag: status %d body %v", status, body)
	}
	if body["flagged"] != false {
		t.Fatalf("resolve body = %v", body)
	}
}

func TestEventLogCursor(t *testing.T) {
	ts := newTestServer(t)
	farmer := &identity{actorID: "F001", role: "farmer"}
	aggregator := &identity{actorID: "A001", role: "aggregator"}
	batchID := ts.createBatch(farmer)
	ts.doJSON(http.MethodPost, "/v1/batches/"+batchID+"/transitions", aggregator, map[string]any{
		"transition": "collect",
	})

	status, body := ts.doJSON(http.MethodGet, "/v1/events?after=0&limit=10", farmer, nil)
	if status != http.StatusOK {
		t.Fatalf("tail: status %d body %v", status, body)
	}
	items, _ := body["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	cursor, _ := body["next_cursor"].(float64)
	if cursor <= 0 {
		t.Fatalf("next_cursor = %v", body["next_cursor"])
	}

	status, body = ts.doJSON(http.MethodGet, fmt.Sprintf("/v1/events?after=%d&limit=10", int64(cursor)), farmer, nil)
	if status != http.StatusOK {
		t.Fatalf("tail past end: status %d", status)
	}
	items, _ = body["items"].([]any)
	if len(items) != 0 {
		t.Fatalf("items past cursor = %d, want 0", len(items))
	}
}
