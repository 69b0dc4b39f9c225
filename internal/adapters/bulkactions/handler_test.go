package bulkactions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"selectcore/pkg/domain"
)

func newServer(t *testing.T, f *fixture) *httptest.Server {
	t.Helper()
	handler := NewHandler(f.service, f.worker, f.registry)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, payload any) (*http.Response, map[string]any) {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && resp.StatusCode != http.StatusNoContent {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestAPISelectionLifecycle(t *testing.T) {
	f := newFixture(t)
	server := newServer(t, f)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v1/selections", map[string]any{
		"filter": map[string]any{"constraints": []map[string]any{
			{"field": "status", "op": "eq", "value": "open"},
		}},
		"selection": map[string]any{"mode": "all", "ids": []string{"r0000"}},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d (%v)", resp.StatusCode, body)
	}
	selection := body["selection"].(map[string]any)
	token, _ := selection["token"].(string)
	if token == "" || selection["mode"] != "all" {
		t.Fatalf("selection = %v", selection)
	}
	if selection["estimate"] != float64(3) {
		t.Fatalf("estimate = %v", selection["estimate"])
	}

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/v1/selections/"+token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/v1/selections/"+token+"/estimate", nil)
	if resp.StatusCode != http.StatusOK || body["estimate"] != float64(3) {
		t.Fatalf("estimate = %d %v", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodDelete, server.URL+"/api/v1/selections/"+token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, server.URL+"/api/v1/selections/"+token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete = %d", resp.StatusCode)
	}
}

func TestAPICreateSelectionInvalidFilter(t *testing.T) {
	f := newFixture(t)
	server := newServer(t, f)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v1/selections", map[string]any{
		"filter": map[string]any{"constraints": []map[string]any{
			{"field": "ghost", "op": "eq", "value": 1},
		}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d (%v)", resp.StatusCode, body)
	}
	if body["error"] == "" {
		t.Fatalf("error payload missing")
	}
}

func TestAPISyncExecution(t *testing.T) {
	f := newFixture(t)
	server := newServer(t, f)

	_, body := doJSON(t, http.MethodPost, server.URL+"/api/v1/selections", map[string]any{
		"filter": map[string]any{"constraints": []map[string]any{
			{"field": "status", "op": "eq", "value": "open"},
		}},
		"selection": map[string]any{"mode": "all"},
	})
	token := body["selection"].(map[string]any)["token"].(string)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v1/bulk-actions", map[string]any{
		"token":  token,
		"action": "record.tag",
		"params": map[string]any{"field": "reviewed", "value": true},
		"sync":   true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute status = %d (%v)", resp.StatusCode, body)
	}
	job := body["job"].(map[string]any)
	if job["status"] != string(JobStatusCompleted) {
		t.Fatalf("job = %v", job)
	}
	result := job["result"].(map[string]any)
	if result["attempted"] != float64(4) {
		t.Fatalf("result = %v", result)
	}

	jobID := job["id"].(string)
	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/v1/bulk-actions/"+jobID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("job status = %d", resp.StatusCode)
	}
}

func TestAPISyncRequestOverThresholdRunsAsync(t *testing.T) {
	f := newFixture(t)
	f.worker.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = f.worker.Stop(ctx)
	})
	handler := NewHandler(f.service, f.worker, f.registry)
	handler.SyncThreshold = 2
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	_, body := doJSON(t, http.MethodPost, server.URL+"/api/v1/selections", map[string]any{
		"filter": map[string]any{"constraints": []map[string]any{
			{"field": "status", "op": "eq", "value": "open"},
		}},
		"selection": map[string]any{"mode": "all"},
	})
	token := body["selection"].(map[string]any)["token"].(string)

	// Estimate is 4, threshold is 2: the sync request degrades to async.
	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v1/bulk-actions", map[string]any{
		"token":  token,
		"action": "record.tag",
		"params": map[string]any{"field": "reviewed", "value": true},
		"sync":   true,
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d (%v)", resp.StatusCode, body)
	}
	jobID := body["job"].(map[string]any)["id"].(string)
	final := awaitJob(t, f.worker, jobID)
	if final.Status != JobStatusCompleted {
		t.Fatalf("final = %s (%s)", final.Status, final.Error)
	}
}

func TestAPIErrorMappings(t *testing.T) {
	f := newFixture(t)
	server := newServer(t, f)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown selection", http.MethodGet, "/api/v1/selections/deadbeef", nil, http.StatusNotFound},
		{"unknown job", http.MethodGet, "/api/v1/bulk-actions/deadbeef", nil, http.StatusNotFound},
		{"missing token", http.MethodPost, "/api/v1/bulk-actions", map[string]any{"action": "record.delete"}, http.StatusBadRequest},
		{"unknown action", http.MethodPost, "/api/v1/bulk-actions", map[string]any{"token": "x", "action": "nope"}, http.StatusBadRequest},
		{"method not allowed", http.MethodPut, "/api/v1/selections", nil, http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		resp, _ := doJSON(t, tc.method, server.URL+tc.path, tc.body)
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.name, resp.StatusCode, tc.want)
		}
	}
}

func TestAPIExpiredTokenReportsGone(t *testing.T) {
	f := newFixture(t)
	server := newServer(t, f)

	token := f.createToken(t, domain.NewManual("r0000"), false)
	f.tokens.SetClock(func() time.Time { return time.Now().Add(24 * time.Hour) })

	resp, _ := doJSON(t, http.MethodGet, server.URL+"/api/v1/selections/"+token.ID, nil)
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestAPIListActions(t *testing.T) {
	f := newFixture(t)
	server := newServer(t, f)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/v1/actions", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	raw := body["actions"].([]any)
	kinds := make([]string, len(raw))
	for i, k := range raw {
		kinds[i] = fmt.Sprint(k)
	}
	if len(kinds) != 2 || kinds[0] != "record.delete" || kinds[1] != "record.tag" {
		t.Fatalf("actions = %v", kinds)
	}
}
