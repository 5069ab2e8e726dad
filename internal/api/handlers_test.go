package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/briefly/internal/pipeline"
	"github.com/kalambet/briefly/internal/storage"
)

const testToken = "test-token-12345"

// --- mocks ---

type mockOrchestrator struct {
	resp    pipeline.Response
	err     error
	lastReq pipeline.Request
	calls   int
}

func (m *mockOrchestrator) Handle(_ context.Context, req pipeline.Request) (pipeline.Response, error) {
	m.calls++
	m.lastReq = req
	return m.resp, m.err
}

func setupAppHandler(t *testing.T, orch Orchestrator, token string) (http.Handler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	handler := NewAppHandler(AppDeps{
		Orchestrator: orch,
		Store:        store,
		Token:        token,
	})
	return handler, store
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestResearch_Success(t *testing.T) {
	orch := &mockOrchestrator{
		resp: pipeline.Response{
			Payload:    json.RawMessage(`{"items":[]}`),
			ResultID:   "res-1",
			RequestKey: "key-1",
		},
	}
	handler, _ := setupAppHandler(t, orch, "")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authReq(http.MethodPost, "/api/curation", `{"topic":"Bitcoin","count":8}`, ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp ResearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.ResultID != "res-1" || resp.RequestKey != "key-1" {
		t.Errorf("resp = %+v", resp)
	}

	if orch.lastReq.Feature != "curation" || orch.lastReq.Topic != "Bitcoin" {
		t.Errorf("orchestrator request = %+v", orch.lastReq)
	}
	if orch.lastReq.Params.Count != 8 {
		t.Errorf("count = %d, want 8", orch.lastReq.Params.Count)
	}
}

func TestResearch_UnknownFeature(t *testing.T) {
	orch := &mockOrchestrator{}
	handler, _ := setupAppHandler(t, orch, "")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authReq(http.MethodPost, "/api/horoscope", `{"topic":"Bitcoin"}`, ""))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if orch.calls != 0 {
		t.Error("orchestrator should not be called for unknown feature")
	}
}

func TestResearch_ErrorMapping(t *testing.T) {
	cases := []struct {
		err      error
		wantCode int
		wantType string
	}{
		{pipeline.ErrInvalidRequest, http.StatusBadRequest, "invalid_request_error"},
		{pipeline.ErrGatewayUnavailable, http.StatusBadGateway, "api_error"},
		{pipeline.ErrTimedOut, http.StatusGatewayTimeout, "timeout_error"},
	}

	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			orch := &mockOrchestrator{err: fmt.Errorf("%w: detail", tc.err)}
			handler, _ := setupAppHandler(t, orch, "")

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, authReq(http.MethodPost, "/api/curation", `{"topic":"Bitcoin"}`, ""))

			if rec.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantCode)
			}

			var body struct {
				Error struct {
					Type string `json:"type"`
				} `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decoding error body: %v", err)
			}
			if body.Error.Type != tc.wantType {
				t.Errorf("error type = %q, want %q", body.Error.Type, tc.wantType)
			}
		})
	}
}

func TestResearch_InvalidBody(t *testing.T) {
	handler, _ := setupAppHandler(t, &mockOrchestrator{}, "")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authReq(http.MethodPost, "/api/curation", `{not json`, ""))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHistory_ListAndSearch(t *testing.T) {
	handler, store := setupAppHandler(t, &mockOrchestrator{}, "")

	base := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	seed := []storage.Result{
		{ID: "r1", Feature: "curation", Topic: "Bitcoin halving", PayloadJSON: "{}", CreatedAt: base},
		{ID: "r2", Feature: "curation", Topic: "Ethereum merge", PayloadJSON: "{}", CreatedAt: base.Add(time.Minute)},
		{ID: "r3", Feature: "window", Topic: "Bitcoin ETFs", PayloadJSON: "{}", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, r := range seed {
		if err := store.SaveResult(r); err != nil {
			t.Fatalf("SaveResult: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authReq(http.MethodGet, "/api/curation/history", "", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var listResp struct {
		Results []historySummary `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(listResp.Results) != 2 {
		t.Fatalf("listed %d results, want 2", len(listResp.Results))
	}
	if listResp.Results[0].ID != "r2" {
		t.Errorf("newest first: got %s", listResp.Results[0].ID)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authReq(http.MethodGet, "/api/curation/history?search=bitcoin", "", ""))
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decoding search: %v", err)
	}
	if len(listResp.Results) != 1 || listResp.Results[0].ID != "r1" {
		t.Errorf("search results = %+v", listResp.Results)
	}
}

func TestHistory_LimitCapped(t *testing.T) {
	handler, store := setupAppHandler(t, &mockOrchestrator{}, "")

	for i := 0; i < 60; i++ {
		r := storage.Result{
			ID:          fmt.Sprintf("r%03d", i),
			Feature:     "curation",
			Topic:       "topic",
			PayloadJSON: "{}",
			CreatedAt:   time.Date(2026, 8, 30, 0, 0, i, 0, time.UTC),
		}
		if err := store.SaveResult(r); err != nil {
			t.Fatalf("SaveResult: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authReq(http.MethodGet, "/api/curation/history?limit=500", "", ""))

	var listResp struct {
		Results []historySummary `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(listResp.Results) != maxHistoryLimit {
		t.Errorf("listed %d results, want cap %d", len(listResp.Results), maxHistoryLimit)
	}
}

func TestHistoryItem(t *testing.T) {
	handler, store := setupAppHandler(t, &mockOrchestrator{}, "")

	r := storage.Result{
		ID:          "res-1",
		Feature:     "curation",
		Topic:       "Bitcoin",
		ParamsJSON:  `{"count":16}`,
		PayloadJSON: `{"items":[{"title":"x"}]}`,
	}
	if err := store.SaveResult(r); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authReq(http.MethodGet, "/api/curation/history/res-1", "", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var item struct {
		Topic   string          `json:"topic"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &item); err != nil {
		t.Fatalf("decoding item: %v", err)
	}
	if item.Topic != "Bitcoin" {
		t.Errorf("topic = %q", item.Topic)
	}
	if !strings.Contains(string(item.Payload), "items") {
		t.Errorf("payload = %s", item.Payload)
	}

	// Wrong feature in the path does not expose the row.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authReq(http.MethodGet, "/api/window/history/res-1", "", ""))
	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-feature lookup status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authReq(http.MethodGet, "/api/curation/history/missing", "", ""))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing id status = %d, want 404", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	handler, _ := setupAppHandler(t, &mockOrchestrator{resp: pipeline.Response{Payload: json.RawMessage(`{}`)}}, testToken)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authReq(http.MethodPost, "/api/curation", `{"topic":"Bitcoin"}`, ""))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authReq(http.MethodPost, "/api/curation", `{"topic":"Bitcoin"}`, "wrong-token"))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authReq(http.MethodPost, "/api/curation", `{"topic":"Bitcoin"}`, testToken))
	if rec.Code != http.StatusOK {
		t.Errorf("good token: status = %d, want 200", rec.Code)
	}

	// Health stays open.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authReq(http.MethodGet, "/health", "", ""))
	if rec.Code != http.StatusOK {
		t.Errorf("health: status = %d, want 200", rec.Code)
	}
}
