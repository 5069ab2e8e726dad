package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/briefly/internal/feature"
	"github.com/kalambet/briefly/internal/pipeline"
	"github.com/kalambet/briefly/internal/storage"
)

const maxResearchBodySize = 1 << 20 // 1MB

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 50
)

// Orchestrator abstracts the research pipeline for the API layer.
type Orchestrator interface {
	Handle(ctx context.Context, req pipeline.Request) (pipeline.Response, error)
}

// HistoryStore abstracts result reads for the history endpoints.
type HistoryStore interface {
	GetResult(id string) (storage.Result, error)
	ListResults(featureName string, limit int) ([]storage.Result, error)
	SearchResults(featureName, substring string, limit int) ([]storage.Result, error)
}

type AppDeps struct {
	Orchestrator Orchestrator
	Store        HistoryStore
	Token        string // optional; empty disables auth
}

type ResearchRequest struct {
	Topic      string `json:"topic"`
	Count      int    `json:"count,omitempty"`
	Days       int    `json:"days,omitempty"`
	RequestKey string `json:"request_key,omitempty"`
}

type ResearchResponse struct {
	ResultID   string          `json:"result_id,omitempty"`
	RequestKey string          `json:"request_key"`
	Payload    json.RawMessage `json:"payload"`
}

type historySummary struct {
	ID         string `json:"id"`
	Feature    string `json:"feature"`
	Topic      string `json:"topic"`
	RequestKey string `json:"request_key,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/{feature}", handleResearch(deps))
		r.Get("/{feature}/history", handleHistory(deps))
		r.Get("/{feature}/history/{id}", handleHistoryItem(deps))
	})

	return r
}

func handleResearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		featureName := chi.URLParam(r, "feature")
		if _, ok := feature.Lookup(featureName); !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown feature %q", featureName)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxResearchBodySize)
		defer r.Body.Close()

		var req ResearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		resp, err := deps.Orchestrator.Handle(r.Context(), pipeline.Request{
			Feature:    featureName,
			Topic:      req.Topic,
			Params:     feature.Params{Count: req.Count, Days: req.Days},
			RequestKey: req.RequestKey,
		})
		if err != nil {
			switch {
			case errors.Is(err, pipeline.ErrInvalidRequest):
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			case errors.Is(err, pipeline.ErrGatewayUnavailable):
				httpError(w, http.StatusBadGateway, "api_error", "%v", err)
			case errors.Is(err, pipeline.ErrTimedOut):
				httpError(w, http.StatusGatewayTimeout, "timeout_error", "%v", err)
			default:
				httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			}
			return
		}

		writeJSON(w, http.StatusOK, ResearchResponse{
			ResultID:   resp.ResultID,
			RequestKey: resp.RequestKey,
			Payload:    resp.Payload,
		})
	}
}

func handleHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		featureName := chi.URLParam(r, "feature")
		if _, ok := feature.Lookup(featureName); !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown feature %q", featureName)
			return
		}

		limit := parseIntParam(r, "limit", defaultHistoryLimit, maxHistoryLimit)
		search := r.URL.Query().Get("search")

		var rows []storage.Result
		var err error
		if search != "" {
			rows, err = deps.Store.SearchResults(featureName, search, limit)
		} else {
			rows, err = deps.Store.ListResults(featureName, limit)
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing history: %v", err)
			return
		}

		summaries := make([]historySummary, len(rows))
		for i, row := range rows {
			summaries[i] = historySummary{
				ID:         row.ID,
				Feature:    row.Feature,
				Topic:      row.Topic,
				RequestKey: row.RequestKey,
				CreatedAt:  row.CreatedAt.UTC().Format(time.RFC3339),
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{"results": summaries})
	}
}

func handleHistoryItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		row, err := deps.Store.GetResult(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "result %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading result: %v", err)
			return
		}

		// Guard against probing another feature's rows by ID.
		if row.Feature != chi.URLParam(r, "feature") {
			httpError(w, http.StatusNotFound, "not_found_error", "result %s not found", id)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"id":          row.ID,
			"feature":     row.Feature,
			"topic":       row.Topic,
			"request_key": row.RequestKey,
			"params":      json.RawMessage(row.ParamsJSON),
			"payload":     json.RawMessage(row.PayloadJSON),
			"created_at":  row.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
