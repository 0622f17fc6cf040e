package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mdcapital/claimsight/internal/agent"
	"github.com/mdcapital/claimsight/internal/dataset"
	"github.com/mdcapital/claimsight/internal/engine"
	"github.com/mdcapital/claimsight/internal/metrics"
	"github.com/mdcapital/claimsight/internal/retrieval"
	"github.com/mdcapital/claimsight/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

const maxSearchResults = 50

// AgentSource hands out an agent for a caller credential.
type AgentSource interface {
	Get(credential string) (agent.Asker, error)
}

// Searcher runs semantic search over communications.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]retrieval.Hit, error)
}

// InteractionStore reads recorded questions.
type InteractionStore interface {
	GetRecentInteractions(limit int) ([]storage.Interaction, error)
	GetInteraction(id string) (storage.Interaction, error)
}

// Deps holds the handler's collaborators. Interactions may be nil.
type Deps struct {
	Data         *dataset.Store
	Agents       AgentSource
	Searcher     Searcher
	Interactions InteractionStore
	Mode         string
	// Token protects /data and /interactions when non-empty.
	Token string
}

type askRequest struct {
	Question   string `json:"question"`
	Credential string `json:"credential"`
}

type askResponse struct {
	ID        string `json:"id"`
	Answer    string `json:"answer"`
	Mode      string `json:"mode"`
	Failed    bool   `json:"failed"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

type searchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type healthResponse struct {
	Status      string `json:"status"`
	AgentType   string `json:"agent_type"`
	DataLoaded  bool   `json:"data_loaded"`
	RecordCount int    `json:"record_count"`
}

// NewHandler returns the HTTP API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth(deps))
	r.Get("/metrics", metrics.Handler().ServeHTTP)
	r.Get("/summary", handleSummary(deps))
	r.Post("/ask", handleAsk(deps))
	r.Post("/search", handleSearch(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Get("/data", handleData(deps))
		r.Get("/interactions", handleListInteractions(deps))
		r.Get("/interactions/{id}", handleGetInteraction(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", AgentType: deps.Mode}
		if ds := deps.Data.Current(); ds != nil {
			resp.RecordCount = ds.Len()
			resp.DataLoaded = ds.Len() > 0
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleSummary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ds := deps.Data.Current()
		if ds == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "no data loaded")
			return
		}
		writeJSON(w, http.StatusOK, ds.Summary())
	}
}

func handleData(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ds := deps.Data.Current()
		if ds == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "no data loaded")
			return
		}
		records := ds.Records()
		offset := min(parseIntParam(r, "offset", 0, 0), len(records))
		limit := parseIntParam(r, "limit", len(records), 0)
		end := min(offset+limit, len(records))
		writeJSON(w, http.StatusOK, records[offset:end])
	}
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		req.Question = strings.TrimSpace(req.Question)
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required and must not be empty")
			return
		}

		a, err := deps.Agents.Get(strings.TrimSpace(req.Credential))
		if errors.Is(err, engine.ErrMissingCredential) {
			httpError(w, http.StatusUnauthorized, "authentication_error",
				"no API key: pass \"credential\" in the request or configure llm.api_key on the server")
			return
		}
		if err != nil {
			slog.Error("building agent failed", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to initialize agent: %v", err)
			return
		}

		ans := a.Ask(agent.WithSource(r.Context(), "api"), req.Question)
		writeJSON(w, http.StatusOK, askResponse{
			ID:        ans.ID,
			Answer:    ans.Narrative,
			Mode:      ans.Mode,
			Failed:    ans.Failed,
			ElapsedMS: ans.Elapsed.Milliseconds(),
		})
	}
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		req.Query = strings.TrimSpace(req.Query)
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required and must not be empty")
			return
		}
		if req.K < 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "k must not be negative")
			return
		}
		k := min(req.K, maxSearchResults)

		hits, err := deps.Searcher.Search(r.Context(), req.Query, k)
		if errors.Is(err, retrieval.ErrUnavailable) {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "retrieval unavailable: %v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "search failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": hits})
	}
}

func handleListInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Interactions == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "interaction history is disabled")
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)

		interactions, err := deps.Interactions.GetRecentInteractions(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list interactions: %v", err)
			return
		}
		if interactions == nil {
			interactions = []storage.Interaction{}
		}
		writeJSON(w, http.StatusOK, interactions)
	}
}

func handleGetInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Interactions == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "interaction history is disabled")
			return
		}
		id := chi.URLParam(r, "id")

		interaction, err := deps.Interactions.GetInteraction(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get interaction: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, interaction)
	}
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

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response failed", "error", err)
	}
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
