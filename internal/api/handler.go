// Package api exposes the prompt store's command contract to presentation
// layers: a chi HTTP router and an MCP server over stdio.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/pstash/internal/codec"
	"github.com/kalambet/pstash/internal/storage"
	"github.com/kalambet/pstash/internal/template"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxImportBodySize = 10 << 20 // 10MB

// UpsertRequest creates a prompt when ID is nil and updates it otherwise.
type UpsertRequest struct {
	ID         *int64   `json:"id"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags"`
	IsFavorite bool     `json:"isFavorite"`
	ChangeNote *string  `json:"changeNote"`
}

// UsageRequest logs one render-and-use event.
type UsageRequest struct {
	InputVars  map[string]string `json:"inputVars"`
	OutputText string            `json:"outputText"`
	Rating     *int64            `json:"rating"`
}

// RenderRequest renders a prompt's content against variable values. A
// non-nil rating is folded into the prompt score when the use is logged.
type RenderRequest struct {
	Variables map[string]string `json:"variables"`
	Rating    *int64            `json:"rating"`
}

// RenderResponse carries the rendered text and any placeholders that had no
// supplied value (they remain literal in the output).
type RenderResponse struct {
	Output  string   `json:"output"`
	Missing []string `json:"missing"`
}

// AppDeps holds dependencies for the HTTP handler.
type AppDeps struct {
	Store *storage.Store
}

// NewAppHandler builds the HTTP surface of the command contract.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)

	r.Get("/health", handleHealth)
	r.Get("/prompts", handleListPrompts(deps))
	r.Post("/prompts", handleUpsertPrompt(deps))
	r.Get("/prompts/{id}", handleGetPrompt(deps))
	r.Delete("/prompts/{id}", handleDeletePrompt(deps))
	r.Get("/prompts/{id}/versions", handleListVersions(deps))
	r.Get("/prompts/{id}/variables", handleListVariables(deps))
	r.Post("/prompts/{id}/render", handleRenderPrompt(deps))
	r.Post("/prompts/{id}/usage", handleLogUsage(deps))
	r.Get("/prompts/{id}/usage", handleListUsage(deps))
	r.Get("/tags", handleListTags(deps))
	r.Get("/export", handleExport(deps))
	r.Post("/import", handleImport(deps))

	return r
}

// requestLogger tags each request with a uuid and logs method, path, and
// duration at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.New().String()
		w.Header().Set("X-Request-ID", reqID)
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("request",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func handleListPrompts(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sort := r.URL.Query().Get("sort")
		switch sort {
		case "", storage.SortUpdated, storage.SortScore, storage.SortCreated:
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown sort %q", sort)
			return
		}

		prompts, err := deps.Store.ListPrompts(storage.ListOptions{
			Search: r.URL.Query().Get("search"),
			Tag:    r.URL.Query().Get("tag"),
			Sort:   sort,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing prompts: %v", err)
			return
		}
		if prompts == nil {
			prompts = []storage.Prompt{}
		}
		writeJSON(w, prompts)
	}
}

func handleUpsertPrompt(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req UpsertRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		title := strings.TrimSpace(req.Title)
		if title == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title must not be empty")
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content must not be empty")
			return
		}

		var (
			prompt storage.Prompt
			err    error
		)
		if req.ID != nil {
			note := ""
			if req.ChangeNote != nil {
				note = *req.ChangeNote
			}
			prompt, err = deps.Store.UpdatePrompt(*req.ID, title, req.Content, req.Tags, req.IsFavorite, note)
		} else {
			prompt, err = deps.Store.CreatePrompt(title, req.Content, req.Tags, req.IsFavorite)
		}
		if req.ID != nil && errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "prompt %d does not exist", *req.ID)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving prompt: %v", err)
			return
		}
		writeJSON(w, prompt)
	}
}

func handleGetPrompt(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := promptID(w, r)
		if !ok {
			return
		}
		prompt, err := deps.Store.GetPrompt(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "prompt %d does not exist", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading prompt: %v", err)
			return
		}
		writeJSON(w, prompt)
	}
}

func handleDeletePrompt(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := promptID(w, r)
		if !ok {
			return
		}
		err := deps.Store.DeletePrompt(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "prompt %d does not exist", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "deleting prompt: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListVersions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := promptID(w, r)
		if !ok {
			return
		}
		versions, err := deps.Store.ListVersions(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing versions: %v", err)
			return
		}
		if versions == nil {
			versions = []storage.PromptVersion{}
		}
		writeJSON(w, versions)
	}
}

func handleListVariables(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := promptID(w, r)
		if !ok {
			return
		}
		prompt, err := deps.Store.GetPrompt(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "prompt %d does not exist", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading prompt: %v", err)
			return
		}
		vars := template.ExtractVariables(prompt.Content)
		if vars == nil {
			vars = []string{}
		}
		writeJSON(w, map[string][]string{"variables": vars})
	}
}

func handleRenderPrompt(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := promptID(w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req RenderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if !validRating(w, req.Rating) {
			return
		}

		prompt, err := deps.Store.GetPrompt(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "prompt %d does not exist", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading prompt: %v", err)
			return
		}

		output := template.Render(prompt.Content, req.Variables)
		missing := template.MissingVariables(prompt.Content, req.Variables)
		if missing == nil {
			missing = []string{}
		}

		if _, err := deps.Store.LogUsage(id, req.Variables, output, req.Rating); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "prompt %d does not exist", id)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "logging usage: %v", err)
			return
		}
		writeJSON(w, RenderResponse{Output: output, Missing: missing})
	}
}

func handleLogUsage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := promptID(w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req UsageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if !validRating(w, req.Rating) {
			return
		}

		_, err := deps.Store.LogUsage(id, req.InputVars, req.OutputText, req.Rating)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "prompt %d does not exist", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "logging usage: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListUsage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := promptID(w, r)
		if !ok {
			return
		}
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit %q", raw)
				return
			}
			limit = n
		}

		entries, err := deps.Store.ListUsage(id, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing usage: %v", err)
			return
		}
		if entries == nil {
			entries = []storage.UsageLogEntry{}
		}
		writeJSON(w, entries)
	}
}

func handleListTags(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tagCounts, err := deps.Store.ListTags()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing tags: %v", err)
			return
		}
		writeJSON(w, tagCounts)
	}
}

func handleExport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := codec.Export(deps.Store)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "exporting prompts: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

func handleImport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
		data, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading request body: %v", err)
			return
		}
		imported, err := codec.Import(deps.Store, data)
		if errors.Is(err, codec.ErrMalformed) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "importing prompts: %v", err)
			return
		}
		writeJSON(w, map[string]int64{"imported": imported})
	}
}

func promptID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid prompt id %q", raw)
		return 0, false
	}
	return id, true
}

func validRating(w http.ResponseWriter, rating *int64) bool {
	if rating != nil && (*rating < 1 || *rating > 5) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "rating must be between 1 and 5")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
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
