package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/LeonAdeoye/query-service/internal/catalog"
	"github.com/LeonAdeoye/query-service/internal/exec"
	"github.com/LeonAdeoye/query-service/internal/query"
	"github.com/LeonAdeoye/query-service/internal/track"
)

// priorityHeader lets callers bump a single request without changing the
// body they send.
const priorityHeader = "X-Query-Priority"

type executeRequest struct {
	SQL             string         `json:"sql"`
	DatasourceID    string         `json:"datasourceId"`
	Parameters      map[string]any `json:"parameters"`
	CacheEnabled    bool           `json:"cacheEnabled"`
	CacheTTLSeconds int            `json:"cacheTtlSeconds"`
	Priority        string         `json:"priority"`
	BigData         bool           `json:"bigData"`
	ExportFormat    string         `json:"exportFormat"`
}

func (in executeRequest) toQueryRequest(r *http.Request) (query.Request, error) {
	priority := in.Priority
	if header := strings.TrimSpace(r.Header.Get(priorityHeader)); header != "" {
		priority = header
	}
	parsed, err := query.ParsePriority(priority)
	if err != nil {
		return query.Request{}, err
	}

	req := query.Request{
		SQL:          in.SQL,
		DatasourceID: in.DatasourceID,
		Parameters:   in.Parameters,
		CacheEnabled: in.CacheEnabled,
		Priority:     parsed,
		BigData:      in.BigData,
	}
	if in.CacheTTLSeconds > 0 {
		req.CacheTTL = time.Duration(in.CacheTTLSeconds) * time.Second
	}
	if in.ExportFormat != "" {
		format, err := query.ParseExportFormat(in.ExportFormat)
		if err != nil {
			return query.Request{}, err
		}
		req.ExportFormat = format
	}
	return req, nil
}

func handleExecute(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var in executeRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_QUERY_REQUEST", "invalid request body: "+err.Error(), false)
		return
	}
	req, err := in.toQueryRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_QUERY_REQUEST", err.Error(), false)
		return
	}

	ctx := track.NewContext(r.Context(), track.FromRequest(r))
	resp, err := deps.Service.ExecuteQuery(ctx, req)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func handleExecuteSaved(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var in executeRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_QUERY_REQUEST", "invalid request body: "+err.Error(), false)
		return
	}
	req, err := in.toQueryRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_QUERY_REQUEST", err.Error(), false)
		return
	}

	ctx := track.NewContext(r.Context(), track.FromRequest(r))
	resp, err := deps.Service.ExecuteSavedQuery(ctx, id, req)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStream streams an ad-hoc query's rows as server-sent events.
func handleStream(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var in executeRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_QUERY_REQUEST", "invalid request body: "+err.Error(), false)
		return
	}
	req, err := in.toQueryRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_QUERY_REQUEST", err.Error(), false)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(r.Context(), w, http.StatusInternalServerError, "STREAMING_ERROR", "response writer does not support streaming", false)
		return
	}

	ctx := track.NewContext(r.Context(), track.FromRequest(r))
	stream, err := deps.Service.StreamQuery(ctx, req)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	pumpStream(w, flusher, stream)
}

// handleStreamSaved streams a saved query's rows as server-sent events.
// Parameters come from the URL query string; each value is parsed as a JSON
// scalar where possible so numbers and booleans keep their types.
func handleStreamSaved(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(r.Context(), w, http.StatusInternalServerError, "STREAMING_ERROR", "response writer does not support streaming", false)
		return
	}

	ctx := track.NewContext(r.Context(), track.FromRequest(r))
	stream, err := deps.Service.StreamSavedQuery(ctx, r.PathValue("id"), queryStringParameters(r))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	pumpStream(w, flusher, stream)
}

func queryStringParameters(r *http.Request) map[string]any {
	values := r.URL.Query()
	if len(values) == 0 {
		return nil
	}
	parameters := make(map[string]any, len(values))
	for name := range values {
		raw := values.Get(name)
		var parsed any
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			switch parsed.(type) {
			case float64, bool:
				parameters[name] = parsed
				continue
			}
		}
		parameters[name] = raw
	}
	return parameters
}

// pumpStream emits one "row" event per result row, then a "done" event
// carrying the row count. A mid-stream failure is reported as an "error"
// event since the header is already out.
func pumpStream(w http.ResponseWriter, flusher http.Flusher, stream *exec.Stream) {
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	count := 0
	for row := range stream.Rows() {
		payload, err := json.Marshal(row)
		if err != nil {
			writeSSE(w, flusher, "error", fmt.Sprintf(`{"message":%q}`, err.Error()))
			return
		}
		writeSSE(w, flusher, "row", string(payload))
		count++
	}
	if err := stream.Err(); err != nil {
		writeSSE(w, flusher, "error", fmt.Sprintf(`{"message":%q}`, err.Error()))
		return
	}
	writeSSE(w, flusher, "done", fmt.Sprintf(`{"rowCount":%d}`, count))
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

type saveQueryRequest struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	SQL              string          `json:"sql"`
	DatasourceID     string          `json:"datasourceId"`
	ParametersSchema json.RawMessage `json:"parametersSchema"`
}

type savedQueryResponse struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	SQL              string          `json:"sql"`
	DatasourceID     string          `json:"datasourceId"`
	ParametersSchema json.RawMessage `json:"parametersSchema,omitempty"`
	CreatedBy        string          `json:"createdBy,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

func toSavedQueryResponse(saved catalog.SavedQuery) savedQueryResponse {
	return savedQueryResponse{
		ID:               saved.ID,
		Name:             saved.Name,
		SQL:              saved.SQL,
		DatasourceID:     saved.DatasourceID,
		ParametersSchema: json.RawMessage(saved.ParametersSchema),
		CreatedBy:        saved.CreatedBy,
		CreatedAt:        saved.CreatedAt,
		UpdatedAt:        saved.UpdatedAt,
	}
}

func handleSaveQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var in saveQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_QUERY_REQUEST", "invalid request body: "+err.Error(), false)
		return
	}

	meta := track.FromRequest(r)
	saved, err := deps.Service.SaveQuery(r.Context(), catalog.SaveQueryInput{
		ID:               in.ID,
		Name:             in.Name,
		SQL:              in.SQL,
		DatasourceID:     in.DatasourceID,
		ParametersSchema: in.ParametersSchema,
		CreatedBy:        meta.UserID,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSavedQueryResponse(saved))
}

func handleGetQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	saved, err := deps.Service.GetQuery(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSavedQueryResponse(saved))
}

func handleListQueries(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	queries, err := deps.Service.ListQueries(r.Context())
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	out := make([]savedQueryResponse, 0, len(queries))
	for _, saved := range queries {
		out = append(out, toSavedQueryResponse(saved))
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": out})
}

func handleDeleteQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := deps.Service.DeleteQuery(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handlePoolStats(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	stats, err := deps.Service.PoolStats(r.PathValue("datasource"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"datasourceId": r.PathValue("datasource"),
		"active":       stats.Active,
		"idle":         stats.Idle,
		"total":        stats.Total,
		"waiting":      stats.Waiting,
	})
}
