// Package api is the HTTP surface of the query service.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeonAdeoye/query-service/internal/config"
	"github.com/LeonAdeoye/query-service/internal/errcode"
	"github.com/LeonAdeoye/query-service/internal/observability"
	"github.com/LeonAdeoye/query-service/internal/service"
)

type Dependencies struct {
	Logger         *slog.Logger
	Service        *service.Service
	AuthMiddleware func(http.Handler) http.Handler
	ReadyTimeout   time.Duration
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		timeout := deps.ReadyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		components, ready := deps.Service.Health(ctx)
		status := http.StatusOK
		state := "ready"
		if !ready {
			status = http.StatusServiceUnavailable
			state = "degraded"
		}
		writeJSON(w, status, map[string]any{"status": state, "components": components})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/queries/execute", func(w http.ResponseWriter, r *http.Request) {
		handleExecute(deps, w, r)
	})
	protected.HandleFunc("POST /v1/queries/stream", func(w http.ResponseWriter, r *http.Request) {
		handleStream(deps, w, r)
	})
	protected.HandleFunc("POST /v1/queries", func(w http.ResponseWriter, r *http.Request) {
		handleSaveQuery(deps, w, r)
	})
	protected.HandleFunc("GET /v1/queries", func(w http.ResponseWriter, r *http.Request) {
		handleListQueries(deps, w, r)
	})
	protected.HandleFunc("GET /v1/queries/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleGetQuery(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/queries/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteQuery(deps, w, r)
	})
	protected.HandleFunc("GET /v1/queries/{id}/stream", func(w http.ResponseWriter, r *http.Request) {
		handleStreamSaved(deps, w, r)
	})
	protected.HandleFunc("POST /v1/queries/{id}/execute", func(w http.ResponseWriter, r *http.Request) {
		handleExecuteSaved(deps, w, r)
	})
	protected.HandleFunc("GET /v1/pools/{datasource}/stats", func(w http.ResponseWriter, r *http.Request) {
		handlePoolStats(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("POST /v1/queries/execute", protectedHandler)
	mux.Handle("POST /v1/queries/stream", protectedHandler)
	mux.Handle("POST /v1/queries", protectedHandler)
	mux.Handle("GET /v1/queries", protectedHandler)
	mux.Handle("GET /v1/queries/{id}", protectedHandler)
	mux.Handle("DELETE /v1/queries/{id}", protectedHandler)
	mux.Handle("GET /v1/queries/{id}/stream", protectedHandler)
	mux.Handle("POST /v1/queries/{id}/execute", protectedHandler)
	mux.Handle("GET /v1/pools/{datasource}/stats", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

// writeServiceError maps a pipeline error onto its HTTP shape. Client input
// problems are 400s, unknown saved queries are 404s, a saturated queue is
// 503, and anything else is a 500 with the retryable flag set for transient
// failures.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	code := errcode.CodeOf(err)
	status := http.StatusInternalServerError
	retryable := false
	switch code {
	case errcode.InvalidQueryRequest, errcode.InvalidParameters, errcode.ParameterValidation,
		errcode.LikeDoubleWildcard, errcode.DatasourceNotFound:
		status = http.StatusBadRequest
	case errcode.QueryNotFound:
		status = http.StatusNotFound
	case errcode.QueueFull:
		status = http.StatusServiceUnavailable
		retryable = true
	case errcode.QueryExecutionTimeout:
		status = http.StatusGatewayTimeout
		retryable = true
	case errcode.ConnectionPoolExhausted:
		status = http.StatusServiceUnavailable
		retryable = true
	case errcode.DatabaseConnectionFailure, errcode.RetryExhausted:
		retryable = true
	}
	writeError(ctx, w, status, string(code), err.Error(), retryable)
}
