// Package service orchestrates the query lifecycle: validation, cache
// probe, admission, execution with retries, caching, and response assembly.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/LeonAdeoye/query-service/internal/cache"
	"github.com/LeonAdeoye/query-service/internal/catalog"
	"github.com/LeonAdeoye/query-service/internal/config"
	"github.com/LeonAdeoye/query-service/internal/errcode"
	"github.com/LeonAdeoye/query-service/internal/exec"
	"github.com/LeonAdeoye/query-service/internal/export"
	"github.com/LeonAdeoye/query-service/internal/observability"
	"github.com/LeonAdeoye/query-service/internal/params"
	"github.com/LeonAdeoye/query-service/internal/pool"
	"github.com/LeonAdeoye/query-service/internal/query"
	"github.com/LeonAdeoye/query-service/internal/queue"
	"github.com/LeonAdeoye/query-service/internal/registry"
	"github.com/LeonAdeoye/query-service/internal/retry"
	"github.com/LeonAdeoye/query-service/internal/track"
)

// Response is the assembled answer for one executed query.
type Response struct {
	QueryID  string            `json:"queryId,omitempty"`
	Rows     []query.Row       `json:"rows"`
	RowCount int               `json:"rowCount"`
	Cached   bool              `json:"cached"`
	Priority string            `json:"priority"`
	Timings  map[string]string `json:"timings,omitempty"`
	Export   *export.Artifact  `json:"export,omitempty"`
}

// Service wires the query pipeline together. All collaborators are set at
// construction; Cache, Queue, Exporter, and Catalog may be nil when the
// corresponding feature is disabled.
type Service struct {
	Logger   *slog.Logger
	Registry *registry.Registry
	Pools    *pool.Manager
	Executor *exec.Executor
	Cache    *cache.Cache
	Queue    *queue.Manager
	Retry    *retry.Service
	Exporter *export.Service
	Catalog  catalog.Repository

	StreamPageSize int
}

func New(cfg config.Config, logger *slog.Logger, reg *registry.Registry, pools *pool.Manager,
	executor *exec.Executor, resultCache *cache.Cache, queueMgr *queue.Manager,
	retrySvc *retry.Service, exporter *export.Service, repo catalog.Repository) *Service {
	if queueMgr != nil {
		queueMgr.SetDepthObserver(func(p query.Priority, depth int) {
			observability.SetQueueDepth(p.String(), depth)
		})
	}
	return &Service{
		Logger:         logger,
		Registry:       reg,
		Pools:          pools,
		Executor:       executor,
		Cache:          resultCache,
		Queue:          queueMgr,
		Retry:          retrySvc,
		Exporter:       exporter,
		Catalog:        repo,
		StreamPageSize: cfg.Export.StreamPageSize,
	}
}

// ExecuteQuery runs one request through the full pipeline and assembles the
// response. Big-data requests bypass cache and queue and produce an export
// artifact instead of inline rows.
func (s *Service) ExecuteQuery(ctx context.Context, req query.Request) (*Response, error) {
	timer := track.NewTimer()

	if err := timer.Measure(track.PhaseValidation, func() error {
		return s.validate(req)
	}); err != nil {
		observability.ObserveQuery(req.DatasourceID, "rejected")
		return nil, err
	}

	if req.BigData {
		return s.executeBigData(ctx, req, timer)
	}

	if s.cacheUsable(req) {
		if rows, ok := s.Cache.Get(req.SQL, req.DatasourceID, req.Parameters); ok {
			observability.ObserveCacheLookup(true)
			observability.ObserveQuery(req.DatasourceID, "cache_hit")
			s.logExecution(ctx, req, len(rows), true, nil)
			return s.assemble(req, &query.Result{Rows: rows, RowCount: len(rows)}, true, timer), nil
		}
		observability.ObserveCacheLookup(false)
	}

	result, err := s.run(ctx, req, timer)
	if err != nil {
		observability.ObserveQuery(req.DatasourceID, "failure")
		s.logExecution(ctx, req, 0, false, err)
		return nil, err
	}

	if s.cacheUsable(req) {
		s.Cache.Put(req.SQL, req.DatasourceID, req.Parameters, result.Rows, req.CacheTTL)
	}
	s.publishPoolStats(req.DatasourceID)
	observability.ObserveQuery(req.DatasourceID, "success")
	observability.ObserveQueryPhase(req.DatasourceID, string(track.PhaseExecution), "success", timer.Elapsed(track.PhaseExecution))
	s.logExecution(ctx, req, result.RowCount, false, nil)
	return s.assemble(req, result, false, timer), nil
}

// run dispatches the request directly or through the priority queue; either
// way execution is wrapped in the retry policy.
func (s *Service) run(ctx context.Context, req query.Request, timer *track.Timer) (*query.Result, error) {
	execute := func(ctx context.Context) (*query.Result, error) {
		var result *query.Result
		err := s.Retry.Do(ctx, "execute "+req.DatasourceID, func(ctx context.Context) error {
			var execErr error
			result, execErr = s.Executor.Execute(ctx, req)
			if execErr != nil && retry.IsRetryable(execErr) {
				observability.IncrementRetryAttempt(req.DatasourceID)
			}
			return execErr
		})
		return result, err
	}

	if s.Queue == nil {
		start := time.Now()
		result, err := execute(ctx)
		timer.Record(track.PhaseExecution, time.Since(start))
		return result, err
	}

	meta, _ := track.FromContext(ctx)
	result, timing, err := s.Queue.Submit(ctx, meta.RequestID, req.Priority, execute)
	if errcode.HasCode(err, errcode.QueueFull) {
		observability.IncrementQueueRejection()
	}
	timer.Record(track.PhaseExecution, timing.Run)
	if timing.Wait > 0 {
		timer.Record(track.PhaseQueueWait, timing.Wait)
	}
	return result, err
}

func (s *Service) executeBigData(ctx context.Context, req query.Request, timer *track.Timer) (*Response, error) {
	if s.Exporter == nil {
		return nil, errcode.New(errcode.FileExportError, "bulk export is not configured")
	}
	format := req.ExportFormat
	if format == "" {
		format = query.FormatCSV
	}
	meta, _ := track.FromContext(ctx)

	stream, err := s.Executor.Stream(ctx, req, s.StreamPageSize)
	if err != nil {
		observability.ObserveQuery(req.DatasourceID, "failure")
		observability.ObserveExport(string(format), 0, err)
		return nil, err
	}

	var artifact *export.Artifact
	err = timer.Measure(track.PhaseExport, func() error {
		var exportErr error
		artifact, exportErr = s.Exporter.Export(ctx, meta.RequestID, format, stream)
		return exportErr
	})
	if err != nil {
		observability.ObserveQuery(req.DatasourceID, "failure")
		observability.ObserveExport(string(format), 0, err)
		return nil, err
	}

	s.publishPoolStats(req.DatasourceID)
	observability.ObserveQuery(req.DatasourceID, "success")
	observability.ObserveExport(string(format), artifact.RowCount, nil)

	resp := s.assemble(req, &query.Result{Rows: []query.Row{}, RowCount: artifact.RowCount}, false, timer)
	resp.Export = artifact
	return resp, nil
}

// StreamQuery validates the request and opens a row stream. The caller owns
// the stream and must close it.
func (s *Service) StreamQuery(ctx context.Context, req query.Request) (*exec.Stream, error) {
	if err := s.validate(req); err != nil {
		observability.ObserveQuery(req.DatasourceID, "rejected")
		return nil, err
	}
	stream, err := s.Executor.Stream(ctx, req, s.StreamPageSize)
	if err != nil {
		observability.ObserveQuery(req.DatasourceID, "failure")
		return nil, err
	}
	return stream, nil
}

func (s *Service) validate(req query.Request) error {
	if strings.TrimSpace(req.SQL) == "" {
		return errcode.New(errcode.InvalidQueryRequest, "sql is required")
	}
	if strings.TrimSpace(req.DatasourceID) == "" {
		return errcode.New(errcode.InvalidQueryRequest, "datasourceId is required")
	}
	if _, err := s.Registry.Resolve(req.DatasourceID); err != nil {
		return err
	}
	if err := params.ValidateParameters(req.Parameters); err != nil {
		return err
	}
	if err := params.ValidateParameterTypes(req.Parameters); err != nil {
		return err
	}
	return params.CheckLikePatterns(req.SQL)
}

func (s *Service) cacheUsable(req query.Request) bool {
	return s.Cache != nil && req.CacheEnabled && !req.BigData
}

func (s *Service) assemble(req query.Request, result *query.Result, cached bool, timer *track.Timer) *Response {
	timings := map[string]string{}
	for phase, d := range timer.Durations() {
		timings[string(phase)] = d.String()
	}
	return &Response{
		Rows:     result.Rows,
		RowCount: result.RowCount,
		Cached:   cached,
		Priority: req.Priority.String(),
		Timings:  timings,
	}
}

func (s *Service) publishPoolStats(datasourceID string) {
	stats, err := s.Pools.Stats(datasourceID)
	if err != nil {
		return
	}
	observability.SetPoolConnections(datasourceID, stats.Active, stats.Idle)
}

func (s *Service) logExecution(ctx context.Context, req query.Request, rows int, cached bool, err error) {
	meta, _ := track.FromContext(ctx)
	attrs := []any{
		slog.String("request_id", meta.RequestID),
		slog.String("datasource", req.DatasourceID),
		slog.String("priority", req.Priority.String()),
		slog.Bool("cached", cached),
		slog.Int("rows", rows),
	}
	if meta.UserID != "" {
		attrs = append(attrs, slog.String("user_id", meta.UserID))
	}
	if err != nil {
		attrs = append(attrs, slog.String("code", string(errcode.CodeOf(err))), slog.Any("error", err))
		s.Logger.ErrorContext(ctx, "query failed", attrs...)
		return
	}
	s.Logger.InfoContext(ctx, "query executed", attrs...)
}

// SaveQuery registers or updates a named query after checking that its
// datasource exists and its SQL passes static validation.
func (s *Service) SaveQuery(ctx context.Context, in catalog.SaveQueryInput) (catalog.SavedQuery, error) {
	if s.Catalog == nil {
		return catalog.SavedQuery{}, errcode.New(errcode.InvalidQueryRequest, "saved queries are not configured")
	}
	if strings.TrimSpace(in.Name) == "" {
		return catalog.SavedQuery{}, errcode.New(errcode.InvalidQueryRequest, "name is required")
	}
	if strings.TrimSpace(in.SQL) == "" {
		return catalog.SavedQuery{}, errcode.New(errcode.InvalidQueryRequest, "sql is required")
	}
	if _, err := s.Registry.Resolve(in.DatasourceID); err != nil {
		return catalog.SavedQuery{}, err
	}
	if err := params.CheckLikePatterns(in.SQL); err != nil {
		return catalog.SavedQuery{}, err
	}
	if len(in.ParametersSchema) > 0 && !json.Valid(in.ParametersSchema) {
		return catalog.SavedQuery{}, errcode.New(errcode.InvalidQueryRequest, "parametersSchema must be valid JSON")
	}
	saved, err := s.Catalog.SaveQuery(ctx, in)
	if err != nil {
		return catalog.SavedQuery{}, fmt.Errorf("save query: %w", err)
	}
	s.Logger.InfoContext(ctx, "query saved",
		slog.String("query_id", saved.ID),
		slog.String("name", saved.Name),
		slog.String("datasource", saved.DatasourceID))
	return saved, nil
}

// GetQuery fetches one saved query by id.
func (s *Service) GetQuery(ctx context.Context, id string) (catalog.SavedQuery, error) {
	if s.Catalog == nil {
		return catalog.SavedQuery{}, errcode.New(errcode.QueryNotFound, "saved queries are not configured")
	}
	saved, err := s.Catalog.GetQueryByID(ctx, id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return catalog.SavedQuery{}, errcode.New(errcode.QueryNotFound, "query not found: %s", id)
		}
		return catalog.SavedQuery{}, fmt.Errorf("get query: %w", err)
	}
	return saved, nil
}

// ListQueries returns all saved queries ordered by name.
func (s *Service) ListQueries(ctx context.Context) ([]catalog.SavedQuery, error) {
	if s.Catalog == nil {
		return nil, errcode.New(errcode.QueryNotFound, "saved queries are not configured")
	}
	return s.Catalog.ListQueries(ctx)
}

// DeleteQuery removes a saved query, reporting QueryNotFound for unknown ids.
func (s *Service) DeleteQuery(ctx context.Context, id string) error {
	if s.Catalog == nil {
		return errcode.New(errcode.QueryNotFound, "saved queries are not configured")
	}
	deleted, err := s.Catalog.DeleteQuery(ctx, id)
	if err != nil {
		return fmt.Errorf("delete query: %w", err)
	}
	if !deleted {
		return errcode.New(errcode.QueryNotFound, "query not found: %s", id)
	}
	return nil
}

// ExecuteSavedQuery looks up the saved statement, checks supplied parameters
// against its schema, and runs it through the standard pipeline.
func (s *Service) ExecuteSavedQuery(ctx context.Context, id string, req query.Request) (*Response, error) {
	saved, err := s.GetQuery(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := validateAgainstSchema(saved.ParametersSchema, req.Parameters); err != nil {
		return nil, err
	}
	run := req
	run.SQL = saved.SQL
	run.DatasourceID = saved.DatasourceID

	resp, err := s.ExecuteQuery(ctx, run)
	if err != nil {
		return nil, err
	}
	resp.QueryID = saved.ID
	return resp, nil
}

// StreamSavedQuery looks up the saved statement, checks supplied parameters
// against its schema, and opens a row stream. The caller owns the stream and
// must close it.
func (s *Service) StreamSavedQuery(ctx context.Context, id string, parameters map[string]any) (*exec.Stream, error) {
	saved, err := s.GetQuery(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := validateAgainstSchema(saved.ParametersSchema, parameters); err != nil {
		return nil, err
	}
	return s.StreamQuery(ctx, query.Request{
		SQL:          saved.SQL,
		DatasourceID: saved.DatasourceID,
		Parameters:   parameters,
	})
}

// validateAgainstSchema checks that every parameter the schema declares is
// supplied, and that no undeclared parameter sneaks in. An empty schema
// accepts anything.
func validateAgainstSchema(schema []byte, parameters map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	declared := map[string]string{}
	if err := json.Unmarshal(schema, &declared); err != nil {
		return errcode.Wrap(errcode.InvalidParameters, err, "parse parameters schema")
	}
	if len(declared) == 0 {
		return nil
	}
	for name := range declared {
		if _, ok := parameters[name]; !ok {
			return errcode.New(errcode.InvalidParameters, "missing required parameter: %s", name)
		}
	}
	for name := range parameters {
		if _, ok := declared[name]; !ok {
			return errcode.New(errcode.InvalidParameters, "parameter not declared by query: %s", name)
		}
	}
	return nil
}

// PoolStats reports pool occupancy for one datasource.
func (s *Service) PoolStats(datasourceID string) (pool.Stats, error) {
	stats, err := s.Pools.Stats(datasourceID)
	if err == nil {
		observability.SetPoolConnections(datasourceID, stats.Active, stats.Idle)
	}
	return stats, err
}

// Health probes every datasource plus the catalog. Returns per-component
// status and overall readiness.
func (s *Service) Health(ctx context.Context) (map[string]bool, bool) {
	components := map[string]bool{}
	ready := true
	for _, id := range s.Registry.IDs() {
		healthy := s.Pools.HealthCheck(ctx, id)
		components["datasource:"+id] = healthy
		ready = ready && healthy
	}
	if s.Catalog != nil {
		healthy := s.Catalog.HealthCheck(ctx) == nil
		components["catalog"] = healthy
		ready = ready && healthy
	}
	return components, ready
}
