// Package query holds the domain types shared by the execution engine,
// the scheduler, the cache and the HTTP layer.
package query

import (
	"fmt"
	"strings"
	"time"
)

// Priority orders queued queries. Lower ordinal dispatches first within
// the shared admission bound.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

var priorities = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

// Priorities returns all priority tiers in dispatch order.
func Priorities() []Priority {
	out := make([]Priority, len(priorities))
	copy(out, priorities)
	return out
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	default:
		return fmt.Sprintf("PRIORITY(%d)", int(p))
	}
}

func ParsePriority(raw string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "HIGH":
		return PriorityHigh, nil
	case "NORMAL", "":
		return PriorityNormal, nil
	case "LOW":
		return PriorityLow, nil
	default:
		return PriorityNormal, fmt.Errorf("invalid priority %q", raw)
	}
}

type ExportFormat string

const (
	FormatCSV     ExportFormat = "csv"
	FormatJSON    ExportFormat = "json"
	FormatExcel   ExportFormat = "excel"
	FormatParquet ExportFormat = "parquet"
)

func ParseExportFormat(raw string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "csv", "":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "excel", "xlsx":
		return FormatExcel, nil
	case "parquet":
		return FormatParquet, nil
	default:
		return FormatCSV, fmt.Errorf("invalid export format %q", raw)
	}
}

// Row is one result record keyed by column label.
type Row map[string]any

// Request describes one statement to run against one datasource. Values are
// never mutated after creation; ingress-level priority overrides produce a
// new instance.
type Request struct {
	SQL          string
	DatasourceID string
	Parameters   map[string]any
	CacheEnabled bool
	CacheTTL     time.Duration
	Priority     Priority
	BigData      bool
	ExportFormat ExportFormat
}

// WithPriority returns a copy of the request carrying the given priority.
func (r Request) WithPriority(p Priority) Request {
	r.Priority = p
	return r
}

// Result is a fully materialized result set. Immutable once produced and
// safe to cache or hand to multiple readers.
type Result struct {
	Rows     []Row
	RowCount int
}
