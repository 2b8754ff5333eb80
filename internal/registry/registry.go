// Package registry maps datasource ids to their SQL vendor dialect.
// Loaded once at startup; safe for unsynchronized concurrent reads.
package registry

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/LeonAdeoye/query-service/internal/config"
	"github.com/LeonAdeoye/query-service/internal/errcode"
)

// Vendor identifies the SQL dialect of a datasource. It decides the driver
// used to open the pool and the positional placeholder style the parameter
// resolver emits.
type Vendor string

const (
	VendorPostgres Vendor = "postgres"
	VendorMySQL    Vendor = "mysql"
	VendorSQLite   Vendor = "sqlite"
	VendorDuckDB   Vendor = "duckdb"
)

func ParseVendor(raw string) (Vendor, error) {
	switch Vendor(strings.ToLower(strings.TrimSpace(raw))) {
	case VendorPostgres:
		return VendorPostgres, nil
	case VendorMySQL:
		return VendorMySQL, nil
	case VendorSQLite:
		return VendorSQLite, nil
	case VendorDuckDB:
		return VendorDuckDB, nil
	default:
		return "", fmt.Errorf("unsupported vendor %q", raw)
	}
}

// DriverName returns the database/sql driver registered for this vendor.
func (v Vendor) DriverName() string {
	switch v {
	case VendorPostgres:
		return "pgx"
	case VendorMySQL:
		return "mysql"
	case VendorSQLite:
		return "sqlite"
	case VendorDuckDB:
		return "duckdb"
	default:
		return string(v)
	}
}

// Placeholder renders the positional placeholder for the 1-based ordinal.
// Postgres binds with $n; the other supported vendors use ?.
func (v Vendor) Placeholder(ordinal int) string {
	if v == VendorPostgres {
		return "$" + strconv.Itoa(ordinal)
	}
	return "?"
}

// Descriptor is an immutable datasource entry.
type Descriptor struct {
	ID     string
	Vendor Vendor
}

type Registry struct {
	entries map[string]Descriptor
	ids     []string
}

func New(datasources []config.DatasourceConfig) (*Registry, error) {
	entries := make(map[string]Descriptor, len(datasources))
	ids := make([]string, 0, len(datasources))
	for _, ds := range datasources {
		if strings.TrimSpace(ds.ID) == "" {
			return nil, fmt.Errorf("datasource id is required")
		}
		if _, exists := entries[ds.ID]; exists {
			return nil, fmt.Errorf("duplicate datasource id %q", ds.ID)
		}
		vendor, err := ParseVendor(ds.Vendor)
		if err != nil {
			return nil, fmt.Errorf("datasource %q: %w", ds.ID, err)
		}
		entries[ds.ID] = Descriptor{ID: ds.ID, Vendor: vendor}
		ids = append(ids, ds.ID)
	}
	sort.Strings(ids)
	return &Registry{entries: entries, ids: ids}, nil
}

// Resolve returns the descriptor for id, or a DatasourceNotFound error
// listing the valid ids for operator diagnosis.
func (r *Registry) Resolve(id string) (Descriptor, error) {
	desc, ok := r.entries[id]
	if !ok {
		return Descriptor{}, errcode.New(errcode.DatasourceNotFound,
			"unknown datasource id: %s. Valid ids: %s", id, strings.Join(r.ids, ", "))
	}
	return desc, nil
}

func (r *Registry) IsValid(id string) bool {
	_, ok := r.entries[id]
	return ok
}

func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}
