// Package catalog defines the saved-query store: named, parameterized SQL
// statements registered once and executed by id.
package catalog

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("catalog: query not found")

type Repository interface {
	HealthCheck(ctx context.Context) error
	SaveQuery(ctx context.Context, in SaveQueryInput) (SavedQuery, error)
	GetQueryByID(ctx context.Context, id string) (SavedQuery, error)
	ListQueries(ctx context.Context) ([]SavedQuery, error)
	DeleteQuery(ctx context.Context, id string) (bool, error)
}

// SavedQuery is one registered statement. ParametersSchema is an optional
// JSON document describing expected parameter names and types; the service
// validates supplied parameters against it at execution time.
type SavedQuery struct {
	ID               string
	Name             string
	SQL              string
	DatasourceID     string
	ParametersSchema []byte
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type SaveQueryInput struct {
	ID               string
	Name             string
	SQL              string
	DatasourceID     string
	ParametersSchema []byte
	CreatedBy        string
}
