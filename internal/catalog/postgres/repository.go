package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/LeonAdeoye/query-service/internal/catalog"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping catalog db: %w", err)
	}
	return nil
}

// SaveQuery upserts by id. An empty id registers a new query under a fresh
// UUID; a known id updates the statement in place.
func (r *Repository) SaveQuery(ctx context.Context, in catalog.SaveQueryInput) (catalog.SavedQuery, error) {
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	schema := in.ParametersSchema
	if len(schema) == 0 {
		schema = []byte("{}")
	}

	query := `
INSERT INTO saved_query (query_id, name, sql_text, datasource_id, parameters_schema, created_by)
VALUES ($1, $2, $3, $4, $5::jsonb, $6)
ON CONFLICT (query_id)
DO UPDATE SET
    name = EXCLUDED.name,
    sql_text = EXCLUDED.sql_text,
    datasource_id = EXCLUDED.datasource_id,
    parameters_schema = EXCLUDED.parameters_schema,
    updated_at = NOW()
RETURNING created_at, updated_at`

	saved := catalog.SavedQuery{
		ID:               id,
		Name:             in.Name,
		SQL:              in.SQL,
		DatasourceID:     in.DatasourceID,
		ParametersSchema: schema,
		CreatedBy:        in.CreatedBy,
	}
	if err := r.db.QueryRowContext(ctx, query, id, in.Name, in.SQL, in.DatasourceID, string(schema), in.CreatedBy).
		Scan(&saved.CreatedAt, &saved.UpdatedAt); err != nil {
		return catalog.SavedQuery{}, fmt.Errorf("save query: %w", err)
	}
	return saved, nil
}

func (r *Repository) GetQueryByID(ctx context.Context, id string) (catalog.SavedQuery, error) {
	query := `
SELECT query_id, name, sql_text, datasource_id, parameters_schema, created_by, created_at, updated_at
FROM saved_query
WHERE query_id = $1`

	var saved catalog.SavedQuery
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&saved.ID,
		&saved.Name,
		&saved.SQL,
		&saved.DatasourceID,
		&saved.ParametersSchema,
		&saved.CreatedBy,
		&saved.CreatedAt,
		&saved.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.SavedQuery{}, catalog.ErrNotFound
		}
		return catalog.SavedQuery{}, fmt.Errorf("get query by id: %w", err)
	}
	return saved, nil
}

func (r *Repository) ListQueries(ctx context.Context) ([]catalog.SavedQuery, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT query_id, name, sql_text, datasource_id, parameters_schema, created_by, created_at, updated_at
FROM saved_query
ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list queries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	queries := make([]catalog.SavedQuery, 0)
	for rows.Next() {
		var saved catalog.SavedQuery
		if err := rows.Scan(
			&saved.ID,
			&saved.Name,
			&saved.SQL,
			&saved.DatasourceID,
			&saved.ParametersSchema,
			&saved.CreatedBy,
			&saved.CreatedAt,
			&saved.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan query row: %w", err)
		}
		queries = append(queries, saved)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query rows: %w", err)
	}
	return queries, nil
}

func (r *Repository) DeleteQuery(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM saved_query
WHERE query_id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete query: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete query rows affected: %w", err)
	}
	return rows > 0, nil
}
