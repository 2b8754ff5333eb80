package api

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LeonAdeoye/query-service/internal/catalog"
)

// memCatalog is an in-memory catalog.Repository for handler tests.
type memCatalog struct {
	mu      sync.Mutex
	queries map[string]catalog.SavedQuery
}

func newMemCatalog() *memCatalog {
	return &memCatalog{queries: make(map[string]catalog.SavedQuery)}
}

func (c *memCatalog) HealthCheck(context.Context) error { return nil }

func (c *memCatalog) SaveQuery(_ context.Context, in catalog.SaveQueryInput) (catalog.SavedQuery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	q := catalog.SavedQuery{
		ID:               id,
		Name:             in.Name,
		SQL:              in.SQL,
		DatasourceID:     in.DatasourceID,
		ParametersSchema: in.ParametersSchema,
		CreatedBy:        in.CreatedBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if existing, ok := c.queries[id]; ok {
		q.CreatedAt = existing.CreatedAt
	}
	c.queries[id] = q
	return q, nil
}

func (c *memCatalog) GetQueryByID(_ context.Context, id string) (catalog.SavedQuery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queries[id]
	if !ok {
		return catalog.SavedQuery{}, catalog.ErrNotFound
	}
	return q, nil
}

func (c *memCatalog) ListQueries(context.Context) ([]catalog.SavedQuery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]catalog.SavedQuery, 0, len(c.queries))
	for _, q := range c.queries {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *memCatalog) DeleteQuery(_ context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.queries[id]; !ok {
		return false, nil
	}
	delete(c.queries, id)
	return true, nil
}
