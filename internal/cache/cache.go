// Package cache is a content-addressed, TTL-bounded store of materialized
// result sets. It is strictly best-effort: no cache failure is ever allowed
// to fail a query.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/LeonAdeoye/query-service/internal/errcode"
	"github.com/LeonAdeoye/query-service/internal/query"
)

// Fingerprint derives the deterministic cache key for one request. The key
// is a SHA-256 over the canonical JSON of (sql, datasourceId, parameters);
// encoding/json writes map keys in sorted order, so equal inputs always
// produce equal keys.
func Fingerprint(sqlText, datasourceID string, parameters map[string]any) (string, error) {
	if parameters == nil {
		parameters = map[string]any{}
	}
	payload, err := json.Marshal(struct {
		SQL          string         `json:"sql"`
		DatasourceID string         `json:"datasourceId"`
		Parameters   map[string]any `json:"parameters"`
	}{sqlText, datasourceID, parameters})
	if err != nil {
		return "", errcode.Wrap(errcode.CacheError, err, "serialize cache key")
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

type entry struct {
	key       string
	rows      []query.Row
	expiresAt time.Time
}

// Cache is a size-bounded store with LRU eviction and per-entry TTL expiry.
type Cache struct {
	mu         sync.Mutex
	elements   map[string]*list.Element
	order      *list.List
	maxSize    int
	defaultTTL time.Duration
	logger     *slog.Logger
	clock      func() time.Time
}

func New(maxSize int, defaultTTL time.Duration, logger *slog.Logger) *Cache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &Cache{
		elements:   map[string]*list.Element{},
		order:      list.New(),
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		logger:     logger,
		clock:      time.Now,
	}
}

// Get returns the cached rows for the request, or false on miss or expiry.
// Failures are logged and reported as a miss.
func (c *Cache) Get(sqlText, datasourceID string, parameters map[string]any) ([]query.Row, bool) {
	key, err := Fingerprint(sqlText, datasourceID, parameters)
	if err != nil {
		c.logError("cache get", err)
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.elements[key]
	if !ok {
		return nil, false
	}
	item := element.Value.(*entry)
	if c.clock().After(item.expiresAt) {
		c.removeLocked(element)
		return nil, false
	}
	c.order.MoveToFront(element)
	return item.rows, true
}

// Put stores rows under the request's fingerprint. A zero ttl means the
// configured default. Failures are swallowed and logged.
func (c *Cache) Put(sqlText, datasourceID string, parameters map[string]any, rows []query.Row, ttl time.Duration) {
	key, err := Fingerprint(sqlText, datasourceID, parameters)
	if err != nil {
		c.logError("cache put", err)
		return
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.elements[key]; ok {
		item := element.Value.(*entry)
		item.rows = rows
		item.expiresAt = c.clock().Add(ttl)
		c.order.MoveToFront(element)
		return
	}

	element := c.order.PushFront(&entry{key: key, rows: rows, expiresAt: c.clock().Add(ttl)})
	c.elements[key] = element

	for len(c.elements) > c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
	}
}

// Evict drops the entry for the request, if present.
func (c *Cache) Evict(sqlText, datasourceID string, parameters map[string]any) {
	key, err := Fingerprint(sqlText, datasourceID, parameters)
	if err != nil {
		c.logError("cache evict", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if element, ok := c.elements[key]; ok {
		c.removeLocked(element)
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.elements)
}

func (c *Cache) removeLocked(element *list.Element) {
	item := element.Value.(*entry)
	c.order.Remove(element)
	delete(c.elements, item.key)
}

func (c *Cache) logError(op string, err error) {
	if c.logger != nil {
		c.logger.Error(op+" failed", slog.String("code", string(errcode.CacheError)), slog.Any("error", err))
	}
}
