package metadata

import (
	"context"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// MappingCache caches column mappings per data source. Entries live
// until explicitly invalidated; loads on miss collapse concurrent
// callers into one catalogue read.
type MappingCache struct {
	mu       sync.RWMutex
	store    Store
	mappings map[int64]*ColumnMapping
	group    singleflight.Group
}

// NewMappingCache creates a column mapping cache over a store
func NewMappingCache(store Store) *MappingCache {
	return &MappingCache{
		store:    store,
		mappings: make(map[int64]*ColumnMapping),
	}
}

// Get returns the mapping for a data source, loading it on first use
func (c *MappingCache) Get(ctx context.Context, dataSourceID int64) (*ColumnMapping, error) {
	c.mu.RLock()
	if m, ok := c.mappings[dataSourceID]; ok {
		c.mu.RUnlock()
		return m, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.group.Do(strconv.FormatInt(dataSourceID, 10), func() (any, error) {
		c.mu.RLock()
		if m, ok := c.mappings[dataSourceID]; ok {
			c.mu.RUnlock()
			return m, nil
		}
		c.mu.RUnlock()

		m, err := c.store.LoadColumnMapping(ctx, dataSourceID)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.mappings[dataSourceID] = m
		c.mu.Unlock()

		log.Debug().Int64("data_source_id", dataSourceID).Msg("Column mapping loaded")
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*ColumnMapping), nil
}

// Invalidate drops one cached mapping
func (c *MappingCache) Invalidate(dataSourceID int64) {
	c.mu.Lock()
	delete(c.mappings, dataSourceID)
	c.mu.Unlock()
}

// InvalidateAll drops every cached mapping
func (c *MappingCache) InvalidateAll() {
	c.mu.Lock()
	c.mappings = make(map[int64]*ColumnMapping)
	c.mu.Unlock()
}

// Len returns the number of cached mappings
func (c *MappingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.mappings)
}
