package allowlist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// ErrUnavailable is returned when the catalogue cannot be read and no
// previously cached snapshot exists. No table is ever implicitly allowed.
var ErrUnavailable = errors.New("table allow-list unavailable")

// TableRow is one active catalogue entry
type TableRow struct {
	Schema string
	Table  string
}

// Source provides the catalogue rows the allow-list is built from
type Source interface {
	// LoadActiveTables returns the tables currently marked is_active
	LoadActiveTables(ctx context.Context) ([]TableRow, error)
}

// Snapshot is an immutable view of the allow-list. Both schema-qualified
// and bare table keys are stored so unqualified references some
// generators emit still resolve. Keys are lower-cased with quotes
// stripped.
type Snapshot struct {
	keys     map[string]struct{}
	tables   []TableRow
	loadedAt time.Time
}

// Contains reports whether a table reference is allow-listed.
// Schema may be empty for unqualified references.
func (s *Snapshot) Contains(schema, table string) bool {
	if s == nil {
		return false
	}
	_, ok := s.keys[NormalizeKey(schema, table)]
	return ok
}

// Tables returns the catalogue rows backing this snapshot
func (s *Snapshot) Tables() []TableRow {
	return s.tables
}

// Len returns the number of distinct allow-listed tables
func (s *Snapshot) Len() int {
	return len(s.tables)
}

// Age returns how long ago the snapshot was loaded
func (s *Snapshot) Age() time.Duration {
	return time.Since(s.loadedAt)
}

// NormalizeKey canonicalizes an identifier pair for membership checks:
// lower-cased, surrounding double quotes stripped, joined with a dot
// when a schema is present.
func NormalizeKey(schema, table string) string {
	table = normalizeIdent(table)
	if schema == "" {
		return table
	}
	return normalizeIdent(schema) + "." + table
}

func normalizeIdent(ident string) string {
	ident = strings.TrimSpace(ident)
	ident = strings.Trim(ident, `"`)
	return strings.ToLower(ident)
}

// Cache maintains the allow-list as an atomically swapped snapshot with
// TTL-based reload. Concurrent reloads collapse to a single catalogue
// read; readers never block on the reload path.
type Cache struct {
	source  Source
	ttl     time.Duration
	current atomic.Pointer[Snapshot]
	stale   atomic.Bool
	group   singleflight.Group
}

// NewCache creates an allow-list cache with the given TTL
func NewCache(source Source, ttl time.Duration) *Cache {
	c := &Cache{
		source: source,
		ttl:    ttl,
	}
	c.stale.Store(true) // Start stale to force initial load
	return c
}

// Get returns the current snapshot, reloading from the catalogue when
// the TTL has elapsed or the cache was invalidated. On reload failure
// the prior snapshot is retained until it is replaced; a cold cache
// fails with ErrUnavailable.
func (c *Cache) Get(ctx context.Context) (*Snapshot, error) {
	snap := c.current.Load()
	if snap != nil && !c.stale.Load() && snap.Age() < c.ttl {
		return snap, nil
	}

	result, err, _ := c.group.Do("reload", func() (any, error) {
		// Re-check under the flight: another caller may have finished
		// the reload while we queued.
		if s := c.current.Load(); s != nil && !c.stale.Load() && s.Age() < c.ttl {
			return s, nil
		}
		return c.reload(ctx)
	})
	if err != nil {
		// Fail open to the stale snapshot, fail closed when cold
		if prior := c.current.Load(); prior != nil {
			log.Warn().Err(err).
				Dur("age", prior.Age()).
				Msg("Allow-list reload failed, serving stale snapshot")
			return prior, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return result.(*Snapshot), nil
}

// reload performs one catalogue read and swaps the snapshot in
func (c *Cache) reload(ctx context.Context) (*Snapshot, error) {
	rows, err := c.source.LoadActiveTables(ctx)
	if err != nil {
		return nil, err
	}

	keys := make(map[string]struct{}, len(rows)*2)
	for _, row := range rows {
		keys[NormalizeKey(row.Schema, row.Table)] = struct{}{}
		// Bare form tolerates unqualified references
		keys[NormalizeKey("", row.Table)] = struct{}{}
	}

	snap := &Snapshot{
		keys:     keys,
		tables:   rows,
		loadedAt: time.Now(),
	}
	c.current.Store(snap)
	c.stale.Store(false)

	log.Debug().Int("tables", len(rows)).Msg("Allow-list refreshed")

	return snap, nil
}

// IsTableAllowed is a convenience membership check over Get
func (c *Cache) IsTableAllowed(ctx context.Context, schema, table string) (bool, error) {
	snap, err := c.Get(ctx)
	if err != nil {
		return false, err
	}
	return snap.Contains(schema, table), nil
}

// Invalidate forces a reload on the next access
func (c *Cache) Invalidate() {
	c.stale.Store(true)
	log.Debug().Msg("Allow-list invalidated")
}
