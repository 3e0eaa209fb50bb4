package allowlist

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CatalogueSource loads the allow-list from the metadata catalogue in
// the primary application database. Only rows marked is_active are
// returned; deactivating a row removes the table from the allow-list
// within one TTL.
type CatalogueSource struct {
	pool *pgxpool.Pool
}

// NewCatalogueSource creates a catalogue-backed allow-list source
func NewCatalogueSource(pool *pgxpool.Pool) *CatalogueSource {
	return &CatalogueSource{pool: pool}
}

// LoadActiveTables implements Source
func (s *CatalogueSource) LoadActiveTables(ctx context.Context) ([]TableRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT schema_name, table_name
		 FROM explorer_table_catalogue
		 WHERE is_active = true
		 ORDER BY schema_name, table_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query table catalogue: %w", err)
	}
	defer rows.Close()

	var result []TableRow
	for rows.Next() {
		var row TableRow
		if err := rows.Scan(&row.Schema, &row.Table); err != nil {
			return nil, fmt.Errorf("failed to scan catalogue row: %w", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading catalogue rows: %w", err)
	}

	return result, nil
}
