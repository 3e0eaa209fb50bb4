package metadata

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/insano70/bcos-sub018/internal/authz"
)

// DiscoveredTable is one table found in the analytics database during a
// discovery scan.
type DiscoveredTable struct {
	Schema  string           `json:"schema"`
	Table   string           `json:"table"`
	Columns []ColumnMetadata `json:"columns"`
}

// Scanner reads table structure from the analytics database. Discovery
// only ever reads; catalogue writes go through the Store.
type Scanner interface {
	ScanTables(ctx context.Context, schema string) ([]DiscoveredTable, error)
}

// PgScanner reads information_schema over the analytics pool
type PgScanner struct {
	pool *pgxpool.Pool
}

// NewPgScanner creates a scanner over the analytics pool
func NewPgScanner(pool *pgxpool.Pool) *PgScanner {
	return &PgScanner{pool: pool}
}

// ScanTables implements Scanner
func (s *PgScanner) ScanTables(ctx context.Context, schema string) ([]DiscoveredTable, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT table_name, column_name, data_type, is_nullable = 'YES'
		 FROM information_schema.columns
		 WHERE table_schema = $1
		 ORDER BY table_name, ordinal_position`, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to scan schema %s: %w", schema, err)
	}
	defer rows.Close()

	var tables []DiscoveredTable
	var current *DiscoveredTable
	for rows.Next() {
		var tableName string
		var col ColumnMetadata
		if err := rows.Scan(&tableName, &col.Name, &col.DataType, &col.IsNullable); err != nil {
			return nil, fmt.Errorf("failed to scan discovery row: %w", err)
		}
		if current == nil || current.Table != tableName {
			tables = append(tables, DiscoveredTable{Schema: schema, Table: tableName})
			current = &tables[len(tables)-1]
		}
		current.Columns = append(current.Columns, col)
	}
	return tables, rows.Err()
}

// DiscoveryReport summarizes one discovery run
type DiscoveryReport struct {
	Schema  string   `json:"schema"`
	Scanned int      `json:"scanned"`
	Added   []string `json:"added,omitempty"`
	Skipped []string `json:"skipped,omitempty"`
}

// Discovery registers analytics tables into the catalogue. New entries
// start inactive, so a discovery run never widens the allow-list on its
// own; activation is a separate curated metadata edit.
type Discovery struct {
	scanner   Scanner
	store     Store
	evaluator *authz.Evaluator
}

// NewDiscovery creates a discovery service
func NewDiscovery(scanner Scanner, store Store, evaluator *authz.Evaluator) *Discovery {
	return &Discovery{scanner: scanner, store: store, evaluator: evaluator}
}

// Run scans one analytics schema and registers unseen tables. Requires
// the discovery permission, which only ships with all scope.
func (d *Discovery) Run(ctx context.Context, caller *authz.CallerContext, schema string) (*DiscoveryReport, error) {
	if err := d.evaluator.RequirePermission(caller, authz.PermDiscoveryRunAll); err != nil {
		return nil, err
	}

	discovered, err := d.scanner.ScanTables(ctx, schema)
	if err != nil {
		return nil, err
	}

	known, err := d.store.ListTables(ctx, TableFilter{Schema: schema})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(known))
	for _, t := range known {
		seen[t.Table] = true
	}

	report := &DiscoveryReport{Schema: schema, Scanned: len(discovered)}
	for _, t := range discovered {
		if seen[t.Table] {
			report.Skipped = append(report.Skipped, t.Table)
			continue
		}

		tableID, err := d.store.InsertTable(ctx, TableMetadata{Schema: t.Schema, Table: t.Table})
		if err != nil {
			return nil, err
		}
		if err := d.store.InsertColumns(ctx, tableID, t.Columns); err != nil {
			return nil, err
		}
		report.Added = append(report.Added, t.Table)
	}

	log.Info().
		Str("user_id", caller.UserID).
		Str("schema", schema).
		Int("scanned", report.Scanned).
		Int("added", len(report.Added)).
		Msg("Schema discovery completed")

	return report, nil
}
