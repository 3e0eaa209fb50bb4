package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a catalogue row does not exist
var ErrNotFound = errors.New("metadata record not found")

// Store is the narrow read/write interface over the metadata catalogue.
// Writes only ever touch the catalogue, never the analytics database.
type Store interface {
	ListTables(ctx context.Context, filter TableFilter) ([]TableMetadata, error)
	GetColumns(ctx context.Context, tableID int64) ([]ColumnMetadata, error)
	UpdateTable(ctx context.Context, tableID int64, update TableUpdate) error
	UpdateColumn(ctx context.Context, columnID int64, update ColumnUpdate) error
	LoadColumnMapping(ctx context.Context, dataSourceID int64) (*ColumnMapping, error)
	InsertTable(ctx context.Context, table TableMetadata) (int64, error)
	InsertColumns(ctx context.Context, tableID int64, columns []ColumnMetadata) error
}

// PgStore is the pgx-backed catalogue store
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a catalogue store over the primary database pool
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// ListTables implements Store
func (s *PgStore) ListTables(ctx context.Context, filter TableFilter) ([]TableMetadata, error) {
	var conditions []string
	var args []any

	if filter.ActiveOnly {
		conditions = append(conditions, "is_active = true")
	}
	if filter.Schema != "" {
		args = append(args, filter.Schema)
		conditions = append(conditions, fmt.Sprintf("schema_name = $%d", len(args)))
	}
	if filter.NameSearch != "" {
		args = append(args, "%"+filter.NameSearch+"%")
		conditions = append(conditions, fmt.Sprintf("(table_name ILIKE $%d OR display_name ILIKE $%d)", len(args), len(args)))
	}

	query := `SELECT id, schema_name, table_name, COALESCE(display_name, ''),
	                 COALESCE(description, ''), COALESCE(semantic_tags, '{}'),
	                 is_active, updated_at
	          FROM explorer_table_catalogue`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY schema_name, table_name"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalogue tables: %w", err)
	}
	defer rows.Close()

	var tables []TableMetadata
	for rows.Next() {
		var t TableMetadata
		if err := rows.Scan(&t.ID, &t.Schema, &t.Table, &t.DisplayName,
			&t.Description, &t.SemanticTags, &t.IsActive, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan catalogue table: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// GetColumns implements Store
func (s *PgStore) GetColumns(ctx context.Context, tableID int64) ([]ColumnMetadata, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, table_id, column_name, data_type,
		        COALESCE(description, ''), COALESCE(semantic_tag, ''), is_nullable
		 FROM explorer_column_catalogue
		 WHERE table_id = $1
		 ORDER BY ordinal_position`, tableID)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalogue columns: %w", err)
	}
	defer rows.Close()

	var columns []ColumnMetadata
	for rows.Next() {
		var c ColumnMetadata
		if err := rows.Scan(&c.ID, &c.TableID, &c.Name, &c.DataType,
			&c.Description, &c.SemanticTag, &c.IsNullable); err != nil {
			return nil, fmt.Errorf("failed to scan catalogue column: %w", err)
		}
		columns = append(columns, c)
	}
	return columns, rows.Err()
}

// UpdateTable implements Store. Nil update fields are preserved.
func (s *PgStore) UpdateTable(ctx context.Context, tableID int64, update TableUpdate) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE explorer_table_catalogue
		 SET display_name = COALESCE($2, display_name),
		     description = COALESCE($3, description),
		     semantic_tags = COALESCE($4, semantic_tags),
		     is_active = COALESCE($5, is_active),
		     updated_at = now()
		 WHERE id = $1`,
		tableID, update.DisplayName, update.Description, update.SemanticTags, update.IsActive)
	if err != nil {
		return fmt.Errorf("failed to update table metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateColumn implements Store
func (s *PgStore) UpdateColumn(ctx context.Context, columnID int64, update ColumnUpdate) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE explorer_column_catalogue
		 SET description = COALESCE($2, description),
		     semantic_tag = COALESCE($3, semantic_tag),
		     updated_at = now()
		 WHERE id = $1`,
		columnID, update.Description, update.SemanticTag)
	if err != nil {
		return fmt.Errorf("failed to update column metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertTable implements Store. Newly registered tables start inactive
// so they never enter the allow-list until explicitly curated.
func (s *PgStore) InsertTable(ctx context.Context, table TableMetadata) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO explorer_table_catalogue (schema_name, table_name, is_active, updated_at)
		 VALUES ($1, $2, false, now())
		 ON CONFLICT (schema_name, table_name) DO UPDATE SET updated_at = now()
		 RETURNING id`,
		table.Schema, table.Table).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert catalogue table: %w", err)
	}
	return id, nil
}

// InsertColumns implements Store
func (s *PgStore) InsertColumns(ctx context.Context, tableID int64, columns []ColumnMetadata) error {
	for i, c := range columns {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO explorer_column_catalogue
			     (table_id, column_name, data_type, is_nullable, ordinal_position, updated_at)
			 VALUES ($1, $2, $3, $4, $5, now())
			 ON CONFLICT (table_id, column_name) DO UPDATE
			 SET data_type = EXCLUDED.data_type,
			     is_nullable = EXCLUDED.is_nullable,
			     ordinal_position = EXCLUDED.ordinal_position,
			     updated_at = now()`,
			tableID, c.Name, c.DataType, c.IsNullable, i+1)
		if err != nil {
			return fmt.Errorf("failed to insert catalogue column %s: %w", c.Name, err)
		}
	}
	return nil
}

// LoadColumnMapping implements Store
func (s *PgStore) LoadColumnMapping(ctx context.Context, dataSourceID int64) (*ColumnMapping, error) {
	var m ColumnMapping
	err := s.pool.QueryRow(ctx,
		`SELECT data_source_id, date_field, measure_field, measure_type_field,
		        time_period_field, COALESCE(practice_field, ''), COALESCE(provider_field, '')
		 FROM explorer_column_mappings
		 WHERE data_source_id = $1`, dataSourceID).
		Scan(&m.DataSourceID, &m.DateField, &m.MeasureField, &m.MeasureTypeField,
			&m.TimePeriodField, &m.PracticeField, &m.ProviderField)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load column mapping: %w", err)
	}
	return &m, nil
}
