package metadata

import (
	"context"
	"fmt"

	"github.com/insano70/bcos-sub018/internal/allowlist"
	"github.com/insano70/bcos-sub018/internal/authz"
	"github.com/rs/zerolog/log"
)

// Service serves curated schema metadata to the NL-to-SQL generator and
// the chart-data layer. Reads are intersected with the allow-list so a
// caller never sees tables the explorer cannot query.
type Service struct {
	store     Store
	evaluator *authz.Evaluator
	allowList *allowlist.Cache
	mappings  *MappingCache
}

// NewService creates a metadata service
func NewService(store Store, evaluator *authz.Evaluator, allowList *allowlist.Cache) *Service {
	return &Service{
		store:     store,
		evaluator: evaluator,
		allowList: allowList,
		mappings:  NewMappingCache(store),
	}
}

// ListTables returns catalogue tables visible to the caller. Requires
// metadata read permission; results are limited to allow-listed tables.
func (s *Service) ListTables(ctx context.Context, caller *authz.CallerContext, filter TableFilter) ([]TableMetadata, error) {
	if err := s.evaluator.RequirePermission(caller, authz.PermMetadataReadOrg); err != nil {
		return nil, err
	}

	tables, err := s.store.ListTables(ctx, filter)
	if err != nil {
		return nil, err
	}

	snap, err := s.allowList.Get(ctx)
	if err != nil {
		return nil, err
	}

	visible := tables[:0]
	for _, t := range tables {
		if snap.Contains(t.Schema, t.Table) {
			visible = append(visible, t)
		}
	}
	return visible, nil
}

// GetColumns returns the curated columns of one catalogue table
func (s *Service) GetColumns(ctx context.Context, caller *authz.CallerContext, tableID int64) ([]ColumnMetadata, error) {
	if err := s.evaluator.RequirePermission(caller, authz.PermMetadataReadOrg); err != nil {
		return nil, err
	}
	return s.store.GetColumns(ctx, tableID)
}

// UpdateTable edits a table's documentation fields. Requires metadata
// write permission. Catalogue edits never touch the analytics database;
// they invalidate the allow-list so activation changes take effect.
func (s *Service) UpdateTable(ctx context.Context, caller *authz.CallerContext, tableID int64, update TableUpdate) error {
	if err := s.evaluator.RequirePermission(caller, authz.PermMetadataWriteOrg); err != nil {
		return err
	}

	if err := s.store.UpdateTable(ctx, tableID, update); err != nil {
		return err
	}

	if update.IsActive != nil {
		s.allowList.Invalidate()
	}

	log.Info().
		Str("user_id", caller.UserID).
		Int64("table_id", tableID).
		Msg("Table metadata updated")

	return nil
}

// UpdateColumn edits a column's documentation fields
func (s *Service) UpdateColumn(ctx context.Context, caller *authz.CallerContext, columnID int64, update ColumnUpdate) error {
	if err := s.evaluator.RequirePermission(caller, authz.PermMetadataWriteOrg); err != nil {
		return err
	}
	return s.store.UpdateColumn(ctx, columnID, update)
}

// ColumnMappingFor resolves the chart field mapping for a data source
// through the indefinitely-lived mapping cache.
func (s *Service) ColumnMappingFor(ctx context.Context, dataSourceID int64) (*ColumnMapping, error) {
	return s.mappings.Get(ctx, dataSourceID)
}

// InvalidateMapping drops a cached mapping after a metadata change
func (s *Service) InvalidateMapping(dataSourceID int64) {
	s.mappings.Invalidate(dataSourceID)
}

// Completeness reports the fraction of documentation fields populated
// for a table and its columns, as a percentage. Curation UIs use it to
// rank what needs describing next.
func Completeness(table TableMetadata, columns []ColumnMetadata) float64 {
	total := 2 // display name + table description
	filled := 0
	if table.DisplayName != "" {
		filled++
	}
	if table.Description != "" {
		filled++
	}

	for _, c := range columns {
		total += 2 // column description + semantic tag
		if c.Description != "" {
			filled++
		}
		if c.SemanticTag != "" {
			filled++
		}
	}

	if total == 0 {
		return 0
	}
	return float64(filled) / float64(total) * 100
}

// String implements fmt.Stringer for logging convenience
func (m *ColumnMapping) String() string {
	return fmt.Sprintf("mapping(ds=%d date=%s measure=%s practice=%s)",
		m.DataSourceID, m.DateField, m.MeasureField, m.PracticeField)
}
