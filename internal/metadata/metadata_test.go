package metadata

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insano70/bcos-sub018/internal/allowlist"
	"github.com/insano70/bcos-sub018/internal/authz"
)

// fakeStore is an in-memory Store for service tests
type fakeStore struct {
	tables   []TableMetadata
	columns  map[int64][]ColumnMetadata
	mappings map[int64]*ColumnMapping
	loads    atomic.Int64

	tableUpdates  map[int64]TableUpdate
	columnUpdates map[int64]ColumnUpdate
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		columns:       make(map[int64][]ColumnMetadata),
		mappings:      make(map[int64]*ColumnMapping),
		tableUpdates:  make(map[int64]TableUpdate),
		columnUpdates: make(map[int64]ColumnUpdate),
	}
}

func (f *fakeStore) ListTables(ctx context.Context, filter TableFilter) ([]TableMetadata, error) {
	out := make([]TableMetadata, len(f.tables))
	copy(out, f.tables)
	return out, nil
}

func (f *fakeStore) GetColumns(ctx context.Context, tableID int64) ([]ColumnMetadata, error) {
	return f.columns[tableID], nil
}

func (f *fakeStore) UpdateTable(ctx context.Context, tableID int64, update TableUpdate) error {
	f.tableUpdates[tableID] = update
	return nil
}

func (f *fakeStore) UpdateColumn(ctx context.Context, columnID int64, update ColumnUpdate) error {
	f.columnUpdates[columnID] = update
	return nil
}

func (f *fakeStore) InsertTable(ctx context.Context, table TableMetadata) (int64, error) {
	id := int64(len(f.tables) + 1)
	table.ID = id
	f.tables = append(f.tables, table)
	return id, nil
}

func (f *fakeStore) InsertColumns(ctx context.Context, tableID int64, columns []ColumnMetadata) error {
	f.columns[tableID] = append(f.columns[tableID], columns...)
	return nil
}

func (f *fakeStore) LoadColumnMapping(ctx context.Context, dataSourceID int64) (*ColumnMapping, error) {
	f.loads.Add(1)
	m, ok := f.mappings[dataSourceID]
	if !ok {
		return nil, ErrNotFound
	}
	return m, nil
}

// fixedSource backs an allow-list cache with a static row set
type fixedSource struct {
	rows []allowlist.TableRow
}

func (s fixedSource) LoadActiveTables(ctx context.Context) ([]allowlist.TableRow, error) {
	return s.rows, nil
}

func testCaller(perms ...authz.Permission) *authz.CallerContext {
	return &authz.CallerContext{
		UserID:                "user-1",
		OrganizationID:        "org-1",
		Permissions:           perms,
		AccessiblePracticeIDs: []int64{42},
	}
}

func newTestService(store Store, rows ...allowlist.TableRow) *Service {
	cache := allowlist.NewCache(fixedSource{rows: rows}, time.Minute)
	return NewService(store, authz.NewEvaluator(), cache)
}

func TestListTables_IntersectsAllowList(t *testing.T) {
	store := newFakeStore()
	store.tables = []TableMetadata{
		{ID: 1, Schema: "ih", Table: "patients", IsActive: true},
		{ID: 2, Schema: "ih", Table: "appointments", IsActive: true},
		{ID: 3, Schema: "staging", Table: "raw_loads", IsActive: true},
	}

	svc := newTestService(store,
		allowlist.TableRow{Schema: "ih", Table: "patients"},
		allowlist.TableRow{Schema: "ih", Table: "appointments"},
	)

	tables, err := svc.ListTables(context.Background(), testCaller(authz.PermMetadataReadOrg), TableFilter{})
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "ih.patients", tables[0].Qualified())
	assert.Equal(t, "ih.appointments", tables[1].Qualified())
}

func TestListTables_RequiresReadPermission(t *testing.T) {
	svc := newTestService(newFakeStore())

	_, err := svc.ListTables(context.Background(), testCaller(), TableFilter{})
	var permErr *authz.PermissionError
	require.ErrorAs(t, err, &permErr)
	assert.Equal(t, authz.PermMetadataReadOrg, permErr.Required)
}

func TestGetColumns_RequiresReadPermission(t *testing.T) {
	store := newFakeStore()
	store.columns[1] = []ColumnMetadata{{ID: 10, TableID: 1, Name: "id", DataType: "bigint"}}
	svc := newTestService(store)

	_, err := svc.GetColumns(context.Background(), testCaller(), 1)
	assert.Error(t, err)

	cols, err := svc.GetColumns(context.Background(), testCaller(authz.PermMetadataReadOrg), 1)
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, "id", cols[0].Name)
}

func TestUpdateTable_RequiresWritePermission(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	name := "Patients"
	err := svc.UpdateTable(context.Background(), testCaller(authz.PermMetadataReadOrg), 1, TableUpdate{DisplayName: &name})
	assert.Error(t, err)
	assert.Empty(t, store.tableUpdates)

	err = svc.UpdateTable(context.Background(), testCaller(authz.PermMetadataWriteOrg), 1, TableUpdate{DisplayName: &name})
	require.NoError(t, err)
	assert.Len(t, store.tableUpdates, 1)
}

func TestUpdateColumn(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	desc := "Patient surname"
	err := svc.UpdateColumn(context.Background(), testCaller(authz.PermMetadataWriteOrg), 7, ColumnUpdate{Description: &desc})
	require.NoError(t, err)
	require.Contains(t, store.columnUpdates, int64(7))
	assert.Equal(t, &desc, store.columnUpdates[7].Description)
}

func TestMappingCache_LoadsOnceAndInvalidates(t *testing.T) {
	store := newFakeStore()
	store.mappings[5] = &ColumnMapping{DataSourceID: 5, DateField: "service_date", MeasureField: "amount", PracticeField: "practice_uid"}

	cache := NewMappingCache(store)

	m, err := cache.Get(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "service_date", m.DateField)

	// Second read is served from cache
	_, err = cache.Get(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), store.loads.Load())
	assert.Equal(t, 1, cache.Len())

	cache.Invalidate(5)
	_, err = cache.Get(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), store.loads.Load())
}

func TestMappingCache_MissIsNotCached(t *testing.T) {
	store := newFakeStore()
	cache := NewMappingCache(store)

	_, err := cache.Get(context.Background(), 99)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 0, cache.Len())
}

// fakeScanner serves a static analytics schema for discovery tests
type fakeScanner struct {
	tables []DiscoveredTable
	err    error
}

func (f *fakeScanner) ScanTables(ctx context.Context, schema string) ([]DiscoveredTable, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tables, nil
}

func TestDiscovery_RequiresRunPermission(t *testing.T) {
	d := NewDiscovery(&fakeScanner{}, newFakeStore(), authz.NewEvaluator())

	_, err := d.Run(context.Background(), testCaller(authz.PermMetadataWriteOrg), "ih")
	var permErr *authz.PermissionError
	require.ErrorAs(t, err, &permErr)
	assert.Equal(t, authz.PermDiscoveryRunAll, permErr.Required)
}

func TestDiscovery_RegistersNewTablesInactive(t *testing.T) {
	store := newFakeStore()
	store.tables = []TableMetadata{{ID: 1, Schema: "ih", Table: "patients", IsActive: true}}

	scanner := &fakeScanner{tables: []DiscoveredTable{
		{Schema: "ih", Table: "patients", Columns: []ColumnMetadata{{Name: "id", DataType: "bigint"}}},
		{Schema: "ih", Table: "labs", Columns: []ColumnMetadata{{Name: "id", DataType: "bigint"}, {Name: "result", DataType: "text"}}},
	}}

	d := NewDiscovery(scanner, store, authz.NewEvaluator())
	report, err := d.Run(context.Background(), testCaller(authz.PermDiscoveryRunAll), "ih")
	require.NoError(t, err)

	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, []string{"labs"}, report.Added)
	assert.Equal(t, []string{"patients"}, report.Skipped)

	// The new table is catalogued but stays outside the allow-list
	require.Len(t, store.tables, 2)
	assert.False(t, store.tables[1].IsActive)
	assert.Len(t, store.columns[store.tables[1].ID], 2)
}

func TestCompleteness(t *testing.T) {
	t.Run("fully documented", func(t *testing.T) {
		table := TableMetadata{DisplayName: "Patients", Description: "Patient registry"}
		columns := []ColumnMetadata{
			{Name: "id", Description: "Primary key", SemanticTag: "identifier"},
		}
		assert.InDelta(t, 100.0, Completeness(table, columns), 0.01)
	})

	t.Run("empty", func(t *testing.T) {
		assert.InDelta(t, 0.0, Completeness(TableMetadata{}, nil), 0.01)
	})

	t.Run("partial", func(t *testing.T) {
		table := TableMetadata{DisplayName: "Patients"}
		columns := []ColumnMetadata{
			{Name: "id", Description: "Primary key"},
			{Name: "name"},
		}
		// 2 of 6 documentation slots filled
		assert.InDelta(t, 33.33, Completeness(table, columns), 0.1)
	})
}
