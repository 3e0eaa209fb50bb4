package metadata

import "time"

// TableMetadata is one curated catalogue entry describing an analytics
// table the explorer can surface.
type TableMetadata struct {
	ID           int64     `json:"id"`
	Schema       string    `json:"schema"`
	Table        string    `json:"table"`
	DisplayName  string    `json:"display_name,omitempty"`
	Description  string    `json:"description,omitempty"`
	SemanticTags []string  `json:"semantic_tags,omitempty"`
	IsActive     bool      `json:"is_active"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Qualified returns the schema.table form
func (t TableMetadata) Qualified() string {
	if t.Schema == "" {
		return t.Table
	}
	return t.Schema + "." + t.Table
}

// ColumnMetadata is one curated column description
type ColumnMetadata struct {
	ID          int64  `json:"id"`
	TableID     int64  `json:"table_id"`
	Name        string `json:"name"`
	DataType    string `json:"data_type"`
	Description string `json:"description,omitempty"`
	SemanticTag string `json:"semantic_tag,omitempty"`
	IsNullable  bool   `json:"is_nullable"`
}

// ColumnMapping names the well-known fields of one chart data source.
// The practice field drives the same tenant scoping the SQL pipeline
// enforces.
type ColumnMapping struct {
	DataSourceID     int64  `json:"data_source_id"`
	DateField        string `json:"date_field"`
	MeasureField     string `json:"measure_field"`
	MeasureTypeField string `json:"measure_type_field"`
	TimePeriodField  string `json:"time_period_field"`
	PracticeField    string `json:"practice_field,omitempty"`
	ProviderField    string `json:"provider_field,omitempty"`
}

// TableFilter narrows ListTables results
type TableFilter struct {
	Schema     string
	NameSearch string
	ActiveOnly bool
	Limit      int
}

// TableUpdate carries the editable documentation fields of a table.
// Nil fields are left unchanged.
type TableUpdate struct {
	DisplayName  *string
	Description  *string
	SemanticTags []string
	IsActive     *bool
}

// ColumnUpdate carries the editable documentation fields of a column
type ColumnUpdate struct {
	Description *string
	SemanticTag *string
}
