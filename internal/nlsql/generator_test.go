package nlsql

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insano70/bcos-sub018/internal/authz"
	"github.com/insano70/bcos-sub018/internal/config"
	"github.com/insano70/bcos-sub018/internal/metadata"
)

// fakeProvider returns canned completions
type fakeProvider struct {
	response *ChatResponse
	err      error
	lastReq  *ChatRequest
}

func (f *fakeProvider) Name() string          { return "fake" }
func (f *fakeProvider) Type() ProviderType    { return ProviderType("fake") }
func (f *fakeProvider) ValidateConfig() error { return nil }
func (f *fakeProvider) Close() error          { return nil }

func (f *fakeProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

// fakeSchema serves a static catalogue
type fakeSchema struct {
	tables  []metadata.TableMetadata
	columns map[int64][]metadata.ColumnMetadata
	err     error
}

func (f *fakeSchema) ListTables(ctx context.Context, caller *authz.CallerContext, filter metadata.TableFilter) ([]metadata.TableMetadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tables, nil
}

func (f *fakeSchema) GetColumns(ctx context.Context, caller *authz.CallerContext, tableID int64) ([]metadata.ColumnMetadata, error) {
	return f.columns[tableID], nil
}

func genCaller() *authz.CallerContext {
	return &authz.CallerContext{
		UserID:                "user-1",
		Permissions:           []authz.Permission{authz.PermQueryOrganization, authz.PermMetadataReadOrg},
		AccessiblePracticeIDs: []int64{42},
	}
}

func defaultSchema() *fakeSchema {
	return &fakeSchema{
		tables: []metadata.TableMetadata{
			{ID: 1, Schema: "ih", Table: "patients", Description: "Patient registry"},
		},
		columns: map[int64][]metadata.ColumnMetadata{
			1: {
				{Name: "id", DataType: "bigint", Description: "Primary key"},
				{Name: "status", DataType: "text"},
			},
		},
	}
}

func newTestGenerator(provider Provider, schema SchemaSource) *Generator {
	return NewGenerator(provider, schema, config.LLMConfig{RequestsPerMin: 60}, 50, nil)
}

func TestGenerate_Success(t *testing.T) {
	provider := &fakeProvider{
		response: &ChatResponse{
			Model:   "gpt-4-turbo",
			Content: "Counting all patients:\n```sql\nSELECT count(*) FROM ih.patients\n```",
			Usage:   &UsageStats{PromptTokens: 120, CompletionTokens: 18, TotalTokens: 138},
		},
	}
	g := newTestGenerator(provider, defaultSchema())

	gen, err := g.Generate(context.Background(), genCaller(), "How many patients?")
	require.NoError(t, err)
	assert.Equal(t, "SELECT count(*) FROM ih.patients", gen.SQL)
	assert.Equal(t, ComplexitySimple, gen.Complexity)
	assert.Equal(t, []string{"ih.patients"}, gen.TablesUsed)
	assert.Equal(t, "gpt-4-turbo", gen.ModelUsed)
	assert.Equal(t, 120, gen.PromptTokens)
	assert.Equal(t, 18, gen.CompletionTokens)
	assert.Equal(t, "Counting all patients:", gen.Explanation)
}

func TestGenerate_PromptCarriesSchemaAndConstraints(t *testing.T) {
	provider := &fakeProvider{
		response: &ChatResponse{Content: "```sql\nSELECT 1\n```"},
	}
	g := newTestGenerator(provider, defaultSchema())

	_, err := g.Generate(context.Background(), genCaller(), "anything")
	require.NoError(t, err)
	require.NotNil(t, provider.lastReq)
	require.Len(t, provider.lastReq.Messages, 2)

	system := provider.lastReq.Messages[0].Content
	assert.Contains(t, system, "single SELECT statement")
	assert.Contains(t, system, "ih.patients")
	assert.Contains(t, system, "Patient registry")
	assert.Contains(t, system, "status text")

	assert.Equal(t, RoleUser, provider.lastReq.Messages[1].Role)
	assert.Equal(t, "anything", provider.lastReq.Messages[1].Content)
}

func TestGenerate_NoSQLFound(t *testing.T) {
	provider := &fakeProvider{
		response: &ChatResponse{Content: "I cannot answer that."},
	}
	g := newTestGenerator(provider, defaultSchema())

	_, err := g.Generate(context.Background(), genCaller(), "question")
	var genErr *GenError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, ReasonNoSQLFound, genErr.Reason)
}

func TestGenerate_ProviderError(t *testing.T) {
	provider := &fakeProvider{err: errors.New("upstream 500")}
	g := newTestGenerator(provider, defaultSchema())

	_, err := g.Generate(context.Background(), genCaller(), "question")
	var genErr *GenError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, ReasonProviderError, genErr.Reason)
}

func TestGenerate_ProviderTimeout(t *testing.T) {
	provider := &fakeProvider{err: context.DeadlineExceeded}
	g := newTestGenerator(provider, defaultSchema())

	_, err := g.Generate(context.Background(), genCaller(), "question")
	var genErr *GenError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, ReasonTimeout, genErr.Reason)
}

func TestGenerate_RateLimited(t *testing.T) {
	provider := &fakeProvider{
		response: &ChatResponse{Content: "```sql\nSELECT 1\n```"},
	}
	g := NewGenerator(provider, defaultSchema(), config.LLMConfig{RequestsPerMin: 1}, 50, nil)

	_, err := g.Generate(context.Background(), genCaller(), "first")
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), genCaller(), "second")
	var genErr *GenError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, ReasonRateLimited, genErr.Reason)
}

func TestGenerate_NoVisibleTables(t *testing.T) {
	provider := &fakeProvider{
		response: &ChatResponse{Content: "```sql\nSELECT 1\n```"},
	}
	g := newTestGenerator(provider, &fakeSchema{})

	_, err := g.Generate(context.Background(), genCaller(), "question")
	var genErr *GenError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, ReasonNoMetadata, genErr.Reason)
}

func TestGenerate_MetadataLimitCapsPrompt(t *testing.T) {
	schema := &fakeSchema{columns: map[int64][]metadata.ColumnMetadata{}}
	for i := int64(1); i <= 10; i++ {
		schema.tables = append(schema.tables, metadata.TableMetadata{
			ID: i, Schema: "ih", Table: strings.Repeat("t", int(i)),
		})
	}

	provider := &fakeProvider{
		response: &ChatResponse{Content: "```sql\nSELECT 1\n```"},
	}
	g := NewGenerator(provider, schema, config.LLMConfig{RequestsPerMin: 60}, 3, nil)

	_, err := g.Generate(context.Background(), genCaller(), "question")
	require.NoError(t, err)

	system := provider.lastReq.Messages[0].Content
	assert.Contains(t, system, "ih.t\n")
	assert.Contains(t, system, "ih.ttt")
	assert.NotContains(t, system, "ih.tttt")
}
