package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/habubridge/habubridge/internal/cache"
	"github.com/habubridge/habubridge/internal/integration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	c := cache.New(cache.NewMemoryStore(0), zap.NewNop())
	t.Cleanup(func() { c.Close() })
	return c
}

func newTestRegistry(t *testing.T, client integration.Client) (*Registry, *cache.Cache) {
	t.Helper()
	c := newTestCache(t)
	return NewDefaultRegistry(client, c, zap.NewNop()), c
}

// failingClient returns err from every list call
type failingClient struct {
	*integration.MockClient
	err error
}

func (f *failingClient) ListPartners(ctx context.Context, cleanroomID string) ([]integration.Partner, error) {
	return nil, f.err
}

func (f *failingClient) GetQuery(ctx context.Context, queryID string) (*integration.Query, error) {
	return nil, f.err
}

// panicTool always panics
type panicTool struct{}

func (panicTool) Name() string                        { return "boom" }
func (panicTool) Description() string                 { return "panics" }
func (panicTool) InputSchema() map[string]interface{} { return objectSchema(nil, nil) }
func (panicTool) Execute(ctx context.Context, args Args) (Result, error) {
	panic("kaboom")
}

func assertContract(t *testing.T, res Result) {
	t.Helper()
	require.NotNil(t, res)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(res.JSON()), &decoded), "result must be JSON")
	assert.Contains(t, []interface{}{StatusSuccess, StatusError}, decoded["status"])
	_, ok := decoded["summary"].(string)
	assert.True(t, ok, "summary must be a string: %v", decoded)
}

// TestToolContract tests that every tool returns status and summary for
// valid and invalid input
func TestToolContract(t *testing.T) {
	reg, _ := newTestRegistry(t, integration.NewMockClient(0))
	ctx := context.Background()

	inputs := []Args{
		nil,
		{},
		{"query_id": "query_123"},
		{"query_id": ""},
		{"query_id": 42.0},
		{"template_id": "tmpl-audience-overlap", "parameters": map[string]interface{}{"start_date": "2025-01-01"}},
		{"template_id": "tmpl-audience-overlap", "parameters": "{not json"},
		{"template_id": "does-not-exist"},
		{"format_type": "xml", "query_id": "query_1"},
		{"status_filter": "bogus"},
		{"prefix": "partners:"},
		{"cleanroom_id": []int{1, 2}},
	}

	for _, tool := range reg.List() {
		for _, args := range inputs {
			res := reg.Invoke(ctx, tool.Name(), args)
			assertContract(t, res)
		}
	}
}

// TestInvalidInputs tests the short-circuit error results
func TestInvalidInputs(t *testing.T) {
	mock := integration.NewMockClient(0)
	reg, _ := newTestRegistry(t, mock)
	ctx := context.Background()

	tests := []struct {
		tool string
		args Args
	}{
		{NameSubmitQuery, Args{}},
		{NameSubmitQuery, Args{"template_id": "tmpl-attribution", "parameters": "[1,2]"}},
		{NameCheckStatus, Args{}},
		{NameGetResults, Args{}},
		{NameGetResults, Args{"query_id": "q", "format_type": "xml"}},
		{NameListExports, Args{"status_filter": "archived"}},
		{NameCacheInvalidate, Args{}},
	}

	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			res := reg.Invoke(ctx, tt.tool, tt.args)
			assert.True(t, res.IsError())
			assert.Equal(t, CodeInvalidInput, res["error_code"])
		})
	}
	assert.Zero(t, mock.Calls(), "invalid input must not reach the client")
}

// TestReadToolIdempotence tests that a cache hit returns the same payload
func TestReadToolIdempotence(t *testing.T) {
	mock := integration.NewMockClient(0)
	reg, _ := newTestRegistry(t, mock)
	ctx := context.Background()

	for _, tc := range []struct{ tool, field string }{
		{NameListPartners, "partners"},
		{NameListTemplates, "templates"},
	} {
		t.Run(tc.tool, func(t *testing.T) {
			first := reg.Invoke(ctx, tc.tool, nil)
			second := reg.Invoke(ctx, tc.tool, nil)

			assert.False(t, first.Cached())
			assert.True(t, second.Cached())
			assert.NotEmpty(t, second["cached_at"])

			a, err := json.Marshal(first[tc.field])
			require.NoError(t, err)
			b, err := json.Marshal(second[tc.field])
			require.NoError(t, err)
			assert.Equal(t, string(a), string(b))
		})
	}
}

// TestCheckStatusCached tests that a second status check makes no remote call
func TestCheckStatusCached(t *testing.T) {
	mock := integration.NewMockClient(0)
	reg, _ := newTestRegistry(t, mock)
	ctx := context.Background()

	first := reg.Invoke(ctx, NameCheckStatus, Args{"query_id": "query_123"})
	require.False(t, first.IsError(), first.Summary())
	callsAfterFirst := mock.Calls()

	second := reg.Invoke(ctx, NameCheckStatus, Args{"query_id": "query_123"})
	assert.True(t, second.Cached())
	assert.Equal(t, callsAfterFirst, mock.Calls())
	assert.Equal(t, first["query_status"], second["query_status"])
}

// TestSubmitInvalidatesStatus tests that submitting drops status and export entries
func TestSubmitInvalidatesStatus(t *testing.T) {
	mock := integration.NewMockClient(time.Minute)
	reg, c := newTestRegistry(t, mock)
	ctx := context.Background()

	reg.Invoke(ctx, NameCheckStatus, Args{"query_id": "query_123"})
	reg.Invoke(ctx, NameListExports, nil)
	reg.Invoke(ctx, NameListPartners, nil)

	res := reg.Invoke(ctx, NameSubmitQuery, Args{"template_id": "tmpl-audience-overlap"})
	require.False(t, res.IsError(), res.Summary())
	assert.True(t, strings.HasPrefix(res.String("query_id"), "query_"))
	assert.Equal(t, integration.QueryStatusQueued, res["query_status"])
	assert.False(t, res.Cached())

	stats := c.Stats(ctx)
	assert.Zero(t, stats.KeyCountsByCategory["status"])
	assert.Zero(t, stats.KeyCountsByCategory["exports"])
	assert.Equal(t, 1, stats.KeyCountsByCategory["partners"])
}

// TestFailureShape tests conversion of client errors
func TestFailureShape(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"api", integration.NewAPIError(http.StatusUnauthorized, "token expired"), integration.CodeHTTPStatus},
		{"network", integration.NewNetworkError(integration.CodeTimeout, "timed out", nil), integration.CodeTimeout},
		{"circuit", integration.NewNetworkError(integration.CodeCircuitOpen, "open", nil), integration.CodeCircuitOpen},
		{"config", integration.NewConfigurationError("HABU_CLIENT_ID is not set"), integration.CodeMissingCredentials},
		{"plain", assert.AnError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &failingClient{MockClient: integration.NewMockClient(0), err: tt.err}
			reg, c := newTestRegistry(t, client)

			res := reg.Invoke(context.Background(), NameListPartners, nil)
			assertContract(t, res)
			assert.True(t, res.IsError())
			assert.Equal(t, tt.code, res["error_code"])
			assert.NotEmpty(t, res["error"])
			assert.Zero(t, c.Stats(context.Background()).Writes, "errors are never cached")
		})
	}

	t.Run("status code", func(t *testing.T) {
		client := &failingClient{MockClient: integration.NewMockClient(0), err: integration.NewAPIError(http.StatusNotFound, "no such query")}
		reg, _ := newTestRegistry(t, client)
		res := reg.Invoke(context.Background(), NameCheckStatus, Args{"query_id": "q1"})
		assert.EqualValues(t, http.StatusNotFound, res["status_code"])
		assert.Contains(t, res.Summary(), "HTTP 404")
	})
}

// TestPanicRecovered tests that a panicking tool yields an error result
func TestPanicRecovered(t *testing.T) {
	reg := NewRegistry(nil, zap.NewNop())
	require.NoError(t, reg.Register(panicTool{}))
	require.Error(t, reg.Register(panicTool{}))

	res := reg.Invoke(context.Background(), "boom", nil)
	assertContract(t, res)
	assert.Equal(t, CodeInternal, res["error_code"])
}

// TestUnknownTool tests dispatch to a missing tool
func TestUnknownTool(t *testing.T) {
	reg := NewRegistry(nil, nil)
	res := reg.Invoke(context.Background(), "nope", nil)
	assertContract(t, res)
	assert.Equal(t, CodeUnknownTool, res["error_code"])
}

// TestNoCache tests that a registry without a cache still works
func TestNoCache(t *testing.T) {
	mock := integration.NewMockClient(0)
	reg := NewDefaultRegistry(mock, nil, nil)

	_, ok := reg.Get(NameCacheInvalidate)
	assert.False(t, ok)

	reg.Invoke(context.Background(), NameListPartners, nil)
	res := reg.Invoke(context.Background(), NameListPartners, nil)
	assert.False(t, res.Cached())
	assert.EqualValues(t, 2, mock.Calls())
}

// TestCacheInvalidateTool tests the operator tool
func TestCacheInvalidateTool(t *testing.T) {
	reg, _ := newTestRegistry(t, integration.NewMockClient(0))
	ctx := context.Background()

	reg.Invoke(ctx, NameListPartners, nil)
	reg.Invoke(ctx, NameListPartners, Args{"cleanroom_id": "cr-retail-media-001"})
	reg.Invoke(ctx, NameListTemplates, nil)

	res := reg.Invoke(ctx, NameCacheInvalidate, Args{"prefix": "partners:"})
	require.False(t, res.IsError())
	assert.EqualValues(t, 2, res["removed"])

	res = reg.Invoke(ctx, NameCacheInvalidate, Args{"prefix": "*"})
	assert.EqualValues(t, 1, res["removed"])
}
