package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/habubridge/habubridge/internal/integration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListPartners(t *testing.T) {
	reg, _ := newTestRegistry(t, integration.NewMockClient(0))

	res := reg.Invoke(context.Background(), NameListPartners, nil)
	require.False(t, res.IsError())
	assert.EqualValues(t, 4, res["count"])
	assert.Contains(t, res.Summary(), "Meta")

	partners, ok := res["partners"].([]interface{})
	require.True(t, ok)
	first := partners[0].(map[string]interface{})
	assert.Equal(t, "Meta", first["name"])

	res = reg.Invoke(context.Background(), NameListPartners, Args{"cleanroom_id": "cr-ctv-measurement-002"})
	assert.EqualValues(t, 2, res["count"])
}

func TestListTemplates(t *testing.T) {
	reg, _ := newTestRegistry(t, integration.NewMockClient(0))
	ctx := context.Background()

	res := reg.Invoke(ctx, NameListTemplates, nil)
	require.False(t, res.IsError())
	assert.EqualValues(t, 4, res["count"])
	assert.Equal(t, []interface{}{"Audience Activation", "Audience Insights", "Campaign Measurement"}, res["categories"])
	assert.NotContains(t, res, "by_category")

	enhanced := reg.Invoke(ctx, NameEnhancedTemplate, nil)
	require.False(t, enhanced.IsError())
	assert.False(t, enhanced.Cached(), "enhanced templates use their own key")

	required := enhanced["required_parameters"].(map[string]interface{})
	assert.Equal(t, []interface{}{"start_date", "end_date"}, required["tmpl-audience-overlap"])
	assert.Equal(t, []interface{}{}, required["tmpl-segment-builder"])
}

func TestQueryLifecycle(t *testing.T) {
	now := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	mock := integration.NewMockClient(10 * time.Minute).WithClock(func() time.Time { return now })
	reg := NewDefaultRegistry(mock, nil, nil)
	ctx := context.Background()

	submitted := reg.Invoke(ctx, NameSubmitQuery, Args{
		"template_id": "tmpl-audience-overlap",
		"parameters":  `{"start_date":"2025-01-01","end_date":"2025-01-31"}`,
	})
	require.False(t, submitted.IsError(), submitted.Summary())
	id := submitted.String("query_id")

	status := reg.Invoke(ctx, NameCheckStatus, Args{"query_id": id})
	assert.Equal(t, integration.QueryStatusQueued, status["query_status"])
	assert.Equal(t, []interface{}{"check_status"}, status["next_actions"])

	results := reg.Invoke(ctx, NameGetResults, Args{"query_id": id})
	assert.True(t, results.IsError(), "results of a queued query are a conflict")
	assert.EqualValues(t, 409, results["status_code"])

	now = now.Add(5 * time.Minute)
	status = reg.Invoke(ctx, NameCheckStatus, Args{"query_id": id})
	assert.Equal(t, integration.QueryStatusRunning, status["query_status"])
	assert.EqualValues(t, 50, status["progress_percent"])

	now = now.Add(10 * time.Minute)
	status = reg.Invoke(ctx, NameCheckStatus, Args{"query_id": id})
	assert.Equal(t, integration.QueryStatusCompleted, status["query_status"])

	results = reg.Invoke(ctx, NameGetResults, Args{"query_id": id})
	require.False(t, results.IsError(), results.Summary())
	assert.EqualValues(t, 5, results["record_count"])
	assert.NotEmpty(t, results["business_summary"])
	assert.Len(t, results["results"], 5)
}

func TestGetResultsFormats(t *testing.T) {
	reg, _ := newTestRegistry(t, integration.NewMockClient(0))
	ctx := context.Background()

	csvRes := reg.Invoke(ctx, NameGetResults, Args{"query_id": "query_1001", "format_type": "CSV"})
	require.False(t, csvRes.IsError(), csvRes.Summary())
	text := csvRes.String("results")
	lines := strings.Split(strings.TrimSpace(text), "\n")
	assert.Equal(t, "segment,overlap_count,match_rate", lines[0])
	assert.Len(t, lines, 6)

	summary := reg.Invoke(ctx, NameGetResults, Args{"query_id": "query_1001", "format_type": "summary"})
	assert.Len(t, summary["results"], 3)
	assert.False(t, summary.Cached(), "format is part of the key")

	missing := reg.Invoke(ctx, NameGetResults, Args{"query_id": "query_missing"})
	assert.True(t, missing.IsError())
	assert.EqualValues(t, 404, missing["status_code"])
}

func TestListExports(t *testing.T) {
	reg, _ := newTestRegistry(t, integration.NewMockClient(0))
	ctx := context.Background()

	res := reg.Invoke(ctx, NameListExports, nil)
	require.False(t, res.IsError())
	assert.EqualValues(t, 4, res["total"])
	assert.Len(t, res["ready_exports"], 2)
	assert.Len(t, res["processing_exports"], 1)
	assert.Len(t, res["failed_exports"], 1)

	ready := reg.Invoke(ctx, NameListExports, Args{"status_filter": "ready"})
	assert.False(t, ready.Cached())
	assert.EqualValues(t, 2, ready["total"])
	assert.Empty(t, ready["failed_exports"])
}

func TestListCleanrooms(t *testing.T) {
	reg, _ := newTestRegistry(t, integration.NewMockClient(0))

	res := reg.Invoke(context.Background(), NameListCleanrooms, nil)
	require.False(t, res.IsError())
	assert.EqualValues(t, 2, res["count"])
	assert.Contains(t, res.Summary(), "Retail Media Collaboration")
}

func TestArgs(t *testing.T) {
	args := Args{
		"s":     "  padded ",
		"f":     12.0,
		"i":     7,
		"b":     true,
		"obj":   map[string]interface{}{"k": "v"},
		"jsobj": `{"k":"v"}`,
		"bad":   `[1]`,
		"num":   3,
	}

	assert.Equal(t, "padded", args.String("s"))
	assert.Equal(t, "12", args.String("f"))
	assert.Equal(t, "7", args.String("i"))
	assert.Equal(t, "true", args.String("b"))
	assert.Equal(t, "", args.String("missing"))

	m, err := args.Map("obj")
	require.NoError(t, err)
	assert.Equal(t, "v", m["k"])

	m, err = args.Map("jsobj")
	require.NoError(t, err)
	assert.Equal(t, "v", m["k"])

	m, err = args.Map("missing")
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = args.Map("bad")
	assert.Error(t, err)
	_, err = args.Map("num")
	assert.Error(t, err)
}
