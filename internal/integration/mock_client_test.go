package integration

import (
	"context"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClientDeterministicIDs(t *testing.T) {
	ctx := context.Background()
	a, err := NewMockClient(time.Minute).SubmitQuery(ctx, &SubmitQueryRequest{TemplateID: "CRQ-00101"})
	require.NoError(t, err)
	b, err := NewMockClient(time.Minute).SubmitQuery(ctx, &SubmitQueryRequest{TemplateID: "CRQ-00101"})
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Regexp(t, regexp.MustCompile(`^query_[0-9a-f]{8}$`), a.ID)
}

func TestMockClientLifecycle(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMockClient(2 * time.Minute).WithClock(func() time.Time { return now })
	ctx := context.Background()

	q, err := m.SubmitQuery(ctx, &SubmitQueryRequest{TemplateID: "tmpl-reach-frequency"})
	require.NoError(t, err)
	assert.Equal(t, QueryStatusQueued, q.Status)

	_, err = m.GetResults(ctx, q.ID)
	assert.Equal(t, http.StatusConflict, StatusCode(err))

	now = now.Add(time.Minute)
	q, err = m.GetQuery(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, QueryStatusRunning, q.Status)
	assert.Equal(t, 50, q.Progress)

	now = now.Add(time.Minute)
	res, err := m.GetResults(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, res.RecordCount)
	assert.NotEmpty(t, res.Summary)
}

func TestMockClientErrors(t *testing.T) {
	m := NewMockClient(0)
	ctx := context.Background()

	_, err := m.SubmitQuery(ctx, &SubmitQueryRequest{TemplateID: "CRQ-99999"})
	assert.Equal(t, http.StatusNotFound, StatusCode(err))

	_, err = m.GetQuery(ctx, "query_missing1")
	assert.Equal(t, http.StatusNotFound, StatusCode(err))

	q, err := m.GetQuery(ctx, "query_1001")
	require.NoError(t, err)
	assert.Equal(t, QueryStatusCompleted, q.Status, "unknown ids are historical")
	assert.EqualValues(t, 3, m.Calls())
}
