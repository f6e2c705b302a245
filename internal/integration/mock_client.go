package integration

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// mockNamespace seeds deterministic query ids
var mockNamespace = uuid.MustParse("6f1c3d52-4c1e-4d8e-9a57-5b1f0f8c2a10")

// MockClient returns deterministic synthetic clean room data. Submitted
// queries advance QUEUED -> RUNNING -> COMPLETED as the clock moves.
type MockClient struct {
	now         func() time.Time
	runDuration time.Duration
	calls       atomic.Int64
	mu          sync.Mutex
	seq         int
	queries     map[string]*Query
}

// NewMockClient creates a mock client whose queries complete after runDuration
func NewMockClient(runDuration time.Duration) *MockClient {
	return &MockClient{
		now:         time.Now,
		runDuration: runDuration,
		queries:     make(map[string]*Query),
	}
}

// WithClock replaces the time source, for tests
func (m *MockClient) WithClock(now func() time.Time) *MockClient {
	m.now = now
	return m
}

// Name identifies the implementation
func (m *MockClient) Name() string {
	return "mock"
}

// Calls returns how many API operations were served
func (m *MockClient) Calls() int64 {
	return m.calls.Load()
}

var mockEpoch = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

var mockCleanrooms = []Cleanroom{
	{ID: "cr-retail-media-001", Name: "Retail Media Collaboration", Status: "ACTIVE"},
	{ID: "cr-ctv-measurement-002", Name: "CTV Measurement", Status: "ACTIVE"},
}

var mockPartners = []Partner{
	{ID: "ptr-001", Name: "Meta", Organization: "Meta Platforms", Role: "Publisher", Status: "ACTIVE", CleanroomID: "cr-retail-media-001"},
	{ID: "ptr-002", Name: "Amazon Ads", Organization: "Amazon", Role: "Publisher", Status: "ACTIVE", CleanroomID: "cr-retail-media-001"},
	{ID: "ptr-003", Name: "The Trade Desk", Organization: "The Trade Desk", Role: "DSP", Status: "ACTIVE", CleanroomID: "cr-ctv-measurement-002"},
	{ID: "ptr-004", Name: "Nielsen", Organization: "Nielsen Holdings", Role: "Measurement", Status: "PENDING", CleanroomID: "cr-ctv-measurement-002"},
}

var mockTemplates = []Template{
	{
		ID: "tmpl-audience-overlap", DisplayID: "CRQ-00101", Name: "Audience Overlap Analysis",
		Category: "Audience Insights", CleanroomID: "cr-retail-media-001",
		Description: "Measures how many customers two partners share, by segment.",
		Parameters: []TemplateParameter{
			{Name: "start_date", Type: "DATE", Required: true},
			{Name: "end_date", Type: "DATE", Required: true},
		},
	},
	{
		ID: "tmpl-reach-frequency", DisplayID: "CRQ-00102", Name: "Reach and Frequency",
		Category: "Campaign Measurement", CleanroomID: "cr-ctv-measurement-002",
		Description: "Unique reach and average frequency of exposure per campaign.",
		Parameters: []TemplateParameter{
			{Name: "campaign_id", Type: "STRING", Required: true},
		},
	},
	{
		ID: "tmpl-attribution", DisplayID: "CRQ-00103", Name: "Multi-Touch Attribution",
		Category: "Campaign Measurement", CleanroomID: "cr-retail-media-001",
		Description: "Attributes conversions across exposure touchpoints.",
		Parameters: []TemplateParameter{
			{Name: "lookback_days", Type: "INTEGER", Required: false},
		},
	},
	{
		ID: "tmpl-segment-builder", DisplayID: "CRQ-00104", Name: "Lookalike Segment Builder",
		Category: "Audience Activation", CleanroomID: "cr-retail-media-001",
		Description: "Builds an activation segment from high-value overlap audiences.",
	},
}

var mockExports = []Export{
	{ID: "exp-001", Name: "Audience Overlap Q4", QueryID: "query_1001", Status: ExportStatusReady, Format: "CSV", DownloadURL: "https://exports.example.com/exp-001.csv"},
	{ID: "exp-002", Name: "Reach and Frequency Holiday", QueryID: "query_1002", Status: ExportStatusReady, Format: "PARQUET", DownloadURL: "https://exports.example.com/exp-002.parquet"},
	{ID: "exp-003", Name: "Attribution January", QueryID: "query_1003", Status: ExportStatusProcessing, Format: "CSV"},
	{ID: "exp-004", Name: "Segment Builder Draft", QueryID: "query_1004", Status: ExportStatusFailed, Format: "CSV"},
}

// ListCleanrooms lists the mock clean rooms
func (m *MockClient) ListCleanrooms(ctx context.Context) ([]Cleanroom, error) {
	m.calls.Add(1)
	return append([]Cleanroom(nil), mockCleanrooms...), nil
}

// ListPartners lists mock partners, filtered by clean room when given
func (m *MockClient) ListPartners(ctx context.Context, cleanroomID string) ([]Partner, error) {
	m.calls.Add(1)
	var out []Partner
	for _, p := range mockPartners {
		if cleanroomID == "" || p.CleanroomID == cleanroomID {
			out = append(out, p)
		}
	}
	return out, nil
}

// ListTemplates lists mock templates, filtered by clean room when given
func (m *MockClient) ListTemplates(ctx context.Context, cleanroomID string) ([]Template, error) {
	m.calls.Add(1)
	var out []Template
	for _, t := range mockTemplates {
		if cleanroomID == "" || t.CleanroomID == cleanroomID {
			out = append(out, t)
		}
	}
	return out, nil
}

// SubmitQuery records a new query against a known template
func (m *MockClient) SubmitQuery(ctx context.Context, req *SubmitQueryRequest) (*Query, error) {
	m.calls.Add(1)
	if req == nil || req.TemplateID == "" {
		return nil, NewAPIError(http.StatusBadRequest, "template id is required")
	}
	if !knownTemplate(req.TemplateID) {
		return nil, NewAPIError(http.StatusNotFound, fmt.Sprintf("template %s not found", req.TemplateID))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	id := "query_" + uuid.NewSHA1(mockNamespace, []byte(fmt.Sprintf("%s/%d", req.TemplateID, m.seq))).String()[:8]
	q := &Query{
		ID:         id,
		TemplateID: req.TemplateID,
		Status:     QueryStatusQueued,
		CreatedAt:  m.now(),
	}
	m.queries[id] = q

	out := *q
	return &out, nil
}

// GetQuery reports the state of a query. Unknown ids are treated as
// historical queries that already completed.
func (m *MockClient) GetQuery(ctx context.Context, queryID string) (*Query, error) {
	m.calls.Add(1)
	if queryID == "" {
		return nil, NewAPIError(http.StatusBadRequest, "query id is required")
	}
	if strings.Contains(queryID, "missing") {
		return nil, NewAPIError(http.StatusNotFound, fmt.Sprintf("query %s not found", queryID))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queries[queryID]
	if !ok {
		done := mockEpoch.Add(20 * time.Minute)
		return &Query{
			ID:          queryID,
			TemplateID:  mockTemplates[0].ID,
			Status:      QueryStatusCompleted,
			Progress:    100,
			CreatedAt:   mockEpoch,
			CompletedAt: &done,
		}, nil
	}

	m.advance(q)
	out := *q
	return &out, nil
}

// GetResults returns rows for a completed query
func (m *MockClient) GetResults(ctx context.Context, queryID string) (*QueryResults, error) {
	q, err := m.GetQuery(ctx, queryID)
	if err != nil {
		return nil, err
	}
	if q.Status != QueryStatusCompleted {
		return nil, NewAPIError(http.StatusConflict, fmt.Sprintf("query %s is %s", queryID, q.Status))
	}

	rows := []map[string]interface{}{
		{"segment": "Outdoor Enthusiasts", "overlap_count": 182340, "match_rate": 0.42},
		{"segment": "Frequent Travelers", "overlap_count": 151220, "match_rate": 0.37},
		{"segment": "New Parents", "overlap_count": 98410, "match_rate": 0.29},
		{"segment": "Luxury Shoppers", "overlap_count": 64785, "match_rate": 0.21},
		{"segment": "Home Improvers", "overlap_count": 43120, "match_rate": 0.18},
	}

	return &QueryResults{
		QueryID:     queryID,
		RecordCount: len(rows),
		Columns:     []string{"segment", "overlap_count", "match_rate"},
		Rows:        rows,
		Summary:     "Outdoor Enthusiasts is the largest shared segment with 182,340 overlapping customers (42% match rate).",
	}, nil
}

// ListExports lists mock exports, newest first
func (m *MockClient) ListExports(ctx context.Context) ([]Export, error) {
	m.calls.Add(1)
	out := make([]Export, len(mockExports))
	for i, e := range mockExports {
		e.CreatedAt = mockEpoch.Add(time.Duration(i) * 24 * time.Hour)
		out[i] = e
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// advance moves a query along its lifecycle; callers hold m.mu
func (m *MockClient) advance(q *Query) {
	if q.Status == QueryStatusCompleted {
		return
	}

	elapsed := m.now().Sub(q.CreatedAt)
	switch {
	case m.runDuration <= 0 || elapsed >= m.runDuration:
		q.Status = QueryStatusCompleted
		q.Progress = 100
		done := q.CreatedAt.Add(m.runDuration)
		q.CompletedAt = &done
	case elapsed > 0:
		q.Status = QueryStatusRunning
		q.Progress = int(elapsed * 100 / m.runDuration)
	}
}

func knownTemplate(id string) bool {
	for _, t := range mockTemplates {
		if t.ID == id || t.DisplayID == id {
			return true
		}
	}
	return false
}
