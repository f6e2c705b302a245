package integration

import (
	"context"
	"time"
)

// Client is the Habu clean room API as seen by the tools. LiveClient talks
// to the real service; MockClient returns deterministic synthetic data.
type Client interface {
	// Name identifies the implementation ("live" or "mock")
	Name() string

	ListCleanrooms(ctx context.Context) ([]Cleanroom, error)
	ListPartners(ctx context.Context, cleanroomID string) ([]Partner, error)
	ListTemplates(ctx context.Context, cleanroomID string) ([]Template, error)
	SubmitQuery(ctx context.Context, req *SubmitQueryRequest) (*Query, error)
	GetQuery(ctx context.Context, queryID string) (*Query, error)
	GetResults(ctx context.Context, queryID string) (*QueryResults, error)
	ListExports(ctx context.Context) ([]Export, error)
}

// ServiceType defines the type of external service
type ServiceType string

const ServiceTypeHabu ServiceType = "habu"

// Query lifecycle states as reported by Habu
const (
	QueryStatusQueued    = "QUEUED"
	QueryStatusRunning   = "RUNNING"
	QueryStatusCompleted = "COMPLETED"
	QueryStatusFailed    = "FAILED"
)

// Export lifecycle states
const (
	ExportStatusReady      = "READY"
	ExportStatusProcessing = "PROCESSING"
	ExportStatusFailed     = "FAILED"
)

// Cleanroom is a governed collaboration space
type Cleanroom struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Partner is an organization collaborating in a clean room
type Partner struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Organization string `json:"organization,omitempty"`
	Role         string `json:"role,omitempty"`
	Status       string `json:"status,omitempty"`
	CleanroomID  string `json:"cleanroomId,omitempty"`
}

// Template is a pre-approved cleanroom question
type Template struct {
	ID          string              `json:"id"`
	DisplayID   string              `json:"displayId,omitempty"`
	Name        string              `json:"name"`
	Category    string              `json:"category,omitempty"`
	Description string              `json:"description,omitempty"`
	Parameters  []TemplateParameter `json:"parameters,omitempty"`
	CleanroomID string              `json:"cleanroomId,omitempty"`
}

// TemplateParameter is one runtime argument of a template
type TemplateParameter struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// SubmitQueryRequest instantiates a template with concrete arguments
type SubmitQueryRequest struct {
	TemplateID  string                 `json:"cleanroomQuestionId"`
	CleanroomID string                 `json:"cleanroomId,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// Query is one execution of a template
type Query struct {
	ID          string     `json:"id"`
	TemplateID  string     `json:"cleanroomQuestionId,omitempty"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// QueryResults holds the rows produced by a completed query
type QueryResults struct {
	QueryID     string                   `json:"queryId"`
	RecordCount int                      `json:"recordCount"`
	Columns     []string                 `json:"columns"`
	Rows        []map[string]interface{} `json:"rows"`
	Summary     string                   `json:"summary,omitempty"`
}

// Export is a completed query's result set made available for download
type Export struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	QueryID     string    `json:"queryId,omitempty"`
	Status      string    `json:"status"`
	Format      string    `json:"format,omitempty"`
	DownloadURL string    `json:"downloadUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// OAuth2Config holds client-credentials configuration
type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// RateLimiter manages API rate limiting
type RateLimiter interface {
	// Wait blocks until a request is allowed
	Wait(ctx context.Context, service string) error

	// GetStatus returns current rate limit status
	GetStatus(service string) *RateLimitStatus
}

// RateLimitStatus holds rate limit information
type RateLimitStatus struct {
	Limit     int       `json:"limit"`     // Maximum requests allowed per hour
	Remaining int       `json:"remaining"` // Requests remaining
	Reset     time.Time `json:"reset"`     // When the limit resets
}

// AuditLogger records all API interactions
type AuditLogger interface {
	// Log records an API call
	Log(ctx context.Context, entry *AuditEntry) error

	// Query retrieves audit logs
	Query(ctx context.Context, filter *AuditFilter) ([]*AuditEntry, error)

	// GetStats summarizes calls to service since a point in time
	GetStats(ctx context.Context, service ServiceType, since time.Time) (*AuditStats, error)
}

// AuditEntry represents a single audit log entry
type AuditEntry struct {
	ID         string
	Timestamp  time.Time
	Service    ServiceType
	Operation  string
	RequestID  string
	Method     string
	Endpoint   string
	StatusCode int
	Duration   time.Duration
	Success    bool
	Error      string
	Metadata   map[string]interface{}
}

// AuditFilter defines criteria for querying audit logs
type AuditFilter struct {
	Service   *ServiceType
	StartTime *time.Time
	EndTime   *time.Time
	Success   *bool
	Limit     int
	Offset    int
}

// Config holds Habu connector configuration
type Config struct {
	BaseURL            string
	OAuth2             *OAuth2Config
	DefaultCleanroomID string

	// Per-call timeouts
	TokenTimeout  time.Duration
	ReadTimeout   time.Duration
	SubmitTimeout time.Duration

	// Refresh the token this long before it expires
	RefreshMargin time.Duration

	// Rate limiting
	RequestsPerHour int

	// Circuit breaker
	BreakerThreshold uint32
	BreakerTimeout   time.Duration

	// Audit logging
	AuditLogEnabled bool
	AuditLogPath    string
}

// DefaultConfig returns default connector configuration
func DefaultConfig() *Config {
	return &Config{
		BaseURL: "https://api.habu.com/v1",
		OAuth2: &OAuth2Config{
			TokenURL: "https://api.habu.com/v1/oauth/token",
		},
		TokenTimeout:     10 * time.Second,
		ReadTimeout:      15 * time.Second,
		SubmitTimeout:    30 * time.Second,
		RefreshMargin:    60 * time.Second,
		RequestsPerHour:  3600,
		BreakerThreshold: 5,
		BreakerTimeout:   30 * time.Second,
		AuditLogEnabled:  true,
		AuditLogPath:     "~/.habubridge/audit.db",
	}
}
