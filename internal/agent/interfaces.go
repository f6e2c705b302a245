package agent

import (
	"context"
	"time"

	"github.com/habubridge/habubridge/internal/models"
)

// Classifier resolves free text into an action with extracted arguments
type Classifier interface {
	Name() string
	Classify(ctx context.Context, text string, session *Session) (*Decision, error)
}

// Decision is a validated classification
type Decision struct {
	Action      models.Action
	Params      map[string]interface{}
	Explanation string

	// Reply is the conversational answer when Action is ActionConversation
	Reply string

	// Source is the classifier that produced the decision
	Source string
}

// DispatcherConfig holds dispatcher configuration
type DispatcherConfig struct {
	// Retries of the whole classify-dispatch-format pipeline
	MaxRetries int
	RetryDelay time.Duration

	// Per-request deadline for one pipeline attempt
	RequestTimeout time.Duration

	// Session store bounds
	MaxSessions int
	SessionTTL  time.Duration
	MaxTurns    int

	// Cache chat replies of read-only actions
	CacheReplies bool
}

// DefaultDispatcherConfig returns default configuration
func DefaultDispatcherConfig() *DispatcherConfig {
	return &DispatcherConfig{
		MaxRetries:     2,
		RetryDelay:     500 * time.Millisecond,
		RequestTimeout: 60 * time.Second,
		MaxSessions:    1000,
		SessionTTL:     time.Hour,
		MaxTurns:       10,
		CacheReplies:   true,
	}
}
