package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/habubridge/habubridge/internal/cache"
	"github.com/habubridge/habubridge/internal/integration"
	"github.com/habubridge/habubridge/internal/models"
	"github.com/habubridge/habubridge/internal/tools"
	"go.uber.org/zap"
)

const (
	apologyReply = "I encountered an unexpected error while processing your request. Please try rephrasing or try again in a moment."

	emptyInputReply = "Please tell me what you'd like to do, for example \"show my partners\" or \"list templates\"."

	helpReply = "I'm not sure what you're asking for. I can list your partners, templates, clean rooms or exports, submit a query from a template, check a query's status and get its results."

	needTemplateReply = "I need a template ID to submit a query. Ask me to list templates to see which ones are available."
	needQueryStatus   = "I need a query ID to check a query's status. Submit a query first or tell me its ID."
	needQueryResults  = "I need a query ID to get results. Submit a query first or tell me its ID."
)

// chatPrefix is the key prefix of cached chat replies
var chatPrefix = string(cache.CategoryChat) + ":"

// cacheableReplies are the actions whose replies depend only on the input text
var cacheableReplies = map[models.Action]bool{
	models.ActionListPartners:   true,
	models.ActionListTemplates:  true,
	models.ActionListCleanrooms: true,
	models.ActionListExports:    true,
}

// cachedReply is the stored form of a chat reply
type cachedReply struct {
	Reply  string        `json:"reply"`
	Action models.Action `json:"action"`
}

// Dispatcher turns free text into a tool call and a prose reply
type Dispatcher struct {
	classifier Classifier
	registry   *tools.Registry
	cache      *cache.Cache
	sessions   *SessionStore
	config     *DispatcherConfig
	logger     *zap.Logger
	now        func() time.Time
}

// NewDispatcher creates a dispatcher. c may be nil, in which case chat
// replies are not cached.
func NewDispatcher(
	classifier Classifier,
	registry *tools.Registry,
	c *cache.Cache,
	config *DispatcherConfig,
	logger *zap.Logger,
) *Dispatcher {
	if config == nil {
		config = DefaultDispatcherConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		classifier: classifier,
		registry:   registry,
		cache:      c,
		sessions:   NewSessionStore(config.MaxSessions, config.SessionTTL, config.MaxTurns),
		config:     config,
		logger:     logger.Named("dispatcher"),
		now:        time.Now,
	}
}

// ClassifierName reports the strategy chosen at construction
func (d *Dispatcher) ClassifierName() string {
	return d.classifier.Name()
}

// Sessions exposes the session store
func (d *Dispatcher) Sessions() *SessionStore {
	return d.sessions
}

// Process handles one chat request. It always returns a turn with a reply;
// failures are logged and turned into a user-facing sentence.
func (d *Dispatcher) Process(ctx context.Context, sessionID, text string) *models.ConversationTurn {
	start := d.now()
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	turn := &models.ConversationTurn{
		SessionID:      sessionID,
		UserText:       text,
		ResolvedAction: models.ActionUnknown,
		State:          models.StateReceived,
		Timestamp:      start,
	}
	d.advance(turn, models.StateReceived)

	if strings.TrimSpace(text) == "" {
		turn.ReplyText = emptyInputReply
		d.advance(turn, models.StateDone)
		return turn
	}

	if hit, ok := d.cachedReply(ctx, text); ok {
		turn.ResolvedAction = hit.Action
		turn.ReplyText = hit.Reply
		turn.Cached = true
		d.advance(turn, models.StateDone)
		d.remember(turn, nil)
		return turn
	}

	session := d.sessions.Snapshot(sessionID)

	var res tools.Result
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, d.config.RequestTimeout)
		defer cancel()

		var err error
		res, err = d.attempt(attemptCtx, turn, session)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		if _, code := integration.Describe(err); code == integration.CodeCircuitOpen {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(d.config.RetryDelay), uint64(max(d.config.MaxRetries, 0))),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		d.logger.Warn("chat attempt failed, retrying",
			zap.String("session_id", sessionID),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		d.logger.Error("chat request failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		turn.ReplyText = apologyReply
		d.advance(turn, models.StateError)
		d.remember(turn, nil)
		return turn
	}

	d.advance(turn, models.StateDone)
	d.remember(turn, res)
	d.storeReply(ctx, turn, res)

	d.logger.Info("chat processed",
		zap.String("session_id", sessionID),
		zap.String("action", string(turn.ResolvedAction)),
		zap.Bool("cached", turn.Cached),
		zap.Duration("duration", d.now().Sub(start)))
	return turn
}

// attempt runs classify, dispatch and format once. Only classification can
// fail; once a tool has been called the attempt always succeeds, so a retry
// never repeats a tool call.
func (d *Dispatcher) attempt(ctx context.Context, turn *models.ConversationTurn, session *Session) (tools.Result, error) {
	decision, err := d.classifier.Classify(ctx, turn.UserText, session)
	if err != nil {
		return nil, err
	}
	if decision == nil {
		return nil, fmt.Errorf("classifier %s returned no decision", d.classifier.Name())
	}

	turn.ResolvedAction = decision.Action
	d.advance(turn, models.StateClassified)
	d.logger.Debug("request classified",
		zap.String("session_id", turn.SessionID),
		zap.String("action", string(decision.Action)),
		zap.String("source", decision.Source),
		zap.String("explanation", decision.Explanation))

	switch {
	case decision.Action == models.ActionConversation:
		turn.ReplyText = decision.Reply
		if turn.ReplyText == "" {
			turn.ReplyText = defaultConversationReply
		}
		d.advance(turn, models.StateFormatted)
		return nil, nil

	case !decision.Action.IsTool():
		turn.ReplyText = helpReply
		d.advance(turn, models.StateFormatted)
		return nil, nil
	}

	args := resolveArgs(decision, session)
	if msg := missingArgument(decision.Action, args); msg != "" {
		turn.ReplyText = msg
		d.advance(turn, models.StateFormatted)
		return nil, nil
	}

	callStart := d.now()
	res := d.registry.Invoke(ctx, string(decision.Action), args)
	turn.ToolCall = &models.ToolCall{
		Name:       string(decision.Action),
		Parameters: args,
		Result:     res,
		Error:      res.String("error"),
		Duration:   d.now().Sub(callStart).Seconds(),
	}
	turn.Cached = res.Cached()
	d.advance(turn, models.StateDispatched)

	turn.ReplyText = d.format(decision.Action, res, args)
	d.advance(turn, models.StateFormatted)
	return res, nil
}

// resolveArgs copies the decision params and fills the query id from the
// session for follow-ups
func resolveArgs(decision *Decision, session *Session) tools.Args {
	args := make(tools.Args, len(decision.Params)+1)
	for k, v := range decision.Params {
		args[k] = v
	}

	switch decision.Action {
	case models.ActionCheckStatus, models.ActionGetResults:
		if args.String("query_id") == "" && session != nil && session.LastQueryID != "" {
			args["query_id"] = session.LastQueryID
		}
	}
	return args
}

func missingArgument(action models.Action, args tools.Args) string {
	switch action {
	case models.ActionSubmitQuery:
		if args.String("template_id") == "" {
			return needTemplateReply
		}
	case models.ActionCheckStatus:
		if args.String("query_id") == "" {
			return needQueryStatus
		}
	case models.ActionGetResults:
		if args.String("query_id") == "" {
			return needQueryResults
		}
	}
	return ""
}

func (d *Dispatcher) format(action models.Action, res tools.Result, args tools.Args) (reply string) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("formatter panicked",
				zap.String("action", string(action)),
				zap.Any("panic", p))
			reply = parseFallbackReply
		}
	}()
	return FormatReply(action, res, args)
}

// remember appends the exchange to the session and tracks ids of the
// queries it touched
func (d *Dispatcher) remember(turn *models.ConversationTurn, res tools.Result) {
	d.sessions.Update(turn.SessionID, func(s *Session) {
		if res != nil && !res.IsError() {
			switch turn.ResolvedAction {
			case models.ActionSubmitQuery:
				if id := res.String("query_id"); id != "" {
					s.LastQueryID = id
				}
				if id := res.String("template_id"); id != "" {
					s.LastTemplateID = id
				}
			case models.ActionCheckStatus, models.ActionGetResults:
				if id := res.String("query_id"); id != "" {
					s.LastQueryID = id
				}
			}
		}
		now := d.now()
		s.Turns = append(s.Turns,
			models.Message{Role: "user", Content: turn.UserText, Timestamp: turn.Timestamp},
			models.Message{Role: "assistant", Content: turn.ReplyText, Timestamp: now},
		)
	})
}

func chatKey(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	return cache.Key(cache.CategoryChat, "reply", map[string]interface{}{"input": normalized})
}

func (d *Dispatcher) cachedReply(ctx context.Context, text string) (*cachedReply, bool) {
	if !d.config.CacheReplies || d.cache == nil {
		return nil, false
	}
	entry, ok := d.cache.Get(ctx, chatKey(text))
	if !ok {
		return nil, false
	}
	var hit cachedReply
	if err := json.Unmarshal(entry.Payload, &hit); err != nil || hit.Reply == "" {
		return nil, false
	}
	return &hit, true
}

// storeReply caches replies of read-only actions. A submitted query changes
// what the export listing returns, so it drops every cached reply.
func (d *Dispatcher) storeReply(ctx context.Context, turn *models.ConversationTurn, res tools.Result) {
	if !d.config.CacheReplies || d.cache == nil || res == nil || res.IsError() {
		return
	}
	if turn.ResolvedAction == models.ActionSubmitQuery {
		d.cache.Invalidate(ctx, chatPrefix)
		return
	}
	if !cacheableReplies[turn.ResolvedAction] {
		return
	}
	d.cache.Put(ctx, chatKey(turn.UserText), cachedReply{
		Reply:  turn.ReplyText,
		Action: turn.ResolvedAction,
	}, cache.CategoryChat, 0)
}

func (d *Dispatcher) advance(turn *models.ConversationTurn, state models.DispatchState) {
	turn.State = state
	d.logger.Debug("dispatch state",
		zap.String("session_id", turn.SessionID),
		zap.String("state", string(state)))
}
