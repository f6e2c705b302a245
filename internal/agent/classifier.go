package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/habubridge/habubridge/internal/inference"
	"github.com/habubridge/habubridge/internal/integration"
	"github.com/habubridge/habubridge/internal/models"
	"go.uber.org/zap"
)

// defaultConversationReply is used when the model produced neither a usable
// decision nor any text
const defaultConversationReply = "I can help you explore your clean rooms: list partners, templates, clean rooms or exports, submit a query, check its status and fetch results. What would you like to do?"

// LLMClassifier asks a language model for a structured routing decision.
// The schema is enforced by the provider and the decision is validated
// again on receipt.
type LLMClassifier struct {
	gen     inference.Generator
	breaker *integration.Breaker
	logger  *zap.Logger
}

// NewLLMClassifier creates a classifier over gen. All calls go through
// breaker.
func NewLLMClassifier(gen inference.Generator, breaker *integration.Breaker, logger *zap.Logger) *LLMClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if breaker == nil {
		breaker = integration.NewBreaker("llm", 5, 0, logger)
	}
	return &LLMClassifier{
		gen:     gen,
		breaker: breaker,
		logger:  logger.Named("classifier"),
	}
}

// Name identifies the classifier
func (c *LLMClassifier) Name() string {
	return "llm:" + c.gen.Name()
}

// routingDecision is the wire shape requested from the model
type routingDecision struct {
	Action      string     `json:"action"`
	Explanation string     `json:"explanation"`
	Reply       string     `json:"reply"`
	ToolParams  toolParams `json:"tool_params"`
}

type toolParams struct {
	TemplateID     string `json:"template_id"`
	QueryID        string `json:"query_id"`
	CleanroomID    string `json:"cleanroom_id"`
	FormatType     string `json:"format_type"`
	StatusFilter   string `json:"status_filter"`
	ParametersJSON string `json:"parameters_json"`
}

// decisionSchema constrains the model output
var decisionSchema = func() *inference.Schema {
	actions := make([]string, 0, len(models.ToolActions)+1)
	for _, a := range models.ToolActions {
		actions = append(actions, string(a))
	}
	actions = append(actions, string(models.ActionConversation))

	str := func(desc string) *inference.Schema {
		return &inference.Schema{Type: "string", Description: desc}
	}

	return &inference.Schema{
		Type: "object",
		Properties: map[string]*inference.Schema{
			"action": {
				Type:        "string",
				Enum:        actions,
				Description: "The tool to call, or conversation for a direct reply",
			},
			"explanation": str("One sentence on why this action was chosen"),
			"reply":       str("The reply to the user when action is conversation"),
			"tool_params": {
				Type: "object",
				Properties: map[string]*inference.Schema{
					"template_id":     str("Template id, e.g. tmpl-audience-overlap or CRQ-00101"),
					"query_id":        str("Query id, e.g. query_1a2b3c4d"),
					"cleanroom_id":    str("Clean room id"),
					"format_type":     str("Result format: json, csv or summary"),
					"status_filter":   str("Export state: ready, processing or failed"),
					"parameters_json": str("Template parameters as a JSON object string"),
				},
			},
		},
		Required: []string{"action", "explanation"},
	}
}()

const systemPrompt = `You route requests for a clean room analytics assistant built on the Habu API.

Available actions:
- list_partners: partner organizations in the user's clean rooms
- list_templates: query templates (cleanroom questions) that can be run
- list_cleanrooms: the clean rooms themselves
- submit_query: run a template; needs tool_params.template_id
- check_status: status of a query; needs tool_params.query_id
- get_results: results of a completed query; needs tool_params.query_id
- list_exports: data exports and their readiness
- conversation: anything else; answer in reply

Only fill tool_params values that the user actually stated or that appear in the context.`

// Classify asks the model for a decision. Provider errors are returned;
// output that is not a valid decision becomes a conversational reply.
func (c *LLMClassifier) Classify(ctx context.Context, text string, session *Session) (*Decision, error) {
	prompt := buildRoutingPrompt(text, session)

	var raw string
	err := c.breaker.Do(func() error {
		var err error
		raw, err = c.gen.GenerateStructured(ctx, systemPrompt, prompt, decisionSchema)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("routing failed: %w", err)
	}

	d := parseDecision(raw)
	d.Source = c.Name()
	if d.Action == models.ActionConversation && d.Explanation == "" {
		c.logger.Debug("model output was not a decision", zap.Int("length", len(raw)))
	}
	return d, nil
}

// buildRoutingPrompt includes recent context so follow-ups like "is it done?"
// can be resolved
func buildRoutingPrompt(text string, session *Session) string {
	var b strings.Builder

	if session != nil {
		if session.LastQueryID != "" {
			fmt.Fprintf(&b, "Most recent query id: %s\n", session.LastQueryID)
		}
		if session.LastTemplateID != "" {
			fmt.Fprintf(&b, "Most recent template id: %s\n", session.LastTemplateID)
		}
		turns := session.Turns
		if len(turns) > 4 {
			turns = turns[len(turns)-4:]
		}
		if len(turns) > 0 {
			b.WriteString("Recent conversation:\n")
			for _, m := range turns {
				fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
			}
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "User request: %s", text)
	return b.String()
}

// parseDecision validates model output. It never fails: plain text that is
// not a decision is treated as the reply itself, and broken JSON falls back
// to the default reply so it is never shown to the user.
func parseDecision(raw string) *Decision {
	raw = strings.TrimSpace(raw)

	body, fenced := stripFence(raw)
	var rd routingDecision
	if err := json.Unmarshal([]byte(objectSpan(body)), &rd); err != nil {
		if fenced || strings.HasPrefix(body, "{") {
			return conversation("", "")
		}
		return conversation(raw, "")
	}

	action := models.ParseAction(strings.ToLower(strings.TrimSpace(rd.Action)))
	if action == models.ActionUnknown {
		reply := rd.Reply
		if reply == "" {
			reply = rd.Explanation
		}
		return conversation(reply, rd.Explanation)
	}

	if action == models.ActionConversation {
		reply := rd.Reply
		if reply == "" {
			reply = rd.Explanation
		}
		return conversation(reply, rd.Explanation)
	}

	params := make(map[string]interface{})
	set := func(key, value string) {
		if v := strings.TrimSpace(value); v != "" {
			params[key] = v
		}
	}
	set("template_id", rd.ToolParams.TemplateID)
	set("query_id", rd.ToolParams.QueryID)
	set("cleanroom_id", rd.ToolParams.CleanroomID)
	set("format_type", rd.ToolParams.FormatType)
	set("status_filter", rd.ToolParams.StatusFilter)
	set("parameters", rd.ToolParams.ParametersJSON)

	return &Decision{
		Action:      action,
		Params:      params,
		Explanation: rd.Explanation,
	}
}

// stripFence removes a surrounding markdown code fence
func stripFence(s string) (string, bool) {
	if !strings.HasPrefix(s, "```") {
		return s, false
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s), true
}

// objectSpan trims s to its outermost {...}
func objectSpan(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end < start {
		return s
	}
	return s[start : end+1]
}

func conversation(reply, explanation string) *Decision {
	if reply == "" {
		reply = defaultConversationReply
	}
	return &Decision{
		Action:      models.ActionConversation,
		Params:      map[string]interface{}{},
		Explanation: explanation,
		Reply:       reply,
	}
}
