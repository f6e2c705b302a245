package models

import "time"

// Message represents a single message in a chat transcript
type Message struct {
	Role      string    `json:"role"`    // "user" or "assistant"
	Content   string    `json:"content"` // Message content
	Timestamp time.Time `json:"timestamp"`
}

// Action identifies what a chat request was resolved to
type Action string

const (
	ActionListPartners   Action = "list_partners"
	ActionListTemplates  Action = "list_templates"
	ActionListCleanrooms Action = "list_cleanrooms"
	ActionSubmitQuery    Action = "submit_query"
	ActionCheckStatus    Action = "check_status"
	ActionGetResults     Action = "get_results"
	ActionListExports    Action = "list_exports"
	ActionConversation   Action = "conversation"
	ActionUnknown        Action = "unknown"
)

// ToolActions lists the actions that map 1:1 onto a tool call
var ToolActions = []Action{
	ActionListPartners,
	ActionListTemplates,
	ActionListCleanrooms,
	ActionSubmitQuery,
	ActionCheckStatus,
	ActionGetResults,
	ActionListExports,
}

// IsTool reports whether the action dispatches to a tool of the same name
func (a Action) IsTool() bool {
	for _, t := range ToolActions {
		if a == t {
			return true
		}
	}
	return false
}

// ParseAction converts free text into a known action, or ActionUnknown
func ParseAction(s string) Action {
	a := Action(s)
	if a.IsTool() || a == ActionConversation {
		return a
	}
	return ActionUnknown
}

// DispatchState is the stage a chat request reached
type DispatchState string

const (
	StateReceived   DispatchState = "received"
	StateClassified DispatchState = "classified"
	StateDispatched DispatchState = "dispatched"
	StateFormatted  DispatchState = "formatted"
	StateDone       DispatchState = "done"
	StateError      DispatchState = "error"
)

// ToolCall represents a single tool invocation
type ToolCall struct {
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Duration   float64                `json:"duration"` // seconds
}

// ConversationTurn is produced once per chat request
type ConversationTurn struct {
	SessionID      string        `json:"session_id"`
	UserText       string        `json:"user_text"`
	ResolvedAction Action        `json:"resolved_action"`
	ToolCall       *ToolCall     `json:"tool_call,omitempty"`
	ReplyText      string        `json:"reply_text"`
	State          DispatchState `json:"state"`
	Cached         bool          `json:"cached"`
	Timestamp      time.Time     `json:"timestamp"`
}
