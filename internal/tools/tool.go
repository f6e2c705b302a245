// Package tools wraps each Habu operation behind a uniform
// (arguments) -> Result contract shared by the chat dispatcher, the HTTP
// bridge and the MCP server.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/habubridge/habubridge/internal/cache"
)

// Tool represents one callable operation
type Tool interface {
	Name() string
	Description() string

	// InputSchema is the JSON schema of the arguments object
	InputSchema() map[string]interface{}

	// Execute runs the tool. Bad input is reported as an error Result;
	// a returned error is converted with Failure.
	Execute(ctx context.Context, args Args) (Result, error)
}

// Cacheable tools have their successful results cached
type Cacheable interface {
	CacheKey(args Args) (key string, category cache.Category)
}

// Invalidator tools clear cache prefixes after a successful run
type Invalidator interface {
	Invalidates() []string
}

// Args are tool arguments as decoded from JSON or a query string
type Args map[string]interface{}

// String returns args[key] as a trimmed string. Numbers and booleans are
// formatted; anything else yields "".
func (a Args) String(key string) string {
	switch v := a[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Map returns args[key] as an object. A JSON-encoded string is accepted,
// since query strings and LLM output carry objects that way.
func (a Args) Map(key string) (map[string]interface{}, error) {
	switch v := a[key].(type) {
	case nil:
		return nil, nil
	case map[string]interface{}:
		return v, nil
	case Args:
		return map[string]interface{}(v), nil
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, nil
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("%s must be a JSON object: %w", key, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%s must be an object", key)
	}
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

func objectSchema(required []string, props map[string]interface{}) map[string]interface{} {
	s := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
