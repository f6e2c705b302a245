package agent

import (
	"fmt"
	"strings"

	"github.com/habubridge/habubridge/internal/models"
	"github.com/habubridge/habubridge/internal/tools"
)

// bulletSeparator joins inline lists in replies
const bulletSeparator = " • "

const parseFallbackReply = "I got a response but had trouble parsing it. Please try again or rephrase your request."

// formatFunc renders a successful tool result. ok=false means expected
// fields were missing.
type formatFunc func(res tools.Result, args tools.Args) (reply string, ok bool)

var formatters = map[models.Action]formatFunc{
	models.ActionListPartners:   formatPartners,
	models.ActionListTemplates:  formatTemplates,
	models.ActionListCleanrooms: formatCleanrooms,
	models.ActionSubmitQuery:    formatSubmit,
	models.ActionCheckStatus:    formatStatus,
	models.ActionGetResults:     formatResults,
	models.ActionListExports:    formatExports,
}

// FormatReply turns a tool result into prose
func FormatReply(action models.Action, res tools.Result, args tools.Args) string {
	if res == nil {
		return parseFallbackReply
	}
	if res.IsError() {
		summary := res.Summary()
		if summary == "" {
			summary = "the request failed"
		}
		return "Sorry, I couldn't complete that: " + summary
	}

	f, ok := formatters[action]
	if !ok {
		return parseFallbackReply
	}
	reply, ok := f(res, args)
	if !ok {
		return parseFallbackReply
	}
	return reply
}

func formatPartners(res tools.Result, args tools.Args) (string, bool) {
	partners, ok := objects(res["partners"])
	if !ok {
		return "", false
	}
	if len(partners) == 0 {
		return "You don't have any partners in your clean rooms yet.", true
	}

	names := fieldValues(partners, "name")
	reply := fmt.Sprintf("You have %d partners: %s", len(names), strings.Join(names, bulletSeparator))

	if want := args.String("partner"); want != "" {
		for _, p := range partners {
			if strings.EqualFold(str(p["name"]), want) {
				reply = fmt.Sprintf("%s is one of your partners (%s, %s).\n%s",
					str(p["name"]), orDash(str(p["role"])), orDash(str(p["status"])), reply)
				break
			}
		}
	}
	return reply, true
}

func formatTemplates(res tools.Result, args tools.Args) (string, bool) {
	templates, ok := objects(res["templates"])
	if !ok {
		return "", false
	}
	if len(templates) == 0 {
		return "No query templates are available in your clean rooms.", true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "There are %d templates available:", len(templates))
	for _, t := range templates {
		id := str(t["displayId"])
		if id == "" {
			id = str(t["id"])
		}
		fmt.Fprintf(&b, "\n• %s (%s)", str(t["name"]), id)
		if c := str(t["category"]); c != "" {
			fmt.Fprintf(&b, ": %s", c)
		}
	}
	b.WriteString("\nAsk me to run one by its ID.")
	return b.String(), true
}

func formatCleanrooms(res tools.Result, args tools.Args) (string, bool) {
	rooms, ok := objects(res["cleanrooms"])
	if !ok {
		return "", false
	}
	if len(rooms) == 0 {
		return "You don't have access to any clean rooms.", true
	}
	names := fieldValues(rooms, "name")
	return fmt.Sprintf("You have %d clean rooms: %s", len(names), strings.Join(names, bulletSeparator)), true
}

func formatSubmit(res tools.Result, args tools.Args) (string, bool) {
	id, status := res.String("query_id"), res.String("query_status")
	if id == "" || status == "" {
		return "", false
	}
	return fmt.Sprintf("Your query %s has been submitted and is %s. Ask me for its status, or for the results once it completes.",
		id, strings.ToLower(status)), true
}

func formatStatus(res tools.Result, args tools.Args) (string, bool) {
	id, status := res.String("query_id"), res.String("query_status")
	if id == "" || status == "" {
		return "", false
	}
	progress, _ := res["progress_percent"].(float64)

	reply := fmt.Sprintf("Query %s is %s (%d%% complete).", id, strings.ToLower(status), int(progress))
	switch status {
	case "COMPLETED":
		reply += " The results are ready, just ask me to get them."
	case "FAILED":
		reply += " You may want to submit it again."
	default:
		reply += " Check back in a little while."
	}
	return reply, true
}

func formatResults(res tools.Result, args tools.Args) (string, bool) {
	count, ok := res["record_count"].(float64)
	summary := res.String("business_summary")
	if !ok || summary == "" {
		return "", false
	}
	return fmt.Sprintf("Query %s returned %d records. %s", res.String("query_id"), int(count), summary), true
}

func formatExports(res tools.Result, args tools.Args) (string, bool) {
	ready, ok := objects(res["ready_exports"])
	if !ok {
		return "", false
	}
	processing, _ := objects(res["processing_exports"])
	failed, _ := objects(res["failed_exports"])

	if len(ready)+len(processing)+len(failed) == 0 {
		return "There are no exports yet.", true
	}

	var parts []string
	if len(ready) > 0 {
		parts = append(parts, fmt.Sprintf("%d ready to download: %s", len(ready), strings.Join(fieldValues(ready, "name"), bulletSeparator)))
	}
	if len(processing) > 0 {
		parts = append(parts, fmt.Sprintf("%d still processing", len(processing)))
	}
	if len(failed) > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", len(failed)))
	}
	return "Exports: " + strings.Join(parts, "; ") + ".", true
}

// objects converts a decoded JSON array of objects
func objects(v interface{}) ([]map[string]interface{}, bool) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, false
		}
		out = append(out, m)
	}
	return out, true
}

func fieldValues(items []map[string]interface{}, field string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := str(item[field]); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return strings.ToLower(s)
}
