package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/habubridge/habubridge/internal/models"
)

// keywordRule maps phrase patterns to an action
type keywordRule struct {
	action   models.Action
	patterns []*regexp.Regexp
}

// keywordRules are checked in order and the first match wins, so the order
// is the tie-break when phrases of several actions appear in one request.
var keywordRules = []keywordRule{
	{models.ActionGetResults, compileAll(
		`\bresults?\b`,
		`\bfindings\b`,
		`\boutcome\b`,
	)},
	{models.ActionCheckStatus, compileAll(
		`\bstatus\b`,
		`\bprogress\b`,
		`\bcheck on\b`,
		`\bis (it|my query|the query) (done|finished|complete|ready)\b`,
		`\bhow('s| is) (my|the) query\b`,
	)},
	{models.ActionSubmitQuery, compileAll(
		`\bsubmit\b`,
		`\bexecute\b`,
		`\blaunch\b`,
		`\brun (a |an |the )?(new )?(query|template|analysis|report)\b`,
		`\bstart (a |the )?(new )?query\b`,
	)},
	{models.ActionListExports, compileAll(
		`\bexports?\b`,
		`\bdownloads?\b`,
	)},
	{models.ActionListTemplates, compileAll(
		`\btemplates?\b`,
		`\bquestions?\b`,
		`\banalyses\b`,
		`\bwhat can i run\b`,
	)},
	{models.ActionListPartners, compileAll(
		`\bpartners?\b`,
		`\bcollaborators?\b`,
		`\bwho (am i|are we) working with\b`,
	)},
	{models.ActionListCleanrooms, compileAll(
		`\bclean ?rooms?\b`,
	)},
}

// knownPartners are partner names recognized in free text
var knownPartners = []string{
	"Meta",
	"Amazon Ads",
	"The Trade Desk",
	"Nielsen",
	"Google",
	"Disney",
	"Netflix",
	"Roku",
}

var partnerPatterns = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(knownPartners))
	for i, name := range knownPartners {
		out[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`)
	}
	return out
}()

var (
	queryIDPattern     = regexp.MustCompile(`(?i)\b(query[_-][a-z0-9][a-z0-9_-]*)`)
	templateIDPattern  = regexp.MustCompile(`(?i)\b(tmpl-[a-z0-9-]+|crq-\d+)\b`)
	cleanroomIDPattern = regexp.MustCompile(`(?i)\b(cr-[a-z0-9-]+)\b`)
	formatPattern      = regexp.MustCompile(`\b(csv|json)\b`)
	exportStatePattern = regexp.MustCompile(`\b(ready|processing|failed)\b`)
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// KeywordClassifier resolves actions with fixed phrase lists and extracts
// entities with regular expressions. It needs no external service.
type KeywordClassifier struct{}

// NewKeywordClassifier creates a keyword classifier
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// Name identifies the classifier
func (k *KeywordClassifier) Name() string {
	return "keyword"
}

// Classify never fails; text matching no rule yields ActionUnknown
func (k *KeywordClassifier) Classify(ctx context.Context, text string, session *Session) (*Decision, error) {
	lower := strings.ToLower(text)

	action := models.ActionUnknown
	matched := ""
	for _, rule := range keywordRules {
		for _, p := range rule.patterns {
			if m := p.FindString(lower); m != "" {
				action, matched = rule.action, m
				break
			}
		}
		if action != models.ActionUnknown {
			break
		}
	}

	params := extractEntities(text)
	if action == models.ActionUnknown {
		if _, ok := params["partner"]; ok {
			action, matched = models.ActionListPartners, params["partner"].(string)
		}
	}

	explanation := "no keyword matched"
	if matched != "" {
		explanation = fmt.Sprintf("matched %q", matched)
	}

	return &Decision{
		Action:      action,
		Params:      params,
		Explanation: explanation,
		Source:      k.Name(),
	}, nil
}

// extractEntities pulls ids and known names out of text
func extractEntities(text string) map[string]interface{} {
	params := make(map[string]interface{})
	lower := strings.ToLower(text)

	if m := queryIDPattern.FindStringSubmatch(text); m != nil {
		params["query_id"] = m[1]
	}
	if m := templateIDPattern.FindStringSubmatch(text); m != nil {
		params["template_id"] = m[1]
	}
	if m := cleanroomIDPattern.FindStringSubmatch(text); m != nil {
		params["cleanroom_id"] = m[1]
	}
	if m := formatPattern.FindStringSubmatch(lower); m != nil {
		params["format_type"] = m[1]
	}
	if m := exportStatePattern.FindStringSubmatch(lower); m != nil {
		params["status_filter"] = m[1]
	}
	for i, p := range partnerPatterns {
		if p.MatchString(text) {
			params["partner"] = knownPartners[i]
			break
		}
	}
	return params
}
