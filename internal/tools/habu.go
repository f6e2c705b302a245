package tools

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"

	"github.com/habubridge/habubridge/internal/cache"
	"github.com/habubridge/habubridge/internal/integration"
	"go.uber.org/zap"
)

// Tool names
const (
	NameListPartners     = "list_partners"
	NameListTemplates    = "list_templates"
	NameEnhancedTemplate = "enhanced_templates"
	NameListCleanrooms   = "list_cleanrooms"
	NameSubmitQuery      = "submit_query"
	NameCheckStatus      = "check_status"
	NameGetResults       = "get_results"
	NameListExports      = "list_exports"
	NameCacheInvalidate  = "cache_invalidate"
)

// DefaultTools builds the Habu tool set over client. c may be nil, in which
// case cache_invalidate is omitted.
func DefaultTools(client integration.Client, c *cache.Cache) []Tool {
	tools := []Tool{
		&listPartners{client: client},
		&listTemplates{client: client},
		&listTemplates{client: client, enhanced: true},
		&listCleanrooms{client: client},
		&submitQuery{client: client},
		&checkStatus{client: client},
		&getResults{client: client},
		&listExports{client: client},
	}
	if c != nil {
		tools = append(tools, &cacheInvalidate{cache: c})
	}
	return tools
}

// NewDefaultRegistry registers DefaultTools in a new registry
func NewDefaultRegistry(client integration.Client, c *cache.Cache, logger *zap.Logger) *Registry {
	r := NewRegistry(c, logger)
	for _, t := range DefaultTools(client, c) {
		// Names in DefaultTools are unique.
		_ = r.Register(t)
	}
	return r
}

// listPartners lists clean room partners
type listPartners struct {
	client integration.Client
}

func (t *listPartners) Name() string { return NameListPartners }

func (t *listPartners) Description() string {
	return "List the partner organizations collaborating in your clean rooms."
}

func (t *listPartners) InputSchema() map[string]interface{} {
	return objectSchema(nil, map[string]interface{}{
		"cleanroom_id": stringProp("Restrict to one clean room (optional)"),
	})
}

func (t *listPartners) CacheKey(args Args) (string, cache.Category) {
	return cache.Key(cache.CategoryPartners, "list", optionalParams(args, "cleanroom_id")), cache.CategoryPartners
}

func (t *listPartners) Execute(ctx context.Context, args Args) (Result, error) {
	partners, err := t.client.ListPartners(ctx, args.String("cleanroom_id"))
	if err != nil {
		return nil, err
	}
	if partners == nil {
		partners = []integration.Partner{}
	}

	names := make([]string, len(partners))
	for i, p := range partners {
		names[i] = p.Name
	}

	summary := "No partners found"
	if len(partners) > 0 {
		summary = fmt.Sprintf("Found %d partners: %s", len(partners), strings.Join(names, ", "))
	}

	return Success(summary).
		With("count", len(partners)).
		With("partners", partners), nil
}

// listTemplates lists cleanroom questions. The enhanced variant adds a
// per-category grouping and the required parameters of each template.
type listTemplates struct {
	client   integration.Client
	enhanced bool
}

func (t *listTemplates) Name() string {
	if t.enhanced {
		return NameEnhancedTemplate
	}
	return NameListTemplates
}

func (t *listTemplates) Description() string {
	if t.enhanced {
		return "List query templates grouped by category, with the parameters each one requires."
	}
	return "List the query templates (cleanroom questions) available to run."
}

func (t *listTemplates) InputSchema() map[string]interface{} {
	return objectSchema(nil, map[string]interface{}{
		"cleanroom_id": stringProp("Restrict to one clean room (optional)"),
	})
}

func (t *listTemplates) CacheKey(args Args) (string, cache.Category) {
	id := "list"
	if t.enhanced {
		id = "enhanced"
	}
	return cache.Key(cache.CategoryTemplates, id, optionalParams(args, "cleanroom_id")), cache.CategoryTemplates
}

func (t *listTemplates) Execute(ctx context.Context, args Args) (Result, error) {
	templates, err := t.client.ListTemplates(ctx, args.String("cleanroom_id"))
	if err != nil {
		return nil, err
	}
	if templates == nil {
		templates = []integration.Template{}
	}

	byCategory := make(map[string][]string)
	for _, tmpl := range templates {
		category := tmpl.Category
		if category == "" {
			category = "Uncategorized"
		}
		byCategory[category] = append(byCategory[category], tmpl.Name)
	}
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	summary := "No templates found"
	if len(templates) > 0 {
		summary = fmt.Sprintf("Found %d templates across %d categories", len(templates), len(categories))
	}

	res := Success(summary).
		With("count", len(templates)).
		With("templates", templates).
		With("categories", categories)

	if t.enhanced {
		required := make(map[string][]string, len(templates))
		for _, tmpl := range templates {
			params := []string{}
			for _, p := range tmpl.Parameters {
				if p.Required {
					params = append(params, p.Name)
				}
			}
			required[tmpl.ID] = params
		}
		res.With("by_category", byCategory).With("required_parameters", required)
	}
	return res, nil
}

// listCleanrooms lists the clean rooms the credentials can see
type listCleanrooms struct {
	client integration.Client
}

func (t *listCleanrooms) Name() string { return NameListCleanrooms }

func (t *listCleanrooms) Description() string {
	return "List the clean rooms available to your organization."
}

func (t *listCleanrooms) InputSchema() map[string]interface{} {
	return objectSchema(nil, map[string]interface{}{})
}

func (t *listCleanrooms) CacheKey(args Args) (string, cache.Category) {
	return cache.Key(cache.CategoryCleanrooms, "list", nil), cache.CategoryCleanrooms
}

func (t *listCleanrooms) Execute(ctx context.Context, args Args) (Result, error) {
	rooms, err := t.client.ListCleanrooms(ctx)
	if err != nil {
		return nil, err
	}
	if rooms == nil {
		rooms = []integration.Cleanroom{}
	}

	names := make([]string, len(rooms))
	for i, r := range rooms {
		names[i] = r.Name
	}

	summary := "No clean rooms found"
	if len(rooms) > 0 {
		summary = fmt.Sprintf("Found %d clean rooms: %s", len(rooms), strings.Join(names, ", "))
	}
	return Success(summary).
		With("count", len(rooms)).
		With("cleanrooms", rooms), nil
}

// submitQuery starts a query run. It is never cached.
type submitQuery struct {
	client integration.Client
}

func (t *submitQuery) Name() string { return NameSubmitQuery }

func (t *submitQuery) Description() string {
	return "Submit a query run for a template with the given parameters."
}

func (t *submitQuery) InputSchema() map[string]interface{} {
	return objectSchema([]string{"template_id"}, map[string]interface{}{
		"template_id":  stringProp("Template (cleanroom question) id"),
		"cleanroom_id": stringProp("Clean room to run in (optional)"),
		"parameters": map[string]interface{}{
			"type":        "object",
			"description": "Template parameters",
		},
	})
}

func (t *submitQuery) Invalidates() []string {
	return []string{string(cache.CategoryStatus) + ":", string(cache.CategoryExports) + ":"}
}

func (t *submitQuery) Execute(ctx context.Context, args Args) (Result, error) {
	templateID := args.String("template_id")
	if templateID == "" {
		return InvalidInput("template_id is required"), nil
	}
	params, err := args.Map("parameters")
	if err != nil {
		return InvalidInput(err.Error()), nil
	}

	q, err := t.client.SubmitQuery(ctx, &integration.SubmitQueryRequest{
		TemplateID:  templateID,
		CleanroomID: args.String("cleanroom_id"),
		Parameters:  params,
	})
	if err != nil {
		return nil, err
	}

	return Success(fmt.Sprintf("Query %s submitted for template %s and is %s", q.ID, templateID, q.Status)).
		With("query_id", q.ID).
		With("template_id", templateID).
		With("query_status", q.Status).
		With("next_actions", nextActions(q.Status)), nil
}

// checkStatus reports a query's lifecycle state
type checkStatus struct {
	client integration.Client
}

func (t *checkStatus) Name() string { return NameCheckStatus }

func (t *checkStatus) Description() string {
	return "Check the status and progress of a submitted query."
}

func (t *checkStatus) InputSchema() map[string]interface{} {
	return objectSchema([]string{"query_id"}, map[string]interface{}{
		"query_id": stringProp("Query id returned by submit_query"),
	})
}

func (t *checkStatus) CacheKey(args Args) (string, cache.Category) {
	return cache.Key(cache.CategoryStatus, args.String("query_id"), nil), cache.CategoryStatus
}

func (t *checkStatus) Execute(ctx context.Context, args Args) (Result, error) {
	queryID := args.String("query_id")
	if queryID == "" {
		return InvalidInput("query_id is required"), nil
	}

	q, err := t.client.GetQuery(ctx, queryID)
	if err != nil {
		return nil, err
	}

	summary := fmt.Sprintf("Query %s is %s (%d%% complete)", q.ID, q.Status, q.Progress)
	res := Success(summary).
		With("query_id", q.ID).
		With("query_status", q.Status).
		With("progress_percent", q.Progress).
		With("next_actions", nextActions(q.Status))
	if q.CompletedAt != nil {
		res.With("completed_at", q.CompletedAt)
	}
	return res, nil
}

// Result formats accepted by get_results
const (
	FormatJSON    = "json"
	FormatCSV     = "csv"
	FormatSummary = "summary"
)

// getResults fetches the rows of a completed query
type getResults struct {
	client integration.Client
}

func (t *getResults) Name() string { return NameGetResults }

func (t *getResults) Description() string {
	return "Fetch the results of a completed query with a business summary."
}

func (t *getResults) InputSchema() map[string]interface{} {
	return objectSchema([]string{"query_id"}, map[string]interface{}{
		"query_id": stringProp("Query id returned by submit_query"),
		"format_type": map[string]interface{}{
			"type":        "string",
			"enum":        []string{FormatJSON, FormatCSV, FormatSummary},
			"description": "Result format (default json)",
		},
	})
}

func (t *getResults) CacheKey(args Args) (string, cache.Category) {
	return cache.Key(cache.CategoryResults, args.String("query_id"), map[string]interface{}{
		"format_type": resultFormat(args),
	}), cache.CategoryResults
}

func (t *getResults) Execute(ctx context.Context, args Args) (Result, error) {
	queryID := args.String("query_id")
	if queryID == "" {
		return InvalidInput("query_id is required"), nil
	}
	format := resultFormat(args)
	switch format {
	case FormatJSON, FormatCSV, FormatSummary:
	default:
		return InvalidInput(fmt.Sprintf("unsupported format_type %q", format)), nil
	}

	results, err := t.client.GetResults(ctx, queryID)
	if err != nil {
		return nil, err
	}

	businessSummary := results.Summary
	if businessSummary == "" {
		businessSummary = fmt.Sprintf("The query returned %d records", results.RecordCount)
	}

	res := Success(fmt.Sprintf("Query %s returned %d records", queryID, results.RecordCount)).
		With("query_id", queryID).
		With("record_count", results.RecordCount).
		With("business_summary", businessSummary).
		With("columns", results.Columns).
		With("format", format)

	switch format {
	case FormatCSV:
		text, err := encodeCSV(results)
		if err != nil {
			return nil, fmt.Errorf("failed to encode results: %w", err)
		}
		res.With("results", text)
	case FormatSummary:
		preview := results.Rows
		if len(preview) > 3 {
			preview = preview[:3]
		}
		res.With("results", preview)
	default:
		rows := results.Rows
		if rows == nil {
			rows = []map[string]interface{}{}
		}
		res.With("results", rows)
	}
	return res, nil
}

// listExports lists export jobs, optionally filtered by status
type listExports struct {
	client integration.Client
}

func (t *listExports) Name() string { return NameListExports }

func (t *listExports) Description() string {
	return "List data exports grouped by readiness."
}

func (t *listExports) InputSchema() map[string]interface{} {
	return objectSchema(nil, map[string]interface{}{
		"status_filter": map[string]interface{}{
			"type":        "string",
			"enum":        []string{"ready", "processing", "failed"},
			"description": "Only return exports in this state (optional)",
		},
	})
}

func (t *listExports) CacheKey(args Args) (string, cache.Category) {
	return cache.Key(cache.CategoryExports, "list", optionalParams(args, "status_filter")), cache.CategoryExports
}

func (t *listExports) Execute(ctx context.Context, args Args) (Result, error) {
	filter := strings.ToUpper(args.String("status_filter"))
	switch filter {
	case "", integration.ExportStatusReady, integration.ExportStatusProcessing, integration.ExportStatusFailed:
	default:
		return InvalidInput(fmt.Sprintf("unsupported status_filter %q", args.String("status_filter"))), nil
	}

	exports, err := t.client.ListExports(ctx)
	if err != nil {
		return nil, err
	}

	ready := []integration.Export{}
	processing := []integration.Export{}
	failed := []integration.Export{}
	for _, e := range exports {
		if filter != "" && e.Status != filter {
			continue
		}
		switch e.Status {
		case integration.ExportStatusReady:
			ready = append(ready, e)
		case integration.ExportStatusProcessing:
			processing = append(processing, e)
		case integration.ExportStatusFailed:
			failed = append(failed, e)
		}
	}

	total := len(ready) + len(processing) + len(failed)
	summary := fmt.Sprintf("%d exports: %d ready, %d processing, %d failed",
		total, len(ready), len(processing), len(failed))

	return Success(summary).
		With("total", total).
		With("ready_exports", ready).
		With("processing_exports", processing).
		With("failed_exports", failed), nil
}

// cacheInvalidate lets an operator drop cached entries by prefix
type cacheInvalidate struct {
	cache *cache.Cache
}

func (t *cacheInvalidate) Name() string { return NameCacheInvalidate }

func (t *cacheInvalidate) Description() string {
	return "Remove cached responses whose key starts with a prefix, e.g. \"partners:\". Use \"*\" for everything."
}

func (t *cacheInvalidate) InputSchema() map[string]interface{} {
	return objectSchema([]string{"prefix"}, map[string]interface{}{
		"prefix": stringProp("Key prefix to invalidate"),
	})
}

func (t *cacheInvalidate) Execute(ctx context.Context, args Args) (Result, error) {
	prefix := args.String("prefix")
	if prefix == "" {
		return InvalidInput("prefix is required"), nil
	}
	if prefix == "*" {
		prefix = ""
	}

	removed := t.cache.Invalidate(ctx, prefix)
	return Success(fmt.Sprintf("Removed %d cached entries", removed)).
		With("prefix", prefix).
		With("removed", removed), nil
}

// nextActions suggests what a user can do next in each query state
func nextActions(status string) []string {
	switch status {
	case integration.QueryStatusCompleted:
		return []string{"get_results", "list_exports"}
	case integration.QueryStatusFailed:
		return []string{"submit_query"}
	default:
		return []string{"check_status"}
	}
}

func resultFormat(args Args) string {
	f := strings.ToLower(args.String("format_type"))
	if f == "" {
		return FormatJSON
	}
	return f
}

// optionalParams returns the non-empty string args among keys, or nil
func optionalParams(args Args, keys ...string) map[string]interface{} {
	var out map[string]interface{}
	for _, k := range keys {
		if v := args.String(k); v != "" {
			if out == nil {
				out = make(map[string]interface{}, len(keys))
			}
			out[k] = v
		}
	}
	return out
}

func encodeCSV(results *integration.QueryResults) (string, error) {
	columns := results.Columns
	if len(columns) == 0 && len(results.Rows) > 0 {
		for k := range results.Rows[0] {
			columns = append(columns, k)
		}
		sort.Strings(columns)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return "", err
	}
	for _, row := range results.Rows {
		record := make([]string, len(columns))
		for i, c := range columns {
			if v, ok := row[c]; ok && v != nil {
				record[i] = fmt.Sprint(v)
			}
		}
		if err := w.Write(record); err != nil {
			return "", err
		}
	}
	w.Flush()
	return buf.String(), w.Error()
}
