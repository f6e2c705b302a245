package agent

import (
	"context"
	"testing"

	"github.com/habubridge/habubridge/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestKeywordPhrases tests that every supported phrase resolves to its action
func TestKeywordPhrases(t *testing.T) {
	cases := map[string]models.Action{
		"Show me my partners":                      models.ActionListPartners,
		"who are my collaborators?":                models.ActionListPartners,
		"Who am I working with":                    models.ActionListPartners,
		"list templates":                           models.ActionListTemplates,
		"what questions are available":             models.ActionListTemplates,
		"What can I run?":                          models.ActionListTemplates,
		"show my clean rooms":                      models.ActionListCleanrooms,
		"list cleanrooms":                          models.ActionListCleanrooms,
		"Submit a query for tmpl-audience-overlap": models.ActionSubmitQuery,
		"run the template CRQ-00101":               models.ActionSubmitQuery,
		"execute tmpl-attribution":                 models.ActionSubmitQuery,
		"launch the overlap analysis":              models.ActionSubmitQuery,
		"start a new query":                        models.ActionSubmitQuery,
		"what's the status of query_1a2b3c4d":      models.ActionCheckStatus,
		"how is my query doing":                    models.ActionCheckStatus,
		"is it done yet?":                          models.ActionCheckStatus,
		"check progress":                           models.ActionCheckStatus,
		"get results for query_1a2b3c4d":           models.ActionGetResults,
		"show me the findings":                     models.ActionGetResults,
		"list my exports":                          models.ActionListExports,
		"any downloads ready?":                     models.ActionListExports,
		"good morning":                             models.ActionUnknown,
	}

	k := NewKeywordClassifier()
	for text, want := range cases {
		t.Run(text, func(t *testing.T) {
			d, err := k.Classify(context.Background(), text, nil)
			require.NoError(t, err)
			assert.Equal(t, want, d.Action)
			assert.Equal(t, "keyword", d.Source)
		})
	}
}

// TestKeywordPriority tests the tie-break when phrases of several actions appear
func TestKeywordPriority(t *testing.T) {
	cases := []struct {
		text string
		want models.Action
	}{
		{"check the status and results of query_42", models.ActionGetResults},
		{"submit a query and report its status", models.ActionCheckStatus},
		{"submit the export template", models.ActionSubmitQuery},
		{"export the list of templates", models.ActionListExports},
		{"templates shared with partners", models.ActionListTemplates},
		{"partners in each clean room", models.ActionListPartners},
	}

	k := NewKeywordClassifier()
	for _, tc := range cases {
		d, err := k.Classify(context.Background(), tc.text, nil)
		require.NoError(t, err)
		assert.Equal(t, tc.want, d.Action, tc.text)
	}
}

// TestKeywordEntities tests regex extraction of ids and known names
func TestKeywordEntities(t *testing.T) {
	k := NewKeywordClassifier()
	ctx := context.Background()

	d, err := k.Classify(ctx, "Get results for query_9f8e7d6c as CSV", nil)
	require.NoError(t, err)
	assert.Equal(t, "query_9f8e7d6c", d.Params["query_id"])
	assert.Equal(t, "csv", d.Params["format_type"])

	d, err = k.Classify(ctx, "submit CRQ-00102 in cr-ctv-measurement-002", nil)
	require.NoError(t, err)
	assert.Equal(t, "CRQ-00102", d.Params["template_id"])
	assert.Equal(t, "cr-ctv-measurement-002", d.Params["cleanroom_id"])

	d, err = k.Classify(ctx, "which exports failed?", nil)
	require.NoError(t, err)
	assert.Equal(t, "failed", d.Params["status_filter"])

	d, err = k.Classify(ctx, "what about The Trade Desk?", nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionListPartners, d.Action)
	assert.Equal(t, "The Trade Desk", d.Params["partner"])

	d, err = k.Classify(ctx, "tell me about the metadata", nil)
	require.NoError(t, err)
	assert.NotContains(t, d.Params, "partner")
	assert.Equal(t, models.ActionUnknown, d.Action)
}
