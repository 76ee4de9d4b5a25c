package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecisionValidJSON(t *testing.T) {
	raw := `{"intent": "reply", "scheduling_intent": false, "drafts": [{"body": "Hello there"}]}`

	decision, err := parseDecision(raw)
	require.NoError(t, err)

	assert.Equal(t, IntentReply, decision.Intent)
	require.Len(t, decision.Drafts, 1)
	assert.Equal(t, "Hello there", decision.Drafts[0].Body)
}

func TestParseDecisionStripsMarkdownFence(t *testing.T) {
	raw := "```json\n{\"intent\": \"schedule\", \"scheduling_intent\": true, \"drafts\": []}\n```"

	decision, err := parseDecision(raw)
	require.NoError(t, err)

	assert.Equal(t, IntentSchedule, decision.Intent)
	assert.True(t, decision.SchedulingIntent)
}

func TestParseDecisionRepairsSloppyJSON(t *testing.T) {
	// Trailing comma and single quotes, the usual model sloppiness.
	raw := `{'intent': 'reply', 'drafts': [{'body': 'Hi',},],}`

	decision, err := parseDecision(raw)
	require.NoError(t, err)

	assert.Equal(t, IntentReply, decision.Intent)
	require.Len(t, decision.Drafts, 1)
}

func TestParseDecisionRejectsUnknownIntent(t *testing.T) {
	_, err := parseDecision(`{"intent": "purchase", "drafts": []}`)
	assert.Error(t, err)
}

func TestParseDecisionRejectsNonJSON(t *testing.T) {
	_, err := parseDecision("I'm sorry, I can't help with that.")
	assert.Error(t, err)
}
