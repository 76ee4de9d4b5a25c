package classify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyloop/internal/policy"
	"github.com/replyloop/internal/store"
)

func ruleRequest(body string) Request {
	return Request{
		Latest: store.Message{Body: body, Direction: store.DirectionInbound},
		Policy: policy.ApplyDefaults(policy.Policy{
			Assets: policy.Assets{
				DemoVideoURL: "https://demo.example.com",
				PricingURL:   "https://pricing.example.com",
			},
		}),
	}
}

func TestRuleClassifierDecline(t *testing.T) {
	rc := NewRuleClassifier()

	for _, body := range []string{
		"Please remove me from your list",
		"not interested, thanks",
		"UNSUBSCRIBE",
	} {
		decision, err := rc.Classify(context.Background(), ruleRequest(body))
		require.NoError(t, err)
		assert.Equal(t, IntentLowConfidence, decision.Intent, "body %q", body)
		assert.Empty(t, decision.Drafts)
	}
}

func TestRuleClassifierScheduling(t *testing.T) {
	rc := NewRuleClassifier()

	decision, err := rc.Classify(context.Background(), ruleRequest("Can we book a call next week?"))
	require.NoError(t, err)

	assert.Equal(t, IntentSchedule, decision.Intent)
	assert.True(t, decision.SchedulingIntent)
	require.Len(t, decision.Drafts, 1)
	assert.Contains(t, decision.Drafts[0].Body, "calendly")
}

func TestRuleClassifierInterest(t *testing.T) {
	rc := NewRuleClassifier()

	decision, err := rc.Classify(context.Background(), ruleRequest("What's your pricing?"))
	require.NoError(t, err)

	assert.Equal(t, IntentReply, decision.Intent)
	require.NotEmpty(t, decision.Drafts)
	assert.LessOrEqual(t, len(decision.Drafts), MaxDrafts)
	assert.Contains(t, decision.Drafts[0].Body, "https://pricing.example.com")
}

func TestRuleClassifierUnknownIsLowConfidence(t *testing.T) {
	rc := NewRuleClassifier()

	decision, err := rc.Classify(context.Background(), ruleRequest("The weather is nice today."))
	require.NoError(t, err)

	assert.Equal(t, IntentLowConfidence, decision.Intent)
	assert.Empty(t, decision.Drafts)
}

func TestFollowupDraftUsesPolicyAssets(t *testing.T) {
	p := policy.ApplyDefaults(policy.Policy{
		Assets: policy.Assets{DemoVideoURL: "https://demo.example.com"},
	})

	d := FollowupDraft(p)
	assert.Contains(t, d.Body, "circling back")
	assert.Contains(t, d.Body, "https://demo.example.com")

	bare := FollowupDraft(policy.Policy{})
	assert.NotContains(t, bare.Body, "http")
}
