package classify

import (
	"context"
	"fmt"
	"strings"
)

// RuleClassifier is a keyword-heuristic classifier. It backs deployments with
// no LLM configured and keeps the worker testable without network calls.
type RuleClassifier struct{}

// NewRuleClassifier creates a new rule-based classifier.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

var scheduleSignals = []string{
	"schedule", "calendar", "book a", "meet", "call", "demo next", "time to chat", "availability",
}

var declineSignals = []string{
	"unsubscribe", "not interested", "stop emailing", "remove me", "no thanks",
}

var interestSignals = []string{
	"pricing", "price", "interested", "tell me more", "more info", "how does", "demo", "trial",
}

// Classify applies keyword heuristics to the latest inbound message.
func (rc *RuleClassifier) Classify(_ context.Context, req Request) (Decision, error) {
	body := strings.ToLower(req.Latest.Body)

	for _, sig := range declineSignals {
		if strings.Contains(body, sig) {
			// Out of policy for automation; leave it to the human.
			return Decision{Intent: IntentLowConfidence}, nil
		}
	}

	for _, sig := range scheduleSignals {
		if strings.Contains(body, sig) {
			return Decision{
				Intent:           IntentSchedule,
				SchedulingIntent: true,
				Drafts:           []DraftCandidate{schedulingDraft(req)},
			}, nil
		}
	}

	for _, sig := range interestSignals {
		if strings.Contains(body, sig) {
			return Decision{
				Intent: IntentReply,
				Drafts: replyDrafts(req),
			}, nil
		}
	}

	return Decision{Intent: IntentLowConfidence}, nil
}

func schedulingDraft(req Request) DraftCandidate {
	p := req.Policy
	body := fmt.Sprintf("Happy to find a time — grab any slot that works: https://%s.com/%s",
		p.Scheduling.Provider, p.Scheduling.EventType)
	return DraftCandidate{Body: body}
}

func replyDrafts(req Request) []DraftCandidate {
	p := req.Policy

	var lines []string
	if strings.Contains(strings.ToLower(req.Latest.Body), "pric") && p.Assets.PricingURL != "" {
		lines = append(lines, "- Pricing details: "+p.Assets.PricingURL)
	}
	if p.Assets.DemoVideoURL != "" {
		lines = append(lines, "- Two-minute demo: "+p.Assets.DemoVideoURL)
	}
	if p.Assets.OnePagerURL != "" {
		lines = append(lines, "- One-pager: "+p.Assets.OnePagerURL)
	}

	short := "Thanks for reaching out! "
	if len(lines) > 0 {
		short += "Here's what you asked for:\n\n" + strings.Join(lines, "\n") + "\n\n"
	}
	short += "Want me to walk you through it live?"

	drafts := []DraftCandidate{{Body: short}}

	// A second, terser variant so the operator has a choice.
	if p.ReplyStyle.Length == "short" {
		alt := "Great to hear from you — happy to share more."
		if p.Assets.PricingURL != "" {
			alt += " Pricing is here: " + p.Assets.PricingURL + "."
		}
		alt += " Would a quick call help?"
		drafts = append(drafts, DraftCandidate{Body: alt})
	}

	return drafts
}
