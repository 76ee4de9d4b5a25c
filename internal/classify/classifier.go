// Package classify consumes classification jobs: it determines the intent of
// the latest inbound message and produces candidate draft replies for human
// approval. The classification capability itself is pluggable; the worker
// never sends and never advances a thread to awaiting_prospect.
package classify

import (
	"context"

	"github.com/replyloop/internal/policy"
	"github.com/replyloop/internal/store"
)

// Intent values a classification can produce.
const (
	IntentReply         = "reply"
	IntentSchedule      = "schedule"
	IntentLowConfidence = "low_confidence"
)

// Request is the thread context handed to the classifier.
type Request struct {
	Latest  store.Message
	History []store.Message
	Policy  policy.Policy
}

// DraftCandidate is one proposed reply.
type DraftCandidate struct {
	Subject *string `json:"subject,omitempty"`
	Body    string  `json:"body"`
}

// Decision is the classifier's output: zero to three drafts plus an optional
// scheduling-intent flag. Low confidence means no drafts; the thread stays
// awaiting_human so an operator handles it from scratch.
type Decision struct {
	Intent           string           `json:"intent"`
	SchedulingIntent bool             `json:"scheduling_intent"`
	Drafts           []DraftCandidate `json:"drafts"`
}

// MaxDrafts bounds how many candidates one classification pass may persist.
const MaxDrafts = 3

// Classifier is the pluggable classification/generation capability.
type Classifier interface {
	Classify(ctx context.Context, req Request) (Decision, error)
}

// FollowupDraft builds the nudge message a sweep-originated follow-up sends.
// Kept here so sweep follow-ups reuse the same generation surface as
// first-touch drafting.
func FollowupDraft(p policy.Policy) DraftCandidate {
	body := "Just circling back on my last note — any thoughts?"
	if p.Assets.DemoVideoURL != "" {
		body += "\n\nIf it helps, here's a quick demo: " + p.Assets.DemoVideoURL
	}
	if p.Scheduling.EventType != "" {
		body += "\nHappy to walk through it live as well."
	}
	return DraftCandidate{Body: body}
}
