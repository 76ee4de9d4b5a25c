// Package store is the durable record of conversation threads, their messages,
// and the human-visible action trail. It is the single source of truth for
// thread state; all mutation flows through the workers.
package store

import (
	"encoding/json"
	"time"
)

// ThreadStatus is the thread state machine. Only two states exist: a thread is
// either waiting on a human decision or waiting on the prospect to reply.
// Exhausted threads stay awaiting_human with an action trail instead of
// moving to a separate dormant status.
type ThreadStatus string

const (
	StatusAwaitingHuman    ThreadStatus = "awaiting_human"
	StatusAwaitingProspect ThreadStatus = "awaiting_prospect"
)

// Channel identifies where a conversation lives.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelLinkedIn Channel = "linkedin"
	ChannelWeb      Channel = "web"
)

// ValidChannel reports whether c is a known channel value.
func ValidChannel(c Channel) bool {
	switch c {
	case ChannelEmail, ChannelLinkedIn, ChannelWeb:
		return true
	}
	return false
}

// Direction classifies a message within a thread.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionDraft    Direction = "draft"
)

// Thread is a conversation with one prospect on one channel.
// (user_id, channel, external_thread_id) is unique; a missing external id is
// stored as "" so keyless conversations still get distinct threads per lookup.
type Thread struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	LeadRef          *string         `json:"lead_ref,omitempty"`
	Channel          Channel         `json:"channel"`
	ExternalThreadID string          `json:"external_thread_id"`
	Status           ThreadStatus    `json:"status"`
	LastInboundAt    *time.Time      `json:"last_inbound_at,omitempty"`
	LastOutboundAt   *time.Time      `json:"last_outbound_at,omitempty"`
	Metadata         json.RawMessage `json:"metadata"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Message is one unit of conversation content. Drafts are proposals and are
// never delivered directly; only the send worker turns content into an
// outbound message.
type Message struct {
	ID        string          `json:"id"`
	ThreadID  string          `json:"thread_id"`
	Direction Direction       `json:"direction"`
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Subject   *string         `json:"subject,omitempty"`
	Body      string          `json:"body"`
	Assets    json.RawMessage `json:"assets"`
	CreatedAt time.Time       `json:"created_at"`
}

// Action kinds recorded on the audit trail.
const (
	ActionEscalate           = "escalate"
	ActionManualHandoff      = "manual_handoff"
	ActionSchedulingIntent   = "scheduling_intent"
	ActionClassifyFailed     = "classify_failed"
	ActionSendFailed         = "send_failed"
	ActionFollowupSent       = "followup_sent"
	ActionFollowupsExhausted = "followups_exhausted"
)

// Action is an append-only audit/escalation record tied to a thread.
type Action struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Kind      string    `json:"kind"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

// InboxItem is one row of the action inbox: a thread awaiting a human decision
// enriched with its latest inbound message and any pending drafts.
type InboxItem struct {
	Thread        Thread    `json:"thread"`
	LatestInbound *Message  `json:"latest_inbound_message,omitempty"`
	Drafts        []Message `json:"pending_drafts"`
}

// TimelineEntry merges messages and actions into one chronological view.
type TimelineEntry struct {
	At      time.Time `json:"at"`
	Message *Message  `json:"message,omitempty"`
	Action  *Action   `json:"action,omitempty"`
}
