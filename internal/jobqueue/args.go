package jobqueue

import (
	"encoding/json"

	"github.com/riverqueue/river"
)

// Queue names. Workers for different queues run fully in parallel; workers
// within one queue serialize per thread via the lock arena.
const (
	QueueClassify = "classify"
	QueueSend     = "send"
	QueueSweep    = "sweep"
)

// Send job kinds.
const (
	SendKindApproved    = "send_approved"    // literal content, human approved
	SendKindProposeOnly = "propose_drafts"   // regenerate drafts without sending
	SendKindScheduling  = "offer_scheduling" // meeting offer built from policy
	SendKindProposal    = "proposal"         // offer-catalog SKU message
	SendKindFollowup    = "followup"         // sweep-originated nudge
)

// Job origins, recorded so an operator can tell a sweep-triggered send from an
// inbox-triggered one by its action trail alone.
const (
	OriginInbox = "inbox"
	OriginSweep = "sweep"
	OriginOps   = "ops"
)

// ClassifyArgs references a thread whose latest inbound message needs
// classification and drafting.
type ClassifyArgs struct {
	ThreadID string `json:"thread_id"`
}

// Kind returns the job kind for River
func (ClassifyArgs) Kind() string { return "thread_classify" }

// InsertOpts routes classify jobs to their queue.
func (ClassifyArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueClassify}
}

// SendArgs carries one unit of approved outbound work.
type SendArgs struct {
	ThreadID string `json:"thread_id"`
	SendKind string `json:"send_kind"`
	Origin   string `json:"origin"`

	// Literal content for send_approved (from a draft or caller-supplied).
	Subject *string         `json:"subject,omitempty"`
	Body    string          `json:"body,omitempty"`
	Assets  json.RawMessage `json:"assets,omitempty"`
	DraftID string          `json:"draft_id,omitempty"`

	// Scheduling offer.
	EventType string `json:"event_type,omitempty"`

	// Proposal.
	SKU string `json:"sku,omitempty"`
}

// Kind returns the job kind for River
func (SendArgs) Kind() string { return "thread_send" }

// InsertOpts routes send jobs to their queue.
func (SendArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueSend}
}

// SweepArgs triggers a stale-thread scan for one user.
type SweepArgs struct {
	UserID        string `json:"user_id"`
	LookbackHours int    `json:"lookback_hours"`
}

// Kind returns the job kind for River
func (SweepArgs) Kind() string { return "thread_sweep" }

// InsertOpts routes sweep jobs to their queue.
func (SweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueSweep}
}
