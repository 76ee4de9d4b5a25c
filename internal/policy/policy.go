// Package policy holds the per-user automation configuration: tone, scheduling,
// sender identity, offer catalog, and rate limits. Stored records remain a
// faithful partial representation of what the user actually set; defaults are
// applied at read time only, so every downstream worker can assume a fully
// populated policy.
package policy

// Mode controls whether the agent shares the prospect's info with the human or
// handles the conversation autonomously.
type Mode string

const (
	ModeShare  Mode = "share"
	ModeHandle Mode = "handle"
)

// ReplyStyle shapes generated drafts.
type ReplyStyle struct {
	Tone             string `json:"tone,omitempty"`
	Length           string `json:"length,omitempty"`
	Format           string `json:"format,omitempty"`
	ObjectionPosture string `json:"objection_posture,omitempty"`
}

// ContactCapture toggles which prospect details drafts may ask for.
type ContactCapture struct {
	AskPhone      *bool `json:"ask_phone,omitempty"`
	AskTeamSize   *bool `json:"ask_team_size,omitempty"`
	AskTimeline   *bool `json:"ask_timeline,omitempty"`
	OnlyIfMissing *bool `json:"only_if_missing,omitempty"`
}

// Scheduling configures meeting offers.
type Scheduling struct {
	Provider       string `json:"provider,omitempty"`
	EventType      string `json:"event_type,omitempty"`
	TimeWindowDays int    `json:"time_window_days,omitempty"`
	WorkHours      string `json:"work_hours,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
}

// Sender configures outbound identity.
type Sender struct {
	Behavior string `json:"behavior,omitempty"` // "single" or "rotate"
	Email    string `json:"email,omitempty"`
}

// Offer is one entry of the offer catalog, referenced by SKU in proposal sends.
type Offer struct {
	SKU   string `json:"sku"`
	Name  string `json:"name"`
	Price string `json:"price"`
	Link  string `json:"link,omitempty"`
}

// Assets are shareable links drafts may include.
type Assets struct {
	DemoVideoURL string `json:"demo_video_url,omitempty"`
	PricingURL   string `json:"pricing_url,omitempty"`
	DeckURL      string `json:"deck_url,omitempty"`
	OnePagerURL  string `json:"one_pager_url,omitempty"`
}

// Limits are the rate constraints the send worker enforces.
type Limits struct {
	PerThreadDaily  int    `json:"per_thread_daily,omitempty"`
	QuietHoursLocal string `json:"quiet_hours_local,omitempty"`
	MaxFollowups    int    `json:"max_followups,omitempty"`
}

// Policy is the per-user automation configuration. Exactly one row per user.
type Policy struct {
	Mode           Mode           `json:"mode,omitempty"`
	ReplyStyle     ReplyStyle     `json:"reply_style,omitempty"`
	ContactCapture ContactCapture `json:"contact_capture,omitempty"`
	Scheduling     Scheduling     `json:"scheduling,omitempty"`
	Sender         Sender         `json:"sender,omitempty"`
	Offers         []Offer        `json:"offers,omitempty"`
	Assets         Assets         `json:"assets,omitempty"`
	Limits         Limits         `json:"limits,omitempty"`
}

func boolPtr(b bool) *bool { return &b }

// Defaults returns the fully populated default policy.
func Defaults() Policy {
	return Policy{
		Mode: ModeHandle,
		ReplyStyle: ReplyStyle{
			Tone:             "friendly-direct",
			Length:           "short",
			Format:           "bullet_then_cta",
			ObjectionPosture: "clarify_then_value",
		},
		ContactCapture: ContactCapture{
			AskPhone:      boolPtr(false),
			AskTeamSize:   boolPtr(true),
			AskTimeline:   boolPtr(true),
			OnlyIfMissing: boolPtr(true),
		},
		Scheduling: Scheduling{
			Provider:       "calendly",
			EventType:      "15min-intro",
			TimeWindowDays: 10,
			WorkHours:      "9-5",
			Timezone:       "America/Chicago",
		},
		Sender: Sender{Behavior: "single"},
		Offers: []Offer{},
		Limits: Limits{
			PerThreadDaily:  1,
			QuietHoursLocal: "20:00-07:00",
			MaxFollowups:    4,
		},
	}
}

// ApplyDefaults fills any unset field of p from the defaults. Called on every
// read; never on write.
func ApplyDefaults(p Policy) Policy {
	d := Defaults()

	if p.Mode == "" {
		p.Mode = d.Mode
	}
	if p.ReplyStyle.Tone == "" {
		p.ReplyStyle.Tone = d.ReplyStyle.Tone
	}
	if p.ReplyStyle.Length == "" {
		p.ReplyStyle.Length = d.ReplyStyle.Length
	}
	if p.ReplyStyle.Format == "" {
		p.ReplyStyle.Format = d.ReplyStyle.Format
	}
	if p.ReplyStyle.ObjectionPosture == "" {
		p.ReplyStyle.ObjectionPosture = d.ReplyStyle.ObjectionPosture
	}
	if p.ContactCapture.AskPhone == nil {
		p.ContactCapture.AskPhone = d.ContactCapture.AskPhone
	}
	if p.ContactCapture.AskTeamSize == nil {
		p.ContactCapture.AskTeamSize = d.ContactCapture.AskTeamSize
	}
	if p.ContactCapture.AskTimeline == nil {
		p.ContactCapture.AskTimeline = d.ContactCapture.AskTimeline
	}
	if p.ContactCapture.OnlyIfMissing == nil {
		p.ContactCapture.OnlyIfMissing = d.ContactCapture.OnlyIfMissing
	}
	if p.Scheduling.Provider == "" {
		p.Scheduling.Provider = d.Scheduling.Provider
	}
	if p.Scheduling.EventType == "" {
		p.Scheduling.EventType = d.Scheduling.EventType
	}
	if p.Scheduling.TimeWindowDays == 0 {
		p.Scheduling.TimeWindowDays = d.Scheduling.TimeWindowDays
	}
	if p.Scheduling.WorkHours == "" {
		p.Scheduling.WorkHours = d.Scheduling.WorkHours
	}
	if p.Scheduling.Timezone == "" {
		p.Scheduling.Timezone = d.Scheduling.Timezone
	}
	if p.Sender.Behavior == "" {
		p.Sender.Behavior = d.Sender.Behavior
	}
	if p.Offers == nil {
		p.Offers = []Offer{}
	}
	if p.Limits.PerThreadDaily == 0 {
		p.Limits.PerThreadDaily = d.Limits.PerThreadDaily
	}
	if p.Limits.QuietHoursLocal == "" {
		p.Limits.QuietHoursLocal = d.Limits.QuietHoursLocal
	}
	if p.Limits.MaxFollowups == 0 {
		p.Limits.MaxFollowups = d.Limits.MaxFollowups
	}

	return p
}

// ComputeNeeds returns missing-but-recommended fields. Advisory only; a write
// with needs outstanding still succeeds.
func ComputeNeeds(p Policy) []string {
	needs := make([]string, 0)
	if p.Sender.Behavior == "single" && p.Sender.Email == "" {
		needs = append(needs, "sender_email")
	}
	if p.Assets.DemoVideoURL == "" {
		needs = append(needs, "demo_video_url")
	}
	if p.Assets.PricingURL == "" {
		needs = append(needs, "pricing_url")
	}
	return needs
}

// FindOffer looks up an offer by SKU in the catalog.
func (p Policy) FindOffer(sku string) (Offer, bool) {
	for _, o := range p.Offers {
		if o.SKU == sku {
			return o, true
		}
	}
	return Offer{}, false
}
