// Package send is the only place outbound messages leave the system. The
// worker enforces the per-thread daily cap and quiet hours before anything
// reaches a delivery channel, and it alone advances a thread to
// awaiting_prospect.
package send

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"

	"github.com/replyloop/internal/config"
	"github.com/replyloop/internal/errs"
	"github.com/replyloop/internal/retry"
)

// Delivery is one outbound unit handed to a channel.
type Delivery struct {
	To      string
	From    string
	Subject string
	Body    string
	Assets  json.RawMessage
}

// Channel delivers an outbound message over a concrete transport.
type Channel interface {
	Deliver(ctx context.Context, d Delivery) error
}

// SMTPChannel delivers over SMTP.
type SMTPChannel struct {
	client      *mail.Client
	defaultFrom string
}

// NewSMTPChannel builds the SMTP channel from config.
func NewSMTPChannel(cfg config.ChannelConfig) (*SMTPChannel, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.SMTPPort),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.SMTPUser != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.SMTPUser),
			mail.WithPassword(cfg.SMTPPass),
		)
	}

	client, err := mail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}

	return &SMTPChannel{client: client, defaultFrom: cfg.From}, nil
}

// Deliver sends one message. Connection-level failures are tagged transient so
// the queue's retry schedule keeps attempting them; a hard rejection from the
// server is surfaced as-is.
func (c *SMTPChannel) Deliver(ctx context.Context, d Delivery) error {
	msg := mail.NewMsg()

	from := d.From
	if from == "" {
		from = c.defaultFrom
	}
	if err := msg.From(from); err != nil {
		return fmt.Errorf("invalid sender address %q: %w", from, err)
	}
	if err := msg.To(d.To); err != nil {
		return fmt.Errorf("invalid recipient address %q: %w", d.To, err)
	}
	msg.Subject(d.Subject)
	msg.SetBodyString(mail.TypeTextPlain, d.Body)

	if err := c.client.DialAndSendWithContext(ctx, msg); err != nil {
		if retry.IsRetryableError(err) {
			return &errs.TransientDependencyError{Dependency: "smtp", Err: err}
		}
		return fmt.Errorf("smtp rejected delivery: %w", err)
	}
	return nil
}

// LogChannel records deliveries to the log instead of sending. Used in
// development and when no SMTP host is configured.
type LogChannel struct {
	logger zerolog.Logger
}

// NewLogChannel creates a log-only delivery channel.
func NewLogChannel(logger zerolog.Logger) *LogChannel {
	return &LogChannel{logger: logger.With().Str("channel", "log").Logger()}
}

// Deliver logs the message and succeeds.
func (c *LogChannel) Deliver(_ context.Context, d Delivery) error {
	c.logger.Info().
		Str("to", d.To).
		Str("subject", d.Subject).
		Int("body_len", len(d.Body)).
		Msg("delivery (log channel, not sent)")
	return nil
}
