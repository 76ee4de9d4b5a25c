package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/replyloop/internal/ingest"
	"github.com/replyloop/internal/jobqueue"
	"github.com/replyloop/internal/policy"
	"github.com/replyloop/internal/send"
	"github.com/replyloop/internal/store"
)

func (s *Server) postInbound(c echo.Context) error {
	var msg ingest.InboundMessage
	if err := c.Bind(&msg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	msg.UserID = userID(c)

	result, err := s.deps.Ingest.Ingest(c.Request().Context(), msg)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusAccepted, result)
}

// postSimInbound is the dev helper: same path as a real inbound but with
// liberal defaults so a one-line curl exercises the whole pipeline.
func (s *Server) postSimInbound(c echo.Context) error {
	var msg ingest.InboundMessage
	if err := c.Bind(&msg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	msg.UserID = userID(c)
	if msg.Channel == "" {
		msg.Channel = store.ChannelEmail
	}
	if msg.Sender == "" {
		msg.Sender = "prospect@example.com"
	}
	if msg.Body == "" {
		msg.Body = "Tell me more about pricing."
	}

	result, err := s.deps.Ingest.Ingest(c.Request().Context(), msg)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusAccepted, result)
}

func (s *Server) getPolicy(c echo.Context) error {
	pol, err := s.deps.Policies.Get(c.Request().Context(), userID(c))
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"policy": pol,
		"needs":  policy.ComputeNeeds(pol),
	})
}

func (s *Server) postPolicy(c echo.Context) error {
	var pol policy.Policy
	if err := c.Bind(&pol); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	needs, err := s.deps.Policies.Put(c.Request().Context(), userID(c), pol)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"saved": true,
		"needs": needs,
	})
}

func (s *Server) getInbox(c echo.Context) error {
	items, err := s.deps.Inbox.ListItems(c.Request().Context(), userID(c))
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": items})
}

type threadCommand struct {
	ThreadID  string  `json:"thread_id"`
	DraftID   string  `json:"draft_id,omitempty"`
	Subject   *string `json:"subject,omitempty"`
	Body      string  `json:"body,omitempty"`
	EventType string  `json:"event_type,omitempty"`
	SKU       string  `json:"sku,omitempty"`
	Note      string  `json:"note,omitempty"`
}

func bindCommand(c echo.Context) (threadCommand, error) {
	var cmd threadCommand
	if err := c.Bind(&cmd); err != nil {
		return cmd, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if cmd.ThreadID == "" {
		return cmd, echo.NewHTTPError(http.StatusBadRequest, "thread_id is required")
	}
	return cmd, nil
}

func (s *Server) postSendDraft(c echo.Context) error {
	cmd, err := bindCommand(c)
	if err != nil {
		return err
	}
	if cmd.DraftID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "draft_id is required")
	}

	result, err := s.deps.Inbox.SendDraft(c.Request().Context(), userID(c), cmd.ThreadID, cmd.DraftID)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusAccepted, result)
}

func (s *Server) postEditSend(c echo.Context) error {
	cmd, err := bindCommand(c)
	if err != nil {
		return err
	}

	result, err := s.deps.Inbox.EditAndSend(c.Request().Context(), userID(c), cmd.ThreadID, cmd.Subject, cmd.Body)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusAccepted, result)
}

func (s *Server) postOfferMeeting(c echo.Context) error {
	cmd, err := bindCommand(c)
	if err != nil {
		return err
	}

	result, err := s.deps.Inbox.OfferMeeting(c.Request().Context(), userID(c), cmd.ThreadID, cmd.EventType)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusAccepted, result)
}

func (s *Server) postProposal(c echo.Context) error {
	cmd, err := bindCommand(c)
	if err != nil {
		return err
	}

	result, err := s.deps.Inbox.SendProposal(c.Request().Context(), userID(c), cmd.ThreadID, cmd.SKU)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusAccepted, result)
}

func (s *Server) postProposeDrafts(c echo.Context) error {
	cmd, err := bindCommand(c)
	if err != nil {
		return err
	}

	result, err := s.deps.Inbox.ProposeDrafts(c.Request().Context(), userID(c), cmd.ThreadID)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusAccepted, result)
}

func (s *Server) postEscalate(c echo.Context) error {
	cmd, err := bindCommand(c)
	if err != nil {
		return err
	}

	if err := s.deps.Inbox.Escalate(c.Request().Context(), userID(c), cmd.ThreadID, cmd.Note); err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"escalated": true})
}

func (s *Server) postHandoff(c echo.Context) error {
	cmd, err := bindCommand(c)
	if err != nil {
		return err
	}

	if err := s.deps.Inbox.ManualHandoff(c.Request().Context(), userID(c), cmd.ThreadID); err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"handed_off": true})
}

func (s *Server) getTimeline(c echo.Context) error {
	entries, err := s.deps.Inbox.Timeline(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"timeline": entries})
}

// postSweep queues an immediate sweep for the caller, outside the cron cycle.
func (s *Server) postSweep(c echo.Context) error {
	var body struct {
		LookbackHours int `json:"lookback_hours"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if body.LookbackHours <= 0 {
		body.LookbackHours = s.deps.LookbackHours
	}

	args := jobqueue.SweepArgs{UserID: userID(c), LookbackHours: body.LookbackHours}
	if err := s.deps.Queue.EnqueueSweep(c.Request().Context(), args); err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]bool{"queued": true})
}

// postTestEmail exercises the delivery channel end to end without touching any
// thread.
func (s *Server) postTestEmail(c echo.Context) error {
	var body struct {
		To string `json:"to"`
	}
	if err := c.Bind(&body); err != nil || body.To == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "to is required")
	}

	d := send.Delivery{
		To:      body.To,
		Subject: "ReplyLoop delivery test",
		Body:    "This is a test message confirming your delivery channel works.",
	}
	if err := s.deps.Channel.Deliver(c.Request().Context(), d); err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"sent": true})
}
