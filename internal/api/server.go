// Package api exposes the pipeline over HTTP: the inbound webhook boundary,
// the policy surface, the action inbox, and a few operator helpers. Handlers
// stay thin; every decision lives in the services they call.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/replyloop/internal/errs"
	"github.com/replyloop/internal/inbox"
	"github.com/replyloop/internal/ingest"
	"github.com/replyloop/internal/jobqueue"
	"github.com/replyloop/internal/policy"
	"github.com/replyloop/internal/send"
)

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Ingest   *ingest.Service
	Inbox    *inbox.Service
	Policies *policy.Storage
	Queue    jobqueue.Enqueuer
	Channel  send.Channel

	JWTSecret     string
	LookbackHours int
}

// Server represents the API server
type Server struct {
	echo   *echo.Echo
	port   int
	deps   Deps
	logger zerolog.Logger
}

// NewServer creates a new API server
func NewServer(port int, deps Deps, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:   e,
		port:   port,
		deps:   deps,
		logger: logger.With().Str("component", "api").Logger(),
	}

	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	sales := s.echo.Group("/api/sales", RequireAuth(s.deps.JWTSecret))

	// Ingestion boundary. Real channel webhooks and the dev simulator both
	// land here.
	sales.POST("/inbound", s.postInbound)
	sales.POST("/sim-inbound", s.postSimInbound)

	// Policy surface.
	sales.GET("/policy", s.getPolicy)
	sales.POST("/policy", s.postPolicy)

	// Action inbox.
	sales.GET("/inbox", s.getInbox)
	sales.POST("/inbox/send-draft", s.postSendDraft)
	sales.POST("/inbox/edit-send", s.postEditSend)
	sales.POST("/inbox/offer-meeting", s.postOfferMeeting)
	sales.POST("/inbox/proposal", s.postProposal)
	sales.POST("/inbox/propose-drafts", s.postProposeDrafts)
	sales.POST("/inbox/escalate", s.postEscalate)
	sales.POST("/inbox/handoff", s.postHandoff)

	sales.GET("/thread/:id/timeline", s.getTimeline)

	// Operator helpers.
	sales.POST("/sweep", s.postSweep)
	sales.POST("/test-email", s.postTestEmail)
}

// Start begins the API server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

// httpError maps the error taxonomy onto HTTP statuses. Anything unmapped is
// a 500 with a generic body; details stay in the log.
func (s *Server) httpError(c echo.Context, err error) error {
	switch {
	case errs.IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errs.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errs.IsUnauthorized(err):
		return echo.NewHTTPError(http.StatusForbidden, "you do not own this thread")
	case errs.IsTransient(err):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "busy, retry shortly")
	default:
		s.logger.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
