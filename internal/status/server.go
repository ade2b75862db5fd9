// Package status provides the local HTTP server of a villa process: health,
// bot state, metrics and the event callback endpoint.
package status

import (
	"context"
	"errors"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/villakit/villa/internal/bots"
	"github.com/villakit/villa/internal/version"
	"github.com/villakit/villa/pkg/api"
	"github.com/villakit/villa/pkg/codec"
	"github.com/villakit/villa/pkg/event"
)

// CallbackBodyLimit caps the size of a callback request body.
const CallbackBodyLimit = "1M"

// Server serves the status endpoints for a bot registry.
type Server struct {
	echo      *echo.Echo
	registry  *bots.Registry
	metrics   http.Handler
	codec     codec.Codec
	logger    zerolog.Logger
	startTime time.Time
}

// New creates a status server. metrics may be nil.
func New(registry *bots.Registry, metrics http.Handler, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		registry:  registry,
		metrics:   metrics,
		codec:     codec.Default(),
		logger:    logger.With().Str("component", "status").Logger(),
		startTime: time.Now(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Msg("request")
			return nil
		},
	}))
	s.echo.Use(middleware.Recover())
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/status", s.handleStatus)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}
	s.echo.POST("/callback/:bot", s.handleCallback, middleware.BodyLimit(CallbackBodyLimit))
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("Status server listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// StatusResponse represents the process status.
type StatusResponse struct {
	Status    string        `json:"status"`
	Version   string        `json:"version"`
	Uptime    string        `json:"uptime"`
	GoVersion string        `json:"goVersion"`
	Bots      []bots.Status `json:"bots"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Status:    "running",
		Version:   version.Version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		GoVersion: runtime.Version(),
		Bots:      s.registry.Status(),
	})
}

// handleCallback handles POST /callback/:bot, the HTTP delivery of robot
// events, and dispatches the event to the named bot. Only requests signed
// for a bot with a configured public key are accepted.
func (s *Server) handleCallback(c echo.Context) error {
	name := c.Param("bot")
	b, ok := s.registry.Get(name)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown bot")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}

	verifier, ok := s.registry.Verifier(name)
	if !ok {
		s.logger.Warn().Str("bot", name).Msg("Callback rejected: no public key configured")
		return echo.NewHTTPError(http.StatusUnauthorized, "callback verification not configured")
	}
	if err := verifier.Verify(body, c.Request().Header.Get(api.HeaderBotSign)); err != nil {
		s.logger.Warn().Err(err).Str("bot", name).Msg("Callback rejected")
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}
	ev, err := event.DecodeCallback(s.codec, body)
	if err != nil {
		s.logger.Warn().Err(err).Str("bot", name).Msg("Rejected callback")
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := b.Dispatch(ev, &event.Source{JSON: body}); err != nil {
		s.logger.Warn().Err(err).Str("bot", name).Msg("Callback for terminated bot")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "bot terminated")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"message": "",
		"retcode": 0,
	})
}
