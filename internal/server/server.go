// Package server assembles the echo instance: middleware, auth, routes.
package server

import (
	"context"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loopline-io/loopline/internal/auth"
	"github.com/loopline-io/loopline/internal/handlers"
	"github.com/loopline-io/loopline/internal/webhook"
)

type Server struct {
	echo *echo.Echo
	addr string
}

// NewServer wires middleware and routes. Webhook, RSVP, ping, and metrics
// endpoints are public; everything else requires a JWT.
func NewServer(log *slog.Logger, addr, jwtSecret string, gatherer prometheus.Gatherer, pingHandler *handlers.PingHandler, sendHandler *handlers.SendHandler, rsvpHandler *handlers.RSVPHandler, webhookHandler *webhook.Handler) *Server {
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = handlers.NewValidator()
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status))
			return nil
		},
	}))
	e.Use(auth.JWTMiddleware(jwtSecret, func(c echo.Context) bool {
		path := c.Request().URL.Path
		if path == "/ping" || path == "/metrics" {
			return true
		}
		if strings.HasPrefix(path, "/webhooks/") {
			return true
		}
		if strings.HasPrefix(path, "/rsvp/") {
			return true
		}
		return false
	}))

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	if pingHandler != nil {
		pingHandler.Register(e)
	}
	if sendHandler != nil {
		sendHandler.Register(e)
	}
	if rsvpHandler != nil {
		rsvpHandler.Register(e)
	}
	if webhookHandler != nil {
		webhookHandler.Register(e)
	}

	return &Server{echo: e, addr: addr}
}

func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
