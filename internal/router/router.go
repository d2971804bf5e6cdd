// Package router registers the HTTP routes of the API.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/studio-reservation/internal/handler"
	"github.com/iliyamo/studio-reservation/internal/middleware"
)

// Role names carried in the identity collaborator's access tokens.
const (
	RoleMember = "MEMBER"
	RoleAdmin  = "ADMIN"
)

// Handlers bundles everything the routes dispatch to.
type Handlers struct {
	Occurrences  *handler.OccurrenceHandler
	Reservations *handler.ReservationHandler
	Webhooks     *handler.WebhookHandler
	Membership   *handler.MembershipHandler
	Admin        *handler.AdminHandler
}

// Options carries the cross-cutting middleware.  Nil middleware is
// skipped.
type Options struct {
	JWTSecret string
	Cache     *middleware.ResponseCache
	RateLimit echo.MiddlewareFunc
	Metrics   bool
}

// RegisterRoutes registers the probes: /healthz and, when enabled,
// /metrics.
func RegisterRoutes(e *echo.Echo, metrics bool) {
	e.GET("/healthz", handler.Health)
	if metrics {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}
}

// Register mounts every route group.
func Register(e *echo.Echo, h Handlers, opts Options) {
	RegisterRoutes(e, opts.Metrics)
	RegisterPublic(e, h, opts)
	RegisterMember(e, h, opts.JWTSecret)
	RegisterAdmin(e, h.Admin, opts.JWTSecret)
}

// RegisterPublic registers the routes guests can reach.  Reserve and
// cancel accept an optional member token; webhooks authenticate by
// provider signature only.
func RegisterPublic(e *echo.Echo, h Handlers, opts Options) {
	g := e.Group("/v1")

	list := []echo.MiddlewareFunc{}
	if opts.Cache != nil {
		list = append(list, opts.Cache.Middleware())
	}
	g.GET("/occurrences", h.Occurrences.List, list...)
	g.GET("/occurrences/:id", h.Occurrences.Get)
	g.GET("/membership-plans", h.Membership.Plans)

	mw := []echo.MiddlewareFunc{middleware.OptionalJWT(opts.JWTSecret)}
	if opts.RateLimit != nil {
		mw = append(mw, opts.RateLimit)
	}
	g.POST("/occurrences/:id/reservations", h.Reservations.Reserve, mw...)
	g.POST("/reservations/:id/cancel", h.Reservations.Cancel, mw...)

	g.POST("/webhooks/card", h.Webhooks.Card)
	g.POST("/webhooks/bank", h.Webhooks.Bank)
}
