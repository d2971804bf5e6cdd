package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-reservation/internal/middleware"
)

// RegisterMember registers the /v1/me endpoints.  All routes require a
// valid JWT with the MEMBER role.
func RegisterMember(e *echo.Echo, h Handlers, jwtSecret string) {
	g := e.Group(
		"/v1/me",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(RoleMember),
	)
	g.GET("/reservations", h.Reservations.ListMine)
	g.GET("/membership", h.Membership.Current)
	g.POST("/membership/purchase", h.Membership.Purchase)
	g.POST("/membership/cancel", h.Membership.Cancel)
}
