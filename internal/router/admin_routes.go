package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-reservation/internal/handler"
	"github.com/iliyamo/studio-reservation/internal/middleware"
)

// RegisterAdmin registers studio administration under /v1/admin.  All
// routes require a valid JWT and the ADMIN role.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(RoleAdmin),
	)

	// ---- Catalogue ----
	g.POST("/resources", a.CreateResource)
	g.POST("/recurrences", a.CreateRecurrence)
	g.POST("/recurrences/:id/generate", a.Generate)
	g.PATCH("/occurrences/:id", a.PatchOccurrence)
	g.POST("/occurrences/:id/cancel", a.CancelOccurrence)

	// ---- Reservations ----
	g.POST("/reservations/:id/attendance", a.MarkAttendance)
	g.POST("/expire-stale", a.ExpireStale)

	// ---- Memberships ----
	g.POST("/membership-plans", a.CreatePlan)
	g.GET("/memberships/:id/audit", a.AuditMembership)
}
