package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/reservation-ledger/internal/handler"
	"github.com/iliyamo/reservation-ledger/internal/middleware"
	"github.com/iliyamo/reservation-ledger/internal/utils"
)

// RegisterRoutes registers routes that do not require authentication.
// Currently it exposes only the health check.
func RegisterRoutes(e *echo.Echo, deps ...handler.Pinger) {
	e.GET("/healthz", handler.Health(deps...))
}

// RegisterReservations mounts the hold ledger under /v1.  Every route
// accepts an optional bearer token so holds can be attributed to a holder;
// limiter (which may be nil) runs after identity so per-user keys work.
// The payment webhook and the admin sweep additionally require a role.
func RegisterReservations(e *echo.Echo, h *handler.ReservationHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	mw := []echo.MiddlewareFunc{middleware.OptionalJWT(jwtSecret)}
	if limiter != nil {
		mw = append(mw, limiter)
	}
	g := e.Group("/v1", mw...)

	g.POST("/holds", h.CreateHold)
	g.GET("/reservations/:id", h.GetReservation)
	g.POST("/reservations/:id/cancel", h.CancelReservation)
	g.POST("/reservations/:id/confirm", h.ConfirmPayment, middleware.RequireRole(utils.RolePaymentWatcher))

	admin := g.Group("/admin", middleware.RequireRole(utils.RoleAdmin))
	admin.POST("/sweep", h.Sweep)
}
