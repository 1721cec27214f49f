package handler // declare the package name; contains HTTP handlers

import (
    "context"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
)

// Pinger is implemented by *sql.DB and anything else whose reachability
// the health check should report.
type Pinger interface {
    PingContext(ctx context.Context) error
}

// Health returns a health-check handler for load balancers.  It answers
// "ok" with 200, or "unavailable" with 503 when any pinger fails within a
// second.
func Health(deps ...Pinger) echo.HandlerFunc {
    return func(c echo.Context) error {
        ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second)
        defer cancel()
        for _, p := range deps {
            if p == nil {
                continue
            }
            if err := p.PingContext(ctx); err != nil {
                return c.String(http.StatusServiceUnavailable, "unavailable")
            }
        }
        return c.String(http.StatusOK, "ok")
    }
}
