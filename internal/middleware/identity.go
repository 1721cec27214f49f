package middleware

// identity.go holds the context keys set by the JWT middleware and the
// accessors handlers use to read them back.

import "github.com/labstack/echo/v4"

const (
    ctxUserID = "user_id"
    ctxRole   = "role"
)

// HolderID returns the authenticated subject, or "" for anonymous callers.
func HolderID(c echo.Context) string {
    if s, ok := c.Get(ctxUserID).(string); ok {
        return s
    }
    return ""
}

// Role returns the caller's role claim, or "".
func Role(c echo.Context) string {
    if s, ok := c.Get(ctxRole).(string); ok {
        return s
    }
    return ""
}

// userID is HolderID with "anon" standing in for anonymous callers, for use
// in rate-limit keys.
func userID(c echo.Context) string {
    if id := HolderID(c); id != "" {
        return id
    }
    return "anon"
}
