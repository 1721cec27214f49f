package handler

import (
    "errors"
    "math"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/reservation-ledger/internal/ledger"
    "github.com/iliyamo/reservation-ledger/internal/middleware"
    "github.com/iliyamo/reservation-ledger/internal/model"
)

// ReservationHandler exposes the hold ledger over HTTP.  Identity and role
// checks are done by middleware before these methods run.
type ReservationHandler struct {
    Ledger  *ledger.Ledger
    Sweeper *ledger.Sweeper
    Log     logrus.FieldLogger
}

// NewReservationHandler constructs a ReservationHandler.  It panics if the
// ledger or sweeper is nil.
func NewReservationHandler(l *ledger.Ledger, sw *ledger.Sweeper, log logrus.FieldLogger) *ReservationHandler {
    if l == nil || sw == nil {
        panic("nil dependency passed to NewReservationHandler")
    }
    if log == nil {
        log = logrus.StandardLogger()
    }
    return &ReservationHandler{Ledger: l, Sweeper: sw, Log: log}
}

// maxHoldSeconds is the largest hold length that still fits a time.Duration.
const maxHoldSeconds = math.MaxInt64 / int64(time.Second)

type createHoldRequest struct {
    ResourceID  string `json:"resource_id"`
    HoldSeconds int64  `json:"hold_seconds"`
}

type confirmResponse struct {
    Outcome     ledger.Outcome    `json:"outcome"`
    Changed     bool              `json:"changed"`
    Reservation model.Reservation `json:"reservation"`
}

type cancelResponse struct {
    Cancelled   bool              `json:"cancelled"`
    Reservation model.Reservation `json:"reservation"`
}

// CreateHold handles POST /v1/holds.  The body names the resource and an
// optional hold length in seconds; zero or negative uses the configured
// default.  The holder is the authenticated subject, or empty for anonymous
// callers.  Responds 201 with the new reservation.
func (h *ReservationHandler) CreateHold(c echo.Context) error {
    var body createHoldRequest
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    if strings.TrimSpace(body.ResourceID) == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "resource_id is required"})
    }
    if body.HoldSeconds > maxHoldSeconds {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "hold_seconds is too large"})
    }
    d := time.Duration(body.HoldSeconds) * time.Second
    res, err := h.Ledger.CreateHold(c.Request().Context(), body.ResourceID, middleware.HolderID(c), d)
    if err != nil {
        return h.fail(c, err)
    }
    return c.JSON(http.StatusCreated, res)
}

// GetReservation handles GET /v1/reservations/:id.  A reservation with a
// holder is only visible to that holder.
func (h *ReservationHandler) GetReservation(c echo.Context) error {
    res, err := h.Ledger.Get(c.Request().Context(), c.Param("id"))
    if err != nil {
        return h.fail(c, err)
    }
    if !ownedBy(res, c) {
        return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
    }
    return c.JSON(http.StatusOK, res)
}

// ConfirmPayment handles POST /v1/reservations/:id/confirm, the payment
// watcher's webhook.  Expiry is reported as an outcome with 200, not as an
// error; repeated calls report the settled state.
func (h *ReservationHandler) ConfirmPayment(c echo.Context) error {
    result, err := h.Ledger.ConfirmPayment(c.Request().Context(), c.Param("id"))
    if err != nil {
        return h.fail(c, err)
    }
    return c.JSON(http.StatusOK, confirmResponse{
        Outcome:     result.Outcome,
        Changed:     result.Changed,
        Reservation: result.Reservation,
    })
}

// CancelReservation handles POST /v1/reservations/:id/cancel.  Only the
// holder may cancel, and only confirmed reservations can be cancelled;
// anything else gets 409.
func (h *ReservationHandler) CancelReservation(c echo.Context) error {
    ctx := c.Request().Context()
    id := c.Param("id")
    // The holder never changes after creation, so checking it before the
    // transition is as good as checking it inside.
    res, err := h.Ledger.Get(ctx, id)
    if err != nil {
        return h.fail(c, err)
    }
    if !ownedBy(res, c) {
        return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
    }

    result, err := h.Ledger.RequestCancellation(ctx, id)
    if err != nil {
        return h.fail(c, err)
    }
    if !result.Cancelled {
        return c.JSON(http.StatusConflict, echo.Map{
            "error":  string(result.Reason),
            "status": result.Reservation.Status,
        })
    }
    return c.JSON(http.StatusOK, cancelResponse{Cancelled: true, Reservation: result.Reservation})
}

// Sweep handles POST /v1/admin/sweep and runs a single expiry pass.
func (h *ReservationHandler) Sweep(c echo.Context) error {
    stats, err := h.Sweeper.SweepOnce(c.Request().Context())
    if err != nil {
        return h.fail(c, err)
    }
    return c.JSON(http.StatusOK, stats)
}

// ownedBy reports whether the caller may act on res.  Anonymous holds
// belong to nobody and are open to any caller.
func ownedBy(res model.Reservation, c echo.Context) bool {
    return res.HolderID == "" || res.HolderID == middleware.HolderID(c)
}

// fail maps ledger errors onto HTTP responses.
func (h *ReservationHandler) fail(c echo.Context, err error) error {
    switch {
    case errors.Is(err, ledger.ErrNotFound):
        return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
    case errors.Is(err, ledger.ErrInvalidArgument):
        return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
    case errors.Is(err, ledger.ErrResourceUnavailable):
        return c.JSON(http.StatusConflict, echo.Map{"error": "resource unavailable"})
    default:
        h.Log.WithError(err).WithField("path", c.Path()).Error("request failed")
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
    }
}
