package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/reservation-ledger/internal/clock"
	"github.com/iliyamo/reservation-ledger/internal/ledger"
	"github.com/iliyamo/reservation-ledger/internal/model"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type unavailable struct{}

func (unavailable) Available(context.Context, string) (bool, error) { return false, nil }

type fixture struct {
	h     *ReservationHandler
	clock *clock.Manual
	e     *echo.Echo
}

func newFixture(t *testing.T, opts ...ledger.Option) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	clk := clock.NewManual(t0)
	l := ledger.New(ledger.NewMemoryStore(), clk, append([]ledger.Option{ledger.WithLogger(log)}, opts...)...)
	sw := ledger.NewSweeper(l, ledger.WithSweeperLogger(log))
	return &fixture{h: NewReservationHandler(l, sw, log), clock: clk, e: echo.New()}
}

// call invokes fn directly with an optional holder identity in context.
func (f *fixture) call(t *testing.T, fn echo.HandlerFunc, method, id, body, holder string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := f.e.NewContext(req, rec)
	if id != "" {
		c.SetParamNames("id")
		c.SetParamValues(id)
	}
	if holder != "" {
		c.Set("user_id", holder)
	}
	require.NoError(t, fn(c))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestCreateHold(t *testing.T) {
	f := newFixture(t)

	rec := f.call(t, f.h.CreateHold, http.MethodPost, "", `{"resource_id":"seat-9","hold_seconds":60}`, "user-1")
	require.Equal(t, http.StatusCreated, rec.Code)
	res := decode[model.Reservation](t, rec)
	assert.Equal(t, "seat-9", res.ResourceID)
	assert.Equal(t, "user-1", res.HolderID)
	assert.Equal(t, model.StatusHeld, res.Status)
	assert.True(t, res.HoldExpiresAt.Equal(t0.Add(time.Minute)))

	rec = f.call(t, f.h.CreateHold, http.MethodPost, "", `{"resource_id":"seat-9"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	res = decode[model.Reservation](t, rec)
	assert.Empty(t, res.HolderID, "anonymous holds carry no holder")
	assert.True(t, res.HoldExpiresAt.Equal(t0.Add(ledger.DefaultHoldDuration)))
}

func TestCreateHold_BadRequests(t *testing.T) {
	f := newFixture(t)
	for name, body := range map[string]string{
		"malformed":      `{"resource_id":`,
		"missing":        `{}`,
		"blank resource": `{"resource_id":"   "}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := f.call(t, f.h.CreateHold, http.MethodPost, "", body, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateHold_Unavailable(t *testing.T) {
	f := newFixture(t, ledger.WithAvailability(unavailable{}))
	rec := f.call(t, f.h.CreateHold, http.MethodPost, "", `{"resource_id":"seat-1"}`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestConfirmAndCancel(t *testing.T) {
	f := newFixture(t)
	res := decode[model.Reservation](t, f.call(t, f.h.CreateHold, http.MethodPost, "", `{"resource_id":"seat-1","hold_seconds":600}`, ""))

	rec := f.call(t, f.h.CancelReservation, http.MethodPost, res.ID, "", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"not confirmed","status":"HELD"}`, rec.Body.String())

	rec = f.call(t, f.h.ConfirmPayment, http.MethodPost, res.ID, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	confirmed := decode[confirmResponse](t, rec)
	assert.Equal(t, ledger.OutcomeConfirmed, confirmed.Outcome)
	assert.True(t, confirmed.Changed)

	rec = f.call(t, f.h.ConfirmPayment, http.MethodPost, res.ID, "", "")
	again := decode[confirmResponse](t, rec)
	assert.Equal(t, ledger.OutcomeConfirmed, again.Outcome)
	assert.False(t, again.Changed)

	rec = f.call(t, f.h.CancelReservation, http.MethodPost, res.ID, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cancelled := decode[cancelResponse](t, rec)
	assert.True(t, cancelled.Cancelled)
	assert.Equal(t, model.StatusCancelledRefunded, cancelled.Reservation.Status)

	rec = f.call(t, f.h.CancelReservation, http.MethodPost, res.ID, "", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.call(t, f.h.GetReservation, http.MethodGet, res.ID, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StatusCancelledRefunded, decode[model.Reservation](t, rec).Status)
}

func TestConfirmAtDeadlineExpires(t *testing.T) {
	f := newFixture(t)
	res := decode[model.Reservation](t, f.call(t, f.h.CreateHold, http.MethodPost, "", `{"resource_id":"seat-1","hold_seconds":60}`, ""))

	f.clock.Advance(time.Minute)
	rec := f.call(t, f.h.ConfirmPayment, http.MethodPost, res.ID, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[confirmResponse](t, rec)
	assert.Equal(t, ledger.OutcomeExpired, got.Outcome)
	assert.Equal(t, model.StatusExpired, got.Reservation.Status)
}

func TestUnknownReservation(t *testing.T) {
	f := newFixture(t)
	for name, fn := range map[string]echo.HandlerFunc{
		"get":     f.h.GetReservation,
		"confirm": f.h.ConfirmPayment,
		"cancel":  f.h.CancelReservation,
	} {
		t.Run(name, func(t *testing.T) {
			rec := f.call(t, fn, http.MethodPost, "missing", "", "")
			assert.Equal(t, http.StatusNotFound, rec.Code)
		})
	}
}

func TestSweep(t *testing.T) {
	f := newFixture(t)
	f.call(t, f.h.CreateHold, http.MethodPost, "", `{"resource_id":"seat-1","hold_seconds":1}`, "")
	f.call(t, f.h.CreateHold, http.MethodPost, "", `{"resource_id":"seat-2","hold_seconds":3600}`, "")
	f.clock.Advance(time.Second)

	rec := f.call(t, f.h.Sweep, http.MethodPost, "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ledger.SweepStats{Scanned: 1, Expired: 1}, decode[ledger.SweepStats](t, rec))
}

func TestCreateHold_RejectsOverflowingDuration(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{
		`{"resource_id":"seatA","hold_seconds":18446744074}`,
		`{"resource_id":"seatA","hold_seconds":9223372036854775807}`,
	} {
		rec := f.call(t, f.h.CreateHold, http.MethodPost, "", body, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	rec := f.call(t, f.h.CreateHold, http.MethodPost, "", `{"resource_id":"seatA","hold_seconds":86400}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, decode[model.Reservation](t, rec).HoldExpiresAt.Equal(t0.Add(24*time.Hour)))
}

func TestOnlyHolderMayReadOrCancel(t *testing.T) {
	f := newFixture(t)
	res := decode[model.Reservation](t, f.call(t, f.h.CreateHold, http.MethodPost, "", `{"resource_id":"seat-1"}`, "alice"))
	require.Equal(t, http.StatusOK, f.call(t, f.h.ConfirmPayment, http.MethodPost, res.ID, "", "").Code)

	for name, caller := range map[string]string{"stranger": "mallory", "anonymous": ""} {
		t.Run(name, func(t *testing.T) {
			rec := f.call(t, f.h.CancelReservation, http.MethodPost, res.ID, "", caller)
			assert.Equal(t, http.StatusForbidden, rec.Code)
			rec = f.call(t, f.h.GetReservation, http.MethodGet, res.ID, "", caller)
			assert.Equal(t, http.StatusForbidden, rec.Code)
		})
	}

	rec := f.call(t, f.h.GetReservation, http.MethodGet, res.ID, "", "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StatusConfirmed, decode[model.Reservation](t, rec).Status, "refused cancels leave the reservation alone")

	rec = f.call(t, f.h.CancelReservation, http.MethodPost, res.ID, "", "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[cancelResponse](t, rec).Cancelled)
}
