// Package ledger implements the reservation hold lifecycle: holds are
// created with a payment deadline, then either confirmed by a payment that
// beats the deadline or expired, and confirmed holds may be cancelled with
// a refund.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/reservation-ledger/internal/clock"
	"github.com/iliyamo/reservation-ledger/internal/model"
)

// DefaultHoldDuration is used when CreateHold receives a non-positive
// duration.
const DefaultHoldDuration = 10 * time.Minute

// Outcome is the result of a payment confirmation.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeExpired   Outcome = "expired"
	// OutcomeCancelled is reported when the payment arrives for a
	// reservation that was already confirmed and then refunded.
	OutcomeCancelled Outcome = "cancelled"
)

func outcomeFor(s model.Status) Outcome {
	switch s {
	case model.StatusExpired:
		return OutcomeExpired
	case model.StatusCancelledRefunded:
		return OutcomeCancelled
	default:
		return OutcomeConfirmed
	}
}

// ConfirmResult describes what ConfirmPayment observed.  Changed is false
// when the call found the reservation already settled.
type ConfirmResult struct {
	Outcome     Outcome
	Reservation model.Reservation
	Changed     bool
}

// RejectReason explains why a cancellation was refused.
type RejectReason string

const ReasonNotConfirmed RejectReason = "not confirmed"

// CancelResult is returned by RequestCancellation.
type CancelResult struct {
	Cancelled   bool
	Reason      RejectReason
	Reservation model.Reservation
}

// Ledger owns all reservation state transitions.
type Ledger struct {
	store        Store
	clock        clock.Clock
	log          logrus.FieldLogger
	holdDuration time.Duration
	newID        func() string

	refunds      RefundTrigger
	releases     ReleaseNotifier
	availability AvailabilityChecker
	scheduler    ExpiryScheduler
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger used for transition and collaborator logs.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

// WithHoldDuration overrides DefaultHoldDuration.
func WithHoldDuration(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.holdDuration = d
		}
	}
}

// WithRefundTrigger sets the escrow collaborator.
func WithRefundTrigger(t RefundTrigger) Option {
	return func(l *Ledger) { l.refunds = t }
}

// WithReleaseNotifier sets the inventory collaborator.
func WithReleaseNotifier(n ReleaseNotifier) Option {
	return func(l *Ledger) { l.releases = n }
}

// WithAvailability makes CreateHold consult c first.
func WithAvailability(c AvailabilityChecker) Option {
	return func(l *Ledger) { l.availability = c }
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(gen func() string) Option {
	return func(l *Ledger) {
		if gen != nil {
			l.newID = gen
		}
	}
}

// New builds a Ledger over store using clk for every deadline comparison.
func New(store Store, clk clock.Clock, opts ...Option) *Ledger {
	l := &Ledger{
		store:        store,
		clock:        clk,
		log:          logrus.StandardLogger(),
		holdDuration: DefaultHoldDuration,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// UseScheduler attaches a one-shot expiry scheduler.  Call it before the
// ledger starts serving requests.
func (l *Ledger) UseScheduler(s ExpiryScheduler) {
	l.scheduler = s
}

// Store exposes the underlying store to the sweeper.
func (l *Ledger) Store() Store { return l.store }

// Clock exposes the ledger's time source.
func (l *Ledger) Clock() clock.Clock { return l.clock }

// CreateHold places a HELD reservation on resourceID that must be paid for
// within holdDuration.
func (l *Ledger) CreateHold(ctx context.Context, resourceID, holderID string, holdDuration time.Duration) (model.Reservation, error) {
	resourceID = strings.TrimSpace(resourceID)
	if resourceID == "" {
		return model.Reservation{}, fmt.Errorf("%w: resource id is required", ErrInvalidArgument)
	}
	if holdDuration <= 0 {
		holdDuration = l.holdDuration
	}
	if l.availability != nil {
		ok, err := l.availability.Available(ctx, resourceID)
		if err != nil {
			return model.Reservation{}, fmt.Errorf("check availability: %w", err)
		}
		if !ok {
			return model.Reservation{}, ErrResourceUnavailable
		}
	}

	// Microsecond precision round-trips through SQL DATETIME(6) unchanged.
	now := l.clock.Now().Truncate(time.Microsecond)
	r := model.Reservation{
		ID:            l.newID(),
		ResourceID:    resourceID,
		HolderID:      holderID,
		Status:        model.StatusHeld,
		HoldExpiresAt: now.Add(holdDuration),
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := l.store.Insert(ctx, r); err != nil {
		return model.Reservation{}, fmt.Errorf("insert reservation: %w", err)
	}

	l.log.WithFields(logrus.Fields{
		"reservation_id":  r.ID,
		"resource_id":     r.ResourceID,
		"hold_expires_at": r.HoldExpiresAt.Format(time.RFC3339Nano),
	}).Info("hold created")

	if l.scheduler != nil {
		l.scheduler.ScheduleAt(r.ID, r.HoldExpiresAt)
	}
	return r, nil
}

// ConfirmPayment records a payment for id.  A payment that arrives at or
// after the deadline expires the hold instead.  Calls on a reservation that
// has already left HELD report its current state and change nothing.
func (l *Ledger) ConfirmPayment(ctx context.Context, id string) (ConfirmResult, error) {
	r, changed, err := l.store.Update(ctx, id, func(cur model.Reservation) (model.Reservation, bool) {
		now := l.clock.Now()
		switch decideOutcome(cur.Status, now, cur.HoldExpiresAt) {
		case verdictOpen:
			return advance(cur, model.StatusConfirmed, now), true
		case verdictLapsed:
			return advance(cur, model.StatusExpired, now), true
		default:
			return cur, false
		}
	})
	if err != nil {
		return ConfirmResult{}, err
	}

	res := ConfirmResult{Outcome: outcomeFor(r.Status), Reservation: r, Changed: changed}
	if changed {
		l.logTransition(r, "payment")
		if r.Status == model.StatusExpired {
			l.notifyRelease(ctx, r)
		}
	}
	return res, nil
}

// ExpireIfDue moves id from HELD to EXPIRED when now is at or past its
// deadline.  It reports whether a transition happened.
func (l *Ledger) ExpireIfDue(ctx context.Context, id string, now time.Time) (bool, error) {
	r, changed, err := l.store.Update(ctx, id, func(cur model.Reservation) (model.Reservation, bool) {
		if decideOutcome(cur.Status, now, cur.HoldExpiresAt) != verdictLapsed {
			return cur, false
		}
		return advance(cur, model.StatusExpired, now), true
	})
	if err != nil {
		return false, err
	}
	if changed {
		l.logTransition(r, "sweep")
		l.notifyRelease(ctx, r)
	}
	return changed, nil
}

// RequestCancellation refunds a CONFIRMED reservation.  Any other state is
// rejected with ReasonNotConfirmed.  The refund trigger is emitted once,
// after the transition has been committed.
func (l *Ledger) RequestCancellation(ctx context.Context, id string) (CancelResult, error) {
	r, changed, err := l.store.Update(ctx, id, func(cur model.Reservation) (model.Reservation, bool) {
		if cur.Status != model.StatusConfirmed {
			return cur, false
		}
		return advance(cur, model.StatusCancelledRefunded, l.clock.Now()), true
	})
	if err != nil {
		return CancelResult{}, err
	}
	if !changed {
		return CancelResult{Reason: ReasonNotConfirmed, Reservation: r}, nil
	}

	l.logTransition(r, "cancellation")
	l.triggerRefund(ctx, r)
	l.notifyRelease(ctx, r)
	return CancelResult{Cancelled: true, Reservation: r}, nil
}

// Get returns the reservation stored under id.
func (l *Ledger) Get(ctx context.Context, id string) (model.Reservation, error) {
	return l.store.Get(ctx, id)
}

func advance(cur model.Reservation, to model.Status, now time.Time) model.Reservation {
	next := cur
	next.Status = to
	next.Version = cur.Version + 1
	next.UpdatedAt = now.Truncate(time.Microsecond)
	return next
}

func (l *Ledger) logTransition(r model.Reservation, cause string) {
	l.log.WithFields(logrus.Fields{
		"reservation_id": r.ID,
		"resource_id":    r.ResourceID,
		"status":         r.Status,
		"version":        r.Version,
		"cause":          cause,
	}).Info("reservation transitioned")
}

func (l *Ledger) triggerRefund(ctx context.Context, r model.Reservation) {
	if l.refunds == nil {
		l.log.WithField("reservation_id", r.ID).Warn("no refund trigger configured; refund not requested")
		return
	}
	req := RefundRequest{ReservationID: r.ID, ResourceID: r.ResourceID, RequestedAt: r.UpdatedAt}
	if err := l.refunds.TriggerRefund(ctx, req); err != nil {
		l.log.WithError(err).WithField("reservation_id", r.ID).Error("refund trigger delivery failed")
	}
}

func (l *Ledger) notifyRelease(ctx context.Context, r model.Reservation) {
	if l.releases == nil {
		return
	}
	rel := ResourceRelease{ReservationID: r.ID, ResourceID: r.ResourceID, Status: r.Status, ReleasedAt: r.UpdatedAt}
	if err := l.releases.ReleaseResource(ctx, rel); err != nil {
		l.log.WithError(err).WithField("reservation_id", r.ID).Error("resource release delivery failed")
	}
}
