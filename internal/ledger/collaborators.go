package ledger

import (
	"context"
	"time"

	"github.com/iliyamo/reservation-ledger/internal/model"
)

// RefundRequest asks the escrow service to release funds for a cancelled
// reservation.  Receivers must deduplicate on ReservationID.
type RefundRequest struct {
	ReservationID string    `json:"reservation_id"`
	ResourceID    string    `json:"resource_id"`
	RequestedAt   time.Time `json:"requested_at"`
}

// ResourceRelease tells the inventory that a held resource is back in the
// pool, either because the hold expired or because it was refunded.
type ResourceRelease struct {
	ReservationID string       `json:"reservation_id"`
	ResourceID    string       `json:"resource_id"`
	Status        model.Status `json:"status"`
	ReleasedAt    time.Time    `json:"released_at"`
}

// RefundTrigger is the escrow/refund collaborator.
type RefundTrigger interface {
	TriggerRefund(ctx context.Context, req RefundRequest) error
}

// ReleaseNotifier is the resource inventory collaborator.
type ReleaseNotifier interface {
	ReleaseResource(ctx context.Context, rel ResourceRelease) error
}

// AvailabilityChecker is optionally consulted before a hold is created.
type AvailabilityChecker interface {
	Available(ctx context.Context, resourceID string) (bool, error)
}

// ExpiryScheduler arms a one-shot expiry check at a reservation deadline.
type ExpiryScheduler interface {
	ScheduleAt(id string, deadline time.Time)
}
