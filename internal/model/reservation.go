package model

import "time"

// Status is the lifecycle state of a reservation hold.
//
// The only edges are HELD -> CONFIRMED -> CANCELLED_REFUNDED and
// HELD -> EXPIRED.  EXPIRED and CANCELLED_REFUNDED are terminal.
type Status string

const (
    StatusHeld              Status = "HELD"
    StatusConfirmed         Status = "CONFIRMED"
    StatusExpired           Status = "EXPIRED"
    StatusCancelledRefunded Status = "CANCELLED_REFUNDED"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
    return s == StatusExpired || s == StatusCancelledRefunded
}

// Valid reports whether s is one of the four known states.
func (s Status) Valid() bool {
    switch s {
    case StatusHeld, StatusConfirmed, StatusExpired, StatusCancelledRefunded:
        return true
    }
    return false
}

// Reservation is a time-bounded hold on a resource (a seat group for an
// event) that must be paid for before HoldExpiresAt.
//
// Fields:
//  ID            – opaque identifier, generated at creation and never reused.
//  ResourceID    – the thing being held.
//  HolderID      – requesting party; empty for anonymous holds.
//  Status        – current lifecycle state.
//  HoldExpiresAt – payment deadline (UTC), fixed at creation.
//  Version       – incremented on every committed transition.
//  CreatedAt     – creation timestamp.
//  UpdatedAt     – timestamp of the last committed transition.
type Reservation struct {
    ID            string    `json:"id"`
    ResourceID    string    `json:"resource_id"`
    HolderID      string    `json:"holder_id,omitempty"`
    Status        Status    `json:"status"`
    HoldExpiresAt time.Time `json:"hold_expires_at"`
    Version       int64     `json:"version"`
    CreatedAt     time.Time `json:"created_at"`
    UpdatedAt     time.Time `json:"updated_at"`
}
