package queue

import (
    "context"

    "github.com/sirupsen/logrus"

    "github.com/iliyamo/reservation-ledger/internal/ledger"
)

// LogOnly stands in for the Publisher when no broker is configured.  It
// records each notification in the log and always succeeds.
type LogOnly struct {
    Log logrus.FieldLogger
}

func (n LogOnly) TriggerRefund(_ context.Context, req ledger.RefundRequest) error {
    n.Log.WithFields(logrus.Fields{
        "reservation_id": req.ReservationID,
        "resource_id":    req.ResourceID,
    }).Warn("refund requested (no broker configured)")
    return nil
}

func (n LogOnly) ReleaseResource(_ context.Context, rel ledger.ResourceRelease) error {
    n.Log.WithFields(logrus.Fields{
        "reservation_id": rel.ReservationID,
        "resource_id":    rel.ResourceID,
        "status":         rel.Status,
    }).Info("resource released (no broker configured)")
    return nil
}
