package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "strings"

    "github.com/sirupsen/logrus"

    "github.com/iliyamo/reservation-ledger/internal/ledger"
)

// PaymentConfirmer is the ledger operation the payment consumer drives.
type PaymentConfirmer interface {
    ConfirmPayment(ctx context.Context, id string) (ledger.ConfirmResult, error)
}

// PaymentHandler applies payment.detected messages to the ledger.  Unknown
// reservations and malformed messages are dropped; store failures are
// retried.
func PaymentHandler(l PaymentConfirmer, log logrus.FieldLogger) HandlerFunc {
    return func(ctx context.Context, body []byte) error {
        var ev PaymentDetectedEvent
        if err := json.Unmarshal(body, &ev); err != nil {
            return Permanent(fmt.Errorf("unmarshal payment event: %w", err))
        }
        id := strings.TrimSpace(ev.ReservationID)
        if id == "" {
            return Permanent(errors.New("payment event without reservation_id"))
        }

        res, err := l.ConfirmPayment(ctx, id)
        if err != nil {
            if errors.Is(err, ledger.ErrNotFound) {
                return Permanent(err)
            }
            return err
        }
        log.WithFields(logrus.Fields{
            "reservation_id": id,
            "outcome":        res.Outcome,
            "changed":        res.Changed,
        }).Info("payment applied")
        return nil
    }
}
