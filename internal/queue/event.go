// Package queue connects the hold ledger to RabbitMQ.  Refund triggers and
// resource releases are published as persistent JSON messages, payment
// detections are consumed and applied to the ledger, and the refund queue
// is drained into a RefundSink with Redis-backed deduplication.
package queue

// Queue names.  All queues are durable and use the default exchange.
const (
    QueueRefundRequested = "refund.requested"
    QueueHoldReleased    = "hold.released"
    QueuePaymentDetected = "payment.detected"
)

// PaymentDetectedEvent is published by the payment watcher when funds for a
// reservation have been observed.
type PaymentDetectedEvent struct {
    ReservationID string `json:"reservation_id"`
}

// Refund requests and resource releases travel as the ledger's own
// ledger.RefundRequest and ledger.ResourceRelease JSON shapes.
