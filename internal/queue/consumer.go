package queue

import (
    "context"
    "errors"
    "fmt"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/sirupsen/logrus"
)

const (
    minBackoff = time.Second
    maxBackoff = 30 * time.Second
    prefetch   = 50

    // DefaultRetryDelay is how long a transient failure is held before the
    // message goes back on the queue.
    DefaultRetryDelay = time.Second
)

// HandlerFunc processes one message body.  Returning an error marked with
// Permanent drops the message; any other error requeues it.
type HandlerFunc func(ctx context.Context, body []byte) error

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
    if err == nil {
        return nil
    }
    return permanentError{err: err}
}

func isPermanent(err error) bool {
    var p permanentError
    return errors.As(err, &p)
}

// Consumer drains one durable queue, reconnecting with exponential backoff
// whenever the broker connection drops.  Messages that fail transiently
// are requeued after RetryDelay, however often they have been delivered.
type Consumer struct {
    URL        string
    Queue      string
    Handle     HandlerFunc
    Log        logrus.FieldLogger
    RetryDelay time.Duration
}

// Run consumes until ctx is cancelled.  Broker failures are logged and
// retried; Run only returns once ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
    log := c.logger()
    backoff := minBackoff
    for {
        conn, err := amqp.Dial(c.URL)
        if err != nil {
            log.WithError(err).Warnf("failed to dial broker; retrying in %s", backoff)
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            backoff = nextBackoff(backoff)
            continue
        }
        backoff = minBackoff

        err = c.consumeLoop(ctx, conn)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        log.WithError(err).Warn("consume loop ended; reconnecting")
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(prefetch, 0, false); err != nil {
        c.logger().WithError(err).Warn("set QoS failed")
    }
    if _, err := ch.QueueDeclare(c.Queue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.Consume(c.Queue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            c.deliver(ctx, d)
        }
    }
}

// deliver runs the handler and settles the delivery.
func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery) {
    err := c.Handle(ctx, d.Body)
    if err == nil {
        _ = d.Ack(false)
        return
    }
    requeue := !isPermanent(err)
    c.logger().WithError(err).WithFields(logrus.Fields{
        "queue":       c.Queue,
        "requeue":     requeue,
        "redelivered": d.Redelivered,
    }).Error("handle message failed")
    if requeue {
        delay := c.RetryDelay
        if delay <= 0 {
            delay = DefaultRetryDelay
        }
        // On shutdown the nack still requeues; the broker redelivers later.
        sleep(ctx, delay)
    }
    _ = d.Nack(false, requeue)
}

func (c *Consumer) logger() logrus.FieldLogger {
    if c.Log == nil {
        return logrus.StandardLogger().WithField("consumer", c.Queue)
    }
    return c.Log.WithField("consumer", c.Queue)
}

func nextBackoff(d time.Duration) time.Duration {
    d *= 2
    if d > maxBackoff {
        return maxBackoff
    }
    return d
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
