package queue

import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/reservation-ledger/internal/ledger"
)

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
    QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
    PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
    Close() error
}

type dialFunc func() (channel, io.Closer, error)

// Publisher sends ledger notifications to RabbitMQ.  It keeps one channel
// open and re-dials after a failed publish.  Safe for concurrent use.
type Publisher struct {
    dial dialFunc
    log  logrus.FieldLogger

    mu       sync.Mutex
    ch       channel
    conn     io.Closer
    declared map[string]bool
}

// NewPublisher returns a Publisher for the broker at url.  The connection
// is opened lazily on first publish.
func NewPublisher(url string, log logrus.FieldLogger) *Publisher {
    return newPublisher(func() (channel, io.Closer, error) {
        conn, err := amqp.Dial(url)
        if err != nil {
            return nil, nil, fmt.Errorf("dial broker: %w", err)
        }
        ch, err := conn.Channel()
        if err != nil {
            _ = conn.Close()
            return nil, nil, fmt.Errorf("channel open: %w", err)
        }
        return ch, conn, nil
    }, log)
}

func newPublisher(dial dialFunc, log logrus.FieldLogger) *Publisher {
    if log == nil {
        log = logrus.StandardLogger()
    }
    return &Publisher{dial: dial, log: log, declared: make(map[string]bool)}
}

// TriggerRefund publishes req to the refund.requested queue.
func (p *Publisher) TriggerRefund(ctx context.Context, req ledger.RefundRequest) error {
    return p.Publish(ctx, QueueRefundRequested, req)
}

// ReleaseResource publishes rel to the hold.released queue.
func (p *Publisher) ReleaseResource(ctx context.Context, rel ledger.ResourceRelease) error {
    return p.Publish(ctx, QueueHoldReleased, rel)
}

// Publish marshals v to JSON and sends it as a persistent message to the
// named queue, declaring the queue on first use.
func (p *Publisher) Publish(ctx context.Context, queue string, v any) error {
    body, err := json.Marshal(v)
    if err != nil {
        return fmt.Errorf("marshal %s event: %w", queue, err)
    }

    p.mu.Lock()
    defer p.mu.Unlock()

    if p.ch == nil {
        ch, conn, err := p.dial()
        if err != nil {
            return err
        }
        p.ch, p.conn = ch, conn
        p.declared = make(map[string]bool)
    }
    if !p.declared[queue] {
        if _, err := p.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
            p.resetLocked()
            return fmt.Errorf("queue declare %s: %w", queue, err)
        }
        p.declared[queue] = true
    }

    msg := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        Timestamp:    time.Now().UTC(),
        Body:         body,
    }
    if err := p.ch.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
        p.resetLocked()
        return fmt.Errorf("publish %s: %w", queue, err)
    }
    return nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    p.resetLocked()
    return nil
}

func (p *Publisher) resetLocked() {
    if p.ch != nil {
        _ = p.ch.Close()
    }
    if p.conn != nil {
        _ = p.conn.Close()
    }
    p.ch, p.conn = nil, nil
}

var (
    _ ledger.RefundTrigger   = (*Publisher)(nil)
    _ ledger.ReleaseNotifier = (*Publisher)(nil)
)
