package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sync"
    "time"

    "github.com/redis/go-redis/v9"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/reservation-ledger/internal/ledger"
)

// ClaimResult says what a Deduper knows about a reservation id.
type ClaimResult int

const (
    // ClaimFirst means the caller now owns the refund for the id.
    ClaimFirst ClaimResult = iota
    // ClaimInFlight means another delivery claimed the id and has not yet
    // committed.  The claim lapses on its own if that delivery died.
    ClaimInFlight
    // ClaimDone means the refund was already handed to the sink.
    ClaimDone
)

// ErrRefundInFlight is returned for a delivery that arrives while another
// one holds the claim.  It is transient, so the message is requeued.
var ErrRefundInFlight = errors.New("refund already in flight")

// Deduper remembers which reservation ids have been refunded.  A claim is
// provisional until Commit; Forget drops it so a failed refund can retry.
type Deduper interface {
    Claim(ctx context.Context, id string) (ClaimResult, error)
    Commit(ctx context.Context, id string) error
    Forget(ctx context.Context, id string) error
}

// RefundSink is the escrow-side boundary that moves funds back.
type RefundSink interface {
    Refund(ctx context.Context, req ledger.RefundRequest) error
}

// RefundHandler drains refund.requested.  Each reservation id reaches the
// sink once; redeliveries of a committed id are acked and dropped.  If a
// consumer dies between claiming and committing, the provisional claim
// expires and a redelivery gets to retry.
func RefundHandler(dedup Deduper, sink RefundSink, log logrus.FieldLogger) HandlerFunc {
    return func(ctx context.Context, body []byte) error {
        var req ledger.RefundRequest
        if err := json.Unmarshal(body, &req); err != nil {
            return Permanent(fmt.Errorf("unmarshal refund request: %w", err))
        }
        if req.ReservationID == "" {
            return Permanent(errors.New("refund request without reservation_id"))
        }
        entry := log.WithField("reservation_id", req.ReservationID)

        claim, err := dedup.Claim(ctx, req.ReservationID)
        if err != nil {
            return fmt.Errorf("dedup claim: %w", err)
        }
        switch claim {
        case ClaimDone:
            entry.Info("duplicate refund request dropped")
            return nil
        case ClaimInFlight:
            return ErrRefundInFlight
        }

        if err := sink.Refund(ctx, req); err != nil {
            if ferr := dedup.Forget(ctx, req.ReservationID); ferr != nil {
                entry.WithError(ferr).Error("dedup release failed")
            }
            return fmt.Errorf("refund sink: %w", err)
        }
        if err := dedup.Commit(ctx, req.ReservationID); err != nil {
            // The sink already has the refund; requeueing would pay twice.
            entry.WithError(err).Error("dedup commit failed")
        }
        return nil
    }
}

const (
    // DefaultDedupTTL bounds how long refunded ids are remembered.
    DefaultDedupTTL = 7 * 24 * time.Hour
    // DefaultPendingTTL bounds how long a provisional claim survives a
    // consumer that never commits.
    DefaultPendingTTL = 2 * time.Minute

    markPending = "pending"
    markDone    = "done"
)

// RedisDeduper implements Deduper with SETNX keys holding "pending" or
// "done".
type RedisDeduper struct {
    rdb        *redis.Client
    prefix     string
    ttl        time.Duration
    pendingTTL time.Duration
}

// NewRedisDeduper returns a deduper storing keys as "<prefix>:<id>".
// Committed keys live for ttl.
func NewRedisDeduper(rdb *redis.Client, prefix string, ttl time.Duration) *RedisDeduper {
    if prefix == "" {
        prefix = "refund:seen"
    }
    if ttl <= 0 {
        ttl = DefaultDedupTTL
    }
    return &RedisDeduper{rdb: rdb, prefix: prefix, ttl: ttl, pendingTTL: DefaultPendingTTL}
}

func (d *RedisDeduper) key(id string) string { return d.prefix + ":" + id }

func (d *RedisDeduper) Claim(ctx context.Context, id string) (ClaimResult, error) {
    ok, err := d.rdb.SetNX(ctx, d.key(id), markPending, d.pendingTTL).Result()
    if err != nil {
        return 0, err
    }
    if ok {
        return ClaimFirst, nil
    }
    mark, err := d.rdb.Get(ctx, d.key(id)).Result()
    switch {
    case errors.Is(err, redis.Nil):
        // Expired between the two calls; let the next delivery claim it.
        return ClaimInFlight, nil
    case err != nil:
        return 0, err
    case mark == markDone:
        return ClaimDone, nil
    default:
        return ClaimInFlight, nil
    }
}

func (d *RedisDeduper) Commit(ctx context.Context, id string) error {
    return d.rdb.Set(ctx, d.key(id), markDone, d.ttl).Err()
}

func (d *RedisDeduper) Forget(ctx context.Context, id string) error {
    return d.rdb.Del(ctx, d.key(id)).Err()
}

// FileSink appends one line per refund to a log file, creating the
// directory on first use.
type FileSink struct {
    Path string

    mu sync.Mutex
}

func (s *FileSink) Refund(_ context.Context, req ledger.RefundRequest) error {
    s.mu.Lock()
    defer s.mu.Unlock()

    if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
        return fmt.Errorf("mkdir: %w", err)
    }
    f, err := os.OpenFile(s.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open refund log: %w", err)
    }
    defer f.Close()

    line := fmt.Sprintf("[%s] Refund requested | reservation_id=%s | resource_id=%s\n",
        req.RequestedAt.UTC().Format(time.RFC3339Nano), req.ReservationID, req.ResourceID)
    if _, err := f.WriteString(line); err != nil {
        return fmt.Errorf("write refund log: %w", err)
    }
    return nil
}
