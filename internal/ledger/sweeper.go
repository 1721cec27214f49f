package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/reservation-ledger/internal/clock"
	"github.com/iliyamo/reservation-ledger/internal/model"
)

const (
	DefaultSweepInterval  = 5 * time.Second
	DefaultSweepBatchSize = 500
)

// SweepStats summarises one sweep pass.
type SweepStats struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Failed  int `json:"failed"`
}

// Sweeper expires holds whose payer never came back.  It polls the store on
// a fixed interval and can also arm a one-shot timer per reservation for
// exact-deadline eviction.  Both paths go through Ledger.ExpireIfDue.
type Sweeper struct {
	ledger    *Ledger
	store     Store
	clock     clock.Clock
	log       logrus.FieldLogger
	interval  time.Duration
	batchSize int

	mu      sync.Mutex
	timers  map[string]armedTimer
	gen     uint64
	stopped bool
}

// armedTimer tags a one-shot timer with the generation it was armed in so a
// late callback can tell whether it has been replaced.
type armedTimer struct {
	timer *time.Timer
	gen   uint64
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets the polling interval.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSweepBatchSize caps the number of reservations expired per pass.
func WithSweepBatchSize(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithSweeperLogger sets the sweeper's logger.
func WithSweeperLogger(log logrus.FieldLogger) SweeperOption {
	return func(s *Sweeper) {
		if log != nil {
			s.log = log
		}
	}
}

// NewSweeper builds a Sweeper over l's store and clock.
func NewSweeper(l *Ledger, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		ledger:    l,
		store:     l.Store(),
		clock:     l.Clock(),
		log:       logrus.StandardLogger(),
		interval:  DefaultSweepInterval,
		batchSize: DefaultSweepBatchSize,
		timers:    make(map[string]armedTimer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps every interval until ctx is cancelled, then cancels any
// pending one-shot timers.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.WithField("interval", s.interval.String()).Info("expiry sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			s.log.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.WithError(err).Error("expiry sweep failed")
			}
		}
	}
}

// SweepOnce expires up to batchSize overdue holds using a single reading of
// the clock for the whole pass.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	now := s.clock.Now()
	ids, err := s.store.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return stats, err
	}
	stats.Scanned = len(ids)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		expired, err := s.ledger.ExpireIfDue(ctx, id, now)
		if err != nil {
			s.log.WithError(err).WithField("reservation_id", id).Error("failed to expire hold")
			stats.Failed++
			continue
		}
		if expired {
			stats.Expired++
		}
	}
	if stats.Scanned > 0 {
		entry := s.log.WithFields(logrus.Fields{
			"scanned": stats.Scanned,
			"expired": stats.Expired,
			"failed":  stats.Failed,
		})
		if stats.Failed > 0 {
			entry.Warn("expiry sweep completed with failures")
		} else {
			entry.Info("expiry sweep completed")
		}
	}
	return stats, nil
}

// ScheduleAt arms a one-shot expiry check for id at deadline, replacing any
// timer already armed for it.
func (s *Sweeper) ScheduleAt(id string, deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if a, ok := s.timers[id]; ok {
		a.timer.Stop()
	}
	delay := deadline.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	s.gen++
	gen := s.gen
	s.timers[id] = armedTimer{
		timer: time.AfterFunc(delay, func() { s.fire(id, gen) }),
		gen:   gen,
	}
}

// Pending returns the number of armed one-shot timers.
func (s *Sweeper) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels all pending one-shot timers and refuses new ones.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, a := range s.timers {
		a.timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Sweeper) fire(id string, gen uint64) {
	s.mu.Lock()
	// A replacement timer may already be armed under id; leave it alone.
	if a, ok := s.timers[id]; ok && a.gen == gen {
		delete(s.timers, id)
	}
	s.mu.Unlock()

	ctx := context.Background()
	expired, err := s.ledger.ExpireIfDue(ctx, id, s.clock.Now())
	if err != nil {
		s.log.WithError(err).WithField("reservation_id", id).Error("one-shot expiry failed")
		return
	}
	if expired {
		return
	}
	// The timer can fire a hair before the wall clock reaches the deadline;
	// re-arm while the hold is still open.
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return
	}
	if r.Status == model.StatusHeld {
		s.ScheduleAt(id, r.HoldExpiresAt)
	}
}
