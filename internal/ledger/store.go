package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/iliyamo/reservation-ledger/internal/model"
)

// MutateFunc computes the next state of a reservation from its current
// state.  It returns changed=false to leave the record untouched.  Stores
// may invoke it more than once when a compare-and-swap has to be retried,
// so it must not have side effects.
type MutateFunc func(cur model.Reservation) (next model.Reservation, changed bool)

// Store is the keyed reservation store.  Update must run fn and persist its
// result as one indivisible step with respect to every other Update on the
// same id.  Updates on different ids may run in parallel.
type Store interface {
	Insert(ctx context.Context, r model.Reservation) error
	Get(ctx context.Context, id string) (model.Reservation, error)
	// Update returns the record as it stands after the call and whether fn
	// committed a change.
	Update(ctx context.Context, id string, fn MutateFunc) (model.Reservation, bool, error)
	// ListDue returns ids of HELD reservations whose deadline has passed at
	// now, oldest deadline first, at most limit entries.
	ListDue(ctx context.Context, now time.Time, limit int) ([]string, error)
}

const memoryShards = 64

type memoryShard struct {
	mu   sync.Mutex
	rows map[string]model.Reservation
	// held indexes the ids in rows whose status is HELD.
	held map[string]struct{}
}

func (sh *memoryShard) put(r model.Reservation) {
	sh.rows[r.ID] = r
	if r.Status == model.StatusHeld {
		sh.held[r.ID] = struct{}{}
	} else {
		delete(sh.held, r.ID)
	}
}

// MemoryStore is an in-process Store.  Keys are striped over a fixed set of
// mutex-guarded shards so that transitions on one reservation never wait on
// unrelated ones beyond a hash collision.
type MemoryStore struct {
	shards [memoryShards]*memoryShard
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i] = &memoryShard{
			rows: make(map[string]model.Reservation),
			held: make(map[string]struct{}),
		}
	}
	return s
}

func (s *MemoryStore) shard(id string) *memoryShard {
	return s.shards[xxhash.Sum64String(id)%memoryShards]
}

func (s *MemoryStore) Insert(_ context.Context, r model.Reservation) error {
	sh := s.shard(r.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, exists := sh.rows[r.ID]; exists {
		return ErrConcurrentUpdate
	}
	sh.put(r)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Reservation, error) {
	sh := s.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	r, ok := sh.rows[id]
	if !ok {
		return model.Reservation{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn MutateFunc) (model.Reservation, bool, error) {
	sh := s.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	cur, ok := sh.rows[id]
	if !ok {
		return model.Reservation{}, false, ErrNotFound
	}
	next, changed := fn(cur)
	if !changed {
		return cur, false, nil
	}
	sh.put(next)
	return next, true, nil
}

func (s *MemoryStore) ListDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	type candidate struct {
		id       string
		deadline time.Time
	}
	var due []candidate
	for _, sh := range s.shards {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sh.mu.Lock()
		for id := range sh.held {
			if r := sh.rows[id]; isDue(now, r.HoldExpiresAt) {
				due = append(due, candidate{id: id, deadline: r.HoldExpiresAt})
			}
		}
		sh.mu.Unlock()
	}
	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]string, 0, len(due))
	for _, c := range due {
		ids = append(ids, c.id)
	}
	return ids, nil
}
