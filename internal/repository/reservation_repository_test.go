package repository

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/reservation-ledger/internal/database"
	"github.com/iliyamo/reservation-ledger/internal/ledger"
	"github.com/iliyamo/reservation-ledger/internal/model"
)

// newTestRepo connects to the MySQL instance named by TEST_DB_DSN and skips
// the test when it is unset or unreachable.
func newTestRepo(t *testing.T) *ReservationRepo {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set; skipping MySQL integration tests")
	}
	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		t.Skipf("skipping MySQL integration tests: %v", err)
	}
	require.NoError(t, database.ApplySchema(ctx, db))
	t.Cleanup(func() { _ = db.Close() })
	return NewReservationRepo(db)
}

func newHeld(deadline time.Time) model.Reservation {
	now := deadline.Add(-10 * time.Minute)
	return model.Reservation{
		ID:            uuid.NewString(),
		ResourceID:    "seat-" + uuid.NewString()[:8],
		Status:        model.StatusHeld,
		HoldExpiresAt: deadline,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestReservationRepo_InsertGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	res := newHeld(time.Now().UTC().Truncate(time.Microsecond).Add(time.Hour))
	res.HolderID = "u1"
	require.NoError(t, repo.Insert(ctx, res))
	assert.ErrorIs(t, repo.Insert(ctx, res), ledger.ErrConcurrentUpdate)

	got, err := repo.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, res, got)

	anon := newHeld(res.HoldExpiresAt)
	require.NoError(t, repo.Insert(ctx, anon))
	got, err = repo.Get(ctx, anon.ID)
	require.NoError(t, err)
	assert.Empty(t, got.HolderID)

	_, err = repo.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestReservationRepo_UpdateCompareAndSwap(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	res := newHeld(time.Now().UTC().Truncate(time.Microsecond).Add(time.Hour))
	require.NoError(t, repo.Insert(ctx, res))

	const writers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changes int
	)
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			_, changed, err := repo.Update(ctx, res.ID, func(cur model.Reservation) (model.Reservation, bool) {
				if cur.Status != model.StatusHeld {
					return cur, false
				}
				cur.Status = model.StatusConfirmed
				cur.Version++
				return cur, true
			})
			assert.NoError(t, err)
			if changed {
				mu.Lock()
				changes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, changes)
	got, err := repo.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestReservationRepo_ListDue(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	// Far in the past so rows from other runs sort after these.
	base := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	due := newHeld(base)
	later := newHeld(base.Add(time.Hour))
	require.NoError(t, repo.Insert(ctx, due))
	require.NoError(t, repo.Insert(ctx, later))

	ids, err := repo.ListDue(ctx, base, 0)
	require.NoError(t, err)
	assert.Contains(t, ids, due.ID, "deadline is inclusive")
	assert.NotContains(t, ids, later.ID)

	_, _, err = repo.Update(ctx, due.ID, func(cur model.Reservation) (model.Reservation, bool) {
		cur.Status = model.StatusExpired
		cur.Version++
		return cur, true
	})
	require.NoError(t, err)

	ids, err = repo.ListDue(ctx, base, 0)
	require.NoError(t, err)
	assert.NotContains(t, ids, due.ID)
}
