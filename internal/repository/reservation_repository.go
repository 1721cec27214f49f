package repository

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "time"

    "github.com/iliyamo/reservation-ledger/internal/ledger"
    "github.com/iliyamo/reservation-ledger/internal/model"
)

// maxCASAttempts bounds how many times Update re-reads a row after losing a
// compare-and-swap race.  Each attempt is a single-row read plus a single
// conditional write, so the bound keeps Update in bounded time.
const maxCASAttempts = 8

// ReservationRepo is a MySQL-backed ledger.Store.  Transitions are
// serialised per reservation with optimistic compare-and-swap on the
// version column: an UPDATE only lands when the row still carries the
// version the mutation was computed from.  All timestamps are stored in UTC.
type ReservationRepo struct {
    db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// DB exposes the underlying handle for health checks.
func (r *ReservationRepo) DB() *sql.DB { return r.db }

const selectReservation = `SELECT id, resource_id, holder_id, status, hold_expires_at, version, created_at, updated_at
                           FROM reservations WHERE id = ?`

// Insert stores a freshly created reservation.  A duplicate id is reported
// as ledger.ErrConcurrentUpdate; ids are never reused.
func (r *ReservationRepo) Insert(ctx context.Context, res model.Reservation) error {
    const q = `INSERT INTO reservations (id, resource_id, holder_id, status, hold_expires_at, version, created_at, updated_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
    var holder sql.NullString
    if res.HolderID != "" {
        holder = sql.NullString{String: res.HolderID, Valid: true}
    }
    _, err := r.db.ExecContext(ctx, q,
        res.ID, res.ResourceID, holder, string(res.Status),
        res.HoldExpiresAt.UTC(), res.Version, res.CreatedAt.UTC(), res.UpdatedAt.UTC(),
    )
    if err != nil {
        if isDuplicateKey(err) {
            return ledger.ErrConcurrentUpdate
        }
        return fmt.Errorf("insert reservation: %w", err)
    }
    return nil
}

// Get loads a reservation by id, returning ledger.ErrNotFound when absent.
func (r *ReservationRepo) Get(ctx context.Context, id string) (model.Reservation, error) {
    var (
        res    model.Reservation
        holder sql.NullString
        status string
    )
    err := r.db.QueryRowContext(ctx, selectReservation, id).Scan(
        &res.ID, &res.ResourceID, &holder, &status,
        &res.HoldExpiresAt, &res.Version, &res.CreatedAt, &res.UpdatedAt,
    )
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return model.Reservation{}, ledger.ErrNotFound
        }
        return model.Reservation{}, fmt.Errorf("get reservation: %w", err)
    }
    if holder.Valid {
        res.HolderID = holder.String
    }
    res.Status = model.Status(status)
    res.HoldExpiresAt = res.HoldExpiresAt.UTC()
    res.CreatedAt = res.CreatedAt.UTC()
    res.UpdatedAt = res.UpdatedAt.UTC()
    return res, nil
}

// Update applies fn to the current row and writes the result back only if
// no other writer committed in between.  On a lost race the row is re-read
// and fn is evaluated again against the fresh state.
func (r *ReservationRepo) Update(ctx context.Context, id string, fn ledger.MutateFunc) (model.Reservation, bool, error) {
    const q = `UPDATE reservations SET status = ?, version = ?, updated_at = ?
               WHERE id = ? AND version = ?`
    for attempt := 0; attempt < maxCASAttempts; attempt++ {
        cur, err := r.Get(ctx, id)
        if err != nil {
            return model.Reservation{}, false, err
        }
        next, changed := fn(cur)
        if !changed {
            return cur, false, nil
        }
        result, err := r.db.ExecContext(ctx, q, string(next.Status), next.Version, next.UpdatedAt.UTC(), id, cur.Version)
        if err != nil {
            return model.Reservation{}, false, fmt.Errorf("update reservation: %w", err)
        }
        n, err := result.RowsAffected()
        if err != nil {
            return model.Reservation{}, false, fmt.Errorf("update reservation: %w", err)
        }
        if n == 1 {
            return next, true, nil
        }
    }
    return model.Reservation{}, false, ledger.ErrConcurrentUpdate
}

// ListDue returns ids of HELD reservations whose deadline is at or before
// now.  The inclusive bound matches the ledger's deny-on-tie rule.
func (r *ReservationRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
    q := `SELECT id FROM reservations
          WHERE status = 'HELD' AND hold_expires_at <= ?
          ORDER BY hold_expires_at`
    args := []interface{}{now.UTC()}
    if limit > 0 {
        q += ` LIMIT ?`
        args = append(args, limit)
    }
    rows, err := r.db.QueryContext(ctx, q, args...)
    if err != nil {
        return nil, fmt.Errorf("list due reservations: %w", err)
    }
    defer rows.Close()
    var ids []string
    for rows.Next() {
        var id string
        if err := rows.Scan(&id); err != nil {
            return nil, err
        }
        ids = append(ids, id)
    }
    if err := rows.Err(); err != nil {
        return nil, err
    }
    return ids, nil
}

var _ ledger.Store = (*ReservationRepo)(nil)
