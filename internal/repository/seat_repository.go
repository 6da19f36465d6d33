package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/theater-reservation/internal/model"
)

// SeatRepo provides data access to the seats table.  One row exists per
// (show_date, row_label, seat_number) once a seat has been locked at least
// once; absent rows are treated as AVAILABLE.  All timestamps are stored
// in UTC and deadline comparisons happen in SQL against UTC_TIMESTAMP()
// so that lock acquisition and reclamation share a single clock.
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo returns a new SeatRepo bound to the given database.
func NewSeatRepo(db *sql.DB) *SeatRepo { return &SeatRepo{db: db} }

// DB exposes the underlying handle so callers can start transactions that
// span seat and reservation mutations.
func (r *SeatRepo) DB() *sql.DB { return r.db }

// NowTx reads the database clock inside the given transaction.  Lock
// deadlines are both written and compared against this clock, never the
// application host's, so clock skew between instances cannot cause
// premature or late reclamation.
func (r *SeatRepo) NowTx(ctx context.Context, tx *sql.Tx) (time.Time, error) {
	var now time.Time
	if err := tx.QueryRowContext(ctx, `SELECT UTC_TIMESTAMP(6)`).Scan(&now); err != nil {
		return time.Time{}, err
	}
	return now.UTC(), nil
}

// seatKeysPredicate builds an OR-chain predicate matching the given seat
// keys, with its argument list.  The caller embeds it into a WHERE clause.
// Shared by SeatRepo and ReservationRepo, which mutate the same table
// inside reservation transitions.
func seatKeysPredicate(keys []model.SeatKey) (string, []interface{}) {
	parts := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys)*3)
	for _, k := range keys {
		parts = append(parts, "(show_date = ? AND row_label = ? AND seat_number = ?)")
		args = append(args, k.ShowDate, k.Row, k.Number)
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

func scanSeat(scan func(dest ...interface{}) error) (model.Seat, error) {
	var s model.Seat
	var showDate time.Time
	var lockedBy, reservationID sql.NullString
	var lockedAt, lockedUntil sql.NullTime
	var status string
	err := scan(&showDate, &s.Key.Row, &s.Key.Number, &status, &lockedBy, &lockedAt, &lockedUntil, &reservationID)
	if err != nil {
		return model.Seat{}, err
	}
	// DATE columns come back as time.Time with parseTime=true; the key keeps
	// the canonical string form.
	s.Key.ShowDate = showDate.UTC().Format("2006-01-02")
	s.Status = model.SeatStatus(status)
	if lockedBy.Valid {
		v := lockedBy.String
		s.LockedBy = &v
	}
	if lockedAt.Valid {
		t := lockedAt.Time.UTC()
		s.LockedAt = &t
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time.UTC()
		s.LockedUntil = &t
	}
	if reservationID.Valid {
		v := reservationID.String
		s.ReservationID = &v
	}
	return s, nil
}

const seatColumns = `show_date, row_label, seat_number, status, locked_by, locked_at, locked_until, reservation_id`

// GetByKey returns the seat row for the given key, or (nil, nil) when no
// row exists, which callers must read as "available".  This is the
// non-transactional point read backing the availability hint; the
// authoritative check happens in SelectForUpdateTx.
func (r *SeatRepo) GetByKey(ctx context.Context, key model.SeatKey) (*model.Seat, error) {
	const q = `SELECT ` + seatColumns + ` FROM seats WHERE show_date = ? AND row_label = ? AND seat_number = ?`
	row := r.db.QueryRowContext(ctx, q, key.ShowDate, key.Row, key.Number)
	s, err := scanSeat(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// SelectForUpdateTx reads the rows for all given keys under row locks,
// blocking concurrent acquirers of any overlapping seat until the
// surrounding transaction commits or rolls back.  Absent rows are simply
// missing from the result.
func (r *SeatRepo) SelectForUpdateTx(ctx context.Context, tx *sql.Tx, keys []model.SeatKey) ([]model.Seat, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pred, args := seatKeysPredicate(keys)
	q := `SELECT ` + seatColumns + ` FROM seats WHERE ` + pred + ` FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var seats []model.Seat
	for rows.Next() {
		s, err := scanSeat(rows.Scan)
		if err != nil {
			return nil, err
		}
		seats = append(seats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return seats, nil
}

// UpsertHoldsTx writes PENDING holds for every key in one statement,
// creating missing rows and overwriting existing ones.  The caller has
// already verified availability under SelectForUpdateTx within the same
// transaction, so the overwrite can only hit rows that are free, expired
// or held by the same holder.
func (r *SeatRepo) UpsertHoldsTx(ctx context.Context, tx *sql.Tx, keys []model.SeatKey, holder string, until time.Time) error {
	if len(keys) == 0 {
		return nil
	}
	query := `INSERT INTO seats (show_date, row_label, seat_number, status, locked_by, locked_at, locked_until, reservation_id) VALUES `
	args := make([]interface{}, 0, len(keys)*6)
	for i, k := range keys {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, 'PENDING', ?, UTC_TIMESTAMP(), ?, NULL)"
		args = append(args, k.ShowDate, k.Row, k.Number, holder, until.UTC().Format("2006-01-02 15:04:05"))
	}
	query += ` ON DUPLICATE KEY UPDATE
			   status = 'PENDING',
			   locked_by = VALUES(locked_by),
			   locked_at = VALUES(locked_at),
			   locked_until = VALUES(locked_until),
			   reservation_id = NULL`
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// ReleaseTx resets matching PENDING rows back to AVAILABLE and clears all
// lock metadata.  Rows that are absent, already AVAILABLE or APPROVED are
// left untouched, which makes release idempotent and safe to call on
// arbitrary key sets.
func (r *SeatRepo) ReleaseTx(ctx context.Context, tx *sql.Tx, keys []model.SeatKey) error {
	if len(keys) == 0 {
		return nil
	}
	pred, args := seatKeysPredicate(keys)
	q := `UPDATE seats
		  SET status = 'AVAILABLE', locked_by = NULL, locked_at = NULL, locked_until = NULL, reservation_id = NULL
		  WHERE ` + pred + ` AND status = 'PENDING'`
	_, err := tx.ExecContext(ctx, q, args...)
	return err
}

// Release is the single-statement variant of ReleaseTx for callers that do
// not need to couple the release with other writes.
func (r *SeatRepo) Release(ctx context.Context, keys []model.SeatKey) error {
	if len(keys) == 0 {
		return nil
	}
	pred, args := seatKeysPredicate(keys)
	q := `UPDATE seats
		  SET status = 'AVAILABLE', locked_by = NULL, locked_at = NULL, locked_until = NULL, reservation_id = NULL
		  WHERE ` + pred + ` AND status = 'PENDING'`
	_, err := r.db.ExecContext(ctx, q, args...)
	return err
}
