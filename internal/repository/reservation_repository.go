package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/theater-reservation/internal/booking"
	"github.com/iliyamo/theater-reservation/internal/model"
)

// ReservationRepo provides CRUD operations and status transitions for
// reservations and their seats.  Every transition that touches both the
// reservations table and the seats table runs inside a single transaction,
// so a reservation can never be observed approved while its seats are
// still pending, or deleted while its seats remain locked.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// DB exposes the underlying handle for callers that coordinate wider
// transactions.
func (r *ReservationRepo) DB() *sql.DB { return r.db }

const dbTimeLayout = "2006-01-02 15:04:05"

// Create persists a reservation and its seats in one transaction.  The
// caller must have acquired the seat locks beforehand; this method only
// records the reservation documents.
func (r *ReservationRepo) Create(ctx context.Context, res *model.Reservation) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const q = `INSERT INTO reservations (id, first_name, last_name, phone_number, show_date, status, created_at, expires_at)
			   VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	var expires interface{}
	if res.ExpiresAt != nil {
		expires = res.ExpiresAt.UTC().Format(dbTimeLayout)
	}
	if _, err := tx.ExecContext(ctx, q,
		res.ID, res.FirstName, res.LastName, res.PhoneNumber, res.ShowDate,
		string(res.Status), res.CreatedAt.UTC().Format(dbTimeLayout), expires,
	); err != nil {
		return err
	}
	if len(res.Seats) > 0 {
		query := `INSERT INTO reservation_seats (reservation_id, show_date, row_label, seat_number, seat_status) VALUES `
		args := make([]interface{}, 0, len(res.Seats)*5)
		for i, s := range res.Seats {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?, ?, ?)"
			args = append(args, res.ID, s.Key.ShowDate, s.Key.Row, s.Key.Number, string(s.Decision))
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func scanReservation(scan func(dest ...interface{}) error) (model.Reservation, error) {
	var res model.Reservation
	var showDate, createdAt time.Time
	var expiresAt sql.NullTime
	var status string
	if err := scan(&res.ID, &res.FirstName, &res.LastName, &res.PhoneNumber, &showDate, &status, &createdAt, &expiresAt); err != nil {
		return model.Reservation{}, err
	}
	res.ShowDate = showDate.UTC().Format("2006-01-02")
	res.Status = model.ReservationStatus(status)
	res.CreatedAt = createdAt.UTC()
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		res.ExpiresAt = &t
	}
	return res, nil
}

const reservationColumns = `id, first_name, last_name, phone_number, show_date, status, created_at, expires_at`

// Get loads one reservation with its seats and per-seat decisions.  It
// returns booking.ErrNotFound when no reservation with the ID exists.
func (r *ReservationRepo) Get(ctx context.Context, id string) (*model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	res, err := scanReservation(r.db.QueryRowContext(ctx, q, id).Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, booking.ErrNotFound
		}
		return nil, err
	}
	seats, err := r.seatsFor(ctx, r.db.QueryContext, []string{id})
	if err != nil {
		return nil, err
	}
	res.Seats = seats[id]
	return &res, nil
}

type queryFunc func(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)

// seatsFor loads reservation_seats for a set of reservation IDs in one
// query and groups them by reservation.  Ordering by row and number keeps
// output deterministic.
func (r *ReservationRepo) seatsFor(ctx context.Context, query queryFunc, ids []string) (map[string][]model.ReservationSeat, error) {
	if len(ids) == 0 {
		return map[string][]model.ReservationSeat{}, nil
	}
	placeholders := make([]string, 0, len(ids))
	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}
	q := `SELECT reservation_id, show_date, row_label, seat_number, seat_status
		  FROM reservation_seats
		  WHERE reservation_id IN (` + strings.Join(placeholders, ",") + `)
		  ORDER BY reservation_id, row_label, seat_number`
	rows, err := query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]model.ReservationSeat, len(ids))
	for rows.Next() {
		var s model.ReservationSeat
		var showDate time.Time
		var decision string
		if err := rows.Scan(&s.ReservationID, &showDate, &s.Key.Row, &s.Key.Number, &decision); err != nil {
			return nil, err
		}
		s.Key.ShowDate = showDate.UTC().Format("2006-01-02")
		s.Decision = model.SeatDecision(decision)
		out[s.ReservationID] = append(out[s.ReservationID], s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CountActiveByPhone counts PENDING and APPROVED reservations held by a
// phone number, backing the per-phone capacity check.
func (r *ReservationRepo) CountActiveByPhone(ctx context.Context, phone string) (int, error) {
	const q = `SELECT COUNT(*) FROM reservations WHERE phone_number = ? AND status IN ('PENDING','APPROVED')`
	var n int
	if err := r.db.QueryRowContext(ctx, q, phone).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ListPending returns all PENDING reservations ordered by expiry, soonest
// first; reservations awaiting manual per-seat resolution (NULL expiry)
// sort last.
func (r *ReservationRepo) ListPending(ctx context.Context) ([]model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + `
			   FROM reservations
			   WHERE status = 'PENDING'
			   ORDER BY expires_at IS NULL, expires_at ASC, created_at ASC`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := make([]model.Reservation, 0)
	index := make(map[string]int)
	ids := make([]string, 0)
	for rows.Next() {
		res, err := scanReservation(rows.Scan)
		if err != nil {
			return nil, err
		}
		index[res.ID] = len(list)
		ids = append(ids, res.ID)
		list = append(list, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	seats, err := r.seatsFor(ctx, r.db.QueryContext, ids)
	if err != nil {
		return nil, err
	}
	for id, ss := range seats {
		list[index[id]].Seats = ss
	}
	return list, nil
}

// lockReservationTx reads a reservation's status and seat keys under a row
// lock, serializing concurrent transitions on the same reservation.
func (r *ReservationRepo) lockReservationTx(ctx context.Context, tx *sql.Tx, id string) (model.ReservationStatus, []model.SeatKey, error) {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM reservations WHERE id = ? FOR UPDATE`, id).Scan(&status)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil, booking.ErrNotFound
		}
		return "", nil, err
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT show_date, row_label, seat_number FROM reservation_seats WHERE reservation_id = ?`, id)
	if err != nil {
		return "", nil, err
	}
	defer rows.Close()
	var keys []model.SeatKey
	for rows.Next() {
		var k model.SeatKey
		var showDate time.Time
		if err := rows.Scan(&showDate, &k.Row, &k.Number); err != nil {
			return "", nil, err
		}
		k.ShowDate = showDate.UTC().Format("2006-01-02")
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return "", nil, err
	}
	return model.ReservationStatus(status), keys, nil
}

// seatOwnershipConflictsTx reads the seat rows for the given keys under
// row locks and returns the keys the reservation no longer owns: rows that
// are absent, released, or locked/finalized by another reservation.  A
// reservation whose hold expired can lose a seat to a later acquirer
// before the sweep runs, and approval must not stomp that live hold.
func (r *ReservationRepo) seatOwnershipConflictsTx(ctx context.Context, tx *sql.Tx, keys []model.SeatKey, id string) ([]model.SeatKey, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pred, args := seatKeysPredicate(keys)
	q := `SELECT show_date, row_label, seat_number, locked_by, reservation_id FROM seats WHERE ` + pred + ` FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	owned := make(map[model.SeatKey]bool, len(keys))
	for rows.Next() {
		var k model.SeatKey
		var showDate time.Time
		var lockedBy, reservationID sql.NullString
		if err := rows.Scan(&showDate, &k.Row, &k.Number, &lockedBy, &reservationID); err != nil {
			return nil, err
		}
		k.ShowDate = showDate.UTC().Format("2006-01-02")
		owned[k] = (lockedBy.Valid && lockedBy.String == id) || (reservationID.Valid && reservationID.String == id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var conflicts []model.SeatKey
	for _, k := range keys {
		if !owned[k] {
			conflicts = append(conflicts, k)
		}
	}
	return conflicts, nil
}

// Approve marks a reservation and all of its seats APPROVED in one
// transaction and returns the status found before the transition.  An
// already-approved reservation is left untouched; a rejected one is never
// mutated (the caller decides how to surface that).  Seats meanwhile
// re-acquired by another reservation abort the approval with a
// *booking.ConflictError and nothing is written.
func (r *ReservationRepo) Approve(ctx context.Context, id string) (model.ReservationStatus, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	prior, keys, err := r.lockReservationTx(ctx, tx, id)
	if err != nil {
		return "", err
	}
	if prior.Terminal() {
		return prior, nil
	}
	conflicts, err := r.seatOwnershipConflictsTx(ctx, tx, keys, id)
	if err != nil {
		return "", err
	}
	if len(conflicts) > 0 {
		return "", &booking.ConflictError{Seats: conflicts}
	}
	if len(keys) > 0 {
		pred, args := seatKeysPredicate(keys)
		q := `UPDATE seats
			  SET status = 'APPROVED', reservation_id = ?, locked_by = NULL, locked_at = NULL, locked_until = NULL
			  WHERE ` + pred + ` AND (locked_by = ? OR reservation_id = ?)`
		if _, err := tx.ExecContext(ctx, q, append(append([]interface{}{id}, args...), id, id)...); err != nil {
			return "", err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE reservation_seats SET seat_status = 'APPROVED' WHERE reservation_id = ?`, id); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status = 'APPROVED' WHERE id = ?`, id); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	committed = true
	return prior, nil
}

// Reject marks a reservation REJECTED and releases all of its seats back
// to AVAILABLE in one transaction, returning the prior status.  Only seats
// actually owned by this reservation (as lock holder or via the approved
// back-reference) are touched.
func (r *ReservationRepo) Reject(ctx context.Context, id string) (model.ReservationStatus, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	prior, keys, err := r.lockReservationTx(ctx, tx, id)
	if err != nil {
		return "", err
	}
	if prior.Terminal() {
		return prior, nil
	}
	if err := r.releaseOwnedSeatsTx(ctx, tx, keys, id); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE reservation_seats SET seat_status = 'REJECTED' WHERE reservation_id = ?`, id); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status = 'REJECTED' WHERE id = ?`, id); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	committed = true
	return prior, nil
}

// releaseOwnedSeatsTx resets the given seats to AVAILABLE where they are
// held or finalized by the given reservation.  Seats meanwhile claimed by
// someone else are left alone, keeping the operation idempotent.
func (r *ReservationRepo) releaseOwnedSeatsTx(ctx context.Context, tx *sql.Tx, keys []model.SeatKey, id string) error {
	if len(keys) == 0 {
		return nil
	}
	pred, args := seatKeysPredicate(keys)
	q := `UPDATE seats
		  SET status = 'AVAILABLE', locked_by = NULL, locked_at = NULL, locked_until = NULL, reservation_id = NULL
		  WHERE ` + pred + ` AND (locked_by = ? OR reservation_id = ?)`
	_, err := tx.ExecContext(ctx, q, append(args, id, id)...)
	return err
}

// DecideSeat records a terminal decision for one seat of a PENDING
// reservation, finalizes or releases that seat row, clears the checkout
// deadline (partially decided reservations await manual resolution, the
// reconciler must not reclaim them) and advances the aggregate status when
// every seat agrees.  The new aggregate status is returned.
func (r *ReservationRepo) DecideSeat(ctx context.Context, id string, key model.SeatKey, decision model.SeatDecision) (model.ReservationStatus, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	prior, _, err := r.lockReservationTx(ctx, tx, id)
	if err != nil {
		return "", err
	}
	if prior.Terminal() {
		return prior, &booking.ConflictError{}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE reservation_seats SET seat_status = ?
		 WHERE reservation_id = ? AND show_date = ? AND row_label = ? AND seat_number = ?`,
		string(decision), id, key.ShowDate, key.Row, key.Number)
	if err != nil {
		return "", err
	}
	if n, err := result.RowsAffected(); err != nil {
		return "", err
	} else if n == 0 {
		// The update matched no row; distinguish "seat not in reservation"
		// from "decision unchanged" with a point read.
		var existing string
		err := tx.QueryRowContext(ctx,
			`SELECT seat_status FROM reservation_seats
			 WHERE reservation_id = ? AND show_date = ? AND row_label = ? AND seat_number = ?`,
			id, key.ShowDate, key.Row, key.Number).Scan(&existing)
		if err == sql.ErrNoRows {
			return "", booking.ErrNotFound
		}
		if err != nil {
			return "", err
		}
	}

	pred, args := seatKeysPredicate([]model.SeatKey{key})
	if decision == model.SeatDecisionApproved {
		conflicts, err := r.seatOwnershipConflictsTx(ctx, tx, []model.SeatKey{key}, id)
		if err != nil {
			return "", err
		}
		if len(conflicts) > 0 {
			return "", &booking.ConflictError{Seats: conflicts}
		}
		q := `UPDATE seats
			  SET status = 'APPROVED', reservation_id = ?, locked_by = NULL, locked_at = NULL, locked_until = NULL
			  WHERE ` + pred + ` AND (locked_by = ? OR reservation_id = ?)`
		if _, err := tx.ExecContext(ctx, q, append(append([]interface{}{id}, args...), id, id)...); err != nil {
			return "", err
		}
	} else {
		q := `UPDATE seats
			  SET status = 'AVAILABLE', locked_by = NULL, locked_at = NULL, locked_until = NULL, reservation_id = NULL
			  WHERE ` + pred + ` AND (locked_by = ? OR reservation_id = ?)`
		if _, err := tx.ExecContext(ctx, q, append(args, id, id)...); err != nil {
			return "", err
		}
	}

	// Once an admin starts deciding individual seats the reservation is in
	// manual resolution; clear the deadline so the sweep leaves it alone.
	if _, err := tx.ExecContext(ctx,
		`UPDATE reservations SET expires_at = NULL WHERE id = ?`, id); err != nil {
		return "", err
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT seat_status FROM reservation_seats WHERE reservation_id = ?`, id)
	if err != nil {
		return "", err
	}
	var seats []model.ReservationSeat
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			rows.Close()
			return "", err
		}
		seats = append(seats, model.ReservationSeat{Decision: model.SeatDecision(d)})
	}
	if err := rows.Close(); err != nil {
		return "", err
	}
	aggregate := model.AggregateStatus(seats)
	if aggregate != model.ReservationPending {
		if _, err := tx.ExecContext(ctx,
			`UPDATE reservations SET status = ? WHERE id = ?`, string(aggregate), id); err != nil {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	committed = true
	return aggregate, nil
}

// ListExpiredPending returns the IDs of PENDING reservations whose
// checkout deadline has passed, oldest deadline first, bounded by limit.
// Deadline comparison uses the database clock.
func (r *ReservationRepo) ListExpiredPending(ctx context.Context, limit int) ([]string, error) {
	const q = `SELECT id FROM reservations
			   WHERE status = 'PENDING' AND expires_at IS NOT NULL AND expires_at <= UTC_TIMESTAMP()
			   ORDER BY expires_at ASC
			   LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
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

// ReclaimExpired releases the seats of one expired PENDING reservation and
// deletes it, in a single transaction.  It re-checks expiry under the row
// lock so overlapping reconciler passes cannot double-reclaim; it reports
// whether this call did the reclaiming.
func (r *ReservationRepo) ReclaimExpired(ctx context.Context, id string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var status string
	var expired bool
	err = tx.QueryRowContext(ctx,
		`SELECT status, (expires_at IS NOT NULL AND expires_at <= UTC_TIMESTAMP())
		 FROM reservations WHERE id = ? FOR UPDATE`, id).Scan(&status, &expired)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil // already reclaimed by a concurrent pass
		}
		return false, err
	}
	if model.ReservationStatus(status) != model.ReservationPending || !expired {
		return false, nil
	}

	_, keys, err := r.lockReservationTx(ctx, tx, id)
	if err != nil {
		return false, err
	}
	if err := r.releaseOwnedSeatsTx(ctx, tx, keys, id); err != nil {
		return false, err
	}
	// reservation_seats rows go with the reservation via ON DELETE CASCADE.
	if _, err := tx.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	committed = true
	return true, nil
}

// ReleaseOrphanedLocks frees PENDING seat locks whose deadline has passed
// and whose holder has no reservation row at all, the residue of a crash
// between lock acquisition and reservation persistence.  Seats belonging
// to an existing reservation, even an expired one, are left for
// ReclaimExpired so seat release and reservation deletion stay coupled.
func (r *ReservationRepo) ReleaseOrphanedLocks(ctx context.Context) (int64, error) {
	const q = `UPDATE seats s
			   LEFT JOIN reservations res ON res.id = s.locked_by
			   SET s.status = 'AVAILABLE', s.locked_by = NULL, s.locked_at = NULL, s.locked_until = NULL, s.reservation_id = NULL
			   WHERE s.status = 'PENDING' AND s.locked_until <= UTC_TIMESTAMP() AND res.id IS NULL`
	result, err := r.db.ExecContext(ctx, q)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
