package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"appointbot/internal/models"
)

const slotColumns = `id, starts_at, status, raw_text,
	customer_user_id, customer_username, customer_name,
	reminder_day_sent, reminder_soon_sent, created_at, updated_at`

func (db *DB) scanSlot(row interface{ Scan(...any) error }) (*models.Slot, error) {
	var (
		s         models.Slot
		userID    sql.NullInt64
		username  sql.NullString
		fullName  sql.NullString
		updatedAt sql.NullTime
	)
	err := row.Scan(&s.ID, &s.StartsAt, &s.Status, &s.RawText,
		&userID, &username, &fullName,
		&s.DaySent, &s.SoonSent, &s.CreatedAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	s.StartsAt = s.StartsAt.In(db.loc)
	s.CreatedAt = s.CreatedAt.In(db.loc)
	if userID.Valid {
		s.Customer = &models.Customer{
			UserID:   userID.Int64,
			Username: username.String,
			FullName: fullName.String,
		}
	}
	if updatedAt.Valid {
		t := updatedAt.Time.In(db.loc)
		s.UpdatedAt = &t
	}
	return &s, nil
}

// InsertDeclaration creates one available slot per declared time, atomically:
// if any insert fails (including an exact duplicate start time) the whole
// declaration is rolled back.
func (db *DB) InsertDeclaration(ctx context.Context, decl *models.Declaration, rawText string, now time.Time) ([]models.Slot, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	created := make([]models.Slot, 0, len(decl.Times))
	for _, tod := range decl.Times {
		startsAt := tod.At(decl.Date)
		result, err := tx.ExecContext(ctx, `
			INSERT INTO slots (starts_at, status, raw_text, created_at)
			VALUES (?, ?, ?, ?)`,
			startsAt, models.StatusAvailable, rawText, now)
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "unique") {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateSlot, startsAt.Format("02.01 15:04"))
			}
			return nil, fmt.Errorf("insert slot: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("get last id: %w", err)
		}
		created = append(created, models.Slot{
			ID:        id,
			StartsAt:  startsAt,
			Status:    models.StatusAvailable,
			RawText:   rawText,
			CreatedAt: now,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

// GetSlot returns one slot by ID, or ErrSlotNotFound.
func (db *DB) GetSlot(ctx context.Context, id int64) (*models.Slot, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE id = ?`, id)
	s, err := db.scanSlot(row)
	if err == sql.ErrNoRows {
		return nil, ErrSlotNotFound
	}
	return s, err
}

func (db *DB) querySlots(ctx context.Context, query string, args ...any) ([]models.Slot, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []models.Slot
	for rows.Next() {
		s, err := db.scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, *s)
	}
	return slots, rows.Err()
}

// ListSlots returns every slot ordered by start time ascending.
func (db *DB) ListSlots(ctx context.Context) ([]models.Slot, error) {
	return db.querySlots(ctx,
		`SELECT `+slotColumns+` FROM slots ORDER BY starts_at`)
}

// ListSlotsByStatus returns slots with the given status, ordered by start time.
func (db *DB) ListSlotsByStatus(ctx context.Context, status models.SlotStatus) ([]models.Slot, error) {
	return db.querySlots(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE status = ? ORDER BY starts_at`, status)
}

// GetCustomerSlot returns the client's active booking, or ErrSlotNotFound.
func (db *DB) GetCustomerSlot(ctx context.Context, userID int64) (*models.Slot, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+slotColumns+` FROM slots
		WHERE status = ? AND customer_user_id = ?
		ORDER BY starts_at LIMIT 1`,
		models.StatusBooked, userID)
	s, err := db.scanSlot(row)
	if err == sql.ErrNoRows {
		return nil, ErrSlotNotFound
	}
	return s, err
}

// BookSlot transitions an available slot to booked for the given customer.
// The client-uniqueness check and the status-preconditioned update run in one
// transaction, so two concurrent bookings of the same slot (or by the same
// client) cannot both succeed. When exemptClientCheck is set the at-most-one
// rule is skipped; the provider books on their own behalf without limit.
func (db *DB) BookSlot(ctx context.Context, slotID int64, customer models.Customer, now time.Time, exemptClientCheck bool) (*models.Slot, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if !exemptClientCheck {
		var held int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM slots
			WHERE status = ? AND customer_user_id = ?`,
			models.StatusBooked, customer.UserID,
		).Scan(&held)
		if err != nil {
			return nil, fmt.Errorf("check client bookings: %w", err)
		}
		if held > 0 {
			return nil, ErrClientAlreadyBooked
		}
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE slots
		SET status = ?, customer_user_id = ?, customer_username = ?,
		    customer_name = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		models.StatusBooked, customer.UserID, customer.Username,
		customer.FullName, now, slotID, models.StatusAvailable)
	if err != nil {
		return nil, fmt.Errorf("book slot: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var status models.SlotStatus
		err = tx.QueryRowContext(ctx,
			"SELECT status FROM slots WHERE id = ?", slotID).Scan(&status)
		if err == sql.ErrNoRows {
			return nil, ErrSlotNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("check slot: %w", err)
		}
		return nil, ErrSlotAlreadyBooked
	}

	row := tx.QueryRowContext(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE id = ?`, slotID)
	booked, err := db.scanSlot(row)
	if err != nil {
		return nil, fmt.Errorf("reload slot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return booked, nil
}

// CancelSlot transitions a booked slot back to available, clearing the
// customer and the reminder flags. Returns the slot as it was before the
// cancellation so the caller can notify the displaced customer.
func (db *DB) CancelSlot(ctx context.Context, slotID int64) (*models.Slot, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE id = ?`, slotID)
	prior, err := db.scanSlot(row)
	if err == sql.ErrNoRows {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load slot: %w", err)
	}
	if prior.Status != models.StatusBooked {
		return nil, ErrSlotNotAvailable
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE slots
		SET status = ?, customer_user_id = NULL, customer_username = NULL,
		    customer_name = NULL, updated_at = NULL,
		    reminder_day_sent = 0, reminder_soon_sent = 0
		WHERE id = ? AND status = ?`,
		models.StatusAvailable, slotID, models.StatusBooked)
	if err != nil {
		return nil, fmt.Errorf("cancel slot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return prior, nil
}

// DeleteSlot removes a slot unconditionally and returns its prior state.
func (db *DB) DeleteSlot(ctx context.Context, slotID int64) (*models.Slot, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE id = ?`, slotID)
	prior, err := db.scanSlot(row)
	if err == sql.ErrNoRows {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load slot: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM slots WHERE id = ?", slotID); err != nil {
		return nil, fmt.Errorf("delete slot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return prior, nil
}

// DeleteDay removes every slot on the given calendar date and returns them.
func (db *DB) DeleteDay(ctx context.Context, date time.Time) ([]models.Slot, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, db.loc)
	dayEnd := dayStart.Add(24 * time.Hour)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	removed, err := db.querySlotsTx(ctx, tx, `
		SELECT `+slotColumns+` FROM slots
		WHERE starts_at >= ? AND starts_at < ?
		ORDER BY starts_at`, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("load day: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"DELETE FROM slots WHERE starts_at >= ? AND starts_at < ?", dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("delete day: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return removed, nil
}

// SweepExpired removes every slot starting strictly before now and returns
// what was removed. Running it again with the same now removes nothing.
func (db *DB) SweepExpired(ctx context.Context, now time.Time) ([]models.Slot, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	removed, err := db.querySlotsTx(ctx, tx, `
		SELECT `+slotColumns+` FROM slots
		WHERE starts_at < ? ORDER BY starts_at`, now)
	if err != nil {
		return nil, fmt.Errorf("load expired: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM slots WHERE starts_at < ?", now); err != nil {
		return nil, fmt.Errorf("delete expired: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return removed, nil
}

// ListBookedBetween returns booked slots starting within [from, until],
// ordered by start time. Used by the reminder scheduler.
func (db *DB) ListBookedBetween(ctx context.Context, from, until time.Time) ([]models.Slot, error) {
	return db.querySlots(ctx, `
		SELECT `+slotColumns+` FROM slots
		WHERE status = ? AND starts_at >= ? AND starts_at <= ?
		ORDER BY starts_at`,
		models.StatusBooked, from, until)
}

// ReminderKind selects which of the two reminder flags an operation targets.
type ReminderKind string

const (
	ReminderDayBefore ReminderKind = "day_before"
	ReminderSoon      ReminderKind = "soon"
)

// TryMarkReminderSent atomically claims a reminder for a slot. It returns
// true only for the first caller per slot per kind; the flag precondition
// makes the send exactly-once even across overlapping ticks.
func (db *DB) TryMarkReminderSent(ctx context.Context, slotID int64, kind ReminderKind) (bool, error) {
	column := "reminder_day_sent"
	if kind == ReminderSoon {
		column = "reminder_soon_sent"
	}

	result, err := db.ExecContext(ctx, `
		UPDATE slots SET `+column+` = 1
		WHERE id = ? AND status = ? AND `+column+` = 0`,
		slotID, models.StatusBooked)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ClearReminderSent releases a claimed reminder after a failed delivery so a
// later tick can retry it.
func (db *DB) ClearReminderSent(ctx context.Context, slotID int64, kind ReminderKind) error {
	column := "reminder_day_sent"
	if kind == ReminderSoon {
		column = "reminder_soon_sent"
	}
	_, err := db.ExecContext(ctx,
		`UPDATE slots SET `+column+` = 0 WHERE id = ?`, slotID)
	return err
}

func (db *DB) querySlotsTx(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]models.Slot, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []models.Slot
	for rows.Next() {
		s, err := db.scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, *s)
	}
	return slots, rows.Err()
}
