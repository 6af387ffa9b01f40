package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"appointbot/internal/models"
)

// GetSettings returns the singleton settings record.
func (db *DB) GetSettings(ctx context.Context) (*models.Settings, error) {
	var (
		s         models.Settings
		prices    string
		updatedAt sql.NullTime
	)
	err := db.QueryRowContext(ctx,
		"SELECT about_text, address, prices, updated_at FROM settings WHERE id = 1",
	).Scan(&s.AboutText, &s.Address, &prices, &updatedAt)
	if err != nil {
		return nil, err
	}
	if prices != "" {
		s.Prices = strings.Fields(prices)
	}
	if updatedAt.Valid {
		s.UpdatedAt = updatedAt.Time.In(db.loc)
	}
	return &s, nil
}

// UpdateAbout overwrites the about-text wholesale.
func (db *DB) UpdateAbout(ctx context.Context, text string, now time.Time) error {
	_, err := db.ExecContext(ctx,
		"UPDATE settings SET about_text = ?, updated_at = ? WHERE id = 1", text, now)
	return err
}

// UpdateAddress overwrites the address wholesale.
func (db *DB) UpdateAddress(ctx context.Context, text string, now time.Time) error {
	_, err := db.ExecContext(ctx,
		"UPDATE settings SET address = ?, updated_at = ? WHERE id = 1", text, now)
	return err
}

// UpdatePrices overwrites all price tiers at once.
func (db *DB) UpdatePrices(ctx context.Context, prices []string, now time.Time) error {
	_, err := db.ExecContext(ctx,
		"UPDATE settings SET prices = ?, updated_at = ? WHERE id = 1",
		strings.Join(prices, " "), now)
	return err
}
