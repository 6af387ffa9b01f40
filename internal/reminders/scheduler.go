// Package reminders runs the background loop that fires session reminders in
// two windows before each booked slot: the evening before (21-24h out) and
// shortly before the session (1-4h out). Each slot gets at most one reminder
// per window, tracked by persisted flags in the slot store.
package reminders

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"appointbot/internal/clock"
	"appointbot/internal/database"
	"appointbot/internal/events"
	"appointbot/internal/metrics"
	"appointbot/internal/models"
)

// SlotStore is the slice of the store the scheduler drives.
type SlotStore interface {
	ListBookedBetween(ctx context.Context, from, until time.Time) ([]models.Slot, error)
	TryMarkReminderSent(ctx context.Context, slotID int64, kind database.ReminderKind) (bool, error)
	ClearReminderSent(ctx context.Context, slotID int64, kind database.ReminderKind) error
	SweepExpired(ctx context.Context, now time.Time) ([]models.Slot, error)
}

// Notifier delivers one reminder to the slot's customer. A non-nil error
// releases the slot's claim so a later tick retries.
type Notifier interface {
	SendReminder(ctx context.Context, slot models.Slot, kind string) error
}

// Scheduler ticks at a fixed interval and fires due reminders. The interval
// must be at most half the narrowest window or slots can pass through a
// window unseen between ticks.
type Scheduler struct {
	store    SlotStore
	notifier Notifier
	clk      clock.Clock
	adminID  int64
	interval time.Duration
	logger   zerolog.Logger
}

func NewScheduler(store SlotStore, notifier Notifier, clk clock.Clock, adminID int64, interval time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 || interval > time.Hour {
		interval = 30 * time.Minute
	}
	return &Scheduler{
		store:    store,
		notifier: notifier,
		clk:      clk,
		adminID:  adminID,
		interval: interval,
		logger:   logger.With().Str("component", "reminders").Logger(),
	}
}

// Run blocks until ctx is cancelled, ticking immediately and then at the
// configured interval.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("reminder scheduler started")

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("reminder scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.clk.Now()

	if _, err := s.store.SweepExpired(ctx, now); err != nil {
		s.logger.Error().Err(err).Msg("expiry sweep failed")
	}

	slots, err := s.store.ListBookedBetween(ctx, now, now.Add(24*time.Hour))
	if err != nil {
		s.logger.Error().Err(err).Msg("list booked slots failed")
		return
	}

	for _, slot := range slots {
		if slot.Customer == nil || slot.Customer.UserID == s.adminID {
			continue
		}

		delta := slot.StartsAt.Sub(now)
		if delta <= 0 {
			continue
		}
		hours := int(delta / time.Hour)

		if hours >= 21 && hours < 24 && !slot.DaySent {
			s.fire(ctx, slot, database.ReminderDayBefore, events.KindReminderDayBefore)
		}
		if hours >= 1 && hours <= 4 && !slot.SoonSent {
			s.fire(ctx, slot, database.ReminderSoon, events.KindReminderSoon)
		}
	}
}

// fire claims the slot's flag for the window and delivers. One slot's
// failure never aborts the tick.
func (s *Scheduler) fire(ctx context.Context, slot models.Slot, flag database.ReminderKind, kind string) {
	claimed, err := s.store.TryMarkReminderSent(ctx, slot.ID, flag)
	if err != nil {
		s.logger.Error().Err(err).Int64("slot_id", slot.ID).Msg("reminder claim failed")
		return
	}
	if !claimed {
		return
	}

	if err := s.notifier.SendReminder(ctx, slot, kind); err != nil {
		metrics.IncReminderFailure()
		s.logger.Error().
			Err(err).
			Int64("slot_id", slot.ID).
			Str("kind", kind).
			Msg("reminder delivery failed")
		if err := s.store.ClearReminderSent(ctx, slot.ID, flag); err != nil {
			s.logger.Error().Err(err).Int64("slot_id", slot.ID).Msg("reminder claim release failed")
		}
		return
	}

	metrics.IncReminderSent(kind)
	s.logger.Info().
		Int64("slot_id", slot.ID).
		Int64("user_id", slot.Customer.UserID).
		Str("kind", kind).
		Msg("reminder sent")
}
