package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"appointbot/internal/models"
)

// Deliverer performs the actual message delivery, typically the Telegram
// transport.
type Deliverer interface {
	DeliverReminder(ctx context.Context, slot models.Slot, kind string) error
}

// Sender throttles and retries reminder delivery. Telegram caps bot send
// rates, so all reminder traffic funnels through one limiter.
type Sender struct {
	deliverer   Deliverer
	limiter     *rate.Limiter
	retryDelays []time.Duration
	logger      zerolog.Logger
}

func NewSender(deliverer Deliverer, sendRate rate.Limit, burst int, logger zerolog.Logger) *Sender {
	return &Sender{
		deliverer:   deliverer,
		limiter:     rate.NewLimiter(sendRate, burst),
		retryDelays: []time.Duration{time.Second, 5 * time.Second},
		logger:      logger.With().Str("component", "reminder_sender").Logger(),
	}
}

// SendReminder delivers one reminder, waiting for limiter capacity and
// retrying transient failures a bounded number of times.
func (s *Sender) SendReminder(ctx context.Context, slot models.Slot, kind string) error {
	var lastErr error
	for attempt := 0; attempt <= len(s.retryDelays); attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		lastErr = s.deliverer.DeliverReminder(ctx, slot, kind)
		if lastErr == nil {
			return nil
		}

		if attempt < len(s.retryDelays) {
			s.logger.Warn().
				Err(lastErr).
				Int64("slot_id", slot.ID).
				Int("attempt", attempt+1).
				Msg("reminder delivery retry")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retryDelays[attempt]):
			}
		}
	}
	return fmt.Errorf("deliver reminder for slot %d: %w", slot.ID, lastErr)
}
