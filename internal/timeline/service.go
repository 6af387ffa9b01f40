// Package timeline owns the slot lifecycle: creation from declarations,
// day grouping, booking transitions, deletion and the expiry sweep.
package timeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"appointbot/internal/clock"
	"appointbot/internal/events"
	"appointbot/internal/metrics"
	"appointbot/internal/models"
	"appointbot/internal/parser"
)

// SlotStore is the narrow persistence contract the engine drives. The store
// owns physical persistence and ID assignment; the engine owns the rules.
type SlotStore interface {
	InsertDeclaration(ctx context.Context, decl *models.Declaration, rawText string, now time.Time) ([]models.Slot, error)
	GetSlot(ctx context.Context, id int64) (*models.Slot, error)
	ListSlots(ctx context.Context) ([]models.Slot, error)
	ListSlotsByStatus(ctx context.Context, status models.SlotStatus) ([]models.Slot, error)
	GetCustomerSlot(ctx context.Context, userID int64) (*models.Slot, error)
	BookSlot(ctx context.Context, slotID int64, customer models.Customer, now time.Time, exemptClientCheck bool) (*models.Slot, error)
	CancelSlot(ctx context.Context, slotID int64) (*models.Slot, error)
	DeleteSlot(ctx context.Context, slotID int64) (*models.Slot, error)
	DeleteDay(ctx context.Context, date time.Time) ([]models.Slot, error)
	SweepExpired(ctx context.Context, now time.Time) ([]models.Slot, error)
}

// Publisher hands notification intents to the transport layer.
type Publisher interface {
	PublishJSON(kind string, recipientID int64, payload interface{}) error
}

// Service enforces the booking state machine on top of the slot store.
type Service struct {
	store   SlotStore
	clk     clock.Clock
	bus     Publisher
	adminID int64
	logger  zerolog.Logger
}

func NewService(store SlotStore, clk clock.Clock, bus Publisher, adminID int64, logger zerolog.Logger) *Service {
	return &Service{
		store:   store,
		clk:     clk,
		bus:     bus,
		adminID: adminID,
		logger:  logger.With().Str("component", "timeline").Logger(),
	}
}

// CreateSlots parses an admin declaration and creates one available slot per
// declared time. The declaration is all-or-nothing: one bad token or one
// duplicate time rejects the whole batch.
func (s *Service) CreateSlots(ctx context.Context, rawText string) ([]models.Slot, error) {
	decl, err := parser.ParseDeclaration(rawText, s.clk.Now())
	if err != nil {
		return nil, err
	}

	created, err := s.store.InsertDeclaration(ctx, decl, rawText, s.clk.Now())
	if err != nil {
		return nil, err
	}

	metrics.AddSlotsCreated(len(created))
	s.logger.Info().
		Time("date", decl.Date).
		Int("count", len(created)).
		Msg("slots created")
	return created, nil
}

// ListByDay returns all slots grouped by calendar date, days ascending and
// slots within a day ordered by time. An empty result means no slots exist.
func (s *Service) ListByDay(ctx context.Context) ([]models.DaySlots, error) {
	slots, err := s.store.ListSlots(ctx)
	if err != nil {
		return nil, err
	}
	return groupByDay(slots), nil
}

// ListAvailable returns only available slots, grouped like ListByDay.
func (s *Service) ListAvailable(ctx context.Context) ([]models.DaySlots, error) {
	slots, err := s.store.ListSlotsByStatus(ctx, models.StatusAvailable)
	if err != nil {
		return nil, err
	}
	return groupByDay(slots), nil
}

// ListBooked returns only booked slots, grouped like ListByDay.
func (s *Service) ListBooked(ctx context.Context) ([]models.DaySlots, error) {
	slots, err := s.store.ListSlotsByStatus(ctx, models.StatusBooked)
	if err != nil {
		return nil, err
	}
	return groupByDay(slots), nil
}

// ClientBooking returns the client's single active booking, or
// database.ErrSlotNotFound when they hold none.
func (s *Service) ClientBooking(ctx context.Context, userID int64) (*models.Slot, error) {
	return s.store.GetCustomerSlot(ctx, userID)
}

// Book transitions an available slot to booked for the customer. A client may
// hold at most one active booking; the provider is exempt and may book any
// number of slots on their own behalf (in that case nobody is notified).
func (s *Service) Book(ctx context.Context, slotID int64, customer models.Customer) (*models.Slot, error) {
	isAdmin := customer.UserID == s.adminID

	booked, err := s.store.BookSlot(ctx, slotID, customer, s.clk.Now(), isAdmin)
	if err != nil {
		return nil, err
	}

	actor := "client"
	if isAdmin {
		actor = "admin"
	}
	metrics.IncSlotBooked(actor)
	s.logger.Info().
		Int64("slot_id", slotID).
		Int64("user_id", customer.UserID).
		Str("actor", actor).
		Msg("slot booked")

	if !isAdmin {
		notice := events.SlotNotice{
			SlotID:           booked.ID,
			StartsAt:         booked.StartsAt,
			CustomerName:     customer.FullName,
			CustomerUsername: customer.Username,
		}
		_ = s.bus.PublishJSON(events.KindBookingConfirmed, customer.UserID, notice)
		_ = s.bus.PublishJSON(events.KindBookingAdminNotice, s.adminID, notice)
	}
	return booked, nil
}

// Cancel transitions a booked slot back to available. Cancelling by the admin
// notifies the displaced customer; cancelling by the client notifies the
// admin. Cancelling an available slot fails with ErrSlotNotAvailable.
func (s *Service) Cancel(ctx context.Context, slotID int64, byAdmin bool) (*models.Slot, error) {
	prior, err := s.store.CancelSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}

	actor := "client"
	if byAdmin {
		actor = "admin"
	}
	metrics.IncSlotCancelled(actor)
	s.logger.Info().
		Int64("slot_id", slotID).
		Str("actor", actor).
		Msg("booking cancelled")

	if prior.Customer != nil && prior.Customer.UserID != s.adminID {
		notice := events.SlotNotice{
			SlotID:           prior.ID,
			StartsAt:         prior.StartsAt,
			CustomerName:     prior.Customer.FullName,
			CustomerUsername: prior.Customer.Username,
		}
		if byAdmin {
			_ = s.bus.PublishJSON(events.KindCancelledByAdmin, prior.Customer.UserID, notice)
		} else {
			_ = s.bus.PublishJSON(events.KindCancelledByClient, s.adminID, notice)
		}
	}
	return prior, nil
}

// DeleteSlot removes a slot unconditionally. If it was booked by a client,
// the displaced customer gets a deletion notice.
func (s *Service) DeleteSlot(ctx context.Context, slotID int64) (*models.Slot, error) {
	removed, err := s.store.DeleteSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	s.notifyDisplaced(removed)
	s.logger.Info().Int64("slot_id", slotID).Msg("slot deleted")
	return removed, nil
}

// DeleteDay removes every slot on the given date, notifying each displaced
// customer.
func (s *Service) DeleteDay(ctx context.Context, date time.Time) ([]models.Slot, error) {
	removed, err := s.store.DeleteDay(ctx, date)
	if err != nil {
		return nil, err
	}
	for i := range removed {
		s.notifyDisplaced(&removed[i])
	}
	s.logger.Info().
		Time("date", date).
		Int("count", len(removed)).
		Msg("day deleted")
	return removed, nil
}

// SweepExpired removes every slot whose start time has passed and returns the
// removed set. Nobody is notified; stale-UI suppression is the caller's job.
func (s *Service) SweepExpired(ctx context.Context) ([]models.Slot, error) {
	removed, err := s.store.SweepExpired(ctx, s.clk.Now())
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		metrics.AddSlotsSwept(len(removed))
		s.logger.Info().Int("count", len(removed)).Msg("expired slots removed")
	}
	return removed, nil
}

func (s *Service) notifyDisplaced(slot *models.Slot) {
	if slot.Customer == nil || slot.Customer.UserID == s.adminID {
		return
	}
	_ = s.bus.PublishJSON(events.KindSlotDeleted, slot.Customer.UserID, events.SlotNotice{
		SlotID:           slot.ID,
		StartsAt:         slot.StartsAt,
		CustomerName:     slot.Customer.FullName,
		CustomerUsername: slot.Customer.Username,
	})
}

func groupByDay(slots []models.Slot) []models.DaySlots {
	var days []models.DaySlots
	for _, slot := range slots {
		day := slot.Day()
		if len(days) == 0 || !days[len(days)-1].Date.Equal(day) {
			days = append(days, models.DaySlots{Date: day})
		}
		last := &days[len(days)-1]
		last.Slots = append(last.Slots, slot)
	}
	return days
}
