package timeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appointbot/internal/clock"
	"appointbot/internal/database"
	"appointbot/internal/events"
	"appointbot/internal/models"
)

const testAdminID int64 = 1000

type publishedEvent struct {
	Kind        string
	RecipientID int64
}

type capturingBus struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (b *capturingBus) PublishJSON(kind string, recipientID int64, payload interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, publishedEvent{Kind: kind, RecipientID: recipientID})
	return nil
}

func (b *capturingBus) byKind(kind string) []publishedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []publishedEvent
	for _, e := range b.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func newTestService(t *testing.T, now time.Time) (*Service, *database.DB, *capturingBus) {
	t.Helper()

	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), time.UTC, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	bus := &capturingBus{}
	svc := NewService(db, clock.Fixed{T: now}, bus, testAdminID, logger)
	return svc, db, bus
}

func testNow() time.Time {
	return time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
}

func customer(id int64) models.Customer {
	return models.Customer{UserID: id, Username: "user", FullName: "Test User"}
}

func TestCreateSlotsAndGrouping(t *testing.T) {
	svc, _, _ := newTestService(t, testNow())
	ctx := context.Background()

	created, err := svc.CreateSlots(ctx, "05.04 10 12 13:30")
	require.NoError(t, err)
	require.Len(t, created, 3)

	_, err = svc.CreateSlots(ctx, "03.04 9 15")
	require.NoError(t, err)

	days, err := svc.ListByDay(ctx)
	require.NoError(t, err)
	require.Len(t, days, 2)

	// Days ascending even though 03.04 was declared second.
	assert.Equal(t, time.Date(2024, 4, 3, 0, 0, 0, 0, time.UTC), days[0].Date)
	assert.Equal(t, time.Date(2024, 4, 5, 0, 0, 0, 0, time.UTC), days[1].Date)

	require.Len(t, days[1].Slots, 3)
	assert.Equal(t, 10, days[1].Slots[0].StartsAt.Hour())
	assert.Equal(t, 12, days[1].Slots[1].StartsAt.Hour())
	assert.Equal(t, 13, days[1].Slots[2].StartsAt.Hour())
	assert.Equal(t, 30, days[1].Slots[2].StartsAt.Minute())
	for _, slot := range days[1].Slots {
		assert.Equal(t, models.StatusAvailable, slot.Status)
	}
}

func TestCreateSlotsDuplicateRejectsWholeBatch(t *testing.T) {
	svc, _, _ := newTestService(t, testNow())
	ctx := context.Background()

	_, err := svc.CreateSlots(ctx, "05.04 10")
	require.NoError(t, err)

	_, err = svc.CreateSlots(ctx, "05.04 9 10 11")
	require.ErrorIs(t, err, database.ErrDuplicateSlot)

	days, err := svc.ListByDay(ctx)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Len(t, days[0].Slots, 1, "failed declaration must not leave partial slots")
}

func TestCreateSlotsInvalidDeclaration(t *testing.T) {
	svc, _, _ := newTestService(t, testNow())

	_, err := svc.CreateSlots(context.Background(), "05.04 25")
	require.Error(t, err)
}

func TestBookPublishesNotices(t *testing.T) {
	svc, _, bus := newTestService(t, testNow())
	ctx := context.Background()

	created, err := svc.CreateSlots(ctx, "05.04 10")
	require.NoError(t, err)

	booked, err := svc.Book(ctx, created[0].ID, customer(42))
	require.NoError(t, err)
	assert.Equal(t, models.StatusBooked, booked.Status)
	require.NotNil(t, booked.Customer)
	assert.Equal(t, int64(42), booked.Customer.UserID)

	confirmed := bus.byKind(events.KindBookingConfirmed)
	require.Len(t, confirmed, 1)
	assert.Equal(t, int64(42), confirmed[0].RecipientID)

	adminNotices := bus.byKind(events.KindBookingAdminNotice)
	require.Len(t, adminNotices, 1)
	assert.Equal(t, testAdminID, adminNotices[0].RecipientID)
}

func TestConcurrentDoubleBookExactlyOneWins(t *testing.T) {
	svc, _, _ := newTestService(t, testNow())
	ctx := context.Background()

	created, err := svc.CreateSlots(ctx, "05.04 10")
	require.NoError(t, err)
	slotID := created[0].ID

	const contenders = 8
	errs := make([]error, contenders)
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Book(ctx, slotID, customer(int64(100+i)))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, database.ErrSlotAlreadyBooked)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestClientMayHoldOnlyOneBooking(t *testing.T) {
	svc, _, _ := newTestService(t, testNow())
	ctx := context.Background()

	created, err := svc.CreateSlots(ctx, "05.04 10 12")
	require.NoError(t, err)

	_, err = svc.Book(ctx, created[0].ID, customer(42))
	require.NoError(t, err)

	_, err = svc.Book(ctx, created[1].ID, customer(42))
	require.ErrorIs(t, err, database.ErrClientAlreadyBooked)

	// The second slot stayed available for someone else.
	_, err = svc.Book(ctx, created[1].ID, customer(43))
	require.NoError(t, err)
}

func TestAdminExemptFromSingleBookingRule(t *testing.T) {
	svc, _, bus := newTestService(t, testNow())
	ctx := context.Background()

	created, err := svc.CreateSlots(ctx, "05.04 10 12")
	require.NoError(t, err)

	_, err = svc.Book(ctx, created[0].ID, customer(testAdminID))
	require.NoError(t, err)
	_, err = svc.Book(ctx, created[1].ID, customer(testAdminID))
	require.NoError(t, err)

	assert.Empty(t, bus.byKind(events.KindBookingConfirmed), "admin bookings are silent")
	assert.Empty(t, bus.byKind(events.KindBookingAdminNotice))
}

func TestCancelByAdminNotifiesCustomer(t *testing.T) {
	svc, _, bus := newTestService(t, testNow())
	ctx := context.Background()

	created, err := svc.CreateSlots(ctx, "05.04 10")
	require.NoError(t, err)
	_, err = svc.Book(ctx, created[0].ID, customer(42))
	require.NoError(t, err)

	prior, err := svc.Cancel(ctx, created[0].ID, true)
	require.NoError(t, err)
	require.NotNil(t, prior.Customer)
	assert.Equal(t, int64(42), prior.Customer.UserID)

	notices := bus.byKind(events.KindCancelledByAdmin)
	require.Len(t, notices, 1)
	assert.Equal(t, int64(42), notices[0].RecipientID)

	// The slot is available again.
	slot, err := svc.Book(ctx, created[0].ID, customer(43))
	require.NoError(t, err)
	assert.Equal(t, models.StatusBooked, slot.Status)
}

func TestCancelByClientNotifiesAdmin(t *testing.T) {
	svc, _, bus := newTestService(t, testNow())
	ctx := context.Background()

	created, err := svc.CreateSlots(ctx, "05.04 10")
	require.NoError(t, err)
	_, err = svc.Book(ctx, created[0].ID, customer(42))
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, created[0].ID, false)
	require.NoError(t, err)

	notices := bus.byKind(events.KindCancelledByClient)
	require.Len(t, notices, 1)
	assert.Equal(t, testAdminID, notices[0].RecipientID)
}

func TestCancelAvailableSlotFails(t *testing.T) {
	svc, _, _ := newTestService(t, testNow())
	ctx := context.Background()

	created, err := svc.CreateSlots(ctx, "05.04 10")
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, created[0].ID, true)
	require.ErrorIs(t, err, database.ErrSlotNotAvailable)
}

func TestDeleteDayNotifiesDisplacedCustomers(t *testing.T) {
	svc, _, bus := newTestService(t, testNow())
	ctx := context.Background()

	_, err := svc.CreateSlots(ctx, "05.04 10 12 14")
	require.NoError(t, err)
	days, err := svc.ListByDay(ctx)
	require.NoError(t, err)
	slots := days[0].Slots

	_, err = svc.Book(ctx, slots[0].ID, customer(42))
	require.NoError(t, err)
	_, err = svc.Book(ctx, slots[1].ID, customer(43))
	require.NoError(t, err)

	removed, err := svc.DeleteDay(ctx, time.Date(2024, 4, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, removed, 3)

	notices := bus.byKind(events.KindSlotDeleted)
	require.Len(t, notices, 2)
	recipients := []int64{notices[0].RecipientID, notices[1].RecipientID}
	assert.ElementsMatch(t, []int64{42, 43}, recipients)

	remaining, err := svc.ListByDay(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestSweepExpired(t *testing.T) {
	svc, _, _ := newTestService(t, testNow())
	ctx := context.Background()

	_, err := svc.CreateSlots(ctx, "01.04 10 12")
	require.NoError(t, err)
	_, err = svc.CreateSlots(ctx, "05.04 10")
	require.NoError(t, err)

	// Advance past the morning slot only.
	svc.clk = clock.Fixed{T: time.Date(2024, 4, 1, 11, 0, 0, 0, time.UTC)}

	removed, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, 10, removed[0].StartsAt.Hour())

	// A second sweep at the same instant removes nothing.
	removed, err = svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, removed)

	days, err := svc.ListByDay(ctx)
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Len(t, days[0].Slots, 1)
}

func TestClientBooking(t *testing.T) {
	svc, _, _ := newTestService(t, testNow())
	ctx := context.Background()

	_, err := svc.ClientBooking(ctx, 42)
	require.ErrorIs(t, err, database.ErrSlotNotFound)

	created, err := svc.CreateSlots(ctx, "05.04 10")
	require.NoError(t, err)
	_, err = svc.Book(ctx, created[0].ID, customer(42))
	require.NoError(t, err)

	slot, err := svc.ClientBooking(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, created[0].ID, slot.ID)
}
