package reminders

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"appointbot/internal/clock"
	"appointbot/internal/database"
	"appointbot/internal/events"
	"appointbot/internal/models"
)

const testAdminID int64 = 1000

type sentReminder struct {
	SlotID int64
	Kind   string
}

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []sentReminder
	failFor map[int64]int
}

func (n *fakeNotifier) SendReminder(_ context.Context, slot models.Slot, kind string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if remaining, ok := n.failFor[slot.ID]; ok && remaining > 0 {
		n.failFor[slot.ID] = remaining - 1
		return errors.New("delivery failed")
	}
	n.sent = append(n.sent, sentReminder{SlotID: slot.ID, Kind: kind})
	return nil
}

func (n *fakeNotifier) sentFor(slotID int64) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var kinds []string
	for _, r := range n.sent {
		if r.SlotID == slotID {
			kinds = append(kinds, r.Kind)
		}
	}
	return kinds
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), time.UTC, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// bookedSlotAt creates one booked slot starting at the given instant.
func bookedSlotAt(t *testing.T, db *database.DB, startsAt time.Time, userID int64) models.Slot {
	t.Helper()
	ctx := context.Background()

	decl := &models.Declaration{
		Date:  time.Date(startsAt.Year(), startsAt.Month(), startsAt.Day(), 0, 0, 0, 0, startsAt.Location()),
		Times: []models.TimeOfDay{{Hour: startsAt.Hour(), Minute: startsAt.Minute()}},
	}
	created, err := db.InsertDeclaration(ctx, decl, "", startsAt.Add(-48*time.Hour))
	require.NoError(t, err)
	require.Len(t, created, 1)

	customer := models.Customer{UserID: userID, Username: "user", FullName: "Test User"}
	booked, err := db.BookSlot(ctx, created[0].ID, customer, startsAt.Add(-48*time.Hour), userID == testAdminID)
	require.NoError(t, err)
	return *booked
}

func TestTickWindowEdges(t *testing.T) {
	now := time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)
	db := newTestDB(t)

	at21h := bookedSlotAt(t, db, now.Add(21*time.Hour), 41)
	at24h := bookedSlotAt(t, db, now.Add(24*time.Hour), 42)
	at1h := bookedSlotAt(t, db, now.Add(1*time.Hour), 43)
	at4h := bookedSlotAt(t, db, now.Add(4*time.Hour), 44)
	at5h := bookedSlotAt(t, db, now.Add(5*time.Hour), 45)
	at30m := bookedSlotAt(t, db, now.Add(30*time.Minute), 46)

	notifier := &fakeNotifier{}
	sched := NewScheduler(db, notifier, clock.Fixed{T: now}, testAdminID, 30*time.Minute, zerolog.Nop())
	sched.tick(context.Background())

	assert.Equal(t, []string{events.KindReminderDayBefore}, notifier.sentFor(at21h.ID))
	assert.Empty(t, notifier.sentFor(at24h.ID), "exactly 24h out is not yet in the window")
	assert.Equal(t, []string{events.KindReminderSoon}, notifier.sentFor(at1h.ID))
	assert.Equal(t, []string{events.KindReminderSoon}, notifier.sentFor(at4h.ID))
	assert.Empty(t, notifier.sentFor(at5h.ID))
	assert.Empty(t, notifier.sentFor(at30m.ID), "under one full hour means no reminder")
}

func TestTickSendsOncePerWindow(t *testing.T) {
	now := time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)
	db := newTestDB(t)
	slot := bookedSlotAt(t, db, now.Add(22*time.Hour), 42)

	notifier := &fakeNotifier{}
	sched := NewScheduler(db, notifier, clock.Fixed{T: now}, testAdminID, 30*time.Minute, zerolog.Nop())

	// Several ticks inside the same window deliver exactly once.
	for i := 0; i < 4; i++ {
		sched.tick(context.Background())
	}
	assert.Equal(t, []string{events.KindReminderDayBefore}, notifier.sentFor(slot.ID))

	// Later the slot enters the second window and gets its second reminder.
	sched.clk = clock.Fixed{T: now.Add(19 * time.Hour)}
	sched.tick(context.Background())
	sched.tick(context.Background())
	assert.Equal(t,
		[]string{events.KindReminderDayBefore, events.KindReminderSoon},
		notifier.sentFor(slot.ID))
}

func TestTickSkipsAdminBookings(t *testing.T) {
	now := time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)
	db := newTestDB(t)
	adminSlot := bookedSlotAt(t, db, now.Add(22*time.Hour), testAdminID)
	clientSlot := bookedSlotAt(t, db, now.Add(23*time.Hour), 42)

	notifier := &fakeNotifier{}
	sched := NewScheduler(db, notifier, clock.Fixed{T: now}, testAdminID, 30*time.Minute, zerolog.Nop())
	sched.tick(context.Background())

	assert.Empty(t, notifier.sentFor(adminSlot.ID))
	assert.Len(t, notifier.sentFor(clientSlot.ID), 1)
}

func TestTickFailureIsolationAndRetry(t *testing.T) {
	now := time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)
	db := newTestDB(t)
	failing := bookedSlotAt(t, db, now.Add(2*time.Hour), 42)
	healthy := bookedSlotAt(t, db, now.Add(3*time.Hour), 43)

	notifier := &fakeNotifier{failFor: map[int64]int{failing.ID: 1}}
	sched := NewScheduler(db, notifier, clock.Fixed{T: now}, testAdminID, 30*time.Minute, zerolog.Nop())

	sched.tick(context.Background())
	assert.Empty(t, notifier.sentFor(failing.ID), "failed delivery is not recorded as sent")
	assert.Len(t, notifier.sentFor(healthy.ID), 1, "one slot failing must not block the rest")

	// The claim was released, so the next tick retries and succeeds.
	sched.tick(context.Background())
	assert.Len(t, notifier.sentFor(failing.ID), 1)
	assert.Len(t, notifier.sentFor(healthy.ID), 1)
}

func TestTickSweepsExpiredSlots(t *testing.T) {
	now := time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)
	db := newTestDB(t)
	expired := bookedSlotAt(t, db, now.Add(-time.Hour), 42)

	notifier := &fakeNotifier{}
	sched := NewScheduler(db, notifier, clock.Fixed{T: now}, testAdminID, 30*time.Minute, zerolog.Nop())
	sched.tick(context.Background())

	_, err := db.GetSlot(context.Background(), expired.ID)
	require.ErrorIs(t, err, database.ErrSlotNotFound)
	assert.Empty(t, notifier.sent)
}

type countingDeliverer struct {
	mu    sync.Mutex
	calls int
	fail  int
}

func (d *countingDeliverer) DeliverReminder(context.Context, models.Slot, string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.fail > 0 {
		d.fail--
		return errors.New("telegram unavailable")
	}
	return nil
}

func TestSenderDelivers(t *testing.T) {
	deliverer := &countingDeliverer{}
	sender := NewSender(deliverer, rate.Limit(100), 10, zerolog.Nop())

	err := sender.SendReminder(context.Background(), models.Slot{ID: 1}, events.KindReminderSoon)
	require.NoError(t, err)
	assert.Equal(t, 1, deliverer.calls)
}

func TestSenderRetriesTransientFailure(t *testing.T) {
	deliverer := &countingDeliverer{fail: 1}
	sender := NewSender(deliverer, rate.Limit(100), 10, zerolog.Nop())
	sender.retryDelays = []time.Duration{time.Millisecond}

	err := sender.SendReminder(context.Background(), models.Slot{ID: 1}, events.KindReminderSoon)
	require.NoError(t, err)
	assert.Equal(t, 2, deliverer.calls)
}

func TestSenderGivesUpAfterRetries(t *testing.T) {
	deliverer := &countingDeliverer{fail: 10}
	sender := NewSender(deliverer, rate.Limit(100), 10, zerolog.Nop())
	sender.retryDelays = []time.Duration{time.Millisecond}

	err := sender.SendReminder(context.Background(), models.Slot{ID: 7}, events.KindReminderSoon)
	require.Error(t, err)
	assert.Equal(t, 2, deliverer.calls)
}
