package bot

import (
	"context"
	"encoding/json"
	"fmt"

	"appointbot/internal/events"
	"appointbot/internal/models"
)

// subscribeNotifications delivers the core's notification intents.
func (b *Bot) subscribeNotifications(bus *events.Bus) {
	if bus == nil {
		return
	}
	bus.Subscribe(events.KindBookingConfirmed, b.onBookingConfirmed)
	bus.Subscribe(events.KindBookingAdminNotice, b.onBookingAdminNotice)
	bus.Subscribe(events.KindCancelledByAdmin, b.onCancelledByAdmin)
	bus.Subscribe(events.KindCancelledByClient, b.onCancelledByClient)
	bus.Subscribe(events.KindSlotDeleted, b.onSlotDeleted)
}

func (b *Bot) onBookingConfirmed(event events.Event) error {
	notice, err := decodeNotice(event)
	if err != nil {
		return err
	}

	address := ""
	if settings, err := b.registry.Get(context.Background()); err == nil {
		address = settings.Address
	}

	text := fmt.Sprintf("Reservations for %s at %s\nName: %s\nAcc: @%s",
		formatDayHeading(notice.StartsAt), notice.StartsAt.Format("15:04"),
		notice.CustomerName, notice.CustomerUsername)
	if address != "" {
		text += "\nAddress: " + address
	}
	text += "\n\nSee you :)"

	b.reply(event.RecipientID, text)
	return nil
}

func (b *Bot) onBookingAdminNotice(event events.Event) error {
	notice, err := decodeNotice(event)
	if err != nil {
		return err
	}
	b.reply(event.RecipientID, fmt.Sprintf("%s booked for %s at %s\nAcc: @%s",
		notice.CustomerName, formatDayHeading(notice.StartsAt),
		notice.StartsAt.Format("15:04"), notice.CustomerUsername))
	return nil
}

func (b *Bot) onCancelledByAdmin(event events.Event) error {
	notice, err := decodeNotice(event)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("Your session on %s at %s was cancelled by the admin",
		formatDayHeading(notice.StartsAt), notice.StartsAt.Format("15:04"))
	if b.opts.MasterContact != "" {
		text += ", please contact the master for details:\n" + b.opts.MasterContact
	}
	b.reply(event.RecipientID, text)
	return nil
}

func (b *Bot) onCancelledByClient(event events.Event) error {
	notice, err := decodeNotice(event)
	if err != nil {
		return err
	}
	b.reply(event.RecipientID, fmt.Sprintf("@%s cancelled their session for %s at %s",
		notice.CustomerUsername, formatDayHeading(notice.StartsAt),
		notice.StartsAt.Format("15:04")))
	return nil
}

func (b *Bot) onSlotDeleted(event events.Event) error {
	notice, err := decodeNotice(event)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("Your session for %s at %s has been deleted by the admin",
		formatDayHeading(notice.StartsAt), notice.StartsAt.Format("15:04"))
	if b.opts.MasterContact != "" {
		text += ", you can contact the master for details:\n" + b.opts.MasterContact
	}
	b.reply(event.RecipientID, text)
	return nil
}

func decodeNotice(event events.Event) (events.SlotNotice, error) {
	var notice events.SlotNotice
	if err := json.Unmarshal(event.Payload, &notice); err != nil {
		return notice, fmt.Errorf("decode %s payload: %w", event.Kind, err)
	}
	return notice, nil
}

// DeliverReminder sends one reminder message to the slot's customer.
func (b *Bot) DeliverReminder(_ context.Context, slot models.Slot, kind string) error {
	if slot.Customer == nil {
		return nil
	}

	var text string
	switch kind {
	case events.KindReminderDayBefore:
		text = "Just a reminder about your session tomorrow at " + slot.StartsAt.Format("15:04")
	case events.KindReminderSoon:
		text = fmt.Sprintf("I'll wait for you at %s, tell me if you're going to be late.",
			slot.StartsAt.Format("15:04"))
	default:
		return fmt.Errorf("unknown reminder kind %q", kind)
	}

	return b.send(slot.Customer.UserID, text)
}
