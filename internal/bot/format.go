package bot

import (
	"fmt"
	"strings"
	"time"

	"appointbot/internal/models"
)

// formatDayHeading renders a day as "Friday, 05.04.2024".
func formatDayHeading(date time.Time) string {
	return fmt.Sprintf("%s, %s", date.Format("Monday"), date.Format("02.01.2006"))
}

func statusIcon(slot models.Slot) string {
	if slot.IsBooked() {
		return "✖️"
	}
	return "✅"
}

// formatTimeline renders the admin's full timeline view.
func formatTimeline(days []models.DaySlots) string {
	var sb strings.Builder
	for i, day := range days {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("%s <b>%s</b>\n", day.Date.Format("Monday"), day.Date.Format("02.01.2006")))
		for _, slot := range day.Slots {
			sb.WriteString(fmt.Sprintf("%s %s", slot.StartsAt.Format("15:04"), statusIcon(slot)))
			if slot.Customer != nil {
				sb.WriteString(fmt.Sprintf(" %s @%s", slot.Customer.FullName, slot.Customer.Username))
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func formatPriceList(prices []string) string {
	if len(prices) == 0 {
		return "Prices are not set yet"
	}
	var sb strings.Builder
	sb.WriteString("<b>- PRICE LIST -</b>\n")
	for i, price := range prices {
		sb.WriteString(fmt.Sprintf("\n- Price %d: <b>%s</b> PLN", i+1, price))
	}
	return sb.String()
}

func formatCreated(created []models.Slot) string {
	if len(created) == 0 {
		return "No sessions added"
	}
	times := make([]string, len(created))
	for i, slot := range created {
		times[i] = slot.StartsAt.Format("15:04")
	}
	return fmt.Sprintf("Sessions added for %s: %s",
		formatDayHeading(created[0].Day()), strings.Join(times, ", "))
}
