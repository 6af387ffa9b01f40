package models

import (
	"fmt"
	"time"
)

// SlotStatus is the lifecycle state of a slot.
type SlotStatus string

const (
	StatusAvailable SlotStatus = "available"
	StatusBooked    SlotStatus = "booked"
)

// Customer identifies the client holding a booked slot.
type Customer struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

// Slot is one bookable time unit on a specific date.
// Customer is non-nil if and only if Status is StatusBooked.
type Slot struct {
	ID        int64      `json:"id"`
	StartsAt  time.Time  `json:"starts_at"`
	Status    SlotStatus `json:"status"`
	RawText   string     `json:"raw_text"`
	Customer  *Customer  `json:"customer,omitempty"`
	DaySent   bool       `json:"day_sent"`  // day-before reminder already fired
	SoonSent  bool       `json:"soon_sent"` // hours-before reminder already fired
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Day returns the slot's calendar date at midnight in the slot's location.
func (s *Slot) Day() time.Time {
	y, m, d := s.StartsAt.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.StartsAt.Location())
}

// IsBooked reports whether the slot currently holds a reservation.
func (s *Slot) IsBooked() bool {
	return s.Status == StatusBooked
}

// IsPast reports whether the slot's start time is strictly before now.
func (s *Slot) IsPast(now time.Time) bool {
	return s.StartsAt.Before(now)
}

// TimeOfDay is a clock time with second precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// String renders the time as HH:MM:SS, the store's canonical form.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:00", t.Hour, t.Minute)
}

// Short renders the time as HH:MM for display.
func (t TimeOfDay) Short() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// At combines the time of day with a calendar date in the date's location.
func (t TimeOfDay) At(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, date.Location())
}

// Declaration is a parsed admin instruction: one date plus one or more session times.
// Times keep the order they were given in.
type Declaration struct {
	Date  time.Time
	Times []TimeOfDay
}

// DaySlots groups a day's slots for display, ordered by time ascending.
type DaySlots struct {
	Date  time.Time
	Slots []Slot
}

// Settings is the provider's singleton info record. Prices are stored as the
// raw numeric strings the admin entered.
type Settings struct {
	AboutText string
	Address   string
	Prices    []string
	UpdatedAt time.Time
}
