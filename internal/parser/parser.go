// Package parser turns free-text admin input into a validated slot declaration.
//
// Grammar: one date token DD.MM followed by one or more whitespace-separated
// time tokens, each H, HH or H:MM / HH:MM, e.g. "05.04 10 12 13:30".
package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"appointbot/internal/models"
)

// FormatExample is shown to the admin whenever input is rejected.
const FormatExample = "Write a message in the format, for example:\n" +
	"05.04 10 12 13:30\n" +
	"Where 05.04 is the date, then the time of the sessions, separated by a space."

// InvalidFormatError reports malformed or out-of-range declaration input.
// It always carries a user-facing format example.
type InvalidFormatError struct {
	Reason string
}

func (e *InvalidFormatError) Error() string {
	return e.Reason + "\n" + FormatExample
}

func invalidFormat(reason string) error {
	return &InvalidFormatError{Reason: reason}
}

var (
	dateRe = regexp.MustCompile(`^(\d{2})\.(\d{2})$`)
	timeRe = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?$`)
)

// ParseDeclaration parses text into a Declaration, resolving the year-less
// DD.MM date against now: the current year when the date is today or later,
// the next year when it is strictly past. Any malformed or out-of-range token
// rejects the whole declaration.
func ParseDeclaration(text string, now time.Time) (*models.Declaration, error) {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return nil, invalidFormat("I can't understand the message.")
	}

	m := dateRe.FindStringSubmatch(fields[0])
	if m == nil {
		return nil, invalidFormat("I can't understand the message.")
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])

	date, err := resolveDate(day, month, now)
	if err != nil {
		return nil, err
	}

	times := make([]models.TimeOfDay, 0, len(fields)-1)
	for _, tok := range fields[1:] {
		tod, err := parseTime(tok)
		if err != nil {
			return nil, err
		}
		times = append(times, tod)
	}

	return &models.Declaration{Date: date, Times: times}, nil
}

// resolveDate builds the declared calendar date in now's location, validating
// that day/month form a real date. time.Date normalizes overflow (31.02 becomes
// 02/03 or 03/03), so a round-trip mismatch means the date does not exist.
func resolveDate(day, month int, now time.Time) (time.Time, error) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, invalidFormat("Wrong date or time.")
	}

	loc := now.Location()
	date := time.Date(now.Year(), time.Month(month), day, 0, 0, 0, 0, loc)
	if date.Day() != day || date.Month() != time.Month(month) {
		return time.Time{}, invalidFormat("Wrong date or time.")
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if date.Before(today) {
		date = time.Date(now.Year()+1, time.Month(month), day, 0, 0, 0, 0, loc)
		// 29.02 may exist this year but not the next.
		if date.Day() != day {
			return time.Time{}, invalidFormat("Wrong date or time.")
		}
	}
	return date, nil
}

func parseTime(token string) (models.TimeOfDay, error) {
	m := timeRe.FindStringSubmatch(token)
	if m == nil {
		return models.TimeOfDay{}, invalidFormat("Wrong date or time.")
	}

	hour, _ := strconv.Atoi(m[1])
	if hour > 23 {
		return models.TimeOfDay{}, invalidFormat("Wrong date or time.")
	}

	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
		if minute > 59 {
			return models.TimeOfDay{}, invalidFormat("Wrong date or time.")
		}
	}
	return models.TimeOfDay{Hour: hour, Minute: minute}, nil
}
