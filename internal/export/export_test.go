package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"appointbot/internal/models"
)

func TestWriteTimeline(t *testing.T) {
	day := time.Date(2024, 4, 5, 0, 0, 0, 0, time.UTC)
	days := []models.DaySlots{
		{
			Date: day,
			Slots: []models.Slot{
				{
					ID:       1,
					StartsAt: day.Add(10 * time.Hour),
					Status:   models.StatusAvailable,
				},
				{
					ID:       2,
					StartsAt: day.Add(13*time.Hour + 30*time.Minute),
					Status:   models.StatusBooked,
					Customer: &models.Customer{UserID: 42, Username: "jdoe", FullName: "Jane Doe"},
				},
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteTimeline(days, &buf))

	file, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = file.Close() }()

	rows, err := file.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3, "header plus one row per slot")

	assert.Equal(t, headerColumns, rows[0])
	assert.Equal(t, []string{"05.04.2024", "10:00", "available"}, rows[1][:3])
	assert.Equal(t, []string{"05.04.2024", "13:30", "booked", "Jane Doe", "jdoe"}, rows[2])
}

func TestWriteTimelineEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTimeline(nil, &buf))

	file, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = file.Close() }()

	rows, err := file.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, headerColumns, rows[0])
}
