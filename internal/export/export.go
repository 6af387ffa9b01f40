// Package export renders the timeline as an .xlsx workbook for the provider.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"appointbot/internal/models"
)

const sheetName = "Timeline"

var headerColumns = []string{"Date", "Time", "Status", "Client", "Username"}

// WriteTimeline renders one row per slot, days and times ascending, into w.
func WriteTimeline(days []models.DaySlots, w io.Writer) error {
	file := excelize.NewFile()
	defer func() { _ = file.Close() }()

	file.SetSheetName("Sheet1", sheetName)

	if err := writeHeader(file); err != nil {
		return err
	}

	row := 2
	for _, day := range days {
		for _, slot := range day.Slots {
			if err := writeSlot(file, row, slot); err != nil {
				return err
			}
			row++
		}
	}

	if err := file.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeHeader(file *excelize.File) error {
	for i, col := range headerColumns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := file.SetCellValue(sheetName, cell, col); err != nil {
			return err
		}
	}

	style, err := file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	if err == nil {
		endCell, _ := excelize.CoordinatesToCellName(len(headerColumns), 1)
		_ = file.SetCellStyle(sheetName, "A1", endCell, style)
	}
	return nil
}

func writeSlot(file *excelize.File, row int, slot models.Slot) error {
	client := ""
	username := ""
	if slot.Customer != nil {
		client = slot.Customer.FullName
		username = slot.Customer.Username
	}

	values := []interface{}{
		slot.StartsAt.Format("02.01.2006"),
		slot.StartsAt.Format("15:04"),
		string(slot.Status),
		client,
		username,
	}
	for i, val := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := file.SetCellValue(sheetName, cell, val); err != nil {
			return err
		}
	}
	return nil
}
