// Package export renders a user's booking history as an Excel workbook.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"pitchbook/internal/model"
)

var historyColumns = []string{
	"Booking ID", "Date", "Start", "End", "Status", "Stadium", "Total Price",
}

// Writer builds an xlsx workbook sheet by sheet.
type Writer struct {
	file       *excelize.File
	sheet      string
	currentRow int
}

// NewWriter creates an empty workbook.
func NewWriter() *Writer {
	return &Writer{file: excelize.NewFile()}
}

func (w *Writer) addSheet(name string) error {
	// Excel caps sheet names at 31 chars.
	if len(name) > 31 {
		name = name[:31]
	}

	if w.sheet == "" {
		w.file.SetSheetName("Sheet1", name)
	} else {
		if _, err := w.file.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	w.sheet = name
	w.currentRow = 1
	return nil
}

func (w *Writer) writeHeader(columns []string) error {
	for i, col := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, w.currentRow)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(w.sheet, cell, col); err != nil {
			return err
		}
	}

	style, err := w.file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	if err == nil {
		startCell, _ := excelize.CoordinatesToCellName(1, w.currentRow)
		endCell, _ := excelize.CoordinatesToCellName(len(columns), w.currentRow)
		_ = w.file.SetCellStyle(w.sheet, startCell, endCell, style)
	}

	w.currentRow++
	return nil
}

func (w *Writer) writeRow(row []interface{}) error {
	for i, val := range row {
		cell, err := excelize.CoordinatesToCellName(i+1, w.currentRow)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(w.sheet, cell, val); err != nil {
			return err
		}
	}

	w.currentRow++
	return nil
}

// Save writes the workbook to wr.
func (w *Writer) Save(wr io.Writer) error {
	return w.file.Write(wr)
}

// Close releases workbook resources.
func (w *Writer) Close() error {
	return w.file.Close()
}

// Row pairs a booking with display data the booking record itself lacks.
type Row struct {
	Booking    model.Booking
	Stadium    string
	TotalPrice float64
}

// BookingHistory writes one sheet listing the given bookings, most useful for
// the "download my bookings" action in the profile view.
func BookingHistory(w *Writer, rows []Row) error {
	if err := w.addSheet("Bookings"); err != nil {
		return err
	}
	if err := w.writeHeader(historyColumns); err != nil {
		return err
	}

	for _, r := range rows {
		err := w.writeRow([]interface{}{
			r.Booking.ID,
			r.Booking.Date,
			clockToDisplay(r.Booking.Start),
			clockToDisplay(r.Booking.End),
			string(r.Booking.Status),
			r.Stadium,
			r.TotalPrice,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// clockToDisplay trims seconds off "HH:MM:SS" values for readability.
func clockToDisplay(clock string) string {
	if strings.Count(clock, ":") == 2 {
		return clock[:len(clock)-3]
	}
	return clock
}
