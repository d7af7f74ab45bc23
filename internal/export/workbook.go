// Package export renders attendance records as spreadsheets.
package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"qrattend/internal/attendance"
)

const sheetName = "Attendance"

var headers = []string{"No", "Date", "Time", "Student No", "Name", "Class", "Status"}

// AttendanceWorkbook writes records, in the order given, to a single-sheet
// xlsx file.
func AttendanceWorkbook(records []attendance.Record) (*bytes.Buffer, error) {
	file := excelize.NewFile()
	defer file.Close()

	if err := file.SetSheetName(file.GetSheetName(file.GetActiveSheetIndex()), sheetName); err != nil {
		return nil, err
	}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = file.SetCellValue(sheetName, cell, header)
	}
	style, err := file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		_ = file.SetRowStyle(sheetName, 1, 1, style)
	}

	for index, rec := range records {
		row := index + 2
		var number, name, class string
		if rec.Student != nil {
			number, name, class = rec.Student.StudentNumber, rec.Student.Name, rec.Student.Class
		}
		values := []any{index + 1, rec.Date, rec.Time, number, name, class, string(rec.Status)}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := file.SetCellValue(sheetName, cell, v); err != nil {
				return nil, fmt.Errorf("write %s: %w", cell, err)
			}
		}
	}
	_ = file.SetColWidth(sheetName, "E", "E", 28)

	return file.WriteToBuffer()
}

// Filename names an export covering from..to.
func Filename(from, to string) string {
	if from == to {
		return fmt.Sprintf("attendance-%s.xlsx", from)
	}
	return fmt.Sprintf("attendance-%s_%s.xlsx", from, to)
}
