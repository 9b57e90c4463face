package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"servhub/internal/models"

	"github.com/xuri/excelize/v2"
)

// WriteWorkbook creates an Excel file with the booking set and the analytics
// snapshot, and returns its path.
func WriteWorkbook(dir string, bookings []models.EnrichedBooking, snap models.AnalyticsSnapshot) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := writeBookingsSheet(f, bookings); err != nil {
		return "", err
	}
	if err := writeSummarySheet(f, snap); err != nil {
		return "", err
	}

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("bookings_%s.xlsx", snap.GeneratedAt.Format("2006-01-02_150405"))
	filePath := filepath.Join(dir, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return filePath, nil
}

func writeBookingsSheet(f *excelize.File, bookings []models.EnrichedBooking) error {
	const sheetName = "Bookings"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headers := []string{"ID", "Client", "Service", "Status", "Scheduled", "Completed", "Price", "Location"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "H1", headerStyle)

	for i := range bookings {
		b := &bookings[i]
		row := i + 2
		values := []interface{}{
			b.ID,
			b.ClientName,
			b.ServiceName,
			string(b.Status),
			formatOptionalTime(b.ScheduledAt),
			formatOptionalTime(b.CompletedAt),
			fmt.Sprintf("%.2f %s", b.Price.Amount, b.Price.Currency),
			b.LocationLabel,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 30)
	_ = f.SetColWidth(sheetName, "B", "H", 20)
	return nil
}

func writeSummarySheet(f *excelize.File, snap models.AnalyticsSnapshot) error {
	const sheetName = "Summary"
	if _, err := f.NewSheet(sheetName); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}

	rows := [][]interface{}{
		{"Generated", snap.GeneratedAt.Format("2006-01-02 15:04:05")},
		{"Total bookings", snap.Total},
		{"Pending", snap.Pending},
		{"Accepted", snap.Accepted},
		{"In progress", snap.InProgress},
		{"Completed", snap.Completed},
		{"Declined", snap.Declined},
		{"Cancelled", snap.Cancelled},
		{"Disputed", snap.Disputed},
		{"Total revenue", snap.TotalRevenue},
		{"Expected revenue", snap.ExpectedRevenue},
		{"Average booking value", snap.AverageBookingValue},
		{"Acceptance rate, %", snap.AcceptanceRate},
		{"Completion rate, %", snap.CompletionRate},
		{"Week revenue", snap.WeekRevenue},
		{"Month revenue", snap.MonthRevenue},
	}

	for i, r := range rows {
		for col, v := range r {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+1)
			_ = f.SetCellValue(sheetName, cell, v)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 25)
	return nil
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}
