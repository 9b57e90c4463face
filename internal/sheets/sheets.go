package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"servhub/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// ErrRowNotFound means the booking has no row on the sheet yet.
var ErrRowNotFound = errors.New("booking row not found")

const bookingsSheet = "Bookings"

// SheetsService mirrors the booking set to an ops-facing Google spreadsheet.
type SheetsService struct {
	service         *sheets.Service
	bookingsSheetID string
	rowCache        map[string]int
	cacheMu         sync.RWMutex
}

func NewSheetsService(credentialsFile, bookingsSheetID string) (*SheetsService, error) {
	ctx := context.Background()

	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	return &SheetsService{
		service:         srv,
		bookingsSheetID: bookingsSheetID,
		rowCache:        make(map[string]int),
	}, nil
}

func bookingRowValues(b *models.Booking) []interface{} {
	scheduled := ""
	if b.ScheduledAt != nil {
		scheduled = b.ScheduledAt.Format("2006-01-02 15:04")
	}
	completed := ""
	if b.CompletedAt != nil {
		completed = b.CompletedAt.Format("2006-01-02 15:04")
	}
	return []interface{}{
		b.ID,
		b.ClientID,
		b.ServiceName,
		string(b.Status),
		scheduled,
		completed,
		fmt.Sprintf("%.2f %s", b.Price.Amount, b.Price.Currency),
		b.RequestedAt.Format("2006-01-02 15:04:05"),
	}
}

// AppendBooking adds a fresh row for the booking.
func (s *SheetsService) AppendBooking(ctx context.Context, booking *models.Booking) error {
	valueRange := &sheets.ValueRange{Values: [][]interface{}{bookingRowValues(booking)}}

	_, err := s.service.Spreadsheets.Values.Append(s.bookingsSheetID, bookingsSheet+"!A:A", valueRange).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

// UpsertBooking updates an existing booking row or appends a new one if not found.
func (s *SheetsService) UpsertBooking(ctx context.Context, booking *models.Booking) error {
	if booking == nil {
		return fmt.Errorf("booking is nil")
	}

	rowIdx, err := s.FindBookingRow(ctx, booking.ID)
	if err != nil {
		if errors.Is(err, ErrRowNotFound) {
			return s.AppendBooking(ctx, booking)
		}
		return err
	}

	rangeData := fmt.Sprintf("%s!A%d:H%d", bookingsSheet, rowIdx, rowIdx)
	valueRange := &sheets.ValueRange{Values: [][]interface{}{bookingRowValues(booking)}}

	_, err = s.service.Spreadsheets.Values.Update(s.bookingsSheetID, rangeData, valueRange).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}

// UpdateSummary writes the analytics snapshot onto the Summary sheet.
func (s *SheetsService) UpdateSummary(ctx context.Context, snap models.AnalyticsSnapshot) error {
	values := [][]interface{}{
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
	}

	_, err := s.service.Spreadsheets.Values.Update(s.bookingsSheetID, "Summary!A1:B14", &sheets.ValueRange{
		Values: values,
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// FindBookingRow locates the 1-based row index for a booking id in column A,
// consulting the row cache first.
func (s *SheetsService) FindBookingRow(ctx context.Context, bookingID string) (int, error) {
	if bookingID == "" {
		return 0, fmt.Errorf("booking id is required")
	}

	if row, ok := s.getCachedRow(bookingID); ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.bookingsSheetID, bookingsSheet+"!A:A").
		Context(ctx).
		Do()
	if err != nil {
		return 0, fmt.Errorf("read booking ids: %w", err)
	}

	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if fmt.Sprint(row[0]) == bookingID {
			idx := i + 1
			s.setCachedRow(bookingID, idx)
			return idx, nil
		}
	}

	return 0, ErrRowNotFound
}

func (s *SheetsService) getCachedRow(id string) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[id]
	return row, ok
}

func (s *SheetsService) setCachedRow(id string, row int) {
	s.cacheMu.Lock()
	s.rowCache[id] = row
	s.cacheMu.Unlock()
}

// ClearCache drops the row cache, e.g. after the sheet is reordered by hand.
func (s *SheetsService) ClearCache() {
	s.cacheMu.Lock()
	s.rowCache = make(map[string]int)
	s.cacheMu.Unlock()
}

// TestConnection проверяет подключение к таблице
func (s *SheetsService) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := s.service.Spreadsheets.Get(s.bookingsSheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets connection check failed: %w", err)
	}
	return nil
}
