package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"servhub/internal/config"
	"servhub/internal/export"
	"servhub/internal/lifecycle"
	"servhub/internal/logging"
	"servhub/internal/metrics"
	"servhub/internal/models"
	"servhub/internal/service"

	"github.com/rs/zerolog"
)

// HTTPServer exposes the booking facade to the presentation layer.
type HTTPServer struct {
	cfg        config.APIConfig
	manager    *service.BookingManager
	exportPath string
	server     *http.Server
	auth       *HTTPAuth
	log        zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, exportPath string, manager *service.BookingManager, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{
		cfg:        cfg,
		manager:    manager,
		exportPath: exportPath,
		log:        logging.Component(logger, "http"),
	}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("/api/v1/session", srv.handleSession)
	mux.HandleFunc("/api/v1/bookings", srv.handleBookings)
	mux.HandleFunc("/api/v1/bookings/", srv.handleBookingAction)
	mux.HandleFunc("/api/v1/availability", srv.handleAvailability)
	mux.HandleFunc("/api/v1/analytics", srv.handleAnalytics)
	mux.HandleFunc("/api/v1/export", srv.handleExport)
	mux.HandleFunc("/healthz", srv.handleHealth)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// handleSession establishes (POST) or refreshes (PUT) the provider session.
func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("session")

	switch r.Method {
	case http.MethodPost:
		var body struct {
			ProviderID string `json:"provider_id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(body.ProviderID) == "" {
			writeError(w, http.StatusBadRequest, "provider_id is required")
			return
		}
		bookings, err := s.manager.Load(r.Context(), body.ProviderID)
		if err != nil {
			s.writeFacadeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
	case http.MethodPut:
		bookings, err := s.manager.Refresh(r.Context())
		if err != nil {
			s.writeFacadeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handleBookings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("bookings")

	var bookings []models.EnrichedBooking
	switch view := strings.TrimSpace(r.URL.Query().Get("view")); view {
	case "":
		bookings = s.manager.Bookings()
	case "pending":
		bookings = s.manager.Pending()
	case "upcoming":
		bookings = s.manager.Upcoming()
	case "active":
		bookings = s.manager.Active()
	case "completed":
		bookings = s.manager.Completed()
	case "today":
		bookings = s.manager.Today()
	case "overdue":
		bookings = s.manager.Overdue()
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown view: %s", view))
		return
	}

	// A status filter narrows the selected view rather than replacing it.
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		if !lifecycle.IsValid(models.BookingStatus(status)) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status: %s", status))
			return
		}
		filtered := make([]models.EnrichedBooking, 0, len(bookings))
		for _, b := range bookings {
			if b.Status == models.BookingStatus(status) {
				filtered = append(filtered, b)
			}
		}
		bookings = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

// handleBookingAction routes POST /api/v1/bookings/{id}/{action}.
func (s *HTTPServer) handleBookingAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/bookings/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	bookingID, action := parts[0], parts[1]
	metrics.IncHTTP("booking_" + action)

	var body struct {
		ScheduledAt string        `json:"scheduled_at,omitempty"`
		Reason      string        `json:"reason,omitempty"`
		FinalPrice  *models.Money `json:"final_price,omitempty"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	var (
		booking *models.EnrichedBooking
		err     error
	)
	switch action {
	case "accept":
		var scheduledAt time.Time
		if body.ScheduledAt != "" {
			scheduledAt, err = time.Parse(time.RFC3339, body.ScheduledAt)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid scheduled_at; expected RFC 3339")
				return
			}
		}
		booking, err = s.manager.Accept(r.Context(), bookingID, scheduledAt)
	case "decline":
		booking, err = s.manager.Decline(r.Context(), bookingID, body.Reason)
	case "start":
		booking, err = s.manager.Start(r.Context(), bookingID)
	case "complete":
		booking, err = s.manager.Complete(r.Context(), bookingID, body.FinalPrice)
	case "dispute":
		booking, err = s.manager.Dispute(r.Context(), bookingID, body.Reason)
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown action: %s", action))
		return
	}

	if err != nil {
		s.writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": booking})
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("availability")

	writeJSON(w, http.StatusOK, map[string]bool{"same_day_available": s.manager.SameDayAvailable()})
}

func (s *HTTPServer) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("analytics")

	writeJSON(w, http.StatusOK, s.manager.Analytics())
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("export")

	path, err := export.WriteWorkbook(s.exportPath, s.manager.Bookings(), s.manager.Analytics())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeFacadeError maps the facade error taxonomy onto HTTP statuses.
func (s *HTTPServer) writeFacadeError(w http.ResponseWriter, err error) {
	var invalid *lifecycle.ErrInvalidTransition
	switch {
	case errors.As(err, &invalid):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrReasonRequired), errors.Is(err, service.ErrScheduleRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrStoreUnavailable):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
