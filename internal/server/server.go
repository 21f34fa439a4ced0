// Package server exposes the booking engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"pitchbook/internal/apperr"
	"pitchbook/internal/availability"
	"pitchbook/internal/booking"
	"pitchbook/internal/export"
	"pitchbook/internal/model"
	"pitchbook/internal/payment"
	"pitchbook/internal/prefs"
)

// Backend is the slice of the API client the HTTP handlers read through.
type Backend interface {
	Booking(ctx context.Context, bookingID int64) (*model.Booking, error)
	Stadium(ctx context.Context, stadiumID int64) (*model.Stadium, error)
	PaymentMethods(ctx context.Context) ([]model.PaymentMethod, error)
	UserBookings(ctx context.Context, userID int64) ([]model.Booking, error)
	BookingDetailForBooking(ctx context.Context, bookingID int64) (*model.BookingDetail, error)
	PricingPreview(ctx context.Context, stadiumID int64, date, start, end string) (*model.PricingPreview, error)
}

// Server wires the engine components to HTTP routes.
type Server struct {
	engine     *booking.Orchestrator
	reconciler *payment.Reconciler
	avail      *availability.Cache
	backend    Backend
	prefs      *prefs.Store
	userID     func(ctx context.Context) (int64, error)
	log        zerolog.Logger

	metricsEnabled bool
}

// New creates a Server.
func New(engine *booking.Orchestrator, reconciler *payment.Reconciler, avail *availability.Cache, backend Backend, store *prefs.Store, userID func(ctx context.Context) (int64, error), log zerolog.Logger, metricsEnabled bool) *Server {
	return &Server{
		engine:         engine,
		reconciler:     reconciler,
		avail:          avail,
		backend:        backend,
		prefs:          store,
		userID:         userID,
		log:            log,
		metricsEnabled: metricsEnabled,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.metricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	mux.HandleFunc("GET /payment/return", s.handlePaymentReturn)
	mux.HandleFunc("POST /api/v1/bookings", s.handleSubmitBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/pay", s.handlePayBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/cancel", s.handleCancelBooking)
	mux.HandleFunc("GET /api/v1/bookings/export", s.handleExportBookings)
	mux.HandleFunc("GET /api/v1/stadiums/{id}/availability", s.handleAvailability)
	mux.HandleFunc("GET /api/v1/stadiums/{id}/price-preview", s.handlePricePreview)
	mux.HandleFunc("GET /api/v1/searches/recent", s.handleRecentSearches)
	mux.HandleFunc("POST /api/v1/searches/recent", s.handleAddRecentSearch)

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case apperr.IsAuthExpired(err):
		return http.StatusUnauthorized
	case apperr.IsPermission(err):
		return http.StatusForbidden
	case apperr.IsConflict(err):
		return http.StatusConflict
	case apperr.IsNotFound(err):
		return http.StatusNotFound
	case apperr.IsUpstreamUnavailable(err):
		return http.StatusBadGateway
	case apperr.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), apperr.UserMessage(err))
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// SubmitBookingRequest is the body of POST /api/v1/bookings.
type SubmitBookingRequest struct {
	StadiumID  int64  `json:"stadiumId"`
	LocationID int64  `json:"locationId"`
	TypeID     int64  `json:"typeId"`
	Date       string `json:"date"`
	Start      string `json:"startTime"`
	End        string `json:"endTime"`
}

func (s *Server) handleSubmitBooking(w http.ResponseWriter, r *http.Request) {
	var req SubmitBookingRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := s.engine.Submit(r.Context(), booking.SubmitRequest{
		StadiumID:  req.StadiumID,
		LocationID: req.LocationID,
		TypeID:     req.TypeID,
		Date:       req.Date,
		Start:      req.Start,
		End:        req.End,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"booking":  result.Booking,
		"warning":  result.Warning,
		"redirect": result.RedirectPath,
	})
}

// PayBookingRequest is the body of POST /api/v1/bookings/{id}/pay.
type PayBookingRequest struct {
	StadiumID       int64 `json:"stadiumId"`
	PaymentMethodID int64 `json:"paymentMethodId"`
}

func (s *Server) handlePayBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	var req PayBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	b, err := s.backend.Booking(r.Context(), bookingID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	stadium, err := s.backend.Stadium(r.Context(), req.StadiumID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	method, err := s.paymentMethod(r.Context(), req.PaymentMethodID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	outcome, err := s.engine.PayNow(r.Context(), b, stadium, method)
	if err != nil && outcome == nil {
		s.writeEngineError(w, err)
		return
	}

	resp := map[string]any{
		"bill":        outcome.Bill,
		"approximate": outcome.Approximate,
	}
	if outcome.RedirectURL != "" {
		resp["redirectUrl"] = outcome.RedirectURL
	}
	if outcome.Message != "" {
		resp["message"] = outcome.Message
	}
	if err != nil {
		// Bill and confirmation exist but the gateway charge did not start.
		resp["error"] = apperr.UserMessage(err)
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) paymentMethod(ctx context.Context, id int64) (model.PaymentMethod, error) {
	methods, err := s.backend.PaymentMethods(ctx)
	if err != nil {
		return model.PaymentMethod{}, err
	}
	for _, m := range methods {
		if m.ID == id {
			return m, nil
		}
	}
	return model.PaymentMethod{}, apperr.Validation("paymentMethodId", fmt.Sprintf("unknown payment method %d", id))
}

func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	b, err := s.backend.Booking(r.Context(), bookingID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if err := s.engine.Cancel(r.Context(), b); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(model.BookingCancelled)})
}

func (s *Server) handlePaymentReturn(w http.ResponseWriter, r *http.Request) {
	outcome := s.reconciler.Reconcile(r.Context(), r.URL.Query())

	status := http.StatusOK
	if outcome.Status == payment.StatusFailure {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]any{
		"status":           outcome.Status,
		"message":          outcome.Message,
		"bill":             outcome.Bill,
		"countdownSeconds": outcome.CountdownSeconds,
		"redirect":         outcome.RedirectPath,
	})
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	stadiumID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid stadium id")
		return
	}
	date := r.URL.Query().Get("date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
		return
	}

	intervals, err := s.avail.GetBookedIntervals(r.Context(), stadiumID, date)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if intervals == nil {
		intervals = []model.BookingInterval{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":      date,
		"stadiumId": stadiumID,
		"booked":    intervals,
	})
}

func (s *Server) handlePricePreview(w http.ResponseWriter, r *http.Request) {
	stadiumID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid stadium id")
		return
	}
	q := r.URL.Query()
	date, start, end := q.Get("date"), q.Get("start"), q.Get("end")
	if date == "" || start == "" || end == "" {
		writeError(w, http.StatusBadRequest, "date, start and end are required")
		return
	}

	preview, err := s.backend.PricingPreview(r.Context(), stadiumID, date, start, end)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (s *Server) handleExportBookings(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "sign in to export bookings")
		return
	}

	bookings, err := s.backend.UserBookings(r.Context(), userID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	rows := make([]export.Row, 0, len(bookings))
	for _, b := range bookings {
		row := export.Row{Booking: b}
		// Detail and stadium lookups are best effort; a row without them
		// still carries the booking itself.
		if detail, err := s.backend.BookingDetailForBooking(r.Context(), b.ID); err == nil && detail != nil {
			row.TotalPrice = detail.Price
			if st, err := s.backend.Stadium(r.Context(), detail.StadiumID); err == nil {
				row.Stadium = st.Name
			}
		}
		rows = append(rows, row)
	}

	writer := export.NewWriter()
	defer writer.Close()
	if err := export.BookingHistory(writer, rows); err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="bookings.xlsx"`)
	if err := writer.Save(w); err != nil {
		s.log.Error().Err(err).Msg("write export response")
	}
}

func (s *Server) handleRecentSearches(w http.ResponseWriter, r *http.Request) {
	queries, err := s.prefs.RecentSearches(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cannot read recent searches")
		return
	}
	if queries == nil {
		queries = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"searches": queries})
}

func (s *Server) handleAddRecentSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.prefs.AddRecentSearch(r.Context(), req.Query); err != nil {
		writeError(w, http.StatusInternalServerError, "cannot store search")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
