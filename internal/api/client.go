// Package api is the typed HTTP client for the booking backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"pitchbook/internal/apperr"
	"pitchbook/internal/auth"
	"pitchbook/internal/model"
)

// Client calls the booking backend. The bearer token comes from the injected
// session on every request; the client never stores it.
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    *auth.Session
	limiter    *rate.Limiter
	log        zerolog.Logger

	redis    *redis.Client
	cacheTTL time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit caps outbound requests per second with the given burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithRedisCache enables a read-through Redis cache for slow-changing GET
// endpoints (schedules, payment methods).
func WithRedisCache(rdb *redis.Client, ttl time.Duration) Option {
	return func(c *Client) {
		c.redis = rdb
		c.cacheTTL = ttl
	}
}

// New constructs a Client for the backend at baseURL.
func New(baseURL string, session *auth.Session, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		session:    session,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (b errorBody) text() string {
	if b.Message != "" {
		return b.Message
	}
	return b.Error
}

// statusError maps an HTTP status to the error taxonomy. readPath controls
// whether a 401 clears the session: it does on read-only calls but not while
// a booking submission is in flight, so the user keeps their form context.
func (c *Client) statusError(status int, body []byte, readPath bool) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	msg := eb.text()

	switch {
	case status == http.StatusUnauthorized:
		if readPath {
			c.session.NotifyUnauthorized()
		}
		return &apperr.AuthExpiredError{ServerMessage: msg}
	case status == http.StatusForbidden:
		return &apperr.PermissionError{ServerMessage: msg}
	case status == http.StatusNotFound:
		return &apperr.NotFoundError{ServerMessage: msg}
	case status == http.StatusConflict:
		if msg == "" {
			msg = "time slot already booked"
		}
		return &apperr.ConflictError{Reason: msg}
	case status >= 500:
		return &apperr.UpstreamUnavailable{Service: "booking backend", Err: fmt.Errorf("http %d: %s", status, msg)}
	default:
		if msg != "" {
			return fmt.Errorf("http %d: %s", status, msg)
		}
		return fmt.Errorf("http %d", status)
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, in, out any, readPath bool) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return c.statusError(resp.StatusCode, data, readPath)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	return c.do(ctx, http.MethodGet, endpoint, nil, out, true)
}

func (c *Client) post(ctx context.Context, endpoint string, in, out any) error {
	return c.do(ctx, http.MethodPost, endpoint, in, out, false)
}

func (c *Client) put(ctx context.Context, endpoint string, in, out any) error {
	return c.do(ctx, http.MethodPut, endpoint, in, out, false)
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(val), out) == nil
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

// isNotFound reports whether err is a 404, which several list endpoints use
// as an empty-result signal.
func isNotFound(err error) bool {
	return apperr.IsNotFound(err)
}

// BookedIntervals returns the reservations on a stadium for a date. A
// not-found response means nothing is booked, not an error.
func (c *Client) BookedIntervals(ctx context.Context, stadiumID int64, date string) ([]model.BookingInterval, error) {
	endpoint := fmt.Sprintf("%s/api/v1/stadiums/%d/bookings?date=%s", c.baseURL, stadiumID, url.QueryEscape(date))
	var intervals []model.BookingInterval
	if err := c.get(ctx, endpoint, &intervals); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return intervals, nil
}

// PricingPreview requests the time-varying price breakdown for a candidate
// interval.
func (c *Client) PricingPreview(ctx context.Context, stadiumID int64, date, start, end string) (*model.PricingPreview, error) {
	endpoint := fmt.Sprintf("%s/api/v1/stadiums/%d/pricing?date=%s&start=%s&end=%s",
		c.baseURL, stadiumID, url.QueryEscape(date), url.QueryEscape(start), url.QueryEscape(end))
	var preview model.PricingPreview
	if err := c.get(ctx, endpoint, &preview); err != nil {
		return nil, err
	}
	return &preview, nil
}

// CreateBookingRequest is the payload for creating a booking. Time values
// are normalized to "HH:MM:SS".
type CreateBookingRequest struct {
	UserID     int64  `json:"userId"`
	LocationID int64  `json:"locationId"`
	Date       string `json:"date"`
	Start      string `json:"startTime"`
	End        string `json:"endTime"`
}

// CreateBooking creates a booking row. Failure here is fatal for the attempt.
func (c *Client) CreateBooking(ctx context.Context, req CreateBookingRequest) (*model.Booking, error) {
	endpoint := fmt.Sprintf("%s/api/v1/bookings", c.baseURL)
	var booking model.Booking
	if err := c.post(ctx, endpoint, req, &booking); err != nil {
		return nil, err
	}
	return &booking, nil
}

// UpdateBookingStatus transitions a booking's status.
func (c *Client) UpdateBookingStatus(ctx context.Context, bookingID int64, status model.BookingStatus) (*model.Booking, error) {
	endpoint := fmt.Sprintf("%s/api/v1/bookings/%d", c.baseURL, bookingID)
	body := map[string]any{"status": status}
	var booking model.Booking
	if err := c.put(ctx, endpoint, body, &booking); err != nil {
		return nil, err
	}
	return &booking, nil
}

// Booking fetches a booking by id.
func (c *Client) Booking(ctx context.Context, bookingID int64) (*model.Booking, error) {
	endpoint := fmt.Sprintf("%s/api/v1/bookings/%d", c.baseURL, bookingID)
	var booking model.Booking
	if err := c.get(ctx, endpoint, &booking); err != nil {
		return nil, err
	}
	return &booking, nil
}

// UserBookings lists the bookings owned by a user, newest first.
func (c *Client) UserBookings(ctx context.Context, userID int64) ([]model.Booking, error) {
	endpoint := fmt.Sprintf("%s/api/v1/users/%d/bookings", c.baseURL, userID)
	var bookings []model.Booking
	if err := c.get(ctx, endpoint, &bookings); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return bookings, nil
}

// CreateBookingDetailRequest is the payload for the booking's companion row.
type CreateBookingDetailRequest struct {
	BookingID int64 `json:"bookingId"`
	TypeID    int64 `json:"typeId"`
	StadiumID int64 `json:"stadiumId"`
}

// CreateBookingDetail creates the detail row for a booking.
func (c *Client) CreateBookingDetail(ctx context.Context, req CreateBookingDetailRequest) (*model.BookingDetail, error) {
	endpoint := fmt.Sprintf("%s/api/v1/booking-details", c.baseURL)
	var detail model.BookingDetail
	if err := c.post(ctx, endpoint, req, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// BookingDetailForBooking fetches the detail row of a booking, nil when the
// booking has none (the degraded-success submission path leaves it missing).
func (c *Client) BookingDetailForBooking(ctx context.Context, bookingID int64) (*model.BookingDetail, error) {
	endpoint := fmt.Sprintf("%s/api/v1/booking-details/booking/%d", c.baseURL, bookingID)
	var detail model.BookingDetail
	if err := c.get(ctx, endpoint, &detail); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &detail, nil
}

// CreateBillRequest is the payload for creating a bill.
type CreateBillRequest struct {
	BookingID       int64   `json:"bookingId"`
	PaymentMethodID int64   `json:"paymentMethodId"`
	UserID          int64   `json:"userId"`
	FinalPrice      float64 `json:"finalPrice"`
}

// CreateBill creates a bill for a pending booking.
func (c *Client) CreateBill(ctx context.Context, req CreateBillRequest) (*model.Bill, error) {
	endpoint := fmt.Sprintf("%s/api/v1/bills", c.baseURL)
	var bill model.Bill
	if err := c.post(ctx, endpoint, req, &bill); err != nil {
		return nil, err
	}
	return &bill, nil
}

// Bill fetches a bill by id.
func (c *Client) Bill(ctx context.Context, billID int64) (*model.Bill, error) {
	endpoint := fmt.Sprintf("%s/api/v1/bills/%d", c.baseURL, billID)
	var bill model.Bill
	if err := c.get(ctx, endpoint, &bill); err != nil {
		return nil, err
	}
	return &bill, nil
}

// CreateGatewayPayment asks the backend for a payment-session URL for a bill.
func (c *Client) CreateGatewayPayment(ctx context.Context, billID int64) (string, error) {
	endpoint := fmt.Sprintf("%s/api/v1/payments/gateway", c.baseURL)
	body := map[string]any{"billId": billID}
	var resp struct {
		RedirectURL string `json:"redirectUrl"`
	}
	if err := c.post(ctx, endpoint, body, &resp); err != nil {
		return "", err
	}
	if resp.RedirectURL == "" {
		return "", fmt.Errorf("gateway returned no redirect url")
	}
	return resp.RedirectURL, nil
}

// ConfirmGatewayPayment replays the gateway's return parameters to the
// backend so it can settle the bill even if the asynchronous webhook was
// missed. Best effort; the webhook remains the source of truth.
func (c *Client) ConfirmGatewayPayment(ctx context.Context, billID int64, gatewayParams url.Values) error {
	endpoint := fmt.Sprintf("%s/api/v1/payments/gateway/confirm", c.baseURL)
	body := map[string]any{
		"billId": billID,
		"params": gatewayParams,
	}
	return c.post(ctx, endpoint, body, nil)
}

// CurrentUser fetches the authenticated user from the auth collaborator.
func (c *Client) CurrentUser(ctx context.Context) (*model.User, error) {
	endpoint := fmt.Sprintf("%s/api/v1/users/me", c.baseURL)
	var user model.User
	if err := c.get(ctx, endpoint, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// PaymentMethods lists the available payment methods. Redis-cached when
// configured; the list changes rarely.
func (c *Client) PaymentMethods(ctx context.Context) ([]model.PaymentMethod, error) {
	cacheKey := "payment-methods"
	var methods []model.PaymentMethod
	if c.readCache(ctx, cacheKey, &methods) {
		return methods, nil
	}

	endpoint := fmt.Sprintf("%s/api/v1/payment-methods", c.baseURL)
	if err := c.get(ctx, endpoint, &methods); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, methods)
	return methods, nil
}

// OperatingHours resolves the open window for a location on a day of week
// (time.Weekday numbering). Falls back to the default schedule when none is
// configured.
func (c *Client) OperatingHours(ctx context.Context, locationID int64, dayOfWeek time.Weekday) (model.OperatingHours, error) {
	cacheKey := fmt.Sprintf("schedule:%d:%d", locationID, dayOfWeek)
	var hours model.OperatingHours
	if c.readCache(ctx, cacheKey, &hours) {
		return hours, nil
	}

	endpoint := fmt.Sprintf("%s/api/v1/locations/%d/schedule?dayOfWeek=%d", c.baseURL, locationID, dayOfWeek)
	if err := c.get(ctx, endpoint, &hours); err != nil {
		if isNotFound(err) {
			return model.DefaultOperatingHours(), nil
		}
		return model.OperatingHours{}, err
	}
	c.writeCache(ctx, cacheKey, hours)
	return hours, nil
}

// Stadium fetches a stadium by id.
func (c *Client) Stadium(ctx context.Context, stadiumID int64) (*model.Stadium, error) {
	endpoint := fmt.Sprintf("%s/api/v1/stadiums/%d", c.baseURL, stadiumID)
	var stadium model.Stadium
	if err := c.get(ctx, endpoint, &stadium); err != nil {
		return nil, err
	}
	return &stadium, nil
}
