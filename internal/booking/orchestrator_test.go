package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pitchbook/internal/api"
	"pitchbook/internal/apperr"
	"pitchbook/internal/auth"
	"pitchbook/internal/availability"
	"pitchbook/internal/model"
	"pitchbook/internal/pricing"
	"pitchbook/internal/slots"
	"pitchbook/internal/timeutil"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) CreateBooking(ctx context.Context, req api.CreateBookingRequest) (*model.Booking, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Booking), args.Error(1)
}

func (m *mockBackend) CreateBookingDetail(ctx context.Context, req api.CreateBookingDetailRequest) (*model.BookingDetail, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BookingDetail), args.Error(1)
}

func (m *mockBackend) CreateBill(ctx context.Context, req api.CreateBillRequest) (*model.Bill, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Bill), args.Error(1)
}

func (m *mockBackend) UpdateBookingStatus(ctx context.Context, bookingID int64, status model.BookingStatus) (*model.Booking, error) {
	args := m.Called(ctx, bookingID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Booking), args.Error(1)
}

func (m *mockBackend) CreateGatewayPayment(ctx context.Context, billID int64) (string, error) {
	args := m.Called(ctx, billID)
	return args.String(0), args.Error(1)
}

func (m *mockBackend) CurrentUser(ctx context.Context) (*model.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockBackend) OperatingHours(ctx context.Context, locationID int64, dayOfWeek time.Weekday) (model.OperatingHours, error) {
	args := m.Called(ctx, locationID, dayOfWeek)
	return args.Get(0).(model.OperatingHours), args.Error(1)
}

type staticFetcher struct {
	intervals []model.BookingInterval
	err       error
}

func (s *staticFetcher) BookedIntervals(ctx context.Context, stadiumID int64, date string) ([]model.BookingInterval, error) {
	return s.intervals, s.err
}

type staticPricing struct {
	preview *model.PricingPreview
	err     error
}

func (s *staticPricing) PricingPreview(ctx context.Context, stadiumID int64, date, start, end string) (*model.PricingPreview, error) {
	return s.preview, s.err
}

func userToken(t *testing.T, userID int64) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"userId": float64(userID)})
	s, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)
	return s
}

type fixture struct {
	backend *mockBackend
	session *auth.Session
	orch    *Orchestrator
}

func newFixture(t *testing.T, fetch availability.Fetcher, priced *staticPricing) *fixture {
	t.Helper()
	if fetch == nil {
		fetch = &staticFetcher{}
	}
	if priced == nil {
		priced = &staticPricing{preview: &model.PricingPreview{TotalPrice: 400, TotalHours: 2}}
	}
	backend := &mockBackend{}
	session := auth.NewSession(userToken(t, 7))
	cache := availability.New(fetch, zerolog.Nop(), availability.WithMinFetchGap(0))
	orch := New(backend, cache, slots.NewValidator(), pricing.NewResolver(priced, zerolog.Nop()), session, zerolog.Nop())
	// Fixed clock: the requested slots below are always in the future.
	orch.now = func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) }
	return &fixture{backend: backend, session: session, orch: orch}
}

func validRequest() SubmitRequest {
	return SubmitRequest{
		StadiumID:  3,
		LocationID: 5,
		TypeID:     2,
		Date:       "2026-03-14",
		Start:      "15:10",
		End:        "16:10",
	}
}

func TestSubmit_Success(t *testing.T) {
	fx := newFixture(t, nil, nil)
	created := &model.Booking{ID: 101, UserID: 7, LocationID: 5, Date: "2026-03-14", Status: model.BookingPending}

	fx.backend.On("OperatingHours", mock.Anything, int64(5), time.Saturday).Return(model.DefaultOperatingHours(), nil)
	fx.backend.On("CreateBooking", mock.Anything, api.CreateBookingRequest{
		UserID:     7,
		LocationID: 5,
		Date:       "2026-03-14",
		Start:      "15:10:00",
		End:        "16:10:00",
	}).Return(created, nil)
	fx.backend.On("CreateBookingDetail", mock.Anything, api.CreateBookingDetailRequest{
		BookingID: 101,
		TypeID:    2,
		StadiumID: 3,
	}).Return(&model.BookingDetail{ID: 1, BookingID: 101}, nil)

	result, err := fx.orch.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Empty(t, result.Warning)
	assert.Equal(t, "/bookings/101", result.RedirectPath)
	assert.Equal(t, StateSuccess, fx.orch.State())
	fx.backend.AssertExpectations(t)
	// Identity came from token claims, not the endpoint.
	fx.backend.AssertNotCalled(t, "CurrentUser", mock.Anything)
}

func TestSubmit_DetailFailureIsDegradedSuccess(t *testing.T) {
	fx := newFixture(t, nil, nil)
	created := &model.Booking{ID: 102, UserID: 7, Date: "2026-03-14", Status: model.BookingPending}

	fx.backend.On("OperatingHours", mock.Anything, int64(5), time.Saturday).Return(model.DefaultOperatingHours(), nil)
	fx.backend.On("CreateBooking", mock.Anything, mock.Anything).Return(created, nil)
	fx.backend.On("CreateBookingDetail", mock.Anything, mock.Anything).Return(nil, errors.New("detail service down"))

	result, err := fx.orch.Submit(context.Background(), validRequest())
	require.NoError(t, err, "detail failure must not fail the attempt")
	assert.Contains(t, result.Warning, "detail creation")
	assert.Equal(t, "/bookings/102", result.RedirectPath)
	assert.Equal(t, StateSuccess, fx.orch.State())
}

func TestSubmit_BookingCreationIsFatal(t *testing.T) {
	fx := newFixture(t, nil, nil)

	fx.backend.On("OperatingHours", mock.Anything, int64(5), time.Saturday).Return(model.DefaultOperatingHours(), nil)
	fx.backend.On("CreateBooking", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

	_, err := fx.orch.Submit(context.Background(), validRequest())
	require.Error(t, err)
	var serr *apperr.SubmissionError
	assert.ErrorAs(t, err, &serr)
	assert.Equal(t, StateFailed, fx.orch.State())
	fx.backend.AssertNotCalled(t, "CreateBookingDetail", mock.Anything, mock.Anything)
}

func TestSubmit_BackendConflictSurfacedAsConflict(t *testing.T) {
	fx := newFixture(t, nil, nil)

	fx.backend.On("OperatingHours", mock.Anything, int64(5), time.Saturday).Return(model.DefaultOperatingHours(), nil)
	fx.backend.On("CreateBooking", mock.Anything, mock.Anything).
		Return(nil, &apperr.ConflictError{Reason: "slot was just taken"})

	_, err := fx.orch.Submit(context.Background(), validRequest())
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))
}

func TestSubmit_RejectsOverlapBeforeAnyMutation(t *testing.T) {
	taken := &staticFetcher{intervals: []model.BookingInterval{{
		Date:   "2026-03-14",
		Start:  timeutil.MustParse("15:00"),
		End:    timeutil.MustParse("16:00"),
		Status: model.BookingConfirmed,
	}}}
	fx := newFixture(t, taken, nil)
	fx.backend.On("OperatingHours", mock.Anything, int64(5), time.Saturday).Return(model.DefaultOperatingHours(), nil)

	req := validRequest()
	req.Start = "15:30"
	req.End = "16:30"

	_, err := fx.orch.Submit(context.Background(), req)
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))
	assert.Equal(t, StateRejected, fx.orch.State())
	fx.backend.AssertNotCalled(t, "CreateBooking", mock.Anything, mock.Anything)
}

func TestSubmit_RequiresAuthentication(t *testing.T) {
	fx := newFixture(t, nil, nil)
	fx.session.SetToken("")

	_, err := fx.orch.Submit(context.Background(), validRequest())
	require.Error(t, err)
	assert.True(t, apperr.IsAuthExpired(err))
	fx.backend.AssertNotCalled(t, "CreateBooking", mock.Anything, mock.Anything)
}

func TestSubmit_RequiresAllFields(t *testing.T) {
	fx := newFixture(t, nil, nil)

	req := validRequest()
	req.End = ""

	_, err := fx.orch.Submit(context.Background(), req)
	require.Error(t, err)
	var verr *apperr.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestSubmit_RejectsSlotInThePast(t *testing.T) {
	fx := newFixture(t, nil, nil)
	fx.backend.On("OperatingHours", mock.Anything, int64(5), time.Saturday).Return(model.DefaultOperatingHours(), nil)
	// Clock past the candidate's end time.
	fx.orch.now = func() time.Time { return time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC) }

	_, err := fx.orch.Submit(context.Background(), validRequest())
	require.Error(t, err)
	fx.backend.AssertNotCalled(t, "CreateBooking", mock.Anything, mock.Anything)
}

func TestSubmit_UserIDFromEndpointWhenTokenOpaque(t *testing.T) {
	fx := newFixture(t, nil, nil)
	fx.session.SetToken("opaque-token")

	fx.backend.On("OperatingHours", mock.Anything, int64(5), time.Saturday).Return(model.DefaultOperatingHours(), nil)
	fx.backend.On("CurrentUser", mock.Anything).Return(&model.User{ID: 42}, nil)
	fx.backend.On("CreateBooking", mock.Anything, mock.MatchedBy(func(req api.CreateBookingRequest) bool {
		return req.UserID == 42
	})).Return(&model.Booking{ID: 103, UserID: 42, Date: "2026-03-14", Status: model.BookingPending}, nil)
	fx.backend.On("CreateBookingDetail", mock.Anything, mock.Anything).Return(&model.BookingDetail{}, nil)

	_, err := fx.orch.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	fx.backend.AssertExpectations(t)
}

func TestSubmit_IdentityFailureKeepsAuthErrorType(t *testing.T) {
	fx := newFixture(t, nil, nil)
	fx.session.SetToken("opaque-token")

	fx.backend.On("OperatingHours", mock.Anything, int64(5), time.Saturday).Return(model.DefaultOperatingHours(), nil)
	fx.backend.On("CurrentUser", mock.Anything).Return(nil, &apperr.AuthExpiredError{ServerMessage: "token expired"})

	_, err := fx.orch.Submit(context.Background(), validRequest())
	require.Error(t, err)
	assert.True(t, apperr.IsAuthExpired(err), "expired-session cause must survive the pipeline")
	fx.backend.AssertNotCalled(t, "CreateBooking", mock.Anything, mock.Anything)
}

func TestSubmit_DoubleSubmissionBlocked(t *testing.T) {
	fx := newFixture(t, nil, nil)

	release := make(chan struct{})
	fx.backend.On("OperatingHours", mock.Anything, int64(5), time.Saturday).Return(model.DefaultOperatingHours(), nil)
	fx.backend.On("CreateBooking", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(&model.Booking{ID: 104, Date: "2026-03-14", Status: model.BookingPending}, nil)
	fx.backend.On("CreateBookingDetail", mock.Anything, mock.Anything).Return(&model.BookingDetail{}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := fx.orch.Submit(context.Background(), validRequest())
		done <- err
	}()

	// Wait for the first attempt to reach the blocked CreateBooking call.
	require.Eventually(t, func() bool {
		return fx.orch.State() == StateSubmitting
	}, time.Second, 5*time.Millisecond)

	_, err := fx.orch.Submit(context.Background(), validRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")

	close(release)
	require.NoError(t, <-done)
}

func TestPayNow_Cash(t *testing.T) {
	fx := newFixture(t, nil, &staticPricing{preview: &model.PricingPreview{TotalPrice: 600, TotalHours: 2}})
	b := &model.Booking{ID: 101, UserID: 7, Date: "2026-03-14", Start: "15:00:00", End: "17:00:00", Status: model.BookingPending}
	stadium := &model.Stadium{ID: 3, BasePrice: 250}

	fx.backend.On("CreateBill", mock.Anything, api.CreateBillRequest{
		BookingID:       101,
		PaymentMethodID: 1,
		UserID:          7,
		FinalPrice:      600,
	}).Return(&model.Bill{ID: 55, BookingID: 101, Status: model.BillUnpaid}, nil)
	fx.backend.On("UpdateBookingStatus", mock.Anything, int64(101), model.BookingConfirmed).
		Return(&model.Booking{ID: 101, Status: model.BookingConfirmed}, nil)

	outcome, err := fx.orch.PayNow(context.Background(), b, stadium, model.PaymentMethod{ID: 1, Kind: model.PaymentCash})
	require.NoError(t, err)
	assert.True(t, outcome.AtCounter)
	assert.Empty(t, outcome.RedirectURL)
	assert.False(t, outcome.Approximate)
	fx.backend.AssertExpectations(t)
}

func TestPayNow_GatewayRedirect(t *testing.T) {
	fx := newFixture(t, nil, nil)
	b := &model.Booking{ID: 101, UserID: 7, Date: "2026-03-14", Start: "15:00:00", End: "17:00:00", Status: model.BookingPending}

	fx.backend.On("CreateBill", mock.Anything, mock.Anything).Return(&model.Bill{ID: 55}, nil)
	fx.backend.On("UpdateBookingStatus", mock.Anything, int64(101), model.BookingConfirmed).
		Return(&model.Booking{ID: 101, Status: model.BookingConfirmed}, nil)
	fx.backend.On("CreateGatewayPayment", mock.Anything, int64(55)).Return("https://gateway.example/pay/55", nil)

	outcome, err := fx.orch.PayNow(context.Background(), b, &model.Stadium{ID: 3}, model.PaymentMethod{ID: 2, Kind: model.PaymentGatewayRedirect})
	require.NoError(t, err)
	assert.Equal(t, "https://gateway.example/pay/55", outcome.RedirectURL)
	assert.False(t, outcome.AtCounter)
}

func TestPayNow_GatewayURLFailureKeepsBillOutcome(t *testing.T) {
	fx := newFixture(t, nil, nil)
	b := &model.Booking{ID: 101, UserID: 7, Date: "2026-03-14", Start: "15:00:00", End: "17:00:00", Status: model.BookingPending}

	fx.backend.On("CreateBill", mock.Anything, mock.Anything).Return(&model.Bill{ID: 55}, nil)
	fx.backend.On("UpdateBookingStatus", mock.Anything, int64(101), model.BookingConfirmed).
		Return(&model.Booking{ID: 101, Status: model.BookingConfirmed}, nil)
	fx.backend.On("CreateGatewayPayment", mock.Anything, int64(55)).Return("", errors.New("gateway down"))

	outcome, err := fx.orch.PayNow(context.Background(), b, &model.Stadium{ID: 3}, model.PaymentMethod{ID: 2, Kind: model.PaymentGatewayRedirect})
	require.Error(t, err)
	require.NotNil(t, outcome, "the bill exists and the booking is confirmed; caller needs both")
	assert.Equal(t, int64(55), outcome.Bill.ID)
}

func TestPayNow_UsesFlatRateWhenPricingDown(t *testing.T) {
	fx := newFixture(t, nil, &staticPricing{err: errors.New("pricing down")})
	b := &model.Booking{ID: 101, UserID: 7, Date: "2026-03-14", Start: "15:00:00", End: "17:00:00", Status: model.BookingPending}
	stadium := &model.Stadium{ID: 3, BasePrice: 250}

	fx.backend.On("CreateBill", mock.Anything, mock.MatchedBy(func(req api.CreateBillRequest) bool {
		return req.FinalPrice == 500 // 250 × 2h flat fallback
	})).Return(&model.Bill{ID: 56}, nil)
	fx.backend.On("UpdateBookingStatus", mock.Anything, int64(101), model.BookingConfirmed).
		Return(&model.Booking{ID: 101, Status: model.BookingConfirmed}, nil)

	outcome, err := fx.orch.PayNow(context.Background(), b, stadium, model.PaymentMethod{ID: 1, Kind: model.PaymentCash})
	require.NoError(t, err)
	assert.True(t, outcome.Approximate)
	fx.backend.AssertExpectations(t)
}

func TestPayNow_OnlyPendingBookings(t *testing.T) {
	fx := newFixture(t, nil, nil)
	b := &model.Booking{ID: 101, UserID: 7, Status: model.BookingConfirmed}

	_, err := fx.orch.PayNow(context.Background(), b, &model.Stadium{}, model.PaymentMethod{Kind: model.PaymentCash})
	require.Error(t, err)
	fx.backend.AssertNotCalled(t, "CreateBill", mock.Anything, mock.Anything)
}

func TestCancel(t *testing.T) {
	tests := []struct {
		name    string
		booking model.Booking
		wantErr string
	}{
		{
			name:    "owner cancels pending future booking",
			booking: model.Booking{ID: 9, UserID: 7, Date: "2026-03-20", Status: model.BookingPending},
		},
		{
			name:    "same-day cancellation allowed",
			booking: model.Booking{ID: 9, UserID: 7, Date: "2026-03-14", Status: model.BookingPending},
		},
		{
			name:    "not the owner",
			booking: model.Booking{ID: 9, UserID: 8, Date: "2026-03-20", Status: model.BookingPending},
			wantErr: "owner",
		},
		{
			name:    "already confirmed",
			booking: model.Booking{ID: 9, UserID: 7, Date: "2026-03-20", Status: model.BookingConfirmed},
			wantErr: "cannot be cancelled",
		},
		{
			name:    "past date",
			booking: model.Booking{ID: 9, UserID: 7, Date: "2026-03-10", Status: model.BookingPending},
			wantErr: "past bookings",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, nil, nil)
			fx.backend.On("UpdateBookingStatus", mock.Anything, int64(9), model.BookingCancelled).
				Return(&model.Booking{ID: 9, Status: model.BookingCancelled}, nil)

			err := fx.orch.Cancel(context.Background(), &tt.booking)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				fx.backend.AssertNotCalled(t, "UpdateBookingStatus", mock.Anything, mock.Anything, mock.Anything)
				return
			}
			require.NoError(t, err)
		})
	}
}
