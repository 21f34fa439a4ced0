package booking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pitchbook/internal/api"
	"pitchbook/internal/apperr"
	"pitchbook/internal/auth"
	"pitchbook/internal/availability"
	"pitchbook/internal/events"
	"pitchbook/internal/metrics"
	"pitchbook/internal/model"
	"pitchbook/internal/pricing"
	"pitchbook/internal/slots"
	"pitchbook/internal/timeutil"
)

// Backend is the slice of the API client the orchestrator mutates through.
type Backend interface {
	CreateBooking(ctx context.Context, req api.CreateBookingRequest) (*model.Booking, error)
	CreateBookingDetail(ctx context.Context, req api.CreateBookingDetailRequest) (*model.BookingDetail, error)
	CreateBill(ctx context.Context, req api.CreateBillRequest) (*model.Bill, error)
	UpdateBookingStatus(ctx context.Context, bookingID int64, status model.BookingStatus) (*model.Booking, error)
	CreateGatewayPayment(ctx context.Context, billID int64) (string, error)
	CurrentUser(ctx context.Context) (*model.User, error)
	OperatingHours(ctx context.Context, locationID int64, dayOfWeek time.Weekday) (model.OperatingHours, error)
}

// SubmitRequest is one booking attempt as entered in the form.
type SubmitRequest struct {
	StadiumID  int64
	LocationID int64
	TypeID     int64
	Date       string
	Start      string
	End        string
}

// SubmitResult is a completed attempt. Warning is set on the degraded-success
// path where the booking exists but its detail row could not be created.
type SubmitResult struct {
	Booking      *model.Booking
	Warning      string
	RedirectPath string
}

// PayOutcome is the result of the pay-now flow on a pending booking.
type PayOutcome struct {
	Bill        *model.Bill
	RedirectURL string
	Message     string
	AtCounter   bool
	Approximate bool
}

// Orchestrator drives one booking attempt at a time through the workflow
// states. Steps are strictly sequential; a step runs only after the previous
// one succeeded, except detail creation whose failure is tolerated.
type Orchestrator struct {
	backend   Backend
	avail     *availability.Cache
	validator *slots.Validator
	pricing   *pricing.Resolver
	session   *auth.Session
	log       zerolog.Logger
	now       func() time.Time
	bus       *events.Bus

	mu       sync.Mutex
	state    State
	inFlight bool
}

// New creates an Orchestrator.
func New(backend Backend, avail *availability.Cache, validator *slots.Validator, priceResolver *pricing.Resolver, session *auth.Session, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		backend:   backend,
		avail:     avail,
		validator: validator,
		pricing:   priceResolver,
		session:   session,
		log:       log,
		now:       time.Now,
		state:     StateIdle,
	}
}

// UseEvents attaches a bus that receives lifecycle notifications.
func (o *Orchestrator) UseEvents(bus *events.Bus) {
	o.bus = bus
}

func (o *Orchestrator) publish(t events.Type, bookingID int64) {
	if o.bus != nil {
		o.bus.Publish(events.Event{Type: t, BookingID: bookingID})
	}
}

// State returns the current attempt state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !CanTransition(o.state, to) {
		o.log.Warn().Str("from", string(o.state)).Str("to", string(to)).Msg("unexpected state transition")
	}
	o.state = to
}

func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight {
		return fmt.Errorf("a submission is already in progress")
	}
	o.inFlight = true
	o.state = StateValidating
	return nil
}

func (o *Orchestrator) finish(to State) {
	o.mu.Lock()
	o.inFlight = false
	o.state = to
	o.mu.Unlock()
}

// resultError converts a validator rejection to the error taxonomy.
func resultError(res slots.Result) error {
	switch res.Reason {
	case slots.ReasonOverlap, slots.ReasonBuffer:
		cerr := &apperr.ConflictError{Reason: res.Message}
		if res.Conflict != nil {
			cerr.Start = res.Conflict.Start.String()
			cerr.End = res.Conflict.End.String()
			cerr.Status = string(res.Conflict.Status)
		}
		return cerr
	default:
		return apperr.Validation("timeSlot", res.Message)
	}
}

// hours resolves the operating window for the attempt's date, degrading to
// the default schedule when the lookup fails.
func (o *Orchestrator) hours(ctx context.Context, req SubmitRequest) model.OperatingHours {
	date, err := timeutil.ParseDate(req.Date, o.now().Location())
	if err != nil {
		return model.DefaultOperatingHours()
	}
	hours, err := o.backend.OperatingHours(ctx, req.LocationID, date.Weekday())
	if err != nil {
		o.log.Warn().Err(err).Int64("location_id", req.LocationID).Msg("schedule lookup failed, using defaults")
		return model.DefaultOperatingHours()
	}
	return hours
}

// Check validates a candidate without submitting, for the live form.
func (o *Orchestrator) Check(ctx context.Context, req SubmitRequest) (slots.Result, error) {
	booked, err := o.avail.GetBookedIntervals(ctx, req.StadiumID, req.Date)
	if err != nil {
		return slots.Result{}, err
	}
	candidate := slots.Candidate{Date: req.Date, Start: req.Start, End: req.End}
	return o.validator.Validate(candidate, booked, o.hours(ctx, req)), nil
}

// Submit runs a full booking attempt: pre-checks, identity resolution,
// booking creation, best-effort detail creation.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := o.begin(); err != nil {
		return nil, err
	}

	// Pre-checks abort before any network mutation.
	if !o.session.Authenticated() {
		o.finish(StateRejected)
		metrics.IncBookingSubmitted("auth_required")
		return nil, &apperr.AuthExpiredError{}
	}
	if req.Date == "" || req.Start == "" || req.End == "" {
		o.finish(StateRejected)
		metrics.IncBookingSubmitted("rejected")
		return nil, apperr.Validation("timeSlot", "date, start and end time are required")
	}

	booked, err := o.avail.GetBookedIntervals(ctx, req.StadiumID, req.Date)
	if err != nil {
		o.finish(StateFailed)
		metrics.IncBookingSubmitted("failed")
		return nil, err
	}

	hours := o.hours(ctx, req)
	candidate := slots.Candidate{Date: req.Date, Start: req.Start, End: req.End}
	if res := o.validator.Validate(candidate, booked, hours); !res.OK {
		o.finish(StateRejected)
		metrics.IncBookingSubmitted("rejected")
		return nil, resultError(res)
	}
	o.setState(StateAvailable)

	// Authoritative re-check guards against races since the cache was read.
	if res := o.validator.CheckAvailability(candidate, booked, hours, o.now()); !res.OK {
		o.finish(StateRejected)
		metrics.IncBookingSubmitted("rejected")
		return nil, resultError(res)
	}
	o.setState(StateConfirmOpen)

	userID, err := o.session.ResolveUserID(ctx, o.backend.CurrentUser)
	if err != nil {
		o.finish(StateFailed)
		metrics.IncBookingSubmitted("failed")
		return nil, err
	}

	o.setState(StateSubmitting)
	start, _ := timeutil.Parse(req.Start)
	end, _ := timeutil.Parse(req.End)

	created, err := o.backend.CreateBooking(ctx, api.CreateBookingRequest{
		UserID:     userID,
		LocationID: req.LocationID,
		Date:       req.Date,
		Start:      start.Clock(),
		End:        end.Clock(),
	})
	if err != nil {
		o.finish(StateFailed)
		metrics.IncBookingSubmitted("failed")
		// The backend may reject with a conflict the fail-open cache missed;
		// surface it as such rather than a generic failure.
		if apperr.IsConflict(err) {
			return nil, err
		}
		return nil, &apperr.SubmissionError{ServerMessage: apperr.UserMessage(err), Err: err}
	}
	o.setState(StateBookingCreated)
	o.avail.Invalidate(req.StadiumID, req.Date)
	o.publish(events.TypeBookingCreated, created.ID)

	result := &SubmitResult{
		Booking:      created,
		RedirectPath: fmt.Sprintf("/bookings/%d", created.ID),
	}

	_, err = o.backend.CreateBookingDetail(ctx, api.CreateBookingDetailRequest{
		BookingID: created.ID,
		TypeID:    req.TypeID,
		StadiumID: req.StadiumID,
	})
	if err != nil {
		// The booking row exists and is kept; surface a warning and still
		// route the user to it.
		partial := &apperr.PartialSuccess{BookingID: created.ID, Step: "detail creation", Err: err}
		o.log.Warn().Err(err).Int64("booking_id", created.ID).Msg("booking detail creation failed")
		result.Warning = partial.Error()
		o.finish(StateSuccess)
		metrics.IncBookingSubmitted("partial")
		return result, nil
	}
	o.setState(StateDetailCreated)

	o.finish(StateSuccess)
	metrics.IncBookingSubmitted("success")
	return result, nil
}

// PayNow creates a bill for a pending booking, confirms the booking, and
// branches on the payment method kind. The booking is CONFIRMED before the
// gateway redirect; reconciliation on return settles the difference.
func (o *Orchestrator) PayNow(ctx context.Context, b *model.Booking, stadium *model.Stadium, method model.PaymentMethod) (*PayOutcome, error) {
	if b.Status != model.BookingPending {
		return nil, apperr.Validation("booking", fmt.Sprintf("booking is %s, only pending bookings can be paid", b.Status))
	}

	userID, err := o.session.ResolveUserID(ctx, o.backend.CurrentUser)
	if err != nil {
		return nil, err
	}

	preview := o.pricing.Resolve(ctx, pricing.Query{
		StadiumID: stadium.ID,
		BasePrice: stadium.BasePrice,
		Date:      b.Date,
		Start:     b.Start,
		End:       b.End,
	})

	bill, err := o.backend.CreateBill(ctx, api.CreateBillRequest{
		BookingID:       b.ID,
		PaymentMethodID: method.ID,
		UserID:          userID,
		FinalPrice:      preview.TotalPrice,
	})
	if err != nil {
		return nil, fmt.Errorf("create bill: %w", err)
	}

	if _, err := o.backend.UpdateBookingStatus(ctx, b.ID, model.BookingConfirmed); err != nil {
		return nil, fmt.Errorf("confirm booking: %w", err)
	}

	outcome := &PayOutcome{Bill: bill, Approximate: preview.Approximate}

	switch method.Kind {
	case model.PaymentGatewayRedirect:
		redirectURL, err := o.backend.CreateGatewayPayment(ctx, bill.ID)
		if err != nil {
			// Booking stays CONFIRMED without a successful charge; it is
			// reconciled later. The user stays on-page with an error.
			return outcome, fmt.Errorf("payment gateway: %w", err)
		}
		outcome.RedirectURL = redirectURL
	default:
		outcome.AtCounter = true
		outcome.Message = "booking confirmed, please pay at the counter"
	}

	return outcome, nil
}

// Cancel cancels a pending booking owned by the acting user. Allowed for
// today-or-future dates only; refunds are out of the engine's hands.
func (o *Orchestrator) Cancel(ctx context.Context, b *model.Booking) error {
	userID, err := o.session.ResolveUserID(ctx, o.backend.CurrentUser)
	if err != nil {
		return err
	}
	if b.UserID != userID {
		return &apperr.PermissionError{ServerMessage: "only the booking owner can cancel it"}
	}
	if b.Status != model.BookingPending {
		return apperr.Validation("booking", fmt.Sprintf("a %s booking cannot be cancelled", b.Status))
	}

	date, err := timeutil.ParseDate(b.Date, o.now().Location())
	if err != nil {
		return err
	}
	now := o.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if date.Before(today) {
		return apperr.Validation("booking", "past bookings cannot be cancelled")
	}

	if _, err := o.backend.UpdateBookingStatus(ctx, b.ID, model.BookingCancelled); err != nil {
		return err
	}
	metrics.IncBookingCancelled()
	o.publish(events.TypeBookingCancelled, b.ID)
	return nil
}
