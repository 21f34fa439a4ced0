// Package payment reconciles the browser's return from the payment gateway
// with the authoritative bill state on the backend.
package payment

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pitchbook/internal/events"
	"pitchbook/internal/metrics"
	"pitchbook/internal/model"
)

// Gateway query parameters carried on the return URL.
const (
	ParamResponseCode  = "vnp_ResponseCode"
	ParamOrderRef      = "vnp_TxnRef"
	ParamTransactionNo = "vnp_TransactionNo"
)

// Result codes the gateway is known to send.
const (
	CodeSuccess       = "00"
	CodeUserCancelled = "24"
)

// Bills is the slice of the API client the reconciler needs.
type Bills interface {
	Bill(ctx context.Context, billID int64) (*model.Bill, error)
	ConfirmGatewayPayment(ctx context.Context, billID int64, gatewayParams url.Values) error
}

// Status is the terminal display state of a reconciliation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Countdown lengths before auto-navigation.
const (
	successCountdownSeconds = 5
	failureCountdownSeconds = 3
)

// Outcome is what the return page shows and where it navigates next.
type Outcome struct {
	Status           Status
	Message          string
	Bill             *model.Bill
	ConfirmSent      bool
	CountdownSeconds int
	RedirectPath     string
}

// Reconciler handles the gateway's redirect back into the application.
type Reconciler struct {
	bills Bills
	log   zerolog.Logger
	newID func() string
	bus   *events.Bus
}

// UseEvents attaches a bus that receives a notification per settled payment.
func (r *Reconciler) UseEvents(bus *events.Bus) {
	r.bus = bus
}

// NewReconciler creates a Reconciler.
func NewReconciler(bills Bills, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		bills: bills,
		log:   log,
		newID: func() string { return uuid.NewString() },
	}
}

func failure(msg string) Outcome {
	return Outcome{
		Status:           StatusFailure,
		Message:          msg,
		CountdownSeconds: failureCountdownSeconds,
		RedirectPath:     "/profile",
	}
}

// Reconcile processes the gateway return parameters and repairs local state.
//
// The backend's asynchronous webhook is the source of truth; the optimistic
// PAID view set here only affects display and is flagged as locally
// confirmed.
func (r *Reconciler) Reconcile(ctx context.Context, params url.Values) Outcome {
	orderRef := params.Get(ParamOrderRef)
	if orderRef == "" {
		metrics.IncPaymentReconciled("missing_order")
		return failure("payment result is missing the order reference")
	}
	billID, err := strconv.ParseInt(orderRef, 10, 64)
	if err != nil {
		metrics.IncPaymentReconciled("missing_order")
		return failure("payment result carries an invalid order reference")
	}

	bill, err := r.bills.Bill(ctx, billID)
	if err != nil {
		r.log.Warn().Err(err).Int64("bill_id", billID).Msg("bill lookup failed on payment return")
		metrics.IncPaymentReconciled("bill_not_found")
		return failure("we could not find the bill for this payment")
	}

	code := params.Get(ParamResponseCode)
	if code != CodeSuccess {
		metrics.IncPaymentReconciled("gateway_" + codeLabel(code))
		out := failure(messageForCode(code))
		out.Bill = bill
		out.RedirectPath = redirectFor(bill)
		return out
	}

	out := Outcome{
		Status:           StatusSuccess,
		Message:          "payment received, thank you",
		Bill:             bill,
		CountdownSeconds: successCountdownSeconds,
		RedirectPath:     redirectFor(bill),
	}

	if bill.Status != model.BillPaid {
		// Replay the gateway parameters to the backend in case its webhook
		// was missed, then show PAID optimistically either way.
		confirm := cloneValues(params)
		if confirm.Get(ParamTransactionNo) == "" {
			confirm.Set(ParamTransactionNo, r.newID())
		}
		if err := r.bills.ConfirmGatewayPayment(ctx, billID, confirm); err != nil {
			r.log.Warn().Err(err).Int64("bill_id", billID).Msg("payment confirmation replay failed")
		}
		out.ConfirmSent = true
		bill.Status = model.BillPaid
		bill.PaymentConfirmedLocally = true
	}

	metrics.IncPaymentReconciled("success")
	if r.bus != nil {
		r.bus.Publish(events.Event{Type: events.TypePaymentReconciled, BookingID: bill.BookingID, BillID: bill.ID})
	}
	return out
}

func redirectFor(bill *model.Bill) string {
	if bill != nil && bill.BookingID != 0 {
		return fmt.Sprintf("/bookings/%d", bill.BookingID)
	}
	return "/profile"
}

func messageForCode(code string) string {
	switch code {
	case CodeUserCancelled:
		return "payment was cancelled"
	case "":
		return "payment failed"
	default:
		return fmt.Sprintf("payment was rejected by the gateway (code %s)", code)
	}
}

func codeLabel(code string) string {
	if code == CodeUserCancelled {
		return "cancelled"
	}
	return "rejected"
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

// CountdownDeadline returns when the return page should auto-navigate.
func (o Outcome) CountdownDeadline(now time.Time) time.Time {
	return now.Add(time.Duration(o.CountdownSeconds) * time.Second)
}
