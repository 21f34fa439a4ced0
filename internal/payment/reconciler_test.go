package payment

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitchbook/internal/events"
	"pitchbook/internal/model"
)

type fakeBills struct {
	bill         *model.Bill
	billErr      error
	confirmCalls int
	confirmed    url.Values
	confirmErr   error
}

func (f *fakeBills) Bill(ctx context.Context, billID int64) (*model.Bill, error) {
	if f.billErr != nil {
		return nil, f.billErr
	}
	return f.bill, nil
}

func (f *fakeBills) ConfirmGatewayPayment(ctx context.Context, billID int64, params url.Values) error {
	f.confirmCalls++
	f.confirmed = params
	return f.confirmErr
}

func returnParams(code, orderRef string) url.Values {
	v := url.Values{}
	if code != "" {
		v.Set(ParamResponseCode, code)
	}
	if orderRef != "" {
		v.Set(ParamOrderRef, orderRef)
	}
	v.Set("vnp_BankCode", "NCB")
	return v
}

func newReconciler(bills *fakeBills) *Reconciler {
	r := NewReconciler(bills, zerolog.Nop())
	r.newID = func() string { return "txn-generated" }
	return r
}

func TestReconcile_MissingOrderRef(t *testing.T) {
	r := newReconciler(&fakeBills{})

	out := r.Reconcile(context.Background(), returnParams(CodeSuccess, ""))
	assert.Equal(t, StatusFailure, out.Status)
	assert.Equal(t, 3, out.CountdownSeconds)
	assert.Equal(t, "/profile", out.RedirectPath)
}

func TestReconcile_BillNotFound(t *testing.T) {
	r := newReconciler(&fakeBills{billErr: errors.New("http 404")})

	out := r.Reconcile(context.Background(), returnParams(CodeSuccess, "55"))
	assert.Equal(t, StatusFailure, out.Status)
	assert.Equal(t, "/profile", out.RedirectPath)
}

func TestReconcile_SuccessUnpaidSendsOneConfirmation(t *testing.T) {
	bills := &fakeBills{bill: &model.Bill{ID: 55, BookingID: 101, Status: model.BillUnpaid}}
	r := newReconciler(bills)

	out := r.Reconcile(context.Background(), returnParams(CodeSuccess, "55"))
	require.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, 1, bills.confirmCalls)
	assert.True(t, out.ConfirmSent)
	assert.Equal(t, 5, out.CountdownSeconds)
	assert.Equal(t, "/bookings/101", out.RedirectPath)

	// Optimistic local view, flagged as provisional.
	assert.Equal(t, model.BillPaid, out.Bill.Status)
	assert.True(t, out.Bill.PaymentConfirmedLocally)

	// Gateway params are passed through, with a normalized transaction id.
	assert.Equal(t, "NCB", bills.confirmed.Get("vnp_BankCode"))
	assert.Equal(t, "txn-generated", bills.confirmed.Get(ParamTransactionNo))
}

func TestReconcile_SuccessPublishesEvent(t *testing.T) {
	bills := &fakeBills{bill: &model.Bill{ID: 55, BookingID: 42, Status: model.BillUnpaid}}
	r := newReconciler(bills)

	bus := events.NewBus()
	var got []events.Event
	bus.Subscribe(events.TypePaymentReconciled, func(e events.Event) { got = append(got, e) })
	r.UseEvents(bus)

	r.Reconcile(context.Background(), returnParams(CodeSuccess, "55"))
	require.Len(t, got, 1)
	assert.Equal(t, int64(55), got[0].BillID)
	assert.Equal(t, int64(42), got[0].BookingID)

	// Failed reconciliations stay silent.
	r.Reconcile(context.Background(), returnParams(CodeUserCancelled, "55"))
	assert.Len(t, got, 1)
}

func TestReconcile_SuccessAlreadyPaidSkipsConfirmation(t *testing.T) {
	bills := &fakeBills{bill: &model.Bill{ID: 55, BookingID: 101, Status: model.BillPaid}}
	r := newReconciler(bills)

	out := r.Reconcile(context.Background(), returnParams(CodeSuccess, "55"))
	require.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, 0, bills.confirmCalls)
	assert.False(t, out.ConfirmSent)
	assert.False(t, out.Bill.PaymentConfirmedLocally)
}

func TestReconcile_ConfirmationFailureStaysOptimistic(t *testing.T) {
	bills := &fakeBills{
		bill:       &model.Bill{ID: 55, BookingID: 101, Status: model.BillUnpaid},
		confirmErr: errors.New("backend busy"),
	}
	r := newReconciler(bills)

	out := r.Reconcile(context.Background(), returnParams(CodeSuccess, "55"))
	require.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, model.BillPaid, out.Bill.Status)
	assert.True(t, out.Bill.PaymentConfirmedLocally)
}

func TestReconcile_GatewayTransactionIDKept(t *testing.T) {
	bills := &fakeBills{bill: &model.Bill{ID: 55, BookingID: 101, Status: model.BillUnpaid}}
	r := newReconciler(bills)

	params := returnParams(CodeSuccess, "55")
	params.Set(ParamTransactionNo, "gw-789")

	r.Reconcile(context.Background(), params)
	assert.Equal(t, "gw-789", bills.confirmed.Get(ParamTransactionNo))
}

func TestReconcile_FailureCodes(t *testing.T) {
	tests := []struct {
		name        string
		code        string
		wantMessage string
	}{
		{"user cancelled", CodeUserCancelled, "cancelled"},
		{"gateway rejected", "51", "rejected"},
		{"missing code", "", "payment failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bills := &fakeBills{bill: &model.Bill{ID: 55, BookingID: 101, Status: model.BillUnpaid}}
			r := newReconciler(bills)

			params := returnParams(tt.code, "55")
			out := r.Reconcile(context.Background(), params)

			assert.Equal(t, StatusFailure, out.Status)
			assert.Contains(t, out.Message, tt.wantMessage)
			assert.Equal(t, 3, out.CountdownSeconds)
			assert.Equal(t, "/bookings/101", out.RedirectPath)
			assert.Equal(t, 0, bills.confirmCalls, "failed payments are never confirm-replayed")
		})
	}
}
