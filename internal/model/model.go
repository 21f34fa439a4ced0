// Package model holds the domain types exchanged with the booking backend.
package model

import (
	"time"

	"pitchbook/internal/timeutil"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCompleted BookingStatus = "COMPLETED"
	BookingCancelled BookingStatus = "CANCELLED"
)

// Blocks reports whether a booking in this status occupies the calendar.
// Cancelled and completed bookings free their window.
func (s BookingStatus) Blocks() bool {
	return s == BookingPending || s == BookingConfirmed
}

// BookingInterval is one reservation window on one stadium.
type BookingInterval struct {
	Date   string             `json:"date"`
	Start  timeutil.TimeOfDay `json:"startTime"`
	End    timeutil.TimeOfDay `json:"endTime"`
	Status BookingStatus      `json:"status"`
}

// OperatingHours is the open window for a stadium's location on a given day.
type OperatingHours struct {
	Opening timeutil.TimeOfDay `json:"openingTime"`
	Closing timeutil.TimeOfDay `json:"closingTime"`
}

// DefaultOperatingHours is used when no schedule is configured for a location.
func DefaultOperatingHours() OperatingHours {
	return OperatingHours{
		Opening: timeutil.MustParse("08:00"),
		Closing: timeutil.MustParse("22:00"),
	}
}

// Booking is the aggregate the orchestrator owns until it reaches a terminal
// state. Start and End are "HH:MM:SS" strings, the backend's wire form.
type Booking struct {
	ID         int64         `json:"id"`
	UserID     int64         `json:"userId"`
	LocationID int64         `json:"locationId"`
	Date       string        `json:"date"`
	Start      string        `json:"startTime"`
	End        string        `json:"endTime"`
	Status     BookingStatus `json:"status"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// BookingDetail is the one-to-one companion row recording stadium and price.
type BookingDetail struct {
	ID        int64   `json:"id"`
	BookingID int64   `json:"bookingId"`
	TypeID    int64   `json:"typeId"`
	StadiumID int64   `json:"stadiumId"`
	Price     float64 `json:"price"`
	Hours     float64 `json:"hours"`
}

// BillStatus is the payment state of a bill.
type BillStatus string

const (
	BillUnpaid    BillStatus = "UNPAID"
	BillPaid      BillStatus = "PAID"
	BillCancelled BillStatus = "CANCELLED"
)

// Bill is created when the user proceeds to pay a pending booking.
//
// PaymentConfirmedLocally marks an optimistic client-side PAID view after a
// gateway return; the server status stays authoritative and is driven by the
// backend webhook.
type Bill struct {
	ID              int64      `json:"id"`
	BookingID       int64      `json:"bookingId"`
	PaymentMethodID int64      `json:"paymentMethodId"`
	UserID          int64      `json:"userId"`
	FinalPrice      float64    `json:"finalPrice"`
	Status          BillStatus `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	PaidAt          *time.Time `json:"paidAt,omitempty"`

	PaymentConfirmedLocally bool `json:"-"`
}

// HourlyRate is one row of a pricing preview breakdown.
type HourlyRate struct {
	Hour         int     `json:"hour"`
	TimeSlot     string  `json:"timeSlot"`
	Multiplier   float64 `json:"multiplier"`
	PricePerHour float64 `json:"pricePerHour"`
}

// PricingPreview is the ephemeral, time-varying price breakdown for a
// candidate interval. Approximate is set when the pricing service was
// unavailable and the flat-rate fallback was used instead.
type PricingPreview struct {
	BasePrice         float64      `json:"basePrice"`
	TotalHours        float64      `json:"totalHours"`
	TotalPrice        float64      `json:"totalPrice"`
	AverageMultiplier float64      `json:"averageMultiplier"`
	HourlyBreakdown   []HourlyRate `json:"hourlyBreakdown"`

	Approximate bool `json:"-"`
}

// PaymentMethodKind tags how a payment method is settled. Carried explicitly
// by the entity, never inferred from its display name.
type PaymentMethodKind string

const (
	PaymentCash            PaymentMethodKind = "CASH"
	PaymentGatewayRedirect PaymentMethodKind = "GATEWAY_REDIRECT"
)

// PaymentMethod is a way to settle a bill.
type PaymentMethod struct {
	ID   int64             `json:"id"`
	Name string            `json:"name"`
	Kind PaymentMethodKind `json:"kind"`
}

// Stadium is a bookable sports field.
type Stadium struct {
	ID         int64   `json:"id"`
	LocationID int64   `json:"locationId"`
	TypeID     int64   `json:"typeId"`
	Name       string  `json:"name"`
	BasePrice  float64 `json:"basePrice"`
}

// User is the minimal identity the engine needs from the auth collaborator.
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}
