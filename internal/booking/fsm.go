// Package booking sequences the booking-to-payment workflow against the
// backend: create booking, create detail, create bill, transition status,
// hand off to the payment gateway.
package booking

// State is the stage of one booking attempt.
type State string

const (
	StateIdle           State = "idle"
	StateValidating     State = "validating"
	StateRejected       State = "rejected"
	StateAvailable      State = "available"
	StateConfirmOpen    State = "confirm_open"
	StateSubmitting     State = "submitting"
	StateBookingCreated State = "booking_created"
	StateDetailCreated  State = "detail_created"
	StateSuccess        State = "success"
	StateFailed         State = "failed"
)

// transitions lists the allowed moves between attempt states. Rejected and
// failed attempts return to idle so the form stays editable for retry.
var transitions = map[State][]State{
	StateIdle:           {StateValidating},
	StateValidating:     {StateRejected, StateAvailable},
	StateRejected:       {StateIdle, StateValidating},
	StateAvailable:      {StateConfirmOpen, StateValidating, StateIdle},
	StateConfirmOpen:    {StateSubmitting, StateIdle},
	StateSubmitting:     {StateBookingCreated, StateFailed},
	StateBookingCreated: {StateDetailCreated, StateSuccess},
	StateDetailCreated:  {StateSuccess},
	StateSuccess:        {StateIdle},
	StateFailed:         {StateIdle, StateValidating},
}

// CanTransition reports whether moving from one state to another is allowed.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state ends an attempt.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailed || s == StateRejected
}
