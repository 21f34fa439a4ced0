// Package slots decides whether a candidate booking window is acceptable.
package slots

import (
	"fmt"
	"time"

	"pitchbook/internal/model"
	"pitchbook/internal/timeutil"
)

// RejectReason identifies which rule a candidate failed.
type RejectReason string

const (
	ReasonMissingTime    RejectReason = "missing or malformed time"
	ReasonOutsideHours   RejectReason = "outside operating hours"
	ReasonTooShort       RejectReason = "minimum duration not met"
	ReasonEndBeforeStart RejectReason = "end before start"
	ReasonOverlap        RejectReason = "time slot already booked"
	ReasonBuffer         RejectReason = "insufficient buffer between bookings"
	ReasonInPast         RejectReason = "time slot has already passed"
)

// Candidate is a proposed booking window as entered in the form.
type Candidate struct {
	Date  string
	Start string
	End   string
}

// Result is the outcome of validation. Conflict names the booked interval
// that caused an overlap or buffer rejection.
type Result struct {
	OK       bool
	Reason   RejectReason
	Message  string
	Conflict *model.BookingInterval
}

func ok() Result {
	return Result{OK: true}
}

func rejected(reason RejectReason, msg string) Result {
	if msg == "" {
		msg = string(reason)
	}
	return Result{Reason: reason, Message: msg}
}

func conflictResult(reason RejectReason, iv model.BookingInterval) Result {
	msg := fmt.Sprintf("%s (%s–%s)", reason, iv.Start, iv.End)
	return Result{Reason: reason, Message: msg, Conflict: &iv}
}

// Validator checks candidates against operating hours, duration and buffer
// rules, and the known booked intervals.
type Validator struct {
	// MinDurationMinutes is the shortest bookable window. Default 60.
	MinDurationMinutes int
	// BufferMinutes is the required turnover gap between adjacent bookings.
	// A gap of exactly BufferMinutes is allowed. Default 10.
	BufferMinutes int
}

// NewValidator returns a Validator with the standard rules.
func NewValidator() *Validator {
	return &Validator{MinDurationMinutes: 60, BufferMinutes: 10}
}

// Validate runs the checks in order; the first failing check wins.
func (v *Validator) Validate(c Candidate, booked []model.BookingInterval, hours model.OperatingHours) Result {
	if c.Start == "" || c.End == "" {
		return rejected(ReasonMissingTime, "")
	}
	start, err := timeutil.Parse(c.Start)
	if err != nil {
		return rejected(ReasonMissingTime, err.Error())
	}
	end, err := timeutil.Parse(c.End)
	if err != nil {
		return rejected(ReasonMissingTime, err.Error())
	}

	if start.Before(hours.Opening) || !start.Before(hours.Closing) || end.After(hours.Closing) {
		return rejected(ReasonOutsideHours,
			fmt.Sprintf("bookings are accepted between %s and %s", hours.Opening, hours.Closing))
	}

	if timeutil.DurationMinutes(start, end) < v.minDuration() {
		return rejected(ReasonTooShort,
			fmt.Sprintf("a booking must last at least %d minutes", v.minDuration()))
	}

	if !start.Before(end) {
		return rejected(ReasonEndBeforeStart, "")
	}

	for _, iv := range booked {
		if iv.Date != "" && iv.Date != c.Date {
			continue
		}
		if timeutil.Overlaps(start, end, iv.Start, iv.End) {
			return conflictResult(ReasonOverlap, iv)
		}
	}

	for _, iv := range booked {
		if iv.Date != "" && iv.Date != c.Date {
			continue
		}
		var gap int
		if !end.After(iv.Start) {
			gap = timeutil.GapMinutes(end, iv.Start)
		} else {
			gap = timeutil.GapMinutes(iv.End, start)
		}
		if gap < v.buffer() {
			return conflictResult(ReasonBuffer, iv)
		}
	}

	return ok()
}

// CheckAvailability is the authoritative re-check run immediately before
// submission. On top of Validate it rejects candidates whose end time has
// already passed relative to now.
func (v *Validator) CheckAvailability(c Candidate, booked []model.BookingInterval, hours model.OperatingHours, now time.Time) Result {
	res := v.Validate(c, booked, hours)
	if !res.OK {
		return res
	}

	date, err := timeutil.ParseDate(c.Date, now.Location())
	if err != nil {
		return rejected(ReasonMissingTime, err.Error())
	}
	end, _ := timeutil.Parse(c.End)
	if !end.On(date, now.Location()).After(now) {
		return rejected(ReasonInPast, "")
	}

	return ok()
}

func (v *Validator) minDuration() int {
	if v.MinDurationMinutes <= 0 {
		return 60
	}
	return v.MinDurationMinutes
}

func (v *Validator) buffer() int {
	if v.BufferMinutes <= 0 {
		return 10
	}
	return v.BufferMinutes
}
