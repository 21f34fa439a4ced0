// Package pricing resolves time-varying price previews for candidate slots.
package pricing

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pitchbook/internal/metrics"
	"pitchbook/internal/model"
	"pitchbook/internal/timeutil"
)

// PreviewFetcher requests a price breakdown from the backend.
type PreviewFetcher interface {
	PricingPreview(ctx context.Context, stadiumID int64, date, start, end string) (*model.PricingPreview, error)
}

// DefaultDebounce is how long the resolver waits for the user to stop editing
// before issuing a request.
const DefaultDebounce = 500 * time.Millisecond

// Query identifies one candidate interval to price.
type Query struct {
	StadiumID int64
	BasePrice float64
	Date      string
	Start     string
	End       string
}

// Resolver fetches previews debounced against rapid start/end edits. Only the
// latest request's result is applied; a response for a superseded interval is
// discarded.
type Resolver struct {
	fetch    PreviewFetcher
	log      zerolog.Logger
	debounce time.Duration

	mu    sync.Mutex
	gen   uint64
	timer *time.Timer
}

// NewResolver creates a Resolver over the fetcher.
func NewResolver(fetch PreviewFetcher, log zerolog.Logger) *Resolver {
	return &Resolver{fetch: fetch, log: log, debounce: DefaultDebounce}
}

// SetDebounce overrides the debounce window. Zero disables it.
func (r *Resolver) SetDebounce(d time.Duration) {
	r.mu.Lock()
	r.debounce = d
	r.mu.Unlock()
}

// Request schedules a debounced preview fetch for q. A newer Request for the
// same resolver cancels the pending timer and supersedes the in-flight
// result. apply runs with the preview on success, or with the flat-rate
// fallback (marked approximate) when the pricing service fails.
func (r *Resolver) Request(ctx context.Context, q Query, apply func(*model.PricingPreview)) {
	r.mu.Lock()
	r.gen++
	gen := r.gen
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	d := r.debounce
	r.mu.Unlock()

	run := func() {
		preview := r.resolve(ctx, gen, q)
		r.mu.Lock()
		stale := gen != r.gen
		r.mu.Unlock()
		if stale || ctx.Err() != nil {
			// The interval changed (or the caller left the flow) while this
			// request was in flight; drop the answer.
			return
		}
		apply(preview)
	}

	if d <= 0 {
		go run()
		return
	}

	r.mu.Lock()
	r.timer = time.AfterFunc(d, run)
	r.mu.Unlock()
}

// Resolve fetches a preview immediately, bypassing the debounce. Used at
// submission time when the final price must be pinned for the bill.
func (r *Resolver) Resolve(ctx context.Context, q Query) *model.PricingPreview {
	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.mu.Unlock()
	return r.resolve(ctx, gen, q)
}

func (r *Resolver) resolve(ctx context.Context, gen uint64, q Query) *model.PricingPreview {
	preview, err := r.fetch.PricingPreview(ctx, q.StadiumID, q.Date, q.Start, q.End)
	if err != nil || preview == nil {
		r.log.Warn().Err(err).
			Int64("stadium_id", q.StadiumID).
			Str("start", q.Start).
			Str("end", q.End).
			Msg("pricing service unavailable, using flat rate")
		metrics.IncPricingFallback()
		return Fallback(q.BasePrice, q.Start, q.End)
	}
	return preview
}

// Fallback computes the flat-rate estimate basePrice × durationHours. The
// result is marked approximate so the UI can flag the total as an estimate.
func Fallback(basePrice float64, start, end string) *model.PricingPreview {
	s, errS := timeutil.Parse(start)
	e, errE := timeutil.Parse(end)
	if errS != nil || errE != nil {
		return &model.PricingPreview{BasePrice: basePrice, Approximate: true}
	}

	hours := float64(timeutil.DurationMinutes(s, e)) / 60
	if hours < 0 {
		hours = 0
	}
	return &model.PricingPreview{
		BasePrice:         basePrice,
		TotalHours:        hours,
		TotalPrice:        basePrice * hours,
		AverageMultiplier: 1,
		Approximate:       true,
	}
}
