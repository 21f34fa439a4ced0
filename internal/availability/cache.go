// Package availability caches already-booked intervals per stadium and date.
//
// The cache is scoped to one browsing session of one stadium detail flow. It
// guarantees at most one in-flight backend request per (stadium, date) key,
// and spaces consecutive network fetches so rapid date switching does not
// hammer the backend.
package availability

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pitchbook/internal/apperr"
	"pitchbook/internal/metrics"
	"pitchbook/internal/model"
)

// Fetcher loads booked intervals from the backend.
type Fetcher interface {
	BookedIntervals(ctx context.Context, stadiumID int64, date string) ([]model.BookingInterval, error)
}

// DefaultMinFetchGap spaces consecutive network fetches.
const DefaultMinFetchGap = 300 * time.Millisecond

type key struct {
	stadiumID int64
	date      string
}

type entry struct {
	done     chan struct{}
	blocking []model.BookingInterval
	raw      []model.BookingInterval
	err      error
}

// Cache is a per-session availability store.
type Cache struct {
	fetch  Fetcher
	log    zerolog.Logger
	warn   func(reason string)
	minGap time.Duration
	sleep  func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	entries   map[key]*entry
	lastFetch time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithWarning registers a callback for user-visible degradation warnings
// ("could not verify conflicts").
func WithWarning(fn func(reason string)) Option {
	return func(c *Cache) { c.warn = fn }
}

// WithMinFetchGap overrides the spacing between network fetches.
func WithMinFetchGap(gap time.Duration) Option {
	return func(c *Cache) { c.minGap = gap }
}

// New creates a Cache over the given fetcher.
func New(fetch Fetcher, log zerolog.Logger, opts ...Option) *Cache {
	c := &Cache{
		fetch:   fetch,
		log:     log,
		minGap:  DefaultMinFetchGap,
		entries: make(map[key]*entry),
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetBookedIntervals returns the blocking intervals (PENDING or CONFIRMED)
// for a stadium on a date. The first caller for a key issues one backend
// request; concurrent callers for the same key await its result.
//
// Fetch failures fail open: the caller gets an empty list and a warning is
// surfaced, so the flow degrades to "no known conflicts" instead of blocking.
// The backend re-validates on submission either way.
func (c *Cache) GetBookedIntervals(ctx context.Context, stadiumID int64, date string) ([]model.BookingInterval, error) {
	k := key{stadiumID: stadiumID, date: date}

	c.mu.Lock()
	if e, ok := c.entries[k]; ok {
		c.mu.Unlock()
		metrics.IncAvailabilityLookup("hit")
		select {
		case <-e.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return e.blocking, e.err
	}

	e := &entry{done: make(chan struct{})}
	c.entries[k] = e
	wait := c.minGap - time.Since(c.lastFetch)
	if wait < 0 {
		wait = 0
	}
	c.lastFetch = time.Now().Add(wait)
	c.mu.Unlock()

	metrics.IncAvailabilityLookup("miss")
	defer close(e.done)

	if err := c.sleep(ctx, wait); err != nil {
		c.evict(k)
		e.err = err
		return nil, err
	}

	raw, err := c.fetch.BookedIntervals(ctx, stadiumID, date)
	if err != nil {
		// Do not cache failures as an authoritative empty day; a later
		// call retries. Waiters parked on this entry must see the same
		// outcome as the leader, so record it before done closes.
		c.evict(k)
		e.blocking, e.err = c.failOpen(stadiumID, date, err)
		return e.blocking, e.err
	}

	e.raw = raw
	for _, iv := range raw {
		if iv.Status.Blocks() {
			e.blocking = append(e.blocking, iv)
		}
	}
	return e.blocking, nil
}

func (c *Cache) failOpen(stadiumID int64, date string, err error) ([]model.BookingInterval, error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	reason := "could not verify existing bookings"
	switch {
	case apperr.IsPermission(err), apperr.IsAuthExpired(err):
		reason = "could not verify existing bookings (not authorized)"
	}

	c.log.Warn().Err(err).
		Int64("stadium_id", stadiumID).
		Str("date", date).
		Msg("availability fetch failed, continuing with no known conflicts")
	metrics.IncAvailabilityFailOpen()
	if c.warn != nil {
		c.warn(reason)
	}
	return nil, nil
}

func (c *Cache) evict(k key) {
	c.mu.Lock()
	delete(c.entries, k)
	c.mu.Unlock()
}

// RawIntervals returns the unfiltered cached response for a key, if present.
func (c *Cache) RawIntervals(stadiumID int64, date string) ([]model.BookingInterval, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key{stadiumID: stadiumID, date: date}]
	if !ok {
		return nil, false
	}
	select {
	case <-e.done:
		return e.raw, true
	default:
		return nil, false
	}
}

// Invalidate drops the cached value for a key. Called after a booking is
// created so the next read sees the new reservation.
func (c *Cache) Invalidate(stadiumID int64, date string) {
	c.evict(key{stadiumID: stadiumID, date: date})
}

// Clear drops the whole cache, e.g. when the user leaves the stadium page.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[key]*entry)
	c.mu.Unlock()
}
