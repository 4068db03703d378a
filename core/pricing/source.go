// Package pricing exposes the day-ahead hourly price curve to the rest of
// the engine. Results are cached per calendar date, concurrent callers for
// the same uncached date share a single market fetch, and a failed fetch
// opens a bounded backoff window during which callers fail fast.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kmoreau/plugsched/core/logger"
	"github.com/kmoreau/plugsched/core/model"
)

// ErrUnavailable is returned while the source sits in its backoff window
// after a failed fetch.
var ErrUnavailable = errors.New("price source unavailable")

// Market fetches the published hourly price table for one calendar date.
type Market interface {
	FetchDay(ctx context.Context, date time.Time) (model.PriceCurve, error)
}

type fetchCall struct {
	done  chan struct{}
	curve model.PriceCurve
	err   error
}

// Source caches market fetches and tracks availability.
type Source struct {
	market  Market
	backoff time.Duration
	log     logger.Logger
	now     func() time.Time

	mu               sync.Mutex
	cache            map[string]model.PriceCurve
	inflight         map[string]*fetchCall
	unavailableUntil time.Time
}

// NewSource wraps the market with caching and backoff. A non-positive
// backoff defaults to 15 minutes.
func NewSource(market Market, backoff time.Duration, log logger.Logger) *Source {
	if backoff <= 0 {
		backoff = 15 * time.Minute
	}
	return &Source{
		market:   market,
		backoff:  backoff,
		log:      log,
		now:      time.Now,
		cache:    make(map[string]model.PriceCurve),
		inflight: make(map[string]*fetchCall),
	}
}

// Unavailable reports whether the source is inside its backoff window.
func (s *Source) Unavailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Before(s.unavailableUntil)
}

// Prices returns the curve for the given calendar date. At most one market
// fetch is in flight per date; concurrent callers wait for its result.
func (s *Source) Prices(ctx context.Context, date time.Time) (model.PriceCurve, error) {
	key := model.DayKey(date)

	s.mu.Lock()
	if curve, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return curve, nil
	}
	if s.now().Before(s.unavailableUntil) {
		until := s.unavailableUntil
		s.mu.Unlock()
		return nil, fmt.Errorf("%w until %s", ErrUnavailable, until.Format(time.RFC3339))
	}
	if call, ok := s.inflight[key]; ok {
		s.mu.Unlock()
		select {
		case <-call.done:
			return call.curve, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &fetchCall{done: make(chan struct{})}
	s.inflight[key] = call
	s.mu.Unlock()

	curve, err := s.market.FetchDay(ctx, date)
	if err == nil && len(curve) == 0 {
		err = fmt.Errorf("empty price curve for %s", key)
	}
	if err == nil {
		curve.Sort()
	}

	s.mu.Lock()
	delete(s.inflight, key)
	if err != nil {
		s.unavailableUntil = s.now().Add(s.backoff)
		s.log.Errorf("price fetch failed, backing off until %s: %v", s.unavailableUntil.Format(time.RFC3339), err)
	} else {
		s.cache[key] = curve
	}
	s.mu.Unlock()

	call.curve, call.err = curve, err
	close(call.done)
	return curve, err
}

// Invalidate drops the cached curve for a date, forcing the next caller to
// fetch again.
func (s *Source) Invalidate(date time.Time) {
	s.mu.Lock()
	delete(s.cache, model.DayKey(date))
	s.mu.Unlock()
}
