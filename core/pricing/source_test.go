package pricing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmoreau/plugsched/core/model"
	"github.com/kmoreau/plugsched/infra/logger"
)

type fakeMarket struct {
	mu    sync.Mutex
	calls int32
	curve model.PriceCurve
	err   error
	block chan struct{}
}

func (f *fakeMarket) FetchDay(ctx context.Context, date time.Time) (model.PriceCurve, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.curve, f.err
}

func TestPricesCachedPerDate(t *testing.T) {
	m := &fakeMarket{curve: model.PriceCurve{{Hour: 0, Price: 0.1}}}
	s := NewSource(m, time.Minute, logger.NopLogger{})
	date := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		curve, err := s.Prices(context.Background(), date)
		require.NoError(t, err)
		require.Len(t, curve, 1)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&m.calls))
}

func TestPricesSingleFlight(t *testing.T) {
	m := &fakeMarket{curve: model.PriceCurve{{Hour: 0, Price: 0.1}}, block: make(chan struct{})}
	s := NewSource(m, time.Minute, logger.NopLogger{})
	date := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Prices(context.Background(), date)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(m.block)
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&m.calls))
}

func TestPricesBackoffAfterFailure(t *testing.T) {
	m := &fakeMarket{err: errors.New("boom")}
	s := NewSource(m, 15*time.Minute, logger.NopLogger{})
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	date := now

	_, err := s.Prices(context.Background(), date)
	require.Error(t, err)
	assert.True(t, s.Unavailable())

	// Fails fast during the backoff window, without a second fetch.
	_, err = s.Prices(context.Background(), date)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(1), atomic.LoadInt32(&m.calls))

	// Once the window expires a new attempt is allowed.
	now = now.Add(16 * time.Minute)
	m.mu.Lock()
	m.err = nil
	m.curve = model.PriceCurve{{Hour: 1, Price: 0.2}}
	m.mu.Unlock()
	curve, err := s.Prices(context.Background(), date)
	require.NoError(t, err)
	assert.False(t, s.Unavailable())
	assert.Len(t, curve, 1)
}

func TestInvalidateForcesRefetch(t *testing.T) {
	m := &fakeMarket{curve: model.PriceCurve{{Hour: 0, Price: 0.1}}}
	s := NewSource(m, time.Minute, logger.NopLogger{})
	date := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	_, err := s.Prices(context.Background(), date)
	require.NoError(t, err)
	s.Invalidate(date)
	_, err = s.Prices(context.Background(), date)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&m.calls))
}
