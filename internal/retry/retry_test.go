package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoFirstTrySucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRecoversAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 4, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("upstream hiccup")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	boom := errors.New("still down")
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestDoPermanentStopsImmediately(t *testing.T) {
	calls := 0
	denied := errors.New("403 from upstream")
	err := Do(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return Permanent(denied)
	})
	// The wrapper is stripped before returning.
	assert.Equal(t, denied, err)
	assert.Equal(t, 1, calls)
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Do(ctx, 10, time.Second, func() error {
		calls++
		cancel()
		return errors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoClampsAttemptsToOne(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 0, time.Millisecond, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackoffGrowsWithinJitterBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for attempt := 1; attempt <= 4; attempt++ {
		expected := base << (attempt - 1)
		lo := expected - expected/4
		hi := expected + expected/4
		for i := 0; i < 50; i++ {
			d := backoff(base, attempt)
			assert.GreaterOrEqual(t, d, lo, "attempt %d", attempt)
			assert.LessOrEqual(t, d, hi, "attempt %d", attempt)
		}
	}
}

func TestPermanentUnwraps(t *testing.T) {
	inner := errors.New("inner")
	assert.ErrorIs(t, Permanent(inner), inner)
}
