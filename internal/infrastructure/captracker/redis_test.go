package captracker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ringflow/call-auction-backend/internal/domain/rtb"
)

func newRedisTracker(t *testing.T, clock rtb.Clock) (Tracker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisTracker(client, clock, zap.NewNop()), mr
}

func TestRedisTracker_ReserveCommitRelease(t *testing.T) {
	ctx := context.Background()
	clock := &rtb.MockClock{CurrentTime: time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)}
	tracker, _ := newRedisTracker(t, clock)
	target := newCappedTarget(t, 1, 2, 0, 0)

	res1, err := tracker.TryReserve(ctx, target)
	require.NoError(t, err)

	// Single concurrency slot is held.
	_, err = tracker.TryReserve(ctx, target)
	assert.ErrorIs(t, err, ErrCapExceeded)

	require.NoError(t, tracker.Commit(ctx, res1))

	// Slot freed, one unit of the hourly cap consumed.
	res2, err := tracker.TryReserve(ctx, target)
	require.NoError(t, err)
	require.NoError(t, tracker.Commit(ctx, res2))

	// Hourly cap of 2 exhausted by the two commits.
	_, err = tracker.TryReserve(ctx, target)
	assert.ErrorIs(t, err, ErrCapExceeded)
}

func TestRedisTracker_ReleaseRefundsVolume(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newRedisTracker(t, nil)
	target := newCappedTarget(t, 0, 1, 1, 1)

	res, err := tracker.TryReserve(ctx, target)
	require.NoError(t, err)

	// Provisional headroom is consumed while the reservation is open.
	_, err = tracker.TryReserve(ctx, target)
	assert.ErrorIs(t, err, ErrCapExceeded)

	require.NoError(t, tracker.Release(ctx, res))

	// A released reservation never counts toward volume caps.
	res2, err := tracker.TryReserve(ctx, target)
	require.NoError(t, err)
	require.NoError(t, tracker.Commit(ctx, res2))
}

func TestRedisTracker_BucketKeysCarryTimezone(t *testing.T) {
	ctx := context.Background()
	clock := &rtb.MockClock{CurrentTime: time.Date(2026, 3, 10, 3, 30, 0, 0, time.UTC)}
	tracker, mr := newRedisTracker(t, clock)

	target := newCappedTarget(t, 0, 1, 0, 0)
	// 03:30 UTC on Mar 10 is 22:30 Mar 9 in New York; buckets must follow
	// the target's configured timezone.
	target.Time.Timezone = "America/New_York"

	res, err := tracker.TryReserve(ctx, target)
	require.NoError(t, err)
	require.NoError(t, tracker.Commit(ctx, res))

	hourKey := capKeyPrefix + "hour:" + target.ID.String() + ":2026030922"
	assert.True(t, mr.Exists(hourKey), "expected hour bucket %s", hourKey)
}

func TestRedisTracker_ConcurrentReserveStress(t *testing.T) {
	const (
		slots      = 3
		goroutines = 40
	)

	ctx := context.Background()
	tracker, _ := newRedisTracker(t, nil)
	target := newCappedTarget(t, slots, 0, 0, 0)

	var (
		held atomic.Int64
		wg   sync.WaitGroup
	)

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tracker.TryReserve(ctx, target); err == nil {
				held.Add(1)
			}
		}()
	}
	wg.Wait()

	// With nothing released, exactly the slot count may be admitted.
	assert.Equal(t, int64(slots), held.Load())
}
