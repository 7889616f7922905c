package captracker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringflow/call-auction-backend/internal/domain/rtb"
	"github.com/ringflow/call-auction-backend/internal/domain/values"
	"github.com/ringflow/call-auction-backend/internal/testutil/fixtures"
)

func newCappedTarget(t *testing.T, maxConcurrent, hourly, daily, monthly int) *rtb.Target {
	t.Helper()
	return fixtures.NewTargetBuilder().
		WithName("cap-target").
		WithBidRange(1, 50, values.USD).
		WithConcurrency(maxConcurrent).
		WithCaps(hourly, daily, monthly).
		Build()
}

func TestMemoryTracker_ReserveCommitRelease(t *testing.T) {
	ctx := context.Background()
	clock := &rtb.MockClock{CurrentTime: time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)}
	tracker := NewMemoryTracker(clock)
	target := newCappedTarget(t, 2, 3, 0, 0)

	res1, err := tracker.TryReserve(ctx, target)
	require.NoError(t, err)
	res2, err := tracker.TryReserve(ctx, target)
	require.NoError(t, err)

	// Concurrency cap of 2 is full.
	_, err = tracker.TryReserve(ctx, target)
	assert.ErrorIs(t, err, ErrCapExceeded)

	// Releasing frees the slot and the volume headroom.
	require.NoError(t, tracker.Release(ctx, res1))
	res3, err := tracker.TryReserve(ctx, target)
	require.NoError(t, err)

	// Committing frees the slot but keeps the volume count.
	require.NoError(t, tracker.Commit(ctx, res2))
	require.NoError(t, tracker.Commit(ctx, res3))

	// Two commits consumed 2 of the hourly cap of 3; one slot remains.
	res4, err := tracker.TryReserve(ctx, target)
	require.NoError(t, err)
	_, err = tracker.TryReserve(ctx, target)
	assert.ErrorIs(t, err, ErrCapExceeded)

	require.NoError(t, tracker.Release(ctx, res4))
}

func TestMemoryTracker_DoubleSettleRejected(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryTracker(nil)
	target := newCappedTarget(t, 0, 0, 0, 0)

	res, err := tracker.TryReserve(ctx, target)
	require.NoError(t, err)

	require.NoError(t, tracker.Commit(ctx, res))
	assert.Error(t, tracker.Release(ctx, res))
	assert.Error(t, tracker.Commit(ctx, res))
}

func TestMemoryTracker_HourlyBucketResets(t *testing.T) {
	ctx := context.Background()
	clock := &rtb.MockClock{CurrentTime: time.Date(2026, 3, 10, 14, 59, 0, 0, time.UTC)}
	tracker := NewMemoryTracker(clock)
	target := newCappedTarget(t, 0, 1, 0, 0)

	res, err := tracker.TryReserve(ctx, target)
	require.NoError(t, err)
	require.NoError(t, tracker.Commit(ctx, res))

	_, err = tracker.TryReserve(ctx, target)
	assert.ErrorIs(t, err, ErrCapExceeded)

	// Next hour opens a fresh bucket.
	clock.Advance(2 * time.Minute)
	res2, err := tracker.TryReserve(ctx, target)
	require.NoError(t, err)

	// The reservation settles against the bucket active at reservation
	// time, so releasing it restores the new bucket, not the old one.
	require.NoError(t, tracker.Release(ctx, res2))
	res3, err := tracker.TryReserve(ctx, target)
	require.NoError(t, err)
	require.NoError(t, tracker.Commit(ctx, res3))
}

func TestMemoryTracker_ZeroCapsUnlimited(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryTracker(nil)
	target := newCappedTarget(t, 0, 0, 0, 0)

	for i := 0; i < 50; i++ {
		_, err := tracker.TryReserve(ctx, target)
		require.NoError(t, err)
	}
}

// Under N concurrent reservations for a target with k concurrency slots,
// at most k may be held at any instant.
func TestMemoryTracker_ConcurrentReserveStress(t *testing.T) {
	const (
		slots      = 5
		goroutines = 100
		rounds     = 50
	)

	ctx := context.Background()
	tracker := NewMemoryTracker(nil)
	target := newCappedTarget(t, slots, 0, 0, 0)

	var (
		inFlight atomic.Int64
		maxSeen  atomic.Int64
		granted  atomic.Int64
		wg       sync.WaitGroup
	)

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				res, err := tracker.TryReserve(ctx, target)
				if err != nil {
					continue
				}
				granted.Add(1)

				cur := inFlight.Add(1)
				for {
					prev := maxSeen.Load()
					if cur <= prev || maxSeen.CompareAndSwap(prev, cur) {
						break
					}
				}

				inFlight.Add(-1)
				_ = tracker.Release(ctx, res)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen.Load(), int64(slots),
		"observed %d concurrent reservations with only %d slots", maxSeen.Load(), slots)
	assert.Positive(t, granted.Load())
}
