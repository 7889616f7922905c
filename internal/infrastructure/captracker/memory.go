package captracker

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ringflow/call-auction-backend/internal/domain/rtb"
)

// memoryTracker is the in-process Tracker. All mutations happen under a
// single mutex per tracker; the critical sections are counter arithmetic
// only, never I/O.
type memoryTracker struct {
	clock rtb.Clock

	mu      sync.Mutex
	targets map[uuid.UUID]*targetCounters
}

type targetCounters struct {
	concurrent int
	// buckets counts committed + pending reservations per calendar bucket.
	// A release decrements; a commit leaves the count in place.
	buckets map[string]int
}

// NewMemoryTracker creates an in-process cap tracker
func NewMemoryTracker(clock rtb.Clock) Tracker {
	if clock == nil {
		clock = rtb.RealClock{}
	}
	return &memoryTracker{
		clock:   clock,
		targets: make(map[uuid.UUID]*targetCounters),
	}
}

func (t *memoryTracker) TryReserve(_ context.Context, target *rtb.Target) (*Reservation, error) {
	now := t.clock.Now()
	hour, day, month := bucketKeys(target, now)

	t.mu.Lock()
	defer t.mu.Unlock()

	counters, ok := t.targets[target.ID]
	if !ok {
		counters = &targetCounters{buckets: make(map[string]int)}
		t.targets[target.ID] = counters
	}

	if target.MaxConcurrentCalls > 0 && counters.concurrent >= target.MaxConcurrentCalls {
		return nil, ErrCapExceeded
	}
	if target.HourlyCap > 0 && counters.buckets[hour] >= target.HourlyCap {
		return nil, ErrCapExceeded
	}
	if target.DailyCap > 0 && counters.buckets[day] >= target.DailyCap {
		return nil, ErrCapExceeded
	}
	if target.MonthlyCap > 0 && counters.buckets[month] >= target.MonthlyCap {
		return nil, ErrCapExceeded
	}

	counters.concurrent++
	counters.buckets[hour]++
	counters.buckets[day]++
	counters.buckets[month]++

	return &Reservation{
		TargetID:    target.ID,
		ReservedAt:  now,
		hourBucket:  hour,
		dayBucket:   day,
		monthBucket: month,
	}, nil
}

func (t *memoryTracker) Commit(_ context.Context, res *Reservation) error {
	if err := validateReservation(res); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if counters, ok := t.targets[res.TargetID]; ok && counters.concurrent > 0 {
		counters.concurrent--
	}
	res.settled = true
	return nil
}

func (t *memoryTracker) Release(_ context.Context, res *Reservation) error {
	if err := validateReservation(res); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	counters, ok := t.targets[res.TargetID]
	if ok {
		if counters.concurrent > 0 {
			counters.concurrent--
		}
		for _, bucket := range []string{res.hourBucket, res.dayBucket, res.monthBucket} {
			if counters.buckets[bucket] > 0 {
				counters.buckets[bucket]--
			}
		}
	}
	res.settled = true
	return nil
}
