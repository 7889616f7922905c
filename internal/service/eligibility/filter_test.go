package eligibility

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringflow/call-auction-backend/internal/domain/auction"
	"github.com/ringflow/call-auction-backend/internal/domain/rtb"
	"github.com/ringflow/call-auction-backend/internal/infrastructure/captracker"
	"github.com/ringflow/call-auction-backend/internal/testutil/fixtures"
)

type stubHistory struct {
	counts map[uuid.UUID]int
	err    error
}

func (s *stubHistory) CountCallerCalls(_ context.Context, targetID uuid.UUID, _ string, _ time.Time) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.counts[targetID], nil
}

func newTestTarget(t *testing.T, name string) *rtb.Target {
	t.Helper()
	return fixtures.NewTargetBuilder().
		WithName(name).
		WithEndpoint("https://bidder.example.com/bid").
		Build()
}

func testCall() rtb.CallContext {
	return fixtures.NewCallBuilder().Build()
}

func TestFilter_RuleOrdering(t *testing.T) {
	ctx := context.Background()
	clock := &rtb.MockClock{CurrentTime: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)} // Tuesday

	tests := []struct {
		name       string
		mutate     func(*rtb.Target)
		history    *stubHistory
		wantReason string
	}{
		{
			name:       "inactive target",
			mutate:     func(tg *rtb.Target) { tg.IsActive = false },
			wantReason: auction.RejectTargetInactive,
		},
		{
			name: "blocked area code",
			mutate: func(tg *rtb.Target) {
				tg.Geo = rtb.GeoFilter{Enabled: true, BlockedAreaCodes: []string{"415"}}
			},
			wantReason: auction.RejectGeoFilter,
		},
		{
			name: "allow list without match",
			mutate: func(tg *rtb.Target) {
				tg.Geo = rtb.GeoFilter{Enabled: true, States: []string{"TX", "FL"}}
			},
			wantReason: auction.RejectGeoFilter,
		},
		{
			name: "block mode excludes on match",
			mutate: func(tg *rtb.Target) {
				tg.Geo = rtb.GeoFilter{Enabled: true, Mode: rtb.GeoModeBlock, States: []string{"CA"}}
			},
			wantReason: auction.RejectGeoFilter,
		},
		{
			name: "outside allowed time window",
			mutate: func(tg *rtb.Target) {
				tg.Time = rtb.TimeFilter{
					Enabled: true,
					AllowedWindows: []rtb.TimeWindow{
						{StartMinute: 9 * 60, EndMinute: 12 * 60},
					},
				}
			},
			wantReason: auction.RejectTimeFilter,
		},
		{
			name: "weekday mask excludes tuesday",
			mutate: func(tg *rtb.Target) {
				tg.Time = rtb.TimeFilter{
					Enabled: true,
					AllowedWindows: []rtb.TimeWindow{
						{StartMinute: 0, EndMinute: 24 * 60, Days: []time.Weekday{time.Saturday, time.Sunday}},
					},
				}
			},
			wantReason: auction.RejectTimeFilter,
		},
		{
			name: "blocked device type",
			mutate: func(tg *rtb.Target) {
				tg.Device = rtb.DeviceFilter{Enabled: true, Blocked: []string{"mobile"}}
			},
			wantReason: auction.RejectDeviceFilter,
		},
		{
			name: "caller history cap reached",
			mutate: func(tg *rtb.Target) {
				tg.CallerHistory = rtb.CallerHistoryPolicy{Enabled: true, MaxCallsPerCaller: 2, Period: rtb.PeriodDay}
			},
			history:    &stubHistory{counts: map[uuid.UUID]int{}},
			wantReason: auction.RejectCallerHistory,
		},
		{
			name: "caller history lookup failure excludes",
			mutate: func(tg *rtb.Target) {
				tg.CallerHistory = rtb.CallerHistoryPolicy{Enabled: true, MaxCallsPerCaller: 1, Period: rtb.PeriodDay}
			},
			history:    &stubHistory{err: errors.New("store down")},
			wantReason: auction.RejectHistoryUnknown,
		},
		{
			name: "blocked caller id",
			mutate: func(tg *rtb.Target) {
				tg.BlockedCallerIDs = []string{"+14155550100"}
			},
			wantReason: auction.RejectBlockedCallerID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := newTestTarget(t, "t1")
			tt.mutate(target)

			history := tt.history
			if history == nil {
				history = &stubHistory{}
			}
			if tt.wantReason == auction.RejectCallerHistory {
				history.counts = map[uuid.UUID]int{target.ID: 2}
			}

			f := NewFilter(captracker.NewMemoryTracker(clock), history, clock, nil)
			result, err := f.FilterTargets(ctx, []Candidate{{Target: target, Priority: 1}}, testCall())
			require.NoError(t, err)

			assert.Empty(t, result.Eligible)
			require.Len(t, result.Rejected, 1)
			assert.Equal(t, target.ID, result.Rejected[0].TargetID)
			assert.Equal(t, tt.wantReason, result.Rejected[0].Reason)
		})
	}
}

func TestFilter_CapExhaustedTargetExcluded(t *testing.T) {
	ctx := context.Background()
	clock := &rtb.MockClock{CurrentTime: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)}
	tracker := captracker.NewMemoryTracker(clock)

	target := newTestTarget(t, "capped")
	target.HourlyCap = 1

	// Exhaust the hourly cap with a committed reservation.
	res, err := tracker.TryReserve(ctx, target)
	require.NoError(t, err)
	require.NoError(t, tracker.Commit(ctx, res))

	f := NewFilter(tracker, &stubHistory{}, clock, nil)
	result, err := f.FilterTargets(ctx, []Candidate{{Target: target, Priority: 1}}, testCall())
	require.NoError(t, err)

	assert.Empty(t, result.Eligible)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, auction.RejectCapExceeded, result.Rejected[0].Reason)
}

func TestFilter_AdmitsAndOrdersByPriority(t *testing.T) {
	ctx := context.Background()
	clock := &rtb.MockClock{CurrentTime: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)}

	low := newTestTarget(t, "low-priority")
	high := newTestTarget(t, "high-priority")
	mid := newTestTarget(t, "mid-priority")

	f := NewFilter(captracker.NewMemoryTracker(clock), &stubHistory{}, clock, nil)
	result, err := f.FilterTargets(ctx, []Candidate{
		{Target: low, Priority: 30},
		{Target: high, Priority: 1},
		{Target: mid, Priority: 10},
	}, testCall())
	require.NoError(t, err)

	require.Len(t, result.Eligible, 3)
	assert.Equal(t, high.ID, result.Eligible[0].Target.ID)
	assert.Equal(t, mid.ID, result.Eligible[1].Target.ID)
	assert.Equal(t, low.ID, result.Eligible[2].Target.ID)
	for _, e := range result.Eligible {
		assert.NotNil(t, e.Reservation, "admitted target must hold a reservation")
	}
	assert.Empty(t, result.Rejected)
}

func TestFilter_HistoryCheckSkippedWhenDisabled(t *testing.T) {
	ctx := context.Background()
	clock := &rtb.MockClock{CurrentTime: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)}

	target := newTestTarget(t, "no-history")
	target.CallerHistory = rtb.CallerHistoryPolicy{Enabled: true, MaxCallsPerCaller: 0}

	// MaxCallsPerCaller of 0 disables the check entirely; the failing store
	// must never be consulted.
	f := NewFilter(captracker.NewMemoryTracker(clock), &stubHistory{err: errors.New("unreachable")}, clock, nil)
	result, err := f.FilterTargets(ctx, []Candidate{{Target: target, Priority: 1}}, testCall())
	require.NoError(t, err)

	assert.Len(t, result.Eligible, 1)
}
