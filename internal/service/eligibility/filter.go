package eligibility

import (
	"context"
	"log/slog"
	"sort"

	"github.com/ringflow/call-auction-backend/internal/domain/auction"
	"github.com/ringflow/call-auction-backend/internal/domain/rtb"
	"github.com/ringflow/call-auction-backend/internal/infrastructure/captracker"
)

// filter implements the Filter interface. Rules run in a fixed order and
// the first failing rule excludes the target; capacity is checked last so
// filtered targets never touch the cap tracker.
type filter struct {
	caps    captracker.Tracker
	history CallerHistoryStore
	clock   rtb.Clock
	logger  *slog.Logger
}

// NewFilter creates the eligibility filter
func NewFilter(caps captracker.Tracker, history CallerHistoryStore, clock rtb.Clock, logger *slog.Logger) Filter {
	if clock == nil {
		clock = rtb.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &filter{
		caps:    caps,
		history: history,
		clock:   clock,
		logger:  logger,
	}
}

func (f *filter) FilterTargets(ctx context.Context, candidates []Candidate, call rtb.CallContext) (*Result, error) {
	result := &Result{}

	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	for _, cand := range ordered {
		target := cand.Target

		reason, err := f.screen(ctx, target, call)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			f.logger.DebugContext(ctx, "target excluded",
				"target_id", target.ID,
				"call_id", call.CallID,
				"reason", reason,
			)
			result.Rejected = append(result.Rejected, auction.TargetRejection{
				TargetID: target.ID,
				Reason:   reason,
			})
			continue
		}

		// Capacity last: the reservation is handed to the dispatcher.
		res, err := f.caps.TryReserve(ctx, target)
		if err == captracker.ErrCapExceeded {
			result.Rejected = append(result.Rejected, auction.TargetRejection{
				TargetID: target.ID,
				Reason:   auction.RejectCapExceeded,
			})
			continue
		}
		if err != nil {
			return nil, err
		}

		result.Eligible = append(result.Eligible, EligibleTarget{
			Target:      target,
			Priority:    cand.Priority,
			Reservation: res,
		})
	}

	return result, nil
}

// screen applies the non-capacity rules; an empty reason means admitted
func (f *filter) screen(ctx context.Context, target *rtb.Target, call rtb.CallContext) (string, error) {
	if !target.IsActive {
		return auction.RejectTargetInactive, nil
	}

	if !target.Geo.Admits(call.State, call.ZipCode, call.EffectiveAreaCode()) {
		return auction.RejectGeoFilter, nil
	}

	if !target.Time.Admits(f.clock.Now().In(target.Location())) {
		return auction.RejectTimeFilter, nil
	}

	if !target.Device.Admits(call.DeviceType) {
		return auction.RejectDeviceFilter, nil
	}

	if target.CallerHistory.Enabled && target.CallerHistory.MaxCallsPerCaller > 0 {
		since := f.clock.Now().Add(-target.CallerHistory.Period.Duration())
		count, err := f.history.CountCallerCalls(ctx, target.ID, call.CallerID, since)
		if err != nil {
			// A target is not sold a repeat caller we cannot verify.
			f.logger.WarnContext(ctx, "caller history lookup failed",
				"target_id", target.ID,
				"error", err,
			)
			return auction.RejectHistoryUnknown, nil
		}
		if count >= target.CallerHistory.MaxCallsPerCaller {
			return auction.RejectCallerHistory, nil
		}
	}

	for _, blocked := range target.BlockedCallerIDs {
		if blocked == call.CallerID {
			return auction.RejectBlockedCallerID, nil
		}
	}

	return "", nil
}
