package captracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ringflow/call-auction-backend/internal/domain/rtb"
)

// ErrCapExceeded reports that a target has no headroom. It is an
// eligibility signal, not a failure; callers exclude the target and move on.
var ErrCapExceeded = errors.New("cap exceeded")

// Tracker enforces per-target concurrency and volume caps across concurrent
// auctions. Every successful TryReserve must be paired with exactly one
// Commit or Release.
type Tracker interface {
	// TryReserve atomically claims a concurrency slot and provisional
	// volume-cap headroom for the target. Returns ErrCapExceeded when any
	// enabled cap has no room.
	TryReserve(ctx context.Context, target *rtb.Target) (*Reservation, error)

	// Commit frees the concurrency slot and counts the reservation toward
	// the hourly/daily/monthly totals.
	Commit(ctx context.Context, res *Reservation) error

	// Release frees the concurrency slot and returns the provisional volume
	// headroom without counting toward any total.
	Release(ctx context.Context, res *Reservation) error
}

// Reservation is the token handed back by TryReserve. Buckets are pinned at
// reservation time, so a reservation spanning a calendar boundary settles
// against the bucket that was active when it was made.
type Reservation struct {
	TargetID   uuid.UUID
	ReservedAt time.Time

	hourBucket  string
	dayBucket   string
	monthBucket string

	settled bool
}

// bucketKeys computes the calendar bucket identifiers for now in the
// target's timezone.
func bucketKeys(target *rtb.Target, now time.Time) (hour, day, month string) {
	local := now.In(target.Location())
	hour = local.Format("2006010215")
	day = local.Format("20060102")
	month = local.Format("200601")
	return hour, day, month
}

// bucketTTL returns how long a bucket counter must survive: time until the
// boundary plus a grace period for reservations that straddle it.
func bucketTTL(period rtb.CapPeriod, now time.Time, loc *time.Location) time.Duration {
	local := now.In(loc)
	var boundary time.Time
	switch period {
	case rtb.PeriodHour:
		boundary = local.Truncate(time.Hour).Add(time.Hour)
	case rtb.PeriodDay:
		y, m, d := local.Date()
		boundary = time.Date(y, m, d, 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	default:
		y, m, _ := local.Date()
		boundary = time.Date(y, m, 1, 0, 0, 0, 0, loc).AddDate(0, 1, 0)
	}
	return boundary.Sub(local) + time.Hour
}

func validateReservation(res *Reservation) error {
	if res == nil {
		return fmt.Errorf("nil reservation")
	}
	if res.settled {
		return fmt.Errorf("reservation for target %s already settled", res.TargetID)
	}
	return nil
}
