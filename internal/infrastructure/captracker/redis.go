package captracker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ringflow/call-auction-backend/internal/domain/rtb"
)

const capKeyPrefix = "rtb:cap:"

// redisTracker shares cap counters across auction-engine instances. The
// reserve path is a single Lua script so a race on the same millisecond
// cannot double-admit past the concurrency cap.
type redisTracker struct {
	client *redis.Client
	clock  rtb.Clock
	logger *zap.Logger
}

// NewRedisTracker creates a Redis-backed cap tracker
func NewRedisTracker(client *redis.Client, clock rtb.Clock, logger *zap.Logger) Tracker {
	if clock == nil {
		clock = rtb.RealClock{}
	}
	return &redisTracker{
		client: client,
		clock:  clock,
		logger: logger,
	}
}

// KEYS: conc, hour, day, month
// ARGV: maxConc, hourlyCap, dailyCap, monthlyCap, hourTTLms, dayTTLms, monthTTLms
var reserveScript = redis.NewScript(`
local maxconc = tonumber(ARGV[1])
local conc = tonumber(redis.call('GET', KEYS[1]) or '0')
if maxconc > 0 and conc >= maxconc then
  return 0
end
for i = 2, 4 do
  local cap = tonumber(ARGV[i])
  if cap > 0 then
    local cur = tonumber(redis.call('GET', KEYS[i]) or '0')
    if cur >= cap then
      return 0
    end
  end
end
redis.call('INCR', KEYS[1])
for i = 2, 4 do
  local c = redis.call('INCR', KEYS[i])
  if c == 1 then
    redis.call('PEXPIRE', KEYS[i], ARGV[i+3])
  end
end
return 1
`)

// KEYS: conc, hour, day, month
// ARGV[1]: 1 to return volume headroom (release), 0 to keep it (commit)
var settleScript = redis.NewScript(`
local conc = tonumber(redis.call('GET', KEYS[1]) or '0')
if conc > 0 then
  redis.call('DECR', KEYS[1])
end
if ARGV[1] == '1' then
  for i = 2, 4 do
    local cur = tonumber(redis.call('GET', KEYS[i]) or '0')
    if cur > 0 then
      redis.call('DECR', KEYS[i])
    end
  end
end
return 1
`)

func (t *redisTracker) TryReserve(ctx context.Context, target *rtb.Target) (*Reservation, error) {
	now := t.clock.Now()
	hour, day, month := bucketKeys(target, now)
	keys := t.keys(target.ID.String(), hour, day, month)

	loc := target.Location()
	argv := []interface{}{
		target.MaxConcurrentCalls,
		target.HourlyCap,
		target.DailyCap,
		target.MonthlyCap,
		strconv.FormatInt(bucketTTL(rtb.PeriodHour, now, loc).Milliseconds(), 10),
		strconv.FormatInt(bucketTTL(rtb.PeriodDay, now, loc).Milliseconds(), 10),
		strconv.FormatInt(bucketTTL(rtb.PeriodMonth, now, loc).Milliseconds(), 10),
	}

	admitted, err := reserveScript.Run(ctx, t.client, keys, argv...).Int()
	if err != nil {
		t.logger.Error("cap reserve script failed",
			zap.String("target_id", target.ID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("cap reserve failed: %w", err)
	}

	if admitted == 0 {
		t.logger.Debug("cap exceeded",
			zap.String("target_id", target.ID.String()),
			zap.Int("max_concurrent", target.MaxConcurrentCalls),
			zap.Int("hourly_cap", target.HourlyCap))
		return nil, ErrCapExceeded
	}

	return &Reservation{
		TargetID:    target.ID,
		ReservedAt:  now,
		hourBucket:  hour,
		dayBucket:   day,
		monthBucket: month,
	}, nil
}

func (t *redisTracker) Commit(ctx context.Context, res *Reservation) error {
	return t.settle(ctx, res, false)
}

func (t *redisTracker) Release(ctx context.Context, res *Reservation) error {
	return t.settle(ctx, res, true)
}

func (t *redisTracker) settle(ctx context.Context, res *Reservation, refund bool) error {
	if err := validateReservation(res); err != nil {
		return err
	}

	keys := t.keys(res.TargetID.String(), res.hourBucket, res.dayBucket, res.monthBucket)
	flag := "0"
	if refund {
		flag = "1"
	}

	if err := settleScript.Run(ctx, t.client, keys, flag).Err(); err != nil {
		t.logger.Error("cap settle script failed",
			zap.String("target_id", res.TargetID.String()),
			zap.Bool("refund", refund),
			zap.Error(err))
		return fmt.Errorf("cap settle failed: %w", err)
	}

	res.settled = true
	return nil
}

func (t *redisTracker) keys(targetID, hour, day, month string) []string {
	return []string{
		capKeyPrefix + "conc:" + targetID,
		capKeyPrefix + "hour:" + targetID + ":" + hour,
		capKeyPrefix + "day:" + targetID + ":" + day,
		capKeyPrefix + "month:" + targetID + ":" + month,
	}
}
