package rtb

import (
	"fmt"
	"strings"
	"time"
)

// GeoFilter restricts participation by the caller's state, zip code, or
// area code. Mode controls whether the primary lists admit or exclude on
// match; the Blocked* lists always exclude.
type GeoFilter struct {
	Enabled bool    `json:"enabled"`
	Mode    GeoMode `json:"mode"`

	States    []string `json:"states,omitempty"`
	ZipCodes  []string `json:"zip_codes,omitempty"`
	AreaCodes []string `json:"area_codes,omitempty"`

	BlockedStates    []string `json:"blocked_states,omitempty"`
	BlockedZipCodes  []string `json:"blocked_zip_codes,omitempty"`
	BlockedAreaCodes []string `json:"blocked_area_codes,omitempty"`
}

type GeoMode int

const (
	// GeoModeAllow admits callers matching the primary lists.
	GeoModeAllow GeoMode = iota
	// GeoModeBlock excludes callers matching the primary lists.
	GeoModeBlock
)

func (m GeoMode) String() string {
	if m == GeoModeBlock {
		return "block"
	}
	return "allow"
}

// ParseGeoMode converts a wire string to a GeoMode
func ParseGeoMode(s string) (GeoMode, error) {
	switch s {
	case "", "allow":
		return GeoModeAllow, nil
	case "block":
		return GeoModeBlock, nil
	default:
		return 0, fmt.Errorf("unknown geo mode: %s", s)
	}
}

// Admits reports whether the caller's location passes the filter
func (g GeoFilter) Admits(state, zip, areaCode string) bool {
	if !g.Enabled {
		return true
	}

	if containsFold(g.BlockedStates, state) ||
		containsFold(g.BlockedZipCodes, zip) ||
		containsFold(g.BlockedAreaCodes, areaCode) {
		return false
	}

	matched := containsFold(g.States, state) ||
		containsFold(g.ZipCodes, zip) ||
		containsFold(g.AreaCodes, areaCode)
	listed := len(g.States) > 0 || len(g.ZipCodes) > 0 || len(g.AreaCodes) > 0

	switch g.Mode {
	case GeoModeBlock:
		return !matched
	default:
		// Non-empty admit lists require a match.
		return !listed || matched
	}
}

// TimeFilter restricts participation to configured time windows, evaluated
// in the target's timezone.
type TimeFilter struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`

	AllowedWindows []TimeWindow `json:"allowed_windows,omitempty"`
	BlockedWindows []TimeWindow `json:"blocked_windows,omitempty"`
}

// TimeWindow is a daily interval with a weekday mask. Minutes are counted
// from midnight; a window with Start > End wraps past midnight.
type TimeWindow struct {
	StartMinute int            `json:"start_minute"`
	EndMinute   int            `json:"end_minute"`
	Days        []time.Weekday `json:"days,omitempty"` // empty = every day
}

// Contains reports whether t (already in the target's timezone) falls
// inside the window
func (w TimeWindow) Contains(t time.Time) bool {
	if len(w.Days) > 0 {
		day := t.Weekday()
		// A wrapping window that started yesterday still covers the early
		// minutes of today; check yesterday's mask for that case.
		minute := t.Hour()*60 + t.Minute()
		if w.StartMinute > w.EndMinute && minute < w.EndMinute {
			day = (day + 6) % 7
		}
		found := false
		for _, d := range w.Days {
			if d == day {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	minute := t.Hour()*60 + t.Minute()
	if w.StartMinute <= w.EndMinute {
		return minute >= w.StartMinute && minute < w.EndMinute
	}
	return minute >= w.StartMinute || minute < w.EndMinute
}

// Validate checks window bounds and the timezone name
func (f TimeFilter) Validate() error {
	if !f.Enabled {
		return nil
	}
	if f.Timezone != "" {
		if _, err := time.LoadLocation(f.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", f.Timezone, err)
		}
	}
	for _, w := range append(append([]TimeWindow{}, f.AllowedWindows...), f.BlockedWindows...) {
		if w.StartMinute < 0 || w.StartMinute >= 24*60 || w.EndMinute < 0 || w.EndMinute > 24*60 {
			return fmt.Errorf("time window minutes out of range: [%d, %d)", w.StartMinute, w.EndMinute)
		}
	}
	return nil
}

// Admits reports whether the instant passes the filter. The caller is
// responsible for converting t into the target's timezone.
func (f TimeFilter) Admits(t time.Time) bool {
	if !f.Enabled {
		return true
	}

	for _, w := range f.BlockedWindows {
		if w.Contains(t) {
			return false
		}
	}

	if len(f.AllowedWindows) == 0 {
		return true
	}
	for _, w := range f.AllowedWindows {
		if w.Contains(t) {
			return true
		}
	}
	return false
}

// DeviceFilter restricts participation by caller device type
type DeviceFilter struct {
	Enabled bool     `json:"enabled"`
	Allowed []string `json:"allowed,omitempty"`
	Blocked []string `json:"blocked,omitempty"`
}

// Admits reports whether the device type passes the filter
func (d DeviceFilter) Admits(deviceType string) bool {
	if !d.Enabled {
		return true
	}
	if containsFold(d.Blocked, deviceType) {
		return false
	}
	if len(d.Allowed) > 0 {
		return containsFold(d.Allowed, deviceType)
	}
	return true
}

// CallerHistoryPolicy caps how often a single caller may be sold to the
// same target within a rolling period. MaxCallsPerCaller of 0 disables
// the check.
type CallerHistoryPolicy struct {
	Enabled           bool      `json:"enabled"`
	MaxCallsPerCaller int       `json:"max_calls_per_caller"`
	Period            CapPeriod `json:"period"`
}

type CapPeriod int

const (
	PeriodHour CapPeriod = iota
	PeriodDay
	PeriodWeek
	PeriodMonth
)

func (p CapPeriod) String() string {
	switch p {
	case PeriodHour:
		return "hour"
	case PeriodDay:
		return "day"
	case PeriodWeek:
		return "week"
	case PeriodMonth:
		return "month"
	default:
		return "unknown"
	}
}

// ParseCapPeriod converts a wire string to a CapPeriod
func ParseCapPeriod(s string) (CapPeriod, error) {
	switch s {
	case "hour":
		return PeriodHour, nil
	case "", "day":
		return PeriodDay, nil
	case "week":
		return PeriodWeek, nil
	case "month":
		return PeriodMonth, nil
	default:
		return 0, fmt.Errorf("unknown cap period: %s", s)
	}
}

// Duration returns the rolling window the period represents
func (p CapPeriod) Duration() time.Duration {
	switch p {
	case PeriodHour:
		return time.Hour
	case PeriodWeek:
		return 7 * 24 * time.Hour
	case PeriodMonth:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
