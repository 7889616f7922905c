package rtb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeoFilter_Admits(t *testing.T) {
	tests := []struct {
		name   string
		filter GeoFilter
		state  string
		zip    string
		area   string
		want   bool
	}{
		{
			name: "disabled admits everything",
			filter: GeoFilter{
				Enabled: false,
				States:  []string{"TX"},
			},
			state: "CA",
			want:  true,
		},
		{
			name: "allow mode matches listed state",
			filter: GeoFilter{
				Enabled: true,
				Mode:    GeoModeAllow,
				States:  []string{"CA", "NY"},
			},
			state: "CA",
			want:  true,
		},
		{
			name: "allow mode rejects unlisted state",
			filter: GeoFilter{
				Enabled: true,
				Mode:    GeoModeAllow,
				States:  []string{"CA", "NY"},
			},
			state: "TX",
			want:  false,
		},
		{
			name: "state matching is case insensitive",
			filter: GeoFilter{
				Enabled: true,
				Mode:    GeoModeAllow,
				States:  []string{"CA"},
			},
			state: "ca",
			want:  true,
		},
		{
			name: "block mode rejects listed area code",
			filter: GeoFilter{
				Enabled:   true,
				Mode:      GeoModeBlock,
				AreaCodes: []string{"900"},
			},
			area: "900",
			want: false,
		},
		{
			name: "block mode admits unlisted caller",
			filter: GeoFilter{
				Enabled:   true,
				Mode:      GeoModeBlock,
				AreaCodes: []string{"900"},
			},
			area: "415",
			want: true,
		},
		{
			name: "blocked list overrides allow match",
			filter: GeoFilter{
				Enabled:       true,
				Mode:          GeoModeAllow,
				States:        []string{"CA"},
				BlockedStates: []string{"CA"},
			},
			state: "CA",
			want:  false,
		},
		{
			name: "allow mode with empty lists admits",
			filter: GeoFilter{
				Enabled: true,
				Mode:    GeoModeAllow,
			},
			state: "CA",
			want:  true,
		},
		{
			name: "zip match admits",
			filter: GeoFilter{
				Enabled:  true,
				Mode:     GeoModeAllow,
				ZipCodes: []string{"94105"},
			},
			zip:  "94105",
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Admits(tt.state, tt.zip, tt.area))
		})
	}
}

func TestTimeWindow_Contains(t *testing.T) {
	// Wednesday 2025-06-11.
	at := func(hour, minute int) time.Time {
		return time.Date(2025, 6, 11, hour, minute, 0, 0, time.UTC)
	}

	t.Run("plain window", func(t *testing.T) {
		w := TimeWindow{StartMinute: 9 * 60, EndMinute: 17 * 60}
		assert.True(t, w.Contains(at(9, 0)))
		assert.True(t, w.Contains(at(12, 30)))
		assert.False(t, w.Contains(at(17, 0)))
		assert.False(t, w.Contains(at(8, 59)))
	})

	t.Run("window wrapping past midnight", func(t *testing.T) {
		w := TimeWindow{StartMinute: 22 * 60, EndMinute: 2 * 60}
		assert.True(t, w.Contains(at(23, 0)))
		assert.True(t, w.Contains(at(1, 59)))
		assert.False(t, w.Contains(at(2, 0)))
		assert.False(t, w.Contains(at(12, 0)))
	})

	t.Run("weekday mask", func(t *testing.T) {
		w := TimeWindow{
			StartMinute: 9 * 60,
			EndMinute:   17 * 60,
			Days:        []time.Weekday{time.Monday, time.Tuesday},
		}
		assert.False(t, w.Contains(at(10, 0))) // Wednesday
		monday := time.Date(2025, 6, 9, 10, 0, 0, 0, time.UTC)
		assert.True(t, w.Contains(monday))
	})

	t.Run("wrapping window checks yesterdays mask after midnight", func(t *testing.T) {
		w := TimeWindow{
			StartMinute: 22 * 60,
			EndMinute:   2 * 60,
			Days:        []time.Weekday{time.Tuesday},
		}
		// Early Wednesday still belongs to Tuesday's late window.
		assert.True(t, w.Contains(at(1, 0)))
		assert.False(t, w.Contains(at(23, 0)))
	})
}

func TestTimeFilter_Admits(t *testing.T) {
	business := TimeFilter{
		Enabled: true,
		AllowedWindows: []TimeWindow{
			{StartMinute: 9 * 60, EndMinute: 17 * 60},
		},
	}

	// Admits expects the instant already converted to the target's timezone.
	assert.True(t, business.Admits(time.Date(2025, 6, 11, 14, 0, 0, 0, time.UTC)))
	assert.False(t, business.Admits(time.Date(2025, 6, 11, 22, 0, 0, 0, time.UTC)))

	t.Run("blocked window wins over allowed", func(t *testing.T) {
		f := TimeFilter{
			Enabled: true,
			AllowedWindows: []TimeWindow{
				{StartMinute: 0, EndMinute: 1440},
			},
			BlockedWindows: []TimeWindow{
				{StartMinute: 12 * 60, EndMinute: 13 * 60},
			},
		}
		assert.False(t, f.Admits(time.Date(2025, 6, 11, 12, 30, 0, 0, time.UTC)))
		assert.True(t, f.Admits(time.Date(2025, 6, 11, 14, 0, 0, 0, time.UTC)))
	})

	t.Run("disabled admits any time", func(t *testing.T) {
		f := TimeFilter{Enabled: false}
		assert.True(t, f.Admits(time.Date(2025, 6, 11, 3, 0, 0, 0, time.UTC)))
	})
}

func TestDeviceFilter_Admits(t *testing.T) {
	f := DeviceFilter{
		Enabled: true,
		Allowed: []string{"mobile", "landline"},
		Blocked: []string{"voip"},
	}

	assert.True(t, f.Admits("mobile"))
	assert.True(t, f.Admits("Mobile"))
	assert.False(t, f.Admits("voip"))
	assert.False(t, f.Admits("satellite"))

	blockOnly := DeviceFilter{Enabled: true, Blocked: []string{"voip"}}
	assert.True(t, blockOnly.Admits("anything"))
	assert.False(t, blockOnly.Admits("voip"))
}

func TestCapPeriod_RoundTrip(t *testing.T) {
	for _, period := range []CapPeriod{PeriodHour, PeriodDay, PeriodWeek, PeriodMonth} {
		parsed, err := ParseCapPeriod(period.String())
		require.NoError(t, err)
		assert.Equal(t, period, parsed)
	}

	_, err := ParseCapPeriod("fortnight")
	assert.Error(t, err)
}

func TestCapPeriod_Duration(t *testing.T) {
	assert.Equal(t, time.Hour, PeriodHour.Duration())
	assert.Equal(t, 24*time.Hour, PeriodDay.Duration())
	assert.Equal(t, 7*24*time.Hour, PeriodWeek.Duration())
	assert.Equal(t, 30*24*time.Hour, PeriodMonth.Duration())
}
