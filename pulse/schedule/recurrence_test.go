package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextTime(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		from    time.Time
		pattern Pattern
		want    time.Time
	}{
		{"hourly", base, PatternHourly, base.Add(time.Hour)},
		{"daily", base, PatternDaily, time.Date(2026, 3, 11, 9, 30, 0, 0, time.UTC)},
		{"weekly", base, PatternWeekly, time.Date(2026, 3, 17, 9, 30, 0, 0, time.UTC)},
		{"monthly", base, PatternMonthly, time.Date(2026, 4, 10, 9, 30, 0, 0, time.UTC)},
		{"monthly clamps to february", time.Date(2026, 1, 31, 8, 0, 0, 0, time.UTC), PatternMonthly, time.Date(2026, 2, 28, 8, 0, 0, 0, time.UTC)},
		{"monthly clamps to leap february", time.Date(2028, 1, 31, 8, 0, 0, 0, time.UTC), PatternMonthly, time.Date(2028, 2, 29, 8, 0, 0, 0, time.UTC)},
		{"monthly clamps to 30 day month", time.Date(2026, 3, 31, 8, 0, 0, 0, time.UTC), PatternMonthly, time.Date(2026, 4, 30, 8, 0, 0, 0, time.UTC)},
		{"monthly crosses year", time.Date(2026, 12, 15, 23, 0, 0, 0, time.UTC), PatternMonthly, time.Date(2027, 1, 15, 23, 0, 0, 0, time.UTC)},
		{"monthly december 31", time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), PatternMonthly, time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextTime(tt.from, tt.pattern)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestNextTime_AlwaysAdvances(t *testing.T) {
	from := time.Date(2026, 5, 31, 12, 0, 0, 0, time.UTC)
	for _, p := range []Pattern{PatternHourly, PatternDaily, PatternWeekly, PatternMonthly} {
		assert.True(t, NextTime(from, p).After(from), string(p))
	}
}

func TestNextTime_KeepsSubSecondPrecision(t *testing.T) {
	from := time.Date(2026, 1, 31, 8, 0, 0, 123456789, time.UTC)
	assert.Equal(t, 123456789, NextTime(from, PatternMonthly).Nanosecond())
}
