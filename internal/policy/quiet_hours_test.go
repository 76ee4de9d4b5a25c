package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chicagoTime(t *testing.T, hour, minute int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	return time.Date(2026, 3, 10, hour, minute, 0, 0, loc)
}

func TestParseQuietHoursRejectsGarbage(t *testing.T) {
	cases := []struct {
		window   string
		timezone string
	}{
		{"20:00", "America/Chicago"},
		{"25:00-07:00", "America/Chicago"},
		{"20:00-07:61", "America/Chicago"},
		{"20:00-07:00", "Not/AZone"},
		{"", "America/Chicago"},
	}

	for _, c := range cases {
		_, err := ParseQuietHours(c.window, c.timezone)
		assert.Error(t, err, "window %q tz %q", c.window, c.timezone)
	}
}

func TestQuietHoursMidnightWrap(t *testing.T) {
	q, err := ParseQuietHours("20:00-07:00", "America/Chicago")
	require.NoError(t, err)

	assert.True(t, q.Contains(chicagoTime(t, 22, 0)))
	assert.True(t, q.Contains(chicagoTime(t, 2, 30)))
	assert.True(t, q.Contains(chicagoTime(t, 20, 0)), "window start is inside")
	assert.False(t, q.Contains(chicagoTime(t, 7, 0)), "window end is outside")
	assert.False(t, q.Contains(chicagoTime(t, 12, 0)))
	assert.False(t, q.Contains(chicagoTime(t, 19, 59)))
}

func TestQuietHoursSameDayWindow(t *testing.T) {
	q, err := ParseQuietHours("12:00-13:00", "America/Chicago")
	require.NoError(t, err)

	assert.True(t, q.Contains(chicagoTime(t, 12, 30)))
	assert.False(t, q.Contains(chicagoTime(t, 13, 0)))
	assert.False(t, q.Contains(chicagoTime(t, 11, 59)))
}

func TestQuietHoursEmptyWindow(t *testing.T) {
	q, err := ParseQuietHours("09:00-09:00", "America/Chicago")
	require.NoError(t, err)

	// Start == end means no quiet window at all.
	assert.False(t, q.Contains(chicagoTime(t, 9, 0)))
	assert.False(t, q.Contains(chicagoTime(t, 23, 0)))
}

func TestNextOpen(t *testing.T) {
	q, err := ParseQuietHours("20:00-07:00", "America/Chicago")
	require.NoError(t, err)

	// Outside the window: unchanged.
	noon := chicagoTime(t, 12, 0)
	assert.Equal(t, noon, q.NextOpen(noon))

	// Before midnight: resumes at 07:00 the next day.
	evening := chicagoTime(t, 22, 0)
	resume := q.NextOpen(evening)
	assert.False(t, q.Contains(resume))
	assert.Equal(t, 7, resume.Hour())
	assert.Equal(t, evening.Day()+1, resume.Day())

	// After midnight: resumes at 07:00 the same day.
	early := chicagoTime(t, 3, 0)
	resume = q.NextOpen(early)
	assert.Equal(t, 7, resume.Hour())
	assert.Equal(t, early.Day(), resume.Day())
}

func TestNextOpenInUTCInput(t *testing.T) {
	q, err := ParseQuietHours("20:00-07:00", "America/Chicago")
	require.NoError(t, err)

	// 04:00 UTC is 22:00 or 23:00 in Chicago depending on DST, inside either way.
	utc := time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC)
	assert.True(t, q.Contains(utc))
	assert.True(t, q.NextOpen(utc).After(utc))
}
