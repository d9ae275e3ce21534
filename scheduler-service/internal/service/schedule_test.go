package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScheduleOneShot(t *testing.T) {
	s, err := ParseSchedule("2026-03-10T08:45:00Z")
	require.NoError(t, err)
	assert.True(t, s.OneShot)
	assert.Equal(t, time.Date(2026, 3, 10, 8, 45, 0, 0, time.UTC), s.At)
}

func TestParseScheduleCron(t *testing.T) {
	s, err := ParseSchedule("0 9 * * 1")
	require.NoError(t, err)
	assert.False(t, s.OneShot)

	// Monday 09:00 after a Friday.
	now := time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC)
	next := s.NextFireTime(now)
	assert.Equal(t, time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC), next)
}

func TestParseScheduleEvery(t *testing.T) {
	s, err := ParseSchedule("@every 1h")
	require.NoError(t, err)
	assert.False(t, s.OneShot)

	now := time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(time.Hour), s.NextFireTime(now))
}

func TestParseScheduleRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "tomorrow", "99 99 * * *"} {
		_, err := ParseSchedule(raw)
		require.ErrorIs(t, err, ErrInvalidSchedule, "schedule %q", raw)
	}
}

func TestOneShotFireTimeIgnoresNow(t *testing.T) {
	// A one-shot registered late still fires once.
	s, err := ParseSchedule("2026-03-01T00:00:00Z")
	require.NoError(t, err)

	now := time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, s.At, s.NextFireTime(now))
}
