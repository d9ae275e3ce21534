package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 14, 0, 0, 0, time.UTC)
}

func TestNextDueDate(t *testing.T) {
	tests := []struct {
		name      string
		due       time.Time
		frequency string
		interval  int
		want      time.Time
	}{
		{
			name:      "daily single step",
			due:       date(2026, time.February, 10),
			frequency: FrequencyDaily,
			interval:  1,
			want:      date(2026, time.February, 11),
		},
		{
			name:      "daily multi step crosses month",
			due:       date(2026, time.January, 30),
			frequency: FrequencyDaily,
			interval:  5,
			want:      date(2026, time.February, 4),
		},
		{
			name:      "weekly",
			due:       date(2026, time.March, 2),
			frequency: FrequencyWeekly,
			interval:  2,
			want:      date(2026, time.March, 16),
		},
		{
			name:      "monthly clamps jan 31 to feb 28",
			due:       date(2026, time.January, 31),
			frequency: FrequencyMonthly,
			interval:  1,
			want:      date(2026, time.February, 28),
		},
		{
			name:      "monthly keeps jan 29 in leap year",
			due:       date(2024, time.January, 29),
			frequency: FrequencyMonthly,
			interval:  1,
			want:      date(2024, time.February, 29),
		},
		{
			name:      "monthly clamps jan 31 to feb 29 in leap year",
			due:       date(2024, time.January, 31),
			frequency: FrequencyMonthly,
			interval:  1,
			want:      date(2024, time.February, 29),
		},
		{
			name:      "monthly year rollover",
			due:       date(2026, time.November, 15),
			frequency: FrequencyMonthly,
			interval:  3,
			want:      date(2027, time.February, 15),
		},
		{
			name:      "monthly 31st to 30-day month",
			due:       date(2026, time.March, 31),
			frequency: FrequencyMonthly,
			interval:  1,
			want:      date(2026, time.April, 30),
		},
		{
			name:      "yearly feb 29 to non-leap feb 28",
			due:       date(2024, time.February, 29),
			frequency: FrequencyYearly,
			interval:  1,
			want:      date(2025, time.February, 28),
		},
		{
			name:      "yearly feb 29 to leap year keeps feb 29",
			due:       date(2024, time.February, 29),
			frequency: FrequencyYearly,
			interval:  4,
			want:      date(2028, time.February, 29),
		},
		{
			name:      "yearly century non-leap (2100)",
			due:       date(2096, time.February, 29),
			frequency: FrequencyYearly,
			interval:  4,
			want:      date(2100, time.February, 28),
		},
		{
			name:      "yearly plain date",
			due:       date(2026, time.June, 15),
			frequency: FrequencyYearly,
			interval:  2,
			want:      date(2028, time.June, 15),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextDueDate(tt.due, tt.frequency, tt.interval)
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)
		})
	}
}

func TestNextDueDatePreservesClockTime(t *testing.T) {
	due := time.Date(2026, time.January, 31, 9, 30, 15, 0, time.UTC)
	got, err := NextDueDate(due, FrequencyMonthly, 1)
	require.NoError(t, err)
	assert.Equal(t, 9, got.Hour())
	assert.Equal(t, 30, got.Minute())
	assert.Equal(t, 15, got.Second())
}

func TestNextDueDateNeverRollsForward(t *testing.T) {
	// Walking any day of January forward one month must land in February.
	for day := 1; day <= 31; day++ {
		due := date(2026, time.January, day)
		got, err := NextDueDate(due, FrequencyMonthly, 1)
		require.NoError(t, err)
		assert.Equal(t, time.February, got.Month(), "day %d rolled past February", day)
	}
}

func TestNextDueDateInvalidInput(t *testing.T) {
	tests := []struct {
		name      string
		frequency string
		interval  int
		wantErr   error
	}{
		{"unknown frequency", "hourly", 1, ErrInvalidFrequency},
		{"empty frequency", "", 1, ErrInvalidFrequency},
		{"zero interval", FrequencyDaily, 0, ErrInvalidInterval},
		{"negative interval", FrequencyWeekly, -1, ErrInvalidInterval},
		{"daily over bound", FrequencyDaily, 366, ErrInvalidInterval},
		{"weekly over bound", FrequencyWeekly, 53, ErrInvalidInterval},
		{"monthly over bound", FrequencyMonthly, 121, ErrInvalidInterval},
		{"yearly over bound", FrequencyYearly, 11, ErrInvalidInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NextDueDate(date(2026, time.January, 1), tt.frequency, tt.interval)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNextOccurrence(t *testing.T) {
	due := date(2026, time.February, 10)
	three := 3

	t.Run("produces next instance", func(t *testing.T) {
		task := CompletedTask{
			ID:          7,
			Title:       "water the plants",
			Description: "all of them",
			Priority:    "MEDIUM",
			DueDate:     &due,
		}
		rule := Rule{ID: 42, Frequency: FrequencyDaily, Interval: 1, OccurrenceCount: &three, CurrentCount: 0}

		next, err := NextOccurrence(task, rule)
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, "water the plants", next.Title)
		assert.Equal(t, "all of them", next.Description)
		assert.Equal(t, "MEDIUM", next.Priority)
		assert.True(t, next.DueDate.Equal(date(2026, time.February, 11)))
		assert.True(t, next.IsRecurring)
		assert.Equal(t, int64(7), next.ParentTaskID)
		assert.Equal(t, int64(42), next.RecurrenceRuleID)
	})

	t.Run("keeps original series parent", func(t *testing.T) {
		parent := int64(3)
		task := CompletedTask{ID: 9, DueDate: &due, ParentTaskID: &parent}
		rule := Rule{ID: 42, Frequency: FrequencyDaily, Interval: 1, OccurrenceCount: &three}

		next, err := NextOccurrence(task, rule)
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, int64(3), next.ParentTaskID)
	})

	t.Run("exhausted occurrence count is terminal regardless of due date", func(t *testing.T) {
		task := CompletedTask{ID: 7, DueDate: &due}
		rule := Rule{ID: 42, Frequency: FrequencyDaily, Interval: 1, OccurrenceCount: &three, CurrentCount: 3}

		next, err := NextOccurrence(task, rule)
		require.NoError(t, err)
		assert.Nil(t, next)
	})

	t.Run("no due date anchor yields nil", func(t *testing.T) {
		task := CompletedTask{ID: 7}
		rule := Rule{ID: 42, Frequency: FrequencyDaily, Interval: 1, OccurrenceCount: &three}

		next, err := NextOccurrence(task, rule)
		require.NoError(t, err)
		assert.Nil(t, next)
	})

	t.Run("next due past end date yields nil", func(t *testing.T) {
		end := date(2026, time.February, 10)
		task := CompletedTask{ID: 7, DueDate: &due}
		rule := Rule{ID: 42, Frequency: FrequencyDaily, Interval: 1, EndDate: &end}

		next, err := NextOccurrence(task, rule)
		require.NoError(t, err)
		assert.Nil(t, next)
	})

	t.Run("next due exactly on end date is kept", func(t *testing.T) {
		end := date(2026, time.February, 11)
		task := CompletedTask{ID: 7, DueDate: &due}
		rule := Rule{ID: 42, Frequency: FrequencyDaily, Interval: 1, EndDate: &end}

		next, err := NextOccurrence(task, rule)
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.True(t, next.DueDate.Equal(end))
	})

	t.Run("bad frequency surfaces the engine error", func(t *testing.T) {
		task := CompletedTask{ID: 7, DueDate: &due}
		rule := Rule{ID: 42, Frequency: "fortnightly", Interval: 1, OccurrenceCount: &three}

		_, err := NextOccurrence(task, rule)
		assert.ErrorIs(t, err, ErrInvalidFrequency)
	})

	t.Run("deterministic under repeated derivation", func(t *testing.T) {
		task := CompletedTask{ID: 7, Title: "report", DueDate: &due}
		rule := Rule{ID: 42, Frequency: FrequencyMonthly, Interval: 1, OccurrenceCount: &three}

		first, err := NextOccurrence(task, rule)
		require.NoError(t, err)
		second, err := NextOccurrence(task, rule)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}
