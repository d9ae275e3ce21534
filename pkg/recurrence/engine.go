package recurrence

import (
	"errors"
	"time"
)

// Supported frequencies.
const (
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
	FrequencyYearly  = "yearly"
)

var (
	ErrInvalidFrequency = errors.New("invalid recurrence frequency")
	ErrInvalidInterval  = errors.New("invalid recurrence interval")
)

// Per-frequency interval ceilings. A rule outside these bounds is rejected
// at creation, but the engine re-checks so a corrupt rule cannot push a due
// date centuries out.
var maxInterval = map[string]int{
	FrequencyDaily:   365,
	FrequencyWeekly:  52,
	FrequencyMonthly: 120,
	FrequencyYearly:  10,
}

// Rule is the recurrence pattern governing a series.
type Rule struct {
	ID              int64
	Frequency       string
	Interval        int
	EndDate         *time.Time
	OccurrenceCount *int
	CurrentCount    int
}

// CompletedTask is the snapshot of the instance whose completion anchors the
// next occurrence.
type CompletedTask struct {
	ID           int64
	Title        string
	Description  string
	Priority     string
	DueDate      *time.Time
	ParentTaskID *int64
}

// NextInstance describes the task to create for the next occurrence.
type NextInstance struct {
	Title            string
	Description      string
	Priority         string
	DueDate          time.Time
	IsRecurring      bool
	ParentTaskID     int64
	RecurrenceRuleID int64
}

// ValidateInterval checks the interval against the per-frequency ceiling.
func ValidateInterval(frequency string, interval int) error {
	max, ok := maxInterval[frequency]
	if !ok {
		return ErrInvalidFrequency
	}
	if interval <= 0 || interval > max {
		return ErrInvalidInterval
	}
	return nil
}

// NextDueDate computes the due date of the next occurrence. Monthly steps
// clamp the day-of-month downward to the last valid day of the target month
// (Jan 31 + 1 month = Feb 28/29), never rolling into the following month.
// Yearly steps map Feb 29 to Feb 28 when the target year is not a leap year.
// Clock time and location are preserved.
func NextDueDate(due time.Time, frequency string, interval int) (time.Time, error) {
	if err := ValidateInterval(frequency, interval); err != nil {
		return time.Time{}, err
	}

	switch frequency {
	case FrequencyDaily:
		return due.AddDate(0, 0, interval), nil

	case FrequencyWeekly:
		return due.AddDate(0, 0, 7*interval), nil

	case FrequencyMonthly:
		year, month, day := due.Date()
		// 0-based month arithmetic with year carry.
		total := int(month) - 1 + interval
		year += total / 12
		month = time.Month(total%12 + 1)
		if last := daysInMonth(month, year); day > last {
			day = last
		}
		hour, min, sec := due.Clock()
		return time.Date(year, month, day, hour, min, sec, due.Nanosecond(), due.Location()), nil

	case FrequencyYearly:
		year, month, day := due.Date()
		year += interval
		if month == time.February && day == 29 && !isLeapYear(year) {
			day = 28
		}
		hour, min, sec := due.Clock()
		return time.Date(year, month, day, hour, min, sec, due.Nanosecond(), due.Location()), nil
	}

	return time.Time{}, ErrInvalidFrequency
}

// NextOccurrence derives the next instance of a series from a completed task
// and its rule. A nil instance with a nil error means the series is complete
// or cannot advance (no due-date anchor) -- terminal, not an error.
//
// Pure function: identical inputs always yield identical outputs, so callers
// may safely re-derive on event redelivery.
func NextOccurrence(task CompletedTask, rule Rule) (*NextInstance, error) {
	if rule.OccurrenceCount != nil && rule.CurrentCount >= *rule.OccurrenceCount {
		return nil, nil
	}

	if task.DueDate == nil {
		return nil, nil
	}

	next, err := NextDueDate(*task.DueDate, rule.Frequency, rule.Interval)
	if err != nil {
		return nil, err
	}

	if rule.EndDate != nil && next.After(*rule.EndDate) {
		return nil, nil
	}

	parentID := task.ID
	if task.ParentTaskID != nil {
		parentID = *task.ParentTaskID
	}

	return &NextInstance{
		Title:            task.Title,
		Description:      task.Description,
		Priority:         task.Priority,
		DueDate:          next,
		IsRecurring:      true,
		ParentTaskID:     parentID,
		RecurrenceRuleID: rule.ID,
	}, nil
}

func daysInMonth(month time.Month, year int) int {
	// First of the next month, rolled back a day.
	firstOfMonth := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return firstOfMonth.AddDate(0, 1, -1).Day()
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}
