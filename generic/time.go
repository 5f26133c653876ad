package generic

import (
	"fmt"
	"sort"
	"time"
)

// DateLayout is the calendar-date wire format used everywhere (YYYY-MM-DD).
const DateLayout = "2006-01-02"

// =============================================================================
// TIME POINT - Calendar day abstraction
// =============================================================================

// TimePoint is a calendar day, held as UTC midnight.
type TimePoint struct {
	Time time.Time
}

func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// FromTime truncates t to its calendar day.
func FromTime(t time.Time) TimePoint {
	return NewTimePoint(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string. Longer ISO timestamps are accepted
// and truncated to their date part.
func ParseDate(s string) (TimePoint, error) {
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return TimePoint{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return FromTime(t), nil
}

// MustParseDate is ParseDate for literals in tests and seed data.
func MustParseDate(s string) TimePoint {
	tp, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return tp
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.Time.Before(other.Time) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.Time.Equal(other.Time) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.Time.After(other.Time) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return !tp.After(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return !tp.Before(other) }

func (tp TimePoint) AddDays(n int) TimePoint {
	return TimePoint{Time: tp.Time.AddDate(0, 0, n)}
}

// Properties
func (tp TimePoint) Year() int             { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month     { return tp.Time.Month() }
func (tp TimePoint) Day() int              { return tp.Time.Day() }
func (tp TimePoint) Weekday() time.Weekday { return tp.Time.Weekday() }
func (tp TimePoint) IsZero() bool          { return tp.Time.IsZero() }
func (tp TimePoint) IsWeekend() bool {
	wd := tp.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// DateKey is the canonical YYYY-MM-DD key of the day.
func (tp TimePoint) DateKey() string { return tp.Time.Format(DateLayout) }

func (tp TimePoint) String() string { return tp.DateKey() }

// =============================================================================
// HOLIDAY CALENDAR
// =============================================================================

// Holiday is a day that does not count as a working day unless a query
// explicitly includes holidays.
type Holiday struct {
	ID        string
	Date      TimePoint
	Name      string
	Recurring bool // same month/day every year
}

// OccursOn reports whether the holiday falls on the given day.
func (h Holiday) OccursOn(date TimePoint) bool {
	if h.Recurring {
		return h.Date.Month() == date.Month() && h.Date.Day() == date.Day()
	}
	return h.Date.Equal(date)
}

// HolidayCalendar provides holiday lookup functionality.
type HolidayCalendar interface {
	// IsHoliday checks if a date is a holiday.
	IsHoliday(date TimePoint) bool
}

// NoHolidays is a calendar without holidays.
type NoHolidays struct{}

func (NoHolidays) IsHoliday(TimePoint) bool { return false }

// HolidaySet is an immutable in-memory calendar keyed by date. It is the
// snapshot handed to the validity calculation so that the calculation never
// touches storage.
type HolidaySet struct {
	byDate map[string]Holiday
}

// NewHolidaySet builds a calendar from concrete (non-recurring) occurrences.
// Recurring holidays must be projected first with ProjectHolidays.
func NewHolidaySet(holidays []Holiday) *HolidaySet {
	set := &HolidaySet{byDate: make(map[string]Holiday, len(holidays))}
	for _, h := range holidays {
		set.byDate[h.Date.DateKey()] = h
	}
	return set
}

func (s *HolidaySet) IsHoliday(date TimePoint) bool {
	if s == nil {
		return false
	}
	_, ok := s.byDate[date.DateKey()]
	return ok
}

// ProjectHolidays expands holidays (recurring or not) into the concrete
// occurrences that fall inside the period.
func ProjectHolidays(holidays []Holiday, period Period) []Holiday {
	var out []Holiday
	for _, h := range holidays {
		if !h.Recurring {
			if period.Contains(h.Date) {
				out = append(out, h)
			}
			continue
		}
		for year := period.Start.Year(); year <= period.End.Year(); year++ {
			occurrence := NewTimePoint(year, h.Date.Month(), h.Date.Day())
			if occurrence.Month() != h.Date.Month() {
				continue // Feb 29 on a non-leap year
			}
			if period.Contains(occurrence) {
				projected := h
				projected.Date = occurrence
				projected.Recurring = false
				out = append(out, projected)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

// DaysBetween is the number of calendar days from one day to another.
func DaysBetween(from, to TimePoint) int {
	return int((to.Time.Unix() - from.Time.Unix()) / 86400)
}
