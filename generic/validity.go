/*
validity.go - Date Validity Calculator

PURPOSE:
  Answers "which calendar days of this range count?" for a set of calendar
  options. Every estimated and contracted figure is a product of a per-day
  amount and the size of a set produced here, so the two computation paths
  of the engine (count-only and full explosion) both go through this single
  function.

ALGORITHM:
  For each day in [Start, End]:
    1. keep it if it is a weekday, or if IncludeWeekends
    2. drop it if it is a holiday, unless IncludeHolidays
    3. force-keep it if it is listed in IndividualDates (explicit override
       wins over both rules above)

  Individual dates outside the period are ignored: they override the
  weekday/holiday policy, not the range.

PURITY:
  ValidDates only reads its arguments. The holiday calendar passed in must
  be a snapshot (HolidaySet), never a live store, so identical options
  always yield an identical DateSet and results can be memoized by Key().

SEE ALSO:
  - capacity/explode.go: restrictive-AND toggles, rule clamping
  - capacity/cache.go: memoization of DateSets per query cycle
*/
package generic

import (
	"sort"
	"strconv"
	"strings"
)

// ValidityOptions are the inputs of the Date Validity Calculator.
type ValidityOptions struct {
	Period          Period
	IncludeWeekends bool
	IncludeHolidays bool
	IndividualDates []TimePoint
	Holidays        HolidayCalendar
}

// Key is a canonical string for the options, used to memoize results.
// The holiday calendar is not part of the key: a cache of DateSets must be
// scoped to one calendar snapshot.
func (o ValidityOptions) Key() string {
	var b strings.Builder
	b.WriteString(o.Period.Start.DateKey())
	b.WriteByte('|')
	b.WriteString(o.Period.End.DateKey())
	b.WriteByte('|')
	b.WriteString(strconv.FormatBool(o.IncludeWeekends))
	b.WriteByte('|')
	b.WriteString(strconv.FormatBool(o.IncludeHolidays))
	for _, d := range sortedKeys(o.IndividualDates) {
		b.WriteByte('|')
		b.WriteString(d)
	}
	return b.String()
}

// DateSet is an ordered set of YYYY-MM-DD dates.
type DateSet struct {
	dates []string
	index map[string]struct{}
}

// NewDateSet builds a set from arbitrary (possibly unsorted, duplicated) keys.
func NewDateSet(keys ...string) DateSet {
	s := DateSet{index: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		if _, ok := s.index[k]; ok {
			continue
		}
		s.index[k] = struct{}{}
		s.dates = append(s.dates, k)
	}
	sort.Strings(s.dates)
	return s
}

func (s DateSet) Len() int { return len(s.dates) }

func (s DateSet) Contains(date string) bool {
	_, ok := s.index[date]
	return ok
}

// Dates returns a copy of the ordered dates.
func (s DateSet) Dates() []string {
	out := make([]string, len(s.dates))
	copy(out, s.dates)
	return out
}

func (s DateSet) Equal(other DateSet) bool {
	if len(s.dates) != len(other.dates) {
		return false
	}
	for i := range s.dates {
		if s.dates[i] != other.dates[i] {
			return false
		}
	}
	return true
}

// ValidDates computes the set of counted days for the options.
func ValidDates(opts ValidityOptions) DateSet {
	if opts.Period.Validate() != nil {
		return NewDateSet()
	}

	holidays := opts.Holidays
	if holidays == nil {
		holidays = NoHolidays{}
	}

	forced := make(map[string]struct{}, len(opts.IndividualDates))
	for _, d := range opts.IndividualDates {
		forced[d.DateKey()] = struct{}{}
	}

	var keys []string
	for _, day := range opts.Period.Days() {
		key := day.DateKey()
		if _, ok := forced[key]; ok {
			keys = append(keys, key)
			continue
		}
		if day.IsWeekend() && !opts.IncludeWeekends {
			continue
		}
		if !opts.IncludeHolidays && holidays.IsHoliday(day) {
			continue
		}
		keys = append(keys, key)
	}
	return NewDateSet(keys...)
}

func sortedKeys(dates []TimePoint) []string {
	keys := make([]string, len(dates))
	for i, d := range dates {
		keys[i] = d.DateKey()
	}
	sort.Strings(keys)
	return keys
}
