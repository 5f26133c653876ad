package capacity

import (
	"sync"

	"github.com/warp/capacity-engine/generic"
)

// =============================================================================
// RULE EXPLOSION ENGINE
// =============================================================================

// EffectiveToggles combines the global calendar toggles with a rule's own
// overrides using the restrictive-AND policy: a global "off" beats a rule
// "on", and a rule "off" beats a global "on". An unset rule flag counts as
// "not off".
//
// Both figures were reconciled against real data with this exact policy;
// keep it as is.
func EffectiveToggles(global CalendarToggles, r Rule) (weekends, holidays bool) {
	weekends = global.IncludeWeekends && (r.IncludeWeekends == nil || *r.IncludeWeekends)
	holidays = global.IncludeHolidays && (r.IncludeHolidays == nil || *r.IncludeHolidays)
	return weekends, holidays
}

// Exploder expands rules over one query period. It memoizes DateSets by
// their validity options, so it must not outlive the holiday snapshot it
// was built with. Safe for concurrent use.
type Exploder struct {
	period   generic.Period
	calendar CalendarToggles
	holidays generic.HolidayCalendar

	mu   sync.Mutex
	memo map[string]generic.DateSet
}

func NewExploder(period generic.Period, calendar CalendarToggles, holidays generic.HolidayCalendar) *Exploder {
	if holidays == nil {
		holidays = generic.NoHolidays{}
	}
	return &Exploder{
		period:   period,
		calendar: calendar,
		holidays: holidays,
		memo:     make(map[string]generic.DateSet),
	}
}

func (e *Exploder) Period() generic.Period { return e.period }

// EffectiveRange clamps the rule's own range against the query period.
func (e *Exploder) EffectiveRange(r Rule) (generic.Period, bool) {
	own := e.period
	if r.Start != nil {
		own.Start = *r.Start
	}
	if r.End != nil {
		own.End = *r.End
	}
	if own.End.Before(own.Start) {
		return generic.Period{}, false
	}
	return own.Intersect(e.period)
}

// ValidDates is the single validity computation behind both Count and
// Explode.
func (e *Exploder) ValidDates(r Rule) generic.DateSet {
	rng, ok := e.EffectiveRange(r)
	if !ok {
		return generic.NewDateSet()
	}
	weekends, holidays := EffectiveToggles(e.calendar, r)
	return e.validDates(generic.ValidityOptions{
		Period:          rng,
		IncludeWeekends: weekends,
		IncludeHolidays: holidays,
		IndividualDates: e.calendar.IndividualDates,
		Holidays:        e.holidays,
	})
}

// PeriodValidDays counts valid days of the whole query period under the
// global toggles. Contracted time of CLT responsibles is based on it.
func (e *Exploder) PeriodValidDays() int {
	return e.validDates(generic.ValidityOptions{
		Period:          e.period,
		IncludeWeekends: e.calendar.IncludeWeekends,
		IncludeHolidays: e.calendar.IncludeHolidays,
		IndividualDates: e.calendar.IndividualDates,
		Holidays:        e.holidays,
	}).Len()
}

func (e *Exploder) validDates(opts generic.ValidityOptions) generic.DateSet {
	key := opts.Key()
	e.mu.Lock()
	if set, ok := e.memo[key]; ok {
		e.mu.Unlock()
		return set
	}
	e.mu.Unlock()

	set := generic.ValidDates(opts)

	e.mu.Lock()
	e.memo[key] = set
	e.mu.Unlock()
	return set
}

// Count is the cheap path: number of valid days, no records.
func (e *Exploder) Count(r Rule) int {
	return e.ValidDates(r).Len()
}

// Explode is the expensive path: one record per valid day, in date order.
func (e *Exploder) Explode(r Rule) []ExplodedRecord {
	dates := e.ValidDates(r).Dates()
	if len(dates) == 0 {
		return nil
	}
	clients := r.ClientIDs()
	records := make([]ExplodedRecord, len(dates))
	for i, date := range dates {
		records[i] = ExplodedRecord{
			RuleID:         r.ID,
			BucketID:       r.BucketID,
			ResponsibleID:  r.ResponsibleID,
			ClientIDs:      clients,
			ProductID:      r.ProductID,
			TaskID:         r.TaskID,
			TaskTypeID:     r.TaskTypeID,
			Date:           date,
			DailyEstimated: r.DailyEstimated,
		}
	}
	return records
}
