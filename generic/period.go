package generic

// =============================================================================
// PERIOD - The reporting window every figure is computed for
// =============================================================================

// Period is an inclusive calendar range [Start, End].
// Estimated, realized and contracted time are ALWAYS reported for a period,
// never for a single point in time.
type Period struct {
	Start TimePoint
	End   TimePoint
}

// NewPeriod parses two YYYY-MM-DD dates and validates the range.
func NewPeriod(start, end string) (Period, error) {
	s, err := ParseDate(start)
	if err != nil {
		return Period{}, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return Period{}, err
	}
	p := Period{Start: s, End: e}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// MustPeriod is NewPeriod for literals.
func MustPeriod(start, end string) Period {
	p, err := NewPeriod(start, end)
	if err != nil {
		panic(err)
	}
	return p
}

// IsZero reports whether no period was selected.
func (p Period) IsZero() bool { return p.Start.IsZero() && p.End.IsZero() }

// Validate rejects unset bounds and end-before-start ranges.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return ErrPeriodRequired
	}
	if p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Intersect clamps p against other. The boolean is false when the
// intersection is empty.
func (p Period) Intersect(other Period) (Period, bool) {
	start := p.Start
	if other.Start.After(start) {
		start = other.Start
	}
	end := p.End
	if other.End.Before(end) {
		end = other.End
	}
	if end.Before(start) {
		return Period{}, false
	}
	return Period{Start: start, End: end}, true
}

// Days returns all days in the period as a slice of TimePoints.
func (p Period) Days() []TimePoint {
	var days []TimePoint
	current := p.Start
	for current.BeforeOrEqual(p.End) {
		days = append(days, current)
		current = current.AddDays(1)
	}
	return days
}

// Len is the number of calendar days in the period.
func (p Period) Len() int {
	if p.End.Before(p.Start) {
		return 0
	}
	return DaysBetween(p.Start, p.End) + 1
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}
