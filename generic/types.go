/*
Package generic provides the domain-agnostic core of the capacity engine.

PURPOSE:
  Calendar and quantity primitives shared by every other package: calendar
  days, reporting periods, holiday calendars, the date validity calculator,
  millisecond durations and money. Nothing in here knows about responsibles,
  clients or tasks.

KEY CONCEPTS IN THIS FILE (types.go):
  - Millis: a duration in milliseconds, the unit every upstream figure uses
  - Hours: fractional hours (contracted hours per day), decimal-backed
  - Money: an amount of currency (hourly cost), decimal-backed

DESIGN PRINCIPLES:
  1. Integer milliseconds for time: sums over thousands of exploded days
     must be exact, so no floats on the hot path.
  2. Decimal for anything fractional (7.5 hours/day, R$ 83.33/hour).

SEE ALSO:
  - time.go: TimePoint and holiday calendars
  - period.go: Period
  - validity.go: Date Validity Calculator
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MILLIS - Durations as reported by the upstream API
// =============================================================================

// Millis is a duration in milliseconds.
type Millis int64

const MillisPerHour Millis = 3_600_000

// Mul multiplies by a day count.
func (m Millis) Mul(n int) Millis { return m * Millis(n) }

// Max returns the larger of two durations.
func (m Millis) Max(o Millis) Millis {
	if o > m {
		return o
	}
	return m
}

// ClampZero returns m, or 0 when m is negative.
func (m Millis) ClampZero() Millis {
	if m < 0 {
		return 0
	}
	return m
}

// Hours converts to decimal hours.
func (m Millis) Hours() decimal.Decimal {
	return decimal.NewFromInt(int64(m)).Div(decimal.NewFromInt(int64(MillisPerHour)))
}

// =============================================================================
// HOURS AND MONEY
// =============================================================================

// Hours is a fractional number of hours.
type Hours struct {
	Value decimal.Decimal
}

func NewHours(h float64) Hours { return Hours{Value: decimal.NewFromFloat(h)} }

// Millis converts hours x days into milliseconds, truncating sub-millisecond
// remainders.
func (h Hours) Millis(days int) Millis {
	ms := h.Value.Mul(decimal.NewFromInt(int64(days))).Mul(decimal.NewFromInt(int64(MillisPerHour)))
	return Millis(ms.IntPart())
}

// Money is a currency amount.
type Money struct {
	Value decimal.Decimal
}

// MustParseMoney parses a decimal string, returning zero on malformed input.
func MustParseMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{Value: decimal.Zero}
	}
	return Money{Value: d}
}

// Times returns the cost of the given duration at this hourly rate,
// rounded to cents.
func (m Money) Times(d Millis) Money {
	return Money{Value: m.Value.Mul(d.Hours()).Round(2)}
}

func (m Money) String() string { return m.Value.StringFixed(2) }
