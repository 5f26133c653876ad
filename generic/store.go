/*
store.go - Persistence interfaces owned by the capacity service

PURPOSE:
  Allocation rules and realized-time records belong to the upstream API and
  are never persisted here. The service only stores what it owns:
  - Holidays, used by the Date Validity Calculator
  - The query cycle log, an audit trail of every aggregation run

KEY INTERFACES:
  HolidayStore: CRUD for holidays (recurring or one-off)
  CycleLog:     append/list of finished query cycles

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - generic/store/memory.go: In-memory for testing

SNAPSHOTS:
  The validity calculation must be pure, so it never queries a HolidayStore
  directly. CalendarSnapshot loads the holidays once per query cycle and
  freezes them into a HolidaySet.

SEE ALSO:
  - time.go: Holiday, HolidaySet
  - capacity/pipeline.go: takes a snapshot at cycle start
*/
package generic

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// HOLIDAY STORE
// =============================================================================

// HolidayStore persists holidays.
type HolidayStore interface {
	SaveHoliday(ctx context.Context, h Holiday) error
	DeleteHoliday(ctx context.Context, id string) error
	ListHolidays(ctx context.Context) ([]Holiday, error)
}

// CalendarSnapshot freezes the holidays that fall inside the period.
// A nil store yields an empty calendar.
func CalendarSnapshot(ctx context.Context, store HolidayStore, period Period) (*HolidaySet, error) {
	if store == nil {
		return NewHolidaySet(nil), nil
	}
	all, err := store.ListHolidays(ctx)
	if err != nil {
		return nil, fmt.Errorf("load holidays: %w", err)
	}
	return NewHolidaySet(ProjectHolidays(all, period)), nil
}

// =============================================================================
// CYCLE LOG - Audit trail of query cycles
// =============================================================================

// CycleRecord is one finished (or aborted) query cycle.
type CycleRecord struct {
	ID          string
	SessionID   string
	Dimension   string
	Period      Period
	State       string
	Cards       int
	Warnings    []string
	StartedAt   time.Time
	CompletedAt time.Time
}

// CycleLog stores cycle records. Append-only.
type CycleLog interface {
	RecordCycle(ctx context.Context, rec CycleRecord) error
	ListCycles(ctx context.Context, limit int) ([]CycleRecord, error)
}
