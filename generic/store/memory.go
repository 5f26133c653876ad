// Package store provides in-memory implementations of the generic
// persistence interfaces.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/capacity-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	holidays map[string]generic.Holiday
	cycles   []generic.CycleRecord
}

// Compile-time checks
var (
	_ generic.HolidayStore = (*Memory)(nil)
	_ generic.CycleLog     = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		holidays: make(map[string]generic.Holiday),
	}
}

// SaveHoliday inserts or replaces a holiday by ID.
func (m *Memory) SaveHoliday(_ context.Context, h generic.Holiday) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holidays[h.ID] = h
	return nil
}

func (m *Memory) DeleteHoliday(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.holidays, id)
	return nil
}

// ListHolidays returns every holiday ordered by date.
func (m *Memory) ListHolidays(_ context.Context) ([]generic.Holiday, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]generic.Holiday, 0, len(m.holidays))
	for _, h := range m.holidays {
		result = append(result, h)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	return result, nil
}

// RecordCycle appends a cycle record.
func (m *Memory) RecordCycle(_ context.Context, rec generic.CycleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles = append(m.cycles, rec)
	return nil
}

// ListCycles returns the most recent cycles first.
func (m *Memory) ListCycles(_ context.Context, limit int) ([]generic.CycleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.cycles)
	if limit <= 0 || limit > n {
		limit = n
	}
	result := make([]generic.CycleRecord, 0, limit)
	for i := n - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, m.cycles[i])
	}
	return result, nil
}
