package capacity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextualOptions(t *testing.T) {
	// GIVEN: Task t1 is done for c1 and c2, task t2 only for c3
	// WHEN: Task t1 is selected as a secondary filter
	// THEN: Clients narrow to c1/c2 but tasks still list every task

	rules := []Rule{
		rule("r1", "10", "c1,c2", "t1"),
		rule("r2", "20", "c3", "t2"),
	}

	opts := ContextualOptions(rules, DimensionResponsible, Filters{DimensionTask: {"t1"}})

	assert.Equal(t, []string{"c1", "c2"}, opts[DimensionClient])
	assert.Equal(t, []string{"t1", "t2"}, opts[DimensionTask])
	_, hasPrimary := opts[DimensionResponsible]
	assert.False(t, hasPrimary)
}

func TestContextualOptions_NoFilters(t *testing.T) {
	rules := []Rule{rule("r1", "10", "c1", "t1"), rule("r2", "20", "c3", "t2")}

	opts := ContextualOptions(rules, DimensionTask, nil)

	assert.Equal(t, []string{"10", "20"}, opts[DimensionResponsible])
	assert.Equal(t, []string{"p1"}, opts[DimensionProduct])
}
