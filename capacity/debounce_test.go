package capacity

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncer_CoalescesBurst(t *testing.T) {
	// GIVEN: Five schedules of one key in quick succession
	// WHEN: The key goes quiet
	// THEN: Only the last function runs, once

	d := NewDebouncer()
	defer d.Stop()

	var calls, last atomic.Int32
	for i := 1; i <= 5; i++ {
		n := int32(i)
		d.Schedule("reload", 30*time.Millisecond, func() {
			calls.Add(1)
			last.Store(n)
		})
		time.Sleep(5 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(5), last.Load())
}

func TestDebouncer_KeysAreIndependent(t *testing.T) {
	d := NewDebouncer()
	defer d.Stop()

	var options, reload atomic.Int32
	d.Schedule("options", 10*time.Millisecond, func() { options.Add(1) })
	d.Schedule("reload", 20*time.Millisecond, func() { reload.Add(1) })

	assert.Eventually(t, func() bool { return options.Load() == 1 && reload.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDebouncer_Cancel(t *testing.T) {
	d := NewDebouncer()
	defer d.Stop()

	var calls atomic.Int32
	d.Schedule("reload", 10*time.Millisecond, func() { calls.Add(1) })
	assert.True(t, d.Pending("reload"))
	d.Cancel("reload")
	assert.False(t, d.Pending("reload"))

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestDebouncer_StopIgnoresLaterSchedules(t *testing.T) {
	d := NewDebouncer()
	d.Stop()

	var calls atomic.Int32
	d.Schedule("reload", time.Millisecond, func() { calls.Add(1) })

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, calls.Load())
}
