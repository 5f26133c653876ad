package api

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/capacity-engine/capacity"
	"github.com/warp/capacity-engine/generic"
	"github.com/warp/capacity-engine/generic/store"
)

func newTestRegistry(cookies *[]string) *SessionRegistry {
	mem := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSessionRegistry(func(cookie string) *capacity.Session {
		if cookies != nil {
			*cookies = append(*cookies, cookie)
		}
		return capacity.NewSession(nil, capacity.SessionDeps{Holidays: mem, Cycles: mem, Logger: logger}, capacity.SessionConfig{})
	})
}

func TestSessionRegistry_CreateGetClose(t *testing.T) {
	var cookies []string
	reg := newTestRegistry(&cookies)
	defer reg.CloseAll()

	s := reg.Create("sid=1")
	assert.Equal(t, []string{"sid=1"}, cookies)

	got, err := reg.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, 1, reg.Len())

	require.NoError(t, reg.Close(s.ID))
	_, err = reg.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, reg.Close(s.ID), ErrSessionNotFound)

	_, err = s.Cards()
	assert.ErrorIs(t, err, generic.ErrSessionClosed)
}

func TestSessionRegistry_SweepClosesIdleOnly(t *testing.T) {
	// GIVEN: One session idle since before the cutoff and one fresh session
	// WHEN: Sweeping
	// THEN: Only the idle session is closed and removed

	reg := newTestRegistry(nil)
	defer reg.CloseAll()

	idle := reg.Create("")
	time.Sleep(5 * time.Millisecond)
	cutoff := time.Now()
	time.Sleep(5 * time.Millisecond)
	fresh := reg.Create("")

	ttl := time.Minute
	closed := reg.Sweep(cutoff.Add(ttl), ttl)

	assert.Equal(t, []string{idle.ID}, closed)
	assert.Equal(t, []string{fresh.ID}, reg.IDs())
	_, err := idle.Cards()
	assert.ErrorIs(t, err, generic.ErrSessionClosed)
}

func TestSessionReaper_StartStop(t *testing.T) {
	reg := newTestRegistry(nil)
	defer reg.CloseAll()
	reg.Create("")

	reaper := NewSessionReaper(reg, time.Hour, 10*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	reaper.Start()
	reaper.Start()
	time.Sleep(30 * time.Millisecond)
	reaper.Stop()
	reaper.Stop()

	assert.Equal(t, 1, reg.Len())

	reaper.IdleTTL = -time.Second
	assert.Len(t, reaper.RunNow(), 1)
	assert.Equal(t, 0, reg.Len())
}
