/*
scheduler.go - Session registry and idle-session reaper

PURPOSE:
  Sessions hold a cache and in-flight query cycles. Browsers rarely say
  goodbye, so a background reaper closes sessions that have been idle for
  longer than the configured TTL.

DESIGN:
  - SessionRegistry maps session ids to *capacity.Session
  - SessionReaper runs a background goroutine with a ticker
  - Sweeping removes a session from the registry before closing it, so no
    request can pick up a session that is being closed

CONFIGURATION:
  - IdleTTL:       How long a session may stay unused (default: 30 minutes)
  - SweepInterval: How often to check (default: 1 minute)

USAGE:
  reaper := NewSessionReaper(registry, cfg.Sessions.IdleTTL, cfg.Sessions.SweepInterval, logger)
  reaper.Start()
  // ... later
  reaper.Stop()

SEE ALSO:
  - handlers.go: session endpoints
  - capacity/session.go: what a session owns
*/
package api

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/warp/capacity-engine/capacity"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("session not found")

// =============================================================================
// SESSION REGISTRY
// =============================================================================

// SessionFactory creates a session whose upstream calls carry cookie.
type SessionFactory func(cookie string) *capacity.Session

type SessionRegistry struct {
	factory SessionFactory

	mu       sync.RWMutex
	sessions map[string]*capacity.Session
}

func NewSessionRegistry(factory SessionFactory) *SessionRegistry {
	return &SessionRegistry{
		factory:  factory,
		sessions: make(map[string]*capacity.Session),
	}
}

// Create opens and registers a new session.
func (r *SessionRegistry) Create(cookie string) *capacity.Session {
	s := r.factory(cookie)
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

func (r *SessionRegistry) Get(id string) (*capacity.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close removes and closes a session.
func (r *SessionRegistry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	return nil
}

// Len returns the number of open sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IDs returns the open session ids, sorted.
func (r *SessionRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sweep closes every session unused since before now-ttl and returns
// their ids.
func (r *SessionRegistry) Sweep(now time.Time, ttl time.Duration) []string {
	cutoff := now.Add(-ttl)

	r.mu.Lock()
	var expired []*capacity.Session
	for id, s := range r.sessions {
		if s.LastUsed().Before(cutoff) {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	ids := make([]string, len(expired))
	for i, s := range expired {
		s.Close()
		ids[i] = s.ID
	}
	sort.Strings(ids)
	return ids
}

// CloseAll closes every session. Used on shutdown.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*capacity.Session)
	r.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

// =============================================================================
// SESSION REAPER
// =============================================================================

const (
	DefaultIdleTTL       = 30 * time.Minute
	DefaultSweepInterval = time.Minute
)

// SessionReaper closes idle sessions on a ticker.
type SessionReaper struct {
	Registry      *SessionRegistry
	IdleTTL       time.Duration
	SweepInterval time.Duration

	logger *slog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewSessionReaper(registry *SessionRegistry, idleTTL, interval time.Duration, logger *slog.Logger) *SessionReaper {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &SessionReaper{
		Registry:      registry,
		IdleTTL:       idleTTL,
		SweepInterval: interval,
		logger:        logger.With(slog.String("component", "reaper")),
	}
}

// Start begins the reaper. Calling Start twice is a no-op.
func (sr *SessionReaper) Start() {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if sr.ticker != nil {
		return
	}
	sr.ticker = time.NewTicker(sr.SweepInterval)
	sr.stop = make(chan struct{})
	sr.wg.Add(1)

	go sr.run(sr.ticker, sr.stop)

	sr.logger.Info("started",
		slog.Duration("idle_ttl", sr.IdleTTL),
		slog.Duration("interval", sr.SweepInterval))
}

// Stop stops the reaper and waits for a running sweep to finish.
func (sr *SessionReaper) Stop() {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if sr.ticker == nil {
		return
	}
	sr.ticker.Stop()
	close(sr.stop)
	sr.wg.Wait()
	sr.ticker = nil
	sr.logger.Info("stopped")
}

func (sr *SessionReaper) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer sr.wg.Done()

	for {
		select {
		case now := <-ticker.C:
			sr.sweep(now)
		case <-stop:
			return
		}
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (sr *SessionReaper) RunNow() []string {
	return sr.sweep(time.Now())
}

func (sr *SessionReaper) sweep(now time.Time) []string {
	closed := sr.Registry.Sweep(now, sr.IdleTTL)
	if len(closed) > 0 {
		sr.logger.Info("closed idle sessions",
			slog.Int("closed", len(closed)),
			slog.Int("open", sr.Registry.Len()))
	}
	return closed
}
