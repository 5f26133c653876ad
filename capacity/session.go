package capacity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/capacity-engine/generic"
)

// =============================================================================
// SESSION - One user's capacity view
// =============================================================================

// SessionConfig bundles the tunables of every session component.
type SessionConfig struct {
	Loader   LoaderConfig
	Pipeline PipelineConfig
}

// SessionDeps are shared by every session of a process.
type SessionDeps struct {
	Holidays generic.HolidayStore
	Cycles   generic.CycleLog
	Logger   *slog.Logger
	Metrics  *Metrics
}

// Session owns one cache and every component writing to it.
type Session struct {
	ID        string
	CreatedAt time.Time

	cache      *Cache
	pipeline   *Pipeline
	expansions *ExpansionQueue
	drilldown  *Drilldown
	metrics    *Metrics

	mu       sync.Mutex
	lastUsed time.Time
	closed   bool
}

// NewSession wires a session against backend.
func NewSession(backend Backend, deps SessionDeps, cfg SessionConfig) *Session {
	id := uuid.NewString()
	logger := deps.Logger.With(slog.String("session", id))
	cache := NewCache()
	loader := NewLoader(backend, cache, cfg.Loader, logger, deps.Metrics)
	expansions := NewExpansionQueue(cache, logger, deps.Metrics)

	now := time.Now()
	s := &Session{
		ID:         id,
		CreatedAt:  now,
		lastUsed:   now,
		cache:      cache,
		expansions: expansions,
		drilldown:  NewDrilldown(backend, cache, expansions, logger),
		metrics:    deps.Metrics,
		pipeline: NewPipeline(PipelineDeps{
			SessionID: id,
			Rules:     backend,
			Names:     backend,
			Holidays:  deps.Holidays,
			Cycles:    deps.Cycles,
			Cache:     cache,
			Loader:    loader,
			Logger:    deps.Logger,
			Metrics:   deps.Metrics,
		}, cfg.Pipeline),
	}
	deps.Metrics.SessionOpened()
	return s
}

func (s *Session) touch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return generic.ErrSessionClosed
	}
	s.lastUsed = time.Now()
	return nil
}

// LastUsed is when the session last served a call.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

func (s *Session) Apply(q Query) error {
	if err := s.touch(); err != nil {
		return err
	}
	return s.pipeline.Apply(q)
}

func (s *Session) SetSecondary(d Dimension, ids []string) error {
	if err := s.touch(); err != nil {
		return err
	}
	return s.pipeline.SetSecondary(d, ids)
}

// Wait blocks until the current cycle ends.
func (s *Session) Wait(ctx context.Context) error { return s.pipeline.Wait(ctx) }

func (s *Session) State() State { return s.pipeline.State() }
func (s *Session) Query() (Query, bool) { return s.pipeline.Query() }
func (s *Session) Options() Options { return s.pipeline.Options() }
func (s *Session) DrainWarnings() []string { return s.pipeline.DrainWarnings() }
func (s *Session) AuthRequired() bool { return s.pipeline.AuthRequired() }
func (s *Session) Card(entityID string) (Card, bool) { return s.cache.Card(entityID) }

// Cards returns the current cards, complete or not.
func (s *Session) Cards() ([]Card, error) {
	if err := s.touch(); err != nil {
		return nil, err
	}
	return s.cache.Cards(), nil
}

func (s *Session) Expand(ctx context.Context, entityID string) (*Expansion, error) {
	if err := s.touch(); err != nil {
		return nil, err
	}
	return s.expansions.Expand(ctx, entityID)
}

func (s *Session) Level1(ctx context.Context, entityID string, detailType Dimension) ([]DetailRow, error) {
	if err := s.touch(); err != nil {
		return nil, err
	}
	return s.drilldown.Level1(ctx, entityID, detailType)
}

func (s *Session) Level2(ctx context.Context, entityID string, parentType Dimension, parentID string, detailType Dimension) ([]DetailRow, error) {
	if err := s.touch(); err != nil {
		return nil, err
	}
	return s.drilldown.Level2(ctx, entityID, parentType, parentID, detailType)
}

func (s *Session) Level3(ctx context.Context, entityID, taskID string) ([]TimeLog, error) {
	if err := s.touch(); err != nil {
		return nil, err
	}
	return s.drilldown.Level3(ctx, entityID, taskID)
}

// Close cancels the session's cycles. Safe to call twice.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.pipeline.Close()
	s.cache.Invalidate()
	s.metrics.SessionClosed()
}
