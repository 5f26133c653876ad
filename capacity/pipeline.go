/*
pipeline.go - Reactive Filter Pipeline

PURPOSE:
  Turns filter changes into query cycles. Each cycle walks an explicit
  state machine:

    Idle -> Validating -> LoadingSummary -> SummaryReady
         -> LoadingAuxData -> FullyLoaded

  Any state may go back to Validating (a new cycle replaces the current
  one) or to Idle (the cycle was cancelled or failed).

HARD AND SOFT EDGES:
  Apply (the "Aplicar Filtros" button) is a hard edge: the query is
  validated first, and only a valid query cancels the in-flight cycle,
  wipes the cache and starts a new cycle. An invalid query changes nothing.

  SetSecondary (one secondary filter edited) cancels the in-flight cycle at
  once, then debounces: contextual options refresh after OptionsDebounce,
  wipe + reload after ReloadDebounce. A burst of edits runs each step once.

CANCELLATION:
  Every cycle carries its own context and the cache generation it was
  started under. Commits from a superseded cycle fail with ErrStaleCycle
  and are dropped. A deferred cleanup returns a cycle that ends before
  FullyLoaded to Idle, unless a newer cycle already took over.

SEE ALSO:
  - debounce.go: Debouncer
  - cache.go: Invalidate / generations
  - loader.go: the aux phase
*/
package capacity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/warp/capacity-engine/generic"
)

// =============================================================================
// STATE MACHINE
// =============================================================================

type State int

const (
	StateIdle State = iota
	StateValidating
	StateLoadingSummary
	StateSummaryReady
	StateLoadingAuxData
	StateFullyLoaded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateLoadingSummary:
		return "loading_summary"
	case StateSummaryReady:
		return "summary_ready"
	case StateLoadingAuxData:
		return "loading_aux_data"
	case StateFullyLoaded:
		return "fully_loaded"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// transitions lists the legal next states of each state.
var transitions = map[State][]State{
	StateIdle:           {StateValidating},
	StateValidating:     {StateLoadingSummary, StateValidating, StateIdle},
	StateLoadingSummary: {StateSummaryReady, StateValidating, StateIdle},
	StateSummaryReady:   {StateLoadingAuxData, StateValidating, StateIdle},
	StateLoadingAuxData: {StateFullyLoaded, StateValidating, StateIdle},
	StateFullyLoaded:    {StateValidating, StateIdle},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrIllegalTransition is returned for a transition not in the table.
var ErrIllegalTransition = errors.New("illegal state transition")

// =============================================================================
// PIPELINE
// =============================================================================

const (
	DefaultOptionsDebounce = 300 * time.Millisecond
	DefaultReloadDebounce  = 500 * time.Millisecond

	debounceOptions = "options"
	debounceReload  = "reload"
)

type PipelineConfig struct {
	OptionsDebounce time.Duration
	ReloadDebounce  time.Duration
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.OptionsDebounce <= 0 {
		c.OptionsDebounce = DefaultOptionsDebounce
	}
	if c.ReloadDebounce <= 0 {
		c.ReloadDebounce = DefaultReloadDebounce
	}
	return c
}

// PipelineDeps wires a pipeline to its collaborators.
type PipelineDeps struct {
	SessionID string
	Rules     RuleSource
	Names     NameSource
	Holidays  generic.HolidayStore // optional
	Cycles    generic.CycleLog     // optional
	Cache     *Cache
	Loader    *Loader
	Logger    *slog.Logger
	Metrics   *Metrics
}

type cycle struct {
	id      string
	gen     uint64
	query   Query
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time

	warnings []string
}

type Pipeline struct {
	deps      PipelineDeps
	cfg       PipelineConfig
	debouncer *Debouncer
	logger    *slog.Logger

	mu           sync.Mutex
	state        State
	query        Query
	applied      bool
	current      *cycle
	rules        []Rule
	options      Options
	warnings     []string
	authRequired bool
	closed       bool
}

func NewPipeline(deps PipelineDeps, cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		deps:      deps,
		cfg:       cfg.withDefaults(),
		debouncer: NewDebouncer(),
		logger: deps.Logger.With(
			slog.String("component", "pipeline"),
			slog.String("session", deps.SessionID)),
		state:   StateIdle,
		options: Options{},
	}
}

// State returns the current state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Query returns the last applied query with its current secondary filters.
func (p *Pipeline) Query() (Query, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.query.Clone(), p.applied
}

// Options returns the contextual options of the last refresh.
func (p *Pipeline) Options() Options {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(Options, len(p.options))
	for d, ids := range p.options {
		out[d] = append([]string(nil), ids...)
	}
	return out
}

// DrainWarnings returns and clears the pending user warnings.
func (p *Pipeline) DrainWarnings() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.warnings
	p.warnings = nil
	return w
}

// AuthRequired reports whether the upstream API answered 401.
func (p *Pipeline) AuthRequired() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authRequired
}

// Apply validates q and, if valid, starts a fresh cycle for it.
func (p *Pipeline) Apply(q Query) error {
	if err := q.Validate(); err != nil {
		return err
	}
	if q.Secondary == nil {
		q.Secondary = Filters{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return generic.ErrSessionClosed
	}
	p.debouncer.Cancel(debounceOptions)
	p.debouncer.Cancel(debounceReload)
	p.query = q.Clone()
	p.applied = true
	p.startLocked()
	return nil
}

// SetSecondary replaces the selection of one secondary filter. Empty ids
// clear it.
func (p *Pipeline) SetSecondary(d Dimension, ids []string) error {
	if !d.Valid() {
		return fmt.Errorf("%w: %q", generic.ErrInvalidDimension, d)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return generic.ErrSessionClosed
	}
	if !p.applied {
		return &generic.ValidationError{Problems: []error{generic.ErrPeriodRequired, generic.ErrDimensionRequired}}
	}

	next := p.query.Clone()
	if len(ids) == 0 {
		delete(next.Secondary, d)
	} else {
		next.Secondary[d] = append([]string(nil), ids...)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	p.query = next

	if p.current != nil {
		p.current.cancel()
	}
	p.debouncer.Schedule(debounceOptions, p.cfg.OptionsDebounce, p.refreshOptions)
	p.debouncer.Schedule(debounceReload, p.cfg.ReloadDebounce, p.reload)
	return nil
}

// Wait blocks until the current cycle ends.
func (p *Pipeline) Wait(ctx context.Context) error {
	p.mu.Lock()
	c := p.current
	p.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels everything. The pipeline cannot be reused.
func (p *Pipeline) Close() {
	p.debouncer.Stop()
	p.mu.Lock()
	p.closed = true
	c := p.current
	if c != nil {
		c.cancel()
	}
	p.mu.Unlock()
	if c != nil {
		<-c.done
	}
}

func (p *Pipeline) refreshOptions() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.options = ContextualOptions(p.rules, p.query.Dimension, p.query.Secondary)
}

func (p *Pipeline) reload() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || !p.applied {
		return
	}
	p.startLocked()
}

// startLocked cancels the in-flight cycle, wipes the cache and starts a
// new cycle. Must hold p.mu.
func (p *Pipeline) startLocked() {
	if p.current != nil {
		p.current.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &cycle{
		id:      uuid.NewString(),
		gen:     p.deps.Cache.Invalidate(),
		query:   p.query.Clone(),
		cancel:  cancel,
		done:    make(chan struct{}),
		started: time.Now(),
	}
	p.current = c
	p.state = StateValidating
	go p.run(ctx, c)
}

// advance moves c's state forward if c is still the current cycle.
func (p *Pipeline) advance(c *cycle, to State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != c {
		return generic.ErrStaleCycle
	}
	if !CanTransition(p.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, p.state, to)
	}
	p.state = to
	return nil
}

// =============================================================================
// CYCLE
// =============================================================================

func (p *Pipeline) run(ctx context.Context, c *cycle) {
	final := StateIdle
	defer func() { p.finish(c, final) }()

	q := c.query
	calendar, err := generic.CalendarSnapshot(ctx, p.deps.Holidays, q.Period)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("holiday snapshot failed, assuming no holidays", slog.Any("error", err))
		c.warnings = append(c.warnings, "holidays could not be loaded; no day was treated as a holiday")
		calendar = generic.NewHolidaySet(nil)
	}

	if p.advance(c, StateLoadingSummary) != nil {
		return
	}
	rulesReq := RulesRequest{
		Period:          q.Period,
		Dimension:       q.Dimension,
		EntityIDs:       q.EntityIDs,
		IncludeWeekends: q.Calendar.IncludeWeekends,
		IncludeHolidays: q.Calendar.IncludeHolidays,
	}
	rules, err := p.deps.Rules.Rules(ctx, rulesReq)
	if err != nil {
		if ctx.Err() != nil || generic.IsAbandoned(err) {
			return
		}
		p.fail(c, "allocation rules could not be loaded", err)
		return
	}

	exploder := NewExploder(q.Period, q.Calendar, calendar)
	aggregator := NewAggregator(exploder)
	cards := aggregator.Summarize(rules, q)
	data := &cycleData{
		query:      q,
		rules:      rules,
		exploder:   exploder,
		aggregator: aggregator,
		validDays:  exploder.PeriodValidDays(),
	}
	if err := p.deps.Cache.SetSummary(c.gen, data, cards); err != nil {
		return
	}
	p.mu.Lock()
	if p.current == c {
		p.rules = rules
		p.options = ContextualOptions(rules, q.Dimension, q.Secondary)
	}
	p.mu.Unlock()

	if p.advance(c, StateSummaryReady) != nil {
		return
	}
	p.logger.Debug("summary ready",
		slog.String("cycle", c.id),
		slog.Int("rules", len(rules)),
		slog.Int("cards", len(cards)))

	if p.advance(c, StateLoadingAuxData) != nil {
		return
	}
	p.loadAux(ctx, c, rulesReq, cards)
	if ctx.Err() != nil {
		return
	}
	if p.advance(c, StateFullyLoaded) != nil {
		return
	}
	final = StateFullyLoaded
}

// loadAux runs the loader, the name lookups and the total check side by
// side. None of them can fail the cycle.
func (p *Pipeline) loadAux(ctx context.Context, c *cycle, rulesReq RulesRequest, cards []Card) {
	q := c.query
	var (
		g      errgroup.Group
		mu     sync.Mutex
		report LoadReport
	)

	g.Go(func() error {
		r := p.deps.Loader.Load(ctx, LoadRequest{
			Generation: c.gen,
			Dimension:  q.Dimension,
			EntityIDs:  p.deps.Cache.EntityIDs(),
			Period:     q.Period,
			Secondary:  q.Secondary,
		})
		mu.Lock()
		report = r
		mu.Unlock()
		return nil
	})

	for _, d := range Dimensions {
		d := d
		g.Go(func() error {
			names, err := p.deps.Names.Names(ctx, d)
			if err != nil {
				if !generic.IsAbandoned(err) && ctx.Err() == nil {
					p.logger.Warn("names unavailable", slog.String("dimension", string(d)), slog.Any("error", err))
				}
				return nil
			}
			_ = p.deps.Cache.MergeNames(c.gen, d, names)
			return nil
		})
	}

	// The server knows neither secondary filters nor forced dates, so the
	// totals are only comparable without them.
	if len(q.Secondary.Active()) == 0 && len(q.Calendar.IndividualDates) == 0 {
		g.Go(func() error {
			p.checkTotal(ctx, c, rulesReq, cards)
			return nil
		})
	}
	_ = g.Wait()

	if report.Abandoned || ctx.Err() != nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if report.Unauthorized {
		p.authRequired = true
	}
	if report.Warning != "" {
		c.warnings = append(c.warnings, report.Warning)
	}
}

func (p *Pipeline) checkTotal(ctx context.Context, c *cycle, req RulesRequest, cards []Card) {
	// Multi-client rules count once per client locally, so client totals
	// never match the server's.
	if c.query.Dimension == DimensionClient {
		return
	}
	server, err := p.deps.Rules.EstimatedTotal(ctx, req)
	if err != nil {
		if ctx.Err() == nil && !generic.IsAbandoned(err) {
			p.logger.Debug("estimated total unavailable", slog.Any("error", err))
		}
		return
	}
	var local generic.Millis
	for _, card := range cards {
		local += card.Estimated
	}
	if server != local {
		p.deps.Metrics.mismatch()
		p.logger.Warn("estimated total differs from server",
			slog.String("cycle", c.id),
			slog.Int64("local_ms", int64(local)),
			slog.Int64("server_ms", int64(server)))
	}
}

// fail ends a cycle with a user warning.
func (p *Pipeline) fail(c *cycle, warning string, err error) {
	p.logger.Warn(warning, slog.String("cycle", c.id), slog.Any("error", err))
	p.mu.Lock()
	defer p.mu.Unlock()
	if errors.Is(err, generic.ErrUnauthorized) {
		p.authRequired = true
	}
	c.warnings = append(c.warnings, warning)
}

// finish is the guaranteed cleanup of a cycle.
func (p *Pipeline) finish(c *cycle, final State) {
	c.cancel()

	p.mu.Lock()
	current := p.current == c
	if current {
		if final != StateFullyLoaded {
			p.state = StateIdle
		}
		p.warnings = append(p.warnings, c.warnings...)
	}
	p.mu.Unlock()

	outcome := "superseded"
	switch {
	case current && final == StateFullyLoaded:
		outcome = "loaded"
	case current && len(c.warnings) > 0:
		outcome = "failed"
	case current:
		outcome = "cancelled"
	}
	elapsed := time.Since(c.started)
	p.deps.Metrics.cycleDone(outcome, elapsed.Seconds())
	p.record(c, outcome)
	close(c.done)
}

func (p *Pipeline) record(c *cycle, outcome string) {
	if p.deps.Cycles == nil {
		return
	}
	cards := 0
	if p.deps.Cache.Generation() == c.gen {
		cards = len(p.deps.Cache.EntityIDs())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.deps.Cycles.RecordCycle(ctx, generic.CycleRecord{
		ID:          c.id,
		SessionID:   p.deps.SessionID,
		Dimension:   string(c.query.Dimension),
		Period:      c.query.Period,
		State:       outcome,
		Cards:       cards,
		Warnings:    c.warnings,
		StartedAt:   c.started,
		CompletedAt: time.Now(),
	})
	if err != nil {
		p.logger.Warn("record cycle", slog.String("cycle", c.id), slog.Any("error", err))
	}
}
