/*
loader.go - Batch Loader

PURPOSE:
  Fetches the three cross-cutting figures of a set of cards (realized and
  pending time, contracted hours with contract type, hourly cost) and
  merges them into the Cache. Card rendering never waits for it.

BATCHING:
  One request per figure type, not one per entity. Ids are chunked only
  when a batch exceeds BatchSize. Chunks run on an errgroup limited to
  Concurrency goroutines, each under its own Timeout.

DEGRADATION:
  A failed or timed-out chunk (or a malformed payload) zero-fills every entity it
  requested, so no card stays in a loading state. All failures of one Load
  collapse into a single warning. Non-numeric responsible ids are skipped
  for contract/cost lookups and zero-filled without a warning.

  If the parent context is cancelled or the cache generation moved on, the
  chunk is abandoned: nothing is written and nothing is reported.

SEE ALSO:
  - cache.go: MergeRealized (max-merge) and the overwrite merges
  - pipeline.go: starts a Load during LoadingAuxData
*/
package capacity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/warp/capacity-engine/generic"
)

// Figure names used in warnings, logs and metrics.
const (
	FigureRealized   = "realized"
	FigureContracted = "contracted"
	FigureCost       = "cost"
)

// LoaderConfig bounds the loader. Zero values take the defaults.
type LoaderConfig struct {
	BatchSize   int
	Concurrency int
	Timeout     time.Duration
}

const (
	DefaultBatchSize   = 200
	DefaultConcurrency = 4
	DefaultTimeout     = 30 * time.Second
)

func (c LoaderConfig) withDefaults() LoaderConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// LoadRequest is one load for the cards of a cycle.
type LoadRequest struct {
	Generation uint64
	Dimension  Dimension
	EntityIDs  []string
	Period     generic.Period
	Secondary  Filters
}

// LoadReport summarizes a Load.
type LoadReport struct {
	Requested    int
	ZeroFilled   map[string]int // figure -> entities
	InvalidIDs   []string
	Warning      string // empty when everything loaded
	Unauthorized bool
	Abandoned    bool
}

type Loader struct {
	src     FigureSource
	cache   *Cache
	cfg     LoaderConfig
	logger  *slog.Logger
	metrics *Metrics
}

func NewLoader(src FigureSource, cache *Cache, cfg LoaderConfig, logger *slog.Logger, metrics *Metrics) *Loader {
	return &Loader{
		src:     src,
		cache:   cache,
		cfg:     cfg.withDefaults(),
		logger:  logger.With(slog.String("component", "loader")),
		metrics: metrics,
	}
}

// loadState collects chunk outcomes of one Load.
type loadState struct {
	mu           sync.Mutex
	failed       map[string]int
	unauthorized bool
	abandoned    bool
}

func (s *loadState) fail(figure string, n int, unauthorized bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[figure] += n
	if unauthorized {
		s.unauthorized = true
	}
}

func (s *loadState) abandon() {
	s.mu.Lock()
	s.abandoned = true
	s.mu.Unlock()
}

// Load fetches and merges every figure for req.EntityIDs. It blocks until
// all chunks finished or were abandoned.
func (l *Loader) Load(ctx context.Context, req LoadRequest) LoadReport {
	report := LoadReport{Requested: len(req.EntityIDs), ZeroFilled: map[string]int{}}
	if len(req.EntityIDs) == 0 {
		return report
	}
	state := &loadState{failed: make(map[string]int)}

	var g errgroup.Group
	g.SetLimit(l.cfg.Concurrency)

	for _, chunk := range chunkIDs(req.EntityIDs, l.cfg.BatchSize) {
		chunk := chunk
		g.Go(func() error {
			l.loadRealized(ctx, req, chunk, state)
			return nil
		})
	}

	if req.Dimension == DimensionResponsible {
		valid, invalid := splitNumeric(req.EntityIDs)
		if len(invalid) > 0 {
			report.InvalidIDs = invalid
			l.zeroFillInvalid(req.Generation, invalid, state)
		}
		for _, chunk := range chunkIDs(valid, l.cfg.BatchSize) {
			chunk := chunk
			g.Go(func() error {
				l.loadContracts(ctx, req, chunk, state)
				return nil
			})
			g.Go(func() error {
				l.loadCosts(ctx, req, chunk, state)
				return nil
			})
		}
	}
	_ = g.Wait()

	if state.abandoned || ctx.Err() != nil {
		report.Abandoned = true
		return report
	}
	report.ZeroFilled = state.failed
	report.Unauthorized = state.unauthorized
	report.Warning = loadWarning(state.failed)
	if report.Warning != "" {
		l.logger.Warn("figures zero-filled", slog.String("warning", report.Warning))
	}
	return report
}

// =============================================================================
// PER-FIGURE CHUNKS
// =============================================================================

func (l *Loader) loadRealized(ctx context.Context, req LoadRequest, ids []string, state *loadState) {
	reqCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	got, err := l.src.RealizedTotals(reqCtx, FigureRequest{
		Dimension: req.Dimension,
		EntityIDs: ids,
		Period:    req.Period,
		Secondary: req.Secondary,
	})
	if l.abandoned(ctx, state) {
		return
	}
	values := make(map[string]RealizedTotal, len(ids))
	for _, id := range ids {
		v, ok := got[id]
		if err != nil || !ok {
			v = RealizedTotal{}
		}
		values[id] = v
	}
	l.finish(FigureRealized, len(ids), err, state)
	if mergeErr := l.cache.MergeRealized(req.Generation, values); mergeErr != nil {
		state.abandon()
	}
}

func (l *Loader) loadContracts(ctx context.Context, req LoadRequest, ids []string, state *loadState) {
	reqCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	got, err := l.src.ContractedHours(reqCtx, ids, req.Period)
	if l.abandoned(ctx, state) {
		return
	}
	values := make(map[string]ContractInfo, len(ids))
	for _, id := range ids {
		v, ok := got[id]
		if err != nil || !ok {
			v = ContractInfo{}
		}
		values[id] = v
	}
	l.finish(FigureContracted, len(ids), err, state)
	if mergeErr := l.cache.MergeContracts(req.Generation, values); mergeErr != nil {
		state.abandon()
	}
}

func (l *Loader) loadCosts(ctx context.Context, req LoadRequest, ids []string, state *loadState) {
	reqCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	got, err := l.src.HourlyCosts(reqCtx, ids, req.Period)
	if l.abandoned(ctx, state) {
		return
	}
	values := make(map[string]generic.Money, len(ids))
	for _, id := range ids {
		v, ok := got[id]
		if err != nil || !ok {
			v = generic.Money{}
		}
		values[id] = v
	}
	l.finish(FigureCost, len(ids), err, state)
	if mergeErr := l.cache.MergeCosts(req.Generation, values); mergeErr != nil {
		state.abandon()
	}
}

// abandoned reports whether the parent context was cancelled. A timeout of
// the chunk's own context is a failure, not an abandonment.
func (l *Loader) abandoned(ctx context.Context, state *loadState) bool {
	if ctx.Err() != nil {
		state.abandon()
		return true
	}
	return false
}

// finish records a chunk outcome. Entities absent from a successful
// response simply have no figure and are zero-filled without a warning.
func (l *Loader) finish(figure string, requested int, err error, state *loadState) {
	if err == nil {
		l.metrics.loaderRequest(figure, "ok")
		return
	}
	l.metrics.loaderRequest(figure, "error")
	l.metrics.zeroFill(figure, requested)
	l.logger.Warn("batch failed, zero-filling",
		slog.String("figure", figure),
		slog.Int("entities", requested),
		slog.Any("error", err))
	state.fail(figure, requested, errors.Is(err, generic.ErrUnauthorized))
}

// zeroFillInvalid gives responsibles with unusable ids a defined contract
// and cost without asking the backend.
func (l *Loader) zeroFillInvalid(gen uint64, ids []string, state *loadState) {
	contracts := make(map[string]ContractInfo, len(ids))
	costs := make(map[string]generic.Money, len(ids))
	for _, id := range ids {
		l.logger.Warn("skipping contract lookup",
			slog.Any("error", &generic.InvalidIdentifierError{Kind: "responsible", ID: id}))
		contracts[id] = ContractInfo{}
		costs[id] = generic.Money{}
	}
	if l.cache.MergeContracts(gen, contracts) != nil || l.cache.MergeCosts(gen, costs) != nil {
		state.abandon()
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func chunkIDs(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	if size <= 0 || len(ids) <= size {
		return [][]string{ids}
	}
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// splitNumeric separates ids the contract endpoints accept (integers) from
// the rest.
func splitNumeric(ids []string) (valid, invalid []string) {
	for _, id := range ids {
		if _, err := strconv.ParseInt(id, 10, 64); err != nil {
			invalid = append(invalid, id)
			continue
		}
		valid = append(valid, id)
	}
	return valid, invalid
}

func loadWarning(failed map[string]int) string {
	if len(failed) == 0 {
		return ""
	}
	figures := make([]string, 0, len(failed))
	for f := range failed {
		figures = append(figures, f)
	}
	sort.Strings(figures)
	parts := make([]string, len(figures))
	for i, f := range figures {
		parts[i] = fmt.Sprintf("%s for %d entities", f, failed[f])
	}
	return "some figures could not be loaded and show zero: " + strings.Join(parts, ", ")
}
