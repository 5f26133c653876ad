/*
expansion.go - Sequential Expansion Queue

PURPOSE:
  Explodes the rules behind one card into day-level records when the card
  is expanded, so nested detail levels can be regrouped locally.

CONTRACT:
  - At most one expansion pass runs at a time per session.
  - A card already expanded returns the cached expansion immediately.
  - Requests that arrive while a pass runs are queued FIFO and coalesced
    into the next pass; that pass commits all its expansions in one cache
    write.
  - Duplicate requests for the same card share one result.
  - An expansion is marked DetailsLoaded and is never recomputed until the
    cache is invalidated.

SEE ALSO:
  - explode.go: Explode
  - aggregate.go: SummarizeRecords (expanded mode)
  - drilldown.go: consumer of the records
*/
package capacity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/warp/capacity-engine/generic"
)

type expansionResult struct {
	expansion *Expansion
	err       error
}

type ExpansionQueue struct {
	cache   *Cache
	logger  *slog.Logger
	metrics *Metrics

	mu      sync.Mutex
	pending []string
	waiters map[string][]chan expansionResult
	running bool

	// passDone is called after every pass with the entities it handled.
	// Tests use it to observe coalescing.
	passDone func(entityIDs []string)
}

func NewExpansionQueue(cache *Cache, logger *slog.Logger, metrics *Metrics) *ExpansionQueue {
	return &ExpansionQueue{
		cache:   cache,
		logger:  logger.With(slog.String("component", "expansion")),
		metrics: metrics,
		waiters: make(map[string][]chan expansionResult),
	}
}

// Expand returns the expansion of one card, computing it if needed.
func (q *ExpansionQueue) Expand(ctx context.Context, entityID string) (*Expansion, error) {
	if e, ok := q.cache.Expansion(entityID); ok {
		return e, nil
	}

	ch := make(chan expansionResult, 1)
	q.mu.Lock()
	if _, queued := q.waiters[entityID]; !queued {
		q.pending = append(q.pending, entityID)
	}
	q.waiters[entityID] = append(q.waiters[entityID], ch)
	if !q.running {
		q.running = true
		go q.drain()
	}
	q.mu.Unlock()

	select {
	case res := <-ch:
		return res.expansion, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending reports how many cards wait for the next pass.
func (q *ExpansionQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *ExpansionQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		batch := q.pending
		q.pending = nil
		waiters := make(map[string][]chan expansionResult, len(batch))
		for _, id := range batch {
			waiters[id] = q.waiters[id]
			delete(q.waiters, id)
		}
		q.mu.Unlock()

		results := q.pass(batch)
		for id, chans := range waiters {
			for _, ch := range chans {
				ch <- results[id]
			}
		}
		if q.passDone != nil {
			q.passDone(batch)
		}
	}
}

// pass expands a batch and commits it in one cache write.
func (q *ExpansionQueue) pass(batch []string) map[string]expansionResult {
	results := make(map[string]expansionResult, len(batch))
	gen, data := q.cache.current()

	var fresh []*Expansion
	for _, id := range batch {
		if e, ok := q.cache.Expansion(id); ok {
			results[id] = expansionResult{expansion: e}
			continue
		}
		if data == nil {
			results[id] = expansionResult{err: fmt.Errorf("expand %s: %w", id, generic.ErrEntityNotFound)}
			continue
		}
		if _, ok := q.cache.Card(id); !ok {
			results[id] = expansionResult{err: fmt.Errorf("expand %s: %w", id, generic.ErrEntityNotFound)}
			continue
		}
		e := expand(data, id)
		fresh = append(fresh, e)
		results[id] = expansionResult{expansion: e}
	}
	if len(fresh) == 0 {
		return results
	}

	if err := q.cache.CommitExpansions(gen, fresh); err != nil {
		for _, e := range fresh {
			results[e.EntityID] = expansionResult{err: err}
		}
		return results
	}
	q.metrics.expansionPass(len(fresh))
	q.logger.Debug("expansion pass committed",
		slog.Int("cards", len(fresh)),
		slog.Uint64("generation", gen))
	return results
}

func expand(data *cycleData, entityID string) *Expansion {
	rules := data.aggregator.RulesFor(entityID, data.rules, data.query)
	var records []ExplodedRecord
	for _, r := range rules {
		records = append(records, data.exploder.Explode(r)...)
	}
	buckets := make(map[string][]ExplodedRecord)
	for _, rec := range records {
		buckets[rec.BucketID] = append(buckets[rec.BucketID], rec)
	}
	return &Expansion{
		EntityID: entityID,
		Records:  records,
		Buckets:  buckets,
		Card:     data.aggregator.SummarizeRecords(entityID, records, data.query),
	}
}
