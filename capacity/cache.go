/*
cache.go - Cache Layer

PURPOSE:
  Holds every figure of the current query cycle, keyed by entity id:
  estimated cards, realized/pending, contracts, hourly costs, names,
  expansions and drill-down payloads. One Cache belongs to one session;
  there is no package-level state.

GENERATIONS:
  Invalidate() replaces every map wholesale and bumps the generation.
  Every writer passes the generation its work was started under; a write
  from an older generation is rejected with ErrStaleCycle. This is what
  keeps a slow response from a superseded cycle from mixing stale figures
  into fresh cards.

MERGE POLICY:
  Writers merge into the existing maps by entity key, never replace them.
  Realized time merges with max(previous, new) so a fast coarse fetch can't
  undo a slower precise one; every other field overwrites on arrival.

SEE ALSO:
  - pipeline.go: calls Invalidate on every hard edge
  - loader.go: MergeRealized / MergeContracts / MergeCosts
  - expansion.go, drilldown.go: expansions and detail payloads
*/
package capacity

import (
	"sync"

	"github.com/warp/capacity-engine/generic"
)

// Expansion is the materialized day-level view of one card.
type Expansion struct {
	EntityID string
	Records  []ExplodedRecord
	Buckets  map[string][]ExplodedRecord // by rule BucketID
	Card     Card                        // expanded-mode aggregate

	DetailsLoaded bool
}

// DetailRow is one row of a drill-down level.
type DetailRow struct {
	Type      Dimension
	ID        string
	Name      string
	Estimated generic.Millis
	Realized  generic.Millis
	Pending   generic.Millis
	Days      int
	Rules     int
	Source    string // "server" or "local"
}

const (
	SourceServer = "server"
	SourceLocal  = "local"
)

// cycleData is what a cycle computed from the rule set.
type cycleData struct {
	query      Query
	rules      []Rule
	exploder   *Exploder
	aggregator *Aggregator
	validDays  int
}

type figures struct {
	realized       map[string]RealizedTotal
	realizedLoaded map[string]bool
	contracts      map[string]ContractInfo
	costs          map[string]generic.Money
	names          map[string]string // nameKey(dimension, id)
}

// Cache is the per-session store of aggregates.
type Cache struct {
	mu         sync.RWMutex
	generation uint64

	cycle      *cycleData
	order      []string
	cards      map[string]Card
	figures    figures
	expansions map[string]*Expansion
	details    map[string][]DetailRow
}

func NewCache() *Cache {
	c := &Cache{}
	c.reset()
	return c
}

func (c *Cache) reset() {
	c.cycle = nil
	c.order = nil
	c.cards = make(map[string]Card)
	c.figures = figures{
		realized:       make(map[string]RealizedTotal),
		realizedLoaded: make(map[string]bool),
		contracts:      make(map[string]ContractInfo),
		costs:          make(map[string]generic.Money),
		names:          make(map[string]string),
	}
	c.expansions = make(map[string]*Expansion)
	c.details = make(map[string][]DetailRow)
}

// Generation is the token of the current cache contents.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Invalidate wipes everything and returns the new generation.
func (c *Cache) Invalidate() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.reset()
	return c.generation
}

// checkLocked must be called with c.mu held.
func (c *Cache) checkLocked(gen uint64) error {
	if gen != c.generation {
		return generic.ErrStaleCycle
	}
	return nil
}

// =============================================================================
// SUMMARY
// =============================================================================

// SetSummary stores the rule set and the summary-mode cards of a cycle.
func (c *Cache) SetSummary(gen uint64, data *cycleData, cards []Card) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(gen); err != nil {
		return err
	}
	c.cycle = data
	for _, card := range cards {
		if _, ok := c.cards[card.EntityID]; !ok {
			c.order = append(c.order, card.EntityID)
		}
		c.cards[card.EntityID] = card
	}
	return nil
}

// current returns the generation together with the cycle data committed
// under it (nil before the summary lands).
func (c *Cache) current() (uint64, *cycleData) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation, c.cycle
}

// EntityIDs lists the entities that have a card.
func (c *Cache) EntityIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// =============================================================================
// LOADER FIGURES
// =============================================================================

// MergeRealized max-merges realized time and overwrites pending.
func (c *Cache) MergeRealized(gen uint64, values map[string]RealizedTotal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(gen); err != nil {
		return err
	}
	for id, v := range values {
		prev := c.figures.realized[id]
		c.figures.realized[id] = RealizedTotal{
			Realized: prev.Realized.Max(v.Realized),
			Pending:  v.Pending,
		}
		c.figures.realizedLoaded[id] = true
	}
	return nil
}

// FoldRealized max-merges a precise realized figure into one entity without
// touching its pending time.
func (c *Cache) FoldRealized(gen uint64, entityID string, realized generic.Millis) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(gen); err != nil {
		return err
	}
	prev := c.figures.realized[entityID]
	prev.Realized = prev.Realized.Max(realized)
	c.figures.realized[entityID] = prev
	return nil
}

func (c *Cache) MergeContracts(gen uint64, values map[string]ContractInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(gen); err != nil {
		return err
	}
	for id, v := range values {
		c.figures.contracts[id] = v
	}
	return nil
}

func (c *Cache) MergeCosts(gen uint64, values map[string]generic.Money) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(gen); err != nil {
		return err
	}
	for id, v := range values {
		c.figures.costs[id] = v
	}
	return nil
}

func nameKey(d Dimension, id string) string { return string(d) + "/" + id }

// MergeNames stores display names of one dimension. Ids of different
// dimensions overlap, so names are scoped by dimension.
func (c *Cache) MergeNames(gen uint64, d Dimension, values map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(gen); err != nil {
		return err
	}
	for id, v := range values {
		c.figures.names[nameKey(d, id)] = v
	}
	return nil
}

// Realized returns the realized entry of one entity.
func (c *Cache) Realized(entityID string) (RealizedTotal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.figures.realized[entityID]
	return v, ok
}

// Name resolves an entity name, falling back to the id.
func (c *Cache) Name(d Dimension, id string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n, ok := c.figures.names[nameKey(d, id)]; ok && n != "" {
		return n
	}
	return id
}

// Namer binds Name to one dimension.
func (c *Cache) Namer(d Dimension) func(string) string {
	return func(id string) string { return c.Name(d, id) }
}

// =============================================================================
// EXPANSIONS AND DETAILS
// =============================================================================

func (c *Cache) Expansion(entityID string) (*Expansion, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.expansions[entityID]
	return e, ok
}

// CommitExpansions stores a batch of expansions in one write so every
// affected card changes together.
func (c *Cache) CommitExpansions(gen uint64, expansions []*Expansion) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(gen); err != nil {
		return err
	}
	for _, e := range expansions {
		e.DetailsLoaded = true
		c.expansions[e.EntityID] = e
	}
	return nil
}

func detailKey(entityID, level string) string { return entityID + "\x00" + level }

func (c *Cache) Detail(entityID, level string) ([]DetailRow, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rows, ok := c.details[detailKey(entityID, level)]
	return rows, ok
}

func (c *Cache) PutDetail(gen uint64, entityID, level string, rows []DetailRow) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(gen); err != nil {
		return err
	}
	c.details[detailKey(entityID, level)] = rows
	return nil
}

// =============================================================================
// CARD VIEW
// =============================================================================

// Cards composes the current cards from every figure merged so far.
func (c *Cache) Cards() []Card {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cards := make([]Card, 0, len(c.order))
	for _, id := range c.order {
		cards = append(cards, c.composeLocked(id))
	}
	SortCards(cards)
	return cards
}

// Card returns one composed card.
func (c *Cache) Card(entityID string) (Card, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.cards[entityID]; !ok {
		return Card{}, false
	}
	return c.composeLocked(entityID), true
}

func (c *Cache) composeLocked(id string) Card {
	card := c.cards[id]
	if e, ok := c.expansions[id]; ok {
		card.Estimated = e.Card.Estimated
		card.Counts = e.Card.Counts
		card.DetailsLoaded = true
	}
	card.Name = id
	if n, ok := c.figures.names[nameKey(card.Dimension, id)]; ok && n != "" {
		card.Name = n
	}
	if r, ok := c.figures.realized[id]; ok {
		card.Realized = r.Realized
		card.Pending = r.Pending
	}
	card.RealizedLoaded = c.figures.realizedLoaded[id]

	if card.Dimension != DimensionResponsible {
		return card
	}
	validDays := 0
	if c.cycle != nil {
		validDays = c.cycle.validDays
	}
	contract, ok := c.figures.contracts[id]
	card.ContractLoaded = ok
	card = DeriveAvailability(card, contract, validDays)
	if cost, ok := c.figures.costs[id]; ok {
		card.CostLoaded = true
		card = DeriveCost(card, cost)
	}
	return card
}
