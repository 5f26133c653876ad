/*
aggregate.go - Aggregation Engine

PURPOSE:
  Rolls allocation rules up into one Card per entity of the primary
  grouping dimension. Realized, pending, contracted and cost figures are NOT
  computed here; the Batch Loader fills them in later. This file only
  guarantees that every card exists, pre-seeded to zero, and that its
  estimated time is right.

TWO MODES:
  Summary mode (Summarize):
    Per rule: attribute to entity buckets by direct field match (for
    clients: any member of the comma-joined list), then add
    DailyEstimated x Count(rule). No per-day rows are produced.

  Expanded mode (SummarizeRecords):
    Once an entity has been expanded, its exploded records are summed
    instead, with the secondary-filter predicate applied per record.

INVARIANT:
  For every entity, both modes produce the same Estimated and Counts,
  because Count and Explode share one validity computation.

AVAILABILITY:
  CLT: contracted = hours/day x valid days x 3_600_000
       available  = max(0, contracted - estimated)
  PJ:  contracted = available = estimated (no ceiling)

SEE ALSO:
  - explode.go: Count / Explode
  - cache.go: where loader figures are merged into cards
*/
package capacity

import (
	"sort"

	"github.com/warp/capacity-engine/generic"
)

// Aggregator computes cards for one query cycle.
type Aggregator struct {
	exploder *Exploder
}

func NewAggregator(exploder *Exploder) *Aggregator {
	return &Aggregator{exploder: exploder}
}

// =============================================================================
// SUMMARY MODE
// =============================================================================

// Summarize produces one card per entity of q.Dimension, sorted by
// estimated time (desc) then entity id.
func (a *Aggregator) Summarize(rules []Rule, q Query) []Card {
	acc := newAccumulator(q)
	for _, r := range rules {
		if !q.Secondary.Matches(r, q.Dimension) {
			continue
		}
		entities := acc.entitiesOf(r)
		if len(entities) == 0 {
			continue
		}
		days := a.exploder.Count(r)
		for _, id := range entities {
			acc.add(id, r.DailyEstimated.Mul(days), days > 0, r)
		}
	}
	return acc.cards()
}

// RulesFor returns the rules that contribute to one entity's card.
func (a *Aggregator) RulesFor(entityID string, rules []Rule, q Query) []Rule {
	var out []Rule
	for _, r := range rules {
		if !q.Secondary.Matches(r, q.Dimension) {
			continue
		}
		if contains(r.Values(q.Dimension), entityID) {
			out = append(out, r)
		}
	}
	return out
}

// =============================================================================
// EXPANDED MODE
// =============================================================================

// SummarizeRecords recomputes one entity's card from exploded records.
func (a *Aggregator) SummarizeRecords(entityID string, records []ExplodedRecord, q Query) Card {
	acc := newAccumulator(Query{Dimension: q.Dimension, EntityIDs: []string{entityID}})
	for _, rec := range records {
		if !q.Secondary.Matches(rec, q.Dimension) {
			continue
		}
		if !contains(rec.Values(q.Dimension), entityID) {
			continue
		}
		acc.add(entityID, rec.DailyEstimated, true, rec)
	}
	return acc.cards()[0]
}

// =============================================================================
// AVAILABILITY
// =============================================================================

// DeriveAvailability fills Contracted and Available from the contract.
// Cards without a known contract keep both at zero.
func DeriveAvailability(card Card, contract ContractInfo, validDays int) Card {
	card.ContractType = contract.Type
	card.ValidDays = validDays
	switch contract.Type {
	case ContractPJ:
		card.Contracted = card.Estimated
		card.Available = card.Estimated
	case ContractCLT:
		card.Contracted = contract.HoursPerDay.Millis(validDays)
		card.Available = (card.Contracted - card.Estimated).ClampZero()
	default:
		card.Contracted = 0
		card.Available = 0
	}
	return card
}

// DeriveCost prices estimated and realized time at the hourly cost.
func DeriveCost(card Card, hourly generic.Money) Card {
	card.HourlyCost = hourly
	card.EstimatedCost = hourly.Times(card.Estimated)
	card.RealizedCost = hourly.Times(card.Realized)
	return card
}

// =============================================================================
// ACCUMULATOR
// =============================================================================

type cardAcc struct {
	estimated generic.Millis
	touched   map[Dimension]map[string]struct{}
}

type accumulator struct {
	dimension Dimension
	selected  []string
	order     []string
	byEntity  map[string]*cardAcc
}

func newAccumulator(q Query) *accumulator {
	acc := &accumulator{
		dimension: q.Dimension,
		selected:  q.EntityIDs,
		byEntity:  make(map[string]*cardAcc),
	}
	for _, id := range q.EntityIDs {
		acc.get(id)
	}
	return acc
}

func (acc *accumulator) entitiesOf(item dimensional) []string {
	values := item.Values(acc.dimension)
	if len(acc.selected) == 0 {
		return values
	}
	var out []string
	for _, v := range values {
		if contains(acc.selected, v) {
			out = append(out, v)
		}
	}
	return out
}

func (acc *accumulator) get(id string) *cardAcc {
	c, ok := acc.byEntity[id]
	if !ok {
		c = &cardAcc{touched: make(map[Dimension]map[string]struct{}, len(Dimensions))}
		for _, d := range Dimensions {
			c.touched[d] = make(map[string]struct{})
		}
		acc.byEntity[id] = c
		acc.order = append(acc.order, id)
	}
	return c
}

func (acc *accumulator) add(id string, estimated generic.Millis, touched bool, item dimensional) {
	c := acc.get(id)
	c.estimated += estimated
	if !touched {
		return
	}
	for _, d := range Dimensions {
		for _, v := range item.Values(d) {
			c.touched[d][v] = struct{}{}
		}
	}
}

func (acc *accumulator) cards() []Card {
	cards := make([]Card, 0, len(acc.order))
	for _, id := range acc.order {
		c := acc.byEntity[id]
		cards = append(cards, Card{
			Dimension: acc.dimension,
			EntityID:  id,
			Estimated: c.estimated,
			Counts: Counts{
				Tasks:        len(c.touched[DimensionTask]),
				Clients:      len(c.touched[DimensionClient]),
				Products:     len(c.touched[DimensionProduct]),
				Responsibles: len(c.touched[DimensionResponsible]),
				TaskTypes:    len(c.touched[DimensionTaskType]),
			},
		})
	}
	SortCards(cards)
	return cards
}

// SortCards orders by estimated time (desc) then entity id.
func SortCards(cards []Card) {
	sort.SliceStable(cards, func(i, j int) bool {
		if cards[i].Estimated != cards[j].Estimated {
			return cards[i].Estimated > cards[j].Estimated
		}
		return cards[i].EntityID < cards[j].EntityID
	})
}

func contains(values []string, id string) bool {
	for _, v := range values {
		if v == id {
			return true
		}
	}
	return false
}
