// Package capacity implements the capacity aggregation and reconciliation
// engine: allocation rules are exploded over a reporting period, rolled up
// by a grouping dimension into cards, and reconciled with realized time,
// contracted hours and cost fetched from the upstream API.
package capacity

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/warp/capacity-engine/generic"
)

// =============================================================================
// GROUPING DIMENSION
// =============================================================================

// Dimension is the entity axis used to roll up aggregates. The string
// values are the ones the upstream API uses in paths and payloads.
type Dimension string

const (
	DimensionResponsible Dimension = "responsavel"
	DimensionClient      Dimension = "cliente"
	DimensionProduct     Dimension = "produto"
	DimensionTask        Dimension = "tarefa"
	DimensionTaskType    Dimension = "tipo_tarefa"
)

// Dimensions lists every dimension in display order.
var Dimensions = []Dimension{
	DimensionResponsible,
	DimensionClient,
	DimensionProduct,
	DimensionTask,
	DimensionTaskType,
}

func (d Dimension) Valid() bool {
	for _, known := range Dimensions {
		if d == known {
			return true
		}
	}
	return false
}

// ParseDimension validates a dimension name.
func ParseDimension(s string) (Dimension, error) {
	d := Dimension(strings.TrimSpace(s))
	if !d.Valid() {
		return "", fmt.Errorf("%w: %q", generic.ErrInvalidDimension, s)
	}
	return d, nil
}

// dimensional is anything whose entity ids can be read per dimension.
type dimensional interface {
	Values(d Dimension) []string
}

// =============================================================================
// ALLOCATION RULE
// =============================================================================

// Rule is a recurring daily time estimate: responsible X works on task Y
// for client(s) Z, DailyEstimated per day, between Start and End. Rules are
// read-only here; the upstream API owns them.
type Rule struct {
	ID       string
	BucketID string // shared by every rule created together as one assignment

	ResponsibleID string
	ClientID      string // comma-joined list of one or more client ids
	ProductID     string
	TaskID        string
	TaskTypeID    string

	DailyEstimated generic.Millis

	// Open ends default to the query period bounds.
	Start *generic.TimePoint
	End   *generic.TimePoint

	// Rule-local calendar overrides. nil means "not explicitly false".
	IncludeWeekends *bool
	IncludeHolidays *bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClientIDs splits the comma-joined client list.
func (r Rule) ClientIDs() []string {
	return splitIDs(r.ClientID)
}

// Values returns the rule's entity ids for a dimension.
func (r Rule) Values(d Dimension) []string {
	switch d {
	case DimensionResponsible:
		return nonEmpty(r.ResponsibleID)
	case DimensionClient:
		return r.ClientIDs()
	case DimensionProduct:
		return nonEmpty(r.ProductID)
	case DimensionTask:
		return nonEmpty(r.TaskID)
	case DimensionTaskType:
		return nonEmpty(r.TaskTypeID)
	}
	return nil
}

// =============================================================================
// EXPLODED RECORD - One concrete day of a rule (virtual, never persisted)
// =============================================================================

type ExplodedRecord struct {
	RuleID        string
	BucketID      string
	ResponsibleID string
	ClientIDs     []string
	ProductID     string
	TaskID        string
	TaskTypeID    string

	Date           string // YYYY-MM-DD
	DailyEstimated generic.Millis
}

func (e ExplodedRecord) Values(d Dimension) []string {
	switch d {
	case DimensionResponsible:
		return nonEmpty(e.ResponsibleID)
	case DimensionClient:
		return e.ClientIDs
	case DimensionProduct:
		return nonEmpty(e.ProductID)
	case DimensionTask:
		return nonEmpty(e.TaskID)
	case DimensionTaskType:
		return nonEmpty(e.TaskTypeID)
	}
	return nil
}

// =============================================================================
// FILTERS AND QUERY
// =============================================================================

// Filters are secondary narrowing filters: dimension -> selected ids.
// An item passes when, for every active dimension, at least one of its ids
// is selected.
type Filters map[Dimension][]string

// Matches applies the AND predicate, ignoring the skip dimension.
func (f Filters) Matches(item dimensional, skip Dimension) bool {
	for d, ids := range f {
		if d == skip || len(ids) == 0 {
			continue
		}
		if !anyIn(item.Values(d), ids) {
			return false
		}
	}
	return true
}

// Active returns the dimensions with at least one selected id, sorted.
func (f Filters) Active() []Dimension {
	var out []Dimension
	for d, ids := range f {
		if len(ids) > 0 {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (f Filters) Clone() Filters {
	out := make(Filters, len(f))
	for d, ids := range f {
		out[d] = append([]string(nil), ids...)
	}
	return out
}

// CalendarToggles are the global calendar options of a query.
type CalendarToggles struct {
	IncludeWeekends bool
	IncludeHolidays bool
	IndividualDates []generic.TimePoint
}

// MaxSecondaryFilters is how many dimensions besides the primary one may
// narrow a query.
const MaxSecondaryFilters = 3

// MaxPeriodDays bounds the span of a query period. Rule explosion walks every
// day of the period, so longer spans are rejected up front.
const MaxPeriodDays = 5 * 366

// Query is one "Aplicar Filtros" selection.
type Query struct {
	Dimension Dimension
	EntityIDs []string // primary selection; empty means every entity
	Period    generic.Period
	Calendar  CalendarToggles
	Secondary Filters
}

// Validate checks the query before any network call is made.
func (q Query) Validate() error {
	var problems []error
	if q.Period.IsZero() {
		problems = append(problems, generic.ErrPeriodRequired)
	} else if err := q.Period.Validate(); err != nil {
		problems = append(problems, err)
	} else if days := q.Period.Len(); days > MaxPeriodDays {
		problems = append(problems, fmt.Errorf("%w: %d days, at most %d", generic.ErrPeriodTooLong, days, MaxPeriodDays))
	}
	switch {
	case q.Dimension == "":
		problems = append(problems, generic.ErrDimensionRequired)
	case !q.Dimension.Valid():
		problems = append(problems, fmt.Errorf("%w: %q", generic.ErrInvalidDimension, q.Dimension))
	}
	active := q.Secondary.Active()
	for _, d := range active {
		if !d.Valid() {
			problems = append(problems, fmt.Errorf("%w: secondary filter %q", generic.ErrInvalidDimension, d))
		} else if d == q.Dimension {
			problems = append(problems, fmt.Errorf("%w: %q is already the primary dimension", generic.ErrInvalidDimension, d))
		}
	}
	if len(active) > MaxSecondaryFilters {
		problems = append(problems, fmt.Errorf("%w: at most %d secondary filters", generic.ErrInvalidDimension, MaxSecondaryFilters))
	}
	if len(problems) > 0 {
		return &generic.ValidationError{Problems: problems}
	}
	return nil
}

func (q Query) Clone() Query {
	c := q
	c.EntityIDs = append([]string(nil), q.EntityIDs...)
	c.Calendar.IndividualDates = append([]generic.TimePoint(nil), q.Calendar.IndividualDates...)
	c.Secondary = q.Secondary.Clone()
	return c
}

// =============================================================================
// AGGREGATE CARD
// =============================================================================

// Counts are the distinct entities touched by a card's rules.
type Counts struct {
	Tasks        int
	Clients      int
	Products     int
	Responsibles int
	TaskTypes    int
}

// Card is the per-entity summary for one (dimension, entity).
type Card struct {
	Dimension Dimension
	EntityID  string
	Name      string

	Estimated  generic.Millis
	Realized   generic.Millis
	Pending    generic.Millis
	Contracted generic.Millis
	Available  generic.Millis

	Counts Counts

	// Responsible dimension only.
	ContractType  ContractType
	HourlyCost    generic.Money
	EstimatedCost generic.Money
	RealizedCost  generic.Money
	ValidDays     int

	RealizedLoaded bool
	ContractLoaded bool
	CostLoaded     bool
	DetailsLoaded  bool
}

// =============================================================================
// CROSS-CUTTING FIGURES (filled in by the Batch Loader)
// =============================================================================

type ContractType string

const (
	ContractCLT     ContractType = "CLT"
	ContractPJ      ContractType = "PJ"
	ContractUnknown ContractType = ""
)

// ParseContractType normalizes the upstream contract type.
func ParseContractType(s string) ContractType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CLT":
		return ContractCLT
	case "PJ":
		return ContractPJ
	}
	return ContractUnknown
}

// ContractInfo is the contract of one responsible.
type ContractInfo struct {
	HoursPerDay generic.Hours
	Type        ContractType
}

// RealizedTotal is realized and pending time of one entity.
type RealizedTotal struct {
	Realized generic.Millis
	Pending  generic.Millis
}

// TimeLog is one realized-time log row.
type TimeLog struct {
	ID            string
	TaskID        string
	ClientID      string
	ResponsibleID string
	Start         time.Time
	End           time.Time
	Duration      generic.Millis
}

// =============================================================================
// HELPERS
// =============================================================================

// splitIDs splits a comma-joined id list. Repeated ids are kept once so a
// rule never counts twice towards the same entity.
func splitIDs(joined string) []string {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func nonEmpty(id string) []string {
	if id == "" {
		return nil
	}
	return []string{id}
}

func anyIn(values, selected []string) bool {
	for _, v := range values {
		for _, s := range selected {
			if v == s {
				return true
			}
		}
	}
	return false
}
