package capacity

import (
	"context"

	"github.com/warp/capacity-engine/generic"
)

// =============================================================================
// UPSTREAM API - What the engine needs from the business backend
// =============================================================================
// The backend package implements these against the REST API. Tests use
// testify mocks.

// RulesRequest selects the allocation rules of one cycle. Secondary filters
// are applied locally so the same rule set can also feed contextual options.
type RulesRequest struct {
	Period          generic.Period
	Dimension       Dimension
	EntityIDs       []string
	IncludeWeekends bool
	IncludeHolidays bool
}

// FigureRequest selects cross-cutting figures for a batch of entities.
type FigureRequest struct {
	Dimension Dimension
	EntityIDs []string
	Period    generic.Period
	Secondary Filters
}

// DetailRequest asks the server for pre-aggregated level-1 rows of a card.
type DetailRequest struct {
	Dimension       Dimension
	EntityID        string
	DetailType      Dimension
	Period          generic.Period
	Secondary       Filters
	IncludeWeekends bool
	IncludeHolidays bool
}

// TimeLogRequest selects realized-time log rows of one task.
type TimeLogRequest struct {
	TaskID        string
	ClientID      string
	ResponsibleID string
	Period        generic.Period
}

type RuleSource interface {
	Rules(ctx context.Context, req RulesRequest) ([]Rule, error)
	EstimatedTotal(ctx context.Context, req RulesRequest) (generic.Millis, error)
}

type FigureSource interface {
	RealizedTotals(ctx context.Context, req FigureRequest) (map[string]RealizedTotal, error)
	ContractedHours(ctx context.Context, responsibleIDs []string, period generic.Period) (map[string]ContractInfo, error)
	HourlyCosts(ctx context.Context, responsibleIDs []string, period generic.Period) (map[string]generic.Money, error)
}

type DetailSource interface {
	CardDetails(ctx context.Context, req DetailRequest) ([]DetailRow, error)
	TimeLogs(ctx context.Context, req TimeLogRequest) ([]TimeLog, error)
}

type NameSource interface {
	Names(ctx context.Context, d Dimension) (map[string]string, error)
}

// Backend is the full upstream surface used by a session.
type Backend interface {
	RuleSource
	FigureSource
	DetailSource
	NameSource
}
