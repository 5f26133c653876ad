/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's types from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Sessions:
    SessionDTO, QueryRequest, SecondaryRequest

  Cards:
    CardDTO, CardsResponse, ExpansionDTO, RecordDTO

  Drill-down:
    DetailRowDTO, TimeLogDTO

  Holidays / audit:
    HolidayDTO, CreateHolidayRequest, DefaultHolidaysRequest, CycleDTO

DURATIONS:
  Every duration is sent in milliseconds (*_ms) as the upstream API does,
  plus a decimal hours string for display where cards show hours.

VALIDATION:
  Validation is done by the engine (capacity.Query.Validate), not in DTOs.
  DTOs only convert and report malformed dates.

SEE ALSO:
  - handlers.go: Uses these types
  - capacity/types.go: Engine types
*/
package api

import (
	"fmt"
	"sort"
	"time"

	"github.com/warp/capacity-engine/capacity"
	"github.com/warp/capacity-engine/generic"
)

// =============================================================================
// SESSIONS AND QUERIES
// =============================================================================

// QueryRequest is one "Aplicar Filtros" selection.
type QueryRequest struct {
	Dimension       string              `json:"dimension"`
	EntityIDs       []string            `json:"entity_ids,omitempty"`
	PeriodStart     string              `json:"period_start"`
	PeriodEnd       string              `json:"period_end"`
	IncludeWeekends bool                `json:"include_weekends"`
	IncludeHolidays bool                `json:"include_holidays"`
	IndividualDates []string            `json:"individual_dates,omitempty"`
	Secondary       map[string][]string `json:"secondary,omitempty"`
}

// toQuery converts the request. Malformed dates are reported as
// validation errors; everything else is left to Query.Validate.
func (r QueryRequest) toQuery() (capacity.Query, error) {
	var problems []error
	q := capacity.Query{
		Dimension: capacity.Dimension(r.Dimension),
		EntityIDs: r.EntityIDs,
		Calendar: capacity.CalendarToggles{
			IncludeWeekends: r.IncludeWeekends,
			IncludeHolidays: r.IncludeHolidays,
		},
	}

	if r.PeriodStart != "" || r.PeriodEnd != "" {
		start, err := generic.ParseDate(r.PeriodStart)
		if err != nil {
			problems = append(problems, fmt.Errorf("%w: period_start: %v", generic.ErrInvalidPeriod, err))
		}
		end, err := generic.ParseDate(r.PeriodEnd)
		if err != nil {
			problems = append(problems, fmt.Errorf("%w: period_end: %v", generic.ErrInvalidPeriod, err))
		}
		q.Period = generic.Period{Start: start, End: end}
	}

	for _, s := range r.IndividualDates {
		tp, err := generic.ParseDate(s)
		if err != nil {
			problems = append(problems, fmt.Errorf("%w: individual date: %v", generic.ErrInvalidPeriod, err))
			continue
		}
		q.Calendar.IndividualDates = append(q.Calendar.IndividualDates, tp)
	}

	if len(r.Secondary) > 0 {
		q.Secondary = make(capacity.Filters, len(r.Secondary))
		for d, ids := range r.Secondary {
			q.Secondary[capacity.Dimension(d)] = ids
		}
	}

	if len(problems) > 0 {
		return capacity.Query{}, &generic.ValidationError{Problems: problems}
	}
	return q, nil
}

func toQueryRequest(q capacity.Query) *QueryRequest {
	r := &QueryRequest{
		Dimension:       string(q.Dimension),
		EntityIDs:       q.EntityIDs,
		PeriodStart:     q.Period.Start.DateKey(),
		PeriodEnd:       q.Period.End.DateKey(),
		IncludeWeekends: q.Calendar.IncludeWeekends,
		IncludeHolidays: q.Calendar.IncludeHolidays,
	}
	for _, d := range q.Calendar.IndividualDates {
		r.IndividualDates = append(r.IndividualDates, d.DateKey())
	}
	if active := q.Secondary.Active(); len(active) > 0 {
		r.Secondary = make(map[string][]string, len(active))
		for _, d := range active {
			r.Secondary[string(d)] = q.Secondary[d]
		}
	}
	return r
}

// SecondaryRequest replaces the selection of one secondary filter.
type SecondaryRequest struct {
	IDs []string `json:"ids"`
}

// SessionDTO represents a session in API responses.
type SessionDTO struct {
	ID           string              `json:"id"`
	State        string              `json:"state"`
	Query        *QueryRequest       `json:"query,omitempty"`
	Options      map[string][]string `json:"options"`
	AuthRequired bool                `json:"auth_required"`
	CreatedAt    string              `json:"created_at"`
	LastUsedAt   string              `json:"last_used_at"`
}

func toSessionDTO(s *capacity.Session) SessionDTO {
	dto := SessionDTO{
		ID:           s.ID,
		State:        s.State().String(),
		Options:      map[string][]string{},
		AuthRequired: s.AuthRequired(),
		CreatedAt:    s.CreatedAt.UTC().Format(time.RFC3339),
		LastUsedAt:   s.LastUsed().UTC().Format(time.RFC3339),
	}
	if q, ok := s.Query(); ok {
		dto.Query = toQueryRequest(q)
	}
	for d, ids := range s.Options() {
		dto.Options[string(d)] = ids
	}
	return dto
}

// =============================================================================
// CARDS
// =============================================================================

type CountsDTO struct {
	Tasks        int `json:"tasks"`
	Clients      int `json:"clients"`
	Products     int `json:"products"`
	Responsibles int `json:"responsibles"`
	TaskTypes    int `json:"task_types"`
}

// CardDTO represents one aggregate card.
type CardDTO struct {
	Dimension      string    `json:"dimension"`
	EntityID       string    `json:"entity_id"`
	Name           string    `json:"name"`
	EstimatedMs    int64     `json:"estimated_ms"`
	RealizedMs     int64     `json:"realized_ms"`
	PendingMs      int64     `json:"pending_ms"`
	ContractedMs   int64     `json:"contracted_ms"`
	AvailableMs    int64     `json:"available_ms"`
	EstimatedHours string    `json:"estimated_hours"`
	RealizedHours  string    `json:"realized_hours"`
	Counts         CountsDTO `json:"counts"`

	ContractType  string `json:"contract_type,omitempty"`
	HourlyCost    string `json:"hourly_cost,omitempty"`
	EstimatedCost string `json:"estimated_cost,omitempty"`
	RealizedCost  string `json:"realized_cost,omitempty"`
	ValidDays     int    `json:"valid_days,omitempty"`

	RealizedLoaded bool `json:"realized_loaded"`
	ContractLoaded bool `json:"contract_loaded"`
	CostLoaded     bool `json:"cost_loaded"`
	DetailsLoaded  bool `json:"details_loaded"`
}

func toCardDTO(c capacity.Card) CardDTO {
	dto := CardDTO{
		Dimension:      string(c.Dimension),
		EntityID:       c.EntityID,
		Name:           c.Name,
		EstimatedMs:    int64(c.Estimated),
		RealizedMs:     int64(c.Realized),
		PendingMs:      int64(c.Pending),
		ContractedMs:   int64(c.Contracted),
		AvailableMs:    int64(c.Available),
		EstimatedHours: c.Estimated.Hours().StringFixed(2),
		RealizedHours:  c.Realized.Hours().StringFixed(2),
		Counts: CountsDTO{
			Tasks:        c.Counts.Tasks,
			Clients:      c.Counts.Clients,
			Products:     c.Counts.Products,
			Responsibles: c.Counts.Responsibles,
			TaskTypes:    c.Counts.TaskTypes,
		},
		ContractType:   string(c.ContractType),
		ValidDays:      c.ValidDays,
		RealizedLoaded: c.RealizedLoaded,
		ContractLoaded: c.ContractLoaded,
		CostLoaded:     c.CostLoaded,
		DetailsLoaded:  c.DetailsLoaded,
	}
	if c.CostLoaded {
		dto.HourlyCost = c.HourlyCost.String()
		dto.EstimatedCost = c.EstimatedCost.String()
		dto.RealizedCost = c.RealizedCost.String()
	}
	return dto
}

// CardsResponse is the card list plus the warnings raised since the last
// read. Warnings are delivered once. A session that needs a new login
// answers 401 instead; SessionDTO.AuthRequired carries the flag.
type CardsResponse struct {
	State    string    `json:"state"`
	Cards    []CardDTO `json:"cards"`
	Warnings []string  `json:"warnings"`
}

// RecordDTO is one exploded rule-day.
type RecordDTO struct {
	RuleID      string   `json:"rule_id"`
	Date        string   `json:"date"`
	EstimatedMs int64    `json:"estimated_ms"`
	Responsible string   `json:"responsible_id,omitempty"`
	Clients     []string `json:"client_ids,omitempty"`
	Product     string   `json:"product_id,omitempty"`
	Task        string   `json:"task_id,omitempty"`
	TaskType    string   `json:"task_type_id,omitempty"`
}

// ExpansionDTO is an expanded card with its day records grouped by bucket.
type ExpansionDTO struct {
	Card    CardDTO                `json:"card"`
	Records int                    `json:"records"`
	Buckets map[string][]RecordDTO `json:"buckets"`
}

func toExpansionDTO(e *capacity.Expansion) ExpansionDTO {
	dto := ExpansionDTO{
		Card:    toCardDTO(e.Card),
		Records: len(e.Records),
		Buckets: make(map[string][]RecordDTO, len(e.Buckets)),
	}
	for bucket, records := range e.Buckets {
		rows := make([]RecordDTO, len(records))
		for i, r := range records {
			rows[i] = RecordDTO{
				RuleID:      r.RuleID,
				Date:        r.Date,
				EstimatedMs: int64(r.DailyEstimated),
				Responsible: r.ResponsibleID,
				Clients:     r.ClientIDs,
				Product:     r.ProductID,
				Task:        r.TaskID,
				TaskType:    r.TaskTypeID,
			}
		}
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].Date != rows[j].Date {
				return rows[i].Date < rows[j].Date
			}
			return rows[i].RuleID < rows[j].RuleID
		})
		dto.Buckets[bucket] = rows
	}
	return dto
}

// =============================================================================
// DRILL-DOWN
// =============================================================================

type DetailRowDTO struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	EstimatedMs int64  `json:"estimated_ms"`
	RealizedMs  int64  `json:"realized_ms"`
	PendingMs   int64  `json:"pending_ms"`
	Days        int    `json:"days"`
	Rules       int    `json:"rules"`
	Source      string `json:"source"`
}

func toDetailRowDTOs(rows []capacity.DetailRow) []DetailRowDTO {
	out := make([]DetailRowDTO, len(rows))
	for i, r := range rows {
		out[i] = DetailRowDTO{
			Type:        string(r.Type),
			ID:          r.ID,
			Name:        r.Name,
			EstimatedMs: int64(r.Estimated),
			RealizedMs:  int64(r.Realized),
			PendingMs:   int64(r.Pending),
			Days:        r.Days,
			Rules:       r.Rules,
			Source:      r.Source,
		}
	}
	return out
}

type TimeLogDTO struct {
	ID            string `json:"id"`
	TaskID        string `json:"task_id"`
	ClientID      string `json:"client_id,omitempty"`
	ResponsibleID string `json:"responsible_id,omitempty"`
	Start         string `json:"start,omitempty"`
	End           string `json:"end,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
}

func toTimeLogDTOs(logs []capacity.TimeLog) []TimeLogDTO {
	out := make([]TimeLogDTO, len(logs))
	for i, l := range logs {
		out[i] = TimeLogDTO{
			ID:            l.ID,
			TaskID:        l.TaskID,
			ClientID:      l.ClientID,
			ResponsibleID: l.ResponsibleID,
			Start:         formatTime(l.Start),
			End:           formatTime(l.End),
			DurationMs:    int64(l.Duration),
		}
	}
	return out
}

// =============================================================================
// HOLIDAYS AND AUDIT
// =============================================================================

type HolidayDTO struct {
	ID        string `json:"id"`
	Date      string `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring"`
}

// CreateHolidayRequest creates a holiday. An empty ID gets a generated one.
type CreateHolidayRequest struct {
	ID        string `json:"id,omitempty"`
	Date      string `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring"`
}

// DefaultHolidaysRequest seeds the national holidays. Movable holidays
// are added for each listed year (default: current and next year).
type DefaultHolidaysRequest struct {
	Years []int `json:"years,omitempty"`
}

type CycleDTO struct {
	ID          string   `json:"id"`
	SessionID   string   `json:"session_id"`
	Dimension   string   `json:"dimension"`
	PeriodStart string   `json:"period_start,omitempty"`
	PeriodEnd   string   `json:"period_end,omitempty"`
	State       string   `json:"state"`
	Cards       int      `json:"cards"`
	Warnings    []string `json:"warnings,omitempty"`
	StartedAt   string   `json:"started_at"`
	CompletedAt string   `json:"completed_at"`
	DurationMs  int64    `json:"duration_ms"`
}

func toCycleDTO(c generic.CycleRecord) CycleDTO {
	dto := CycleDTO{
		ID:          c.ID,
		SessionID:   c.SessionID,
		Dimension:   c.Dimension,
		State:       c.State,
		Cards:       c.Cards,
		Warnings:    c.Warnings,
		StartedAt:   formatTime(c.StartedAt),
		CompletedAt: formatTime(c.CompletedAt),
		DurationMs:  c.CompletedAt.Sub(c.StartedAt).Milliseconds(),
	}
	if !c.Period.Start.IsZero() {
		dto.PeriodStart = c.Period.Start.DateKey()
	}
	if !c.Period.End.IsZero() {
		dto.PeriodEnd = c.Period.End.DateKey()
	}
	return dto
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
