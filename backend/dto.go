package backend

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/capacity-engine/capacity"
	"github.com/warp/capacity-engine/generic"
)

// =============================================================================
// WIRE FORMATS
// =============================================================================
// Field names are the upstream API's. Ids arrive as numbers from some
// endpoints and strings from others; flexID accepts both.

// envelope is the paginated list answer.
type envelope[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// flexID decodes a JSON number, string or null into a string id.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type ruleDTO struct {
	ID              flexID    `json:"id"`
	BucketID        flexID    `json:"agrupador_id"`
	ResponsibleID   flexID    `json:"responsavel_id"`
	ClientID        flexID    `json:"cliente_id"`
	ProductID       flexID    `json:"produto_id"`
	TaskID          flexID    `json:"tarefa_id"`
	TaskTypeID      flexID    `json:"tipo_tarefa_id"`
	DailyEstimated  int64     `json:"tempo_estimado_dia"`
	Start           *string   `json:"data_inicio"`
	End             *string   `json:"data_fim"`
	IncludeWeekends *bool     `json:"incluir_final_semana"`
	IncludeHolidays *bool     `json:"incluir_feriados"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (d ruleDTO) toRule() capacity.Rule {
	return capacity.Rule{
		ID:              string(d.ID),
		BucketID:        string(d.BucketID),
		ResponsibleID:   string(d.ResponsibleID),
		ClientID:        string(d.ClientID),
		ProductID:       string(d.ProductID),
		TaskID:          string(d.TaskID),
		TaskTypeID:      string(d.TaskTypeID),
		DailyEstimated:  generic.Millis(d.DailyEstimated),
		Start:           optionalDate(d.Start),
		End:             optionalDate(d.End),
		IncludeWeekends: d.IncludeWeekends,
		IncludeHolidays: d.IncludeHolidays,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// rulesBody is the POST form of the rule query, used when the GET query
// string would be too long.
type rulesBody struct {
	Start           string   `json:"data_inicio"`
	End             string   `json:"data_fim"`
	Dimension       string   `json:"filtro_tipo"`
	IDs             []string `json:"ids,omitempty"`
	IncludeWeekends bool     `json:"incluir_final_semana"`
	IncludeHolidays bool     `json:"incluir_feriados"`
	Page            int      `json:"page"`
	Limit           int      `json:"limit"`
}

type estimatedTotalDTO struct {
	Total int64 `json:"tempo_estimado_total"`
}

type figureBody struct {
	Dimension  string              `json:"filtro_tipo"`
	IDs        []string            `json:"ids"`
	Start      string              `json:"data_inicio"`
	End        string              `json:"data_fim"`
	Additional map[string][]string `json:"filtros_adicionais,omitempty"`
}

type realizedDTO struct {
	ID       flexID `json:"id"`
	Realized int64  `json:"tempo_realizado_ms"`
	Pending  int64  `json:"tempo_pendente_ms"`
}

type timeLogDTO struct {
	ID            flexID    `json:"id"`
	TaskID        flexID    `json:"tarefa_id"`
	ClientID      flexID    `json:"cliente_id"`
	ResponsibleID flexID    `json:"responsavel_id"`
	Start         time.Time `json:"data_inicio"`
	End           time.Time `json:"data_fim"`
	Duration      int64     `json:"tempo_realizado_ms"`
}

func (d timeLogDTO) toTimeLog() capacity.TimeLog {
	duration := generic.Millis(d.Duration)
	if duration == 0 && !d.Start.IsZero() && d.End.After(d.Start) {
		duration = generic.Millis(d.End.Sub(d.Start).Milliseconds())
	}
	return capacity.TimeLog{
		ID:            string(d.ID),
		TaskID:        string(d.TaskID),
		ClientID:      string(d.ClientID),
		ResponsibleID: string(d.ResponsibleID),
		Start:         d.Start,
		End:           d.End,
		Duration:      duration,
	}
}

type detailBody struct {
	ID              string              `json:"id"`
	DetailType      string              `json:"tipo_detalhe"`
	Start           string              `json:"data_inicio"`
	End             string              `json:"data_fim"`
	Additional      map[string][]string `json:"filtros_adicionais,omitempty"`
	IncludeWeekends bool                `json:"incluir_final_semana"`
	IncludeHolidays bool                `json:"incluir_feriados"`
	IncludeDetails  bool                `json:"incluir_detalhes"`
}

type detailDTO struct {
	ID        flexID `json:"id"`
	Name      string `json:"nome"`
	Estimated int64  `json:"tempo_estimado_ms"`
	Realized  int64  `json:"tempo_realizado_ms"`
	Pending   int64  `json:"tempo_pendente_ms"`
	Days      int    `json:"dias"`
	Rules     int    `json:"regras"`
}

type memberBody struct {
	MemberIDs []int64 `json:"membro_ids"`
	Start     string  `json:"data_inicio,omitempty"`
	End       string  `json:"data_fim"`
}

type contractDTO struct {
	MemberID     flexID          `json:"membro_id"`
	HoursPerDay  decimal.Decimal `json:"horas_contratadas_dia"`
	ContractType string          `json:"tipo_contrato"`
}

type costDTO struct {
	MemberID   flexID          `json:"membro_id"`
	HourlyCost decimal.Decimal `json:"custo_hora"`
}

type namedDTO struct {
	ID   flexID `json:"id"`
	Name string `json:"nome"`
}

// linkedDTO is a row of /vinculados: a client linked to the company.
type linkedDTO struct {
	ClientID   flexID `json:"cliente_id"`
	ClientName string `json:"cliente_nome"`
	ID         flexID `json:"id"`
	Name       string `json:"nome"`
}

func (d linkedDTO) pair() (string, string) {
	id, name := string(d.ClientID), d.ClientName
	if id == "" {
		id = string(d.ID)
	}
	if name == "" {
		name = d.Name
	}
	return id, name
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func optionalDate(s *string) *generic.TimePoint {
	if s == nil || *s == "" {
		return nil
	}
	tp, err := generic.ParseDate(*s)
	if err != nil {
		return nil
	}
	return &tp
}

// additionalFilters renders secondary filters the way the API expects.
func additionalFilters(f capacity.Filters) map[string][]string {
	active := f.Active()
	if len(active) == 0 {
		return nil
	}
	out := make(map[string][]string, len(active))
	for _, d := range active {
		out[string(d)] = append([]string(nil), f[d]...)
	}
	return out
}

// memberIDs converts responsible ids to the integers the contract
// endpoints take.
func memberIDs(ids []string) ([]int64, error) {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return nil, &generic.InvalidIdentifierError{Kind: "responsible", ID: id}
		}
		out = append(out, n)
	}
	return out, nil
}
