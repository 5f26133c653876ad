package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/warp/capacity-engine/capacity"
	"github.com/warp/capacity-engine/generic"
)

// =============================================================================
// ALLOCATION RULES
// =============================================================================

// Rules fetches every allocation rule of the period for the primary
// selection. Secondary filters are applied by the engine.
func (c *Client) Rules(ctx context.Context, req capacity.RulesRequest) ([]capacity.Rule, error) {
	params := rulesParams(req)
	longest := cloneValues(params)
	longest.Set("page", strconv.Itoa(maxPages))
	longest.Set("limit", strconv.Itoa(c.pageSize))

	var dtos []ruleDTO
	var err error
	if len(longest.Encode()) > maxQueryLength {
		dtos, err = paged(ctx, c.pageSize, func(ctx context.Context, page, limit int) (envelope[ruleDTO], error) {
			body := rulesBody{
				Start:           req.Period.Start.DateKey(),
				End:             req.Period.End.DateKey(),
				Dimension:       string(req.Dimension),
				IDs:             req.EntityIDs,
				IncludeWeekends: req.IncludeWeekends,
				IncludeHolidays: req.IncludeHolidays,
				Page:            page,
				Limit:           limit,
			}
			var env envelope[ruleDTO]
			err := c.do(ctx, http.MethodPost, "/tempo-estimado", nil, body, &env)
			return env, err
		})
	} else {
		dtos, err = getPaged[ruleDTO](ctx, c, "/tempo-estimado", params)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch rules: %w", err)
	}

	rules := make([]capacity.Rule, len(dtos))
	for i, d := range dtos {
		rules[i] = d.toRule()
	}
	return rules, nil
}

// EstimatedTotal asks the server for its own estimated total of a query.
func (c *Client) EstimatedTotal(ctx context.Context, req capacity.RulesRequest) (generic.Millis, error) {
	var out estimatedTotalDTO
	if err := c.do(ctx, http.MethodGet, "/tempo-estimado/total", rulesParams(req), nil, &out); err != nil {
		return 0, fmt.Errorf("fetch estimated total: %w", err)
	}
	return generic.Millis(out.Total), nil
}

func rulesParams(req capacity.RulesRequest) url.Values {
	params := url.Values{}
	params.Set("data_inicio", req.Period.Start.DateKey())
	params.Set("data_fim", req.Period.End.DateKey())
	params.Set("filtro_tipo", string(req.Dimension))
	if len(req.EntityIDs) > 0 {
		params.Set("ids", strings.Join(req.EntityIDs, ","))
	}
	params.Set("incluir_final_semana", strconv.FormatBool(req.IncludeWeekends))
	params.Set("incluir_feriados", strconv.FormatBool(req.IncludeHolidays))
	return params
}

// =============================================================================
// REALIZED TIME
// =============================================================================

// RealizedTotals returns realized and pending time per entity. Entities the
// server omits are simply absent from the map.
func (c *Client) RealizedTotals(ctx context.Context, req capacity.FigureRequest) (map[string]capacity.RealizedTotal, error) {
	body := figureBody{
		Dimension:  string(req.Dimension),
		IDs:        req.EntityIDs,
		Start:      req.Period.Start.DateKey(),
		End:        req.Period.End.DateKey(),
		Additional: additionalFilters(req.Secondary),
	}
	var env envelope[realizedDTO]
	if err := c.do(ctx, http.MethodPost, "/registro-tempo/realizado-total", nil, body, &env); err != nil {
		return nil, fmt.Errorf("fetch realized totals: %w", err)
	}

	out := make(map[string]capacity.RealizedTotal, len(env.Data))
	for _, d := range env.Data {
		out[string(d.ID)] = capacity.RealizedTotal{
			Realized: generic.Millis(d.Realized).ClampZero(),
			Pending:  generic.Millis(d.Pending).ClampZero(),
		}
	}
	return out, nil
}

// TimeLogs lists the realized-time rows of one task.
func (c *Client) TimeLogs(ctx context.Context, req capacity.TimeLogRequest) ([]capacity.TimeLog, error) {
	params := url.Values{}
	params.Set("tarefa_id", req.TaskID)
	if req.ClientID != "" {
		params.Set("cliente_id", req.ClientID)
	}
	if req.ResponsibleID != "" {
		params.Set("responsavel_id", req.ResponsibleID)
	}
	if !req.Period.IsZero() {
		params.Set("data_inicio", req.Period.Start.DateKey())
		params.Set("data_fim", req.Period.End.DateKey())
	}

	dtos, err := getPaged[timeLogDTO](ctx, c, "/registro-tempo", params)
	if err != nil {
		return nil, fmt.Errorf("fetch time logs: %w", err)
	}
	logs := make([]capacity.TimeLog, len(dtos))
	for i, d := range dtos {
		logs[i] = d.toTimeLog()
	}
	return logs, nil
}

// =============================================================================
// CARD DETAILS
// =============================================================================

// CardDetails fetches the server-aggregated level-1 rows of a card.
func (c *Client) CardDetails(ctx context.Context, req capacity.DetailRequest) ([]capacity.DetailRow, error) {
	body := detailBody{
		ID:              req.EntityID,
		DetailType:      string(req.DetailType),
		Start:           req.Period.Start.DateKey(),
		End:             req.Period.End.DateKey(),
		Additional:      additionalFilters(req.Secondary),
		IncludeWeekends: req.IncludeWeekends,
		IncludeHolidays: req.IncludeHolidays,
		IncludeDetails:  true,
	}
	path := "/gestao-capacidade/cards/" + url.PathEscape(string(req.Dimension)) + "/detalhes"

	var env envelope[detailDTO]
	if err := c.do(ctx, http.MethodPost, path, nil, body, &env); err != nil {
		return nil, fmt.Errorf("fetch card details: %w", err)
	}

	rows := make([]capacity.DetailRow, len(env.Data))
	for i, d := range env.Data {
		rows[i] = capacity.DetailRow{
			Type:      req.DetailType,
			ID:        string(d.ID),
			Name:      d.Name,
			Estimated: generic.Millis(d.Estimated),
			Realized:  generic.Millis(d.Realized),
			Pending:   generic.Millis(d.Pending),
			Days:      d.Days,
			Rules:     d.Rules,
			Source:    capacity.SourceServer,
		}
	}
	return rows, nil
}

// =============================================================================
// CONTRACTS AND COST
// =============================================================================

// ContractedHours returns the contract in force for each responsible.
func (c *Client) ContractedHours(ctx context.Context, responsibleIDs []string, period generic.Period) (map[string]capacity.ContractInfo, error) {
	ids, err := memberIDs(responsibleIDs)
	if err != nil {
		return nil, err
	}
	body := memberBody{MemberIDs: ids, Start: period.Start.DateKey(), End: period.End.DateKey()}

	var env envelope[contractDTO]
	if err := c.do(ctx, http.MethodPost, "/custo-colaborador-vigencia/horas-contratadas", nil, body, &env); err != nil {
		return nil, fmt.Errorf("fetch contracted hours: %w", err)
	}

	out := make(map[string]capacity.ContractInfo, len(env.Data))
	for _, d := range env.Data {
		out[string(d.MemberID)] = capacity.ContractInfo{
			HoursPerDay: generic.Hours{Value: d.HoursPerDay},
			Type:        capacity.ParseContractType(d.ContractType),
		}
	}
	return out, nil
}

// HourlyCosts returns the most recent hourly cost of each responsible at
// the end of the period.
func (c *Client) HourlyCosts(ctx context.Context, responsibleIDs []string, period generic.Period) (map[string]generic.Money, error) {
	ids, err := memberIDs(responsibleIDs)
	if err != nil {
		return nil, err
	}
	body := memberBody{MemberIDs: ids, End: period.End.DateKey()}

	var env envelope[costDTO]
	if err := c.do(ctx, http.MethodPost, "/custo-colaborador-vigencia/mais-recente", nil, body, &env); err != nil {
		return nil, fmt.Errorf("fetch hourly costs: %w", err)
	}

	out := make(map[string]generic.Money, len(env.Data))
	for _, d := range env.Data {
		out[string(d.MemberID)] = generic.Money{Value: d.HourlyCost}
	}
	return out, nil
}

// =============================================================================
// REFERENCE NAMES
// =============================================================================

var namePaths = map[capacity.Dimension]string{
	capacity.DimensionResponsible: "/membros-id-nome",
	capacity.DimensionProduct:     "/produtos",
	capacity.DimensionTask:        "/atividades",
	capacity.DimensionTaskType:    "/tipo-tarefa",
	capacity.DimensionClient:      "/vinculados",
}

// Names returns id -> display name for every entity of a dimension.
func (c *Client) Names(ctx context.Context, d capacity.Dimension) (map[string]string, error) {
	path, ok := namePaths[d]
	if !ok {
		return nil, fmt.Errorf("%w: %q", generic.ErrInvalidDimension, d)
	}

	out := make(map[string]string)
	if d == capacity.DimensionClient {
		rows, err := getPaged[linkedDTO](ctx, c, path, nil)
		if err != nil {
			return nil, fmt.Errorf("fetch %s names: %w", d, err)
		}
		for _, r := range rows {
			if id, name := r.pair(); id != "" && name != "" {
				out[id] = name
			}
		}
		return out, nil
	}

	rows, err := getPaged[namedDTO](ctx, c, path, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s names: %w", d, err)
	}
	for _, r := range rows {
		if r.ID != "" && r.Name != "" {
			out[string(r.ID)] = r.Name
		}
	}
	return out, nil
}
