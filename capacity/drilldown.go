/*
drilldown.go - Drill-down Controller

PURPOSE:
  Serves the three detail levels beneath a card:

  Level 1: rows of another dimension (tasks, clients, products,
           responsibles, task types) under the card. Comes from the server
           detail endpoint when the query allows it, else from the card's
           expansion. Cached per (entity, detail type).
  Level 2: rows of a third dimension under one level-1 row. Always a
           regrouping of the expansion; never touches the network.
  Level 3: realized-time log rows of one task. The only level that calls
           the time-log endpoint. The summed duration is max-merged into
           the card's realized figure.

SERVER LEVEL 1:
  Allowed when the query has a period, the primary dimension is one the
  endpoint groups by, and no individual dates are forced (the server knows
  nothing about them). A server failure falls back to local regrouping.

SEE ALSO:
  - expansion.go: the records regrouped here
  - cache.go: Detail / PutDetail / FoldRealized
*/
package capacity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/warp/capacity-engine/generic"
)

// serverDetailDimensions are the primary dimensions the detail endpoint
// groups by.
var serverDetailDimensions = map[Dimension]bool{
	DimensionResponsible: true,
	DimensionClient:      true,
	DimensionProduct:     true,
	DimensionTask:        true,
}

type Drilldown struct {
	src        DetailSource
	cache      *Cache
	expansions *ExpansionQueue
	logger     *slog.Logger
	group      singleflight.Group

	// Timeout bounds a shared fetch. Waiters come and go; the fetch runs on
	// a context detached from all of them.
	Timeout time.Duration
}

func NewDrilldown(src DetailSource, cache *Cache, expansions *ExpansionQueue, logger *slog.Logger) *Drilldown {
	return &Drilldown{
		src:        src,
		cache:      cache,
		expansions: expansions,
		logger:     logger.With(slog.String("component", "drilldown")),
		Timeout:    DefaultTimeout,
	}
}

// shared returns the context a singleflight fetch runs on. It keeps the
// caller's values but not its cancellation.
func (d *Drilldown) shared(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d.Timeout)
}

// ServerAllowed reports whether level 1 may come from the server.
func ServerAllowed(q Query) bool {
	return !q.Period.IsZero() &&
		serverDetailDimensions[q.Dimension] &&
		len(q.Calendar.IndividualDates) == 0
}

// =============================================================================
// LEVEL 1
// =============================================================================

func (d *Drilldown) Level1(ctx context.Context, entityID string, detailType Dimension) ([]DetailRow, error) {
	gen, data, err := d.cardContext(entityID, detailType)
	if err != nil {
		return nil, err
	}
	level := string(detailType)
	if rows, ok := d.cache.Detail(entityID, level); ok {
		return rows, nil
	}

	key := fmt.Sprintf("l1/%d/%s/%s", gen, entityID, level)
	v, err, _ := d.group.Do(key, func() (any, error) {
		ctx, cancel := d.shared(ctx)
		defer cancel()
		rows, err := d.level1(ctx, data, entityID, detailType)
		if err != nil {
			return nil, err
		}
		if err := d.cache.PutDetail(gen, entityID, level, rows); err != nil {
			return nil, err
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]DetailRow), nil
}

func (d *Drilldown) level1(ctx context.Context, data *cycleData, entityID string, detailType Dimension) ([]DetailRow, error) {
	q := data.query
	if ServerAllowed(q) {
		rows, err := d.src.CardDetails(ctx, DetailRequest{
			Dimension:       q.Dimension,
			EntityID:        entityID,
			DetailType:      detailType,
			Period:          q.Period,
			Secondary:       q.Secondary,
			IncludeWeekends: q.Calendar.IncludeWeekends,
			IncludeHolidays: q.Calendar.IncludeHolidays,
		})
		switch {
		case err == nil:
			for i := range rows {
				rows[i].Type = detailType
				rows[i].Source = SourceServer
				if rows[i].Name == "" {
					rows[i].Name = d.cache.Name(detailType, rows[i].ID)
				}
			}
			sortRows(rows)
			return rows, nil
		case generic.IsAbandoned(err), errors.Is(err, generic.ErrUnauthorized):
			return nil, err
		default:
			d.logger.Warn("server details failed, regrouping locally",
				slog.String("entity", entityID),
				slog.String("type", string(detailType)),
				slog.Any("error", err))
		}
	}

	exp, err := d.expansions.Expand(ctx, entityID)
	if err != nil {
		return nil, err
	}
	return GroupRecords(exp.Records, detailType, d.cache.Namer(detailType)), nil
}

// =============================================================================
// LEVEL 2
// =============================================================================

// Level2 regroups the records under one level-1 row by a third dimension.
func (d *Drilldown) Level2(ctx context.Context, entityID string, parentType Dimension, parentID string, detailType Dimension) ([]DetailRow, error) {
	gen, _, err := d.cardContext(entityID, parentType)
	if err != nil {
		return nil, err
	}
	if !detailType.Valid() || detailType == parentType {
		return nil, fmt.Errorf("%w: level 2 type %q", generic.ErrInvalidDimension, detailType)
	}
	level := strings.Join([]string{string(parentType), parentID, string(detailType)}, "/")
	if rows, ok := d.cache.Detail(entityID, level); ok {
		return rows, nil
	}

	exp, err := d.expansions.Expand(ctx, entityID)
	if err != nil {
		return nil, err
	}
	var under []ExplodedRecord
	for _, rec := range exp.Records {
		if contains(rec.Values(parentType), parentID) {
			under = append(under, rec)
		}
	}
	rows := GroupRecords(under, detailType, d.cache.Namer(detailType))
	if err := d.cache.PutDetail(gen, entityID, level, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// =============================================================================
// LEVEL 3
// =============================================================================

// Level3 fetches the time-log rows of one task under a card.
func (d *Drilldown) Level3(ctx context.Context, entityID, taskID string) ([]TimeLog, error) {
	gen, data, err := d.cardData(entityID)
	if err != nil {
		return nil, err
	}

	q := data.query
	req := TimeLogRequest{TaskID: taskID, Period: q.Period}
	switch q.Dimension {
	case DimensionResponsible:
		req.ResponsibleID = entityID
	case DimensionClient:
		req.ClientID = entityID
	}

	key := fmt.Sprintf("l3/%d/%s/%s", gen, entityID, taskID)
	v, err, _ := d.group.Do(key, func() (any, error) {
		ctx, cancel := d.shared(ctx)
		defer cancel()
		return d.src.TimeLogs(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	logs := v.([]TimeLog)

	var total generic.Millis
	for _, l := range logs {
		total += l.Duration
	}
	if err := d.cache.FoldRealized(gen, entityID, total); err != nil {
		return nil, err
	}
	return logs, nil
}

// cardData returns the cycle a card belongs to.
func (d *Drilldown) cardData(entityID string) (uint64, *cycleData, error) {
	gen, data := d.cache.current()
	if data == nil {
		return gen, nil, fmt.Errorf("card %s: %w", entityID, generic.ErrEntityNotFound)
	}
	if _, ok := d.cache.Card(entityID); !ok {
		return gen, nil, fmt.Errorf("card %s: %w", entityID, generic.ErrEntityNotFound)
	}
	return gen, data, nil
}

// cardContext also checks that the detail type differs from the primary
// dimension.
func (d *Drilldown) cardContext(entityID string, detailType Dimension) (uint64, *cycleData, error) {
	gen, data, err := d.cardData(entityID)
	if err != nil {
		return gen, nil, err
	}
	if !detailType.Valid() || detailType == data.query.Dimension {
		return gen, data, fmt.Errorf("%w: detail type %q", generic.ErrInvalidDimension, detailType)
	}
	return gen, data, nil
}

// =============================================================================
// REGROUPING
// =============================================================================

type rowAcc struct {
	estimated generic.Millis
	days      map[string]struct{}
	rules     map[string]struct{}
}

// GroupRecords groups exploded records by one dimension. A record listing
// several clients counts fully toward each of them.
func GroupRecords(records []ExplodedRecord, by Dimension, name func(string) string) []DetailRow {
	accs := make(map[string]*rowAcc)
	for _, rec := range records {
		for _, id := range rec.Values(by) {
			a, ok := accs[id]
			if !ok {
				a = &rowAcc{days: map[string]struct{}{}, rules: map[string]struct{}{}}
				accs[id] = a
			}
			a.estimated += rec.DailyEstimated
			a.days[rec.Date] = struct{}{}
			a.rules[rec.RuleID] = struct{}{}
		}
	}
	rows := make([]DetailRow, 0, len(accs))
	for id, a := range accs {
		row := DetailRow{
			Type:      by,
			ID:        id,
			Name:      id,
			Estimated: a.estimated,
			Days:      len(a.days),
			Rules:     len(a.rules),
			Source:    SourceLocal,
		}
		if name != nil {
			row.Name = name(id)
		}
		rows = append(rows, row)
	}
	sortRows(rows)
	return rows
}

func sortRows(rows []DetailRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Estimated != rows[j].Estimated {
			return rows[i].Estimated > rows[j].Estimated
		}
		return rows[i].ID < rows[j].ID
	})
}
