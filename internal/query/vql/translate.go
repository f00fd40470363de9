package vql

import (
	"context"
	"strconv"
	"time"

	"github.com/vantage-observability/vantage/internal/model"
	"github.com/vantage-observability/vantage/internal/store"
)

// Row is one result row of an executed query: either a raw model.Row
// (SELECT *) or a map of projected aggregate values, optionally labeled
// with the service_name it was grouped by.
type Row struct {
	Raw     *model.Row
	Service string
	Agg     map[string]float64
}

const defaultWindow = time.Hour

// Execute translates q into one or more store.Adapter calls and returns
// the resulting rows. It never concatenates q's identifiers or literals
// into a query string; translation only selects which typed Adapter
// method and parameters to call.
func Execute(ctx context.Context, s store.Adapter, q *Query) ([]Row, error) {
	filter, window := toFilterAndWindow(q.Where)

	if q.Star {
		rows, err := s.QueryRange(ctx, filter, window, q.Limit)
		if err != nil {
			return nil, err
		}
		out := make([]Row, len(rows))
		for i := range rows {
			out[i] = Row{Raw: &rows[i]}
		}
		return out, nil
	}

	groupByService := false
	for _, g := range q.GroupBy {
		if g == "service_name" {
			groupByService = true
		}
	}

	if !groupByService {
		agg, err := aggregateOne(ctx, s, filter, window)
		if err != nil {
			return nil, err
		}
		return []Row{{Agg: project(q.Projection, agg)}}, nil
	}

	services, err := s.DistinctServices(ctx, window.Start)
	if err != nil {
		return nil, err
	}
	var out []Row
	for _, svc := range services {
		if filter.ServiceName != "" && filter.ServiceName != svc {
			continue
		}
		perService := filter
		perService.ServiceName = svc
		agg, err := aggregateOne(ctx, s, perService, window)
		if err != nil {
			return nil, err
		}
		out = append(out, Row{Service: svc, Agg: project(q.Projection, agg)})
		if len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// aggregateOne collapses the entire window into a single aggregate bucket.
func aggregateOne(ctx context.Context, s store.Adapter, f store.Filter, w store.Window) (model.AggregateRow, error) {
	width := w.End.Sub(w.Start)
	if width <= 0 {
		width = defaultWindow
	}
	buckets, err := s.QueryAggregates(ctx, f, w, width)
	if err != nil {
		return model.AggregateRow{}, err
	}
	if len(buckets) == 0 {
		return model.AggregateRow{}, nil
	}
	return buckets[0], nil
}

func project(exprs []AggExpr, agg model.AggregateRow) map[string]float64 {
	out := make(map[string]float64, len(exprs))
	for _, e := range exprs {
		switch e.Func {
		case "AVG":
			out["avg_"+e.Ident] = agg.Avg
		case "SUM":
			out["sum_"+e.Ident] = agg.Avg * float64(agg.Count)
		case "MIN":
			out["min_"+e.Ident] = agg.Min
		case "MAX":
			out["max_"+e.Ident] = agg.Max
		case "COUNT":
			out["count_"+e.Ident] = float64(agg.Count)
		case "P50":
			out["p50_"+e.Ident] = agg.P50
		case "P95":
			out["p95_"+e.Ident] = agg.P95
		case "P99":
			out["p99_"+e.Ident] = agg.P99
		default:
			// bare identifier projection on an aggregate query; surface
			// the average as the closest meaningful scalar.
			out[e.Ident] = agg.Avg
		}
	}
	return out
}

// toFilterAndWindow extracts the equality and timestamp-range terms VQL's
// WHERE clause supports mapping onto store.Filter/store.Window. Terms on
// columns the store can't filter by are dropped; Execute's callers only
// ever construct Filter/Window this way, never from raw strings.
func toFilterAndWindow(conds []Cond) (store.Filter, store.Window) {
	var f store.Filter
	w := store.Window{End: time.Now()}
	w.Start = w.End.Add(-defaultWindow)

	for _, c := range conds {
		switch c.Ident {
		case "service_name":
			if c.Op == OpEq {
				f.ServiceName = c.Literal.Str
			}
		case "metric_name":
			if c.Op == OpEq {
				f.MetricName = c.Literal.Str
			}
		case "endpoint":
			if c.Op == OpEq {
				f.Endpoint = c.Literal.Str
			}
		case "method":
			if c.Op == OpEq {
				f.Method = c.Literal.Str
			}
		case "status_code":
			if c.Op == OpEq {
				f.StatusCode = int(c.Literal.Num)
			}
		case "timestamp":
			if t, ok := asTime(c.Literal); ok {
				switch c.Op {
				case OpGte, OpGt:
					w.Start = t
				case OpLte, OpLt:
					w.End = t
				}
			}
		}
	}
	return f, w
}

// asTime interprets a literal as a unix millisecond timestamp, the wire
// format spec.md §3 uses for `timestamp`.
func asTime(l Literal) (time.Time, bool) {
	switch l.Kind {
	case LiteralInt, LiteralFloat:
		return time.UnixMilli(int64(l.Num)), true
	case LiteralString:
		if ms, err := strconv.ParseInt(l.Str, 10, 64); err == nil {
			return time.UnixMilli(ms), true
		}
		if t, err := time.Parse(time.RFC3339, l.Str); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
