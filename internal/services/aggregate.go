package services

import (
	"math"
	"regexp"
	"time"
)

// Aggregation engine: filters records to a date window and location scope,
// then accumulates metric values per record. All per-record failures
// (unparseable dates, unresolvable facilities, expression errors) exclude or
// zero that record and never abort the run.

// Window is a half-open date interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !t.Before(w.End) {
		return false
	}
	return true
}

// Open reports whether the window has no bounds at all.
func (w Window) Open() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

var facilityFieldPattern = regexp.MustCompile(`(?i)facility`)
var dateFieldPattern = regexp.MustCompile(`(?i)date`)

// FacilityField returns the first field whose label or name mentions a
// facility, used to resolve records against the directory.
func (r *Register) FacilityField() *Field {
	if r == nil {
		return nil
	}
	for _, f := range r.Fields {
		if facilityFieldPattern.MatchString(f.Label) || facilityFieldPattern.MatchString(f.Name) {
			return f
		}
	}
	return nil
}

// DateField guesses the reporting date field: first field whose label
// mentions a date or whose type is date/datetime.
func (r *Register) DateField() *Field {
	if r == nil {
		return nil
	}
	for _, f := range r.Fields {
		if dateFieldPattern.MatchString(f.Label) || f.Type == FieldDate || f.Type == FieldDateTime {
			return f
		}
	}
	return nil
}

// RecordBindings maps every field's value under both its label and its
// internal name so expressions may use either token form.
func RecordBindings(reg *Register, rec *Record) map[string]any {
	bindings := make(map[string]any, len(reg.Fields)*2)
	for _, f := range reg.Fields {
		v := rec.Values[f.Label]
		bindings[f.Label] = v
		if f.Name != "" {
			bindings[f.Name] = v
		}
	}
	return bindings
}

type Aggregator struct {
	directory *FacilityDirectory
	warn      EvalWarnFunc
}

func NewAggregator(directory *FacilityDirectory) *Aggregator {
	return &Aggregator{directory: directory}
}

// WithWarnings returns a copy of the aggregator that routes expression
// failures to fn. The receiver is left untouched, so concurrent runs each
// carry their own hook.
func (a Aggregator) WithWarnings(fn EvalWarnFunc) *Aggregator {
	a.warn = fn
	return &a
}

// FilterRecords returns the records belonging to reg whose date field value
// parses into win and which pass the location filter. Records missing a
// parseable date are silently excluded; records whose facility cannot be
// resolved are excluded only while a location dimension is active.
func (a *Aggregator) FilterRecords(reg *Register, records []*Record, win Window, dateFieldLabel string, loc LocationFilter) []*Record {
	facilityField := reg.FacilityField()
	if dateFieldLabel == "" {
		if f := reg.DateField(); f != nil {
			dateFieldLabel = f.Label
		}
	}
	var out []*Record
	for _, rec := range records {
		if rec.RegisterID != reg.ID {
			continue
		}
		bindings := RecordBindings(reg, rec)
		if !win.Open() {
			t, ok := parseRecordDate(bindings[dateFieldLabel])
			if !ok || !win.Contains(t) {
				continue
			}
		}
		if facilityField != nil && loc.Active() {
			if !a.matchesLocation(toText(bindings[facilityField.Label]), loc) {
				continue
			}
		}
		out = append(out, rec)
	}
	return out
}

func (a *Aggregator) matchesLocation(facilityValue string, loc LocationFilter) bool {
	if facilityValue == "" {
		return false
	}
	fac := a.directory.Lookup(facilityValue)
	if fac == nil {
		return false
	}
	if loc.Region != "" && fac.Region != loc.Region {
		return false
	}
	if loc.Zone != "" && fac.Zone != loc.Zone {
		return false
	}
	if loc.District != "" && fac.District != loc.District {
		return false
	}
	if loc.Facility != "" && fac.Name != loc.Facility {
		return false
	}
	return true
}

// RunMetrics filters records and computes every active metric over the
// filtered set, keyed by metric name.
func (a *Aggregator) RunMetrics(reg *Register, records []*Record, metrics []*Metric, win Window, dateFieldLabel string, loc LocationFilter) map[string]float64 {
	filtered := a.FilterRecords(reg, records, win, dateFieldLabel, loc)
	return a.computeMetrics(reg, filtered, metrics)
}

func (a *Aggregator) computeMetrics(reg *Register, records []*Record, metrics []*Metric) map[string]float64 {
	totals := map[string]float64{}
	for _, m := range metrics {
		if !m.Active {
			continue
		}
		totals[m.Name] = 0
	}
	for _, rec := range records {
		bindings := RecordBindings(reg, rec)
		for _, m := range metrics {
			if !m.Active {
				continue
			}
			totals[m.Name] += a.metricValue(m, bindings)
		}
	}
	return totals
}

func (a *Aggregator) metricValue(m *Metric, bindings map[string]any) float64 {
	switch m.Type {
	case MetricSum:
		field := ExtractFieldToken(m.Expression)
		if field == "" {
			return 0
		}
		n := toNumber(bindings[field])
		if math.IsNaN(n) {
			// Non-numeric or missing values sum as 0.
			return 0
		}
		return n
	case MetricCustom:
		return EvaluateNumber(m.Expression, bindings, a.warn)
	default: // count
		if EvaluateCondition(m.Expression, bindings, a.warn) {
			return 1
		}
		return 0
	}
}

// IndicatorResult nests the overall totals with per-disaggregation group
// results. Groups are independent conditions: a record may contribute to
// zero, one, or several groups of the same disaggregation.
type IndicatorResult struct {
	Total  map[string]float64 `json:"total"`
	Groups []GroupResult      `json:"groups"`
}

type GroupResult struct {
	Field   string                        `json:"field"`
	Results map[string]map[string]float64 `json:"results"`
}

// RunIndicator computes an indicator's data elements and disaggregations
// over the records filtered by win and loc.
func (a *Aggregator) RunIndicator(reg *Register, records []*Record, ind *Indicator, win Window, dateFieldLabel string, loc LocationFilter) *IndicatorResult {
	filtered := a.FilterRecords(reg, records, win, dateFieldLabel, loc)
	result := &IndicatorResult{Total: a.computeMetrics(reg, filtered, ind.Elements)}
	for _, disagg := range ind.Disaggregations {
		gr := GroupResult{Field: disagg.Field, Results: map[string]map[string]float64{}}
		for _, grp := range disagg.Groups {
			var matching []*Record
			for _, rec := range filtered {
				if EvaluateCondition(grp.Condition, RecordBindings(reg, rec), a.warn) {
					matching = append(matching, rec)
				}
			}
			gr.Results[grp.Name] = a.computeMetrics(reg, matching, ind.Elements)
		}
		result.Groups = append(result.Groups, gr)
	}
	return result
}

// parseRecordDate accepts the date formats records carry: plain dates,
// datetime-local values, and RFC3339 timestamps.
func parseRecordDate(v any) (time.Time, bool) {
	s := toText(v)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range [...]string{"2006-01-02", "2006-01-02T15:04", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
