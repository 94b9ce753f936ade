package services

import (
	"testing"
	"time"
)

func testDirectory() *FacilityDirectory {
	return NewFacilityDirectory(
		[]Facility{
			{Name: "Tamale Teaching Hospital", Subdistrict: "Central", District: "Tamale Metro", Zone: "North Zone", Region: "Northern"},
			{Name: "Kalpohin Clinic", Subdistrict: "Kalpohin", District: "Tamale Metro", Zone: "North Zone", Region: "Northern"},
			{Name: "Ho Municipal Hospital", Subdistrict: "Ho Central", District: "Ho Municipal", Zone: "South Zone", Region: "Volta"},
		},
		[]CSOMapping{
			{District: "Tamale Metro", CSO: "Savannah Health Alliance"},
			{District: "Ho Municipal", CSO: "Volta Care Network"},
		},
	)
}

func ancRegister() *Register {
	return &Register{
		ID:   "reg1",
		Name: "ANC Visits",
		Fields: []*Field{
			{ID: "f1", Label: "Visit Date", Name: "visit_date", Type: FieldDate},
			{ID: "f2", Label: "Facility", Name: "facility", Type: FieldFacilityReferral},
			{ID: "f3", Label: "Status", Name: "status", Type: FieldSelectOne, Choices: []string{"Pregnant", "Breastfeeding"}},
			{ID: "f4", Label: "Age", Name: "age", Type: FieldInteger},
		},
	}
}

func ancRecord(id, date, facility, status string, age float64) *Record {
	return &Record{
		ID:         id,
		RegisterID: "reg1",
		Values: map[string]any{
			"Visit Date": date,
			"Facility":   facility,
			"Status":     status,
			"Age":        age,
		},
	}
}

func TestFilterRecordsByWeekWindow(t *testing.T) {
	reg := ancRegister()
	records := []*Record{
		ancRecord("r1", "2025-01-06", "Tamale Teaching Hospital", "Pregnant", 24),
		ancRecord("r2", "2025-01-07", "Kalpohin Clinic", "Breastfeeding", 31),
		ancRecord("r3", "2025-01-13", "Tamale Teaching Hospital", "Pregnant", 19),
	}
	start, end := WeekWindow(date(2025, time.January, 8))
	agg := NewAggregator(testDirectory())
	got := agg.FilterRecords(reg, records, Window{Start: start, End: end}, "Visit Date", LocationFilter{})
	if len(got) != 2 {
		t.Fatalf("filtered %d records, want 2", len(got))
	}
	for _, rec := range got {
		if rec.ID == "r3" {
			t.Fatalf("record on the window's exclusive end date should be out")
		}
	}
}

func TestFilterRecordsSkipsUnparseableDates(t *testing.T) {
	reg := ancRegister()
	records := []*Record{
		ancRecord("r1", "2025-01-06", "Kalpohin Clinic", "Pregnant", 24),
		ancRecord("r2", "not a date", "Kalpohin Clinic", "Pregnant", 24),
		ancRecord("r3", "", "Kalpohin Clinic", "Pregnant", 24),
	}
	agg := NewAggregator(testDirectory())
	got := agg.FilterRecords(reg, records, Window{Start: date(2025, time.January, 6), End: date(2025, time.January, 13)}, "Visit Date", LocationFilter{})
	if len(got) != 1 || got[0].ID != "r1" {
		t.Fatalf("filtered %d records, want just r1", len(got))
	}
}

func TestFilterRecordsByLocation(t *testing.T) {
	reg := ancRegister()
	records := []*Record{
		ancRecord("r1", "2025-01-06", "Tamale Teaching Hospital", "Pregnant", 24),
		ancRecord("r2", "2025-01-06", "Ho Municipal Hospital", "Pregnant", 28),
		ancRecord("r3", "2025-01-06", "Unknown Site", "Pregnant", 30),
	}
	win := Window{Start: date(2025, time.January, 6), End: date(2025, time.January, 13)}
	agg := NewAggregator(testDirectory())

	got := agg.FilterRecords(reg, records, win, "Visit Date", LocationFilter{Region: "Northern"})
	if len(got) != 1 || got[0].ID != "r1" {
		t.Fatalf("region filter kept %d records, want just r1", len(got))
	}

	// Unresolvable facilities are only excluded while a location is active.
	got = agg.FilterRecords(reg, records, win, "Visit Date", LocationFilter{})
	if len(got) != 3 {
		t.Fatalf("no location filter kept %d records, want 3", len(got))
	}

	got = agg.FilterRecords(reg, records, win, "Visit Date", LocationFilter{District: "Ho Municipal"})
	if len(got) != 1 || got[0].ID != "r2" {
		t.Fatalf("district filter kept %d records, want just r2", len(got))
	}
}

func TestRunMetricsCount(t *testing.T) {
	reg := ancRegister()
	records := []*Record{
		ancRecord("r1", "2025-01-06", "Kalpohin Clinic", "Pregnant", 24),
		ancRecord("r2", "2025-01-07", "Kalpohin Clinic", "Breastfeeding", 31),
		ancRecord("r3", "2025-01-08", "Kalpohin Clinic", "Pregnant", 19),
	}
	metrics := []*Metric{
		{ID: "m1", Name: "Pregnant clients", Expression: `{Status} = "Pregnant"`, Type: MetricCount, Active: true},
		{ID: "m2", Name: "Adults", Expression: `{Age} >= 18`, Type: MetricCount, Active: true},
		{ID: "m3", Name: "Inactive", Expression: `{Age} >= 0`, Type: MetricCount, Active: false},
	}
	agg := NewAggregator(testDirectory())
	win := Window{Start: date(2025, time.January, 6), End: date(2025, time.January, 13)}
	totals := agg.RunMetrics(reg, records, metrics, win, "Visit Date", LocationFilter{})
	if totals["Pregnant clients"] != 2 {
		t.Fatalf("pregnant = %v, want 2", totals["Pregnant clients"])
	}
	if totals["Adults"] != 3 {
		t.Fatalf("adults = %v, want 3", totals["Adults"])
	}
	if _, ok := totals["Inactive"]; ok {
		t.Fatalf("inactive metric should not run")
	}
}

func TestRunMetricsSumAndCustom(t *testing.T) {
	reg := &Register{
		ID:   "reg1",
		Name: "Commodity Issues",
		Fields: []*Field{
			{ID: "f1", Label: "Issue Date", Name: "issue_date", Type: FieldDate},
			{ID: "f2", Label: "Quantity", Name: "quantity", Type: FieldInteger},
			{ID: "f3", Label: "Unit Price", Name: "unit_price", Type: FieldDecimal},
		},
	}
	records := []*Record{
		{ID: "r1", RegisterID: "reg1", Values: map[string]any{"Issue Date": "2025-01-06", "Quantity": float64(10), "Unit Price": "2.5"}},
		{ID: "r2", RegisterID: "reg1", Values: map[string]any{"Issue Date": "2025-01-07", "Quantity": "4", "Unit Price": "1.0"}},
		{ID: "r3", RegisterID: "reg1", Values: map[string]any{"Issue Date": "2025-01-07", "Quantity": "n/a", "Unit Price": "1.0"}},
	}
	metrics := []*Metric{
		{ID: "m1", Name: "Items issued", Expression: `{Quantity}`, Type: MetricSum, Active: true},
		{ID: "m2", Name: "Value issued", Expression: `{Quantity} * {Unit Price}`, Type: MetricCustom, Active: true},
	}
	agg := NewAggregator(testDirectory())
	win := Window{Start: date(2025, time.January, 6), End: date(2025, time.January, 13)}
	totals := agg.RunMetrics(reg, records, metrics, win, "Issue Date", LocationFilter{})
	if totals["Items issued"] != 14 {
		t.Fatalf("sum = %v, want 14 (non-numeric counts as 0)", totals["Items issued"])
	}
	if totals["Value issued"] != 29 {
		t.Fatalf("custom = %v, want 29", totals["Value issued"])
	}
}

func TestRunMetricsZeroTotalsPresent(t *testing.T) {
	reg := ancRegister()
	metrics := []*Metric{
		{ID: "m1", Name: "Pregnant clients", Expression: `{Status} = "Pregnant"`, Type: MetricCount, Active: true},
	}
	agg := NewAggregator(testDirectory())
	totals := agg.RunMetrics(reg, nil, metrics, Window{Start: date(2025, time.January, 6), End: date(2025, time.January, 13)}, "Visit Date", LocationFilter{})
	if v, ok := totals["Pregnant clients"]; !ok || v != 0 {
		t.Fatalf("empty run should report an explicit 0, got %v (present=%v)", v, ok)
	}
}

func TestRunIndicatorDisaggregation(t *testing.T) {
	reg := ancRegister()
	records := []*Record{
		ancRecord("r1", "2025-01-06", "Kalpohin Clinic", "Pregnant", 17),
		ancRecord("r2", "2025-01-07", "Kalpohin Clinic", "Pregnant", 24),
		ancRecord("r3", "2025-01-08", "Kalpohin Clinic", "Breastfeeding", 31),
	}
	ind := &Indicator{
		ID:         "i1",
		Name:       "ANC clients",
		RegisterID: "reg1",
		Elements: []*Metric{
			{ID: "m1", Name: "Clients", Expression: `{Status} != ""`, Type: MetricCount, Active: true},
		},
		Disaggregations: []*Disaggregation{
			{
				Field: "Age",
				Groups: []*DisaggGroup{
					{Name: "<25", Condition: `{Age} < 25`},
					{Name: "<18", Condition: `{Age} < 18`}, // overlaps <25 on purpose
				},
			},
		},
	}
	agg := NewAggregator(testDirectory())
	res := agg.RunIndicator(reg, records, ind, Window{}, "Visit Date", LocationFilter{})
	if res.Total["Clients"] != 3 {
		t.Fatalf("total = %v, want 3", res.Total["Clients"])
	}
	if len(res.Groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(res.Groups))
	}
	g := res.Groups[0]
	if g.Results["<25"]["Clients"] != 2 {
		t.Fatalf("<25 = %v, want 2", g.Results["<25"]["Clients"])
	}
	// Groups overlap: r1 counts in both, and the sums exceed the total set.
	if g.Results["<18"]["Clients"] != 1 {
		t.Fatalf("<18 = %v, want 1", g.Results["<18"]["Clients"])
	}
}

func TestRecordBindingsDualKeys(t *testing.T) {
	reg := ancRegister()
	rec := ancRecord("r1", "2025-01-06", "Kalpohin Clinic", "Pregnant", 24)
	b := RecordBindings(reg, rec)
	if b["Status"] != "Pregnant" || b["status"] != "Pregnant" {
		t.Fatalf("bindings should carry both label and name keys: %v", b)
	}
}

func TestWithWarningsReturnsCopy(t *testing.T) {
	base := NewAggregator(testDirectory())
	hooked := base.WithWarnings(func(string, error) {})
	if hooked == base {
		t.Fatalf("WithWarnings should not return the shared aggregator")
	}
	if base.warn != nil {
		t.Fatalf("warn hook leaked into the shared aggregator")
	}
}
