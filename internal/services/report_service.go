package services

import (
	"strings"
	"time"
)

type ReportStore interface {
	GetRegister(id string) (*Register, error)
	ListRecords(registerID string) ([]*Record, error)
	InsertReport(r *Report) error
	GetReport(id string) (*Report, error)
	UpdateReport(r *Report) error
	DeleteReport(id string) error
	ListReports() ([]*Report, error)
	InsertIndicator(ind *Indicator) error
	GetIndicator(id string) (*Indicator, error)
	UpdateIndicator(ind *Indicator) error
	DeleteIndicator(id string) error
	ListIndicators() ([]*Indicator, error)
}

// ReportService manages saved reports and indicators and runs them through
// the aggregator over a fiscal-week window or an explicit date range.
type ReportService struct {
	store ReportStore
	agg   *Aggregator
	now   func() time.Time
	idGen func() string
}

func NewReportService(store ReportStore, agg *Aggregator) *ReportService {
	return &ReportService{
		store: store,
		agg:   agg,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: func() string { return shortID(8) },
	}
}

func (s *ReportService) CreateReport(actor *User, name, registerID string, metrics []*Metric) (*Report, error) {
	if strings.TrimSpace(name) == "" {
		return nil, NewInvalidError("report name required")
	}
	reg, err := s.store.GetRegister(registerID)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, NewNotFoundError("register not found")
	}
	if err := s.normalizeMetrics(metrics); err != nil {
		return nil, err
	}
	rep := &Report{
		ID:         s.idGen(),
		Name:       name,
		RegisterID: registerID,
		Metrics:    metrics,
		CreatedAt:  s.now(),
		UpdatedAt:  s.now(),
	}
	if err := s.store.InsertReport(rep); err != nil {
		return nil, err
	}
	return rep, nil
}

func (s *ReportService) UpdateReport(actor *User, id, name string, metrics []*Metric) error {
	rep, err := s.store.GetReport(id)
	if err != nil {
		return err
	}
	if rep == nil {
		return NewNotFoundError("report not found")
	}
	if strings.TrimSpace(name) != "" {
		rep.Name = name
	}
	if metrics != nil {
		if err := s.normalizeMetrics(metrics); err != nil {
			return err
		}
		rep.Metrics = metrics
	}
	rep.UpdatedAt = s.now()
	return s.store.UpdateReport(rep)
}

func (s *ReportService) DeleteReport(actor *User, id string) error {
	rep, err := s.store.GetReport(id)
	if err != nil {
		return err
	}
	if rep == nil {
		return NewNotFoundError("report not found")
	}
	return s.store.DeleteReport(id)
}

func (s *ReportService) ListReports() ([]*Report, error) {
	return s.store.ListReports()
}

// ReportRun is one executed report: the metric totals plus the fiscal labels
// of the window they cover.
type ReportRun struct {
	ReportID  string             `json:"report_id"`
	Window    Window             `json:"window"`
	Period    FiscalPeriod       `json:"period"`
	Totals    map[string]float64 `json:"totals"`
	Warnings  []string           `json:"warnings,omitempty"`
	Generated time.Time          `json:"generated"`
}

// RunReport executes a saved report over the fiscal week containing ref,
// optionally restricted by location.
func (s *ReportService) RunReport(id string, ref time.Time, loc LocationFilter) (*ReportRun, error) {
	rep, err := s.store.GetReport(id)
	if err != nil {
		return nil, err
	}
	if rep == nil {
		return nil, NewNotFoundError("report not found")
	}
	reg, err := s.store.GetRegister(rep.RegisterID)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, NewNotFoundError("register not found")
	}
	records, err := s.store.ListRecords(rep.RegisterID)
	if err != nil {
		return nil, err
	}
	start, end := WeekWindow(ref)
	win := Window{Start: start, End: end}
	run := &ReportRun{
		ReportID:  rep.ID,
		Window:    win,
		Period:    GetFiscalPeriod(start),
		Generated: s.now(),
	}
	agg := s.agg.WithWarnings(func(expr string, evalErr error) {
		run.Warnings = append(run.Warnings, expr+": "+evalErr.Error())
	})
	run.Totals = agg.RunMetrics(reg, records, rep.Metrics, win, "", loc)
	return run, nil
}

func (s *ReportService) CreateIndicator(actor *User, ind *Indicator) (*Indicator, error) {
	if ind == nil || strings.TrimSpace(ind.Name) == "" {
		return nil, NewInvalidError("indicator name required")
	}
	reg, err := s.store.GetRegister(ind.RegisterID)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, NewNotFoundError("register not found")
	}
	if len(ind.Elements) == 0 {
		return nil, NewInvalidError("at least one data element required")
	}
	if err := s.normalizeMetrics(ind.Elements); err != nil {
		return nil, err
	}
	ind.ID = s.idGen()
	ind.CreatedBy = actor.Username
	ind.CreatedAt = s.now()
	if err := s.store.InsertIndicator(ind); err != nil {
		return nil, err
	}
	return ind, nil
}

func (s *ReportService) UpdateIndicator(actor *User, ind *Indicator) error {
	if ind == nil || ind.ID == "" {
		return NewInvalidError("indicator id required")
	}
	existing, err := s.store.GetIndicator(ind.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return NewNotFoundError("indicator not found")
	}
	if err := s.normalizeMetrics(ind.Elements); err != nil {
		return err
	}
	ind.CreatedBy = existing.CreatedBy
	ind.CreatedAt = existing.CreatedAt
	return s.store.UpdateIndicator(ind)
}

func (s *ReportService) DeleteIndicator(actor *User, id string) error {
	ind, err := s.store.GetIndicator(id)
	if err != nil {
		return err
	}
	if ind == nil {
		return NewNotFoundError("indicator not found")
	}
	return s.store.DeleteIndicator(id)
}

// ListIndicators returns indicators visible to the actor: their own plus any
// marked shared.
func (s *ReportService) ListIndicators(actor *User) ([]*Indicator, error) {
	all, err := s.store.ListIndicators()
	if err != nil {
		return nil, err
	}
	var out []*Indicator
	for _, ind := range all {
		if ind.Shared || actor == nil || ind.CreatedBy == actor.Username {
			out = append(out, ind)
		}
	}
	return out, nil
}

// RunIndicator executes a saved indicator. The indicator's own filters decide
// the date window and location; an unset window means all dates.
func (s *ReportService) RunIndicator(id string) (*IndicatorResult, error) {
	ind, err := s.store.GetIndicator(id)
	if err != nil {
		return nil, err
	}
	if ind == nil {
		return nil, NewNotFoundError("indicator not found")
	}
	reg, err := s.store.GetRegister(ind.RegisterID)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, NewNotFoundError("register not found")
	}
	records, err := s.store.ListRecords(ind.RegisterID)
	if err != nil {
		return nil, err
	}
	win, err := indicatorWindow(ind.Filters)
	if err != nil {
		return nil, err
	}
	return s.agg.RunIndicator(reg, records, ind, win, ind.Filters.DateField, ind.Filters.Location), nil
}

// indicatorWindow converts the saved start/end strings into a half-open
// window. The end date is inclusive in the saved form, so a day is added.
func indicatorWindow(f IndicatorFilters) (Window, error) {
	var win Window
	if f.StartDate != "" {
		t, err := time.Parse("2006-01-02", f.StartDate)
		if err != nil {
			return win, NewInvalidError("invalid start date: " + f.StartDate)
		}
		win.Start = t
	}
	if f.EndDate != "" {
		t, err := time.Parse("2006-01-02", f.EndDate)
		if err != nil {
			return win, NewInvalidError("invalid end date: " + f.EndDate)
		}
		win.End = t.AddDate(0, 0, 1)
	}
	return win, nil
}

func (s *ReportService) normalizeMetrics(metrics []*Metric) error {
	for _, m := range metrics {
		if strings.TrimSpace(m.Name) == "" {
			return NewInvalidError("metric name required")
		}
		if strings.TrimSpace(m.Expression) == "" {
			return NewInvalidError("metric expression required: " + m.Name)
		}
		if m.ID == "" {
			m.ID = s.idGen()
		}
		if m.Type == "" {
			m.Type = MetricCount
		}
	}
	return nil
}
