package services

import (
	"bytes"
	"encoding/csv"
	"strconv"
)

// ExportReportCSV renders an executed report: one row per metric with the
// fiscal labels of the window it covers.
func ExportReportCSV(rep *Report, run *ReportRun) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"metric", "count", "fiscal_year", "quarter", "month", "week", "week_start", "week_end"})
	for _, m := range rep.Metrics {
		if !m.Active {
			continue
		}
		total, ok := run.Totals[m.Name]
		if !ok {
			continue
		}
		rec := []string{
			m.Name,
			ftoa(total),
			run.Period.FYLabel(),
			run.Period.QuarterLabel(),
			run.Period.MonthLabel(),
			run.Period.WeekLabel(),
			run.Window.Start.Format("2006-01-02"),
			run.Window.End.AddDate(0, 0, -1).Format("2006-01-02"),
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// ExportRecordsCSV renders every record of a register wide, one column per
// field in definition order.
func ExportRecordsCSV(reg *Register, records []*Record) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	header := make([]string, 0, len(reg.Fields)+3)
	header = append(header, "record_id")
	for _, f := range reg.Fields {
		if f.Type == FieldNote {
			continue
		}
		header = append(header, f.Label)
	}
	header = append(header, "submitted_by", "submitted_at")
	_ = w.Write(header)
	for _, rec := range records {
		if rec.RegisterID != reg.ID {
			continue
		}
		row := make([]string, 0, len(header))
		row = append(row, rec.ID)
		for _, f := range reg.Fields {
			if f.Type == FieldNote {
				continue
			}
			row = append(row, toText(rec.Values[f.Label]))
		}
		row = append(row, rec.SubmittedBy, rec.SubmittedAt.Format("2006-01-02T15:04:05Z07:00"))
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// ftoa prints counts without a trailing ".0" but keeps fractions from sums.
func ftoa(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
