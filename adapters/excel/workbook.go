package excel

import (
	"fmt"
	"math"

	"metesad/domain/fit"

	"github.com/xuri/excelize/v2"
)

// Workbook sheet names
const (
	SheetFits     = "fits"
	SheetNull     = "null_summary"
	SheetFailures = "failures"
)

// WorkbookExporter writes result tables into one xlsx workbook, one sheet per table
type WorkbookExporter struct {
	path string
}

// NewWorkbookExporter creates an exporter writing to path
func NewWorkbookExporter(path string) *WorkbookExporter {
	return &WorkbookExporter{path: path}
}

// Export replaces the workbook with the given results
func (w *WorkbookExporter) Export(fits []fit.FitResult, summaries []fit.NullSummary, failures []fit.Failure) error {
	f := excelize.NewFile()
	defer f.Close()

	fitRows := [][]interface{}{{"dataset", "site", "model", "s0", "n0", "k", "log_likelihood", "aicc", "r_squared", "akaike_weight"}}
	for _, r := range fits {
		fitRows = append(fitRows, []interface{}{
			string(r.Dataset), string(r.Community), string(r.Model), r.S0, r.N0, r.K,
			cell(r.LogLikelihood), cell(r.AICc), cell(r.RSquared), cell(r.AkaikeWeight),
		})
	}

	nullRows := [][]interface{}{{"dataset", "site", "model", "replicates", "observed_r2", "mean_r2", "sd_r2", "lower_r2", "median_r2", "upper_r2", "p_r2", "observed_ll", "mean_ll", "p_ll"}}
	for _, s := range summaries {
		nullRows = append(nullRows, []interface{}{
			string(s.Dataset), string(s.Community), string(s.Model), s.Replicates,
			cell(s.ObservedR2), cell(s.MeanR2), cell(s.StdDevR2), cell(s.LowerR2), cell(s.MedianR2), cell(s.UpperR2), cell(s.PValueR2),
			cell(s.ObservedLL), cell(s.MeanLL), cell(s.PValueLL),
		})
	}

	failRows := [][]interface{}{{"dataset", "site", "stage", "code", "reason"}}
	for _, fl := range failures {
		failRows = append(failRows, []interface{}{string(fl.Dataset), string(fl.Community), fl.Stage, fl.Code, fl.Reason})
	}

	for _, sheet := range []struct {
		name string
		rows [][]interface{}
	}{{SheetFits, fitRows}, {SheetNull, nullRows}, {SheetFailures, failRows}} {
		if err := writeSheet(f, sheet.name, sheet.rows); err != nil {
			return err
		}
	}
	if err := f.DeleteSheet(DefaultSheet); err != nil {
		return fmt.Errorf("drop default sheet: %w", err)
	}
	if err := f.SaveAs(w.path); err != nil {
		return fmt.Errorf("save workbook %s: %w", w.path, err)
	}
	return nil
}

// WriteTable saves string rows as the default sheet of a new workbook
func WriteTable(path string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	out := make([][]interface{}, len(rows))
	for i, row := range rows {
		out[i] = make([]interface{}, len(row))
		for j, v := range row {
			out[i][j] = v
		}
	}
	if err := fillSheet(f, DefaultSheet, out); err != nil {
		return err
	}
	return f.SaveAs(path)
}

func writeSheet(f *excelize.File, name string, rows [][]interface{}) error {
	if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	return fillSheet(f, name, rows)
}

func fillSheet(f *excelize.File, name string, rows [][]interface{}) error {
	for i := range rows {
		ref, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(name, ref, &rows[i]); err != nil {
			return fmt.Errorf("write %s row %d: %w", name, i+1, err)
		}
	}
	return nil
}

// cell leaves undefined statistics blank
func cell(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return v
}
