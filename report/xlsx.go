package report

import (
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/gosom/exposure-monitor/pipeline"
)

const (
	sheetExposures = "exposures"
	sheetKeywords  = "keywords"
	sheetSummary   = "summary"
)

// WriteXLSX writes the exposures, every keyword outcome and the batch summary
// as three sheets of one workbook.
func WriteXLSX(w io.Writer, rep *pipeline.Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetExposures); err != nil {
		return err
	}

	matches := rep.Matches()

	rows := make([][]string, 0, len(matches)+1)
	if len(matches) > 0 {
		rows = append(rows, matches[0].CsvHeaders())
	}

	for i := range matches {
		rows = append(rows, matches[i].CsvRow())
	}

	if err := writeRows(f, sheetExposures, rows); err != nil {
		return err
	}

	if _, err := f.NewSheet(sheetKeywords); err != nil {
		return err
	}

	rows = rows[:0]

	for i := range rep.Outcomes {
		if i == 0 {
			rows = append(rows, rep.Outcomes[i].CsvHeaders())
		}

		rows = append(rows, rep.Outcomes[i].CsvRow())
	}

	if err := writeRows(f, sheetKeywords, rows); err != nil {
		return err
	}

	if _, err := f.NewSheet(sheetSummary); err != nil {
		return err
	}

	summary := [][]any{
		{"batch", rep.BatchID},
		{"mode", rep.Mode.String()},
		{"started_at", rep.StartedAt.Format("2006-01-02 15:04:05")},
		{"finished_at", rep.FinishedAt.Format("2006-01-02 15:04:05")},
		{"queries", rep.Queries},
		{"keywords", rep.Summary.Total},
		{"success", rep.Summary.Success},
		{"failed", rep.Summary.Failed},
		{"excluded", rep.Summary.Excluded},
		{"recovered", rep.Summary.Recovered},
	}

	for kind, n := range rep.Summary.Kinds {
		summary = append(summary, []any{string(kind), n})
	}

	for i, row := range summary {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}

		if err := f.SetSheetRow(sheetSummary, cell, &row); err != nil {
			return err
		}
	}

	f.SetActiveSheet(0)

	return f.Write(w)
}

func writeRows(f *excelize.File, sheet string, rows [][]string) error {
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}

		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return err
		}
	}

	return nil
}
