package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"procodus.dev/gait-monitor/pkg/gait"
)

const (
	samplesSheet = "Samples"
	summarySheet = "Summary"
)

// XLSX renders the summary and table rows as a two-sheet workbook.
func XLSX(summary gait.SessionSummary, rows []gait.TableRow) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	index, err := f.NewSheet(samplesSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	header := make([]any, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := f.SetSheetRow(samplesSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(Header), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := f.SetCellStyle(samplesSheet, "A1", last, headerStyle); err != nil {
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}
	if err := f.SetColWidth(samplesSheet, "B", "B", 32); err != nil {
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		values := []any{
			r.Index,
			formatTimestamp(r.Timestamp),
			r.ElapsedSeconds,
			r.AccX, r.AccY, r.AccZ,
			r.GyroX, r.GyroY, r.GyroZ,
		}
		if err := f.SetSheetRow(samplesSheet, cell, &values); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", r.Index, err)
		}
	}

	if err := writeSummary(f, summary); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSummary(f *excelize.File, s gait.SessionSummary) error {
	pairs := [][]any{
		{"sample_count", s.SampleCount},
		{"duration_s", s.DurationSeconds},
	}
	if s.StepCount != nil {
		pairs = append(pairs, []any{"step_count", *s.StepCount})
	}
	if s.CadenceSPM != nil {
		pairs = append(pairs, []any{"cadence_spm", *s.CadenceSPM})
	}

	for i, pair := range pairs {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(summarySheet, cell, &pair); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	}
	return nil
}
