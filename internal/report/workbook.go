package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/mind-engage/mindengage-grading/pkg/gradebook"
)

const (
	SheetGrades  = "Grades"
	SheetWeights = "Weights"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// SectionData is everything one section export shows.
type SectionData struct {
	SectionID string
	Weights   gradebook.WeightTable
	Grades    []gradebook.FinalGrade
}

// Key is where a section export is archived.
func Key(sectionID string, at time.Time) string {
	return fmt.Sprintf("exports/%s/grades-%s.xlsx", sectionID, at.UTC().Format("20060102T150405Z"))
}

// SectionWorkbook renders grades and the weight table as an XLSX file.
func SectionWorkbook(d SectionData) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetGrades); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(SheetWeights); err != nil {
		return nil, err
	}

	header, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, err
	}
	twoDecimals := "0.00"
	gradeStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &twoDecimals})
	if err != nil {
		return nil, err
	}

	// Grades sheet
	_ = f.SetColWidth(SheetGrades, "A", "A", 24)
	_ = f.SetColWidth(SheetGrades, "B", "B", 14)
	_ = f.SetColWidth(SheetGrades, "C", "C", 24)
	if err := f.SetSheetRow(SheetGrades, "A1", &[]any{"Enrollment", "Final (0-20)", "Computed at (UTC)"}); err != nil {
		return nil, err
	}
	_ = f.SetCellStyle(SheetGrades, "A1", "C1", header)
	for i, g := range d.Grades {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []any{g.EnrollmentID, g.Grade, g.ComputedAt.UTC().Format(time.RFC3339)}
		if err := f.SetSheetRow(SheetGrades, cell, &row); err != nil {
			return nil, err
		}
	}
	if n := len(d.Grades); n > 0 {
		_ = f.SetCellStyle(SheetGrades, "B2", fmt.Sprintf("B%d", n+1), gradeStyle)
	}

	// Weights sheet
	_ = f.SetColWidth(SheetWeights, "A", "B", 16)
	if err := f.SetSheetRow(SheetWeights, "A1", &[]any{"Category", "Weight %"}); err != nil {
		return nil, err
	}
	_ = f.SetCellStyle(SheetWeights, "A1", "B1", header)
	entries := d.Weights.Entries()
	for i, e := range entries {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(SheetWeights, cell, &[]any{string(e.Category), e.WeightPercent}); err != nil {
			return nil, err
		}
	}
	total := len(entries) + 2
	_ = f.SetCellValue(SheetWeights, fmt.Sprintf("A%d", total), "Total")
	_ = f.SetCellValue(SheetWeights, fmt.Sprintf("B%d", total), d.Weights.Sum())
	if err := d.Weights.Validate(); err != nil {
		_ = f.SetCellValue(SheetWeights, fmt.Sprintf("A%d", total+1), err.Error())
	}

	f.SetActiveSheet(0)
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
