// Package excel renders a run's aggregations as an XLSX workbook for the
// reporting side: one summary sheet plus one sheet per aggregation.
package excel

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Summary is the run-level header block on the workbook's first sheet.
type Summary struct {
	JobName     string
	RowsIn      int64
	RowsKept    int64
	RowsDropped int64
}

// Sheet is one aggregation rendered as a table: a header row and data rows.
// Cell values keep their Go types so counts stay numeric in the workbook.
type Sheet struct {
	Name   string
	Header []string
	Rows   [][]interface{}
}

// Generator builds aggregate workbooks.
type Generator struct{}

// NewGenerator returns a workbook generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate renders the run summary and aggregation sheets into workbook bytes.
func (g *Generator) Generate(summary Summary, sheets []Sheet) ([]byte, error) {
	file := excelize.NewFile()

	summarySheet := "Summary"
	file.SetSheetName("Sheet1", summarySheet)
	if err := g.writeSummary(file, summarySheet, summary, sheets); err != nil {
		return nil, err
	}

	usedNames := map[string]struct{}{summarySheet: {}}
	for _, sheet := range sheets {
		sheetName := buildSheetName(sheet.Name, usedNames)
		usedNames[sheetName] = struct{}{}

		if _, err := file.NewSheet(sheetName); err != nil {
			return nil, fmt.Errorf("failed to add sheet %s: %w", sheetName, err)
		}
		if err := g.writeTable(file, sheetName, sheet); err != nil {
			return nil, err
		}
	}

	file.SetActiveSheet(0)
	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to render workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *Generator) writeSummary(file *excelize.File, sheet string, summary Summary, sheets []Sheet) error {
	set := func(cell string, value interface{}) {
		_ = file.SetCellValue(sheet, cell, value)
	}

	set("A1", "Job")
	set("B1", summary.JobName)
	set("A2", "Rows read")
	set("B2", summary.RowsIn)
	set("A3", "Rows kept")
	set("B3", summary.RowsKept)
	set("A4", "Rows dropped")
	set("B4", summary.RowsDropped)
	set("A5", "Aggregations")
	set("B5", len(sheets))

	tableRow := 7
	set(fmt.Sprintf("A%d", tableRow), "Aggregation")
	set(fmt.Sprintf("B%d", tableRow), "Groups")

	for i, s := range sheets {
		row := tableRow + 1 + i
		set(fmt.Sprintf("A%d", row), s.Name)
		set(fmt.Sprintf("B%d", row), len(s.Rows))
	}

	_ = file.SetColWidth(sheet, "A", "A", 32)
	_ = file.SetColWidth(sheet, "B", "B", 18)
	return nil
}

func (g *Generator) writeTable(file *excelize.File, sheetName string, sheet Sheet) error {
	set := func(cell string, value interface{}) {
		_ = file.SetCellValue(sheetName, cell, value)
	}

	for i, header := range sheet.Header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		set(cell, header)
	}

	for rowIdx, row := range sheet.Rows {
		for colIdx, value := range row {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			set(cell, value)
		}
	}

	lastCol, _ := excelize.ColumnNumberToName(len(sheet.Header))
	if lastCol == "" {
		lastCol = "A"
	}
	_ = file.SetColWidth(sheetName, "A", lastCol, 18)
	return nil
}

// buildSheetName trims a name to Excel's 31-character sheet limit and
// disambiguates collisions with a numeric suffix.
func buildSheetName(name string, used map[string]struct{}) string {
	base := sanitizeSheetName(strings.TrimSpace(name))
	if base == "" {
		base = "aggregation"
	}
	if len(base) > 31 {
		base = base[:31]
	}

	candidate := base
	for i := 2; ; i++ {
		if _, taken := used[candidate]; !taken {
			return candidate
		}
		suffix := fmt.Sprintf(" %d", i)
		trimmed := base
		if len(trimmed)+len(suffix) > 31 {
			trimmed = trimmed[:31-len(suffix)]
		}
		candidate = trimmed + suffix
	}
}

// sanitizeSheetName strips characters Excel forbids in sheet names.
func sanitizeSheetName(name string) string {
	replacer := strings.NewReplacer(":", "-", "\\", "-", "/", "-", "?", "", "*", "", "[", "(", "]", ")")
	return replacer.Replace(name)
}
