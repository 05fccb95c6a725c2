package excel

import (
	"bytes"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func testSheets() []Sheet {
	return []Sheet{
		{
			Name:   "rides_by_rider",
			Header: []string{"riderType", "count"},
			Rows: [][]interface{}{
				{"member", int64(3)},
				{"casual", int64(2)},
			},
		},
		{
			Name:   "mean_by_month",
			Header: []string{"riderType", "month", "meanRideLength"},
			Rows: [][]interface{}{
				{"member", "January", 12.5},
			},
		},
	}
}

func TestGenerate_SummarySheet(t *testing.T) {
	data, err := NewGenerator().Generate(Summary{
		JobName:     "march-analysis",
		RowsIn:      100,
		RowsKept:    95,
		RowsDropped: 5,
	}, testSheets())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	workbook, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("generated bytes are not a workbook: %v", err)
	}
	defer workbook.Close()

	sheets := workbook.GetSheetList()
	if len(sheets) != 3 || sheets[0] != "Summary" {
		t.Fatalf("expected Summary + 2 sheets, got %v", sheets)
	}

	cases := []struct {
		cell string
		want string
	}{
		{"B1", "march-analysis"},
		{"B2", "100"},
		{"B3", "95"},
		{"B4", "5"},
		{"B5", "2"},
		{"A8", "rides_by_rider"},
		{"B8", "2"},
	}
	for _, tc := range cases {
		got, err := workbook.GetCellValue("Summary", tc.cell)
		if err != nil {
			t.Fatalf("GetCellValue(%s): %v", tc.cell, err)
		}
		if got != tc.want {
			t.Errorf("Summary!%s: expected %q, got %q", tc.cell, tc.want, got)
		}
	}
}

func TestGenerate_AggregationSheets(t *testing.T) {
	data, err := NewGenerator().Generate(Summary{JobName: "x"}, testSheets())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	workbook, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer workbook.Close()

	header, _ := workbook.GetCellValue("rides_by_rider", "B1")
	if header != "count" {
		t.Errorf("expected count header, got %q", header)
	}
	value, _ := workbook.GetCellValue("rides_by_rider", "B2")
	if value != "3" {
		t.Errorf("expected member count 3, got %q", value)
	}
	mean, _ := workbook.GetCellValue("mean_by_month", "C2")
	if mean != "12.5" {
		t.Errorf("expected mean 12.5, got %q", mean)
	}
}

func TestBuildSheetName(t *testing.T) {
	used := map[string]struct{}{"Summary": {}}

	long := strings.Repeat("meanRideLength_by_month", 3)
	name := buildSheetName(long, used)
	if len(name) > 31 {
		t.Errorf("expected sheet name trimmed to 31 chars, got %d", len(name))
	}
	used[name] = struct{}{}

	// Same long name again must get a distinct sheet.
	second := buildSheetName(long, used)
	if second == name {
		t.Errorf("expected collision to be disambiguated, got %q twice", second)
	}
	if len(second) > 31 {
		t.Errorf("disambiguated name too long: %d", len(second))
	}

	bad := buildSheetName("a/b:c?d*e", map[string]struct{}{})
	for _, forbidden := range []string{"/", ":", "?", "*", "[", "]"} {
		if strings.Contains(bad, forbidden) {
			t.Errorf("sheet name %q still contains %q", bad, forbidden)
		}
	}

	empty := buildSheetName("  ", map[string]struct{}{})
	if empty == "" {
		t.Error("expected a fallback name for blank input")
	}
}
