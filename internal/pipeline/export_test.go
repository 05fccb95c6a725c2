package pipeline

import (
	"bytes"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/Collins-13/cyclistic-pipeline/internal/model"
)

func exportFixture() ([]model.CleanedTrip, *CleanStats, []Aggregation) {
	trips := []model.CleanedTrip{
		trip(model.RiderMember, model.BikeClassic, "2024-03-01 10:00:00", 10),
		trip(model.RiderCasual, model.BikeElectric, "2024-03-01 11:00:00", 20),
	}
	trips[0].ID = "R1"
	trips[1].ID = "R2"

	stats := NewCleanStats()
	stats.Keep()
	stats.Keep()
	stats.Drop(DropBadTimestamp)

	agg, err := Aggregate(trips, model.AggregationSpec{
		Name:    "count_by_rider",
		GroupBy: []string{"riderType"},
		Metric:  "count",
	})
	if err != nil {
		panic(err)
	}
	mean, err := Aggregate(trips, model.AggregationSpec{
		Name:    "mean_by_rider",
		GroupBy: []string{"riderType"},
		Metric:  "meanRideLength",
	})
	if err != nil {
		panic(err)
	}
	return trips, stats, []Aggregation{agg, mean}
}

func TestExport_CleanedCSV(t *testing.T) {
	dir := t.TempDir()
	trips, stats, aggs := exportFixture()

	results, err := Export(zerolog.Nop(), &model.ExportSpec{
		Dir:        dir,
		CleanedCSV: "cleaned.csv",
	}, "test-job", trips, stats, aggs[:0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Sink != "cleaned_csv" {
		t.Fatalf("expected one cleaned_csv result, got %+v", results)
	}

	file, err := os.Open(filepath.Join(dir, "cleaned.csv"))
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "ride_id" || rows[0][7] != "ride_length_minutes" {
		t.Errorf("unexpected header: %v", rows[0])
	}
	if rows[1][0] != "R1" || rows[1][7] != "10.00" {
		t.Errorf("unexpected first row: %v", rows[1])
	}
	if rows[2][8] == "" || rows[2][9] == "" {
		t.Errorf("expected weekday and month columns filled, got %v", rows[2])
	}
}

func TestExport_AggregateCSV(t *testing.T) {
	dir := t.TempDir()
	trips, stats, aggs := exportFixture()

	_, err := Export(zerolog.Nop(), &model.ExportSpec{
		Dir:             dir,
		AggregateFormat: "csv",
	}, "test-job", trips, stats, aggs[:1])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	file, err := os.Open(filepath.Join(dir, "count_by_rider.csv"))
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{
		{"riderType", "count"},
		{"member", "1"},
		{"casual", "1"},
	}
	if len(rows) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(rows))
	}
	for i := range want {
		if rows[i][0] != want[i][0] || rows[i][1] != want[i][1] {
			t.Errorf("row %d: expected %v, got %v", i, want[i], rows[i])
		}
	}
}

func TestExport_AggregateJSON(t *testing.T) {
	dir := t.TempDir()
	trips, stats, aggs := exportFixture()

	_, err := Export(zerolog.Nop(), &model.ExportSpec{
		Dir:             dir,
		AggregateFormat: "json",
	}, "test-job", trips, stats, aggs[1:2])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "mean_by_rider.json"))
	if err != nil {
		t.Fatal(err)
	}

	var rows []map[string]interface{}
	if err := json.Unmarshal(data, &rows); err != nil {
		t.Fatalf("output is not a JSON array of objects: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(rows))
	}
	if rows[0]["riderType"] != "member" {
		t.Errorf("expected member first, got %v", rows[0])
	}
	if rows[0]["meanRideLength"] != 10.0 {
		t.Errorf("expected member mean 10, got %v", rows[0]["meanRideLength"])
	}
}

func TestExport_Workbook(t *testing.T) {
	dir := t.TempDir()
	trips, stats, aggs := exportFixture()

	_, err := Export(zerolog.Nop(), &model.ExportSpec{
		Dir:      dir,
		Workbook: "report.xlsx",
	}, "test-job", trips, stats, aggs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "report.xlsx"))
	if err != nil {
		t.Fatal(err)
	}
	workbook, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a readable workbook: %v", err)
	}
	defer workbook.Close()

	sheets := workbook.GetSheetList()
	if len(sheets) != 3 {
		t.Fatalf("expected summary + 2 aggregation sheets, got %v", sheets)
	}
	if sheets[0] != "Summary" {
		t.Errorf("expected first sheet Summary, got %s", sheets[0])
	}

	job, err := workbook.GetCellValue("Summary", "B1")
	if err != nil || job != "test-job" {
		t.Errorf("expected job name in Summary!B1, got %q (err %v)", job, err)
	}
	header, err := workbook.GetCellValue("count_by_rider", "A1")
	if err != nil || header != "riderType" {
		t.Errorf("expected riderType header in aggregation sheet, got %q (err %v)", header, err)
	}
}

func TestExport_SQLite(t *testing.T) {
	dir := t.TempDir()
	trips, stats, aggs := exportFixture()

	_, err := Export(zerolog.Nop(), &model.ExportSpec{
		Dir:    dir,
		SQLite: "aggregates.db",
	}, "test-job", trips, stats, aggs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, "aggregates.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var count int64
	if err := db.QueryRow(`SELECT count FROM count_by_rider WHERE ridertype = 'member'`).Scan(&count); err != nil {
		t.Fatalf("failed to query aggregate table: %v", err)
	}
	if count != 1 {
		t.Errorf("expected member count 1, got %d", count)
	}

	var mean float64
	if err := db.QueryRow(`SELECT meanridelength FROM mean_by_rider WHERE ridertype = 'casual'`).Scan(&mean); err != nil {
		t.Fatalf("failed to query mean table: %v", err)
	}
	if mean != 20.0 {
		t.Errorf("expected casual mean 20, got %v", mean)
	}
}

func TestExport_NoSpec(t *testing.T) {
	results, err := Export(zerolog.Nop(), nil, "test-job", nil, NewCleanStats(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results != nil {
		t.Errorf("expected no results without an export spec, got %+v", results)
	}
}
