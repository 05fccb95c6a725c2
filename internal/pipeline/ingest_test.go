package pipeline

import (
	"archive/zip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

const tripCSVHeader = "ride_id,rideable_type,started_at,ended_at,start_station_name,end_station_name,member_casual"

const tripCSVBody = tripCSVHeader + "\n" +
	"R1,classic_bike,2024-03-01 10:00:00,2024-03-01 10:15:30,Clark St,Wells St,member\n" +
	"R2,electric_bike,2024-03-01 11:00:00,2024-03-01 11:20:00,,,casual\n"

func TestNewTripReader_MissingColumns(t *testing.T) {
	header := "ride_id,rideable_type,started_at\nR1,classic_bike,2024-03-01 10:00:00\n"

	_, err := NewTripReader(strings.NewReader(header), "test.csv")

	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	want := []string{"ended_at", "start_station_name", "end_station_name", "member_casual"}
	if len(schemaErr.Missing) != len(want) {
		t.Fatalf("expected %d missing columns, got %v", len(want), schemaErr.Missing)
	}
	for i, col := range want {
		if schemaErr.Missing[i] != col {
			t.Errorf("missing[%d]: expected %s, got %s", i, col, schemaErr.Missing[i])
		}
	}
	if !strings.Contains(schemaErr.Error(), "member_casual") {
		t.Errorf("expected error message to name missing columns, got %q", schemaErr.Error())
	}
}

func TestNewTripReader_StripsBOM(t *testing.T) {
	withBOM := "\xef\xbb\xbf" + tripCSVBody

	reader, err := NewTripReader(strings.NewReader(withBOM), "test.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, err := reader.Next()
	if err != nil {
		t.Fatalf("unexpected error reading first row: %v", err)
	}
	if rec.RideID != "R1" {
		t.Errorf("expected ride_id R1, got %q", rec.RideID)
	}
}

func TestTripReader_ColumnsByNameNotPosition(t *testing.T) {
	// Shuffled column order plus an extra column must still map correctly.
	shuffled := "member_casual,ride_id,extra,ended_at,started_at,rideable_type,start_station_name,end_station_name\n" +
		"member,R1,x,2024-03-01 10:15:30,2024-03-01 10:00:00,classic_bike,Clark St,Wells St\n"

	reader, err := NewTripReader(strings.NewReader(shuffled), "test.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, err := reader.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.RideID != "R1" || rec.MemberCasual != "member" || rec.StartedAt != "2024-03-01 10:00:00" {
		t.Errorf("columns mapped wrong: %+v", rec)
	}
}

func TestIngestSources_CSVFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "202403-trips.csv")
	if err := os.WriteFile(path, []byte(tripCSVBody), 0644); err != nil {
		t.Fatal(err)
	}

	rows := collectRows(t, []string{path})

	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Seq != 0 || rows[1].Seq != 1 {
		t.Errorf("expected sequential seq numbers, got %d and %d", rows[0].Seq, rows[1].Seq)
	}
	if rows[1].Record.RideID != "R2" {
		t.Errorf("expected second row R2, got %q", rows[1].Record.RideID)
	}
}

func TestIngestSources_ConcatenatesInOrder(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "202401.csv")
	second := filepath.Join(dir, "202402.csv")

	firstBody := tripCSVHeader + "\nA1,classic_bike,2024-01-01 10:00:00,2024-01-01 10:10:00,,,member\n"
	secondBody := tripCSVHeader + "\nB1,classic_bike,2024-02-01 10:00:00,2024-02-01 10:10:00,,,casual\n"
	if err := os.WriteFile(first, []byte(firstBody), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(second, []byte(secondBody), 0644); err != nil {
		t.Fatal(err)
	}

	rows := collectRows(t, []string{first, second})

	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Record.RideID != "A1" || rows[1].Record.RideID != "B1" {
		t.Errorf("expected source order preserved, got %q then %q", rows[0].Record.RideID, rows[1].Record.RideID)
	}
	if rows[1].Seq != 1 {
		t.Errorf("expected seq to continue across sources, got %d", rows[1].Seq)
	}
}

func TestIngestSources_ZipArchive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "202403-trips.zip")

	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(file)
	entry, err := zw.Create("202403-divvy-tripdata.csv")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := entry.Write([]byte(tripCSVBody)); err != nil {
		t.Fatal(err)
	}
	// Junk entries a real export archive can contain.
	if _, err := zw.Create("__MACOSX/._202403-divvy-tripdata.csv"); err != nil {
		t.Fatal(err)
	}
	if _, err := zw.Create("readme.txt"); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	file.Close()

	rows := collectRows(t, []string{path})

	if len(rows) != 2 {
		t.Fatalf("expected 2 rows from archive, got %d", len(rows))
	}
}

func TestIngestSources_ZipWithoutCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.zip")

	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(file)
	if _, err := zw.Create("notes.txt"); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	file.Close()

	out := make(chan RawRow, 16)
	_, err = IngestSources(context.Background(), zerolog.Nop(), http.DefaultClient, []string{path}, DefaultRetryConfig(), out)
	if err == nil {
		t.Fatal("expected error for archive without CSVs")
	}
}

func TestIngestSources_BadRowCounted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trips.csv")
	// Second data row has the wrong number of fields.
	body := tripCSVHeader + "\n" +
		"R1,classic_bike,2024-03-01 10:00:00,2024-03-01 10:15:30,Clark St,Wells St,member\n" +
		"R2,classic_bike,2024-03-01 11:00:00\n" +
		"R3,electric_bike,2024-03-01 12:00:00,2024-03-01 12:30:00,,,casual\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	out := make(chan RawRow, 16)
	stats, err := IngestSources(context.Background(), zerolog.Nop(), http.DefaultClient, []string{path}, DefaultRetryConfig(), out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(out)

	var rows []RawRow
	for row := range out {
		rows = append(rows, row)
	}

	if len(rows) != 2 {
		t.Fatalf("expected 2 readable rows, got %d", len(rows))
	}
	if stats.Drops[DropBadRow] != 1 {
		t.Errorf("expected 1 bad_row drop, got %d", stats.Drops[DropBadRow])
	}
}

func TestIngestSources_MissingFile(t *testing.T) {
	out := make(chan RawRow, 16)
	_, err := IngestSources(context.Background(), zerolog.Nop(), http.DefaultClient,
		[]string{filepath.Join(t.TempDir(), "nope.csv")}, DefaultRetryConfig(), out)
	if err == nil {
		t.Fatal("expected error for missing source file")
	}
}

func TestIngestSources_URL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(tripCSVBody))
	}))
	defer server.Close()

	rows := collectRows(t, []string{server.URL + "/202403-trips.csv"})

	if len(rows) != 2 {
		t.Fatalf("expected 2 rows from URL source, got %d", len(rows))
	}
}

func collectRows(t *testing.T, sources []string) []RawRow {
	t.Helper()
	out := make(chan RawRow, 1024)
	_, err := IngestSources(context.Background(), zerolog.Nop(), http.DefaultClient, sources, DefaultRetryConfig(), out)
	if err != nil {
		t.Fatalf("unexpected ingest error: %v", err)
	}
	close(out)

	var rows []RawRow
	for row := range out {
		rows = append(rows, row)
	}
	return rows
}
