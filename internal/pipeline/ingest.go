package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Collins-13/cyclistic-pipeline/internal/model"
)

// RequiredColumns are the header columns every trip source must carry. Extra
// columns are ignored; missing ones are a structural failure.
var RequiredColumns = []string{
	"ride_id",
	"rideable_type",
	"started_at",
	"ended_at",
	"start_station_name",
	"end_station_name",
	"member_casual",
}

// SchemaError reports a source whose header lacks required columns. It aborts
// the run: a file with the wrong shape would otherwise drain into an
// all-dropped dataset with no hint why.
type SchemaError struct {
	Source  string
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("source %s is missing required columns: %s", e.Source, strings.Join(e.Missing, ", "))
}

// TripReader streams raw trip records from one CSV stream. The header is
// consumed and validated at construction, so a schema problem surfaces before
// any row is processed.
type TripReader struct {
	source string
	reader *csv.Reader
	cols   map[string]int
}

// NewTripReader wraps r, reads its header, and maps the required columns.
// Returns a *SchemaError when required columns are absent.
func NewTripReader(r io.Reader, source string) (*TripReader, error) {
	csvReader := csv.NewReader(r)
	csvReader.LazyQuotes = true
	csvReader.TrimLeadingSpace = true

	header, err := csvReader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", source, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\xef\xbb\xbf")
	}

	cols := make(map[string]int, len(header))
	for idx, col := range header {
		cols[strings.TrimSpace(col)] = idx
	}

	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := cols[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Source: source, Missing: missing}
	}

	return &TripReader{source: source, reader: csvReader, cols: cols}, nil
}

// Source names the stream this reader was built from.
func (tr *TripReader) Source() string {
	return tr.source
}

// Next returns the next raw record. io.EOF ends the stream; a *csv.ParseError
// marks a single unreadable row (see IsRowError) and the reader stays usable.
func (tr *TripReader) Next() (model.TripRecord, error) {
	record, err := tr.reader.Read()
	if err != nil {
		return model.TripRecord{}, err
	}
	return model.TripRecord{
		RideID:           tr.field(record, "ride_id"),
		RideableType:     tr.field(record, "rideable_type"),
		StartedAt:        tr.field(record, "started_at"),
		EndedAt:          tr.field(record, "ended_at"),
		StartStationName: tr.field(record, "start_station_name"),
		EndStationName:   tr.field(record, "end_station_name"),
		MemberCasual:     tr.field(record, "member_casual"),
	}, nil
}

func (tr *TripReader) field(record []string, col string) string {
	idx, ok := tr.cols[col]
	if !ok || idx >= len(record) {
		return ""
	}
	return record[idx]
}

// IsRowError reports whether err is a row-level defect (skip and count)
// rather than a stream failure (abort).
func IsRowError(err error) bool {
	var parseErr *csv.ParseError
	return errors.As(err, &parseErr)
}

// IngestSources reads every source in listed order and streams raw rows into
// out. Each row carries a sequence number so downstream stages can restore
// input order after parallel cleaning. The returned stats count rows dropped
// at the CSV layer (bad_row).
func IngestSources(ctx context.Context, log zerolog.Logger, client *http.Client, sources []string, retry RetryConfig, out chan<- RawRow) (*CleanStats, error) {
	stats := NewCleanStats()
	var seq int64

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		log.Info().Str("source", source).Msg("ingesting source")
		rows, err := ingestSource(ctx, client, source, retry, out, &seq, stats)
		if err != nil {
			return stats, err
		}
		log.Info().Str("source", source).Int64("rows", rows).Msg("source ingested")
	}

	return stats, nil
}

// ingestSource dispatches on the source kind: plain CSV file, zip archive of
// CSVs, or an http(s) URL serving either.
func ingestSource(ctx context.Context, client *http.Client, source string, retry RetryConfig, out chan<- RawRow, seq *int64, stats *CleanStats) (int64, error) {
	switch {
	case isURL(source):
		body, err := fetchWithRetry(ctx, client, source, retry)
		if err != nil {
			return 0, err
		}
		defer body.Close()
		if strings.EqualFold(path.Ext(urlPath(source)), ".zip") {
			buf, err := io.ReadAll(body)
			if err != nil {
				return 0, fmt.Errorf("failed to download %s: %w", source, err)
			}
			zipReader, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
			if err != nil {
				return 0, fmt.Errorf("failed to open archive %s: %w", source, err)
			}
			return ingestZipEntries(ctx, zipReader.File, source, out, seq, stats)
		}
		return ingestCSVStream(ctx, body, source, out, seq, stats)

	case strings.EqualFold(path.Ext(source), ".zip"):
		archive, err := zip.OpenReader(source)
		if err != nil {
			return 0, fmt.Errorf("failed to open archive %s: %w", source, err)
		}
		defer archive.Close()
		return ingestZipEntries(ctx, archive.File, source, out, seq, stats)

	default:
		file, err := os.Open(source)
		if err != nil {
			return 0, fmt.Errorf("failed to open source %s: %w", source, err)
		}
		defer file.Close()
		return ingestCSVStream(ctx, file, source, out, seq, stats)
	}
}

// ingestZipEntries streams every CSV inside an archive, skipping macOS
// resource-fork junk. An archive without a single CSV is a structural error.
func ingestZipEntries(ctx context.Context, files []*zip.File, source string, out chan<- RawRow, seq *int64, stats *CleanStats) (int64, error) {
	var total int64
	found := false

	for _, f := range files {
		if f.FileInfo().IsDir() || !strings.EqualFold(path.Ext(f.Name), ".csv") {
			continue
		}
		if strings.HasPrefix(f.Name, "__MACOSX/") || strings.HasPrefix(path.Base(f.Name), "._") {
			continue
		}
		found = true

		rc, err := f.Open()
		if err != nil {
			return total, fmt.Errorf("failed to open %s in %s: %w", f.Name, source, err)
		}
		rows, err := ingestCSVStream(ctx, rc, source+":"+f.Name, out, seq, stats)
		rc.Close()
		total += rows
		if err != nil {
			return total, err
		}
	}

	if !found {
		return 0, fmt.Errorf("archive %s contains no CSV files", source)
	}
	return total, nil
}

// ingestCSVStream pushes one CSV stream's rows into out. Unreadable rows are
// counted as bad_row drops and skipped; anything else aborts.
func ingestCSVStream(ctx context.Context, r io.Reader, name string, out chan<- RawRow, seq *int64, stats *CleanStats) (int64, error) {
	reader, err := NewTripReader(r, name)
	if err != nil {
		return 0, err
	}

	var rows int64
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			if IsRowError(err) {
				stats.Drop(DropBadRow)
				continue
			}
			return rows, fmt.Errorf("failed reading %s: %w", name, err)
		}

		row := RawRow{Seq: *seq, Record: rec}
		*seq++

		select {
		case <-ctx.Done():
			return rows, ctx.Err()
		case out <- row:
			rows++
		}
	}
}

func isURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// urlPath extracts the path component so extension checks ignore query
// strings on presigned URLs.
func urlPath(source string) string {
	parsed, err := url.Parse(source)
	if err != nil {
		return source
	}
	return parsed.Path
}
