package pipeline

import (
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/Collins-13/cyclistic-pipeline/internal/excel"
	"github.com/Collins-13/cyclistic-pipeline/internal/model"
	"github.com/Collins-13/cyclistic-pipeline/pkg/utils"
)

// CleanedColumns is the canonical column order of the cleaned-trip table.
var CleanedColumns = []string{
	"ride_id",
	"rideable_type",
	"member_casual",
	"start_station_name",
	"end_station_name",
	"started_at",
	"ended_at",
	"ride_length_minutes",
	"day_of_week",
	"month",
}

// ExportResult describes one written export artifact.
type ExportResult struct {
	Sink string // cleaned_csv | aggregate_csv | aggregate_json | workbook | sqlite
	Path string
	Rows int64
}

// Export writes the run's outputs according to the job's export section:
// the cleaned table as CSV, each aggregation as CSV or JSON, an XLSX summary
// workbook, and aggregate tables in a SQLite file. Every sink is optional.
func Export(log zerolog.Logger, spec *model.ExportSpec, jobName string, cleaned []model.CleanedTrip, stats *CleanStats, aggs []Aggregation) ([]ExportResult, error) {
	if spec == nil {
		return nil, nil
	}
	if err := utils.EnsureDir(spec.Dir); err != nil {
		return nil, err
	}

	var results []ExportResult

	if spec.CleanedCSV != "" {
		path := utils.OutputPath(spec.Dir, spec.CleanedCSV)
		if err := writeCleanedCSV(path, cleaned); err != nil {
			return results, err
		}
		results = append(results, ExportResult{Sink: "cleaned_csv", Path: path, Rows: int64(len(cleaned))})
		log.Info().Str("path", path).Int("rows", len(cleaned)).Msg("cleaned table written")
	}

	for _, agg := range aggs {
		var (
			path string
			err  error
			sink string
		)
		if spec.AggregateFormat == "json" {
			sink = "aggregate_json"
			path = utils.OutputPath(spec.Dir, agg.Name+".json")
			err = writeAggregateJSON(path, agg)
		} else {
			sink = "aggregate_csv"
			path = utils.OutputPath(spec.Dir, agg.Name+".csv")
			err = writeAggregateCSV(path, agg)
		}
		if err != nil {
			return results, err
		}
		results = append(results, ExportResult{Sink: sink, Path: path, Rows: int64(len(agg.Buckets))})
		log.Info().Str("path", path).Int("groups", len(agg.Buckets)).Msg("aggregate written")
	}

	if spec.Workbook != "" {
		path := utils.OutputPath(spec.Dir, spec.Workbook)
		if err := writeWorkbook(path, jobName, stats, aggs); err != nil {
			return results, err
		}
		results = append(results, ExportResult{Sink: "workbook", Path: path, Rows: int64(len(aggs))})
		log.Info().Str("path", path).Int("sheets", len(aggs)+1).Msg("workbook written")
	}

	if spec.SQLite != "" {
		path := utils.OutputPath(spec.Dir, spec.SQLite)
		rows, err := writeSQLite(path, aggs)
		if err != nil {
			return results, err
		}
		results = append(results, ExportResult{Sink: "sqlite", Path: path, Rows: rows})
		log.Info().Str("path", path).Int64("rows", rows).Msg("aggregate database written")
	}

	return results, nil
}

// writeCleanedCSV writes the cleaned trips in canonical column order with
// timestamps in the canonical layout.
func writeCleanedCSV(path string, cleaned []model.CleanedTrip) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write(CleanedColumns); err != nil {
		return fmt.Errorf("failed to write header of %s: %w", path, err)
	}

	for _, trip := range cleaned {
		row := []string{
			trip.ID,
			string(trip.BikeType),
			string(trip.RiderType),
			trip.StartStationName,
			trip.EndStationName,
			trip.StartedAt.Format(model.TimestampLayout),
			trip.EndedAt.Format(model.TimestampLayout),
			strconv.FormatFloat(trip.RideLengthMinutes, 'f', 2, 64),
			trip.DayOfWeek.String(),
			trip.Month.String(),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row to %s: %w", path, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// writeAggregateCSV writes one aggregation as a table: one column per
// selector, then the metric value.
func writeAggregateCSV(path string, agg Aggregation) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write(aggregateHeader(agg)); err != nil {
		return fmt.Errorf("failed to write header of %s: %w", path, err)
	}

	for _, bucket := range agg.Buckets {
		row := append(append([]string{}, bucket.Values...), FormatMetricValue(agg.Metric, bucket))
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row to %s: %w", path, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// writeAggregateJSON writes one aggregation as an array of flat objects, one
// per group, which is what chart-rendering collaborators consume directly.
func writeAggregateJSON(path string, agg Aggregation) error {
	rows := make([]map[string]interface{}, 0, len(agg.Buckets))
	for _, bucket := range agg.Buckets {
		row := make(map[string]interface{}, len(agg.GroupBy)+1)
		for i, sel := range agg.GroupBy {
			row[string(sel)] = bucket.Values[i]
		}
		if agg.Metric == MetricMeanRideLength {
			row[string(agg.Metric)] = utils.Round2(bucket.MeanRideLength())
		} else {
			row[string(agg.Metric)] = bucket.Count
		}
		rows = append(rows, row)
	}

	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// writeWorkbook renders all aggregations into one XLSX file.
func writeWorkbook(path, jobName string, stats *CleanStats, aggs []Aggregation) error {
	sheets := make([]excel.Sheet, 0, len(aggs))
	for _, agg := range aggs {
		sheet := excel.Sheet{
			Name:   agg.Name,
			Header: aggregateHeader(agg),
			Rows:   make([][]interface{}, 0, len(agg.Buckets)),
		}
		for _, bucket := range agg.Buckets {
			row := make([]interface{}, 0, len(bucket.Values)+1)
			for _, value := range bucket.Values {
				row = append(row, value)
			}
			if agg.Metric == MetricMeanRideLength {
				row = append(row, utils.Round2(bucket.MeanRideLength()))
			} else {
				row = append(row, bucket.Count)
			}
			sheet.Rows = append(sheet.Rows, row)
		}
		sheets = append(sheets, sheet)
	}

	data, err := excel.NewGenerator().Generate(excel.Summary{
		JobName:     jobName,
		RowsIn:      stats.RowsIn,
		RowsKept:    stats.RowsKept,
		RowsDropped: stats.RowsDropped(),
	}, sheets)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// writeSQLite writes each aggregation as its own table in a SQLite file,
// replacing tables from earlier runs of the same job.
func writeSQLite(path string, aggs []Aggregation) (int64, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer db.Close()

	var total int64
	for _, agg := range aggs {
		table := sqlIdentifier(agg.Name)

		cols := make([]string, 0, len(agg.GroupBy)+1)
		for _, sel := range agg.GroupBy {
			cols = append(cols, fmt.Sprintf("%s TEXT", sqlIdentifier(string(sel))))
		}
		valueType := "INTEGER"
		if agg.Metric == MetricMeanRideLength {
			valueType = "REAL"
		}
		cols = append(cols, fmt.Sprintf("%s %s", sqlIdentifier(string(agg.Metric)), valueType))

		if _, err := db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
			return total, fmt.Errorf("failed to reset table %s: %w", table, err)
		}
		if _, err := db.Exec(fmt.Sprintf(`CREATE TABLE %s (%s)`, table, strings.Join(cols, ", "))); err != nil {
			return total, fmt.Errorf("failed to create table %s: %w", table, err)
		}

		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(agg.GroupBy)+1), ", ")
		insert := fmt.Sprintf(`INSERT INTO %s VALUES (%s)`, table, placeholders)

		tx, err := db.Begin()
		if err != nil {
			return total, fmt.Errorf("failed to start transaction for %s: %w", table, err)
		}
		for _, bucket := range agg.Buckets {
			args := make([]interface{}, 0, len(bucket.Values)+1)
			for _, value := range bucket.Values {
				args = append(args, value)
			}
			if agg.Metric == MetricMeanRideLength {
				args = append(args, bucket.MeanRideLength())
			} else {
				args = append(args, bucket.Count)
			}
			if _, err := tx.Exec(insert, args...); err != nil {
				tx.Rollback()
				return total, fmt.Errorf("failed to insert into %s: %w", table, err)
			}
			total++
		}
		if err := tx.Commit(); err != nil {
			return total, fmt.Errorf("failed to commit %s: %w", table, err)
		}
	}

	return total, nil
}

// aggregateHeader is the tabular header for one aggregation: selectors in
// groupBy order, then the metric.
func aggregateHeader(agg Aggregation) []string {
	header := make([]string, 0, len(agg.GroupBy)+1)
	for _, sel := range agg.GroupBy {
		header = append(header, string(sel))
	}
	return append(header, string(agg.Metric))
}

// sqlIdentifier turns a name into a safe table or column identifier:
// lowercased, anything outside [a-z0-9_] squashed to underscores.
func sqlIdentifier(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	out := sb.String()
	if out == "" {
		out = fmt.Sprintf("aggregate_%d", time.Now().Unix())
	}
	return out
}
