package model

import "strings"

// JobSpec defines one pipeline run: which monthly exports to read, how to
// clean them, which summaries to build, and where results go.
type JobSpec struct {
	Name         string            `json:"name"`
	Sources      []string          `json:"sources"`
	Cleaning     CleaningSpec      `json:"cleaning"`
	Aggregations []AggregationSpec `json:"aggregations"`
	Export       *ExportSpec       `json:"export,omitempty"`
	Concurrency  ConcurrencySpec   `json:"concurrency"`
}

// CleaningSpec carries the row-filter policy. The duration cutoffs are policy,
// not physics: the defaults drop non-rides (length <= 0) and day-plus
// checkouts (length >= 1440 minutes, bikes never docked again).
type CleaningSpec struct {
	MinRideMinutes float64  `json:"minRideMinutes"` // exclusive lower bound, default 0
	MaxRideMinutes float64  `json:"maxRideMinutes"` // exclusive upper bound, 0 means default 1440
	Timezone       string   `json:"timezone"`       // IANA name all timestamps share, default UTC
	TimeLayouts    []string `json:"timeLayouts"`    // Go reference layouts tried in order
}

// AggregationSpec names one grouped summary over the cleaned trips.
type AggregationSpec struct {
	Name    string   `json:"name"`
	GroupBy []string `json:"groupBy"` // riderType | bikeType | dayOfWeek | month
	Metric  string   `json:"metric"`  // count | meanRideLength
}

// ExportSpec lists the sinks a run writes. File names are joined under Dir.
type ExportSpec struct {
	Dir             string `json:"dir"`
	CleanedCSV      string `json:"cleanedCsv"`
	AggregateFormat string `json:"aggregateFormat"` // csv | json
	Workbook        string `json:"workbook"`        // .xlsx summary for the reporting side
	SQLite          string `json:"sqlite"`          // aggregate tables as a SQLite file
}

// WorkersSpec sets worker counts per stage.
type WorkersSpec struct {
	Clean     int `json:"clean"`
	Aggregate int `json:"aggregate"`
}

// ConcurrencySpec tunes the run; zero values take defaults in Normalize.
type ConcurrencySpec struct {
	Workers           WorkersSpec `json:"workers"`
	ChannelBufferSize int         `json:"channelBufferSize"`
	JobTimeout        string      `json:"jobTimeout"` // e.g. "15m"
}

// Normalize fills zero values with defaults and derives names for unnamed
// aggregations. Safe to call more than once.
func (j *JobSpec) Normalize() {
	if j.Cleaning.MaxRideMinutes <= 0 {
		j.Cleaning.MaxRideMinutes = 1440
	}
	if j.Concurrency.Workers.Clean <= 0 {
		j.Concurrency.Workers.Clean = 4
	}
	if j.Concurrency.Workers.Aggregate <= 0 {
		j.Concurrency.Workers.Aggregate = 2
	}
	if j.Concurrency.ChannelBufferSize <= 0 {
		j.Concurrency.ChannelBufferSize = 1024
	}
	if j.Export != nil {
		if j.Export.Dir == "" {
			j.Export.Dir = "out"
		}
		if j.Export.AggregateFormat == "" {
			j.Export.AggregateFormat = "csv"
		}
	}
	for i := range j.Aggregations {
		if j.Aggregations[i].Name == "" {
			j.Aggregations[i].Name = deriveAggregationName(j.Aggregations[i])
		}
	}
}

func deriveAggregationName(a AggregationSpec) string {
	if len(a.GroupBy) == 0 {
		return a.Metric
	}
	return a.Metric + "_by_" + strings.Join(a.GroupBy, "_")
}
