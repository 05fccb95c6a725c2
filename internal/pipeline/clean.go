package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/Collins-13/cyclistic-pipeline/internal/model"
	"github.com/Collins-13/cyclistic-pipeline/pkg/utils"
)

// DropReason says why a row was filtered out during cleaning.
type DropReason string

const (
	DropBadRow            DropReason = "bad_row"            // unreadable CSV row
	DropBadTimestamp      DropReason = "bad_timestamp"      // started_at or ended_at unparsable
	DropNonPositiveLength DropReason = "nonpositive_length" // ride ended before or at its start
	DropExcessiveLength   DropReason = "excessive_length"   // at or past the outlier cutoff
	DropBadRiderType      DropReason = "bad_rider_type"     // not member/casual
	DropBadBikeType       DropReason = "bad_bike_type"      // not classic/electric/docked
)

// dropReasonOrder fixes the rendering order of drop counts.
var dropReasonOrder = []DropReason{
	DropBadRow,
	DropBadTimestamp,
	DropNonPositiveLength,
	DropExcessiveLength,
	DropBadRiderType,
	DropBadBikeType,
}

// CleanOptions is the row-filter policy for one run. The duration cutoffs
// default to (0, 1440) exclusive: zero-or-negative lengths are data errors,
// and day-plus checkouts are bikes that were never properly docked again.
type CleanOptions struct {
	MinRideMinutes float64
	MaxRideMinutes float64
	Location       *time.Location
	TimeLayouts    []string
}

// DefaultCleanOptions returns the stock policy: keep rides strictly between
// 0 and 1440 minutes, timestamps in UTC. Besides the canonical export layout
// the defaults accept RFC 3339 and the T-separated variant, since older
// monthly exports mix all three.
func DefaultCleanOptions() CleanOptions {
	return CleanOptions{
		MinRideMinutes: 0,
		MaxRideMinutes: 1440,
		Location:       time.UTC,
		TimeLayouts:    []string{model.TimestampLayout, time.RFC3339, "2006-01-02T15:04:05"},
	}
}

// CleanOptionsFromSpec builds options from a job's cleaning section.
func CleanOptionsFromSpec(spec model.CleaningSpec) (CleanOptions, error) {
	opts := DefaultCleanOptions()
	if spec.MinRideMinutes > 0 {
		opts.MinRideMinutes = spec.MinRideMinutes
	}
	if spec.MaxRideMinutes > 0 {
		opts.MaxRideMinutes = spec.MaxRideMinutes
	}
	if spec.Timezone != "" {
		loc, err := time.LoadLocation(spec.Timezone)
		if err != nil {
			return opts, fmt.Errorf("invalid timezone %q: %w", spec.Timezone, err)
		}
		opts.Location = loc
	}
	if len(spec.TimeLayouts) > 0 {
		opts.TimeLayouts = spec.TimeLayouts
	}
	return opts, nil
}

// CleanStats counts what cleaning kept and dropped. Workers keep their own
// stats and merge at the end, so no locking here.
type CleanStats struct {
	RowsIn   int64
	RowsKept int64
	Drops    map[DropReason]int64
}

// NewCleanStats returns zeroed stats with the drop map allocated.
func NewCleanStats() *CleanStats {
	return &CleanStats{Drops: make(map[DropReason]int64)}
}

// Drop records one dropped row.
func (s *CleanStats) Drop(reason DropReason) {
	if s.Drops == nil {
		s.Drops = make(map[DropReason]int64)
	}
	s.RowsIn++
	s.Drops[reason]++
}

// Keep records one retained row.
func (s *CleanStats) Keep() {
	s.RowsIn++
	s.RowsKept++
}

// RowsDropped is the total number of filtered rows.
func (s *CleanStats) RowsDropped() int64 {
	return s.RowsIn - s.RowsKept
}

// Merge folds other into s.
func (s *CleanStats) Merge(other *CleanStats) {
	if other == nil {
		return
	}
	s.RowsIn += other.RowsIn
	s.RowsKept += other.RowsKept
	for reason, n := range other.Drops {
		if s.Drops == nil {
			s.Drops = make(map[DropReason]int64)
		}
		s.Drops[reason] += n
	}
}

// Summary renders a one-line filter-count report.
func (s *CleanStats) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "kept %d of %d trips", s.RowsKept, s.RowsIn)
	if dropped := s.RowsDropped(); dropped > 0 {
		fmt.Fprintf(&sb, ", dropped %d (", dropped)
		first := true
		for _, reason := range dropReasonOrder {
			if n := s.Drops[reason]; n > 0 {
				if !first {
					sb.WriteString(", ")
				}
				fmt.Fprintf(&sb, "%s=%d", reason, n)
				first = false
			}
		}
		sb.WriteString(")")
	}
	return sb.String()
}

// Clean filters and enriches raw trip records. Rows with unparsable
// timestamps, out-of-bounds ride lengths, or unrecognized categorical values
// are dropped and counted; everything else gets its ride length and calendar
// ordinals computed. The output is a new slice in input order; the input is
// never mutated.
func Clean(records []model.TripRecord, opts CleanOptions) ([]model.CleanedTrip, *CleanStats) {
	stats := NewCleanStats()
	cleaned := make([]model.CleanedTrip, 0, len(records))

	for _, rec := range records {
		trip, reason, ok := cleanOne(rec, opts)
		if !ok {
			stats.Drop(reason)
			continue
		}
		stats.Keep()
		cleaned = append(cleaned, trip)
	}

	return cleaned, stats
}

// cleanOne validates a single record. Checks run in a fixed order and the
// first failing check names the drop reason.
func cleanOne(rec model.TripRecord, opts CleanOptions) (model.CleanedTrip, DropReason, bool) {
	startedAt, okStart := parseTimestamp(rec.StartedAt, opts)
	endedAt, okEnd := parseTimestamp(rec.EndedAt, opts)
	if !okStart || !okEnd {
		return model.CleanedTrip{}, DropBadTimestamp, false
	}

	length := utils.Round2(endedAt.Sub(startedAt).Minutes())
	if length <= opts.MinRideMinutes {
		return model.CleanedTrip{}, DropNonPositiveLength, false
	}
	if length >= opts.MaxRideMinutes {
		return model.CleanedTrip{}, DropExcessiveLength, false
	}

	riderType, ok := model.ParseRiderType(rec.MemberCasual)
	if !ok {
		return model.CleanedTrip{}, DropBadRiderType, false
	}
	bikeType, ok := model.ParseBikeType(rec.RideableType)
	if !ok {
		return model.CleanedTrip{}, DropBadBikeType, false
	}

	return model.CleanedTrip{
		ID:                strings.TrimSpace(rec.RideID),
		BikeType:          bikeType,
		RiderType:         riderType,
		StartStationName:  strings.TrimSpace(rec.StartStationName),
		EndStationName:    strings.TrimSpace(rec.EndStationName),
		StartedAt:         startedAt,
		EndedAt:           endedAt,
		RideLengthMinutes: length,
		DayOfWeek:         startedAt.Weekday(),
		Month:             startedAt.Month(),
	}, "", true
}

// parseTimestamp tries each configured layout in order.
func parseTimestamp(raw string, opts CleanOptions) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range opts.TimeLayouts {
		if ts, err := time.ParseInLocation(layout, raw, opts.Location); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
