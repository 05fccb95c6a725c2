package pipeline

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Collins-13/cyclistic-pipeline/internal/model"
	"github.com/Collins-13/cyclistic-pipeline/pkg/utils"
)

// Selector is a grouping dimension over cleaned trips.
type Selector string

const (
	SelectorRiderType Selector = "riderType"
	SelectorBikeType  Selector = "bikeType"
	SelectorDayOfWeek Selector = "dayOfWeek"
	SelectorMonth     Selector = "month"
)

// Metric is the summary computed per group.
type Metric string

const (
	MetricCount          Metric = "count"
	MetricMeanRideLength Metric = "meanRideLength"
)

// UnknownSelectorError reports a groupBy value outside the recognized set.
// It fails the aggregation it was requested for and nothing else.
type UnknownSelectorError struct {
	Selector string
}

func (e *UnknownSelectorError) Error() string {
	return fmt.Sprintf("unknown groupBy selector %q (want riderType, bikeType, dayOfWeek, or month)", e.Selector)
}

// UnknownMetricError reports a metric outside the recognized set.
type UnknownMetricError struct {
	Metric string
}

func (e *UnknownMetricError) Error() string {
	return fmt.Sprintf("unknown metric %q (want count or meanRideLength)", e.Metric)
}

// ParseSelector validates a raw groupBy value.
func ParseSelector(raw string) (Selector, error) {
	switch Selector(raw) {
	case SelectorRiderType, SelectorBikeType, SelectorDayOfWeek, SelectorMonth:
		return Selector(raw), nil
	default:
		return "", &UnknownSelectorError{Selector: raw}
	}
}

// ParseMetric validates a raw metric value.
func ParseMetric(raw string) (Metric, error) {
	switch Metric(raw) {
	case MetricCount, MetricMeanRideLength:
		return Metric(raw), nil
	default:
		return "", &UnknownMetricError{Metric: raw}
	}
}

// Bucket is one group in an aggregation: its labels (one per selector, in
// groupBy order), how many trips landed in it, and their summed ride minutes.
// Carrying the sum instead of a mean lets partial results merge exactly.
type Bucket struct {
	Values []string `json:"values"`
	Count  int64    `json:"count"`
	Sum    float64  `json:"-"`
}

// MeanRideLength is the arithmetic mean ride length for the bucket. Buckets
// only exist for groups with at least one trip, so the division is safe.
func (b Bucket) MeanRideLength() float64 {
	return b.Sum / float64(b.Count)
}

// Aggregation is one finished grouped summary. Buckets are sparse (groups
// with zero trips never appear) and sorted in each selector's natural order,
// first selector outermost.
type Aggregation struct {
	Name    string     `json:"name"`
	GroupBy []Selector `json:"groupBy"`
	Metric  Metric     `json:"metric"`
	Buckets []Bucket   `json:"buckets"`
}

// Value looks up the bucket with the given labels. The boolean is false for
// groups that had no trips.
func (a *Aggregation) Value(values ...string) (Bucket, bool) {
	for _, b := range a.Buckets {
		if len(b.Values) != len(values) {
			continue
		}
		match := true
		for i := range values {
			if b.Values[i] != values[i] {
				match = false
				break
			}
		}
		if match {
			return b, true
		}
	}
	return Bucket{}, false
}

// bucketAccum is the mutable accumulator behind one bucket. The ordinals
// mirror Values with each label's natural position (weekday number, calendar
// month number) so Finalize can sort without re-parsing labels.
type bucketAccum struct {
	values []string
	ords   []int
	count  int64
	sum    float64
}

// Partial accumulates one shard of an aggregation. Each worker owns its own
// Partial and MergePartials combines them exactly, so a sharded run produces
// the same buckets as a sequential one.
type Partial struct {
	groupBy []Selector
	buckets map[string]*bucketAccum
}

// NewPartial starts an empty accumulator for the given selectors.
func NewPartial(groupBy []Selector) *Partial {
	return &Partial{
		groupBy: groupBy,
		buckets: make(map[string]*bucketAccum),
	}
}

// Add folds one cleaned trip into the accumulator.
func (p *Partial) Add(trip model.CleanedTrip) {
	values := make([]string, len(p.groupBy))
	ords := make([]int, len(p.groupBy))
	for i, sel := range p.groupBy {
		values[i], ords[i] = selectorValue(trip, sel)
	}

	key := strings.Join(values, "\x1f")
	acc, ok := p.buckets[key]
	if !ok {
		acc = &bucketAccum{values: values, ords: ords}
		p.buckets[key] = acc
	}
	acc.count++
	acc.sum += trip.RideLengthMinutes
}

// Size is the number of non-empty groups seen so far.
func (p *Partial) Size() int {
	return len(p.buckets)
}

// MergePartials combines shard accumulators into one. Counts add and sums
// add, which makes the merged mean the exact weighted mean of the shards
// rather than a mean of means. All partials must share the same selectors.
func MergePartials(parts ...*Partial) (*Partial, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("no partials to merge")
	}

	merged := NewPartial(parts[0].groupBy)
	for _, part := range parts {
		if !sameSelectors(part.groupBy, merged.groupBy) {
			return nil, fmt.Errorf("cannot merge partials grouped by %v and %v", part.groupBy, merged.groupBy)
		}
		for key, acc := range part.buckets {
			target, ok := merged.buckets[key]
			if !ok {
				target = &bucketAccum{values: acc.values, ords: acc.ords}
				merged.buckets[key] = target
			}
			target.count += acc.count
			target.sum += acc.sum
		}
	}

	return merged, nil
}

// Finalize freezes the accumulator into a sorted, sparse Aggregation.
func (p *Partial) Finalize(name string, metric Metric) Aggregation {
	accums := make([]*bucketAccum, 0, len(p.buckets))
	for _, acc := range p.buckets {
		accums = append(accums, acc)
	}
	sort.Slice(accums, func(i, j int) bool {
		a, b := accums[i].ords, accums[j].ords
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})

	buckets := make([]Bucket, 0, len(accums))
	for _, acc := range accums {
		buckets = append(buckets, Bucket{
			Values: acc.values,
			Count:  acc.count,
			Sum:    acc.sum,
		})
	}

	return Aggregation{
		Name:    name,
		GroupBy: p.groupBy,
		Metric:  metric,
		Buckets: buckets,
	}
}

// Aggregate groups cleaned trips by the requested selectors and computes the
// requested metric. Groups with no trips never appear in the result.
func Aggregate(trips []model.CleanedTrip, spec model.AggregationSpec) (Aggregation, error) {
	if len(spec.GroupBy) == 0 {
		return Aggregation{}, fmt.Errorf("aggregation %q needs at least one groupBy selector", spec.Name)
	}

	groupBy := make([]Selector, len(spec.GroupBy))
	for i, raw := range spec.GroupBy {
		sel, err := ParseSelector(raw)
		if err != nil {
			return Aggregation{}, err
		}
		groupBy[i] = sel
	}
	metric, err := ParseMetric(spec.Metric)
	if err != nil {
		return Aggregation{}, err
	}

	partial := NewPartial(groupBy)
	for _, trip := range trips {
		partial.Add(trip)
	}

	return partial.Finalize(spec.Name, metric), nil
}

// selectorValue extracts a trip's label for one selector plus the label's
// natural sort position.
func selectorValue(trip model.CleanedTrip, sel Selector) (string, int) {
	switch sel {
	case SelectorRiderType:
		return string(trip.RiderType), riderTypeOrd(trip.RiderType)
	case SelectorBikeType:
		return string(trip.BikeType), bikeTypeOrd(trip.BikeType)
	case SelectorDayOfWeek:
		return trip.DayOfWeek.String(), int(trip.DayOfWeek)
	case SelectorMonth:
		return trip.Month.String(), int(trip.Month)
	default:
		// Selectors are validated before accumulation starts.
		return "", 0
	}
}

func riderTypeOrd(rt model.RiderType) int {
	if rt == model.RiderMember {
		return 0
	}
	return 1
}

func bikeTypeOrd(bt model.BikeType) int {
	switch bt {
	case model.BikeClassic:
		return 0
	case model.BikeElectric:
		return 1
	default:
		return 2
	}
}

func sameSelectors(a, b []Selector) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FormatMetricValue renders a bucket's metric for tabular output.
func FormatMetricValue(metric Metric, b Bucket) string {
	if metric == MetricMeanRideLength {
		return strconv.FormatFloat(utils.Round2(b.MeanRideLength()), 'f', 2, 64)
	}
	return strconv.FormatInt(b.Count, 10)
}
