// Package pipeline implements the trip-data batch pipeline: ingest monthly
// CSV exports, clean and enrich the rows, aggregate by rider and calendar
// dimensions, and export the results.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Collins-13/cyclistic-pipeline/internal/model"
	"github.com/Collins-13/cyclistic-pipeline/internal/store"
	"github.com/Collins-13/cyclistic-pipeline/pkg/utils"
)

// DefaultJobTimeout bounds a run when the job spec sets none.
const DefaultJobTimeout = 15 * time.Minute

// RawRow is one ingested record tagged with its position in the concatenated
// input, so cleaned output can be restored to input order after the worker
// pool scatters it.
type RawRow struct {
	Seq    int64
	Record model.TripRecord
}

// cleanedRow pairs a cleaned trip with its ingest ordinal.
type cleanedRow struct {
	seq  int64
	trip model.CleanedTrip
}

// Runner executes pipeline jobs. Store may be nil to disable run tracking;
// DryRun runs every stage but skips export writes.
type Runner struct {
	Log    zerolog.Logger
	Client *http.Client
	Store  *store.Store
	Retry  RetryConfig
	DryRun bool
}

// RunResult is everything one completed run produced.
type RunResult struct {
	RunID        string
	Cleaned      []model.CleanedTrip
	Stats        *CleanStats
	Aggregations []Aggregation
	Exports      []ExportResult
	Duration     time.Duration
}

// aggPlan is one aggregation spec with its selectors and metric validated.
type aggPlan struct {
	name    string
	groupBy []Selector
	metric  Metric
}

// Run executes one job: ingest every source, clean in parallel, aggregate
// via per-worker partials merged exactly, then export. A run either
// completes fully or fails without writing any export.
func (r *Runner) Run(ctx context.Context, job *model.JobSpec) (result *RunResult, err error) {
	start := time.Now()
	job.Normalize()

	if len(job.Sources) == 0 {
		return nil, fmt.Errorf("job %q has no sources", job.Name)
	}

	// Validate aggregation specs before touching any source, so a bad
	// groupBy fails fast instead of after minutes of ingestion.
	plans, err := buildPlans(job.Aggregations)
	if err != nil {
		return nil, err
	}

	opts, err := CleanOptionsFromSpec(job.Cleaning)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := r.Log.With().Str("run_id", runID).Str("job", job.Name).Logger()
	log.Info().Int("sources", len(job.Sources)).Int("aggregations", len(plans)).Bool("dry_run", r.DryRun).Msg("starting run")

	if r.Store != nil {
		if trackErr := r.Store.CreateRun(runID, job); trackErr != nil {
			log.Warn().Err(trackErr).Msg("failed to record run start")
		}
		defer func() {
			if err != nil {
				if trackErr := r.Store.SaveRunError(runID, err); trackErr != nil {
					log.Warn().Err(trackErr).Msg("failed to record run error")
				}
				if trackErr := r.Store.FinishRun(runID, "failed", 0, 0); trackErr != nil {
					log.Warn().Err(trackErr).Msg("failed to record run finish")
				}
			}
		}()
	}

	timeout := utils.ParseDuration(job.Concurrency.JobTimeout, DefaultJobTimeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}

	rawCh := make(chan RawRow, job.Concurrency.ChannelBufferSize)

	// Ingestion feeds the worker pool and owns closing rawCh.
	var (
		ingestStats *CleanStats
		ingestErr   error
		ingestWG    sync.WaitGroup
	)
	ingestWG.Add(1)
	go func() {
		defer ingestWG.Done()
		defer close(rawCh)
		ingestStats, ingestErr = IngestSources(ctx, log, client, job.Sources, r.Retry, rawCh)
		if ingestErr != nil {
			cancel()
		}
	}()

	// Clean workers: each owns its stats, its slice of cleaned rows, and one
	// partial accumulator per aggregation, so the hot path takes no locks.
	numWorkers := job.Concurrency.Workers.Clean
	workers := make([]*cleanWorker, numWorkers)
	var workerWG sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		worker := newCleanWorker(plans)
		workers[i] = worker
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			worker.run(rawCh, opts)
		}()
	}

	workerWG.Wait()
	ingestWG.Wait()

	if ingestErr != nil {
		return nil, ingestErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("run cancelled: %w", ctxErr)
	}

	// Merge the shards: stats fold together, cleaned rows re-sort into
	// input order, and aggregation partials merge by weighted sums.
	stats := ingestStats
	var rows []cleanedRow
	for _, worker := range workers {
		stats.Merge(worker.stats)
		rows = append(rows, worker.rows...)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	cleaned := make([]model.CleanedTrip, len(rows))
	for i, row := range rows {
		cleaned[i] = row.trip
	}

	log.Info().
		Int64("rows_in", stats.RowsIn).
		Int64("rows_kept", stats.RowsKept).
		Int64("rows_dropped", stats.RowsDropped()).
		Msg(stats.Summary())

	aggs, err := mergeAggregations(plans, workers, job.Concurrency.Workers.Aggregate)
	if err != nil {
		return nil, err
	}
	for _, agg := range aggs {
		log.Info().Str("aggregation", agg.Name).Int("groups", len(agg.Buckets)).Msg("aggregation computed")
	}

	var exports []ExportResult
	if r.DryRun {
		log.Info().Msg("dry run: skipping export")
	} else {
		exports, err = Export(log, job.Export, job.Name, cleaned, stats, aggs)
		if err != nil {
			return nil, err
		}
	}

	if r.Store != nil {
		if trackErr := r.Store.SaveDrops(runID, dropCounts(stats)); trackErr != nil {
			log.Warn().Err(trackErr).Msg("failed to record drop counts")
		}
		for _, export := range exports {
			if trackErr := r.Store.SaveExport(runID, export.Sink, export.Path, export.Rows); trackErr != nil {
				log.Warn().Err(trackErr).Msg("failed to record export")
			}
		}
		if trackErr := r.Store.FinishRun(runID, "completed", stats.RowsIn, stats.RowsKept); trackErr != nil {
			log.Warn().Err(trackErr).Msg("failed to record run finish")
		}
	}

	duration := time.Since(start)
	log.Info().Dur("duration", duration).Msg("run completed")

	return &RunResult{
		RunID:        runID,
		Cleaned:      cleaned,
		Stats:        stats,
		Aggregations: aggs,
		Exports:      exports,
		Duration:     duration,
	}, nil
}

// cleanWorker is one shard of the clean stage.
type cleanWorker struct {
	stats    *CleanStats
	rows     []cleanedRow
	partials []*Partial
}

func newCleanWorker(plans []aggPlan) *cleanWorker {
	worker := &cleanWorker{
		stats:    NewCleanStats(),
		partials: make([]*Partial, len(plans)),
	}
	for i, plan := range plans {
		worker.partials[i] = NewPartial(plan.groupBy)
	}
	return worker
}

// run drains the raw channel until it closes. Dropped rows are counted, kept
// rows are collected and folded into every aggregation partial.
func (w *cleanWorker) run(rawCh <-chan RawRow, opts CleanOptions) {
	for row := range rawCh {
		trip, reason, ok := cleanOne(row.Record, opts)
		if !ok {
			w.stats.Drop(reason)
			continue
		}
		w.stats.Keep()
		w.rows = append(w.rows, cleanedRow{seq: row.Seq, trip: trip})
		for _, partial := range w.partials {
			partial.Add(trip)
		}
	}
}

// mergeAggregations folds the per-worker partials of every aggregation and
// finalizes them, fanning across the configured aggregation workers since
// each aggregation merges independently.
func mergeAggregations(plans []aggPlan, workers []*cleanWorker, numWorkers int) ([]Aggregation, error) {
	if numWorkers < 1 {
		numWorkers = 1
	}

	aggs := make([]Aggregation, len(plans))
	errs := make([]error, len(plans))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				parts := make([]*Partial, len(workers))
				for j, worker := range workers {
					parts[j] = worker.partials[i]
				}
				merged, err := MergePartials(parts...)
				if err != nil {
					errs[i] = err
					continue
				}
				aggs[i] = merged.Finalize(plans[i].name, plans[i].metric)
			}
		}()
	}
	for i := range plans {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return aggs, nil
}

// buildPlans validates every aggregation spec up front.
func buildPlans(specs []model.AggregationSpec) ([]aggPlan, error) {
	plans := make([]aggPlan, len(specs))
	for i, spec := range specs {
		if len(spec.GroupBy) == 0 {
			return nil, fmt.Errorf("aggregation %q needs at least one groupBy selector", spec.Name)
		}
		groupBy := make([]Selector, len(spec.GroupBy))
		for j, raw := range spec.GroupBy {
			sel, err := ParseSelector(raw)
			if err != nil {
				return nil, fmt.Errorf("aggregation %q: %w", spec.Name, err)
			}
			groupBy[j] = sel
		}
		metric, err := ParseMetric(spec.Metric)
		if err != nil {
			return nil, fmt.Errorf("aggregation %q: %w", spec.Name, err)
		}
		plans[i] = aggPlan{name: spec.Name, groupBy: groupBy, metric: metric}
	}
	return plans, nil
}

// dropCounts flattens stats into the string-keyed map the store records.
func dropCounts(stats *CleanStats) map[string]int64 {
	counts := make(map[string]int64, len(stats.Drops))
	for reason, n := range stats.Drops {
		counts[string(reason)] = n
	}
	return counts
}
