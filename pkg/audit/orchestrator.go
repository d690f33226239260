// Package audit drives the container scan: a bounded worker pool, one
// task per pending container, each task composing credential check,
// retried listing, analysis, and durable persistence. A single
// aggregator collects results and failures over a channel; there is no
// shared mutable counter anywhere in the pipeline.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blobaudit/blobaudit/internal/config"
	"github.com/blobaudit/blobaudit/internal/models"
	"github.com/blobaudit/blobaudit/pkg/analyzer"
	"github.com/blobaudit/blobaudit/pkg/credential"
	"github.com/blobaudit/blobaudit/pkg/pricing"
	"github.com/blobaudit/blobaudit/pkg/progress"
	"github.com/blobaudit/blobaudit/pkg/report"
	"github.com/blobaudit/blobaudit/pkg/retry"
	"github.com/blobaudit/blobaudit/pkg/storage"
)

// ErrEnumerationFailed is returned when containers cannot be listed at
// all. Nothing has been scheduled at that point; the process should
// exit non-zero.
var ErrEnumerationFailed = errors.New("container enumeration failed")

// Options configure one audit run.
type Options struct {
	AccountID     string
	ResourceGroup string
	RetentionDays int
	Concurrency   int
	Resume        bool

	// TaskTimeout bounds one container's processing; zero disables it.
	TaskTimeout time.Duration

	// CredentialThreshold is the remaining validity below which
	// workers renew proactively.
	CredentialThreshold time.Duration

	Retry retry.Options

	// WarnDelay is the cancellable pause taken after warning about a
	// concurrency limit above the recommended ceiling.
	WarnDelay time.Duration

	// Now supplies the analysis timestamp; defaults to time.Now.
	// Frozen in tests so resumed and uninterrupted runs compare.
	Now func() time.Time

	TopN int
}

// Outcome is everything a run produced, including rows carried over
// from a resumed run.
type Outcome struct {
	Results          []models.ContainerResult
	Failures         []models.FailureRecord
	Summary          models.Summary
	SkippedCompleted int // containers filtered out by the completed set
	EmptyContainers  int // zero-object containers (completed, no row)
	ProgressPath     string
	ResultsPath      string
}

// Orchestrator wires the pipeline components together.
type Orchestrator struct {
	factory storage.Factory
	store   *progress.Store
	sink    *report.Sink
	calc    pricing.Calculator
	logger  *zap.Logger
}

// New builds an orchestrator. Every worker gets its own storage client
// and credential handle from the factory.
func New(factory storage.Factory, store *progress.Store, sink *report.Sink, calc pricing.Calculator, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		factory: factory,
		store:   store,
		sink:    sink,
		calc:    calc,
		logger:  logger,
	}
}

// taskOutcome is one worker's report for one container, delivered to
// the aggregator over a channel.
type taskOutcome struct {
	container string
	result    *models.ContainerResult
	failure   *models.FailureRecord
	empty     bool
}

// Run executes the audit. A single container's failure never aborts the
// run; only the inability to enumerate containers at all does.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Outcome, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TopN < 1 {
		opts.TopN = 5
	}

	limit, err := o.normalizeConcurrency(ctx, opts)
	if err != nil {
		return nil, err
	}
	opts.Concurrency = limit

	// The main path gets its own handle, checked for freshness before
	// enumeration the same way workers check before listing.
	client, creds, err := o.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnumerationFailed, err)
	}
	guard := credential.NewGuard(creds, opts.AccountID, opts.CredentialThreshold, o.logger)
	if err := guard.EnsureFresh(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnumerationFailed, err)
	}

	containers, err := retry.Do(ctx, opts.Retry, func(ctx context.Context) ([]models.ContainerInfo, error) {
		return client.ListContainers(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnumerationFailed, err)
	}
	o.logger.Info("containers enumerated", zap.Int("count", len(containers)))

	state, loadedResults, err := o.prepareState(opts)
	if err != nil {
		return nil, err
	}

	pending := make([]string, 0, len(containers))
	skipped := 0
	for _, c := range containers {
		if state.IsCompleted(c.Name) {
			skipped++
			continue
		}
		pending = append(pending, c.Name)
	}
	o.logger.Info("work set prepared",
		zap.Int("pending", len(pending)),
		zap.Int("already_completed", skipped))

	outcome := &Outcome{
		SkippedCompleted: skipped,
		ProgressPath:     o.store.Path(),
		ResultsPath:      o.sink.Path(),
	}

	// Keep only loaded rows whose container the progress store actually
	// recorded as complete; anything else gets rescanned.
	for _, r := range loadedResults {
		if state.IsCompleted(r.Container) {
			outcome.Results = append(outcome.Results, r)
		}
	}

	if len(pending) > 0 {
		o.dispatch(ctx, opts, pending, outcome)
	}

	// An interrupted rerun can leave two rows for one container: one
	// loaded from the prior run's file, one appended before the crash.
	// The later row wins, matching how Finalize dedups on disk.
	outcome.Results = dedupeByContainer(outcome.Results)

	if err := o.sink.Finalize(outcome.Results); err != nil {
		return nil, fmt.Errorf("error finalizing results: %w", err)
	}

	outcome.Summary = buildSummary(outcome.Results, len(outcome.Failures), o.calc, opts.TopN)
	return outcome, nil
}

// normalizeConcurrency clamps an out-of-range limit into bounds with a
// warning rather than hard-failing, and pauses briefly (cancellable)
// above the recommended ceiling so the operator can abort. The remote
// API throttles undocumented; past the ceiling requests time out in
// cascades rather than failing cleanly.
func (o *Orchestrator) normalizeConcurrency(ctx context.Context, opts Options) (int, error) {
	limit := opts.Concurrency
	if limit < config.MinConcurrency {
		o.logger.Warn("concurrency limit below minimum, clamped",
			zap.Int("requested", opts.Concurrency), zap.Int("using", config.MinConcurrency))
		limit = config.MinConcurrency
	}
	if limit > config.MaxConcurrency {
		o.logger.Warn("concurrency limit above maximum, clamped",
			zap.Int("requested", opts.Concurrency), zap.Int("using", config.MaxConcurrency))
		limit = config.MaxConcurrency
	}
	if limit > config.RecommendedConcurrency {
		o.logger.Warn("concurrency limit exceeds recommended ceiling; remote throttling likely",
			zap.Int("limit", limit),
			zap.Int("recommended", config.RecommendedConcurrency))
		select {
		case <-time.After(opts.WarnDelay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return limit, nil
}

// prepareState loads or initializes the progress file and any prior
// results.
func (o *Orchestrator) prepareState(opts Options) (*models.ProgressState, []models.ContainerResult, error) {
	if opts.Resume {
		state, err := o.store.Load(opts.AccountID)
		if err != nil {
			return nil, nil, err
		}
		if state != nil {
			loaded, err := o.sink.Load()
			if err != nil {
				return nil, nil, err
			}
			return state, loaded, nil
		}
		o.logger.Info("no prior progress found, starting fresh")
	}

	state, err := o.store.Init(opts.AccountID, opts.ResourceGroup, opts.RetentionDays, opts.Now().UTC())
	if err != nil {
		return nil, nil, err
	}
	// A fresh run owns the results path. Rows a previous run finalized
	// there must not resurface if this run is later resumed.
	if err := o.sink.Reset(); err != nil {
		return nil, nil, err
	}
	return state, nil, nil
}

// dispatch runs the bounded worker pool and aggregates outcomes from a
// single channel.
func (o *Orchestrator) dispatch(ctx context.Context, opts Options, pending []string, outcome *Outcome) {
	jobs := make(chan string)
	outcomes := make(chan taskOutcome)

	var wg sync.WaitGroup
	for i := 0; i < opts.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			o.worker(ctx, worker, opts, jobs, outcomes)
		}(i)
	}

	go func() {
		for _, name := range pending {
			jobs <- name
		}
		close(jobs)
		wg.Wait()
		close(outcomes)
	}()

	for out := range outcomes {
		switch {
		case out.failure != nil:
			outcome.Failures = append(outcome.Failures, *out.failure)
			o.logger.Warn("container failed",
				zap.String("container", out.container),
				zap.String("reason", out.failure.Reason))
		case out.empty:
			outcome.EmptyContainers++
			o.logger.Info("container empty, marked complete", zap.String("container", out.container))
		default:
			outcome.Results = append(outcome.Results, *out.result)
			o.logger.Info("container completed",
				zap.String("container", out.container),
				zap.Int64("blobs", out.result.TotalBlobCount),
				zap.Int64("to_delete", out.result.BlobsToDelete))
		}
	}
}

// worker builds its own storage handle, then processes containers until
// the job channel drains. A handle that cannot be built fails each
// assigned container individually rather than the whole run.
func (o *Orchestrator) worker(ctx context.Context, id int, opts Options, jobs <-chan string, outcomes chan<- taskOutcome) {
	client, creds, err := o.factory(ctx)
	if err != nil {
		for name := range jobs {
			outcomes <- taskOutcome{
				container: name,
				failure:   &models.FailureRecord{Container: name, Reason: fmt.Sprintf("worker setup: %v", err)},
			}
		}
		return
	}
	guard := credential.NewGuard(creds, opts.AccountID, opts.CredentialThreshold, o.logger)
	o.logger.Debug("worker ready", zap.Int("worker", id))

	for name := range jobs {
		outcomes <- o.processContainer(ctx, opts, client, guard, name)
	}
}

// processContainer runs the strictly-sequential per-container pipeline:
// credential check, retried listing, analysis, persistence.
func (o *Orchestrator) processContainer(ctx context.Context, opts Options, client storage.Client, guard *credential.Guard, name string) taskOutcome {
	if opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.TaskTimeout)
		defer cancel()
	}

	fail := func(err error) taskOutcome {
		return taskOutcome{
			container: name,
			failure:   &models.FailureRecord{Container: name, Reason: err.Error()},
		}
	}

	if err := guard.EnsureFresh(ctx); err != nil {
		return fail(err)
	}

	blobs, err := retry.Do(ctx, opts.Retry, func(ctx context.Context) ([]models.BlobInfo, error) {
		return client.ListBlobs(ctx, name)
	})
	if err != nil {
		return fail(err)
	}

	if len(blobs) == 0 {
		// Completed so a resume does not rescan it, but no result row.
		if err := o.store.MarkCompleted(name); err != nil {
			return fail(err)
		}
		return taskOutcome{container: name, empty: true}
	}

	result := analyzer.Analyze(name, blobs, opts.RetentionDays, opts.Now().UTC(), o.calc)

	// Persist the row before marking complete: losing the completion
	// mark costs a rescan, losing the row would lose data.
	if err := o.sink.Append(result); err != nil {
		return fail(err)
	}
	if err := o.store.MarkCompleted(name); err != nil {
		return fail(err)
	}

	return taskOutcome{container: name, result: &result}
}

// dedupeByContainer keeps the last row seen for each container,
// preserving first-appearance order otherwise.
func dedupeByContainer(results []models.ContainerResult) []models.ContainerResult {
	index := make(map[string]int, len(results))
	deduped := make([]models.ContainerResult, 0, len(results))
	for _, r := range results {
		if i, ok := index[r.Container]; ok {
			deduped[i] = r
			continue
		}
		index[r.Container] = len(deduped)
		deduped = append(deduped, r)
	}
	return deduped
}

// buildSummary computes the run-level aggregate over every result
// present at end of run.
func buildSummary(results []models.ContainerResult, failures int, calc pricing.Calculator, topN int) models.Summary {
	summary := models.Summary{
		ContainersAnalyzed: len(results),
		ContainersFailed:   failures,
	}

	for _, r := range results {
		summary.TotalBlobCount += r.TotalBlobCount
		summary.TotalSizeBytes += r.TotalSizeBytes
		summary.BlobsToDelete += r.BlobsToDelete
		summary.SizeToDeleteBytes += r.SizeToDeleteBytes
	}
	if summary.TotalBlobCount > 0 {
		summary.PercentAffected = 100 * float64(summary.BlobsToDelete) / float64(summary.TotalBlobCount)
	}
	summary.MonthlySavings = calc.MonthlySavings(summary.SizeToDeleteBytes)
	summary.AnnualSavings = calc.AnnualSavings(summary.SizeToDeleteBytes)

	top := make([]models.ContainerResult, len(results))
	copy(top, results)
	sort.Slice(top, func(i, j int) bool {
		if top[i].SizeToDeleteBytes != top[j].SizeToDeleteBytes {
			return top[i].SizeToDeleteBytes > top[j].SizeToDeleteBytes
		}
		return top[i].Container < top[j].Container
	})
	if len(top) > topN {
		top = top[:topN]
	}
	summary.TopByDeletionSize = top

	return summary
}
