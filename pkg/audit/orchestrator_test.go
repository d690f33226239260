package audit

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blobaudit/blobaudit/internal/models"
	"github.com/blobaudit/blobaudit/pkg/analyzer"
	"github.com/blobaudit/blobaudit/pkg/pricing"
	"github.com/blobaudit/blobaudit/pkg/progress"
	"github.com/blobaudit/blobaudit/pkg/report"
	"github.com/blobaudit/blobaudit/pkg/retry"
	"github.com/blobaudit/blobaudit/pkg/storage"
)

var frozenNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

// fakeAccount simulates the remote storage account. It is shared by
// every handle the factory hands out, which is fine: the fake is
// thread-safe, and the orchestrator still constructs one handle per
// worker.
type fakeAccount struct {
	mu sync.Mutex

	containers        []models.ContainerInfo
	blobs             map[string][]models.BlobInfo
	failuresLeft      map[string]int // per-container transient failures remaining
	listContainersErr error
	listBlobCalls     map[string]int
}

func newFakeAccount() *fakeAccount {
	return &fakeAccount{
		blobs:         make(map[string][]models.BlobInfo),
		failuresLeft:  make(map[string]int),
		listBlobCalls: make(map[string]int),
	}
}

func (f *fakeAccount) addContainer(name string, blobs []models.BlobInfo) {
	f.containers = append(f.containers, models.ContainerInfo{Name: name})
	f.blobs[name] = blobs
}

func (f *fakeAccount) ListContainers(ctx context.Context) ([]models.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listContainersErr != nil {
		return nil, f.listContainersErr
	}
	return append([]models.ContainerInfo(nil), f.containers...), nil
}

func (f *fakeAccount) ListBlobs(ctx context.Context, container string) ([]models.BlobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listBlobCalls[container]++
	if f.failuresLeft[container] > 0 {
		f.failuresLeft[container]--
		return nil, errors.New("remote timeout")
	}
	return append([]models.BlobInfo(nil), f.blobs[container]...), nil
}

type fakeCreds struct{}

func (fakeCreds) Validity(ctx context.Context) (time.Duration, error) { return time.Hour, nil }
func (fakeCreds) Renew(ctx context.Context) (storage.Identity, error) {
	return storage.Identity{AccountID: "acct-1"}, nil
}

func (f *fakeAccount) factory() storage.Factory {
	return func(ctx context.Context) (storage.Client, storage.CredentialAPI, error) {
		return f, fakeCreds{}, nil
	}
}

func blobsAged(days int, count int, size int64) []models.BlobInfo {
	blobs := make([]models.BlobInfo, 0, count)
	for i := 0; i < count; i++ {
		blobs = append(blobs, models.BlobInfo{
			Key:          "obj",
			Size:         size,
			LastModified: frozenNow.AddDate(0, 0, -days),
		})
	}
	return blobs
}

type fixture struct {
	orch  *Orchestrator
	store *progress.Store
	sink  *report.Sink
}

func newFixture(t *testing.T, account *fakeAccount) fixture {
	t.Helper()
	dir := t.TempDir()

	store, err := progress.NewStore(dir, nil)
	require.NoError(t, err)
	sink, err := report.NewSink(filepath.Join(dir, "results.csv"))
	require.NoError(t, err)

	calc := pricing.NewCalculator(0.02, "USD")
	return fixture{
		orch:  New(account.factory(), store, sink, calc, nil),
		store: store,
		sink:  sink,
	}
}

func testOptions() Options {
	return Options{
		AccountID:     "acct-1",
		ResourceGroup: "rg",
		RetentionDays: 90,
		Concurrency:   3,
		Retry:         retry.Options{MaxAttempts: 3, Delay: time.Millisecond},
		WarnDelay:     10 * time.Millisecond,
		Now:           func() time.Time { return frozenNow },
		TopN:          5,
	}
}

func threeContainerAccount() *fakeAccount {
	account := newFakeAccount()
	account.addContainer("empty", nil)
	account.addContainer("all-old", blobsAged(400, 10, 1024))
	mixed := append(blobsAged(10, 5, 1024), blobsAged(200, 5, 1024)...)
	account.addContainer("mixed", mixed)
	return account
}

func TestRunThreeContainerScenario(t *testing.T) {
	account := threeContainerAccount()
	fx := newFixture(t, account)

	outcome, err := fx.orch.Run(context.Background(), testOptions())
	require.NoError(t, err)

	assert.Empty(t, outcome.Failures)
	assert.Equal(t, 1, outcome.EmptyContainers)
	require.Len(t, outcome.Results, 2)

	byName := make(map[string]models.ContainerResult)
	for _, r := range outcome.Results {
		byName[r.Container] = r
	}

	allOld := byName["all-old"]
	assert.Equal(t, int64(10), allOld.TotalBlobCount)
	assert.Equal(t, int64(10), allOld.BlobsToDelete)
	assert.Equal(t, 100.0, allOld.PercentToDelete)

	mixed := byName["mixed"]
	assert.Equal(t, int64(10), mixed.TotalBlobCount)
	assert.Equal(t, int64(5), mixed.BlobsToDelete)
	assert.Equal(t, 50.0, mixed.PercentToDelete)

	assert.Equal(t, int64(20), outcome.Summary.TotalBlobCount)
	assert.Equal(t, int64(15), outcome.Summary.BlobsToDelete)
	assert.InDelta(t, 75.0, outcome.Summary.PercentAffected, 0.001)

	// All three containers, including the empty one, are completed.
	state, err := fx.store.Load("acct-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"empty", "all-old", "mixed"}, state.CompletedContainers)

	// The finalized results file holds both rows, sorted.
	rows, err := fx.sink.Load()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "all-old", rows[0].Container)
	assert.Equal(t, "mixed", rows[1].Container)
}

func TestRunRecordsExhaustedRetriesAsFailure(t *testing.T) {
	account := threeContainerAccount()
	account.failuresLeft["all-old"] = 99 // fails every attempt
	fx := newFixture(t, account)

	outcome, err := fx.orch.Run(context.Background(), testOptions())
	require.NoError(t, err)

	require.Len(t, outcome.Failures, 1)
	assert.Equal(t, "all-old", outcome.Failures[0].Container)
	assert.Contains(t, outcome.Failures[0].Reason, "retries exhausted")

	// The bad container burned its full retry budget.
	assert.Equal(t, 3, account.listBlobCalls["all-old"])

	// Other containers still produced correct results.
	require.Len(t, outcome.Results, 1)
	assert.Equal(t, "mixed", outcome.Results[0].Container)

	// Failed containers stay out of the completed set, eligible for a
	// resumed run.
	state, err := fx.store.Load("acct-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"empty", "mixed"}, state.CompletedContainers)
}

func TestRunTransientFailureRecoversWithinBudget(t *testing.T) {
	account := threeContainerAccount()
	account.failuresLeft["mixed"] = 2 // two failures, third attempt succeeds
	fx := newFixture(t, account)

	outcome, err := fx.orch.Run(context.Background(), testOptions())
	require.NoError(t, err)

	assert.Empty(t, outcome.Failures)
	assert.Len(t, outcome.Results, 2)
	assert.Equal(t, 3, account.listBlobCalls["mixed"])
}

func TestRunResumeIsIdempotent(t *testing.T) {
	account := threeContainerAccount()
	fx := newFixture(t, account)
	opts := testOptions()

	first, err := fx.orch.Run(context.Background(), opts)
	require.NoError(t, err)

	callsAfterFirst := make(map[string]int)
	for k, v := range account.listBlobCalls {
		callsAfterFirst[k] = v
	}

	opts.Resume = true
	second, err := fx.orch.Run(context.Background(), opts)
	require.NoError(t, err)

	// Nothing rescanned: every container was already complete.
	assert.Equal(t, 3, second.SkippedCompleted)
	assert.Equal(t, callsAfterFirst, account.listBlobCalls)

	// The resumed summary matches the uninterrupted one within CSV
	// rounding.
	assert.Equal(t, first.Summary.TotalBlobCount, second.Summary.TotalBlobCount)
	assert.Equal(t, first.Summary.BlobsToDelete, second.Summary.BlobsToDelete)
	assert.InDelta(t, first.Summary.PercentAffected, second.Summary.PercentAffected, 0.001)
	assert.InDelta(t, float64(first.Summary.SizeToDeleteBytes), float64(second.Summary.SizeToDeleteBytes), 1e6)
	assert.InDelta(t, first.Summary.MonthlySavings, second.Summary.MonthlySavings, 0.01)
}

func TestRunResumeRetriesPriorFailures(t *testing.T) {
	account := threeContainerAccount()
	account.failuresLeft["all-old"] = 99
	fx := newFixture(t, account)
	opts := testOptions()

	first, err := fx.orch.Run(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, first.Failures, 1)

	// The transient condition clears; resume picks up only the failed
	// container.
	account.mu.Lock()
	account.failuresLeft["all-old"] = 0
	account.mu.Unlock()

	opts.Resume = true
	second, err := fx.orch.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Empty(t, second.Failures)
	assert.Equal(t, 2, second.SkippedCompleted)
	require.Len(t, second.Results, 2)
	assert.Equal(t, int64(20), second.Summary.TotalBlobCount)
	assert.Equal(t, int64(15), second.Summary.BlobsToDelete)
}

func TestRunResumeAfterInterruptedRerun(t *testing.T) {
	account := threeContainerAccount()
	fx := newFixture(t, account)
	opts := testOptions()

	// First run completes and finalizes its rows.
	_, err := fx.orch.Run(context.Background(), opts)
	require.NoError(t, err)

	// A second run starts over the same results path, finishes one
	// container, and dies before finalizing. The results file now holds
	// the first run's two rows plus a second-run row for the same
	// container.
	_, err = fx.store.Init("acct-1", "rg", 90, frozenNow.Add(time.Hour))
	require.NoError(t, err)
	calc := pricing.NewCalculator(0.02, "USD")
	row := analyzer.Analyze("all-old", blobsAged(400, 10, 1024), 90, frozenNow, calc)
	require.NoError(t, fx.sink.Append(row))
	require.NoError(t, fx.store.MarkCompleted("all-old"))

	opts.Resume = true
	outcome, err := fx.orch.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Empty(t, outcome.Failures)

	// Every container counts exactly once, never doubled by the stale
	// first-run row.
	seen := make(map[string]int)
	for _, r := range outcome.Results {
		seen[r.Container]++
	}
	assert.Equal(t, map[string]int{"all-old": 1, "mixed": 1}, seen)
	assert.Equal(t, 2, outcome.Summary.ContainersAnalyzed)
	assert.Equal(t, int64(20), outcome.Summary.TotalBlobCount)
	assert.Equal(t, int64(15), outcome.Summary.BlobsToDelete)

	// The finalized file ends up deduplicated as well.
	rows, err := fx.sink.Load()
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestRunFreshStartDiscardsOldResults(t *testing.T) {
	account := threeContainerAccount()
	fx := newFixture(t, account)
	opts := testOptions()

	_, err := fx.orch.Run(context.Background(), opts)
	require.NoError(t, err)

	// A fresh (non-resume) state prepare truncates the results file so
	// the old run's rows cannot leak into a later resume of this one.
	_, loaded, err := fx.orch.prepareState(opts)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	rows, err := fx.sink.Load()
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRunFailsWhenEnumerationFails(t *testing.T) {
	account := newFakeAccount()
	account.listContainersErr = errors.New("403 forbidden")
	fx := newFixture(t, account)

	opts := testOptions()
	opts.Retry = retry.Options{MaxAttempts: 2, Delay: time.Millisecond}

	_, err := fx.orch.Run(context.Background(), opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEnumerationFailed)
}

func TestRunClampsOutOfRangeConcurrency(t *testing.T) {
	// Limits outside 1-15 are clamped with a warning, never a hard
	// failure: an over-eager limit should not abort an audit.
	for _, limit := range []int{0, -1, 16, 20} {
		fx := newFixture(t, threeContainerAccount())
		opts := testOptions()
		opts.Concurrency = limit
		opts.WarnDelay = time.Millisecond

		outcome, err := fx.orch.Run(context.Background(), opts)
		require.NoError(t, err, "limit %d", limit)
		assert.Len(t, outcome.Results, 2, "limit %d", limit)
	}
}

func TestRunWarnsAndProceedsAboveRecommended(t *testing.T) {
	fx := newFixture(t, threeContainerAccount())

	opts := testOptions()
	opts.Concurrency = 12 // above the recommended 10, inside the hard cap
	opts.WarnDelay = 20 * time.Millisecond

	start := time.Now()
	outcome, err := fx.orch.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), opts.WarnDelay)
	assert.Empty(t, outcome.Failures)
	assert.Len(t, outcome.Results, 2)
}

func TestRunTopNOrdering(t *testing.T) {
	account := newFakeAccount()
	account.addContainer("big", blobsAged(400, 10, 4096))
	account.addContainer("small", blobsAged(400, 10, 256))
	// Two containers tie on deletion size; the tie breaks by name.
	account.addContainer("tie-b", blobsAged(400, 10, 1024))
	account.addContainer("tie-a", blobsAged(400, 10, 1024))
	fx := newFixture(t, account)

	opts := testOptions()
	opts.TopN = 3

	outcome, err := fx.orch.Run(context.Background(), opts)
	require.NoError(t, err)

	top := outcome.Summary.TopByDeletionSize
	require.Len(t, top, 3)
	assert.Equal(t, "big", top[0].Container)
	assert.Equal(t, "tie-a", top[1].Container)
	assert.Equal(t, "tie-b", top[2].Container)
}

func TestRunManyContainersBoundedPool(t *testing.T) {
	account := newFakeAccount()
	for i := 0; i < 40; i++ {
		account.addContainer(string(rune('a'+i%26))+"-container-"+string(rune('0'+i/26)), blobsAged(200, 3, 512))
	}
	fx := newFixture(t, account)

	opts := testOptions()
	opts.Concurrency = 4

	outcome, err := fx.orch.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Len(t, outcome.Results, 40)
	assert.Empty(t, outcome.Failures)
	assert.Equal(t, int64(120), outcome.Summary.TotalBlobCount)
}
