package client_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/guard"
	"github.com/xraph/guard/client"
	"github.com/xraph/guard/limit"
	"github.com/xraph/guard/policy"
	"github.com/xraph/guard/store/memory"
	"github.com/xraph/guard/usage"
)

// fakeService wraps a real Guard so tests can inject delays and failures.
type fakeService struct {
	*guard.Guard

	gets     atomic.Int32
	getDelay func(subjectID, featureSlug string) time.Duration
	getGate  chan struct{}
	mu       sync.Mutex
	failNext error
}

func newService(t *testing.T) *fakeService {
	t.Helper()
	g := guard.New(memory.New(), guard.WithResolver(policy.Static{
		"seats":    limit.Of(10),
		"projects": limit.Of(4),
	}))
	require.NoError(t, g.Start(context.Background()))
	t.Cleanup(func() { _ = g.Stop() })
	return &fakeService{Guard: g}
}

func (f *fakeService) failOnce(err error) {
	f.mu.Lock()
	f.failNext = err
	f.mu.Unlock()
}

func (f *fakeService) takeFailure() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeService) GetUsage(ctx context.Context, subjectID, featureSlug string) (*usage.Record, error) {
	f.gets.Add(1)
	if f.getGate != nil {
		<-f.getGate
	}
	if f.getDelay != nil {
		select {
		case <-time.After(f.getDelay(subjectID, featureSlug)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	return f.Guard.GetUsage(ctx, subjectID, featureSlug)
}

func (f *fakeService) RecordUsage(ctx context.Context, subjectID, featureSlug string, amount int64) (*usage.Record, error) {
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	return f.Guard.RecordUsage(ctx, subjectID, featureSlug, amount)
}

var errBackend = errors.New("backend down")

func TestUsageTrackerLoadsAndEvaluates(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	_, err := svc.Guard.RecordUsage(ctx, "org_1", "seats", 9)
	require.NoError(t, err)

	tr := client.NewUsageTracker(svc, client.WithAutoRefresh(false))
	defer tr.Close()

	require.NoError(t, tr.Track(ctx, "org_1", "seats"))
	st := tr.State()
	require.True(t, st.HasData())
	assert.False(t, st.Loading)
	assert.NoError(t, st.Err)
	assert.Equal(t, int64(9), st.Record.CurrentUsage)
	assert.Equal(t, limit.SeverityCritical, st.Evaluation.Severity)
	assert.Equal(t, limit.ColorRed, st.Evaluation.Color)
	assert.Equal(t, int64(1), st.Evaluation.Remaining)
}

func TestUsageTrackerIncompleteTargetFetchesNothing(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	tr := client.NewUsageTracker(svc, client.WithAutoRefresh(false))
	defer tr.Close()

	require.NoError(t, tr.Track(ctx, "org_1", ""))
	assert.Equal(t, int32(0), svc.gets.Load())
	assert.False(t, tr.State().HasData())
	assert.ErrorIs(t, tr.Record(ctx, 1), client.ErrNoTarget)
}

func TestUsageTrackerDiscardsStaleResponse(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	_, err := svc.Guard.RecordUsage(ctx, "org_slow", "seats", 3)
	require.NoError(t, err)
	_, err = svc.Guard.RecordUsage(ctx, "org_fast", "seats", 7)
	require.NoError(t, err)

	svc.getDelay = func(subjectID, _ string) time.Duration {
		if subjectID == "org_slow" {
			return 150 * time.Millisecond
		}
		return 0
	}

	tr := client.NewUsageTracker(svc, client.WithAutoRefresh(false))
	defer tr.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = tr.Track(ctx, "org_slow", "seats")
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, tr.Track(ctx, "org_fast", "seats"))
	wg.Wait()

	st := tr.State()
	assert.Equal(t, "org_fast", st.SubjectID)
	require.True(t, st.HasData())
	assert.Equal(t, "org_fast", st.Record.SubjectID)
	assert.Equal(t, int64(7), st.Record.CurrentUsage)
}

func TestUsageTrackerRetrackSameTargetDuringFetch(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	_, err := svc.Guard.RecordUsage(ctx, "org_1", "seats", 4)
	require.NoError(t, err)

	svc.getDelay = func(string, string) time.Duration { return 150 * time.Millisecond }

	tr := client.NewUsageTracker(svc, client.WithAutoRefresh(false))
	defer tr.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = tr.Track(ctx, "org_1", "seats")
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, tr.Track(ctx, "org_1", ""))
	require.NoError(t, tr.Track(ctx, "org_1", "seats"))
	wg.Wait()

	st := tr.State()
	require.True(t, st.HasData())
	assert.False(t, st.Loading)
	assert.Equal(t, int64(4), st.Record.CurrentUsage)
	assert.Equal(t, int32(2), svc.gets.Load())
}

func TestUsageTrackerInitialFailure(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	svc.failOnce(errBackend)

	tr := client.NewUsageTracker(svc, client.WithAutoRefresh(false))
	defer tr.Close()

	err := tr.Track(ctx, "org_1", "seats")
	require.ErrorIs(t, err, errBackend)

	st := tr.State()
	assert.False(t, st.HasData())
	assert.False(t, st.Loading)
	assert.ErrorIs(t, st.Err, errBackend)
}

func TestUsageTrackerRecordFailureKeepsData(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	_, err := svc.Guard.RecordUsage(ctx, "org_1", "seats", 2)
	require.NoError(t, err)

	var notes []client.Notification
	tr := client.NewUsageTracker(svc,
		client.WithAutoRefresh(false),
		client.WithNotifier(client.NotifierFunc(func(n client.Notification) {
			notes = append(notes, n)
		})),
	)
	defer tr.Close()

	require.NoError(t, tr.Track(ctx, "org_1", "seats"))
	svc.failOnce(errBackend)

	err = tr.Record(ctx, 1)
	require.ErrorIs(t, err, errBackend)

	st := tr.State()
	require.True(t, st.HasData())
	assert.Equal(t, int64(2), st.Record.CurrentUsage)
	assert.ErrorIs(t, st.Err, errBackend)

	require.Len(t, notes, 1)
	assert.Equal(t, "record", notes[0].Op)
	assert.Equal(t, "org_1", notes[0].SubjectID)
	assert.Equal(t, "seats", notes[0].FeatureSlug)
	assert.NotEmpty(t, notes[0].Message)
}

func TestUsageTrackerRecordAndReset(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	changes := atomic.Int32{}
	tr := client.NewUsageTracker(svc,
		client.WithAutoRefresh(false),
		client.WithOnChange(func() { changes.Add(1) }),
	)
	defer tr.Close()

	require.NoError(t, tr.Track(ctx, "org_1", "seats"))
	require.NoError(t, tr.Record(ctx, 4))
	assert.Equal(t, int64(4), tr.State().Record.CurrentUsage)

	require.NoError(t, tr.Reset(ctx))
	st := tr.State()
	assert.Equal(t, int64(0), st.Record.CurrentUsage)
	assert.NoError(t, st.Err)
	assert.Equal(t, int32(3), changes.Load())
}

func TestUsageTrackerMutationSurvivesCancel(t *testing.T) {
	svc := newService(t)
	tr := client.NewUsageTracker(svc, client.WithAutoRefresh(false))
	defer tr.Close()

	require.NoError(t, tr.Track(context.Background(), "org_1", "seats"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, tr.Record(ctx, 2))

	rec, err := svc.Guard.GetUsage(context.Background(), "org_1", "seats")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.CurrentUsage)
}

func TestUsageTrackerAutoRefresh(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	tr := client.NewUsageTracker(svc, client.WithRefreshInterval(20*time.Millisecond))
	defer tr.Close()

	require.NoError(t, tr.Track(ctx, "org_1", "seats"))
	assert.Equal(t, int64(0), tr.State().Record.CurrentUsage)

	_, err := svc.Guard.RecordUsage(ctx, "org_1", "seats", 5)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		st := tr.State()
		return st.HasData() && st.Record.CurrentUsage == 5
	}, time.Second, 10*time.Millisecond)
}

func TestUsageTrackerRetargetToIncompleteStopsRefresh(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	tr := client.NewUsageTracker(svc, client.WithRefreshInterval(10*time.Millisecond))
	defer tr.Close()

	require.NoError(t, tr.Track(ctx, "org_1", "seats"))
	require.NoError(t, tr.Track(ctx, "", "seats"))

	before := svc.gets.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, before, svc.gets.Load())
	assert.False(t, tr.State().HasData())
}

func TestUsageTrackerCoalescesRefreshes(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	tr := client.NewUsageTracker(svc, client.WithAutoRefresh(false))
	defer tr.Close()
	require.NoError(t, tr.Track(ctx, "org_1", "seats"))

	svc.gets.Store(0)
	svc.getGate = make(chan struct{})

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.Refresh(ctx)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(svc.getGate)
	wg.Wait()

	assert.Equal(t, int32(1), svc.gets.Load())
}

func TestUsageTrackerOnChangeMayRetarget(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	var (
		tr       *client.UsageTracker
		changes  atomic.Int32
		switched = make(chan error, 1)
	)
	tr = client.NewUsageTracker(svc,
		client.WithRefreshInterval(10*time.Millisecond),
		client.WithOnChange(func() {
			// the second change is applied by the refresh loop
			if changes.Add(1) == 2 {
				switched <- tr.Track(ctx, "org_2", "seats")
			}
		}),
	)
	defer tr.Close()
	require.NoError(t, tr.Track(ctx, "org_1", "seats"))

	select {
	case err := <-switched:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Track from onChange did not return")
	}
	assert.Equal(t, "org_2", tr.State().SubjectID)
}

func TestUsageTrackerClosed(t *testing.T) {
	svc := newService(t)
	tr := client.NewUsageTracker(svc)
	tr.Close()

	assert.ErrorIs(t, tr.Track(context.Background(), "org_1", "seats"), client.ErrClosed)
	assert.ErrorIs(t, tr.Refresh(context.Background()), client.ErrClosed)
}

func TestSubjectTracker(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	_, err := svc.Guard.RecordUsage(ctx, "org_1", "seats", 3)
	require.NoError(t, err)

	tr := client.NewSubjectTracker(svc, client.WithAutoRefresh(false))
	defer tr.Close()

	require.NoError(t, tr.Track(ctx, "org_1"))
	st := tr.State()
	require.True(t, st.HasData())
	require.Len(t, st.Records, 1)

	require.NoError(t, tr.Record(ctx, "projects", 4))
	st = tr.State()
	require.Len(t, st.Records, 2)
	assert.Equal(t, "projects", st.Records[0].FeatureSlug)
	assert.True(t, st.Find("projects").Evaluate().Exceeded)

	require.NoError(t, tr.Reset(ctx, "seats"))
	assert.Equal(t, int64(0), tr.State().Find("seats").CurrentUsage)
	assert.Nil(t, tr.State().Find("storage"))
}

func TestSubjectTrackerEmptySubject(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	tr := client.NewSubjectTracker(svc, client.WithAutoRefresh(false))
	defer tr.Close()

	require.NoError(t, tr.Track(ctx, "org_new"))
	st := tr.State()
	assert.True(t, st.HasData())
	assert.Empty(t, st.Records)
}
