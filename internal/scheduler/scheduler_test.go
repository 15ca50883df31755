package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"empires/internal/game"
)

type fakeJobs struct {
	income    atomic.Int64
	auctions  atomic.Int64
	pruned    atomic.Int64
	keep      atomic.Int64
	incomeErr error
}

func (f *fakeJobs) RunIncomeTick(context.Context) (game.IncomeReport, error) {
	f.income.Add(1)
	return game.IncomeReport{Users: 1, PaidToUsers: 20}, f.incomeErr
}

func (f *fakeJobs) PruneIdempotencyKeys(_ context.Context, keep time.Duration) (int64, error) {
	f.pruned.Add(1)
	f.keep.Store(int64(keep))
	return 3, nil
}

func (f *fakeJobs) RunAuctionExpiryTick(context.Context) (game.ExpiryReport, error) {
	f.auctions.Add(1)
	return game.ExpiryReport{}, nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	ticks  map[string]int
	failed map[string]int
	paid   int64
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{ticks: map[string]int{}, failed: map[string]int{}}
}

func (r *fakeRecorder) ObserveTick(job string, err error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks[job]++
	if err != nil {
		r.failed[job]++
	}
}

func (r *fakeRecorder) ObserveIncome(rep game.IncomeReport) {
	r.mu.Lock()
	r.paid += rep.PaidToUsers
	r.mu.Unlock()
}

func (r *fakeRecorder) ObserveExpiry(game.ExpiryReport) {}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRejectsZeroIntervals(t *testing.T) {
	_, err := New(&fakeJobs{}, Config{IncomeEvery: time.Minute}, nil, nil)
	assert.Error(t, err)
}

func TestRunDrivesBothLoopsIndependently(t *testing.T) {
	jobs := &fakeJobs{incomeErr: errors.New("db unavailable")}
	rec := newFakeRecorder()
	s, err := New(jobs, Config{IncomeEvery: 5 * time.Millisecond, AuctionEvery: 2 * time.Millisecond}, quietLogger(), rec)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return jobs.income.Load() >= 3 && jobs.auctions.Load() >= 3
	}, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.GreaterOrEqual(t, rec.failed[JobIncome], 3, "failing ticks keep the loop alive")
	assert.Zero(t, rec.failed[JobAuctions])
}

func TestRunOnce(t *testing.T) {
	jobs := &fakeJobs{}
	rec := newFakeRecorder()
	s, err := New(jobs, Config{IncomeEvery: time.Hour, AuctionEvery: time.Hour}, quietLogger(), rec)
	require.NoError(t, err)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, int64(1), jobs.income.Load())
	assert.Equal(t, int64(1), jobs.auctions.Load())
	assert.Equal(t, int64(20), rec.paid)

	jobs.incomeErr = errors.New("boom")
	err = s.RunOnce(context.Background())
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, int64(2), jobs.auctions.Load(), "auction tick still runs")
}

func TestIncomeTickPrunesIdempotencyKeys(t *testing.T) {
	jobs := &fakeJobs{}
	s, err := New(jobs, Config{IncomeEvery: time.Hour, AuctionEvery: time.Hour, KeyRetention: 48 * time.Hour}, quietLogger(), nil)
	require.NoError(t, err)
	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, int64(1), jobs.pruned.Load())
	assert.Equal(t, int64(48*time.Hour), jobs.keep.Load())

	jobs.incomeErr = errors.New("boom")
	assert.Error(t, s.RunOnce(context.Background()))
	assert.Equal(t, int64(2), jobs.pruned.Load(), "pruning runs after a failed income tick")

	keepAll := &fakeJobs{}
	s, err = New(keepAll, Config{IncomeEvery: time.Hour, AuctionEvery: time.Hour}, quietLogger(), nil)
	require.NoError(t, err)
	require.NoError(t, s.RunOnce(context.Background()))
	assert.Zero(t, keepAll.pruned.Load())
}
