package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockJob is a mock implementation of Job
type MockJob struct {
	mock.Mock
}

func (m *MockJob) Name() string {
	return "mock"
}

func (m *MockJob) Run(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockSummaryRefresher is a mock implementation of SummaryRefresher
type MockSummaryRefresher struct {
	mock.Mock
}

func (m *MockSummaryRefresher) RefreshAll(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type blockingJob struct {
	runs    atomic.Int32
	release chan struct{}
	started chan struct{}
}

func (b *blockingJob) Name() string { return "blocking" }

func (b *blockingJob) Run(ctx context.Context) error {
	b.runs.Add(1)
	close(b.started)
	<-b.release
	return nil
}

func TestScheduler_AddJobRejectsBadSpec(t *testing.T) {
	s := NewScheduler()
	err := s.AddJob(new(MockJob), "not a cron spec")
	assert.Error(t, err)

	_, ok := s.Next("mock")
	assert.False(t, ok)
}

func TestScheduler_RunsJobOnSchedule(t *testing.T) {
	job := new(MockJob)
	ran := make(chan struct{}, 10)
	job.On("Run", mock.Anything).Run(func(mock.Arguments) { ran <- struct{}{} }).Return(nil)

	s := NewScheduler()
	require.NoError(t, s.AddJob(job, "@every 1s"))
	next, ok := s.Next("mock")
	assert.True(t, ok)
	assert.True(t, next.IsZero(), "next is set once the scheduler starts")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	s := NewScheduler()
	job := &blockingJob{release: make(chan struct{}), started: make(chan struct{})}
	run := s.wrap(job, "@every 1m")

	done := make(chan struct{})
	go func() {
		run()
		close(done)
	}()
	<-job.started

	run()
	assert.Equal(t, int32(1), job.runs.Load())

	close(job.release)
	<-done
}

func TestScheduler_JobErrorDoesNotPanic(t *testing.T) {
	job := new(MockJob)
	job.On("Run", mock.Anything).Return(errors.New("boom")).Twice()

	run := NewScheduler().wrap(job, "@daily")
	run()
	run()

	job.AssertExpectations(t)
}

func TestSummaryRefreshJob_Run(t *testing.T) {
	refresher := new(MockSummaryRefresher)
	refresher.On("RefreshAll", mock.Anything).Return(3, nil).Once()
	job := NewSummaryRefreshJob(refresher)

	assert.Equal(t, "patient_summary_refresh", job.Name())
	assert.NoError(t, job.Run(context.Background()))
	refresher.AssertExpectations(t)
}

func TestSummaryRefreshJob_PropagatesFailure(t *testing.T) {
	refresher := new(MockSummaryRefresher)
	refresher.On("RefreshAll", mock.Anything).Return(1, errors.New("p2: index unavailable"))

	err := NewSummaryRefreshJob(refresher).Run(context.Background())

	assert.EqualError(t, err, "p2: index unavailable")
}
