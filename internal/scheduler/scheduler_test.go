package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Hukum1020/shymkent-whatsapp/internal/processor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedRunner 按顺序执行预设的每轮行为
type scriptedRunner struct {
	mu     sync.Mutex
	steps  []func() (*processor.CycleReport, error)
	calls  int
	ranAll chan struct{}
}

func (r *scriptedRunner) RunCycle(context.Context) (*processor.CycleReport, error) {
	r.mu.Lock()
	idx := r.calls
	r.calls++
	r.mu.Unlock()

	if idx == len(r.steps)-1 && r.ranAll != nil {
		defer close(r.ranAll)
	}
	if idx >= len(r.steps) {
		return &processor.CycleReport{ID: "idle"}, nil
	}
	return r.steps[idx]()
}

func (r *scriptedRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func delivered(id string) func() (*processor.CycleReport, error) {
	return func() (*processor.CycleReport, error) {
		return &processor.CycleReport{ID: id, Rows: []processor.RowResult{
			{Row: 1, Outcome: processor.OutcomeDelivered},
			{Row: 2, Outcome: processor.OutcomeSendFailed},
		}}, nil
	}
}

func TestRun_ContinuesAfterErrorAndPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	runner := &scriptedRunner{
		steps: []func() (*processor.CycleReport, error){
			func() (*processor.CycleReport, error) {
				return &processor.CycleReport{ID: "c1"}, errors.New("fetch rows: invalid_grant")
			},
			func() (*processor.CycleReport, error) { panic("nil sheet") },
			delivered("c3"),
		},
		ranAll: make(chan struct{}),
	}
	s := New(runner, time.Millisecond, zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-runner.ranAll:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not reach the third cycle")
	}
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	st := s.Stats()
	assert.GreaterOrEqual(t, st.Cycles, int64(3))
	assert.Equal(t, int64(2), st.AbortedCycles)
	assert.Equal(t, int64(1), st.Delivered)
	assert.Equal(t, int64(1), st.SendFailures)
	assert.GreaterOrEqual(t, logs.FilterMessage("cycle aborted").Len(), 2)
	assert.Equal(t, 1, logs.FilterMessage("cycle panicked").Len())
}

func TestRunOnce_RecordsStats(t *testing.T) {
	runner := &scriptedRunner{steps: []func() (*processor.CycleReport, error){
		delivered("c1"),
		func() (*processor.CycleReport, error) {
			return &processor.CycleReport{ID: "c2", Rows: []processor.RowResult{
				{Row: 1, Outcome: processor.OutcomeMarkFailed},
				{Row: 2, Outcome: processor.OutcomeFailed},
			}}, nil
		},
	}}
	s := New(runner, time.Minute, zap.NewNop())

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	_, err = s.RunOnce(context.Background())
	require.NoError(t, err)

	st := s.Stats()
	assert.Equal(t, int64(2), st.Cycles)
	assert.Zero(t, st.AbortedCycles)
	assert.Equal(t, int64(1), st.Delivered)
	assert.Equal(t, int64(1), st.MarkFailures)
	assert.Equal(t, int64(1), st.RowFailures)
	assert.Equal(t, "c2", st.LastCycleID)
	assert.Equal(t, "1m0s", st.Interval)
	assert.Empty(t, st.LastError)
}

func TestRunOnce_PanicBecomesError(t *testing.T) {
	runner := &scriptedRunner{steps: []func() (*processor.CycleReport, error){
		func() (*processor.CycleReport, error) { panic("boom") },
	}}
	s := New(runner, time.Minute, zap.NewNop())

	report, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, int64(1), s.Stats().AbortedCycles)
	assert.Equal(t, err.Error(), s.Stats().LastError)
}

func TestRun_WaitsIntervalBetweenCycles(t *testing.T) {
	runner := &scriptedRunner{}
	s := New(runner, time.Hour, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, s.Run(ctx), context.DeadlineExceeded)
	assert.Equal(t, 1, runner.Calls())
}

func TestRunOnce_ShutdownIsNotAnAbort(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx, cancel := context.WithCancel(context.Background())
	runner := &scriptedRunner{steps: []func() (*processor.CycleReport, error){
		func() (*processor.CycleReport, error) {
			cancel()
			return &processor.CycleReport{ID: "c1", Rows: []processor.RowResult{
				{Row: 1, Outcome: processor.OutcomeDelivered},
			}}, context.Canceled
		},
	}}
	s := New(runner, time.Minute, zap.New(core))

	_, err := s.RunOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)

	st := s.Stats()
	assert.Equal(t, int64(1), st.Cycles)
	assert.Equal(t, int64(1), st.Delivered)
	assert.Zero(t, st.AbortedCycles)
	assert.Empty(t, st.LastError)
	assert.Zero(t, logs.FilterMessage("cycle aborted").Len())
	assert.Equal(t, 1, logs.FilterMessage("cycle interrupted by shutdown").Len())
}

func TestRunOnce_CanceledWithoutShutdownIsAnAbort(t *testing.T) {
	runner := &scriptedRunner{steps: []func() (*processor.CycleReport, error){
		func() (*processor.CycleReport, error) { return nil, context.Canceled },
	}}
	s := New(runner, time.Minute, zap.NewNop())

	_, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(1), s.Stats().AbortedCycles)
}
