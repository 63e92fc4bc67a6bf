package resource

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSampler returns queued readings in order, then repeats the last one.
type scriptedSampler struct {
	mu    sync.Mutex
	steps []sampleStep
	calls int
}

type sampleStep struct {
	sample Sample
	err    error
	panic  bool
}

func (s *scriptedSampler) Sample(_ context.Context) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	step := s.steps[i]
	if step.panic {
		panic("sampler exploded")
	}
	return step.sample, step.err
}

func (s *scriptedSampler) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestMonitor_LatestBeforeFirstSample(t *testing.T) {
	m := NewMonitor(&scriptedSampler{steps: []sampleStep{{}}}, time.Second, nil)
	_, ok := m.Latest()
	assert.False(t, ok)
}

func TestMonitor_SampleOnceCachesAndNotifies(t *testing.T) {
	sampler := &scriptedSampler{steps: []sampleStep{{sample: Sample{CPUPercent: 42, MemoryPercent: 10}}}}
	m := NewMonitor(sampler, time.Second, nil)

	var got []Sample
	m.OnSample(func(s Sample) { got = append(got, s) })

	require.NoError(t, m.SampleOnce(context.Background()))

	latest, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, 42.0, latest.CPUPercent)
	require.Len(t, got, 1)
	assert.Equal(t, 10.0, got[0].MemoryPercent)
}

func TestMonitor_FailedSampleKeepsPrevious(t *testing.T) {
	sampler := &scriptedSampler{steps: []sampleStep{
		{sample: Sample{CPUPercent: 30}},
		{err: errors.New("proc unavailable")},
	}}
	m := NewMonitor(sampler, time.Second, nil)

	require.NoError(t, m.SampleOnce(context.Background()))
	require.Error(t, m.SampleOnce(context.Background()))

	latest, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, 30.0, latest.CPUPercent)
}

func TestMonitor_RunSurvivesErrorsAndPanics(t *testing.T) {
	sampler := &scriptedSampler{steps: []sampleStep{
		{err: errors.New("boom")},
		{panic: true},
		{sample: Sample{CPUPercent: 55}},
	}}
	m := NewMonitor(sampler, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		s, ok := m.Latest()
		return ok && s.CPUPercent == 55
	}, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, sampler.Calls(), 3)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHostSampler_ReturnsPercentages(t *testing.T) {
	if testing.Short() {
		t.Skip("reads host statistics")
	}
	s, err := HostSampler{}.Sample(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, s.CPUPercent, 0.0)
	assert.LessOrEqual(t, s.MemoryPercent, 100.0)
	assert.False(t, s.TakenAt.IsZero())
}
