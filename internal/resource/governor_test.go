package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func high() Sample { return Sample{CPUPercent: 95, MemoryPercent: 40} }
func low() Sample  { return Sample{CPUPercent: 20, MemoryPercent: 40} }

func TestGovernor_StartsAtMax(t *testing.T) {
	g := NewGovernor(4, 80, nil)
	assert.Equal(t, 4, g.EffectiveWorkers())
	assert.Equal(t, 4, g.Max())
}

func TestGovernor_ClampsMaxToOne(t *testing.T) {
	g := NewGovernor(0, 80, nil)
	assert.Equal(t, 1, g.EffectiveWorkers())
}

func TestGovernor_SustainedHighLoadDecreasesToFloor(t *testing.T) {
	g := NewGovernor(4, 80, nil)

	assert.Equal(t, 3, g.Observe(high()))
	assert.Equal(t, 2, g.Observe(high()))
	assert.Equal(t, 1, g.Observe(high()))
	assert.Equal(t, 1, g.Observe(high()), "budget never drops below 1")
}

func TestGovernor_MemoryPressureAlsoCounts(t *testing.T) {
	g := NewGovernor(3, 80, nil)
	assert.Equal(t, 2, g.Observe(Sample{CPUPercent: 10, MemoryPercent: 81}))
}

func TestGovernor_ThresholdIsExclusive(t *testing.T) {
	g := NewGovernor(3, 80, nil)
	assert.Equal(t, 3, g.Observe(Sample{CPUPercent: 80, MemoryPercent: 80}))
}

func TestGovernor_RecoversTowardMaxWithoutExceeding(t *testing.T) {
	g := NewGovernor(3, 80, nil)
	g.Observe(high())
	g.Observe(high())
	assert.Equal(t, 1, g.EffectiveWorkers())

	assert.Equal(t, 2, g.Observe(low()))
	assert.Equal(t, 3, g.Observe(low()))
	assert.Equal(t, 3, g.Observe(low()), "budget never exceeds max")
}

func TestGovernor_WiredToMonitor(t *testing.T) {
	sampler := &scriptedSampler{steps: []sampleStep{{sample: high()}}}
	m := NewMonitor(sampler, 0, nil)
	g := NewGovernor(2, 80, nil)
	m.OnSample(func(s Sample) { g.Observe(s) })

	_ = m.SampleOnce(t.Context())
	assert.Equal(t, 1, g.EffectiveWorkers())
}
