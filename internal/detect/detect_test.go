package detect

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateWindowCountsWithinSpan(t *testing.T) {
	w := NewRateWindow(DefaultWindow)
	base := time.Unix(1000, 0)

	assert.Equal(t, 1, w.Observe(base))
	assert.Equal(t, 2, w.Observe(base.Add(30*time.Second)))
	assert.Equal(t, 3, w.Observe(base.Add(60*time.Second)))
	// base is now older than 60s.
	assert.Equal(t, 3, w.Observe(base.Add(61*time.Second)))
	assert.Equal(t, 1, w.Observe(base.Add(200*time.Second)))
}

func TestRateWindowResetThenObserveReturnsOne(t *testing.T) {
	w := NewRateWindow(0)
	now := time.Now()
	for i := 0; i < 5; i++ {
		w.Observe(now)
	}
	w.Reset()
	assert.Equal(t, 1, w.Observe(now))
}

func TestRateWindowToleratesClockStepBack(t *testing.T) {
	w := NewRateWindow(DefaultWindow)
	base := time.Unix(5000, 0)

	w.Observe(base)
	w.Observe(base.Add(-90 * time.Second))
	w.Observe(base.Add(10 * time.Second))

	assert.Equal(t, 2, w.Count(base.Add(10*time.Second)))
}

func TestRateWindowCountProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("count equals observations within the trailing window", prop.ForAll(
		func(gaps []int) bool {
			w := NewRateWindow(DefaultWindow)
			now := time.Unix(10_000, 0)
			var seen []time.Time
			for _, gap := range gaps {
				now = now.Add(time.Duration(gap) * time.Millisecond)
				seen = append(seen, now)
				got := w.Observe(now)

				want := 0
				cutoff := now.Add(-DefaultWindow)
				for _, ts := range seen {
					if !ts.Before(cutoff) {
						want++
					}
				}
				if got != want {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 59_999)),
	))

	properties.TestingRun(t)
}

func TestThresholdGate(t *testing.T) {
	g := NewThresholdGate(0.1)
	assert.False(t, g.Evaluate(0.0999))
	assert.True(t, g.Evaluate(0.1))
	assert.True(t, g.Evaluate(0.9))
}

func TestActivationFromThreshold(t *testing.T) {
	for _, th := range []float64{0, -1} {
		a := ActivationFromThreshold(th)
		assert.False(t, a.Enabled())
		_, ok := a.Gate()
		assert.False(t, ok)
		assert.Equal(t, "disabled", a.String())
	}

	a := ActivationFromThreshold(0.25)
	require.True(t, a.Enabled())
	g, ok := a.Gate()
	require.True(t, ok)
	assert.Equal(t, 0.25, g.Threshold())

	var zero Activation
	assert.False(t, zero.Enabled())
}
