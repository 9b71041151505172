package detect

import "fmt"

// ThresholdGate fires for every sample at or above its threshold. It keeps no
// state between samples.
type ThresholdGate struct {
	threshold float64
}

func NewThresholdGate(threshold float64) ThresholdGate {
	return ThresholdGate{threshold: threshold}
}

// Threshold returns the configured threshold.
func (g ThresholdGate) Threshold() float64 { return g.threshold }

// Evaluate reports whether sample >= threshold.
func (g ThresholdGate) Evaluate(sample float64) bool {
	return sample >= g.threshold
}

// Activation is the resolved on/off state of a threshold-driven detector.
// The zero value is disabled.
type Activation struct {
	enabled   bool
	threshold float64
}

// Enabled activates a detector at threshold.
func Enabled(threshold float64) Activation {
	return Activation{enabled: true, threshold: threshold}
}

// Disabled turns a detector off.
func Disabled() Activation {
	return Activation{}
}

// ActivationFromThreshold maps the configuration convention "threshold <= 0
// disables the detector" onto an Activation.
func ActivationFromThreshold(threshold float64) Activation {
	if threshold <= 0 {
		return Disabled()
	}
	return Enabled(threshold)
}

// Enabled reports whether the detector should run.
func (a Activation) Enabled() bool { return a.enabled }

// Gate returns the gate for an enabled activation. ok is false when disabled.
func (a Activation) Gate() (ThresholdGate, bool) {
	if !a.enabled {
		return ThresholdGate{}, false
	}
	return NewThresholdGate(a.threshold), true
}

func (a Activation) String() string {
	if !a.enabled {
		return "disabled"
	}
	return fmt.Sprintf("enabled(%g)", a.threshold)
}
