package gait

import (
	"math"
	"time"
)

// StepConfig tunes DetectSteps.
type StepConfig struct {
	// ThresholdStdDev is how many standard deviations above the mean acceleration
	// magnitude a peak must reach to count as a heel strike.
	ThresholdStdDev float64
	// MinStepInterval is the shortest allowed gap between two detected steps.
	MinStepInterval time.Duration
}

// DefaultStepConfig returns thresholds that suit walking data sampled at 10 Hz.
func DefaultStepConfig() StepConfig {
	return StepConfig{
		ThresholdStdDev: 0.5,
		MinStepInterval: 300 * time.Millisecond,
	}
}

// Magnitude returns the euclidean norm of the accelerometer channels.
func Magnitude(s SensorSample) float64 {
	return math.Sqrt(s.AccX*s.AccX + s.AccY*s.AccY + s.AccZ*s.AccZ)
}

// DetectSteps returns the indices of accelerometer magnitude peaks that exceed
// mean + ThresholdStdDev*stddev and are at least MinStepInterval apart.
// A flat or too short signal yields no steps.
func DetectSteps(samples []SensorSample, interval time.Duration, cfg StepConfig) []int {
	steps := []int{}
	if len(samples) < 3 || interval <= 0 {
		return steps
	}

	mags := make([]float64, len(samples))
	for i, s := range samples {
		mags[i] = Magnitude(s)
	}

	mean, stddev := meanStdDev(mags)
	if stddev == 0 {
		return steps
	}
	threshold := mean + cfg.ThresholdStdDev*stddev

	minGap := int(cfg.MinStepInterval / interval)
	if minGap < 1 {
		minGap = 1
	}

	last := -minGap
	for i := 1; i < len(mags)-1; i++ {
		m := mags[i]
		if m < threshold || m < mags[i-1] || m <= mags[i+1] {
			continue
		}
		if i-last < minGap {
			continue
		}
		steps = append(steps, i)
		last = i
	}

	return steps
}

// Cadence returns steps per minute over n samples at interval, or nil for a zero-length session.
func Cadence(steps, n int, interval time.Duration) *float64 {
	elapsed := time.Duration(n) * interval
	if elapsed <= 0 {
		return nil
	}
	spm := float64(steps) / elapsed.Minutes()
	return &spm
}

func meanStdDev(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}
