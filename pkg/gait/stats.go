package gait

import "time"

// SessionSummary holds session-level aggregates derived from a normalized sequence.
type SessionSummary struct {
	StepCount       *int     `json:"stepCount,omitempty"`
	CadenceSPM      *float64 `json:"avgCadence,omitempty"`
	SampleCount     int      `json:"sampleCount"`
	DurationSeconds int64    `json:"duration"`
}

// Summarize derives the sample count and session duration.
func Summarize(samples []SensorSample, interval time.Duration) SessionSummary {
	return SessionSummary{
		SampleCount:     len(samples),
		DurationSeconds: SessionDuration(len(samples), interval),
	}
}

// SessionDuration returns n*interval rounded to the nearest whole second,
// halves rounding away from zero (5 samples at 100ms is 1s, 2 samples is 0s).
func SessionDuration(n int, interval time.Duration) int64 {
	if n <= 0 || interval <= 0 {
		return 0
	}
	total := time.Duration(n) * interval
	return int64(total.Round(time.Second) / time.Second)
}
