package gait

import "time"

// DefaultInterval is the sampling interval assumed when a payload carries no timestamps.
const DefaultInterval = 100 * time.Millisecond

// Normalize returns a copy of samples with Timestamp[i] = start + i*interval.
// It does not look at channel values.
func Normalize(samples []SensorSample, start time.Time, interval time.Duration) []SensorSample {
	out := make([]SensorSample, len(samples))
	for i, s := range samples {
		s.Timestamp = start.Add(time.Duration(i) * interval)
		out[i] = s
	}
	return out
}
