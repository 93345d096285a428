// Package gait decodes raw IMU sample files and derives the time-series views used to
// inspect a gait-monitoring session: normalized samples, session summary, chart series
// and table rows.
package gait

import "time"

// ChannelCount is the number of scalar channels carried by one raw sample line.
const ChannelCount = 6

// SensorSample is one six-channel accelerometer/gyroscope measurement.
// Samples decoded from a raw payload carry a zero Timestamp until normalized.
type SensorSample struct {
	Timestamp time.Time `json:"timestamp"`
	AccX      float64   `json:"accelerometerX"`
	AccY      float64   `json:"accelerometerY"`
	AccZ      float64   `json:"accelerometerZ"`
	GyroX     float64   `json:"gyroscopeX"`
	GyroY     float64   `json:"gyroscopeY"`
	GyroZ     float64   `json:"gyroscopeZ"`
}

// Channels returns the sample's values in raw file order.
func (s SensorSample) Channels() [ChannelCount]float64 {
	return [ChannelCount]float64{s.AccX, s.AccY, s.AccZ, s.GyroX, s.GyroY, s.GyroZ}
}

func sampleFromChannels(v [ChannelCount]float64) SensorSample {
	return SensorSample{
		AccX:  v[0],
		AccY:  v[1],
		AccZ:  v[2],
		GyroX: v[3],
		GyroY: v[4],
		GyroZ: v[5],
	}
}
