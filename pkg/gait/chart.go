package gait

import "time"

// AxisPoint is one chart tuple: elapsed seconds and three axis values.
type AxisPoint struct {
	Time float64 `json:"time"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
}

// TableRow is one row of the tabular sample view.
type TableRow struct {
	Timestamp      time.Time `json:"timestamp"`
	Index          int       `json:"index"`
	ElapsedSeconds float64   `json:"elapsed"`
	AccX           float64   `json:"accelerometerX"`
	AccY           float64   `json:"accelerometerY"`
	AccZ           float64   `json:"accelerometerZ"`
	GyroX          float64   `json:"gyroscopeX"`
	GyroY          float64   `json:"gyroscopeY"`
	GyroZ          float64   `json:"gyroscopeZ"`
}

// ProjectAccel maps each sample to {time, accX, accY, accZ}.
func ProjectAccel(samples []SensorSample, interval time.Duration) []AxisPoint {
	out := make([]AxisPoint, len(samples))
	for i, s := range samples {
		out[i] = AxisPoint{Time: elapsedSeconds(i, interval), X: s.AccX, Y: s.AccY, Z: s.AccZ}
	}
	return out
}

// ProjectGyro maps each sample to {time, gyroX, gyroY, gyroZ}.
func ProjectGyro(samples []SensorSample, interval time.Duration) []AxisPoint {
	out := make([]AxisPoint, len(samples))
	for i, s := range samples {
		out[i] = AxisPoint{Time: elapsedSeconds(i, interval), X: s.GyroX, Y: s.GyroY, Z: s.GyroZ}
	}
	return out
}

// ProjectTable maps each normalized sample to a table row.
func ProjectTable(samples []SensorSample, interval time.Duration) []TableRow {
	out := make([]TableRow, len(samples))
	for i, s := range samples {
		out[i] = TableRow{
			Index:          i,
			Timestamp:      s.Timestamp,
			ElapsedSeconds: elapsedSeconds(i, interval),
			AccX:           s.AccX,
			AccY:           s.AccY,
			AccZ:           s.AccZ,
			GyroX:          s.GyroX,
			GyroY:          s.GyroY,
			GyroZ:          s.GyroZ,
		}
	}
	return out
}

// elapsedSeconds is computed on time.Duration so index 3 at 100ms is exactly 0.3.
func elapsedSeconds(i int, interval time.Duration) float64 {
	return (time.Duration(i) * interval).Seconds()
}
