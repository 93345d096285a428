package gait

import (
	"errors"
	"sync"
	"time"
)

// ErrInvalidInterval is returned by Analyze when the sampling interval is negative.
var ErrInvalidInterval = errors.New("sampling interval must be positive")

// AnalysisOptions configures Analyze.
type AnalysisOptions struct {
	// Start is the logical instant of the first sample.
	Start time.Time
	// StepDetection enables DetectSteps when non-nil.
	StepDetection *StepConfig
	// Policy selects the malformed line behavior. Empty means PolicyAbort.
	Policy MalformedLinePolicy
	// Interval is the sampling interval. Zero means DefaultInterval.
	Interval time.Duration
}

// Analysis bundles every view derived from one raw payload.
type Analysis struct {
	Start    time.Time      `json:"start"`
	Accel    []AxisPoint    `json:"accelerometer"`
	Gyro     []AxisPoint    `json:"gyroscope"`
	Table    []TableRow     `json:"table"`
	Defects  []DecodeDefect `json:"defects,omitempty"`
	Summary  SessionSummary `json:"summary"`
	Interval time.Duration  `json:"intervalNanos"`
}

// Analyze decodes payload and derives the summary, chart series and table.
// Decode failures under PolicyAbort are returned as *DecodeDefect.
func Analyze(payload []byte, opts AnalysisOptions) (*Analysis, error) {
	interval := opts.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	if interval < 0 {
		return nil, ErrInvalidInterval
	}

	decoded, err := NewDecoder(opts.Policy).Decode(payload)
	if err != nil {
		return nil, err
	}

	samples := Normalize(decoded.Samples, opts.Start, interval)

	a := &Analysis{
		Start:    opts.Start,
		Interval: interval,
		Defects:  decoded.Defects,
	}

	// Statistics and projections share the normalized slice read-only.
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		a.Summary = Summarize(samples, interval)
		if opts.StepDetection != nil {
			steps := len(DetectSteps(samples, interval, *opts.StepDetection))
			a.Summary.StepCount = &steps
			a.Summary.CadenceSPM = Cadence(steps, len(samples), interval)
		}
	}()

	go func() {
		defer wg.Done()
		a.Accel = ProjectAccel(samples, interval)
		a.Gyro = ProjectGyro(samples, interval)
		a.Table = ProjectTable(samples, interval)
	}()

	wg.Wait()

	return a, nil
}
