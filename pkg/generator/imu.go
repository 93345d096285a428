package generator

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"procodus.dev/gait-monitor/pkg/gait"
)

const (
	gravity = 9.81

	// Heel-strike amplitude added to the vertical axis at the top of each step.
	strikeAmplitude = 3.0
)

// IMUGenerator synthesises a walking trace: gravity on the Y axis, one
// vertical acceleration burst per step, lateral sway once per stride and
// matching gyroscope rotation, plus uniform noise.
type IMUGenerator struct {
	faker      *gofakeit.Faker
	cadenceSPM float64
	noise      float64
	interval   time.Duration
}

// NewIMUGenerator creates a generator. A non-positive cadence picks a random
// one between 80 and 110 steps per minute. A zero seed is random.
func NewIMUGenerator(cadenceSPM float64, seed uint64) *IMUGenerator {
	faker := gofakeit.New(seed)
	if cadenceSPM <= 0 {
		cadenceSPM = faker.Float64Range(80, 110)
	}
	return &IMUGenerator{
		faker:      faker,
		cadenceSPM: cadenceSPM,
		noise:      0.15,
		interval:   gait.DefaultInterval,
	}
}

// Cadence returns the simulated cadence in steps per minute.
func (g *IMUGenerator) Cadence() float64 {
	return g.cadenceSPM
}

// Samples returns n consecutive samples at the default interval.
func (g *IMUGenerator) Samples(n int) []gait.SensorSample {
	out := make([]gait.SensorSample, n)
	stepHz := g.cadenceSPM / 60

	for i := range out {
		t := (time.Duration(i) * g.interval).Seconds()
		phase := 2 * math.Pi * stepHz * t
		strike := math.Pow(math.Max(0, math.Sin(phase)), 2)

		out[i] = gait.SensorSample{
			AccX:  0.8*math.Sin(phase/2) + g.jitter(1),
			AccY:  gravity + strikeAmplitude*strike + g.jitter(1),
			AccZ:  0.5*math.Cos(phase) + g.jitter(1),
			GyroX: 0.25*math.Sin(phase) + g.jitter(0.2),
			GyroY: 0.2*math.Sin(phase/2) + g.jitter(0.2),
			GyroZ: 0.15*math.Cos(phase/2) + g.jitter(0.2),
		}
	}
	return out
}

// Reading renders a session of the given length in the raw upload format.
func (g *IMUGenerator) Reading(d time.Duration) []byte {
	return Render(g.Samples(int(d / g.interval)))
}

func (g *IMUGenerator) jitter(scale float64) float64 {
	n := g.noise * scale
	return g.faker.Float64Range(-n, n)
}

// Render formats samples as raw upload text: six comma-separated values per
// line with three decimals, newline terminated.
func Render(samples []gait.SensorSample) []byte {
	var b strings.Builder
	b.Grow(len(samples) * 48)
	for _, s := range samples {
		for i, v := range s.Channels() {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.FormatFloat(v, 'f', 3, 64))
		}
		b.WriteByte('\n')
	}
	return []byte(b.String())
}
