package gait

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MalformedLinePolicy selects what Decode does with a line that is not a valid sample.
type MalformedLinePolicy string

const (
	// PolicyAbort fails the whole decode on the first malformed line.
	PolicyAbort MalformedLinePolicy = "abort"
	// PolicySkip drops malformed lines and records them as defects.
	PolicySkip MalformedLinePolicy = "skip"
)

// ErrUnknownPolicy is returned by ParsePolicy for values other than skip or abort.
var ErrUnknownPolicy = errors.New("unknown malformed line policy")

// ParsePolicy converts a configuration string to a MalformedLinePolicy.
// An empty string selects PolicyAbort.
func ParsePolicy(s string) (MalformedLinePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(PolicyAbort):
		return PolicyAbort, nil
	case string(PolicySkip):
		return PolicySkip, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// DefectReason classifies a malformed line.
type DefectReason string

const (
	ReasonFieldCount DefectReason = "field_count"
	ReasonParse      DefectReason = "parse"
	ReasonNonFinite  DefectReason = "non_finite"
)

// DecodeDefect describes one line of a raw payload that could not be decoded.
// Line and Field are 1-based; Field is 0 when the defect concerns the whole line.
type DecodeDefect struct {
	Err    error
	Reason DefectReason
	Line   int
	Field  int
}

func (d *DecodeDefect) Error() string {
	if d.Field > 0 {
		return fmt.Sprintf("decode defect at line %d field %d (%s): %v", d.Line, d.Field, d.Reason, d.Err)
	}
	return fmt.Sprintf("decode defect at line %d (%s): %v", d.Line, d.Reason, d.Err)
}

func (d *DecodeDefect) Unwrap() error {
	return d.Err
}

// MarshalJSON renders the defect with its underlying error as a message string.
func (d DecodeDefect) MarshalJSON() ([]byte, error) {
	msg := ""
	if d.Err != nil {
		msg = d.Err.Error()
	}
	return json.Marshal(struct {
		Reason  DefectReason `json:"reason"`
		Message string       `json:"message"`
		Line    int          `json:"line"`
		Field   int          `json:"field,omitempty"`
	}{
		Reason:  d.Reason,
		Message: msg,
		Line:    d.Line,
		Field:   d.Field,
	})
}

// Decoded is the output of Decoder.Decode.
type Decoded struct {
	// Samples holds the decoded samples in source line order, timestamps unset.
	Samples []SensorSample
	// Defects lists the lines dropped under PolicySkip.
	Defects []DecodeDefect
	// Lines counts the non-blank lines seen.
	Lines int
}

// Decoder parses raw sample payloads: one sample per line, six comma-separated
// numbers in the order accX, accY, accZ, gyroX, gyroY, gyroZ, no header.
type Decoder struct {
	policy MalformedLinePolicy
}

// NewDecoder creates a Decoder. An unrecognized policy behaves as PolicyAbort.
func NewDecoder(policy MalformedLinePolicy) *Decoder {
	if policy != PolicySkip {
		policy = PolicyAbort
	}
	return &Decoder{policy: policy}
}

// Policy returns the malformed line policy in effect.
func (d *Decoder) Policy() MalformedLinePolicy {
	return d.policy
}

// Decode parses payload. Blank lines are ignored. Under PolicyAbort the first
// malformed line is returned as a *DecodeDefect.
func (d *Decoder) Decode(payload []byte) (*Decoded, error) {
	out := &Decoded{
		Samples: []SensorSample{},
	}
	if len(payload) == 0 {
		return out, nil
	}

	lines := strings.Split(string(payload), "\n")
	out.Samples = make([]SensorSample, 0, len(lines))

	for i, raw := range lines {
		line := strings.TrimSuffix(raw, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out.Lines++

		sample, defect := parseLine(i+1, line)
		if defect != nil {
			if d.policy == PolicyAbort {
				return nil, defect
			}
			out.Defects = append(out.Defects, *defect)
			continue
		}
		out.Samples = append(out.Samples, sample)
	}

	return out, nil
}

func parseLine(lineNo int, line string) (SensorSample, *DecodeDefect) {
	fields := strings.Split(line, ",")
	if len(fields) != ChannelCount {
		return SensorSample{}, &DecodeDefect{
			Line:   lineNo,
			Reason: ReasonFieldCount,
			Err:    fmt.Errorf("expected %d fields, got %d", ChannelCount, len(fields)),
		}
	}

	var values [ChannelCount]float64
	for j, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return SensorSample{}, &DecodeDefect{
				Line:   lineNo,
				Field:  j + 1,
				Reason: ReasonParse,
				Err:    err,
			}
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return SensorSample{}, &DecodeDefect{
				Line:   lineNo,
				Field:  j + 1,
				Reason: ReasonNonFinite,
				Err:    fmt.Errorf("value %q is not finite", strings.TrimSpace(field)),
			}
		}
		values[j] = v
	}

	return sampleFromChannels(values), nil
}
