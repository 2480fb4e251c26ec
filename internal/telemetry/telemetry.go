// Package telemetry parses the line-oriented log protocol spoken by the
// T-962 reflow oven controller over its serial console.
//
// Every line falls into exactly one Kind: a telemetry Sample, a profile
// announcement, a comment, or an error. Parse never panics and never
// returns a Go error directly; malformed input is reported inside the
// Result so the read loop can carry on with the next line.
package telemetry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Mode is the oven operating state reported in the last column of a
// telemetry line. Tokens other than the named constants are kept verbatim.
type Mode string

const (
	ModeUnknown Mode = "UNKNOWN"
	ModeStandby Mode = "STANDBY"
	ModeBake    Mode = "BAKE"
	ModeReflow  Mode = "REFLOW"
)

// Active reports whether the mode is one that runs a heating session.
func (m Mode) Active() bool { return m == ModeBake || m == ModeReflow }

// Fields is the column order of a telemetry line, as printed in the
// firmware's "# Time, Temp0, ..." header.
var Fields = []string{
	"Time", "Temp0", "Temp1", "Temp2", "Temp3",
	"Set", "Actual", "Heat", "Fan", "ColdJ", "Mode",
}

// Sample is one telemetry reading.
type Sample struct {
	Time   float64 `json:"time"`   // seconds since the run started
	Temp0  float64 `json:"temp0"`  // °C
	Temp1  float64 `json:"temp1"`  // °C
	Temp2  float64 `json:"temp2"`  // °C
	Temp3  float64 `json:"temp3"`  // °C
	Set    float64 `json:"set"`    // setpoint °C
	Actual float64 `json:"actual"` // controlled temperature °C
	Heat   int     `json:"heat"`   // heater PWM 0-255
	Fan    int     `json:"fan"`    // fan PWM 0-255
	ColdJ  float64 `json:"coldJ"`  // cold junction °C
	Mode   Mode    `json:"mode"`
}

// Kind discriminates a parse Result.
type Kind int

const (
	KindError Kind = iota
	KindSample
	KindAnnouncement
	KindComment
)

func (k Kind) String() string {
	switch k {
	case KindSample:
		return "sample"
	case KindAnnouncement:
		return "announcement"
	case KindComment:
		return "comment"
	default:
		return "error"
	}
}

// Result is the outcome of parsing one line. Only the field matching Kind
// is meaningful: Sample for KindSample, Profile for KindAnnouncement, Err
// for KindError. Line always holds the raw input.
type Result struct {
	Kind    Kind
	Sample  Sample
	Profile string
	Line    string
	Err     error
}

// Blank reports whether the result is an error for a line that was empty
// after trimming. Such lines carry no diagnostic worth reporting.
func (r Result) Blank() bool { return r.Kind == KindError && errors.Is(r.Err, ErrBlank) }

var (
	ErrBlank      = errors.New("telemetry: blank line")
	ErrFieldCount = errors.New("telemetry: wrong field count")
	ErrNumber     = errors.New("telemetry: invalid number")
)

// Announcement prefixes printed by the controller's shell.
const (
	announceReflow = "Starting reflow with profile: "
	announceSelect = "Selected profile "
)

// Parse classifies a single line.
func Parse(raw string) Result {
	line := strings.TrimSpace(raw)
	if line == "" {
		return Result{Kind: KindError, Line: raw, Err: ErrBlank}
	}

	if strings.HasPrefix(line, "#") {
		return Result{Kind: KindComment, Line: raw}
	}

	for _, prefix := range []string{announceReflow, announceSelect} {
		if strings.HasPrefix(line, prefix) {
			return Result{
				Kind:    KindAnnouncement,
				Profile: strings.TrimSpace(line[len(prefix):]),
				Line:    raw,
			}
		}
	}

	sample, err := parseSample(line)
	if err != nil {
		return Result{Kind: KindError, Line: raw, Err: err}
	}
	return Result{Kind: KindSample, Sample: sample, Line: raw}
}

func parseSample(line string) (Sample, error) {
	parts := strings.Split(line, ",")
	if len(parts) != len(Fields) {
		return Sample{}, fmt.Errorf("%w: got %d, want %d", ErrFieldCount, len(parts), len(Fields))
	}

	var nums [10]float64
	for i := range nums {
		tok := strings.TrimSpace(parts[i])
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Sample{}, fmt.Errorf("%w: %s=%q", ErrNumber, Fields[i], tok)
		}
		nums[i] = v
	}

	return Sample{
		Time:   nums[0],
		Temp0:  nums[1],
		Temp1:  nums[2],
		Temp2:  nums[3],
		Temp3:  nums[4],
		Set:    nums[5],
		Actual: nums[6],
		Heat:   int(math.Round(nums[7])),
		Fan:    int(math.Round(nums[8])),
		ColdJ:  nums[9],
		Mode:   Mode(strings.TrimSpace(parts[10])),
	}, nil
}

// Format renders a sample back into the wire layout used by the firmware.
func Format(s Sample) string {
	return fmt.Sprintf("%6.1f,  %5.1f, %5.1f, %5.1f, %5.1f,  %5.1f, %5.1f,  %3d, %3d,  %5.1f, %s",
		s.Time, s.Temp0, s.Temp1, s.Temp2, s.Temp3, s.Set, s.Actual, s.Heat, s.Fan, s.ColdJ, s.Mode)
}
