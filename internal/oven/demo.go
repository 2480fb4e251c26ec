package oven

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shaunagostinho/reflow-dash/internal/telemetry"
)

// DemoProfiles are the profile names the simulated controller reports,
// matching the stock firmware's ROM profiles plus two custom slots.
var DemoProfiles = []string{
	"4300 63SN/37PB",
	"NC-31 LOW-TEMP LF",
	"AMTECH SYNTECH-LF",
	"RAMP SPEED TEST",
	"PID CONTROL TEST",
	"CUSTOM #1",
	"CUSTOM #2",
}

const (
	demoRunSeconds = 300.0 // length of one simulated reflow curve
	demoAmbient    = 25.0
	demoStandbySet = 50.0
)

// DemoOven simulates a T-962 on the other end of the serial link. It logs
// one telemetry line per tick and responds to stop, select profile and
// reflow the same way the firmware shell does.
type DemoOven struct {
	tick time.Duration // wall time per line
	step float64       // simulated seconds per line

	mu      sync.Mutex
	pending []string // shell replies, delivered before the next telemetry line
	profile int
	running bool
	t       float64 // seconds into the current run
	actual  float64

	lines  chan string
	done   chan struct{}
	closed sync.Once
}

// NewDemoOven creates a simulated oven emitting a line every tick and
// advancing the simulated run by step seconds per line.
func NewDemoOven(tick time.Duration, step float64) *DemoOven {
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	if step <= 0 {
		step = 1
	}
	return &DemoOven{
		tick:   tick,
		step:   step,
		actual: demoAmbient,
		lines:  make(chan string),
		done:   make(chan struct{}),
	}
}

func (d *DemoOven) Name() string { return "Demo (Simulated)" }

// Connect starts the telemetry generator.
func (d *DemoOven) Connect() error {
	d.mu.Lock()
	d.pending = append(d.pending, "# Time,  Temp0, Temp1, Temp2, Temp3,  Set,Actual, Heat, Fan,  ColdJ, Mode")
	d.mu.Unlock()
	go d.generate()
	return nil
}

func (d *DemoOven) Close() error {
	d.closed.Do(func() { close(d.done) })
	return nil
}

// ReadLine returns the next shell reply if one is queued, otherwise waits
// for the next telemetry line.
func (d *DemoOven) ReadLine() (string, error) {
	d.mu.Lock()
	if len(d.pending) > 0 {
		line := d.pending[0]
		d.pending = d.pending[1:]
		d.mu.Unlock()
		return line, nil
	}
	d.mu.Unlock()

	select {
	case line := <-d.lines:
		return line, nil
	case <-d.done:
		return "", io.EOF
	}
}

// WriteLine interprets a shell command.
func (d *DemoOven) WriteLine(cmd string) error {
	select {
	case <-d.done:
		return io.ErrClosedPipe
	default:
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cmd = strings.TrimSpace(cmd)
	switch {
	case cmd == CmdStop:
		// The firmware logs the STANDBY mode change on its next tick
		if d.running {
			d.pending = append(d.pending, d.standbyLine())
		}
		d.running = false
	case cmd == CmdReflow:
		d.running = true
		d.t = 0
		d.pending = append(d.pending, "Starting reflow with profile: "+DemoProfiles[d.profile])
	case strings.HasPrefix(cmd, "select profile "):
		idx, err := strconv.Atoi(strings.TrimPrefix(cmd, "select profile "))
		if err != nil || idx < 0 || idx >= len(DemoProfiles) {
			d.pending = append(d.pending, fmt.Sprintf("No profile with id: %s", strings.TrimPrefix(cmd, "select profile ")))
			return nil
		}
		d.profile = idx
		d.pending = append(d.pending, fmt.Sprintf("Selected profile %d: %s", idx, DemoProfiles[idx]))
	default:
		d.pending = append(d.pending, "Cannot understand command, ? for help")
	}
	return nil
}

func (d *DemoOven) generate() {
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
		}

		line := d.next()
		select {
		case d.lines <- line:
		case <-d.done:
			return
		}
	}
}

// next advances the simulation by one step and renders a telemetry line.
func (d *DemoOven) next() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := telemetry.Sample{Mode: telemetry.ModeStandby}
	setpoint := demoStandbySet
	if d.running {
		d.t += d.step
		s.Time = d.t
		s.Mode = telemetry.ModeReflow
		setpoint = reflowSetpoint(d.t)
		if d.t >= demoRunSeconds {
			d.running = false
		}
	}

	// First-order lag toward the setpoint; cooling only via the fan.
	diff := setpoint - d.actual
	if diff > 0 {
		d.actual += diff * 0.08
		s.Heat = clampPWM(diff * 20)
	} else if d.actual > demoAmbient {
		d.actual += diff * 0.04
		s.Fan = clampPWM(-diff * 10)
	}

	s.Set = setpoint
	s.Actual = d.actual
	s.Temp0 = d.actual + rand.Float64()*2 - 1
	s.Temp1 = d.actual + rand.Float64()*2 - 1
	s.ColdJ = 24 + rand.Float64()
	return telemetry.Format(s)
}

// standbyLine renders an idle telemetry line at the current temperature.
// Callers hold d.mu.
func (d *DemoOven) standbyLine() string {
	return telemetry.Format(telemetry.Sample{
		Temp0:  d.actual,
		Temp1:  d.actual,
		Set:    demoStandbySet,
		Actual: d.actual,
		ColdJ:  24.5,
		Mode:   telemetry.ModeStandby,
	})
}

// reflowSetpoint is a ramp-soak-peak-cool curve over demoRunSeconds.
func reflowSetpoint(t float64) float64 {
	switch {
	case t < 90:
		return demoAmbient + (150-demoAmbient)*t/90
	case t < 180:
		return 150 + 30*(t-90)/90
	case t < 220:
		return 180 + 55*(t-180)/40
	case t < 240:
		return 235
	default:
		return math.Max(demoAmbient, 235-(t-240)*3)
	}
}

func clampPWM(v float64) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return int(v)
}
