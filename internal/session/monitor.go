package session

import (
	"context"
	"fmt"

	"github.com/shaunagostinho/reflow-dash/internal/telemetry"
)

// LineReader yields one framed line per call, blocking until it arrives.
type LineReader interface {
	ReadLine() (string, error)
}

// Monitor feeds lines from a LineReader through the parser into a Machine.
type Monitor struct {
	src     LineReader
	machine *Machine
}

// NewMonitor creates a monitor over src.
func NewMonitor(src LineReader, machine *Machine) *Monitor {
	return &Monitor{src: src, machine: machine}
}

// Step reads and processes exactly one line. Read and persistence
// failures are returned; parse failures are not.
func (m *Monitor) Step() error {
	line, err := m.src.ReadLine()
	if err != nil {
		return fmt.Errorf("session: read: %w", err)
	}
	return m.machine.Handle(telemetry.Parse(line))
}

// Run steps until ctx is cancelled or a step fails. An error observed
// after cancellation is treated as shutdown, since closing the transport
// is what unblocks the pending read.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := m.Step(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
