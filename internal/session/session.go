// Package session tracks the oven's operating mode and buffers the samples
// of the active bake or reflow run.
//
// Session boundaries are driven by mode-transition edges, never by the raw
// mode value: STANDBY→{BAKE,REFLOW} opens a session and
// {BAKE,REFLOW}→STANDBY hands it to persistence. Repeated identical modes
// and intermediate states therefore never reset or persist twice.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaunagostinho/reflow-dash/internal/telemetry"
)

// BakeProfile is the profile name forced whenever the oven enters BAKE.
const BakeProfile = "bake"

// DefaultIdleThreshold is how long after entering an active mode IsDone
// starts reporting completion.
const DefaultIdleThreshold = 5 * time.Second

// Session is the ordered sample sequence of one active-mode run.
type Session struct {
	ID      string             `json:"id"`
	Profile string             `json:"profile"`
	Started time.Time          `json:"started"`
	Ended   time.Time          `json:"ended"`
	Samples []telemetry.Sample `json:"samples"`
}

// Status is the one-line summary shown above the live chart.
type Status struct {
	Profile string         `json:"profile"`
	Mode    telemetry.Mode `json:"mode"`
	Heat    int            `json:"heat"`
	Fan     int            `json:"fan"`
}

// Title renders the status for a chart heading.
func (s Status) Title() string {
	return fmt.Sprintf("Profile: %s; Mode: %s; Heat: %3d; Fan: %3d", s.Profile, s.Mode, s.Heat, s.Fan)
}

// Renderer receives live updates for display.
type Renderer interface {
	// Reset clears the live chart for a new session.
	Reset(profile string)
	// Status updates the heading after a mode update.
	Status(Status)
	// Plot appends one buffered sample to the chart.
	Plot(telemetry.Sample)
	// Console shows a comment line from the controller.
	Console(line string)
}

// PersistenceWriter stores a completed session.
type PersistenceWriter interface {
	Persist(*Session) error
}

// PersistFunc adapts a function to PersistenceWriter.
type PersistFunc func(*Session) error

func (f PersistFunc) Persist(s *Session) error { return f(s) }

// MultiWriter persists to each writer in order, stopping at the first
// error. Nil writers are skipped.
func MultiWriter(writers ...PersistenceWriter) PersistenceWriter {
	var ws []PersistenceWriter
	for _, w := range writers {
		if w != nil {
			ws = append(ws, w)
		}
	}
	return PersistFunc(func(s *Session) error {
		for _, w := range ws {
			if err := w.Persist(s); err != nil {
				return err
			}
		}
		return nil
	})
}

// Discard is a Renderer that drops every update.
var Discard Renderer = discard{}

type discard struct{}

func (discard) Reset(string)          {}
func (discard) Status(Status)         {}
func (discard) Plot(telemetry.Sample) {}
func (discard) Console(string)        {}

func newSession(profile string, started time.Time) *Session {
	return &Session{
		ID:      uuid.NewString(),
		Profile: profile,
		Started: started,
	}
}
