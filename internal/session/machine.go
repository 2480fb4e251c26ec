package session

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shaunagostinho/reflow-dash/internal/telemetry"
)

// Machine is the session state machine. It owns the current mode, the
// active session buffer and the idle-since timestamp. A Machine is driven
// from a single goroutine and is not safe for concurrent use.
type Machine struct {
	renderer Renderer
	writer   PersistenceWriter
	log      *zap.SugaredLogger
	now      func() time.Time

	mode      telemetry.Mode
	profile   string
	session   *Session
	idleSince time.Time // zero while unset
}

// NewMachine creates a machine in ModeUnknown. A nil renderer discards
// updates; a nil writer drops completed sessions; a nil clock uses
// time.Now.
func NewMachine(renderer Renderer, writer PersistenceWriter, log *zap.SugaredLogger, now func() time.Time) *Machine {
	if renderer == nil {
		renderer = Discard
	}
	if writer == nil {
		writer = PersistFunc(func(*Session) error { return nil })
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if now == nil {
		now = time.Now
	}
	return &Machine{
		renderer: renderer,
		writer:   writer,
		log:      log,
		now:      now,
		mode:     telemetry.ModeUnknown,
		session:  newSession("", now()),
	}
}

// Handle dispatches one parse result. Only persistence failures are
// returned; malformed lines are logged and otherwise ignored.
func (m *Machine) Handle(res telemetry.Result) error {
	switch res.Kind {
	case telemetry.KindSample:
		return m.OnSample(res.Sample)
	case telemetry.KindAnnouncement:
		m.OnAnnouncement(res.Profile)
	case telemetry.KindComment:
		m.log.Infof("[oven] %s", res.Line)
		m.renderer.Console(res.Line)
	default:
		if !res.Blank() {
			m.log.Warnf("[parse] error parsing %q: %v", res.Line, res.Err)
		}
	}
	return nil
}

// OnAnnouncement records the profile name for the next session.
func (m *Machine) OnAnnouncement(name string) {
	m.log.Infof("[session] profile announced: %s", name)
	m.profile = name
}

// OnSample applies one telemetry sample. A persistence failure is returned
// after the status push and buffering have happened.
func (m *Machine) OnSample(s telemetry.Sample) error {
	var err error
	if s.Mode != "" {
		if s.Mode != m.mode {
			err = m.transition(m.mode, s.Mode)
		}
		m.mode = s.Mode
		m.renderer.Status(Status{Profile: m.profile, Mode: m.mode, Heat: s.Heat, Fan: s.Fan})
	}

	if s.Time != 0 {
		m.session.Samples = append(m.session.Samples, s)
		m.renderer.Plot(s)
	}
	return err
}

func (m *Machine) transition(from, to telemetry.Mode) error {
	m.log.Infof("[session] mode %s -> %s", from, to)

	if to == telemetry.ModeBake {
		m.profile = BakeProfile
	}

	var err error
	switch {
	case from == telemetry.ModeStandby && to.Active():
		m.session = newSession(m.profile, m.now())
		m.renderer.Reset(m.profile)
		m.log.Infof("[session] started %s (profile %q)", m.session.ID, m.profile)
	case from.Active() && to == telemetry.ModeStandby:
		err = m.finish()
	}

	if to.Active() {
		m.idleSince = m.now()
	}
	return err
}

// finish hands the buffered session to the writer exactly once and clears
// the buffer, whether or not the writer succeeds.
func (m *Machine) finish() error {
	done := m.session
	done.Profile = m.profile
	done.Ended = m.now()
	m.session = newSession(m.profile, done.Ended)

	m.log.Infof("[session] finished %s (profile %q, %d samples)", done.ID, done.Profile, len(done.Samples))
	if err := m.writer.Persist(done); err != nil {
		return fmt.Errorf("session: persist %s: %w", done.ID, err)
	}
	return nil
}

// IsDone reports whether more than threshold has passed since the last
// entry into an active mode. Elapsed time is counted in whole seconds.
func (m *Machine) IsDone(now time.Time, threshold time.Duration) bool {
	if m.idleSince.IsZero() {
		return false
	}
	return now.Unix()-m.idleSince.Unix() > int64(threshold/time.Second)
}

// ResetIdle clears the idle-since timestamp.
func (m *Machine) ResetIdle() { m.idleSince = time.Time{} }

// IdleSince returns the idle-since timestamp and whether it is set.
func (m *Machine) IdleSince() (time.Time, bool) { return m.idleSince, !m.idleSince.IsZero() }

// Mode returns the last reported mode.
func (m *Machine) Mode() telemetry.Mode { return m.mode }

// Profile returns the current profile name.
func (m *Machine) Profile() string { return m.profile }

// Buffered returns a copy of the active session's samples.
func (m *Machine) Buffered() []telemetry.Sample {
	out := make([]telemetry.Sample, len(m.session.Samples))
	copy(out, m.session.Samples)
	return out
}
