// Package automation drives the oven through a sequence of reflow profiles
// for regression runs, advancing when the session machine reports the
// current run idle.
package automation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shaunagostinho/reflow-dash/internal/oven"
	"github.com/shaunagostinho/reflow-dash/internal/session"
)

// Commander accepts newline-terminated shell commands.
type Commander interface {
	WriteLine(cmd string) error
}

// Stepper processes one inbound line per call.
type Stepper interface {
	Step() error
}

// IdleSignal is the part of the session machine the controller observes.
type IdleSignal interface {
	IsDone(now time.Time, threshold time.Duration) bool
	ResetIdle()
}

// Config controls a regression run.
type Config struct {
	Profiles      int              // profiles 0..Profiles-1 are run in order
	IdleThreshold time.Duration    // defaults to session.DefaultIdleThreshold
	Now           func() time.Time // defaults to time.Now
}

// Controller runs profiles sequentially. It never runs two at once and
// never retries a command.
type Controller struct {
	cmd   Commander
	step  Stepper
	idle  IdleSignal
	log   *zap.SugaredLogger
	count int
	idleT time.Duration
	now   func() time.Time

	index int
}

// New creates a controller.
func New(cmd Commander, step Stepper, idle IdleSignal, cfg Config, log *zap.SugaredLogger) *Controller {
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = session.DefaultIdleThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Controller{
		cmd:   cmd,
		step:  step,
		idle:  idle,
		log:   log,
		count: cfg.Profiles,
		idleT: cfg.IdleThreshold,
		now:   cfg.Now,
	}
}

// Index returns the profile currently being run.
func (c *Controller) Index() int { return c.index }

// Run executes every configured profile and returns nil once the last one
// completes. Transport and persistence failures end the run.
func (c *Controller) Run(ctx context.Context) error {
	c.index = 0
	if c.count <= 0 {
		c.log.Infof("[auto] no profiles configured")
		return nil
	}
	if err := c.start(); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.step.Step(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		if !c.idle.IsDone(c.now(), c.idleT) {
			continue
		}
		c.idle.ResetIdle()
		c.log.Infof("[auto] profile %d/%d done", c.index+1, c.count)

		c.index++
		if c.index >= c.count {
			c.log.Infof("[auto] all %d profiles complete", c.count)
			return nil
		}
		if err := c.start(); err != nil {
			return err
		}
	}
}

func (c *Controller) start() error {
	c.log.Infof("[auto] running profile %d (%d/%d)", c.index, c.index+1, c.count)
	for _, cmd := range oven.RunProfile(c.index) {
		if err := c.cmd.WriteLine(cmd); err != nil {
			return fmt.Errorf("automation: profile %d: %w", c.index, err)
		}
	}
	return nil
}
