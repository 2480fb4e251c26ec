package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shaunagostinho/reflow-dash/internal/applog"
	"github.com/shaunagostinho/reflow-dash/internal/automation"
	"github.com/shaunagostinho/reflow-dash/internal/history"
	"github.com/shaunagostinho/reflow-dash/internal/logger"
	"github.com/shaunagostinho/reflow-dash/internal/oven"
	"github.com/shaunagostinho/reflow-dash/internal/server"
	"github.com/shaunagostinho/reflow-dash/internal/session"
	"github.com/shaunagostinho/reflow-dash/web"
)

const (
	actionLog  = "log"
	actionTest = "test"
)

type options struct {
	configPath string
	demo       bool
	listenAddr string
	profiles   int
	port       string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "reflowdash [log|test]",
		Short: "Monitor and automate a T-962 reflow oven",
		Long: `Monitor a T-962 reflow oven over its serial console, plot each bake or
reflow run live and save it when the oven returns to standby.

Actions:
  log   record sessions as the oven is operated from its front panel (default)
  test  run profiles 0..N-1 back to back, advancing when each run goes idle

Examples:
  reflowdash
  reflowdash test --profiles 3
  reflowdash --demo --listen :8081`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := parseAction(args)
			if err != nil {
				return err
			}
			return run(cmd.Context(), opts, action)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "/etc/reflowdash/config.yaml", "Path to config file")
	f.BoolVar(&opts.demo, "demo", false, "Run against a simulated oven")
	f.StringVar(&opts.listenAddr, "listen", "", "Override listen address (e.g. :8080)")
	f.IntVar(&opts.profiles, "profiles", 0, "Override number of profiles run by the test action")
	f.StringVar(&opts.port, "port", "", "Serial port of the oven (skips probing)")

	return cmd
}

// parseAction maps the optional positional argument to an action.
func parseAction(args []string) (string, error) {
	if len(args) == 0 {
		return actionLog, nil
	}
	switch args[0] {
	case actionLog, actionTest:
		return args[0], nil
	default:
		return "", fmt.Errorf("unrecognized action %q", args[0])
	}
}

func (o *options) apply(cfg *server.Config) {
	if o.demo {
		cfg.Oven.Type = "demo"
	}
	if o.listenAddr != "" {
		cfg.Server.ListenAddr = o.listenAddr
	}
	if o.profiles > 0 {
		cfg.Automation.Profiles = o.profiles
	}
	if o.port != "" {
		cfg.Oven.PortPath = o.port
	}
}

func run(parent context.Context, opts *options, action string) error {
	if parent == nil {
		parent = context.Background()
	}

	boot := applog.New(applog.InfoLevel)
	cfg := server.LoadConfig(opts.configPath, boot)
	opts.apply(cfg)

	log := applog.New(cfg.Log.Level)
	defer log.Sync()
	log.Infof("[main] reflowdash starting (%s)", action)

	// Create context with signal handling
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		writers []session.PersistenceWriter
		store   *history.Store
	)
	if cfg.Export.Enabled {
		writers = append(writers, logger.New(cfg.Export, log))
	}
	if cfg.History.Enabled {
		s, err := history.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		store = s
		defer store.Close()
		writers = append(writers, store)
	}

	transport := newTransport(cfg, log)
	if err := connectWithRetry(ctx, transport.Name(), transport, cfg.Oven.ConnectAttempts, log); err != nil {
		return err
	}
	defer transport.Close()

	// Closing the link is what unblocks a pending ReadLine
	go func() {
		<-ctx.Done()
		transport.Close()
	}()

	var renderer session.Renderer = session.Discard
	if cfg.Server.Enabled {
		var lister server.SessionLister
		if store != nil {
			lister = store
		}
		srv := server.New(cfg, lister, web.FS, log)
		renderer = srv
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Errorf("[main] server exited: %v", err)
			}
		}()
	}

	machine := session.NewMachine(renderer, session.MultiWriter(writers...), log, clock)
	mon := session.NewMonitor(transport, machine)

	switch action {
	case actionTest:
		ctl := automation.New(transport, mon, machine, automation.Config{
			Profiles:      cfg.Automation.Profiles,
			IdleThreshold: cfg.Automation.IdleThreshold(),
			Now:           clock,
		}, log)
		err := ctl.Run(ctx)
		if err == nil {
			err = standDown(ctx, transport, mon, machine, log)
		}
		if errors.Is(err, context.Canceled) {
			log.Infof("[main] interrupted during profile %d", ctl.Index())
			return nil
		}
		return err
	default:
		return mon.Run(ctx)
	}
}

// standDown stops the last profile and keeps reading until the oven leaves
// its active mode, so the final run is persisted.
func standDown(ctx context.Context, cmd automation.Commander, step automation.Stepper, machine *session.Machine, log *zap.SugaredLogger) error {
	if !machine.Mode().Active() {
		return nil
	}
	log.Infof("[main] stopping oven after last profile")
	if err := cmd.WriteLine(oven.CmdStop); err != nil {
		return fmt.Errorf("stop oven: %w", err)
	}
	for machine.Mode().Active() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step.Step(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
	return nil
}

func newTransport(cfg *server.Config, log *zap.SugaredLogger) oven.Transport {
	switch cfg.Oven.Type {
	case "demo":
		return oven.NewDemoOven(time.Duration(cfg.Oven.DemoTickMs)*time.Millisecond, 1)
	default:
		return oven.NewT962(oven.T962Config{
			PortPath:   cfg.Oven.PortPath,
			Candidates: cfg.Oven.Candidates,
			BaudRate:   cfg.Oven.BaudRate,
		}, log)
	}
}

// clock is the time source for the session machine and controller.
var clock = time.Now

type connectable interface {
	Connect() error
}

// Backoff bounds for connectWithRetry; tests shrink them.
var (
	retryDelay    = 1 * time.Second
	retryMaxDelay = 60 * time.Second
)

// connectWithRetry attempts to connect with exponential backoff, starting
// at retryDelay and doubling up to retryMaxDelay. It gives up after
// maxAttempts failures.
func connectWithRetry(ctx context.Context, name string, c connectable, maxAttempts int, log *zap.SugaredLogger) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	delay := retryDelay

	for attempt := 1; ; attempt++ {
		err := c.Connect()
		if err == nil {
			log.Infof("[%s] connected successfully (attempt %d)", name, attempt)
			return nil
		}
		if attempt >= maxAttempts {
			return fmt.Errorf("%s: giving up after %d attempts: %w", name, attempt, err)
		}
		log.Warnf("[%s] connect attempt %d/%d failed: %v (retry in %v)",
			name, attempt, maxAttempts, err, delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
}
