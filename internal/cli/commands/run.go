package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/villakit/villa/internal/bots"
	"github.com/villakit/villa/internal/config"
	"github.com/villakit/villa/internal/metrics"
	"github.com/villakit/villa/internal/status"
	"github.com/villakit/villa/pkg/bot"
	"github.com/villakit/villa/pkg/event"
)

const stopTimeout = 10 * time.Second

// ErrAlreadyRunning is returned when another villa process holds the lock.
var ErrAlreadyRunning = errors.New("villa is already running")

type runOptions struct {
	bots   []string
	pretty bool
}

// NewRunCommand creates the run subcommand.
func NewRunCommand() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect the configured bots and process events",
		Long: `Connect every enabled bot to the Villa gateway and keep the connections
alive until interrupted. Received events are logged and counted.`,
		Example: `  # All enabled bots
  villa run

  # Only selected bots, human-readable logs
  villa run --bot main --bot staging --pretty`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBots(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.bots, "bot", nil, "Run only the named bots")
	cmd.Flags().BoolVar(&opts.pretty, "pretty", false, "Human-readable log output")

	return cmd
}

func runBots(ctx context.Context, cmd *cobra.Command, opts runOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := selectBots(cfg, opts.bots); err != nil {
		return err
	}

	logger := newLogger(cmd.ErrOrStderr(), verboseFlag(cmd) || cfg.Logging.Verbose, opts.pretty)

	if err := os.MkdirAll(config.StateDir(), 0755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	lockPath := config.LockPath()
	fileLock := flock.New(lockPath)
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("error checking lock file: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w (lock held at %s)", ErrAlreadyRunning, lockPath)
	}
	defer func() { _ = fileLock.Unlock() }()

	registry, err := bots.FromConfig(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	if registry.Len() == 0 {
		return errors.New("no enabled bots in config")
	}

	m := metrics.New(registry.Active)
	for _, e := range registry.All() {
		m.Observe(e.Bot)
		logEvents(e.Bot, e.Name, logger)
	}

	var srv *status.Server
	if cfg.Status.Enabled {
		srv = status.New(registry, m.Handler(), logger)
		go func() {
			if err := srv.Start(cfg.Status.Addr()); err != nil {
				logger.Error().Err(err).Msg("Status server failed")
			}
		}()
	}

	stopAll := func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if srv != nil {
			if err := srv.Shutdown(stopCtx); err != nil {
				logger.Warn().Err(err).Msg("Status server shutdown failed")
			}
		}
		_ = registry.StopAll(stopCtx)
	}

	startErr := registry.StartAll(ctx)
	if registry.Active() == 0 {
		stopAll()
		if startErr == nil {
			startErr = errors.New("no bot could be started")
		}
		return startErr
	}

	logger.Info().Int("bots", registry.Active()).Msg("villa running")

	allDone := make(chan struct{})
	go func() {
		_ = registry.Wait(ctx)
		close(allDone)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	case <-allDone:
		logger.Warn().Msg("All bots terminated")
	}
	stopAll()

	for _, st := range registry.Status() {
		if st.LastError != "" {
			logger.Info().Str("bot", st.Name).Str("reason", st.LastError).Msg("Bot stopped")
		}
	}
	return nil
}

// selectBots narrows cfg to the named bots.
func selectBots(cfg *config.Config, names []string) error {
	if len(names) == 0 {
		return nil
	}
	selected := make([]config.BotConfig, 0, len(names))
	for _, name := range names {
		bc, ok := cfg.Bot(name)
		if !ok {
			return fmt.Errorf("unknown bot '%s'", name)
		}
		bc.Disabled = false
		selected = append(selected, bc)
	}
	cfg.Bots = selected
	return nil
}

func logEvents(b *bot.Bot, name string, logger zerolog.Logger) {
	b.AddProcessor(func(_ context.Context, ev *event.Event, _ *event.Source) error {
		logger.Info().
			Str("bot", name).
			Str("kind", ev.Kind().String()).
			Str("eventId", ev.ID).
			Uint64("villaId", ev.VillaID()).
			Msg("Event received")
		return nil
	})
}
