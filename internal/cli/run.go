package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/soyeahso/cmdbot/internal/capability"
	"github.com/soyeahso/cmdbot/internal/channel"
	"github.com/soyeahso/cmdbot/internal/channel/console"
	"github.com/soyeahso/cmdbot/internal/channel/irc"
	"github.com/soyeahso/cmdbot/internal/channel/ws"
	"github.com/soyeahso/cmdbot/internal/config"
	"github.com/soyeahso/cmdbot/internal/dispatch"
	"github.com/soyeahso/cmdbot/internal/hooks"
	"github.com/soyeahso/cmdbot/internal/logging"
	"github.com/soyeahso/cmdbot/internal/store"
	"github.com/soyeahso/cmdbot/internal/supervisor"
	"github.com/spf13/cobra"
	"github.com/tillberg/autorestart"
)

const stopTimeout = 10 * time.Second

func newRunCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect the transports and serve commands",
		Long: "Run the command dispatcher. The process exits 0 on shutdown and 1 on\n" +
			"restart or error, so a supervisor such as botrunner relaunches it\n" +
			"unless it was shut down.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			if issues := config.Validate(&cfg); len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			workerLog, closer, err := logging.Open(logging.Options{
				Level: cfg.Logging.Level,
				Style: cfg.Logging.ConsoleStyle,
				File:  cfg.Logging.File,
			})
			if err != nil {
				return err
			}
			defer closer.Close()

			if watch {
				go autorestart.RestartOnChange()
				workerLog.Info().Msg("restarting when the executable changes")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			code, err := runWorker(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout(), workerLog)
			if err != nil {
				return err
			}
			if code != supervisor.ExitShutdown {
				return &ExitError{Code: code}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "re-exec when the executable file changes")
	return cmd
}

// runWorker wires the transports, the store and the capabilities into a
// dispatcher and serves until ctx is cancelled or control asks to exit.
// The returned code is the one control asked for, or ExitRestart when the
// context ended first or every transport stopped.
func runWorker(ctx context.Context, cfg config.Config, stdin io.Reader, stdout io.Writer, log *logging.Logger) (int, error) {
	token, err := config.ResolveToken(cfg.Bot)
	if err != nil {
		return supervisor.ExitRestart, err
	}

	db, err := store.Open(storePath(cfg.Store.Path), log)
	if err != nil {
		return supervisor.ExitRestart, fmt.Errorf("opening audit store: %w", err)
	}
	defer db.Close()

	channels, err := buildTransports(cfg, token, stdin, stdout, log)
	if err != nil {
		return supervisor.ExitRestart, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Only an explicit shutdown exits 0; a signal or lost transports ask
	// the supervisor for a relaunch.
	var exitCode atomic.Int32
	exitCode.Store(supervisor.ExitRestart)
	var exitOnce sync.Once
	requestExit := func(code int) {
		exitOnce.Do(func() { exitCode.Store(int32(code)) })
		cancel()
	}

	go func() {
		select {
		case <-channels.Done():
			if ctx.Err() == nil {
				log.Error().Msg("every transport has stopped, exiting for relaunch")
				requestExit(supervisor.ExitRestart)
			}
		case <-ctx.Done():
		}
	}()

	hookMgr := hooks.NewManager(log)
	hookMgr.On(hooks.EventDispatcherStart, "transports", func(ctx context.Context, _ hooks.Payload) error {
		return channels.StartAll(ctx)
	})

	d := dispatch.New(channels, log,
		dispatch.WithHooks(hookMgr),
		dispatch.WithMaxInFlight(cfg.Dispatch.MaxInFlight),
	)
	if err := attachCapabilities(d, cfg, db, requestExit); err != nil {
		return supervisor.ExitRestart, err
	}
	if err := d.Register(); err != nil {
		return supervisor.ExitRestart, err
	}

	log.Info().
		Str("bot", cfg.Bot.Name).
		Strs("transports", channels.List()).
		Strs("capabilities", d.Capabilities()).
		Msg("worker starting")

	serveErr := d.Serve(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer stopCancel()
	channels.StopAll(stopCtx)

	if serveErr != nil {
		return supervisor.ExitRestart, serveErr
	}
	return int(exitCode.Load()), nil
}

func buildTransports(cfg config.Config, token string, stdin io.Reader, stdout io.Writer, log *logging.Logger) (*channel.Registry, error) {
	prefix := cfg.Bot.CommandPrefix
	channels := channel.NewRegistry(log)
	if c := cfg.Channels.IRC; c != nil {
		channels.Register(irc.New(*c, token, prefix, log))
	}
	if c := cfg.Channels.WebSocket; c != nil {
		channels.Register(ws.New(*c, token, prefix, log))
	}
	if c := cfg.Channels.Console; c != nil && c.Enabled {
		channels.Register(console.New(*c, prefix, stdin, stdout, log))
	}
	if channels.Count() == 0 {
		return nil, &config.ConfigError{Message: "no transport configured"}
	}
	return channels, nil
}

// attachCapabilities attaches the built-in capabilities. Status goes first
// so its liveness predicate guards every command. SetAdmin runs before the
// registration pass; an empty admin ID leaves it unset and Register fails.
func attachCapabilities(d *dispatch.Dispatcher, cfg config.Config, db *store.DB, exit func(int)) error {
	admin := capability.NewAdmin()
	if cfg.Bot.AdminID != "" {
		if err := admin.SetAdmin(cfg.Bot.AdminID); err != nil {
			return err
		}
	}

	caps := []dispatch.Capability{
		capability.NewStatus(),
		admin,
		capability.NewControl(exit),
	}
	if cfg.System.Enabled {
		caps = append(caps, capability.NewSystem(cfg.System))
	}
	if cfg.Git.Enabled {
		caps = append(caps, capability.NewGit(cfg.Git, nil))
	}
	caps = append(caps, capability.NewAudit(store.NewAuditStore(db), cfg.Store.History))
	return d.Attach(caps...)
}

// storePath resolves a relative store path against the data directory.
func storePath(p string) string {
	if p == "" {
		return store.MemoryPath
	}
	if p == store.MemoryPath || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(paths.Data, p)
}

// ExitError carries a nonzero process exit code out of a command.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }
