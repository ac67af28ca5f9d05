// Command botrunner supervises a worker process, relaunching it with the
// same arguments after every nonzero exit until it exits 0.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soyeahso/cmdbot/internal/hooks"
	"github.com/soyeahso/cmdbot/internal/logging"
	"github.com/soyeahso/cmdbot/internal/supervisor"
	"github.com/soyeahso/cmdbot/internal/version"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var opts logging.Options

	cmd := &cobra.Command{
		Use:   "botrunner <worker> [worker-args...]",
		Short: "Keep a worker running until it shuts down",
		Long: "botrunner launches the worker and waits for it. Exit status 0 means\n" +
			"shutdown and stops botrunner; any other status relaunches the worker\n" +
			"immediately with the same arguments.",
		Version:       version.String(),
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, closer, err := logging.Open(opts)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			hookMgr := hooks.NewManager(log)
			hookMgr.On(hooks.EventProcessExit, "crash-loop", crashLoopWarning(log, crashLoopExits, crashLoopWindow, time.Now))

			r := supervisor.New(supervisor.ExecLauncher{}, log, supervisor.WithHooks(hookMgr))
			launches, err := r.Run(ctx, args[0], args[1:])
			if errors.Is(err, context.Canceled) {
				log.Info().Int("launches", launches).Msg("stopped by signal")
				return nil
			}
			return err
		},
	}
	// Everything after the worker name belongs to the worker.
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().StringVar(&opts.Level, "log-level", "info", "log level (trace, debug, info, warn, error, fatal, silent)")
	cmd.Flags().StringVar(&opts.Style, "log-style", "pretty", "console log style (pretty, json)")
	cmd.Flags().StringVar(&opts.File, "log-file", "", "also append JSON logs to this file")
	return cmd
}

const (
	crashLoopExits  = 5
	crashLoopWindow = time.Minute
)

// crashLoopWarning warns when the worker has stopped temporarily n times
// within window. Relaunching is unaffected.
func crashLoopWarning(log *logging.Logger, n int, window time.Duration, now func() time.Time) hooks.Handler {
	var exits []time.Time
	return func(_ context.Context, p hooks.Payload) error {
		if code, _ := p.Data["code"].(int); code == supervisor.ExitShutdown {
			return nil
		}
		t := now()
		exits = append(exits, t)
		for len(exits) > 0 && t.Sub(exits[0]) > window {
			exits = exits[1:]
		}
		if len(exits) >= n {
			log.Warn().
				Int("exits", len(exits)).
				Dur("window", window).
				Interface("launch", p.Data["launch"]).
				Msg("worker is crash-looping; check its configuration")
		}
		return nil
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "botrunner:", err)
		os.Exit(1)
	}
}
