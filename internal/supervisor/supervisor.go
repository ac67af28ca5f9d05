// Package supervisor runs a worker program as a child process and relaunches
// it until the worker asks to stop for good.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/soyeahso/cmdbot/internal/hooks"
	"github.com/soyeahso/cmdbot/internal/logging"
)

// Exit codes understood by the supervisor. Any code other than ExitShutdown
// relaunches the worker; ExitRestart is the one the worker uses on purpose.
const (
	ExitShutdown = 0
	ExitRestart  = 1
)

// Launcher starts the worker once and blocks until it exits.
// A non-nil error means the worker could not be started at all.
type Launcher interface {
	Launch(ctx context.Context, program string, args []string) (code int, err error)
}

// ExecLauncher launches the worker with os/exec, sharing the supervisor's
// standard streams unless overridden.
type ExecLauncher struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Env    []string

	// GracePeriod is how long a worker gets to exit after an interrupt
	// when the supervisor's context is cancelled. Zero means 10s.
	GracePeriod time.Duration
}

// Launch implements Launcher.
func (l ExecLauncher) Launch(ctx context.Context, program string, args []string) (int, error) {
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Stdin = l.Stdin
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	if cmd.Stdin == nil {
		cmd.Stdin = os.Stdin
	}
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.Env = l.Env

	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = l.GracePeriod
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 10 * time.Second
	}

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("starting %s: %w", program, err)
	}

	err := cmd.Wait()
	if err == nil {
		return ExitShutdown, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// -1 when killed by a signal, which is still a transient stop.
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("waiting for %s: %w", program, err)
}

// Runner is the restart loop.
type Runner struct {
	launcher Launcher
	log      *logging.Logger
	hooks    *hooks.Manager
}

// Option configures a Runner.
type Option func(*Runner)

// WithHooks emits a process_exit event after every worker exit.
func WithHooks(h *hooks.Manager) Option {
	return func(r *Runner) { r.hooks = h }
}

// New creates a Runner. A nil launcher uses ExecLauncher.
func New(launcher Launcher, log *logging.Logger, opts ...Option) *Runner {
	if launcher == nil {
		launcher = ExecLauncher{}
	}
	r := &Runner{launcher: launcher, log: log.Sub("supervisor")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run launches program with args until it exits with ExitShutdown, and
// returns the number of launches. Nonzero exits relaunch immediately with
// the same arguments. Run also stops when ctx is cancelled or the worker
// cannot be started.
func (r *Runner) Run(ctx context.Context, program string, args []string) (int, error) {
	cmdline := strings.Join(append([]string{program}, args...), " ")
	launches := 0

	for {
		if err := ctx.Err(); err != nil {
			return launches, err
		}

		launches++
		r.log.Info().Str("cmd", cmdline).Int("launch", launches).Msg("launching worker")

		code, err := r.launcher.Launch(ctx, program, args)
		if err != nil {
			r.log.Error().Err(err).Str("cmd", cmdline).Int("launch", launches).Msg("worker launch failed")
			return launches, err
		}

		r.hooks.Emit(ctx, hooks.EventProcessExit, map[string]any{
			"program": program,
			"code":    code,
			"launch":  launches,
		})

		if code == ExitShutdown {
			r.log.Info().Int("code", code).Int("launch", launches).Msg("worker shutting down permanently")
			return launches, nil
		}

		if err := ctx.Err(); err != nil {
			r.log.Info().Int("code", code).Msg("supervisor cancelled, not relaunching")
			return launches, err
		}
		r.log.Warn().Int("code", code).Int("launch", launches).Msg("worker stopped temporarily, relaunching")
	}
}
