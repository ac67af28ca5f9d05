package capability

import (
	"context"
	"os"

	"github.com/soyeahso/cmdbot/internal/dispatch"
	"github.com/soyeahso/cmdbot/internal/supervisor"
)

// Control lets the admin stop the worker. shutdown exits with
// supervisor.ExitShutdown so the supervisor stops too; restart exits with
// supervisor.ExitRestart so it relaunches the worker.
type Control struct {
	requiresAdmin
	exit func(code int)
}

// NewControl creates the control capability. exit terminates the process
// with the given code; nil means os.Exit.
func NewControl(exit func(code int)) *Control {
	if exit == nil {
		exit = os.Exit
	}
	return &Control{exit: exit}
}

func (c *Control) Name() string                      { return ControlName }
func (c *Control) Attach(*dispatch.Dispatcher) error { return nil }

func (c *Control) RegisterHandlers(d *dispatch.Dispatcher) error {
	gate, err := adminGate(d, ControlName)
	if err != nil {
		return err
	}
	if err := d.Handle("shutdown", gate, c.handler("Shutting down..", supervisor.ExitShutdown)); err != nil {
		return err
	}
	return d.Handle("restart", gate, c.handler("Restarting..", supervisor.ExitRestart))
}

func (c *Control) handler(reply string, code int) dispatch.HandlerFunc {
	return func(ctx context.Context, req *dispatch.Request) error {
		if err := req.Reply(ctx, reply); err != nil {
			req.Log().Warn().Err(err).Msg("exit notice not delivered")
		}
		req.Log().Info().
			Str("command", req.Invocation.Command).
			Str("sender", req.Invocation.SenderID).
			Int("code", code).
			Msg("exiting on request")
		c.exit(code)
		return nil
	}
}
