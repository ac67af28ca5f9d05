package capability

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/soyeahso/cmdbot/internal/config"
	"github.com/soyeahso/cmdbot/internal/dispatch"
	"github.com/soyeahso/cmdbot/internal/domain"
	"github.com/soyeahso/cmdbot/internal/filter"
)

// System runs arbitrary shell commands for the admin.
//
// This is a trust boundary: whoever holds the admin identity has a shell on
// the host with the worker's privileges. The route is admin-only and, unless
// privateOnly is turned off, only fires in private chats.
type System struct {
	requiresAdmin
	shell       string
	timeout     time.Duration
	maxOutput   int
	privateOnly bool
}

// NewSystem creates the system capability from config.
func NewSystem(cfg config.SystemConfig) *System {
	s := &System{
		shell:       cfg.Shell,
		timeout:     cfg.Timeout(),
		maxOutput:   cfg.MaxOutput,
		privateOnly: cfg.IsPrivateOnly(),
	}
	if s.shell == "" {
		s.shell = "/bin/sh"
	}
	return s
}

func (s *System) Name() string                      { return SystemName }
func (s *System) Attach(*dispatch.Dispatcher) error { return nil }

func (s *System) RegisterHandlers(d *dispatch.Dispatcher) error {
	gate, err := adminGate(d, SystemName)
	if err != nil {
		return err
	}
	if s.privateOnly {
		gate = gate.With(filter.ChatKindEquals{Kind: domain.ChatKindPrivate})
	}
	return d.Handle("execute", gate, s.execute)
}

// ExecResult is the outcome of one execute call.
type ExecResult struct {
	Code     int
	Output   string
	TimedOut bool
}

// Run executes cmdline with the configured shell. A nonzero exit is reported
// in the result, not as an error; errors mean the shell could not run.
func (s *System) Run(ctx context.Context, cmdline string) (ExecResult, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, s.shell, "-c", cmdline)
	cmd.WaitDelay = time.Second
	out, err := cmd.CombinedOutput()

	res := ExecResult{Output: string(out)}
	if err == nil {
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.Code = exitErr.ExitCode()
		res.TimedOut = ctx.Err() == context.DeadlineExceeded
		return res, nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		res.Code = -1
		res.TimedOut = true
		return res, nil
	}
	return res, fmt.Errorf("running %s: %w", s.shell, err)
}

func (s *System) execute(ctx context.Context, req *dispatch.Request) error {
	cmdline := req.Invocation.ArgString()
	if cmdline == "" {
		return req.Reply(ctx, "usage: execute <command>")
	}

	req.Log().Info().Str("cmdline", cmdline).Str("sender", req.Invocation.SenderID).Msg("executing")
	res, err := s.Run(ctx, cmdline)
	if err != nil {
		return err
	}
	req.Log().Info().Int("code", res.Code).Bool("timedOut", res.TimedOut).Msg("execute finished")

	return req.Reply(ctx, s.format(cmdline, res))
}

func (s *System) format(cmdline string, res ExecResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "$ %s\n", cmdline)
	if out := strings.TrimRight(res.Output, "\n"); out != "" {
		b.WriteString(truncate(out, s.maxOutput))
		b.WriteByte('\n')
	}
	if res.TimedOut {
		fmt.Fprintf(&b, "[timed out after %s]", s.timeout)
	} else {
		fmt.Fprintf(&b, "[exit status %d]", res.Code)
	}
	return b.String()
}

// truncate cuts s to at most limit bytes without splitting a multi-byte
// rune at the cut. A limit of zero or less disables truncation.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return fmt.Sprintf("%s\n... (%d bytes truncated)", s[:cut], len(s)-cut)
}
