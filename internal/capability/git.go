package capability

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/soyeahso/cmdbot/internal/config"
	"github.com/soyeahso/cmdbot/internal/dispatch"
)

// GitRunner runs git with args in dir and returns its combined output.
type GitRunner func(ctx context.Context, dir string, args ...string) ([]byte, error)

func execGit(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.WaitDelay = time.Second
	return cmd.CombinedOutput()
}

// Git lets the admin update the worker's source tree and inspect its
// revision. After a pull, a restart picks up the new code.
type Git struct {
	requiresAdmin
	dir     string
	remote  string
	branch  string
	timeout time.Duration
	run     GitRunner
}

// NewGit creates the git capability. A nil runner shells out to git.
func NewGit(cfg config.GitConfig, run GitRunner) *Git {
	if run == nil {
		run = execGit
	}
	dir := cfg.Dir
	if dir == "" {
		dir = "."
	}
	return &Git{
		dir:     dir,
		remote:  cfg.Remote,
		branch:  cfg.Branch,
		timeout: cfg.Timeout(),
		run:     run,
	}
}

func (g *Git) Name() string { return GitName }

// Attach checks that the working tree exists.
func (g *Git) Attach(*dispatch.Dispatcher) error {
	info, err := os.Stat(g.dir)
	if err != nil {
		return config.Errorf(err, "git.dir %q", g.dir)
	}
	if !info.IsDir() {
		return &config.ConfigError{Message: fmt.Sprintf("git.dir %q is not a directory", g.dir)}
	}
	return nil
}

func (g *Git) RegisterHandlers(d *dispatch.Dispatcher) error {
	gate, err := adminGate(d, GitName)
	if err != nil {
		return err
	}
	if err := d.Handle("gitpull", gate, g.pull); err != nil {
		return err
	}
	return d.Handle("gitlog", gate, g.log)
}

// Revision returns `git log -1 --oneline` for the working tree.
func (g *Git) Revision(ctx context.Context) (string, error) {
	out, err := g.git(ctx, "log", "-1", "--oneline")
	if err != nil {
		return "", err
	}
	return out, nil
}

// PullArgs returns the git arguments used by gitpull.
func (g *Git) PullArgs() []string {
	args := []string{"pull"}
	switch {
	case g.remote != "":
		args = append(args, g.remote)
		if g.branch != "" {
			args = append(args, g.branch)
		}
	case g.branch != "":
		args = append(args, "origin", g.branch)
	}
	return args
}

func (g *Git) pull(ctx context.Context, req *dispatch.Request) error {
	out, err := g.git(ctx, g.PullArgs()...)
	if err != nil {
		return err
	}
	req.Log().Info().Str("output", lastLine(out)).Msg("source updated")

	msg := "Successfully updated! Run status again to check the latest commit."
	if line := lastLine(out); line != "" {
		msg = line + "\n" + msg
	}
	return req.Reply(ctx, msg)
}

func (g *Git) log(ctx context.Context, req *dispatch.Request) error {
	n := 1
	if args := req.Args(); len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 || v > 50 {
			return req.Reply(ctx, "usage: gitlog [1-50]")
		}
		n = v
	}
	out, err := g.git(ctx, "log", "-n", strconv.Itoa(n), "--oneline")
	if err != nil {
		return err
	}
	return req.Reply(ctx, out)
}

// git runs a git subcommand with the configured timeout. Credentials in the
// remote never appear in the output or the error.
func (g *Git) git(ctx context.Context, args ...string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	out, err := g.run(ctx, g.dir, args...)
	text := g.redact(strings.TrimSpace(string(out)))
	if err != nil {
		sub := "git"
		if len(args) > 0 {
			sub = "git " + args[0]
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && text != "" {
			return "", fmt.Errorf("%s: %s (exit status %d)", sub, text, exitErr.ExitCode())
		}
		return "", fmt.Errorf("%s: %s", sub, g.redact(err.Error()))
	}
	return text, nil
}

// redact replaces the remote's userinfo wherever it appears in s.
func (g *Git) redact(s string) string {
	if g.remote == "" {
		return s
	}
	u, err := url.Parse(g.remote)
	if err != nil || u.User == nil {
		return s
	}
	s = strings.ReplaceAll(s, g.remote, u.Redacted())
	if pw, ok := u.User.Password(); ok && pw != "" {
		s = strings.ReplaceAll(s, pw, "xxxxx")
	}
	return s
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
