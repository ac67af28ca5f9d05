package capability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/soyeahso/cmdbot/internal/dispatch"
	"github.com/soyeahso/cmdbot/internal/filter"
	"github.com/soyeahso/cmdbot/internal/version"
)

// Status adds the alive-since predicate to the universal chain and answers
// status and help for everyone who passes it.
type Status struct {
	now func() time.Time
}

// StatusOption configures Status.
type StatusOption func(*Status)

// WithStatusClock overrides the clock used to compute uptime.
func WithStatusClock(now func() time.Time) StatusOption {
	return func(s *Status) { s.now = now }
}

// NewStatus creates the status capability.
func NewStatus(opts ...StatusOption) *Status {
	s := &Status{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Status) Name() string { return StatusName }

// Attach drops anything sent before the dispatcher existed.
func (s *Status) Attach(d *dispatch.Dispatcher) error {
	return d.AddUniversal(filter.AliveSince{T0: d.StartedAt()})
}

func (s *Status) RegisterHandlers(d *dispatch.Dispatcher) error {
	if err := d.Handle("status", filter.Chain{}, s.status); err != nil {
		return err
	}
	return d.Handle("help", filter.Chain{}, s.help)
}

func (s *Status) status(ctx context.Context, req *dispatch.Request) error {
	d := req.Dispatcher()
	started := d.StartedAt()
	now := s.now()

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s began at %s (%s) and has been alive for %s",
		version.Name, version.String(),
		started.UTC().Format(time.RFC3339),
		humanize.RelTime(started, now, "ago", "from now"),
		now.Sub(started).Round(time.Second))

	if c, ok := d.Capability(GitName); ok {
		if g, ok := c.(*Git); ok {
			rev, err := g.Revision(ctx)
			if err != nil {
				req.Log().Warn().Err(err).Msg("reading revision")
				rev = "unknown"
			}
			fmt.Fprintf(&b, "\nRunning off commit: %s", rev)
		}
	}

	return req.Reply(ctx, b.String())
}

func (s *Status) help(ctx context.Context, req *dispatch.Request) error {
	cmds := req.Dispatcher().Available(req.Invocation)
	names := make([]string, len(cmds))
	for i, c := range cmds {
		names[i] = c.Name
	}
	return req.Reply(ctx, "Commands: "+strings.Join(names, ", "))
}
