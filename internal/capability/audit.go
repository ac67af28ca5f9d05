package capability

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/soyeahso/cmdbot/internal/config"
	"github.com/soyeahso/cmdbot/internal/dispatch"
	"github.com/soyeahso/cmdbot/internal/domain"
	"github.com/soyeahso/cmdbot/internal/hooks"
	"github.com/soyeahso/cmdbot/internal/store"
)

const auditHook = "audit"

// Audit journals every command the dispatcher disposes of and lets the
// admin read the journal back with history.
type Audit struct {
	requiresAdmin
	store   *store.AuditStore
	history int
}

// NewAudit creates the audit capability. history is the default number of
// entries shown by the history command.
func NewAudit(s *store.AuditStore, history int) *Audit {
	if history <= 0 {
		history = 10
	}
	return &Audit{store: s, history: history}
}

func (a *Audit) Name() string { return AuditName }

// Attach subscribes to the dispatcher's command events.
func (a *Audit) Attach(d *dispatch.Dispatcher) error {
	h := d.Hooks()
	if h == nil {
		return &config.ConfigError{Message: "audit needs a hook manager"}
	}
	outcomes := map[string]store.Outcome{
		hooks.EventCommandHandled:  store.OutcomeHandled,
		hooks.EventCommandFailed:   store.OutcomeFailed,
		hooks.EventCommandRejected: store.OutcomeRejected,
		hooks.EventCommandUnknown:  store.OutcomeUnknown,
	}
	log := d.Logger()
	for event, outcome := range outcomes {
		h.On(event, auditHook, func(ctx context.Context, p hooks.Payload) error {
			inv, ok := p.Data["invocation"].(domain.Invocation)
			if !ok {
				return fmt.Errorf("%s event without invocation", p.Event)
			}
			detail, _ := p.Data["error"].(string)
			if pred, ok := p.Data["predicate"].(string); ok {
				detail = pred
			}
			if err := a.store.Record(context.WithoutCancel(ctx), inv, outcome, detail); err != nil {
				log.Warn().Err(err).Str("command", inv.Command).Msg("audit record failed")
				return err
			}
			return nil
		})
	}
	return nil
}

func (a *Audit) RegisterHandlers(d *dispatch.Dispatcher) error {
	gate, err := adminGate(d, AuditName)
	if err != nil {
		return err
	}
	return d.Handle("history", gate, a.showHistory)
}

func (a *Audit) showHistory(ctx context.Context, req *dispatch.Request) error {
	n := a.history
	if args := req.Args(); len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 || v > 100 {
			return req.Reply(ctx, "usage: history [1-100]")
		}
		n = v
	}

	entries, err := a.store.Recent(ctx, n)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return req.Reply(ctx, "No commands recorded.")
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, formatEntry(e))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func formatEntry(e store.Entry) string {
	inv := e.Invocation
	line := fmt.Sprintf("#%d %s %s@%s: %s", e.ID, humanize.Time(inv.Timestamp), inv.SenderID, inv.ChannelID, inv.Command)
	if len(inv.Args) > 0 {
		line += " " + inv.ArgString()
	}
	line += " [" + string(e.Outcome)
	if e.Detail != "" {
		line += ": " + e.Detail
	}
	return line + "]"
}
