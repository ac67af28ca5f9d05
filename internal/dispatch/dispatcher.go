// Package dispatch composes capabilities into a command dispatcher.
//
// Capabilities are attached in order, each one getting a chance to append
// predicates to the universal chain. Register then runs a single pass in
// which every capability binds its handlers; each route captures the
// universal chain as it stands at that point, so all attach-time appends are
// visible to every handler regardless of attachment order. Serve seals the
// dispatcher: the route table is read-only from then on.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/cmdbot/internal/config"
	"github.com/soyeahso/cmdbot/internal/domain"
	"github.com/soyeahso/cmdbot/internal/filter"
	"github.com/soyeahso/cmdbot/internal/hooks"
	"github.com/soyeahso/cmdbot/internal/logging"
)

// Sentinel causes carried inside *config.ConfigError.
var (
	ErrAdminUnset          = errors.New("admin identity not set")
	ErrDuplicateCommand    = errors.New("duplicate command")
	ErrDuplicateCapability = errors.New("duplicate capability")
	ErrMissingDependency   = errors.New("missing dependency")
	ErrNotRegistering      = errors.New("not in registration pass")
	ErrSealed              = errors.New("dispatcher is sealed")
)

// Capability is a unit of bot behaviour.
//
// Attach runs when the capability is attached. It may append to the
// universal chain and set up private state, but must not register handlers.
// RegisterHandlers runs once, after every capability has been attached.
type Capability interface {
	Name() string
	Attach(d *Dispatcher) error
	RegisterHandlers(d *Dispatcher) error
}

// Dependent is implemented by capabilities that need other capabilities
// attached alongside them.
type Dependent interface {
	DependsOn() []string
}

// Transport is the slice of the message transport the dispatcher needs.
type Transport interface {
	Send(ctx context.Context, msg domain.OutboundMessage) error
	OnCommand(fn func(domain.Invocation))
}

// HandlerFunc handles one accepted invocation. A returned error is logged
// and reported back to the sender.
type HandlerFunc func(ctx context.Context, req *Request) error

// CommandInfo describes a registered route.
type CommandInfo struct {
	Name       string
	Capability string
	Gate       string
}

type route struct {
	name       string
	capability string
	chain      filter.Chain
	fn         HandlerFunc
}

type phase int

const (
	phaseAttaching phase = iota
	phaseRegistering
	phaseRegistered
	phaseServing
)

// Dispatcher owns the attached capabilities, the universal chain and the
// route table, and runs the serve loop.
type Dispatcher struct {
	transport   Transport
	log         *logging.Logger
	hooks       *hooks.Manager
	now         func() time.Time
	maxInFlight int
	startedAt   time.Time

	mu        sync.Mutex
	phase     phase
	caps      []Capability
	capIndex  map[string]Capability
	universal filter.Chain
	routes    map[string]*route
	order     []string
	current   string

	serveMu sync.RWMutex
	stopped bool
	group   *errgroup.Group
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHooks sets the hook manager that receives command and lifecycle events.
func WithHooks(h *hooks.Manager) Option {
	return func(d *Dispatcher) { d.hooks = h }
}

// WithClock overrides the wall clock used for the start time.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithMaxInFlight bounds the number of handlers running at once.
// Zero means unbounded.
func WithMaxInFlight(n int) Option {
	return func(d *Dispatcher) { d.maxInFlight = n }
}

// New creates a dispatcher bound to a transport. The start time is taken here.
func New(t Transport, log *logging.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transport: t,
		log:       log.Sub("dispatch"),
		now:       time.Now,
		capIndex:  make(map[string]Capability),
		routes:    make(map[string]*route),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.startedAt = d.now()
	return d
}

// StartedAt returns the time the dispatcher was created.
func (d *Dispatcher) StartedAt() time.Time { return d.startedAt }

// Logger returns the dispatcher's logger.
func (d *Dispatcher) Logger() *logging.Logger { return d.log }

// Hooks returns the hook manager, which may be nil.
func (d *Dispatcher) Hooks() *hooks.Manager { return d.hooks }

// Attach attaches capabilities in order, running each one's Attach step.
func (d *Dispatcher) Attach(caps ...Capability) error {
	for _, c := range caps {
		if err := d.attach(c); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) attach(c Capability) error {
	d.mu.Lock()
	if d.phase != phaseAttaching {
		d.mu.Unlock()
		return config.Errorf(ErrSealed, "cannot attach %q after registration", c.Name())
	}
	name := c.Name()
	if _, dup := d.capIndex[name]; dup {
		d.mu.Unlock()
		return config.Errorf(ErrDuplicateCapability, "capability %q attached twice", name)
	}
	d.caps = append(d.caps, c)
	d.capIndex[name] = c
	d.mu.Unlock()

	if err := c.Attach(d); err != nil {
		return wrapConfig(err, "attaching %q", name)
	}
	d.log.Debug().Str("capability", name).Msg("capability attached")
	return nil
}

// AddUniversal appends predicates to the universal chain. Only valid while
// capabilities are being attached.
func (d *Dispatcher) AddUniversal(preds ...filter.Predicate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.phase != phaseAttaching {
		return config.Errorf(ErrSealed, "universal chain is closed")
	}
	d.universal.Append(preds...)
	return nil
}

// Universal returns a copy of the universal chain.
func (d *Dispatcher) Universal() filter.Chain {
	d.mu.Lock()
	defer d.mu.Unlock()
	return filter.NewChain(d.universal.Predicates()...)
}

// Has reports whether a capability with the given name is attached.
func (d *Dispatcher) Has(name string) bool {
	_, ok := d.Capability(name)
	return ok
}

// Capability returns the attached capability with the given name.
func (d *Dispatcher) Capability(name string) (Capability, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.capIndex[name]
	return c, ok
}

// Capabilities returns the attached capability names in attachment order.
func (d *Dispatcher) Capabilities() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, len(d.caps))
	for i, c := range d.caps {
		names[i] = c.Name()
	}
	return names
}

// Register runs the registration pass. Declared dependencies are checked
// first, then each capability registers its handlers in attachment order.
// Register may only run once.
func (d *Dispatcher) Register() error {
	d.mu.Lock()
	if d.phase != phaseAttaching {
		d.mu.Unlock()
		return config.Errorf(ErrSealed, "registration pass already ran")
	}
	for _, c := range d.caps {
		dep, ok := c.(Dependent)
		if !ok {
			continue
		}
		for _, need := range dep.DependsOn() {
			if _, ok := d.capIndex[need]; !ok {
				d.mu.Unlock()
				return config.Errorf(ErrMissingDependency, "capability %q requires %q", c.Name(), need)
			}
		}
	}
	d.phase = phaseRegistering
	caps := append([]Capability(nil), d.caps...)
	d.mu.Unlock()

	for _, c := range caps {
		d.mu.Lock()
		d.current = c.Name()
		d.mu.Unlock()

		if err := c.RegisterHandlers(d); err != nil {
			return wrapConfig(err, "registering %q", c.Name())
		}
	}

	d.mu.Lock()
	d.current = ""
	d.phase = phaseRegistered
	d.mu.Unlock()

	d.log.Info().
		Int("capabilities", len(caps)).
		Int("commands", len(d.order)).
		Str("universal", d.universal.String()).
		Msg("registration pass complete")
	return nil
}

// Handle registers a command handler. The route's gate is the universal
// chain followed by private. Handle is only valid during Register; command
// names are case-insensitive and must be unique.
func (d *Dispatcher) Handle(name string, private filter.Chain, fn HandlerFunc) error {
	name = strings.ToLower(strings.TrimSpace(name))

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.phase != phaseRegistering {
		return config.Errorf(ErrNotRegistering, "command %q registered outside the registration pass", name)
	}
	if name == "" || strings.ContainsAny(name, " \t\r\n") {
		return &config.ConfigError{Message: fmt.Sprintf("invalid command name %q", name)}
	}
	if fn == nil {
		return &config.ConfigError{Message: fmt.Sprintf("command %q has no handler", name)}
	}
	if prev, dup := d.routes[name]; dup {
		return config.Errorf(ErrDuplicateCommand, "command %q registered by %q and %q", name, prev.capability, d.current)
	}

	r := &route{
		name:       name,
		capability: d.current,
		chain:      d.universal.And(private),
		fn:         fn,
	}
	d.routes[name] = r
	d.order = append(d.order, name)

	d.log.Debug().
		Str("command", name).
		Str("capability", r.capability).
		Str("gate", r.chain.String()).
		Msg("command registered")
	return nil
}

// Commands lists registered routes in registration order.
func (d *Dispatcher) Commands() []CommandInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]CommandInfo, 0, len(d.order))
	for _, name := range d.order {
		r := d.routes[name]
		out = append(out, CommandInfo{Name: r.name, Capability: r.capability, Gate: r.chain.String()})
	}
	return out
}

// Available lists the registered routes whose gate accepts inv, so a sender
// only learns about commands it may run.
func (d *Dispatcher) Available(inv domain.Invocation) []CommandInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []CommandInfo
	for _, name := range d.order {
		r := d.routes[name]
		if r.chain.Accept(inv) {
			out = append(out, CommandInfo{Name: r.name, Capability: r.capability, Gate: r.chain.String()})
		}
	}
	return out
}

// Serve seals the dispatcher and handles commands from the transport until
// ctx is cancelled. A failing dispatcher_start hook ends serving at once
// with that error. Serve waits for in-flight handlers before returning.
func (d *Dispatcher) Serve(ctx context.Context) error {
	d.mu.Lock()
	switch d.phase {
	case phaseAttaching, phaseRegistering:
		d.mu.Unlock()
		return config.Errorf(ErrNotRegistering, "serve called before the registration pass")
	case phaseServing:
		d.mu.Unlock()
		return config.Errorf(ErrSealed, "dispatcher already serving")
	}
	d.phase = phaseServing
	d.mu.Unlock()

	group := new(errgroup.Group)
	if d.maxInFlight > 0 {
		group.SetLimit(d.maxInFlight)
	}
	d.serveMu.Lock()
	d.group = group
	d.stopped = false
	d.serveMu.Unlock()

	d.transport.OnCommand(func(inv domain.Invocation) {
		d.dispatch(ctx, inv)
	})

	d.log.Info().Int("commands", len(d.order)).Time("startedAt", d.startedAt).Msg("dispatcher serving")
	startErr := d.hooks.Emit(ctx, hooks.EventDispatcherStart, map[string]any{
		"commands": len(d.order),
	})
	if startErr != nil {
		d.log.Error().Err(startErr).Msg("start hook failed, not serving")
	} else {
		<-ctx.Done()
	}

	d.serveMu.Lock()
	d.stopped = true
	d.serveMu.Unlock()

	err := group.Wait()

	d.hooks.Emit(context.WithoutCancel(ctx), hooks.EventDispatcherStop, nil)
	d.log.Info().Msg("dispatcher stopped")
	if startErr != nil {
		return fmt.Errorf("starting dispatcher: %w", startErr)
	}
	return err
}

// dispatch routes one invocation. Unknown and rejected commands are dropped
// without a reply; accepted ones run on the handler group.
func (d *Dispatcher) dispatch(ctx context.Context, inv domain.Invocation) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	inv.Command = strings.ToLower(inv.Command)

	d.serveMu.RLock()
	defer d.serveMu.RUnlock()
	if d.stopped {
		d.log.Debug().Str("command", inv.Command).Msg("dispatcher stopping, dropping command")
		return
	}

	data := eventData(inv)
	d.hooks.Emit(ctx, hooks.EventCommandReceived, data)

	r, ok := d.routes[inv.Command]
	if !ok {
		d.log.Debug().Str("command", inv.Command).Str("sender", inv.SenderID).Msg("unknown command dropped")
		d.hooks.Emit(ctx, hooks.EventCommandUnknown, data)
		return
	}

	if p := r.chain.Rejecting(inv); p != nil {
		d.log.Debug().
			Str("command", inv.Command).
			Str("sender", inv.SenderID).
			Str("chat", inv.ChatID).
			Str("predicate", p.String()).
			Msg("command rejected")
		rejected := eventData(inv)
		rejected["predicate"] = p.String()
		d.hooks.Emit(ctx, hooks.EventCommandRejected, rejected)
		return
	}

	d.group.Go(func() error {
		d.run(ctx, r, inv)
		return nil
	})
}

func (d *Dispatcher) run(ctx context.Context, r *route, inv domain.Invocation) {
	log := d.log.With("invocation", inv.ID)
	req := &Request{Invocation: inv, dispatcher: d, log: log}
	start := time.Now()

	log.Info().
		Str("command", inv.Command).
		Str("sender", inv.SenderID).
		Str("channel", inv.ChannelID).
		Str("chat", inv.ChatID).
		Msg("handling command")

	err := invoke(ctx, r.fn, req)
	data := eventData(inv)
	data["capability"] = r.capability
	data["duration"] = time.Since(start)

	if err != nil {
		log.Error().Err(err).Str("command", inv.Command).Msg("command failed")
		data["error"] = err.Error()
		d.hooks.Emit(ctx, hooks.EventCommandFailed, data)
		if sendErr := req.Reply(ctx, "error: "+err.Error()); sendErr != nil {
			log.Warn().Err(sendErr).Msg("failed to report command error")
		}
		return
	}

	log.Debug().Str("command", inv.Command).Dur("duration", time.Since(start)).Msg("command handled")
	d.hooks.Emit(ctx, hooks.EventCommandHandled, data)
}

func invoke(ctx context.Context, fn HandlerFunc, req *Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(ctx, req)
}

func eventData(inv domain.Invocation) map[string]any {
	return map[string]any{
		"invocation": inv,
		"command":    inv.Command,
		"sender":     inv.SenderID,
		"channel":    inv.ChannelID,
		"chat":       inv.ChatID,
	}
}

// wrapConfig keeps ConfigErrors intact and wraps anything else in one.
func wrapConfig(err error, format string, args ...any) error {
	var ce *config.ConfigError
	if errors.As(err, &ce) {
		return err
	}
	return config.Errorf(err, format, args...)
}
