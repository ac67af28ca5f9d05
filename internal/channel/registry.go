// Package channel multiplexes message transports behind one command stream.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/soyeahso/cmdbot/internal/domain"
	"github.com/soyeahso/cmdbot/internal/logging"
)

// ErrUnknownChannel is returned by Send for a reply addressed to a transport
// that is not registered.
var ErrUnknownChannel = errors.New("unknown channel")

// Registry fans inbound commands from every transport into one handler and
// routes replies back to the transport they came from.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]domain.Transport
	handler    func(domain.Invocation)
	log        *logging.Logger
	wg         sync.WaitGroup

	running  atomic.Int32
	done     chan struct{}
	doneOnce sync.Once
}

// NewRegistry creates a transport registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		transports: make(map[string]domain.Transport),
		log:        log.Sub("channels"),
		done:       make(chan struct{}),
	}
}

// Register adds a transport to the registry.
func (r *Registry) Register(t domain.Transport) {
	r.mu.Lock()
	r.transports[t.ID()] = t
	r.mu.Unlock()

	id := t.ID()
	t.OnCommand(func(inv domain.Invocation) {
		if inv.ChannelID == "" {
			inv.ChannelID = id
		}
		r.deliver(inv)
	})
	r.log.Info().Str("channel", id).Msg("channel registered")
}

func (r *Registry) deliver(inv domain.Invocation) {
	r.mu.RLock()
	h := r.handler
	r.mu.RUnlock()
	if h == nil {
		r.log.Warn().Str("channel", inv.ChannelID).Str("command", inv.Command).Msg("no command handler, dropping")
		return
	}
	h(inv)
}

// OnCommand sets the handler that receives commands from every transport.
func (r *Registry) OnCommand(fn func(domain.Invocation)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = fn
}

// Send routes msg to the transport named by msg.ChannelID.
func (r *Registry) Send(ctx context.Context, msg domain.OutboundMessage) error {
	t, ok := r.Get(msg.ChannelID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, msg.ChannelID)
	}
	return t.Send(ctx, msg)
}

// Get returns a transport by ID.
func (r *Registry) Get(id string) (domain.Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[id]
	return t, ok
}

// List returns all transport IDs, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.transports))
	for id := range r.transports {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Status returns the status of all registered transports.
func (r *Registry) Status() []domain.TransportStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	statuses := make([]domain.TransportStatus, 0, len(r.transports))
	for _, t := range r.transports {
		if sc, ok := t.(interface{ Status() domain.TransportStatus }); ok {
			statuses = append(statuses, sc.Status())
		} else {
			statuses = append(statuses, domain.TransportStatus{
				ChannelID: t.ID(),
				Running:   true,
			})
		}
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ChannelID < statuses[j].ChannelID })
	return statuses
}

// StartAll starts all registered transports in background goroutines.
// Transport Start methods block (e.g. IRC's Connect), so each is
// launched concurrently to avoid preventing subsequent initialization.
// Done is closed once every transport started here has returned.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.transports) == 0 {
		r.doneOnce.Do(func() { close(r.done) })
		return nil
	}
	r.running.Add(int32(len(r.transports)))
	for id, t := range r.transports {
		r.log.Info().Str("channel", id).Msg("starting channel")
		r.wg.Add(1)
		go func(id string, t domain.Transport) {
			defer r.wg.Done()
			defer r.transportReturned()
			err := t.Start(ctx)
			switch {
			case err != nil && !errors.Is(err, context.Canceled):
				r.log.Error().Err(err).Str("channel", id).Msg("channel exited with error")
			case ctx.Err() == nil:
				r.log.Warn().Str("channel", id).Msg("channel stopped")
			}
		}(id, t)
	}
	return nil
}

func (r *Registry) transportReturned() {
	if r.running.Add(-1) == 0 {
		r.doneOnce.Do(func() { close(r.done) })
	}
}

// Done returns a channel that is closed when no started transport is left
// running, whether they were stopped or failed on their own.
func (r *Registry) Done() <-chan struct{} {
	return r.done
}

// StopAll stops all registered transports and waits for their Start calls
// to return, or for ctx to expire.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.RLock()
	for id, t := range r.transports {
		r.log.Info().Str("channel", id).Msg("stopping channel")
		if err := t.Stop(ctx); err != nil {
			r.log.Error().Err(err).Str("channel", id).Msg("failed to stop channel")
		}
	}
	r.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.log.Warn().Msg("timed out waiting for channels to stop")
	}
}

// Count returns the number of registered transports.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.transports)
}
