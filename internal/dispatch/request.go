package dispatch

import (
	"context"
	"fmt"

	"github.com/soyeahso/cmdbot/internal/domain"
	"github.com/soyeahso/cmdbot/internal/logging"
)

// Request is an accepted invocation on its way through a handler.
type Request struct {
	Invocation domain.Invocation

	dispatcher *Dispatcher
	log        *logging.Logger
}

// Args returns the invocation's arguments.
func (r *Request) Args() []string { return r.Invocation.Args }

// Log returns a logger tagged with the invocation ID.
func (r *Request) Log() *logging.Logger { return r.log }

// Dispatcher returns the dispatcher serving the request.
func (r *Request) Dispatcher() *Dispatcher { return r.dispatcher }

// Reply sends text back to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	err := r.dispatcher.transport.Send(ctx, domain.OutboundMessage{
		ChannelID: r.Invocation.ChannelID,
		ChatID:    r.Invocation.ChatID,
		Body:      text,
		ReplyToID: r.Invocation.ID,
	})
	if err != nil {
		return fmt.Errorf("replying to %s: %w", r.Invocation.Command, err)
	}
	return nil
}

// Replyf formats and sends a reply.
func (r *Request) Replyf(ctx context.Context, format string, args ...any) error {
	return r.Reply(ctx, fmt.Sprintf(format, args...))
}
