// Package console implements a line-oriented command transport over a
// reader and writer, normally stdin and stdout.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/cmdbot/internal/config"
	"github.com/soyeahso/cmdbot/internal/domain"
	"github.com/soyeahso/cmdbot/internal/logging"
)

// DefaultSender is the sender ID used when none is configured.
const DefaultSender = "console"

// Channel reads one command per line. The prefix is optional on the
// console. Every line comes from the configured sender in a private chat.
type Channel struct {
	sender string
	prefix string
	in     io.Reader
	log    *logging.Logger

	outMu sync.Mutex
	out   io.Writer

	mu      sync.RWMutex
	handler func(inv domain.Invocation)
	running bool
	lastErr string
}

// New creates a console transport reading from in and replying to out.
func New(cfg config.ConsoleConfig, prefix string, in io.Reader, out io.Writer, log *logging.Logger) *Channel {
	sender := cfg.Sender
	if sender == "" {
		sender = DefaultSender
	}
	return &Channel{
		sender: sender,
		prefix: prefix,
		in:     in,
		out:    out,
		log:    log.Sub("console"),
	}
}

func (c *Channel) ID() string { return "console" }

func (c *Channel) OnCommand(handler func(inv domain.Invocation)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Status returns the current runtime status.
func (c *Channel) Status() domain.TransportStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.TransportStatus{
		ChannelID: "console",
		Connected: c.running,
		Running:   c.running,
		LastError: c.lastErr,
	}
}

// Start reads lines until the input ends or ctx is cancelled. A read
// blocked on the input is abandoned on cancellation.
func (c *Channel) Start(ctx context.Context) error {
	c.setRunning(true, "")
	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errCh <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			c.setRunning(false, "")
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if ctx.Err() != nil {
					c.setRunning(false, "")
					return ctx.Err()
				}
				var err error
				select {
				case err = <-errCh:
				default:
				}
				if err != nil {
					c.setRunning(false, err.Error())
					return fmt.Errorf("console read: %w", err)
				}
				c.setRunning(false, "")
				c.log.Info().Msg("console input closed")
				return nil
			}
			c.handleLine(line)
		}
	}
}

// Stop is a no-op; Start returns when its context is cancelled.
func (c *Channel) Stop(_ context.Context) error { return nil }

// Send writes the reply body followed by a newline.
func (c *Channel) Send(_ context.Context, msg domain.OutboundMessage) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, err := io.WriteString(c.out, strings.TrimRight(msg.Body, "\n")+"\n")
	return err
}

func (c *Channel) handleLine(line string) {
	inv, ok := c.parse(line)
	if !ok {
		return
	}
	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler != nil {
		handler(inv)
	}
}

func (c *Channel) parse(line string) (domain.Invocation, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return domain.Invocation{}, false
	}
	if !strings.HasPrefix(line, c.prefix) {
		line = c.prefix + line
	}
	name, args, ok := domain.ParseCommand(line, c.prefix)
	if !ok {
		return domain.Invocation{}, false
	}
	return domain.Invocation{
		ID:        uuid.New().String(),
		ChannelID: "console",
		Command:   name,
		Args:      args,
		SenderID:  c.sender,
		ChatKind:  domain.ChatKindPrivate,
		ChatID:    c.sender,
		Timestamp: time.Now(),
	}, true
}

func (c *Channel) setRunning(running bool, lastErr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = running
	c.lastErr = lastErr
}
