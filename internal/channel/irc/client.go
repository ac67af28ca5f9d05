// Package irc implements the IRC command transport using the girc library.
package irc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lrstanley/girc"
	"github.com/soyeahso/cmdbot/internal/config"
	"github.com/soyeahso/cmdbot/internal/domain"
	"github.com/soyeahso/cmdbot/internal/logging"
	"github.com/soyeahso/cmdbot/internal/version"
)

// maxLineLen keeps each PRIVMSG well under the 512 byte protocol limit once
// the prefix and target are added.
const maxLineLen = 400

var (
	errNotConnected = errors.New("irc: not connected")
	errNoTarget     = errors.New("irc: no target specified")
)

// Channel implements domain.Transport for IRC. Channel messages become
// group invocations; direct messages to the bot become private ones.
type Channel struct {
	cfg    config.IRCConfig
	token  string
	prefix string
	client *girc.Client
	log    *logging.Logger

	mu      sync.RWMutex
	handler func(inv domain.Invocation)
	running bool
	lastErr string
}

// New creates an IRC channel from configuration. token is the bot
// credential and prefix the command prefix, e.g. "!".
func New(cfg config.IRCConfig, token, prefix string, log *logging.Logger) *Channel {
	return &Channel{
		cfg:    cfg,
		token:  token,
		prefix: prefix,
		log:    log.Sub("irc"),
	}
}

func (c *Channel) ID() string { return "irc" }

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
		ChannelID: "irc",
		Connected: c.client != nil && c.client.IsConnected(),
		Running:   c.running,
		LastError: c.lastErr,
	}
}

func (c *Channel) port() int {
	switch {
	case c.cfg.Port != 0:
		return c.cfg.Port
	case c.cfg.UseTLS:
		return 6697
	default:
		return 6667
	}
}

func (c *Channel) gircConfig() girc.Config {
	cfg := girc.Config{
		Server:  c.cfg.Server,
		Port:    c.port(),
		Nick:    c.cfg.Nick,
		User:    c.cfg.Nick,
		Name:    version.Name + " command bot",
		SSL:     c.cfg.UseTLS,
		Version: version.Name + "/" + version.Version,
	}
	if c.cfg.UseTLS {
		cfg.TLSConfig = &tls.Config{ServerName: c.cfg.Server}
	}
	switch {
	case c.token == "":
	case c.cfg.SASL:
		cfg.SASL = &girc.SASLPlain{User: c.cfg.Nick, Pass: c.token}
	default:
		cfg.ServerPass = c.token
	}
	return cfg
}

// Start connects to the IRC server and blocks until the connection ends or
// ctx is cancelled.
func (c *Channel) Start(ctx context.Context) error {
	client := girc.New(c.gircConfig())
	client.Handlers.Add(girc.CONNECTED, c.onConnected)
	client.Handlers.Add(girc.PRIVMSG, c.onPrivmsg)
	client.Handlers.Add(girc.DISCONNECTED, c.onDisconnected)

	c.mu.Lock()
	c.client = client
	c.running = true
	c.lastErr = ""
	c.mu.Unlock()

	c.log.Info().
		Str("server", c.cfg.Server).
		Int("port", c.port()).
		Str("nick", c.cfg.Nick).
		Strs("channels", c.cfg.Channels).
		Bool("tls", c.cfg.UseTLS).
		Bool("sasl", c.cfg.SASL).
		Msg("connecting to IRC")

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Connect()
	}()

	select {
	case err := <-errCh:
		c.mu.Lock()
		c.running = false
		if err != nil {
			c.lastErr = err.Error()
		}
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("irc connect: %w", err)
		}
		return nil
	case <-ctx.Done():
		client.Close()
		<-errCh
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Stop gracefully disconnects from the IRC server.
func (c *Channel) Stop(_ context.Context) error {
	c.mu.Lock()
	client := c.client
	c.running = false
	c.mu.Unlock()

	if client != nil && client.IsConnected() {
		c.log.Info().Msg("disconnecting from IRC")
		client.Quit(version.Name + " shutting down")
	}
	return nil
}

// Send delivers a reply to the IRC channel or nick named by msg.ChatID.
// Multi-line bodies are sent one PRIVMSG per line.
func (c *Channel) Send(_ context.Context, msg domain.OutboundMessage) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil || !client.IsConnected() {
		return errNotConnected
	}
	if msg.ChatID == "" {
		return errNoTarget
	}

	lines := splitMessage(msg.Body, maxLineLen)
	for _, line := range lines {
		client.Cmd.Message(msg.ChatID, line)
	}
	c.log.Debug().Str("to", msg.ChatID).Int("lines", len(lines)).Msg("sent IRC message")
	return nil
}

func (c *Channel) onConnected(client *girc.Client, _ girc.Event) {
	c.log.Info().Str("nick", client.GetNick()).Msg("connected to IRC")
	for _, ch := range c.cfg.Channels {
		c.log.Info().Str("channel", ch).Msg("joining channel")
		client.Cmd.Join(ch)
	}
}

func (c *Channel) onDisconnected(_ *girc.Client, _ girc.Event) {
	c.log.Warn().Msg("disconnected from IRC")
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

func (c *Channel) onPrivmsg(client *girc.Client, e girc.Event) {
	c.handlePrivmsg(client.GetNick(), e)
}

// handlePrivmsg turns a PRIVMSG into an invocation when its text carries
// the command prefix. self is the bot's current nick.
func (c *Channel) handlePrivmsg(self string, e girc.Event) {
	if e.Source == nil || len(e.Params) == 0 || strings.EqualFold(e.Source.Name, self) {
		return
	}

	body := e.Last()
	if e.IsAction() {
		return
	}
	name, args, ok := domain.ParseCommand(body, c.prefix)
	if !ok {
		return
	}

	inv := domain.Invocation{
		ID:        uuid.New().String(),
		ChannelID: "irc",
		Command:   name,
		Args:      args,
		SenderID:  e.Source.Name,
		Timestamp: e.Timestamp,
	}
	if e.IsFromChannel() {
		inv.ChatKind = domain.ChatKindGroup
		inv.ChatID = e.Params[0]
	} else {
		inv.ChatKind = domain.ChatKindPrivate
		inv.ChatID = e.Source.Name
	}
	if inv.Timestamp.IsZero() {
		inv.Timestamp = time.Now()
	}

	c.log.Debug().
		Str("nick", inv.SenderID).
		Str("chat", inv.ChatID).
		Str("command", name).
		Msg("command received")

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler != nil {
		handler(inv)
	}
}

// splitMessage breaks a long message into chunks suitable for IRC.
// Each newline in the input produces a separate chunk because IRC
// PRIVMSG does not support embedded newlines. Blank lines are sent as a
// single space so they survive servers that drop empty messages. Lines
// longer than maxLen are further split without breaking a UTF-8 sequence.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			chunks = append(chunks, " ")
			continue
		}
		for len(line) > maxLen {
			cut := maxLen
			for cut > 0 && !isRuneStart(line[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxLen
			}
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		chunks = append(chunks, line)
	}
	return chunks
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
