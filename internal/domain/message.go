package domain

import (
	"strings"
	"time"
)

// ChatKind classifies the conversation a command was issued in.
type ChatKind string

const (
	ChatKindPrivate ChatKind = "private"
	ChatKindGroup   ChatKind = "group"
)

// Invocation is a single command received from a transport.
type Invocation struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channelId"`
	Command   string    `json:"command"`
	Args      []string  `json:"args,omitempty"`
	SenderID  string    `json:"senderId"`
	ChatKind  ChatKind  `json:"chatKind"`
	ChatID    string    `json:"chatId"`
	Timestamp time.Time `json:"timestamp"`
}

// ArgString returns the arguments joined by single spaces.
func (inv Invocation) ArgString() string {
	return strings.Join(inv.Args, " ")
}

// OutboundMessage is a reply to be delivered through a transport.
type OutboundMessage struct {
	ChannelID string `json:"channelId"`
	ChatID    string `json:"chatId"`
	Body      string `json:"body"`
	ReplyToID string `json:"replyToId,omitempty"`
}

// ParseCommand splits a line such as "!execute echo hi" into a command name
// and its arguments. The prefix must be present; ok is false otherwise or
// when no command name follows it. Names are lowercased and a trailing
// "@botname" suffix is dropped.
func ParseCommand(line, prefix string) (name string, args []string, ok bool) {
	line = strings.TrimSpace(line)
	if prefix == "" || !strings.HasPrefix(line, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(line[len(prefix):])
	if len(fields) == 0 {
		return "", nil, false
	}
	name, _, _ = strings.Cut(fields[0], "@")
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}
