package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

var (
	validLogLevels     = []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	validConsoleStyles = []string{"pretty", "json"}
)

type issues []ValidationIssue

func (is *issues) add(path, format string, args ...any) {
	*is = append(*is, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (is *issues) nonNegative(path string, v int) {
	if v < 0 {
		is.add(path, "must not be negative, got %d", v)
	}
}

func (is *issues) oneOf(path, v string, valid []string) {
	if v != "" && !slices.Contains(valid, v) {
		is.add(path, "must be one of %v, got %q", valid, v)
	}
}

func (is *issues) port(path string, v int) {
	if v < 0 || v > 65535 {
		is.add(path, "port must be 0-65535, got %d", v)
	}
}

// Validate checks a Config for issues. Returns nil if valid.
// The credential and admin identity are checked where they are consumed,
// so that a missing value surfaces as a ConfigError at startup.
func Validate(cfg *Config) []ValidationIssue {
	var is issues

	if strings.ContainsAny(cfg.Bot.CommandPrefix, " \t\r\n") {
		is.add("bot.commandPrefix", "must not contain whitespace")
	}

	is.oneOf("logging.level", cfg.Logging.Level, validLogLevels)
	is.oneOf("logging.consoleStyle", cfg.Logging.ConsoleStyle, validConsoleStyles)

	is.nonNegative("system.timeoutSeconds", cfg.System.TimeoutSecs)
	is.nonNegative("system.maxOutput", cfg.System.MaxOutput)
	is.nonNegative("git.timeoutSeconds", cfg.Git.TimeoutSecs)
	is.nonNegative("store.history", cfg.Store.History)
	is.nonNegative("dispatch.maxInFlight", cfg.Dispatch.MaxInFlight)

	ch := cfg.Channels
	if irc := ch.IRC; irc != nil {
		if irc.Server == "" {
			is.add("channels.irc.server", "server is required")
		}
		if irc.Nick == "" {
			is.add("channels.irc.nick", "nick is required")
		}
		is.port("channels.irc.port", irc.Port)
	}
	if ws := ch.WebSocket; ws != nil {
		is.port("channels.websocket.port", ws.Port)
	}
	if ch.IRC == nil && ch.WebSocket == nil && (ch.Console == nil || !ch.Console.Enabled) {
		is.add("channels", "at least one transport (irc, websocket, console) must be configured")
	}

	if len(is) == 0 {
		return nil
	}
	return is
}
