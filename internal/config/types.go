package config

import "time"

// Config is the root configuration for the cmdbot worker.
type Config struct {
	Bot      BotConfig      `yaml:"bot,omitempty" toml:"bot"`
	Channels ChannelsConfig `yaml:"channels,omitempty" toml:"channels"`
	System   SystemConfig   `yaml:"system,omitempty" toml:"system"`
	Git      GitConfig      `yaml:"git,omitempty" toml:"git"`
	Store    StoreConfig    `yaml:"store,omitempty" toml:"store"`
	Dispatch DispatchConfig `yaml:"dispatch,omitempty" toml:"dispatch"`
	Logging  LoggingConfig  `yaml:"logging,omitempty" toml:"logging"`
}

// BotConfig holds the bot identity and credentials.
type BotConfig struct {
	Name          string `yaml:"name,omitempty" toml:"name"`
	Token         string `yaml:"token,omitempty" toml:"token"`       // credential, may be ${ENV_VAR}
	TokenEnv      string `yaml:"tokenEnv,omitempty" toml:"tokenEnv"` // env var consulted when token is empty
	AdminID       string `yaml:"adminId,omitempty" toml:"adminId"`
	CommandPrefix string `yaml:"commandPrefix,omitempty" toml:"commandPrefix"`
}

// ChannelsConfig selects and configures the message transports.
type ChannelsConfig struct {
	IRC       *IRCConfig       `yaml:"irc,omitempty" toml:"irc"`
	WebSocket *WebSocketConfig `yaml:"websocket,omitempty" toml:"websocket"`
	Console   *ConsoleConfig   `yaml:"console,omitempty" toml:"console"`
}

// IRCConfig defines IRC transport settings. The bot credential is sent as
// the server password, or as the SASL password when SASL is enabled.
type IRCConfig struct {
	Server   string   `yaml:"server" toml:"server"`
	Port     int      `yaml:"port,omitempty" toml:"port"`
	Nick     string   `yaml:"nick" toml:"nick"`
	Channels []string `yaml:"channels" toml:"channels"`
	UseTLS   bool     `yaml:"useTLS,omitempty" toml:"useTLS"`
	SASL     bool     `yaml:"sasl,omitempty" toml:"sasl"`
}

// WebSocketConfig defines the WebSocket transport. Clients authenticate
// with the bot credential.
type WebSocketConfig struct {
	Bind           string   `yaml:"bind,omitempty" toml:"bind"` // host, default 127.0.0.1
	Port           int      `yaml:"port,omitempty" toml:"port"`
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty" toml:"allowedOrigins"`
}

// ConsoleConfig enables the stdin transport.
type ConsoleConfig struct {
	Enabled bool   `yaml:"enabled,omitempty" toml:"enabled"`
	Sender  string `yaml:"sender,omitempty" toml:"sender"` // sender id for every console line
}

// SystemConfig controls the execute capability.
type SystemConfig struct {
	Enabled     bool   `yaml:"enabled,omitempty" toml:"enabled"`
	Shell       string `yaml:"shell,omitempty" toml:"shell"`
	TimeoutSecs int    `yaml:"timeoutSeconds,omitempty" toml:"timeoutSeconds"`
	MaxOutput   int    `yaml:"maxOutput,omitempty" toml:"maxOutput"`
	PrivateOnly *bool  `yaml:"privateOnly,omitempty" toml:"privateOnly"` // defaults to true
}

// Timeout returns the execute timeout.
func (c SystemConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// IsPrivateOnly reports whether execute is restricted to private chats.
func (c SystemConfig) IsPrivateOnly() bool {
	if c.PrivateOnly == nil {
		return true
	}
	return *c.PrivateOnly
}

// GitConfig controls the git capability.
type GitConfig struct {
	Enabled     bool   `yaml:"enabled,omitempty" toml:"enabled"`
	Dir         string `yaml:"dir,omitempty" toml:"dir"`
	Remote      string `yaml:"remote,omitempty" toml:"remote"` // may embed ${GITUSER}/${GITTOKEN}
	Branch      string `yaml:"branch,omitempty" toml:"branch"`
	TimeoutSecs int    `yaml:"timeoutSeconds,omitempty" toml:"timeoutSeconds"`
}

// Timeout returns the per-command git timeout.
func (c GitConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// StoreConfig controls the audit journal.
type StoreConfig struct {
	Path    string `yaml:"path,omitempty" toml:"path"` // ":memory:" keeps nothing across restarts
	History int    `yaml:"history,omitempty" toml:"history"`
}

// DispatchConfig tunes the serve loop.
type DispatchConfig struct {
	MaxInFlight int `yaml:"maxInFlight,omitempty" toml:"maxInFlight"` // 0 means unlimited
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty" toml:"level"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty" toml:"file"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty" toml:"consoleStyle"` // "pretty" | "json"
}
