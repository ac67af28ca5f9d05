package config

import "fmt"

// ConfigError represents a configuration error. It is fatal: the worker
// exits nonzero before serving and the supervisor relaunches it.
type ConfigError struct {
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("config: %s", e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Errorf returns a ConfigError wrapping err with a formatted message.
func Errorf(err error, format string, args ...any) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...), Err: err}
}

const (
	DefaultTokenEnv      = "CMDBOT_TOKEN"
	DefaultCommandPrefix = "!"
	DefaultWebSocketPort = 18790
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Bot: BotConfig{
			Name:          "cmdbot",
			TokenEnv:      DefaultTokenEnv,
			CommandPrefix: DefaultCommandPrefix,
		},
		System: SystemConfig{
			Enabled:     true,
			Shell:       "/bin/sh",
			TimeoutSecs: 60,
			MaxOutput:   2000,
		},
		Git: GitConfig{
			Enabled:     true,
			Dir:         ".",
			TimeoutSecs: 120,
		},
		Store: StoreConfig{
			Path:    ":memory:",
			History: 10,
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
}
