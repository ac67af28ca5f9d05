package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Bot.Token = expandEnvVars(cfg.Bot.Token)
	cfg.Git.Remote = expandEnvVars(cfg.Git.Remote)
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func unmarshal(path string, data []byte, v any) error {
	if isTOML(path) {
		return toml.Unmarshal(data, v)
	}
	return yaml.Unmarshal(data, v)
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := unmarshal(path, data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config", Err: err}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := unmarshal(path, data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config", Err: err}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to the config file in its own format.
func SaveRaw(path string, raw map[string]any) error {
	var (
		data []byte
		err  error
	)
	if isTOML(path) {
		data, err = toml.Marshal(raw)
	} else {
		data, err = yaml.Marshal(raw)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	def := Defaults()
	if cfg.Bot.Name == "" {
		cfg.Bot.Name = def.Bot.Name
	}
	if cfg.Bot.TokenEnv == "" {
		cfg.Bot.TokenEnv = def.Bot.TokenEnv
	}
	if cfg.Bot.CommandPrefix == "" {
		cfg.Bot.CommandPrefix = def.Bot.CommandPrefix
	}
	if cfg.System.Shell == "" {
		cfg.System.Shell = def.System.Shell
	}
	if cfg.System.TimeoutSecs == 0 {
		cfg.System.TimeoutSecs = def.System.TimeoutSecs
	}
	if cfg.System.MaxOutput == 0 {
		cfg.System.MaxOutput = def.System.MaxOutput
	}
	if cfg.Git.Dir == "" {
		cfg.Git.Dir = def.Git.Dir
	}
	if cfg.Git.TimeoutSecs == 0 {
		cfg.Git.TimeoutSecs = def.Git.TimeoutSecs
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = def.Store.Path
	}
	if cfg.Store.History == 0 {
		cfg.Store.History = def.Store.History
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = def.Logging.ConsoleStyle
	}
	if ws := cfg.Channels.WebSocket; ws != nil {
		if ws.Bind == "" {
			ws.Bind = "127.0.0.1"
		}
		if ws.Port == 0 {
			ws.Port = DefaultWebSocketPort
		}
	}
}

// applyEnvOverrides reads CMDBOT_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CMDBOT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("CMDBOT_ADMIN_ID"); v != "" {
		cfg.Bot.AdminID = v
	}
	if v := os.Getenv("CMDBOT_TOKEN_ENV"); v != "" {
		cfg.Bot.TokenEnv = v
	}
}

// ResolveToken returns the bot credential: the configured token if set,
// otherwise the value of the environment variable named by TokenEnv.
// A missing credential is a configuration error.
func ResolveToken(bot BotConfig) (string, error) {
	if bot.Token != "" && !envVarPattern.MatchString(bot.Token) {
		return bot.Token, nil
	}
	name := bot.TokenEnv
	if name == "" {
		name = DefaultTokenEnv
	}
	if v := os.Getenv(name); v != "" {
		return v, nil
	}
	return "", &ConfigError{Message: "missing bot credential: set bot.token or $" + name}
}
