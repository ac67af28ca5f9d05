package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/soyeahso/cmdbot/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and edit the config file",
		Long: "Keys are dotted paths into the config file, e.g. bot.adminId or\n" +
			"channels.irc.nick. Edits keep the file's format (YAML or TOML).",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print a configuration value",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				key, raw, err := loadKey(args[0])
				if err != nil {
					return err
				}
				v, ok := key.Get(raw)
				if !ok {
					return fmt.Errorf("key %q not found", key)
				}
				return printValue(cmd.OutOrStdout(), v)
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Set a configuration value",
			Long:  "Set a value. true/false become booleans and numbers become numbers.",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				value := parseValue(args[1])
				return editConfig(cmd.OutOrStdout(), args[0], func(key config.KeyPath, raw map[string]any) (string, error) {
					key.Set(raw, value)
					return fmt.Sprintf("Set %s = %v", key, value), nil
				})
			},
		},
		&cobra.Command{
			Use:   "unset <key>",
			Short: "Remove a configuration value",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return editConfig(cmd.OutOrStdout(), args[0], func(key config.KeyPath, raw map[string]any) (string, error) {
					if !key.Unset(raw) {
						return "", fmt.Errorf("key %q not found", key)
					}
					return "Unset " + key.String(), nil
				})
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file path",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), paths.Config)
			},
		},
	)
	return cmd
}

func loadKey(s string) (config.KeyPath, map[string]any, error) {
	key, err := config.ParseKeyPath(s)
	if err != nil {
		return nil, nil, err
	}
	raw, err := config.LoadRaw(paths.Config)
	if err != nil {
		return nil, nil, err
	}
	return key, raw, nil
}

// editConfig applies edit to the raw config, writes it back, and reports
// validation issues the edit introduced. Nothing is written when edit fails.
func editConfig(w io.Writer, s string, edit func(config.KeyPath, map[string]any) (string, error)) error {
	key, raw, err := loadKey(s)
	if err != nil {
		return err
	}
	msg, err := edit(key, raw)
	if err != nil {
		return err
	}

	if err := paths.EnsureDirs(); err != nil {
		return err
	}
	if err := config.SaveRaw(paths.Config, raw); err != nil {
		return err
	}
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return fmt.Errorf("config no longer loads after edit: %w", err)
	}
	fmt.Fprintln(w, msg)
	for _, issue := range config.Validate(&cfg) {
		fmt.Fprintf(w, "warning: %s\n", issue)
	}
	return nil
}

// printValue prints sections as YAML and scalars as-is.
func printValue(w io.Writer, v any) error {
	switch v.(type) {
	case map[string]any, []any:
		out, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	}
	_, err := fmt.Fprintln(w, v)
	return err
}

// parseValue interprets a command-line string as a bool, integer, float or
// plain string, in that order.
func parseValue(s string) any {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
