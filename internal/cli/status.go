package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/soyeahso/cmdbot/internal/config"
	"github.com/soyeahso/cmdbot/internal/store"
	"github.com/soyeahso/cmdbot/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show cmdbot configuration summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n\n", version.Name, version.String())

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(out)

			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(out, "Config:  not found (using defaults)")
			}
			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}

			fmt.Fprintf(out, "Bot:     name=%s prefix=%q\n", cfg.Bot.Name, cfg.Bot.CommandPrefix)
			if cfg.Bot.AdminID != "" {
				fmt.Fprintf(out, "Admin:   %s\n", cfg.Bot.AdminID)
			} else {
				fmt.Fprintln(out, "Admin:   (not set, run will fail)")
			}
			if _, err := config.ResolveToken(cfg.Bot); err != nil {
				fmt.Fprintf(out, "Token:   missing (%v)\n", err)
			} else {
				fmt.Fprintln(out, "Token:   present")
			}

			if irc := cfg.Channels.IRC; irc != nil {
				fmt.Fprintf(out, "IRC:     server=%s nick=%s channels=%s tls=%v sasl=%v\n",
					irc.Server, irc.Nick, strings.Join(irc.Channels, ","), irc.UseTLS, irc.SASL)
			} else {
				fmt.Fprintln(out, "IRC:     (not configured)")
			}
			if ws := cfg.Channels.WebSocket; ws != nil {
				fmt.Fprintf(out, "WS:      bind=%s port=%d\n", ws.Bind, ws.Port)
			}
			if c := cfg.Channels.Console; c != nil && c.Enabled {
				fmt.Fprintf(out, "Console: sender=%s\n", c.Sender)
			}

			if cfg.System.Enabled {
				fmt.Fprintf(out, "System:  shell=%s timeout=%s privateOnly=%v\n",
					cfg.System.Shell, cfg.System.Timeout(), cfg.System.IsPrivateOnly())
			}
			if cfg.Git.Enabled {
				fmt.Fprintf(out, "Git:     dir=%s branch=%s\n", cfg.Git.Dir, cfg.Git.Branch)
			}

			path := storePath(cfg.Store.Path)
			fmt.Fprintf(out, "Store:   %s\n", path)
			if path != store.MemoryPath {
				if _, err := os.Stat(path); err == nil {
					if n, schema, err := inspectStore(cmd, path); err == nil {
						fmt.Fprintf(out, "         schema v%d, %d commands recorded\n", schema, n)
					} else {
						fmt.Fprintf(out, "         unreadable: %v\n", err)
					}
				}
			}

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}
			return nil
		},
	}
}

func inspectStore(cmd *cobra.Command, path string) (count, schema int, err error) {
	db, err := store.Open(path, log)
	if err != nil {
		return 0, 0, err
	}
	defer db.Close()
	if schema, err = db.SchemaVersion(); err != nil {
		return 0, 0, err
	}
	count, err = store.NewAuditStore(db).Count(cmd.Context(), "")
	return count, schema, err
}
