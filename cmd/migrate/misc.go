package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lassestilvang/code-migration-autopilot/internal/app"
	"github.com/lassestilvang/code-migration-autopilot/internal/auth"
)

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List the languages available as migration sources and targets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := localConfig()
		catalog, err := app.LoadCatalog(cfg)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tLABEL\tEXTENSIONS")
		for _, l := range catalog.All() {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", l.ID, l.Label, strings.Join(l.Extensions, " "))
		}
		return tw.Flush()
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Sign a bearer token for a migration server",
	Long:  "Sign a bearer token with the server's JWT secret (MIGRATE_JWT_SECRET or JWT_SECRET).",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		admin, _ := cmd.Flags().GetBool("admin")
		token, err := auth.New(viper.GetString("jwt_secret")).GenerateToken(args[0], name, admin, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var logLevelCmd = &cobra.Command{
	Use:   "log-level [level]",
	Short: "Show or change a migration server's log level",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetString("server") == "" {
			return errors.New("log-level needs --server")
		}
		c, shutdown, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer shutdown()

		var level string
		if len(args) == 0 {
			level, err = c.LogLevel(cmd.Context())
		} else {
			level, err = c.SetLogLevel(cmd.Context(), args[0])
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), level)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("name", "", "display name claim")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	tokenCmd.Flags().Bool("admin", false, "allow changing server settings")
}
