package main

import (
	"github.com/spf13/cobra"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configFile string
}

// NewRootCmd creates the root command for the authcored CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	defaults := defaultAppConfig()

	cmd := &cobra.Command{
		Use:   "authcored",
		Short: "authcore authentication service",
		Long: `authcored runs the authcore engine behind an HTTP API backed by
PostgreSQL and Redis, and manages the schema and permission grants.`,
		SilenceUsage: true,
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.configFile, "config", "", "config file path (yaml)")
	f.String("http.addr", defaults.HTTP.Addr, "HTTP listen address")
	f.String("postgres.dsn", defaults.Postgres.DSN, "PostgreSQL connection string")
	f.String("redis.addr", defaults.Redis.Addr, "Redis address")
	f.Bool("redis.embedded", defaults.Redis.Embedded, "run an in-process Redis for development")
	f.String("token_store", defaults.TokenStore, "token backend: redis or postgres")
	f.String("log.level", defaults.Log.Level, "log level: debug, info, warn, error")
	f.String("log.format", defaults.Log.Format, "log format: text or json")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newSchemaCmd(opts))
	cmd.AddCommand(newGrantCmd(opts))
	cmd.AddCommand(newKeygenCmd())
	cmd.AddCommand(newLoadtestCmd(opts))
	cmd.AddCommand(newCheckConfigCmd(opts))

	return cmd
}
