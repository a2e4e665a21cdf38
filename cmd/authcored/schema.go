package main

import (
	"github.com/spf13/cobra"

	"github.com/kestrelhq/authcore/postgres"
)

func newSchemaCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage the PostgreSQL schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "apply",
		Short: "Create missing tables and seed the built-in permissions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSchemaApply(cmd, opts)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.Print(postgres.Schema)
			return nil
		},
	})
	return cmd
}

func runSchemaApply(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := loadConfig(opts.configFile, cmd.Flags())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	pool, err := openPostgres(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()

	cmd.Println("Applying schema...")
	if err := postgres.ApplySchema(ctx, pool); err != nil {
		return err
	}
	if err := postgres.NewGrantStore(pool).SeedCatalog(ctx); err != nil {
		return err
	}
	cmd.Println("Schema applied successfully")
	return nil
}
