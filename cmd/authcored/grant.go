package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kestrelhq/authcore/permission"
	"github.com/kestrelhq/authcore/postgres"
)

func newGrantCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Manage roles and permission grants",
	}

	var perms []string
	define := &cobra.Command{
		Use:   "define-role <role-id> <name>",
		Short: "Create or replace a role and its permissions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role := permission.Role{ID: args[0], Name: args[1]}
			for _, p := range perms {
				role.Permissions = append(role.Permissions, permission.Permission{ID: p})
			}
			return withGrantStore(cmd, opts, func(ctx context.Context, s *postgres.GrantStore) error {
				return s.UpsertRole(ctx, role)
			})
		},
	}
	define.Flags().StringSliceVar(&perms, "permission", nil, "permission id held by the role (repeatable)")

	cmd.AddCommand(define)
	cmd.AddCommand(&cobra.Command{
		Use:   "role <user-id> <role-id>",
		Short: "Assign a role to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGrantStore(cmd, opts, func(ctx context.Context, s *postgres.GrantStore) error {
				return s.GrantRole(ctx, args[0], args[1])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "permission <user-id> <permission-id>",
		Short: "Assign a permission to a user directly",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGrantStore(cmd, opts, func(ctx context.Context, s *postgres.GrantStore) error {
				return s.GrantPermission(ctx, args[0], args[1])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "revoke-role <user-id> <role-id>",
		Short: "Remove a role from a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGrantStore(cmd, opts, func(ctx context.Context, s *postgres.GrantStore) error {
				removed, err := s.RevokeRole(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				printRevoked(cmd, removed, "role", args[1], args[0])
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "revoke-permission <user-id> <permission-id>",
		Short: "Remove a direct permission grant from a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGrantStore(cmd, opts, func(ctx context.Context, s *postgres.GrantStore) error {
				removed, err := s.RevokePermission(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				printRevoked(cmd, removed, "permission", args[1], args[0])
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <user-id>",
		Short: "Print a user's resolved permissions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGrantStore(cmd, opts, func(ctx context.Context, s *postgres.GrantStore) error {
				resolved, err := permission.NewResolver(s).Resolve(ctx, args[0])
				if err != nil {
					return err
				}
				for _, g := range resolved.Permissions {
					source := "direct"
					if !g.Direct() {
						source = "role " + g.RoleID
					}
					cmd.Printf("%s\t%s\n", g.Name, source)
				}
				return nil
			})
		},
	})
	return cmd
}

func withGrantStore(cmd *cobra.Command, opts *rootOptions, fn func(context.Context, *postgres.GrantStore) error) error {
	cfg, err := loadConfig(opts.configFile, cmd.Flags())
	if err != nil {
		return err
	}
	pool, err := openPostgres(cmd.Context(), cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(cmd.Context(), postgres.NewGrantStore(pool))
}

func printRevoked(cmd *cobra.Command, removed bool, kind, id, userID string) {
	if removed {
		cmd.Printf("revoked %s %s from %s\n", kind, id, userID)
		return
	}
	cmd.Printf("%s %s was not granted to %s\n", kind, id, userID)
}
