package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/medtwin-core/internal/auth"
	"github.com/nerrad567/medtwin-core/internal/infrastructure/database"
)

// =============================================================================
// migrate
// =============================================================================

func newMigrateCommand(opts *rootOptions, out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQLite schema",
	}

	withDB := func(fn func(cmd *cobra.Command, db *database.DB) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			db, err := database.Open(database.ConfigFrom(cfg.Database))
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close() //nolint:errcheck // read-only shutdown path
			return fn(cmd, db)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, db *database.DB) error {
				if err := db.Migrate(cmd.Context()); err != nil {
					return fmt.Errorf("running migrations: %w", err)
				}
				fmt.Fprintln(out, "migrations applied")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, db *database.DB) error {
				if err := db.MigrateDown(cmd.Context()); err != nil {
					return fmt.Errorf("rolling back migration: %w", err)
				}
				fmt.Fprintln(out, "latest migration rolled back")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, db *database.DB) error {
				applied, pending, err := db.GetMigrationStatus(cmd.Context())
				if err != nil {
					return fmt.Errorf("reading migration status: %w", err)
				}
				for _, m := range applied {
					fmt.Fprintf(out, "applied  %s  %s\n", m.Version, m.AppliedAt.Format(time.RFC3339))
				}
				for _, m := range pending {
					fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
				}
				return nil
			}),
		},
	)
	return cmd
}

// =============================================================================
// check
// =============================================================================

// newCheckCommand validates the configuration without connecting to
// anything. Load already runs Validate.
func newCheckCommand(opts *rootOptions, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, path, err := opts.load()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: ok\n", path)
			fmt.Fprintf(out, "  fleet:         %s (%s)\n", cfg.Fleet.ID, cfg.Location())
			fmt.Fprintf(out, "  store:         %s\n", cfg.Store.Driver)
			fmt.Fprintf(out, "  mqtt:          %s:%d\n", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port)
			fmt.Fprintf(out, "  notifications: %s\n", cfg.Notifications.Transport)
			fmt.Fprintf(out, "  scheduler:     enabled=%t interval=%s\n", cfg.Scheduler.Enabled, cfg.SchedulerInterval())
			return nil
		},
	}
}

// =============================================================================
// token
// =============================================================================

// newTokenCommand issues an API bearer token signed with the configured
// secret. Accounts live with the identity provider; this is for
// operators' consoles and local testing.
func newTokenCommand(opts *rootOptions, out io.Writer) *cobra.Command {
	var (
		userID     string
		operatorID string
		ttl        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API access token",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
			}
			tok, err := auth.IssueToken(userID, operatorID, cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return fmt.Errorf("issuing token: %w", err)
			}
			fmt.Fprintln(out, tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id placed in the subject claim")
	cmd.Flags().StringVar(&operatorID, "operator", "", "operator id for notifications (defaults to the user id)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to security.jwt.access_token_ttl)")
	return cmd
}
