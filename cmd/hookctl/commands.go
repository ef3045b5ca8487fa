package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/admin"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/app"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/config"
)

// actor is recorded in audit events for CLI-initiated changes
const actor = "hookctl"

func cleanupCmd(opts *rootOptions) *cobra.Command {
	var withArchive bool

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete idle rate limit buckets and purge old ledger rows",
		Long: `Run one maintenance pass:
- delete rate limit buckets untouched for 7 days
- purge webhook ledger rows older than 30 days
- expire cached admin responses

With --archive the rows are uploaded to ARCHIVE_S3_BUCKET as JSONL first,
and a failed upload aborts the purge.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if withArchive && !cfg.ArchiveEnabled() {
				return fmt.Errorf("--archive requires ARCHIVE_S3_BUCKET")
			}

			var appOpts []app.Option
			if !withArchive {
				appOpts = append(appOpts, app.WithoutArchive())
			}

			return opts.withConfig(cmd, cfg, func(ctx context.Context, a *app.App) error {
				report, err := a.Admin.Cleanup(ctx, actor)
				if err != nil {
					return err
				}
				if opts.json {
					return writeJSON(opts.out(cmd), report)
				}
				printMaintenance(opts.out(cmd), report)
				return nil
			}, appOpts...)
		},
	}

	cmd.Flags().BoolVar(&withArchive, "archive", false, "Archive rows to S3 before purging")

	return cmd
}

func statsCmd(opts *rootOptions) *cobra.Command {
	var windowHours int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-source webhook stats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				stats, err := a.Admin.Stats(ctx, windowHours)
				if err != nil {
					return err
				}
				if opts.json {
					return writeJSON(opts.out(cmd), stats)
				}
				printStats(opts.out(cmd), stats)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&windowHours, "window-hours", admin.DefaultWindowHours, "Stats window in hours (1-720)")

	return cmd
}

func healthCmd(opts *rootOptions) *cobra.Command {
	var notify bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Evaluate alert thresholds over the last 24h",
		Long: `Evaluate the alert thresholds and print the report.

Exits 2 when any alert is critical, so cron wrappers can page on it.
With --notify, alerts are also published and posted to ALERT_WEBHOOK_URL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Checker.Check(ctx)
				if err != nil {
					return err
				}

				if opts.json {
					if err := writeJSON(opts.out(cmd), report); err != nil {
						return err
					}
				} else {
					printReport(opts.out(cmd), report)
				}

				if notify {
					if err := a.Checker.Notify(ctx, report); err != nil {
						return fmt.Errorf("notify alerts: %w", err)
					}
				}
				return criticalError(report)
			})
		},
	}

	cmd.Flags().BoolVar(&notify, "notify", false, "Publish and post alerts")

	return cmd
}

func bucketsCmd(opts *rootOptions) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "buckets",
		Short: "List rate limit buckets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				buckets, err := a.Admin.Buckets(ctx, source)
				if err != nil {
					return err
				}
				if opts.json {
					return writeJSON(opts.out(cmd), buckets)
				}
				printBuckets(opts.out(cmd), buckets)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "", "Only buckets of this source")

	return cmd
}

func resetBucketCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-bucket <source> <key>",
		Short: "Delete a bucket so it restarts at full capacity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Admin.ResetBucket(ctx, actor, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(opts.out(cmd), "reset %s/%s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func tokenCmd(opts *rootOptions) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator token for the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if ttl <= 0 {
				ttl = cfg.AdminTokenTTL
			}

			tok, err := issueToken(admin.NewJWTService(cfg.AdminJWTSecret, cfg.AdminJWTIssuer, ttl), subject, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(opts.out(cmd), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Operator identity, e.g. an email")
	cmd.Flags().StringVar(&role, "role", string(admin.RoleViewer), "viewer or operator")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default: ADMIN_TOKEN_TTL)")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}

func issueToken(tokens *admin.JWTService, subject, role string) (string, error) {
	r, err := admin.ParseRole(role)
	if err != nil {
		return "", err
	}
	return tokens.GenerateToken(subject, r)
}
