// Command hookctl runs hookgate maintenance and inspection tasks from cron
// or a shell.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/app"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/config"
)

var Version = "dev"

// Exit codes
const (
	exitError    = 1
	exitCritical = 2
)

// exitCodeError carries a non-default process exit code
type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string { return e.msg }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var coded *exitCodeError
	if errors.As(err, &coded) {
		return coded.code
	}
	return exitError
}

type rootOptions struct {
	verbose bool
	json    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "hookctl",
		Short:         "hookctl - operate the hookgate webhook admission gate",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log at debug level")
	rootCmd.PersistentFlags().BoolVarP(&opts.json, "json", "j", false, "Output as JSON")

	rootCmd.AddCommand(cleanupCmd(opts))
	rootCmd.AddCommand(statsCmd(opts))
	rootCmd.AddCommand(healthCmd(opts))
	rootCmd.AddCommand(bucketsCmd(opts))
	rootCmd.AddCommand(resetBucketCmd(opts))
	rootCmd.AddCommand(tokenCmd(opts))

	return rootCmd
}

// logger writes to stderr so command output stays parseable
func (o *rootOptions) logger(env string) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return config.NewLoggerWithOptions(env, config.LoggerOptions{Output: os.Stderr, Level: level})
}

// withApp loads config, wires the gate components and runs fn
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error, appOpts ...app.Option) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return o.withConfig(cmd, cfg, fn, appOpts...)
}

func (o *rootOptions) withConfig(cmd *cobra.Command, cfg *config.Config, fn func(ctx context.Context, a *app.App) error, appOpts ...app.Option) error {
	ctx := cmd.Context()

	a, err := app.New(ctx, cfg, o.logger(cfg.Environment), appOpts...)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func (o *rootOptions) out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
