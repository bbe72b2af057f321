package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yungbote/lexicon-backend/internal/app"
)

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lexicon",
		Short:         "LLM batch jobs and reviewed write-back for the lexical database",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.Version = Version
	cmd.AddCommand(
		newServeCmd(),
		newPollCmd(),
		newWorkerCmd(),
		newMigrateCmd(),
	)
	return cmd
}

// withApp builds the app for mode, runs fn and tears everything down.
func withApp(ctx context.Context, mode app.Mode, fn func(*app.App) error) error {
	log, err := app.NewLogger()
	if err != nil {
		return err
	}
	a, err := app.New(ctx, log, mode)
	if err != nil {
		log.Error("startup failed", "mode", mode, "error", err)
		log.Sync()
		return err
	}
	defer a.Close()
	return fn(a)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.ModeServe, func(a *app.App) error {
				return a.Serve(cmd.Context())
			})
		},
	}
}

func newPollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run one poll tick over in-flight jobs and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.ModePoll, func(a *app.App) error {
				report, err := a.PollOnce(cmd.Context())
				if err != nil {
					return err
				}
				out, err := json.Marshal(report)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			})
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Host the Temporal cron workflow that drives polling",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.ModeWorker, func(a *app.App) error {
				return a.RunWorker(cmd.Context())
			})
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := app.NewLogger()
			if err != nil {
				return err
			}
			defer log.Sync()
			return app.Migrate(log)
		},
	}
}
