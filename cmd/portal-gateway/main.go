package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/homedesign/portal-gateway/internal/app"
	"github.com/homedesign/portal-gateway/internal/config"
	"github.com/homedesign/portal-gateway/internal/observability"
	"github.com/homedesign/portal-gateway/internal/tools/common"
	"github.com/homedesign/portal-gateway/internal/tools/sessioncheck"
)

func main() {
	root := &cobra.Command{
		Use:           "portal-gateway",
		Short:         "Session-guarding gateway for the home design marketplace portal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(sessioncheck.NewRootCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := common.LoadEnvFile(envFile); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			runtime, err := observability.InitRuntime(ctx, cfg)
			if err != nil {
				return fmt.Errorf("init observability: %w", err)
			}

			a, err := app.New(cfg, runtime)
			if err != nil {
				shutdownErr := runtime.Shutdown(context.Background())
				if shutdownErr != nil {
					runtime.Logger.Warn("observability shutdown failed", "error", shutdownErr)
				}
				return err
			}
			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "optional env file loaded before configuration")
	return cmd
}
