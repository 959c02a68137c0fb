// Package main provides the docchat administration CLI.
//
// Usage:
//
//	admin tier create --name pro
//	admin tier list --query '{"filters":{"name":"pro"}}'
//	admin ratelimit create --tier 1 --path /api/v1/me --limit 100 --period 3600
//	admin user create --username root --email root@example.com --superuser
//	admin token --user 1
//	admin grant --user 2 --resource project --id 10 --permission viewer
//	admin seed --users 5
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"docchat/internal/app"
	"docchat/internal/config"
	"docchat/pkg/logger"
)

type contextKey struct{}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "admin",
		Short:         "Administer docchat tiers, rate limits, users and access",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			level := "warn"
			if verbose {
				level = "debug"
			}
			log, err := logger.New(logger.Config{Level: level, Development: true})
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}

			ctx := logger.WithLogger(cmd.Context(), log)
			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(ctx, contextKey{}, a))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a := appFrom(cmd); a != nil {
				a.Close()
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output")

	root.AddCommand(
		newTierCommand(),
		newRateLimitCommand(),
		newUserCommand(),
		newTokenCommand(),
		newGrantCommand(),
		newSeedCommand(),
	)
	return root
}

func appFrom(cmd *cobra.Command) *app.App {
	a, _ := cmd.Context().Value(contextKey{}).(*app.App)
	return a
}
