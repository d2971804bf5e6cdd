// Command reservectl runs maintenance tasks against the reservation
// store: expiring abandoned checkouts, generating occurrences, checking
// bank webhook signatures and minting development tokens.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/iliyamo/studio-reservation/internal/app"
	"github.com/iliyamo/studio-reservation/internal/config"
	"github.com/iliyamo/studio-reservation/internal/notify"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "reservectl",
		Short:         "Operations tooling for the studio reservation service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(expireCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(verifyBankWebhookCmd())
	rootCmd.AddCommand(issueTokenCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// build wires the services.  Notifications from the CLI go through
// RabbitMQ when it is configured, so guests hear about expiries the same
// way they do when the scheduler runs.
func build(ctx context.Context) (*app.App, *slog.Logger, error) {
	cfg := config.Load()
	log := config.SetupLogger(cfg.Env, cfg.LogLevel)
	gw, err := config.LoadGateway()
	if err != nil {
		return nil, nil, err
	}
	var n notify.Notifier
	if cfg.RabbitMQURL == "" {
		n = notify.Nop{}
	}
	a, err := app.Build(ctx, cfg, gw, n, log)
	if err != nil {
		return nil, nil, err
	}
	return a, log, nil
}
