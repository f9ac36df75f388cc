package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tunnelmux/tunnelmux/internal/config"
	"github.com/tunnelmux/tunnelmux/internal/obslog"
	"github.com/tunnelmux/tunnelmux/internal/relay"
	"github.com/tunnelmux/tunnelmux/internal/stats"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the tunnelmux relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	v := config.NewViper()
	cfg, err := config.LoadRelayConfig(v)
	if err != nil {
		return err
	}

	log := obslog.New(cfg.LogLevel)

	statsdClient, err := stats.NewStatsdClient(cfg.StatsdAddr)
	if err != nil {
		log.WithError(err).Warn("statsd client disabled")
		statsdClient = nil
	}
	recorder := stats.New(cfg.MaxTunnels, statsdClient, log)

	server := relay.New(cfg, log, recorder)

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := server.Run(runCtx); err != nil {
		log.WithError(err).Error("relay exited with error")
		return err
	}
	return nil
}
