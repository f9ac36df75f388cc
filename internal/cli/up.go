package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tunnelmux/tunnelmux/internal/config"
	"github.com/tunnelmux/tunnelmux/internal/obslog"
	"github.com/tunnelmux/tunnelmux/internal/tunnelclient"
)

func newUpCommand() *cobra.Command {
	cfg := config.DefaultClientConfig()

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Expose a local port through a tunnelmux relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUp(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.ServerURL, "server", os.Getenv("TUNNELMUX_SERVER"), "Relay URL (e.g. https://relay.example.com)")
	flags.IntVar(&cfg.LocalPort, "port", 0, "Local port to expose")
	flags.StringVar(&cfg.PreferredSubdomain, "subdomain", "", "Preferred public subdomain")
	flags.StringVar(&cfg.TunnelID, "tunnel-id", "", "Reuse an existing tunnel ID across restarts")
	flags.IntVar(&cfg.MaxReconnectAttempts, "max-reconnect-attempts", cfg.MaxReconnectAttempts, "Reconnect attempts before giving up")
	flags.DurationVar(&cfg.PingInterval, "ping-interval", cfg.PingInterval, "Control-channel keepalive interval")
	flags.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "Per-request local forward timeout")

	return cmd
}

func runUp(ctx context.Context, cfg config.ClientConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := obslog.New("info")
	c := tunnelclient.New(cfg, log)

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go printEvents(runCtx, c)

	if err := c.Run(runCtx); err != nil {
		log.WithError(err).Error("tunnel client exited with error")
		return err
	}
	return nil
}

func printEvents(ctx context.Context, c *tunnelclient.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case tunnelclient.EventConnected:
				fmt.Printf("tunnel ready: %s -> localhost (public url: %s)\n", ev.Subdomain, ev.PublicURL)
			case tunnelclient.EventReconnecting:
				fmt.Printf("reconnecting (attempt %d): %v\n", ev.Attempt, ev.Err)
			case tunnelclient.EventDisconnected:
				fmt.Printf("tunnel disconnected: %v\n", ev.Err)
			case tunnelclient.EventRequest:
				fmt.Printf("%s %s -> %d\n", ev.Method, ev.Path, ev.StatusCode)
			case tunnelclient.EventError:
				fmt.Printf("error: %v\n", ev.Err)
			}
		}
	}
}
