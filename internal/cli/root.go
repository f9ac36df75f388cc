// Package cli wires the relay server and tunnel client into cobra
// commands, the way taskcluster-cli's cmds/root package builds its
// command tree around a shared *cobra.Command, adapted to this tool's
// two-binary-in-one layout (`serve` runs the relay, `up` runs a client).
package cli

import (
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// NewRootCommand builds the top-level command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "tunnelmux",
		Short:         "tunnelmux exposes a local port through a public relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newUpCommand())

	return root
}
