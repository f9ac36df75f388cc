// Command tunnelmux is the single entry point for both the relay server
// (`tunnelmux serve`) and the tunnel client (`tunnelmux up`).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tunnelmux/tunnelmux/internal/cli"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := cli.NewRootCommand()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "tunnelmux:", err)
		return 1
	}
	return 0
}
