// Command field-manager serves the role-gated field operations site.
//
// Subcommands:
//
//	serve  HTTP server with session janitor and access audit workers
//	check  evaluate one navigation against the route table and exit
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "field-manager",
		Short:         "Role-gated pages and user administration for field operations",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(
		newServeCmd(),
		newCheckCmd(),
	)
	return root
}
