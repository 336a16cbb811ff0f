package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is overridable via -ldflags "-X main.version=...", the way the
// teacher's main.go exposes a build-time Version variable.
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the colophon version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}
