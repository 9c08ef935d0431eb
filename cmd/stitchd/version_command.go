package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is stamped via -ldflags at release time.
var version = "dev"

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the stitchd version",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "stitchd %s\n", version)
			return nil
		},
	}
}
