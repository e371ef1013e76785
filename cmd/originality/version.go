package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/palantir/compute-module-originality/internal/version"
)

func newVersionCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(_ *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(c.out, version.Current)
			return err
		},
	}
}
