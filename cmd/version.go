package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Duskaraa/Plots-Manager/internal/build"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "stagehost %s\n", build.String())
	},
}
