package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"webcam-ip-server/internal/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Info()
			fmt.Fprintf(cmd.OutOrStdout(), "webcam-ip %s, build %s (%s)\n", info["Version"], info["GitCommit"], info["BuildTime"])
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s/%s\n", info["GoVersion"], info["OS"], info["Arch"])
		},
	}
}
