package commands

import (
	"github.com/spf13/cobra"
)

func RegisterCommands(rootCmd *cobra.Command) {
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	rootCmd.AddCommand(RunCmd)
	rootCmd.AddCommand(HostKeyCmd)
	rootCmd.AddCommand(VersionCmd)
}
