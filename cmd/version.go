package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the application version, overridable at build time via
// -ldflags "-X .../cmd.Version=v1.2.3".
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the cygraph version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("cygraph %s\n", Version)
	},
}
