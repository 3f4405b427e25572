package daemon

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/recoverylabs/recoveryd/recovery/config"
	"github.com/recoverylabs/recoveryd/version"
)

// BinaryName is the name of the daemon binary.
const BinaryName = "recoveryd"

// NewRootCmd creates a new root command for recoveryd. It is called once in
// the main function.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           BinaryName,
		Short:         fmt.Sprintf("%s - Delegated Account Recovery Daemon.", BinaryName),
		Long:          fmt.Sprintf(`%s manages recovery configurations, recovery attempts, and proxy links for lost accounts.`, BinaryName),
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().String(homeFlag, config.DefaultRecoverydDir, "The application home directory")

	rootCmd.AddCommand(
		NewInitCmd(),
		NewStartCmd(),
		version.CommandVersion(BinaryName),
	)

	return rootCmd
}
