package daemon

import (
	"fmt"

	"github.com/jessevdk/go-flags"
	"github.com/spf13/cobra"

	rcfg "github.com/recoverylabs/recoveryd/recovery/config"
	"github.com/recoverylabs/recoveryd/util"
)

func NewInitCmd() *cobra.Command {
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the recoveryd home directory.",
		RunE:  initHome,
	}

	initCmd.Flags().Bool(forceFlag, false, "Override existing configuration")

	return initCmd
}

func initHome(cmd *cobra.Command, _ []string) error {
	homePath, err := getHomePath(cmd)
	if err != nil {
		return fmt.Errorf("failed to get home path: %w", err)
	}
	force, err := cmd.Flags().GetBool(forceFlag)
	if err != nil {
		return fmt.Errorf("failed to get force flag: %w", err)
	}

	if util.FileExists(rcfg.CfgFile(homePath)) && !force {
		return fmt.Errorf("home path %s already initialized", homePath)
	}

	if err := util.MakeDirectory(homePath); err != nil {
		return fmt.Errorf("failed to create home directory: %w", err)
	}
	if err := util.MakeDirectory(rcfg.LogDir(homePath)); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := util.MakeDirectory(rcfg.DataDir(homePath)); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	defaultConfig := rcfg.DefaultConfigWithHome(homePath)
	fileParser := flags.NewParser(&defaultConfig, flags.Default)

	if err := flags.NewIniParser(fileParser).WriteFile(rcfg.CfgFile(homePath), flags.IniIncludeComments|flags.IniIncludeDefaults); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
