package daemon

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/recoverylabs/recoveryd/util"
)

func getHomePath(cmd *cobra.Command) (string, error) {
	rawPath, err := cmd.Flags().GetString(homeFlag)
	if err != nil {
		return "", err
	}

	cleanPath, err := filepath.Abs(rawPath)
	if err != nil {
		return "", err
	}

	return util.CleanAndExpandPath(cleanPath), nil
}
