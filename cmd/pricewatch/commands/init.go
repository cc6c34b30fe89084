package commands

import (
	"fmt"

	"pricewatch-backend/lib/serviceutil"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initializes the sqlite database.",
	Run: func(cmd *cobra.Command, args []string) {
		_, _, cleanup, err := openService(cmd.Context())
		if err != nil {
			serviceutil.Fatal("failed to initialize database", err)
		}
		defer cleanup()
		fmt.Println("DB ready:", resolveDbPath())
	},
}
