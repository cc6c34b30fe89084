package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"pricewatch-backend/lib/serviceutil"

	"github.com/spf13/cobra"
)

var clearYes *bool

func init() {
	clearYes = clearCmd.Flags().BoolP("yes", "y", false, "Skip confirmation.")
	rootCmd.AddCommand(clearCmd)
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Deletes all products and observations from the database.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if !*clearYes {
			fmt.Printf("This will delete ALL products and observations in %s. Continue? [y/N] ", resolveDbPath())
			line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
			if strings.ToLower(strings.TrimSpace(line)) != "y" {
				fmt.Println("Aborted")
				os.Exit(1)
			}
		}

		svc, _, cleanup, err := openService(ctx)
		if err != nil {
			serviceutil.Fatal("failed to open database", err)
		}
		defer cleanup()

		if err := svc.ClearAll(ctx); err != nil {
			serviceutil.Fatal("failed to clear database", err)
		}
		fmt.Println("Database cleared.")
	},
}
