package commands

import (
	"errors"
	"fmt"

	"pricewatch-backend/lib/fetch"
	"pricewatch-backend/lib/serviceutil"
	"pricewatch-backend/services/tracker"

	"github.com/spf13/cobra"
)

var addName *string

func init() {
	addName = addCmd.Flags().String("name", "", "Optional display name.")
	rootCmd.AddCommand(addCmd)
}

var addCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Adds a product url and immediately records one observation.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		url := args[0]

		svc, _, cleanup, err := openService(ctx)
		if err != nil {
			serviceutil.Fatal("failed to open database", err)
		}
		defer cleanup()

		name := *addName
		if name == "" {
			name = url
		}

		id, err := svc.AddProduct(ctx, name, url, fetch.DetectSource(url))
		if errors.Is(err, tracker.ErrProductExists) {
			fmt.Println("Skip (already exists):", url)
			return
		}
		if err != nil {
			serviceutil.Fatal("failed to add product", err)
		}

		result, err := svc.PollProduct(ctx, id)
		if err != nil {
			serviceutil.Fatal("failed to poll product", err)
		}
		if result.Err != nil {
			fmt.Printf("Added product #%d (first poll failed: %s)\n", id, result.Err)
			return
		}
		fmt.Printf("Added product #%d\n", id)
	},
}
