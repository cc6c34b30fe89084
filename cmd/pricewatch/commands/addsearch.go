package commands

import (
	"errors"
	"fmt"
	"sync"

	"pricewatch-backend/lib/search"
	"pricewatch-backend/lib/serviceutil"
	"pricewatch-backend/services/tracker"

	"github.com/spf13/cobra"
)

var (
	searchStore *string
	searchQuery *string
	searchTop   *int
)

func init() {
	searchStore = addSearchCmd.Flags().StringP("store", "s", "", "Store key, e.g. xkom or morele.")
	searchQuery = addSearchCmd.Flags().StringP("search", "q", "", "Search phrase.")
	searchTop = addSearchCmd.Flags().IntP("top", "n", 10, "Number of results to add.")
	addSearchCmd.MarkFlagRequired("store")
	addSearchCmd.MarkFlagRequired("search")
	rootCmd.AddCommand(addSearchCmd)
}

var addSearchCmd = &cobra.Command{
	Use:   "add-search --store <store> --search <phrase> [--top N]",
	Short: "Searches a store, adds the top results, and records initial observations.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		svc, fetcher, cleanup, err := openService(ctx)
		if err != nil {
			serviceutil.Fatal("failed to open database", err)
		}
		defer cleanup()

		hits, err := search.Search(ctx, fetcher, *searchStore, *searchQuery, *searchTop)
		if err != nil {
			serviceutil.Fatal("search failed", err)
		}
		if len(hits) == 0 {
			fmt.Println("No results found")
			return
		}
		fmt.Printf("Found %d result(s); fetching product pages...\n", len(hits))

		type addition struct {
			hit search.Hit
			id  int64
			err error
		}

		additions := make([]addition, len(hits))
		var wg sync.WaitGroup
		for i, hit := range hits {
			id, err := svc.AddProduct(ctx, hit.Name, hit.Url, hit.Source)
			additions[i] = addition{hit: hit, id: id, err: err}
			if err != nil {
				continue
			}
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				svc.PollProduct(ctx, id)
			}(id)
		}
		wg.Wait()

		added := 0
		for _, a := range additions {
			if errors.Is(a.err, tracker.ErrProductExists) {
				fmt.Println("Skip (already exists):", a.hit.Url)
				continue
			}
			if a.err != nil {
				fmt.Println("Failed:", a.hit.Url, a.err)
				continue
			}
			added++
			fmt.Printf("Added product #%d: %s [%s]\n", a.id, a.hit.Name, a.hit.Source)
		}
		fmt.Printf("Done. Added %d/%d new products\n", added, len(hits))
	},
}
