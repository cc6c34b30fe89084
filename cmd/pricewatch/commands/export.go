package commands

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"pricewatch-backend/lib/serviceutil"
	"pricewatch-backend/services/tracker/db"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(exportCmd)
}

func csvField[T int64 | bool | string](v *T) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(*v)
}

func observationRecord(o db.Observation) []string {
	return []string{
		strconv.FormatInt(o.ID, 10),
		strconv.FormatInt(o.ProductID, 10),
		strconv.FormatInt(o.Ts, 10),
		csvField(o.PriceCents),
		csvField(o.Currency),
		csvField(o.InStock),
		csvField(o.Title),
		csvField(o.RawPriceText),
		csvField(o.Error),
	}
}

var exportCmd = &cobra.Command{
	Use:   "export <path/to/output.csv>",
	Short: "Exports all observations to CSV.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		out := args[0]

		svc, _, cleanup, err := openService(ctx)
		if err != nil {
			serviceutil.Fatal("failed to open database", err)
		}
		defer cleanup()

		rows, err := svc.AllObservations(ctx)
		if err != nil {
			serviceutil.Fatal("failed to read observations", err)
		}

		os.MkdirAll(filepath.Dir(out), 0777)
		f, err := os.Create(out)
		if err != nil {
			serviceutil.Fatal("failed to create output file", err)
		}
		defer f.Close()

		w := csv.NewWriter(f)
		w.Write([]string{"id", "product_id", "ts", "price_cents", "currency", "in_stock", "title", "raw_price_text", "error"})
		for _, o := range rows {
			w.Write(observationRecord(o))
		}
		w.Flush()
		if err := w.Error(); err != nil {
			serviceutil.Fatal("failed to write csv", err)
		}
		fmt.Println("Wrote:", out)
	},
}
