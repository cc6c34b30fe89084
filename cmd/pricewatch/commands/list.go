package commands

import (
	"os"
	"strconv"
	"time"

	"pricewatch-backend/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(listCmd)
}

func formatCents(cents int64) string {
	whole := cents / 100
	frac := cents % 100
	if frac < 0 {
		frac = -frac
	}
	return strconv.FormatInt(whole, 10) + "." + pad2(frac)
}

func pad2(n int64) string {
	if n < 10 {
		return "0" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists tracked products with their latest observation.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		svc, _, cleanup, err := openService(ctx)
		if err != nil {
			serviceutil.Fatal("failed to open database", err)
		}
		defer cleanup()

		products, err := svc.Products(ctx)
		if err != nil {
			serviceutil.Fatal("failed to list products", err)
		}
		latest, err := svc.LatestObservations(ctx)
		if err != nil {
			serviceutil.Fatal("failed to read latest observations", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"ID", "Name", "Source", "Last price", "Currency", "Last seen", "Error"})

		for _, p := range products {
			price, currency, seen, errText := "", "", "", ""
			if o, ok := latest[p.ID]; ok {
				if o.PriceCents != nil {
					price = formatCents(*o.PriceCents)
				}
				if o.Currency != nil {
					currency = *o.Currency
				}
				seen = time.Unix(o.Ts, 0).Format(time.DateTime)
				if o.Error != nil {
					errText = *o.Error
				}
			}
			t.AppendRow(table.Row{p.ID, p.Name, p.Source, price, currency, seen, errText})
		}
		t.Render()
	},
}
