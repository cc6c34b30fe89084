package commands

import (
	"fmt"
	"log/slog"

	"pricewatch-backend/lib/serviceutil"
	"pricewatch-backend/lib/telemetry"
	"pricewatch-backend/services/tracker/api"

	"github.com/spf13/cobra"
)

var (
	serveHost *string
	servePort *int
)

func init() {
	serveHost = serveCmd.Flags().String("host", "127.0.0.1", "Bind host.")
	servePort = serveCmd.Flags().Int("port", 8000, "Bind port.")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the HTTP API for managing tracked products.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := serviceutil.SignalContext()
		telemetry.InstrumentPerfStats(ctx)

		svc, fetcher, cleanup, err := openService(ctx)
		if err != nil {
			serviceutil.Fatal("failed to open database", err)
		}
		defer cleanup()

		app := api.NewApp(svc, fetcher)
		addr := fmt.Sprintf("%s:%d", *serveHost, *servePort)

		go func() {
			<-ctx.Done()
			app.Shutdown()
		}()

		slog.Info("serving http api", "addr", addr)
		if err := app.Listen(addr); err != nil {
			serviceutil.Fatal("http server exited", err)
		}
	},
}
