package commands

import (
	"context"
	"fmt"
	"os"

	"pricewatch-backend/lib/configutil"
	"pricewatch-backend/lib/fetch"
	"pricewatch-backend/lib/serviceutil"
	"pricewatch-backend/lib/sqliteutil"
	"pricewatch-backend/services/tracker"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pricewatch",
	Short: "pricewatch tracks electronics prices (x-kom, morele.net, Amazon) in sqlite.",
}

var dbPath *string

func init() {
	dbPath = rootCmd.PersistentFlags().String("db", "", "Path to the sqlite database file.")
}

// Config holds optional defaults read from pricewatch.json5 (plus a
// pricewatch.local.json5 override). Flags beat config.
type Config struct {
	Db              string `json:"db"`
	PollIntervalSec int    `json:"poll_interval_seconds"`
	PollConcurrency int    `json:"poll_concurrency"`
}

func loadConfig() Config {
	cfg, err := configutil.ReadConfig[Config]("pricewatch.json5")
	if os.IsNotExist(err) {
		return Config{}
	}
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	return cfg
}

func resolveDbPath() string {
	if *dbPath != "" {
		return *dbPath
	}
	if cfg := loadConfig(); cfg.Db != "" {
		return cfg.Db
	}
	return "pricewatch.db"
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openService opens the database and constructs a fully wired tracker
// service. The returned cleanup closes the database.
func openService(ctx context.Context) (*tracker.Service, *fetch.Client, func(), error) {
	database, err := sqliteutil.OpenDB(resolveDbPath())
	if err != nil {
		return nil, nil, nil, err
	}
	client := fetch.NewClient()
	svc, err := tracker.NewService(ctx, database, client)
	if err != nil {
		database.Close()
		return nil, nil, nil, err
	}
	return svc, client, func() { database.Close() }, nil
}
