package main

import (
	"context"
	"pricewatch-backend/cmd/pricewatch/commands"
	"pricewatch-backend/lib/serviceutil"
	"pricewatch-backend/lib/telemetry"
)

func main() {
	ctx := context.Background()
	telemetry.InitSlog(false)

	tel, err := telemetry.SetupFromEnv(ctx, "pricewatch")
	if err != nil {
		serviceutil.Fatal("failed to set up telemetry", err)
	}
	defer tel.Shutdown(ctx)

	commands.ExecuteContext(ctx)
}
