package main

import (
	"context"
	"os"
	"os/signal"

	"orderbot/cmd/orderbot/commands"
	_ "orderbot/internal/storefront/levelup"
	_ "orderbot/internal/storefront/toast"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	commands.ExecuteContext(ctx)
}
