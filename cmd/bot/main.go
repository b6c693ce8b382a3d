// ====================================
// File: cmd/bot/main.go
// ====================================
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rovshanmuradov/meteora-bot/internal/bot"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := bot.NewCLI().Run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
