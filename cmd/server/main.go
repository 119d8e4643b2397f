package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"vitals/server/internal/app"
	"vitals/server/internal/config"
	"vitals/server/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg, telemetry.WrapLogger(log.Default())); err != nil {
		log.Fatalf("%v", err)
	}
}
