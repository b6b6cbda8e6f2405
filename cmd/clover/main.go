package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/Ramsey-B/clover/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx)
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}

	if err := a.Run(ctx); err != nil {
		a.Logger.WithError(err).Error("service exited with error")
		stop()
		log.Fatalf("exited: %v", err)
	}
}
