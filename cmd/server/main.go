package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"q360/internal/app/server"
	"q360/internal/platform/config"
	"q360/internal/platform/logger"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.SetGlobal()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := server.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("startup failed", "err", err)
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		log.Error("server failed", "err", err)
		app.Close()
		os.Exit(1)
	}
}
