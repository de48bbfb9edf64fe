package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"invoicewatch/internal/app"
	"invoicewatch/internal/config"
	"invoicewatch/internal/logger"
)

func main() {
	cfg, err := config.Load()
	must(err)

	log, err := logger.New(cfg.LogLevel)
	must(err)
	defer func() { _ = log.Sync() }()

	a, err := app.Open(cfg, log)
	must(err)
	defer a.Close()

	settings, err := a.SheetSettings()
	must(err)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("scheduler started")
	must(a.Scheduler(settings.MainFunctionName, nil).Run(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
