package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/allotter/internal/app"
	"github.com/shrimpsizemoose/allotter/internal/export"
)

func main() {
	var configPath = flag.String("config", "config.toml", "Path to config file")
	var once = flag.Bool("once", false, "Export the current run to every target and exit")
	flag.Parse()

	service, err := app.NewService(*configPath)
	if err != nil {
		logger.Error.Fatalf("Failed to load config: %v", err)
	}
	defer service.Close()

	if len(service.Config.GSheet) == 0 {
		logger.Error.Fatalf("No [[gsheet]] targets in %s", *configPath)
	}

	exporter, err := export.NewGSheetExporter(context.Background(), service)
	if err != nil {
		logger.Error.Fatalf("Failed to initialize Google Sheets exporter: %v", err)
	}

	if *once {
		if err := exporter.ExportAll(context.Background()); err != nil {
			logger.Error.Fatalf("Export failed: %v", err)
		}
		logger.Info.Printf("Exported current run to %d targets", len(service.Config.GSheet))
		return
	}

	if err := exporter.Start(); err != nil {
		logger.Error.Fatalf("Failed to schedule exports: %v", err)
	}
	defer exporter.Stop()

	logger.Info.Println("Exporter started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info.Println("Exporter stopped")
}
