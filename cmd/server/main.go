package main

import (
	"flag"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/allotter/internal/app"
	"github.com/shrimpsizemoose/allotter/internal/handlers"
)

func main() {
	var configPath = flag.String("config", "config.toml", "Path to config file")
	flag.Parse()

	service, err := app.NewService(*configPath)
	if err != nil {
		logger.Error.Fatalf("Failed to load config: %v", err)
	}
	defer service.Close()

	mux := http.NewServeMux()
	handlers.NewAllotmentHandler(service).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info.Printf("Starting allotter server on %s", service.Config.Server.Port)
	if !service.Config.Server.EnableAuth {
		logger.Info.Printf("Auth is disabled, trusting %s and %s headers",
			service.Config.Auth.RollNoHeader, service.Config.Auth.RoleHeader)
	}
	if service.Config.Redis.URL == "" {
		logger.Debug.Println("No redis configured, run lock is process-local")
	}
	if err := http.ListenAndServe(service.Config.Server.Port, mux); err != nil {
		logger.Error.Fatalf("Allotter server failed: %v", err)
	}
}
