package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/acme/lead-outreach-orchestrator/internal/app"
	"github.com/acme/lead-outreach-orchestrator/internal/telemetry"
	"github.com/acme/lead-outreach-orchestrator/internal/worker/trigger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App.Name+"-event-worker")
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		log.Fatalf("failed to ensure kafka topics: %v", err)
	}

	services := container.Services()
	worker := trigger.New(container.Config.Kafka.Triggers, trigger.Handlers{
		Negotiator: services.Negotiation,
		Campaigns:  container.Repositories().Campaigns,
		Dispatcher: services.Dispatch,
		Inbound:    services.Inbound,
	}, container.Retries(), container.Logger)

	if err := worker.Run(ctx, container.Kafka, container.Config.Kafka.Retry.ConsumerGroupID); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("worker terminated: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
