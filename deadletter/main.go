package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/reportstack/report-manager/pkg/bus"
	"github.com/reportstack/report-manager/pkg/logger"
	"github.com/reportstack/report-manager/pkg/store"
)

func main() {
	logger.Setup("report-deadletter")
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdown, err := initTelemetry(ctx)
	if err != nil {
		logger.Fatal("telemetry init failed", err)
	}
	defer shutdown(ctx)

	pg, err := store.NewPostgres(ctx, postgresDSN())
	if err != nil {
		logger.Fatal("postgres connect failed", err)
	}
	defer pg.Close()
	if err := pg.EnsureSchema(ctx); err != nil {
		logger.Fatal("schema setup failed", err)
	}

	busClient, err := bus.Connect(bus.Config{URL: natsURL(), Name: "report-deadletter"})
	if err != nil {
		logger.Fatal("nats connect failed", err)
	}
	defer busClient.Close()
	if _, err := busClient.EnsureStream(bus.EventsStreamConfig()); err != nil {
		logger.Fatal("nats stream setup failed", err)
	}
	consumerCfg := bus.DefaultConsumerConfig(bus.DurableName(bus.StreamEvents, "deadletter"), bus.SubjectEventDeadLetter)
	if _, err := busClient.EnsureConsumer(bus.StreamEvents, consumerCfg); err != nil {
		logger.Fatal("nats consumer setup failed", err)
	}
	sub, err := busClient.PullSubscribe(bus.SubjectEventDeadLetter, consumerCfg.Durable)
	if err != nil {
		logger.Fatal("nats subscribe failed", err)
	}

	svc := NewService(pg)

	slog.Info("deadletter: consuming", "subject", bus.SubjectEventDeadLetter)
	err = busClient.Consume(ctx, sub, bus.ConsumeOptions{}, svc.HandleMessage)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("consume loop failed", err)
	}
	slog.Info("deadletter stopped")
}
